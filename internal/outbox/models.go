package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"actions/pkg/domain"
)

// Status of an outbox entry.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPublished Status = "published"
	// StatusParked marks entries that exhausted their publish attempts. They
	// are kept for operator inspection and can be requeued manually.
	StatusParked Status = "parked"
)

// Notification describes one lifecycle transition for downstream consumers.
// Exactly one notification is queued per genuine transition; duplicates that
// did not change state queue nothing.
type Notification struct {
	ActionID   domain.ActionID  `json:"actionId"`
	TraineeID  domain.TraineeID `json:"traineeId"`
	ActionType string           `json:"type"`
	FromState  string           `json:"fromState"`
	ToState    string           `json:"toState"`
	Cause      string           `json:"cause,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// EncodePayload serializes the notification to the wire format.
func EncodePayload(n Notification) ([]byte, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return payload, nil
}

// DecodePayload deserializes a stored outbox payload.
func DecodePayload(payload []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Notification{}, fmt.Errorf("unmarshal notification: %w", err)
	}
	return n, nil
}

// Entry is one durable outbox row. The payload is written in the same
// transaction as the transition it describes, so a crash between write and
// publish can duplicate a downstream notification but never lose one.
type Entry struct {
	ID            uuid.UUID
	ActionID      domain.ActionID
	Payload       []byte
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
}
