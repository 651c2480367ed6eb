package event

import (
	"encoding/json"
	"fmt"
	"time"

	"actions/pkg/domain"
	"actions/pkg/platform/sentinel"
)

// Known event types. The deriver is total over this set; anything else is
// filtered out at ingress.
const (
	TypeProgrammeMembershipSynced = "PROGRAMME_MEMBERSHIP_SYNCED"
	TypePlacementSynced           = "PLACEMENT_SYNCED"
	TypeAccountConfirmed          = "ACCOUNT_CONFIRMED"
	TypeCojReceived               = "COJ_RECEIVED"
	TypeFormUpdated               = "FORM_UPDATED"
)

// Operation distinguishes upstream record loads from deletions.
type Operation string

const (
	OperationLoad   Operation = "LOAD"
	OperationDelete Operation = "DELETE"
)

// Form lifecycle states that complete or do not affect a sign-form action.
const (
	FormStateSubmitted = "SUBMITTED"
	FormStateApproved  = "APPROVED"
)

// envelope is the versioned wire format shared by all inbound topics.
type envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Version    string          `json:"version"`
	TraineeID  string          `json:"traineeId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Event is an immutable, typed domain event. Exactly one payload branch is
// set, keyed by Type; a tagged union rather than runtime type inspection.
type Event struct {
	SourceMessageID string
	Type            string
	TraineeID       domain.TraineeID
	OccurredAt      time.Time

	ProgrammeMembership *ProgrammeMembershipPayload
	Placement           *PlacementPayload
	Account             *AccountPayload
	Coj                 *CojPayload
	Form                *FormPayload
}

// ProgrammeMembershipPayload describes a programme membership sync.
type ProgrammeMembershipPayload struct {
	Operation             Operation  `json:"operation"`
	ProgrammeMembershipID string     `json:"programmeMembershipId"`
	StartDate             *time.Time `json:"startDate"`
	CojSyncedAt           *time.Time `json:"cojSyncedAt"`
}

// PlacementPayload describes a placement sync.
type PlacementPayload struct {
	Operation     Operation  `json:"operation"`
	PlacementID   string     `json:"placementId"`
	StartDate     *time.Time `json:"startDate"`
	PlacementType string     `json:"placementType"`
}

// AccountPayload describes a trainee account confirmation or deletion.
type AccountPayload struct {
	Operation Operation `json:"operation"`
}

// CojPayload describes a signed Conditions of Joining being received.
type CojPayload struct {
	ProgrammeMembershipID string     `json:"programmeMembershipId"`
	SyncedAt              *time.Time `json:"syncedAt"`
}

// FormPayload describes a form lifecycle update.
type FormPayload struct {
	FormType              string     `json:"formType"`
	LifecycleState        string     `json:"lifecycleState"`
	ProgrammeMembershipID string     `json:"programmeMembershipId"`
	UpdatedAt             *time.Time `json:"updatedAt"`
}

// Parse deserializes a raw message body into a typed Event. It returns
// sentinel.ErrUnknownEventType for types outside the known set and
// sentinel.ErrMalformedPayload for anything structurally unusable, so ingress
// can decide between drop and redelivery without inspecting messages itself.
func Parse(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %v: %w", err, sentinel.ErrMalformedPayload)
	}

	if env.Version != "" && env.Version != "1" && env.Version != "v1" {
		return Event{}, fmt.Errorf("unsupported envelope version %q: %w", env.Version, sentinel.ErrMalformedPayload)
	}
	if env.ID == "" {
		return Event{}, fmt.Errorf("envelope id is required: %w", sentinel.ErrMalformedPayload)
	}
	traineeID, err := domain.ParseTraineeID(env.TraineeID)
	if err != nil {
		return Event{}, fmt.Errorf("envelope trainee id: %v: %w", err, sentinel.ErrMalformedPayload)
	}
	if env.OccurredAt.IsZero() {
		return Event{}, fmt.Errorf("envelope occurredAt is required: %w", sentinel.ErrMalformedPayload)
	}

	ev := Event{
		SourceMessageID: env.ID,
		Type:            env.Type,
		TraineeID:       traineeID,
		OccurredAt:      env.OccurredAt,
	}

	switch env.Type {
	case TypeProgrammeMembershipSynced:
		var payload ProgrammeMembershipPayload
		if err := decodePayload(env.Payload, &payload); err != nil {
			return Event{}, err
		}
		if err := validOperation(payload.Operation); err != nil {
			return Event{}, err
		}
		if payload.ProgrammeMembershipID == "" {
			return Event{}, fmt.Errorf("programme membership id is required: %w", sentinel.ErrMalformedPayload)
		}
		ev.ProgrammeMembership = &payload
	case TypePlacementSynced:
		var payload PlacementPayload
		if err := decodePayload(env.Payload, &payload); err != nil {
			return Event{}, err
		}
		if err := validOperation(payload.Operation); err != nil {
			return Event{}, err
		}
		if payload.PlacementID == "" {
			return Event{}, fmt.Errorf("placement id is required: %w", sentinel.ErrMalformedPayload)
		}
		ev.Placement = &payload
	case TypeAccountConfirmed:
		var payload AccountPayload
		if err := decodePayload(env.Payload, &payload); err != nil {
			return Event{}, err
		}
		if err := validOperation(payload.Operation); err != nil {
			return Event{}, err
		}
		ev.Account = &payload
	case TypeCojReceived:
		var payload CojPayload
		if err := decodePayload(env.Payload, &payload); err != nil {
			return Event{}, err
		}
		if payload.ProgrammeMembershipID == "" {
			return Event{}, fmt.Errorf("programme membership id is required: %w", sentinel.ErrMalformedPayload)
		}
		ev.Coj = &payload
	case TypeFormUpdated:
		var payload FormPayload
		if err := decodePayload(env.Payload, &payload); err != nil {
			return Event{}, err
		}
		if payload.ProgrammeMembershipID == "" || payload.FormType == "" {
			return Event{}, fmt.Errorf("form payload incomplete: %w", sentinel.ErrMalformedPayload)
		}
		ev.Form = &payload
	default:
		return Event{}, fmt.Errorf("event type %q: %w", env.Type, sentinel.ErrUnknownEventType)
	}

	return ev, nil
}

func decodePayload(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return fmt.Errorf("payload is required: %w", sentinel.ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, sentinel.ErrMalformedPayload)
	}
	return nil
}

func validOperation(op Operation) error {
	switch op {
	case OperationLoad, OperationDelete:
		return nil
	default:
		return fmt.Errorf("operation %q: %w", op, sentinel.ErrMalformedPayload)
	}
}
