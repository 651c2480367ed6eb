package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// actionNamespace is the fixed UUIDv5 namespace for action identity. Changing
// it changes every derived action ID, so it must stay stable across releases.
var actionNamespace = uuid.MustParse("8f9c1d8e-2b7a-4a0e-9c3f-5d1b6a7e4f20")

// TraineeID identifies the trainee an action belongs to. Trainee IDs come from
// the upstream TIS system and are opaque strings, not UUIDs.
type TraineeID string

// ParseTraineeID validates and returns a TraineeID.
func ParseTraineeID(s string) (TraineeID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("trainee ID is required")
	}
	return TraineeID(trimmed), nil
}

func (t TraineeID) String() string {
	return string(t)
}

// IsNil returns true if the trainee ID is empty.
func (t TraineeID) IsNil() bool {
	return t == ""
}

// ActionID identifies a single action. Action IDs are derived, not generated,
// so re-deriving from a duplicate event yields the same ID.
type ActionID uuid.UUID

// DeriveActionID computes the deterministic action identity from its semantic
// fields. Equal inputs always produce equal IDs, across process restarts.
// This is the idempotency anchor for duplicate message delivery.
func DeriveActionID(traineeID TraineeID, actionType string, triggerKey string) ActionID {
	name := strings.Join([]string{traineeID.String(), actionType, triggerKey}, "\x00")
	return ActionID(uuid.NewSHA1(actionNamespace, []byte(name)))
}

// ParseActionID validates and returns an ActionID.
func ParseActionID(s string) (ActionID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return ActionID(uuid.Nil), fmt.Errorf("invalid action ID %q: %w", s, err)
	}
	if parsed == uuid.Nil {
		return ActionID(uuid.Nil), fmt.Errorf("action ID must not be nil")
	}
	return ActionID(parsed), nil
}

func (a ActionID) String() string {
	return uuid.UUID(a).String()
}

// IsNil returns true if the action ID is the zero UUID.
func (a ActionID) IsNil() bool {
	return uuid.UUID(a) == uuid.Nil
}
