package action

import (
	"context"
	"time"

	"actions/pkg/domain"
)

// Store is the durable, idempotent authority on action state. All writes are
// single-action operations; there is no multi-action transaction because each
// action's identity and state are self-contained.
//
// Upsert and Transition queue the matching outbox notification atomically with
// the state write, so durability of the transition implies durability of the
// notification.
type Store interface {
	// Upsert inserts the draft under its deterministic ID. If an action with
	// that ID already exists the stored record is returned unchanged and
	// created is false; this is the idempotent no-op under duplicate delivery.
	Upsert(ctx context.Context, draft Draft, now time.Time) (act *Action, created bool, err error)

	// Get returns the action with its audit trail, or sentinel.ErrNotFound.
	Get(ctx context.Context, id domain.ActionID) (*Action, error)

	// FindIncompleteByTrainee returns non-terminal actions for a trainee,
	// ordered by due date with undated actions last.
	FindIncompleteByTrainee(ctx context.Context, traineeID domain.TraineeID) ([]Action, error)

	// FindByState returns up to limit actions in the given state.
	FindByState(ctx context.Context, state State, limit int) ([]Action, error)

	// FindByTrigger returns all actions a trainee has for a trigger key,
	// regardless of state. Used for supersession lookups.
	FindByTrigger(ctx context.Context, traineeID domain.TraineeID, triggerKey string) ([]Action, error)

	// FindDueElapsed returns up to limit actions in any of the given states
	// whose due date is at or before cutoff, ordered by due date. This is the
	// sweep scan.
	FindDueElapsed(ctx context.Context, states []State, cutoff time.Time, limit int) ([]Action, error)

	// Transition conditionally advances the action from -> to. The write only
	// succeeds if the stored state still equals from at write time; a lost
	// race returns sentinel.ErrStaleState so the caller can re-read and
	// re-evaluate. A successful write appends an audit entry and queues one
	// outbox notification.
	Transition(ctx context.Context, id domain.ActionID, from, to State, cause string, at time.Time) (*Action, error)
}
