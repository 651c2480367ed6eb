package action

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"actions/internal/outbox"
	"actions/pkg/domain"
	"actions/pkg/platform/sentinel"
)

// MemoryStore is an in-memory Store used by unit tests and local development.
// It mirrors the semantics of the Postgres store, including conditional
// transitions and outbox queueing.
type MemoryStore struct {
	mu            sync.RWMutex
	actions       map[domain.ActionID]*Action
	notifications []outbox.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions: make(map[domain.ActionID]*Action),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, draft Draft, now time.Time) (*Action, bool, error) {
	if draft.TraineeID.IsNil() {
		return nil, false, fmt.Errorf("draft trainee ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := draft.ActionID()
	if existing, ok := s.actions[id]; ok {
		copied := cloneAction(existing)
		return &copied, false, nil
	}

	state := InitialState(draft.DueBy, now)
	act := &Action{
		ID:             id,
		TraineeID:      draft.TraineeID,
		Type:           draft.Type,
		State:          state,
		TriggerKey:     draft.TriggerKey,
		DueBy:          draft.DueBy,
		CreatedAt:      now,
		LastModifiedAt: now,
		Audit: []TransitionRecord{
			{From: "", To: state, Cause: draft.Cause, At: now},
		},
	}
	s.actions[id] = act
	s.queue(act, "", state, draft.Cause, now)

	copied := cloneAction(act)
	return &copied, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.ActionID) (*Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	act, ok := s.actions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := cloneAction(act)
	return &copied, nil
}

func (s *MemoryStore) FindIncompleteByTrainee(_ context.Context, traineeID domain.TraineeID) ([]Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []Action
	for _, act := range s.actions {
		if act.TraineeID == traineeID && !act.State.Terminal() {
			found = append(found, cloneAction(act))
		}
	}
	sort.Slice(found, func(i, j int) bool {
		a, b := found[i].DueBy, found[j].DueBy
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return found, nil
}

func (s *MemoryStore) FindByState(_ context.Context, state State, limit int) ([]Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []Action
	for _, act := range s.actions {
		if act.State == state {
			found = append(found, cloneAction(act))
			if limit > 0 && len(found) >= limit {
				break
			}
		}
	}
	return found, nil
}

func (s *MemoryStore) FindByTrigger(_ context.Context, traineeID domain.TraineeID, triggerKey string) ([]Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []Action
	for _, act := range s.actions {
		if act.TraineeID == traineeID && act.TriggerKey == triggerKey {
			found = append(found, cloneAction(act))
		}
	}
	return found, nil
}

func (s *MemoryStore) FindDueElapsed(_ context.Context, states []State, cutoff time.Time, limit int) ([]Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[State]bool, len(states))
	for _, state := range states {
		wanted[state] = true
	}

	var found []Action
	for _, act := range s.actions {
		if wanted[act.State] && act.DueBy != nil && !act.DueBy.After(cutoff) {
			found = append(found, cloneAction(act))
		}
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].DueBy.Before(*found[j].DueBy)
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (s *MemoryStore) Transition(_ context.Context, id domain.ActionID, from, to State, cause string, at time.Time) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	act, ok := s.actions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if act.State != from {
		return nil, fmt.Errorf("action %s is %s, expected %s: %w", id, act.State, from, sentinel.ErrStaleState)
	}

	act.State = to
	act.LastModifiedAt = at
	if to == StateComplete {
		completedAt := at
		act.CompletedAt = &completedAt
	}
	act.Audit = append(act.Audit, TransitionRecord{From: from, To: to, Cause: cause, At: at})
	s.queue(act, from, to, cause, at)

	copied := cloneAction(act)
	return &copied, nil
}

// Notifications returns the outbox notifications queued so far, in order.
func (s *MemoryStore) Notifications() []outbox.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Notification(nil), s.notifications...)
}

func (s *MemoryStore) queue(act *Action, from, to State, cause string, at time.Time) {
	s.notifications = append(s.notifications, outbox.Notification{
		ActionID:   act.ID,
		TraineeID:  act.TraineeID,
		ActionType: string(act.Type),
		FromState:  string(from),
		ToState:    string(to),
		Cause:      cause,
		Timestamp:  at,
	})
}

func cloneAction(act *Action) Action {
	copied := *act
	copied.Audit = append([]TransitionRecord(nil), act.Audit...)
	if act.DueBy != nil {
		dueBy := *act.DueBy
		copied.DueBy = &dueBy
	}
	if act.CompletedAt != nil {
		completedAt := *act.CompletedAt
		copied.CompletedAt = &completedAt
	}
	return copied
}
