// Package service orchestrates event application: derivation, idempotent
// creation, and lifecycle triggers, in that order.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"actions/internal/action"
	"actions/internal/derive"
	"actions/internal/event"
	"actions/internal/lifecycle"
	"actions/internal/platform/metrics"
	"actions/pkg/domain"
	"actions/pkg/platform/sentinel"
)

// CauseUserCompleted marks completions driven by the trainee through the API
// rather than by an upstream event.
const CauseUserCompleted = "USER_COMPLETED"

type Service struct {
	store   action.Store
	engine  *lifecycle.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(store action.Store, engine *lifecycle.Engine, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		engine:  engine,
		logger:  logger,
		metrics: m,
	}
}

// Apply runs one parsed event through the full pipeline. The whole method is
// idempotent: drafts upsert under deterministic IDs, completions and
// supersessions no-op on terminal actions, so redelivery converges on the
// same state.
//
// A completion for an action that does not exist yet is logged and skipped
// rather than failed: cross-topic ordering is not guaranteed, and the next
// sync of the parent record recreates the context.
func (s *Service) Apply(ctx context.Context, ev event.Event) error {
	for _, draft := range derive.Actions(ev) {
		act, created, err := s.store.Upsert(ctx, draft, ev.OccurredAt)
		if err != nil {
			return fmt.Errorf("upsert %s action: %w", draft.Type, err)
		}
		if created {
			s.metrics.RecordActionCreated()
			s.logger.Info("action created",
				"action_id", act.ID,
				"trainee_id", act.TraineeID,
				"action_type", act.Type,
				"state", act.State,
				"source_message_id", ev.SourceMessageID,
			)
		}
	}

	for _, completion := range derive.Completions(ev) {
		completedAt := completion.CompletedAt
		_, err := s.engine.Complete(ctx, completion.ActionID(), completion.Cause, &completedAt)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				s.logger.Warn("completion trigger for unknown action skipped",
					"trainee_id", completion.TraineeID,
					"action_type", completion.Type,
					"trigger_key", completion.TriggerKey,
					"source_message_id", ev.SourceMessageID,
				)
				continue
			}
			return fmt.Errorf("complete %s action: %w", completion.Type, err)
		}
	}

	for _, supersession := range derive.Supersessions(ev) {
		retired, err := s.engine.Supersede(ctx, supersession.TraineeID, supersession.TriggerKey, supersession.Cause)
		if err != nil {
			return fmt.Errorf("supersede trigger %s: %w", supersession.TriggerKey, err)
		}
		if retired > 0 {
			s.logger.Info("actions superseded",
				"trainee_id", supersession.TraineeID,
				"trigger_key", supersession.TriggerKey,
				"cause", supersession.Cause,
				"retired", retired,
			)
		}
	}

	return nil
}

// IncompleteForTrainee lists a trainee's open actions, soonest due first.
func (s *Service) IncompleteForTrainee(ctx context.Context, traineeID domain.TraineeID) ([]action.Action, error) {
	return s.store.FindIncompleteByTrainee(ctx, traineeID)
}

// ByState lists actions in a given lifecycle state. Admin surface.
func (s *Service) ByState(ctx context.Context, state string, limit int) ([]action.Action, error) {
	parsed, err := action.ParseState(state)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, sentinel.ErrMalformedPayload)
	}
	return s.store.FindByState(ctx, parsed, limit)
}

// CompleteAsUser completes an action on the trainee's explicit request. The
// action must belong to the caller and be of a type trainees may complete
// themselves; actions completed by upstream systems reject user completion.
func (s *Service) CompleteAsUser(ctx context.Context, traineeID domain.TraineeID, actionID domain.ActionID) (*action.Action, error) {
	act, err := s.store.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	// Ownership mismatch reads as not-found so the API does not leak other
	// trainees' action IDs.
	if act.TraineeID != traineeID {
		return nil, sentinel.ErrNotFound
	}
	if !act.Type.UserCompletable() {
		return nil, fmt.Errorf("action type %s cannot be completed by the trainee: %w", act.Type, sentinel.ErrInvalidTransition)
	}

	updated, err := s.engine.Complete(ctx, actionID, CauseUserCompleted, nil)
	if err != nil {
		return nil, err
	}
	if updated.State != action.StateComplete {
		return nil, fmt.Errorf("action is %s and cannot complete: %w", updated.State, sentinel.ErrInvalidTransition)
	}
	return updated, nil
}
