package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"actions/internal/action"
	"actions/internal/platform/metrics"
	"actions/pkg/domain"
	"actions/pkg/platform/clock"
	"actions/pkg/platform/sentinel"
)

// Causes recorded on time-driven and supersession transitions. Event-driven
// causes are supplied by the caller.
const (
	CauseDueDateReached = "DUE_DATE_REACHED"
	CauseDueDatePassed  = "DUE_DATE_PASSED"
)

// transitionRetries bounds the re-read loop when a conditional write loses a
// race. Each retry re-evaluates against the fresh state, so losing repeatedly
// means another writer is making progress and giving up is safe.
const transitionRetries = 3

// Engine applies lifecycle transitions on top of the store's conditional
// writes. It owns the decision logic (which transition, if any, a trigger
// produces); the store owns atomicity.
type Engine struct {
	store        action.Store
	clk          clock.Clock
	logger       *slog.Logger
	metrics      *metrics.Metrics
	overdueGrace time.Duration
}

func NewEngine(store action.Store, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics, overdueGrace time.Duration) *Engine {
	return &Engine{
		store:        store,
		clk:          clk,
		logger:       logger,
		metrics:      m,
		overdueGrace: overdueGrace,
	}
}

// Complete moves an action to COMPLETE. Terminal actions are left untouched
// and returned as-is: completing twice, or completing after NOT_REQUIRED, is
// a logged no-op so redelivered events stay harmless.
//
// completedAt carries the upstream completion time when the trigger is an
// event that happened in the past; nil means now.
func (e *Engine) Complete(ctx context.Context, id domain.ActionID, cause string, completedAt *time.Time) (*action.Action, error) {
	at := e.clk.Now()
	if completedAt != nil {
		at = *completedAt
	}

	for attempt := 0; attempt <= transitionRetries; attempt++ {
		act, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if act.State.Terminal() {
			e.logger.Info("completion trigger on terminal action ignored",
				"action_id", act.ID,
				"state", act.State,
				"cause", cause,
			)
			return act, nil
		}

		// An UNSCHEDULED action whose due date has arrived just hasn't been
		// swept yet; advance it so the audit trail shows the full path. One
		// without an elapsed due date cannot complete.
		if act.State == action.StateUnscheduled {
			if !act.DueElapsed(e.clk.Now()) {
				e.logger.Info("completion trigger on unscheduled action ignored",
					"action_id", act.ID,
					"cause", cause,
				)
				return act, nil
			}
			act, err = e.store.Transition(ctx, act.ID, action.StateUnscheduled, action.StateDue, CauseDueDateReached, e.clk.Now())
			if err != nil {
				if errors.Is(err, sentinel.ErrStaleState) {
					continue
				}
				return nil, err
			}
		}

		updated, err := e.store.Transition(ctx, act.ID, act.State, action.StateComplete, cause, at)
		if err != nil {
			if errors.Is(err, sentinel.ErrStaleState) {
				continue
			}
			return nil, err
		}
		return updated, nil
	}

	return nil, fmt.Errorf("complete action %s: %w", id, sentinel.ErrStaleState)
}

// Supersede retires every live action a trainee holds for a trigger key,
// moving each to NOT_REQUIRED. Returns how many actions it retired. Actions
// already terminal are skipped; losing a race to another writer is treated
// the same way after one re-check.
func (e *Engine) Supersede(ctx context.Context, traineeID domain.TraineeID, triggerKey, cause string) (int, error) {
	found, err := e.store.FindByTrigger(ctx, traineeID, triggerKey)
	if err != nil {
		return 0, err
	}

	retired := 0
	for i := range found {
		act := &found[i]
		for attempt := 0; attempt <= transitionRetries; attempt++ {
			if act.State.Terminal() {
				break
			}
			_, err := e.store.Transition(ctx, act.ID, act.State, action.StateNotRequired, cause, e.clk.Now())
			if err == nil {
				retired++
				break
			}
			if errors.Is(err, sentinel.ErrStaleState) {
				fresh, gerr := e.store.Get(ctx, act.ID)
				if gerr != nil {
					return retired, gerr
				}
				act = fresh
				continue
			}
			return retired, err
		}
	}
	return retired, nil
}

// SweepOnce runs one pass of the time-driven transitions: UNSCHEDULED actions
// whose due date arrived move to DUE, and DUE actions whose due date passed
// the grace window move to OVERDUE. An action crossing both thresholds in one
// pass takes both steps, each a separate audited transition.
//
// Returns how many transitions were applied. Losing a conditional write to a
// concurrent sweeper is skipped silently; the action is already advanced.
func (e *Engine) SweepOnce(ctx context.Context, batchSize int) (int, error) {
	start := time.Now()
	advanced := 0

	n, err := e.sweepStep(ctx, action.StateUnscheduled, action.StateDue, CauseDueDateReached, e.clk.Now(), batchSize)
	advanced += n
	if err != nil {
		e.metrics.ObserveSweep(time.Since(start), advanced)
		return advanced, err
	}

	n, err = e.sweepStep(ctx, action.StateDue, action.StateOverdue, CauseDueDatePassed, e.clk.Now().Add(-e.overdueGrace), batchSize)
	advanced += n

	e.metrics.ObserveSweep(time.Since(start), advanced)
	return advanced, err
}

func (e *Engine) sweepStep(ctx context.Context, from, to action.State, cause string, cutoff time.Time, batchSize int) (int, error) {
	found, err := e.store.FindDueElapsed(ctx, []action.State{from}, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("sweep scan %s: %w", from, err)
	}

	advanced := 0
	for i := range found {
		if err := ctx.Err(); err != nil {
			return advanced, err
		}
		act := &found[i]
		_, err := e.store.Transition(ctx, act.ID, from, to, cause, e.clk.Now())
		if err != nil {
			if errors.Is(err, sentinel.ErrStaleState) || errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return advanced, fmt.Errorf("sweep advance %s: %w", act.ID, err)
		}
		advanced++
	}
	return advanced, nil
}
