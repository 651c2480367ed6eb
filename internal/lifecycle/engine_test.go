package lifecycle

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"actions/internal/action"
	"actions/pkg/domain"
	"actions/pkg/platform/clock"
)

type EngineSuite struct {
	suite.Suite
	store  *action.MemoryStore
	clk    *clock.Fake
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.store = action.NewMemoryStore()
	s.clk = clock.NewFake(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))
	s.engine = NewEngine(s.store, s.clk, slog.New(slog.DiscardHandler), nil, 0)
}

func (s *EngineSuite) seed(dueBy *time.Time) *action.Action {
	draft := action.Draft{
		TraineeID:  "trainee-1",
		Type:       action.TypeReviewProgramme,
		TriggerKey: "pm-100",
		DueBy:      dueBy,
		Cause:      "PROGRAMME_MEMBERSHIP_SYNCED",
	}
	act, created, err := s.store.Upsert(context.Background(), draft, s.clk.Now())
	s.Require().NoError(err)
	s.Require().True(created)
	return act
}

func (s *EngineSuite) TestCompleteDueAction() {
	// A day of grace keeps the single sweep pass from chaining into OVERDUE.
	s.engine = NewEngine(s.store, s.clk, slog.New(slog.DiscardHandler), nil, 24*time.Hour)

	dueBy := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	act := s.seed(&dueBy)
	s.Require().Equal(action.StateUnscheduled, act.State)

	s.clk.Set(time.Date(2024, 1, 15, 0, 0, 1, 0, time.UTC))
	advanced, err := s.engine.SweepOnce(context.Background(), 100)
	s.Require().NoError(err)
	s.Equal(1, advanced)

	got, err := s.store.Get(context.Background(), act.ID)
	s.Require().NoError(err)
	s.Equal(action.StateDue, got.State)

	updated, err := s.engine.Complete(context.Background(), act.ID, "FORM_UPDATED", nil)
	s.Require().NoError(err)
	s.Equal(action.StateComplete, updated.State)
	s.Require().NotNil(updated.CompletedAt)
	s.Equal(s.clk.Now(), *updated.CompletedAt)
}

func (s *EngineSuite) TestCompleteIsIdempotent() {
	dueBy := s.clk.Now().Add(-time.Hour)
	act := s.seed(&dueBy)

	first, err := s.engine.Complete(context.Background(), act.ID, "FORM_UPDATED", nil)
	s.Require().NoError(err)
	s.Equal(action.StateComplete, first.State)
	firstCompleted := *first.CompletedAt

	s.clk.Advance(time.Hour)
	second, err := s.engine.Complete(context.Background(), act.ID, "FORM_UPDATED", nil)
	s.Require().NoError(err)
	s.Equal(action.StateComplete, second.State)
	s.Equal(firstCompleted, *second.CompletedAt)
	s.Len(second.Audit, len(first.Audit))
}

func (s *EngineSuite) TestCompleteUnscheduledWithElapsedDueAdvancesFirst() {
	dueBy := s.clk.Now().Add(time.Hour)
	act := s.seed(&dueBy)
	s.Require().Equal(action.StateUnscheduled, act.State)

	// Due date passes but no sweep has run yet.
	s.clk.Advance(2 * time.Hour)

	updated, err := s.engine.Complete(context.Background(), act.ID, "FORM_UPDATED", nil)
	s.Require().NoError(err)
	s.Equal(action.StateComplete, updated.State)

	// Audit shows the full path: created, advanced to DUE, then completed.
	s.Require().Len(updated.Audit, 3)
	s.Equal(action.StateDue, updated.Audit[1].To)
	s.Equal(CauseDueDateReached, updated.Audit[1].Cause)
	s.Equal(action.StateComplete, updated.Audit[2].To)
}

func (s *EngineSuite) TestCompleteUnscheduledWithFutureDueIsNoOp() {
	dueBy := s.clk.Now().Add(48 * time.Hour)
	act := s.seed(&dueBy)

	got, err := s.engine.Complete(context.Background(), act.ID, "FORM_UPDATED", nil)
	s.Require().NoError(err)
	s.Equal(action.StateUnscheduled, got.State)
	s.Nil(got.CompletedAt)
}

func (s *EngineSuite) TestCompleteHonoursUpstreamTimestamp() {
	dueBy := s.clk.Now().Add(-time.Hour)
	act := s.seed(&dueBy)

	completedAt := s.clk.Now().Add(-30 * time.Minute)
	updated, err := s.engine.Complete(context.Background(), act.ID, "COJ_RECEIVED", &completedAt)
	s.Require().NoError(err)
	s.Require().NotNil(updated.CompletedAt)
	s.Equal(completedAt, *updated.CompletedAt)
}

func (s *EngineSuite) TestCompleteMissingAction() {
	missing := domain.DeriveActionID("trainee-1", string(action.TypeSignCoj), "nope")
	_, err := s.engine.Complete(context.Background(), missing, "COJ_RECEIVED", nil)
	s.Error(err)
}

func (s *EngineSuite) TestSupersedeRetiresLiveActions() {
	dueBy := s.clk.Now().Add(-time.Hour)
	act := s.seed(&dueBy)

	retired, err := s.engine.Supersede(context.Background(), act.TraineeID, act.TriggerKey, "PROGRAMME_MEMBERSHIP_DELETED")
	s.Require().NoError(err)
	s.Equal(1, retired)

	got, err := s.store.Get(context.Background(), act.ID)
	s.Require().NoError(err)
	s.Equal(action.StateNotRequired, got.State)
}

func (s *EngineSuite) TestSupersedeSkipsCompleted() {
	dueBy := s.clk.Now().Add(-time.Hour)
	act := s.seed(&dueBy)

	_, err := s.engine.Complete(context.Background(), act.ID, "FORM_UPDATED", nil)
	s.Require().NoError(err)

	retired, err := s.engine.Supersede(context.Background(), act.TraineeID, act.TriggerKey, "PROGRAMME_MEMBERSHIP_DELETED")
	s.Require().NoError(err)
	s.Equal(0, retired)

	got, err := s.store.Get(context.Background(), act.ID)
	s.Require().NoError(err)
	s.Equal(action.StateComplete, got.State)
}

func (s *EngineSuite) TestSupersedeUnknownTriggerIsNoOp() {
	retired, err := s.engine.Supersede(context.Background(), "trainee-1", "never-seen", "PLACEMENT_DELETED")
	s.Require().NoError(err)
	s.Equal(0, retired)
}

func (s *EngineSuite) TestSweepChainsBothStepsInOnePass() {
	// Due date long past: a single pass should take the action all the way
	// from UNSCHEDULED to OVERDUE via DUE, with two audit entries.
	dueBy := s.clk.Now().Add(-72 * time.Hour)
	draft := action.Draft{
		TraineeID:  "trainee-2",
		Type:       action.TypeSignFormRPartA,
		TriggerKey: "pm-200",
		DueBy:      &dueBy,
		Cause:      "PROGRAMME_MEMBERSHIP_SYNCED",
	}
	// Seed at a time before the due date so the action starts UNSCHEDULED.
	act, created, err := s.store.Upsert(context.Background(), draft, dueBy.Add(-time.Hour))
	s.Require().NoError(err)
	s.Require().True(created)
	s.Require().Equal(action.StateUnscheduled, act.State)

	advanced, err := s.engine.SweepOnce(context.Background(), 100)
	s.Require().NoError(err)
	s.Equal(2, advanced)

	got, err := s.store.Get(context.Background(), act.ID)
	s.Require().NoError(err)
	s.Equal(action.StateOverdue, got.State)
	s.Require().Len(got.Audit, 3)
	s.Equal(CauseDueDateReached, got.Audit[1].Cause)
	s.Equal(CauseDueDatePassed, got.Audit[2].Cause)
}

func (s *EngineSuite) TestSweepRespectsOverdueGrace() {
	s.engine = NewEngine(s.store, s.clk, slog.New(slog.DiscardHandler), nil, 48*time.Hour)

	dueBy := s.clk.Now().Add(time.Hour)
	act := s.seed(&dueBy)
	s.clk.Advance(2 * time.Hour)

	advanced, err := s.engine.SweepOnce(context.Background(), 100)
	s.Require().NoError(err)
	s.Equal(1, advanced)

	got, err := s.store.Get(context.Background(), act.ID)
	s.Require().NoError(err)
	s.Equal(action.StateDue, got.State)

	// Within the grace window nothing more happens.
	s.clk.Advance(24 * time.Hour)
	advanced, err = s.engine.SweepOnce(context.Background(), 100)
	s.Require().NoError(err)
	s.Equal(0, advanced)

	// Past it, the action goes OVERDUE.
	s.clk.Advance(25 * time.Hour)
	advanced, err = s.engine.SweepOnce(context.Background(), 100)
	s.Require().NoError(err)
	s.Equal(1, advanced)

	got, err = s.store.Get(context.Background(), act.ID)
	s.Require().NoError(err)
	s.Equal(action.StateOverdue, got.State)
}

func (s *EngineSuite) TestSweepIgnoresUndatedActions() {
	s.seed(nil)

	advanced, err := s.engine.SweepOnce(context.Background(), 100)
	s.Require().NoError(err)
	s.Equal(0, advanced)
}

func (s *EngineSuite) TestOverdueActionCompletes() {
	dueBy := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	act := s.seed(&dueBy)

	s.clk.Set(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC))
	advanced, err := s.engine.SweepOnce(context.Background(), 100)
	s.Require().NoError(err)
	s.Equal(2, advanced)

	got, err := s.store.Get(context.Background(), act.ID)
	s.Require().NoError(err)
	s.Require().Equal(action.StateOverdue, got.State)

	updated, err := s.engine.Complete(context.Background(), act.ID, "FORM_UPDATED", nil)
	s.Require().NoError(err)
	s.Equal(action.StateComplete, updated.State)
}

func (s *EngineSuite) TestEveryTransitionQueuesNotification() {
	dueBy := s.clk.Now().Add(time.Hour)
	act := s.seed(&dueBy)
	s.clk.Advance(2 * time.Hour)

	_, err := s.engine.Complete(context.Background(), act.ID, "FORM_UPDATED", nil)
	s.Require().NoError(err)

	notes := s.store.Notifications()
	// Creation, UNSCHEDULED->DUE, DUE->COMPLETE.
	s.Require().Len(notes, 3)
	s.Equal("", notes[0].FromState)
	s.Equal(string(action.StateDue), notes[1].ToState)
	s.Equal(string(action.StateComplete), notes[2].ToState)
	for _, n := range notes {
		s.Equal(act.ID, n.ActionID)
	}
}
