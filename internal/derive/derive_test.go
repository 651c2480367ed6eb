package derive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actions/internal/action"
	"actions/internal/event"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func placementEvent(op event.Operation, placementType string, startDate *time.Time) event.Event {
	return event.Event{
		SourceMessageID: "msg-1",
		Type:            event.TypePlacementSynced,
		TraineeID:       "trainee-1",
		OccurredAt:      time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC),
		Placement: &event.PlacementPayload{
			Operation:     op,
			PlacementID:   "placement-9",
			StartDate:     startDate,
			PlacementType: placementType,
		},
	}
}

func programmeEvent(op event.Operation, startDate, cojSyncedAt *time.Time) event.Event {
	return event.Event{
		SourceMessageID: "msg-2",
		Type:            event.TypeProgrammeMembershipSynced,
		TraineeID:       "trainee-1",
		OccurredAt:      time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC),
		ProgrammeMembership: &event.ProgrammeMembershipPayload{
			Operation:             op,
			ProgrammeMembershipID: "pm-1",
			StartDate:             startDate,
			CojSyncedAt:           cojSyncedAt,
		},
	}
}

func TestActions_Placement(t *testing.T) {
	start := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

	t.Run("in post placement derives review action due at start date", func(t *testing.T) {
		drafts := Actions(placementEvent(event.OperationLoad, "In post", timePtr(start)))
		require.Len(t, drafts, 1)
		assert.Equal(t, action.TypeReviewPlacement, drafts[0].Type)
		assert.Equal(t, "placement-9", drafts[0].TriggerKey)
		require.NotNil(t, drafts[0].DueBy)
		assert.Equal(t, start, *drafts[0].DueBy)
	})

	t.Run("placement type matching is case-insensitive", func(t *testing.T) {
		drafts := Actions(placementEvent(event.OperationLoad, "IN POST - EXTENSION", timePtr(start)))
		assert.Len(t, drafts, 1)
	})

	t.Run("non-actionable placement type derives nothing", func(t *testing.T) {
		drafts := Actions(placementEvent(event.OperationLoad, "OOP - Career break", timePtr(start)))
		assert.Empty(t, drafts)
	})

	t.Run("delete operation derives nothing", func(t *testing.T) {
		drafts := Actions(placementEvent(event.OperationDelete, "In post", timePtr(start)))
		assert.Empty(t, drafts)
	})

	t.Run("missing start date falls back to occurredAt offset", func(t *testing.T) {
		ev := placementEvent(event.OperationLoad, "In post", nil)
		drafts := Actions(ev)
		require.Len(t, drafts, 1)
		assert.Equal(t, ev.OccurredAt.Add(defaultDueOffset), *drafts[0].DueBy)
	})

	t.Run("due date before epoch derives nothing", func(t *testing.T) {
		old := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
		drafts := Actions(placementEvent(event.OperationLoad, "In post", timePtr(old)))
		assert.Empty(t, drafts)
	})
}

func TestActions_ProgrammeMembership(t *testing.T) {
	start := time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)

	t.Run("load derives the full programme action set", func(t *testing.T) {
		drafts := Actions(programmeEvent(event.OperationLoad, timePtr(start), nil))
		require.Len(t, drafts, 4)

		types := make(map[action.Type]bool)
		for _, draft := range drafts {
			types[draft.Type] = true
			assert.Equal(t, "pm-1", draft.TriggerKey)
			require.NotNil(t, draft.DueBy)
			assert.Equal(t, start, *draft.DueBy)
		}
		assert.True(t, types[action.TypeReviewProgramme])
		assert.True(t, types[action.TypeSignCoj])
		assert.True(t, types[action.TypeSignFormRPartA])
		assert.True(t, types[action.TypeSignFormRPartB])
	})

	t.Run("start before epoch derives nothing", func(t *testing.T) {
		old := time.Date(2023, 2, 5, 0, 0, 0, 0, time.UTC)
		drafts := Actions(programmeEvent(event.OperationLoad, timePtr(old), nil))
		assert.Empty(t, drafts)
	})
}

func TestActions_Account(t *testing.T) {
	ev := event.Event{
		Type:       event.TypeAccountConfirmed,
		TraineeID:  "trainee-7",
		OccurredAt: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC),
		Account:    &event.AccountPayload{Operation: event.OperationLoad},
	}

	drafts := Actions(ev)
	require.Len(t, drafts, 1)
	assert.Equal(t, action.TypeRegisterTSS, drafts[0].Type)
	assert.Equal(t, "trainee-7", drafts[0].TriggerKey)
	assert.Nil(t, drafts[0].DueBy)
}

func TestActions_Determinism(t *testing.T) {
	ev := placementEvent(event.OperationLoad, "In post", timePtr(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)))
	first := Actions(ev)
	second := Actions(ev)
	assert.Equal(t, first, second)
	assert.Equal(t, first[0].ActionID(), second[0].ActionID())
}

func TestCompletions(t *testing.T) {
	synced := time.Date(2024, 8, 20, 9, 30, 0, 0, time.UTC)

	t.Run("coj received completes sign coj action", func(t *testing.T) {
		ev := event.Event{
			Type:       event.TypeCojReceived,
			TraineeID:  "trainee-1",
			OccurredAt: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC),
			Coj:        &event.CojPayload{ProgrammeMembershipID: "pm-1", SyncedAt: timePtr(synced)},
		}
		completions := Completions(ev)
		require.Len(t, completions, 1)
		assert.Equal(t, action.TypeSignCoj, completions[0].Type)
		assert.Equal(t, "pm-1", completions[0].TriggerKey)
		assert.Equal(t, synced, completions[0].CompletedAt)
	})

	t.Run("coj received without sync timestamp completes nothing", func(t *testing.T) {
		ev := event.Event{
			Type:      event.TypeCojReceived,
			TraineeID: "trainee-1",
			Coj:       &event.CojPayload{ProgrammeMembershipID: "pm-1"},
		}
		assert.Empty(t, Completions(ev))
	})

	t.Run("programme load with signed coj completes sign coj action", func(t *testing.T) {
		start := time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)
		completions := Completions(programmeEvent(event.OperationLoad, timePtr(start), timePtr(synced)))
		require.Len(t, completions, 1)
		assert.Equal(t, action.TypeSignCoj, completions[0].Type)
	})

	t.Run("submitted form completes matching sign form action", func(t *testing.T) {
		ev := event.Event{
			Type:       event.TypeFormUpdated,
			TraineeID:  "trainee-1",
			OccurredAt: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC),
			Form: &event.FormPayload{
				FormType:              "formr-b",
				LifecycleState:        event.FormStateSubmitted,
				ProgrammeMembershipID: "pm-1",
			},
		}
		completions := Completions(ev)
		require.Len(t, completions, 1)
		assert.Equal(t, action.TypeSignFormRPartB, completions[0].Type)
		assert.Equal(t, ev.OccurredAt, completions[0].CompletedAt)
	})

	t.Run("draft form state completes nothing", func(t *testing.T) {
		ev := event.Event{
			Type:      event.TypeFormUpdated,
			TraineeID: "trainee-1",
			Form: &event.FormPayload{
				FormType:              "formr-a",
				LifecycleState:        "DRAFT",
				ProgrammeMembershipID: "pm-1",
			},
		}
		assert.Empty(t, Completions(ev))
	})

	t.Run("unknown form type completes nothing", func(t *testing.T) {
		ev := event.Event{
			Type:      event.TypeFormUpdated,
			TraineeID: "trainee-1",
			Form: &event.FormPayload{
				FormType:              "esr",
				LifecycleState:        event.FormStateSubmitted,
				ProgrammeMembershipID: "pm-1",
			},
		}
		assert.Empty(t, Completions(ev))
	})
}

func TestSupersessions(t *testing.T) {
	start := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

	t.Run("placement delete supersedes by placement key", func(t *testing.T) {
		triggers := Supersessions(placementEvent(event.OperationDelete, "In post", timePtr(start)))
		require.Len(t, triggers, 1)
		assert.Equal(t, "placement-9", triggers[0].TriggerKey)
		assert.Equal(t, "PLACEMENT_DELETED", triggers[0].Cause)
	})

	t.Run("placement changing to non-actionable type supersedes", func(t *testing.T) {
		triggers := Supersessions(placementEvent(event.OperationLoad, "OOP - Career break", timePtr(start)))
		require.Len(t, triggers, 1)
		assert.Equal(t, "PLACEMENT_TYPE_NOT_ACTIONABLE", triggers[0].Cause)
	})

	t.Run("actionable placement load supersedes nothing", func(t *testing.T) {
		assert.Empty(t, Supersessions(placementEvent(event.OperationLoad, "In post", timePtr(start))))
	})

	t.Run("programme membership delete supersedes by membership key", func(t *testing.T) {
		triggers := Supersessions(programmeEvent(event.OperationDelete, nil, nil))
		require.Len(t, triggers, 1)
		assert.Equal(t, "pm-1", triggers[0].TriggerKey)
	})

	t.Run("account delete supersedes by trainee key", func(t *testing.T) {
		ev := event.Event{
			Type:      event.TypeAccountConfirmed,
			TraineeID: "trainee-7",
			Account:   &event.AccountPayload{Operation: event.OperationDelete},
		}
		triggers := Supersessions(ev)
		require.Len(t, triggers, 1)
		assert.Equal(t, "trainee-7", triggers[0].TriggerKey)
	})
}
