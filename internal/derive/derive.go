// Package derive holds the pure mapping from domain events to candidate
// actions and lifecycle triggers. Nothing here performs I/O, so the full rule
// table is exercisable in unit tests.
package derive

import (
	"strings"
	"time"

	"actions/internal/action"
	"actions/internal/event"
	"actions/pkg/domain"
)

// actionsEpoch is the cut-over date for action tracking. Drafts due before it
// are never created; historical records predate the actions system.
var actionsEpoch = time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)

// defaultDueOffset applies when an event carries no start date to anchor on.
const defaultDueOffset = 14 * 24 * time.Hour

// actionablePlacementTypes are the placement types that require a review.
// Matching is case-insensitive; the upstream feed is not consistent about it.
var actionablePlacementTypes = map[string]bool{
	"in post":             true,
	"in post - acting up": true,
	"in post - extension": true,
}

// programmeActionTypes are created for every new programme membership.
var programmeActionTypes = []action.Type{
	action.TypeReviewProgramme,
	action.TypeSignCoj,
	action.TypeSignFormRPartA,
	action.TypeSignFormRPartB,
}

// formActionTypes maps a form type to the action it completes.
var formActionTypes = map[string]action.Type{
	"formr-a": action.TypeSignFormRPartA,
	"formr-b": action.TypeSignFormRPartB,
}

// Completion is an event-driven trigger that marks an existing action done.
type Completion struct {
	TraineeID   domain.TraineeID
	Type        action.Type
	TriggerKey  string
	CompletedAt time.Time
	Cause       string
}

// ActionID resolves the deterministic identity of the action to complete.
func (c Completion) ActionID() domain.ActionID {
	return domain.DeriveActionID(c.TraineeID, string(c.Type), c.TriggerKey)
}

// Supersession is an event-driven trigger that renders existing actions moot.
type Supersession struct {
	TraineeID  domain.TraineeID
	TriggerKey string
	Cause      string
}

// Actions maps a domain event to zero or more action drafts. Due dates anchor
// on the upstream start date when present, otherwise occurredAt plus a fixed
// offset. Drafts due before the actions epoch are dropped.
func Actions(ev event.Event) []action.Draft {
	switch ev.Type {
	case event.TypeProgrammeMembershipSynced:
		payload := ev.ProgrammeMembership
		if payload.Operation != event.OperationLoad {
			return nil
		}
		dueBy := dueDate(payload.StartDate, ev.OccurredAt)
		if dueBy.Before(actionsEpoch) {
			return nil
		}
		drafts := make([]action.Draft, 0, len(programmeActionTypes))
		for _, actionType := range programmeActionTypes {
			drafts = append(drafts, action.Draft{
				TraineeID:  ev.TraineeID,
				Type:       actionType,
				TriggerKey: payload.ProgrammeMembershipID,
				DueBy:      &dueBy,
				Cause:      ev.Type,
			})
		}
		return drafts

	case event.TypePlacementSynced:
		payload := ev.Placement
		if payload.Operation != event.OperationLoad {
			return nil
		}
		if !actionablePlacementTypes[strings.ToLower(payload.PlacementType)] {
			return nil
		}
		dueBy := dueDate(payload.StartDate, ev.OccurredAt)
		if dueBy.Before(actionsEpoch) {
			return nil
		}
		return []action.Draft{{
			TraineeID:  ev.TraineeID,
			Type:       action.TypeReviewPlacement,
			TriggerKey: payload.PlacementID,
			DueBy:      &dueBy,
			Cause:      ev.Type,
		}}

	case event.TypeAccountConfirmed:
		if ev.Account.Operation != event.OperationLoad {
			return nil
		}
		// Registration has no deadline; the action stays unscheduled until
		// superseded or completed.
		return []action.Draft{{
			TraineeID:  ev.TraineeID,
			Type:       action.TypeRegisterTSS,
			TriggerKey: ev.TraineeID.String(),
			Cause:      ev.Type,
		}}

	default:
		return nil
	}
}

// Completions maps a domain event to the completion triggers it implies.
func Completions(ev event.Event) []Completion {
	switch ev.Type {
	case event.TypeProgrammeMembershipSynced:
		payload := ev.ProgrammeMembership
		if payload.Operation != event.OperationLoad || payload.CojSyncedAt == nil {
			return nil
		}
		// Bulk loads can carry programme memberships whose CoJ was already
		// signed; complete the sign action straight away.
		return []Completion{{
			TraineeID:   ev.TraineeID,
			Type:        action.TypeSignCoj,
			TriggerKey:  payload.ProgrammeMembershipID,
			CompletedAt: *payload.CojSyncedAt,
			Cause:       ev.Type,
		}}

	case event.TypeCojReceived:
		payload := ev.Coj
		if payload.SyncedAt == nil {
			return nil
		}
		return []Completion{{
			TraineeID:   ev.TraineeID,
			Type:        action.TypeSignCoj,
			TriggerKey:  payload.ProgrammeMembershipID,
			CompletedAt: *payload.SyncedAt,
			Cause:       ev.Type,
		}}

	case event.TypeFormUpdated:
		payload := ev.Form
		actionType, ok := formActionTypes[strings.ToLower(payload.FormType)]
		if !ok {
			return nil
		}
		if payload.LifecycleState != event.FormStateSubmitted && payload.LifecycleState != event.FormStateApproved {
			return nil
		}
		completedAt := ev.OccurredAt
		if payload.UpdatedAt != nil {
			completedAt = *payload.UpdatedAt
		}
		return []Completion{{
			TraineeID:   ev.TraineeID,
			Type:        actionType,
			TriggerKey:  payload.ProgrammeMembershipID,
			CompletedAt: completedAt,
			Cause:       ev.Type,
		}}

	default:
		return nil
	}
}

// Supersessions maps a domain event to the supersession triggers it implies.
func Supersessions(ev event.Event) []Supersession {
	switch ev.Type {
	case event.TypeProgrammeMembershipSynced:
		payload := ev.ProgrammeMembership
		if payload.Operation != event.OperationDelete {
			return nil
		}
		return []Supersession{{
			TraineeID:  ev.TraineeID,
			TriggerKey: payload.ProgrammeMembershipID,
			Cause:      "PROGRAMME_MEMBERSHIP_DELETED",
		}}

	case event.TypePlacementSynced:
		payload := ev.Placement
		if payload.Operation == event.OperationDelete {
			return []Supersession{{
				TraineeID:  ev.TraineeID,
				TriggerKey: payload.PlacementID,
				Cause:      "PLACEMENT_DELETED",
			}}
		}
		if !actionablePlacementTypes[strings.ToLower(payload.PlacementType)] {
			// A placement changing to a non-actionable type moots any review.
			return []Supersession{{
				TraineeID:  ev.TraineeID,
				TriggerKey: payload.PlacementID,
				Cause:      "PLACEMENT_TYPE_NOT_ACTIONABLE",
			}}
		}
		return nil

	case event.TypeAccountConfirmed:
		if ev.Account.Operation != event.OperationDelete {
			return nil
		}
		return []Supersession{{
			TraineeID:  ev.TraineeID,
			TriggerKey: ev.TraineeID.String(),
			Cause:      "ACCOUNT_DELETED",
		}}

	default:
		return nil
	}
}

func dueDate(startDate *time.Time, occurredAt time.Time) time.Time {
	if startDate != nil {
		return *startDate
	}
	return occurredAt.Add(defaultDueOffset)
}
