package action

import (
	"fmt"
	"time"

	"actions/pkg/domain"
)

// State is the lifecycle state of an action.
type State string

const (
	StateUnscheduled State = "UNSCHEDULED"
	StateDue         State = "DUE"
	StateOverdue     State = "OVERDUE"
	StateComplete    State = "COMPLETE"
	StateNotRequired State = "NOT_REQUIRED"
)

// legalTransitions is the full state machine. Terminal states have no exits;
// any trigger arriving after terminality is a no-op, not an error.
var legalTransitions = map[State][]State{
	StateUnscheduled: {StateDue, StateNotRequired},
	StateDue:         {StateOverdue, StateComplete, StateNotRequired},
	StateOverdue:     {StateComplete, StateNotRequired},
	StateComplete:    {},
	StateNotRequired: {},
}

// ParseState validates and returns a State.
func ParseState(s string) (State, error) {
	state := State(s)
	if _, ok := legalTransitions[state]; !ok {
		return "", fmt.Errorf("unknown action state: %s", s)
	}
	return state, nil
}

// Terminal reports whether no transition may ever leave this state.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateNotRequired
}

// CanTransitionTo reports whether the state machine permits s -> to.
func (s State) CanTransitionTo(to State) bool {
	for _, next := range legalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Type is the category of follow-up obligation.
type Type string

const (
	TypeReviewProgramme Type = "REVIEW_PROGRAMME"
	TypeReviewPlacement Type = "REVIEW_PLACEMENT"
	TypeSignCoj         Type = "SIGN_COJ"
	TypeSignFormRPartA  Type = "SIGN_FORM_R_PART_A"
	TypeSignFormRPartB  Type = "SIGN_FORM_R_PART_B"
	TypeRegisterTSS     Type = "REGISTER_TSS"
)

// UserCompletable reports whether a trainee may complete this action type
// directly through the API. Form and CoJ actions complete via their own
// upstream events, account registration via the account system.
func (t Type) UserCompletable() bool {
	return t == TypeReviewProgramme || t == TypeReviewPlacement
}

// TransitionRecord is one audit entry on an action.
type TransitionRecord struct {
	From  State
	To    State
	Cause string
	At    time.Time
}

// Action is a tracked follow-up obligation derived from a domain event.
// Actions are never hard-deleted; obsolete ones move to NOT_REQUIRED so the
// audit trail survives.
type Action struct {
	ID             domain.ActionID
	TraineeID      domain.TraineeID
	Type           Type
	State          State
	TriggerKey     string
	DueBy          *time.Time
	CreatedAt      time.Time
	CompletedAt    *time.Time
	LastModifiedAt time.Time
	Audit          []TransitionRecord
}

// DueElapsed reports whether the action has a due date that has passed.
func (a *Action) DueElapsed(now time.Time) bool {
	return a.DueBy != nil && !a.DueBy.After(now)
}

// Draft is a candidate action produced by derivation. It carries everything
// needed to compute the deterministic identity and the initial state.
type Draft struct {
	TraineeID  domain.TraineeID
	Type       Type
	TriggerKey string
	DueBy      *time.Time
	Cause      string
}

// ActionID derives the deterministic identity for this draft.
func (d Draft) ActionID() domain.ActionID {
	return domain.DeriveActionID(d.TraineeID, string(d.Type), d.TriggerKey)
}

// InitialState decides the state a new action is created in: DUE when its due
// date has already passed, UNSCHEDULED otherwise (including no due date).
func InitialState(dueBy *time.Time, now time.Time) State {
	if dueBy != nil && !dueBy.After(now) {
		return StateDue
	}
	return StateUnscheduled
}
