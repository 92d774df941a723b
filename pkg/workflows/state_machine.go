package workflows

import "fmt"

// State is a named workflow state.
type State string

// Batch row states, in pipeline order. Failed is reachable from any
// non-terminal state.
const (
	RowMapped              State = "MAPPED"
	RowParticipantResolved State = "PARTICIPANT_RESOLVED"
	RowCourseResolved      State = "COURSE_RESOLVED"
	RowRendered            State = "RENDERED"
	RowPersisted           State = "PERSISTED"
	RowDone                State = "DONE"
	RowFailed              State = "FAILED"
)

// Regeneration job states.
const (
	JobPending   State = "pending"
	JobRunning   State = "running"
	JobCompleted State = "completed"
	JobFailed    State = "failed"
)

// StateMachine enforces state transitions
type StateMachine struct {
	allowedTransitions map[State][]State
}

// NewRowStateMachine returns the machine for one batch row.
func NewRowStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[State][]State{
			RowMapped:              {RowParticipantResolved, RowFailed},
			RowParticipantResolved: {RowCourseResolved, RowFailed},
			RowCourseResolved:      {RowRendered, RowFailed},
			// a code collision sends a rendered row back to rendering
			RowRendered:  {RowPersisted, RowCourseResolved, RowFailed},
			RowPersisted: {RowDone, RowFailed},
			RowDone:      {},
			RowFailed:    {},
		},
	}
}

// NewJobStateMachine returns the machine for queued regeneration jobs.
func NewJobStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[State][]State{
			JobPending:   {JobRunning},
			JobRunning:   {JobCompleted, JobFailed},
			JobCompleted: {},
			JobFailed:    {},
		},
	}
}

// CanTransition checks if a transition is allowed
func (sm *StateMachine) CanTransition(from, to State) bool {
	for _, allowedTo := range sm.allowedTransitions[from] {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next states for a given state
func (sm *StateMachine) GetAllowedTransitions(from State) []State {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []State{}
	}
	return allowed
}

// IsTerminal reports whether no transition leaves state.
func (sm *StateMachine) IsTerminal(state State) bool {
	allowed, exists := sm.allowedTransitions[state]
	return exists && len(allowed) == 0
}

// Tracker follows one item through a StateMachine.
type Tracker struct {
	machine *StateMachine
	current State
}

// NewTracker starts a tracker at initial.
func (sm *StateMachine) NewTracker(initial State) *Tracker {
	return &Tracker{machine: sm, current: initial}
}

// Current returns the current state.
func (t *Tracker) Current() State {
	return t.current
}

// Advance moves to next or returns an error if the transition is not allowed.
func (t *Tracker) Advance(next State) error {
	if !t.machine.CanTransition(t.current, next) {
		return fmt.Errorf("invalid transition from %s to %s", t.current, next)
	}
	t.current = next
	return nil
}

// Fail moves to failed and returns the state that was reached before failing.
// Terminal states are left unchanged.
func (t *Tracker) Fail() State {
	reached := t.current
	if t.machine.CanTransition(t.current, RowFailed) {
		t.current = RowFailed
	} else if t.machine.CanTransition(t.current, JobFailed) {
		t.current = JobFailed
	}
	return reached
}
