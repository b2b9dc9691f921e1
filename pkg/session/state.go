// Package session drives one interactive translation session: submit,
// classify, confirm, execute, audit.
package session

// State represents where a session is in the request lifecycle
type State int

const (
	// StateNormal - session is accepting input
	StateNormal State = iota
	// StateTranslating - a translation call is in flight
	StateTranslating
	// StateModalActive - a confirmation modal is blocking input
	StateModalActive
	// StateDone - the request reached a terminal outcome
	StateDone
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateTranslating:
		return "translating"
	case StateModalActive:
		return "modal"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// CanTransitionTo returns true if the state can transition to the target state
func (s State) CanTransitionTo(target State) bool {
	validTransitions := map[State][]State{
		StateNormal:      {StateTranslating},
		StateTranslating: {StateModalActive, StateDone, StateNormal},
		StateModalActive: {StateDone},
		StateDone:        {StateNormal},
	}

	targets, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == target {
			return true
		}
	}
	return false
}
