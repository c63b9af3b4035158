package server

import "slices"

// SessionState is the lifecycle state of one streaming connection.
type SessionState int

const (
	StateAccepting SessionState = iota
	StateActive
	StateFinalizing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAccepting:
		return "Accepting"
	case StateActive:
		return "Active"
	case StateFinalizing:
		return "Finalizing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var validTransitions = map[SessionState][]SessionState{
	StateAccepting:  {StateActive, StateClosed},
	StateActive:     {StateFinalizing},
	StateFinalizing: {StateClosed},
}

// stateMachine 会话状态机，仅由会话自身的 goroutine 访问
type stateMachine struct {
	current SessionState
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateAccepting}
}

func (sm *stateMachine) CanTransition(to SessionState) bool {
	return slices.Contains(validTransitions[sm.current], to)
}

// Transition moves to `to` when allowed and reports whether it did.
func (sm *stateMachine) Transition(to SessionState) bool {
	if sm.CanTransition(to) {
		sm.current = to
		return true
	}
	return false
}

func (sm *stateMachine) Current() SessionState {
	return sm.current
}
