package engine

import (
	"fmt"
	"sync"
)

// State is the scheduler lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateAborted  State = "aborted"
)

var transitions = map[State][]State{
	StateIdle:     {StateRunning},
	StateRunning:  {StateDraining, StateAborted},
	StateDraining: {StateIdle},
	StateAborted:  {StateIdle},
}

// Lifecycle guards the Idle -> Running -> Draining -> Idle machine, with
// Running -> Aborted -> Idle on fatal error.
//
// Thread-safety: safe for concurrent use.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// NewLifecycle starts in StateIdle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Transition moves to next, rejecting edges the machine does not have.
func (l *Lifecycle) Transition(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, allowed := range transitions[l.state] {
		if allowed == next {
			l.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", l.state, next)
}
