package federated

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of a [KeyCache].
//
//	Uninitialized -> Fetching -> Ready | Error
//	Ready -> Refreshing -> Ready | Error
//	Error -> Fetching (no snapshot) | Refreshing (stale snapshot held)
type State int32

const (
	// StateUninitialized: no fetch has been attempted.
	StateUninitialized State = iota

	// StateFetching: the first fetch, or a retry with no snapshot, is in
	// flight.
	StateFetching

	// StateReady: the current snapshot came from a successful fetch.
	StateReady

	// StateRefreshing: a snapshot is held and a replacement is in flight.
	StateRefreshing

	// StateError: the last fetch failed. A stale snapshot may still be
	// served.
	StateError
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateFetching:      "fetching",
	StateReady:         "ready",
	StateRefreshing:    "refreshing",
	StateError:         "error",
}

// String returns the lowercase state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var validTransitions = map[State][]State{
	StateUninitialized: {StateFetching},
	StateFetching:      {StateReady, StateError},
	StateReady:         {StateRefreshing},
	StateRefreshing:    {StateReady, StateError},
	StateError:         {StateFetching, StateRefreshing},
}

// ValidTransition reports whether a key cache may move from one state to
// another.
func ValidTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateMachine holds a State and enforces the transition table.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

// transition moves to `to` if the move is legal from the current state.
// It returns the state it moved from.
func (m *stateMachine) transition(to State) (State, error) {
	for {
		from := m.load()
		if !ValidTransition(from, to) {
			return from, fmt.Errorf("federated: invalid key cache transition %s -> %s", from, to)
		}
		if m.v.CompareAndSwap(int32(from), int32(to)) {
			return from, nil
		}
	}
}
