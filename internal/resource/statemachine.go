package resource

import (
	"sync"
	"time"

	"conductor/internal/metrics"
)

// State is a resource lifecycle state.
type State string

const (
	StateAvailable State = "AVAILABLE"
	StateInUse     State = "IN_USE"
	StateCleaning  State = "CLEANING"
	StateFailed    State = "FAILED"
	// StateCleaned is terminal; no transition leaves it.
	StateCleaned State = "CLEANED"
)

// validTransitions is the full legal transition table. Absence means the
// transition is rejected.
var validTransitions = map[State][]State{
	StateAvailable: {StateInUse, StateCleaning},
	StateInUse:     {StateAvailable, StateCleaning},
	StateCleaning:  {StateCleaned, StateFailed},
	StateFailed:    {StateCleaning},
	StateCleaned:   {},
}

// StateMachine validates resource state transitions and records how long each
// resource spent in its previous state, for postmortem analysis of stuck
// resources. Safe for concurrent use.
type StateMachine struct {
	mu         sync.Mutex
	states     map[string]State
	lastChange map[string]time.Time
	metrics    *metrics.Metrics
}

// NewStateMachine returns a state machine publishing transition counts and
// per-state durations to m. A nil m disables instrumentation.
func NewStateMachine(m *metrics.Metrics) *StateMachine {
	return &StateMachine{
		states:     make(map[string]State),
		lastChange: make(map[string]time.Time),
		metrics:    m,
	}
}

// State returns the current state of the resource. Resources start in
// AVAILABLE.
func (sm *StateMachine) State(resource string) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.stateLocked(resource)
}

// CanTransition reports whether moving the resource to the target state is
// legal right now.
func (sm *StateMachine) CanTransition(resource string, to State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return transitionAllowed(sm.stateLocked(resource), to)
}

// Transition moves the resource to the target state. Illegal transitions fail
// with an InvalidTransitionError and leave the stored state unchanged.
func (sm *StateMachine) Transition(resource string, to State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.stateLocked(resource)
	if !transitionAllowed(from, to) {
		return &InvalidTransitionError{Resource: resource, From: from, To: to}
	}

	now := time.Now()
	var inPrevious time.Duration
	if last, ok := sm.lastChange[resource]; ok {
		inPrevious = now.Sub(last)
	}
	sm.states[resource] = to
	sm.lastChange[resource] = now

	sm.metrics.RecordTransition(resource, string(from), string(to), inPrevious)
	return nil
}

// Snapshot returns a copy of all tracked resource states.
func (sm *StateMachine) Snapshot() map[string]State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make(map[string]State, len(sm.states))
	for resource, state := range sm.states {
		out[resource] = state
	}
	return out
}

func (sm *StateMachine) stateLocked(resource string) State {
	if s, ok := sm.states[resource]; ok {
		return s
	}
	return StateAvailable
}

func transitionAllowed(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
