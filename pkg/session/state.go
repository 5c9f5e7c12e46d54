package session

import (
	"fmt"
	"sync"
	"time"
)

// State is the monitoring state of a session.
type State int

const (
	StateIdle State = iota
	StateListening
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "listening":
		*s = StateListening
	default:
		return fmt.Errorf("unknown session state %q", b)
	}
	return nil
}

// StateChange represents a state transition event.
type StateChange struct {
	SessionID string
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes session state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(event StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// stateMachine holds the two-state machine. Listeners are notified outside
// the lock.
type stateMachine struct {
	mu        sync.RWMutex
	current   State
	listeners []StateListener
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func transitionValid(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateListening
	case StateListening:
		return to == StateIdle
	}
	return false
}

// transition moves to state if guard (evaluated under the lock) allows it.
// It returns the change to publish.
func (m *stateMachine) transition(to State, sessionID, reason string, guard func() bool) (StateChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !transitionValid(m.current, to) {
		return StateChange{}, &InvalidTransitionError{From: m.current, To: to}
	}
	if guard != nil && !guard() {
		return StateChange{}, &InvalidTransitionError{From: m.current, To: to}
	}
	ev := StateChange{
		SessionID: sessionID,
		FromState: m.current,
		ToState:   to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.current = to
	return ev, nil
}

func (m *stateMachine) publish(ev StateChange) {
	m.mu.RLock()
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()
	for _, l := range listeners {
		l.OnStateChange(ev)
	}
}

func (m *stateMachine) addListener(l StateListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}
