package session

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestStateMachineTransitions(t *testing.T) {
	var sm stateMachine
	if _, err := sm.transition(StateIdle, "s1", "stop", nil); err == nil {
		t.Fatalf("expected idle to idle to be rejected")
	}
	ev, err := sm.transition(StateListening, "s1", "start", nil)
	if err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if ev.FromState != StateIdle || ev.ToState != StateListening || ev.SessionID != "s1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	_, err = sm.transition(StateIdle, "s1", "capture_ended", func() bool { return false })
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) || sm.State() != StateListening {
		t.Fatalf("expected guard to block transition, got %v", err)
	}
}

func TestStateJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(map[string]State{"state": StateListening})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"state":"listening"}` {
		t.Fatalf("unexpected encoding %s", raw)
	}
	var out map[string]State
	if err := json.Unmarshal(raw, &out); err != nil || out["state"] != StateListening {
		t.Fatalf("unexpected decode %v %v", out, err)
	}
	var s State
	if err := s.UnmarshalText([]byte("speaking")); err == nil {
		t.Fatalf("expected unknown state to be rejected")
	}
}
