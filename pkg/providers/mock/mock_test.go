package mock

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/harunnryd/scamguard/pkg/capture"
	"github.com/harunnryd/scamguard/pkg/oracle"
)

func riskOf(t *testing.T, raw string) float64 {
	t.Helper()
	var out struct {
		RiskLevel float64 `json:"risk_level"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("heuristic output not json: %v", err)
	}
	return out.RiskLevel
}

func TestHeuristicJudgesWholeConversation(t *testing.T) {
	h := NewHeuristic()
	raw, err := h.Complete(context.Background(), oracle.Request{Text: "Hello"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r := riskOf(t, raw); r >= 20 {
		t.Fatalf("expected low risk for greeting, got %v", r)
	}
	raw, _ = h.Complete(context.Background(), oracle.Request{
		History: []string{"I am from Amazon"},
		Text:    "okay, sounds good",
	})
	if r := riskOf(t, raw); r < 80 {
		t.Fatalf("expected history to keep risk high, got %v", r)
	}
}

func TestBackendRepeatsLastResponse(t *testing.T) {
	b := NewBackend("a", "b")
	for _, want := range []string{"a", "b", "b"} {
		got, _ := b.Complete(context.Background(), oracle.Request{})
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
	if b.Calls() != 3 || len(b.Requests()) != 3 {
		t.Fatalf("expected 3 recorded calls, got %d", b.Calls())
	}
}

func TestSourceScriptThenEOF(t *testing.T) {
	s := NewSource("one")
	s.Steps = append(s.Steps, Step{Err: capture.ErrNoSpeech})
	if text, err := s.Next(context.Background()); err != nil || text != "one" {
		t.Fatalf("unexpected first step %q %v", text, err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, capture.ErrNoSpeech) {
		t.Fatalf("expected no speech, got %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}
