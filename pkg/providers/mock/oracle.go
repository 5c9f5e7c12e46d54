package mock

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/scamguard/pkg/oracle"
)

// Backend is a scripted oracle backend. Each call returns the next entry of
// Responses; the last entry repeats once the script is exhausted.
type Backend struct {
	Responses []string
	// Err, when set, is returned instead of a response.
	Err error
	// Delay is waited before answering. The call fails with ctx.Err() if
	// the context ends first.
	Delay time.Duration

	mu       sync.Mutex
	calls    int
	requests []oracle.Request
}

func NewBackend(responses ...string) *Backend {
	return &Backend{Responses: responses}
}

func (b *Backend) Name() string { return "mock" }

func (b *Backend) Complete(ctx context.Context, req oracle.Request) (string, error) {
	b.mu.Lock()
	idx := b.calls
	b.calls++
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if b.Err != nil {
		return "", b.Err
	}
	if len(b.Responses) == 0 {
		return `{"is_scam": false, "scam_score": 0, "safety_score": 100, "risk_level": 0, "reason": "mock"}`, nil
	}
	if idx >= len(b.Responses) {
		idx = len(b.Responses) - 1
	}
	return b.Responses[idx], nil
}

func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Requests returns every request received, in call order.
func (b *Backend) Requests() []oracle.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]oracle.Request(nil), b.requests...)
}

// Heuristic is a keyword-scoring oracle that follows the same contract as the
// model prompt: it judges the whole conversation, so a call that opened with
// scam signals stays high risk.
type Heuristic struct{}

var (
	strongSignals = []string{
		"gift card", "verify your account", "verify password", "social security",
		"ssn", "wire transfer", "remote access", "one-time code",
		// brand impersonation
		"amazon", "microsoft", "irs",
	}
	weakSignals = []string{
		"urgent", "refund", "bank", "suspended", "immediately",
	}
)

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) Name() string { return "heuristic" }

func (h *Heuristic) Complete(ctx context.Context, req oracle.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	conversation := strings.ToLower(strings.Join(append(append([]string(nil), req.History...), req.Text), "\n"))

	score := 5.0
	var hits []string
	for _, kw := range strongSignals {
		if strings.Contains(conversation, kw) {
			score += 80
			hits = append(hits, kw)
		}
	}
	for _, kw := range weakSignals {
		if strings.Contains(conversation, kw) {
			score += 30
			hits = append(hits, kw)
		}
	}
	if score > 100 {
		score = 100
	}
	reason := "no scam indicators"
	if len(hits) > 0 {
		reason = "scam indicators: " + strings.Join(hits, ", ")
	}
	out, err := json.Marshal(map[string]any{
		"is_scam":      score >= 80,
		"scam_score":   score,
		"safety_score": 100 - score,
		"risk_level":   score,
		"reason":       reason,
	})
	return string(out), err
}

// Ping always succeeds.
func (h *Heuristic) Ping(ctx context.Context) error { return nil }

var (
	_ oracle.Backend = (*Backend)(nil)
	_ oracle.Backend = (*Heuristic)(nil)
	_ oracle.Pinger  = (*Heuristic)(nil)
)
