package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/scamguard/pkg/analysis"
	"github.com/harunnryd/scamguard/pkg/errorsx"
	"github.com/harunnryd/scamguard/pkg/resilience"
)

type stubBackend struct {
	mu    sync.Mutex
	reply string
	err   error
	block bool
	panic bool
	calls int
	last  Request
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Complete(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	s.calls++
	s.last = req
	s.mu.Unlock()
	if s.panic {
		panic("backend exploded")
	}
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, s.err
}

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func utt(text string) analysis.Utterance {
	return analysis.Utterance{Text: text, Seq: 1}
}

func assertSafe(t *testing.T, v analysis.Verdict, reason string) {
	t.Helper()
	if v.IsScam || v.ScamScore != 0 || v.SafetyScore != 100 || v.RiskLevel != 0 {
		t.Fatalf("expected neutral verdict, got %+v", v)
	}
	if v.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, v.Reason)
	}
}

func TestShortTextNeverCallsBackend(t *testing.T) {
	b := &stubBackend{reply: `{"risk_level": 90}`}
	a := NewAdapter(b, Config{})
	for _, text := range []string{"", " ", "a", " b "} {
		assertSafe(t, a.Evaluate(context.Background(), utt(text), nil), analysis.ReasonTextTooShort)
	}
	if b.callCount() != 0 {
		t.Fatalf("expected zero backend calls, got %d", b.callCount())
	}
}

func TestFailuresBecomeSafeVerdicts(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason string
	}{
		{"status", &StatusError{Backend: "stub", Code: 503}, analysis.OracleErrorReason(503)},
		{"unreachable", errors.New("connection refused"), analysis.ReasonOracleUnreachable},
		{"decode", errorsx.New(errorsx.ReasonOracleDecode, "bad body"), analysis.ReasonParseFailed},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), analysis.ReasonOracleTimeout},
	}
	for _, tc := range cases {
		a := NewAdapter(&stubBackend{err: tc.err}, Config{})
		res := a.EvaluateDetailed(context.Background(), utt("hello there"), nil)
		assertSafe(t, res.Verdict, tc.reason)
		if res.Err == nil {
			t.Fatalf("%s: expected underlying error to be reported", tc.name)
		}
	}
}

func TestTimeoutBoundsSlowBackend(t *testing.T) {
	b := &stubBackend{block: true}
	a := NewAdapter(b, Config{Timeout: 30 * time.Millisecond})
	start := time.Now()
	v := a.Evaluate(context.Background(), utt("hello there"), nil)
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied")
	}
	assertSafe(t, v, analysis.ReasonOracleTimeout)
}

func TestUnparseableReply(t *testing.T) {
	a := NewAdapter(&stubBackend{reply: "I think this is fine"}, Config{})
	assertSafe(t, a.Evaluate(context.Background(), utt("hello there"), nil), analysis.ReasonParseFailed)
}

func TestBackendPanicIsContained(t *testing.T) {
	a := NewAdapter(&stubBackend{panic: true}, Config{})
	assertSafe(t, a.Evaluate(context.Background(), utt("hello there"), nil), analysis.ReasonOracleUnreachable)
}

func TestNilBackend(t *testing.T) {
	a := NewAdapter(nil, Config{})
	assertSafe(t, a.Evaluate(context.Background(), utt("hello there"), nil), analysis.ReasonOracleUnreachable)
}

func TestHistoryWindowIsCappedAndChronological(t *testing.T) {
	b := &stubBackend{reply: `{"risk_level": 10}`}
	a := NewAdapter(b, Config{ContextLimit: 30})
	var history []analysis.LogRecord
	for i := 0; i < 40; i++ {
		history = append(history, analysis.LogRecord{Index: i, Utterance: analysis.Utterance{Text: fmt.Sprintf("p%d", i)}})
	}
	history[35].Diagnostic = true
	a.Evaluate(context.Background(), utt("newest phrase"), history)

	if len(b.last.History) != 29 {
		t.Fatalf("expected 30-record window minus one diagnostic, got %d", len(b.last.History))
	}
	if b.last.History[0] != "p10" || b.last.History[len(b.last.History)-1] != "p39" {
		t.Fatalf("unexpected window %v", b.last.History)
	}
	if !strings.Contains(b.last.Prompt, "- p10\n") || !strings.Contains(b.last.Prompt, "\"newest phrase\"") {
		t.Fatalf("prompt missing history or newest phrase:\n%s", b.last.Prompt)
	}
	if strings.Index(b.last.Prompt, "p10") > strings.Index(b.last.Prompt, "p39") {
		t.Fatalf("history not oldest first")
	}
}

func TestCircuitBreakerShortCircuits(t *testing.T) {
	b := &stubBackend{err: &StatusError{Backend: "stub", Code: 500}}
	breaker := resilience.NewCircuitBreaker(2, time.Minute, Trips)
	a := NewAdapter(b, Config{Breaker: breaker})
	a.Evaluate(context.Background(), utt("hello there"), nil)
	a.Evaluate(context.Background(), utt("hello there"), nil)
	res := a.EvaluateDetailed(context.Background(), utt("hello there"), nil)
	if b.callCount() != 2 {
		t.Fatalf("expected breaker to block third call, got %d calls", b.callCount())
	}
	if res.Outcome != string(errorsx.ReasonOracleCircuitOpen) || !strings.HasPrefix(res.Verdict.Reason, analysis.ReasonOracleUnreachable) {
		t.Fatalf("unexpected short-circuit result %+v", res)
	}
}

func TestParseFailuresDoNotTripBreaker(t *testing.T) {
	if Trips(errorsx.New(errorsx.ReasonOracleDecode, "x")) {
		t.Fatalf("decode errors must not trip the breaker")
	}
	if Trips(&StatusError{Code: 400}) {
		t.Fatalf("client errors must not trip the breaker")
	}
	if !Trips(&StatusError{Code: 502}) || !Trips(errors.New("dial tcp: refused")) {
		t.Fatalf("server and transport errors must trip the breaker")
	}
}

func TestSystemPromptListsKeywords(t *testing.T) {
	p := SystemPrompt()
	if strings.Contains(p, "%KEYWORDS%") || !strings.Contains(p, `"gift card"`) {
		t.Fatalf("keywords not substituted:\n%s", p)
	}
}
