package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/scamguard/pkg/analysis"
	"github.com/harunnryd/scamguard/pkg/errorsx"
	"github.com/harunnryd/scamguard/pkg/logging"
	"github.com/harunnryd/scamguard/pkg/redact"
	"github.com/harunnryd/scamguard/pkg/resilience"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultMinTextLength = 2
	DefaultContextLimit  = 30
)

// Outcome values for Result.Outcome besides the error reason codes.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
)

type Config struct {
	Timeout       time.Duration
	MinTextLength int
	ContextLimit  int
	// Breaker, when set, short-circuits calls after repeated transport failures.
	Breaker *resilience.CircuitBreaker
	Logger  *slog.Logger
}

// Result is a verdict plus how it was obtained.
type Result struct {
	Verdict  analysis.Verdict
	Outcome  string
	Called   bool
	Duration time.Duration
	Err      error
}

// Adapter applies the evaluation policy around a Backend. It never returns
// an error: every failure becomes a safe verdict with a descriptive reason.
// Calls are single attempts.
type Adapter struct {
	backend Backend
	cfg     Config
	log     *slog.Logger
}

func NewAdapter(backend Backend, cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultMinTextLength
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = DefaultContextLimit
	}
	return &Adapter{
		backend: backend,
		cfg:     cfg,
		log:     logging.NewComponentLogger(cfg.Logger, "oracle"),
	}
}

func (a *Adapter) Name() string {
	if a.backend == nil {
		return "none"
	}
	return a.backend.Name()
}

// Evaluate returns the verdict for u given the chronological history.
func (a *Adapter) Evaluate(ctx context.Context, u analysis.Utterance, history []analysis.LogRecord) analysis.Verdict {
	return a.EvaluateDetailed(ctx, u, history).Verdict
}

// EvaluateDetailed is Evaluate with call metadata for instrumentation.
func (a *Adapter) EvaluateDetailed(ctx context.Context, u analysis.Utterance, history []analysis.LogRecord) (res Result) {
	text := strings.TrimSpace(u.Text)
	if utf8.RuneCountInString(text) < a.cfg.MinTextLength {
		return Result{Verdict: analysis.SafeVerdict(analysis.ReasonTextTooShort), Outcome: OutcomeSkipped}
	}
	if a.backend == nil {
		return a.failed(errorsx.New(errorsx.ReasonOracleUnreachable, "no oracle backend configured"), 0)
	}
	if a.cfg.Breaker != nil && !a.cfg.Breaker.Allow() {
		res = Result{
			Verdict: analysis.SafeVerdict(analysis.ReasonOracleUnreachable + " (circuit open)"),
			Outcome: string(errorsx.ReasonOracleCircuitOpen),
		}
		a.log.Warn("oracle_circuit_open", "backend", a.backend.Name(), "seq", u.Seq)
		return res
	}
	if len(history) > a.cfg.ContextLimit {
		history = history[len(history)-a.cfg.ContextLimit:]
	}
	req := BuildRequest(history, text)

	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = a.failed(errorsx.Wrap(fmt.Errorf("oracle backend panic: %v", r), errorsx.ReasonOracleUnreachable), time.Since(start))
		}
	}()
	raw, err := a.backend.Complete(callCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		if a.cfg.Breaker != nil {
			a.cfg.Breaker.OnError(err)
		}
		res = a.failed(err, elapsed)
		res.Called = true
		return res
	}
	if a.cfg.Breaker != nil {
		a.cfg.Breaker.OnSuccess()
	}

	v, err := ParseVerdict(raw)
	if err != nil {
		a.log.Warn("oracle_response_unparseable",
			"backend", a.backend.Name(),
			"seq", u.Seq,
			"error", err.Error(),
			"raw", redact.Text(truncate(raw, 256)))
		return Result{
			Verdict:  analysis.SafeVerdict(analysis.ReasonParseFailed),
			Outcome:  string(errorsx.ReasonOracleDecode),
			Called:   true,
			Duration: elapsed,
			Err:      err,
		}
	}
	a.log.Debug("oracle_verdict",
		"backend", a.backend.Name(),
		"seq", u.Seq,
		"history_len", len(req.History),
		"risk_level", v.RiskLevel,
		"is_scam", v.IsScam,
		"duration_ms", elapsed.Milliseconds())
	return Result{Verdict: v, Outcome: OutcomeOK, Called: true, Duration: elapsed}
}

// Ping checks backend reachability when the backend supports it.
func (a *Adapter) Ping(ctx context.Context) error {
	if a.backend == nil {
		return errors.New("no oracle backend configured")
	}
	p, ok := a.backend.(Pinger)
	if !ok {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return p.Ping(callCtx)
}

func (a *Adapter) failed(err error, elapsed time.Duration) Result {
	code := Classify(err)
	var reason string
	switch code {
	case errorsx.ReasonOracleStatus:
		var se *StatusError
		errors.As(err, &se)
		reason = analysis.OracleErrorReason(se.Code)
	case errorsx.ReasonOracleTimeout:
		reason = analysis.ReasonOracleTimeout
	case errorsx.ReasonOracleDecode:
		reason = analysis.ReasonParseFailed
	default:
		reason = analysis.ReasonOracleUnreachable
	}
	a.log.Warn("oracle_call_failed",
		"backend", a.Name(),
		"reason_code", string(code),
		"error", err.Error(),
		"duration_ms", elapsed.Milliseconds())
	return Result{
		Verdict:  analysis.SafeVerdict(reason),
		Outcome:  string(code),
		Duration: elapsed,
		Err:      err,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
