package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/scamguard/pkg/analysis"
	"github.com/harunnryd/scamguard/pkg/capture"
	"github.com/harunnryd/scamguard/pkg/errorsx"
	"github.com/harunnryd/scamguard/pkg/history"
	"github.com/harunnryd/scamguard/pkg/logging"
	"github.com/harunnryd/scamguard/pkg/metrics"
	"github.com/harunnryd/scamguard/pkg/oracle"
	"github.com/harunnryd/scamguard/pkg/redact"
	"github.com/harunnryd/scamguard/pkg/threat"
	"github.com/harunnryd/scamguard/pkg/utterance"
)

// Mode selects who drains the utterance queue.
type Mode string

const (
	// ModeBackground runs a dedicated analysis worker (see Run).
	ModeBackground Mode = "background"
	// ModePoll drains the queue inline whenever Status is read.
	ModePoll Mode = "poll"
)

const DefaultJoinTimeout = time.Second

var ErrNoCaptureSource = errors.New("no capture source configured")

// Evaluator produces a verdict for an utterance in context. *oracle.Adapter
// satisfies it.
type Evaluator interface {
	Name() string
	EvaluateDetailed(ctx context.Context, u analysis.Utterance, history []analysis.LogRecord) oracle.Result
}

type Config struct {
	Mode         Mode
	ContextLimit int
	// JoinTimeout bounds how long Stop waits for the capture loop. A loop
	// that does not exit in time is abandoned.
	JoinTimeout  time.Duration
	PollInterval time.Duration
	// DiscardAfterStop drops verdicts that complete after the session that
	// produced their utterance was stopped, and drops that session's
	// pending utterances on Stop.
	DiscardAfterStop bool
	QueueCapacity    int
	ThreatPolicy     threat.Policy
	RedactPII        bool
	Logger           *slog.Logger
	Observer         metrics.Observer
}

// Status is the snapshot polled by the UI.
type Status struct {
	IsListening bool                `json:"is_listening"`
	State       State               `json:"state"`
	ThreatLevel float64             `json:"threat_level"`
	ThreatBand  analysis.ThreatBand `json:"threat_band"`
	Policy      threat.Policy       `json:"threat_policy"`
	SessionID   string              `json:"session_id,omitempty"`
	Records     int                 `json:"records"`
	Pending     int                 `json:"pending"`
	Dropped     int64               `json:"dropped"`
	Oracle      string              `json:"oracle"`
	Capture     string              `json:"capture,omitempty"`
}

// Controller owns one monitoring session: the capture loop lifecycle, the
// utterance queue, the history log and the threat level. It is the only
// writer of session state.
type Controller struct {
	cfg    Config
	oracle Evaluator
	source capture.Source
	queue  *utterance.Queue
	log    *history.Log
	threat *threat.Aggregator
	logger *slog.Logger
	obs    metrics.Observer

	fsm stateMachine
	gen atomic.Uint64

	// sourceMu fences a generation bump plus source start against an
	// abandoned capture loop releasing the source it still holds.
	sourceMu sync.Mutex

	// lifeMu serializes Start and Stop.
	lifeMu sync.Mutex

	mu        sync.Mutex
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	// consumeMu admits one consumer at a time so verdicts are appended and
	// folded in utterance order. It is never taken by Status or Transcript
	// readers except the poll-mode TryLock.
	consumeMu sync.Mutex
}

// New builds a controller. source may be nil for request-driven use, in
// which case Start fails and the session stays idle.
func New(eval Evaluator, source capture.Source, cfg Config) *Controller {
	if cfg.Mode == "" {
		cfg.Mode = ModeBackground
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = history.DefaultContextLimit
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = capture.DefaultPollInterval
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}
	c := &Controller{
		cfg:    cfg,
		oracle: eval,
		source: source,
		log:    history.New(),
		threat: threat.New(cfg.ThreatPolicy),
		logger: logging.NewComponentLogger(cfg.Logger, "session"),
		obs:    cfg.Observer,
	}
	c.queue = utterance.NewBounded(cfg.QueueCapacity, c.onDrop)
	return c
}

func (c *Controller) AddListener(l StateListener) {
	c.fsm.addListener(l)
}

func (c *Controller) State() State {
	return c.fsm.State()
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Start spawns the capture loop and moves to Listening. It is a no-op when
// already listening.
func (c *Controller) Start() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.fsm.State() == StateListening {
		return nil
	}
	if c.source == nil {
		return ErrNoCaptureSource
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.sourceMu.Lock()
	gen := c.gen.Add(1)
	if lc, ok := c.source.(capture.Lifecycle); ok {
		if err := lc.Start(ctx); err != nil {
			c.sourceMu.Unlock()
			cancel()
			c.logger.Error("capture_start_failed", "source", c.source.Name(), "error", err.Error())
			return errorsx.Wrap(fmt.Errorf("start capture %s: %w", c.source.Name(), err), errorsx.ReasonCaptureUnavailable)
		}
	}
	c.sourceMu.Unlock()

	id := uuid.NewString()
	done := make(chan struct{})
	c.mu.Lock()
	c.sessionID = id
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	ev, err := c.fsm.transition(StateListening, id, "start", nil)
	if err != nil {
		cancel()
		return err
	}
	go c.captureLoop(ctx, cancel, gen, id, done)

	c.logger.Info("session_started", "session_id", id, "source", c.source.Name())
	c.publish(ev)
	return nil
}

// Stop cancels the capture loop, waits up to JoinTimeout for it to exit and
// moves to Idle. It is a no-op when already idle. An oracle call already in
// flight is not cancelled.
func (c *Controller) Stop() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.fsm.State() != StateListening {
		return nil
	}
	c.mu.Lock()
	cancel, done, id := c.cancel, c.done, c.sessionID
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	reason := "stop"
	if done != nil {
		select {
		case <-done:
		case <-time.After(c.cfg.JoinTimeout):
			reason = "stop_join_timeout"
			c.logger.Warn("capture_loop_abandoned",
				"session_id", id,
				"join_timeout_ms", c.cfg.JoinTimeout.Milliseconds())
		}
	}
	if c.cfg.DiscardAfterStop {
		if dropped := c.queue.DrainAll(); len(dropped) > 0 {
			c.logger.Info("pending_utterances_discarded", "session_id", id, "count", len(dropped))
		}
	}

	ev, err := c.fsm.transition(StateIdle, id, reason, nil)
	if err != nil {
		// The capture loop ended on its own and already went idle.
		return nil
	}
	c.logger.Info("session_stopped", "session_id", id, "reason", reason)
	c.publish(ev)
	return nil
}

func (c *Controller) captureLoop(ctx context.Context, cancel context.CancelFunc, gen uint64, id string, done chan struct{}) {
	defer close(done)
	defer cancel()

	err := capture.Run(ctx, c.source, capture.SinkFunc(c.Submit), capture.Options{
		PollInterval: c.cfg.PollInterval,
		Logger:       c.logger,
		RedactPII:    c.cfg.RedactPII,
		OnUnavailable: func() {
			metrics.Emit(c.obs, metrics.EventCaptureUnavailable, 1, map[string]string{"session_id": id}, nil)
		},
	})
	stopped := ctx.Err() != nil
	c.releaseSource(gen, id)
	if stopped {
		return
	}

	reason := "capture_ended"
	if err != nil {
		reason = "capture_fatal"
		c.logger.Error("capture_loop_fatal",
			"session_id", id,
			"reason_code", string(errorsx.Reason(err)),
			"error", err.Error())
		c.consumeMu.Lock()
		c.log.Append(analysis.NewDiagnosticRecord("[Capture Error: "+err.Error()+"]", analysis.ReasonCaptureFailed))
		c.consumeMu.Unlock()
		metrics.Emit(c.obs, metrics.EventCaptureFatal, 1, map[string]string{"session_id": id}, map[string]any{"error": err.Error()})
	}

	ev, terr := c.fsm.transition(StateIdle, id, reason, func() bool { return c.gen.Load() == gen })
	if terr != nil {
		return
	}
	c.mu.Lock()
	if c.gen.Load() == gen {
		c.cancel, c.done = nil, nil
	}
	c.mu.Unlock()
	c.logger.Info("session_stopped", "session_id", id, "reason", reason)
	c.publish(ev)
}

// releaseSource closes a lifecycle source on behalf of the loop of
// generation gen. A loop that Stop abandoned may finish after a new Start
// has restarted the same source; by then the source belongs to the newer
// session and is left open.
func (c *Controller) releaseSource(gen uint64, id string) {
	lc, ok := c.source.(capture.Lifecycle)
	if !ok {
		return
	}
	c.sourceMu.Lock()
	defer c.sourceMu.Unlock()
	if c.gen.Load() != gen {
		c.logger.Info("capture_close_skipped", "session_id", id, "reason", "superseded")
		return
	}
	if err := lc.Close(); err != nil {
		c.logger.Warn("capture_close_failed", "session_id", id, "error", err.Error())
	}
}

func (c *Controller) publish(ev StateChange) {
	value := 0.0
	if ev.ToState == StateListening {
		value = 1
	}
	metrics.Emit(c.obs, metrics.EventSessionState, value, map[string]string{
		"session_id": ev.SessionID,
		"state":      ev.ToState.String(),
		"reason":     ev.Reason,
	}, nil)
	c.fsm.publish(ev)
}

// Submit enqueues externally produced text for analysis. The capture loop
// uses the same path.
func (c *Controller) Submit(text string) analysis.Utterance {
	u := c.queue.Enqueue(text)
	metrics.Emit(c.obs, metrics.EventUtteranceEnqueued, 1, c.tags(u), nil)
	return u
}

func (c *Controller) onDrop(u analysis.Utterance) {
	c.logger.Warn("utterance_dropped", "seq", u.Seq, "capacity", c.queue.Capacity())
	metrics.Emit(c.obs, metrics.EventUtteranceDropped, 1, c.tags(u), nil)
}

// ProcessPending drains the queue and analyzes every item in order. It
// returns the number of utterances processed.
func (c *Controller) ProcessPending(ctx context.Context) int {
	c.consumeMu.Lock()
	defer c.consumeMu.Unlock()
	return c.drainLocked(ctx)
}

func (c *Controller) drainLocked(ctx context.Context) int {
	items := c.queue.DrainAll()
	gen := c.gen.Load()
	for _, u := range items {
		c.process(ctx, u, nil, gen)
	}
	return len(items)
}

// Run is the background analysis worker. It blocks on the queue and
// processes utterances until ctx ends.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info("analysis_worker_started", "oracle", c.oracle.Name())
	for c.queue.Wait(ctx) {
		c.ProcessPending(ctx)
	}
	c.logger.Info("analysis_worker_stopped")
}

// Analyze runs one utterance through the oracle against the session history
// without going through the queue.
func (c *Controller) Analyze(ctx context.Context, text string) analysis.Verdict {
	c.consumeMu.Lock()
	defer c.consumeMu.Unlock()
	return c.process(ctx, c.queue.Stamp(text), nil, 0).Verdict
}

// AnalyzeWithHistory is Analyze with caller-supplied history, oldest first.
// The session history is not consulted but the result is still recorded.
func (c *Controller) AnalyzeWithHistory(ctx context.Context, text string, hist []string) analysis.Verdict {
	c.consumeMu.Lock()
	defer c.consumeMu.Unlock()
	return c.process(ctx, c.queue.Stamp(text), history.FromTexts(hist, c.cfg.ContextLimit), 0).Verdict
}

// process evaluates one utterance, records it and folds the verdict into the
// threat level. Callers hold consumeMu. Only the history log and aggregator
// locks are taken, and never across the oracle call. A nil supplied history
// reads the context window from the log. gen is the session generation the
// utterance belongs to, or 0 for request-path utterances.
func (c *Controller) process(ctx context.Context, u analysis.Utterance, supplied []analysis.LogRecord, gen uint64) analysis.LogRecord {
	if ctx == nil {
		ctx = context.Background()
	}
	tags := c.tags(u)

	if u.Text == analysis.RecognizerUnreachableMarker {
		rec := analysis.NewLogRecord(u, analysis.SafeVerdict(analysis.ReasonRecognizerUnreachable))
		rec.Diagnostic = true
		return c.log.Append(rec)
	}

	hist := supplied
	if hist == nil {
		hist = c.log.Context(c.cfg.ContextLimit)
	}
	res := c.oracle.EvaluateDetailed(ctx, u, hist)

	if res.Called || res.Outcome != oracle.OutcomeSkipped {
		callTags := c.tags(u)
		callTags["backend"] = c.oracle.Name()
		callTags["outcome"] = res.Outcome
		metrics.Emit(c.obs, metrics.EventOracleCall, float64(res.Duration.Milliseconds()), callTags, nil)
	}

	if c.cfg.DiscardAfterStop && gen != 0 && (c.gen.Load() != gen || c.fsm.State() != StateListening) {
		c.logger.Info("verdict_discarded_after_stop", "seq", u.Seq, "risk_level", res.Verdict.RiskLevel)
		return analysis.NewLogRecord(u, res.Verdict)
	}

	rec := c.log.Append(analysis.NewLogRecord(u, res.Verdict))
	level := c.threat.Update(res.Verdict)

	verdictTags := c.tags(u)
	verdictTags["severity"] = string(res.Verdict.Severity())
	metrics.Emit(c.obs, metrics.EventVerdict, res.Verdict.RiskLevel, verdictTags, map[string]any{
		"is_scam": res.Verdict.IsScam,
		"reason":  res.Verdict.Reason,
	})
	metrics.Emit(c.obs, metrics.EventThreatLevel, level, tags, nil)

	text := u.Text
	if c.cfg.RedactPII {
		text = redact.Text(text)
	}
	c.logger.Info("utterance_analyzed",
		"seq", u.Seq,
		"text", text,
		"risk_level", res.Verdict.RiskLevel,
		"is_scam", res.Verdict.IsScam,
		"reason", res.Verdict.Reason,
		"threat_level", level)
	return rec
}

func (c *Controller) tags(u analysis.Utterance) map[string]string {
	return map[string]string{
		"session_id": c.SessionID(),
		"seq":        strconv.FormatUint(u.Seq, 10),
	}
}

// Clear empties the transcript and resets the threat level. The session
// state and any running capture loop are left alone.
func (c *Controller) Clear() {
	c.log.Clear()
	c.threat.Reset()
	metrics.Emit(c.obs, metrics.EventThreatLevel, 0, map[string]string{"session_id": c.SessionID()}, nil)
	c.logger.Info("session_cleared")
}

// Status reports the current state and threat level. In poll mode it first
// drains pending utterances unless another consumer is already doing so.
func (c *Controller) Status() Status {
	if c.cfg.Mode == ModePoll && c.queue.Len() > 0 && c.consumeMu.TryLock() {
		c.drainLocked(context.Background())
		c.consumeMu.Unlock()
	}
	state := c.fsm.State()
	level := c.threat.Current()
	st := Status{
		IsListening: state == StateListening,
		State:       state,
		ThreatLevel: level,
		ThreatBand:  analysis.BandFor(level),
		Policy:      c.threat.Policy(),
		SessionID:   c.SessionID(),
		Records:     c.log.Len(),
		Pending:     c.queue.Len(),
		Dropped:     c.queue.Dropped(),
		Oracle:      c.oracle.Name(),
	}
	if c.source != nil {
		st.Capture = c.source.Name()
	}
	return st
}

// Transcript returns every record, newest first.
func (c *Controller) Transcript() []analysis.LogRecord {
	return c.log.RecentFirst()
}

// Ping checks the oracle when it supports health probes.
func (c *Controller) Ping(ctx context.Context) error {
	if p, ok := c.oracle.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
