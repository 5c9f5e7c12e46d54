package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/scamguard/pkg/metrics"
)

// LatencyObserver logs how long each utterance spent waiting in the queue
// and inside the oracle call.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	enqueued time.Time
	oracleMs float64
	backend  string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	if ev.Tags == nil {
		return
	}
	key := ev.Tags["session_id"] + "/" + ev.Tags["seq"]
	if ev.Tags["seq"] == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.traces[key]
	if t == nil {
		t = &trace{}
		o.traces[key] = t
	}
	switch ev.Name {
	case metrics.EventUtteranceEnqueued:
		if t.enqueued.IsZero() {
			t.enqueued = ev.Time
		}
	case metrics.EventOracleCall:
		t.oracleMs = ev.Value
		t.backend = ev.Tags["backend"]
	case metrics.EventVerdict:
		o.log.Info("analysis_latency",
			"session_id", ev.Tags["session_id"],
			"seq", ev.Tags["seq"],
			"backend", t.backend,
			"total_ms", durationMs(t.enqueued, ev.Time),
			"oracle_ms", int64(t.oracleMs),
		)
		delete(o.traces, key)
	}
}

// Pending reports how many utterances are still awaiting a verdict.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
