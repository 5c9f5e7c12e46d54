package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/scamguard/pkg/metrics"
)

// SessionSummary is written once per monitoring session when it goes idle.
type SessionSummary struct {
	SessionID      string  `json:"session_id"`
	Utterances     int     `json:"utterances"`
	ScamVerdicts   int     `json:"scam_verdicts"`
	OracleFailures int     `json:"oracle_failures"`
	PeakThreat     float64 `json:"peak_threat"`
	FinalThreat    float64 `json:"final_threat"`
	Dropped        int     `json:"dropped_utterances"`
	StartedAtUTC   string  `json:"started_at_utc,omitempty"`
	RecordedAtUTC  string  `json:"recorded_at_utc"`
}

// SummaryObserver accumulates per-session counters and flushes them to
// <dir>/<session>.summary.json when the session returns to idle.
type SummaryObserver struct {
	dir   string
	mu    sync.Mutex
	stats map[string]*SessionSummary
}

func NewSummaryObserver(dir string) *SummaryObserver {
	return &SummaryObserver{dir: dir, stats: make(map[string]*SessionSummary)}
}

func (o *SummaryObserver) RecordEvent(ev metrics.MetricsEvent) {
	if ev.Tags == nil || strings.TrimSpace(o.dir) == "" {
		return
	}
	id := ev.Tags["session_id"]
	if id == "" {
		return
	}
	o.mu.Lock()
	s := o.stats[id]
	if s == nil {
		s = &SessionSummary{SessionID: id}
		o.stats[id] = s
	}
	var flush *SessionSummary
	switch ev.Name {
	case metrics.EventVerdict:
		s.Utterances++
		if b, _ := ev.Fields["is_scam"].(bool); b {
			s.ScamVerdicts++
		}
	case metrics.EventOracleCall:
		if ev.Tags["outcome"] != "ok" {
			s.OracleFailures++
		}
	case metrics.EventThreatLevel:
		s.FinalThreat = ev.Value
		if ev.Value > s.PeakThreat {
			s.PeakThreat = ev.Value
		}
	case metrics.EventUtteranceDropped:
		s.Dropped++
	case metrics.EventSessionState:
		switch ev.Tags["state"] {
		case "listening":
			s.StartedAtUTC = ev.Time.UTC().Format(time.RFC3339)
		case "idle":
			copied := *s
			flush = &copied
			delete(o.stats, id)
		}
	}
	o.mu.Unlock()
	if flush != nil {
		o.write(flush)
	}
}

func (o *SummaryObserver) write(s *SessionSummary) {
	s.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(o.dir, sanitizeID(s.SessionID)+".summary.json"), b, 0o644)
}

var _ metrics.Observer = (*SummaryObserver)(nil)
