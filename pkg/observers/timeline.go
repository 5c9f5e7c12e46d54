package observers

import (
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/scamguard/pkg/metrics"
	"github.com/harunnryd/scamguard/pkg/redact"
)

// TimelineObserver appends every session-tagged event to
// <dir>/<session>.jsonl. A session's file is closed when it goes idle and
// reopened in append mode if the same id is used again.
type TimelineObserver struct {
	dir string

	mu   sync.Mutex
	open map[string]*timelineFile
}

type timelineFile struct {
	f   *os.File
	enc *json.Encoder
}

type timelineEntry struct {
	Time      time.Time         `json:"time"`
	Event     string            `json:"event"`
	Value     float64           `json:"value"`
	SessionID string            `json:"session_id"`
	CallSID   string            `json:"call_sid,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir, open: make(map[string]*timelineFile)}
}

func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := sanitizeID(ev.Tags["session_id"])
	if id == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	entry := timelineEntry{
		Time:      ev.Time.UTC(),
		Event:     ev.Name,
		Value:     ev.Value,
		SessionID: ev.Tags["session_id"],
		CallSID:   ev.Tags["call_sid"],
		Tags:      maps.Clone(ev.Tags),
		Fields:    redactFields(ev.Fields),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	tf, err := o.fileLocked(id)
	if err != nil {
		return
	}
	_ = tf.enc.Encode(entry)
	if ev.Name == metrics.EventSessionState && ev.Tags["state"] == "idle" {
		_ = tf.f.Close()
		delete(o.open, id)
	}
}

// Close closes every open timeline file.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for id, tf := range o.open {
		errs = append(errs, tf.f.Close())
		delete(o.open, id)
	}
	return errors.Join(errs...)
}

func (o *TimelineObserver) fileLocked(id string) (*timelineFile, error) {
	if tf, ok := o.open[id]; ok {
		return tf, nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(o.dir, id+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	tf := &timelineFile{f: f, enc: json.NewEncoder(f)}
	o.open[id] = tf
	return tf, nil
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeID turns a session id into a safe file stem.
func sanitizeID(id string) string {
	return unsafeIDChars.ReplaceAllString(strings.TrimSpace(id), "_")
}

// redactFields masks PII in string fields before they reach disk.
func redactFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			v = redact.Text(s)
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
