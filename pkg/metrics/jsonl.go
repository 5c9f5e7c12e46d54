package metrics

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// JSONLObserver appends one JSON object per event to w. It is the events
// file format: {"time","event","value","tags","fields"}.
type JSONLObserver struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

type jsonlLine struct {
	Time   time.Time         `json:"time"`
	Event  string            `json:"event"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{enc: json.NewEncoder(w)}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return
	}
	o.err = o.enc.Encode(jsonlLine{
		Time:   ev.Time.UTC(),
		Event:  ev.Name,
		Value:  ev.Value,
		Tags:   ev.Tags,
		Fields: ev.Fields,
	})
}

// Err returns the first write error. Events after a failed write are dropped.
func (o *JSONLObserver) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}
