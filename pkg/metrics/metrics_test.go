package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAsyncObserverDeliversBeforeClose(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 16)
	for i := 0; i < 5; i++ {
		Emit(async, EventVerdict, float64(i), nil, nil)
	}
	async.Close()
	if got := len(mem.Named(EventVerdict)); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}
	async.RecordEvent(MetricsEvent{Name: EventVerdict})
	if got := len(mem.Events()); got != 5 {
		t.Fatalf("expected events after close to be ignored, got %d", got)
	}
}

func TestSamplingObserverRate(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.25)
	for i := 0; i < 100; i++ {
		s.RecordEvent(MetricsEvent{Name: EventAudioIn, Time: time.Now()})
	}
	if got := len(mem.Events()); got != 25 {
		t.Fatalf("expected 25 sampled events, got %d", got)
	}
}

func TestSamplingObserverPassesUnnamedEvents(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0, EventAudioIn)
	s.RecordEvent(MetricsEvent{Name: EventAudioIn})
	s.RecordEvent(MetricsEvent{Name: EventCallStart})
	if got := len(mem.Events()); got != 1 || mem.Events()[0].Name != EventCallStart {
		t.Fatalf("expected only call_start to pass, got %+v", mem.Events())
	}
}

func TestJSONLObserverWritesEventName(t *testing.T) {
	var buf bytes.Buffer
	obs := NewJSONLObserver(&buf)
	obs.RecordEvent(MetricsEvent{
		Name:  EventThreatLevel,
		Time:  time.Now(),
		Value: 88,
		Tags:  map[string]string{"session_id": "s1"},
	})
	line := strings.TrimSpace(buf.String())
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["event"] != EventThreatLevel || payload["value"] != 88.0 {
		t.Fatalf("unexpected line %v", payload)
	}
	tags, _ := payload["tags"].(map[string]any)
	if tags["session_id"] != "s1" {
		t.Fatalf("expected session_id tag, got %v", payload["tags"])
	}
	if obs.Err() != nil {
		t.Fatalf("unexpected write error: %v", obs.Err())
	}
}

func TestEmitIgnoresNilObserver(t *testing.T) {
	Emit(nil, EventVerdict, 1, nil, nil)
}
