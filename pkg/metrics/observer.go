package metrics

import "time"

// Event names emitted by the analysis session.
const (
	EventUtteranceEnqueued  = "utterance_enqueued"
	EventUtteranceDropped   = "utterance_dropped"
	EventOracleCall         = "oracle_call"
	EventVerdict            = "verdict"
	EventThreatLevel        = "threat_level"
	EventSessionState       = "session_state"
	EventCaptureFatal       = "capture_fatal"
	EventCaptureUnavailable = "capture_unavailable"
	EventAudioIn            = "audio_in"
	EventCallStart          = "call_start"
	EventCallEnd            = "call_end"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Emit records a named event stamped with the current time. A nil observer is ignored.
func Emit(obs Observer, name string, value float64, tags map[string]string, fields map[string]any) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   tags,
		Fields: fields,
	})
}
