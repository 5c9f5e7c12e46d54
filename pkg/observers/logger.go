package observers

import (
	"context"
	"log/slog"
	"sort"

	"github.com/harunnryd/scamguard/pkg/metrics"
	"github.com/harunnryd/scamguard/pkg/redact"
)

// LoggerObserver writes each event as one structured log line named after
// the event. Tags and fields are grouped and string fields are redacted.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log.With("component", "observer")}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	level := levelFor(ev.Name)
	ctx := context.Background()
	if !o.log.Enabled(ctx, level) {
		return
	}
	attrs := []slog.Attr{slog.Float64("value", ev.Value)}
	if len(ev.Tags) > 0 {
		attrs = append(attrs, slog.Group("tags", tagArgs(ev.Tags)...))
	}
	if len(ev.Fields) > 0 {
		attrs = append(attrs, slog.Group("fields", fieldArgs(ev.Fields)...))
	}
	o.log.LogAttrs(ctx, level, ev.Name, attrs...)
}

func levelFor(name string) slog.Level {
	switch name {
	case metrics.EventCaptureFatal:
		return slog.LevelError
	case metrics.EventCaptureUnavailable, metrics.EventUtteranceDropped:
		return slog.LevelWarn
	case metrics.EventSessionState:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func tagArgs(tags map[string]string) []any {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, slog.String(k, tags[k]))
	}
	return args
}

func fieldArgs(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		if s, ok := v.(string); ok {
			v = redact.Text(s)
		}
		args = append(args, slog.Any(k, v))
	}
	return args
}

// MultiObserver fans an event out to every non-nil observer.
type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	m := &MultiObserver{}
	for _, obs := range list {
		if obs != nil {
			m.list = append(m.list, obs)
		}
	}
	return m
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		obs.RecordEvent(ev)
	}
}
