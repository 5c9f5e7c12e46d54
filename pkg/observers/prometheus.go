package observers

import (
	"github.com/harunnryd/scamguard/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver turns session events into Prometheus series.
type PrometheusObserver struct {
	utterances   prometheus.Counter
	dropped      prometheus.Counter
	oracleCalls  *prometheus.CounterVec
	oracleTime   *prometheus.HistogramVec
	verdicts     *prometheus.CounterVec
	threat       prometheus.Gauge
	listening    prometheus.Gauge
	captureFatal prometheus.Counter
	captureDown  prometheus.Counter
	audioFrames  prometheus.Counter
	calls        prometheus.Counter
}

// NewPrometheusObserver registers its collectors on reg. A nil reg uses the
// default registerer.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusObserver{
		utterances: f.NewCounter(prometheus.CounterOpts{
			Name: "scamguard_utterances_enqueued_total",
			Help: "Utterances handed to the analysis queue",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "scamguard_utterances_dropped_total",
			Help: "Utterances evicted from a bounded queue",
		}),
		oracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scamguard_oracle_calls_total",
			Help: "Oracle calls by backend and outcome",
		}, []string{"backend", "outcome"}),
		oracleTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scamguard_oracle_duration_seconds",
			Help:    "Oracle call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"backend"}),
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scamguard_verdicts_total",
			Help: "Verdicts by display severity",
		}, []string{"severity"}),
		threat: f.NewGauge(prometheus.GaugeOpts{
			Name: "scamguard_threat_level",
			Help: "Current session threat level (0-100)",
		}),
		listening: f.NewGauge(prometheus.GaugeOpts{
			Name: "scamguard_listening",
			Help: "1 while a capture loop is active",
		}),
		captureFatal: f.NewCounter(prometheus.CounterOpts{
			Name: "scamguard_capture_fatal_total",
			Help: "Capture loops that terminated with an unexpected error",
		}),
		captureDown: f.NewCounter(prometheus.CounterOpts{
			Name: "scamguard_capture_unavailable_total",
			Help: "Intervals where the speech recognizer was unreachable",
		}),
		audioFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "scamguard_audio_frames_total",
			Help: "Inbound call audio frames",
		}),
		calls: f.NewCounter(prometheus.CounterOpts{
			Name: "scamguard_calls_total",
			Help: "Inbound media streams started",
		}),
	}
}

func (p *PrometheusObserver) RecordEvent(ev metrics.MetricsEvent) {
	switch ev.Name {
	case metrics.EventUtteranceEnqueued:
		p.utterances.Inc()
	case metrics.EventUtteranceDropped:
		p.dropped.Inc()
	case metrics.EventOracleCall:
		backend := tag(ev, "backend")
		p.oracleCalls.WithLabelValues(backend, tag(ev, "outcome")).Inc()
		p.oracleTime.WithLabelValues(backend).Observe(ev.Value / 1000)
	case metrics.EventVerdict:
		p.verdicts.WithLabelValues(tag(ev, "severity")).Inc()
	case metrics.EventThreatLevel:
		p.threat.Set(ev.Value)
	case metrics.EventSessionState:
		p.listening.Set(ev.Value)
	case metrics.EventCaptureFatal:
		p.captureFatal.Inc()
	case metrics.EventCaptureUnavailable:
		p.captureDown.Inc()
	case metrics.EventAudioIn:
		p.audioFrames.Inc()
	case metrics.EventCallStart:
		p.calls.Inc()
	}
}

func tag(ev metrics.MetricsEvent, key string) string {
	if ev.Tags == nil || ev.Tags[key] == "" {
		return "unknown"
	}
	return ev.Tags[key]
}

var _ metrics.Observer = (*PrometheusObserver)(nil)
