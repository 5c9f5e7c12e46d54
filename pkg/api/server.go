package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/harunnryd/scamguard/pkg/analysis"
	"github.com/harunnryd/scamguard/pkg/errorsx"
	"github.com/harunnryd/scamguard/pkg/logging"
	"github.com/harunnryd/scamguard/pkg/session"
	"github.com/harunnryd/scamguard/pkg/transports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	AppName               = "scamguard"
	DefaultStatusInterval = 500 * time.Millisecond
	maxBodyBytes          = 64 << 10
)

// Controller is the session surface the HTTP API drives. *session.Controller
// satisfies it.
type Controller interface {
	Start() error
	Stop() error
	Clear()
	Status() session.Status
	Transcript() []analysis.LogRecord
	Analyze(ctx context.Context, text string) analysis.Verdict
	AnalyzeWithHistory(ctx context.Context, text string, history []string) analysis.Verdict
	Submit(text string) analysis.Utterance
	Ping(ctx context.Context) error
	AddListener(l session.StateListener)
}

type Config struct {
	// AllowedOrigins lists CORS origins. "*" allows any origin.
	AllowedOrigins []string
	// StatusInterval is the push period of /ws/status.
	StatusInterval time.Duration
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// Mounts are transports that expose their own routes (Twilio webhooks).
	Mounts []transports.RouteMounter
	Logger *slog.Logger
}

type Server struct {
	ctrl   Controller
	cfg    Config
	log    *slog.Logger
	notify *broadcaster
	router chi.Router
}

func NewServer(ctrl Controller, cfg Config) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		ctrl:   ctrl,
		cfg:    cfg,
		log:    logging.NewComponentLogger(cfg.Logger, "api"),
		notify: newBroadcaster(),
	}
	ctrl.AddListener(session.StateListenerFunc(func(session.StateChange) {
		s.notify.signal()
	}))
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))
	r.Use(CORS(s.cfg.AllowedOrigins))

	r.Get("/", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/transcript", s.handleTranscript)
	r.Post("/start", s.handleStart)
	r.Post("/stop", s.handleStop)
	r.Post("/clear", s.handleClear)
	r.Post("/analyze", s.handleAnalyze)
	r.Post("/utterances", s.handleSubmit)
	r.Get("/oracle/health", s.handleOracleHealth)
	r.Get("/ws/status", s.handleStatusStream)
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	for _, m := range s.cfg.Mounts {
		if m != nil {
			m.Mount(r)
		}
	}
	return r
}

type analyzeRequest struct {
	Text    string   `json:"text"`
	History []string `json:"history"`
}

type analyzeResponse struct {
	Text        string              `json:"text"`
	Verdict     analysis.Verdict    `json:"analysis"`
	Severity    analysis.Severity   `json:"severity"`
	ThreatLevel float64             `json:"threat_level"`
	ThreatBand  analysis.ThreatBand `json:"threat_band"`
}

// transcriptEntry is a LogRecord plus its display classification.
type transcriptEntry struct {
	analysis.LogRecord
	Severity analysis.Severity `json:"severity"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "app": AppName})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	records := s.ctrl.Transcript()
	out := make([]transcriptEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, transcriptEntry{LogRecord: rec, Severity: rec.Verdict.Severity()})
	}
	JSON(w, http.StatusOK, out)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrNoCaptureSource):
			status = http.StatusConflict
		case errorsx.HasReason(err, errorsx.ReasonCaptureUnavailable):
			status = http.StatusServiceUnavailable
		}
		s.log.Warn("start_failed", "error", err.Error())
		Error(w, status, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"message":      "Monitoring started",
		"is_listening": s.ctrl.Status().IsListening,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"message":      "Monitoring stopped",
		"is_listening": s.ctrl.Status().IsListening,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Clear()
	s.notify.signal()
	JSON(w, http.StatusOK, map[string]string{"message": "Transcript cleared"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	var v analysis.Verdict
	if req.History != nil {
		v = s.ctrl.AnalyzeWithHistory(r.Context(), text, req.History)
	} else {
		v = s.ctrl.Analyze(r.Context(), text)
	}
	s.notify.signal()
	st := s.ctrl.Status()
	JSON(w, http.StatusOK, analyzeResponse{
		Text:        text,
		Verdict:     v,
		Severity:    v.Severity(),
		ThreatLevel: st.ThreatLevel,
		ThreatBand:  st.ThreatBand,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	JSON(w, http.StatusAccepted, s.ctrl.Submit(text))
}

func (s *Server) handleOracleHealth(w http.ResponseWriter, r *http.Request) {
	oracleName := s.ctrl.Status().Oracle
	if err := s.ctrl.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unreachable",
			"oracle": oracleName,
			"error":  err.Error(),
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "oracle": oracleName})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chiMiddleware.GetReqID(r.Context()))
	})
}

// JSON writes v as a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
