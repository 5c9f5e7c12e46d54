package scamguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/scamguard/pkg/api"
	"github.com/harunnryd/scamguard/pkg/capture"
	"github.com/harunnryd/scamguard/pkg/logging"
	"github.com/harunnryd/scamguard/pkg/metrics"
	"github.com/harunnryd/scamguard/pkg/observers"
	"github.com/harunnryd/scamguard/pkg/oracle"
	"github.com/harunnryd/scamguard/pkg/redact"
	"github.com/harunnryd/scamguard/pkg/resilience"
	"github.com/harunnryd/scamguard/pkg/runner"
	"github.com/harunnryd/scamguard/pkg/session"
	"github.com/harunnryd/scamguard/pkg/transports"
	"github.com/prometheus/client_golang/prometheus"
)

// Engine wires the configured providers into one monitoring session behind
// the HTTP control surface.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	providers *ProviderRegistry
	transport transports.Transport
	source    capture.Source
	session   *session.Controller
	api       *api.Server
	server    *http.Server
	runner    *runner.LifecycleRunner
	asyncObs  *metrics.AsyncObserver
	closers   []io.Closer

	mu           sync.Mutex
	listener     net.Listener
	workerCancel context.CancelFunc
	workerDone   chan struct{}
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Logger    *slog.Logger
	// Stdin feeds the lines capture provider when no path is configured.
	Stdin io.Reader
	// Registry receives the Prometheus collectors. Nil creates a private
	// registry so several engines can coexist in one process.
	Registry *prometheus.Registry
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	logger := logging.NewComponentLogger(base, "engine")
	redact.SetEnabled(cfg.Privacy.RedactPII)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}

	logger.Info("scamguard_init",
		"environment", cfg.Environment,
		"oracle_provider", cfg.Oracle.Provider,
		"capture_provider", cfg.Capture.Provider,
		"transport", cfg.Transports.Provider,
		"session_mode", cfg.Session.Mode,
		"threat_policy", cfg.Session.ThreatPolicy)

	e := &Engine{cfg: cfg, logger: logger, providers: providers}

	obsList := []metrics.Observer{
		observers.NewLoggerObserver(base),
		observers.NewLatencyObserver(base),
	}
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		retention := observers.Retention{
			MaxAge:      time.Duration(cfg.Observability.RetentionDays) * 24 * time.Hour,
			MaxSessions: cfg.Observability.RetentionSessions,
		}
		if removed, err := retention.Purge(dir); err != nil {
			logger.Warn("artifact_purge_failed", "dir", dir, "error", err.Error())
		} else if removed > 0 {
			logger.Info("artifacts_purged", "dir", dir, "removed", removed)
		}
		timeline := observers.NewTimelineObserver(dir)
		e.closers = append(e.closers, timeline)
		obsList = append(obsList, timeline, observers.NewSummaryObserver(dir))
	}
	if path := strings.TrimSpace(cfg.Observability.EventsPath); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("observability.events_path: %w", err)
		}
		e.closers = append(e.closers, f)
		obsList = append(obsList, metrics.NewJSONLObserver(f))
	}
	var gatherer prometheus.Gatherer
	if cfg.Observability.Prometheus {
		reg := opts.Registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		obsList = append(obsList, observers.NewPrometheusObserver(reg))
		gatherer = reg
	}
	e.asyncObs = metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), cfg.Observability.AsyncBuffer)

	backend, err := providers.BuildOracle(cfg.Oracle.Provider, cfg)
	if err != nil {
		e.closeObservers()
		return nil, err
	}
	var breaker *resilience.CircuitBreaker
	if cfg.Oracle.Circuit.Threshold > 0 {
		breaker = resilience.NewCircuitBreaker(cfg.Oracle.Circuit.Threshold, ms(cfg.Oracle.Circuit.CooldownMS), oracle.Trips)
	}
	adapter := oracle.NewAdapter(backend, oracle.Config{
		Timeout:       ms(cfg.Oracle.TimeoutMS),
		MinTextLength: cfg.Oracle.MinTextLen,
		ContextLimit:  cfg.Session.ContextLimit,
		Breaker:       breaker,
		Logger:        base,
	})

	if provider := strings.TrimSpace(cfg.Transports.Provider); provider != "" {
		audioObs := metrics.NewSamplingObserver(e.asyncObs, cfg.Observability.AudioSampleRate, metrics.EventAudioIn)
		e.transport, err = providers.BuildTransport(provider, cfg, audioObs, base)
		if err != nil {
			e.closeObservers()
			return nil, err
		}
	}

	if provider := strings.TrimSpace(cfg.Capture.Provider); provider != "" && !strings.EqualFold(provider, "none") {
		e.source, err = providers.BuildCapture(provider, cfg, CaptureEnv{
			Transport: e.transport,
			Stdin:     opts.Stdin,
			Logger:    base,
		})
		if err != nil {
			e.closeObservers()
			return nil, err
		}
	}

	sessCfg := cfg.SessionOptions()
	sessCfg.Logger = base
	sessCfg.Observer = e.asyncObs
	e.session = session.New(adapter, e.source, sessCfg)

	var mounts []transports.RouteMounter
	if m, ok := e.transport.(transports.RouteMounter); ok {
		mounts = append(mounts, m)
	}
	e.api = api.NewServer(e.session, api.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StatusInterval: ms(cfg.Server.StatusIntervalMS),
		Gatherer:       gatherer,
		Mounts:         mounts,
		Logger:         base,
	})
	e.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           e.api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"addr", e.Addr(), "oracle", adapter.Name()}
			if e.source != nil {
				fields = append(fields, "capture", e.source.Name())
			}
			if rr, ok := e.transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			logger.Info("engine_ready", fields...)
		},
		OnStop: func() {
			e.closeObservers()
			logger.Info("shutdown", "goroutines", runtime.NumGoroutine())
		},
	}
	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(e.drain), hooks, ms(cfg.Server.ShutdownMS)+5*time.Second)
	return e, nil
}

// Start brings up the transport, the analysis worker and the HTTP server.
// It returns once the listener is bound.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", e.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", e.cfg.Server.Addr, err)
	}
	if e.transport != nil {
		if err := e.transport.Start(ctx); err != nil {
			_ = ln.Close()
			return fmt.Errorf("start transport %s: %w", e.transport.Name(), err)
		}
	}

	e.mu.Lock()
	e.listener = ln
	if e.cfg.SessionOptions().Mode == session.ModeBackground {
		workerCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		e.workerCancel, e.workerDone = cancel, done
		go func() {
			defer close(done)
			e.session.Run(workerCtx)
		}()
	}
	e.mu.Unlock()

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("http_server_failed", "error", err.Error())
		}
	}()
	go func() {
		_ = e.runner.Run(ctx)
	}()

	if e.cfg.Session.AutoStart {
		if err := e.session.Start(); err != nil {
			e.logger.Warn("auto_start_failed", "error", err.Error())
		}
	}
	return nil
}

// Stop drains the engine. It is safe to call more than once.
func (e *Engine) Stop() error {
	return e.runner.Stop()
}

func (e *Engine) drain() error {
	var errs []error
	if err := e.session.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop session: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), ms(e.cfg.Server.ShutdownMS))
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}

	e.mu.Lock()
	workerCancel, workerDone := e.workerCancel, e.workerDone
	e.mu.Unlock()
	if workerCancel != nil {
		workerCancel()
		select {
		case <-workerDone:
		case <-ctx.Done():
			e.logger.Warn("analysis_worker_abandoned")
		}
	}

	if e.transport != nil {
		if err := e.transport.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop transport: %w", err))
		}
	}
	if c, ok := e.source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close capture: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) closeObservers() {
	if e.asyncObs != nil {
		e.asyncObs.Close()
	}
	for _, c := range e.closers {
		_ = c.Close()
	}
	e.closers = nil
}

func (e *Engine) Session() *session.Controller { return e.session }

func (e *Engine) Handler() http.Handler { return e.api }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Config() Config { return e.cfg }

// Addr reports the bound listen address, or the configured one before Start.
func (e *Engine) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		return e.listener.Addr().String()
	}
	return e.cfg.Server.Addr
}
