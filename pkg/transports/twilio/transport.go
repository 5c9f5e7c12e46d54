// Package twilio receives inbound call audio from Twilio Media Streams.
// Twilio posts to the voice webhook, gets TwiML pointing at the media
// websocket, then streams 8kHz mu-law frames until the call ends.
package twilio

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/scamguard/pkg/frames"
	"github.com/harunnryd/scamguard/pkg/logging"
	"github.com/harunnryd/scamguard/pkg/metrics"
	"github.com/harunnryd/scamguard/pkg/transports"
)

type Config struct {
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	VoiceGreeting      string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	// ServerAddr is only used to build webhook URLs when PublicURL is empty.
	ServerAddr string `mapstructure:"server_addr"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws/media"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status-callback"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport delivers inbound call audio and call lifecycle events on Recv.
// Nothing is ever sent back into the call.
type Transport struct {
	cfg      Config
	upgrader websocket.Upgrader
	observer metrics.Observer
	logger   *slog.Logger
	calls    *registry

	recvMu sync.RWMutex
	recvCh chan frames.Frame
	closed bool

	draining atomic.Bool
}

func New(cfg Config, observer metrics.Observer, logger *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	t := &Transport{
		cfg:      cfg,
		observer: observer,
		logger:   logging.NewComponentLogger(logger, "twilio_transport"),
		calls:    newRegistry(),
		recvCh:   make(chan frames.Frame, 512),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	t.upgrader.CheckOrigin = func(r *http.Request) bool {
		return t.cfg.AllowAnyOrigin || transports.OriginAllowed(r.Header.Get("Origin"), t.cfg.AllowedOrigins)
	}
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.webhookURL(t.cfg.VoicePath),
		"status_callback_url": t.webhookURL(t.cfg.StatusCallbackPath),
	}
}

// Mount registers the voice webhook, the media websocket and the status
// callback on r.
func (t *Transport) Mount(r chi.Router) {
	r.Post(t.cfg.VoicePath, t.handleVoice)
	r.Get(t.cfg.WebsocketPath, t.ServeHTTP)
	r.Post(t.cfg.StatusCallbackPath, t.handleStatusCallback)
}

// Start ties the transport to ctx; cancelling it stops the transport.
func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

// Stop refuses new streams, drops the live ones and closes Recv.
func (t *Transport) Stop() error {
	if !t.draining.CompareAndSwap(false, true) {
		return nil
	}
	for _, conn := range t.calls.drain() {
		_ = conn.Close()
	}
	t.recvMu.Lock()
	t.closed = true
	close(t.recvCh)
	t.recvMu.Unlock()
	return nil
}

// ActiveCalls reports how many media streams are attached.
func (t *Transport) ActiveCalls() int {
	return t.calls.len()
}

// emit never blocks the websocket reader. Frames are dropped when the
// consumer is behind or the transport is stopped.
func (t *Transport) emit(f frames.Frame) {
	t.recvMu.RLock()
	defer t.recvMu.RUnlock()
	if t.closed {
		frames.ReleaseAudioFrame(f)
		return
	}
	select {
	case t.recvCh <- f:
	default:
		frames.ReleaseAudioFrame(f)
	}
}

var (
	_ transports.Transport     = (*Transport)(nil)
	_ transports.RouteMounter  = (*Transport)(nil)
	_ transports.ReadyReporter = (*Transport)(nil)
)
