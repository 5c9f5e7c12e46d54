package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/scamguard/pkg/capture"
	"github.com/harunnryd/scamguard/pkg/errorsx"
	"github.com/harunnryd/scamguard/pkg/frames"
	"github.com/harunnryd/scamguard/pkg/logging"
	"github.com/harunnryd/scamguard/pkg/resilience"
	"github.com/harunnryd/scamguard/pkg/transports"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
	ConnectRetries int    `mapstructure:"connect_retries"`
	// ReprobeMS is how long to wait between reconnect attempts while the
	// recognizer is unreachable. Each failed attempt surfaces one
	// unreachable marker.
	ReprobeMS int `mapstructure:"reprobe_ms"`
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "nova-2-phonecall"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 8000
	}
	if c.Encoding == "" {
		c.Encoding = "mulaw"
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 2
	}
	if c.ReprobeMS <= 0 {
		c.ReprobeMS = 5000
	}
	return c
}

// recognizer is the part of the Deepgram websocket client the source uses.
type recognizer interface {
	Connect() bool
	Stream(r io.Reader) error
	Stop()
}

type dialFunc func(ctx context.Context, cb msginterfaces.LiveMessageCallback) (recognizer, error)

// Source turns call audio from a transport into final transcripts using
// Deepgram live transcription.
type Source struct {
	cfg       Config
	transport transports.Transport
	dial      dialFunc
	retry     resilience.RetryPolicy
	logger    *slog.Logger

	texts chan string

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	conn      recognizer
	pipe      *io.PipeWriter
	nextProbe time.Time
	healthy   atomic.Bool
	closing   atomic.Bool
	streamID  atomic.Value
}

func New(cfg Config, transport transports.Transport, logger *slog.Logger) *Source {
	cfg = cfg.withDefaults()
	s := &Source{
		cfg:       cfg,
		transport: transport,
		retry:     resilience.NewRetryPolicy(cfg.ConnectRetries, 200*time.Millisecond),
		logger:    logging.NewComponentLogger(logger, "deepgram_capture"),
		texts:     make(chan string, 64),
	}
	s.dial = s.dialDeepgram
	s.streamID.Store("")
	return s
}

func (s *Source) Name() string { return "deepgram" }

func (s *Source) dialDeepgram(ctx context.Context, cb msginterfaces.LiveMessageCallback) (recognizer, error) {
	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		SmartFormat:    true,
		Punctuate:      true,
		InterimResults: s.cfg.UtteranceEndMS > 0,
	}
	if s.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", s.cfg.UtteranceEndMS)
	}
	dg, err := client.NewWSUsingCallback(ctx, s.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		return nil, err
	}
	return dg, nil
}

// Start connects to Deepgram and begins forwarding transport audio. A
// failed connection does not fail Start: the source reports the recognizer
// as unreachable from Next and keeps trying to reconnect.
func (s *Source) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()
	s.closing.Store(false)

	if err := s.retry.Do(runCtx, func() error { return s.connect(runCtx) }); err != nil {
		s.logger.Warn("deepgram_connect_failed",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.Reason(err))))
		s.markDown()
	}
	if s.transport != nil {
		go s.pump(runCtx)
	}
	return nil
}

func (s *Source) connect(ctx context.Context) error {
	cb := &callback{parent: s}
	conn, err := s.dial(ctx, cb)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("deepgram client: %w", err), errorsx.ReasonSTTConnect)
	}
	cb.conn = conn
	if !conn.Connect() {
		return errorsx.New(errorsx.ReasonSTTConnect, "deepgram connection failed")
	}
	pr, pw := io.Pipe()
	s.mu.Lock()
	old, oldPipe := s.conn, s.pipe
	s.conn, s.pipe = conn, pw
	s.mu.Unlock()
	if oldPipe != nil {
		_ = oldPipe.Close()
	}
	if old != nil {
		old.Stop()
	}
	s.healthy.Store(true)

	go func() {
		defer pr.Close()
		if err := conn.Stream(pr); err != nil && ctx.Err() == nil && s.current(conn) {
			s.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
			s.markDown()
		}
	}()
	s.logger.Info("deepgram_connected",
		slog.String("model", s.cfg.Model),
		slog.Int("sample_rate", s.cfg.SampleRate))
	return nil
}

func (s *Source) current(conn recognizer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

func (s *Source) markDown() {
	if s.closing.Load() {
		return
	}
	if s.healthy.Swap(false) {
		s.logger.Warn("deepgram_unreachable")
	}
	s.mu.Lock()
	if s.nextProbe.IsZero() || s.nextProbe.Before(time.Now()) {
		s.nextProbe = time.Now()
	}
	s.mu.Unlock()
}

// pump forwards inbound call audio into the open Deepgram stream.
func (s *Source) pump(ctx context.Context) {
	recv := s.transport.Recv()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-recv:
			if !ok {
				return
			}
			s.handleFrame(f)
		}
	}
}

func (s *Source) handleFrame(f frames.Frame) {
	switch fr := f.(type) {
	case frames.AudioFrame:
		defer frames.ReleaseAudioFrame(fr)
		if !s.healthy.Load() {
			return
		}
		s.mu.Lock()
		pipe := s.pipe
		s.mu.Unlock()
		if pipe == nil {
			return
		}
		if _, err := pipe.Write(fr.RawPayload()); err != nil {
			s.logger.Warn("deepgram_send_failed",
				slog.String("error", err.Error()),
				slog.String("reason_code", string(errorsx.ReasonSTTSend)))
			s.markDown()
		}
	case frames.SystemFrame:
		meta := fr.Meta()
		switch fr.Name() {
		case frames.SystemCallStart:
			s.streamID.Store(meta[frames.MetaStreamID])
		case frames.SystemCallEnd:
			s.streamID.Store("")
		}
		s.logger.Info("call_event",
			slog.String("event", fr.Name()),
			slog.String("stream_id", meta[frames.MetaStreamID]),
			slog.String("call_sid", meta[frames.MetaCallSID]))
	}
}

// Next returns the next final transcript. While Deepgram is unreachable it
// retries the connection every ReprobeMS and reports
// capture.ErrRecognizerUnavailable for each failed attempt.
func (s *Source) Next(ctx context.Context) (string, error) {
	if !s.healthy.Load() {
		if err := s.reprobe(); err != nil {
			return "", err
		}
	}
	select {
	case text := <-s.texts:
		return text, nil
	case <-ctx.Done():
		return "", capture.ErrNoSpeech
	}
}

func (s *Source) reprobe() error {
	s.mu.Lock()
	runCtx := s.ctx
	due := !time.Now().Before(s.nextProbe)
	if due {
		s.nextProbe = time.Now().Add(time.Duration(s.cfg.ReprobeMS) * time.Millisecond)
	}
	s.mu.Unlock()
	if !due || runCtx == nil {
		return nil
	}
	if err := s.connect(runCtx); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrRecognizerUnavailable, err)
	}
	return nil
}

// Close stops forwarding audio and disconnects from Deepgram.
func (s *Source) Close() error {
	s.closing.Store(true)
	s.mu.Lock()
	cancel, conn, pipe := s.cancel, s.conn, s.pipe
	s.cancel, s.conn, s.pipe = nil, nil, nil
	s.nextProbe = time.Time{}
	s.mu.Unlock()
	s.healthy.Store(false)

	if cancel != nil {
		cancel()
	}
	if pipe != nil {
		_ = pipe.Close()
	}
	if conn != nil {
		conn.Stop()
	}
	s.logger.Info("deepgram_closed")
	return nil
}

func (s *Source) deliver(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	select {
	case s.texts <- text:
	default:
		s.logger.Warn("deepgram_transcript_dropped", slog.String("reason", "channel_full"))
	}
}

type callback struct {
	parent *Source
	conn   recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if !mr.IsFinal || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	c.parent.deliver(mr.Channel.Alternatives[0].Transcript)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Debug("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	if c.parent.current(c.conn) {
		c.parent.markDown()
	}
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	if c.parent.current(c.conn) {
		c.parent.markDown()
	}
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.Int("size_bytes", len(byData)))
	return nil
}

var (
	_ capture.Source                    = (*Source)(nil)
	_ capture.Lifecycle                 = (*Source)(nil)
	_ msginterfaces.LiveMessageCallback = (*callback)(nil)
)
