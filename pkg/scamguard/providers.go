package scamguard

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/harunnryd/scamguard/pkg/capture"
	"github.com/harunnryd/scamguard/pkg/configutil"
	"github.com/harunnryd/scamguard/pkg/metrics"
	"github.com/harunnryd/scamguard/pkg/oracle"
	"github.com/harunnryd/scamguard/pkg/providers/deepgram"
	"github.com/harunnryd/scamguard/pkg/providers/mock"
	"github.com/harunnryd/scamguard/pkg/providers/ollama"
	"github.com/harunnryd/scamguard/pkg/providers/openai"
	"github.com/harunnryd/scamguard/pkg/transports"
	mocktransport "github.com/harunnryd/scamguard/pkg/transports/mock"
	twiliotransport "github.com/harunnryd/scamguard/pkg/transports/twilio"
)

type mockOracleSettings struct {
	Responses []string `mapstructure:"responses"`
	DelayMS   int      `mapstructure:"delay_ms"`
}

type mockCaptureSettings struct {
	Texts   []string `mapstructure:"texts"`
	DelayMS int      `mapstructure:"delay_ms"`
	Hold    *bool    `mapstructure:"hold"`
}

type linesSettings struct {
	Path string `mapstructure:"path"`
}

var (
	ollamaSchema      = configutil.Schema{Optional: []string{"base_url", "model", "pool_size", "keep_alive", "options"}}
	openaiSchema      = configutil.Schema{Required: []string{"api_key"}, Optional: []string{"model", "base_url", "pool_size", "temperature", "name"}}
	mockOracleSchema  = configutil.Schema{Optional: []string{"responses", "delay_ms"}}
	mockCaptureSchema = configutil.Schema{Optional: []string{"texts", "delay_ms", "hold"}}
	linesSchema       = configutil.Schema{Optional: []string{"path"}}
	deepgramSchema    = configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "sample_rate", "encoding", "utterance_end_ms", "connect_retries", "reprobe_ms"},
	}
	twilioSchema = configutil.Schema{
		Optional: []string{"public_url", "auth_token", "voice_path", "ws_path", "status_callback_path", "voice_greeting", "allow_any_origin", "allowed_origins", "server_addr"},
	}
)

// DefaultProviders returns a registry with every built-in provider.
func DefaultProviders() *ProviderRegistry {
	reg := NewProviderRegistry()
	RegisterDefaults(reg)
	return reg
}

func RegisterDefaults(reg *ProviderRegistry) {
	reg.RegisterOracle("ollama", func(cfg Config) (oracle.Backend, error) {
		var settings ollama.Config
		if err := configutil.Decode("oracle.settings", cfg.Oracle.Settings, ollamaSchema, &settings); err != nil {
			return nil, err
		}
		return ollama.New(settings), nil
	})

	reg.RegisterOracle("openai", func(cfg Config) (oracle.Backend, error) {
		return buildOpenAI(cfg, openai.Config{Name: "openai"})
	})

	reg.RegisterOracle("gemini", func(cfg Config) (oracle.Backend, error) {
		return buildOpenAI(cfg, openai.Config{
			Name:    "gemini",
			BaseURL: openai.GeminiBaseURL,
			Model:   openai.GeminiModel,
		})
	})

	reg.RegisterOracle("mock", func(cfg Config) (oracle.Backend, error) {
		var settings mockOracleSettings
		if err := configutil.Decode("oracle.settings", cfg.Oracle.Settings, mockOracleSchema, &settings); err != nil {
			return nil, err
		}
		b := mock.NewBackend(settings.Responses...)
		b.Delay = ms(settings.DelayMS)
		return b, nil
	})

	reg.RegisterOracle("heuristic", func(cfg Config) (oracle.Backend, error) {
		return mock.NewHeuristic(), nil
	})

	reg.RegisterCapture("mock", func(cfg Config, env CaptureEnv) (capture.Source, error) {
		var settings mockCaptureSettings
		if err := configutil.Decode("capture.settings", cfg.Capture.Settings, mockCaptureSchema, &settings); err != nil {
			return nil, err
		}
		src := mock.NewSource()
		for _, text := range settings.Texts {
			src.Steps = append(src.Steps, mock.Step{Text: text, Delay: ms(settings.DelayMS)})
		}
		src.Hold = configutil.BoolValue(settings.Hold, true)
		return src, nil
	})

	reg.RegisterCapture("lines", func(cfg Config, env CaptureEnv) (capture.Source, error) {
		var settings linesSettings
		if err := configutil.Decode("capture.settings", cfg.Capture.Settings, linesSchema, &settings); err != nil {
			return nil, err
		}
		path := strings.TrimSpace(settings.Path)
		if path == "" || path == "-" {
			if env.Stdin == nil {
				return nil, fmt.Errorf("capture.settings.path: no stdin available")
			}
			return capture.NewLineSource("stdin", env.Stdin), nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("capture.settings.path: %w", err)
		}
		return &fileLineSource{LineSource: capture.NewLineSource("lines:"+path, f), file: f}, nil
	})

	reg.RegisterCapture("deepgram", func(cfg Config, env CaptureEnv) (capture.Source, error) {
		if env.Transport == nil {
			return nil, fmt.Errorf("capture provider deepgram needs an audio transport (set transports.provider)")
		}
		var settings deepgram.Config
		if err := configutil.Decode("capture.settings", cfg.Capture.Settings, deepgramSchema, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "capture.settings.api_key"); err != nil {
			return nil, err
		}
		if settings.Encoding != "" && !validDeepgramEncoding(settings.Encoding) {
			return nil, fmt.Errorf("capture.settings.encoding must be one of [linear16, mulaw], got %s", settings.Encoding)
		}
		if settings.UtteranceEndMS < 0 || settings.UtteranceEndMS > 5000 {
			return nil, fmt.Errorf("capture.settings.utterance_end_ms must be between 0 and 5000, got %d", settings.UtteranceEndMS)
		}
		return deepgram.New(settings, env.Transport, env.Logger), nil
	})

	reg.RegisterTransport("twilio", func(cfg Config, observer metrics.Observer, logger *slog.Logger) (transports.Transport, error) {
		var settings twiliotransport.Config
		if err := configutil.Decode("transports.settings", cfg.Transports.Settings, twilioSchema, &settings); err != nil {
			return nil, err
		}
		if settings.ServerAddr == "" {
			settings.ServerAddr = cfg.Server.Addr
		}
		if settings.AuthToken == "" {
			logger.Warn("twilio_signature_validation_disabled", "reason", "transports.settings.auth_token is empty")
		}
		return twiliotransport.New(settings, observer, logger), nil
	})

	reg.RegisterTransport("mock", func(cfg Config, observer metrics.Observer, logger *slog.Logger) (transports.Transport, error) {
		return mocktransport.New(), nil
	})
}

func buildOpenAI(cfg Config, base openai.Config) (oracle.Backend, error) {
	settings := base
	if err := configutil.Decode("oracle.settings", cfg.Oracle.Settings, openaiSchema, &settings); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(settings.APIKey, "oracle.settings.api_key"); err != nil {
		return nil, err
	}
	return openai.New(settings), nil
}

func validDeepgramEncoding(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "linear16", "mulaw":
		return true
	default:
		return false
	}
}

// fileLineSource closes the transcript file with the reader.
type fileLineSource struct {
	*capture.LineSource
	file *os.File
}

func (s *fileLineSource) Close() error {
	_ = s.LineSource.Close()
	return s.file.Close()
}
