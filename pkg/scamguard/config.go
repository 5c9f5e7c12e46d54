package scamguard

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/scamguard/pkg/session"
	"github.com/harunnryd/scamguard/pkg/threat"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Server        ServerConfig        `mapstructure:"server"`
	Session       SessionConfig       `mapstructure:"session"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Oracle        OracleConfig        `mapstructure:"oracle"`
	Capture       VendorConfig        `mapstructure:"capture"`
	Transports    VendorConfig        `mapstructure:"transports"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ServerConfig struct {
	Addr             string   `mapstructure:"addr"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	StatusIntervalMS int      `mapstructure:"status_interval_ms"`
	ShutdownMS       int      `mapstructure:"shutdown_ms"`
}

type SessionConfig struct {
	Mode             string `mapstructure:"mode"`
	ContextLimit     int    `mapstructure:"context_limit"`
	JoinTimeoutMS    int    `mapstructure:"join_timeout_ms"`
	PollIntervalMS   int    `mapstructure:"poll_interval_ms"`
	DiscardAfterStop bool   `mapstructure:"discard_after_stop"`
	ThreatPolicy     string `mapstructure:"threat_policy"`
	// AutoStart begins listening as soon as the engine is up.
	AutoStart bool `mapstructure:"auto_start"`
}

type QueueConfig struct {
	// Capacity bounds the utterance queue; 0 keeps it unbounded.
	Capacity int `mapstructure:"capacity"`
}

type OracleConfig struct {
	Provider   string         `mapstructure:"provider"`
	TimeoutMS  int            `mapstructure:"timeout_ms"`
	MinTextLen int            `mapstructure:"min_text_len"`
	Circuit    CircuitConfig  `mapstructure:"circuit"`
	Settings   map[string]any `mapstructure:"settings"`
}

type CircuitConfig struct {
	// Threshold is the consecutive transport failures that open the
	// breaker; 0 disables it.
	Threshold  int `mapstructure:"threshold"`
	CooldownMS int `mapstructure:"cooldown_ms"`
}

type ObservabilityConfig struct {
	ArtifactsDir      string  `mapstructure:"artifacts_dir"`
	RetentionDays     int     `mapstructure:"retention_days"`
	RetentionSessions int     `mapstructure:"retention_sessions"`
	Prometheus        bool    `mapstructure:"prometheus"`
	EventsPath        string  `mapstructure:"events_path"`
	AudioSampleRate   float64 `mapstructure:"audio_sample_rate"`
	AsyncBuffer       int     `mapstructure:"async_buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// LoadConfig reads path (any format viper understands) over the defaults.
// An empty path loads defaults only. SCAMGUARD_* environment variables
// override file values, and ${VAR} references inside strings are expanded.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SCAMGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		expandEnvHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.status_interval_ms", 500)
	v.SetDefault("server.shutdown_ms", 5000)
	v.SetDefault("session.mode", string(session.ModeBackground))
	v.SetDefault("session.context_limit", 30)
	v.SetDefault("session.join_timeout_ms", 1000)
	v.SetDefault("session.poll_interval_ms", 500)
	v.SetDefault("session.discard_after_stop", false)
	v.SetDefault("session.threat_policy", string(threat.PolicyLastWrite))
	v.SetDefault("session.auto_start", false)
	v.SetDefault("queue.capacity", 0)
	v.SetDefault("oracle.provider", "ollama")
	v.SetDefault("oracle.timeout_ms", 10000)
	v.SetDefault("oracle.min_text_len", 2)
	v.SetDefault("oracle.circuit.threshold", 0)
	v.SetDefault("oracle.circuit.cooldown_ms", 30000)
	v.SetDefault("capture.provider", "")
	v.SetDefault("transports.provider", "")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.retention_sessions", 0)
	v.SetDefault("observability.prometheus", true)
	v.SetDefault("observability.events_path", "")
	v.SetDefault("observability.audio_sample_rate", 0.02)
	v.SetDefault("observability.async_buffer", 2048)
	v.SetDefault("privacy.redact_pii", true)
}

func (c *Config) Validate() error {
	switch session.Mode(strings.ToLower(strings.TrimSpace(c.Session.Mode))) {
	case session.ModeBackground, session.ModePoll:
	default:
		return fmt.Errorf("session.mode must be one of [background, poll], got %q", c.Session.Mode)
	}
	if _, err := threat.ParsePolicy(c.Session.ThreatPolicy); err != nil {
		return fmt.Errorf("session.threat_policy: %w", err)
	}
	if c.Session.ContextLimit <= 0 {
		return fmt.Errorf("session.context_limit must be positive, got %d", c.Session.ContextLimit)
	}
	if c.Queue.Capacity < 0 {
		return fmt.Errorf("queue.capacity must not be negative, got %d", c.Queue.Capacity)
	}
	if strings.TrimSpace(c.Oracle.Provider) == "" {
		return fmt.Errorf("oracle.provider is required")
	}
	if c.Oracle.TimeoutMS <= 0 {
		return fmt.Errorf("oracle.timeout_ms must be positive, got %d", c.Oracle.TimeoutMS)
	}
	if c.Oracle.Circuit.Threshold < 0 {
		return fmt.Errorf("oracle.circuit.threshold must not be negative")
	}
	if c.Observability.RetentionDays < 0 || c.Observability.RetentionSessions < 0 {
		return fmt.Errorf("observability retention limits must not be negative")
	}
	if c.Observability.AudioSampleRate < 0 || c.Observability.AudioSampleRate > 1 {
		return fmt.Errorf("observability.audio_sample_rate must be within [0,1], got %v", c.Observability.AudioSampleRate)
	}
	return nil
}

// SessionOptions maps the session section onto the controller config.
func (c Config) SessionOptions() session.Config {
	policy, _ := threat.ParsePolicy(c.Session.ThreatPolicy)
	return session.Config{
		Mode:             session.Mode(strings.ToLower(strings.TrimSpace(c.Session.Mode))),
		ContextLimit:     c.Session.ContextLimit,
		JoinTimeout:      ms(c.Session.JoinTimeoutMS),
		PollInterval:     ms(c.Session.PollIntervalMS),
		DiscardAfterStop: c.Session.DiscardAfterStop,
		QueueCapacity:    c.Queue.Capacity,
		ThreatPolicy:     policy,
		RedactPII:        c.Privacy.RedactPII,
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// expandEnvHook runs os.ExpandEnv over strings as they are decoded. Values
// headed for an interface (the provider settings maps) are walked whole,
// since mapstructure copies those without decoding their elements.
func expandEnvHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.String:
		if s, ok := data.(string); ok {
			return os.ExpandEnv(s), nil
		}
	case reflect.Interface:
		return expandTree(data), nil
	}
	return data, nil
}

func expandTree(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandTree(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = expandTree(item)
		}
		return out
	default:
		return v
	}
}
