package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/harunnryd/scamguard/pkg/errorsx"
	"github.com/harunnryd/scamguard/pkg/oracle"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.1"
)

type Config struct {
	BaseURL   string         `mapstructure:"base_url"`
	Model     string         `mapstructure:"model"`
	PoolSize  int            `mapstructure:"pool_size"`
	KeepAlive string         `mapstructure:"keep_alive"`
	Options   map[string]any `mapstructure:"options"`
}

// Backend calls a local Ollama server through /api/generate with JSON output forced.
type Backend struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Backend{cfg: cfg, client: oracle.NewHTTPClient(cfg.PoolSize)}
}

func (b *Backend) Name() string { return "ollama" }

type generateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	Stream    bool           `json:"stream"`
	Format    string         `json:"format"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (b *Backend) Complete(ctx context.Context, req oracle.Request) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:     b.cfg.Model,
		Prompt:    req.Combined(),
		Stream:    false,
		Format:    "json",
		KeepAlive: b.cfg.KeepAlive,
		Options:   b.cfg.Options,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", errorsx.Wrap(fmt.Errorf("create generate request: %w", err), errorsx.ReasonOracleUnreachable)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", errorsx.Wrap(fmt.Errorf("ollama generate: %w", err), errorsx.ReasonOracleUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &oracle.StatusError{Backend: b.Name(), Code: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", errorsx.Wrap(fmt.Errorf("read generate response: %w", ctx.Err()), errorsx.ReasonOracleTimeout)
		}
		return "", errorsx.Wrap(fmt.Errorf("decode generate response: %w", err), errorsx.ReasonOracleDecode)
	}
	if out.Error != "" {
		return "", errorsx.Wrap(fmt.Errorf("ollama: %s", out.Error), errorsx.ReasonOracleDecode)
	}
	return out.Response, nil
}

// Ping checks that the Ollama server answers on its root endpoint.
func (b *Backend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("ollama ping: %w", err), errorsx.ReasonOracleUnreachable)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &oracle.StatusError{Backend: b.Name(), Code: resp.StatusCode}
	}
	return nil
}

var (
	_ oracle.Backend = (*Backend)(nil)
	_ oracle.Pinger  = (*Backend)(nil)
)
