package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harunnryd/scamguard/pkg/errorsx"
	"github.com/harunnryd/scamguard/pkg/oracle"
	oai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

const (
	DefaultModel = "gpt-4o-mini"
	// GeminiBaseURL is Google's OpenAI-compatible endpoint.
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	GeminiModel   = "gemini-1.5-flash"
)

type Config struct {
	Name        string   `mapstructure:"name"`
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`
	BaseURL     string   `mapstructure:"base_url"`
	PoolSize    int      `mapstructure:"pool_size"`
	Temperature *float64 `mapstructure:"temperature"`
}

// Backend calls any OpenAI-compatible chat completions endpoint with JSON
// object output. SDK retries are disabled.
type Backend struct {
	cfg    Config
	client oai.Client
}

func New(cfg Config) *Backend {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(oracle.NewHTTPClient(cfg.PoolSize)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Backend{cfg: cfg, client: oai.NewClient(opts...)}
}

func (b *Backend) Name() string { return b.cfg.Name }

func (b *Backend) Complete(ctx context.Context, req oracle.Request) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(b.cfg.Model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(req.System),
			oai.UserMessage(req.Prompt),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if b.cfg.Temperature != nil {
		params.Temperature = oai.Float(*b.cfg.Temperature)
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return "", &oracle.StatusError{Backend: b.Name(), Code: apiErr.StatusCode, Body: strings.TrimSpace(apiErr.Message)}
		}
		return "", errorsx.Wrap(fmt.Errorf("%s chat completion: %w", b.Name(), err), errorsx.ReasonOracleUnreachable)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errorsx.New(errorsx.ReasonOracleDecode, b.Name()+": response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ oracle.Backend = (*Backend)(nil)
