package scamguard

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/harunnryd/scamguard/pkg/capture"
	"github.com/harunnryd/scamguard/pkg/metrics"
	"github.com/harunnryd/scamguard/pkg/oracle"
	"github.com/harunnryd/scamguard/pkg/transports"
)

// CaptureEnv carries the runtime collaborators a capture provider may need.
type CaptureEnv struct {
	Transport transports.Transport
	Stdin     io.Reader
	Logger    *slog.Logger
}

type OracleFactory func(cfg Config) (oracle.Backend, error)
type CaptureFactory func(cfg Config, env CaptureEnv) (capture.Source, error)
type TransportFactory func(cfg Config, observer metrics.Observer, logger *slog.Logger) (transports.Transport, error)

type ProviderRegistry struct {
	oracle    map[string]OracleFactory
	capture   map[string]CaptureFactory
	transport map[string]TransportFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		oracle:    make(map[string]OracleFactory),
		capture:   make(map[string]CaptureFactory),
		transport: make(map[string]TransportFactory),
	}
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *ProviderRegistry) RegisterOracle(name string, factory OracleFactory) {
	r.oracle[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterCapture(name string, factory CaptureFactory) {
	r.capture[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTransport(name string, factory TransportFactory) {
	r.transport[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildOracle(provider string, cfg Config) (oracle.Backend, error) {
	fn := r.oracle[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("oracle provider not registered: %s (have %s)", provider, strings.Join(keys(r.oracle), ", "))
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildCapture(provider string, cfg Config, env CaptureEnv) (capture.Source, error) {
	fn := r.capture[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("capture provider not registered: %s (have %s)", provider, strings.Join(keys(r.capture), ", "))
	}
	return fn(cfg, env)
}

func (r *ProviderRegistry) BuildTransport(provider string, cfg Config, observer metrics.Observer, logger *slog.Logger) (transports.Transport, error) {
	fn := r.transport[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("transport provider not registered: %s (have %s)", provider, strings.Join(keys(r.transport), ", "))
	}
	return fn(cfg, observer, logger)
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
