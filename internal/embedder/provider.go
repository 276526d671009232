package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/manifesto-rag/internal/logging"
)

// DefaultEndpoint is the tier-2 base URL used when none is configured.
const DefaultEndpoint = "http://localhost:11434"

// Config holds the settings for constructing a Provider.
type Config struct {
	// NativeClient selects the tier-1 backend: ollama, openai, gemini, eino
	// or none. Empty means none.
	NativeClient string

	// Model is the embedding model name sent to every tier.
	Model string

	// Endpoint is the tier-2 base URL. The ollama native client also uses
	// it. Defaults to DefaultEndpoint.
	Endpoint string

	// APIKey authenticates the openai and gemini native clients.
	APIKey string

	// BaseURL overrides the openai or gemini API base URL.
	BaseURL string

	// Dimensions requests a specific output size from native clients that
	// support it (0 = model default).
	Dimensions int

	// Timeout bounds each HTTP call made by either tier. Defaults to 60s.
	Timeout time.Duration

	// Eino is the embedder wrapped by the eino native client.
	Eino embedding.Embedder

	// Registerer receives the embedder metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

// Provider produces embeddings through a native client tier followed by an
// HTTP probing tier. It is safe for concurrent use.
type Provider struct {
	// model is sent to the tier-2 endpoints.
	model string

	// endpoint is the tier-2 base URL without a trailing slash.
	endpoint string

	// client is used for tier-2 calls.
	client *http.Client

	// native is the tier-1 backend; nil when the tier is disabled.
	native Backend

	// nativeOff latches to true after the first native call error and is
	// never reset.
	nativeOff atomic.Bool

	// working is the tier-2 path that last produced a vector. Concurrent
	// calls may race on it; the worst case is one extra probe.
	working atomic.Pointer[string]

	// m records tier outcomes; may be nil.
	m *metrics
}

var _ embedding.Embedder = (*Provider)(nil)

// NewProvider validates cfg and builds the tiers. It returns an error only
// for invalid configuration; a native client that cannot be constructed
// disables tier 1 with a WARN log.
func NewProvider(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder: config must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("embedder: model is required")
	}
	if err := validateNative(cfg); err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	p := &Provider{
		model:    cfg.Model,
		endpoint: endpoint,
		client:   client,
		m:        newMetrics(cfg.Registerer),
	}

	native, err := newNativeBackend(ctx, cfg, endpoint, client)
	if err != nil {
		logging.FromContext(ctx).Warn("embedder: native client unavailable, tier disabled",
			slog.String("native_client", cfg.NativeClient),
			slog.String("error", err.Error()),
		)
		native = nil
	}
	p.native = native

	return p, nil
}

// validateNative rejects configuration that can never work.
func validateNative(cfg *Config) error {
	switch strings.ToLower(cfg.NativeClient) {
	case "", NativeNone, NativeOllama:
		return nil
	case NativeOpenAI, NativeGemini:
		if cfg.APIKey == "" {
			return fmt.Errorf("%w for native client %q", ErrMissingAPIKey, cfg.NativeClient)
		}
		return nil
	case NativeEino:
		if cfg.Eino == nil {
			return fmt.Errorf("embedder: native client %q requires an embedding.Embedder", NativeEino)
		}
		return nil
	default:
		return fmt.Errorf("%w %q: valid values are none, ollama, openai, gemini, eino", ErrUnknownNativeClient, cfg.NativeClient)
	}
}

// newNativeBackend constructs the configured tier-1 backend, or nil for none.
func newNativeBackend(ctx context.Context, cfg *Config, endpoint string, client *http.Client) (Backend, error) {
	switch strings.ToLower(cfg.NativeClient) {
	case NativeOllama:
		return NewOllamaBackend(endpoint, cfg.Model, client)
	case NativeOpenAI:
		return NewOpenAIBackend(&OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			HTTPClient: client,
		}), nil
	case NativeGemini:
		return NewGeminiBackend(ctx, &GeminiConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			HTTPClient: client,
		})
	case NativeEino:
		return NewEinoBackend(cfg.Eino), nil
	default:
		return nil, nil
	}
}

// NativeName returns the active tier-1 backend name, or "none" when the tier
// is disabled or latched off.
func (p *Provider) NativeName() string {
	if p.native == nil || p.nativeOff.Load() {
		return NativeNone
	}
	return p.native.Name()
}

// Endpoint returns the tier-2 base URL.
func (p *Provider) Endpoint() string { return p.endpoint }

// Embed returns the embedding for text, trying the native tier and then the
// HTTP tier. When both miss, the error wraps ErrNoEmbedding and the reason
// each tier gave.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	log := logging.FromContext(ctx)

	vec, nativeErr := p.embedNative(ctx, text)
	if nativeErr == nil {
		return vec, nil
	}
	log.Debug("embedder: native tier missed", slog.String("reason", nativeErr.Error()))

	vec, httpErr := p.embedHTTP(ctx, text)
	if httpErr == nil {
		return vec, nil
	}
	log.Debug("embedder: http tier missed", slog.String("reason", httpErr.Error()))

	err := fmt.Errorf("%w: %w", ErrNoEmbedding, errors.Join(nativeErr, httpErr))
	log.Warn("embedder: all tiers exhausted",
		slog.String("model", p.model),
		slog.String("endpoint", p.endpoint),
		slog.String("error", err.Error()),
	)
	return nil, err
}

// GenerateEmbedding returns the embedding for text, or a zero-length slice
// when no tier produced one. It never returns an error.
func (p *Provider) GenerateEmbedding(ctx context.Context, text string) []float32 {
	vec, err := p.Embed(ctx, text)
	if err != nil {
		return []float32{}
	}
	return vec
}

// EmbedStrings embeds each text in turn so a Provider can be used wherever
// eino expects an embedding.Embedder. Any miss fails the whole batch.
func (p *Provider) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedder: text %d: %w", i, err)
		}
		row := make([]float64, len(vec))
		for j, f := range vec {
			row[j] = float64(f)
		}
		out[i] = row
	}
	return out, nil
}

// embedNative runs tier 1. A call error latches the tier off for the life of
// the provider unless it was caused by the caller's context ending.
func (p *Provider) embedNative(ctx context.Context, text string) ([]float32, error) {
	if p.native == nil || p.nativeOff.Load() {
		p.m.attempt(tierNative, outcomeDisabled, time.Time{})
		return nil, fmt.Errorf("native: %w", errTierDisabled)
	}

	start := time.Now()
	vec, err := p.native.Embed(ctx, text)
	if err != nil {
		p.m.attempt(tierNative, outcomeError, start)
		if ctx.Err() == nil && p.nativeOff.CompareAndSwap(false, true) {
			logging.FromContext(ctx).Warn("embedder: native client failed, disabling native tier",
				slog.String("native_client", p.native.Name()),
				slog.String("error", err.Error()),
			)
		}
		return nil, fmt.Errorf("native %s: %w", p.native.Name(), err)
	}
	if len(vec) == 0 {
		p.m.attempt(tierNative, outcomeMiss, start)
		return nil, fmt.Errorf("native %s: %w", p.native.Name(), errEmptyVector)
	}

	p.m.attempt(tierNative, outcomeOK, start)
	return vec, nil
}

// Ping reports whether the embedding server is reachable. It prefers the
// native client's own probe and otherwise issues a GET against the tier-2
// base URL, treating any non-5xx response as reachable.
func (p *Provider) Ping(ctx context.Context) error {
	if p.native != nil && !p.nativeOff.Load() {
		if pinger, ok := p.native.(Pinger); ok {
			return pinger.Ping(ctx)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return fmt.Errorf("embedder: build ping request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedder: ping %s: %w", p.endpoint, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("embedder: ping %s: status %d", p.endpoint, resp.StatusCode)
	}
	return nil
}
