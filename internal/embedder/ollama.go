package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/eino-contrib/ollama/api"
)

// OllamaBackend is the native Ollama client tier. It is safe for concurrent
// use. No API key is required; Ollama runs locally.
type OllamaBackend struct {
	// client is the typed Ollama API client.
	client *api.Client
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
}

// NewOllamaBackend constructs an OllamaBackend for the server at host.
func NewOllamaBackend(host, model string, httpClient *http.Client) (*OllamaBackend, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama: parse host %q: %w", host, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("ollama: host %q must include scheme and address", host)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaBackend{
		client: api.NewClient(base, httpClient),
		model:  model,
	}, nil
}

// Name returns "ollama".
func (b *OllamaBackend) Name() string { return NativeOllama }

// Embed calls the /api/embed endpoint through the typed client and returns
// the first vector.
func (b *OllamaBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := b.client.Embed(ctx, &api.EmbedRequest{
		Model: b.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, nil
	}
	return resp.Embeddings[0], nil
}

// Ping checks that the Ollama server answers its heartbeat.
func (b *OllamaBackend) Ping(ctx context.Context) error {
	if err := b.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama: heartbeat: %w", err)
	}
	return nil
}
