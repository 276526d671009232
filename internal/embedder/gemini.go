package embedder

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// GeminiConfig holds the settings for constructing a GeminiBackend.
type GeminiConfig struct {
	// APIKey is the Gemini API key.
	APIKey string
	// BaseURL overrides the Gemini API base URL.
	BaseURL string
	// Model is the embedding model name (e.g. "text-embedding-004").
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// HTTPClient replaces the SDK's default client when non-nil.
	HTTPClient *http.Client
}

// GeminiBackend is the native Gemini embeddings tier.
type GeminiBackend struct {
	// client is the genai SDK client.
	client *genai.Client
	// model is the embedding model name.
	model string
	// config is sent with every request; nil when no options are set.
	config *genai.EmbedContentConfig
}

// NewGeminiBackend constructs a GeminiBackend against the Gemini API.
func NewGeminiBackend(ctx context.Context, cfg *GeminiConfig) (*GeminiBackend, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	b := &GeminiBackend{client: client, model: cfg.Model}
	if cfg.Dimensions > 0 {
		dims := int32(cfg.Dimensions)
		b.config = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}
	return b, nil
}

// Name returns "gemini".
func (b *GeminiBackend) Name() string { return NativeGemini }

// Embed embeds text as a single content part and returns its values.
func (b *GeminiBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := b.client.Models.EmbedContent(ctx, b.model, genai.Text(text), b.config)
	if err != nil {
		return nil, fmt.Errorf("gemini: embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, nil
	}
	return resp.Embeddings[0].Values, nil
}
