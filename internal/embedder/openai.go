package embedder

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig holds the settings for constructing an OpenAIBackend.
type OpenAIConfig struct {
	// APIKey is the authentication key.
	APIKey string
	// BaseURL overrides the API base, e.g. an OpenAI-compatible gateway.
	BaseURL string
	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// HTTPClient replaces the SDK's default client when non-nil.
	HTTPClient *http.Client
}

// OpenAIBackend is the native OpenAI embeddings tier. It is safe for
// concurrent use.
type OpenAIBackend struct {
	// client is the OpenAI SDK client.
	client openai.Client
	// model is the embedding model name.
	model string
	// dimensions is sent when positive.
	dimensions int
}

// NewOpenAIBackend constructs an OpenAIBackend from cfg. The SDK's own
// retries are limited to one so a failing key latches the tier off quickly.
func NewOpenAIBackend(cfg *OpenAIConfig) *OpenAIBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIBackend{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Name returns "openai".
func (b *OpenAIBackend) Name() string { return NativeOpenAI }

// Embed requests a single embedding and narrows it to float32.
func (b *OpenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(b.model),
	}
	if b.dimensions > 0 {
		params.Dimensions = openai.Int(int64(b.dimensions))
	}

	resp, err := b.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return toFloat32(resp.Data[0].Embedding), nil
}
