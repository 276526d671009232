// Package embedder turns text into dense []float32 vectors for the retrieval
// core. A Provider tries two tiers in order: a native client Backend selected
// by configuration (Ollama, OpenAI, Gemini or any eino embedding.Embedder),
// then plain HTTP probing of the well-known embedding endpoint paths on a
// configured base URL, remembering the path that worked.
//
// Callers that only need a vector use GenerateEmbedding, which never fails:
// a zero-length slice means every tier missed. Embed returns the same vector
// together with an error describing why each tier missed.
package embedder

import (
	"context"
	"errors"
)

// Sentinel errors returned by NewProvider and Embed.
var (
	// ErrNoEmbedding wraps the per-tier miss reasons when every tier failed.
	ErrNoEmbedding = errors.New("embedder: no embedding produced")

	// ErrUnknownNativeClient is returned for an unrecognised native client name.
	ErrUnknownNativeClient = errors.New("embedder: unknown native client")

	// ErrMissingAPIKey is returned when a native client that needs
	// credentials has none configured.
	ErrMissingAPIKey = errors.New("embedder: missing API key")

	// errTierDisabled is the miss reason for a tier that is switched off.
	errTierDisabled = errors.New("tier disabled")

	// errEmptyVector is the miss reason for a response with no usable values.
	errEmptyVector = errors.New("empty vector")
)

// Native client names accepted by Config.NativeClient.
const (
	NativeNone   = "none"
	NativeOllama = "ollama"
	NativeOpenAI = "openai"
	NativeGemini = "gemini"
	NativeEino   = "eino"
)

// Backend is a native embedding client used as the first tier.
// Implementations must be safe to call from multiple goroutines.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Embed returns the embedding for text. An error means the client
	// failed; an empty vector with a nil error means it produced nothing.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pinger is implemented by backends that can report reachability cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// toFloat32 narrows a float64 vector element-wise.
func toFloat32(v []float64) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
