package embedder

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
)

// EinoBackend adapts any eino embedding.Embedder to the native tier, so
// embedders from the eino ecosystem can be plugged in without new code here.
type EinoBackend struct {
	// embedder is the wrapped eino component.
	embedder embedding.Embedder
}

// NewEinoBackend wraps e.
func NewEinoBackend(e embedding.Embedder) *EinoBackend {
	return &EinoBackend{embedder: e}
}

// Name returns "eino".
func (b *EinoBackend) Name() string { return NativeEino }

// Embed embeds a one-element batch and narrows the first vector to float32.
func (b *EinoBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("eino: embed strings: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return toFloat32(vecs[0]), nil
}
