package server

import (
	"context"
	"fmt"

	"github.com/54b3r/manifesto-rag/internal/embedder"
	"github.com/54b3r/manifesto-rag/internal/vectorstore"
)

// EmbedderPinger probes the embedding provider without generating an
// embedding: the native client's own health call when it has one, otherwise
// a GET against the configured embedding server.
type EmbedderPinger struct {
	provider *embedder.Provider
}

// NewEmbedderPinger constructs an EmbedderPinger for p.
func NewEmbedderPinger(p *embedder.Provider) *EmbedderPinger {
	return &EmbedderPinger{provider: p}
}

// Name returns "embedding:<native client>".
func (p *EmbedderPinger) Name() string { return "embedding:" + p.provider.NativeName() }

// Ping reports whether the embedding provider is reachable.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if err := p.provider.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// VectorStorePinger probes the vector store backend: Chroma's heartbeat
// endpoint, Qdrant's HealthCheck RPC, or nothing for the in-memory store.
type VectorStorePinger struct {
	store *vectorstore.Store
}

// NewVectorStorePinger constructs a VectorStorePinger for s.
func NewVectorStorePinger(s *vectorstore.Store) *VectorStorePinger {
	return &VectorStorePinger{store: s}
}

// Name returns the backend name, e.g. "qdrant".
func (p *VectorStorePinger) Name() string { return p.store.Backend() }

// Ping reports whether the vector store is reachable.
func (p *VectorStorePinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
