package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/manifesto-rag/internal/budget"
	"github.com/54b3r/manifesto-rag/internal/logging"
)

// RetrieverConfig holds the tunables for a DefaultRetriever.
type RetrieverConfig struct {
	// Collection is the collection queried. Defaults to DefaultCollection.
	Collection string

	// DefaultTopK is the number of results returned when Retrieve is called
	// with topK <= 0. Defaults to 5.
	DefaultTopK int

	// MaxContextTokens caps the estimated size of the returned fragments.
	// Zero uses budget.DefaultMaxContextTokens; negative disables trimming.
	MaxContextTokens int
}

// DefaultRetriever implements Retriever by combining an Embedder and a
// VectorStore: it embeds the query, queries the store and returns the ranked
// chunk texts.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// cfg holds the resolved retriever configuration.
	cfg RetrieverConfig
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and
// VectorStore. A nil cfg uses the defaults.
func NewRetriever(embedder Embedder, store VectorStore, cfg *RetrieverConfig) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}

	var resolved RetrieverConfig
	if cfg != nil {
		resolved = *cfg
	}
	if resolved.Collection == "" {
		resolved.Collection = DefaultCollection
	}
	if resolved.DefaultTopK <= 0 {
		resolved.DefaultTopK = 5
	}
	if resolved.MaxContextTokens == 0 {
		resolved.MaxContextTokens = budget.DefaultMaxContextTokens
	}

	return &DefaultRetriever{
		embedder: embedder,
		store:    store,
		cfg:      resolved,
	}, nil
}

// Collection returns the name of the collection this retriever queries.
func (r *DefaultRetriever) Collection() string { return r.cfg.Collection }

// Retrieve embeds the query and returns the top-k most relevant chunk texts,
// best first, trimmed to the configured context budget.
// If topK is <= 0 the DefaultTopK configured at construction time is used.
// It returns ErrNoEmbedding when the query could not be embedded; an empty
// store result is returned as nil with a nil error.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int) ([]string, error) {
	return r.RetrieveFrom(ctx, r.cfg.Collection, query, topK)
}

// RetrieveFrom is Retrieve against an explicit collection. An empty
// collection uses the configured one.
func (r *DefaultRetriever) RetrieveFrom(ctx context.Context, collection, query string, topK int) ([]string, error) {
	if collection == "" {
		collection = r.cfg.Collection
	}
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}
	log := logging.FromContext(ctx)

	vec := r.embedder.GenerateEmbedding(ctx, query)
	if len(vec) == 0 {
		return nil, ErrNoEmbedding
	}

	results := r.store.Query(ctx, collection, [][]float32{vec}, topK)
	if len(results) == 0 || len(results[0]) == 0 {
		log.Info("rag: no relevant context found",
			slog.String("collection", collection),
			slog.Int("top_k", topK),
		)
		return nil, nil
	}

	fragments := budget.TrimFragments(results[0], r.cfg.MaxContextTokens)
	if len(fragments) < len(results[0]) {
		log.Debug("rag: trimmed fragments to context budget",
			slog.Int("retrieved", len(results[0])),
			slog.Int("kept", len(fragments)),
			slog.Int("max_tokens", r.cfg.MaxContextTokens),
		)
	}
	return fragments, nil
}
