// Package vectorstore implements named collections of (id, vector, metadata,
// text) records with upsert and top-k query, plus the Store that owns their
// lifecycle. Three backends are provided: an in-process MemoryCollection
// that ranks by cosine similarity itself, a Chroma-compatible HTTP
// collection and a Qdrant gRPC collection.
//
// Writes fail loud: an Upsert error is always returned to the caller.
// Reads fail soft: a Query that cannot reach its backend returns empty
// results and logs the cause.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrLengthMismatch is returned by Upsert when a non-nil parallel slice does
// not have one entry per id.
var ErrLengthMismatch = errors.New("vectorstore: parallel slices must match ids length")

// Collection is an addressable set of records keyed by id.
// Implementations must be safe to call from multiple goroutines.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Upsert creates or overwrites the records keyed by ids. embeddings,
	// metadatas and documents are parallel to ids; a nil slice means that
	// field is absent for every id, and a nil entry means it is absent for
	// that id. Absent fields leave an existing record's value untouched.
	Upsert(ctx context.Context, ids []string, embeddings [][]float32, metadatas []map[string]any, documents []string) error

	// Query returns, for each query embedding, up to k document texts ordered
	// best first. The outer slice is parallel to queryEmbeddings. Backend
	// failures yield empty inner slices.
	Query(ctx context.Context, queryEmbeddings [][]float32, k int) [][]string

	// Count returns the number of records in the collection.
	Count(ctx context.Context) (int, error)
}

// Record is a stored (id, vector, metadata, text) entry.
type Record struct {
	// ID is the upsert key, unique within the collection.
	ID string
	// Embedding is the stored vector; nil when never provided.
	Embedding []float32
	// Metadata holds the chunk metadata (party, theme, page).
	Metadata map[string]any
	// Content is the chunk text returned by queries.
	Content string
}

// validateUpsert checks the parallel-slice contract shared by every backend.
func validateUpsert(ids []string, embeddings [][]float32, metadatas []map[string]any, documents []string) error {
	n := len(ids)
	if embeddings != nil && len(embeddings) != n {
		return fmt.Errorf("%w: %d ids, %d embeddings", ErrLengthMismatch, n, len(embeddings))
	}
	if metadatas != nil && len(metadatas) != n {
		return fmt.Errorf("%w: %d ids, %d metadatas", ErrLengthMismatch, n, len(metadatas))
	}
	if documents != nil && len(documents) != n {
		return fmt.Errorf("%w: %d ids, %d documents", ErrLengthMismatch, n, len(documents))
	}
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("vectorstore: empty id at index %d", i)
		}
	}
	return nil
}

// emptyResult returns one empty result list per query.
func emptyResult(queries int) [][]string {
	out := make([][]string, queries)
	for i := range out {
		out[i] = []string{}
	}
	return out
}
