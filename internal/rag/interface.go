// Package rag defines the domain types and interfaces of the retrieval core:
// manifesto chunks, embedding, vector storage and retrieval. Concrete
// implementations (embedder.Provider, vectorstore.Store) satisfy these
// interfaces so callers never depend on a specific backend.
package rag

import (
	"context"
	"errors"
)

// DefaultCollection is the well-known collection shared by ingestion and
// retrieval.
const DefaultCollection = "manifesto-chunks"

// Metadata keys written for every chunk.
const (
	MetaPartyName  = "partyName"
	MetaTheme      = "theme"
	MetaPageNumber = "pageNumber"
)

// ErrNoEmbedding is returned by the retriever when the embedder produced an
// empty vector for the query. The embedder itself never fails loudly; this is
// the boundary where "nothing came back" becomes a diagnosable condition.
var ErrNoEmbedding = errors.New("rag: could not generate embedding, check provider")

// Chunk is a contiguous span of manifesto text plus the metadata needed to
// cite it. Chunks are created by the ingestion collaborator and never mutated.
type Chunk struct {
	// ID is caller-assigned and unique within a party+index scheme.
	ID string `json:"id"`

	// Content is the raw text of the chunk.
	Content string `json:"content"`

	// PartyName is the party whose manifesto the chunk came from.
	PartyName string `json:"partyName"`

	// Theme is the policy theme label (e.g. "economy", "health").
	Theme string `json:"theme"`

	// PageNumber is the 1-based page the chunk starts on.
	PageNumber int `json:"pageNumber"`
}

// Metadata returns the chunk's metadata in the shape stored alongside its
// vector.
func (c Chunk) Metadata() map[string]any {
	return map[string]any{
		MetaPartyName:  c.PartyName,
		MetaTheme:      c.Theme,
		MetaPageNumber: c.PageNumber,
	}
}

// Embedder turns text into a fixed-dimension vector.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// GenerateEmbedding returns the embedding for text. It never fails for
	// transport or provider errors; a zero-length slice means no embedding
	// could be produced and callers must check for it.
	GenerateEmbedding(ctx context.Context, text string) []float32
}

// VectorStore upserts and queries records in named collections.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert creates or overwrites records keyed by ids in the named
	// collection. All non-nil slices must be parallel to ids. Write failures
	// are returned to the caller.
	Upsert(ctx context.Context, collection string, ids []string, embeddings [][]float32, metadatas []map[string]any, documents []string) error

	// Query returns, per query embedding, up to k document texts ranked by
	// similarity. Read failures degrade to an empty result.
	Query(ctx context.Context, collection string, queryEmbeddings [][]float32, k int) [][]string
}

// Retriever is the high-level interface used by the answer-generation
// collaborator to fetch context for a query.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the top-k chunk texts most relevant to query, best
	// first. An empty result with a nil error means no relevant context.
	Retrieve(ctx context.Context, query string, topK int) ([]string, error)
}
