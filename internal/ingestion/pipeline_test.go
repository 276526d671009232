package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/manifesto-rag/internal/rag"
	"github.com/54b3r/manifesto-rag/internal/store"
	"github.com/54b3r/manifesto-rag/internal/vectorstore"
)

// lengthEmbedder embeds text as [len(text), 1]; texts containing "FAIL"
// produce no embedding.
type lengthEmbedder struct {
	calls atomic.Int32
}

func (e *lengthEmbedder) GenerateEmbedding(_ context.Context, text string) []float32 {
	e.calls.Add(1)
	if strings.Contains(text, "FAIL") {
		return []float32{}
	}
	return []float32{float32(len(text)), 1}
}

// recordingStore wraps a VectorStore and counts upsert batches.
type recordingStore struct {
	rag.VectorStore
	batches []int
	err     error
}

func (s *recordingStore) Upsert(ctx context.Context, collection string, ids []string, embeddings [][]float32, metadatas []map[string]any, documents []string) error {
	s.batches = append(s.batches, len(ids))
	if s.err != nil {
		return s.err
	}
	return s.VectorStore.Upsert(ctx, collection, ids, embeddings, metadatas, documents)
}

func makeChunks(n int) []rag.Chunk {
	chunks := make([]rag.Chunk, n)
	for i := range chunks {
		chunks[i] = rag.Chunk{
			ID:         fmt.Sprintf("c%d", i),
			Content:    fmt.Sprintf("chunk number %d", i),
			PartyName:  "Labour",
			Theme:      "economy",
			PageNumber: i + 1,
		}
	}
	return chunks
}

func openManifest(t *testing.T) *store.SQLiteManifest {
	t.Helper()
	m, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewPipeline_RejectsNil(t *testing.T) {
	t.Parallel()
	_, err := NewPipeline(nil, vectorstore.NewMemory(), nil, nil)
	require.Error(t, err)
	_, err = NewPipeline(&lengthEmbedder{}, nil, nil, nil)
	require.Error(t, err)

	p, err := NewPipeline(&lengthEmbedder{}, vectorstore.NewMemory(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, rag.DefaultCollection, p.Collection())
}

func TestPipeline_BatchesUpserts(t *testing.T) {
	t.Parallel()
	vs := &recordingStore{VectorStore: vectorstore.NewMemory()}
	p, err := NewPipeline(&lengthEmbedder{}, vs, nil, &Config{BatchSize: 4})
	require.NoError(t, err)

	var progress []string
	report, err := p.Ingest(t.Context(), makeChunks(10), func(msg string) { progress = append(progress, msg) })
	require.NoError(t, err)

	assert.Equal(t, []int{4, 4, 2}, vs.batches)
	assert.Equal(t, Report{Total: 10, Upserted: 10}, report)
	assert.Len(t, progress, 3)
	assert.Equal(t, "upserted 10/10 chunks", progress[2])
}

func TestPipeline_StoredChunksAreRetrievable(t *testing.T) {
	t.Parallel()
	vs := vectorstore.NewMemory()
	p, err := NewPipeline(&lengthEmbedder{}, vs, nil, &Config{Collection: "test"})
	require.NoError(t, err)

	_, err = p.Ingest(t.Context(), []rag.Chunk{
		{ID: "a", Content: "short", PartyName: "Blue"},
	}, nil)
	require.NoError(t, err)

	c, err := vs.GetOrCreateCollection(t.Context(), "test")
	require.NoError(t, err)
	rec, ok := c.(*vectorstore.MemoryCollection).Get("a")
	require.True(t, ok)
	assert.Equal(t, "short", rec.Content)
	assert.Equal(t, []float32{5, 1}, rec.Embedding)
	assert.Equal(t, "Blue", rec.Metadata[rag.MetaPartyName])
}

func TestPipeline_SkipsEmptyEmbeddingsAndInvalidChunks(t *testing.T) {
	t.Parallel()
	vs := vectorstore.NewMemory()
	p, err := NewPipeline(&lengthEmbedder{}, vs, nil, nil)
	require.NoError(t, err)

	report, err := p.Ingest(t.Context(), []rag.Chunk{
		{ID: "ok", Content: "fine"},
		{ID: "bad", Content: "please FAIL"},
		{ID: "blank", Content: "  "},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{Total: 3, Invalid: 1, NoEmbedding: 1, Upserted: 1}, report)

	n, err := vs.Count(t.Context(), rag.DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPipeline_UpsertFailureIsReturned(t *testing.T) {
	t.Parallel()
	vs := &recordingStore{VectorStore: vectorstore.NewMemory(), err: errors.New("chroma down")}
	m := openManifest(t)
	p, err := NewPipeline(&lengthEmbedder{}, vs, m, nil)
	require.NoError(t, err)

	_, err = p.Ingest(t.Context(), makeChunks(2), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chroma down")

	// A failed batch must not be recorded as ingested.
	s, err := m.Summary(t.Context(), rag.DefaultCollection)
	require.NoError(t, err)
	assert.Zero(t, s.Chunks)
}

func TestPipeline_ManifestSkipsUnchanged(t *testing.T) {
	t.Parallel()
	m := openManifest(t)
	emb := &lengthEmbedder{}
	vs := vectorstore.NewMemory()
	p, err := NewPipeline(emb, vs, m, nil)
	require.NoError(t, err)

	chunks := makeChunks(3)
	first, err := p.Ingest(t.Context(), chunks, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Upserted)
	assert.Equal(t, int32(3), emb.calls.Load())

	chunks[1].Content = "rewritten chunk"
	second, err := p.Ingest(t.Context(), chunks, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{Total: 3, Unchanged: 2, Upserted: 1}, second)
	assert.Equal(t, int32(4), emb.calls.Load())
}

func TestPipeline_ForceIgnoresManifest(t *testing.T) {
	t.Parallel()
	m := openManifest(t)
	emb := &lengthEmbedder{}
	vs := vectorstore.NewMemory()

	p, err := NewPipeline(emb, vs, m, nil)
	require.NoError(t, err)
	_, err = p.Ingest(t.Context(), makeChunks(2), nil)
	require.NoError(t, err)

	forced, err := NewPipeline(emb, vs, m, &Config{Force: true})
	require.NoError(t, err)
	report, err := forced.Ingest(t.Context(), makeChunks(2), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Upserted)
	assert.Zero(t, report.Unchanged)
	assert.Equal(t, int32(4), emb.calls.Load())
}

func TestPipeline_CanceledContext(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline(&lengthEmbedder{}, vectorstore.NewMemory(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = p.Ingest(ctx, makeChunks(1), nil)
	require.ErrorIs(t, err, context.Canceled)
}
