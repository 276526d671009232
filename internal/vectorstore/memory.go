package vectorstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/54b3r/manifesto-rag/internal/vecmath"
)

// MemoryCollection keeps records in process memory, in insertion order, and
// ranks them by cosine similarity with a linear scan. It is intended for
// hundreds to low thousands of chunks; there is no index structure.
type MemoryCollection struct {
	// name is the collection name.
	name string
	// mu guards records and index.
	mu sync.RWMutex
	// records holds every record in insertion order.
	records []Record
	// index maps record id to its position in records.
	index map[string]int
	// m records operation outcomes; may be nil.
	m *metrics
}

// NewMemoryCollection returns an empty in-memory collection.
func NewMemoryCollection(name string) *MemoryCollection {
	return &MemoryCollection{
		name:  name,
		index: make(map[string]int),
	}
}

// Name returns the collection name.
func (c *MemoryCollection) Name() string { return c.name }

// Upsert overwrites the embedding, metadata and content of existing records
// independently, each only when the new value is present, and appends new
// records for unseen ids. Input slices are copied.
func (c *MemoryCollection) Upsert(_ context.Context, ids []string, embeddings [][]float32, metadatas []map[string]any, documents []string) error {
	if err := validateUpsert(ids, embeddings, metadatas, documents); err != nil {
		c.m.observe(backendMemory, opUpsert, outcomeError)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, id := range ids {
		var emb []float32
		if embeddings != nil && embeddings[i] != nil {
			emb = slices.Clone(embeddings[i])
		}
		var meta map[string]any
		if metadatas != nil && metadatas[i] != nil {
			meta = maps.Clone(metadatas[i])
		}

		if pos, ok := c.index[id]; ok {
			rec := &c.records[pos]
			if emb != nil {
				rec.Embedding = emb
			}
			if meta != nil {
				rec.Metadata = meta
			}
			if documents != nil {
				rec.Content = documents[i]
			}
			continue
		}

		rec := Record{ID: id, Embedding: emb, Metadata: meta}
		if documents != nil {
			rec.Content = documents[i]
		}
		c.index[id] = len(c.records)
		c.records = append(c.records, rec)
	}

	c.m.observe(backendMemory, opUpsert, outcomeOK)
	return nil
}

// Query ranks records by cosine similarity to each query embedding.
//
// Only records whose embedding length equals the query's are scored; ties
// keep insertion order. When the query is empty, or no record has a matching
// dimension, the first k records in insertion order are returned unranked so
// a dimension-mismatched store degrades instead of failing.
func (c *MemoryCollection) Query(_ context.Context, queryEmbeddings [][]float32, k int) [][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([][]string, len(queryEmbeddings))
	for i, q := range queryEmbeddings {
		out[i] = c.rank(q, k)
	}

	c.m.observe(backendMemory, opQuery, outcomeOK)
	return out
}

// rank returns up to k contents for a single query. Caller holds c.mu.
func (c *MemoryCollection) rank(q []float32, k int) []string {
	if k <= 0 {
		return []string{}
	}
	if len(q) == 0 {
		return c.firstK(k)
	}

	type scored struct {
		pos   int
		score float64
	}
	candidates := make([]scored, 0, len(c.records))
	for pos, rec := range c.records {
		if len(rec.Embedding) != len(q) {
			continue
		}
		candidates = append(candidates, scored{pos: pos, score: vecmath.CosineSimilarity(q, rec.Embedding)})
	}
	if len(candidates) == 0 {
		return c.firstK(k)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]string, k)
	for i := range k {
		out[i] = c.records[candidates[i].pos].Content
	}
	return out
}

// firstK returns the contents of the first k records in insertion order.
func (c *MemoryCollection) firstK(k int) []string {
	if k > len(c.records) {
		k = len(c.records)
	}
	out := make([]string, k)
	for i := range k {
		out[i] = c.records[i].Content
	}
	return out
}

// Count returns the number of records.
func (c *MemoryCollection) Count(context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records), nil
}

// Get returns a copy of the record stored under id.
func (c *MemoryCollection) Get(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pos, ok := c.index[id]
	if !ok {
		return Record{}, false
	}
	rec := c.records[pos]
	rec.Embedding = slices.Clone(rec.Embedding)
	rec.Metadata = maps.Clone(rec.Metadata)
	return rec, true
}

// memoryBackend hands out MemoryCollections by name.
type memoryBackend struct {
	// m is shared with every collection created by this backend.
	m *metrics
}

func (b *memoryBackend) name() string { return backendMemory }

func (b *memoryBackend) getOrCreate(_ context.Context, name string) (Collection, error) {
	c := NewMemoryCollection(name)
	c.m = b.m
	return c, nil
}

func (b *memoryBackend) ping(context.Context) error { return nil }

func (b *memoryBackend) close() error { return nil }
