package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/manifesto-rag/internal/logging"
)

// ErrUnknownBackend is returned by New for an unrecognised backend name.
var ErrUnknownBackend = errors.New("vectorstore: unknown backend")

// Backend names accepted by Config.Backend.
const (
	BackendMemory = backendMemory
	BackendChroma = backendChroma
	BackendQdrant = backendQdrant
)

// backend creates collections and reports reachability for one kind of
// store. Collection creation must be idempotent.
type backend interface {
	name() string
	getOrCreate(ctx context.Context, name string) (Collection, error)
	ping(ctx context.Context) error
	close() error
}

// Config selects and configures the Store backend.
type Config struct {
	// Backend is one of memory, chroma or qdrant. Empty means memory.
	Backend string

	// Chroma configures the chroma backend.
	Chroma ChromaConfig

	// Qdrant configures the qdrant backend.
	Qdrant QdrantConfig

	// Registerer receives the store metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

// Store owns named collections for one backend. Collections are created
// lazily on first use and cached for the life of the Store.
type Store struct {
	// backend creates collections.
	backend backend

	// mu guards collections. It is not held across backend calls, so a
	// slow create never blocks access to already-cached collections.
	mu sync.Mutex

	// collections caches resolved collections by name.
	collections map[string]Collection
}

// New constructs a Store for cfg.Backend. Remote backends validate their
// configuration here but do not contact the server until first use.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	m := newMetrics(cfg.Registerer)

	var (
		b   backend
		err error
	)
	switch cfg.Backend {
	case "", BackendMemory:
		b = &memoryBackend{m: m}
	case BackendChroma:
		b, err = newChromaBackend(cfg.Chroma, m)
	case BackendQdrant:
		b, err = newQdrantBackend(cfg.Qdrant, m)
	default:
		return nil, fmt.Errorf("%w %q: valid values are memory, chroma, qdrant", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return &Store{
		backend:     b,
		collections: make(map[string]Collection),
	}, nil
}

// NewMemory returns a Store backed by MemoryCollections without metrics.
func NewMemory() *Store {
	s, _ := New(&Config{Backend: BackendMemory})
	return s
}

// Backend returns the backend name: memory, chroma or qdrant.
func (s *Store) Backend() string { return s.backend.name() }

// GetOrCreateCollection returns the named collection, creating it on the
// backend on first use. Repeated calls return the same Collection. Concurrent
// first uses of one name may each ask the backend to create it, which is
// idempotent; the first result cached wins.
func (s *Store) GetOrCreateCollection(ctx context.Context, name string) (Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("vectorstore: collection name must not be empty")
	}

	s.mu.Lock()
	c, ok := s.collections[name]
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	created, err := s.backend.getOrCreate(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	c, ok = s.collections[name]
	if !ok {
		c = created
		s.collections[name] = c
	}
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	logging.FromContext(ctx).Debug("vectorstore: collection ready",
		slog.String("backend", s.backend.name()),
		slog.String("collection", name),
	)
	return c, nil
}

// Upsert resolves the named collection and upserts into it. Resolution and
// write failures are returned.
func (s *Store) Upsert(ctx context.Context, collection string, ids []string, embeddings [][]float32, metadatas []map[string]any, documents []string) error {
	c, err := s.GetOrCreateCollection(ctx, collection)
	if err != nil {
		return err
	}
	return c.Upsert(ctx, ids, embeddings, metadatas, documents)
}

// Query resolves the named collection and queries it. A collection that
// cannot be resolved yields empty results and a WARN log.
func (s *Store) Query(ctx context.Context, collection string, queryEmbeddings [][]float32, k int) [][]string {
	c, err := s.GetOrCreateCollection(ctx, collection)
	if err != nil {
		logging.FromContext(ctx).Warn("vectorstore: collection unavailable, returning no results",
			slog.String("backend", s.backend.name()),
			slog.String("collection", collection),
			slog.String("error", err.Error()),
		)
		return emptyResult(len(queryEmbeddings))
	}
	return c.Query(ctx, queryEmbeddings, k)
}

// Count returns the number of records in the named collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	c, err := s.GetOrCreateCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	return c.Count(ctx)
}

// Ping reports whether the backend is reachable. The memory backend is
// always reachable.
func (s *Store) Ping(ctx context.Context) error { return s.backend.ping(ctx) }

// Close releases the backend client.
func (s *Store) Close() error { return s.backend.close() }
