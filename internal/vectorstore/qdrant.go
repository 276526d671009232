package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/54b3r/manifesto-rag/internal/logging"
)

// Payload keys written on every Qdrant point.
const (
	payloadChunkID  = "chunk_id"
	payloadContent  = "content"
	payloadMetadata = "metadata"
)

// pointNamespace seeds the name-based UUIDs derived from chunk ids. Qdrant
// only accepts unsigned integers or UUIDs as point ids.
var pointNamespace = uuid.MustParse("0c5b2f8e-6d7a-4e53-9a51-2f3f0e8d4b61")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// VectorSize is the dimensionality of the embeddings stored in new
	// collections. Qdrant collections have a fixed dimension.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// qdrantBackend creates QdrantCollections on one Qdrant instance.
type qdrantBackend struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client
	// vectorSize is applied to collections this backend creates.
	vectorSize uint64
	// m records operation outcomes; may be nil.
	m *metrics
}

func newQdrantBackend(cfg QdrantConfig, m *metrics) (*qdrantBackend, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &qdrantBackend{client: client, vectorSize: cfg.VectorSize, m: m}, nil
}

func (b *qdrantBackend) name() string { return backendQdrant }

// getOrCreate creates the collection if it does not already exist. A create
// that races with another writer and returns AlreadyExists counts as success.
func (b *qdrantBackend) getOrCreate(ctx context.Context, name string) (Collection, error) {
	start := time.Now()
	defer b.m.since(backendQdrant, opCreate, start)

	exists, err := b.client.CollectionExists(ctx, name)
	if err != nil {
		b.m.observe(backendQdrant, opCreate, outcomeError)
		return nil, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     b.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && status.Code(err) != codes.AlreadyExists {
			b.m.observe(backendQdrant, opCreate, outcomeError)
			return nil, fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
		}
	}

	b.m.observe(backendQdrant, opCreate, outcomeOK)
	return &QdrantCollection{backend: b, name: name}, nil
}

func (b *qdrantBackend) ping(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

func (b *qdrantBackend) close() error { return b.client.Close() }

// QdrantCollection is a Collection backed by a Qdrant collection using
// cosine distance.
type QdrantCollection struct {
	// backend owns the gRPC client.
	backend *qdrantBackend
	// name is the Qdrant collection name.
	name string
}

// Name returns the collection name.
func (c *QdrantCollection) Name() string { return c.name }

// PointID maps a chunk id to the Qdrant point UUID it is stored under.
func PointID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

// Upsert writes one point per id and waits for the write to be applied.
// Qdrant points always carry a vector, so every id needs an embedding.
func (c *QdrantCollection) Upsert(ctx context.Context, ids []string, embeddings [][]float32, metadatas []map[string]any, documents []string) error {
	if err := validateUpsert(ids, embeddings, metadatas, documents); err != nil {
		c.backend.m.observe(backendQdrant, opUpsert, outcomeError)
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		if embeddings == nil || len(embeddings[i]) == 0 {
			c.backend.m.observe(backendQdrant, opUpsert, outcomeError)
			return fmt.Errorf("qdrant: record %q has no embedding", id)
		}

		payload := map[string]any{payloadChunkID: id}
		if documents != nil {
			payload[payloadContent] = documents[i]
		}
		if metadatas != nil && metadatas[i] != nil {
			payload[payloadMetadata] = metadatas[i]
		}
		values, err := qdrant.TryValueMap(payload)
		if err != nil {
			c.backend.m.observe(backendQdrant, opUpsert, outcomeError)
			return fmt.Errorf("qdrant: payload for %q: %w", id, err)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(id)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: values,
		})
	}

	start := time.Now()
	defer c.backend.m.since(backendQdrant, opUpsert, start)

	_, err := c.backend.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		c.backend.m.observe(backendQdrant, opUpsert, outcomeError)
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	c.backend.m.observe(backendQdrant, opUpsert, outcomeOK)
	return nil
}

// Query runs one similarity search per query embedding. A failed search is
// logged at WARN and yields an empty list for that query.
func (c *QdrantCollection) Query(ctx context.Context, queryEmbeddings [][]float32, k int) [][]string {
	out := emptyResult(len(queryEmbeddings))
	if k <= 0 {
		return out
	}

	log := logging.FromContext(ctx)
	limit := uint64(k)
	for i, q := range queryEmbeddings {
		if len(q) == 0 {
			continue
		}

		start := time.Now()
		results, err := c.backend.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: c.name,
			Query:          qdrant.NewQuery(q...),
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		c.backend.m.since(backendQdrant, opQuery, start)
		if err != nil {
			c.backend.m.observe(backendQdrant, opQuery, outcomeError)
			log.Warn("qdrant: query failed, returning no results",
				slog.String("collection", c.name),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, r := range results {
			if v, ok := r.GetPayload()[payloadContent]; ok {
				out[i] = append(out[i], v.GetStringValue())
			}
		}
		c.backend.m.observe(backendQdrant, opQuery, outcomeOK)
	}
	return out
}

// Count returns the exact number of points in the collection.
func (c *QdrantCollection) Count(ctx context.Context) (int, error) {
	n, err := c.backend.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		c.backend.m.observe(backendQdrant, opCount, outcomeError)
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	c.backend.m.observe(backendQdrant, opCount, outcomeOK)
	return int(n), nil
}
