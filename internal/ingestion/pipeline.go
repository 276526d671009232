// Package ingestion implements the chunk ingestion pipeline. It loads
// pre-chunked manifesto text, embeds each chunk, and upserts the results into
// the vector store in batches, consulting the ingestion manifest to skip
// chunks that are already stored unchanged.
// This pipeline is invoked by the `mrag ingest` CLI command and POST /api/ingest.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/manifesto-rag/internal/logging"
	"github.com/54b3r/manifesto-rag/internal/rag"
	"github.com/54b3r/manifesto-rag/internal/store"
)

// DefaultBatchSize is the number of chunks sent per upsert call.
const DefaultBatchSize = 64

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Collection is the target collection. Defaults to rag.DefaultCollection.
	Collection string

	// BatchSize is the number of chunks per upsert. Defaults to DefaultBatchSize.
	BatchSize int

	// Force re-embeds and re-upserts chunks the manifest reports as unchanged.
	Force bool
}

// Report summarises one Ingest run.
type Report struct {
	// Total is the number of chunks received.
	Total int `json:"total"`
	// Invalid is the number dropped for empty content.
	Invalid int `json:"invalid"`
	// Unchanged is the number skipped because the manifest already had them.
	Unchanged int `json:"unchanged"`
	// NoEmbedding is the number skipped because no embedding was produced.
	NoEmbedding int `json:"noEmbedding"`
	// Upserted is the number written to the vector store.
	Upserted int `json:"upserted"`
}

// Pipeline orchestrates the normalise → embed → upsert flow for chunks.
type Pipeline struct {
	// embedder converts chunk text into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// manifest records what was ingested; nil disables skipping.
	manifest store.Manifest

	// cfg holds the resolved pipeline configuration.
	cfg Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// manifest may be nil.
func NewPipeline(embedder rag.Embedder, vs rag.VectorStore, manifest store.Manifest, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}

	var resolved Config
	if cfg != nil {
		resolved = *cfg
	}
	if resolved.Collection == "" {
		resolved.Collection = rag.DefaultCollection
	}
	if resolved.BatchSize <= 0 {
		resolved.BatchSize = DefaultBatchSize
	}

	return &Pipeline{
		embedder: embedder,
		store:    vs,
		manifest: manifest,
		cfg:      resolved,
	}, nil
}

// Collection returns the collection this pipeline writes to.
func (p *Pipeline) Collection() string { return p.cfg.Collection }

// batch accumulates the parallel slices for one upsert call.
type batch struct {
	ids        []string
	embeddings [][]float32
	metadatas  []map[string]any
	documents  []string
	entries    []store.Entry
}

func (b *batch) add(c rag.Chunk, vec []float32, hash string) {
	b.ids = append(b.ids, c.ID)
	b.embeddings = append(b.embeddings, vec)
	b.metadatas = append(b.metadatas, c.Metadata())
	b.documents = append(b.documents, c.Content)
	b.entries = append(b.entries, store.Entry{ChunkID: c.ID, ContentHash: hash})
}

func (b *batch) len() int { return len(b.ids) }

// Ingest embeds and stores chunks. Chunks with empty content are dropped,
// chunks whose embedding comes back empty are skipped and counted, and
// upsert or manifest failures abort the run and are returned.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, chunks []rag.Chunk, progress func(msg string)) (Report, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx).With(slog.String("collection", p.cfg.Collection))

	report := Report{Total: len(chunks)}
	valid, invalid := Normalize(chunks)
	report.Invalid = invalid
	if invalid > 0 {
		log.Warn("ingestion: dropped chunks with empty content", slog.Int("count", invalid))
	}

	b := &batch{}
	for _, c := range valid {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("ingestion: %w", err)
		}

		hash := ContentHash(c.Content)
		if p.manifest != nil && !p.cfg.Force {
			seen, err := p.manifest.Seen(ctx, p.cfg.Collection, c.ID, hash)
			if err != nil {
				return report, fmt.Errorf("ingestion: manifest lookup for %s: %w", c.ID, err)
			}
			if seen {
				report.Unchanged++
				continue
			}
		}

		vec := p.embedder.GenerateEmbedding(ctx, c.Content)
		if len(vec) == 0 {
			report.NoEmbedding++
			log.Debug("ingestion: no embedding for chunk, skipping", slog.String("chunk_id", c.ID))
			continue
		}

		b.add(c, vec, hash)
		if b.len() >= p.cfg.BatchSize {
			if err := p.flush(ctx, b); err != nil {
				return report, err
			}
			report.Upserted += b.len()
			progress(fmt.Sprintf("upserted %d/%d chunks", report.Upserted, len(valid)))
			b = &batch{}
		}
	}

	if b.len() > 0 {
		if err := p.flush(ctx, b); err != nil {
			return report, err
		}
		report.Upserted += b.len()
		progress(fmt.Sprintf("upserted %d/%d chunks", report.Upserted, len(valid)))
	}

	if report.NoEmbedding > 0 {
		log.Warn("ingestion: chunks skipped because no embedding was produced, check provider",
			slog.Int("count", report.NoEmbedding),
		)
	}
	log.Info("ingestion: complete",
		slog.Int("total", report.Total),
		slog.Int("upserted", report.Upserted),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("no_embedding", report.NoEmbedding),
		slog.Int("invalid", report.Invalid),
	)
	return report, nil
}

// flush upserts one batch and then records it in the manifest.
func (p *Pipeline) flush(ctx context.Context, b *batch) error {
	if err := p.store.Upsert(ctx, p.cfg.Collection, b.ids, b.embeddings, b.metadatas, b.documents); err != nil {
		return fmt.Errorf("ingestion: upsert batch of %d: %w", b.len(), err)
	}
	if p.manifest != nil {
		if err := p.manifest.Record(ctx, p.cfg.Collection, b.entries); err != nil {
			return fmt.Errorf("ingestion: record manifest: %w", err)
		}
	}
	return nil
}
