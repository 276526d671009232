package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/manifesto-rag/internal/ingestion"
	"github.com/54b3r/manifesto-rag/internal/logging"
	"github.com/54b3r/manifesto-rag/internal/rag"
	"github.com/54b3r/manifesto-rag/internal/vectorstore"
)

// NewIngestCmd constructs the `mrag ingest` command, which embeds chunk
// files and upserts them into the vector store.
func NewIngestCmd() *cobra.Command {
	var files []string
	var collection string
	var batchSize int
	var force bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed manifesto chunk files and store them in the vector store",
		Long: `Embed pre-chunked manifesto text and upsert it into the vector store.

Each --file is a JSON array of chunks or JSON Lines, one chunk per line:

  {"id":"...","content":"...","partyName":"...","theme":"...","pageNumber":3}

Chunks without an id get a deterministic one from party, page and position.
Chunks without a party inherit one inferred from the file name
(e.g. green-party-manifesto-2024.jsonl).

A manifest database (MRAG_MANIFEST_DB, default ~/.mrag/manifest.db) records
what was stored so unchanged chunks are skipped on the next run; --force
re-embeds everything.

The in-memory vector store does not outlive the process. Point VECTOR_STORE
at chroma or qdrant for ingestion that later queries can see.

Examples:
  mrag ingest --file chunks/labour-2024.jsonl
  CHROMA_URL=http://localhost:8000 mrag ingest -f a.json -f b.jsonl --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if len(files) == 0 {
				return fmt.Errorf("ingest: at least one --file is required")
			}

			var chunks []rag.Chunk
			for _, f := range files {
				loaded, err := ingestion.LoadFile(f)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Info("loaded chunk file", slog.String("file", f), slog.Int("chunks", len(loaded)))
				chunks = append(chunks, loaded...)
			}

			c, err := buildCore(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer c.Close()

			if c.store.Backend() == vectorstore.BackendMemory {
				log.Warn("ingest: using the in-memory vector store, results are discarded on exit")
			}

			manifest, closeManifest := openManifest(log, c.store.Backend())
			defer closeManifest()

			if collection == "" {
				collection = collectionName()
			}
			pipeline, err := ingestion.NewPipeline(c.embedder, c.store, manifest, &ingestion.Config{
				Collection: collection,
				BatchSize:  batchSize,
				Force:      force,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			report, err := pipeline.Ingest(ctx, chunks, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed after %d upserts: %w", report.Upserted, err)
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Printf("collection %s: %d chunks, %d upserted, %d unchanged, %d without embedding, %d invalid\n",
				pipeline.Collection(), report.Total, report.Upserted, report.Unchanged, report.NoEmbedding, report.Invalid)
			if report.Total > report.Invalid && report.Upserted == 0 && report.Unchanged == 0 {
				return fmt.Errorf("ingest: no chunk could be embedded, check provider")
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Chunk file to ingest, JSON array or JSON Lines (repeatable)")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Target collection (default: COLLECTION_NAME or manifesto-chunks)")
	cmd.Flags().IntVar(&batchSize, "batch", ingestion.DefaultBatchSize, "Chunks per upsert call")
	cmd.Flags().BoolVar(&force, "force", false, "Re-embed chunks the manifest reports as unchanged")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the ingestion report as JSON")

	return cmd
}
