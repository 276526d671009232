package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/manifesto-rag/internal/ingestion"
	"github.com/54b3r/manifesto-rag/internal/logging"
	"github.com/54b3r/manifesto-rag/internal/server"
)

// NewServeCmd constructs the `mrag serve` command, which exposes retrieval,
// embedding and ingestion over HTTP.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var collections []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mrag HTTP API",
		Long: `Start the mrag HTTP API.

Endpoints:
  POST /api/retrieve   {"query": "...", "topK": 5, "collection": "..."}
  POST /api/embed      {"text": "..."}
  POST /api/ingest     JSON array or JSON Lines of chunks
  GET  /api/stats      ?collection=...
  GET  /api/health     liveness
  GET  /api/ready      embedding provider and vector store reachability
  GET  /metrics        Prometheus metrics

Set MRAG_API_KEY to require "Authorization: Bearer <key>" on /api/* routes
other than health and ready.

Requests may only name the configured collection or one listed with
--allow-collection (env: MRAG_COLLECTIONS, comma-separated).

Examples:
  mrag serve
  mrag serve --port 9090
  VECTOR_STORE=qdrant QDRANT_HOST=localhost mrag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			c, err := buildCore(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer c.Close()

			manifest, closeManifest := openManifest(log, c.store.Backend())
			defer closeManifest()

			pipeline, err := ingestion.NewPipeline(c.embedder, c.store, manifest, &ingestion.Config{
				Collection: c.retriever.Collection(),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create ingestion pipeline: %w", err)
			}

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("MRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("MRAG_PORT", port)
			}
			if !cmd.Flags().Changed("allow-collection") {
				collections = splitList(os.Getenv("MRAG_COLLECTIONS"))
			}

			srv, err := server.New(server.Deps{
				Retriever: c.retriever,
				Embedder:  c.embedder,
				Ingester:  pipeline,
				Counter:   c.store,
			}, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				Pingers: []server.Pinger{
					server.NewEmbedderPinger(c.embedder),
					server.NewVectorStorePinger(c.store),
				},
				APIKey:          os.Getenv("MRAG_API_KEY"),
				Collections:     collections,
				MetricsRegistry: c.registry,
				MetricsGatherer: c.registry,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("addr", srv.Addr()),
				slog.String("collection", c.retriever.Collection()),
				slog.String("vector_store", c.store.Backend()),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: MRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: MRAG_PORT)")
	cmd.Flags().StringSliceVar(&collections, "allow-collection", nil, "Extra collection a request may name; repeatable (env: MRAG_COLLECTIONS)")

	return cmd
}
