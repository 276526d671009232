package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/54b3r/manifesto-rag/internal/embedder"
	"github.com/54b3r/manifesto-rag/internal/logging"
	"github.com/54b3r/manifesto-rag/internal/rag"
	"github.com/54b3r/manifesto-rag/internal/store"
	"github.com/54b3r/manifesto-rag/internal/vectorstore"
)

// core bundles the collaborators every retrieval command needs.
type core struct {
	embedder  *embedder.Provider
	store     *vectorstore.Store
	retriever *rag.DefaultRetriever
	registry  *prometheus.Registry
}

// Close releases the vector store connection.
func (c *core) Close() {
	if err := c.store.Close(); err != nil {
		slog.Warn("vector store close failed", slog.Any("error", err))
	}
}

// newRegistry returns a registry carrying the Go runtime and process
// collectors next to the application metrics.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildCore resolves the embedder, vector store and retriever from the
// environment. Configuration errors are returned; an unreachable embedding
// server or store is not, because both degrade per call.
func buildCore(ctx context.Context) (*core, error) {
	log := logging.FromContext(ctx)
	reg := newRegistry()

	embCfg := embedder.ConfigFromEnv(reg)
	if err := embedder.Validate(log, embCfg); err != nil {
		return nil, err
	}
	emb, err := embedder.NewProvider(ctx, embCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("native_client", emb.NativeName()),
		slog.String("model", embCfg.Model),
		slog.String("endpoint", emb.Endpoint()),
	)

	dims := embCfg.Dimensions
	if dims <= 0 {
		dims = embedder.DefaultDimensions(embCfg.Model)
	}
	vs, err := vectorstore.New(vectorstore.ConfigFromEnv(dims, reg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise vector store: %w", err)
	}
	log.Info("vector store ready", slog.String("backend", vs.Backend()))

	retriever, err := rag.NewRetriever(emb, vs, &rag.RetrieverConfig{
		Collection:       collectionName(),
		DefaultTopK:      getEnvInt("RETRIEVAL_TOP_K", 5),
		MaxContextTokens: getEnvInt("RETRIEVAL_MAX_CONTEXT_TOKENS", 0),
	})
	if err != nil {
		_ = vs.Close()
		return nil, err
	}

	return &core{embedder: emb, store: vs, retriever: retriever, registry: reg}, nil
}

// openManifest opens the ingestion manifest named by MRAG_MANIFEST_DB
// (default ~/.mrag/manifest.db). It returns nil when the manifest is
// disabled or when the vector store is in-memory, since an in-process store
// starts empty and a manifest would wrongly report its chunks as present.
func openManifest(log *slog.Logger, backend string) (store.Manifest, func()) {
	noop := func() {}
	if backend == vectorstore.BackendMemory {
		log.Info("manifest: skipped for the in-memory vector store")
		return nil, noop
	}

	dbPath := os.Getenv("MRAG_MANIFEST_DB")
	if dbPath == "disabled" {
		log.Info("manifest: disabled via MRAG_MANIFEST_DB=disabled")
		return nil, noop
	}
	if dbPath == "" {
		var err error
		if dbPath, err = store.DefaultDBPath(); err != nil {
			log.Warn("manifest: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, noop
		}
	}

	m, err := store.Open(dbPath)
	if err != nil {
		log.Warn("manifest: failed to open, disabling", slog.Any("error", err))
		return nil, noop
	}
	log.Info("manifest: opened", slog.String("path", dbPath))
	return m, func() { _ = m.Close() }
}

// collectionName returns COLLECTION_NAME or the shared default.
func collectionName() string {
	return getEnvOrDefault("COLLECTION_NAME", rag.DefaultCollection)
}

// getEnvOrDefault returns the env var value or fallback when unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvInt returns the env var parsed as int, or fallback.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
