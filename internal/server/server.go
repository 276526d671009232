// Package server implements the HTTP API that exposes manifesto retrieval,
// embedding and ingestion. The server is started by the `mrag serve` CLI
// command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/manifesto-rag/internal/ingestion"
	"github.com/54b3r/manifesto-rag/internal/logging"
	"github.com/54b3r/manifesto-rag/internal/rag"
)

// maxTopK bounds the topK a caller may request.
const maxTopK = 50

// maxJSONBytes caps the body of the small JSON endpoints.
const maxJSONBytes = 1 << 20

// Messages returned at the retrieval boundary. Embedding and querying
// degrade silently below this layer; these are the diagnosable forms.
const (
	msgNoEmbedding = "could not generate embedding, check provider"
	msgNoContext   = "no relevant context found, check that ingestion has run"
)

// New constructs a Server from the provided collaborators and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Retriever == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("server: embedder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = time.Minute
	}
	if cfg.IngestTimeout == 0 {
		cfg.IngestTimeout = 10 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// Must outlast the longest handler, which is ingest.
		cfg.WriteTimeout = cfg.IngestTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxIngestBytes == 0 {
		cfg.MaxIngestBytes = 32 << 20
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		reg := prometheus.NewRegistry()
		cfg.MetricsRegistry = reg
		if cfg.MetricsGatherer == nil {
			cfg.MetricsGatherer = reg
		}
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		retriever: deps.Retriever,
		embedder:  deps.Embedder,
		ingester:  deps.Ingester,
		counter:   deps.Counter,
		cfg:       cfg,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}
	s.collections = allowedCollections(deps, cfg.Collections)

	if cfg.APIKey == "" {
		s.log.Warn("server: MRAG_API_KEY not set, API authentication is disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stop

	// protected wraps a POST handler with auth and per-IP rate limiting.
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.metrics.instrument(name, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/retrieve", protected("retrieve", s.handleRetrieve))
	mux.Handle("POST /api/embed", protected("embed", s.handleEmbed))
	if s.ingester != nil {
		mux.Handle("POST /api/ingest", protected("ingest", s.handleIngest))
	}
	if s.counter != nil {
		mux.Handle("GET /api/stats", s.metrics.instrument("stats", authMiddleware(cfg.APIKey, http.HandlerFunc(s.handleStats))))
	}
	mux.Handle("GET /api/health", s.metrics.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.metrics.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// allowedCollections builds the set of collection names requests may name.
func allowedCollections(deps Deps, extra []string) map[string]struct{} {
	set := map[string]struct{}{deps.Retriever.Collection(): {}}
	if deps.Ingester != nil {
		set[deps.Ingester.Collection()] = struct{}{}
	}
	for _, name := range extra {
		if name = strings.TrimSpace(name); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

// resolveCollection maps a requested collection name to the one to use.
// Empty selects the retriever's collection. Names outside the allowed set
// are refused so a read never creates a collection on the backend.
func (s *Server) resolveCollection(name string) (string, bool) {
	if name == "" || name == s.retriever.Collection() {
		return s.retriever.Collection(), true
	}
	_, ok := s.collections[name]
	return name, ok
}

// Handler returns the fully wired HTTP handler. Used by tests and by
// callers embedding the API in another server.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleRetrieve handles POST /api/retrieve. An empty embedding is reported
// as 502 because the fault lies with the embedding provider; an empty
// result is a 200 carrying msgNoContext.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req retrieveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("topK must be between 0 and %d", maxTopK))
		return
	}
	collection, ok := s.resolveCollection(req.Collection)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown collection %q", req.Collection))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	fragments, err := s.retriever.RetrieveFrom(ctx, collection, req.Query, req.TopK)
	switch {
	case errors.Is(err, rag.ErrNoEmbedding):
		s.metrics.retrieveTotal.WithLabelValues(outcomeNoEmbedding).Inc()
		log.Warn("retrieve: no embedding for query", slog.String("collection", collection))
		writeError(w, http.StatusBadGateway, msgNoEmbedding)
		return
	case err != nil:
		s.metrics.retrieveTotal.WithLabelValues(outcomeError).Inc()
		log.Error("retrieve: failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}

	resp := retrieveResponse{
		Query:      req.Query,
		Collection: collection,
		Fragments:  fragments,
	}
	if len(fragments) == 0 {
		s.metrics.retrieveTotal.WithLabelValues(outcomeEmpty).Inc()
		resp.Fragments = []string{}
		resp.Message = msgNoContext
	} else {
		s.metrics.retrieveTotal.WithLabelValues(outcomeOK).Inc()
	}
	s.metrics.retrieveFragments.Observe(float64(len(fragments)))

	writeJSON(w, http.StatusOK, resp)
}

// handleEmbed handles POST /api/embed and returns the raw vector. Useful for
// checking which model and dimension a deployment is actually serving.
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	vec := s.embedder.GenerateEmbedding(ctx, req.Text)
	if len(vec) == 0 {
		writeError(w, http.StatusBadGateway, msgNoEmbedding)
		return
	}
	writeJSON(w, http.StatusOK, embedResponse{Dimensions: len(vec), Embedding: vec})
}

// handleIngest handles POST /api/ingest. The body is a JSON array of chunks
// or JSON Lines, the same formats `mrag ingest --file` accepts.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	chunks, err := ingestion.LoadChunks(http.MaxBytesReader(w, r.Body, s.cfg.MaxIngestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(chunks) == 0 {
		writeError(w, http.StatusBadRequest, "no chunks in request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.IngestTimeout)
	defer cancel()

	report, err := s.ingester.Ingest(ctx, chunks, func(msg string) {
		log.Debug("ingest: progress", slog.String("status", msg))
	})
	s.recordIngest(report)
	if err != nil {
		log.Error("ingest: failed", slog.Any("error", err), slog.Int("upserted", report.Upserted))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) recordIngest(rep ingestion.Report) {
	s.metrics.ingestChunksTotal.WithLabelValues("upserted").Add(float64(rep.Upserted))
	s.metrics.ingestChunksTotal.WithLabelValues("unchanged").Add(float64(rep.Unchanged))
	s.metrics.ingestChunksTotal.WithLabelValues("invalid").Add(float64(rep.Invalid))
	s.metrics.ingestChunksTotal.WithLabelValues("no_embedding").Add(float64(rep.NoEmbedding))
}

// handleStats handles GET /api/stats?collection=name.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	requested := r.URL.Query().Get("collection")
	collection, ok := s.resolveCollection(requested)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown collection %q", requested))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	n, err := s.counter.Count(ctx, collection)
	if err != nil {
		logging.FromContext(ctx).Warn("stats: count failed", slog.String("collection", collection), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "could not count collection")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Backend: s.counter.Backend(), Collection: collection, Count: n})
}

// decodeJSON decodes a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
