package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/manifesto-rag/internal/ingestion"
	"github.com/54b3r/manifesto-rag/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// RequestTimeout bounds the embed/query work done for one API call.
	// Ingest requests get IngestTimeout instead.
	RequestTimeout time.Duration
	// IngestTimeout bounds one POST /api/ingest call (default: 10m).
	IngestTimeout time.Duration
	// MaxIngestBytes caps the POST /api/ingest body (default: 32 MiB).
	MaxIngestBytes int64
	// Collections lists extra collection names a caller may select on
	// retrieve and stats. The retriever's and ingester's own collections are
	// always allowed; any other name is rejected with 400.
	Collections []string
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on the POST
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's collectors. When nil a private
	// registry is created and also used as MetricsGatherer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics.
	MetricsGatherer prometheus.Gatherer
}

// retriever is what handleRetrieve calls. *rag.DefaultRetriever satisfies
// it; tests inject a fake.
type retriever interface {
	RetrieveFrom(ctx context.Context, collection, query string, topK int) ([]string, error)
	Collection() string
}

// ingester is what handleIngest calls. *ingestion.Pipeline satisfies it.
type ingester interface {
	Ingest(ctx context.Context, chunks []rag.Chunk, progress func(msg string)) (ingestion.Report, error)
	Collection() string
}

// counter reports collection sizes for GET /api/stats.
// *vectorstore.Store satisfies it.
type counter interface {
	Count(ctx context.Context, collection string) (int, error)
	Backend() string
}

// Deps are the domain collaborators served over HTTP. Retriever and
// Embedder are required; Ingester and Counter are optional and their
// routes are not registered when nil.
type Deps struct {
	Retriever retriever
	Embedder  rag.Embedder
	Ingester  ingester
	Counter   counter
}

// Server is the HTTP server that exposes manifesto retrieval.
type Server struct {
	// retriever runs embed → query → trim for POST /api/retrieve.
	retriever retriever
	// embedder backs POST /api/embed.
	embedder rag.Embedder
	// ingester backs POST /api/ingest; nil disables the route.
	ingester ingester
	// counter backs GET /api/stats; nil disables the route.
	counter counter
	// cfg holds the resolved server configuration.
	cfg *Config
	// collections is the set of names a request may select.
	collections map[string]struct{}
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// retrieveRequest is the JSON body for POST /api/retrieve.
type retrieveRequest struct {
	// Query is the natural-language question.
	Query string `json:"query"`
	// TopK is the number of fragments wanted; zero uses the server default.
	TopK int `json:"topK,omitempty"`
	// Collection overrides the configured collection.
	Collection string `json:"collection,omitempty"`
}

// retrieveResponse is the JSON response for POST /api/retrieve.
type retrieveResponse struct {
	Query      string   `json:"query"`
	Collection string   `json:"collection"`
	Fragments  []string `json:"fragments"`
	// Message explains an empty Fragments list.
	Message string `json:"message,omitempty"`
}

// embedRequest is the JSON body for POST /api/embed.
type embedRequest struct {
	Text string `json:"text"`
}

// embedResponse is the JSON response for POST /api/embed.
type embedResponse struct {
	Dimensions int       `json:"dimensions"`
	Embedding  []float32 `json:"embedding"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	Backend    string `json:"backend"`
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
