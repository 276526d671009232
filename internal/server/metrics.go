package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by logical endpoint name rather than
// raw URL path.
const labelHandler = "handler"

// Retrieval outcomes.
const (
	outcomeOK          = "ok"
	outcomeEmpty       = "empty"
	outcomeNoEmbedding = "no_embedding"
	outcomeError       = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New so that tests can inject a fresh
// prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// retrieveTotal counts /api/retrieve calls by outcome.
	retrieveTotal *prometheus.CounterVec

	// retrieveFragments records how many fragments each successful
	// retrieval returned after budget trimming.
	retrieveFragments prometheus.Histogram

	// ingestChunksTotal counts chunks handled by /api/ingest by result.
	ingestChunksTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		retrieveTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrag",
			Subsystem: "retrieve",
			Name:      "requests_total",
			Help:      "Total number of /api/retrieve requests, partitioned by outcome.",
		}, []string{"outcome"}),

		retrieveFragments: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mrag",
			Subsystem: "retrieve",
			Name:      "fragments",
			Help:      "Number of fragments returned per successful /api/retrieve request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),

		ingestChunksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrag",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks handled by /api/ingest, partitioned by result.",
		}, []string{"result"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records request count and latency for one named handler.
func (m *serverMetrics) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)
		m.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
