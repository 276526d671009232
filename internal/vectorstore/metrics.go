package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for vectorstore metrics.
const (
	backendMemory = "memory"
	backendChroma = "chroma"
	backendQdrant = "qdrant"

	opCreate = "get_or_create"
	opUpsert = "upsert"
	opQuery  = "query"
	opCount  = "count"

	outcomeOK    = "ok"
	outcomeError = "error"
)

// metrics holds the Prometheus collectors owned by a Store. A nil *metrics
// is valid and records nothing.
type metrics struct {
	// operationsTotal counts backend operations by backend, op and outcome.
	operationsTotal *prometheus.CounterVec

	// durationSeconds records remote call latency by backend and op.
	durationSeconds *prometheus.HistogramVec
}

// newMetrics registers the vectorstore collectors against reg. A nil reg
// returns nil so callers that do not care about metrics pay nothing.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)

	return &metrics{
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrag",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations, partitioned by backend, operation and outcome.",
		}, []string{"backend", "op", "outcome"}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mrag",
			Subsystem: "vectorstore",
			Name:      "duration_seconds",
			Help:      "Latency of remote vector store calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
	}
}

func (m *metrics) observe(backend, op, outcome string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(backend, op, outcome).Inc()
}

func (m *metrics) since(backend, op string, start time.Time) {
	if m == nil {
		return
	}
	m.durationSeconds.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
