package embedder

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for embedder metrics.
const (
	tierNative = "native"
	tierHTTP   = "http"

	outcomeOK       = "ok"
	outcomeMiss     = "miss"
	outcomeError    = "error"
	outcomeDisabled = "disabled"
)

// metrics holds the Prometheus collectors owned by a Provider. A nil
// *metrics records nothing.
type metrics struct {
	// attemptsTotal counts tier attempts by tier and outcome.
	attemptsTotal *prometheus.CounterVec

	// durationSeconds records how long each tier attempt took.
	durationSeconds *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)

	return &metrics{
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrag",
			Subsystem: "embedding",
			Name:      "attempts_total",
			Help:      "Total number of embedding tier attempts, partitioned by tier and outcome.",
		}, []string{"tier", "outcome"}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mrag",
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Duration of embedding tier attempts.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tier"}),
	}
}

func (m *metrics) attempt(tier, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(tier, outcome).Inc()
	if !start.IsZero() {
		m.durationSeconds.WithLabelValues(tier).Observe(time.Since(start).Seconds())
	}
}
