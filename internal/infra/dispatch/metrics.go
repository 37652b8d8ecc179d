package dispatch

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Dispatcher's Prometheus surface, grounded on
// internal/infra/worker/metrics.go's promauto-vec-per-status shape.
type Metrics struct {
	HandlerRunsTotal       *prometheus.CounterVec
	HandlerDurationSeconds *prometheus.HistogramVec
	DLQTotal               *prometheus.CounterVec
	DiscardedTotal         *prometheus.CounterVec
}

var (
	singletonMetrics *Metrics
	metricsOnce      sync.Once
)

// NewMetrics returns the process-wide Dispatcher metrics. Every call returns
// the same instance: promauto registers metrics globally on first
// construction, so a second construction (multiple Dispatchers in one
// process, or repeated test setup) would otherwise panic on duplicate
// registration.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		singletonMetrics = &Metrics{
			HandlerRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dispatch_handler_runs_total",
				Help: "Total dispatcher handler invocations by queue and status (success/failure)",
			}, []string{"queue", "status"}),

			HandlerDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "dispatch_handler_duration_seconds",
				Help:    "Duration of a dispatcher handler invocation by queue",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30},
			}, []string{"queue"}),

			DLQTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dispatch_dlq_total",
				Help: "Total messages routed to DLQ by queue",
			}, []string{"queue"}),

			DiscardedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dispatch_discarded_total",
				Help: "Total messages discarded for an unregistered queue name",
			}, []string{"queue"}),
		}
	})
	return singletonMetrics
}

func (m *Metrics) RecordSuccess(queue string) {
	m.HandlerRunsTotal.WithLabelValues(queue, "success").Inc()
}

func (m *Metrics) RecordFailure(queue string) {
	m.HandlerRunsTotal.WithLabelValues(queue, "failure").Inc()
}

func (m *Metrics) RecordHandlerDuration(queue string, d time.Duration) {
	m.HandlerDurationSeconds.WithLabelValues(queue).Observe(d.Seconds())
}

func (m *Metrics) RecordDLQ(queue string) {
	m.DLQTotal.WithLabelValues(queue).Inc()
}

func (m *Metrics) RecordDiscarded(queue string) {
	m.DiscardedTotal.WithLabelValues(queue).Inc()
}
