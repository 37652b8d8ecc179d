package scrape

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts state-machine transitions, grounded on
// internal/infra/worker/metrics.go's promauto-per-status shape.
type Metrics struct {
	StateTransitionsTotal *prometheus.CounterVec
}

var (
	singletonMetrics *Metrics
	metricsOnce      sync.Once
)

// NewMetrics returns the process-wide scraper orchestration metrics; see
// internal/infra/dispatch.NewMetrics for why this is a singleton.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		singletonMetrics = &Metrics{
			StateTransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "scrape_state_transitions_total",
				Help: "Total scraper orchestration state transitions by state",
			}, []string{"state"}),
		}
	})
	return singletonMetrics
}

func (m *Metrics) RecordState(state string) {
	m.StateTransitionsTotal.WithLabelValues(state).Inc()
}
