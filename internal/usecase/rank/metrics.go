package rank

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts REFRESH_HN_STATS handler outcomes, grounded on
// internal/usecase/scrape/metrics.go's promauto-per-state shape.
type Metrics struct {
	RefreshesTotal prometheus.Counter
}

var (
	singletonMetrics *Metrics
	metricsOnce      sync.Once
)

// NewMetrics returns the process-wide ranking-refresh metrics; see
// internal/infra/dispatch.NewMetrics for why this is a singleton.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		singletonMetrics = &Metrics{
			RefreshesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "rank_refreshes_total",
				Help: "Total REFRESH_HN_STATS related-article signal refreshes",
			}),
		}
	})
	return singletonMetrics
}
