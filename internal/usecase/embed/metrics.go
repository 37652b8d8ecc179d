package embed

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts EMBED/TAG handler outcomes, grounded on
// internal/usecase/scrape/metrics.go's promauto-per-state shape.
type Metrics struct {
	EmbeddingsUpsertedTotal prometheus.Counter
	TagsUpdatedTotal        prometheus.Counter
}

var (
	singletonMetrics *Metrics
	metricsOnce      sync.Once
)

// NewMetrics returns the process-wide embed/tag handler metrics; see
// internal/infra/dispatch.NewMetrics for why this is a singleton.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		singletonMetrics = &Metrics{
			EmbeddingsUpsertedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "embed_embeddings_upserted_total",
				Help: "Total article embeddings upserted by the EMBED dispatcher handler",
			}),
			TagsUpdatedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "embed_tags_updated_total",
				Help: "Total summary tag sets updated by the TAG dispatcher handler",
			}),
		}
	})
	return singletonMetrics
}
