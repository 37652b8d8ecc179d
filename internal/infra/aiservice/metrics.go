package aiservice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_service_requests_total",
			Help: "Total requests made to the AI service's HTTP API, by endpoint and outcome.",
		},
		[]string{"endpoint", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_service_request_duration_seconds",
			Help:    "Duration of AI service HTTP requests, by endpoint.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ai_service_circuit_breaker_state",
			Help: "Whether the AI service circuit breaker is open (1) or closed (0), by endpoint.",
		},
		[]string{"endpoint"},
	)
)
