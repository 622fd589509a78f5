package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClassificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voc_classification_duration_seconds",
			Help:    "End-to-end classification run duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	ClassificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voc_classification_total",
			Help: "Total classification runs by outcome",
		},
		[]string{"status"},
	)

	RowsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voc_rows_processed_total",
			Help: "Feedback rows processed, split by whether the model output covered them",
		},
		[]string{"result"},
	)

	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voc_generation_duration_seconds",
			Help:    "Generation endpoint round-trip duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	GenerationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voc_generation_requests_total",
			Help: "Generation requests by reply kind",
		},
		[]string{"result"},
	)

	TokenRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voc_token_requests_total",
			Help: "Bearer token lookups by source",
		},
		[]string{"source"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voc_cache_hits_total",
			Help: "Total result cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voc_cache_misses_total",
			Help: "Total result cache misses",
		},
		[]string{"cache_type"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voc_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voc_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ClassificationDuration,
			ClassificationTotal,
			RowsProcessed,
			GenerationDuration,
			GenerationRequests,
			TokenRequests,
			CacheHits,
			CacheMisses,
			BreakerState,
			RateLimited,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
