package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CalculateRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocity_calculate_requests_total",
			Help: "Total number of velocity calculations (count)",
		},
		[]string{"mode", "status"},
	)

	CalculateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "velocity_calculate_duration_ms",
			Help:    "End-to-end duration of a velocity calculation in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"mode"},
	)

	ItemsComputedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocity_items_computed_total",
			Help: "Work items run through the duration engine (count)",
		},
		[]string{"mode"},
	)

	StagesMissingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "velocity_stages_missing_total",
			Help: "Stages whose triggering event was never observed (count)",
		},
	)

	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocity_cache_requests_total",
			Help: "Calculate result cache lookups by outcome (count)",
		},
		[]string{"result"},
	)

	ProfileMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocity_profile_mutations_total",
			Help: "Profile governance mutations by action and status (count)",
		},
		[]string{"action", "status"},
	)

	EventStoreRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocity_event_store_requests_total",
			Help: "Event store reads by status (count)",
		},
		[]string{"status"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Requests seen by the rate limiter (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures observed by circuit breaker (count)",
		},
		[]string{"name"},
	)
)

func Register() {
	prometheus.MustRegister(
		CalculateRequestsTotal,
		CalculateDuration,
		ItemsComputedTotal,
		StagesMissingTotal,
		CacheRequestsTotal,
		ProfileMutationsTotal,
		EventStoreRequestsTotal,
		RateLimitRequestsTotal,
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func ObserveCalculateDuration(mode string, duration time.Duration) {
	CalculateDuration.WithLabelValues(mode).Observe(float64(duration.Milliseconds()))
}

func IncCalculateRequest(mode, status string) {
	CalculateRequestsTotal.WithLabelValues(mode, status).Inc()
}

func IncCacheRequest(result string) {
	CacheRequestsTotal.WithLabelValues(result).Inc()
}

func IncProfileMutation(action, status string) {
	ProfileMutationsTotal.WithLabelValues(action, status).Inc()
}

func IncEventStoreRequest(status string) {
	EventStoreRequestsTotal.WithLabelValues(status).Inc()
}
