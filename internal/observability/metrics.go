package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Remote country list fetches by status. Watch for: error vs success ratio.
	RemoteFetchCallsTotal *prometheus.CounterVec

	// Remote fetch latency per attempt.
	RemoteFetchDuration *prometheus.HistogramVec

	// Transport retry attempts for the remote fetch. High values = unstable upstream.
	RemoteFetchRetriesTotal prometheus.Counter

	// Remote failures absorbed by the repository (local state returned instead).
	RemoteFallbackTotal *prometheus.CounterVec

	// Concurrent empty-store reads that joined an in-flight remote fetch.
	RemoteFetchCoalescedTotal prometheus.Counter

	// Store reads by outcome: hit (non-empty) or miss (empty table).
	StoreReadsTotal *prometheus.CounterVec

	// Store operation latency by operation and result.
	StoreOperationDurationSeconds *prometheus.HistogramVec

	// Store errors by operation and category.
	StoreErrorsTotal *prometheus.CounterVec

	// Side tokens rejected by the filter or upsert validation.
	InvalidDriveSideTotal *prometheus.CounterVec

	// Warm and refresh runs by kind and result.
	StoreWarmingTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component (0 closed, 1 open, 2 half_open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Requests still in flight when shutdown started.
	ShutdownInFlightRequests prometheus.Gauge
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RemoteFetchCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remoteFetchCallsTotal",
			Help: "Total number of remote country list fetch attempts",
		},
		[]string{"status"},
	)
	RemoteFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remoteFetchDurationSeconds",
			Help:    "Remote country list fetch latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	RemoteFetchRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteFetchRetriesTotal",
			Help: "Total number of retry attempts for remote fetches",
		},
	)
	RemoteFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remoteFallbackTotal",
			Help: "Remote fetch failures answered with local state",
		},
		[]string{"category"},
	)
	RemoteFetchCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "remoteFetchCoalescedTotal",
			Help: "Reads that waited on an in-flight remote fetch instead of starting one",
		},
	)
	StoreReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeReadsTotal",
			Help: "Store reads by result (hit = non-empty table, miss = empty table)",
		},
		[]string{"result"},
	)
	StoreOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeOperationDurationSeconds",
			Help:    "Store operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"backend", "operation", "result"},
	)
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeErrorsTotal",
			Help: "Store errors by backend, operation and category",
		},
		[]string{"backend", "operation", "category"},
	)
	InvalidDriveSideTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidDriveSideTotal",
			Help: "Unrecognized drive side tokens by source",
		},
		[]string{"source"},
	)
	StoreWarmingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeWarmingTotal",
			Help: "Store warm and refresh runs by kind and result",
		},
		[]string{"kind", "result"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half_open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "Requests in flight when graceful shutdown began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		RemoteFetchCallsTotal, RemoteFetchDuration, RemoteFetchRetriesTotal,
		RemoteFallbackTotal, RemoteFetchCoalescedTotal,
		StoreReadsTotal, StoreOperationDurationSeconds, StoreErrorsTotal,
		InvalidDriveSideTotal, StoreWarmingTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		ShutdownInFlightRequests,
	)
}

// RecordCircuitBreakerTransition counts a breaker state change.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// SetCircuitBreakerStateGauge sets the breaker state gauge for component.
func SetCircuitBreakerStateGauge(component string, state int) {
	CircuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// RecordShutdownInFlight records how many requests were in flight at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
