package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Backend API call rate by endpoint and status label. Watch for: error vs success ratio.
	APICallsTotal *prometheus.CounterVec

	// Backend API latency. Watch for: p95 approaching api.timeout.
	APIDuration *prometheus.HistogramVec

	// Retry attempts for read-only backend calls. Watch for: high retries = unstable backend.
	APIRetriesTotal prometheus.Counter

	// Classified backend errors (see client.CategorizeError).
	APIErrorsTotal *prometheus.CounterVec

	// Poll cycles by outcome (success, error). Watch for: sustained error outcome.
	PollCyclesTotal *prometheus.CounterVec

	// Poll fetch latency, one observation per cycle.
	PollFetchDuration prometheus.Histogram

	// Poll results dropped because the poller was cancelled while the fetch was in flight.
	PollDiscardedTotal prometheus.Counter

	// SessionState transitions by target phase/kind.
	SessionTransitionsTotal *prometheus.CounterVec

	// Optimistic mutations by kind (remove, mark_in_progress) and outcome (applied, rolled_back, rejected).
	OptimisticMutationsTotal *prometheus.CounterVec

	// Circuit breaker state for the backend: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState prometheus.Gauge

	// Status server request rate.
	StatusHTTPRequestsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	APICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiCallsTotal",
			Help: "Total number of ZappAI backend API calls",
		},
		[]string{"endpoint", "status"},
	)
	APIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apiDurationSeconds",
			Help:    "ZappAI backend API latency in seconds (per attempt)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	APIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apiRetriesTotal",
			Help: "Total number of retry attempts for read-only backend calls",
		},
	)
	APIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiErrorsTotal",
			Help: "Backend API errors by category",
		},
		[]string{"category"},
	)
	PollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollCyclesTotal",
			Help: "Poll cycles by outcome",
		},
		[]string{"outcome"},
	)
	PollFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pollFetchDurationSeconds",
			Help:    "Duration of the fetch step of a poll cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
	PollDiscardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pollDiscardedTotal",
			Help: "Poll results discarded because cancellation happened while the fetch was in flight",
		},
	)
	SessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionTransitionsTotal",
			Help: "Session state transitions by target",
		},
		[]string{"to"},
	)
	OptimisticMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimisticMutationsTotal",
			Help: "Optimistic local mutations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Backend circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
	)
	StatusHTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusHttpRequestsTotal",
			Help: "Requests served by the local status server",
		},
		[]string{"method", "route", "statusCode"},
	)

	registry.MustRegister(
		APICallsTotal, APIDuration, APIRetriesTotal, APIErrorsTotal,
		PollCyclesTotal, PollFetchDuration, PollDiscardedTotal,
		SessionTransitionsTotal, OptimisticMutationsTotal,
		CircuitBreakerState, StatusHTTPRequestsTotal,
	)
}

// StatusLabel maps an HTTP status code to the low-cardinality label used by APICallsTotal.
func StatusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusUnauthorized:
		return "unauthorized"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
