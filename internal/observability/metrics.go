// Package observability holds the Prometheus metrics of the data access layer.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchResults counts data access calls by operation and result source
	FetchResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrodata_fetch_results_total",
			Help: "Total number of data access calls by operation and source",
		},
		[]string{"operation", "source"},
	)

	// CacheLookups counts cache lookups by operation and result (hit/miss)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrodata_cache_lookups_total",
			Help: "Total number of cache lookups",
		},
		[]string{"operation", "result"},
	)

	// RetryAttempts counts retried attempts by operation and error kind
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrodata_retry_attempts_total",
			Help: "Total number of failed attempts that were retried",
		},
		[]string{"operation", "kind"},
	)

	// SharedFetches counts calls that joined an in-flight fetch for the same key
	SharedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrodata_shared_fetches_total",
			Help: "Total number of calls served by an in-flight fetch of the same key",
		},
		[]string{"operation"},
	)

	// FetchLatency tracks the duration of live fetches including retries
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrodata_fetch_latency_seconds",
			Help:    "Live fetch latency in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// HandledErrors counts errors passed to the error handler by kind
	HandledErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrodata_handled_errors_total",
			Help: "Total number of classified errors by kind",
		},
		[]string{"kind"},
	)

	// CircuitOpenRejections counts calls rejected by an open circuit breaker
	CircuitOpenRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrodata_circuit_open_rejections_total",
			Help: "Total number of upstream calls rejected by an open circuit breaker",
		},
		[]string{"service"},
	)
)
