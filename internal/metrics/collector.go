// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/core/executor"
)

// =============================================================================
// Collector
// =============================================================================

// Collector holds the Prometheus instruments exposed by the assistant:
// HTTP surface metrics plus the domain metrics for the router, cache,
// and executor (C7, C5, C10 respectively).
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Router/provider metrics
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerTokensUsed      *prometheus.CounterVec
	routerRetriesTotal      prometheus.Counter
	routerFailoversTotal    prometheus.Counter

	// Cache metrics
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal prometheus.Counter

	// Executor resource metrics
	heapAllocBytes prometheus.Gauge
	sysBytes       prometheus.Gauge
	numGC          prometheus.Gauge
	goroutines     prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a Collector and registers every instrument under
// namespace with the default Prometheus registry via promauto.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP metrics
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Router/provider metrics
	c.providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of requests attempted against a provider",
		},
		[]string{"provider", "task_type", "status"},
	)

	c.providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "task_type"},
	)

	c.providerTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Total number of tokens billed against a provider",
		},
		[]string{"provider"},
	)

	c.routerRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_retries_total",
			Help:      "Total number of in-provider retry attempts performed by the router",
		},
	)

	c.routerFailoversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_failovers_total",
			Help:      "Total number of times the router moved on to the next candidate provider",
		},
	)

	// Cache metrics
	c.cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache lookups satisfied by a given tier",
		},
		[]string{"tier"},
	)

	c.cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache lookups that missed every tier",
		},
	)

	// Executor resource metrics
	c.heapAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_heap_alloc_bytes",
			Help:      "Heap bytes allocated, from the most recent resource sample",
		},
	)

	c.sysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_sys_bytes",
			Help:      "Bytes obtained from the OS, from the most recent resource sample",
		},
	)

	c.numGC = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_gc_runs_total",
			Help:      "Cumulative number of completed GC cycles, from the most recent resource sample",
		},
	)

	c.goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_goroutines",
			Help:      "Number of live goroutines, from the most recent resource sample",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// HTTP metrics
// =============================================================================

// RecordHTTPRequest records one completed HTTP request/response cycle.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// Router/provider metrics
// =============================================================================

// RecordProviderRequest records the outcome of one attempt against a
// single provider, as tallied by the router (C7).
func (c *Collector) RecordProviderRequest(provider, taskType, status string, duration time.Duration, tokens int) {
	c.providerRequestsTotal.WithLabelValues(provider, taskType, status).Inc()
	c.providerRequestDuration.WithLabelValues(provider, taskType).Observe(duration.Seconds())
	if tokens > 0 {
		c.providerTokensUsed.WithLabelValues(provider).Add(float64(tokens))
	}
}

// RecordRetry records one in-provider retry attempt.
func (c *Collector) RecordRetry() {
	c.routerRetriesTotal.Inc()
}

// RecordFailover records the router moving on to the next candidate
// provider after exhausting retries against the current one.
func (c *Collector) RecordFailover() {
	c.routerFailoversTotal.Inc()
}

// =============================================================================
// Cache metrics
// =============================================================================

// RecordCacheHit records a cache lookup satisfied by the named tier
// ("l0", "l1", "l2", or "l3").
func (c *Collector) RecordCacheHit(tier string) {
	c.cacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a cache lookup that missed every tier.
func (c *Collector) RecordCacheMiss() {
	c.cacheMissesTotal.Inc()
}

// =============================================================================
// Executor resource metrics
// =============================================================================

// RecordResourceSample copies one executor.Sample onto the resource
// gauges. Intended to be called from a callback registered with an
// executor.Monitor, or periodically against Monitor.Current().
func (c *Collector) RecordResourceSample(s executor.Sample) {
	c.heapAllocBytes.Set(float64(s.HeapAlloc))
	c.sysBytes.Set(float64(s.Sys))
	c.numGC.Set(float64(s.NumGC))
	c.goroutines.Set(float64(s.Goroutines))
}

// =============================================================================
// helpers
// =============================================================================

// statusClass buckets an HTTP status code into its class ("2xx", "4xx", ...)
// to keep label cardinality bounded.
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
