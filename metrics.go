package laiqclient

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle
// and the reliability layers. It is safe for concurrent use and all
// methods tolerate a nil receiver.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	retriesTotal prometheus.Counter

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheSize      prometheus.Gauge
	cacheEvictions prometheus.Counter

	dedupHits prometheus.Counter

	recoveriesTotal *prometheus.CounterVec
	breakerTrips    prometheus.Counter

	batchSize prometheus.Histogram

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "laiq_client_requests_total",
				Help: "Total number of API requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "laiq_client_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "laiq_client_retries_total",
				Help: "Total number of retry attempts after recovery",
			},
		),
		cacheHits: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "laiq_client_cache_hits_total",
				Help: "Total number of cache hits",
			},
		),
		cacheMisses: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "laiq_client_cache_misses_total",
				Help: "Total number of cache misses",
			},
		),
		cacheSize: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "laiq_client_cache_size",
				Help: "Current number of entries in the cache",
			},
		),
		cacheEvictions: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "laiq_client_cache_evictions_total",
				Help: "Total number of entries evicted from the cache",
			},
		),
		dedupHits: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "laiq_client_deduplication_hits_total",
				Help: "Total number of requests coalesced onto an in-flight call",
			},
		),
		recoveriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "laiq_client_recoveries_total",
				Help: "Total number of recovery strategy applications",
			},
			[]string{"strategy", "recovered"},
		),
		breakerTrips: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "laiq_client_breaker_suppressions_total",
				Help: "Total number of recoveries suppressed by the error-rate breaker",
			},
		),
		batchSize: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "laiq_client_batch_size",
				Help:    "Number of requests dispatched per batch",
				Buckets: []float64{1, 2, 3, 5, 8, 10},
			},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "laiq_client_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "endpoint"},
		),
		registry: registry,
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRetry increments the retry counter.
func (mc *MetricsCollector) RecordRetry() {
	if mc == nil {
		return
	}

	mc.retriesTotal.Inc()
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit() {
	if mc == nil {
		return
	}

	mc.cacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss() {
	if mc == nil {
		return
	}

	mc.cacheMisses.Inc()
}

// RecordCacheSize sets the cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.Set(float64(size))
}

// RecordCacheEvictions adds to the eviction counter.
func (mc *MetricsCollector) RecordCacheEvictions(count int) {
	if mc == nil {
		return
	}

	mc.cacheEvictions.Add(float64(count))
}

// RecordDedupHit increments the deduplication hit counter.
func (mc *MetricsCollector) RecordDedupHit() {
	if mc == nil {
		return
	}

	mc.dedupHits.Inc()
}

// RecordRecovery counts one strategy application and its outcome.
func (mc *MetricsCollector) RecordRecovery(strategy string, recovered bool) {
	if mc == nil {
		return
	}

	mc.recoveriesTotal.WithLabelValues(strategy, strconv.FormatBool(recovered)).Inc()
}

// RecordBreakerTrip counts one recovery suppressed by the breaker.
func (mc *MetricsCollector) RecordBreakerTrip() {
	if mc == nil {
		return
	}

	mc.breakerTrips.Inc()
}

// RecordBatchSize observes the size of a dispatched batch.
func (mc *MetricsCollector) RecordBatchSize(size int) {
	if mc == nil {
		return
	}

	mc.batchSize.Observe(float64(size))
}

// RecordError increments the error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// GetRegistry exposes the registerer the collector was built on, when it
// is a full *prometheus.Registry.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	if r, ok := mc.registry.(*prometheus.Registry); ok {
		return r
	}
	return nil
}
