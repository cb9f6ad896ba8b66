package prometheus

import (
	"strconv"
	"time"

	"broker-client/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Backend requests
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	validations     *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshWaiters  prometheus.Histogram
	refreshDuration prometheus.Histogram

	// Balance cache
	cacheRefreshes       *prometheus.CounterVec
	cacheRefreshDuration *prometheus.HistogramVec
	sliceFailures        *prometheus.CounterVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Storage and async persistence
	storageOps     *prometheus.CounterVec
	storageLatency *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
	droppedWrites  *prometheus.CounterVec
	asyncWrites    *prometheus.CounterVec
	asyncLatency   *prometheus.HistogramVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	latencyBuckets := prometheus.ExponentialBuckets(0.001, 2, 15) // 1ms to ~16s

	return &PrometheusCollector{
		namespace: namespace,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_requests_total",
				Help:      "Total number of backend requests by endpoint and status class",
			},
			[]string{"endpoint", "status"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_request_duration_seconds",
				Help:      "Backend request latency",
				Buckets:   latencyBuckets,
			},
			[]string{"endpoint"},
		),
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_validations_total",
				Help:      "Token validation checks by outcome (cached, network, failed)",
			},
			[]string{"outcome"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Refresh-token exchanges by outcome",
			},
			[]string{"outcome"},
		),
		refreshWaiters: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "token_refresh_waiters",
				Help:      "Requests parked behind a single refresh exchange",
				Buckets:   prometheus.LinearBuckets(0, 2, 10),
			},
		),
		refreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "token_refresh_duration_seconds",
				Help:      "Refresh-token exchange latency",
				Buckets:   latencyBuckets,
			},
		),
		cacheRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "balance_cache_refreshes_total",
				Help:      "Balance cache refreshes by outcome (hit, full, partial, failed)",
			},
			[]string{"outcome"},
		),
		cacheRefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "balance_cache_refresh_duration_seconds",
				Help:      "Balance cache refresh latency",
				Buckets:   latencyBuckets,
			},
			[]string{"outcome"},
		),
		sliceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "balance_cache_slice_failures_total",
				Help:      "Failed slice fetches replaced by the previous cached value",
			},
			[]string{"slice"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		storageOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Storage operations by backend, operation and status",
			},
			[]string{"backend", "operation", "status"},
		),
		storageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_operation_duration_seconds",
				Help:      "Storage operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"backend", "operation"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "persist_queue_depth",
				Help:      "Current async persistence queue depth",
			},
			[]string{"name"},
		),
		droppedWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_dropped_writes_total",
				Help:      "Total number of dropped async persistence writes",
			},
			[]string{"name"},
		),
		asyncWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_writes_total",
				Help:      "Total number of async persistence writes",
			},
			[]string{"name", "status"},
		),
		asyncLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "persist_write_duration_seconds",
				Help:      "Async persistence write latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"name"},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.requests,
		pc.requestLatency,
		pc.validations,
		pc.refreshes,
		pc.refreshWaiters,
		pc.refreshDuration,
		pc.cacheRefreshes,
		pc.cacheRefreshDuration,
		pc.sliceFailures,
		pc.circuitOpens,
		pc.circuitState,
		pc.storageOps,
		pc.storageLatency,
		pc.queueDepth,
		pc.droppedWrites,
		pc.asyncWrites,
		pc.asyncLatency,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordRequest records a backend request.
func (pc *PrometheusCollector) RecordRequest(endpoint string, status int, duration time.Duration) {
	pc.requests.WithLabelValues(endpoint, metrics.StatusClass(status)).Inc()
	pc.requestLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordValidation records a token validation check.
func (pc *PrometheusCollector) RecordValidation(outcome metrics.ValidationOutcome) {
	pc.validations.WithLabelValues(string(outcome)).Inc()
}

// RecordRefresh records a refresh-token exchange and how many requests waited on it.
func (pc *PrometheusCollector) RecordRefresh(success bool, waiters int, duration time.Duration) {
	pc.refreshes.WithLabelValues(outcomeLabel(success)).Inc()
	pc.refreshWaiters.Observe(float64(waiters))
	pc.refreshDuration.Observe(duration.Seconds())
}

// RecordCacheRefresh records a balance cache refresh.
func (pc *PrometheusCollector) RecordCacheRefresh(outcome metrics.RefreshOutcome, duration time.Duration) {
	pc.cacheRefreshes.WithLabelValues(string(outcome)).Inc()
	pc.cacheRefreshDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

// RecordSliceFailure records a failed slice fetch.
func (pc *PrometheusCollector) RecordSliceFailure(slice string) {
	pc.sliceFailures.WithLabelValues(slice).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordStorageOp records a storage backend operation.
func (pc *PrometheusCollector) RecordStorageOp(backend, operation string, success bool, duration time.Duration) {
	pc.storageOps.WithLabelValues(backend, operation, outcomeLabel(success)).Inc()
	pc.storageLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordQueueDepth records the current async writer queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(name string, depth int) {
	pc.queueDepth.WithLabelValues(name).Set(float64(depth))
}

// RecordWriteDropped records a dropped async write.
func (pc *PrometheusCollector) RecordWriteDropped(name string) {
	pc.droppedWrites.WithLabelValues(name).Inc()
}

// RecordAsyncWrite records an async write operation.
func (pc *PrometheusCollector) RecordAsyncWrite(name string, success bool, duration time.Duration) {
	pc.asyncWrites.WithLabelValues(name, outcomeLabel(success)).Inc()
	pc.asyncLatency.WithLabelValues(name).Observe(duration.Seconds())
}

func outcomeLabel(success bool) string {
	return strconv.FormatBool(success)
}
