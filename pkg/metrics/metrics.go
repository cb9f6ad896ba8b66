package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting client metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type MetricsCollector interface {
	// Backend requests
	RecordRequest(endpoint string, status int, duration time.Duration)
	RecordValidation(outcome ValidationOutcome)
	RecordRefresh(success bool, waiters int, duration time.Duration)

	// Balance cache
	RecordCacheRefresh(outcome RefreshOutcome, duration time.Duration)
	RecordSliceFailure(slice string)

	// Circuit breakers (backend transport, storage)
	RecordCircuitState(name string, state CircuitState)

	// Storage and async persistence
	RecordStorageOp(backend, operation string, success bool, duration time.Duration)
	RecordQueueDepth(name string, depth int)
	RecordWriteDropped(name string)
	RecordAsyncWrite(name string, success bool, duration time.Duration)
}

// ValidationOutcome describes how a token validation check was resolved.
type ValidationOutcome string

const (
	ValidationCached  ValidationOutcome = "cached"
	ValidationNetwork ValidationOutcome = "network"
	ValidationFailed  ValidationOutcome = "failed"
)

// RefreshOutcome describes the result of a balance cache refresh.
type RefreshOutcome string

const (
	RefreshHit     RefreshOutcome = "hit"
	RefreshFull    RefreshOutcome = "full"
	RefreshPartial RefreshOutcome = "partial"
	RefreshFailed  RefreshOutcome = "failed"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StatusClass buckets an HTTP status for labels: "2xx", "4xx", "error" for 0.
func StatusClass(status int) string {
	switch {
	case status <= 0:
		return "error"
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordRequest does nothing.
func (NoOpCollector) RecordRequest(endpoint string, status int, duration time.Duration) {}

// RecordValidation does nothing.
func (NoOpCollector) RecordValidation(outcome ValidationOutcome) {}

// RecordRefresh does nothing.
func (NoOpCollector) RecordRefresh(success bool, waiters int, duration time.Duration) {}

// RecordCacheRefresh does nothing.
func (NoOpCollector) RecordCacheRefresh(outcome RefreshOutcome, duration time.Duration) {}

// RecordSliceFailure does nothing.
func (NoOpCollector) RecordSliceFailure(slice string) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

// RecordStorageOp does nothing.
func (NoOpCollector) RecordStorageOp(backend, operation string, success bool, duration time.Duration) {}

// RecordQueueDepth does nothing.
func (NoOpCollector) RecordQueueDepth(name string, depth int) {}

// RecordWriteDropped does nothing.
func (NoOpCollector) RecordWriteDropped(name string) {}

// RecordAsyncWrite does nothing.
func (NoOpCollector) RecordAsyncWrite(name string, success bool, duration time.Duration) {}
