package resilience

import (
	"time"
)

// ResilientConfig configures resilience features for a storage backend or the
// backend HTTP transport.
type ResilientConfig struct {
	// Timeout for individual operations. Zero disables the per-operation timeout.
	Timeout time.Duration `yaml:"timeout"`

	// CircuitBreakerConfig configures the circuit breaker behavior
	CircuitBreakerConfig CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears.
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state after which the state becomes half-open.
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If nil, the breaker trips after 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultStoreConfig returns defaults for a local storage backend.
func DefaultStoreConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 2 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
		},
	}
}

// DefaultTransportConfig returns defaults for the backend HTTP transport. The
// request timeout itself is owned by the http.Client, so none is set here.
func DefaultTransportConfig() ResilientConfig {
	return ResilientConfig{
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				// Require at least 10 requests before considering error rate
				if counts.Requests < 10 {
					return false
				}
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRate >= 0.5
			},
		},
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c ResilientConfig) WithTimeout(timeout time.Duration) ResilientConfig {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified circuit breaker timeout.
func (c ResilientConfig) WithCircuitBreakerTimeout(timeout time.Duration) ResilientConfig {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}
