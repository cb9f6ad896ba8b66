package resilience

import (
	"broker-client/pkg/logging"
	"broker-client/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// newBreaker converts config into gobreaker settings and reports state changes to
// the logger and metrics collector. isSuccessful decides which errors count
// against the breaker; nil means every error does.
func newBreaker(name string, config CircuitBreakerConfig, isSuccessful func(error) bool, collector metrics.MetricsCollector, logger *logging.Logger) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:         name,
		MaxRequests:  config.MaxRequests,
		Interval:     config.Interval,
		Timeout:      config.Timeout,
		IsSuccessful: isSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.ReadyToTrip != nil {
				return config.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			collector.RecordCircuitState(name, toMetricsState(to))
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func toMetricsState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}
