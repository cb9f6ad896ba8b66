package resilience

import (
	"errors"
	"fmt"
	"net/http"

	"broker-client/pkg/logging"
	"broker-client/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned by Transport when the backend breaker is open.
var ErrCircuitOpen = errors.New("resilience: backend circuit open")

// errServerStatus marks a 5xx response as a breaker failure without hiding the
// response from the caller.
var errServerStatus = errors.New("resilience: server error status")

// Transport is an http.RoundTripper that stops calling the backend while it is
// failing. Network errors and 5xx responses count as failures; 4xx responses,
// including 401, do not.
type Transport struct {
	base   http.RoundTripper
	cb     *gobreaker.CircuitBreaker
	logger *logging.Logger
}

// NewTransport wraps base (http.DefaultTransport if nil).
func NewTransport(name string, base http.RoundTripper, config ResilientConfig, collector metrics.MetricsCollector) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	logger := logging.Global().Named("resilience").Named(name)
	return &Transport{
		base:   base,
		cb:     newBreaker(name, config.CircuitBreakerConfig, nil, collector, logger),
		logger: logger,
	}
}

// State reports the current breaker state.
func (t *Transport) State() metrics.CircuitState {
	return toMetricsState(t.cb.State())
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	result, err := t.cb.Execute(func() (interface{}, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})

	if errors.Is(err, errServerStatus) {
		return result.(*http.Response), nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		t.logger.Warn("circuit breaker open - request rejected",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
		)
		return nil, fmt.Errorf("%w: %s %s", ErrCircuitOpen, req.Method, req.URL.Path)
	}
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}
