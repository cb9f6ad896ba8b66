package resilience

import (
	"context"
	"errors"
	"time"

	"broker-client/pkg/logging"
	"broker-client/pkg/metrics"
	"broker-client/pkg/storage"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientStore wraps a storage.KV with circuit breaker and timeout protection.
// Missing keys are normal reads and never count against the breaker.
type ResilientStore struct {
	store   storage.KV
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewResilientStore creates a resilient wrapper with a no-op metrics collector.
func NewResilientStore(store storage.KV, config ResilientConfig) *ResilientStore {
	return NewResilientStoreWithMetrics(store, config, metrics.NoOpCollector{})
}

// NewResilientStoreWithMetrics creates a resilient wrapper reporting to collector.
func NewResilientStoreWithMetrics(store storage.KV, config ResilientConfig, collector metrics.MetricsCollector) *ResilientStore {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	logger := logging.Global().Named("resilience").Named(store.Name())

	logger.Info("resilient store initialized",
		zap.String("store", store.Name()),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	isSuccessful := func(err error) bool {
		return err == nil || storage.IsNotFound(err)
	}

	return &ResilientStore{
		store:   store,
		cb:      newBreaker(store.Name(), config.CircuitBreakerConfig, isSuccessful, collector, logger),
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}
}

// Name returns the name of the underlying store.
func (rs *ResilientStore) Name() string {
	return rs.store.Name()
}

// State reports the current breaker state.
func (rs *ResilientStore) State() metrics.CircuitState {
	return toMetricsState(rs.cb.State())
}

// Get reads a key through the breaker.
func (rs *ResilientStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := rs.execute(ctx, "get", key, func(ctx context.Context) error {
		v, err := rs.store.Get(ctx, key)
		value = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set writes a key through the breaker.
func (rs *ResilientStore) Set(ctx context.Context, key string, value []byte) error {
	return rs.execute(ctx, "set", key, func(ctx context.Context) error {
		return rs.store.Set(ctx, key, value)
	})
}

// Delete removes a key through the breaker.
func (rs *ResilientStore) Delete(ctx context.Context, key string) error {
	return rs.execute(ctx, "delete", key, func(ctx context.Context) error {
		return rs.store.Delete(ctx, key)
	})
}

// Close closes the underlying store.
func (rs *ResilientStore) Close() error {
	return rs.store.Close()
}

func (rs *ResilientStore) execute(ctx context.Context, op, key string, fn func(context.Context) error) error {
	start := time.Now()

	if rs.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.timeout)
		defer cancel()
	}

	_, err := rs.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	duration := time.Since(start)
	rs.metrics.RecordStorageOp(rs.store.Name(), op, err == nil || storage.IsNotFound(err), duration)

	if err == nil || storage.IsNotFound(err) {
		return err
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		rs.logger.Warn("circuit breaker open - request rejected",
			zap.String("operation", op),
			zap.String("key", key),
		)
		return storage.ErrCircuitOpen
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		rs.logger.Warn("operation timeout",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Duration("timeout", rs.timeout),
			zap.Duration("elapsed", duration),
		)
		return storage.ErrTimeout
	}

	rs.logger.Error("storage operation failed",
		zap.String("operation", op),
		zap.String("key", key),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
	return err
}
