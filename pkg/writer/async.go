package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"broker-client/pkg/logging"
	"broker-client/pkg/metrics"
	"broker-client/pkg/storage"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// AsyncWriter persists values to a storage.KV off the caller's path. Each key
// hashes to a single worker, so writes to the same key land in the order they
// were enqueued.
type AsyncWriter struct {
	store      storage.KV
	shards     []chan writeOp
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     AsyncWriterConfig
	metrics    metrics.MetricsCollector
	storeName  string
	logger     *logging.Logger
	closeOnce  sync.Once

	// Statistics (accessed atomically)
	pending       int64
	droppedWrites int64
	totalWrites   int64
	failedWrites  int64

	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

type writeOp struct {
	key    string
	value  []byte
	delete bool
}

// AsyncWriterConfig configures the async writer behavior.
type AsyncWriterConfig struct {
	// QueueSize is the bounded queue size per worker (default: 64)
	QueueSize int `yaml:"queue_size"`

	// Workers is the number of key shards (default: 2)
	Workers int `yaml:"workers"`

	// MaxWaitTime is the max time to wait if a shard queue is full (default: 50ms)
	MaxWaitTime time.Duration `yaml:"max_wait_time"`

	// WriteTimeout bounds each backend call (default: 5s)
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// NewAsyncWriter creates a new async writer with a no-op metrics collector.
// The writer starts processing immediately and must be closed with Close().
func NewAsyncWriter(store storage.KV, config AsyncWriterConfig) *AsyncWriter {
	return NewAsyncWriterWithMetrics(store, config, metrics.NoOpCollector{})
}

// NewAsyncWriterWithMetrics creates a new async writer reporting to collector.
func NewAsyncWriterWithMetrics(store storage.KV, config AsyncWriterConfig, collector metrics.MetricsCollector) *AsyncWriter {
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 50 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &AsyncWriter{
		store:         store,
		shards:        make([]chan writeOp, config.Workers),
		ctx:           ctx,
		cancelFunc:    cancel,
		config:        config,
		metrics:       collector,
		storeName:     store.Name(),
		logger:        logging.Global().Named("writer").Named(store.Name()),
		metricsTicker: time.NewTicker(5 * time.Second),
		metricsStop:   make(chan struct{}),
	}

	for i := range w.shards {
		w.shards[i] = make(chan writeOp, config.QueueSize)
		w.wg.Add(1)
		go w.worker(w.shards[i])
	}

	go w.reportMetrics()

	return w
}

// Write enqueues a Set. If the key's shard is full it waits up to MaxWaitTime
// before dropping the write with ErrQueueFull.
func (w *AsyncWriter) Write(ctx context.Context, key string, value []byte) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	return w.enqueue(ctx, writeOp{key: key, value: buf})
}

// Delete enqueues a Delete, ordered with any pending writes to the same key.
func (w *AsyncWriter) Delete(ctx context.Context, key string) error {
	return w.enqueue(ctx, writeOp{key: key, delete: true})
}

func (w *AsyncWriter) enqueue(ctx context.Context, op writeOp) error {
	select {
	case <-w.ctx.Done():
		return ErrWriterClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	shard := w.shards[w.shardFor(op.key)]

	atomic.AddInt64(&w.pending, 1)

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case shard <- op:
		atomic.AddInt64(&w.totalWrites, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&w.pending, -1)
		atomic.AddInt64(&w.droppedWrites, 1)
		w.metrics.RecordWriteDropped(w.storeName)
		w.logger.Warn("write dropped", zap.String("key", op.key))
		return ErrQueueFull
	case <-ctx.Done():
		atomic.AddInt64(&w.pending, -1)
		return ctx.Err()
	case <-w.ctx.Done():
		atomic.AddInt64(&w.pending, -1)
		return ErrWriterClosed
	}
}

func (w *AsyncWriter) shardFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(w.shards)))
}

func (w *AsyncWriter) worker(queue chan writeOp) {
	defer w.wg.Done()

	for {
		select {
		case op := <-queue:
			w.apply(op)
		case <-w.ctx.Done():
			// Drain remaining items before exiting
			for {
				select {
				case op := <-queue:
					w.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) apply(op writeOp) {
	defer atomic.AddInt64(&w.pending, -1)

	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	var err error
	if op.delete {
		err = w.store.Delete(ctx, op.key)
	} else {
		err = w.store.Set(ctx, op.key, op.value)
	}
	w.metrics.RecordAsyncWrite(w.storeName, err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&w.failedWrites, 1)
		w.logger.Error("async write failed",
			zap.String("key", op.key),
			zap.Bool("delete", op.delete),
			zap.Error(err),
		)
	}
}

// Flush waits until every accepted write has been applied or timeout elapses.
func (w *AsyncWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if atomic.LoadInt64(&w.pending) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops accepting new writes and waits for workers to drain their queues.
// It does not close the underlying store.
func (w *AsyncWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.metricsStop)
		w.metricsTicker.Stop()
		w.cancelFunc()
		w.wg.Wait()
	})
	return nil
}

func (w *AsyncWriter) reportMetrics() {
	for {
		select {
		case <-w.metricsTicker.C:
			w.metrics.RecordQueueDepth(w.storeName, w.queueDepth())
		case <-w.metricsStop:
			return
		}
	}
}

func (w *AsyncWriter) queueDepth() int {
	depth := 0
	for _, shard := range w.shards {
		depth += len(shard)
	}
	return depth
}

// Stats returns current statistics about the async writer.
func (w *AsyncWriter) Stats() AsyncWriterStats {
	return AsyncWriterStats{
		QueueDepth:    w.queueDepth(),
		Pending:       atomic.LoadInt64(&w.pending),
		DroppedWrites: atomic.LoadInt64(&w.droppedWrites),
		TotalWrites:   atomic.LoadInt64(&w.totalWrites),
		FailedWrites:  atomic.LoadInt64(&w.failedWrites),
	}
}
