package writer

import "errors"

// AsyncWriterStats provides statistics about async writer operations.
type AsyncWriterStats struct {
	// QueueDepth is the number of writes waiting in shard queues
	QueueDepth int `json:"queue_depth"`

	// Pending counts accepted writes not yet applied, including in-flight ones
	Pending int64 `json:"pending"`

	// DroppedWrites is the total number of writes dropped due to backpressure
	DroppedWrites int64 `json:"dropped_writes"`

	// TotalWrites is the total number of writes accepted
	TotalWrites int64 `json:"total_writes"`

	// FailedWrites is the total number of writes the store rejected
	FailedWrites int64 `json:"failed_writes"`
}

// Errors returned by async writer operations.
var (
	// ErrQueueFull is returned when the write queue is full and MaxWaitTime exceeded
	ErrQueueFull = errors.New("writer: queue full, write dropped")

	// ErrWriterClosed is returned when attempting to write to a closed writer
	ErrWriterClosed = errors.New("writer: writer is closed")

	// ErrFlushTimeout is returned when Flush() times out waiting for writes to land
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)
