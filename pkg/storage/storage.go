package storage

import (
	"context"
)

// KV is the durable key-value port behind session and snapshot persistence.
// Implementations must be safe for concurrent use. Writes are last-write-wins.
type KV interface {
	// Get returns the stored bytes, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the backend in logs and metrics (e.g. "memory", "sqlite").
	Name() string

	// Close releases any resources held by the backend.
	Close() error
}

// Well-known keys. They mirror the browser storage layout of the web client so a
// dump of either is readable side by side.
const (
	KeyAuthToken        = "authToken"
	KeyRefreshToken     = "refreshToken"
	KeyUsername         = "username"
	KeyBalanceDataCache = "balanceDataCache"
	KeyTransactions     = "transactions"
)
