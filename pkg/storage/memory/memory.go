package memory

import (
	"context"
	"sync"

	"broker-client/pkg/storage"
)

// MemoryStore is an in-process KV backend. It is the default for tests and for
// runs that do not need the session to survive a restart.
type MemoryStore struct {
	// data stores the values
	data map[string][]byte

	// mu protects concurrent access to data
	mu sync.RWMutex

	name   string
	closed bool
}

// NewMemoryStore creates an empty store. An empty name defaults to "memory".
func NewMemoryStore(name string) *MemoryStore {
	if name == "" {
		name = "memory"
	}
	return &MemoryStore{
		data: make(map[string][]byte),
		name: name,
	}
}

// Get returns a copy of the stored value.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	value, ok := s.data[key]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set stores a copy of value so callers may reuse their buffer.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes a key. Returns nil even if the key doesn't exist.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	delete(s.data, key)
	return nil
}

// Name returns the backend name.
func (s *MemoryStore) Name() string {
	return s.name
}

// Close drops all data. Further operations return storage.ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	s.closed = true
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
