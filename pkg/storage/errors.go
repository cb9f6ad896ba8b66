package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrKeyNotFound is returned when a requested key does not exist
	ErrKeyNotFound = errors.New("storage: key not found")

	// ErrInvalidKey is returned when a key is empty, too long or contains control characters
	ErrInvalidKey = errors.New("storage: invalid key")

	// ErrUnavailable is returned when a backend is temporarily unavailable
	ErrUnavailable = errors.New("storage: backend unavailable")

	// ErrTimeout is returned when a storage operation times out
	ErrTimeout = errors.New("storage: operation timeout")

	// ErrCircuitOpen is returned when the circuit breaker in front of a backend is open
	ErrCircuitOpen = errors.New("storage: circuit breaker open")

	// ErrClosed is returned by operations on a closed backend
	ErrClosed = errors.New("storage: backend closed")
)

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsTimeout reports whether err is a storage timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCircuitOpen reports whether err was produced by an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ClassifyError returns a short label for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrClosed):
		return "closed"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection", "connect", "dial"):
		return "connection"
	case containsAny(msg, "marshal", "unmarshal", "encode", "decode"):
		return "serialization"
	case containsAny(msg, "sqlite", "redis", "database"):
		return "backend"
	default:
		return "other"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WrapError annotates err with the backend name and operation.
func WrapError(err error, backend, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("storage %s %s: %w", backend, operation, err)
}
