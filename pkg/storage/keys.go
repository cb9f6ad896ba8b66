package storage

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxKeyLength bounds keys so every backend (sqlite TEXT primary key, redis, file
// names in the file store) can hold them.
const MaxKeyLength = 250

// ValidateKey checks that key is usable by every backend.
//
// Rules:
// - Non-empty string
// - At most MaxKeyLength bytes
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}
