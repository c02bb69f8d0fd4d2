// Package history holds what the transcript store backends share.
package history

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKey  = errors.New("invalid history key")
	ErrLoadFailed  = errors.New("load failed")
	ErrSaveFailed  = errors.New("save failed")
	ErrStoreClosed = errors.New("store closed")
)

// ValidateKey rejects keys that cannot be stored portably by every backend.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > 191 {
		return fmt.Errorf("%w: longer than 191 bytes", ErrInvalidKey)
	}
	if strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
