package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProviderNotConfigured signals missing client credentials for a provider.
	ErrProviderNotConfigured = errors.New("connect: provider not configured")
	// ErrMissingState indicates the callback arrived without a state parameter.
	ErrMissingState = errors.New("connect: missing state")
	// ErrInvalidState covers CSRF mismatch, replay, and expiry uniformly.
	ErrInvalidState = errors.New("connect: invalid or expired state")
	// ErrExchangeFailed indicates the provider rejected the code exchange.
	ErrExchangeFailed = errors.New("connect: authorization code exchange failed")
	// ErrRefreshFailed indicates the provider rejected a refresh grant.
	ErrRefreshFailed = errors.New("connect: token refresh failed")
	// ErrDecryptionFailed indicates corrupted ciphertext or a wrong key.
	ErrDecryptionFailed = errors.New("connect: decryption failed")
	// ErrConnectionNotFound signals a missing or foreign connection row.
	ErrConnectionNotFound = errors.New("connect: connection not found")
	// ErrRotationConflict signals a concurrent rotation won the conditional update.
	ErrRotationConflict = errors.New("connect: concurrent rotation in progress")
)

// RateLimitError rejects a request with a back-off hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("connect: rate limited, retry after %s", e.RetryAfter)
}

// IsRateLimited extracts a RateLimitError from an error chain.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
