package badger

import (
	"context"
	"errors"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Retry policy for transient store errors: capped exponential backoff,
// base 1s, cap 10s, up to 5 attempts.
const (
	retryAttempts    = 5
	retryBackoffBase = 1 * time.Second
	retryBackoffCap  = 10 * time.Second
)

// withRetry runs op, retrying transient badger failures (conflicts, lock
// contention) with capped exponential backoff before surfacing the error
func withRetry(ctx context.Context, op func() error) error {
	var err error
	backoff := retryBackoffBase
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = op()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > retryBackoffCap {
			backoff = retryBackoffCap
		}
	}
	return err
}

// isTransient reports whether a store error is worth retrying
func isTransient(err error) bool {
	if errors.Is(err, badgerdb.ErrConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "temporarily unavailable") ||
		strings.Contains(msg, "resource busy")
}
