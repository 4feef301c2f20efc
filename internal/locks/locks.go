// Package locks serializes work on a single key, typically one order.
//
// Two managers are provided. LocalManager guards keys inside one process
// and is the default. RedsyncManager uses the Redlock algorithm from
// go-redsync/redsync/v4 so that several instances sharing a Redis can
// process webhooks for the same order without interleaving.
package locks

import (
	"context"
	"time"
)

// Lock is a held lock on a single key
type Lock interface {
	// Key returns the unique identifier for this lock.
	Key() string

	// Release releases the lock. Calling it more than once is a no-op.
	Release(ctx context.Context) error

	// IsHeld reports whether this instance still holds the lock. It checks
	// local state only.
	IsHeld() bool
}

// Manager hands out per-key locks. AcquireLock blocks until the lock is
// acquired or ctx is done.
type Manager interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)
	Close() error
}

// DefaultExpiration bounds how long a crashed holder can block a key
const DefaultExpiration = 30 * time.Second
