// Package lock defines the per-key lock interface used to serialize
// transition attempts on the same order.
package lock

import (
	"context"
	"time"
)

// Locker acquires locks on a set of keys. Correctness of the fulfillment
// core never depends on the lock (the store's conditional commit is the
// authority); locking exists to reduce conflict churn under contention.
type Locker interface {
	// Acquire acquires locks on the given keys. Keys are sorted before
	// acquisition to prevent deadlocks. Each lock carries a TTL so a
	// crashed holder cannot block forever.
	Acquire(ctx context.Context, keys []string, ttl time.Duration) (Handle, error)
}

// Handle represents held locks.
type Handle interface {
	// Extend extends the TTL of all held locks.
	Extend(ctx context.Context, ttl time.Duration) error

	// Release releases all held locks, attempting every key even when
	// some releases fail.
	Release(ctx context.Context) error

	// Keys returns the locked keys.
	Keys() []string
}
