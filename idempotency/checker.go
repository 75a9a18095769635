// Package idempotency provides exactly-once emission checking for the
// conversion notifier.
package idempotency

import (
	"context"
	"time"
)

// Checker decides whether an operation keyed by a stable identifier was
// already performed, and records it once done. The notifier keys checks
// by conversion event id and event name so an event is emitted at most
// once even across manual replays.
type Checker interface {
	// Check reports whether the operation was already performed.
	// Returns:
	//   - exists: true if the operation was already performed
	//   - result: the cached result of the operation (if exists is true)
	//   - err: any error that occurred during the check
	Check(ctx context.Context, key string) (exists bool, result []byte, err error)

	// Mark records an operation as performed with its result, kept for
	// the given TTL.
	Mark(ctx context.Context, key string, result []byte, ttl time.Duration) error
}
