// Package store provides a store-backed implementation of the
// idempotency.Checker interface.
package store

import (
	"context"
	"time"

	"fulfill/idempotency"
)

// IdempotencyStore defines the storage operations required for
// idempotency checking. fulfill.OrderStore satisfies this interface.
type IdempotencyStore interface {
	CheckIdempotency(ctx context.Context, key string) (exists bool, result []byte, err error)
	MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error
}

// StoreChecker implements idempotency.Checker on a store backend, so the
// dedup record shares durability with the rest of the fulfillment state.
type StoreChecker struct {
	store IdempotencyStore
}

var _ idempotency.Checker = (*StoreChecker)(nil)

// New creates a new StoreChecker with the given store.
func New(store IdempotencyStore) *StoreChecker {
	return &StoreChecker{store: store}
}

// Check reports whether the operation was already performed.
func (c *StoreChecker) Check(ctx context.Context, key string) (bool, []byte, error) {
	return c.store.CheckIdempotency(ctx, key)
}

// Mark records an operation as performed with its result.
func (c *StoreChecker) Mark(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	return c.store.MarkIdempotency(ctx, key, result, ttl)
}
