// Package ledger defines the stock ledger interface: atomic, serializable
// adjustment of per-variant on-hand quantities.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientStock indicates a deduction would drive the on-hand
// quantity negative. The on-hand quantity is never negative at any
// observable point.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrUnknownVariant indicates the variant has no stock entry
var ErrUnknownVariant = errors.New("unknown variant")

// Movement is one audited stock mutation. Every mutation is attributable
// to exactly one order-transition event.
type Movement struct {
	VariantID string
	// Delta is positive for restores, negative for deductions
	Delta   int64
	OrderID string
	// From and To record the order transition that caused the movement;
	// both are empty for seed adjustments.
	From      string
	To        string
	CreatedAt time.Time
}

// Ledger is the transactional store of per-variant on-hand quantities.
// Concurrent adjustments to the same variant serialize; adjustments to
// different variants proceed independently. All stock access goes through
// these primitives; no component gets direct read-modify-write access.
type Ledger interface {
	// Restore increments on-hand by the movement's quantity. It never
	// fails on overflow within realistic bounds.
	Restore(ctx context.Context, m Movement) error

	// Deduct decrements on-hand, failing with ErrInsufficientStock if the
	// resulting quantity would go negative. The movement's Delta field is
	// taken as a magnitude; the ledger records it negated.
	Deduct(ctx context.Context, m Movement) error

	// OnHand returns the current on-hand quantity for a variant.
	OnHand(ctx context.Context, variantID string) (int64, error)
}
