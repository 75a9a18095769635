// Package memory provides an in-memory implementation of the ledger.Ledger
// interface for tests, examples and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fulfill/ledger"
)

// entry holds one variant's balance behind its own mutex so adjustments to
// different variants do not contend.
type entry struct {
	mu     sync.Mutex
	onHand int64
}

// MemoryLedger is an in-memory ledger. Adjustments to the same variant
// serialize on a per-variant mutex; the outer lock only guards the map.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]*entry

	movementsMu sync.Mutex
	movements   []ledger.Movement
}

var _ ledger.Ledger = (*MemoryLedger)(nil)

// New creates an empty MemoryLedger.
func New() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]*entry),
	}
}

// Seed sets the on-hand quantity for a variant, creating the entry if
// needed. Intended for bootstrapping and tests.
func (l *MemoryLedger) Seed(variantID string, onHand int64) {
	e := l.entry(variantID, true)
	e.mu.Lock()
	e.onHand = onHand
	e.mu.Unlock()
}

// Restore increments on-hand by the movement quantity.
func (l *MemoryLedger) Restore(ctx context.Context, m ledger.Movement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := l.entry(m.VariantID, true)
	e.mu.Lock()
	e.onHand += m.Delta
	e.mu.Unlock()

	l.record(m, m.Delta)
	return nil
}

// Deduct decrements on-hand, refusing to go negative.
func (l *MemoryLedger) Deduct(ctx context.Context, m ledger.Movement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := l.entry(m.VariantID, false)
	if e == nil {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownVariant, m.VariantID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.onHand < m.Delta {
		return fmt.Errorf("%w: variant %s has %d on hand, need %d",
			ledger.ErrInsufficientStock, m.VariantID, e.onHand, m.Delta)
	}
	e.onHand -= m.Delta

	l.record(m, -m.Delta)
	return nil
}

// OnHand returns the current balance for a variant.
func (l *MemoryLedger) OnHand(ctx context.Context, variantID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e := l.entry(variantID, false)
	if e == nil {
		return 0, fmt.Errorf("%w: %s", ledger.ErrUnknownVariant, variantID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onHand, nil
}

// Movements returns a copy of the audit trail in application order.
func (l *MemoryLedger) Movements() []ledger.Movement {
	l.movementsMu.Lock()
	defer l.movementsMu.Unlock()
	result := make([]ledger.Movement, len(l.movements))
	copy(result, l.movements)
	return result
}

// TotalOnHand returns the sum of all balances. Used by conservation tests.
func (l *MemoryLedger) TotalOnHand() int64 {
	l.mu.RLock()
	variants := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		variants = append(variants, e)
	}
	l.mu.RUnlock()

	var total int64
	for _, e := range variants {
		e.mu.Lock()
		total += e.onHand
		e.mu.Unlock()
	}
	return total
}

func (l *MemoryLedger) entry(variantID string, create bool) *entry {
	l.mu.RLock()
	e, ok := l.entries[variantID]
	l.mu.RUnlock()
	if ok || !create {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[variantID]; ok {
		return e
	}
	e = &entry{}
	l.entries[variantID] = e
	return e
}

func (l *MemoryLedger) record(m ledger.Movement, signedDelta int64) {
	m.Delta = signedDelta
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	l.movementsMu.Lock()
	l.movements = append(l.movements, m)
	l.movementsMu.Unlock()
}
