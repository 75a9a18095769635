package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"fulfill/ledger"
)

func TestDeductAndRestore(t *testing.T) {
	l := New()
	l.Seed("hat-black", 10)
	ctx := context.Background()

	if err := l.Deduct(ctx, ledger.Movement{VariantID: "hat-black", Delta: 3, OrderID: "ord-1"}); err != nil {
		t.Fatalf("Deduct failed: %v", err)
	}
	onHand, err := l.OnHand(ctx, "hat-black")
	if err != nil {
		t.Fatalf("OnHand failed: %v", err)
	}
	if onHand != 7 {
		t.Errorf("expected 7 on hand, got %d", onHand)
	}

	if err := l.Restore(ctx, ledger.Movement{VariantID: "hat-black", Delta: 3, OrderID: "ord-1"}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	onHand, _ = l.OnHand(ctx, "hat-black")
	if onHand != 10 {
		t.Errorf("expected 10 on hand after restore, got %d", onHand)
	}
}

func TestDeduct_InsufficientStock(t *testing.T) {
	l := New()
	l.Seed("hat-black", 2)
	ctx := context.Background()

	err := l.Deduct(ctx, ledger.Movement{VariantID: "hat-black", Delta: 3})
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// The failed deduction must not have moved the balance
	onHand, _ := l.OnHand(ctx, "hat-black")
	if onHand != 2 {
		t.Errorf("expected balance untouched at 2, got %d", onHand)
	}
}

func TestDeduct_UnknownVariant(t *testing.T) {
	l := New()
	ctx := context.Background()

	if err := l.Deduct(ctx, ledger.Movement{VariantID: "ghost", Delta: 1}); !errors.Is(err, ledger.ErrUnknownVariant) {
		t.Errorf("Deduct: expected ErrUnknownVariant, got %v", err)
	}
	if _, err := l.OnHand(ctx, "ghost"); !errors.Is(err, ledger.ErrUnknownVariant) {
		t.Errorf("OnHand: expected ErrUnknownVariant, got %v", err)
	}
}

func TestRestore_CreatesEntry(t *testing.T) {
	l := New()
	ctx := context.Background()

	if err := l.Restore(ctx, ledger.Movement{VariantID: "new-variant", Delta: 5}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	onHand, err := l.OnHand(ctx, "new-variant")
	if err != nil {
		t.Fatalf("OnHand failed: %v", err)
	}
	if onHand != 5 {
		t.Errorf("expected 5 on hand, got %d", onHand)
	}
}

func TestMovements_RecordSignedDeltas(t *testing.T) {
	l := New()
	l.Seed("hat-black", 10)
	ctx := context.Background()

	if err := l.Deduct(ctx, ledger.Movement{VariantID: "hat-black", Delta: 4, OrderID: "ord-1", From: "intake", To: "intake"}); err != nil {
		t.Fatalf("Deduct failed: %v", err)
	}
	if err := l.Restore(ctx, ledger.Movement{VariantID: "hat-black", Delta: 4, OrderID: "ord-1", From: "packed", To: "cancelled"}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	movements := l.Movements()
	if len(movements) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(movements))
	}
	if movements[0].Delta != -4 {
		t.Errorf("deduction must record a negative delta, got %d", movements[0].Delta)
	}
	if movements[1].Delta != 4 {
		t.Errorf("restore must record a positive delta, got %d", movements[1].Delta)
	}
	if movements[1].To != "cancelled" {
		t.Errorf("movement must carry the causing transition, got %q", movements[1].To)
	}
}

func TestConcurrentDeducts_NeverGoNegative(t *testing.T) {
	l := New()
	l.Seed("hat-black", 50)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	var succeeded int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Deduct(ctx, ledger.Movement{VariantID: "hat-black", Delta: 5}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Only 10 deductions of 5 fit into 50
	if succeeded != 10 {
		t.Errorf("expected exactly 10 successful deductions, got %d", succeeded)
	}
	onHand, _ := l.OnHand(ctx, "hat-black")
	if onHand != 0 {
		t.Errorf("expected 0 on hand, got %d", onHand)
	}
}

// Stock is conserved: seeded total equals on-hand total minus the sum of
// recorded movement deltas.
func TestLedgerConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New()
		ctx := context.Background()

		variants := rapid.SliceOfNDistinct(
			rapid.StringMatching(`v-[a-z]{3}`),
			1, 4,
			func(s string) string { return s },
		).Draw(t, "variants")
		var seeded int64
		for _, v := range variants {
			qty := rapid.Int64Range(0, 100).Draw(t, "seed")
			l.Seed(v, qty)
			seeded += qty
		}

		ops := rapid.IntRange(1, 30).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			v := rapid.SampledFrom(variants).Draw(t, "variant")
			qty := rapid.Int64Range(1, 20).Draw(t, "qty")
			if rapid.Bool().Draw(t, "restore") {
				if err := l.Restore(ctx, ledger.Movement{VariantID: v, Delta: qty}); err != nil {
					t.Fatalf("Restore failed: %v", err)
				}
			} else {
				err := l.Deduct(ctx, ledger.Movement{VariantID: v, Delta: qty})
				if err != nil && !errors.Is(err, ledger.ErrInsufficientStock) {
					t.Fatalf("Deduct failed: %v", err)
				}
			}
		}

		var net int64
		for _, m := range l.Movements() {
			net += m.Delta
		}
		if got := l.TotalOnHand(); got != seeded+net {
			t.Fatalf("conservation violated: seeded %d, net movements %d, on hand %d", seeded, net, got)
		}

		for _, v := range variants {
			onHand, err := l.OnHand(ctx, v)
			if err != nil {
				t.Fatalf("OnHand failed: %v", err)
			}
			if onHand < 0 {
				t.Fatalf("variant %s went negative: %d", v, onHand)
			}
		}
	})
}
