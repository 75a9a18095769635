// Package store provides tests for the store-based idempotency checker implementation.
package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// ============================================================================
// Mock Store for Testing
// ============================================================================

// mockIdempotencyStore is an in-memory implementation of IdempotencyStore for testing.
type mockIdempotencyStore struct {
	mu      sync.RWMutex
	records map[string]idempotencyRecord
}

type idempotencyRecord struct {
	result    []byte
	expiresAt time.Time
}

func newMockIdempotencyStore() *mockIdempotencyStore {
	return &mockIdempotencyStore{
		records: make(map[string]idempotencyRecord),
	}
}

func (m *mockIdempotencyStore) CheckIdempotency(ctx context.Context, key string) (bool, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[key]
	if !exists {
		return false, nil, nil
	}

	if time.Now().After(record.expiresAt) {
		return false, nil, nil
	}

	return true, record.result, nil
}

func (m *mockIdempotencyStore) MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[key] = idempotencyRecord{
		result:    result,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestStoreChecker_CheckNotExists(t *testing.T) {
	store := newMockIdempotencyStore()
	checker := New(store)

	exists, result, err := checker.Check(context.Background(), "non-existent-key")
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if exists {
		t.Error("expected exists=false for non-existent key")
	}
	if result != nil {
		t.Errorf("expected nil result, got %v", result)
	}
}

func TestStoreChecker_MarkAndCheck(t *testing.T) {
	store := newMockIdempotencyStore()
	checker := New(store)

	key := "evt-7c1f:purchase"
	expectedResult := []byte(`{"status":"sent"}`)

	err := checker.Mark(context.Background(), key, expectedResult, time.Hour)
	if err != nil {
		t.Errorf("expected no error on mark, got %v", err)
	}

	exists, result, err := checker.Check(context.Background(), key)
	if err != nil {
		t.Errorf("expected no error on check, got %v", err)
	}
	if !exists {
		t.Error("expected exists=true after marking")
	}
	if string(result) != string(expectedResult) {
		t.Errorf("expected result %s, got %s", expectedResult, result)
	}
}

func TestStoreChecker_ExpiredRecord(t *testing.T) {
	store := newMockIdempotencyStore()
	checker := New(store)

	key := "evt-7c1f:purchase"
	result := []byte(`{"status":"sent"}`)

	err := checker.Mark(context.Background(), key, result, 1*time.Millisecond)
	if err != nil {
		t.Errorf("expected no error on mark, got %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	exists, _, err := checker.Check(context.Background(), key)
	if err != nil {
		t.Errorf("expected no error on check, got %v", err)
	}
	if exists {
		t.Error("expected exists=false after expiration")
	}
}

// ============================================================================
// Property-Based Tests
// ============================================================================

// Once a dedup key is marked, every subsequent check returns the same
// stored result.
func TestProperty_DedupGuarantee(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newMockIdempotencyStore()
		checker := New(store)
		ctx := context.Background()

		eventID := rapid.StringMatching(`evt-[a-z0-9]{8}`).Draw(t, "eventID")
		eventName := rapid.SampledFrom([]string{"purchase", "refund"}).Draw(t, "eventName")
		key := eventID + ":" + eventName

		resultData := rapid.SliceOfN(rapid.Byte(), 1, 100).Draw(t, "resultData")
		ttlSeconds := rapid.IntRange(1, 3600).Draw(t, "ttlSeconds")
		ttl := time.Duration(ttlSeconds) * time.Second

		exists, _, err := checker.Check(ctx, key)
		if err != nil {
			t.Fatalf("first check failed: %v", err)
		}
		if exists {
			t.Fatal("first check should return exists=false")
		}

		err = checker.Mark(ctx, key, resultData, ttl)
		if err != nil {
			t.Fatalf("mark failed: %v", err)
		}

		numChecks := rapid.IntRange(2, 10).Draw(t, "numChecks")
		for i := 0; i < numChecks; i++ {
			exists, result, err := checker.Check(ctx, key)
			if err != nil {
				t.Fatalf("check %d failed: %v", i, err)
			}
			if !exists {
				t.Fatalf("check %d: expected exists=true", i)
			}
			if string(result) != string(resultData) {
				t.Fatalf("check %d: expected result %v, got %v", i, resultData, result)
			}
		}
	})
}

// The purchase and refund dedup records for the same event id are
// independent; marking one never marks the other.
func TestProperty_EventNamesDedupIndependently(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newMockIdempotencyStore()
		checker := New(store)
		ctx := context.Background()

		eventID := rapid.StringMatching(`evt-[a-z0-9]{8}`).Draw(t, "eventID")
		purchaseKey := eventID + ":purchase"
		refundKey := eventID + ":refund"

		result := rapid.SliceOfN(rapid.Byte(), 1, 50).Draw(t, "result")

		if err := checker.Mark(ctx, purchaseKey, result, time.Hour); err != nil {
			t.Fatalf("mark purchase failed: %v", err)
		}

		exists, gotResult, err := checker.Check(ctx, purchaseKey)
		if err != nil {
			t.Fatalf("check purchase failed: %v", err)
		}
		if !exists {
			t.Fatal("purchase key should exist")
		}
		if string(gotResult) != string(result) {
			t.Fatalf("purchase key: expected result %v, got %v", result, gotResult)
		}

		exists, _, err = checker.Check(ctx, refundKey)
		if err != nil {
			t.Fatalf("check refund failed: %v", err)
		}
		if exists {
			t.Fatal("refund key must not exist after marking only the purchase")
		}
	})
}

// Check-then-mark delivers exactly-once emission across repeated attempts
// with the same key.
func TestProperty_CheckThenMarkPattern(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newMockIdempotencyStore()
		checker := New(store)
		ctx := context.Background()

		key := rapid.StringMatching(`evt-[a-z0-9]{8}:(purchase|refund)`).Draw(t, "key")
		ttl := time.Hour

		executionCount := 0

		numAttempts := rapid.IntRange(2, 5).Draw(t, "numAttempts")
		var firstResult []byte

		for attempt := 0; attempt < numAttempts; attempt++ {
			exists, cachedResult, err := checker.Check(ctx, key)
			if err != nil {
				t.Fatalf("attempt %d: check failed: %v", attempt, err)
			}

			if exists {
				if firstResult == nil {
					t.Fatalf("attempt %d: got cached result but firstResult is nil", attempt)
				}
				if string(cachedResult) != string(firstResult) {
					t.Fatalf("attempt %d: cached result mismatch, expected %v, got %v",
						attempt, firstResult, cachedResult)
				}
			} else {
				executionCount++
				result := rapid.SliceOfN(rapid.Byte(), 1, 50).Draw(t, "sendResult")
				firstResult = result

				if err := checker.Mark(ctx, key, result, ttl); err != nil {
					t.Fatalf("attempt %d: mark failed: %v", attempt, err)
				}
			}
		}

		if executionCount != 1 {
			t.Fatalf("the send should happen exactly once, got %d executions", executionCount)
		}
	})
}
