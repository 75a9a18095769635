// Package memory provides an in-memory implementation of
// fulfill.OrderStore for tests and examples. It composes the in-memory
// stock ledger so order creation and stock restoration share one source
// of on-hand truth.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fulfill/ledger"
	ledgermem "fulfill/ledger/memory"

	fulfill "fulfill"
)

// MemoryStore is an in-memory OrderStore. All returned orders are deep
// copies; mutations go through the store methods only.
type MemoryStore struct {
	mu            sync.RWMutex
	orders        map[string]*fulfill.Order
	notifications map[string]*fulfill.NotificationRecord
	idempotency   map[string]idempotencyEntry
	stock         *ledgermem.MemoryLedger

	nextNotificationID int64
}

type idempotencyEntry struct {
	result    []byte
	expiresAt time.Time
}

// New creates an empty MemoryStore.
func New() *MemoryStore {
	return &MemoryStore{
		orders:        make(map[string]*fulfill.Order),
		notifications: make(map[string]*fulfill.NotificationRecord),
		idempotency:   make(map[string]idempotencyEntry),
		stock:         ledgermem.New(),
	}
}

// Ledger exposes the underlying stock ledger, mainly for seeding stock
// in tests.
func (s *MemoryStore) Ledger() *ledgermem.MemoryLedger {
	return s.stock
}

// SeedStock sets the on-hand quantity for a variant.
func (s *MemoryStore) SeedStock(variantID string, onHand int64) {
	s.stock.Seed(variantID, onHand)
}

// CreateOrder stores the order and deducts each line item from stock.
// Already-applied deductions are restored when a later line item fails,
// so a rejected order leaves stock untouched.
func (s *MemoryStore) CreateOrder(ctx context.Context, order *fulfill.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fulfill.ErrOrderAlreadyExists
	}

	var applied []fulfill.LineItem
	for _, item := range order.LineItems {
		err := s.stock.Deduct(ctx, ledger.Movement{
			VariantID: item.VariantID,
			Delta:     item.Quantity,
			OrderID:   order.ID,
			To:        string(order.Status),
		})
		if err != nil {
			for _, undo := range applied {
				s.stock.Restore(ctx, ledger.Movement{
					VariantID: undo.VariantID,
					Delta:     undo.Quantity,
					OrderID:   order.ID,
				})
			}
			return err
		}
		applied = append(applied, item)
	}

	s.orders[order.ID] = order.Clone()
	return nil
}

// GetOrder returns a copy of the stored order.
func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*fulfill.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.orders[id]
	if !exists {
		return nil, fulfill.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// CommitTransition applies the status change conditionally on the
// expected from-status, together with any stock restoration, under one
// lock.
func (s *MemoryStore) CommitTransition(ctx context.Context, commit *fulfill.TransitionCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := commit.Event
	order, exists := s.orders[ev.OrderID]
	if !exists {
		return fulfill.ErrOrderNotFound
	}
	if order.Status != ev.From {
		return fulfill.ErrCommitConflict
	}

	for _, adj := range commit.Restock {
		if err := s.stock.Restore(ctx, ledger.Movement{
			VariantID: adj.VariantID,
			Delta:     adj.Quantity,
			OrderID:   ev.OrderID,
			From:      string(ev.From),
			To:        string(ev.To),
		}); err != nil {
			return err
		}
	}

	order.Status = ev.To
	order.Version++
	order.UpdatedAt = time.Now()
	return nil
}

// SetOrderMeta upserts a single meta key on an order.
func (s *MemoryStore) SetOrderMeta(ctx context.Context, orderID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[orderID]
	if !exists {
		return fulfill.ErrOrderNotFound
	}
	if order.Meta == nil {
		order.Meta = make(map[string]string)
	}
	order.Meta[key] = value
	order.UpdatedAt = time.Now()
	return nil
}

// OnHand returns the current on-hand quantity for a variant.
func (s *MemoryStore) OnHand(ctx context.Context, variantID string) (int64, error) {
	return s.stock.OnHand(ctx, variantID)
}

// CreateNotification stores a notification record.
func (s *MemoryStore) CreateNotification(ctx context.Context, record *fulfill.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := notificationKey(record.EventID, record.EventName)
	if _, exists := s.notifications[key]; exists {
		return fmt.Errorf("%w: notification already recorded", fulfill.ErrStoreOperationFailed)
	}

	s.nextNotificationID++
	record.ID = s.nextNotificationID
	clone := *record
	s.notifications[key] = &clone
	return nil
}

// UpdateNotification updates a stored notification record.
func (s *MemoryStore) UpdateNotification(ctx context.Context, record *fulfill.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := notificationKey(record.EventID, record.EventName)
	if _, exists := s.notifications[key]; !exists {
		return fmt.Errorf("%w: notification %s:%s not found",
			fulfill.ErrStoreOperationFailed, record.EventID, record.EventName)
	}

	clone := *record
	s.notifications[key] = &clone
	return nil
}

// GetNotificationByEvent returns a copy of a stored notification record.
func (s *MemoryStore) GetNotificationByEvent(ctx context.Context, eventID, eventName string) (*fulfill.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.notifications[notificationKey(eventID, eventName)]
	if !exists {
		return nil, fmt.Errorf("%w: notification %s:%s not found",
			fulfill.ErrStoreOperationFailed, eventID, eventName)
	}
	clone := *record
	return &clone, nil
}

// ListFailedNotifications returns failed records oldest-first.
func (s *MemoryStore) ListFailedNotifications(ctx context.Context, limit int) ([]*fulfill.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*fulfill.NotificationRecord
	for _, record := range s.notifications {
		if record.Status != fulfill.NotificationFailed {
			continue
		}
		clone := *record
		records = append(records, &clone)
	}

	sortRecordsByCreation(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// CheckIdempotency checks if an operation was already executed.
func (s *MemoryStore) CheckIdempotency(ctx context.Context, key string) (bool, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.idempotency[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return false, nil, nil
	}
	return true, entry.result, nil
}

// MarkIdempotency marks an operation as executed with its result.
func (s *MemoryStore) MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idempotency[key] = idempotencyEntry{
		result:    result,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func notificationKey(eventID, eventName string) string {
	return eventID + ":" + eventName
}

// sortRecordsByCreation orders records oldest-first, mirroring the
// replay scan order of the MySQL store.
func sortRecordsByCreation(records []*fulfill.NotificationRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

// Ensure MemoryStore implements the storage interface.
var _ fulfill.OrderStore = (*MemoryStore)(nil)
