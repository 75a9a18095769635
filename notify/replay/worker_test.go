package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfill/event"
	"fulfill/lock"

	fulfill "fulfill"
)

// ============================================================================
// Test Helpers - Mock Implementations
// ============================================================================

var errMockSendFailure = errors.New("mock send failure")

// mockRecordStore implements RecordStore for testing
type mockRecordStore struct {
	mu      sync.RWMutex
	records map[string]*fulfill.NotificationRecord // keyed eventID:eventName
}

func newMockRecordStore() *mockRecordStore {
	return &mockRecordStore{
		records: make(map[string]*fulfill.NotificationRecord),
	}
}

func (s *mockRecordStore) add(record *fulfill.NotificationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.records[record.EventID+":"+record.EventName] = &clone
}

func (s *mockRecordStore) ListFailedNotifications(ctx context.Context, limit int) ([]*fulfill.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*fulfill.NotificationRecord
	for _, record := range s.records {
		if record.Status != fulfill.NotificationFailed {
			continue
		}
		clone := *record
		result = append(result, &clone)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *mockRecordStore) GetNotificationByEvent(ctx context.Context, eventID, eventName string) (*fulfill.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, exists := s.records[eventID+":"+eventName]
	if !exists {
		return nil, errors.New("notification not found")
	}
	clone := *record
	return &clone, nil
}

// mockSender implements Sender; success marks the record sent in the store.
type mockSender struct {
	mu    sync.Mutex
	store *mockRecordStore
	fail  error
	calls []string
}

func (m *mockSender) Resend(ctx context.Context, record *fulfill.NotificationRecord) error {
	m.mu.Lock()
	m.calls = append(m.calls, record.EventID+":"+record.EventName)
	fail := m.fail
	m.mu.Unlock()

	if fail != nil {
		return fail
	}

	sent := *record
	sent.Status = fulfill.NotificationSent
	m.store.add(&sent)
	return nil
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockLocker implements lock.Locker with a plain key set
type mockLocker struct {
	mu    sync.Mutex
	locks map[string]bool
}

func newMockLocker() *mockLocker {
	return &mockLocker{locks: make(map[string]bool)}
}

func (l *mockLocker) Acquire(ctx context.Context, keys []string, ttl time.Duration) (lock.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range keys {
		if l.locks[key] {
			return nil, errors.New("lock already held")
		}
	}
	for _, key := range keys {
		l.locks[key] = true
	}
	return &mockLockHandle{locker: l, keys: keys}, nil
}

type mockLockHandle struct {
	locker *mockLocker
	keys   []string
}

func (h *mockLockHandle) Release(ctx context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	for _, key := range h.keys {
		delete(h.locker.locks, key)
	}
	return nil
}

func (h *mockLockHandle) Extend(ctx context.Context, ttl time.Duration) error {
	return nil
}

func (h *mockLockHandle) Keys() []string {
	return h.keys
}

func failedRecord(eventID, eventName string, attempts int) *fulfill.NotificationRecord {
	return &fulfill.NotificationRecord{
		EventID:   eventID,
		EventName: eventName,
		OrderID:   "ord-" + eventID,
		Payload:   []byte(`{"event_id":"` + eventID + `"}`),
		Status:    fulfill.NotificationFailed,
		ErrorMsg:  "endpoint down",
		Attempts:  attempts,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestWorker_ScanReplaysFailedRecords(t *testing.T) {
	store := newMockRecordStore()
	store.add(failedRecord("evt-1", "purchase", 1))
	store.add(failedRecord("evt-2", "refund", 2))

	sender := &mockSender{store: store}
	worker := NewWorker(WithStore(store), WithSender(sender))

	worker.Scan(context.Background())

	if sender.callCount() != 2 {
		t.Errorf("expected 2 resends, got %d", sender.callCount())
	}

	stats := worker.Stats()
	if stats.Scanned != 2 {
		t.Errorf("expected 2 scanned, got %d", stats.Scanned)
	}
	if stats.Replayed != 2 {
		t.Errorf("expected 2 replayed, got %d", stats.Replayed)
	}
	if stats.Failed != 0 {
		t.Errorf("expected 0 failed, got %d", stats.Failed)
	}

	// A second scan finds nothing left to replay
	worker.Scan(context.Background())
	if sender.callCount() != 2 {
		t.Errorf("expected no further resends, got %d", sender.callCount())
	}
}

func TestWorker_ScanSenderFailure(t *testing.T) {
	store := newMockRecordStore()
	store.add(failedRecord("evt-1", "purchase", 1))

	sender := &mockSender{store: store, fail: errMockSendFailure}
	bus := event.NewMemoryEventBus()

	var warnings int
	var mu sync.Mutex
	bus.Subscribe(event.EventAlertWarning, func(ctx context.Context, ev event.Event) error {
		mu.Lock()
		warnings++
		mu.Unlock()
		return nil
	})

	worker := NewWorker(WithStore(store), WithSender(sender), WithEventBus(bus))
	worker.Scan(context.Background())

	stats := worker.Stats()
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed replay, got %d", stats.Failed)
	}
	if stats.Replayed != 0 {
		t.Errorf("expected 0 replayed, got %d", stats.Replayed)
	}

	mu.Lock()
	defer mu.Unlock()
	if warnings != 1 {
		t.Errorf("expected 1 warning alert, got %d", warnings)
	}
}

func TestWorker_MaxAttemptsLeftForManualIntervention(t *testing.T) {
	store := newMockRecordStore()
	store.add(failedRecord("evt-1", "purchase", 5))

	sender := &mockSender{store: store}
	bus := event.NewMemoryEventBus()

	var criticals int
	var mu sync.Mutex
	bus.Subscribe(event.EventAlertCritical, func(ctx context.Context, ev event.Event) error {
		mu.Lock()
		criticals++
		mu.Unlock()
		return nil
	})

	worker := NewWorker(WithStore(store), WithSender(sender), WithEventBus(bus),
		WithConfig(Config{Interval: time.Minute, BatchLimit: 50, MaxAttempts: 5, LockTTL: 30 * time.Second}))
	worker.Scan(context.Background())

	if sender.callCount() != 0 {
		t.Errorf("exhausted record must not be resent, got %d calls", sender.callCount())
	}

	mu.Lock()
	defer mu.Unlock()
	if criticals != 1 {
		t.Errorf("expected 1 critical alert, got %d", criticals)
	}
}

func TestWorker_SkipsLockedRecord(t *testing.T) {
	store := newMockRecordStore()
	store.add(failedRecord("evt-1", "purchase", 1))

	locker := newMockLocker()
	// Another instance holds the replay lock
	locker.locks["replay:evt-1:purchase"] = true

	sender := &mockSender{store: store}
	worker := NewWorker(WithStore(store), WithSender(sender), WithLocker(locker))
	worker.Scan(context.Background())

	if sender.callCount() != 0 {
		t.Errorf("locked record must be skipped, got %d calls", sender.callCount())
	}
}

func TestWorker_ReloadUnderLockSkipsSentRecord(t *testing.T) {
	store := newMockRecordStore()
	record := failedRecord("evt-1", "purchase", 1)
	store.add(record)

	sender := &mockSender{store: store}
	worker := NewWorker(WithStore(store), WithSender(sender), WithLocker(newMockLocker()))

	// The record goes through between listing and locking
	sent := *record
	sent.Status = fulfill.NotificationSent
	store.add(&sent)

	// Drive replay directly with the stale listing
	worker.replay(context.Background(), record)

	if sender.callCount() != 0 {
		t.Errorf("record sent in the meantime must not be replayed, got %d calls", sender.callCount())
	}
}

func TestWorker_StartStop(t *testing.T) {
	store := newMockRecordStore()
	sender := &mockSender{store: store}
	worker := NewWorker(WithStore(store), WithSender(sender),
		WithConfig(Config{Interval: 10 * time.Millisecond, BatchLimit: 10, MaxAttempts: 5, LockTTL: time.Second}))

	if worker.IsRunning() {
		t.Error("worker should not be running before Start")
	}

	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !worker.IsRunning() {
		t.Error("worker should be running after Start")
	}

	if err := worker.Start(context.Background()); err == nil {
		t.Error("expected error on double Start")
	}

	worker.Stop()
	if worker.IsRunning() {
		t.Error("worker should not be running after Stop")
	}

	// Stop is idempotent
	worker.Stop()
}

func TestWorker_PeriodicScan(t *testing.T) {
	store := newMockRecordStore()
	store.add(failedRecord("evt-1", "purchase", 1))

	sender := &mockSender{store: store}
	worker := NewWorker(WithStore(store), WithSender(sender),
		WithConfig(Config{Interval: 5 * time.Millisecond, BatchLimit: 10, MaxAttempts: 5, LockTTL: time.Second}))

	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for worker.Stats().Replayed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if worker.Stats().Replayed != 1 {
		t.Errorf("expected 1 replayed record, got %d", worker.Stats().Replayed)
	}
}
