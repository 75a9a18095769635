package fulfill

import (
	"context"
	"time"
)

// StockAdjustment is one on-hand increment carried inside a transition
// commit. Quantity is always positive; restoration is the only stock
// mutation the transition path performs.
type StockAdjustment struct {
	VariantID string
	Quantity  int64
}

// TransitionCommit is the atomic unit handed to the store: the
// conditional status write plus, for stock-restoring transitions, one
// adjustment per line item. Both succeed or both roll back; a transition
// never leaves stock restored without the status change recorded, or
// vice versa.
type TransitionCommit struct {
	// Event identifies the order and the expected-from/target statuses.
	// The store conditions the write on Event.From so a stale snapshot
	// can never be committed.
	Event TransitionEvent

	// Restock is non-empty iff the target status is stock-restoring
	Restock []StockAdjustment
}

// NotificationStatus is the lifecycle of a recorded conversion attempt
type NotificationStatus string

const (
	// NotificationPending indicates the attempt is recorded but not yet sent
	NotificationPending NotificationStatus = "PENDING"
	// NotificationSent indicates the external sink accepted the event
	NotificationSent NotificationStatus = "SENT"
	// NotificationFailed indicates the send failed; the record stays for
	// manual replay
	NotificationFailed NotificationStatus = "FAILED"
)

// NotificationRecord is the durable trace of one conversion emission
// attempt. Send failures never block or reverse a committed transition;
// the record is what makes manual replay possible.
type NotificationRecord struct {
	ID        int64
	EventID   string
	EventName string
	OrderID   string
	Payload   []byte
	Status    NotificationStatus
	// Unmatched flags a refund emitted without a prior purchase event id
	Unmatched bool
	ErrorMsg  string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
	SentAt    *time.Time
}

// OrderStore is the persistence collaborator. Implementations are assumed
// transactional (ACID); the core does not define their wire format.
// store/mysql and store/memory implement this interface.
type OrderStore interface {
	// Order operations
	//
	// CreateOrder persists a new order and deducts each line item from
	// stock as one atomic unit, failing with ErrInsufficientStock (and
	// writing nothing) if any deduction would go negative.
	CreateOrder(ctx context.Context, order *Order) error
	// GetOrder loads an order, observing the latest committed status.
	GetOrder(ctx context.Context, id string) (*Order, error)
	// CommitTransition applies a TransitionCommit conditionally on the
	// expected from-status. It returns ErrCommitConflict when the
	// persisted status no longer matches, ErrOrderNotFound when the order
	// does not exist.
	CommitTransition(ctx context.Context, commit *TransitionCommit) error
	// SetOrderMeta upserts a single meta key on an order.
	SetOrderMeta(ctx context.Context, orderID, key, value string) error

	// Stock queries
	OnHand(ctx context.Context, variantID string) (int64, error)

	// Notification records
	CreateNotification(ctx context.Context, record *NotificationRecord) error
	UpdateNotification(ctx context.Context, record *NotificationRecord) error
	GetNotificationByEvent(ctx context.Context, eventID, eventName string) (*NotificationRecord, error)
	// ListFailedNotifications returns failed records oldest-first for
	// manual replay.
	ListFailedNotifications(ctx context.Context, limit int) ([]*NotificationRecord, error)

	// Idempotency operations, consumed via idempotency/store.Checker
	CheckIdempotency(ctx context.Context, key string) (exists bool, result []byte, err error)
	MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error
}
