package fulfill

import (
	"fmt"
	"time"
)

// Meta keys owned by the engine and the conversion notifier. Nothing else
// may write them.
const (
	// MetaEventID holds the stable conversion event id assigned on the
	// first purchase-equivalent transition. Once set it is never
	// regenerated for the same order.
	MetaEventID = "conversion_event_id"

	// MetaSourceChannel holds the external source channel correlation id
	MetaSourceChannel = "source_channel_id"

	// MetaUnmatched flags a refund emitted without a prior purchase event
	MetaUnmatched = "conversion_unmatched"
)

// LineItem is one ordered variant. Quantity mutation after order creation
// is out of scope; line items are fixed at creation.
type LineItem struct {
	VariantID string
	Quantity  int64
	// UnitPrice is in minor currency units
	UnitPrice int64
}

// Order is the fulfillment aggregate. Status is mutated only through
// validated transitions; Meta is mutated only by the engine and the
// conversion notifier.
type Order struct {
	ID            string
	Channel       FulfillmentType
	Status        Status
	LineItems     []LineItem
	Currency      string
	CustomerEmail string
	CustomerPhone string
	Meta          map[string]string

	// Version is bumped on every committed transition; the store uses it
	// together with the status-conditional write for conflict detection.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder creates an order in the intake status.
func NewOrder(id string, channel FulfillmentType, currency string, items []LineItem) (*Order, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty order id", ErrInvalidOrder)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order %s has no line items", ErrInvalidOrder, id)
	}
	for _, item := range items {
		if item.VariantID == "" {
			return nil, fmt.Errorf("%w: order %s has a line item without a variant", ErrInvalidOrder, id)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: order %s has non-positive quantity for variant %s",
				ErrInvalidOrder, id, item.VariantID)
		}
	}

	now := time.Now()
	lineItems := make([]LineItem, len(items))
	copy(lineItems, items)
	return &Order{
		ID:        id,
		Channel:   channel,
		Status:    StatusIntake,
		LineItems: lineItems,
		Currency:  currency,
		Meta:      make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Total returns the order value in minor currency units.
func (o *Order) Total() int64 {
	var total int64
	for _, item := range o.LineItems {
		total += item.Quantity * item.UnitPrice
	}
	return total
}

// EventID returns the conversion event id assigned to this order, if any.
func (o *Order) EventID() (string, bool) {
	id, ok := o.Meta[MetaEventID]
	return id, ok && id != ""
}

// MetaValue returns a meta value by key.
func (o *Order) MetaValue(key string) (string, bool) {
	v, ok := o.Meta[key]
	return v, ok
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	clone := *o
	clone.LineItems = make([]LineItem, len(o.LineItems))
	copy(clone.LineItems, o.LineItems)
	clone.Meta = make(map[string]string, len(o.Meta))
	for k, v := range o.Meta {
		clone.Meta[k] = v
	}
	return &clone
}

// TransitionEvent describes one attempted status change. It is created at
// the start of a transition attempt, consumed by the stock ledger for
// movement attribution and by the conversion notifier, then discarded; it
// is not persisted as an entity.
type TransitionEvent struct {
	OrderID    string
	From       Status
	To         Status
	Channel    FulfillmentType
	Restocking bool
	Timestamp  time.Time
}
