// Package store provides the storage models shared by the fulfillment
// store implementations.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	fulfill "fulfill"
)

// OrderRecord represents an order row in the database.
type OrderRecord struct {
	// ID is the auto-increment primary key.
	ID int64 `db:"id" json:"id"`

	// OrderID is the unique order identifier.
	OrderID string `db:"order_id" json:"order_id"`

	// Channel is the fulfillment channel the order belongs to.
	Channel string `db:"channel" json:"channel"`

	// Status is the current fulfillment status.
	Status string `db:"status" json:"status"`

	// LineItems contains the ordered variants, stored as JSON.
	LineItems LineItemList `db:"line_items" json:"line_items"`

	// Currency is the ISO currency code for the line item prices.
	Currency string `db:"currency" json:"currency"`

	// CustomerEmail and CustomerPhone feed the hashed conversion payload.
	CustomerEmail string `db:"customer_email" json:"customer_email,omitempty"`
	CustomerPhone string `db:"customer_phone" json:"customer_phone,omitempty"`

	// Meta holds the technical key/value bag, stored as JSON.
	Meta MetaMap `db:"meta" json:"meta"`

	// Version is bumped on every committed transition.
	Version int `db:"version" json:"version"`

	// CreatedAt is when the order was created.
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	// UpdatedAt is when the order was last updated.
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NewOrderRecord creates an OrderRecord from a domain order.
func NewOrderRecord(order *fulfill.Order) *OrderRecord {
	return &OrderRecord{
		OrderID:       order.ID,
		Channel:       string(order.Channel),
		Status:        string(order.Status),
		LineItems:     LineItemList(order.LineItems),
		Currency:      order.Currency,
		CustomerEmail: order.CustomerEmail,
		CustomerPhone: order.CustomerPhone,
		Meta:          MetaMap(order.Meta),
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

// ToOrder converts the record back to a domain order.
func (r *OrderRecord) ToOrder() *fulfill.Order {
	items := make([]fulfill.LineItem, len(r.LineItems))
	copy(items, r.LineItems)
	meta := make(map[string]string, len(r.Meta))
	for k, v := range r.Meta {
		meta[k] = v
	}
	return &fulfill.Order{
		ID:            r.OrderID,
		Channel:       fulfill.FulfillmentType(r.Channel),
		Status:        fulfill.Status(r.Status),
		LineItems:     items,
		Currency:      r.Currency,
		CustomerEmail: r.CustomerEmail,
		CustomerPhone: r.CustomerPhone,
		Meta:          meta,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// MovementRecord represents a stock movement row in the database. Every
// on-hand mutation leaves exactly one movement row.
type MovementRecord struct {
	// ID is the auto-increment primary key.
	ID int64 `db:"id" json:"id"`

	// VariantID is the stock variant the movement applies to.
	VariantID string `db:"variant_id" json:"variant_id"`

	// Delta is positive for restores, negative for deductions.
	Delta int64 `db:"delta" json:"delta"`

	// OrderID attributes the movement to an order.
	OrderID string `db:"order_id" json:"order_id"`

	// FromStatus and ToStatus record the transition that caused the
	// movement; both are empty for seed adjustments.
	FromStatus string `db:"from_status" json:"from_status,omitempty"`
	ToStatus   string `db:"to_status" json:"to_status,omitempty"`

	// CreatedAt is when the movement was recorded.
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// LineItemList is a custom type for storing line items as JSON in the
// database.
type LineItemList []fulfill.LineItem

// Value implements the driver.Valuer interface for database serialization.
func (l LineItemList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (l *LineItemList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into LineItemList", value)
	}

	return json.Unmarshal(bytes, l)
}

// MetaMap is a custom type for storing the order meta bag as JSON in the
// database.
type MetaMap map[string]string

// Value implements the driver.Valuer interface for database serialization.
func (m MetaMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *MetaMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into MetaMap", value)
	}

	return json.Unmarshal(bytes, m)
}

// OrderFilter defines filters for listing orders.
type OrderFilter struct {
	// Status filters by fulfillment status (multiple allowed).
	Status []fulfill.Status

	// Channel filters by fulfillment channel.
	Channel fulfill.FulfillmentType

	// StartTime filters orders created after this time.
	StartTime time.Time

	// EndTime filters orders created before this time.
	EndTime time.Time

	// Limit specifies the maximum number of results to return.
	Limit int

	// Offset specifies the number of results to skip.
	Offset int
}

// NewOrderFilter creates a new OrderFilter with default values.
func NewOrderFilter() *OrderFilter {
	return &OrderFilter{
		Limit:  100,
		Offset: 0,
	}
}

// WithStatus adds status filters.
func (f *OrderFilter) WithStatus(status ...fulfill.Status) *OrderFilter {
	f.Status = append(f.Status, status...)
	return f
}

// WithChannel sets the channel filter.
func (f *OrderFilter) WithChannel(channel fulfill.FulfillmentType) *OrderFilter {
	f.Channel = channel
	return f
}

// WithTimeRange sets the time range filter.
func (f *OrderFilter) WithTimeRange(start, end time.Time) *OrderFilter {
	f.StartTime = start
	f.EndTime = end
	return f
}

// WithPagination sets pagination parameters.
func (f *OrderFilter) WithPagination(limit, offset int) *OrderFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}
