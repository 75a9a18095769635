// Package event provides domain event definitions and the in-process
// event bus for the fulfillment core.
package event

import (
	"time"
)

// EventType identifies a domain event
type EventType string

const (
	// Order lifecycle events
	EventOrderPlaced         EventType = "order.placed"
	EventTransitionCommitted EventType = "order.transition.committed"
	EventTransitionRejected  EventType = "order.transition.rejected"
	EventTransitionFailed    EventType = "order.transition.failed"

	// Stock events
	EventStockRestored EventType = "stock.restored"
	EventStockDeducted EventType = "stock.deducted"

	// Conversion notifier events
	EventConversionSent      EventType = "conversion.sent"
	EventConversionFailed    EventType = "conversion.failed"
	EventConversionUnmatched EventType = "conversion.unmatched"

	// Replay worker events
	EventReplayStarted EventType = "replay.started"

	// Alert events
	EventAlertWarning  EventType = "alert.warning"
	EventAlertCritical EventType = "alert.critical"
)

// Event is one domain occurrence published on the bus.
type Event struct {
	Type      EventType
	OrderID   string
	Channel   string
	From      string
	To        string
	EventID   string // conversion event correlation id, when relevant
	Timestamp time.Time
	Data      map[string]any
	Error     error
}

// NewEvent creates an event of the given type stamped with the current time.
func NewEvent(eventType EventType) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// WithOrder sets the order id on the event.
func (e Event) WithOrder(orderID string) Event {
	e.OrderID = orderID
	return e
}

// WithChannel sets the fulfillment channel on the event.
func (e Event) WithChannel(channel string) Event {
	e.Channel = channel
	return e
}

// WithTransition sets the from and to statuses on the event.
func (e Event) WithTransition(from, to string) Event {
	e.From = from
	e.To = to
	return e
}

// WithEventID sets the conversion correlation id on the event.
func (e Event) WithEventID(eventID string) Event {
	e.EventID = eventID
	return e
}

// WithError sets the error on the event.
func (e Event) WithError(err error) Event {
	e.Error = err
	return e
}

// WithData sets a key-value pair in the event data.
func (e Event) WithData(key string, value any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}
