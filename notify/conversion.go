// Package notify emits external commerce conversion events for
// purchase-equivalent and refund-equivalent status transitions.
// Emission is exactly-once per event id and never blocks or reverses
// the transition that triggered it.
package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	fulfill "fulfill"
)

// Event names understood by the external sink
const (
	// EventPurchase is emitted on the first purchase-equivalent transition
	EventPurchase = "purchase"
	// EventRefund is emitted on a refund-equivalent transition, correlated
	// to the purchase by event id
	EventRefund = "refund"
)

// Conversion is the normalized payload sent to the external sink.
// Personal fields are hashed before they leave the process.
type Conversion struct {
	EventID   string `json:"event_id"`
	EventName string `json:"event_name"`
	// EventTime is a unix timestamp in seconds
	EventTime int64 `json:"event_time"`
	// EmailHash and PhoneHash are sha256 hex digests of the normalized
	// fields, empty when the order carries no value for them
	EmailHash string `json:"email_hash,omitempty"`
	PhoneHash string `json:"phone_hash,omitempty"`
	Currency  string `json:"currency"`
	// Amount is the order total in minor currency units
	Amount int64 `json:"amount"`
	// ContentIDs lists the ordered variant ids
	ContentIDs []string `json:"content_ids"`
	// SourceChannel carries the external channel correlation id, if set
	SourceChannel string `json:"source_channel,omitempty"`
}

// BuildConversion assembles the sink payload for an order.
func BuildConversion(order *fulfill.Order, eventID, eventName string, at time.Time) *Conversion {
	contentIDs := make([]string, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		contentIDs = append(contentIDs, item.VariantID)
	}

	conv := &Conversion{
		EventID:    eventID,
		EventName:  eventName,
		EventTime:  at.Unix(),
		EmailHash:  hashField(order.CustomerEmail),
		PhoneHash:  hashField(order.CustomerPhone),
		Currency:   order.Currency,
		Amount:     order.Total(),
		ContentIDs: contentIDs,
	}
	if src, ok := order.MetaValue(fulfill.MetaSourceChannel); ok {
		conv.SourceChannel = src
	}
	return conv
}

// hashField normalizes a personal field (lowercase, trimmed) and returns
// its sha256 hex digest. Empty input yields an empty digest so absent
// fields stay absent in the payload.
func hashField(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
