package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"fulfill/circuit"
	"fulfill/event"
	"fulfill/idempotency"
	"fulfill/metrics"
	"fulfill/tracing"

	fulfill "fulfill"
)

// Sink delivers a conversion payload to the external commerce endpoint.
// capi.Sink implements this interface.
type Sink interface {
	Send(ctx context.Context, conv *Conversion) error
}

// Logger defines the logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[ConversionNotifier] "+format, v...)
}

// Notifier observes committed transitions and emits purchase and refund
// events to the external sink, exactly once per event id. It implements
// fulfill.Notifier. A failed or skipped emission never surfaces to the
// transition that triggered it; the durable notification record is the
// recovery path.
type Notifier struct {
	store   fulfill.OrderStore
	sink    Sink
	checker idempotency.Checker
	breaker circuit.CircuitBreaker
	events  event.EventBus
	metrics metrics.Metrics
	tracer  tracing.Tracer
	logger  Logger

	// dedupTTL bounds how long an idempotency mark is kept
	dedupTTL time.Duration
}

var _ fulfill.Notifier = (*Notifier)(nil)

// Option is a function that configures the Notifier.
type Option func(*Notifier)

// WithChecker sets the idempotency checker guarding duplicate emission.
func WithChecker(c idempotency.Checker) Option {
	return func(n *Notifier) {
		n.checker = c
	}
}

// WithBreaker wraps sink sends in the given circuit breaker.
func WithBreaker(b circuit.CircuitBreaker) Option {
	return func(n *Notifier) {
		n.breaker = b
	}
}

// WithEventBus sets the event bus.
func WithEventBus(e event.EventBus) Option {
	return func(n *Notifier) {
		n.events = e
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Metrics) Option {
	return func(n *Notifier) {
		n.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracing.Tracer) Option {
	return func(n *Notifier) {
		n.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(n *Notifier) {
		n.logger = l
	}
}

// WithDedupTTL sets how long idempotency marks are retained.
func WithDedupTTL(ttl time.Duration) Option {
	return func(n *Notifier) {
		n.dedupTTL = ttl
	}
}

// NewNotifier creates a conversion notifier backed by the given store and
// sink.
func NewNotifier(store fulfill.OrderStore, sink Sink, opts ...Option) *Notifier {
	n := &Notifier{
		store:    store,
		sink:     sink,
		events:   &event.NoOpEventBus{},
		metrics:  &metrics.NoopMetrics{},
		tracer:   &tracing.NoopTracer{},
		logger:   &defaultLogger{},
		dedupTTL: 30 * 24 * time.Hour,
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// eventNameFor maps a target status to the sink event it triggers, or ""
// when the transition is not conversion-relevant.
func eventNameFor(to fulfill.Status) string {
	switch to {
	case fulfill.StatusConverted, fulfill.StatusStoreSale:
		return EventPurchase
	case fulfill.StatusReturned:
		return EventRefund
	default:
		return ""
	}
}

// Notify implements fulfill.Notifier. It classifies the transition,
// resolves the stable event id, and emits the conversion if it has not
// been emitted before.
func (n *Notifier) Notify(ctx context.Context, ev fulfill.TransitionEvent, order *fulfill.Order) {
	name := eventNameFor(ev.To)
	if name == "" {
		return
	}

	eventID, hadEventID := order.EventID()
	unmatched := false

	if !hadEventID {
		eventID = uuid.New().String()

		if name == EventRefund {
			// A refund without a prior purchase id cannot be correlated
			// by the external system. Emit it anyway, flagged.
			unmatched = true
			n.logger.Printf("order %s: refund without prior purchase event id, emitting unmatched event %s",
				ev.OrderID, eventID)
			n.publishEvent(ctx, event.NewEvent(event.EventConversionUnmatched).
				WithOrder(ev.OrderID).
				WithChannel(string(ev.Channel)).
				WithEventID(eventID))
			n.metrics.ConversionUnmatched()

			if err := n.store.SetOrderMeta(ctx, ev.OrderID, fulfill.MetaUnmatched, "true"); err != nil {
				n.logger.Printf("order %s: failed to persist unmatched flag: %v", ev.OrderID, err)
			}
		}

		// The id is persisted before the send and regardless of its
		// outcome, so a later correlated event always finds it.
		if err := n.store.SetOrderMeta(ctx, ev.OrderID, fulfill.MetaEventID, eventID); err != nil {
			n.logger.Printf("order %s: failed to persist event id %s: %v", ev.OrderID, eventID, err)
		}
	}

	n.emit(ctx, order, eventID, name, unmatched, ev.Timestamp)
}

// emit performs one guarded emission attempt: idempotency check, durable
// record, breaker-protected send, record update.
func (n *Notifier) emit(ctx context.Context, order *fulfill.Order, eventID, name string, unmatched bool, at time.Time) {
	dedupKey := eventID + ":" + name

	if n.checker != nil {
		exists, _, err := n.checker.Check(ctx, dedupKey)
		if err != nil {
			// Without a working dedup check a send could double-emit.
			// Skip now; the failed record is replayable once the checker
			// recovers.
			n.logger.Printf("event %s: idempotency check failed, deferring to replay: %v", dedupKey, err)
			n.recordFailure(ctx, order.ID, eventID, name, nil, unmatched, err)
			return
		}
		if exists {
			n.logger.Printf("event %s: already emitted, skipping", dedupKey)
			return
		}
	}

	conv := BuildConversion(order, eventID, name, at)
	payload, err := json.Marshal(conv)
	if err != nil {
		n.logger.Printf("event %s: failed to marshal payload: %v", dedupKey, err)
		return
	}

	record := &fulfill.NotificationRecord{
		EventID:   eventID,
		EventName: name,
		OrderID:   order.ID,
		Payload:   payload,
		Status:    fulfill.NotificationPending,
		Unmatched: unmatched,
		Attempts:  1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := n.store.CreateNotification(ctx, record); err != nil {
		n.logger.Printf("event %s: failed to record notification attempt: %v", dedupKey, err)
	}

	ctx, span := n.tracer.StartConversion(ctx, eventID, name)
	defer span.End()

	start := time.Now()
	sendErr := n.send(ctx, conv)

	if sendErr != nil {
		span.SetError(sendErr)
		n.logger.Printf("event %s: send failed for order %s: %v", dedupKey, order.ID, sendErr)
		record.Status = fulfill.NotificationFailed
		record.ErrorMsg = sendErr.Error()
		record.UpdatedAt = time.Now()
		if err := n.store.UpdateNotification(ctx, record); err != nil {
			n.logger.Printf("event %s: failed to update notification record: %v", dedupKey, err)
		}
		n.publishEvent(ctx, event.NewEvent(event.EventConversionFailed).
			WithOrder(order.ID).
			WithEventID(eventID).
			WithData("event_name", name).
			WithError(sendErr))
		n.metrics.ConversionFailed(name, failureReason(sendErr))
		return
	}

	if n.checker != nil {
		if err := n.checker.Mark(ctx, dedupKey, nil, n.dedupTTL); err != nil {
			n.logger.Printf("event %s: failed to mark idempotency: %v", dedupKey, err)
		}
	}

	now := time.Now()
	record.Status = fulfill.NotificationSent
	record.SentAt = &now
	record.UpdatedAt = now
	if err := n.store.UpdateNotification(ctx, record); err != nil {
		n.logger.Printf("event %s: failed to update notification record: %v", dedupKey, err)
	}

	n.publishEvent(ctx, event.NewEvent(event.EventConversionSent).
		WithOrder(order.ID).
		WithEventID(eventID).
		WithData("event_name", name))
	n.metrics.ConversionSent(name, time.Since(start))
}

// Resend replays a previously failed notification record. It is used by
// the replay worker; the idempotency mark is still honored, so a record
// that already went through is skipped.
func (n *Notifier) Resend(ctx context.Context, record *fulfill.NotificationRecord) error {
	dedupKey := record.EventID + ":" + record.EventName

	if n.checker != nil {
		exists, _, err := n.checker.Check(ctx, dedupKey)
		if err != nil {
			return err
		}
		if exists {
			record.Status = fulfill.NotificationSent
			record.UpdatedAt = time.Now()
			return n.store.UpdateNotification(ctx, record)
		}
	}

	var conv Conversion
	if err := json.Unmarshal(record.Payload, &conv); err != nil {
		return err
	}

	record.Attempts++
	sendErr := n.send(ctx, &conv)
	if sendErr != nil {
		record.Status = fulfill.NotificationFailed
		record.ErrorMsg = sendErr.Error()
		record.UpdatedAt = time.Now()
		if err := n.store.UpdateNotification(ctx, record); err != nil {
			n.logger.Printf("event %s: failed to update notification record: %v", dedupKey, err)
		}
		return sendErr
	}

	if n.checker != nil {
		if err := n.checker.Mark(ctx, dedupKey, nil, n.dedupTTL); err != nil {
			n.logger.Printf("event %s: failed to mark idempotency: %v", dedupKey, err)
		}
	}

	now := time.Now()
	record.Status = fulfill.NotificationSent
	record.ErrorMsg = ""
	record.SentAt = &now
	record.UpdatedAt = now
	if err := n.store.UpdateNotification(ctx, record); err != nil {
		return err
	}

	n.publishEvent(ctx, event.NewEvent(event.EventConversionSent).
		WithOrder(record.OrderID).
		WithEventID(record.EventID).
		WithData("event_name", record.EventName).
		WithData("replayed", true))
	return nil
}

// send routes the payload through the circuit breaker when one is set.
func (n *Notifier) send(ctx context.Context, conv *Conversion) error {
	if n.breaker == nil {
		return n.sink.Send(ctx, conv)
	}
	return n.breaker.Execute(ctx, func() error {
		return n.sink.Send(ctx, conv)
	})
}

// recordFailure writes a failed record without attempting a send.
func (n *Notifier) recordFailure(ctx context.Context, orderID, eventID, name string, payload []byte, unmatched bool, cause error) {
	record := &fulfill.NotificationRecord{
		EventID:   eventID,
		EventName: name,
		OrderID:   orderID,
		Payload:   payload,
		Status:    fulfill.NotificationFailed,
		Unmatched: unmatched,
		ErrorMsg:  cause.Error(),
		Attempts:  1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := n.store.CreateNotification(ctx, record); err != nil {
		n.logger.Printf("event %s:%s: failed to record notification failure: %v", eventID, name, err)
	}
}

func (n *Notifier) publishEvent(ctx context.Context, ev event.Event) {
	if n.events == nil {
		return
	}
	if err := n.events.Publish(ctx, ev); err != nil {
		n.logger.Printf("failed to publish event %s: %v", ev.Type, err)
	}
}

// failureReason buckets a send error for metrics labels.
func failureReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, fulfill.ErrCircuitOpen) {
		return "circuit_open"
	}
	return "send_error"
}
