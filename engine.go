package fulfill

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"fulfill/event"
	"fulfill/lock"
	"fulfill/metrics"
	"fulfill/tracing"
)

// Notifier receives the transition event after a successful commit. Its
// outcome never reverts or delays the committed transition; the engine
// invokes it on a detached goroutine with a bounded timeout.
// notify.Notifier implements this interface.
type Notifier interface {
	Notify(ctx context.Context, ev TransitionEvent, order *Order)
}

// Engine orchestrates order status changes: it validates the requested
// transition against the status graph, performs the compensating stock
// restoration where required, and commits both as one atomic unit. It is
// the only component permitted to mutate an order's status.
type Engine struct {
	store     OrderStore
	graph     Graph
	restock   RestockPolicy
	validator *Validator

	// Optional collaborators
	locker   lock.Locker
	notifier Notifier
	events   event.EventBus
	metrics  metrics.Metrics
	tracer   tracing.Tracer

	config Config
}

// EngineOption is a function that configures the Engine.
type EngineOption func(*Engine)

// WithLocker sets the per-order locker. Without one the engine relies
// solely on the store's conditional commit.
func WithLocker(l lock.Locker) EngineOption {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithNotifier sets the conversion notifier.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithEventBus sets the event bus.
func WithEventBus(b event.EventBus) EngineOption {
	return func(e *Engine) {
		e.events = b
	}
}

// WithMetrics sets the metrics implementation.
func WithMetrics(m metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracing.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithRestockPolicy overrides the default restock policy.
func WithRestockPolicy(p RestockPolicy) EngineOption {
	return func(e *Engine) {
		e.restock = p
	}
}

// WithEngineConfig sets the engine configuration.
func WithEngineConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		e.config = cfg
	}
}

// NewEngine creates an Engine over the given store and status graph. The
// graph, restock policy and config are validated here; a bad deployment
// configuration fails construction instead of surfacing mid-transition.
func NewEngine(store OrderStore, graph Graph, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:   store,
		graph:   graph.Clone(),
		restock: DefaultRestockPolicy(),
		metrics: &metrics.NoopMetrics{},
		tracer:  &tracing.NoopTracer{},
		config:  DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if err := e.graph.Validate(); err != nil {
		return nil, err
	}
	if err := e.restock.Validate(e.graph); err != nil {
		return nil, err
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	e.validator = NewValidator(e.graph)
	return e, nil
}

// Graph returns a copy of the engine's status graph.
func (e *Engine) Graph() Graph {
	return e.graph.Clone()
}

// PlaceOrder persists a new order in the intake status and deducts each
// line item from stock as one atomic unit. A deduction that would go
// negative fails the whole call with ErrInsufficientStock and writes
// nothing.
func (e *Engine) PlaceOrder(ctx context.Context, order *Order) error {
	if order == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	if _, ok := e.graph[order.Channel]; !ok {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidConfiguration, order.Channel)
	}
	if order.Status != StatusIntake {
		return fmt.Errorf("%w: order %s must start in %q", ErrInvalidOrder, order.ID, StatusIntake)
	}
	if len(order.LineItems) == 0 {
		return fmt.Errorf("%w: order %s has no line items", ErrInvalidOrder, order.ID)
	}

	if err := e.store.CreateOrder(ctx, order); err != nil {
		return err
	}

	var units int64
	for _, item := range order.LineItems {
		units += item.Quantity
	}
	e.metrics.StockDeducted(len(order.LineItems), units)
	e.publish(ctx, event.NewEvent(event.EventOrderPlaced).
		WithOrder(order.ID).
		WithChannel(string(order.Channel)))
	e.publish(ctx, event.NewEvent(event.EventStockDeducted).
		WithOrder(order.ID).
		WithData("units", units))
	return nil
}

// Transition attempts to move an order to the target status.
//
// The order is loaded under a transactional read and validated against its
// freshly loaded status; the commit is conditional on that status, so two
// racing requests can never both apply against the same stale snapshot.
// A conflict reloads and re-validates, which gives the losing caller
// ErrInvalidTransition when the winner's status has no edge to the target.
// Transient store failures are retried a bounded number of times before
// surfacing ErrTransactionFailed; nothing is ever partially applied.
func (e *Engine) Transition(ctx context.Context, orderID string, target Status) (*Order, error) {
	start := time.Now()

	ctx, span := e.tracer.StartTransition(ctx, orderID, "", string(target))
	defer span.End()

	if e.locker != nil {
		lockStart := time.Now()
		handle, err := e.locker.Acquire(ctx, []string{"order:" + orderID}, e.config.LockTTL)
		if err != nil {
			e.metrics.LockFailed("acquire")
			span.SetError(err)
			return nil, fmt.Errorf("%w: %v", ErrLockAcquisitionFailed, err)
		}
		defer handle.Release(ctx)
		e.metrics.LockAcquired(time.Since(lockStart))
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		order, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				span.SetError(err)
				return nil, err
			}
			lastErr = err
			continue
		}

		e.metrics.TransitionStarted(string(order.Channel))

		// Validate against the status just loaded, never an earlier read.
		if err := e.validator.Validate(order.Channel, order.Status, target); err != nil {
			e.rejectTransition(ctx, order, target, err)
			span.SetError(err)
			return nil, err
		}

		restocking := e.restock.Restocking(order.Channel, target)
		ev := TransitionEvent{
			OrderID:    order.ID,
			From:       order.Status,
			To:         target,
			Channel:    order.Channel,
			Restocking: restocking,
			Timestamp:  time.Now(),
		}

		commit := &TransitionCommit{Event: ev}
		if restocking {
			commit.Restock = make([]StockAdjustment, 0, len(order.LineItems))
			for _, item := range order.LineItems {
				commit.Restock = append(commit.Restock, StockAdjustment{
					VariantID: item.VariantID,
					Quantity:  item.Quantity,
				})
			}
		}

		if err := e.store.CommitTransition(ctx, commit); err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				span.SetError(err)
				return nil, err
			}
			// The status moved underneath us or the store hiccupped;
			// reload and re-validate on the next attempt.
			lastErr = err
			continue
		}

		order.Status = target
		order.Version++
		order.UpdatedAt = ev.Timestamp

		e.commitEffects(ctx, order, ev, commit, time.Since(start))
		return order, nil
	}

	err := fmt.Errorf("%w: order %s -> %s: %v", ErrTransactionFailed, orderID, target, lastErr)
	e.metrics.TransitionFailed("", "retries_exhausted")
	e.publish(ctx, event.NewEvent(event.EventTransitionFailed).
		WithOrder(orderID).
		WithTransition("", string(target)).
		WithError(err))
	span.SetError(err)
	return nil, err
}

// rejectTransition reports a validation failure. No state was changed.
func (e *Engine) rejectTransition(ctx context.Context, order *Order, target Status, err error) {
	e.metrics.TransitionRejected(string(order.Channel), string(order.Status), string(target))
	e.publish(ctx, event.NewEvent(event.EventTransitionRejected).
		WithOrder(order.ID).
		WithChannel(string(order.Channel)).
		WithTransition(string(order.Status), string(target)).
		WithError(err))
}

// commitEffects publishes events and metrics for a committed transition
// and hands the event to the notifier on a detached goroutine.
func (e *Engine) commitEffects(ctx context.Context, order *Order, ev TransitionEvent, commit *TransitionCommit, elapsed time.Duration) {
	e.metrics.TransitionCommitted(string(ev.Channel), string(ev.To), ev.Restocking, elapsed)
	e.publish(ctx, event.NewEvent(event.EventTransitionCommitted).
		WithOrder(ev.OrderID).
		WithChannel(string(ev.Channel)).
		WithTransition(string(ev.From), string(ev.To)))

	if ev.Restocking {
		var units int64
		for _, adj := range commit.Restock {
			units += adj.Quantity
		}
		e.metrics.StockRestored(len(commit.Restock), units)
		e.publish(ctx, event.NewEvent(event.EventStockRestored).
			WithOrder(ev.OrderID).
			WithData("units", units))
	}

	if e.notifier != nil {
		// Detached from the caller's request lifecycle: slowness or
		// failure of the sink must never extend the transition call.
		snapshot := order.Clone()
		timeout := e.config.NotifyTimeout
		notifier := e.notifier
		go func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			notifier.Notify(notifyCtx, ev, snapshot)
		}()
	}
}

// sleepBackoff waits for the exponential backoff interval with jitter,
// honoring context cancellation.
func (e *Engine) sleepBackoff(ctx context.Context, attempt int) error {
	backoff := float64(e.config.RetryInterval)
	for i := 1; i < attempt; i++ {
		backoff *= e.config.RetryMultiplier
	}
	if e.config.RetryJitter > 0 {
		backoff += backoff * e.config.RetryJitter * rand.Float64()
	}
	if limit := e.config.RetryMaxInterval; limit > 0 && time.Duration(backoff) > limit {
		backoff = float64(limit)
	}

	select {
	case <-time.After(time.Duration(backoff)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) publish(ctx context.Context, ev event.Event) {
	if e.events != nil {
		e.events.Publish(ctx, ev)
	}
}
