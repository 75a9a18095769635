// Package replay provides the background worker that retries failed
// conversion notifications.
package replay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"fulfill/event"
	"fulfill/lock"
	"fulfill/metrics"

	fulfill "fulfill"
)

// RecordStore defines the storage interface needed by the replay worker.
// fulfill.OrderStore satisfies this interface.
type RecordStore interface {
	ListFailedNotifications(ctx context.Context, limit int) ([]*fulfill.NotificationRecord, error)
	GetNotificationByEvent(ctx context.Context, eventID, eventName string) (*fulfill.NotificationRecord, error)
}

// Sender replays a single failed record. notify.Notifier implements this
// interface through its Resend method.
type Sender interface {
	Resend(ctx context.Context, record *fulfill.NotificationRecord) error
}

// Config holds the configuration for the replay worker.
type Config struct {
	// Interval is the time between replay scans.
	Interval time.Duration
	// BatchLimit bounds how many failed records one scan picks up.
	BatchLimit int
	// MaxAttempts is the attempt count beyond which a record is left for
	// manual intervention.
	MaxAttempts int
	// LockTTL is the TTL for replay locks.
	LockTTL time.Duration
}

// DefaultConfig returns the default configuration for the replay worker.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		BatchLimit:  50,
		MaxAttempts: 5,
		LockTTL:     30 * time.Second,
	}
}

// Logger defines the logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[ReplayWorker] "+format, v...)
}

// Worker periodically scans for failed conversion notifications and
// replays them through the notifier. It runs in the background until
// stopped.
type Worker struct {
	store   RecordStore
	sender  Sender
	locker  lock.Locker
	events  event.EventBus
	metrics metrics.Metrics
	config  Config
	logger  Logger

	// State
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex

	// Counters
	scannedCount  int64
	replayedCount int64
	failedCount   int64
	countersMu    sync.RWMutex
}

// WorkerOption is a function that configures the Worker.
type WorkerOption func(*Worker)

// WithStore sets the record store for the worker.
func WithStore(s RecordStore) WorkerOption {
	return func(w *Worker) {
		w.store = s
	}
}

// WithSender sets the sender that replays records.
func WithSender(s Sender) WorkerOption {
	return func(w *Worker) {
		w.sender = s
	}
}

// WithLocker sets the locker for the worker.
func WithLocker(l lock.Locker) WorkerOption {
	return func(w *Worker) {
		w.locker = l
	}
}

// WithEventBus sets the event bus for the worker.
func WithEventBus(e event.EventBus) WorkerOption {
	return func(w *Worker) {
		w.events = e
	}
}

// WithMetrics sets the metrics collector for the worker.
func WithMetrics(m metrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithConfig sets the configuration for the worker.
func WithConfig(cfg Config) WorkerOption {
	return func(w *Worker) {
		w.config = cfg
	}
}

// WithLogger sets the logger for the worker.
func WithLogger(l Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// NewWorker creates a new replay worker with the given options.
func NewWorker(opts ...WorkerOption) *Worker {
	w := &Worker{
		config:  DefaultConfig(),
		metrics: &metrics.NoopMetrics{},
		logger:  &defaultLogger{},
		stopCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start starts the replay worker. It runs in the background and
// periodically scans for failed notification records.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("replay worker already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Printf("started with interval=%v, batchLimit=%d", w.config.Interval, w.config.BatchLimit)
	return nil
}

// Stop stops the replay worker gracefully.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Printf("stopped")
}

// IsRunning returns true if the worker is running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// run is the main loop of the replay worker.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Run initial scan immediately
	w.scan(ctx)

	for {
		select {
		case <-ticker.C:
			w.scan(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Scan performs a single replay pass over failed records. It is exported
// so operators can force a pass outside the schedule.
func (w *Worker) Scan(ctx context.Context) {
	w.scan(ctx)
}

func (w *Worker) scan(ctx context.Context) {
	w.publishEvent(ctx, event.NewEvent(event.EventReplayStarted))

	failed, err := w.store.ListFailedNotifications(ctx, w.config.BatchLimit)
	if err != nil {
		w.logger.Printf("failed to list failed notifications: %v", err)
		return
	}

	w.addScanned(int64(len(failed)))
	w.metrics.ReplayScanned(len(failed))

	for _, record := range failed {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		w.replay(ctx, record)
	}
}

// replay retries one failed record under a replay lock so concurrent
// worker instances never double-send.
func (w *Worker) replay(ctx context.Context, record *fulfill.NotificationRecord) {
	if record.Attempts >= w.config.MaxAttempts {
		w.logger.Printf("record %s:%s exceeded max attempts (%d/%d), leaving for manual intervention",
			record.EventID, record.EventName, record.Attempts, w.config.MaxAttempts)
		w.publishEvent(ctx, event.NewEvent(event.EventAlertCritical).
			WithOrder(record.OrderID).
			WithEventID(record.EventID).
			WithData("event_name", record.EventName).
			WithData("attempts", record.Attempts))
		return
	}

	if w.locker != nil {
		lockKey := fmt.Sprintf("replay:%s:%s", record.EventID, record.EventName)
		handle, err := w.locker.Acquire(ctx, []string{lockKey}, w.config.LockTTL)
		if err != nil {
			// Another instance is replaying this record
			return
		}
		defer handle.Release(ctx)

		// Reload under the lock; the record may have gone through already
		current, err := w.store.GetNotificationByEvent(ctx, record.EventID, record.EventName)
		if err != nil {
			w.logger.Printf("failed to reload record %s:%s: %v", record.EventID, record.EventName, err)
			return
		}
		if current.Status != fulfill.NotificationFailed {
			return
		}
		record = current
	}

	w.logger.Printf("replaying %s event %s for order %s (attempt %d)",
		record.EventName, record.EventID, record.OrderID, record.Attempts+1)

	if err := w.sender.Resend(ctx, record); err != nil {
		w.logger.Printf("replay of event %s failed: %v", record.EventID, err)
		w.addFailed()
		w.metrics.ReplayProcessed(false)
		w.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
			WithOrder(record.OrderID).
			WithEventID(record.EventID).
			WithData("event_name", record.EventName).
			WithError(err))
		return
	}

	w.addReplayed()
	w.metrics.ReplayProcessed(true)
	w.logger.Printf("successfully replayed event %s for order %s", record.EventID, record.OrderID)
}

// Stats holds the replay worker counters.
type Stats struct {
	Scanned  int64
	Replayed int64
	Failed   int64
}

// Stats returns the current worker counters.
func (w *Worker) Stats() Stats {
	w.countersMu.RLock()
	defer w.countersMu.RUnlock()
	return Stats{
		Scanned:  w.scannedCount,
		Replayed: w.replayedCount,
		Failed:   w.failedCount,
	}
}

func (w *Worker) addScanned(n int64) {
	w.countersMu.Lock()
	w.scannedCount += n
	w.countersMu.Unlock()
}

func (w *Worker) addReplayed() {
	w.countersMu.Lock()
	w.replayedCount++
	w.countersMu.Unlock()
}

func (w *Worker) addFailed() {
	w.countersMu.Lock()
	w.failedCount++
	w.countersMu.Unlock()
}

func (w *Worker) publishEvent(ctx context.Context, ev event.Event) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(ctx, ev); err != nil {
		w.logger.Printf("failed to publish event %s: %v", ev.Type, err)
	}
}
