// Package prometheus provides a Prometheus implementation of the metrics
// interface.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fulfill/metrics"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	transitionStartedTotal   *prometheus.CounterVec
	transitionCommittedTotal *prometheus.CounterVec
	transitionRejectedTotal  *prometheus.CounterVec
	transitionFailedTotal    *prometheus.CounterVec
	transitionDuration       *prometheus.HistogramVec

	stockRestoredUnits prometheus.Counter
	stockDeductedUnits prometheus.Counter

	conversionSentTotal   *prometheus.CounterVec
	conversionFailedTotal *prometheus.CounterVec
	conversionUnmatched   prometheus.Counter
	conversionDuration    *prometheus.HistogramVec

	replayScannedTotal   prometheus.Counter
	replayProcessedTotal *prometheus.CounterVec

	lockAcquiredTotal   prometheus.Counter
	lockFailedTotal     *prometheus.CounterVec
	lockAcquireDuration prometheus.Histogram
}

var _ metrics.Metrics = (*PrometheusMetrics)(nil)

// Config holds configuration for PrometheusMetrics.
type Config struct {
	// Namespace is the prefix for all metrics (e.g., "fulfill")
	Namespace string
	// Subsystem is an optional subsystem name
	Subsystem string
	// Registry is the Prometheus registry to use. If nil, the default registry is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "fulfill",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// New creates a new PrometheusMetrics instance with the given configuration.
func New(cfg Config) *PrometheusMetrics {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)

	return &PrometheusMetrics{
		transitionStartedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transition_started_total",
			Help:      "Total number of transition attempts",
		}, []string{"channel"}),

		transitionCommittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transition_committed_total",
			Help:      "Total number of committed transitions",
		}, []string{"channel", "to", "restocking"}),

		transitionRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transition_rejected_total",
			Help:      "Total number of transitions rejected by the status graph",
		}, []string{"channel", "from", "to"}),

		transitionFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transition_failed_total",
			Help:      "Total number of transitions that failed after retries",
		}, []string{"channel", "reason"}),

		transitionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transition_duration_seconds",
			Help:      "Transition duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}, []string{"channel"}),

		stockRestoredUnits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "stock_restored_units_total",
			Help:      "Total stock units restored by stock-restoring transitions",
		}),

		stockDeductedUnits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "stock_deducted_units_total",
			Help:      "Total stock units deducted at order creation",
		}),

		conversionSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "conversion_sent_total",
			Help:      "Total number of conversion events accepted by the sink",
		}, []string{"event_name"}),

		conversionFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "conversion_failed_total",
			Help:      "Total number of conversion sends that failed",
		}, []string{"event_name", "reason"}),

		conversionUnmatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "conversion_unmatched_total",
			Help:      "Total number of refunds emitted without a prior purchase event",
		}),

		conversionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "conversion_duration_seconds",
			Help:      "Conversion send duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"event_name"}),

		replayScannedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "replay_scanned_total",
			Help:      "Total number of failed notification records scanned for replay",
		}),

		replayProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "replay_processed_total",
			Help:      "Total number of notification replays processed",
		}, []string{"result"}),

		lockAcquiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_acquired_total",
			Help:      "Total number of order locks acquired",
		}),

		lockFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_failed_total",
			Help:      "Total number of order lock acquisition failures",
		}, []string{"reason"}),

		lockAcquireDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_acquire_duration_seconds",
			Help:      "Lock acquisition duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
	}
}

func (m *PrometheusMetrics) TransitionStarted(channel string) {
	m.transitionStartedTotal.WithLabelValues(channel).Inc()
}

func (m *PrometheusMetrics) TransitionCommitted(channel, to string, restocking bool, duration time.Duration) {
	label := "false"
	if restocking {
		label = "true"
	}
	m.transitionCommittedTotal.WithLabelValues(channel, to, label).Inc()
	m.transitionDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) TransitionRejected(channel, from, to string) {
	m.transitionRejectedTotal.WithLabelValues(channel, from, to).Inc()
}

func (m *PrometheusMetrics) TransitionFailed(channel, reason string) {
	m.transitionFailedTotal.WithLabelValues(channel, reason).Inc()
}

func (m *PrometheusMetrics) StockRestored(variants int, units int64) {
	m.stockRestoredUnits.Add(float64(units))
}

func (m *PrometheusMetrics) StockDeducted(variants int, units int64) {
	m.stockDeductedUnits.Add(float64(units))
}

func (m *PrometheusMetrics) ConversionSent(eventName string, duration time.Duration) {
	m.conversionSentTotal.WithLabelValues(eventName).Inc()
	m.conversionDuration.WithLabelValues(eventName).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ConversionFailed(eventName, reason string) {
	m.conversionFailedTotal.WithLabelValues(eventName, reason).Inc()
}

func (m *PrometheusMetrics) ConversionUnmatched() {
	m.conversionUnmatched.Inc()
}

func (m *PrometheusMetrics) ReplayScanned(count int) {
	m.replayScannedTotal.Add(float64(count))
}

func (m *PrometheusMetrics) ReplayProcessed(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.replayProcessedTotal.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) LockAcquired(duration time.Duration) {
	m.lockAcquiredTotal.Inc()
	m.lockAcquireDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) LockFailed(reason string) {
	m.lockFailedTotal.WithLabelValues(reason).Inc()
}
