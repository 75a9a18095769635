// Package metrics provides the metrics interface for the fulfillment core.
package metrics

import "time"

// Metrics defines the interface for collecting observability metrics.
// Implementations can use Prometheus, StatsD, or other backends.
type Metrics interface {
	// Transition metrics
	TransitionStarted(channel string)
	TransitionCommitted(channel, to string, restocking bool, duration time.Duration)
	TransitionRejected(channel, from, to string)
	TransitionFailed(channel, reason string)

	// Stock metrics
	StockRestored(variants int, units int64)
	StockDeducted(variants int, units int64)

	// Conversion notifier metrics
	ConversionSent(eventName string, duration time.Duration)
	ConversionFailed(eventName, reason string)
	ConversionUnmatched()

	// Replay worker metrics
	ReplayScanned(count int)
	ReplayProcessed(success bool)

	// Lock metrics
	LockAcquired(duration time.Duration)
	LockFailed(reason string)
}

// NoopMetrics is a no-op implementation of Metrics for testing or when
// metrics are disabled.
type NoopMetrics struct{}

var _ Metrics = (*NoopMetrics)(nil)

func (n *NoopMetrics) TransitionStarted(channel string)                                       {}
func (n *NoopMetrics) TransitionCommitted(channel, to string, r bool, d time.Duration)        {}
func (n *NoopMetrics) TransitionRejected(channel, from, to string)                            {}
func (n *NoopMetrics) TransitionFailed(channel, reason string)                                {}
func (n *NoopMetrics) StockRestored(variants int, units int64)                                {}
func (n *NoopMetrics) StockDeducted(variants int, units int64)                                {}
func (n *NoopMetrics) ConversionSent(eventName string, d time.Duration)                       {}
func (n *NoopMetrics) ConversionFailed(eventName, reason string)                              {}
func (n *NoopMetrics) ConversionUnmatched()                                                   {}
func (n *NoopMetrics) ReplayScanned(count int)                                                {}
func (n *NoopMetrics) ReplayProcessed(success bool)                                           {}
func (n *NoopMetrics) LockAcquired(duration time.Duration)                                    {}
func (n *NoopMetrics) LockFailed(reason string)                                               {}
