package memory

import (
	"context"
	"sync"
	"time"

	"fulfill/circuit"

	fulfill "fulfill"
)

// MemoryBreaker is an in-memory implementation of the Breaker interface.
// Breakers are keyed by endpoint so each conversion destination trips
// independently.
type MemoryBreaker struct {
	mu            sync.RWMutex
	breakers      map[string]*memoryCircuitBreaker
	defaultConfig circuit.BreakerConfig
}

// NewMemoryBreaker creates a new MemoryBreaker with default configuration
func NewMemoryBreaker() *MemoryBreaker {
	return NewMemoryBreakerWithConfig(circuit.DefaultBreakerConfig())
}

// NewMemoryBreakerWithConfig creates a new MemoryBreaker with custom default configuration
func NewMemoryBreakerWithConfig(config circuit.BreakerConfig) *MemoryBreaker {
	return &MemoryBreaker{
		breakers:      make(map[string]*memoryCircuitBreaker),
		defaultConfig: config,
	}
}

// Get returns the circuit breaker for the specified endpoint with default config
func (m *MemoryBreaker) Get(endpoint string) circuit.CircuitBreaker {
	return m.GetWithConfig(endpoint, m.defaultConfig)
}

// GetWithConfig returns the circuit breaker for the specified endpoint with custom config
func (m *MemoryBreaker) GetWithConfig(endpoint string, config circuit.BreakerConfig) circuit.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists := m.breakers[endpoint]; exists {
		return cb
	}

	cb := &memoryCircuitBreaker{
		endpoint: endpoint,
		config:   config,
		state:    circuit.StateClosed,
	}
	m.breakers[endpoint] = cb
	return cb
}

// memoryCircuitBreaker is an in-memory implementation of CircuitBreaker
type memoryCircuitBreaker struct {
	mu       sync.RWMutex
	endpoint string
	config   circuit.BreakerConfig
	state    circuit.State
	counts   circuit.BreakerCounts

	// openedAt is the time when the circuit was opened
	openedAt time.Time
	// halfOpenRequests tracks the number of requests admitted in half-open state
	halfOpenRequests int
}

// Execute executes the given function with circuit breaker protection
func (cb *memoryCircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	cb.record(err == nil)
	return err
}

// admit checks whether the request may proceed, moving the breaker from
// open to half-open once the timeout has elapsed.
func (cb *memoryCircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuit.StateClosed:
		cb.counts.Requests++
		return nil

	case circuit.StateOpen:
		if time.Since(cb.openedAt) < cb.config.Timeout {
			return fulfill.ErrCircuitOpen
		}
		cb.state = circuit.StateHalfOpen
		cb.halfOpenRequests = 0
		fallthrough

	case circuit.StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxReqs {
			return fulfill.ErrCircuitOpen
		}
		cb.counts.Requests++
		cb.halfOpenRequests++
		return nil

	default:
		return fulfill.ErrCircuitOpen
	}
}

// record updates the counters and state from the request outcome
func (cb *memoryCircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0

		// Enough consecutive successes in half-open closes the circuit
		if cb.state == circuit.StateHalfOpen &&
			cb.counts.ConsecutiveSuccesses >= int64(cb.config.HalfOpenMaxReqs) {
			cb.state = circuit.StateClosed
			cb.halfOpenRequests = 0
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch cb.state {
	case circuit.StateClosed:
		if cb.counts.ConsecutiveFailures >= int64(cb.config.Threshold) {
			cb.state = circuit.StateOpen
			cb.openedAt = time.Now()
		}
	case circuit.StateHalfOpen:
		// Any failure in half-open state opens the circuit again
		cb.state = circuit.StateOpen
		cb.openedAt = time.Now()
		cb.halfOpenRequests = 0
	}
}

// State returns the current state of the circuit breaker
func (cb *memoryCircuitBreaker) State() circuit.State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	// Report half-open once the timeout has elapsed; the actual transition
	// happens on the next admitted request.
	if cb.state == circuit.StateOpen && time.Since(cb.openedAt) >= cb.config.Timeout {
		return circuit.StateHalfOpen
	}

	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *memoryCircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = circuit.StateClosed
	cb.counts = circuit.BreakerCounts{}
	cb.halfOpenRequests = 0
}

// Counts returns the current statistics
func (cb *memoryCircuitBreaker) Counts() circuit.BreakerCounts {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.counts
}
