package fulfill

import (
	"errors"
	"fmt"

	"fulfill/ledger"
)

// ErrInsufficientStock indicates a stock deduction would drive an on-hand
// quantity negative. It applies to the deduction path at order creation,
// never to restoration. API layers typically map this to HTTP 409.
var ErrInsufficientStock = ledger.ErrInsufficientStock

// Transition errors
var (
	// ErrInvalidTransition indicates the requested status change has no edge
	// in the status graph for the order's fulfillment channel.
	// API layers typically map this to HTTP 409.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTransactionFailed indicates the transactional commit failed after
	// bounded retries. No partial state change is visible.
	// API layers typically map this to HTTP 500.
	ErrTransactionFailed = errors.New("transition transaction failed")

	// ErrInvalidConfiguration indicates a status graph or restock policy
	// lookup for an unrecognized channel or status. This is a deployment
	// bug: fatal at startup validation, defensive-only at runtime.
	ErrInvalidConfiguration = errors.New("invalid fulfillment configuration")
)

// Order errors
var (
	// ErrOrderNotFound indicates the order does not exist
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderAlreadyExists indicates an order with the same ID already exists
	ErrOrderAlreadyExists = errors.New("order already exists")

	// ErrInvalidOrder indicates the order fails field validation
	ErrInvalidOrder = errors.New("invalid order")
)

// Store errors
var (
	// ErrCommitConflict indicates the conditional status write matched no
	// row because the persisted status moved underneath the caller.
	ErrCommitConflict = errors.New("commit conflict")

	// ErrStoreOperationFailed indicates a store operation failed
	ErrStoreOperationFailed = errors.New("store operation failed")
)

// Lock errors
var (
	// ErrLockAcquisitionFailed indicates the per-order lock could not be acquired
	ErrLockAcquisitionFailed = errors.New("lock acquisition failed")
)

// Circuit breaker errors
var (
	// ErrCircuitOpen indicates the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Config errors
var (
	// ErrInvalidConfig indicates the engine configuration is invalid
	ErrInvalidConfig = errors.New("invalid engine configuration")
)

// TransitionError carries the detail of a rejected transition.
// It unwraps to ErrInvalidTransition so callers can test with errors.Is.
type TransitionError struct {
	Channel FulfillmentType
	From    Status
	To      Status
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s (channel %s)", e.From, e.To, e.Channel)
}

// Unwrap returns the ErrInvalidTransition sentinel.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
