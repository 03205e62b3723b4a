// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict, such as a duplicate
// room id or an index-based delete against a stale snapshot.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed input. Recoverable; nothing was mutated.
var ErrValidation = errors.New("validation failed")

// ErrPrecondition indicates the world is not in a state that allows the
// request (agent not in a room, tool not available, action already pending).
var ErrPrecondition = errors.New("precondition failed")

// ErrDelivery indicates an event handler failed or timed out.
var ErrDelivery = errors.New("delivery failed")

// DeliveryError describes a single failed handler invocation on the event bus.
// It never aborts a publish.
type DeliveryError struct {
	Subscription uint64
	EventType    string
	Cause        error
	Dropped      bool // the subscription was removed after repeated overruns
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to subscription %d: %v", e.EventType, e.Subscription, e.Cause)
}

// Unwrap lets callers match both ErrDelivery and the underlying cause.
func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Cause}
}
