package eventual

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSettled is returned when reading the value of a promise that is
	// still pending.
	ErrNotSettled = errors.New("promise is not settled")

	// ErrAlreadySettled guards the state transition of a promise. Fulfilling
	// or rejecting a promise more than once is a no-op on the public surface,
	// the settlement internals report the violation using this error.
	ErrAlreadySettled = errors.New("promise is already settled")

	// ErrCircularResolutionChain is the error that a promise is rejected with
	// if a circular resolution dependency is detected, that is: an attempt to
	// resolve a promise with itself at arbitrary depth in the chain.
	ErrCircularResolutionChain = errors.New("circular promise resolution chain detected")

	// ErrRecursionLimit is the error that a promise is rejected with when a
	// resolution chain of fresh promises exceeds the adoption depth limit of
	// its registry. This converts unbounded recursive resolution into a
	// bounded rejection.
	ErrRecursionLimit = errors.New("promise adoption depth limit exceeded")

	// ErrHandlerNotCallable is the panic value raised when a nil producer is
	// passed to New or NewGenerator.
	ErrHandlerNotCallable = errors.New("promise producer is not callable")

	// ErrClosing is delivered to a suspended producer whose promise is being
	// closed. The producer must run its cleanup and return, conventionally
	// returning ErrClosing itself. See YieldFunc.
	ErrClosing = errors.New("promise is closing")

	// ErrImproperClose is returned by Close if the producer suspended again
	// instead of terminating after the close signal was delivered.
	ErrImproperClose = errors.New("promise producer suspended during teardown")

	// ErrCloseIgnored is returned by Shutdown-style teardown when the
	// producer kept running until the teardown context expired.
	ErrCloseIgnored = errors.New("promise producer ignored the close signal")
)

// RejectionError carries a rejection reason that is not an error through
// channels that require an error-shaped value, for example the error return
// of Value or the rejection handler argument. Rejecting a promise with a
// RejectionError unwraps it back to the raw reason, so wrappers never
// accumulate while a rejection propagates along a chain.
type RejectionError struct {
	// Reason is the raw rejection reason.
	Reason Value
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("promise rejected with reason: %v", e.Reason)
}

// asError returns the error-shaped form of a rejection reason: the reason
// itself if it is an error, or a RejectionError wrapping it.
func asError(reason Value) error {
	if err, ok := reason.(error); ok {
		return err
	}

	return &RejectionError{Reason: reason}
}
