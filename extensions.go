package eventual

import (
	"fmt"
	"strings"
	"sync"
)

// newCombined creates the promise backing a combinator over inputs. Its
// producer drives the inputs one after the other in argument order,
// forwarding their markers, and stops picking up further inputs once the
// combinator promise has settled. How the input outcomes combine is up to
// the collector reactions the combinator attaches.
func newCombined(inputs []Promise) *promise {
	c := DefaultRegistry.newPromise()
	c.task = newTask(c, func(yield YieldFunc) error {
		for _, in := range inputs {
			if c.State() != Pending {
				return nil
			}

			if err := in.impl().stepInto(yield); err != nil {
				return err
			}
		}

		return nil
	})

	return c
}

func collect(in Promise, fn func(fw YieldFunc, settled *promise)) {
	in.impl().attach(&reaction{raw: fn})
}

// Race returns a promise that fulfills or rejects as soon as one of the
// passed promises fulfills or rejects, with the value or reason from that
// promise. The promises are driven serially in argument order, so an input
// that settles without suspending wins over every input after it.
func Race(promises ...Promise) Promise {
	if len(promises) == 0 {
		return Resolve(nil)
	}

	c := newCombined(promises)

	for _, p := range promises {
		collect(p, func(fw YieldFunc, settled *promise) {
			if settled.State() == Fulfilled {
				c.fulfill(fw, settled.value)
			} else {
				c.rejectWith(fw, settled.value)
			}
		})
	}

	return c
}

// All returns a single promise that fulfills with the slice of all input
// values once all of the passed promises have fulfilled, or when no promises
// are passed. It rejects with the reason of the first promise that rejects
// and stops driving the remaining inputs. Inputs that settled before the
// rejection keep their outcome.
func All(promises ...Promise) Promise {
	if len(promises) == 0 {
		return Resolve([]Value{})
	}

	c := newCombined(promises)

	var (
		mu        sync.Mutex
		remaining = len(promises)
	)

	results := make([]Value, len(promises))

	for i, p := range promises {
		i := i

		collect(p, func(fw YieldFunc, settled *promise) {
			if settled.State() == Rejected {
				c.rejectWith(fw, settled.value)
				return
			}

			mu.Lock()
			results[i] = settled.value
			remaining--
			done := remaining == 0
			mu.Unlock()

			if done {
				c.fulfill(fw, results)
			}
		})
	}

	return c
}

// AggregateError is a collection of rejection reasons aggregated in a single
// error.
type AggregateError []Value

// Error implements the error interface. It aggregates the messages of
// multiple rejection reasons into a single error string.
func (e AggregateError) Error() string {
	if len(e) == 1 {
		return fmt.Sprintf("%v", e[0])
	}

	errStrings := make([]string, len(e))
	for i, reason := range e {
		errStrings[i] = fmt.Sprintf("* %v", reason)
	}

	return fmt.Sprintf(
		"%d promises rejected due to errors:\n%s",
		len(e), strings.Join(errStrings, "\n"))
}

// Any takes a slice of promises and, as soon as one of the promises in the
// slice fulfills, returns a single promise that resolves with the value from
// that promise. If no promises in the slice fulfill (if all of the given
// promises are rejected), then the returned promise is rejected with an
// AggregateError holding all rejection reasons in input order. Essentially,
// this func does the opposite of All. Called without promises, it rejects
// with an empty AggregateError.
func Any(promises ...Promise) Promise {
	if len(promises) == 0 {
		return Reject(AggregateError{})
	}

	c := newCombined(promises)

	var (
		mu        sync.Mutex
		remaining = len(promises)
	)

	reasons := make(AggregateError, len(promises))

	for i, p := range promises {
		collect(p, func(fw YieldFunc, settled *promise) {
			if settled.State() == Fulfilled {
				c.fulfill(fw, settled.value)
				return
			}

			mu.Lock()
			reasons[i] = settled.value
			remaining--
			done := remaining == 0
			mu.Unlock()

			if done {
				c.rejectWith(fw, reasons)
			}
		})
	}

	return c
}

// Result describes the outcome of a settled promise.
type Result struct {
	// State is Fulfilled or Rejected.
	State State

	// Value holds the value of a fulfilled promise.
	Value Value

	// Err holds the rejection reason of a rejected promise in its error
	// form.
	Err error
}

// AllSettled returns a promise that fulfills after all of the given promises
// have been driven to an outcome, with a slice of Result values that each
// describe the outcome of one promise. Inputs whose producer terminates
// without settling leave the combinator promise pending.
func AllSettled(promises ...Promise) Promise {
	if len(promises) == 0 {
		return Resolve([]Result{})
	}

	c := newCombined(promises)

	var (
		mu        sync.Mutex
		remaining = len(promises)
	)

	results := make([]Result, len(promises))

	for i, p := range promises {
		collect(p, func(fw YieldFunc, settled *promise) {
			mu.Lock()
			if settled.State() == Fulfilled {
				results[i] = Result{State: Fulfilled, Value: settled.value}
			} else {
				results[i] = Result{State: Rejected, Err: asError(settled.value)}
			}
			remaining--
			done := remaining == 0
			mu.Unlock()

			if done {
				c.fulfill(fw, results)
			}
		})
	}

	return c
}
