package await

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/martinohmann/eventual"
)

// All awaits all of the passed promises concurrently and returns a promise
// that fulfills with the slice of their values in input order. The first
// rejection or ctx expiry rejects the returned promise and cancels the
// remaining awaits, as does an input whose producer terminates without
// settling, which surfaces as ErrNotSettled. Unlike eventual.All the inputs
// make progress in parallel, one goroutine each.
func All(ctx context.Context, promises ...eventual.Promise) *Promise {
	if len(promises) == 0 {
		return Wrap(eventual.Resolve([]eventual.Value{}))
	}

	return Wrap(eventual.New(func(resolve eventual.ResolveFunc, reject eventual.RejectFunc) {
		g, gctx := errgroup.WithContext(ctx)

		results := make([]eventual.Value, len(promises))

		for i, p := range promises {
			i, p := i, p

			g.Go(func() error {
				val, err := Wrap(p).Await(gctx)
				if err != nil {
					return err
				}

				results[i] = val

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			reject(err)
			return
		}

		resolve(results)
	}))
}

// Race awaits all of the passed promises concurrently and returns a promise
// that settles with the outcome of whichever settles first. The remaining
// awaits are cancelled once a winner is known. Inputs whose producer
// terminates without settling never win the race. Called without promises,
// it fulfills with nil. If ctx is done before any input settles the returned
// promise rejects with ctx.Err().
func Race(ctx context.Context, promises ...eventual.Promise) *Promise {
	if len(promises) == 0 {
		return Wrap(eventual.Resolve(nil))
	}

	return Wrap(eventual.New(func(resolve eventual.ResolveFunc, reject eventual.RejectFunc) {
		rctx, cancel := context.WithCancel(ctx)
		defer cancel()

		valChan := make(chan eventual.Value, len(promises))
		errChan := make(chan error, len(promises))

		for _, p := range promises {
			p := p

			go func() {
				val, err := Wrap(p).Await(rctx)
				if err != nil {
					// An input that exhausted without settling has no
					// outcome to race with.
					if !errors.Is(err, eventual.ErrNotSettled) {
						errChan <- err
					}

					return
				}

				valChan <- val
			}()
		}

		select {
		case val := <-valChan:
			resolve(val)
		case err := <-errChan:
			reject(rawReason(err))
		case <-ctx.Done():
			reject(ctx.Err())
		}
	}))
}

// Any awaits all of the passed promises concurrently and returns a promise
// that fulfills with the value of the first input to fulfill. If all inputs
// reject, it rejects with an eventual.AggregateError holding the raw
// rejection reasons in input order. Inputs whose producer terminates without
// settling contribute no outcome, which leaves the returned promise waiting
// on ctx. Called without promises, it rejects with an empty
// eventual.AggregateError.
func Any(ctx context.Context, promises ...eventual.Promise) *Promise {
	if len(promises) == 0 {
		return Wrap(eventual.Reject(eventual.AggregateError{}))
	}

	return Wrap(eventual.New(func(resolve eventual.ResolveFunc, reject eventual.RejectFunc) {
		actx, cancel := context.WithCancel(ctx)
		defer cancel()

		type indexedErr struct {
			index int
			err   error
		}

		valChan := make(chan eventual.Value, len(promises))
		errChan := make(chan indexedErr, len(promises))

		for i, p := range promises {
			i, p := i, p

			go func() {
				val, err := Wrap(p).Await(actx)
				if err != nil {
					if !errors.Is(err, eventual.ErrNotSettled) {
						errChan <- indexedErr{index: i, err: err}
					}

					return
				}

				valChan <- val
			}()
		}

		reasons := make(eventual.AggregateError, len(promises))

		for range promises {
			select {
			case val := <-valChan:
				resolve(val)
				return
			case ie := <-errChan:
				reasons[ie.index] = rawReason(ie.err)
			case <-ctx.Done():
				reject(ctx.Err())
				return
			}
		}

		reject(reasons)
	}))
}

// AllSettled awaits all of the passed promises concurrently and returns a
// promise that fulfills with a slice of eventual.Result values describing
// the outcomes in input order, once every await has returned. Inputs whose
// producer terminated without settling are reported as still pending. The
// returned promise only rejects if ctx is done first.
func AllSettled(ctx context.Context, promises ...eventual.Promise) *Promise {
	if len(promises) == 0 {
		return Wrap(eventual.Resolve([]eventual.Result{}))
	}

	return Wrap(eventual.New(func(resolve eventual.ResolveFunc, reject eventual.RejectFunc) {
		type indexedResult struct {
			index  int
			result eventual.Result
		}

		resChan := make(chan indexedResult, len(promises))

		for i, p := range promises {
			i, p := i, p

			go func() {
				ap := Wrap(p)

				val, err := ap.Await(ctx)

				var res eventual.Result

				switch ap.State() {
				case eventual.Fulfilled:
					res = eventual.Result{State: eventual.Fulfilled, Value: val}
				case eventual.Rejected:
					res = eventual.Result{State: eventual.Rejected, Err: err}
				default:
					res = eventual.Result{State: eventual.Pending, Err: err}
				}

				resChan <- indexedResult{index: i, result: res}
			}()
		}

		results := make([]eventual.Result, len(promises))

		for range promises {
			select {
			case res := <-resChan:
				results[res.index] = res.result
			case <-ctx.Done():
				reject(ctx.Err())
				return
			}
		}

		resolve(results)
	}))
}

// rawReason recovers the raw rejection reason from the error form returned
// by Await, so that aggregated reasons match what the input promises were
// rejected with.
func rawReason(err error) eventual.Value {
	var re *eventual.RejectionError
	if errors.As(err, &re) {
		return re.Reason
	}

	return err
}
