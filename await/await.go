// Package await turns cooperatively driven promises into blocking calls. It
// decorates a promise with an Await method that pumps the driving protocol in
// a dedicated goroutine: yielded awaitables are awaited and their outcome is
// fed back into the producer, everything else is stepped over. This bridges
// the gap between the lazy, driver-scheduled core and code that wants to block
// on a result under a context.
package await

import (
	"context"
	"time"

	"github.com/martinohmann/eventual"
)

// Awaitable is the interface of a value that can be waited on under a
// context. Producers yield awaitables as markers to ask their driver to block
// on something on their behalf.
type Awaitable interface {
	// Await blocks until the value is available or ctx is done. It returns
	// ctx.Err() if the context expires first.
	Await(ctx context.Context) (eventual.Value, error)
}

// AwaitableFunc adapts an ordinary func to the Awaitable interface.
type AwaitableFunc func(ctx context.Context) (eventual.Value, error)

// Await implements the Awaitable interface.
func (f AwaitableFunc) Await(ctx context.Context) (eventual.Value, error) {
	return f(ctx)
}

// Promise decorates an eventual.Promise with blocking semantics. It still
// implements eventual.Promise, so a wrapped promise can be passed anywhere an
// unwrapped one can.
type Promise struct {
	eventual.Promise
}

// Wrap decorates p. Wrapping an already wrapped promise returns it unchanged.
func Wrap(p eventual.Promise) *Promise {
	if ap, ok := p.(*Promise); ok {
		return ap
	}

	return &Promise{Promise: p}
}

// Await drives the promise until its producer terminates and returns the
// outcome. Yielded markers that are awaitables, promises included, are
// awaited and their result or failure is passed back into the producer via
// Send or Throw. All other markers are skipped.
//
// If ctx is done before the promise settles, Await returns ctx.Err(). The
// producer is not closed in that case: it stays parked at its current
// suspension point and can be driven, closed or awaited again. A producer
// that terminates without settling the promise surfaces as ErrNotSettled.
func (p *Promise) Await(ctx context.Context) (eventual.Value, error) {
	if p.State() != eventual.Pending {
		return p.Promise.Value()
	}

	type outcome struct {
		val eventual.Value
		err error
	}

	res := make(chan outcome, 1)

	go func() {
		val, err := p.pump(ctx)
		res <- outcome{val, err}
	}()

	select {
	case out := <-res:
		return out.val, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pump runs the driving loop. It checks ctx between steps only: a producer
// that blocks inside its body pins the pump until the body suspends or
// terminates, which is why Await races the pump against ctx.Done.
func (p *Promise) pump(ctx context.Context) (eventual.Value, error) {
	item, ok := p.Next()

	for ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if aw := asAwaitable(item); aw != nil {
			val, err := aw.Await(ctx)
			if err != nil {
				item, ok = p.Throw(err)
			} else {
				item, ok = p.Send(val)
			}

			continue
		}

		// Markers that carry no instruction for this driver.
		item, ok = p.Next()
	}

	return p.Promise.Value()
}

// Shutdown closes the promise like Close, but cooperates with a producer
// whose cleanup needs to wait on something: awaitables yielded during
// teardown are awaited under ctx and their outcome is fed back in, until the
// producer terminates.
//
// Any non-awaitable suspension after the close signal is a protocol
// violation. Shutdown keeps delivering the close signal regardless, so that
// the producer still winds down, and reports the violation as
// ErrImproperClose once it has. If ctx expires before the producer
// terminates it is left parked at its suspension point and Shutdown returns
// ErrCloseIgnored.
func (p *Promise) Shutdown(ctx context.Context) error {
	item, ok := p.Throw(eventual.ErrClosing)

	var improper, failed bool

	for ok {
		aw := asAwaitable(item)

		switch {
		case aw == nil:
			if improper && ctx.Err() != nil {
				return eventual.ErrCloseIgnored
			}

			improper = true
			item, ok = p.Throw(eventual.ErrClosing)
		case ctx.Err() != nil:
			// The teardown budget is spent. Fail the suspension once so the
			// producer can still terminate through its error path, give up if
			// it suspends again.
			if failed {
				return eventual.ErrCloseIgnored
			}

			failed = true
			item, ok = p.Throw(ctx.Err())
		default:
			val, err := aw.Await(ctx)
			if err != nil {
				item, ok = p.Throw(err)
				continue
			}

			item, ok = p.Send(val)
		}
	}

	err := p.Close()

	if improper {
		return eventual.ErrImproperClose
	}

	return err
}

// Sleep returns an Awaitable that completes with a nil value after d, or
// with ctx.Err() if the context is done first. Producers yield it to pause
// without blocking their driver beyond its deadline.
func Sleep(d time.Duration) Awaitable {
	return AwaitableFunc(func(ctx context.Context) (eventual.Value, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// asAwaitable returns the awaitable form of a yielded marker, or nil if the
// marker is not awaitable. Raw promises are wrapped on the fly.
func asAwaitable(item eventual.Value) Awaitable {
	switch v := item.(type) {
	case Awaitable:
		return v
	case eventual.Promise:
		return Wrap(v)
	default:
		return nil
	}
}
