package await

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/martinohmann/eventual"
)

// PoolEventListener can be attached to a promise pool to listen for
// fulfillment and rejection events of the promises created and tracked by the
// pool. This can be used for logging or collecting values.
type PoolEventListener struct {
	// OnFulfilled is called on each promise fulfillment.
	OnFulfilled func(val eventual.Value)

	// OnRejected is called on each promise rejection.
	OnRejected func(err error)
}

// PoolOptions configure the behaviour of a promise pool.
type PoolOptions struct {
	// ContinueOnError keeps the pool running when one of its promises
	// rejects. Rejections are still dispatched to event listeners, but they
	// do not settle the pool promise.
	ContinueOnError bool
}

// A Pool awaits promises from a stream of promise factory funcs and
// supervises their outcomes. It ensures that only a configurable number of
// promises is awaited concurrently.
type Pool struct {
	mu        sync.Mutex
	size      int64
	sem       *semaphore.Weighted
	done      chan struct{}
	result    chan eventual.Result
	fns       <-chan func() eventual.Promise
	options   PoolOptions
	listeners []*PoolEventListener
	promise   *Promise
}

// NewPool creates a new promise pool with given concurrency and channel which
// provides promise factory funcs. Concurrency values below 1 cause a panic.
// Nil funcs or nil promises returned by the funcs from the channel will also
// cause panics once the pool promise is driven.
func NewPool(concurrency int, fns <-chan func() eventual.Promise, options ...PoolOptions) *Pool {
	if concurrency <= 0 {
		panic("concurrency must be greater than 0")
	}

	p := &Pool{
		size:   int64(concurrency),
		sem:    semaphore.NewWeighted(int64(concurrency)),
		done:   make(chan struct{}),
		result: make(chan eventual.Result, 1),
		fns:    fns,
	}

	if len(options) > 0 {
		p.options = options[0]
	}

	return p
}

// Run returns the pool promise. Like any promise it is lazy: consumption of
// the factory funcs starts once the promise is first driven or awaited. The
// promise fulfills once the factory channel is closed and all in-flight
// promises have settled. It rejects upon the first rejection encountered or
// if ctx is cancelled, unless the pool was configured to continue on errors.
// Run must only be called once. Subsequent calls to it will panic.
func (p *Pool) Run(ctx context.Context) *Promise {
	if p.promise != nil {
		panic("promise pool cannot be started twice")
	}

	p.promise = Wrap(eventual.New(func(resolve eventual.ResolveFunc, reject eventual.RejectFunc) {
		defer func() {
			p.mu.Lock()
			p.listeners = nil
			close(p.done)
			p.mu.Unlock()
		}()

		go p.run(ctx)

		select {
		case res := <-p.result:
			if res.Err != nil {
				reject(res.Err)
				return
			}

			resolve(res.Value)
		case <-ctx.Done():
			reject(ctx.Err())
		}
	}))

	return p.promise
}

func (p *Pool) run(ctx context.Context) {
	for {
		fn, ok := <-p.fns
		if !ok {
			// Fns channel was closed, we need to stop. By acquiring the full
			// semaphore weight we make sure that all promises that are
			// currently in flight settled before we send the final result.
			if err := p.sem.Acquire(ctx, p.size); err != nil {
				return
			}

			p.sendResult(eventual.Result{State: eventual.Fulfilled})
			return
		}

		// Wait for semaphore capacity before awaiting the next promise.
		if err := p.sem.Acquire(ctx, 1); err != nil {
			// Ctx was cancelled while waiting, which also rejects the pool
			// promise. We exit here as there is no point in continuing.
			return
		}

		select {
		case <-p.done:
			// One of the promises that are currently in flight rejected and
			// settled the pool promise while we waited for capacity.
			p.sem.Release(1)
			return
		default:
		}

		go p.execute(ctx, fn)
	}
}

func (p *Pool) execute(ctx context.Context, fn func() eventual.Promise) {
	defer p.sem.Release(1)

	val, err := Wrap(fn()).Await(ctx)
	if err != nil {
		p.dispatchRejection(err)

		if !p.options.ContinueOnError {
			p.sendResult(eventual.Result{State: eventual.Rejected, Err: err})
		}

		return
	}

	p.dispatchFulfillment(val)
}

// sendResult delivers the pool outcome to the pool promise. The result
// channel is buffered so the first outcome always lands, later outcomes are
// discarded once the pool promise has settled and closed done.
func (p *Pool) sendResult(res eventual.Result) {
	select {
	case p.result <- res:
	case <-p.done:
	}
}

func (p *Pool) dispatchFulfillment(val eventual.Value) {
	p.mu.Lock()
	listeners := p.listeners
	p.mu.Unlock()

	for _, l := range listeners {
		if l.OnFulfilled != nil {
			l.OnFulfilled(val)
		}
	}
}

func (p *Pool) dispatchRejection(err error) {
	p.mu.Lock()
	listeners := p.listeners
	p.mu.Unlock()

	for _, l := range listeners {
		if l.OnRejected != nil {
			l.OnRejected(err)
		}
	}
}

// AddEventListener adds listener to the pool. Will not add it again if
// listener is already present. Adding a nil listener causes a panic.
func (p *Pool) AddEventListener(listener *PoolEventListener) {
	if listener == nil {
		panic("listener must be non-nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, l := range p.listeners {
		if l == listener {
			return
		}
	}

	p.listeners = append(p.listeners, listener)
}

// RemoveEventListener removes listener from the pool if it was present.
func (p *Pool) RemoveEventListener(listener *PoolEventListener) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, l := range p.listeners {
		if l == listener {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}
