package eventual

import (
	"errors"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// State describes the lifecycle state of a promise.
type State int

const (
	// Pending is the state of a promise that has not settled yet.
	Pending State = iota
	// Fulfilled is the state of a promise that settled with a value.
	Fulfilled
	// Rejected is the state of a promise that settled with a reason.
	Rejected
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Value can be the value of any type.
type Value interface{}

// OnFulfilledFunc is a handler for a fulfilled promise. The returned value
// resolves the successor promise, which includes adopting it if it is another
// promise or a thenable. Returning an error rejects the successor.
type OnFulfilledFunc func(val Value) Value

// OnRejectedFunc is a handler for a rejected promise. If the rejection reason
// was not an error it is wrapped in a *RejectionError before being passed in.
// The returned value resolves the successor promise, returning an error keeps
// the rejection going.
type OnRejectedFunc func(err error) Value

// ResolveFunc fulfills a promise with val. If val is another promise or a
// thenable, the promise adopts its outcome instead.
type ResolveFunc func(val Value)

// RejectFunc rejects a promise with reason. The reason is stored as-is and
// deliberately not resolved: rejecting with a promise rejects with that
// promise as the reason.
type RejectFunc func(reason Value)

// ResolutionFunc is a promise producer that settles its promise by calling
// resolve or reject. It runs when the promise is first driven, not when it is
// created.
type ResolutionFunc func(resolve ResolveFunc, reject RejectFunc)

// YieldFunc suspends a promise producer and hands item to the current driver
// as a marker. It returns the value passed back in by the driver, or an error
// delivered at the suspension point. The error is ErrClosing when the promise
// is being closed: the producer must then run its cleanup and return,
// conventionally returning ErrClosing.
type YieldFunc func(item Value) (Value, error)

// GeneratorFunc is a promise producer with access to the driving protocol. It
// may suspend itself any number of times via yield before settling the
// promise through resolve or reject. Returning a non-nil error other than
// ErrClosing rejects the promise with it.
type GeneratorFunc func(yield YieldFunc, resolve ResolveFunc, reject RejectFunc) error

// Thenable is the interface of a foreign promise-like value. Resolving a
// promise with a Thenable subscribes to its outcome by calling Then once with
// a resolve and a reject capture. The first capture invocation settles the
// promise, every later invocation of either capture is ignored.
type Thenable interface {
	Then(resolve ResolveFunc, reject RejectFunc)
}

// Promise is a proxy for a value that may not be known yet. A promise starts
// out pending and settles exactly once, either fulfilled with a value or
// rejected with a reason.
//
// A promise is lazy: its producer only runs once the promise is driven via
// Next, Send, Throw, Close, Settle or one of the combinators. Driving steps
// the producer from suspension point to suspension point and surfaces the
// yielded markers, which makes the scheduling of a chain fully cooperative.
// Pending promises consume no goroutine unless they are being driven.
//
// Promises are created by New, NewGenerator, Resolve and Reject, or by the
// equivalent methods on a Registry. Foreign implementations of the interface
// are not permitted, decorate an existing promise instead.
type Promise interface {
	// Then attaches a fulfillment handler and optionally a rejection handler
	// to the promise and returns the successor promise that settles with the
	// handler outcome. Handlers never run during the Then call itself, even
	// if the promise is already settled: they run once the promise or one of
	// its successors is driven.
	Then(onFulfilled OnFulfilledFunc, onRejected ...OnRejectedFunc) Promise

	// Catch attaches a rejection handler to the promise. It is shorthand for
	// Then(nil, onRejected).
	Catch(onRejected OnRejectedFunc) Promise

	// Finally attaches fn to run once the promise settles, regardless of the
	// outcome. The successor settles like the promise itself unless fn
	// panics.
	Finally(fn func()) Promise

	// State returns the current state of the promise.
	State() State

	// Value returns the value the promise settled with. It returns
	// ErrNotSettled while the promise is pending, and the rejection reason in
	// its error form if the promise was rejected.
	Value() (Value, error)

	// Reason returns the raw rejection reason, or nil if the promise was not
	// rejected.
	Reason() Value

	// IsPending reports whether the promise has not settled yet.
	IsPending() bool

	// IsFulfilled reports whether the promise settled with a value.
	IsFulfilled() bool

	// IsRejected reports whether the promise settled with a reason.
	IsRejected() bool

	// IsRejectedDueTo reports whether the promise was rejected with a reason
	// that matches target according to errors.Is.
	IsRejectedDueTo(target error) bool

	// Next steps the producer to its next suspension point. It returns the
	// yielded marker and true while the producer is suspended, and nil and
	// false once it has terminated.
	Next() (Value, bool)

	// Send resumes the producer with val as the result of its current
	// suspension and steps it to the next one. Sending a non-nil value into a
	// producer that has not started yet panics.
	Send(val Value) (Value, bool)

	// Throw resumes the producer by failing its current suspension with err.
	// If the producer does not handle the failure it terminates and the
	// promise is rejected with err. Throwing ErrClosing is equivalent to
	// initiating a close.
	Throw(err error) (Value, bool)

	// Close delivers the close signal to the producer at its current
	// suspension point. A producer that suspends again instead of
	// terminating leaves the promise with ErrImproperClose and stays parked
	// at that suspension point. Closing a promise whose producer has already
	// terminated is a no-op. Close is also the point where a rejected
	// promise whose rejection was never handled or observed is reported to
	// the registry reporter.
	Close() error

	impl() *promise
}

// promise is the canonical Promise implementation.
type promise struct {
	mu       sync.Mutex
	registry *Registry

	state State
	value Value

	reactions []*reaction

	// task drives the producer. It is nil for promises created in a settled
	// state.
	task *task

	// adoptee is the promise currently being adopted. It links resolution
	// chains together for cycle detection.
	adoptee *promise

	// depth is the position of the promise in a resolution chain, bounded by
	// the registry adoption limit.
	depth int

	handled  bool
	reported bool
}

// reaction is a queued response to the settlement of a promise. It either
// settles a successor promise through the optional handlers, or runs a raw
// collector as used by the combinators.
type reaction struct {
	successor   *promise
	onFulfilled OnFulfilledFunc
	onRejected  OnRejectedFunc
	onFinally   func()

	raw func(fw YieldFunc, settled *promise)
}

// New creates a new promise on the default registry which is settled by fn.
// It panics with ErrHandlerNotCallable if fn is nil.
func New(fn ResolutionFunc) Promise {
	return DefaultRegistry.New(fn)
}

// NewGenerator creates a new promise on the default registry whose producer
// may suspend itself through the driving protocol. It panics with
// ErrHandlerNotCallable if fn is nil.
func NewGenerator(fn GeneratorFunc) Promise {
	return DefaultRegistry.NewGenerator(fn)
}

// Resolve creates a new promise on the default registry which resolves to
// val. If val is already a promise it is returned unchanged, if it is a
// thenable the new promise adopts its outcome.
func Resolve(val Value) Promise {
	return DefaultRegistry.Resolve(val)
}

// Reject creates a new promise on the default registry which is rejected
// with reason.
func Reject(reason Value) Promise {
	return DefaultRegistry.Reject(reason)
}

// Settle drives p until its producer terminates and returns p. Settling an
// already settled promise is a no-op. A producer may terminate without
// settling its promise, in which case the returned promise is still pending.
func Settle(p Promise) Promise {
	for {
		if _, ok := p.Next(); !ok {
			return p
		}
	}
}

func newResolutionPromise(reg *Registry, fn ResolutionFunc) *promise {
	if fn == nil {
		panic(ErrHandlerNotCallable)
	}

	p := reg.newPromise()
	p.task = newTask(p, func(yield YieldFunc) error {
		fn(p.resolveFunc(yield), p.rejectFunc(yield))
		return nil
	})

	return p
}

func newGeneratorPromise(reg *Registry, fn GeneratorFunc) *promise {
	if fn == nil {
		panic(ErrHandlerNotCallable)
	}

	p := reg.newPromise()
	p.task = newTask(p, func(yield YieldFunc) error {
		return fn(yield, p.resolveFunc(yield), p.rejectFunc(yield))
	})

	return p
}

// newAdoptionPromise creates a promise whose sole producer step resolves it
// with val. Resolve uses it to subscribe to thenables.
func newAdoptionPromise(reg *Registry, val Value) *promise {
	p := reg.newPromise()
	p.task = newTask(p, func(yield YieldFunc) error {
		resolvePromise(yield, p, val)
		return nil
	})

	return p
}

func newFulfilled(reg *Registry, val Value) *promise {
	return &promise{registry: reg, state: Fulfilled, value: val}
}

func newRejected(reg *Registry, reason Value) *promise {
	if re, ok := reason.(*RejectionError); ok {
		reason = re.Reason
	}

	return &promise{registry: reg, state: Rejected, value: reason}
}

func (p *promise) impl() *promise { return p }

// resolveFunc returns the resolve capability handed to a producer. Markers
// produced while resolving, for example while adopting another promise, are
// forwarded through yield.
func (p *promise) resolveFunc(yield YieldFunc) ResolveFunc {
	return func(val Value) {
		p.resolveWith(yield, val)
	}
}

// rejectFunc returns the reject capability handed to a producer.
func (p *promise) rejectFunc(yield YieldFunc) RejectFunc {
	return func(reason Value) {
		p.rejectWith(yield, reason)
	}
}

func (p *promise) Then(onFulfilled OnFulfilledFunc, onRejected ...OnRejectedFunc) Promise {
	var onRej OnRejectedFunc
	if len(onRejected) > 0 {
		onRej = onRejected[0]
	}

	return p.then(onFulfilled, onRej, nil)
}

func (p *promise) Catch(onRejected OnRejectedFunc) Promise {
	return p.then(nil, onRejected, nil)
}

func (p *promise) Finally(fn func()) Promise {
	return p.then(nil, nil, fn)
}

// then creates the successor promise and queues the reaction that settles
// it. The successor producer drives p, so driving any promise in a chain
// transitively drives all of its sources.
func (p *promise) then(onFulfilled OnFulfilledFunc, onRejected OnRejectedFunc, onFinally func()) Promise {
	s := p.registry.newPromise()
	s.task = newTask(s, func(yield YieldFunc) error {
		return p.stepInto(yield)
	})

	p.attach(&reaction{
		successor:   s,
		onFulfilled: onFulfilled,
		onRejected:  onRejected,
		onFinally:   onFinally,
	})

	return s
}

// attach queues r. Attaching a reaction hands responsibility for the outcome
// of p over to it, which silences the unhandled rejection report for p.
func (p *promise) attach(r *reaction) {
	p.mu.Lock()
	p.handled = true
	p.reactions = append(p.reactions, r)
	p.mu.Unlock()
}

func (p *promise) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

func (p *promise) Value() (Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Fulfilled:
		return p.value, nil
	case Rejected:
		p.handled = true
		return nil, asError(p.value)
	default:
		return nil, ErrNotSettled
	}
}

func (p *promise) Reason() Value {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Rejected {
		return nil
	}

	p.handled = true

	return p.value
}

func (p *promise) IsPending() bool { return p.State() == Pending }

func (p *promise) IsFulfilled() bool { return p.State() == Fulfilled }

func (p *promise) IsRejected() bool { return p.State() == Rejected }

func (p *promise) IsRejectedDueTo(target error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Rejected {
		return false
	}

	p.handled = true

	return errors.Is(asError(p.value), target)
}

func (p *promise) Next() (Value, bool) {
	return p.advance(resumeMsg{})
}

func (p *promise) Send(val Value) (Value, bool) {
	if val != nil && p.task != nil && !p.task.isStarted() {
		panic("cannot send a non-nil value into an unstarted promise")
	}

	return p.advance(resumeMsg{val: val})
}

func (p *promise) Throw(err error) (Value, bool) {
	if err == nil {
		return p.Next()
	}

	return p.advance(resumeMsg{err: err})
}

func (p *promise) advance(msg resumeMsg) (Value, bool) {
	if t := p.task; t != nil && !t.finished() {
		ym := t.step(msg)
		if ym.ok {
			return ym.item, true
		}
	}

	// The producer has terminated but the promise may be parked on an
	// adoption: drive the adopted promise in its place.
	if a := p.adopteeRef(); a != nil && p.IsPending() {
		return a.advance(msg)
	}

	return nil, false
}

func (p *promise) Close() error {
	t := p.task
	if t == nil || t.finished() {
		var err error
		if a := p.adopteeRef(); a != nil {
			err = a.Close()
		}

		p.reportIfUnhandled()

		return err
	}

	ym := t.step(resumeMsg{err: ErrClosing})
	if ym.ok {
		// The producer suspended again instead of terminating. It stays
		// parked at that suspension point, driving or closing again picks it
		// up from there.
		return ErrImproperClose
	}

	p.reportIfUnhandled()

	return ym.err
}

// stepInto drives p to termination on behalf of an enclosing producer,
// forwarding every marker through fw. This is what delegation is made of:
// a successor producer steps into its source, adoption steps into the
// adopted promise. A close signal arriving through fw closes p and
// propagates. Once the producer has terminated, the undrained reactions of a
// settled p run in the same driving context.
func (p *promise) stepInto(fw YieldFunc) error {
	if t := p.task; t != nil {
		msg := resumeMsg{}

		for {
			ym := t.step(msg)
			if !ym.ok {
				break
			}

			if fw == nil {
				msg = resumeMsg{}
				continue
			}

			val, err := fw(ym.item)

			switch {
			case err == nil:
				msg = resumeMsg{val: val}
			case errors.Is(err, ErrClosing):
				p.Close()
				return err
			default:
				msg = resumeMsg{err: err}
			}
		}
	}

	p.drain(fw)

	return nil
}

// settle performs the pending to settled transition. It is the single place
// that guards the settle-once invariant.
func (p *promise) settle(state State, val Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Pending {
		return ErrAlreadySettled
	}

	p.state = state
	p.value = val
	p.adoptee = nil

	return nil
}

// fulfill transitions p to Fulfilled with an already resolved value. Use
// resolveWith for values that may need resolution.
func (p *promise) fulfill(fw YieldFunc, val Value) {
	if p.settle(Fulfilled, val) != nil {
		return
	}

	p.drain(fw)
}

// rejectWith transitions p to Rejected. A *RejectionError reason is unwrapped
// back to the raw reason it carries, anything else is stored as-is.
func (p *promise) rejectWith(fw YieldFunc, reason Value) {
	if re, ok := reason.(*RejectionError); ok {
		reason = re.Reason
	}

	if p.settle(Rejected, reason) != nil {
		return
	}

	p.drain(fw)
}

// resolveWith resolves p with val, adopting promises and thenables.
func (p *promise) resolveWith(fw YieldFunc, val Value) {
	resolvePromise(fw, p, val)
}

// drain runs the queued reactions of a settled promise in FIFO order.
// Reactions queued while draining are picked up by the same loop. Draining a
// pending promise is a no-op.
func (p *promise) drain(fw YieldFunc) {
	for {
		p.mu.Lock()
		if p.state == Pending || len(p.reactions) == 0 {
			p.mu.Unlock()
			return
		}

		r := p.reactions[0]
		p.reactions = p.reactions[1:]
		p.mu.Unlock()

		r.handle(fw, p)
	}
}

func (p *promise) reportIfUnhandled() {
	p.mu.Lock()
	if p.state != Rejected || p.handled || p.reported {
		p.mu.Unlock()
		return
	}

	p.reported = true
	reason := p.value
	p.mu.Unlock()

	p.registry.report(p, reason)
}

// handle responds to the settlement of a promise by settling the successor
// or running the raw collector. A panicking handler rejects the successor.
func (r *reaction) handle(fw YieldFunc, settled *promise) {
	if r.raw != nil {
		r.raw(fw, settled)
		return
	}

	s := r.successor

	defer func() {
		if v := recover(); v != nil {
			s.rejectWith(fw, pkgerrors.Errorf("panic while resolving promise: %v", v))
		}
	}()

	if r.onFinally != nil {
		r.onFinally()
	}

	switch settled.State() {
	case Fulfilled:
		if r.onFulfilled == nil {
			s.fulfill(fw, settled.value)
			return
		}

		val := r.onFulfilled(settled.value)
		if err, ok := val.(error); ok {
			s.rejectWith(fw, err)
			return
		}

		s.resolveWith(fw, val)
	case Rejected:
		if r.onRejected == nil {
			s.rejectWith(fw, settled.value)
			return
		}

		val := r.onRejected(asError(settled.value))
		if err, ok := val.(error); ok {
			s.rejectWith(fw, err)
			return
		}

		s.resolveWith(fw, val)
	}
}
