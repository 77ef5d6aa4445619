package eventual

import (
	"errors"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// resumeMsg is the message a driver passes into a suspended producer. Either
// val is delivered as the result of the yield, or err is delivered as a
// failure at the suspension point. A close signal travels as err == ErrClosing.
type resumeMsg struct {
	val Value
	err error
}

// yieldMsg is the message a producer passes back to its driver. ok is false
// once the producer has terminated; err then carries a teardown violation, if
// any, to the closer.
type yieldMsg struct {
	item Value
	ok   bool
	err  error
}

// task runs a promise producer as a coroutine. The producer body executes on
// its own goroutine but never concurrently with its driver: control is handed
// back and forth over a pair of unbuffered channels, so at any point in time
// either the driver or the body is running, never both.
//
// The goroutine is started lazily on the first step and exits when the body
// returns. The body only ever executes while a driver is blocked inside step,
// which is what keeps an abandoned but settled task from leaking: its final
// handshake is always received by the step that completed it.
type task struct {
	// mu serializes drivers. It is held for the full duration of one step,
	// including any reactions that run while the body is settling its promise.
	mu sync.Mutex

	p      *promise
	body   func(yield YieldFunc) error
	resume chan resumeMsg
	yields chan yieldMsg

	// started and done are only mutated under mu.
	started bool
	done    bool

	// closed tracks delivery of a close signal. It is only accessed from the
	// body goroutine.
	closed bool

	yield YieldFunc
}

func newTask(p *promise, body func(yield YieldFunc) error) *task {
	t := &task{
		p:      p,
		body:   body,
		resume: make(chan resumeMsg),
		yields: make(chan yieldMsg),
	}

	t.yield = func(item Value) (Value, error) {
		t.yields <- yieldMsg{item: item, ok: true}

		msg := <-t.resume

		if msg.err != nil {
			if errors.Is(msg.err, ErrClosing) {
				t.closed = true
			}

			return nil, msg.err
		}

		return msg.val, nil
	}

	return t
}

// step resumes the producer with msg and blocks until it suspends again or
// terminates. The first step starts the producer, subsequent steps deliver
// msg at its current suspension point. Stepping a terminated task is a no-op.
func (t *task) step(msg resumeMsg) yieldMsg {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return yieldMsg{}
	}

	if !t.started {
		t.started = true

		if msg.err != nil {
			// The producer never ran. A close signal just retires the task, a
			// failure rejects the promise as if it had been raised inside the
			// producer.
			t.done = true

			if !errors.Is(msg.err, ErrClosing) {
				t.p.rejectWith(nil, msg.err)
			}

			return yieldMsg{}
		}

		go t.run()
	} else {
		t.resume <- msg
	}

	ym := <-t.yields
	if !ym.ok {
		t.done = true
	}

	return ym
}

// finished reports whether the producer has terminated. Unstarted tasks are
// not finished: their producer still has to run.
func (t *task) finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.done
}

func (t *task) isStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.started
}

// run executes the producer body and routes its outcome. It runs on the task
// goroutine and terminates with a final handshake that the in-flight step
// receives.
func (t *task) run() {
	var err error

	func() {
		defer func() {
			if v := recover(); v != nil {
				err = pkgerrors.Errorf("panic while resolving promise: %v", v)
			}
		}()

		err = t.body(t.yield)
	}()

	var terminal error

	switch {
	case t.closed:
		// Teardown. The promise keeps whatever state it has, but a producer
		// that failed during cleanup surfaces that failure to the closer.
		if err != nil && !errors.Is(err, ErrClosing) {
			terminal = err
		}
	case err != nil && !errors.Is(err, ErrClosing):
		// The producer terminated with a failure it did not handle. This
		// rejects the promise, which may run reactions and forward markers
		// through the still attached driver.
		t.p.rejectWith(t.yield, err)
	}

	t.yields <- yieldMsg{ok: false, err: terminal}
}
