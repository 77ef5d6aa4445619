package instrumented

import (
	"time"
)

// instrumentedPromise decorates a promise with invocation handlers. The
// delegate is embedded so that everything the instrumentation has no
// interest in, state queries for example, passes through untouched.
type instrumentedPromise struct {
	Promise

	instrumentation *Instrumentation
	uuid            string
}

func (p *instrumentedPromise) handle(startTime time.Time, callerInfo CallerInfo, subjectInfo SubjectInfo) {
	invocation := &Invocation{
		StartTime:   startTime,
		EndTime:     time.Now(),
		UUID:        p.uuid,
		Promise:     p.Promise,
		SubjectInfo: subjectInfo,
		CallerInfo:  callerInfo,
	}

	for _, handler := range p.instrumentation.Handlers() {
		handler(invocation)
	}
}

func (p *instrumentedPromise) wrap(candidate Promise) Promise {
	if candidate == p.Promise {
		// If the candidate is the delegate of p we must not wrap it again to
		// avoid generating a new UUID for it which would make tracing
		// impossible. We can just go ahead and return the already
		// instrumented p.
		return p
	}

	// Wrap it and set the UUID of p on the wrapped promise.
	return p.instrumentation.wrap(candidate, func() string {
		return p.uuid
	})
}

// onFulfilledFunc instruments fn. Nil handlers stay nil to preserve the
// passthrough behaviour of the delegate.
func (p *instrumentedPromise) onFulfilledFunc(fn OnFulfilledFunc, callerInfo CallerInfo) OnFulfilledFunc {
	if fn == nil {
		return nil
	}

	return func(val Value) (res Value) {
		defer func(startTime time.Time) {
			p.handle(startTime, callerInfo, SubjectInfo{
				Subject:      "onFulfilled",
				Arguments:    val,
				ReturnValues: res,
			})
		}(time.Now())
		res = fn(val)
		return
	}
}

// onRejectedFunc instruments fn. Nil handlers stay nil to preserve the
// passthrough behaviour of the delegate.
func (p *instrumentedPromise) onRejectedFunc(fn OnRejectedFunc, callerInfo CallerInfo) OnRejectedFunc {
	if fn == nil {
		return nil
	}

	return func(err error) (res Value) {
		defer func(startTime time.Time) {
			p.handle(startTime, callerInfo, SubjectInfo{
				Subject:      "onRejected",
				Arguments:    err,
				ReturnValues: res,
			})
		}(time.Now())
		res = fn(err)
		return
	}
}

// Then implements the Then method of the eventual.Promise interface.
func (p *instrumentedPromise) Then(onFulfilled OnFulfilledFunc, onRejected ...OnRejectedFunc) Promise {
	callerInfo := getCallerInfo(2)

	instrumentedOnRejected := make([]OnRejectedFunc, len(onRejected))
	for i, fn := range onRejected {
		instrumentedOnRejected[i] = p.onRejectedFunc(fn, callerInfo)
	}

	return p.wrap(p.Promise.Then(p.onFulfilledFunc(onFulfilled, callerInfo), instrumentedOnRejected...))
}

// Catch implements the Catch method of the eventual.Promise interface.
func (p *instrumentedPromise) Catch(onRejected OnRejectedFunc) Promise {
	return p.wrap(p.Promise.Catch(p.onRejectedFunc(onRejected, getCallerInfo(2))))
}

// Finally implements the Finally method of the eventual.Promise interface.
func (p *instrumentedPromise) Finally(fn func()) Promise {
	callerInfo := getCallerInfo(2)

	if fn == nil {
		return p.wrap(p.Promise.Finally(nil))
	}

	return p.wrap(p.Promise.Finally(func() {
		defer func(startTime time.Time) {
			p.handle(startTime, callerInfo, SubjectInfo{
				Subject: "onFinally",
			})
		}(time.Now())
		fn()
	}))
}

// Next implements the Next method of the eventual.Promise interface.
func (p *instrumentedPromise) Next() (val Value, ok bool) {
	defer func(startTime time.Time, callerInfo CallerInfo) {
		p.handle(startTime, callerInfo, SubjectInfo{
			Subject:      "Next",
			ReturnValues: []interface{}{val, ok},
		})
	}(time.Now(), getCallerInfo(2))
	val, ok = p.Promise.Next()
	return
}

// Send implements the Send method of the eventual.Promise interface.
func (p *instrumentedPromise) Send(val Value) (item Value, ok bool) {
	defer func(startTime time.Time, callerInfo CallerInfo) {
		p.handle(startTime, callerInfo, SubjectInfo{
			Subject:      "Send",
			Arguments:    val,
			ReturnValues: []interface{}{item, ok},
		})
	}(time.Now(), getCallerInfo(2))
	item, ok = p.Promise.Send(val)
	return
}

// Throw implements the Throw method of the eventual.Promise interface.
func (p *instrumentedPromise) Throw(err error) (item Value, ok bool) {
	defer func(startTime time.Time, callerInfo CallerInfo) {
		p.handle(startTime, callerInfo, SubjectInfo{
			Subject:      "Throw",
			Arguments:    err,
			ReturnValues: []interface{}{item, ok},
		})
	}(time.Now(), getCallerInfo(2))
	item, ok = p.Promise.Throw(err)
	return
}

// Close implements the Close method of the eventual.Promise interface.
func (p *instrumentedPromise) Close() (err error) {
	defer func(startTime time.Time, callerInfo CallerInfo) {
		p.handle(startTime, callerInfo, SubjectInfo{
			Subject:      "Close",
			ReturnValues: err,
		})
	}(time.Now(), getCallerInfo(2))
	err = p.Promise.Close()
	return
}
