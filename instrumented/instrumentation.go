// Package instrumented is a drop in replacement for the eventual package to
// instrument promises for debugging, tracing and logging of handler
// invocations and of the driving protocol.
package instrumented

import (
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/martinohmann/eventual"
)

// InstrumentationHandlerFunc is the signature of a func that can be used as a
// promise invocation handler. It is called with an invocation info every time
// an onFulfilled, onRejected or onFinally handler runs on an instrumented
// promise, or the promise is driven via Next, Send, Throw or Close.
type InstrumentationHandlerFunc func(invocation *Invocation)

// Invocation is a container for information relevant to a given promise
// handler invocation.
type Invocation struct {
	// UUID is a unique string that is automatically generated for every
	// promise that is instrumented to keep track of it. Successors created
	// through Then, Catch and Finally inherit the UUID of the promise they
	// were derived from.
	UUID string

	// Promise is the original promise that is wrapped by the
	// instrumentation. It is strongly advised against manipulating the
	// promise (e.g. calling Then or driving it) inside an invocation handler
	// as this may cause weird side effects, panics or even deadlocks. This is
	// only exposed to be able to inspect the promise for debugging or
	// tracing.
	Promise Promise

	// SubjectInfo contains information about the subject of the invocation.
	// This is either a promise settlement handler like onFulfilled or one of
	// the driving methods.
	SubjectInfo SubjectInfo

	// CallerInfo contains info about the callsite of Subject. In case of
	// onFulfilled, onRejected and onFinally handlers this contains the file,
	// line and func where the handler was passed to Then, Catch or Finally
	// and not the direct caller as this would point to internals of the
	// promise implementation which is generally not useful to the user.
	CallerInfo CallerInfo

	// StartTime holds the time Subject was called at.
	StartTime time.Time

	// EndTime holds the time at which the execution of Subject was finished.
	EndTime time.Time
}

// SubjectInfo contains information about the subject on which an
// instrumentation handler is invoked.
type SubjectInfo struct {
	// Subject is the subject of the invocation, that is: a driving method
	// name (e.g. Next) or a handler type (e.g. onFulfilled).
	Subject string

	// Arguments hold the argument values that Subject was called with.
	Arguments interface{}

	// ReturnValues hold the values returned by Subject.
	ReturnValues interface{}
}

// CallerInfo contains information about a call site.
type CallerInfo struct {
	// File in which the call happened.
	File string

	// Func contains the name of the func surrounding the call site.
	Func string

	// Line number of the call site.
	Line int
}

func getCallerInfo(skipFrames int) CallerInfo {
	pc, file, line, _ := runtime.Caller(skipFrames)

	return CallerInfo{
		File: file,
		Func: runtime.FuncForPC(pc).Name(),
		Line: line,
	}
}

var defaultInstrumentation = NewInstrumentation()

// Instrumentation is a factory type for instrumented promises. It holds
// references to instrumentation handlers that should be attached to every
// instrumented promise created by the factory. The factory is useful as a
// drop-in replacement for calls to eventual.New, eventual.NewGenerator,
// eventual.Resolve and eventual.Reject.
type Instrumentation struct {
	sync.RWMutex
	handlers []InstrumentationHandlerFunc
}

// NewInstrumentation creates a new instrumented promise factory with given
// handler funcs. If no handler funcs are provided, calling any of the factory
// methods returns promises without instrumenting them.
func NewInstrumentation(handlers ...InstrumentationHandlerFunc) *Instrumentation {
	return &Instrumentation{
		handlers: handlers,
	}
}

// AddHandlers adds handler funcs to the instrumentation. Newly added handlers
// are also attached to promises previously created by this instrumentation.
func (i *Instrumentation) AddHandlers(handlers ...InstrumentationHandlerFunc) {
	i.Lock()
	defer i.Unlock()

	i.handlers = append(i.handlers, handlers...)
}

// RemoveHandlers removes all handlers from the instrumentation. After calling
// this function, all promises newly created by this package will not be
// instrumented. This can be used to conditionally disable instrumentation
// without altering the code using the promises.
func (i *Instrumentation) RemoveHandlers() {
	i.Lock()
	defer i.Unlock()

	i.handlers = nil
}

// Handlers returns the handlers configured for i. This method is thread-safe.
func (i *Instrumentation) Handlers() []InstrumentationHandlerFunc {
	i.RLock()
	defer i.RUnlock()

	return i.handlers
}

// New creates a new instrumented promise. It creates a new promise by calling
// eventual.New(fn). If the instrumentation has no handlers configured, the
// new promise is returned without wrapping it with instrumentation.
func (i *Instrumentation) New(fn ResolutionFunc) Promise {
	return i.Wrap(eventual.New(fn))
}

// NewGenerator creates a new instrumented promise whose producer has access
// to the driving protocol. It creates the promise by calling
// eventual.NewGenerator(fn). If the instrumentation has no handlers
// configured, the new promise is returned without wrapping it with
// instrumentation.
func (i *Instrumentation) NewGenerator(fn GeneratorFunc) Promise {
	return i.Wrap(eventual.NewGenerator(fn))
}

// Resolve returns a new instrumented promise that is resolved with given
// value. It creates the promise by calling eventual.Resolve(val). If the
// instrumentation has no handlers configured, the promise is returned
// without wrapping it with instrumentation.
func (i *Instrumentation) Resolve(val Value) Promise {
	return i.Wrap(eventual.Resolve(val))
}

// Reject returns a new instrumented promise that is rejected with given
// reason. It creates the promise by calling eventual.Reject(reason). If the
// instrumentation has no handlers configured, the rejected promise is
// returned without wrapping it with instrumentation.
func (i *Instrumentation) Reject(reason Value) Promise {
	return i.Wrap(eventual.Reject(reason))
}

// Wrap instruments an existing promise. If the instrumentation has no
// handlers configured, the original promise is returned without wrapping it
// with instrumentation. If the provided promise is already instrumented, the
// newly wrapped promise will adopt the UUID of the delegate.
func (i *Instrumentation) Wrap(delegate Promise) Promise {
	return i.wrap(delegate, func() string {
		return uuid.New().String()
	})
}

func (i *Instrumentation) wrap(delegate Promise, newUUID func() string) Promise {
	if len(i.Handlers()) == 0 {
		// If the instrumentation has no handlers there is no point in
		// wrapping the delegate promise as this would just introduce
		// unnecessary overhead. Returning the uninstrumented delegate here
		// also has the benefit that we can always use the instrumented
		// package in production code even if we do not specify any handlers
		// as it does not add any overhead in this case.
		return delegate
	}

	// Handle already instrumented promises.
	if instrumented, ok := delegate.(*instrumentedPromise); ok {
		if instrumented.instrumentation == i {
			// If delegate is already instrumented with i we must not wrap it
			// again or we will end up calling the same instrumentation
			// handlers multiple times.
			return instrumented
		}

		// The delegate is instrumented with a different instrumentation.
		// Wrap it to keep the existing instrumentation in place but adopt
		// its UUID to keep track of it.
		return &instrumentedPromise{
			Promise:         instrumented,
			uuid:            instrumented.uuid,
			instrumentation: i,
		}
	}

	// Wrap it and assign a new UUID.
	return &instrumentedPromise{
		Promise:         delegate,
		uuid:            newUUID(),
		instrumentation: i,
	}
}

// New creates a new promise using the default instrumentation.
func New(fn ResolutionFunc) Promise {
	return defaultInstrumentation.New(fn)
}

// NewGenerator creates a new promise with access to the driving protocol
// using the default instrumentation.
func NewGenerator(fn GeneratorFunc) Promise {
	return defaultInstrumentation.NewGenerator(fn)
}

// Resolve returns a new promise that is resolved with given value using the
// default instrumentation.
func Resolve(val Value) Promise {
	return defaultInstrumentation.Resolve(val)
}

// Reject returns a new promise that is rejected with given reason using the
// default instrumentation.
func Reject(reason Value) Promise {
	return defaultInstrumentation.Reject(reason)
}

// Wrap instruments an existing promise using the default instrumentation.
func Wrap(p Promise) Promise {
	return defaultInstrumentation.Wrap(p)
}

// AddInstrumentationHandlers adds handlers to the default instrumentation.
func AddInstrumentationHandlers(handlers ...InstrumentationHandlerFunc) {
	defaultInstrumentation.AddHandlers(handlers...)
}

// RemoveInstrumentationHandlers removes all handlers from the default
// instrumentation. After calling this function, all promises newly created by
// this package will not be instrumented.
func RemoveInstrumentationHandlers() {
	defaultInstrumentation.RemoveHandlers()
}
