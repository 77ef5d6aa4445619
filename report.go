package eventual

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// DefaultAdoptionLimit bounds resolution chains on registries that do not
// configure their own limit.
const DefaultAdoptionLimit = 256

// ReporterFunc receives unhandled rejections.
type ReporterFunc func(rejection *UnhandledRejection)

// UnhandledRejection describes a rejected promise whose rejection no reaction
// handled and no caller observed before the promise was closed.
type UnhandledRejection struct {
	// ID uniquely identifies the report.
	ID string

	// Promise is the rejected promise.
	Promise Promise

	// Reason is the raw rejection reason.
	Reason Value

	// Err is the rejection reason in its error form.
	Err error
}

// RegistryConfig configures the behaviour of a Registry.
type RegistryConfig struct {
	// Reporter receives unhandled rejections. Defaults to StderrReporter.
	Reporter ReporterFunc

	// AdoptionLimit bounds the depth of promise resolution chains. Promises
	// that would extend a chain beyond the limit are rejected with
	// ErrRecursionLimit. Defaults to DefaultAdoptionLimit.
	AdoptionLimit int
}

// Registry creates promises and receives their unhandled rejections. A
// registry is configured once at construction time and safe for concurrent
// use. Most callers use the package level constructors, which delegate to
// DefaultRegistry, and only create their own registry to install a custom
// reporter or adoption limit.
type Registry struct {
	reporter ReporterFunc
	limit    int
}

// NewRegistry creates a new Registry. Pass a RegistryConfig to override the
// defaults.
func NewRegistry(config ...*RegistryConfig) *Registry {
	r := &Registry{
		reporter: StderrReporter,
		limit:    DefaultAdoptionLimit,
	}

	if len(config) > 0 && config[0] != nil {
		if config[0].Reporter != nil {
			r.reporter = config[0].Reporter
		}

		if config[0].AdoptionLimit > 0 {
			r.limit = config[0].AdoptionLimit
		}
	}

	return r
}

// DefaultRegistry is the registry backing the package level constructors.
var DefaultRegistry = NewRegistry()

// New creates a new promise which is settled by fn. It panics with
// ErrHandlerNotCallable if fn is nil.
func (r *Registry) New(fn ResolutionFunc) Promise {
	return newResolutionPromise(r, fn)
}

// NewGenerator creates a new promise whose producer may suspend itself
// through the driving protocol. It panics with ErrHandlerNotCallable if fn
// is nil.
func (r *Registry) NewGenerator(fn GeneratorFunc) Promise {
	return newGeneratorPromise(r, fn)
}

// Resolve creates a new promise which resolves to val. If val is already a
// promise it is returned unchanged, if it is a thenable the new promise
// adopts its outcome.
func (r *Registry) Resolve(val Value) Promise {
	switch v := val.(type) {
	case Promise:
		return v
	case Thenable:
		return newAdoptionPromise(r, v)
	default:
		return newFulfilled(r, val)
	}
}

// Reject creates a new promise which is rejected with reason.
func (r *Registry) Reject(reason Value) Promise {
	return newRejected(r, reason)
}

func (r *Registry) newPromise() *promise {
	return &promise{registry: r}
}

func (r *Registry) adoptionLimit() int {
	return r.limit
}

func (r *Registry) report(p *promise, reason Value) {
	r.reporter(&UnhandledRejection{
		ID:      uuid.New().String(),
		Promise: p,
		Reason:  reason,
		Err:     asError(reason),
	})
}

// StderrReporter writes unhandled rejections to stderr, including the stack
// trace of reasons that carry one.
func StderrReporter(rejection *UnhandledRejection) {
	fmt.Fprintf(os.Stderr, "unhandled promise rejection %s: %v\n", rejection.ID, rejection.Reason)

	type stackTracer interface {
		StackTrace() pkgerrors.StackTrace
	}

	if st, ok := rejection.Err.(stackTracer); ok {
		fmt.Fprintf(os.Stderr, "%+v\n", st.StackTrace())
	}
}

// DiscardReporter drops unhandled rejections.
func DiscardReporter(*UnhandledRejection) {}
