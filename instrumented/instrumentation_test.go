package instrumented

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/martinohmann/eventual"
)

func noopHandler(_ *Invocation) {}

func TestInstrumentation_Wrap_noHandlers(t *testing.T) {
	p := eventual.Resolve(nil)
	wrapped := Wrap(p)
	if wrapped != p {
		t.Fatal("expected Wrap to return original promise if there are no handlers defined")
	}
}

func TestInstrumentation_Wrap(t *testing.T) {
	instrumentation := NewInstrumentation(noopHandler)

	p := eventual.Resolve(nil)
	wrapped := instrumentation.Wrap(p)
	if wrapped == p {
		t.Fatal("expected Wrap to return new instrumented promise")
	}

	if _, ok := wrapped.(*instrumentedPromise); !ok {
		t.Fatalf("expected Wrap to return %T, got %T", &instrumentedPromise{}, wrapped)
	}
}

func TestInstrumentation_Wrap_doNotDoubleWrapIfInstrumentationIsTheSame(t *testing.T) {
	instrumentation := NewInstrumentation(noopHandler)

	p1 := instrumentation.Resolve(nil)
	p2 := instrumentation.Wrap(p1)

	if p1 != p2 {
		t.Fatalf("expected promises to be the same")
	}
}

func TestInstrumentation_Wrap_adoptUUIDIfInstrumentationDiffers(t *testing.T) {
	instrumentation1 := NewInstrumentation(noopHandler)
	instrumentation2 := NewInstrumentation(noopHandler)

	p1 := instrumentation1.Resolve(nil)
	p2 := instrumentation2.Wrap(p1)

	if p1 == p2 {
		t.Fatalf("expected promises to be different")
	}

	if p1.(*instrumentedPromise).uuid != p2.(*instrumentedPromise).uuid {
		t.Fatalf(
			"expected wrapped promise to have uuid %q, got %q",
			p1.(*instrumentedPromise).uuid,
			p2.(*instrumentedPromise).uuid,
		)
	}
}

type testHandler struct {
	sync.Mutex
	subjects []string
	uuidMap  map[string]bool
}

func newTestHandler() *testHandler {
	return &testHandler{
		subjects: make([]string, 0),
		uuidMap:  make(map[string]bool),
	}
}

func (h *testHandler) Log(invocation *Invocation) {
	h.Lock()
	defer h.Unlock()

	h.uuidMap[invocation.UUID] = true
	h.subjects = append(h.subjects, invocation.SubjectInfo.Subject)
}

func TestInstrumentation(t *testing.T) {
	handler := newTestHandler()
	AddInstrumentationHandlers(handler.Log)
	defer RemoveInstrumentationHandlers()

	p := New(func(resolve ResolveFunc, _ RejectFunc) {
		resolve(42)
	}).Then(func(val Value) Value {
		return val.(int) + 1
	}).Then(func(val Value) Value {
		if val.(int) != 42 {
			return errors.New("not 42")
		}

		return val
	}).Catch(func(err error) Value {
		return 43
	}).Finally(func() {
		// noop
	})

	val, err := Settle(p).Value()
	if err != nil {
		t.Fatalf("expected no error but got %#v", err)
	}

	expected := 43
	if !reflect.DeepEqual(expected, val) {
		t.Fatalf("expected value %v, got %v", expected, val)
	}

	// A single Next drives the whole chain to completion, the handlers run
	// while it is in flight and are recorded before it returns.
	expectedSubjects := []string{"onFulfilled", "onFulfilled", "onRejected", "onFinally", "Next"}
	if !reflect.DeepEqual(expectedSubjects, handler.subjects) {
		t.Fatalf("expected handled subjects %v, got %v", expectedSubjects, handler.subjects)
	}

	// Successors inherit the UUID of the promise they derive from.
	if len(handler.uuidMap) != 1 {
		t.Fatalf("expected 1 handled UUID, got %d", len(handler.uuidMap))
	}
}

func TestInstrumentation_DrivingProtocol(t *testing.T) {
	handler := newTestHandler()

	instrumentation := NewInstrumentation(handler.Log)

	p := instrumentation.NewGenerator(func(yield YieldFunc, resolve ResolveFunc, _ RejectFunc) error {
		val, err := yield("marker")
		if err != nil {
			return err
		}

		resolve(val)

		return nil
	})

	item, ok := p.Next()
	if !ok || item != "marker" {
		t.Fatalf("expected (marker, true), got (%v, %v)", item, ok)
	}

	if _, ok := p.Send(7); ok {
		t.Fatal("expected producer to terminate after send")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	val, err := p.Value()
	if err != nil {
		t.Fatalf("expected no error but got %#v", err)
	}

	if val != 7 {
		t.Fatalf("expected value 7, got %v", val)
	}

	expectedSubjects := []string{"Next", "Send", "Close"}
	if !reflect.DeepEqual(expectedSubjects, handler.subjects) {
		t.Fatalf("expected handled subjects %v, got %v", expectedSubjects, handler.subjects)
	}
}

func TestInstrumentation_Throw(t *testing.T) {
	handler := newTestHandler()

	instrumentation := NewInstrumentation(handler.Log)

	p := instrumentation.NewGenerator(func(yield YieldFunc, _ ResolveFunc, _ RejectFunc) error {
		_, err := yield(nil)
		return err
	})

	if _, ok := p.Next(); !ok {
		t.Fatal("expected producer to suspend")
	}

	boom := errors.New("boom")

	if _, ok := p.Throw(boom); ok {
		t.Fatal("expected producer to terminate")
	}

	if !p.IsRejectedDueTo(boom) {
		t.Fatalf("expected promise to be rejected due to: %v", boom)
	}

	expectedSubjects := []string{"Next", "Throw"}
	if !reflect.DeepEqual(expectedSubjects, handler.subjects) {
		t.Fatalf("expected handled subjects %v, got %v", expectedSubjects, handler.subjects)
	}
}

func TestInstrumentedPromise_WrapDelegate(t *testing.T) {
	p := eventual.Resolve(42)

	instrumented := &instrumentedPromise{
		Promise:         p,
		instrumentation: defaultInstrumentation,
	}

	if instrumented.wrap(p) != instrumented {
		t.Fatalf("expected promises to be the same")
	}
}

func TestInstrumentedPromise_WrapOther(t *testing.T) {
	p := eventual.Resolve(42)
	q := eventual.Resolve(23)

	instrumented := &instrumentedPromise{
		Promise:         p,
		instrumentation: defaultInstrumentation,
	}

	if instrumented.wrap(q) == instrumented {
		t.Fatalf("expected promises to be different")
	}
}
