package eventual

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// resolvePromise resolves p with val. Plain values fulfill p directly.
// Promises and thenables are adopted instead: p settles with their outcome
// once it is known. Resolving a settled promise is a no-op.
func resolvePromise(fw YieldFunc, p *promise, val Value) {
	if p.State() != Pending {
		return
	}

	switch v := val.(type) {
	case Promise:
		adopt(fw, p, v.impl())
	case Thenable:
		subscribeThenable(fw, p, v)
	default:
		p.fulfill(fw, val)
	}
}

// adopt makes p settle with the outcome of inner. Adoption is rejected up
// front if it would close a resolution cycle or push the resolution chain
// beyond the registry adoption limit.
//
// The subscription to inner is passive: a reaction that mirrors the outcome
// onto p whenever inner settles, no matter who drives it there. On top of
// that, an adoption happening in a driving context delegates to inner right
// away, so the markers of the whole resolution chain surface at the
// outermost driver.
func adopt(fw YieldFunc, p *promise, inner *promise) {
	if inner == p || chainsTo(inner, p) {
		p.rejectWith(fw, ErrCircularResolutionChain)
		return
	}

	p.mu.Lock()
	depth := p.depth + 1
	p.mu.Unlock()

	if depth > p.registry.adoptionLimit() {
		p.rejectWith(fw, ErrRecursionLimit)
		return
	}

	inner.raiseDepth(depth)
	p.setAdoptee(inner)

	inner.attach(&reaction{raw: func(fw YieldFunc, settled *promise) {
		if settled.State() == Fulfilled {
			p.fulfill(fw, settled.value)
		} else {
			p.rejectWith(fw, settled.value)
		}
	}})

	if fw != nil {
		inner.stepInto(fw)
	} else if inner.State() != Pending {
		// No driving context, but inner has already settled: run the
		// subscription now instead of waiting for a driver that may never
		// come.
		inner.drain(nil)
	}
}

// chainsTo reports whether the adoption chain starting at from reaches to.
func chainsTo(from, to *promise) bool {
	for hop := from; hop != nil; hop = hop.adopteeRef() {
		if hop == to {
			return true
		}
	}

	return false
}

func (p *promise) adopteeRef() *promise {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.adoptee
}

func (p *promise) setAdoptee(inner *promise) {
	p.mu.Lock()
	if p.state == Pending {
		p.adoptee = inner
	}
	p.mu.Unlock()
}

func (p *promise) raiseDepth(depth int) {
	p.mu.Lock()
	if depth > p.depth {
		p.depth = depth
	}
	p.mu.Unlock()
}

// subscribeThenable resolves p with the outcome of a foreign thenable. Then
// is called exactly once with a resolve and a reject capture. The first
// capture invocation wins, anything after that is ignored, including a panic
// out of the Then call itself.
func subscribeThenable(fw YieldFunc, p *promise, t Thenable) {
	var (
		mu       sync.Mutex
		captured bool
	)

	// Captures invoked during the synchronous extent of the Then call forward
	// markers through the current driver. Captures invoked later, typically
	// from another goroutine, must not: the driver has moved on.
	syncFw := fw

	win := func() (YieldFunc, bool) {
		mu.Lock()
		defer mu.Unlock()

		if captured {
			return nil, false
		}

		captured = true

		return syncFw, true
	}

	resolve := ResolveFunc(func(val Value) {
		if cfw, ok := win(); ok {
			p.resolveWith(cfw, val)
		}
	})

	reject := RejectFunc(func(reason Value) {
		if cfw, ok := win(); ok {
			p.rejectWith(cfw, reason)
		}
	})

	func() {
		defer func() {
			if v := recover(); v != nil {
				if cfw, ok := win(); ok {
					p.rejectWith(cfw, pkgerrors.Errorf("panic while resolving promise: %v", v))
				}
			}
		}()

		t.Then(resolve, reject)
	}()

	mu.Lock()
	syncFw = nil
	mu.Unlock()
}
