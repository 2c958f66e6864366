// Package gate implements the per-actor input and output gates that encode
// the platform's I/O atomicity rules.
//
// The input gate serializes observation of I/O completions on one actor:
// while any task holds it closed, no other task on the actor may see an I/O
// result. The output gate collects in-flight write promises so a request does
// not complete before its unconfirmed writes have landed.
//
// Gates travel in the context. Storage engines call the package-level helpers
// (WaitForInputOpen, WaitUntilOnOutputGate, RunWithInputGateClosed) and get
// no-op behavior when no actor is bound, so non-actor callers pay nothing.
package gate

import (
	"context"
	"runtime"
	"sync"

	"github.com/marmos91/edgesim/pkg/syncutil"
)

// InputGate is a nested lock whose closed state blocks every task waiting to
// observe an I/O completion on the actor.
//
// RunWithClosed sections run in a child gate context: code inside the section
// sees an open (child) gate and never deadlocks against its own closure,
// while outside tasks block on the parent until the section finishes.
type InputGate struct {
	parent *InputGate

	// closers serializes RunWithClosed critical sections in FIFO order.
	closers syncutil.Mutex

	mu        sync.Mutex
	lockCount int
	blocked   chan struct{} // non-nil while lockCount > 0; closed on open
}

// NewInputGate returns an open gate.
func NewInputGate() *InputGate {
	return &InputGate{}
}

// Locked reports whether the gate is currently closed.
func (g *InputGate) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockCount > 0
}

// lock closes this gate and every ancestor.
func (g *InputGate) lock() {
	for cur := g; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		cur.lockCount++
		if cur.lockCount == 1 {
			cur.blocked = make(chan struct{})
		}
		cur.mu.Unlock()
	}
}

// unlock reopens this gate and every ancestor, releasing waiters.
func (g *InputGate) unlock() {
	for cur := g; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		cur.lockCount--
		if cur.lockCount == 0 && cur.blocked != nil {
			close(cur.blocked)
			cur.blocked = nil
		}
		cur.mu.Unlock()
	}
}

// WaitForOpen yields one turn and then, if the gate is closed, suspends
// until it opens. Called just before returning the result of an async I/O
// operation on the actor.
func (g *InputGate) WaitForOpen(ctx context.Context) error {
	runtime.Gosched()
	for {
		g.mu.Lock()
		ch := g.blocked
		g.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
			// A released waiter may close the gate again before we get
			// scheduled; loop and recheck.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunWith waits for the gate to open, then runs fn with this gate bound to
// the context.
func (g *InputGate) RunWith(ctx context.Context, fn func(ctx context.Context) error) error {
	cctx := WithInputGate(ctx, g)
	if err := g.WaitForOpen(cctx); err != nil {
		return err
	}
	return fn(cctx)
}

// RunWithClosed runs fn with the gate closed. Concurrent closed sections on
// the same gate execute strictly one after another, in request order. fn
// runs in a child gate context, so waiting for open inside the section does
// not self-deadlock. The gate reopens when fn returns, fails, or panics.
func (g *InputGate) RunWithClosed(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.closers.RunWith(ctx, func() error {
		g.lock()
		defer g.unlock()
		child := &InputGate{parent: g}
		return fn(WithInputGate(ctx, child))
	})
}
