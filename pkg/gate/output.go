package gate

import (
	"context"
	"sync"
)

// OutputGate collects in-flight write promises. A request running under
// RunWith does not complete until every promise registered while it ran has
// settled; the first failure is reported to the caller.
type OutputGate struct {
	mu      sync.Mutex
	pending []*Promise
}

// NewOutputGate returns an empty gate.
func NewOutputGate() *OutputGate {
	return &OutputGate{}
}

// WaitUntil registers a promise with the gate.
func (g *OutputGate) WaitUntil(p *Promise) {
	g.mu.Lock()
	g.pending = append(g.pending, p)
	g.mu.Unlock()
}

// WaitForOpen awaits every registered promise, including promises registered
// while waiting, and returns the first failure.
func (g *OutputGate) WaitForOpen(ctx context.Context) error {
	var firstErr error
	for {
		g.mu.Lock()
		batch := g.pending
		g.pending = nil
		g.mu.Unlock()
		if len(batch) == 0 {
			return firstErr
		}
		for _, p := range batch {
			if err := p.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return err
				}
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
}

// RunWith runs fn with this gate bound to the context, then awaits all
// registered promises even if fn finished first. fn's error wins over a
// registered write failure.
func (g *OutputGate) RunWith(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(WithOutputGate(ctx, g))
	werr := g.WaitForOpen(ctx)
	if err != nil {
		return err
	}
	return werr
}
