package gate

import (
	"context"
	"sync"
)

// Promise is a one-shot completion that the output gate tracks for
// unconfirmed writes.
type Promise struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewPromise returns an unresolved promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolved returns a promise already settled with err (nil for success).
func Resolved(err error) *Promise {
	p := NewPromise()
	p.Settle(err)
	return p
}

// Go runs fn on its own goroutine and returns a promise settling with fn's
// result.
func Go(fn func() error) *Promise {
	p := NewPromise()
	go func() {
		p.Settle(fn())
	}()
	return p
}

// Settle resolves the promise with err (nil for success). Later calls are
// no-ops.
func (p *Promise) Settle(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Wait blocks until the promise settles or ctx is cancelled, returning the
// settled error.
func (p *Promise) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports whether the promise has settled.
func (p *Promise) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
