// Package syncutil provides the async mutex used by callers that need serial
// access to a shared resource on top of the cooperative task model.
package syncutil

import (
	"context"
	"sync"
)

// Mutex is a single-holder lock with strict FIFO waiters.
//
// Unlike sync.Mutex, acquisition is cancellable through a context and hand-off
// order is guaranteed: waiters acquire the lock in the order they asked for
// it. The lock is not reentrant.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []*waiter
}

type waiter struct {
	ready chan struct{}
}

// RunWith acquires the lock, runs fn, and releases the lock when fn returns,
// whether it succeeds, fails, or panics. It returns fn's error, or the
// context error if cancelled while waiting.
func (m *Mutex) RunWith(ctx context.Context, fn func() error) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	return fn()
}

// HasWaiting reports whether any task is queued behind the current holder.
func (m *Mutex) HasWaiting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters) > 0
}

func (m *Mutex) lock(ctx context.Context) error {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	select {
	case <-w.ready:
		// The lock was handed to us directly by the previous holder.
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, q := range m.waiters {
			if q == w {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		m.mu.Unlock()
		// Already handed the lock in a race with cancellation; give it up.
		<-w.ready
		m.unlock()
		return ctx.Err()
	}
}

func (m *Mutex) unlock() {
	m.mu.Lock()
	if len(m.waiters) > 0 {
		// Direct hand-off: the lock stays held, ownership moves to the
		// first waiter.
		w := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.mu.Unlock()
		close(w.ready)
		return
	}
	m.locked = false
	m.mu.Unlock()
}
