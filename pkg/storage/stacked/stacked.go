// Package stacked implements a snapshot-stack overlay over the in-memory
// backend, used for per-test isolation: the harness pushes a snapshot when a
// test or suite starts and pops it on exit, restoring whatever state the
// namespace had before.
package stacked

import (
	"sync"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/storage/memory"
)

// Storage is an in-memory backend with a stack of prior snapshots.
type Storage struct {
	*memory.Storage

	mu    sync.Mutex
	stack []*memory.Snapshot
}

// New creates an empty stacked backend.
func New(clk clock.Clock) *Storage {
	return &Storage{Storage: memory.New(clk)}
}

// Push snapshots the current state onto the stack. Mutations made afterwards
// are discarded by the matching Pop.
func (s *Storage) Push() {
	snap := s.Snapshot()
	s.mu.Lock()
	s.stack = append(s.stack, snap)
	s.mu.Unlock()
}

// Pop restores the most recent snapshot, or clears the backend when the
// stack is empty. Unbalanced pops are tolerated so namespaces lazily created
// inside a scope unwind safely.
func (s *Storage) Pop() {
	s.mu.Lock()
	var snap *memory.Snapshot
	if n := len(s.stack); n > 0 {
		snap = s.stack[n-1]
		s.stack = s.stack[:n-1]
	}
	s.mu.Unlock()
	s.Restore(snap)
}

// Depth returns the number of snapshots currently on the stack.
func (s *Storage) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}
