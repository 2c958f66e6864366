// Package memory implements the in-RAM storage backend.
//
// Entries live in a plain map guarded by an RWMutex. Expired entries are
// deleted in place by whichever read encounters them first.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/storage"
)

type entry struct {
	value      []byte
	expiration int64
	metadata   json.RawMessage
}

func (e entry) expired(nowMillis int64) bool {
	return e.expiration != 0 && nowMillis >= e.expiration*1000
}

func (e entry) clone() entry {
	out := entry{expiration: e.expiration}
	if e.value != nil {
		out.value = append([]byte(nil), e.value...)
	}
	if e.metadata != nil {
		out.metadata = append(json.RawMessage(nil), e.metadata...)
	}
	return out
}

// Storage is the in-memory storage backend.
type Storage struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries map[string]entry
}

var _ storage.Storage = (*Storage)(nil)

// New creates an empty in-memory backend. A nil clk falls back to the system
// clock.
func New(clk clock.Clock) *Storage {
	if clk == nil {
		clk = clock.System
	}
	return &Storage{
		clock:   clk,
		entries: make(map[string]entry),
	}
}

// lookup returns the live entry for key, deleting it if expired. Callers must
// hold the write lock.
func (s *Storage) lookup(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.clock()) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

// Has reports whether key exists and has not expired.
func (s *Storage) Has(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	return ok, nil
}

// Head returns the key record without its value.
func (s *Storage) Head(ctx context.Context, key string) (*storage.KeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	info := &storage.KeyInfo{Name: key, Expiration: e.expiration}
	if e.metadata != nil {
		info.Metadata = append(json.RawMessage(nil), e.metadata...)
	}
	return info, nil
}

// Get returns a copy of the stored value, or nil if absent.
func (s *Storage) Get(ctx context.Context, key string, skipMetadata bool) (*storage.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	c := e.clone()
	v := &storage.Value{Value: c.value, Expiration: c.expiration}
	if !skipMetadata {
		v.Metadata = c.metadata
	}
	return v, nil
}

// GetRange returns the requested byte range of the stored value.
func (s *Storage) GetRange(ctx context.Context, key string, rng storage.Range, skipMetadata bool) (*storage.RangedValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	offset, length, err := rng.Resolve(int64(len(e.value)))
	if err != nil {
		return nil, err
	}
	out := &storage.RangedValue{
		Value: storage.Value{
			Value:      append([]byte(nil), e.value[offset:offset+length]...),
			Expiration: e.expiration,
		},
		Offset: offset,
		Length: length,
	}
	if !skipMetadata && e.metadata != nil {
		out.Metadata = append(json.RawMessage(nil), e.metadata...)
	}
	return out, nil
}

// Put stores a copy of value under key.
func (s *Storage) Put(ctx context.Context, key string, value storage.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{
		value:      append([]byte(nil), value.Value...),
		expiration: value.Expiration,
	}
	if value.Metadata != nil {
		e.metadata = append(json.RawMessage(nil), value.Metadata...)
	}
	s.entries[key] = e
	return nil
}

// Delete removes key, reporting whether a live entry was present.
func (s *Storage) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	delete(s.entries, key)
	return ok, nil
}

// List returns matching key records in collation order.
func (s *Storage) List(ctx context.Context, opts storage.ListOptions, skipMetadata bool) (*storage.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	keys := make([]storage.KeyInfo, 0, len(s.entries))
	for name, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, name)
			continue
		}
		info := storage.KeyInfo{Name: name, Expiration: e.expiration}
		if !skipMetadata && e.metadata != nil {
			info.Metadata = append(json.RawMessage(nil), e.metadata...)
		}
		keys = append(keys, info)
	}
	return storage.ApplyListOptions(keys, opts)
}

// snapshot support for the stacked overlay

// Snapshot is an opaque copy of the backend's entry map.
type Snapshot struct {
	entries map[string]entry
}

// Snapshot copies the current state.
func (s *Storage) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make(map[string]entry, len(s.entries))
	for k, e := range s.entries {
		copied[k] = e.clone()
	}
	return &Snapshot{entries: copied}
}

// Restore replaces the current state with a snapshot. A nil snapshot clears
// the backend.
func (s *Storage) Restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap == nil {
		s.entries = make(map[string]entry)
		return
	}
	s.entries = make(map[string]entry, len(snap.entries))
	for k, e := range snap.entries {
		s.entries[k] = e.clone()
	}
}
