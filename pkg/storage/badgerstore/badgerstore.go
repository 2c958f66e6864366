// Package badgerstore implements a BadgerDB-backed storage backend.
//
// It trades the file backend's one-file-per-key layout for an embedded LSM
// store, which keeps namespaces with very large key counts workable. Records
// are stored as JSON-encoded envelopes under the raw key name, so listings
// recover names without sidecars.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/storage"
)

// envelope is the on-disk record format.
type envelope struct {
	Value      []byte          `json:"value"`
	Expiration int64           `json:"expiration,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

func (e *envelope) expired(nowMillis int64) bool {
	return e.Expiration != 0 && nowMillis >= e.Expiration*1000
}

// Config holds configuration for the badger backend.
type Config struct {
	// Dir is the database directory.
	Dir string

	// InMemory runs badger without touching disk; Dir is ignored.
	InMemory bool

	// Clock is the time source for expiration checks. Nil falls back to the
	// system clock.
	Clock clock.Clock
}

// Storage is the BadgerDB storage backend.
type Storage struct {
	mu     sync.Mutex
	db     *badger.DB
	clock  clock.Clock
	closed bool
}

var _ storage.Storage = (*Storage)(nil)

// New opens (or creates) the database described by cfg.
func New(cfg Config) (*Storage, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Storage{db: db, clock: cfg.Clock}, nil
}

// Close releases the underlying database.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// load reads and decodes the envelope for key inside txn. Expired entries
// are deleted in place, which requires an update transaction.
func (s *Storage) load(txn *badger.Txn, key string) (*envelope, error) {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &env)
	}); err != nil {
		return nil, err
	}
	if env.expired(s.clock()) {
		if err := txn.Delete([]byte(key)); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &env, nil
}

func (s *Storage) view(fn func(txn *badger.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	// Reads go through Update so expired entries can be deleted on
	// encounter.
	return s.db.Update(fn)
}

// Has reports whether key exists and has not expired.
func (s *Storage) Has(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.view(func(txn *badger.Txn) error {
		env, err := s.load(txn, key)
		ok = env != nil
		return err
	})
	return ok, err
}

// Head returns the key record without its value.
func (s *Storage) Head(ctx context.Context, key string) (*storage.KeyInfo, error) {
	var info *storage.KeyInfo
	err := s.view(func(txn *badger.Txn) error {
		env, err := s.load(txn, key)
		if err != nil || env == nil {
			return err
		}
		info = &storage.KeyInfo{Name: key, Expiration: env.Expiration, Metadata: env.Metadata}
		return nil
	})
	return info, err
}

// Get returns the stored value, or nil if absent.
func (s *Storage) Get(ctx context.Context, key string, skipMetadata bool) (*storage.Value, error) {
	var value *storage.Value
	err := s.view(func(txn *badger.Txn) error {
		env, err := s.load(txn, key)
		if err != nil || env == nil {
			return err
		}
		value = &storage.Value{Value: env.Value, Expiration: env.Expiration}
		if !skipMetadata {
			value.Metadata = env.Metadata
		}
		return nil
	})
	return value, err
}

// GetRange returns the requested byte range of the stored value.
func (s *Storage) GetRange(ctx context.Context, key string, rng storage.Range, skipMetadata bool) (*storage.RangedValue, error) {
	var out *storage.RangedValue
	err := s.view(func(txn *badger.Txn) error {
		env, err := s.load(txn, key)
		if err != nil || env == nil {
			return err
		}
		offset, length, err := rng.Resolve(int64(len(env.Value)))
		if err != nil {
			return err
		}
		out = &storage.RangedValue{
			Value:  storage.Value{Value: env.Value[offset : offset+length], Expiration: env.Expiration},
			Offset: offset,
			Length: length,
		}
		if !skipMetadata {
			out.Metadata = env.Metadata
		}
		return nil
	})
	return out, err
}

// Put stores value under key.
func (s *Storage) Put(ctx context.Context, key string, value storage.Value) error {
	data, err := json.Marshal(envelope{
		Value:      value.Value,
		Expiration: value.Expiration,
		Metadata:   value.Metadata,
	})
	if err != nil {
		return err
	}
	return s.view(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Delete removes key, reporting whether a live entry was present.
func (s *Storage) Delete(ctx context.Context, key string) (bool, error) {
	var existed bool
	err := s.view(func(txn *badger.Txn) error {
		env, err := s.load(txn, key)
		if err != nil {
			return err
		}
		existed = env != nil
		if existed {
			return txn.Delete([]byte(key))
		}
		return nil
	})
	return existed, err
}

// List iterates all records, filters expired ones, then runs the shared
// listing pipeline.
func (s *Storage) List(ctx context.Context, opts storage.ListOptions, skipMetadata bool) (*storage.ListResult, error) {
	var keys []storage.KeyInfo
	err := s.view(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(opts.Prefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		now := s.clock()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var env envelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				return err
			}
			name := string(item.KeyCopy(nil))
			if env.expired(now) {
				if err := txn.Delete([]byte(name)); err != nil {
					return err
				}
				continue
			}
			info := storage.KeyInfo{Name: name, Expiration: env.Expiration}
			if !skipMetadata {
				info.Metadata = env.Metadata
			}
			keys = append(keys, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return storage.ApplyListOptions(keys, opts)
}
