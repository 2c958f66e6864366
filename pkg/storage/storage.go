// Package storage defines the byte-oriented key/value contract shared by all
// backends, together with the range, listing, collation, and cursor helpers
// that keep their observable behavior identical.
//
// Backends never return expired entries: any read path that encounters an
// entry whose expiration has passed removes it and reports the key absent.
// Every returned buffer is a fresh copy; callers may mutate results freely.
package storage

import (
	"context"
	"errors"
)

// Sentinel errors shared across backends.
var (
	// ErrInvalidRange reports a range that cannot be satisfied against the
	// value it was resolved for.
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidCursor reports a cursor that is not valid base64.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrInvalidLimit reports a negative listing limit.
	ErrInvalidLimit = errors.New("limit must be at least 1")

	// ErrStoreClosed reports an operation on a disposed backend.
	ErrStoreClosed = errors.New("storage is closed")
)

// Storage is the abstract byte-KV contract.
//
// Absent keys are reported with nil results, not errors: Head and Get return
// nil when the key does not exist or has expired.
type Storage interface {
	// Has reports whether key exists and has not expired.
	Has(ctx context.Context, key string) (bool, error)

	// Head returns the key's record without its value, or nil if absent.
	Head(ctx context.Context, key string) (*KeyInfo, error)

	// Get returns the stored value, or nil if absent. With skipMetadata the
	// backend may omit the metadata field.
	Get(ctx context.Context, key string, skipMetadata bool) (*Value, error)

	// GetRange returns the requested byte range of the stored value, or nil
	// if absent. The returned RangedValue records the resolved offset and
	// length.
	GetRange(ctx context.Context, key string, rng Range, skipMetadata bool) (*RangedValue, error)

	// Put stores value under key, overwriting any previous entry.
	Put(ctx context.Context, key string, value Value) error

	// Delete removes key, reporting whether a live entry was present.
	Delete(ctx context.Context, key string) (bool, error)

	// List returns the matching key records in collation order.
	List(ctx context.Context, opts ListOptions, skipMetadata bool) (*ListResult, error)
}

// ManyStorage is implemented by backends with efficient batch operations.
// Callers should go through the package-level batch helpers, which fall back
// to singleton loops for backends that do not implement it.
type ManyStorage interface {
	Storage

	HasMany(ctx context.Context, keys []string) (int, error)
	GetMany(ctx context.Context, keys []string, skipMetadata bool) ([]*Value, error)
	PutMany(ctx context.Context, entries []Entry) error
	DeleteMany(ctx context.Context, keys []string) (int, error)
}

// Entry pairs a key with its value for batch puts.
type Entry struct {
	Key   string
	Value Value
}

// HasMany counts how many of keys are present.
func HasMany(ctx context.Context, s Storage, keys []string) (int, error) {
	if m, ok := s.(ManyStorage); ok {
		return m.HasMany(ctx, keys)
	}
	n := 0
	for _, key := range keys {
		ok, err := s.Has(ctx, key)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// GetMany fetches keys in order; absent keys yield nil slots.
func GetMany(ctx context.Context, s Storage, keys []string, skipMetadata bool) ([]*Value, error) {
	if m, ok := s.(ManyStorage); ok {
		return m.GetMany(ctx, keys, skipMetadata)
	}
	values := make([]*Value, len(keys))
	for i, key := range keys {
		v, err := s.Get(ctx, key, skipMetadata)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// PutMany stores all entries in order.
func PutMany(ctx context.Context, s Storage, entries []Entry) error {
	if m, ok := s.(ManyStorage); ok {
		return m.PutMany(ctx, entries)
	}
	for _, e := range entries {
		if err := s.Put(ctx, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMany removes keys, returning how many live entries were deleted.
func DeleteMany(ctx context.Context, s Storage, keys []string) (int, error) {
	if m, ok := s.(ManyStorage); ok {
		return m.DeleteMany(ctx, keys)
	}
	n := 0
	for _, key := range keys {
		deleted, err := s.Delete(ctx, key)
		if err != nil {
			return n, err
		}
		if deleted {
			n++
		}
	}
	return n, nil
}
