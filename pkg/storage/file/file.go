// Package file implements the filesystem-backed storage backend.
//
// Each key maps to one file holding the raw bytes, with an optional sidecar
// "<name>.meta.json" recording the original key name, expiration, and
// metadata whenever any of them is non-default. A value file without a
// sidecar is a live entry with default metadata, so interrupted writes
// degrade gracefully.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/storage"
)

const metaSuffix = ".meta.json"

// metaFile is the sidecar format. Key holds the original, unsanitized name.
type metaFile struct {
	Key        string          `json:"key"`
	Expiration int64           `json:"expiration,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Config holds configuration for the filesystem backend.
type Config struct {
	// Root is the directory holding this namespace's files.
	Root string

	// Sanitize controls key-name sanitization. Disable it only for trusted
	// read-only mounts where paths are known-safe (e.g. served asset
	// bundles).
	Sanitize bool

	// Clock is the time source for expiration checks. Nil falls back to the
	// system clock.
	Clock clock.Clock
}

// DefaultConfig returns the default configuration for a root directory.
func DefaultConfig(root string) Config {
	return Config{Root: root, Sanitize: true}
}

// Storage is the filesystem storage backend.
type Storage struct {
	mu       sync.Mutex
	root     string
	sanitize bool
	clock    clock.Clock
}

var _ storage.Storage = (*Storage)(nil)

// New creates a filesystem backend rooted at cfg.Root, creating the
// directory if needed.
func New(cfg Config) (*Storage, error) {
	if cfg.Root == "" {
		return nil, errors.New("root directory is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, err
	}
	return &Storage{
		root:     cfg.Root,
		sanitize: cfg.Sanitize,
		clock:    cfg.Clock,
	}, nil
}

// NewWithPath creates a filesystem backend with the default configuration.
func NewWithPath(root string) (*Storage, error) {
	return New(DefaultConfig(root))
}

func (s *Storage) fileName(key string) string {
	if !s.sanitize {
		return key
	}
	return sanitizeFileName(key)
}

func (s *Storage) paths(key string) (valuePath, metaPath string, changed bool) {
	name := s.fileName(key)
	return filepath.Join(s.root, name), filepath.Join(s.root, name+metaSuffix), name != key
}

// readMeta loads the sidecar for a value file; a missing sidecar yields the
// defaults.
func readMeta(metaPath string) (metaFile, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return metaFile{}, nil
		}
		return metaFile{}, err
	}
	var meta metaFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return metaFile{}, err
	}
	return meta, nil
}

// load stats the value file and reads the sidecar, deleting both when the
// entry has expired. Callers must hold the lock.
func (s *Storage) load(key string) (valuePath string, meta metaFile, ok bool, err error) {
	valuePath, metaPath, _ := s.paths(key)
	if _, err := os.Stat(valuePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", metaFile{}, false, nil
		}
		return "", metaFile{}, false, err
	}
	meta, err = readMeta(metaPath)
	if err != nil {
		return "", metaFile{}, false, err
	}
	if meta.Expiration != 0 && s.clock() >= meta.Expiration*1000 {
		os.Remove(valuePath)
		os.Remove(metaPath)
		return "", metaFile{}, false, nil
	}
	return valuePath, meta, true, nil
}

// Has reports whether key exists and has not expired.
func (s *Storage) Has(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, ok, err := s.load(key)
	return ok, err
}

// Head returns the key record without reading the value file.
func (s *Storage) Head(ctx context.Context, key string) (*storage.KeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, meta, ok, err := s.load(key)
	if err != nil || !ok {
		return nil, err
	}
	return &storage.KeyInfo{Name: key, Expiration: meta.Expiration, Metadata: meta.Metadata}, nil
}

// Get returns the stored value, or nil if absent.
func (s *Storage) Get(ctx context.Context, key string, skipMetadata bool) (*storage.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	valuePath, meta, ok, err := s.load(key)
	if err != nil || !ok {
		return nil, err
	}
	data, err := os.ReadFile(valuePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	v := &storage.Value{Value: data, Expiration: meta.Expiration}
	if !skipMetadata {
		v.Metadata = meta.Metadata
	}
	return v, nil
}

// GetRange returns the requested byte range of the stored value.
func (s *Storage) GetRange(ctx context.Context, key string, rng storage.Range, skipMetadata bool) (*storage.RangedValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	valuePath, meta, ok, err := s.load(key)
	if err != nil || !ok {
		return nil, err
	}
	data, err := os.ReadFile(valuePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	offset, length, err := rng.Resolve(int64(len(data)))
	if err != nil {
		return nil, err
	}
	out := &storage.RangedValue{
		Value:  storage.Value{Value: data[offset : offset+length], Expiration: meta.Expiration},
		Offset: offset,
		Length: length,
	}
	if !skipMetadata {
		out.Metadata = meta.Metadata
	}
	return out, nil
}

// Put stores the value file first, then the sidecar, so a reader never sees
// metadata for a value that is not there yet.
func (s *Storage) Put(ctx context.Context, key string, value storage.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	valuePath, metaPath, changed := s.paths(key)
	if err := os.MkdirAll(filepath.Dir(valuePath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(valuePath, value.Value, 0o644); err != nil {
		return err
	}
	if value.Expiration == 0 && value.Metadata == nil && !changed {
		// Nothing non-default to record; drop any stale sidecar.
		if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	meta := metaFile{Key: key, Expiration: value.Expiration, Metadata: value.Metadata}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, data, 0o644)
}

// Delete removes the value file and its sidecar.
func (s *Storage) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	valuePath, metaPath, _ := s.paths(key)
	meta, err := readMeta(metaPath)
	if err != nil {
		return false, err
	}
	err = os.Remove(valuePath)
	if errors.Is(err, fs.ErrNotExist) {
		os.Remove(metaPath)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	os.Remove(metaPath)
	// A file that was already expired does not count as a live deletion.
	if meta.Expiration != 0 && s.clock() >= meta.Expiration*1000 {
		return false, nil
	}
	return true, nil
}

// List walks the tree, recovers original key names from sidecars, filters
// expired entries, then runs the shared listing pipeline.
func (s *Storage) List(ctx context.Context, opts storage.ListOptions, skipMetadata bool) (*storage.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	var keys []storage.KeyInfo
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		meta, err := readMeta(path + metaSuffix)
		if err != nil {
			return err
		}
		if meta.Key != "" {
			name = meta.Key
		}
		if meta.Expiration != 0 && now >= meta.Expiration*1000 {
			os.Remove(path)
			os.Remove(path + metaSuffix)
			return nil
		}
		info := storage.KeyInfo{Name: name, Expiration: meta.Expiration}
		if !skipMetadata {
			info.Metadata = meta.Metadata
		}
		keys = append(keys, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return storage.ApplyListOptions(keys, opts)
}
