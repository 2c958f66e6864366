// Package factory resolves namespaces to storage backends and owns their
// lifecycle.
//
// A namespace without persistence gets a stacked in-memory backend, so the
// test harness can push a snapshot per test and pop it on exit. Persistent
// namespaces map to file or badger backends under a root directory. Identical
// (namespace, persist) pairs always return the same instance.
package factory

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/metrics"
	"github.com/marmos91/edgesim/pkg/storage"
	"github.com/marmos91/edgesim/pkg/storage/badgerstore"
	"github.com/marmos91/edgesim/pkg/storage/file"
	"github.com/marmos91/edgesim/pkg/storage/stacked"
)

// Kind selects a backend family.
type Kind int

const (
	KindMemory Kind = iota
	KindFile
	KindBadger
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindFile:
		return "file"
	case KindBadger:
		return "badger"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Persist describes where a namespace's data lives. The zero value selects
// the non-persistent stacked memory backend.
type Persist struct {
	Kind Kind

	// Root is the directory for file and badger backends. Empty selects the
	// factory's default root.
	Root string
}

// ParsePersist interprets the persistence settings accepted by the bindings:
// "" and "false" disable persistence, "true" selects the default file root,
// "memory://" forces plain memory, "file://<path>" and "badger://<path>"
// select an explicit backend, and a bare path means "file backend there".
func ParsePersist(raw string) (Persist, error) {
	switch raw {
	case "", "false":
		return Persist{Kind: KindMemory}, nil
	case "true":
		return Persist{Kind: KindFile}, nil
	}
	if rest, ok := strings.CutPrefix(raw, "memory://"); ok {
		if rest != "" {
			return Persist{}, fmt.Errorf("memory persistence takes no path: %q", raw)
		}
		return Persist{Kind: KindMemory}, nil
	}
	if rest, ok := strings.CutPrefix(raw, "file://"); ok {
		return Persist{Kind: KindFile, Root: rest}, nil
	}
	if rest, ok := strings.CutPrefix(raw, "badger://"); ok {
		return Persist{Kind: KindBadger, Root: rest}, nil
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		return Persist{}, fmt.Errorf("unsupported persistence scheme %q", raw[:i])
	}
	return Persist{Kind: KindFile, Root: raw}, nil
}

// Options configures a Factory.
type Options struct {
	// DefaultPersistRoot is the directory used for persistent namespaces
	// when the persist setting names no path. Relative paths (here and in
	// persist settings) resolve against RootPath.
	DefaultPersistRoot string

	// RootPath anchors relative persistence roots. Empty means the process
	// working directory.
	RootPath string

	// Clock is passed to every backend. Nil falls back to the system clock.
	Clock clock.Clock

	// Metrics instruments every resolved backend when non-nil.
	Metrics *metrics.StorageCollector
}

// NamespaceInfo describes one resolved backend, for the inspector surface.
type NamespaceInfo struct {
	Namespace string
	Kind      string
	Root      string
}

// Factory caches one backend per (namespace, persist) pair.
type Factory struct {
	opts Options

	mu       sync.Mutex
	backends map[string]storage.Storage
	stacked  []*stacked.Storage
	badgers  []*badgerstore.Storage
	info     map[string]NamespaceInfo
}

// New creates a factory.
func New(opts Options) *Factory {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.DefaultPersistRoot == "" {
		opts.DefaultPersistRoot = ".edgesim"
	}
	return &Factory{
		opts:     opts,
		backends: make(map[string]storage.Storage),
		info:     make(map[string]NamespaceInfo),
	}
}

func (f *Factory) resolveRoot(persist Persist) string {
	root := persist.Root
	if root == "" {
		root = f.opts.DefaultPersistRoot
	}
	if !filepath.IsAbs(root) && f.opts.RootPath != "" {
		root = filepath.Join(f.opts.RootPath, root)
	}
	return root
}

// namespaceDir maps a namespace onto a directory path under root, sanitizing
// each path component the same way keys are sanitized.
func namespaceDir(root, namespace string) string {
	parts := strings.Split(namespace, ":")
	for i, part := range parts {
		parts[i] = file.SanitizeName(part)
	}
	return filepath.Join(append([]string{root}, parts...)...)
}

// Storage resolves (namespace, persist) to a backend, creating and caching
// it on first use.
func (f *Factory) Storage(namespace string, persist Persist) (storage.Storage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	root := ""
	if persist.Kind != KindMemory {
		root = f.resolveRoot(persist)
	}
	cacheKey := fmt.Sprintf("%s|%s|%s", persist.Kind, root, namespace)
	if s, ok := f.backends[cacheKey]; ok {
		return s, nil
	}

	var backend storage.Storage
	switch persist.Kind {
	case KindMemory:
		st := stacked.New(f.opts.Clock)
		f.stacked = append(f.stacked, st)
		backend = st
	case KindFile:
		fs, err := file.New(file.Config{
			Root:     namespaceDir(root, namespace),
			Sanitize: true,
			Clock:    f.opts.Clock,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create file storage for %q: %w", namespace, err)
		}
		backend = fs
	case KindBadger:
		bs, err := badgerstore.New(badgerstore.Config{
			Dir:   namespaceDir(root, namespace),
			Clock: f.opts.Clock,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create badger storage for %q: %w", namespace, err)
		}
		f.badgers = append(f.badgers, bs)
		backend = bs
	default:
		return nil, fmt.Errorf("unknown storage kind %v", persist.Kind)
	}

	f.info[cacheKey] = NamespaceInfo{Namespace: namespace, Kind: persist.Kind.String(), Root: root}
	if f.opts.Metrics != nil {
		backend = f.opts.Metrics.Instrument(backend, namespace)
	}
	f.backends[cacheKey] = backend
	return backend, nil
}

// Push snapshots every stacked backend; used by the harness on test entry.
func (f *Factory) Push() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.stacked {
		st.Push()
	}
}

// Pop restores every stacked backend; used by the harness on test exit.
// Backends created inside the scope unwind to empty.
func (f *Factory) Pop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.stacked {
		st.Pop()
	}
}

// Namespaces returns the resolved backends in namespace order.
func (f *Factory) Namespaces() []NamespaceInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]NamespaceInfo, 0, len(f.info))
	for _, info := range f.info {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out
}

// Dispose releases held resources. The factory must not be used afterwards.
func (f *Factory) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for _, db := range f.badgers {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.backends = make(map[string]storage.Storage)
	f.stacked = nil
	f.badgers = nil
	f.info = make(map[string]NamespaceInfo)
	return firstErr
}
