package factory

import (
	"context"
	"testing"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/storage"
)

func TestParsePersist(t *testing.T) {
	tests := []struct {
		in   string
		want Persist
	}{
		{"", Persist{Kind: KindMemory}},
		{"false", Persist{Kind: KindMemory}},
		{"true", Persist{Kind: KindFile}},
		{"memory://", Persist{Kind: KindMemory}},
		{"./data", Persist{Kind: KindFile, Root: "./data"}},
		{"file:///tmp/data", Persist{Kind: KindFile, Root: "/tmp/data"}},
		{"badger://state", Persist{Kind: KindBadger, Root: "state"}},
	}
	for _, tt := range tests {
		got, err := ParsePersist(tt.in)
		if err != nil {
			t.Errorf("ParsePersist(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePersist(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParsePersistRejectsUnknownScheme(t *testing.T) {
	if _, err := ParsePersist("redis://localhost"); err == nil {
		t.Error("ParsePersist accepted an unknown scheme")
	}
}

func TestSameInstancePerNamespace(t *testing.T) {
	f := New(Options{RootPath: t.TempDir(), Clock: clock.Fixed(0)})
	defer f.Dispose()

	a, err := f.Storage("ns", Persist{Kind: KindMemory})
	if err != nil {
		t.Fatalf("Storage failed: %v", err)
	}
	b, err := f.Storage("ns", Persist{Kind: KindMemory})
	if err != nil {
		t.Fatalf("Storage failed: %v", err)
	}
	if a != b {
		t.Error("identical calls returned different instances")
	}
	c, err := f.Storage("other", Persist{Kind: KindMemory})
	if err != nil {
		t.Fatalf("Storage failed: %v", err)
	}
	if a == c {
		t.Error("different namespaces share an instance")
	}
}

func TestFileBackendUnderRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	f := New(Options{RootPath: root, Clock: clock.Fixed(0)})
	defer f.Dispose()

	s, err := f.Storage("kv:TEST", Persist{Kind: KindFile, Root: "data"})
	if err != nil {
		t.Fatalf("Storage failed: %v", err)
	}
	if err := s.Put(ctx, "key", storage.Value{Value: []byte("v")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// The same (namespace, persist) pair resolves to the same data.
	again, err := f.Storage("kv:TEST", Persist{Kind: KindFile, Root: "data"})
	if err != nil {
		t.Fatalf("Storage failed: %v", err)
	}
	if ok, _ := again.Has(ctx, "key"); !ok {
		t.Error("persisted key not visible through second resolution")
	}
}

func TestBadgerBackend(t *testing.T) {
	ctx := context.Background()
	f := New(Options{RootPath: t.TempDir(), Clock: clock.Fixed(0)})
	defer f.Dispose()

	s, err := f.Storage("do:counter", Persist{Kind: KindBadger, Root: "badger"})
	if err != nil {
		t.Fatalf("Storage failed: %v", err)
	}
	if err := s.Put(ctx, "key", storage.Value{Value: []byte("v")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ok, _ := s.Has(ctx, "key"); !ok {
		t.Error("badger-backed namespace lost a key")
	}
}

func TestPushPopBroadcast(t *testing.T) {
	ctx := context.Background()
	f := New(Options{RootPath: t.TempDir(), Clock: clock.Fixed(0)})
	defer f.Dispose()

	a, _ := f.Storage("ns-a", Persist{Kind: KindMemory})
	_ = a.Put(ctx, "key", storage.Value{Value: []byte("outer")})

	f.Push()
	_ = a.Put(ctx, "key", storage.Value{Value: []byte("inner")})

	// Namespaces created inside the scope unwind to empty on pop.
	b, _ := f.Storage("ns-b", Persist{Kind: KindMemory})
	_ = b.Put(ctx, "lazy", storage.Value{Value: []byte("x")})

	f.Pop()
	v, _ := a.Get(ctx, "key", false)
	if v == nil || string(v.Value) != "outer" {
		t.Errorf("ns-a key = %v, want outer", v)
	}
	if ok, _ := b.Has(ctx, "lazy"); ok {
		t.Error("lazily created namespace kept data after pop")
	}
}

func TestNamespaces(t *testing.T) {
	f := New(Options{RootPath: t.TempDir(), Clock: clock.Fixed(0)})
	defer f.Dispose()

	_, _ = f.Storage("kv:A", Persist{Kind: KindMemory})
	_, _ = f.Storage("cache:B", Persist{Kind: KindMemory})
	infos := f.Namespaces()
	if len(infos) != 2 {
		t.Fatalf("Namespaces = %v", infos)
	}
	if infos[0].Namespace != "cache:B" || infos[1].Namespace != "kv:A" {
		t.Errorf("Namespaces order = %v", infos)
	}
}
