package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/storage"
)

func newStore(t *testing.T, clk clock.Clock) *Storage {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir(), Clock: clk})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, clock.Fixed(0))

	value := storage.Value{Value: []byte("hello"), Metadata: json.RawMessage(`{"x":true}`)}
	if err := s.Put(ctx, "key", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(ctx, "key", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || !bytes.Equal(got.Value, []byte("hello")) {
		t.Fatalf("Get = %v", got)
	}
	if string(got.Metadata) != `{"x":true}` {
		t.Errorf("metadata = %s", got.Metadata)
	}

	deleted, err := s.Delete(ctx, "key")
	if err != nil || !deleted {
		t.Fatalf("Delete = (%v, %v)", deleted, err)
	}
	if ok, _ := s.Has(ctx, "key"); ok {
		t.Error("Has = true after delete")
	}
}

func TestExpiration(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewVirtual(0)
	s := newStore(t, clk.Clock())

	_ = s.Put(ctx, "key", storage.Value{Value: []byte("v"), Expiration: 10})
	if ok, _ := s.Has(ctx, "key"); !ok {
		t.Fatal("key absent before expiration")
	}
	clk.Set(10_000)
	if ok, _ := s.Has(ctx, "key"); ok {
		t.Error("key visible at expiration")
	}
	if deleted, _ := s.Delete(ctx, "key"); deleted {
		t.Error("Delete = true for expired key")
	}
}

func TestGetRange(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, clock.Fixed(0))
	_ = s.Put(ctx, "key", storage.Value{Value: []byte("0123456789")})

	v, err := s.GetRange(ctx, "key", storage.Range{Suffix: storage.Int64(3)}, true)
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if string(v.Value.Value) != "789" || v.Offset != 7 || v.Length != 3 {
		t.Errorf("GetRange = %q {%d %d}", v.Value.Value, v.Offset, v.Length)
	}
}

func TestListOrderAndCursor(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, clock.Fixed(0))
	for _, key := range []string{"file10", "file2", "file1"} {
		_ = s.Put(ctx, key, storage.Value{Value: []byte("v")})
	}
	res, err := s.List(ctx, storage.ListOptions{Prefix: "file", Limit: 2}, true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(res.Keys) != 2 || res.Keys[0].Name != "file1" || res.Keys[1].Name != "file2" {
		t.Fatalf("first page = %v", res.Keys)
	}
	res, err = s.List(ctx, storage.ListOptions{Prefix: "file", Cursor: res.Cursor}, true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(res.Keys) != 1 || res.Keys[0].Name != "file10" {
		t.Errorf("second page = %v", res.Keys)
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.Get(ctx, "key", false); err != storage.ErrStoreClosed {
		t.Errorf("Get on closed store returned %v, want ErrStoreClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}
