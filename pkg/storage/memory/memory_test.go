package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/storage"
)

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Fixed(0))

	value := storage.Value{Value: []byte("hello"), Metadata: json.RawMessage(`{"a":1}`)}
	if err := s.Put(ctx, "key", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, "key", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing key")
	}
	if !bytes.Equal(got.Value, []byte("hello")) {
		t.Errorf("Get value = %q, want %q", got.Value, "hello")
	}
	if string(got.Metadata) != `{"a":1}` {
		t.Errorf("Get metadata = %s", got.Metadata)
	}

	ok, err := s.Has(ctx, "key")
	if err != nil || !ok {
		t.Errorf("Has = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestGetAbsent(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Fixed(0))
	got, err := s.Get(ctx, "missing", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("Get returned %v for missing key", got)
	}
}

func TestReturnedBuffersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Fixed(0))

	original := []byte("hello")
	if err := s.Put(ctx, "key", storage.Value{Value: original}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Mutating the buffer we passed in must not affect the store.
	original[0] = 'X'

	got, _ := s.Get(ctx, "key", false)
	if !bytes.Equal(got.Value, []byte("hello")) {
		t.Errorf("stored value changed through caller buffer: %q", got.Value)
	}

	// Mutating a returned buffer must not affect later reads.
	got.Value[0] = 'Y'
	again, _ := s.Get(ctx, "key", false)
	if !bytes.Equal(again.Value, []byte("hello")) {
		t.Errorf("stored value changed through returned buffer: %q", again.Value)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Fixed(0))

	_ = s.Put(ctx, "key", storage.Value{Value: []byte("v")})
	deleted, err := s.Delete(ctx, "key")
	if err != nil || !deleted {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", deleted, err)
	}
	if ok, _ := s.Has(ctx, "key"); ok {
		t.Error("Has = true after delete")
	}
	deleted, _ = s.Delete(ctx, "key")
	if deleted {
		t.Error("second Delete = true, want false")
	}
}

func TestExpiration(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewVirtual(0)
	s := New(clk.Clock())

	// Expires at t = 100s.
	_ = s.Put(ctx, "key", storage.Value{Value: []byte("v"), Expiration: 100})

	if ok, _ := s.Has(ctx, "key"); !ok {
		t.Fatal("key absent before expiration")
	}
	clk.Set(100_000)
	if ok, _ := s.Has(ctx, "key"); ok {
		t.Error("Has = true at expiration")
	}
	if v, _ := s.Get(ctx, "key", false); v != nil {
		t.Error("Get returned value at expiration")
	}
	// Once expired, the entry is gone for good: delete reports absent.
	if deleted, _ := s.Delete(ctx, "key"); deleted {
		t.Error("Delete = true for expired key")
	}
}

func TestPutWithPastExpirationIsInvisible(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Fixed(1_000_000_000))

	_ = s.Put(ctx, "key", storage.Value{Value: []byte("v"), Expiration: 1})
	if ok, _ := s.Has(ctx, "key"); ok {
		t.Error("key with past expiration is visible")
	}
	res, err := s.List(ctx, storage.ListOptions{}, false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(res.Keys) != 0 {
		t.Errorf("List returned %d keys, want 0", len(res.Keys))
	}
}

func TestGetRange(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Fixed(0))
	_ = s.Put(ctx, "key", storage.Value{Value: []byte("0123456789")})

	v, err := s.GetRange(ctx, "key", storage.Range{Offset: storage.Int64(2), Length: storage.Int64(3)}, false)
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if string(v.Value.Value) != "234" {
		t.Errorf("GetRange = %q, want %q", v.Value.Value, "234")
	}
	if v.Offset != 2 || v.Length != 3 {
		t.Errorf("range = {%d %d}, want {2 3}", v.Offset, v.Length)
	}

	v, err = s.GetRange(ctx, "key", storage.Range{Suffix: storage.Int64(4)}, false)
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if string(v.Value.Value) != "6789" {
		t.Errorf("suffix GetRange = %q, want %q", v.Value.Value, "6789")
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Fixed(0))
	for _, key := range []string{"file10", "file2", "other"} {
		_ = s.Put(ctx, key, storage.Value{Value: []byte("v")})
	}
	res, err := s.List(ctx, storage.ListOptions{Prefix: "file"}, false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(res.Keys) != 2 || res.Keys[0].Name != "file2" || res.Keys[1].Name != "file10" {
		t.Errorf("List keys = %v", res.Keys)
	}
}

func TestBatchHelpers(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Fixed(0))

	err := storage.PutMany(ctx, s, []storage.Entry{
		{Key: "a", Value: storage.Value{Value: []byte("1")}},
		{Key: "b", Value: storage.Value{Value: []byte("2")}},
	})
	if err != nil {
		t.Fatalf("PutMany failed: %v", err)
	}
	n, err := storage.HasMany(ctx, s, []string{"a", "b", "c"})
	if err != nil || n != 2 {
		t.Errorf("HasMany = (%d, %v), want (2, nil)", n, err)
	}
	values, err := storage.GetMany(ctx, s, []string{"a", "c"}, false)
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if values[0] == nil || string(values[0].Value) != "1" || values[1] != nil {
		t.Errorf("GetMany = %v", values)
	}
	deleted, err := storage.DeleteMany(ctx, s, []string{"a", "b", "c"})
	if err != nil || deleted != 2 {
		t.Errorf("DeleteMany = (%d, %v), want (2, nil)", deleted, err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Fixed(0))
	_ = s.Put(ctx, "key", storage.Value{Value: []byte("before")})

	snap := s.Snapshot()
	_ = s.Put(ctx, "key", storage.Value{Value: []byte("after")})
	_ = s.Put(ctx, "other", storage.Value{Value: []byte("x")})

	s.Restore(snap)
	v, _ := s.Get(ctx, "key", false)
	if v == nil || string(v.Value) != "before" {
		t.Errorf("restored value = %v", v)
	}
	if ok, _ := s.Has(ctx, "other"); ok {
		t.Error("key created after snapshot survived restore")
	}

	s.Restore(nil)
	if ok, _ := s.Has(ctx, "key"); ok {
		t.Error("Restore(nil) did not clear the store")
	}
}
