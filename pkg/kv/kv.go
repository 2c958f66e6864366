// Package kv implements the expiry-aware key/value namespace engine on top
// of the storage contract: typed reads, TTL puts, and cursor-paginated
// listing with the platform's validation rules.
package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/gate"
	"github.com/marmos91/edgesim/pkg/reqctx"
	"github.com/marmos91/edgesim/pkg/storage"
)

// Platform limits for KV namespaces.
const (
	MaxKeySize       = 512
	MaxValueSize     = 25 * 1024 * 1024
	MaxMetadataSize  = 1024
	MaxListLimit     = 1000
	DefaultListLimit = 1000

	// MinTTL is the smallest accepted expiration TTL, and the minimum
	// distance of an absolute expiration from now.
	MinTTL = 60
)

// GetType selects the typed view of a read.
type GetType string

const (
	GetTypeText        GetType = "text"
	GetTypeJSON        GetType = "json"
	GetTypeArrayBuffer GetType = "arrayBuffer"
	GetTypeStream      GetType = "stream"
)

func (t GetType) valid() bool {
	switch t {
	case GetTypeText, GetTypeJSON, GetTypeArrayBuffer, GetTypeStream:
		return true
	}
	return false
}

// Options configures a Namespace.
type Options struct {
	// Clock is the time source for TTL resolution. Nil falls back to the
	// system clock.
	Clock clock.Clock

	// BlockGlobalAsyncIO requires a bound request context for every
	// operation.
	BlockGlobalAsyncIO bool
}

// Namespace is one KV binding over a storage backend.
type Namespace struct {
	storage            storage.Storage
	clock              clock.Clock
	blockGlobalAsyncIO bool
}

// New creates a namespace engine over a backend.
func New(s storage.Storage, opts Options) *Namespace {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	return &Namespace{
		storage:            s,
		clock:              opts.Clock,
		blockGlobalAsyncIO: opts.BlockGlobalAsyncIO,
	}
}

// enter runs the ambient checks shared by every operation: the
// in-request assertion and the internal subrequest budget.
func (n *Namespace) enter(ctx context.Context) error {
	if n.blockGlobalAsyncIO {
		if err := reqctx.AssertInRequest(ctx); err != nil {
			return err
		}
	}
	if rc := reqctx.From(ctx); rc != nil {
		if err := rc.IncrementInternalSubrequests(1); err != nil {
			return err
		}
	}
	return nil
}

func validateKey(method string, key string) *Error {
	status := func(s int, msg string) *Error {
		return &Error{Method: method, Status: s, Message: msg}
	}
	if key == "" {
		return status(400, "Key names must not be empty")
	}
	if key == "." || key == ".." {
		return status(400, fmt.Sprintf("Illegal key name %q. Please use a different name.", key))
	}
	if len(key) > MaxKeySize {
		return status(414, fmt.Sprintf("UTF-8 encoded length of %d exceeds key length limit of %d.", len(key), MaxKeySize))
	}
	return nil
}

// Entry is a read result: the raw bytes plus the record fields.
type Entry struct {
	Value      []byte
	Expiration int64
	Metadata   json.RawMessage
}

// Text returns the value as a string.
func (e *Entry) Text() string { return string(e.Value) }

// JSON unmarshals the value into v.
func (e *Entry) JSON(v any) error { return json.Unmarshal(e.Value, v) }

// Reader returns a fresh reader over the value, the stream view.
func (e *Entry) Reader() io.Reader { return bytes.NewReader(e.Value) }

// Get returns the typed view of a key, or nil if absent or expired.
func (n *Namespace) Get(ctx context.Context, key string, typ GetType) (*Entry, error) {
	return n.GetWithMetadata(ctx, key, typ)
}

// GetWithMetadata returns the value and its metadata record, or nil if
// absent or expired.
func (n *Namespace) GetWithMetadata(ctx context.Context, key string, typ GetType) (*Entry, error) {
	if err := n.enter(ctx); err != nil {
		return nil, err
	}
	if typ == "" {
		typ = GetTypeText
	}
	if !typ.valid() {
		return nil, errGet(400, "Invalid type of %q. Please use one of text, json, arrayBuffer, stream.", string(typ))
	}
	if err := validateKey("GET", key); err != nil {
		return nil, err
	}
	v, err := n.storage.Get(ctx, key, false)
	if err != nil {
		return nil, err
	}
	if gerr := gate.WaitForInputOpen(ctx); gerr != nil {
		return nil, gerr
	}
	if v == nil {
		return nil, nil
	}
	return &Entry{Value: v.Value, Expiration: v.Expiration, Metadata: v.Metadata}, nil
}

// PutOptions carries the optional put fields. ExpirationTTL takes precedence
// over Expiration.
type PutOptions struct {
	// Expiration is an absolute wall time in seconds since epoch.
	Expiration int64

	// ExpirationTTL is a relative lifetime in seconds.
	ExpirationTTL int64

	Metadata json.RawMessage
}

// Put stores value under key.
func (n *Namespace) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	if err := n.enter(ctx); err != nil {
		return err
	}
	if err := validateKey("PUT", key); err != nil {
		return err
	}
	if len(value) > MaxValueSize {
		return errPut(413, "Value length of %d exceeds limit of %d.", len(value), MaxValueSize)
	}
	if len(opts.Metadata) > MaxMetadataSize {
		return errPut(413, "Metadata length of %d exceeds limit of %d.", len(opts.Metadata), MaxMetadataSize)
	}

	nowSec := n.clock() / 1000
	expiration := opts.Expiration
	if opts.ExpirationTTL != 0 {
		if opts.ExpirationTTL < MinTTL {
			return errPut(400, "Invalid expiration_ttl of %d. Please specify integer greater than or equal to %d.", opts.ExpirationTTL, MinTTL)
		}
		expiration = nowSec + opts.ExpirationTTL
	} else if expiration != 0 && expiration < nowSec+MinTTL {
		return errPut(400, "Invalid expiration of %d. Please specify integer greater than the current number of seconds since the UNIX epoch plus %d.", expiration, MinTTL)
	}

	stored := storage.Value{Value: value, Expiration: expiration, Metadata: opts.Metadata}
	p := gate.Go(func() error {
		return n.storage.Put(ctx, key, stored)
	})
	gate.WaitUntilOnOutputGate(ctx, p, false)
	if err := p.Wait(ctx); err != nil {
		return err
	}
	return gate.WaitForInputOpen(ctx)
}

// PutReader stores a streamed value whose total length must be known up
// front.
func (n *Namespace) PutReader(ctx context.Context, key string, value io.Reader, length int64, opts PutOptions) error {
	if length < 0 {
		return errPut(400, "Provided readable stream must have a known length")
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(value, data); err != nil {
		return fmt.Errorf("failed to read value stream: %w", err)
	}
	return n.Put(ctx, key, data, opts)
}

// Delete removes key.
func (n *Namespace) Delete(ctx context.Context, key string) error {
	if err := n.enter(ctx); err != nil {
		return err
	}
	if err := validateKey("DELETE", key); err != nil {
		return err
	}
	p := gate.Go(func() error {
		_, err := n.storage.Delete(ctx, key)
		return err
	})
	gate.WaitUntilOnOutputGate(ctx, p, false)
	if err := p.Wait(ctx); err != nil {
		return err
	}
	return gate.WaitForInputOpen(ctx)
}

// ListOptions pages a namespace listing.
type ListOptions struct {
	Prefix string
	Limit  int
	Cursor string
}

// Key is one listed key record.
type Key struct {
	Name       string          `json:"name"`
	Expiration int64           `json:"expiration,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ListResult is one page of keys. Cursor is the base64-encoded name of the
// last returned key, empty once the listing is complete.
type ListResult struct {
	Keys         []Key  `json:"keys"`
	ListComplete bool   `json:"list_complete"`
	Cursor       string `json:"cursor,omitempty"`
}

// List returns one page of key records in collation order.
func (n *Namespace) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if err := n.enter(ctx); err != nil {
		return nil, err
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit < 1 {
		return nil, errList(400, "Invalid key_count_limit of %d. Please specify an integer greater than 0.", opts.Limit)
	}
	if opts.Limit > MaxListLimit {
		return nil, errList(400, "Invalid key_count_limit of %d. Please specify an integer less than %d.", opts.Limit, MaxListLimit)
	}
	res, err := n.storage.List(ctx, storage.ListOptions{
		Prefix: opts.Prefix,
		Cursor: opts.Cursor,
		Limit:  opts.Limit,
	}, false)
	if err != nil {
		return nil, err
	}
	if gerr := gate.WaitForInputOpen(ctx); gerr != nil {
		return nil, gerr
	}
	out := &ListResult{
		Keys:         make([]Key, len(res.Keys)),
		ListComplete: res.Cursor == "",
		Cursor:       res.Cursor,
	}
	for i, k := range res.Keys {
		out.Keys[i] = Key{Name: k.Name, Expiration: k.Expiration, Metadata: k.Metadata}
	}
	return out, nil
}
