// Package objstore implements the R2-style versioned object store engine:
// conditional puts, range reads, cursor listing, and multipart uploads
// assembled from numbered parts.
//
// Objects live in the backing storage under their plain key, with the
// metadata record JSON-encoded alongside the body. In-progress multipart
// state hides under a reserved internal prefix that listings exclude.
package objstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/gate"
	"github.com/marmos91/edgesim/pkg/reqctx"
	"github.com/marmos91/edgesim/pkg/storage"
)

// Platform limits.
const (
	MaxKeySize    = 1024
	MaxListLimit  = 1000
	MinPartNumber = 1
	MaxPartNumber = 10000

	// DefaultMinMultipartUploadSize is the production minimum size of every
	// non-trailing part.
	DefaultMinMultipartUploadSize = 5 * 1024 * 1024
)

// Options configures a Bucket.
type Options struct {
	// Clock is the time source for upload timestamps. Nil falls back to the
	// system clock.
	Clock clock.Clock

	// BlockGlobalAsyncIO requires a bound request context for every gated
	// operation.
	BlockGlobalAsyncIO bool

	// MinMultipartUploadSize overrides the minimum non-trailing part size.
	// Zero selects the production default.
	MinMultipartUploadSize int64
}

// Bucket is one object store binding over a storage backend.
type Bucket struct {
	storage            storage.Storage
	clock              clock.Clock
	blockGlobalAsyncIO bool
	minMultipartSize   int64
}

// New creates a bucket engine over a backend.
func New(s storage.Storage, opts Options) *Bucket {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.MinMultipartUploadSize == 0 {
		opts.MinMultipartUploadSize = DefaultMinMultipartUploadSize
	}
	return &Bucket{
		storage:            s,
		clock:              opts.Clock,
		blockGlobalAsyncIO: opts.BlockGlobalAsyncIO,
		minMultipartSize:   opts.MinMultipartUploadSize,
	}
}

func (b *Bucket) enter(ctx context.Context) error {
	if b.blockGlobalAsyncIO {
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

func validateKey(key string) error {
	if len(key) > MaxKeySize {
		return errInvalidObjectName()
	}
	return nil
}

// loadMeta decodes the object record for key, or nil when absent.
func (b *Bucket) loadMeta(ctx context.Context, key string) (*Object, error) {
	info, err := b.storage.Head(ctx, key)
	if err != nil || info == nil {
		return nil, err
	}
	var obj Object
	if err := json.Unmarshal(info.Metadata, &obj); err != nil {
		return nil, fmt.Errorf("corrupt object record for %q: %w", key, err)
	}
	return &obj, nil
}

func (b *Bucket) putMeta(ctx context.Context, obj *Object, body []byte) error {
	meta, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return b.storage.Put(ctx, obj.Key, storage.Value{Value: body, Metadata: meta})
}

// deleteParts removes every part record of an upload.
func (b *Bucket) deleteParts(ctx context.Context, uploadID, key string) error {
	res, err := b.storage.List(ctx, storage.ListOptions{Prefix: uploadPrefix(uploadID, key)}, true)
	if err != nil {
		return err
	}
	for _, k := range res.Keys {
		if k.Name == indexKey(uploadID, key) {
			continue
		}
		if _, err := b.storage.Delete(ctx, k.Name); err != nil {
			return err
		}
	}
	return nil
}

// Head returns the object record for key, or nil if absent.
func (b *Bucket) Head(ctx context.Context, key string) (*Object, error) {
	if err := b.enter(ctx); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	obj, err := b.loadMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	if gerr := gate.WaitForInputOpen(ctx); gerr != nil {
		return nil, gerr
	}
	return obj, nil
}

// GetOptions tunes a read.
type GetOptions struct {
	Range  storage.Range
	OnlyIf *Conditions
}

// Get returns the object and its (optionally ranged) body. When an onlyIf
// predicate rejects the read, the record is returned without a body along
// with ErrPreconditionFailed.
func (b *Bucket) Get(ctx context.Context, key string, opts GetOptions) (*GetResult, error) {
	if err := b.enter(ctx); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	obj, err := b.loadMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	if gerr := gate.WaitForInputOpen(ctx); gerr != nil {
		return nil, gerr
	}
	if obj == nil {
		return nil, nil
	}
	if !opts.OnlyIf.check(obj) {
		return &GetResult{Object: *obj}, ErrPreconditionFailed
	}
	body, info, err := b.readBody(ctx, obj, opts.Range)
	if err != nil {
		return nil, err
	}
	return &GetResult{Object: *obj, Body: body, Range: info}, nil
}

// readBody reads the requested range of an object, spanning part records
// for multipart objects.
func (b *Bucket) readBody(ctx context.Context, obj *Object, rng storage.Range) ([]byte, *RangeInfo, error) {
	offset, length, err := rng.Resolve(obj.Size)
	if err != nil {
		return nil, nil, err
	}
	info := &RangeInfo{Offset: offset, Length: length}
	if length == 0 {
		return []byte{}, info, nil
	}

	if !obj.multipart() {
		v, err := b.storage.GetRange(ctx, obj.Key, storage.Range{Offset: &offset, Length: &length}, true)
		if err != nil {
			return nil, nil, err
		}
		if v == nil {
			return nil, nil, nil
		}
		return v.Value.Value, info, nil
	}

	body := make([]byte, 0, length)
	pos := int64(0)
	remaining := length
	for _, part := range obj.Parts {
		if remaining == 0 {
			break
		}
		partEnd := pos + part.Size
		if offset >= partEnd {
			pos = partEnd
			continue
		}
		start := int64(0)
		if offset > pos {
			start = offset - pos
		}
		take := part.Size - start
		if take > remaining {
			take = remaining
		}
		v, err := b.storage.GetRange(ctx, partKey(obj.UploadID, obj.Key, part.PartNumber),
			storage.Range{Offset: &start, Length: &take}, true)
		if err != nil {
			return nil, nil, err
		}
		if v == nil {
			return nil, nil, errInvalidPart()
		}
		body = append(body, v.Value.Value...)
		remaining -= take
		pos = partEnd
	}
	return body, info, nil
}

// PutOptions tunes a write.
type PutOptions struct {
	HTTPMetadata   HTTPMetadata
	CustomMetadata map[string]string
	OnlyIf         *Conditions

	// MD5 is an expected hex digest of the value; a mismatch rejects the
	// write.
	MD5 string
}

// Put stores value under key, replacing any previous object and dropping
// part records of a previously committed multipart object.
func (b *Bucket) Put(ctx context.Context, key string, value []byte, opts PutOptions) (*Object, error) {
	if err := b.enter(ctx); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	existing, err := b.loadMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	if !opts.OnlyIf.check(existing) {
		return nil, ErrPreconditionFailed
	}
	etag := contentMD5(value)
	if opts.MD5 != "" && opts.MD5 != etag {
		return nil, ErrBadDigest
	}
	obj := &Object{
		Key:            key,
		Version:        newVersion(),
		Size:           int64(len(value)),
		ETag:           etag,
		Uploaded:       b.clock(),
		HTTPMetadata:   opts.HTTPMetadata,
		CustomMetadata: opts.CustomMetadata,
		Checksums:      map[string]string{"md5": etag},
	}
	p := gate.Go(func() error {
		if existing != nil && existing.multipart() {
			if err := b.deleteParts(ctx, existing.UploadID, key); err != nil {
				return err
			}
		}
		return b.putMeta(ctx, obj, value)
	})
	gate.WaitUntilOnOutputGate(ctx, p, false)
	if err := p.Wait(ctx); err != nil {
		return nil, err
	}
	if gerr := gate.WaitForInputOpen(ctx); gerr != nil {
		return nil, gerr
	}
	return obj, nil
}

// PutReader stores a streamed value whose total length must be known up
// front.
func (b *Bucket) PutReader(ctx context.Context, key string, value io.Reader, length int64, opts PutOptions) (*Object, error) {
	if length < 0 {
		return nil, ErrUnknownLength
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(value, data); err != nil {
		return nil, fmt.Errorf("failed to read value stream: %w", err)
	}
	return b.Put(ctx, key, data, opts)
}

// Delete removes the given keys and the part records of their committed
// multipart uploads. Missing keys are ignored.
func (b *Bucket) Delete(ctx context.Context, keys ...string) error {
	if err := b.enter(ctx); err != nil {
		return err
	}
	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return err
		}
	}
	p := gate.Go(func() error {
		for _, key := range keys {
			obj, err := b.loadMeta(ctx, key)
			if err != nil {
				return err
			}
			if obj != nil && obj.multipart() {
				if err := b.deleteParts(ctx, obj.UploadID, key); err != nil {
					return err
				}
			}
			if _, err := b.storage.Delete(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
	gate.WaitUntilOnOutputGate(ctx, p, false)
	if err := p.Wait(ctx); err != nil {
		return err
	}
	return gate.WaitForInputOpen(ctx)
}

// Include flags for List.
const (
	IncludeHTTPMetadata   = "httpMetadata"
	IncludeCustomMetadata = "customMetadata"
)

// ListOptions pages a bucket listing.
type ListOptions struct {
	Prefix    string
	Cursor    string
	Limit     int
	Delimiter string

	// StartAfter skips keys up to and including the given name.
	StartAfter string

	// Include selects which metadata families appear on the returned
	// records; both are stripped by default.
	Include []string
}

// ListResult is one page of object records. Collapsed delimited prefixes
// count toward the limit.
type ListResult struct {
	Objects           []*Object
	Truncated         bool
	Cursor            string
	DelimitedPrefixes []string
}

// List returns matching object records in collation order, never exposing
// internal multipart state.
func (b *Bucket) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if err := b.enter(ctx); err != nil {
		return nil, err
	}
	if opts.Limit == 0 {
		opts.Limit = MaxListLimit
	}
	if opts.Limit < 1 || opts.Limit > MaxListLimit {
		return nil, errInvalidMaxKeys()
	}
	sopts := storage.ListOptions{
		Prefix:        opts.Prefix,
		ExcludePrefix: internalPrefix,
		Cursor:        opts.Cursor,
		Limit:         opts.Limit,
		Delimiter:     opts.Delimiter,
	}
	if opts.StartAfter != "" {
		sopts.Start = opts.StartAfter + "\x00"
	}
	res, err := b.storage.List(ctx, sopts, false)
	if err != nil {
		return nil, err
	}
	if gerr := gate.WaitForInputOpen(ctx); gerr != nil {
		return nil, gerr
	}
	includeHTTP := slices.Contains(opts.Include, IncludeHTTPMetadata)
	includeCustom := slices.Contains(opts.Include, IncludeCustomMetadata)
	out := &ListResult{
		Truncated:         res.Cursor != "",
		Cursor:            res.Cursor,
		DelimitedPrefixes: res.DelimitedPrefixes,
	}
	for _, k := range res.Keys {
		var obj Object
		if err := json.Unmarshal(k.Metadata, &obj); err != nil {
			return nil, fmt.Errorf("corrupt object record for %q: %w", k.Name, err)
		}
		if !includeHTTP {
			obj.HTTPMetadata = HTTPMetadata{}
		}
		if !includeCustom {
			obj.CustomMetadata = nil
		}
		out.Objects = append(out.Objects, &obj)
	}
	return out, nil
}
