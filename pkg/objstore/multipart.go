package objstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/marmos91/edgesim/pkg/gate"
	"github.com/marmos91/edgesim/pkg/storage"
)

// MultipartUpload is a handle on one staged upload. Handles from
// ResumeMultipartUpload are not validated until an operation is attempted.
type MultipartUpload struct {
	Key      string
	UploadID string

	bucket *Bucket
}

// UploadedPart identifies a part for Complete.
type UploadedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// MultipartOptions carries the metadata recorded at upload creation and
// applied to the committed object.
type MultipartOptions struct {
	HTTPMetadata   HTTPMetadata
	CustomMetadata map[string]string
}

// CreateMultipartUpload starts a staged upload for key. Concurrent uploads
// to the same key get independent upload IDs and coexist until completed or
// aborted.
func (b *Bucket) CreateMultipartUpload(ctx context.Context, key string, opts MultipartOptions) (*MultipartUpload, error) {
	if err := b.enter(ctx); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	uploadID := newUploadID()
	record := uploadRecord{
		Key:            key,
		UploadID:       uploadID,
		State:          stateInProgress,
		HTTPMetadata:   opts.HTTPMetadata,
		CustomMetadata: opts.CustomMetadata,
	}
	if err := b.putUploadRecord(ctx, &record); err != nil {
		return nil, err
	}
	if gerr := gate.WaitForInputOpen(ctx); gerr != nil {
		return nil, gerr
	}
	return &MultipartUpload{Key: key, UploadID: uploadID, bucket: b}, nil
}

// ResumeMultipartUpload rebuilds a handle from a key and upload ID without
// touching storage or gates.
func (b *Bucket) ResumeMultipartUpload(key, uploadID string) *MultipartUpload {
	return &MultipartUpload{Key: key, UploadID: uploadID, bucket: b}
}

func (b *Bucket) putUploadRecord(ctx context.Context, record *uploadRecord) error {
	meta, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return b.storage.Put(ctx, indexKey(record.UploadID, record.Key), storage.Value{Metadata: meta})
}

// loadUploadRecord returns the index record, or nil when the upload was
// never created.
func (b *Bucket) loadUploadRecord(ctx context.Context, uploadID, key string) (*uploadRecord, error) {
	info, err := b.storage.Head(ctx, indexKey(uploadID, key))
	if err != nil || info == nil {
		return nil, err
	}
	var record uploadRecord
	if err := json.Unmarshal(info.Metadata, &record); err != nil {
		return nil, fmt.Errorf("corrupt multipart record for %q: %w", key, err)
	}
	return &record, nil
}

func validatePartNumber(n int) error {
	if n < MinPartNumber || n > MaxPartNumber {
		return fmt.Errorf("%w: got %d", ErrInvalidPartNumber, n)
	}
	return nil
}

// UploadPart stores one numbered part. Re-uploading a part number replaces
// the previous bytes and mints a new etag, invalidating references to the
// old one.
func (u *MultipartUpload) UploadPart(ctx context.Context, partNumber int, value []byte) (*UploadedPart, error) {
	b := u.bucket
	if err := b.enter(ctx); err != nil {
		return nil, err
	}
	// Part numbers are validated before the key or upload is looked at.
	if err := validatePartNumber(partNumber); err != nil {
		return nil, err
	}
	if err := validateKey(u.Key); err != nil {
		return nil, err
	}
	record, err := b.loadUploadRecord(ctx, u.UploadID, u.Key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.State != stateInProgress {
		return nil, errNoSuchUpload()
	}
	etag := contentMD5(value)
	meta, err := json.Marshal(partRecord{PartNumber: partNumber, Size: int64(len(value)), ETag: etag})
	if err != nil {
		return nil, err
	}
	if err := b.storage.Put(ctx, partKey(u.UploadID, u.Key, partNumber), storage.Value{Value: value, Metadata: meta}); err != nil {
		return nil, err
	}
	if gerr := gate.WaitForInputOpen(ctx); gerr != nil {
		return nil, gerr
	}
	return &UploadedPart{PartNumber: partNumber, ETag: etag}, nil
}

// UploadPartReader stores a streamed part whose total length must be known
// up front.
func (u *MultipartUpload) UploadPartReader(ctx context.Context, partNumber int, value io.Reader, length int64) (*UploadedPart, error) {
	if length < 0 {
		return nil, ErrUnknownLength
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(value, data); err != nil {
		return nil, fmt.Errorf("failed to read part stream: %w", err)
	}
	return u.UploadPart(ctx, partNumber, data)
}

// Complete commits the upload from the referenced parts and returns the new
// object record.
//
// Size rules are evaluated over the provided list order; bytes are
// assembled by part number. The committed object keeps its part records for
// range reads; completing replaces any previously committed object under
// the key, along with that object's parts.
func (u *MultipartUpload) Complete(ctx context.Context, parts []UploadedPart) (*Object, error) {
	b := u.bucket
	if err := b.enter(ctx); err != nil {
		return nil, err
	}
	for _, part := range parts {
		if err := validatePartNumber(part.PartNumber); err != nil {
			return nil, err
		}
	}
	if err := validateKey(u.Key); err != nil {
		return nil, err
	}
	record, err := b.loadUploadRecord(ctx, u.UploadID, u.Key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.State != stateInProgress {
		return nil, errInternal()
	}

	seen := make(map[int]struct{}, len(parts))
	for _, part := range parts {
		if _, dup := seen[part.PartNumber]; dup {
			return nil, errInternal()
		}
		seen[part.PartNumber] = struct{}{}
	}

	// Resolve every referenced part; a part overwritten since the caller
	// captured its etag no longer exists under that etag.
	resolved := make([]partRecord, len(parts))
	for i, part := range parts {
		info, err := b.storage.Head(ctx, partKey(u.UploadID, u.Key, part.PartNumber))
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, errInvalidPart()
		}
		var pr partRecord
		if err := json.Unmarshal(info.Metadata, &pr); err != nil {
			return nil, fmt.Errorf("corrupt part record for %q: %w", u.Key, err)
		}
		if pr.ETag != part.ETag {
			return nil, errInvalidPart()
		}
		resolved[i] = pr
	}

	// Size rules, in provided order.
	if len(resolved) > 0 {
		partSize := resolved[0].Size
		for i, pr := range resolved {
			last := i == len(resolved)-1
			if !last && pr.Size != partSize {
				return nil, errInvalidPartLength()
			}
			if last && pr.Size > partSize {
				return nil, errInvalidPartLength()
			}
			if !last && pr.Size < b.minMultipartSize {
				return nil, errEntityTooSmall()
			}
		}
	}

	// Assembly order is by part number.
	assembled := append([]partRecord(nil), resolved...)
	sort.Slice(assembled, func(i, j int) bool { return assembled[i].PartNumber < assembled[j].PartNumber })

	totalSize := int64(0)
	etags := make([]string, len(assembled))
	refs := make([]PartRef, len(assembled))
	for i, pr := range assembled {
		totalSize += pr.Size
		etags[i] = pr.ETag
		refs[i] = PartRef{PartNumber: pr.PartNumber, Size: pr.Size, ETag: pr.ETag}
	}
	etag, err := multipartETag(etags)
	if err != nil {
		return nil, err
	}

	existing, err := b.loadMeta(ctx, u.Key)
	if err != nil {
		return nil, err
	}

	obj := &Object{
		Key:            u.Key,
		Version:        newVersion(),
		Size:           totalSize,
		ETag:           etag,
		Uploaded:       b.clock(),
		HTTPMetadata:   record.HTTPMetadata,
		CustomMetadata: record.CustomMetadata,
		UploadID:       u.UploadID,
		Parts:          refs,
	}

	p := gate.Go(func() error {
		if existing != nil && existing.multipart() && existing.UploadID != u.UploadID {
			if err := b.deleteParts(ctx, existing.UploadID, u.Key); err != nil {
				return err
			}
		}
		// Drop parts the completion did not reference so they cannot leak.
		listed, err := b.storage.List(ctx, storage.ListOptions{Prefix: uploadPrefix(u.UploadID, u.Key)}, true)
		if err != nil {
			return err
		}
		for _, k := range listed.Keys {
			if k.Name == indexKey(u.UploadID, u.Key) {
				continue
			}
			keep := false
			for _, ref := range refs {
				if k.Name == partKey(u.UploadID, u.Key, ref.PartNumber) {
					keep = true
					break
				}
			}
			if !keep {
				if _, err := b.storage.Delete(ctx, k.Name); err != nil {
					return err
				}
			}
		}
		record.State = stateCompleted
		if err := b.putUploadRecord(ctx, record); err != nil {
			return err
		}
		return b.putMeta(ctx, obj, nil)
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

// Abort discards the upload's part records. Aborting an already aborted or
// already completed upload succeeds without effect.
func (u *MultipartUpload) Abort(ctx context.Context) error {
	b := u.bucket
	if err := b.enter(ctx); err != nil {
		return err
	}
	if err := validateKey(u.Key); err != nil {
		return err
	}
	record, err := b.loadUploadRecord(ctx, u.UploadID, u.Key)
	if err != nil {
		return err
	}
	if record == nil {
		return errInternal()
	}
	if record.State != stateInProgress {
		if gerr := gate.WaitForInputOpen(ctx); gerr != nil {
			return gerr
		}
		return nil
	}
	if err := b.deleteParts(ctx, u.UploadID, u.Key); err != nil {
		return err
	}
	record.State = stateAborted
	if err := b.putUploadRecord(ctx, record); err != nil {
		return err
	}
	return gate.WaitForInputOpen(ctx)
}
