package objstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/storage"
)

const partSize = 50

func repeat(c string, n int) []byte {
	return []byte(strings.Repeat(c, n))
}

func TestCompleteAssemblesParts(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	p1, err := upload.UploadPart(ctx, 1, repeat("1", 50))
	require.NoError(t, err)
	p2, err := upload.UploadPart(ctx, 2, repeat("2", 50))
	require.NoError(t, err)
	p3, err := upload.UploadPart(ctx, 3, []byte("3"))
	require.NoError(t, err)

	obj, err := upload.Complete(ctx, []UploadedPart{*p1, *p2, *p3})
	require.NoError(t, err)
	assert.Equal(t, int64(101), obj.Size)
	assert.Equal(t, "3b676245e58d988dc75f80c0c27a9645-3", obj.ETag)

	got, err := b.Get(ctx, "key", GetOptions{})
	require.NoError(t, err)
	want := strings.Repeat("1", 50) + strings.Repeat("2", 50) + "3"
	assert.Equal(t, want, string(got.Body))
}

func TestCompleteDroppingTrailingPartFailsSizeRules(t *testing.T) {
	ctx := context.Background()
	// Production minimum part size: 50-byte parts are too small to be
	// non-trailing.
	b := newBucket(clock.Fixed(0), 0)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	p1, err := upload.UploadPart(ctx, 1, repeat("1", 50))
	require.NoError(t, err)
	p2, err := upload.UploadPart(ctx, 2, repeat("2", 50))
	require.NoError(t, err)
	_, err = upload.UploadPart(ctx, 3, []byte("3"))
	require.NoError(t, err)

	_, err = upload.Complete(ctx, []UploadedPart{*p1, *p2})
	require.Error(t, err)
	assert.ErrorIs(t, err, errEntityTooSmall())
}

func TestCompleteUnevenPartsFail(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), 10)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	p1, err := upload.UploadPart(ctx, 1, repeat("1", 20))
	require.NoError(t, err)
	p2, err := upload.UploadPart(ctx, 2, repeat("2", 30))
	require.NoError(t, err)
	p3, err := upload.UploadPart(ctx, 3, repeat("3", 10))
	require.NoError(t, err)

	_, err = upload.Complete(ctx, []UploadedPart{*p1, *p2, *p3})
	assert.ErrorIs(t, err, errInvalidPartLength())
	assert.Contains(t, err.Error(), "(10048)")
}

func TestCompleteLastPartLargerFails(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), 10)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	p1, err := upload.UploadPart(ctx, 1, repeat("1", 20))
	require.NoError(t, err)
	p2, err := upload.UploadPart(ctx, 2, repeat("2", 40))
	require.NoError(t, err)

	_, err = upload.Complete(ctx, []UploadedPart{*p1, *p2})
	assert.ErrorIs(t, err, errInvalidPartLength())
}

func TestUploadPartAfterAbort(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	_, err = upload.UploadPart(ctx, 1, []byte("v"))
	require.NoError(t, err)
	require.NoError(t, upload.Abort(ctx))

	_, err = upload.UploadPart(ctx, 1, []byte("w"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoSuchUpload())
	assert.Contains(t, err.Error(), "(10024)")
}

func TestConcurrentUploadsToSameKey(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	u1, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	u2, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	require.NotEqual(t, u1.UploadID, u2.UploadID)

	p1, err := u2.UploadPart(ctx, 1, []byte("v"))
	require.NoError(t, err)
	_, err = u2.Complete(ctx, []UploadedPart{*p1})
	require.NoError(t, err)

	got, err := b.Get(ctx, "key", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v", string(got.Body))

	// Aborting the other in-progress upload succeeds, and aborting the
	// completed one is idempotent.
	require.NoError(t, u1.Abort(ctx))
	require.NoError(t, u2.Abort(ctx))

	// The committed object survives both aborts.
	got, err = b.Get(ctx, "key", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v", string(got.Body))
}

func TestCompleteOutOfOrderListAssemblesByPartNumber(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	p1, err := upload.UploadPart(ctx, 1, repeat("1", 50))
	require.NoError(t, err)
	p2, err := upload.UploadPart(ctx, 2, repeat("2", 50))
	require.NoError(t, err)
	p3, err := upload.UploadPart(ctx, 3, repeat("3", 50))
	require.NoError(t, err)

	obj, err := upload.Complete(ctx, []UploadedPart{*p2, *p3, *p1})
	require.NoError(t, err)
	assert.Equal(t, int64(150), obj.Size)

	got, err := b.Get(ctx, "key", GetOptions{})
	require.NoError(t, err)
	want := strings.Repeat("1", 50) + strings.Repeat("2", 50) + strings.Repeat("3", 50)
	assert.Equal(t, want, string(got.Body))
}

func TestCompleteEmptyParts(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	obj, err := upload.Complete(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), obj.Size)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e-0", obj.ETag)

	got, err := b.Get(ctx, "key", GetOptions{})
	require.NoError(t, err)
	assert.Empty(t, got.Body)
}

func TestCompleteDuplicatePartNumbers(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	p1, err := upload.UploadPart(ctx, 1, repeat("1", 50))
	require.NoError(t, err)

	_, err = upload.Complete(ctx, []UploadedPart{*p1, *p1})
	assert.ErrorIs(t, err, errInternal())
	assert.Contains(t, err.Error(), "(10001)")
}

func TestCompleteStalePartETag(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	stale, err := upload.UploadPart(ctx, 1, repeat("a", 50))
	require.NoError(t, err)
	// Overwriting the part number mints a new etag; the stale reference no
	// longer resolves.
	_, err = upload.UploadPart(ctx, 1, repeat("b", 50))
	require.NoError(t, err)

	_, err = upload.Complete(ctx, []UploadedPart{*stale})
	assert.ErrorIs(t, err, errInvalidPart())
	assert.Contains(t, err.Error(), "(10025)")
}

func TestPartNumberValidatedFirst(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	// Even on a never-created upload, the part number is validated before
	// the upload lookup.
	upload := b.ResumeMultipartUpload("key", "bogus")
	_, err := upload.UploadPart(ctx, 0, []byte("v"))
	assert.ErrorIs(t, err, ErrInvalidPartNumber)
	_, err = upload.UploadPart(ctx, 10001, []byte("v"))
	assert.ErrorIs(t, err, ErrInvalidPartNumber)

	_, err = upload.UploadPart(ctx, 1, []byte("v"))
	assert.ErrorIs(t, err, errNoSuchUpload())
}

func TestCompleteOnUnknownUpload(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload := b.ResumeMultipartUpload("key", "bogus")
	_, err := upload.Complete(ctx, nil)
	assert.ErrorIs(t, err, errInternal())

	err = upload.Abort(ctx)
	assert.ErrorIs(t, err, errInternal())
}

func TestAbortIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	require.NoError(t, upload.Abort(ctx))
	require.NoError(t, upload.Abort(ctx))

	// Completing an aborted upload is an internal error.
	_, err = upload.Complete(ctx, nil)
	assert.ErrorIs(t, err, errInternal())
}

func TestPutDoesNotDisturbInProgressParts(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	p1, err := upload.UploadPart(ctx, 1, repeat("1", 50))
	require.NoError(t, err)

	// A direct put before complete must not disturb part records.
	_, err = b.Put(ctx, "key", []byte("direct"), PutOptions{})
	require.NoError(t, err)

	obj, err := upload.Complete(ctx, []UploadedPart{*p1})
	require.NoError(t, err)
	assert.Equal(t, int64(50), obj.Size)

	got, err := b.Get(ctx, "key", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("1", 50), string(got.Body))
}

func TestPutAfterCompleteRemovesParts(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	p1, err := upload.UploadPart(ctx, 1, repeat("1", 50))
	require.NoError(t, err)
	_, err = upload.Complete(ctx, []UploadedPart{*p1})
	require.NoError(t, err)

	_, err = b.Put(ctx, "key", []byte("replacement"), PutOptions{})
	require.NoError(t, err)

	// The part records of the replaced object are gone.
	res, err := b.storage.List(ctx, storage.ListOptions{Prefix: uploadPrefix(upload.UploadID, "key")}, true)
	require.NoError(t, err)
	for _, k := range res.Keys {
		assert.Equal(t, indexKey(upload.UploadID, "key"), k.Name, "only the index record may remain")
	}

	got, err := b.Get(ctx, "key", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "replacement", string(got.Body))
}

func TestMultipartRangeSpansParts(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	p1, err := upload.UploadPart(ctx, 1, repeat("1", 50))
	require.NoError(t, err)
	p2, err := upload.UploadPart(ctx, 2, repeat("2", 50))
	require.NoError(t, err)
	p3, err := upload.UploadPart(ctx, 3, repeat("3", 10))
	require.NoError(t, err)
	_, err = upload.Complete(ctx, []UploadedPart{*p1, *p2, *p3})
	require.NoError(t, err)

	got, err := b.Get(ctx, "key", GetOptions{Range: storage.Range{Offset: storage.Int64(45), Length: storage.Int64(10)}})
	require.NoError(t, err)
	assert.Equal(t, "1111122222", string(got.Body))
	assert.Equal(t, &RangeInfo{Offset: 45, Length: 10}, got.Range)

	got, err = b.Get(ctx, "key", GetOptions{Range: storage.Range{Suffix: storage.Int64(15)}})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("2", 5)+strings.Repeat("3", 10), string(got.Body))
}

func TestUploadPartReaderUnknownLength(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{})
	require.NoError(t, err)
	_, err = upload.UploadPartReader(ctx, 1, strings.NewReader("x"), -1)
	assert.ErrorIs(t, err, ErrUnknownLength)
}

func TestMultipartMetadataAppliesToObject(t *testing.T) {
	ctx := context.Background()
	b := newBucket(clock.Fixed(0), partSize)

	upload, err := b.CreateMultipartUpload(ctx, "key", MultipartOptions{
		HTTPMetadata:   HTTPMetadata{ContentType: "application/zip"},
		CustomMetadata: map[string]string{"source": "upload"},
	})
	require.NoError(t, err)
	obj, err := upload.Complete(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/zip", obj.HTTPMetadata.ContentType)
	assert.Equal(t, "upload", obj.CustomMetadata["source"])
}
