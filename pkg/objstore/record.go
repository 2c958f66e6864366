package objstore

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// HTTPMetadata carries the HTTP presentation headers stored with an object.
type HTTPMetadata struct {
	ContentType        string `json:"contentType,omitempty"`
	ContentLanguage    string `json:"contentLanguage,omitempty"`
	ContentDisposition string `json:"contentDisposition,omitempty"`
	ContentEncoding    string `json:"contentEncoding,omitempty"`
	CacheControl       string `json:"cacheControl,omitempty"`
	CacheExpiry        int64  `json:"cacheExpiry,omitempty"` // ms since epoch
}

// PartRef records one assembled part of a committed multipart object, in
// assembly order.
type PartRef struct {
	PartNumber int    `json:"partNumber"`
	Size       int64  `json:"size"`
	ETag       string `json:"etag"`
}

// Object is the metadata record of a stored object.
type Object struct {
	Key            string            `json:"key"`
	Version        string            `json:"version"`
	Size           int64             `json:"size"`
	ETag           string            `json:"etag"`
	Uploaded       int64             `json:"uploaded"` // ms since epoch
	HTTPMetadata   HTTPMetadata      `json:"httpMetadata"`
	CustomMetadata map[string]string `json:"customMetadata,omitempty"`
	Checksums      map[string]string `json:"checksums,omitempty"`

	// UploadID and Parts are set for objects committed from a multipart
	// upload; the body lives in the referenced part records.
	UploadID string    `json:"uploadId,omitempty"`
	Parts    []PartRef `json:"parts,omitempty"`
}

// HTTPETag returns the quoted form of the etag.
func (o *Object) HTTPETag() string {
	return fmt.Sprintf("%q", o.ETag)
}

// multipart reports whether the body is spread over part records.
func (o *Object) multipart() bool {
	return o.UploadID != ""
}

// RangeInfo describes the byte range actually returned by a get.
type RangeInfo struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// GetResult is an object together with (a slice of) its body.
type GetResult struct {
	Object

	Body  []byte
	Range *RangeInfo
}

// newVersion mints an opaque 32-hex version identifier.
func newVersion() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// newUploadID mints an opaque multipart upload identifier.
func newUploadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// contentMD5 returns the hex MD5 of data, the etag of simple objects and
// individual parts.
func contentMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// multipartETag returns the composite etag of an assembled upload:
// hex(md5(concatenation of each part's MD5 bytes)) + "-" + partCount.
func multipartETag(partETags []string) (string, error) {
	h := md5.New()
	for _, etag := range partETags {
		raw, err := hex.DecodeString(etag)
		if err != nil {
			return "", fmt.Errorf("malformed part etag %q: %w", etag, err)
		}
		h.Write(raw)
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(h.Sum(nil)), len(partETags)), nil
}

// Internal key layout for in-progress multipart state. The prefix is
// excluded from listings, so parts are never user-visible.
const internalPrefix = "__INTERNAL__:"

func uploadPrefix(uploadID, key string) string {
	return fmt.Sprintf("%smultipart:%s:%s:", internalPrefix, uploadID, key)
}

func partKey(uploadID, key string, partNumber int) string {
	return fmt.Sprintf("%s%d", uploadPrefix(uploadID, key), partNumber)
}

func indexKey(uploadID, key string) string {
	return uploadPrefix(uploadID, key) + "index"
}

// Multipart upload lifecycle states.
const (
	stateInProgress = "IN_PROGRESS"
	stateCompleted  = "COMPLETED"
	stateAborted    = "ABORTED"
)

// uploadRecord is the index-key record of a multipart upload.
type uploadRecord struct {
	Key            string            `json:"key"`
	UploadID       string            `json:"uploadId"`
	State          string            `json:"state"`
	HTTPMetadata   HTTPMetadata      `json:"httpMetadata"`
	CustomMetadata map[string]string `json:"customMetadata,omitempty"`
}

// partRecord is the metadata of one uploaded part.
type partRecord struct {
	PartNumber int    `json:"partNumber"`
	Size       int64  `json:"size"`
	ETag       string `json:"etag"`
}
