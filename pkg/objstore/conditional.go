package objstore

import "strings"

// Conditions is the onlyIf predicate set of get and put. Each etag field
// accepts one or more etags; "*" alone matches any existing object.
type Conditions struct {
	ETagMatches      []string
	ETagDoesNotMatch []string

	// UploadedBefore and UploadedAfter are ms-since-epoch bounds on the
	// object's upload time; zero disables the bound.
	UploadedBefore int64
	UploadedAfter  int64
}

// etagMatches reports whether etag satisfies any candidate. A candidate of
// exactly "*" is a wildcard; any other "*" is a literal character. Stored
// and candidate etags compare with surrounding quotes stripped.
func etagMatches(candidates []string, etag string) bool {
	etag = strings.Trim(etag, `"`)
	for _, c := range candidates {
		c = strings.Trim(strings.TrimSpace(c), `"`)
		if c == "*" || c == etag {
			return true
		}
	}
	return false
}

// check evaluates the predicate set against the current object metadata
// (nil when the key has no object). It reports whether the guarded
// operation may proceed.
//
// Match predicates override the corresponding time bounds: a satisfied
// etagMatches disables uploadedBefore, and a satisfied etagDoesNotMatch (the
// etag matches none of its candidates) disables uploadedAfter. With no metadata, must-match predicates fail and
// must-not-match predicates pass.
func (c *Conditions) check(meta *Object) bool {
	if c == nil {
		return true
	}
	if meta == nil {
		return len(c.ETagMatches) == 0 && c.UploadedBefore == 0
	}
	ignoreBefore := false
	if len(c.ETagMatches) > 0 {
		if !etagMatches(c.ETagMatches, meta.ETag) {
			return false
		}
		ignoreBefore = true
	}
	ignoreAfter := false
	if len(c.ETagDoesNotMatch) > 0 {
		if etagMatches(c.ETagDoesNotMatch, meta.ETag) {
			return false
		}
		ignoreAfter = true
	}
	if !ignoreBefore && c.UploadedBefore != 0 && meta.Uploaded >= c.UploadedBefore {
		return false
	}
	if !ignoreAfter && c.UploadedAfter != 0 && meta.Uploaded <= c.UploadedAfter {
		return false
	}
	return true
}
