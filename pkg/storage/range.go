package storage

import "fmt"

// Range selects a byte subrange of a value, either by offset and optional
// length or by a trailing suffix length. All fields are optional; the zero
// Range selects the whole value.
type Range struct {
	Offset *int64
	Length *int64

	// Suffix selects the last N bytes and is mutually exclusive with
	// Offset/Length.
	Suffix *int64
}

// Int64 is a convenience constructor for optional range fields.
func Int64(v int64) *int64 { return &v }

// IsZero reports whether the range selects the whole value.
func (r Range) IsZero() bool {
	return r.Offset == nil && r.Length == nil && r.Suffix == nil
}

// Resolve clamps and validates the range against a value of the given size,
// returning the concrete offset and length to slice.
//
// Rules: a suffix must be positive and is clamped to size; an offset must be
// within [0, size]; a length must be positive and clamps to the bytes
// remaining after offset.
func (r Range) Resolve(size int64) (offset, length int64, err error) {
	if r.Suffix != nil {
		if r.Offset != nil || r.Length != nil {
			return 0, 0, fmt.Errorf("%w: suffix cannot be combined with offset or length", ErrInvalidRange)
		}
		suffix := *r.Suffix
		if suffix <= 0 {
			return 0, 0, fmt.Errorf("%w: suffix must be > 0", ErrInvalidRange)
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, suffix, nil
	}

	offset = 0
	if r.Offset != nil {
		offset = *r.Offset
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("%w: offset must be >= 0", ErrInvalidRange)
	}
	if offset > size {
		return 0, 0, fmt.Errorf("%w: offset %d is past the end of the value (size %d)", ErrInvalidRange, offset, size)
	}

	length = size - offset
	if r.Length != nil {
		if *r.Length <= 0 {
			return 0, 0, fmt.Errorf("%w: length must be > 0", ErrInvalidRange)
		}
		if *r.Length < length {
			length = *r.Length
		}
	}
	return offset, length, nil
}
