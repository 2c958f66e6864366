package storage

import (
	"encoding/base64"
	"fmt"
)

// EncodeCursor encodes the name of the last returned key as an opaque,
// resumable cursor.
func EncodeCursor(lastKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(lastKey))
}

// DecodeCursor recovers the resume-after key name from a cursor produced by
// EncodeCursor. An empty cursor decodes to an empty name.
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	name, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return string(name), nil
}
