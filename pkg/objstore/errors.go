package objstore

import (
	"errors"
	"fmt"
)

// Error is a platform-coded object store failure. The numeric code is part
// of the wire contract and is rendered into the message text verbatim.
type Error struct {
	Status  int
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Is matches errors by code, so callers can compare against the sentinel
// values below with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Platform error codes preserved verbatim.
const (
	CodeInternalError     = 10001
	CodeEntityTooSmall    = 10011
	CodeInvalidObjectName = 10020
	CodeInvalidMaxKeys    = 10022
	CodeNoSuchUpload      = 10024
	CodeInvalidPart       = 10025
	CodeInvalidPartLength = 10048
)

func errInternal() *Error {
	return &Error{Status: 500, Code: CodeInternalError, Message: "We encountered an internal error. Please try again."}
}

func errInvalidObjectName() *Error {
	return &Error{Status: 400, Code: CodeInvalidObjectName, Message: "The specified object name is not valid."}
}

func errNoSuchUpload() *Error {
	return &Error{Status: 404, Code: CodeNoSuchUpload, Message: "The specified multipart upload does not exist."}
}

func errInvalidPart() *Error {
	return &Error{Status: 400, Code: CodeInvalidPart, Message: "One or more of the specified parts could not be found."}
}

func errEntityTooSmall() *Error {
	return &Error{Status: 400, Code: CodeEntityTooSmall, Message: "Your proposed upload is smaller than the minimum allowed object size."}
}

func errInvalidPartLength() *Error {
	return &Error{Status: 400, Code: CodeInvalidPartLength, Message: "All non-trailing parts must have the same length."}
}

func errInvalidMaxKeys() *Error {
	return &Error{Status: 400, Code: CodeInvalidMaxKeys, Message: "MaxKeys params must be positive integer <= 1000."}
}

// Errors without platform codes.
var (
	// ErrPreconditionFailed reports a rejected onlyIf predicate.
	ErrPreconditionFailed = errors.New("The conditional request failed.")

	// ErrBadDigest reports an md5 option that did not match the received
	// bytes.
	ErrBadDigest = errors.New("The Content-MD5 you specified did not match what we received.")

	// ErrUnknownLength reports a streamed value without an up-front length.
	ErrUnknownLength = errors.New("Provided readable stream must have a known length")

	// ErrInvalidPartNumber reports a part number outside 1..10000.
	ErrInvalidPartNumber = errors.New("Part number must be between 1 and 10000 (inclusive)")
)
