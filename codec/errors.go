package codec

import (
	"errors"
	"fmt"
)

// ErrorKind classifies codec failures.
type ErrorKind int

const (
	// ErrorFrameTooShort indicates a frame shorter than the two header bytes.
	ErrorFrameTooShort ErrorKind = iota
	// ErrorUnknownEventType indicates an undefined event tag.
	ErrorUnknownEventType
	// ErrorUnknownDataType indicates an undefined data tag.
	ErrorUnknownDataType
	// ErrorPayloadDecode indicates a payload that does not parse as its data type.
	ErrorPayloadDecode
	// ErrorEncoding indicates a payload incompatible with its declared data type.
	ErrorEncoding
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorFrameTooShort:
		return "frame_too_short"
	case ErrorUnknownEventType:
		return "unknown_event_type"
	case ErrorUnknownDataType:
		return "unknown_data_type"
	case ErrorPayloadDecode:
		return "payload_decode"
	case ErrorEncoding:
		return "encoding"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by Encode and Decode.
// Two Errors match under errors.Is when their kinds are equal, so the
// sentinels below can be used to classify any codec failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: %s: %v", e.Msg, e.Err)
	}
	return "codec: " + e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrFrameTooShort    = &Error{Kind: ErrorFrameTooShort, Msg: "frame too short"}
	ErrUnknownEventType = &Error{Kind: ErrorUnknownEventType, Msg: "unknown event type"}
	ErrUnknownDataType  = &Error{Kind: ErrorUnknownDataType, Msg: "unknown data type"}
	ErrPayloadDecode    = &Error{Kind: ErrorPayloadDecode, Msg: "payload decode failed"}
	ErrEncoding         = &Error{Kind: ErrorEncoding, Msg: "encoding failed"}
)

// IsDecodeError reports whether err came from Decode.
// Every decode error is recoverable by dropping the offending frame.
func IsDecodeError(err error) bool {
	var cerr *Error
	if !errors.As(err, &cerr) {
		return false
	}
	return cerr.Kind != ErrorEncoding
}
