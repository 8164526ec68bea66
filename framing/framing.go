// Package framing rebuilds discrete frames from an arbitrarily chunked byte
// stream.
//
// The default wire format terminates each frame with a 4-byte delimiter. A
// payload that happens to contain the delimiter bytes is split at that point;
// nothing is escaped. ModeLength avoids this by prefixing each frame with its
// length instead. Both ends of a connection must use the same mode.
package framing

import (
	"errors"
	"fmt"
)

// DefaultMaxFrameSize bounds the bytes buffered for a single frame (16 MiB).
const DefaultMaxFrameSize = 16 * 1024 * 1024

// DefaultDelimiter terminates every frame in delimiter mode.
var DefaultDelimiter = []byte{0xff, 0xff, 0x00, 0x00}

// ErrConnectionClosed is returned by Ingest after the stream has closed.
var ErrConnectionClosed = errors.New("framing: connection closed")

// FrameErrorKind classifies framing errors.
type FrameErrorKind int

const (
	// FrameErrorTooLarge indicates buffered bytes exceeding the frame size limit.
	FrameErrorTooLarge FrameErrorKind = iota
)

// FrameError is a fatal framing error. The connection that produced it
// cannot be resynchronized and must be closed.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
}

func (e *FrameError) Error() string {
	return "framing: " + e.Msg
}

// IsFatalFrameError reports whether err is a *FrameError.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr)
}

// Framer is the per-connection frame assembler contract.
//
// Ingest appends a chunk and returns every complete frame, in order. An empty
// chunk signals that the peer closed the stream; afterwards Ingest returns
// ErrConnectionClosed. A Framer is owned by a single goroutine.
type Framer interface {
	Ingest(chunk []byte) ([][]byte, error)
	Encode(frame []byte) []byte
	Closed() bool
}

// Mode selects the wire framing.
type Mode string

const (
	// ModeDelimiter terminates frames with a delimiter.
	ModeDelimiter Mode = "delimiter"
	// ModeLength prefixes frames with a 4-byte big-endian length.
	ModeLength Mode = "length"
)

// ParseMode parses a framing mode name. The empty string selects ModeDelimiter.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDelimiter:
		return ModeDelimiter, nil
	case ModeLength:
		return ModeLength, nil
	default:
		return "", fmt.Errorf("unknown framing mode %q (want %q or %q)", s, ModeDelimiter, ModeLength)
	}
}

// New returns a fresh Framer for the given mode.
func New(mode Mode, opts ...Option) (Framer, error) {
	switch mode {
	case "", ModeDelimiter:
		return NewAssembler(opts...), nil
	case ModeLength:
		return NewLengthAssembler(opts...), nil
	default:
		return nil, fmt.Errorf("unknown framing mode %q", mode)
	}
}

type options struct {
	delimiter    []byte
	maxFrameSize int
}

// Option configures an assembler.
type Option func(*options)

// WithDelimiter overrides the frame delimiter. Ignored in length mode.
// An empty delimiter is ignored.
func WithDelimiter(delim []byte) Option {
	return func(o *options) {
		if len(delim) > 0 {
			o.delimiter = append([]byte(nil), delim...)
		}
	}
}

// WithMaxFrameSize overrides the frame size limit. Values <= 0 are ignored.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		delimiter:    DefaultDelimiter,
		maxFrameSize: DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
