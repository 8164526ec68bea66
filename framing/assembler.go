package framing

import (
	"bytes"
	"fmt"
)

// Assembler splits a stream on a delimiter.
//
// The residual never contains a complete delimiter between calls, so a search
// only needs to revisit the last len(delimiter)-1 bytes of the previous
// residual. This makes the output independent of how the stream is chunked.
type Assembler struct {
	delim    []byte
	maxSize  int
	residual []byte
	closed   bool
}

var _ Framer = (*Assembler)(nil)

// NewAssembler creates an assembler in the open state.
func NewAssembler(opts ...Option) *Assembler {
	o := buildOptions(opts)
	return &Assembler{
		delim:   o.delimiter,
		maxSize: o.maxFrameSize,
	}
}

// Ingest appends chunk and returns the complete frames it produced.
//
// Errors:
//   - ErrConnectionClosed: the assembler already saw the end of the stream
//   - *FrameError with Kind=FrameErrorTooLarge: a frame exceeds the limit (fatal);
//     frames completed before the oversized one are still returned
func (a *Assembler) Ingest(chunk []byte) ([][]byte, error) {
	if a.closed {
		return nil, ErrConnectionClosed
	}
	if len(chunk) == 0 {
		// Trailing bytes without a delimiter are discarded.
		a.closed = true
		a.residual = nil
		return nil, nil
	}

	search := len(a.residual) - (len(a.delim) - 1)
	if search < 0 {
		search = 0
	}
	a.residual = append(a.residual, chunk...)

	var frames [][]byte
	start := 0
	for {
		i := bytes.Index(a.residual[search:], a.delim)
		if i < 0 {
			break
		}
		end := search + i
		if end-start > a.maxSize {
			return frames, a.tooLarge(end - start)
		}
		frame := make([]byte, end-start)
		copy(frame, a.residual[start:end])
		frames = append(frames, frame)

		start = end + len(a.delim)
		search = start
	}

	if start > 0 {
		a.residual = append(a.residual[:0], a.residual[start:]...)
	}
	// A partly received delimiter at the tail does not count toward the frame.
	if n := len(a.residual) - partialDelim(a.residual, a.delim); n > a.maxSize {
		return frames, a.tooLarge(n)
	}
	return frames, nil
}

// partialDelim returns the length of the longest suffix of b that is a proper
// prefix of delim.
func partialDelim(b, delim []byte) int {
	for k := min(len(delim)-1, len(b)); k > 0; k-- {
		if bytes.Equal(b[len(b)-k:], delim[:k]) {
			return k
		}
	}
	return 0
}

func (a *Assembler) tooLarge(n int) error {
	a.closed = true
	a.residual = nil
	return &FrameError{
		Kind: FrameErrorTooLarge,
		Msg:  fmt.Sprintf("frame of %d bytes exceeds maximum %d", n, a.maxSize),
	}
}

// Encode returns frame followed by the delimiter, in a new slice.
func (a *Assembler) Encode(frame []byte) []byte {
	return appendDelimited(frame, a.delim)
}

// Closed reports whether the assembler reached its terminal state.
func (a *Assembler) Closed() bool {
	return a.closed
}

// Residual returns the number of buffered bytes awaiting a delimiter.
func (a *Assembler) Residual() int {
	return len(a.residual)
}

// Encode terminates frame with DefaultDelimiter.
func Encode(frame []byte) []byte {
	return appendDelimited(frame, DefaultDelimiter)
}

func appendDelimited(frame, delim []byte) []byte {
	buf := make([]byte, 0, len(frame)+len(delim))
	buf = append(buf, frame...)
	return append(buf, delim...)
}
