package framing

import (
	"encoding/binary"
	"fmt"
)

// LengthPrefixSize is the size of the length prefix in bytes.
const LengthPrefixSize = 4

// LengthAssembler reassembles frames carrying a 4-byte big-endian length
// prefix. Payload bytes are never interpreted, so any content is safe.
type LengthAssembler struct {
	maxSize  int
	residual []byte
	closed   bool
}

var _ Framer = (*LengthAssembler)(nil)

// NewLengthAssembler creates a length-prefixed assembler in the open state.
func NewLengthAssembler(opts ...Option) *LengthAssembler {
	o := buildOptions(opts)
	return &LengthAssembler{maxSize: o.maxFrameSize}
}

// Ingest has the same contract as Assembler.Ingest.
func (l *LengthAssembler) Ingest(chunk []byte) ([][]byte, error) {
	if l.closed {
		return nil, ErrConnectionClosed
	}
	if len(chunk) == 0 {
		l.closed = true
		l.residual = nil
		return nil, nil
	}

	l.residual = append(l.residual, chunk...)

	var frames [][]byte
	start := 0
	for len(l.residual)-start >= LengthPrefixSize {
		size := binary.BigEndian.Uint32(l.residual[start : start+LengthPrefixSize])
		if uint64(size) > uint64(l.maxSize) {
			l.closed = true
			l.residual = nil
			return frames, &FrameError{
				Kind: FrameErrorTooLarge,
				Msg:  fmt.Sprintf("length prefix %d exceeds maximum %d", size, l.maxSize),
			}
		}
		end := start + LengthPrefixSize + int(size)
		if end > len(l.residual) {
			break
		}
		frame := make([]byte, size)
		copy(frame, l.residual[start+LengthPrefixSize:end])
		frames = append(frames, frame)
		start = end
	}

	if start > 0 {
		l.residual = append(l.residual[:0], l.residual[start:]...)
	}
	return frames, nil
}

// Encode prefixes frame with its length.
func (l *LengthAssembler) Encode(frame []byte) []byte {
	return EncodeLength(frame)
}

// Closed reports whether the assembler reached its terminal state.
func (l *LengthAssembler) Closed() bool {
	return l.closed
}

// Residual returns the number of buffered bytes awaiting completion.
func (l *LengthAssembler) Residual() int {
	return len(l.residual)
}

// EncodeLength prefixes frame with its 4-byte big-endian length.
func EncodeLength(frame []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(frame))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(frame)))
	copy(buf[LengthPrefixSize:], frame)
	return buf
}
