// Package iox provides I/O helpers for connection cleanup and close detection.
package iox

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(conn)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(ln))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// IsGracefulClose reports whether err from a stream read means the peer
// finished cleanly rather than failed.
func IsGracefulClose(err error) bool {
	return errors.Is(err, io.EOF)
}

// IsLocalClose reports whether err came from using a connection or listener
// this process already closed.
func IsLocalClose(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// IsReset reports whether the peer aborted the connection.
func IsReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
