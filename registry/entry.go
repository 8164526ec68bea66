package registry

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrEntryClosed is returned by Send after the entry was closed.
var ErrEntryClosed = errors.New("registry: entry closed")

// Entry is one live peer connection.
// An entry is never reused once removed from a registry.
type Entry struct {
	// ID uniquely identifies this connection, even across reconnects from
	// the same address.
	ID string
	// Addr is the peer's remote address and the registry key.
	Addr string
	// Conn is the underlying stream.
	Conn net.Conn
	// ConnectedAt is the accept time.
	ConnectedAt time.Time

	seq   uint64
	alive atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewEntry wraps an accepted connection.
func NewEntry(conn net.Conn) *Entry {
	e := &Entry{
		ID:          uuid.NewString(),
		Addr:        conn.RemoteAddr().String(),
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
	e.alive.Store(true)
	return e
}

// Send writes b in full. Concurrent Sends on one entry are serialized so
// frames never interleave. A positive timeout bounds the write.
func (e *Entry) Send(b []byte, timeout time.Duration) error {
	if !e.alive.Load() {
		return ErrEntryClosed
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if timeout > 0 {
		if err := e.Conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := e.Conn.Write(b)
	return err
}

// Alive reports whether the entry is still registered and open.
func (e *Entry) Alive() bool {
	return e.alive.Load()
}

// Close marks the entry dead and closes its connection. Safe to call more
// than once; later calls return the first result.
func (e *Entry) Close() error {
	e.closeOnce.Do(func() {
		e.alive.Store(false)
		e.closeErr = e.Conn.Close()
	})
	return e.closeErr
}
