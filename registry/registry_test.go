package registry

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn records writes and fails them once writeErr is set.
type fakeConn struct {
	net.Conn
	addr     fakeAddr
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	closed   int
	deadline time.Time
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{addr: fakeAddr(addr)}
}

func (c *fakeConn) RemoteAddr() net.Addr { return c.addr }

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.buf.Write(b)
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func TestRegistry_AddRemove(t *testing.T) {
	r := New()
	if !r.IsEmpty() {
		t.Fatal("new registry is not empty")
	}

	a := NewEntry(newFakeConn("10.0.0.1:1000"))
	if err := r.Add(a); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(NewEntry(newFakeConn("10.0.0.1:1000"))); !errors.Is(err, ErrDuplicateAddr) {
		t.Errorf("duplicate Add error = %v, want ErrDuplicateAddr", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if got, ok := r.Get(a.Addr); !ok || got != a {
		t.Errorf("Get(%q) = %v, %v", a.Addr, got, ok)
	}

	removed, ok := r.Remove(a.Addr)
	if !ok || removed != a {
		t.Fatalf("Remove = %v, %v", removed, ok)
	}
	if a.Alive() {
		t.Error("removed entry still alive")
	}
	if _, ok := r.Remove(a.Addr); ok {
		t.Error("second Remove reported success")
	}
	if !r.IsEmpty() {
		t.Error("registry not empty after Remove")
	}
}

func TestRegistry_SnapshotExcluding(t *testing.T) {
	r := New()
	addrs := []string{"a:1", "b:2", "c:3", "d:4"}
	for _, addr := range addrs {
		if err := r.Add(NewEntry(newFakeConn(addr))); err != nil {
			t.Fatalf("Add(%s) failed: %v", addr, err)
		}
	}

	snap := r.SnapshotExcluding("b:2")
	var got []string
	for _, e := range snap {
		got = append(got, e.Addr)
	}
	if fmt.Sprint(got) != "[a:1 c:3 d:4]" {
		t.Errorf("snapshot = %v, want [a:1 c:3 d:4]", got)
	}

	r.Remove("c:3")
	if len(snap) != 3 {
		t.Error("snapshot changed after mutation")
	}
	if len(r.Snapshot()) != 3 {
		t.Errorf("Snapshot len = %d, want 3", len(r.Snapshot()))
	}
}

func TestRegistry_RemoveEntriesChecksIdentity(t *testing.T) {
	r := New()
	old := NewEntry(newFakeConn("a:1"))
	other := NewEntry(newFakeConn("b:2"))
	_ = r.Add(old)
	_ = r.Add(other)

	// The peer reconnected from the same address before the batch ran.
	r.Remove("a:1")
	fresh := NewEntry(newFakeConn("a:1"))
	_ = r.Add(fresh)

	removed := r.RemoveEntries([]*Entry{old, other})
	if len(removed) != 1 || removed[0] != other {
		t.Errorf("removed = %v, want only b:2", removed)
	}
	if got, ok := r.Get("a:1"); !ok || got != fresh {
		t.Error("fresh entry at reused address was evicted")
	}
	if _, ok := r.Get("b:2"); ok {
		t.Error("b:2 still registered")
	}
	if other.Alive() {
		t.Error("removed entry still alive")
	}
}

func TestEntry_SendAndClose(t *testing.T) {
	conn := newFakeConn("a:1")
	e := NewEntry(conn)
	if e.ID == "" {
		t.Error("entry has no ID")
	}

	if err := e.Send([]byte("hello"), time.Second); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if conn.buf.String() != "hello" {
		t.Errorf("written = %q", conn.buf.String())
	}
	if conn.deadline.IsZero() {
		t.Error("write deadline not set")
	}

	conn.writeErr = errors.New("broken pipe")
	if err := e.Send([]byte("x"), 0); err == nil {
		t.Error("expected write error")
	}

	_ = e.Close()
	_ = e.Close()
	if conn.closed != 1 {
		t.Errorf("conn closed %d times, want 1", conn.closed)
	}
	if err := e.Send([]byte("x"), 0); !errors.Is(err, ErrEntryClosed) {
		t.Errorf("Send after Close = %v, want ErrEntryClosed", err)
	}
}

func TestRegistry_ConcurrentStress(t *testing.T) {
	r := New()
	const workers = 8
	const rounds = 200

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range rounds {
				addr := fmt.Sprintf("10.0.%d.%d:%d", w, i%16, i)
				e := NewEntry(newFakeConn(addr))
				if err := r.Add(e); err != nil {
					errCh <- fmt.Errorf("Add(%s): %w", addr, err)
					return
				}
				_ = r.SnapshotExcluding(addr)

				if i%3 == 0 {
					r.RemoveEntries([]*Entry{e})
				} else {
					r.Remove(addr)
				}

				for _, s := range r.SnapshotExcluding("") {
					if s == e {
						errCh <- fmt.Errorf("snapshot contains %s removed before it started", addr)
						return
					}
				}
				_ = r.Len()
			}
		}(w)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
	if !r.IsEmpty() {
		t.Errorf("registry has %d entries after stress, want 0", r.Len())
	}
}
