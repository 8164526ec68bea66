package iox

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		graceful bool
		local    bool
		reset    bool
	}{
		{"eof", io.EOF, true, false, false},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true, false, false},
		{"closed", &net.OpError{Op: "read", Err: net.ErrClosed}, false, true, false},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, false, false, true},
		{"broken pipe", &net.OpError{Op: "write", Err: syscall.EPIPE}, false, false, true},
		{"other", errors.New("boom"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsGracefulClose(tt.err); got != tt.graceful {
				t.Errorf("IsGracefulClose = %v, want %v", got, tt.graceful)
			}
			if got := IsLocalClose(tt.err); got != tt.local {
				t.Errorf("IsLocalClose = %v, want %v", got, tt.local)
			}
			if got := IsReset(tt.err); got != tt.reset {
				t.Errorf("IsReset = %v, want %v", got, tt.reset)
			}
		})
	}
}
