// Package server implements the broadcast relay.
//
// Each accepted connection gets a registry entry and a receive goroutine.
// Every decodable frame from one peer is forwarded, byte for byte, to all
// other registered peers. A peer whose write fails is pruned after the pass.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/justapithecus/tcplite/adapter"
	"github.com/justapithecus/tcplite/framing"
	"github.com/justapithecus/tcplite/iox"
	"github.com/justapithecus/tcplite/lode"
	"github.com/justapithecus/tcplite/log"
	"github.com/justapithecus/tcplite/metrics"
	"github.com/justapithecus/tcplite/registry"
)

var (
	// ErrNotListening is returned by Serve before Listen.
	ErrNotListening = errors.New("server: not listening")
	// ErrAlreadyListening is returned by a second Listen.
	ErrAlreadyListening = errors.New("server: already listening")
	// ErrServerStopped is returned by Listen after Stop.
	ErrServerStopped = errors.New("server: stopped")
)

// Archive receives a record of every relayed frame.
type Archive interface {
	Append(ctx context.Context, rec lode.PacketRecord) error
	Close() error
}

// StatsWriter is implemented by archives that also persist counters.
// The server writes a final snapshot on Stop.
type StatsWriter interface {
	WriteStats(ctx context.Context, snap metrics.Snapshot, at time.Time) error
}

// Server is a broadcast relay.
type Server struct {
	cfg       Config
	logger    *log.Logger
	collector *metrics.Collector
	archive   Archive
	registry  *registry.Registry
	notify    *notifier
	archiver  *archiver
	encode    func([]byte) []byte

	mu      sync.Mutex
	ln      net.Listener
	stopped bool
	done    chan struct{}

	conns    sync.WaitGroup
	bg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) { s.collector = c }
}

// WithNotifier publishes peer lifecycle events through a.
// The server closes a on Stop.
func WithNotifier(a adapter.Adapter) Option {
	return func(s *Server) { s.notify = newNotifier(a) }
}

// WithArchive records relayed frames. Records are written from a single
// goroutine through a bounded queue; the server closes the archive on Stop.
func WithArchive(a Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithRegistry supplies the client registry.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// New creates a server. It does not bind; call Listen or Start.
func New(cfg Config, opts ...Option) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	s := &Server{
		cfg:  cfg,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = log.NewNop()
	}
	if s.collector == nil {
		s.collector = metrics.NewCollector("server", cfg.Addr, string(cfg.Framing))
	}
	if s.registry == nil {
		s.registry = registry.New()
	}
	if s.notify == nil {
		s.notify = newNotifier(nil)
	}
	s.notify.logger = s.logger
	s.notify.collector = s.collector

	if cfg.Framing == framing.ModeLength {
		s.encode = framing.EncodeLength
	} else {
		s.encode = framing.Encode
	}

	s.archiver = newArchiver(s.archive, s.logger, s.collector)
	return s, nil
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServerStopped
	}
	if s.ln != nil {
		return ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln

	s.logger.Info("listening", map[string]any{
		"addr":          ln.Addr().String(),
		"backlog":       s.cfg.Backlog,
		"framing":       string(s.cfg.Framing),
		"direct_policy": string(s.cfg.DirectPolicy),
		"max_clients":   s.cfg.MaxClients,
	})
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start binds and serves until ctx ends or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop. It returns nil once the server is stopped,
// either by Stop or by ctx ending (which triggers Stop). Shutdown may still
// be in progress when Serve returns; call Stop to wait for it.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	stopOnCancel := context.AfterFunc(ctx, func() { _ = s.Stop() })
	defer stopOnCancel()

	s.startStatsReporter()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isStopped() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.accept(conn)
	}
}

func (s *Server) accept(conn net.Conn) {
	if s.cfg.MaxClients > 0 && s.registry.Len() >= s.cfg.MaxClients {
		s.reject(conn, "max clients reached")
		return
	}

	entry := registry.NewEntry(conn)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		iox.DiscardClose(conn)
		return
	}
	if err := s.registry.Add(entry); err != nil {
		s.mu.Unlock()
		s.reject(conn, err.Error())
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()

	s.collector.IncConnectionAccepted()
	s.logger.Info("peer connected", map[string]any{
		"peer":    entry.Addr,
		"peer_id": entry.ID,
		"peers":   s.registry.Len(),
	})
	s.notify.publish(s.peerEvent(adapter.EventPeerConnected, entry, ""))

	go s.serveConn(entry)
}

func (s *Server) reject(conn net.Conn, reason string) {
	s.collector.IncConnectionRejected()
	s.logger.Warn("rejecting connection", map[string]any{
		"peer":   conn.RemoteAddr().String(),
		"reason": reason,
	})
	iox.DiscardClose(conn)
}

// serveConn is the receive loop for one peer. It owns the peer's framer.
func (s *Server) serveConn(e *registry.Entry) {
	defer s.conns.Done()

	logger := s.logger.With(map[string]any{"peer": e.Addr, "peer_id": e.ID})
	framer, err := framing.New(s.cfg.Framing, framing.WithMaxFrameSize(s.cfg.MaxFrameSize))
	if err != nil {
		// Config was validated in New.
		panic(err)
	}

	buf := make([]byte, s.cfg.ChunkSize)
	reason := adapter.ReasonClosed
	for {
		n, readErr := e.Conn.Read(buf)
		if n > 0 {
			frames, ingestErr := framer.Ingest(buf[:n])
			for _, frame := range frames {
				s.onFrame(frame, e, logger)
			}
			if ingestErr != nil {
				s.collector.IncFrameError()
				logger.Warn("closing connection on frame error", map[string]any{"error": ingestErr.Error()})
				reason = adapter.ReasonFrameError
				break
			}
		}
		if readErr != nil {
			reason = s.classifyReadError(e, readErr, framer)
			if reason == adapter.ReasonTransportError {
				logger.Warn("read failed", map[string]any{"error": readErr.Error()})
			}
			break
		}
	}

	s.disconnect(e, reason, logger)
}

func (s *Server) classifyReadError(e *registry.Entry, err error, framer framing.Framer) string {
	switch {
	case iox.IsGracefulClose(err):
		// Discards any partial frame.
		_, _ = framer.Ingest(nil)
		return adapter.ReasonClosed
	case s.isStopped():
		return adapter.ReasonServerStopped
	case !e.Alive():
		// Pruned by a fan-out pass, which already reported it.
		return adapter.ReasonSendFailed
	default:
		return adapter.ReasonTransportError
	}
}

// disconnect removes e if it is still registered and reports it once.
func (s *Server) disconnect(e *registry.Entry, reason string, logger *log.Logger) {
	removed := s.registry.RemoveEntries([]*registry.Entry{e})
	iox.DiscardClose(e)
	if len(removed) == 0 {
		return
	}

	s.collector.IncConnectionClosed(reason)
	logger.Info("peer disconnected", map[string]any{
		"reason": reason,
		"peers":  s.registry.Len(),
	})
	s.notify.publish(s.peerEvent(adapter.EventPeerDisconnected, e, reason))
}

func (s *Server) peerEvent(eventType string, e *registry.Entry, reason string) *adapter.PeerEvent {
	serverAddr := s.cfg.Addr
	if addr := s.Addr(); addr != nil {
		serverAddr = addr.String()
	}
	return newPeerEvent(eventType, e, reason, serverAddr, s.registry.Len())
}

// Stop shuts the server down:
//  1. stop accepting and close the listener
//  2. close every peer connection so receive loops exit
//  3. wait for receive loops and the stats reporter
//  4. drain the archive queue, write final stats and close the archive,
//     then drain and close the notifier
//
// Safe to call more than once and from multiple goroutines; every call
// returns after shutdown completes.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { s.stopErr = s.shutdown() })
	return s.stopErr
}

func (s *Server) shutdown() error {
	s.mu.Lock()
	s.stopped = true
	ln := s.ln
	s.mu.Unlock()
	close(s.done)

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !iox.IsLocalClose(err) {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}

	peers := s.registry.Snapshot()
	for _, e := range peers {
		iox.DiscardClose(e)
	}
	s.conns.Wait()
	s.bg.Wait()

	if err := s.archiver.close(s.collector.Snapshot); err != nil {
		errs = append(errs, fmt.Errorf("close archive: %w", err))
	}

	if err := s.notify.close(); err != nil {
		errs = append(errs, fmt.Errorf("close notifier: %w", err))
	}

	s.logger.Info("stopped", map[string]any{"peers_closed": len(peers)})
	return errors.Join(errs...)
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stats returns a snapshot of the relay counters.
func (s *Server) Stats() metrics.Snapshot {
	return s.collector.Snapshot()
}

// Registry exposes the live client registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}
