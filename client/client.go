// Package client implements a reconnecting relay client.
//
// A Client keeps one connection to the relay. Received frames are decoded and
// handed to a Handler on the client's receive goroutine. When the connection
// fails, the client runs a bounded connect sequence; if that sequence is
// exhausted the client fails permanently and Done is closed.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/justapithecus/tcplite/codec"
	"github.com/justapithecus/tcplite/framing"
	"github.com/justapithecus/tcplite/iox"
	"github.com/justapithecus/tcplite/log"
	"github.com/justapithecus/tcplite/metrics"
	"github.com/justapithecus/tcplite/types"
)

var (
	// ErrRetriesExhausted is returned when a connect sequence used all attempts.
	ErrRetriesExhausted = errors.New("client: retries exhausted")
	// ErrNotDelivered is returned by Send when the write failed and the
	// client reconnected. The payload was not replayed.
	ErrNotDelivered = errors.New("client: payload not delivered")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: closed")
	// ErrNotStarted is returned by Send before Start.
	ErrNotStarted = errors.New("client: not started")
)

// Handler receives every decoded packet together with the frame it was
// decoded from, delimiter excluded. It runs on the receive goroutine.
type Handler func(pkt *types.Packet, frame []byte)

// Dialer opens connections to the relay.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client is a reconnecting relay client. Safe for concurrent use.
type Client struct {
	cfg       Config
	handler   Handler
	logger    *log.Logger
	collector *metrics.Collector
	dialer    Dialer
	rng       *rand.Rand
	encode    func([]byte) []byte

	ctx    context.Context
	cancel context.CancelFunc

	// reconnectMu serializes connect sequences.
	reconnectMu sync.Mutex
	// writeMu serializes writes to the current connection.
	writeMu sync.Mutex

	mu      sync.Mutex
	conn    net.Conn
	gen     uint64
	started bool
	closed  bool
	err     error

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(m *metrics.Collector) Option {
	return func(c *Client) { c.collector = m }
}

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New creates a client. It does not connect; call Start.
// A nil handler discards received packets.
func New(cfg Config, handler Handler, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client config: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		handler: handler,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = log.NewNop()
	}
	if c.collector == nil {
		c.collector = metrics.NewCollector("client", cfg.Addr, string(cfg.Framing))
	}
	if c.dialer == nil {
		c.dialer = &net.Dialer{Timeout: cfg.DialTimeout}
	}
	if cfg.Framing == framing.ModeLength {
		c.encode = framing.EncodeLength
	} else {
		c.encode = framing.Encode
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Start connects and starts the receive goroutine. ctx bounds the initial
// connect sequence only; reconnects run until Close.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("client: already started")
	}
	c.started = true
	c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		iox.DiscardClose(conn)
		return ErrClosed
	}
	c.conn = conn
	c.gen++
	c.wg.Add(1)
	c.mu.Unlock()

	go c.receiveLoop()
	return nil
}

// connect dials until success or MaxAttempts failures.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		conn, err := c.dialer.DialContext(dialCtx, "tcp", c.cfg.Addr)
		cancel()
		if err == nil {
			c.collector.IncClientConnect()
			c.logger.Info("connected", map[string]any{
				"addr":    c.cfg.Addr,
				"attempt": attempt,
			})
			return conn, nil
		}

		lastErr = err
		c.collector.IncClientDialFailure()
		c.logger.Warn("dial failed", map[string]any{
			"addr":    c.cfg.Addr,
			"attempt": attempt,
			"error":   err.Error(),
		})

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= c.cfg.MaxAttempts {
			return nil, fmt.Errorf("%w: %d attempts to %s: %w", ErrRetriesExhausted, attempt, c.cfg.Addr, lastErr)
		}
		if err := sleepCtx(ctx, c.cfg.Backoff.Delay(attempt, c.rng)); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reconnect replaces the connection of generation gen. If another caller
// already replaced it, reconnect waits for that sequence and reports its
// outcome instead of dialing again.
func (c *Client) reconnect(gen uint64) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	old := c.conn
	c.conn = nil
	c.mu.Unlock()

	if old != nil {
		iox.DiscardClose(old)
	}

	c.logger.Info("reconnecting", map[string]any{"addr": c.cfg.Addr})
	conn, err := c.connect(c.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		if conn != nil {
			iox.DiscardClose(conn)
		}
		return ErrClosed
	}
	if err != nil {
		c.failLocked(err)
		return err
	}
	c.conn = conn
	c.gen++
	return nil
}

// current returns the live connection and its generation.
func (c *Client) current() (net.Conn, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return nil, 0, ErrClosed
	case c.err != nil:
		return nil, 0, c.err
	case c.gen == 0:
		return nil, 0, ErrNotStarted
	}
	return c.conn, c.gen, nil
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		conn, gen, err := c.current()
		if err != nil {
			return
		}

		readErr := io.ErrClosedPipe
		if conn != nil {
			readErr = c.readConn(conn)
		}

		if _, _, err := c.current(); err != nil {
			return
		}
		if iox.IsGracefulClose(readErr) || iox.IsReset(readErr) {
			c.logger.Info("relay closed connection", map[string]any{"error": readErr.Error()})
		} else {
			c.logger.Warn("connection lost", map[string]any{"error": readErr.Error()})
		}
		if err := c.reconnect(gen); err != nil {
			return
		}
	}
}

// readConn reads frames from conn until it fails. Always returns non-nil.
func (c *Client) readConn(conn net.Conn) error {
	framer, err := framing.New(c.cfg.Framing, framing.WithMaxFrameSize(c.cfg.MaxFrameSize))
	if err != nil {
		return err
	}

	buf := make([]byte, c.cfg.ChunkSize)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			frames, ingestErr := framer.Ingest(buf[:n])
			for _, frame := range frames {
				c.dispatch(frame)
			}
			if ingestErr != nil {
				return ingestErr
			}
		}
		if readErr != nil {
			if iox.IsGracefulClose(readErr) {
				_, _ = framer.Ingest(nil)
			}
			return readErr
		}
	}
}

func (c *Client) dispatch(frame []byte) {
	pkt, err := codec.Decode(frame)
	if err != nil {
		c.logger.Warn("dropping malformed frame", map[string]any{
			"error":      err.Error(),
			"size_bytes": len(frame),
		})
		return
	}
	if c.handler != nil {
		c.handler(pkt, frame)
	}
}

// Send writes one frame carrying payload. payload is an already encoded
// packet (see codec.Encode).
//
// On a write failure Send reconnects and returns ErrNotDelivered; the
// payload is not replayed. If reconnecting fails, Send returns the fatal
// error, which also becomes Err.
func (c *Client) Send(payload []byte) error {
	conn, gen, err := c.current()
	if err != nil {
		return err
	}

	writeErr := io.ErrClosedPipe
	if conn != nil {
		writeErr = c.write(conn, c.encode(payload))
	}
	if writeErr == nil {
		c.collector.IncPacketSent()
		return nil
	}

	c.collector.IncClientSendFailure()
	c.logger.Warn("send failed", map[string]any{"error": writeErr.Error()})
	if err := c.reconnect(gen); err != nil {
		return err
	}
	return ErrNotDelivered
}

func (c *Client) write(conn net.Conn, b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(b)
	return err
}

// SendPacket encodes pkt and sends it. Encoding errors are returned as-is.
func (c *Client) SendPacket(pkt *types.Packet) error {
	frame, err := codec.Encode(pkt)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(err)
}

func (c *Client) failLocked(err error) {
	if c.closed || c.err != nil {
		return
	}
	c.err = err
	c.logger.Error("client failed", map[string]any{"error": err.Error()})
	c.doneOnce.Do(func() { close(c.done) })
}

// Close stops the client and waits for the receive goroutine. Err stays nil
// unless the client had already failed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	var err error
	if conn != nil {
		if cerr := conn.Close(); cerr != nil && !iox.IsLocalClose(cerr) {
			err = cerr
		}
	}
	c.doneOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return err
}

// Done is closed when the client fails or is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the fatal error after Done is closed, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() metrics.Snapshot {
	return c.collector.Snapshot()
}
