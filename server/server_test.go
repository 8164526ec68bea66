package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/tcplite/adapter"
	"github.com/justapithecus/tcplite/codec"
	"github.com/justapithecus/tcplite/framing"
	"github.com/justapithecus/tcplite/lode"
	"github.com/justapithecus/tcplite/metrics"
	"github.com/justapithecus/tcplite/registry"
	"github.com/justapithecus/tcplite/types"
)

const waitTimeout = 3 * time.Second

// recordingAdapter captures published peer events.
type recordingAdapter struct {
	mu     sync.Mutex
	events []adapter.PeerEvent
	closed bool
}

func (r *recordingAdapter) Publish(_ context.Context, ev *adapter.PeerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

func (r *recordingAdapter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingAdapter) find(eventType, reason string) (adapter.PeerEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.EventType == eventType && ev.Reason == reason {
			return ev, true
		}
	}
	return adapter.PeerEvent{}, false
}

// recordingArchive captures relayed packet records.
type recordingArchive struct {
	mu      sync.Mutex
	records []lode.PacketRecord
	stats   int
	closed  bool
}

func (a *recordingArchive) Append(_ context.Context, rec lode.PacketRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingArchive) WriteStats(context.Context, metrics.Snapshot, time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats++
	return nil
}

func (a *recordingArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// brokenConn is a peer whose writes always fail.
type brokenConn struct {
	net.Conn
	addr   net.Addr
	mu     sync.Mutex
	closed bool
}

func (c *brokenConn) Write([]byte) (int, error)        { return 0, errors.New("broken pipe") }
func (c *brokenConn) SetWriteDeadline(time.Time) error { return nil }
func (c *brokenConn) RemoteAddr() net.Addr             { return c.addr }
func (c *brokenConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *brokenConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func startServer(t *testing.T, cfg Config, opts ...Option) *Server {
	t.Helper()

	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	srv, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background()) }()

	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(waitTimeout):
			t.Error("Serve did not return after Stop")
		}
	})
	return srv
}

// dialPeers connects n peers and waits until all are registered.
func dialPeers(t *testing.T, srv *Server, n int) []net.Conn {
	t.Helper()

	before := srv.Registry().Len()
	conns := make([]net.Conn, n)
	for i := range conns {
		conn, err := net.Dial("tcp", srv.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { _ = conn.Close() })
		conns[i] = conn
	}
	waitFor(t, "peers registered", func() bool { return srv.Registry().Len() == before+n })
	return conns
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func encodePacket(t *testing.T, event types.EventType, data types.DataType, payload any) []byte {
	t.Helper()
	frame, err := codec.Encode(&types.Packet{Event: event, Data: data, Payload: payload})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return frame
}

// readFrame reads until one frame is assembled or the timeout expires.
func readFrame(t *testing.T, conn net.Conn, f framing.Framer, timeout time.Duration) ([]byte, error) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, ferr := f.Ingest(buf[:n])
			if ferr != nil {
				return nil, ferr
			}
			if len(frames) > 0 {
				return frames[0], nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func expectNoFrame(t *testing.T, conn net.Conn) {
	t.Helper()
	frame, err := readFrame(t, conn, framing.NewAssembler(), 150*time.Millisecond)
	if err == nil {
		t.Fatalf("unexpected frame %x", frame)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func TestServer_BroadcastExcludesSender(t *testing.T) {
	srv := startServer(t, Config{})
	peers := dialPeers(t, srv, 3)
	a, b, c := peers[0], peers[1], peers[2]

	frame := encodePacket(t, types.EventBroadcast, types.DataText, "hello")
	if _, err := a.Write(framing.Encode(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}

	for name, conn := range map[string]net.Conn{"B": b, "C": c} {
		got, err := readFrame(t, conn, framing.NewAssembler(), waitTimeout)
		if err != nil {
			t.Fatalf("%s read: %v", name, err)
		}
		if !bytes.Equal(got, frame) {
			t.Errorf("%s got %x, want %x", name, got, frame)
		}
	}
	expectNoFrame(t, a)

	waitFor(t, "relay counted", func() bool { return srv.Stats().FramesRelayed == 1 })
	stats := srv.Stats()
	if stats.DeliveriesOK != 2 {
		t.Errorf("DeliveriesOK = %d, want 2", stats.DeliveriesOK)
	}
}

func TestServer_VincentJSON(t *testing.T) {
	srv := startServer(t, Config{})
	peers := dialPeers(t, srv, 3)

	payload := map[string]any{"name": "Vincent", "greetings": "Hello my friend"}
	frame := encodePacket(t, types.EventBroadcast, types.DataJSON, payload)
	if _, err := peers[0].Write(framing.Encode(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := append([]byte{0x02, 0x04}, []byte(`{"greetings":"Hello my friend","name":"Vincent"}`)...)
	want = append(want, 0xFF, 0xFF, 0x00, 0x00)

	for _, conn := range peers[1:] {
		_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
		got := make([]byte, len(want))
		if _, err := io.ReadFull(conn, got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("wire bytes = %x, want %x", got, want)
		}

		pkt, err := codec.Decode(got[:len(got)-4])
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		m, ok := pkt.Payload.(map[string]any)
		if !ok || m["name"] != "Vincent" || m["greetings"] != "Hello my friend" {
			t.Errorf("payload = %#v", pkt.Payload)
		}
	}
}

func TestServer_PrunesFailedPeer(t *testing.T) {
	reg := registry.New()
	broken := &brokenConn{addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4242}}
	brokenEntry := registry.NewEntry(broken)
	if err := reg.Add(brokenEntry); err != nil {
		t.Fatalf("Add: %v", err)
	}

	notes := &recordingAdapter{}
	srv := startServer(t, Config{}, WithRegistry(reg), WithNotifier(notes))
	peers := dialPeers(t, srv, 2)

	frame := encodePacket(t, types.EventBroadcast, types.DataRaw, []byte{1, 2, 3})
	if _, err := peers[0].Write(framing.Encode(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := readFrame(t, peers[1], framing.NewAssembler(), waitTimeout)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("healthy peer got %x, want %x", got, frame)
	}

	waitFor(t, "broken peer pruned", func() bool { return srv.Registry().Len() == 2 })
	if _, ok := srv.Registry().Get(brokenEntry.Addr); ok {
		t.Error("broken peer still registered")
	}
	if !broken.isClosed() {
		t.Error("broken peer connection not closed")
	}
	if brokenEntry.Alive() {
		t.Error("broken entry still alive")
	}

	waitFor(t, "send_failed notification", func() bool {
		_, ok := notes.find(adapter.EventPeerDisconnected, adapter.ReasonSendFailed)
		return ok
	})
	ev, _ := notes.find(adapter.EventPeerDisconnected, adapter.ReasonSendFailed)
	if ev.PeerID != brokenEntry.ID {
		t.Errorf("PeerID = %q, want %q", ev.PeerID, brokenEntry.ID)
	}
	if ev.ContractVersion != types.ContractVersion {
		t.Errorf("ContractVersion = %q", ev.ContractVersion)
	}

	stats := srv.Stats()
	if stats.PeersPruned != 1 {
		t.Errorf("PeersPruned = %d, want 1", stats.PeersPruned)
	}
	if stats.DeliveriesFailed != 1 || stats.DeliveriesOK != 1 {
		t.Errorf("deliveries ok/failed = %d/%d, want 1/1", stats.DeliveriesOK, stats.DeliveriesFailed)
	}
	if stats.ClosedByReason[adapter.ReasonSendFailed] != 1 {
		t.Errorf("ClosedByReason = %v", stats.ClosedByReason)
	}
}

func TestServer_MalformedFrameKeepsConnection(t *testing.T) {
	srv := startServer(t, Config{})
	peers := dialPeers(t, srv, 2)
	a, b := peers[0], peers[1]

	bad := []byte{0x09, 0x01, 'x'}
	good := encodePacket(t, types.EventBroadcast, types.DataText, "after")

	var stream []byte
	stream = append(stream, framing.Encode(bad)...)
	stream = append(stream, framing.Encode(good)...)
	if _, err := a.Write(stream); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := readFrame(t, b, framing.NewAssembler(), waitTimeout)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, good) {
		t.Errorf("got %x, want %x", got, good)
	}

	stats := srv.Stats()
	if stats.FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", stats.FramesDropped)
	}
	if stats.DroppedByKind["unknown_event_type"] != 1 {
		t.Errorf("DroppedByKind = %v", stats.DroppedByKind)
	}
	if srv.Registry().Len() != 2 {
		t.Errorf("registry len = %d, want 2", srv.Registry().Len())
	}
}

func TestServer_DirectPolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    DirectPolicy
		wantRelay bool
	}{
		{"broadcast", DirectBroadcast, true},
		{"drop", DirectDrop, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startServer(t, Config{DirectPolicy: tt.policy})
			peers := dialPeers(t, srv, 2)

			direct := encodePacket(t, types.EventDirectMsg, types.DataText, "direct")
			marker := encodePacket(t, types.EventBroadcast, types.DataText, "marker")
			stream := append(framing.Encode(direct), framing.Encode(marker)...)
			if _, err := peers[0].Write(stream); err != nil {
				t.Fatalf("write: %v", err)
			}

			f := framing.NewAssembler()
			first, err := readFrame(t, peers[1], f, waitTimeout)
			if err != nil {
				t.Fatalf("read: %v", err)
			}

			want := marker
			if tt.wantRelay {
				want = direct
			}
			if !bytes.Equal(first, want) {
				t.Errorf("first frame = %x, want %x", first, want)
			}
			if !tt.wantRelay && srv.Stats().DroppedByKind[dropDirectPolicy] != 1 {
				t.Errorf("DroppedByKind = %v", srv.Stats().DroppedByKind)
			}
		})
	}
}

func TestServer_MaxClientsRejects(t *testing.T) {
	srv := startServer(t, Config{MaxClients: 1})
	dialPeers(t, srv, 1)

	extra, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer extra.Close()

	_ = extra.SetReadDeadline(time.Now().Add(waitTimeout))
	buf := make([]byte, 1)
	if _, err := extra.Read(buf); err == nil {
		t.Fatal("expected rejected connection to be closed")
	}

	waitFor(t, "rejection counted", func() bool { return srv.Stats().ConnectionsRejected == 1 })
	if srv.Registry().Len() != 1 {
		t.Errorf("registry len = %d, want 1", srv.Registry().Len())
	}
}

func TestServer_PeerCloseNotifies(t *testing.T) {
	notes := &recordingAdapter{}
	srv := startServer(t, Config{}, WithNotifier(notes))
	peers := dialPeers(t, srv, 2)

	waitFor(t, "connect notifications", func() bool {
		notes.mu.Lock()
		defer notes.mu.Unlock()
		return len(notes.events) == 2
	})

	_ = peers[0].Close()
	waitFor(t, "peer removed", func() bool { return srv.Registry().Len() == 1 })
	waitFor(t, "closed notification", func() bool {
		_, ok := notes.find(adapter.EventPeerDisconnected, adapter.ReasonClosed)
		return ok
	})

	ev, _ := notes.find(adapter.EventPeerDisconnected, adapter.ReasonClosed)
	if ev.Peers != 1 {
		t.Errorf("Peers = %d, want 1", ev.Peers)
	}
	if srv.Stats().ClosedByReason[adapter.ReasonClosed] != 1 {
		t.Errorf("ClosedByReason = %v", srv.Stats().ClosedByReason)
	}
}

func TestServer_StopClosesPeersAndIsIdempotent(t *testing.T) {
	notes := &recordingAdapter{}
	archive := &recordingArchive{}

	srv, err := New(Config{Addr: "127.0.0.1:0"}, WithNotifier(notes), WithArchive(archive))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background()) }()

	peers := dialPeers(t, srv, 1)

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return")
	}

	_ = peers[0].SetReadDeadline(time.Now().Add(waitTimeout))
	if _, err := peers[0].Read(make([]byte, 1)); err == nil {
		t.Error("expected peer connection closed by Stop")
	}

	if srv.Registry().Len() != 0 {
		t.Errorf("registry len = %d, want 0", srv.Registry().Len())
	}
	if _, ok := notes.find(adapter.EventPeerDisconnected, adapter.ReasonServerStopped); !ok {
		t.Error("missing server_stopped notification")
	}
	if !notes.closed {
		t.Error("notifier adapter not closed")
	}
	if !archive.closed || archive.stats != 1 {
		t.Errorf("archive closed=%v stats=%d, want true/1", archive.closed, archive.stats)
	}
	if err := srv.Listen(); !errors.Is(err, ErrServerStopped) {
		t.Errorf("Listen after Stop = %v, want ErrServerStopped", err)
	}
}

func TestServer_ContextCancelStops(t *testing.T) {
	srv, err := New(Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	served := make(chan error, 1)
	go func() { served <- srv.Start(ctx) }()

	waitFor(t, "listening", func() bool { return srv.Addr() != nil })
	cancel()

	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Start = %v, want nil", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Start did not return after cancel")
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestServer_ArchivesRelayedFrames(t *testing.T) {
	archive := &recordingArchive{}
	srv := startServer(t, Config{}, WithArchive(archive))
	peers := dialPeers(t, srv, 3)

	frame := encodePacket(t, types.EventBroadcast, types.DataText, "archived")
	if _, err := peers[0].Write(framing.Encode(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "archive record", func() bool {
		archive.mu.Lock()
		defer archive.mu.Unlock()
		return len(archive.records) == 1
	})

	archive.mu.Lock()
	rec := archive.records[0]
	archive.mu.Unlock()

	if rec.Origin != peers[0].LocalAddr().String() {
		t.Errorf("Origin = %q, want %q", rec.Origin, peers[0].LocalAddr().String())
	}
	if rec.Recipients != 2 || rec.Delivered != 2 || rec.Failed != 0 {
		t.Errorf("recipients/delivered/failed = %d/%d/%d", rec.Recipients, rec.Delivered, rec.Failed)
	}
	if !bytes.Equal(rec.Frame, frame) || rec.Data != types.DataText {
		t.Errorf("record = %+v", rec)
	}
}

func TestServer_LengthFraming(t *testing.T) {
	srv := startServer(t, Config{Framing: framing.ModeLength})
	peers := dialPeers(t, srv, 2)

	// Contains the delimiter, which length framing carries intact.
	frame := encodePacket(t, types.EventBroadcast, types.DataRaw, []byte{0xFF, 0xFF, 0x00, 0x00, 0x07})
	if _, err := peers[0].Write(framing.EncodeLength(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := readFrame(t, peers[1], framing.NewLengthAssembler(), waitTimeout)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("got %x, want %x", got, frame)
	}
}

func TestServer_OversizedFrameClosesConnection(t *testing.T) {
	notes := &recordingAdapter{}
	srv := startServer(t, Config{MaxFrameSize: 64, ChunkSize: 32}, WithNotifier(notes))
	peers := dialPeers(t, srv, 1)

	if _, err := peers[0].Write(bytes.Repeat([]byte{0x02}, 200)); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "frame_error notification", func() bool {
		_, ok := notes.find(adapter.EventPeerDisconnected, adapter.ReasonFrameError)
		return ok
	})
	if srv.Stats().FrameErrors != 1 {
		t.Errorf("FrameErrors = %d, want 1", srv.Stats().FrameErrors)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Addr != DefaultAddr || cfg.Backlog != DefaultBacklog || cfg.ChunkSize != DefaultChunkSize {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.DirectPolicy != DirectBroadcast || cfg.Framing != framing.ModeDelimiter {
		t.Errorf("policy/framing = %q/%q", cfg.DirectPolicy, cfg.Framing)
	}
	if cfg.WriteTimeout != DefaultWriteTimeout || cfg.MaxFrameSize != framing.DefaultMaxFrameSize {
		t.Errorf("timeout/max frame = %v/%d", cfg.WriteTimeout, cfg.MaxFrameSize)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative max clients", Config{MaxClients: -1}},
		{"bad policy", Config{DirectPolicy: "unicast"}},
		{"bad framing", Config{Framing: "xml"}},
		{"negative stats interval", Config{StatsInterval: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseDirectPolicy(t *testing.T) {
	for in, want := range map[string]DirectPolicy{"": DirectBroadcast, "broadcast": DirectBroadcast, "drop": DirectDrop} {
		got, err := ParseDirectPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseDirectPolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDirectPolicy("direct"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
