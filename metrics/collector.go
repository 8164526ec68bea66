// Package metrics collects relay and client counters.
//
// The Collector accumulates counters for the lifetime of a server or client.
// It is a leaf package with no internal dependencies; callers pass string
// reasons rather than typed errors.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Connections (server)
	ConnectionsAccepted int64
	ConnectionsRejected int64
	ConnectionsClosed   int64
	ClosedByReason      map[string]int64

	// Frames (server and client)
	FramesReceived int64
	FramesDropped  int64
	DroppedByKind  map[string]int64
	FrameErrors    int64

	// Fan-out (server)
	FramesRelayed    int64
	DeliveriesOK     int64
	DeliveriesFailed int64
	PeersPruned      int64

	// Side channels (server)
	ArchiveWriteSuccess int64
	ArchiveWriteFailure int64
	ArchiveDropped      int64
	NotifyFailure       int64

	// Client
	ClientConnects     int64
	ClientReconnects   int64
	ClientDialFailures int64
	ClientSendFailures int64
	PacketsSent        int64

	// Dimensions (informational, set at construction)
	Role    string
	Addr    string
	Framing string
}

// Fields flattens the snapshot for structured logging.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"role":                  s.Role,
		"addr":                  s.Addr,
		"framing":               s.Framing,
		"connections_accepted":  s.ConnectionsAccepted,
		"connections_rejected":  s.ConnectionsRejected,
		"connections_closed":    s.ConnectionsClosed,
		"frames_received":       s.FramesReceived,
		"frames_dropped":        s.FramesDropped,
		"frame_errors":          s.FrameErrors,
		"frames_relayed":        s.FramesRelayed,
		"deliveries_ok":         s.DeliveriesOK,
		"deliveries_failed":     s.DeliveriesFailed,
		"peers_pruned":          s.PeersPruned,
		"archive_write_success": s.ArchiveWriteSuccess,
		"archive_write_failure": s.ArchiveWriteFailure,
		"archive_dropped":       s.ArchiveDropped,
		"notify_failure":        s.NotifyFailure,
		"client_connects":       s.ClientConnects,
		"client_reconnects":     s.ClientReconnects,
		"client_dial_failures":  s.ClientDialFailures,
		"client_send_failures":  s.ClientSendFailures,
		"packets_sent":          s.PacketsSent,
	}
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connectionsAccepted int64
	connectionsRejected int64
	connectionsClosed   int64
	closedByReason      map[string]int64

	framesReceived int64
	framesDropped  int64
	droppedByKind  map[string]int64
	frameErrors    int64

	framesRelayed    int64
	deliveriesOK     int64
	deliveriesFailed int64
	peersPruned      int64

	archiveWriteSuccess int64
	archiveWriteFailure int64
	archiveDropped      int64
	notifyFailure       int64

	clientConnects     int64
	clientReconnects   int64
	clientDialFailures int64
	clientSendFailures int64
	packetsSent        int64

	role    string
	addr    string
	framing string
}

// NewCollector creates a Collector with dimension labels.
// role is "server" or "client"; addr is the bind or dial address.
func NewCollector(role, addr, framing string) *Collector {
	return &Collector{
		closedByReason: make(map[string]int64),
		droppedByKind:  make(map[string]int64),
		role:           role,
		addr:           addr,
		framing:        framing,
	}
}

// add must not be reached through a nil receiver: taking the field address
// already dereferences c.
func (c *Collector) add(p *int64, n int64) {
	c.mu.Lock()
	*p += n
	c.mu.Unlock()
}

// --- Connections ---

// IncConnectionAccepted records a registered connection.
func (c *Collector) IncConnectionAccepted() {
	if c == nil {
		return
	}
	c.add(&c.connectionsAccepted, 1)
}

// IncConnectionRejected records a connection closed on accept (client limit).
func (c *Collector) IncConnectionRejected() {
	if c == nil {
		return
	}
	c.add(&c.connectionsRejected, 1)
}

// IncConnectionClosed records a connection leaving the registry.
func (c *Collector) IncConnectionClosed(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsClosed++
	c.closedByReason[reason]++
	c.mu.Unlock()
}

// --- Frames ---

// IncFrameReceived records a complete frame off the wire.
func (c *Collector) IncFrameReceived() {
	if c == nil {
		return
	}
	c.add(&c.framesReceived, 1)
}

// IncFrameDropped records a frame that was not relayed or dispatched.
// kind is the codec error kind or the policy that dropped it.
func (c *Collector) IncFrameDropped(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesDropped++
	c.droppedByKind[kind]++
	c.mu.Unlock()
}

// IncFrameError records a fatal framing error.
func (c *Collector) IncFrameError() {
	if c == nil {
		return
	}
	c.add(&c.frameErrors, 1)
}

// --- Fan-out ---

// RecordRelay records one fan-out pass.
func (c *Collector) RecordRelay(delivered, failed int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesRelayed++
	c.deliveriesOK += int64(delivered)
	c.deliveriesFailed += int64(failed)
	c.mu.Unlock()
}

// AddPeersPruned records entries removed after failed sends.
func (c *Collector) AddPeersPruned(n int) {
	if c == nil {
		return
	}
	c.add(&c.peersPruned, int64(n))
}

// --- Side channels ---

// IncArchiveWriteSuccess records a successful archive flush (per-call).
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.archiveWriteSuccess, 1)
}

// IncArchiveWriteFailure records a failed archive flush (per-call).
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.archiveWriteFailure, 1)
}

// IncArchiveDropped records a packet record dropped because the archive
// queue was full.
func (c *Collector) IncArchiveDropped() {
	if c == nil {
		return
	}
	c.add(&c.archiveDropped, 1)
}

// IncNotifyFailure records a failed lifecycle notification.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.add(&c.notifyFailure, 1)
}

// --- Client ---

// IncClientConnect records a successful dial.
// Dials after the first are also counted as reconnects.
func (c *Collector) IncClientConnect() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.clientConnects > 0 {
		c.clientReconnects++
	}
	c.clientConnects++
	c.mu.Unlock()
}

// IncClientDialFailure records a failed dial attempt.
func (c *Collector) IncClientDialFailure() {
	if c == nil {
		return
	}
	c.add(&c.clientDialFailures, 1)
}

// IncClientSendFailure records a send that hit a transport error.
func (c *Collector) IncClientSendFailure() {
	if c == nil {
		return
	}
	c.add(&c.clientSendFailures, 1)
}

// IncPacketSent records a frame written by the client.
func (c *Collector) IncPacketSent() {
	if c == nil {
		return
	}
	c.add(&c.packetsSent, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ConnectionsAccepted: c.connectionsAccepted,
		ConnectionsRejected: c.connectionsRejected,
		ConnectionsClosed:   c.connectionsClosed,
		ClosedByReason:      copyCounts(c.closedByReason),

		FramesReceived: c.framesReceived,
		FramesDropped:  c.framesDropped,
		DroppedByKind:  copyCounts(c.droppedByKind),
		FrameErrors:    c.frameErrors,

		FramesRelayed:    c.framesRelayed,
		DeliveriesOK:     c.deliveriesOK,
		DeliveriesFailed: c.deliveriesFailed,
		PeersPruned:      c.peersPruned,

		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,
		ArchiveDropped:      c.archiveDropped,
		NotifyFailure:       c.notifyFailure,

		ClientConnects:     c.clientConnects,
		ClientReconnects:   c.clientReconnects,
		ClientDialFailures: c.clientDialFailures,
		ClientSendFailures: c.clientSendFailures,
		PacketsSent:        c.packetsSent,

		Role:    c.role,
		Addr:    c.addr,
		Framing: c.framing,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
