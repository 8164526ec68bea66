package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("server", "127.0.0.1:10086", "delimiter")

	c.IncConnectionAccepted()
	c.IncConnectionAccepted()
	c.IncConnectionRejected()
	c.IncConnectionClosed("closed")
	c.IncConnectionClosed("send_failed")
	c.IncConnectionClosed("send_failed")
	c.IncFrameReceived()
	c.IncFrameReceived()
	c.IncFrameReceived()
	c.IncFrameDropped("payload_decode")
	c.IncFrameError()
	c.RecordRelay(2, 1)
	c.RecordRelay(3, 0)
	c.AddPeersPruned(1)
	c.IncArchiveWriteSuccess()
	c.IncArchiveWriteFailure()
	c.IncArchiveDropped()
	c.IncNotifyFailure()

	s := c.Snapshot()

	if s.ConnectionsAccepted != 2 {
		t.Errorf("ConnectionsAccepted = %d, want 2", s.ConnectionsAccepted)
	}
	if s.ConnectionsRejected != 1 {
		t.Errorf("ConnectionsRejected = %d, want 1", s.ConnectionsRejected)
	}
	if s.ConnectionsClosed != 3 {
		t.Errorf("ConnectionsClosed = %d, want 3", s.ConnectionsClosed)
	}
	if s.ClosedByReason["send_failed"] != 2 {
		t.Errorf("ClosedByReason[send_failed] = %d, want 2", s.ClosedByReason["send_failed"])
	}
	if s.FramesReceived != 3 {
		t.Errorf("FramesReceived = %d, want 3", s.FramesReceived)
	}
	if s.FramesDropped != 1 || s.DroppedByKind["payload_decode"] != 1 {
		t.Errorf("FramesDropped = %d (%v), want 1", s.FramesDropped, s.DroppedByKind)
	}
	if s.FrameErrors != 1 {
		t.Errorf("FrameErrors = %d, want 1", s.FrameErrors)
	}
	if s.FramesRelayed != 2 {
		t.Errorf("FramesRelayed = %d, want 2", s.FramesRelayed)
	}
	if s.DeliveriesOK != 5 {
		t.Errorf("DeliveriesOK = %d, want 5", s.DeliveriesOK)
	}
	if s.DeliveriesFailed != 1 {
		t.Errorf("DeliveriesFailed = %d, want 1", s.DeliveriesFailed)
	}
	if s.PeersPruned != 1 {
		t.Errorf("PeersPruned = %d, want 1", s.PeersPruned)
	}
	if s.ArchiveWriteSuccess != 1 || s.ArchiveWriteFailure != 1 {
		t.Errorf("archive writes = %d/%d, want 1/1", s.ArchiveWriteSuccess, s.ArchiveWriteFailure)
	}
	if s.ArchiveDropped != 1 {
		t.Errorf("ArchiveDropped = %d, want 1", s.ArchiveDropped)
	}
	if s.NotifyFailure != 1 {
		t.Errorf("NotifyFailure = %d, want 1", s.NotifyFailure)
	}
}

func TestCollector_ClientCounters(t *testing.T) {
	c := NewCollector("client", "localhost:10086", "length")

	c.IncClientDialFailure()
	c.IncClientConnect()
	c.IncPacketSent()
	c.IncClientSendFailure()
	c.IncClientConnect()
	c.IncClientConnect()

	s := c.Snapshot()
	if s.ClientConnects != 3 {
		t.Errorf("ClientConnects = %d, want 3", s.ClientConnects)
	}
	if s.ClientReconnects != 2 {
		t.Errorf("ClientReconnects = %d, want 2", s.ClientReconnects)
	}
	if s.ClientDialFailures != 1 || s.ClientSendFailures != 1 || s.PacketsSent != 1 {
		t.Errorf("client counters = %+v", s)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("server", "0.0.0.0:9000", "length")
	s := c.Snapshot()

	if s.Role != "server" {
		t.Errorf("Role = %q, want %q", s.Role, "server")
	}
	if s.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %q, want %q", s.Addr, "0.0.0.0:9000")
	}
	if s.Framing != "length" {
		t.Errorf("Framing = %q, want %q", s.Framing, "length")
	}

	f := s.Fields()
	if f["role"] != "server" || f["framing"] != "length" {
		t.Errorf("Fields() dimensions = %v", f)
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("server", "", "delimiter")
	c.IncConnectionAccepted()
	c.RecordRelay(1, 0)

	s1 := c.Snapshot()

	// Mutate collector after snapshot
	c.IncConnectionAccepted()
	c.RecordRelay(4, 2)

	if s1.ConnectionsAccepted != 1 {
		t.Errorf("s1.ConnectionsAccepted = %d, want 1 (snapshot should be frozen)", s1.ConnectionsAccepted)
	}
	if s1.DeliveriesOK != 1 {
		t.Errorf("s1.DeliveriesOK = %d, want 1 (snapshot should be frozen)", s1.DeliveriesOK)
	}

	s2 := c.Snapshot()
	if s2.DeliveriesOK != 5 || s2.DeliveriesFailed != 2 {
		t.Errorf("s2 deliveries = %d/%d, want 5/2", s2.DeliveriesOK, s2.DeliveriesFailed)
	}
}

func TestCollector_SnapshotMapIsolation(t *testing.T) {
	c := NewCollector("server", "", "delimiter")
	c.IncFrameDropped("frame_too_short")
	c.IncConnectionClosed("closed")

	s := c.Snapshot()

	// Mutate the snapshot's maps
	s.DroppedByKind["frame_too_short"] = 999
	s.ClosedByReason["injected"] = 1

	s2 := c.Snapshot()
	if s2.DroppedByKind["frame_too_short"] != 1 {
		t.Errorf("DroppedByKind[frame_too_short] = %d, want 1 (collector should be isolated from snapshot mutation)", s2.DroppedByKind["frame_too_short"])
	}
	if _, exists := s2.ClosedByReason["injected"]; exists {
		t.Error("ClosedByReason should not contain injected key from snapshot mutation")
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncConnectionAccepted()
	c.IncConnectionRejected()
	c.IncConnectionClosed("closed")
	c.IncFrameReceived()
	c.IncFrameDropped("x")
	c.IncFrameError()
	c.RecordRelay(1, 1)
	c.AddPeersPruned(1)
	c.IncArchiveWriteSuccess()
	c.IncArchiveWriteFailure()
	c.IncArchiveDropped()
	c.IncNotifyFailure()
	c.IncClientConnect()
	c.IncClientDialFailure()
	c.IncClientSendFailure()
	c.IncPacketSent()

	s := c.Snapshot()
	if s.ConnectionsAccepted != 0 {
		t.Errorf("nil collector snapshot ConnectionsAccepted = %d, want 0", s.ConnectionsAccepted)
	}
	if s.DroppedByKind != nil {
		t.Errorf("nil collector snapshot DroppedByKind should be nil, got %v", s.DroppedByKind)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("server", "", "delimiter")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncFrameReceived()
				c.RecordRelay(1, 0)
				c.IncFrameDropped("payload_decode")
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.FramesReceived != want {
		t.Errorf("FramesReceived = %d, want %d", s.FramesReceived, want)
	}
	if s.DeliveriesOK != want {
		t.Errorf("DeliveriesOK = %d, want %d", s.DeliveriesOK, want)
	}
	if s.DroppedByKind["payload_decode"] != want {
		t.Errorf("DroppedByKind[payload_decode] = %d, want %d", s.DroppedByKind["payload_decode"], want)
	}
}
