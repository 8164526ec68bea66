package lode

import (
	"encoding/base64"
	"time"

	"github.com/justapithecus/tcplite/metrics"
	"github.com/justapithecus/tcplite/types"
)

// RecordKind discriminator values.
const (
	RecordKindPacket = "packet"
	RecordKindStats  = "stats"
)

// statsPartition is the event_type partition value for stats records.
const statsPartition = "stats"

// DeriveDay computes the partition day of a timestamp.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PacketRecord describes one relayed frame.
type PacketRecord struct {
	Event types.EventType
	Data  types.DataType
	// Origin is the sender's remote address.
	Origin string
	// Frame is the full encoded packet (header and payload, no delimiter).
	Frame []byte
	// Recipients is the snapshot size; Delivered + Failed == Recipients.
	Recipients int
	Delivered  int
	Failed     int
	At         time.Time
}

// toPacketRecordMap builds the storage map for a relayed frame.
// The payload is stored base64-encoded so binary RAW and OBJECT payloads
// survive the JSONL codec unchanged.
func toPacketRecordMap(rec PacketRecord) map[string]any {
	var payload []byte
	if len(rec.Frame) > 2 {
		payload = rec.Frame[2:]
	}
	return map[string]any{
		"record_kind": RecordKindPacket,
		"day":         DeriveDay(rec.At),
		"event_type":  rec.Event.String(),
		"data_type":   rec.Data.String(),
		"origin":      rec.Origin,
		"size_bytes":  int64(len(rec.Frame)),
		"payload_b64": base64.StdEncoding.EncodeToString(payload),
		"recipients":  int64(rec.Recipients),
		"delivered":   int64(rec.Delivered),
		"failed":      int64(rec.Failed),
		"ts":          rec.At.UTC().Format(time.RFC3339Nano),
	}
}

// toStatsRecordMap builds the storage map for a relay counters snapshot.
func toStatsRecordMap(snap metrics.Snapshot, at time.Time) map[string]any {
	closed := make(map[string]int64, len(snap.ClosedByReason))
	for k, v := range snap.ClosedByReason {
		closed[k] = v
	}
	dropped := make(map[string]int64, len(snap.DroppedByKind))
	for k, v := range snap.DroppedByKind {
		dropped[k] = v
	}

	return map[string]any{
		"record_kind":          RecordKindStats,
		"day":                  DeriveDay(at),
		"event_type":           statsPartition,
		"ts":                   at.UTC().Format(time.RFC3339Nano),
		"addr":                 snap.Addr,
		"framing":              snap.Framing,
		"connections_accepted": snap.ConnectionsAccepted,
		"connections_rejected": snap.ConnectionsRejected,
		"connections_closed":   snap.ConnectionsClosed,
		"closed_by_reason":     closed,
		"frames_received":      snap.FramesReceived,
		"frames_dropped":       snap.FramesDropped,
		"dropped_by_kind":      dropped,
		"frame_errors":         snap.FrameErrors,
		"frames_relayed":       snap.FramesRelayed,
		"deliveries_ok":        snap.DeliveriesOK,
		"deliveries_failed":    snap.DeliveriesFailed,
		"peers_pruned":         snap.PeersPruned,
	}
}

// DecodePayload returns the raw payload bytes of a stored packet record.
func DecodePayload(record map[string]any) ([]byte, error) {
	s, _ := record["payload_b64"].(string)
	return base64.StdEncoding.DecodeString(s)
}
