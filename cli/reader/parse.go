package reader

import (
	"errors"
	"fmt"

	"github.com/justapithecus/tcplite/lode"
)

// ParsePacketRecord converts a Lode packet record to a PacketEntry.
// Handles both int64 (direct writes) and float64 (JSON round-trips) for numeric fields.
func ParsePacketRecord(record map[string]any) (*PacketEntry, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}
	if kind := toString(record["record_kind"]); kind != lode.RecordKindPacket {
		return nil, fmt.Errorf("not a packet record: record_kind %q", kind)
	}

	entry := &PacketEntry{
		Ts:         toString(record["ts"]),
		EventType:  toString(record["event_type"]),
		DataType:   toString(record["data_type"]),
		Origin:     toString(record["origin"]),
		SizeBytes:  toInt64(record["size_bytes"]),
		Recipients: toInt64(record["recipients"]),
		Delivered:  toInt64(record["delivered"]),
		Failed:     toInt64(record["failed"]),
		Payload:    toString(record["payload_b64"]),
	}
	if entry.Ts == "" {
		return nil, errors.New("packet record missing required field: ts")
	}

	switch entry.DataType {
	case "text", "json":
		b, err := lode.DecodePayload(record)
		if err != nil {
			return nil, fmt.Errorf("packet record payload: %w", err)
		}
		entry.Payload = string(b)
	}
	return entry, nil
}

// ParseStatsRecord converts a Lode stats record to a StatsEntry.
func ParseStatsRecord(record map[string]any) (*StatsEntry, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}
	if kind := toString(record["record_kind"]); kind != lode.RecordKindStats {
		return nil, fmt.Errorf("not a stats record: record_kind %q", kind)
	}

	entry := &StatsEntry{
		Ts:      toString(record["ts"]),
		Addr:    toString(record["addr"]),
		Framing: toString(record["framing"]),

		ConnectionsAccepted: toInt64(record["connections_accepted"]),
		ConnectionsRejected: toInt64(record["connections_rejected"]),
		ConnectionsClosed:   toInt64(record["connections_closed"]),
		ClosedByReason:      parseCounts(record["closed_by_reason"]),

		FramesReceived: toInt64(record["frames_received"]),
		FramesDropped:  toInt64(record["frames_dropped"]),
		DroppedByKind:  parseCounts(record["dropped_by_kind"]),
		FrameErrors:    toInt64(record["frame_errors"]),

		FramesRelayed:    toInt64(record["frames_relayed"]),
		DeliveriesOK:     toInt64(record["deliveries_ok"]),
		DeliveriesFailed: toInt64(record["deliveries_failed"]),
		PeersPruned:      toInt64(record["peers_pruned"]),
	}
	if entry.Ts == "" {
		return nil, errors.New("stats record missing required field: ts")
	}
	return entry, nil
}

// toInt64 converts a value to int64, handling float64 from JSON and int64 from direct writes.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// parseCounts converts a per-key counter map from Lode record format.
// Handles both map[string]int64 (direct) and map[string]any (JSON round-trip).
func parseCounts(v any) map[string]int64 {
	switch m := v.(type) {
	case map[string]int64:
		return m
	case map[string]any:
		result := make(map[string]int64, len(m))
		for k, val := range m {
			result[k] = toInt64(val)
		}
		return result
	default:
		return nil
	}
}
