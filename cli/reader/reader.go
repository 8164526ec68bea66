// Package reader provides typed, read-only access to the packet archive
// for CLI commands.
package reader

import (
	"context"

	lodeapi "github.com/justapithecus/lode/lode"

	"github.com/justapithecus/tcplite/lode"
)

// Reader reads archived records, newest snapshot first.
type Reader interface {
	Packets(ctx context.Context, f PacketFilter) ([]PacketEntry, error)
	Stats(ctx context.Context, limit int) ([]StatsEntry, error)
}

// PacketFilter narrows a packet query. Zero fields match everything.
type PacketFilter struct {
	EventType string
	Origin    string
	Limit     int
}

// LodeReader reads from a Lode dataset written by lode.Archive.
type LodeReader struct {
	ds lodeapi.Dataset
}

// NewLodeReader wraps a read dataset (see lode.NewReadDataset).
func NewLodeReader(ds lodeapi.Dataset) *LodeReader {
	return &LodeReader{ds: ds}
}

// Packets returns matching packet records. lode.ErrNoRecordsFound is
// returned when nothing matches.
func (r *LodeReader) Packets(ctx context.Context, f PacketFilter) ([]PacketEntry, error) {
	records, err := lode.QueryRecords(ctx, r.ds, lode.Query{
		Kind:      lode.RecordKindPacket,
		EventType: f.EventType,
		Origin:    f.Origin,
		Limit:     f.Limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]PacketEntry, 0, len(records))
	for _, rec := range records {
		entry, err := ParsePacketRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, nil
}

// Stats returns stats records, at most limit when limit > 0.
func (r *LodeReader) Stats(ctx context.Context, limit int) ([]StatsEntry, error) {
	records, err := lode.QueryRecords(ctx, r.ds, lode.Query{
		Kind:  lode.RecordKindStats,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]StatsEntry, 0, len(records))
	for _, rec := range records {
		entry, err := ParseStatsRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, nil
}

var _ Reader = (*LodeReader)(nil)
