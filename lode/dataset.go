package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoRecordsFound is returned when a query matches nothing.
var ErrNoRecordsFound = errors.New("no matching records found")

// NewReadDataset creates a Lode Dataset with the archive's codec and layout.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("day", "event_type"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewReadDatasetFS creates a read Dataset with filesystem storage.
func NewReadDatasetFS(dataset, rootPath string) (lode.Dataset, error) {
	return NewReadDataset(dataset, lode.NewFSFactory(rootPath))
}

// Query selects archived records.
type Query struct {
	// Kind matches record_kind (RecordKindPacket or RecordKindStats).
	Kind string
	// EventType filters on the event_type partition, if set.
	EventType string
	// Origin filters packet records on sender address, if set.
	Origin string
	// Limit caps the number of records returned (0 = unlimited).
	Limit int
}

// QueryRecords reads matching records, newest snapshot first.
// Within a snapshot, records keep write order.
func QueryRecords(ctx context.Context, ds lode.Dataset, q Query) ([]map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	var out []map[string]any
	// Snapshots are ordered by creation time
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "event_type", q.EventType) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}

		// Manifest paths are a coarse pre-filter; record fields are authoritative.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if q.Kind != "" && toString(record["record_kind"]) != q.Kind {
				continue
			}
			if q.EventType != "" && toString(record["event_type"]) != q.EventType {
				continue
			}
			if q.Origin != "" && toString(record["origin"]) != q.Origin {
				continue
			}
			out = append(out, record)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}
	}

	if len(out) == 0 {
		return nil, ErrNoRecordsFound
	}
	return out, nil
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks if a Hive-partitioned path contains an exact
// key=value segment.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
