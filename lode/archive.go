// Package lode archives relayed packets to a Lode dataset.
//
// Records are JSONL in a Hive layout partitioned by day and event_type.
// Storage is the local filesystem, S3 (or an S3-compatible provider), or
// memory for tests.
package lode

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/tcplite/metrics"
)

// DefaultDataset is the default Lode dataset ID.
const DefaultDataset = "tcplite"

// DefaultFlushCount is the default number of buffered records per write.
const DefaultFlushCount = 64

// closeTimeout bounds the final flush in Close.
const closeTimeout = 10 * time.Second

// ErrArchiveClosed is returned by Append after Close.
var ErrArchiveClosed = errors.New("archive closed")

// Config holds archive configuration.
type Config struct {
	// Dataset is the Lode dataset ID (default tcplite).
	Dataset string
	// FlushCount is the number of records buffered before a write (default 64).
	// 1 writes every record immediately.
	FlushCount int
}

func (c Config) withDefaults() Config {
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.FlushCount <= 0 {
		c.FlushCount = DefaultFlushCount
	}
	return c
}

// Archive buffers packet records and writes them to Lode in batches.
// Safe for concurrent use; writes are serialized.
type Archive struct {
	dataset   lode.Dataset
	config    Config
	collector *metrics.Collector

	mu      sync.Mutex
	pending []any
	closed  bool
}

// Option configures an Archive.
type Option func(*Archive)

// WithCollector counts each dataset write as an archive success or failure.
func WithCollector(c *metrics.Collector) Option {
	return func(a *Archive) { a.collector = c }
}

// NewArchive creates an archive on the local filesystem under root.
func NewArchive(cfg Config, root string, opts ...Option) (*Archive, error) {
	return NewArchiveWithFactory(cfg, lode.NewFSFactory(root), opts...)
}

// NewArchiveWithFactory creates an archive on a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewArchiveWithFactory(cfg Config, factory lode.StoreFactory, opts ...Option) (*Archive, error) {
	cfg = cfg.withDefaults()
	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return newArchive(ds, cfg, opts...), nil
}

func newArchive(ds lode.Dataset, cfg Config, opts ...Option) *Archive {
	a := &Archive{
		dataset: ds,
		config:  cfg,
		pending: make([]any, 0, cfg.FlushCount),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Append buffers a packet record and writes the buffer once it reaches
// FlushCount. On a failed write the batch is dropped; the relay never blocks
// on archive retries.
func (a *Archive) Append(ctx context.Context, rec PacketRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrArchiveClosed
	}
	a.pending = append(a.pending, toPacketRecordMap(rec))
	if len(a.pending) < a.config.FlushCount {
		return nil
	}
	return a.flushLocked(ctx)
}

// WriteStats writes a counters snapshot immediately, along with anything
// still buffered.
func (a *Archive) WriteStats(ctx context.Context, snap metrics.Snapshot, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrArchiveClosed
	}
	a.pending = append(a.pending, toStatsRecordMap(snap, at))
	return a.flushLocked(ctx)
}

// Flush writes any buffered records.
func (a *Archive) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(ctx)
}

func (a *Archive) flushLocked(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}
	batch := a.pending
	a.pending = make([]any, 0, a.config.FlushCount)

	if _, err := a.dataset.Write(ctx, batch, lode.Metadata{}); err != nil {
		a.collector.IncArchiveWriteFailure()
		return WrapWriteError(err, a.config.Dataset)
	}
	a.collector.IncArchiveWriteSuccess()
	return nil
}

// Pending returns the number of buffered records.
func (a *Archive) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close flushes buffered records and rejects further appends.
// Safe to call more than once.
func (a *Archive) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	return a.flushLocked(ctx)
}
