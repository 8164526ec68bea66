package server

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/tcplite/lode"
	"github.com/justapithecus/tcplite/log"
	"github.com/justapithecus/tcplite/metrics"
)

const (
	// archiveQueueSize bounds pending packet records. Records beyond it are dropped.
	archiveQueueSize = 1024
	// archiveTimeout bounds a single Append or WriteStats call.
	archiveTimeout = 30 * time.Second
	// archiveDrainTimeout bounds how long close waits for queued records
	// before canceling in-flight writes.
	archiveDrainTimeout = 10 * time.Second
)

// archiver hands packet records to an Archive from a single goroutine so
// storage latency never reaches a receive loop.
// A nil archive makes every method a no-op.
type archiver struct {
	archive   Archive
	logger    *log.Logger
	collector *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  chan lode.PacketRecord
	closed bool
	done   chan struct{}
}

func newArchiver(a Archive, logger *log.Logger, collector *metrics.Collector) *archiver {
	w := &archiver{
		archive:   a,
		logger:    logger,
		collector: collector,
		done:      make(chan struct{}),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	if a == nil {
		close(w.done)
		return w
	}
	w.queue = make(chan lode.PacketRecord, archiveQueueSize)
	go w.run()
	return w
}

// append enqueues rec. Never blocks.
func (w *archiver) append(rec lode.PacketRecord) {
	if w.archive == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- rec:
	default:
		w.collector.IncArchiveDropped()
		w.logger.Warn("archive queue full, dropping record", map[string]any{
			"origin":     rec.Origin,
			"event_type": rec.Event.String(),
		})
	}
}

func (w *archiver) run() {
	defer close(w.done)
	for rec := range w.queue {
		ctx, cancel := context.WithTimeout(w.ctx, archiveTimeout)
		err := w.archive.Append(ctx, rec)
		cancel()
		if err != nil {
			w.logger.Warn("archive append failed", map[string]any{"error": err.Error()})
		}
	}
}

// close stops accepting records and drains the queue, then writes a final
// stats snapshot and closes the archive. Writes still running after
// archiveDrainTimeout are canceled.
func (w *archiver) close(snapshot func() metrics.Snapshot) error {
	defer w.cancel()
	if w.archive == nil {
		return nil
	}

	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	timer := time.NewTimer(archiveDrainTimeout)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		w.logger.Warn("archive drain timed out, canceling pending writes", nil)
		w.cancel()
		<-w.done
	}

	if sw, ok := w.archive.(StatsWriter); ok {
		ctx, cancel := context.WithTimeout(w.ctx, archiveTimeout)
		err := sw.WriteStats(ctx, snapshot(), time.Now())
		cancel()
		if err != nil {
			w.logger.Warn("final stats write failed", map[string]any{"error": err.Error()})
		}
	}
	return w.archive.Close()
}
