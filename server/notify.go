package server

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/tcplite/adapter"
	"github.com/justapithecus/tcplite/log"
	"github.com/justapithecus/tcplite/metrics"
	"github.com/justapithecus/tcplite/registry"
	"github.com/justapithecus/tcplite/types"
)

const (
	// notifyQueueSize bounds pending peer events. Events beyond it are dropped.
	notifyQueueSize = 256
	// notifyTimeout bounds a single Publish including adapter retries.
	notifyTimeout = 30 * time.Second
)

// notifier delivers peer events to an adapter from a single goroutine,
// keeping them in registry order without blocking receive loops.
// A nil adapter makes every method a no-op.
type notifier struct {
	adapter   adapter.Adapter
	logger    *log.Logger
	collector *metrics.Collector

	mu     sync.Mutex
	queue  chan *adapter.PeerEvent
	closed bool
	done   chan struct{}
}

func newNotifier(a adapter.Adapter) *notifier {
	n := &notifier{
		adapter: a,
		logger:  log.NewNop(),
		done:    make(chan struct{}),
	}
	if a == nil {
		close(n.done)
		return n
	}
	n.queue = make(chan *adapter.PeerEvent, notifyQueueSize)
	go n.run()
	return n
}

func newPeerEvent(eventType string, e *registry.Entry, reason, serverAddr string, peers int) *adapter.PeerEvent {
	return &adapter.PeerEvent{
		ContractVersion: types.ContractVersion,
		EventType:       eventType,
		PeerID:          e.ID,
		Addr:            e.Addr,
		Reason:          reason,
		ServerAddr:      serverAddr,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		Peers:           peers,
	}
}

// publish enqueues ev. Never blocks.
func (n *notifier) publish(ev *adapter.PeerEvent) {
	if n.adapter == nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.collector.IncNotifyFailure()
		n.logger.Warn("notification queue full, dropping event", map[string]any{
			"event_type": ev.EventType,
			"peer":       ev.Addr,
		})
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		err := n.adapter.Publish(ctx, ev)
		cancel()
		if err != nil {
			n.collector.IncNotifyFailure()
			n.logger.Warn("peer notification failed", map[string]any{
				"event_type": ev.EventType,
				"peer":       ev.Addr,
				"error":      err.Error(),
			})
		}
	}
}

// close stops accepting events, delivers what is queued and closes the adapter.
func (n *notifier) close() error {
	if n.adapter == nil {
		return nil
	}

	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	<-n.done
	return n.adapter.Close()
}
