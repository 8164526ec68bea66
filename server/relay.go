package server

import (
	"errors"
	"time"

	"github.com/justapithecus/tcplite/adapter"
	"github.com/justapithecus/tcplite/codec"
	"github.com/justapithecus/tcplite/lode"
	"github.com/justapithecus/tcplite/log"
	"github.com/justapithecus/tcplite/registry"
	"github.com/justapithecus/tcplite/types"
)

// Drop kinds recorded for frames that are not relayed. Decode failures use
// the codec error kind.
const (
	dropDirectPolicy = "direct_policy"
	dropUnknown      = "unknown"
)

// onFrame handles one complete frame from origin. It runs on origin's
// receive goroutine, so frames from one peer are relayed in arrival order.
func (s *Server) onFrame(frame []byte, origin *registry.Entry, logger *log.Logger) {
	s.collector.IncFrameReceived()

	pkt, err := codec.Decode(frame)
	if err != nil {
		kind := dropUnknown
		var cerr *codec.Error
		if errors.As(err, &cerr) {
			kind = cerr.Kind.String()
		}
		s.collector.IncFrameDropped(kind)
		logger.Warn("dropping malformed frame", map[string]any{
			"error":      err.Error(),
			"size_bytes": len(frame),
		})
		return
	}

	if pkt.Event == types.EventDirectMsg && s.cfg.DirectPolicy == DirectDrop {
		s.collector.IncFrameDropped(dropDirectPolicy)
		logger.Debug("dropping direct message", map[string]any{
			"data_type":  pkt.Data.String(),
			"size_bytes": len(frame),
		})
		return
	}

	s.relay(frame, pkt, origin, logger)
}

// relay sends frame to every registered peer except origin, then prunes
// the peers whose write failed. The frame bytes are forwarded unchanged.
func (s *Server) relay(frame []byte, pkt *types.Packet, origin *registry.Entry, logger *log.Logger) {
	peers := s.registry.SnapshotExcluding(origin.Addr)
	wire := s.encode(frame)

	var failed []*registry.Entry
	for _, peer := range peers {
		if err := peer.Send(wire, s.cfg.WriteTimeout); err != nil {
			logger.Warn("relay write failed", map[string]any{
				"target": peer.Addr,
				"error":  err.Error(),
			})
			failed = append(failed, peer)
		}
	}

	delivered := len(peers) - len(failed)
	s.collector.RecordRelay(delivered, len(failed))
	logger.Debug("relayed frame", map[string]any{
		"event_type": pkt.Event.String(),
		"data_type":  pkt.Data.String(),
		"recipients": len(peers),
		"delivered":  delivered,
		"failed":     len(failed),
	})

	if len(failed) > 0 {
		s.prune(failed)
	}

	if s.archive != nil {
		rec := lode.PacketRecord{
			Event:      pkt.Event,
			Data:       pkt.Data,
			Origin:     origin.Addr,
			Frame:      frame,
			Recipients: len(peers),
			Delivered:  delivered,
			Failed:     len(failed),
			At:         time.Now(),
		}
		s.archiver.append(rec)
	}
}

// prune removes peers whose relay write failed. Peers already removed by
// their own receive loop are skipped so each disconnect is reported once.
func (s *Server) prune(failed []*registry.Entry) {
	removed := s.registry.RemoveEntries(failed)
	for _, e := range removed {
		_ = e.Close()
		s.collector.IncConnectionClosed(adapter.ReasonSendFailed)
		s.notify.publish(s.peerEvent(adapter.EventPeerDisconnected, e, adapter.ReasonSendFailed))
	}
	if len(removed) == 0 {
		return
	}
	s.collector.AddPeersPruned(len(removed))
	s.logger.Info("pruned peers", map[string]any{
		"pruned": len(removed),
		"peers":  s.registry.Len(),
	})
}
