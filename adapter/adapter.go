// Package adapter defines the peer lifecycle notification boundary.
//
// Adapters publish peer connect and disconnect events to downstream systems.
// The relay owns adapter lifecycle; users provide configuration only.
package adapter

import "context"

// Event types carried in PeerEvent.EventType.
const (
	EventPeerConnected    = "peer_connected"
	EventPeerDisconnected = "peer_disconnected"
)

// Disconnect reasons carried in PeerEvent.Reason.
const (
	// ReasonClosed: the peer closed its end of the stream.
	ReasonClosed = "closed"
	// ReasonTransportError: a read on the connection failed.
	ReasonTransportError = "transport_error"
	// ReasonFrameError: the peer sent an unrecoverable frame.
	ReasonFrameError = "frame_error"
	// ReasonSendFailed: a relay write to the peer failed and it was pruned.
	ReasonSendFailed = "send_failed"
	// ReasonServerStopped: the relay shut down.
	ReasonServerStopped = "server_stopped"
)

// PeerEvent is the payload published on every registry change.
type PeerEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // peer_connected or peer_disconnected
	PeerID          string `json:"peer_id"`
	Addr            string `json:"addr"`
	Reason          string `json:"reason,omitempty"` // set on disconnect only
	ServerAddr      string `json:"server_addr"`
	Timestamp       string `json:"timestamp"` // RFC 3339
	Peers           int    `json:"peers"`     // registry size after the change
}

// Adapter publishes peer events to a downstream system.
// Implementations must be safe for concurrent Publish calls.
type Adapter interface {
	// Publish sends a peer event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *PeerEvent) error

	// Close releases adapter resources.
	Close() error
}
