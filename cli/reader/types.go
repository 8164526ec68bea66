package reader

// PacketEntry is an archived relayed packet.
type PacketEntry struct {
	Ts         string `json:"ts" yaml:"ts"`
	EventType  string `json:"event_type" yaml:"event_type"`
	DataType   string `json:"data_type" yaml:"data_type"`
	Origin     string `json:"origin" yaml:"origin"`
	SizeBytes  int64  `json:"size_bytes" yaml:"size_bytes"`
	Recipients int64  `json:"recipients" yaml:"recipients"`
	Delivered  int64  `json:"delivered" yaml:"delivered"`
	Failed     int64  `json:"failed" yaml:"failed"`
	// Payload is the decoded payload for text and json packets, and the
	// base64 payload otherwise.
	Payload string `json:"payload" yaml:"payload"`
}

// StatsEntry is an archived relay counters snapshot.
type StatsEntry struct {
	Ts      string `json:"ts" yaml:"ts"`
	Addr    string `json:"addr" yaml:"addr"`
	Framing string `json:"framing" yaml:"framing"`

	ConnectionsAccepted int64            `json:"connections_accepted" yaml:"connections_accepted"`
	ConnectionsRejected int64            `json:"connections_rejected" yaml:"connections_rejected"`
	ConnectionsClosed   int64            `json:"connections_closed" yaml:"connections_closed"`
	ClosedByReason      map[string]int64 `json:"closed_by_reason,omitempty" yaml:"closed_by_reason,omitempty"`

	FramesReceived int64            `json:"frames_received" yaml:"frames_received"`
	FramesDropped  int64            `json:"frames_dropped" yaml:"frames_dropped"`
	DroppedByKind  map[string]int64 `json:"dropped_by_kind,omitempty" yaml:"dropped_by_kind,omitempty"`
	FrameErrors    int64            `json:"frame_errors" yaml:"frame_errors"`

	FramesRelayed    int64 `json:"frames_relayed" yaml:"frames_relayed"`
	DeliveriesOK     int64 `json:"deliveries_ok" yaml:"deliveries_ok"`
	DeliveriesFailed int64 `json:"deliveries_failed" yaml:"deliveries_failed"`
	PeersPruned      int64 `json:"peers_pruned" yaml:"peers_pruned"`
}
