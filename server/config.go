package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/tcplite/framing"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultAddr         = "0.0.0.0:10086"
	DefaultBacklog      = 5
	DefaultChunkSize    = 1024
	DefaultWriteTimeout = 5 * time.Second
)

// DirectPolicy decides what happens to DIRECT_MSG packets.
// There is no per-recipient addressing on the wire, so the choice is
// between treating them as broadcasts and discarding them.
type DirectPolicy string

const (
	// DirectBroadcast relays DIRECT_MSG packets like BROADCAST.
	DirectBroadcast DirectPolicy = "broadcast"
	// DirectDrop discards DIRECT_MSG packets.
	DirectDrop DirectPolicy = "drop"
)

// ParseDirectPolicy parses a policy name. The empty string selects DirectBroadcast.
func ParseDirectPolicy(s string) (DirectPolicy, error) {
	switch DirectPolicy(s) {
	case "", DirectBroadcast:
		return DirectBroadcast, nil
	case DirectDrop:
		return DirectDrop, nil
	default:
		return "", fmt.Errorf("unknown direct policy %q (want %q or %q)", s, DirectBroadcast, DirectDrop)
	}
}

// Config configures a relay server.
type Config struct {
	// Addr is the TCP bind address (default 0.0.0.0:10086).
	Addr string
	// Backlog is the requested accept queue length (default 5).
	// Advisory only: the kernel queue is sized from somaxconn.
	Backlog int
	// ChunkSize is the per-read buffer size (default 1024).
	ChunkSize int
	// MaxFrameSize bounds a single frame (default framing.DefaultMaxFrameSize).
	MaxFrameSize int
	// WriteTimeout bounds each relay write to a peer (default 5s).
	WriteTimeout time.Duration
	// MaxClients caps registered peers; 0 means unlimited.
	MaxClients int
	// DirectPolicy handles DIRECT_MSG packets (default broadcast).
	DirectPolicy DirectPolicy
	// Framing selects the wire framing (default delimiter).
	Framing framing.Mode
	// StatsInterval is the period of the stats log line; 0 disables it.
	StatsInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = framing.DefaultMaxFrameSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DirectPolicy == "" {
		c.DirectPolicy = DirectBroadcast
	}
	if c.Framing == "" {
		c.Framing = framing.ModeDelimiter
	}
	return c
}

// Validate checks a defaulted config.
func (c Config) Validate() error {
	if c.MaxClients < 0 {
		return fmt.Errorf("max clients must be >= 0, got %d", c.MaxClients)
	}
	if c.StatsInterval < 0 {
		return errors.New("stats interval must be >= 0")
	}
	if _, err := ParseDirectPolicy(string(c.DirectPolicy)); err != nil {
		return err
	}
	if _, err := framing.ParseMode(string(c.Framing)); err != nil {
		return err
	}
	return nil
}
