package client

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/justapithecus/tcplite/framing"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultAddr         = "localhost:10086"
	DefaultChunkSize    = 1024
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

// Backoff shapes the delay between connect attempts.
type Backoff struct {
	// InitialDelay is the delay after the first failed attempt (default 1s).
	InitialDelay time.Duration
	// Multiplier grows the delay per attempt. Values below 1 mean constant.
	Multiplier float64
	// MaxDelay caps the delay; 0 means uncapped.
	MaxDelay time.Duration
	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool
}

// Delay returns the wait after failed attempt n (1-based).
func (b Backoff) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(b.InitialDelay)
	if n > 1 {
		delay *= math.Pow(mult, float64(n-1))
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Config configures a reconnecting client.
type Config struct {
	// Addr is the relay address (default localhost:10086).
	Addr string
	// ChunkSize is the per-read buffer size (default 1024).
	ChunkSize int
	// MaxAttempts bounds every connect sequence, initial or reconnect (default 3).
	MaxAttempts int
	Backoff     Backoff
	// DialTimeout bounds a single dial (default 5s).
	DialTimeout time.Duration
	// WriteTimeout bounds a single send (default 5s).
	WriteTimeout time.Duration
	// MaxFrameSize bounds a received frame (default framing.DefaultMaxFrameSize).
	MaxFrameSize int
	// Framing must match the relay (default delimiter).
	Framing framing.Mode
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff.InitialDelay == 0 {
		c.Backoff.InitialDelay = DefaultInitialDelay
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = 1.0
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = framing.DefaultMaxFrameSize
	}
	if c.Framing == "" {
		c.Framing = framing.ModeDelimiter
	}
	return c
}

// Validate checks a defaulted config.
func (c Config) Validate() error {
	if c.Backoff.InitialDelay < 0 {
		return fmt.Errorf("initial delay must be >= 0, got %s", c.Backoff.InitialDelay)
	}
	if c.Backoff.MaxDelay < 0 {
		return fmt.Errorf("max delay must be >= 0, got %s", c.Backoff.MaxDelay)
	}
	if _, err := framing.ParseMode(string(c.Framing)); err != nil {
		return err
	}
	return nil
}
