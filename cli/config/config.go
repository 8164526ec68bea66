package config

import (
	"fmt"
	"time"
)

// Config represents a tcplite.yaml configuration file.
// Every value is optional and acts as a default for the matching command
// flag. Flags always win.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Adapter AdapterConfig `yaml:"adapter"`
	Archive ArchiveConfig `yaml:"archive"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig holds relay defaults for tcplite serve.
type ServerConfig struct {
	Addr          string   `yaml:"addr"`
	Backlog       int      `yaml:"backlog"`
	ChunkSize     int      `yaml:"chunk_size"`
	MaxFrameSize  int      `yaml:"max_frame_size"`
	WriteTimeout  Duration `yaml:"write_timeout"`
	MaxClients    int      `yaml:"max_clients"`
	DirectPolicy  string   `yaml:"direct_policy"`
	Framing       string   `yaml:"framing"`
	StatsInterval Duration `yaml:"stats_interval"`
}

// ClientConfig holds client defaults for tcplite send and listen.
type ClientConfig struct {
	Addr              string   `yaml:"addr"`
	ChunkSize         int      `yaml:"chunk_size"`
	MaxAttempts       int      `yaml:"max_attempts"`
	RetryDelay        Duration `yaml:"retry_delay"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
	MaxDelay          Duration `yaml:"max_delay"`
	Jitter            bool     `yaml:"jitter"`
	DialTimeout       Duration `yaml:"dial_timeout"`
	WriteTimeout      Duration `yaml:"write_timeout"`
	MaxFrameSize      int      `yaml:"max_frame_size"`
	Framing           string   `yaml:"framing"`
}

// AdapterConfig selects the peer lifecycle notifier.
type AdapterConfig struct {
	Type         string            `yaml:"type"`
	URL          string            `yaml:"url"`
	Channel      string            `yaml:"channel,omitempty"`
	// SplitByEvent publishes each event type on "<channel>:<event_type>" (redis only).
	SplitByEvent bool              `yaml:"split_by_event,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	Timeout      Duration          `yaml:"timeout,omitempty"`
	Retries      *int              `yaml:"retries,omitempty"`
}

// ArchiveConfig selects the packet archive.
type ArchiveConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Dataset     string `yaml:"dataset"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	FlushCount  int    `yaml:"flush_count"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "500ms" or "1m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate rejects values no command could use. Cross-field checks
// (for example a webhook without a URL) happen where the value is consumed.
func (c *Config) Validate() error {
	switch c.Adapter.Type {
	case "", "redis", "webhook":
	default:
		return fmt.Errorf("adapter.type: unknown adapter %q (want redis or webhook)", c.Adapter.Type)
	}
	switch c.Archive.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("archive.backend: unknown backend %q (want fs or s3)", c.Archive.Backend)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries: must be >= 0, got %d", *c.Adapter.Retries)
	}
	if c.Server.MaxClients < 0 {
		return fmt.Errorf("server.max_clients: must be >= 0, got %d", c.Server.MaxClients)
	}
	if c.Client.MaxFrameSize < 0 {
		return fmt.Errorf("client.max_frame_size: must be >= 0, got %d", c.Client.MaxFrameSize)
	}
	if c.Client.BackoffMultiplier < 0 {
		return fmt.Errorf("client.backoff_multiplier: must be >= 0, got %g", c.Client.BackoffMultiplier)
	}
	return nil
}
