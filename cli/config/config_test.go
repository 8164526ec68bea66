package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tcplite.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTemp(t, `log:
  level: debug

server:
  addr: 0.0.0.0:9000
  backlog: 16
  chunk_size: 4096
  max_frame_size: 1048576
  write_timeout: 2s
  max_clients: 100
  direct_policy: drop
  framing: length
  stats_interval: 30s

client:
  addr: relay.example.com:9000
  max_attempts: 5
  retry_delay: 250ms
  backoff_multiplier: 2
  max_delay: 10s
  jitter: true
  dial_timeout: 3s
  framing: length

adapter:
  type: webhook
  url: https://hooks.example.com/tcplite
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 2

archive:
  backend: s3
  path: my-bucket/relay
  dataset: packets
  region: us-east-1
  endpoint: http://localhost:9000
  s3_path_style: true
  flush_count: 32
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}

	s := cfg.Server
	if s.Addr != "0.0.0.0:9000" || s.Backlog != 16 || s.ChunkSize != 4096 || s.MaxFrameSize != 1048576 {
		t.Errorf("server = %+v", s)
	}
	if s.WriteTimeout.Duration != 2*time.Second || s.StatsInterval.Duration != 30*time.Second {
		t.Errorf("server durations = %v/%v", s.WriteTimeout, s.StatsInterval)
	}
	if s.MaxClients != 100 || s.DirectPolicy != "drop" || s.Framing != "length" {
		t.Errorf("server = %+v", s)
	}

	c := cfg.Client
	if c.Addr != "relay.example.com:9000" || c.MaxAttempts != 5 || c.BackoffMultiplier != 2 || !c.Jitter {
		t.Errorf("client = %+v", c)
	}
	if c.RetryDelay.Duration != 250*time.Millisecond || c.MaxDelay.Duration != 10*time.Second || c.DialTimeout.Duration != 3*time.Second {
		t.Errorf("client durations = %v/%v/%v", c.RetryDelay, c.MaxDelay, c.DialTimeout)
	}

	a := cfg.Adapter
	if a.Type != "webhook" || a.URL != "https://hooks.example.com/tcplite" || a.Timeout.Duration != 10*time.Second {
		t.Errorf("adapter = %+v", a)
	}
	if a.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("adapter.headers = %v", a.Headers)
	}
	if a.Retries == nil || *a.Retries != 2 {
		t.Errorf("adapter.retries = %v", a.Retries)
	}

	ar := cfg.Archive
	if ar.Backend != "s3" || ar.Path != "my-bucket/relay" || ar.Dataset != "packets" || !ar.S3PathStyle || ar.FlushCount != 32 {
		t.Errorf("archive = %+v", ar)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TCPLITE_TEST_REDIS", "redis://cache:6379/1")

	path := writeTemp(t, `adapter:
  type: redis
  url: ${TCPLITE_TEST_REDIS}
  channel: ${TCPLITE_TEST_CHANNEL_UNSET:-relay:peers}
server:
  addr: ${TCPLITE_TEST_ADDR_UNSET:-127.0.0.1:10086}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.URL != "redis://cache:6379/1" {
		t.Errorf("adapter.url = %q", cfg.Adapter.URL)
	}
	if cfg.Adapter.Channel != "relay:peers" {
		t.Errorf("adapter.channel = %q", cfg.Adapter.Channel)
	}
	if cfg.Server.Addr != "127.0.0.1:10086" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "" || cfg.Adapter.Retries != nil {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "server: [unclosed", "invalid YAML"},
		{"unknown key", "server:\n  adress: x\n", "invalid YAML"},
		{"bad duration", "server:\n  write_timeout: soon\n", "invalid duration"},
		{"unknown adapter", "adapter:\n  type: kafka\n", "unknown adapter"},
		{"unknown backend", "archive:\n  backend: gcs\n", "unknown backend"},
		{"negative retries", "adapter:\n  type: redis\n  retries: -1\n", "adapter.retries"},
		{"negative max clients", "server:\n  max_clients: -3\n", "server.max_clients"},
		{"negative client max frame size", "client:\n  max_frame_size: -1\n", "client.max_frame_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}
