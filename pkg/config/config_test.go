package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.Tracker.PeerTimeout)
	assert.Equal(t, "localhost:6000", cfg.TrackerAddress())
	assert.Equal(t, "127.0.0.1:7080", cfg.Peer.ControlAddress)
	assert.Empty(t, cfg.Peer.AdvertiseHost)
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Tracker.Address)
	assert.Equal(t, 5000, cfg.Peer.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
tracker:
  address: ":7000"
  peer_timeout: 45s
  sweep_interval: 5s

peer:
  id: "alice"
  port: 5005
  tracker_host: "tracker.local"
  tracker_port: 7000
  heartbeat_interval: 10s

logging:
  level: "debug"
  format: "console"
`)

	t.Setenv("VIDSWARM_PEER_ID", "bob")
	t.Setenv("VIDSWARM_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Tracker.Address)
	assert.Equal(t, 45*time.Second, cfg.Tracker.PeerTimeout)
	assert.Equal(t, 5*time.Second, cfg.Tracker.SweepInterval)
	assert.Equal(t, "bob", cfg.Peer.ID)
	assert.Equal(t, 5005, cfg.Peer.Port)
	assert.Equal(t, "tracker.local:7000", cfg.TrackerAddress())
	assert.Equal(t, 10*time.Second, cfg.Peer.HeartbeatInterval)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	// untouched sections keep defaults
	assert.Equal(t, 32*1024, cfg.Transfer.ChunkSize)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "tracker: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := writeTempConfig(t, `
tracker:
  peer_timeout: 10s
peer:
  heartbeat_interval: 20s
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat_interval")
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.Connections.PerSecond = 0
	cfg.RateLimiting.Connections.Burst = 0
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "empty tracker address",
			mutate: func(c *Config) { c.Tracker.Address = "" },
		},
		{
			name:   "non-positive peer timeout",
			mutate: func(c *Config) { c.Tracker.PeerTimeout = 0 },
		},
		{
			name:   "peer port out of range",
			mutate: func(c *Config) { c.Peer.Port = 70000 },
		},
		{
			name:   "tracker port zero",
			mutate: func(c *Config) { c.Peer.TrackerPort = 0 },
		},
		{
			name:   "chunk size zero",
			mutate: func(c *Config) { c.Transfer.ChunkSize = 0 },
		},
		{
			name:   "keepalive zero",
			mutate: func(c *Config) { c.Session.KeepaliveInterval = 0 },
		},
		{
			name: "keepalive not below transfer read timeout",
			mutate: func(c *Config) {
				c.Session.KeepaliveInterval = 30 * time.Second
				c.Transfer.ReadTimeout = 30 * time.Second
			},
		},
		{
			name: "redis enabled without channel",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Channel = ""
			},
		},
		{
			name: "connection rate must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.Connections.PerSecond = 0
			},
		},
		{
			name: "tracing sample rate above one",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
		{
			name:   "retry max delay below initial",
			mutate: func(c *Config) { c.Retry.MaxDelay = time.Millisecond },
		},
		{
			name:   "breaker threshold zero",
			mutate: func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}
