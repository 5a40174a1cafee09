package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Tracker struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		PeerTimeout     time.Duration `yaml:"peer_timeout"`
		SweepInterval   time.Duration `yaml:"sweep_interval"`
		MaxConnections  int           `yaml:"max_connections"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"tracker"`

	Peer struct {
		ID                string        `yaml:"id"`
		ListenHost        string        `yaml:"listen_host"`
		// AdvertiseHost is the host other peers dial. Empty means the
		// local address of the interface that routes to the tracker.
		AdvertiseHost     string        `yaml:"advertise_host"`
		Port              int           `yaml:"port"`
		TrackerHost       string        `yaml:"tracker_host"`
		TrackerPort       int           `yaml:"tracker_port"`
		StorageDir        string        `yaml:"storage_dir"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		DialTimeout       time.Duration `yaml:"dial_timeout"`
		RequestTimeout    time.Duration `yaml:"request_timeout"`

		// ControlAddress is where the peer's HTTP control API listens.
		ControlAddress string `yaml:"control_address"`
	} `yaml:"peer"`

	Transfer struct {
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		ChunkSize      int           `yaml:"chunk_size"`
		MaxConnections int           `yaml:"max_connections"`
	} `yaml:"transfer"`

	Session struct {
		KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
		MaxSessions       int           `yaml:"max_sessions"`
	} `yaml:"session"`

	Admin struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"admin"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		// Per remote IP on the tracker's TCP port.
		Connections struct {
			PerSecond float64 `yaml:"per_second"`
			Burst     int     `yaml:"burst"`
		} `yaml:"connections"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`
	} `yaml:"rate_limiting"`

	Retry struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`

	CircuitBreaker struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		SuccessThreshold int           `yaml:"success_threshold"`
		Timeout          time.Duration `yaml:"timeout"`
	} `yaml:"circuit_breaker"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Tracker
	if c.Tracker.Address == "" {
		return fmt.Errorf("tracker.address must not be empty")
	}
	if c.Tracker.ReadTimeout <= 0 {
		return fmt.Errorf("tracker.read_timeout must be > 0")
	}
	if c.Tracker.WriteTimeout <= 0 {
		return fmt.Errorf("tracker.write_timeout must be > 0")
	}
	if c.Tracker.PeerTimeout <= 0 {
		return fmt.Errorf("tracker.peer_timeout must be > 0")
	}
	if c.Tracker.SweepInterval <= 0 {
		return fmt.Errorf("tracker.sweep_interval must be > 0")
	}
	if c.Tracker.MaxConnections < 0 {
		return fmt.Errorf("tracker.max_connections must be >= 0")
	}
	if c.Tracker.ShutdownTimeout <= 0 {
		return fmt.Errorf("tracker.shutdown_timeout must be > 0")
	}

	// Peer
	if c.Peer.Port < 0 || c.Peer.Port > 65535 {
		return fmt.Errorf("peer.port must be in [0, 65535]")
	}
	if c.Peer.TrackerHost == "" {
		return fmt.Errorf("peer.tracker_host must not be empty")
	}
	if c.Peer.TrackerPort <= 0 || c.Peer.TrackerPort > 65535 {
		return fmt.Errorf("peer.tracker_port must be in [1, 65535]")
	}
	if c.Peer.HeartbeatInterval <= 0 {
		return fmt.Errorf("peer.heartbeat_interval must be > 0")
	}
	if c.Peer.HeartbeatInterval >= c.Tracker.PeerTimeout {
		return fmt.Errorf("peer.heartbeat_interval must be < tracker.peer_timeout")
	}
	if c.Peer.DialTimeout <= 0 {
		return fmt.Errorf("peer.dial_timeout must be > 0")
	}
	if c.Peer.RequestTimeout <= 0 {
		return fmt.Errorf("peer.request_timeout must be > 0")
	}

	// Transfer
	if c.Transfer.ReadTimeout <= 0 {
		return fmt.Errorf("transfer.read_timeout must be > 0")
	}
	if c.Transfer.WriteTimeout <= 0 {
		return fmt.Errorf("transfer.write_timeout must be > 0")
	}
	if c.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("transfer.chunk_size must be > 0")
	}
	if c.Transfer.MaxConnections < 0 {
		return fmt.Errorf("transfer.max_connections must be >= 0")
	}

	// Session
	if c.Session.KeepaliveInterval <= 0 {
		return fmt.Errorf("session.keepalive_interval must be > 0")
	}
	// The remote drops a session that stays idle past its read timeout.
	if c.Session.KeepaliveInterval >= c.Transfer.ReadTimeout {
		return fmt.Errorf("session.keepalive_interval (%s) must be < transfer.read_timeout (%s)",
			c.Session.KeepaliveInterval, c.Transfer.ReadTimeout)
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("session.max_sessions must be >= 0")
	}

	// Admin
	if c.Admin.Enabled && c.Admin.Address == "" {
		return fmt.Errorf("admin.address must not be empty when admin.enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.Connections.PerSecond <= 0 {
			return fmt.Errorf("rate_limiting.connections.per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Connections.Burst <= 0 {
			return fmt.Errorf("rate_limiting.connections.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Retry / breaker
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.initial_delay must be > 0 and <= retry.max_delay")
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be > 0")
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.success_threshold must be > 0")
	}
	if c.CircuitBreaker.Timeout <= 0 {
		return fmt.Errorf("circuit_breaker.timeout must be > 0")
	}

	return nil
}

// TrackerAddress returns host:port of the tracker the peer registers with.
func (c *Config) TrackerAddress() string {
	return fmt.Sprintf("%s:%d", c.Peer.TrackerHost, c.Peer.TrackerPort)
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A .env file in the working directory, if present, is loaded before overrides.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Tracker.Address = ":6000"
	cfg.Tracker.ReadTimeout = 10 * time.Second
	cfg.Tracker.WriteTimeout = 10 * time.Second
	cfg.Tracker.PeerTimeout = 60 * time.Second
	cfg.Tracker.SweepInterval = 15 * time.Second
	cfg.Tracker.MaxConnections = 1024
	cfg.Tracker.ShutdownTimeout = 10 * time.Second

	cfg.Peer.ListenHost = "0.0.0.0"
	cfg.Peer.Port = 5000
	cfg.Peer.TrackerHost = "localhost"
	cfg.Peer.TrackerPort = 6000
	cfg.Peer.HeartbeatInterval = 20 * time.Second
	cfg.Peer.DialTimeout = 5 * time.Second
	cfg.Peer.RequestTimeout = 10 * time.Second
	cfg.Peer.ControlAddress = "127.0.0.1:7080"

	cfg.Transfer.ReadTimeout = 30 * time.Second
	cfg.Transfer.WriteTimeout = 30 * time.Second
	cfg.Transfer.ChunkSize = 32 * 1024
	cfg.Transfer.MaxConnections = 64

	cfg.Session.KeepaliveInterval = 15 * time.Second
	cfg.Session.MaxSessions = 32

	cfg.Admin.Enabled = true
	cfg.Admin.Address = ":6080"
	cfg.Admin.ReadTimeout = 15 * time.Second
	cfg.Admin.WriteTimeout = 15 * time.Second
	cfg.Admin.ShutdownTimeout = 10 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "vidswarm:registry"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "vidswarm"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.Connections.PerSecond = 20
	cfg.RateLimiting.Connections.Burst = 40
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 64

	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialDelay = 200 * time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Second

	cfg.CircuitBreaker.FailureThreshold = 3
	cfg.CircuitBreaker.SuccessThreshold = 1
	cfg.CircuitBreaker.Timeout = 30 * time.Second

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("VIDSWARM_TRACKER_ADDRESS"); addr != "" {
		c.Tracker.Address = addr
	}
	if id := os.Getenv("VIDSWARM_PEER_ID"); id != "" {
		c.Peer.ID = id
	}
	if port := os.Getenv("VIDSWARM_PEER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Peer.Port = p
		}
	}
	if host := os.Getenv("VIDSWARM_TRACKER_HOST"); host != "" {
		c.Peer.TrackerHost = host
	}
	if port := os.Getenv("VIDSWARM_TRACKER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Peer.TrackerPort = p
		}
	}
	if dir := os.Getenv("VIDSWARM_STORAGE_DIR"); dir != "" {
		c.Peer.StorageDir = dir
	}
	if addr := os.Getenv("VIDSWARM_PEER_CONTROL_ADDRESS"); addr != "" {
		c.Peer.ControlAddress = addr
	}
	if addr := os.Getenv("VIDSWARM_ADMIN_ADDRESS"); addr != "" {
		c.Admin.Address = addr
	}
	if level := os.Getenv("VIDSWARM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("VIDSWARM_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
