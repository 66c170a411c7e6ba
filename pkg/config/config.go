package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	Session struct {
		InitialValidationDelay time.Duration `yaml:"initial_validation_delay"`
		ValidationInterval     time.Duration `yaml:"validation_interval"`
		IPResolveTimeout       time.Duration `yaml:"ip_resolve_timeout"`
		IPResolverURL          string        `yaml:"ip_resolver_url"`
		// 0 keeps validation fail-open forever on transport errors.
		MaxConsecutiveFailures int    `yaml:"max_consecutive_failures"`
		LocalSessionFile       string `yaml:"local_session_file"`

		// The resolver stops calling the endpoint for ResolverCooldown after
		// ResolverFailures consecutive errors. 0 failures disables this.
		ResolverFailures int           `yaml:"ip_resolver_failures"`
		ResolverCooldown time.Duration `yaml:"ip_resolver_cooldown"`
	} `yaml:"session"`

	Assignments struct {
		LockTTL     time.Duration `yaml:"lock_ttl"`
		LockTimeout time.Duration `yaml:"lock_timeout"`
	} `yaml:"assignments"`

	Backup struct {
		Enabled       bool          `yaml:"enabled"`
		Directory     string        `yaml:"directory"`
		Interval      time.Duration `yaml:"interval"`
		RetentionDays int           `yaml:"retention_days"`
	} `yaml:"backup"`

	Provisioning struct {
		RequestDelay      time.Duration `yaml:"request_delay"`
		MinPasswordLength int           `yaml:"min_password_length"`
	} `yaml:"provisioning"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		PrometheusPort    int           `yaml:"prometheus_port"`
		ActiveWindow      time.Duration `yaml:"active_window"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`

		// ProfileCacheTTL caches profile lookups in front of Redis. 0 disables.
		ProfileCacheTTL time.Duration `yaml:"profile_cache_ttl"`
		ConnectAttempts int           `yaml:"connect_attempts"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		// SessionCookie names the signed session cookie. Empty disables it.
		SessionCookie string `yaml:"session_cookie"`
		CookieSecure  bool   `yaml:"cookie_secure"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int   `yaml:"connections_per_minute"`
			MaxConcurrent        int   `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64 `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.ShutdownTimeout <= 0 {
		return fmt.Errorf("signal.shutdown_timeout must be > 0")
	}

	// Session
	if c.Session.InitialValidationDelay < 0 {
		return fmt.Errorf("session.initial_validation_delay must be >= 0")
	}
	if c.Session.ValidationInterval <= 0 {
		return fmt.Errorf("session.validation_interval must be > 0")
	}
	if c.Session.IPResolveTimeout <= 0 {
		return fmt.Errorf("session.ip_resolve_timeout must be > 0")
	}
	if c.Session.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("session.max_consecutive_failures must be >= 0")
	}

	// Assignments
	if c.Assignments.LockTTL <= 0 {
		return fmt.Errorf("assignments.lock_ttl must be > 0")
	}
	if c.Assignments.LockTimeout <= 0 {
		return fmt.Errorf("assignments.lock_timeout must be > 0")
	}

	if c.Session.ResolverFailures < 0 {
		return fmt.Errorf("session.ip_resolver_failures must be >= 0")
	}
	if c.Session.ResolverFailures > 0 && c.Session.ResolverCooldown <= 0 {
		return fmt.Errorf("session.ip_resolver_cooldown must be > 0 when ip_resolver_failures > 0")
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Directory == "" {
			return fmt.Errorf("backup.directory must not be empty when backup.enabled=true")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0 when backup.enabled=true")
		}
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days must be >= 0")
	}

	// Provisioning
	if c.Provisioning.RequestDelay < 0 {
		return fmt.Errorf("provisioning.request_delay must be >= 0")
	}
	if c.Provisioning.MinPasswordLength <= 0 {
		return fmt.Errorf("provisioning.min_password_length must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}
	if c.Monitoring.ActiveWindow <= 0 {
		return fmt.Errorf("monitoring.active_window must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
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

// SearchPaths are tried in order by Resolve when no file is named.
var SearchPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/audiocast/config.yaml",
	"config.yaml",
}

// Resolve loads path when it is set, otherwise the first existing file in
// SearchPaths, otherwise the defaults.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	for _, candidate := range SearchPaths {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Default values
	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Address = ":8081"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.Session.InitialValidationDelay = 3 * time.Second
	cfg.Session.ValidationInterval = 30 * time.Second
	cfg.Session.IPResolveTimeout = 3 * time.Second
	cfg.Session.IPResolverURL = "http://localhost:8080/api/v1/ip"
	cfg.Session.MaxConsecutiveFailures = 0
	cfg.Session.LocalSessionFile = defaultSessionFile()
	cfg.Session.ResolverFailures = 3
	cfg.Session.ResolverCooldown = time.Minute

	cfg.Assignments.LockTTL = 5 * time.Second
	cfg.Assignments.LockTimeout = 3 * time.Second

	cfg.Backup.Enabled = false
	cfg.Backup.Directory = "backups"
	cfg.Backup.Interval = 6 * time.Hour
	cfg.Backup.RetentionDays = 14

	cfg.Provisioning.RequestDelay = 100 * time.Millisecond
	cfg.Provisioning.MinPasswordLength = 6

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.ActiveWindow = 2 * time.Minute

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.ProfileCacheTTL = 5 * time.Minute
	cfg.Redis.ConnectAttempts = 3

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}
	cfg.Auth.SessionCookie = "audiocast_session"
	cfg.Auth.CookieSecure = true

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "audiocast", "session")
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if addr := os.Getenv("AUDIOCAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("AUDIOCAST_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if level := os.Getenv("AUDIOCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("AUDIOCAST_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("AUDIOCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if url := os.Getenv("AUDIOCAST_IP_RESOLVER_URL"); url != "" {
		c.Session.IPResolverURL = url
	}
	if path := os.Getenv("AUDIOCAST_SESSION_FILE"); path != "" {
		c.Session.LocalSessionFile = path
	}
	if dir := os.Getenv("AUDIOCAST_BACKUP_DIR"); dir != "" {
		c.Backup.Enabled = true
		c.Backup.Directory = dir
	}
	if raw := os.Getenv("AUDIOCAST_MAX_VALIDATION_FAILURES"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			c.Session.MaxConsecutiveFailures = n
		}
	}
}
