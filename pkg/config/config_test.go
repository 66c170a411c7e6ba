package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 10
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 65536
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3*time.Second, cfg.Session.InitialValidationDelay)
	assert.Equal(t, 30*time.Second, cfg.Session.ValidationInterval)
	assert.Equal(t, 3*time.Second, cfg.Session.IPResolveTimeout)
	assert.Equal(t, 0, cfg.Session.MaxConsecutiveFailures)
	assert.Equal(t, 100*time.Millisecond, cfg.Provisioning.RequestDelay)
	assert.Equal(t, 2*time.Minute, cfg.Monitoring.ActiveWindow)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	// Zero out rate limiting values to ensure they are ignored when disabled.
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 0
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 0

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
			name: "http rps must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.HTTP.RequestsPerSecond = 0
			},
		},
		{
			name: "http burst must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.HTTP.Burst = 0
			},
		},
		{
			name: "ws connections per minute must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.WebSocket.ConnectionsPerMinute = 0
			},
		},
		{
			name: "ws max message size must be >= 0",
			mutate: func(c *Config) {
				c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1
			},
		},
		{
			name: "validation interval must be > 0",
			mutate: func(c *Config) {
				c.Session.ValidationInterval = 0
			},
		},
		{
			name: "ip resolve timeout must be > 0",
			mutate: func(c *Config) {
				c.Session.IPResolveTimeout = 0
			},
		},
		{
			name: "max consecutive failures must be >= 0",
			mutate: func(c *Config) {
				c.Session.MaxConsecutiveFailures = -1
			},
		},
		{
			name: "pong timeout must exceed ping interval",
			mutate: func(c *Config) {
				c.Signal.PongTimeout = c.Signal.PingInterval
			},
		},
		{
			name: "lock ttl must be > 0",
			mutate: func(c *Config) {
				c.Assignments.LockTTL = 0
			},
		},
		{
			name: "redis address required when enabled",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name: "resolver cooldown required with failures",
			mutate: func(c *Config) {
				c.Session.ResolverFailures = 2
				c.Session.ResolverCooldown = 0
			},
		},
		{
			name: "backup directory required when enabled",
			mutate: func(c *Config) {
				c.Backup.Enabled = true
				c.Backup.Directory = ""
			},
		},
		{
			name: "backup retention must be >= 0",
			mutate: func(c *Config) {
				c.Backup.RetentionDays = -1
			},
		},
		{
			name: "tracing sample rate bounded",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
server:
  address: ":9000"
session:
  validation_interval: 10s
  max_consecutive_failures: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o600))

	t.Setenv("AUDIOCAST_LOG_LEVEL", "debug")
	t.Setenv("AUDIOCAST_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Session.ValidationInterval)
	assert.Equal(t, 5, cfg.Session.MaxConsecutiveFailures)
	// untouched defaults survive partial files
	assert.Equal(t, 3*time.Second, cfg.Session.IPResolveTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolve_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":7000\"\n"), 0o600))

	cfg, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
}

func TestResolve_SearchPaths(t *testing.T) {
	dir := t.TempDir()
	found := filepath.Join(dir, "found.yaml")
	require.NoError(t, os.WriteFile(found, []byte("signal:\n  address: \":7001\"\n"), 0o600))

	saved := SearchPaths
	t.Cleanup(func() { SearchPaths = saved })

	SearchPaths = []string{filepath.Join(dir, "absent.yaml"), found}
	cfg, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.Signal.Address)

	SearchPaths = []string{filepath.Join(dir, "absent.yaml")}
	cfg, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Signal.Address)
}

func TestLoad_BackupDirFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AUDIOCAST_BACKUP_DIR", dir)

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, dir, cfg.Backup.Directory)
	assert.Equal(t, 6*time.Hour, cfg.Backup.Interval)
}
