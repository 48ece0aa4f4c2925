package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, StreamingPort: 8080},
		Database: DatabaseConfig{
			Path:     "test.db",
			LogLevel: "warn",
		},
		Cache:   CacheConfig{Engine: "memory", RedisAddr: "localhost:6379"},
		Storage: StorageConfig{BaseDir: "./data"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Retention: RetentionConfig{
			CleanupCron: "0 0 3 * * *",
			EPG:         7 * 24 * time.Hour,
			Sessions:    30 * 24 * time.Hour,
			Logs:        30 * 24 * time.Hour,
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8080, cfg.Server.StreamingPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)

	// Database defaults
	assert.Equal(t, "./data/plexbridge.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)

	// Cache defaults
	assert.Equal(t, "memory", cfg.Cache.Engine)
	assert.Equal(t, "plexbridge:", cfg.Cache.KeyPrefix)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)

	// Storage defaults
	assert.Equal(t, "./data", cfg.Storage.BaseDir)
	assert.Equal(t, "logos", cfg.Storage.LogoDir)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// SSDP defaults
	assert.True(t, cfg.SSDP.Enabled)

	// Retention defaults
	assert.Equal(t, "0 0 3 * * *", cfg.Retention.CleanupCron)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.EPG)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.Sessions)
}

func TestLoad_FromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090
  streaming_port: 9091
  advertised_host: "192.168.1.10"
  read_timeout: 60s

database:
  path: "/var/lib/plexbridge/bridge.db"

cache:
  engine: "redis"
  redis_addr: "redis.local:6379"

storage:
  base_dir: "/var/lib/plexbridge"

logging:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check file values were loaded
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 9091, cfg.Server.StreamingPort)
	assert.Equal(t, "192.168.1.10", cfg.Server.AdvertisedHost)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/var/lib/plexbridge/bridge.db", cfg.Database.Path)
	assert.Equal(t, "redis", cfg.Cache.Engine)
	assert.Equal(t, "redis.local:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "/var/lib/plexbridge", cfg.Storage.BaseDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	// Set environment variables
	t.Setenv("PLEXBRIDGE_SERVER_PORT", "3000")
	t.Setenv("PLEXBRIDGE_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("PLEXBRIDGE_CACHE_ENGINE", "redis")
	t.Setenv("PLEXBRIDGE_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check env overrides
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "redis", cfg.Cache.Engine)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
database:
  path: "test.db"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	// Set env var to override file
	t.Setenv("PLEXBRIDGE_SERVER_PORT", "9000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Env should override file
	assert.Equal(t, 9000, cfg.Server.Port)
	// File value should be preserved
	assert.Equal(t, "test.db", cfg.Database.Path)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validTestConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Server.Port = tt.port
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestValidate_InvalidStreamingPort(t *testing.T) {
	cfg := validTestConfig()
	cfg.Server.StreamingPort = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.streaming_port")
}

func TestValidate_EmptyDatabasePath(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.Path = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestValidate_InvalidCacheEngine(t *testing.T) {
	cfg := validTestConfig()
	cfg.Cache.Engine = "memcached"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cache.engine")
}

func TestValidate_RedisRequiresAddr(t *testing.T) {
	cfg := validTestConfig()
	cfg.Cache.Engine = "redis"
	cfg.Cache.RedisAddr = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cache.redis_addr")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "invalid"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_EmptyCleanupCron(t *testing.T) {
	cfg := validTestConfig()
	cfg.Retention.CleanupCron = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retention.cleanup_cron")
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"localhost", "127.0.0.1", 8080, "127.0.0.1:8080"},
		{"all interfaces", "0.0.0.0", 3000, "0.0.0.0:3000"},
		{"hostname", "example.com", 443, "example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestStorageConfig_Paths(t *testing.T) {
	cfg := &StorageConfig{
		BaseDir: "/var/lib/plexbridge",
		LogoDir: "logos",
		TempDir: "temp",
	}

	assert.Equal(t, "/var/lib/plexbridge/logos", cfg.LogoPath())
	assert.Equal(t, "/var/lib/plexbridge/temp", cfg.TempPath())
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	// Create an invalid YAML file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
server:
  port: "not a number"
  invalid yaml structure
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	// Specifying a non-existent file should fail
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_MaxLogoSizeHumanReadable(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  max_logo_size: "10MB"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, int64(10*1024*1024), cfg.Storage.MaxLogoSize.Bytes())
}
