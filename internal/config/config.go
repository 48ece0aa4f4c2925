// Package config provides configuration management for plexbridge using Viper.
// It supports configuration from files, environment variables, and defaults.
//
// This layer covers process bootstrap only: bind addresses, file locations,
// binary paths, cache backends. Runtime behaviour (tuner count, stream limits,
// transcoding switches) lives in the database-backed settings tree and is
// managed by the settings service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort           = 8080
	defaultStreamingPort        = 8080
	defaultDiscoveryPort        = 1900
	defaultServerTimeout        = 30 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultDatabasePath         = "./data/plexbridge.db"
	defaultCacheEngine          = "memory"
	defaultRedisAddr            = "localhost:6379"
	defaultRedisConnectTimeout  = 5 * time.Second
	defaultRedisRetryInterval   = 30 * time.Second
	defaultCacheKeyPrefix       = "plexbridge:"
	defaultLogoMaxSizeBytes     = 5 * 1024 * 1024 // 5MB
	defaultLogoCacheRetention   = 30 * 24 * time.Hour
	defaultHTTPTimeout          = 60 * time.Second
	defaultRetryAttempts        = 3
	defaultRetryDelay           = 5 * time.Second
	defaultCleanupCron          = "0 0 3 * * *" // daily at 3 AM (6-field cron)
	defaultEPGRetention         = 7 * 24 * time.Hour
	defaultSessionRetention     = 30 * 24 * time.Hour
	defaultLogRetention         = 30 * 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	SSDP      SSDPConfig      `mapstructure:"ssdp"`
	Client    ClientConfig    `mapstructure:"client"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// ServerConfig holds HTTP server configuration.
//
// StreamingPort and AdvertisedHost are bootstrap values only; once the
// settings store is up, plexlive.network.* values take precedence when set.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	StreamingPort   int           `mapstructure:"streaming_port"`
	AdvertisedHost  string        `mapstructure:"advertised_host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
// Only SQLite is supported; the store is a single file under Path.
type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	CacheSize   int           `mapstructure:"cache_size"` // pages; negative = KiB, per SQLite semantics
	LogLevel    string        `mapstructure:"log_level"`  // silent, error, warn, info
}

// CacheConfig holds key-value cache configuration.
type CacheConfig struct {
	Engine         string        `mapstructure:"engine"` // memory, redis
	KeyPrefix      string        `mapstructure:"key_prefix"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir       string        `mapstructure:"base_dir"`
	LogoDir       string        `mapstructure:"logo_dir"`
	TempDir       string        `mapstructure:"temp_dir"`
	LogoRetention time.Duration `mapstructure:"logo_retention"`
	// MaxLogoSize is the maximum allowed size for cached logo files.
	// Supports human-readable values like "5MB", "1GB", or raw byte counts.
	MaxLogoSize ByteSize `mapstructure:"max_logo_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = resolve from PATH)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = resolve from PATH)
}

// SSDPConfig holds the bootstrap switch for UPnP discovery. Announce
// interval, multicast group, and device identity are runtime settings.
type SSDPConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ClientConfig holds outbound HTTP client configuration used when talking
// to upstream IPTV providers.
type ClientConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// RetentionConfig holds data retention and cleanup scheduling.
type RetentionConfig struct {
	CleanupCron string        `mapstructure:"cleanup_cron"` // 6-field cron expression
	EPG         time.Duration `mapstructure:"epg"`
	Sessions    time.Duration `mapstructure:"sessions"`
	Logs        time.Duration `mapstructure:"logs"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with PLEXBRIDGE_ and use underscores
// for nesting. Example: PLEXBRIDGE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/plexbridge")
		v.AddConfigPath("$HOME/.plexbridge")
	}

	// Environment variable settings
	v.SetEnvPrefix("PLEXBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	// The TextUnmarshaller hook lets ByteSize and Duration fields accept
	// human-readable values ("5MB", "2w") from YAML and env vars.
	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.streaming_port", defaultStreamingPort)
	v.SetDefault("server.advertised_host", "")
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // streaming responses must not be cut off
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.cache_size", -64000) // 64MB page cache
	v.SetDefault("database.log_level", "warn")

	// Cache defaults
	v.SetDefault("cache.engine", defaultCacheEngine)
	v.SetDefault("cache.key_prefix", defaultCacheKeyPrefix)
	v.SetDefault("cache.redis_addr", defaultRedisAddr)
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.connect_timeout", defaultRedisConnectTimeout)
	v.SetDefault("cache.retry_interval", defaultRedisRetryInterval)

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.logo_dir", "logos")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.logo_retention", defaultLogoCacheRetention)
	v.SetDefault("storage.max_logo_size", defaultLogoMaxSizeBytes)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// SSDP defaults
	v.SetDefault("ssdp.enabled", true)

	// Outbound client defaults
	v.SetDefault("client.timeout", defaultHTTPTimeout)
	v.SetDefault("client.retry_attempts", defaultRetryAttempts)
	v.SetDefault("client.retry_delay", defaultRetryDelay)
	v.SetDefault("client.user_agent", "")

	// Retention defaults
	v.SetDefault("retention.cleanup_cron", defaultCleanupCron)
	v.SetDefault("retention.epg", defaultEPGRetention)
	v.SetDefault("retention.sessions", defaultSessionRetention)
	v.SetDefault("retention.logs", defaultLogRetention)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.StreamingPort < 1 || c.Server.StreamingPort > maxPort {
		return fmt.Errorf("server.streaming_port must be between 1 and %d", maxPort)
	}

	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Cache validation
	validEngines := map[string]bool{"memory": true, "redis": true}
	if !validEngines[c.Cache.Engine] {
		return fmt.Errorf("cache.engine must be one of: memory, redis")
	}
	if c.Cache.Engine == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when cache.engine is redis")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Retention validation
	if c.Retention.CleanupCron == "" {
		return fmt.Errorf("retention.cleanup_cron is required")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogoPath returns the full path to the logo cache directory.
func (c *StorageConfig) LogoPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.LogoDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
