// Package config provides configuration management for songforge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultRateLimitPerMin    = 60
	defaultMaxRequestBody     = 1 << 20 // 1MB
	defaultWorkerConcurrency  = 2
	defaultWorkerPollInterval = 250 * time.Millisecond
	defaultClaimLockTimeout   = 30 * time.Minute
	defaultShutdownGrace      = 15 * time.Second
	defaultMaxAttempts        = 3
	defaultBackoffMS          = 2000
	defaultIdempotencyWindow  = 24 * time.Hour
	defaultScratchRetention   = 24 * time.Hour
	defaultJobTimeoutPerMin   = 15 * time.Minute
	defaultProcessGrace       = 5 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Transcoder TranscoderConfig `mapstructure:"transcoder"`
	Generation GenerationConfig `mapstructure:"generation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestBody  int64         `mapstructure:"max_request_body"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds asset storage configuration.
type StorageConfig struct {
	Backend       string        `mapstructure:"backend"` // local, s3
	AssetsDir     string        `mapstructure:"assets_dir"`
	ScratchTTL    time.Duration `mapstructure:"scratch_ttl"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	S3            S3Config      `mapstructure:"s3"`
}

// S3Config holds S3-compatible object store configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// AuthConfig holds API key and rate limit configuration.
type AuthConfig struct {
	DefaultAPIKey   string `mapstructure:"default_api_key"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

// WorkersConfig holds worker pool configuration.
type WorkersConfig struct {
	// Concurrency maps a job type to the number of workers for that type.
	// Types absent from the map use DefaultConcurrency.
	Concurrency        map[string]int `mapstructure:"concurrency"`
	DefaultConcurrency int            `mapstructure:"default_concurrency"`
	PollInterval       time.Duration  `mapstructure:"poll_interval"`
	LockTimeout        time.Duration  `mapstructure:"lock_timeout"`
	ShutdownGrace      time.Duration  `mapstructure:"shutdown_grace"`
	MaxAttempts        int            `mapstructure:"max_attempts"`
	BackoffMS          int            `mapstructure:"backoff_ms"`
	IdempotencyWindow  time.Duration  `mapstructure:"idempotency_window"`
}

// TranscoderConfig holds transcoder binary configuration.
type TranscoderConfig struct {
	BinaryPath   string        `mapstructure:"binary_path"`   // ffmpeg binary (empty = look up in PATH)
	ProbePath    string        `mapstructure:"probe_path"`    // ffprobe binary (empty = look up in PATH)
	ProcessGrace time.Duration `mapstructure:"process_grace"` // interrupt-to-kill window
}

// GenerationConfig holds music generation pipeline configuration.
type GenerationConfig struct {
	// TimeoutPerMinute is the wall-clock budget per minute of requested audio.
	TimeoutPerMinute time.Duration `mapstructure:"timeout_per_minute"`
	// TimeoutOverride, when positive, replaces the computed per-job timeout.
	TimeoutOverride time.Duration `mapstructure:"timeout_override"`
	// TimeoutOverrideMS mirrors TimeoutOverride for the GENERATION_TIMEOUT_MS
	// environment variable, which is an integer millisecond count.
	TimeoutOverrideMS int64 `mapstructure:"timeout_override_ms"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with SONGFORGE_ and use underscores for
// nesting, e.g. SONGFORGE_SERVER_PORT=8080. A handful of conventional
// deployment variables (PORT, DATABASE_URL, ...) are bound as aliases.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/songforge")
		v.AddConfigPath("$HOME/.songforge")
	}

	v.SetEnvPrefix("SONGFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindEnvAliases(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.max_request_body", defaultMaxRequestBody)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "songforge.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.assets_dir", "./data")
	v.SetDefault("storage.scratch_ttl", defaultScratchRetention)
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Auth defaults
	v.SetDefault("auth.default_api_key", "")
	v.SetDefault("auth.rate_limit_per_min", defaultRateLimitPerMin)

	// Worker defaults
	v.SetDefault("workers.default_concurrency", defaultWorkerConcurrency)
	v.SetDefault("workers.poll_interval", defaultWorkerPollInterval)
	v.SetDefault("workers.lock_timeout", defaultClaimLockTimeout)
	v.SetDefault("workers.shutdown_grace", defaultShutdownGrace)
	v.SetDefault("workers.max_attempts", defaultMaxAttempts)
	v.SetDefault("workers.backoff_ms", defaultBackoffMS)
	v.SetDefault("workers.idempotency_window", defaultIdempotencyWindow)

	// Transcoder defaults
	v.SetDefault("transcoder.binary_path", "")
	v.SetDefault("transcoder.probe_path", "")
	v.SetDefault("transcoder.process_grace", defaultProcessGrace)

	// Generation defaults
	v.SetDefault("generation.timeout_per_minute", defaultJobTimeoutPerMin)
	v.SetDefault("generation.timeout_override", time.Duration(0))
	v.SetDefault("generation.timeout_override_ms", 0)
}

// BindEnvAliases binds flat deployment-style environment variables to their
// nested config keys. These take precedence over the config file but lose to
// the SONGFORGE_* forms when both are set (viper returns the first bound env
// var that is present, in bind order).
func BindEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SONGFORGE_SERVER_PORT", "PORT")
	_ = v.BindEnv("database.dsn", "SONGFORGE_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("storage.assets_dir", "SONGFORGE_STORAGE_ASSETS_DIR", "ASSETS_DIR")
	_ = v.BindEnv("storage.backend", "SONGFORGE_STORAGE_BACKEND", "STORAGE_BACKEND")
	_ = v.BindEnv("storage.s3.bucket", "SONGFORGE_STORAGE_S3_BUCKET", "S3_BUCKET")
	_ = v.BindEnv("storage.s3.region", "SONGFORGE_STORAGE_S3_REGION", "S3_REGION")
	_ = v.BindEnv("storage.s3.endpoint", "SONGFORGE_STORAGE_S3_ENDPOINT", "S3_ENDPOINT")
	_ = v.BindEnv("storage.s3.access_key_id", "SONGFORGE_STORAGE_S3_ACCESS_KEY_ID", "S3_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.s3.secret_access_key", "SONGFORGE_STORAGE_S3_SECRET_ACCESS_KEY", "S3_SECRET_ACCESS_KEY")
	_ = v.BindEnv("auth.default_api_key", "SONGFORGE_AUTH_DEFAULT_API_KEY", "DEFAULT_API_KEY")
	_ = v.BindEnv("auth.rate_limit_per_min", "SONGFORGE_AUTH_RATE_LIMIT_PER_MIN", "RATE_LIMIT_PER_MIN")
	_ = v.BindEnv("workers.default_concurrency", "SONGFORGE_WORKERS_DEFAULT_CONCURRENCY", "WORKER_CONCURRENCY")
	_ = v.BindEnv("transcoder.binary_path", "SONGFORGE_TRANSCODER_BINARY_PATH", "TRANSCODER_BIN")
	_ = v.BindEnv("transcoder.probe_path", "SONGFORGE_TRANSCODER_PROBE_PATH", "TRANSCODER_PROBE_BIN")
	_ = v.BindEnv("logging.level", "SONGFORGE_LOGGING_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("generation.timeout_override_ms", "GENERATION_TIMEOUT_MS")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	// Non-embedded drivers have no sensible DSN default; require DATABASE_URL.
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (set DATABASE_URL)")
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.AssetsDir == "" {
			return fmt.Errorf("storage.assets_dir is required (set ASSETS_DIR)")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend (set S3_BUCKET)")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: local, s3")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Auth.RateLimitPerMin < 1 {
		return fmt.Errorf("auth.rate_limit_per_min must be at least 1")
	}
	if c.Workers.DefaultConcurrency < 1 {
		return fmt.Errorf("workers.default_concurrency must be at least 1")
	}
	if c.Workers.MaxAttempts < 1 {
		return fmt.Errorf("workers.max_attempts must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConcurrencyFor returns the worker count for the given job type.
func (c *WorkersConfig) ConcurrencyFor(jobType string) int {
	if n, ok := c.Concurrency[jobType]; ok && n > 0 {
		return n
	}
	if c.DefaultConcurrency > 0 {
		return c.DefaultConcurrency
	}
	return defaultWorkerConcurrency
}

// JobTimeout returns the wall-clock budget for a job rendering the given
// number of seconds of audio.
func (c *GenerationConfig) JobTimeout(durationSec int) time.Duration {
	if c.TimeoutOverride > 0 {
		return c.TimeoutOverride
	}
	if c.TimeoutOverrideMS > 0 {
		return time.Duration(c.TimeoutOverrideMS) * time.Millisecond
	}
	per := c.TimeoutPerMinute
	if per <= 0 {
		per = defaultJobTimeoutPerMin
	}
	minutes := float64(durationSec) / 60.0
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(float64(per) * minutes)
}
