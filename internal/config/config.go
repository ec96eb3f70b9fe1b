// Package config provides configuration management for transcodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 6
	defaultMaxIdleConns    = 3
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultQueueCapacity   = 64
	defaultWorkerCount     = 2
	defaultJobTimeout      = 30 * time.Minute
	defaultDrainTimeout    = 30 * time.Second
	defaultFetchTimeout    = 5 * time.Minute
	defaultFetchRetries    = 3
	defaultFetchRetryDelay = 2 * time.Second
	defaultMaxSourceBytes  = 2 * 1024 * 1024 * 1024 // 2GB
	defaultRetentionAge    = 24 * time.Hour
	defaultRetentionCron   = "0 */15 * * * *" // every 15 minutes (6-field cron)
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	OutputDir string `mapstructure:"output_dir"`
	WorkDir   string `mapstructure:"work_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// QueueConfig holds job queue configuration.
type QueueConfig struct {
	// Capacity is the maximum number of queued jobs. Submissions beyond
	// this bound fail fast with a capacity error.
	Capacity int `mapstructure:"capacity"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	// Count is the number of concurrent transcode workers. At most Count
	// jobs run concurrently, system-wide.
	Count int `mapstructure:"count"`

	// JobTimeout is the per-job wall-clock limit for the engine process.
	JobTimeout time.Duration `mapstructure:"job_timeout"`

	// DrainTimeout is how long shutdown waits for in-flight jobs before
	// forcing termination of their engine processes.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// EngineConfig holds external media engine (ffmpeg) configuration.
type EngineConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
	LogLevel   string `mapstructure:"log_level"`   // ffmpeg -loglevel value
}

// FetchConfig holds remote source retrieval configuration.
type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxSourceBytes int64         `mapstructure:"max_source_bytes"`
}

// RetentionConfig holds terminal-job retention configuration.
type RetentionConfig struct {
	// Age is how long terminal jobs (and their work dirs) are kept before
	// the sweep evicts them.
	Age time.Duration `mapstructure:"age"`

	// Cron is the 6-field cron expression for the retention sweep.
	Cron string `mapstructure:"cron"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TRANSCODARR_ and use underscores
// for nesting. Example: TRANSCODARR_WORKER_COUNT=4.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/transcodarr")
		v.AddConfigPath("$HOME/.transcodarr")
	}

	v.SetEnvPrefix("TRANSCODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.dsn", "transcodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.work_dir", "work")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Queue defaults
	v.SetDefault("queue.capacity", defaultQueueCapacity)

	// Worker defaults
	v.SetDefault("worker.count", defaultWorkerCount)
	v.SetDefault("worker.job_timeout", defaultJobTimeout)
	v.SetDefault("worker.drain_timeout", defaultDrainTimeout)

	// Engine defaults
	v.SetDefault("engine.binary_path", "")
	v.SetDefault("engine.probe_path", "")
	v.SetDefault("engine.log_level", "error")

	// Fetch defaults
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.retry_attempts", defaultFetchRetries)
	v.SetDefault("fetch.retry_delay", defaultFetchRetryDelay)
	v.SetDefault("fetch.max_source_bytes", defaultMaxSourceBytes)

	// Retention defaults
	v.SetDefault("retention.age", defaultRetentionAge)
	v.SetDefault("retention.cron", defaultRetentionCron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be at least 1")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be at least 1")
	}
	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker.job_timeout must be positive")
	}

	if c.Retention.Age <= 0 {
		return fmt.Errorf("retention.age must be positive")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OutputPath returns the full path to the output directory.
func (c *StorageConfig) OutputPath() string {
	return filepath.Join(c.BaseDir, c.OutputDir)
}

// WorkPath returns the full path to the per-job work directory root.
func (c *StorageConfig) WorkPath() string {
	return filepath.Join(c.BaseDir, c.WorkDir)
}
