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
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			DSN:          "test.db",
			MaxOpenConns: 6,
			MaxIdleConns: 3,
			LogLevel:     "warn",
		},
		Storage: StorageConfig{BaseDir: "./data"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Queue:   QueueConfig{Capacity: 64},
		Worker: WorkerConfig{
			Count:      2,
			JobTimeout: 30 * time.Minute,
		},
		Retention: RetentionConfig{Age: 24 * time.Hour},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)

	// Database defaults
	assert.Equal(t, "transcodarr.db", cfg.Database.DSN)
	assert.Equal(t, 6, cfg.Database.MaxOpenConns)

	// Storage defaults
	assert.Equal(t, "./data", cfg.Storage.BaseDir)
	assert.Equal(t, "output", cfg.Storage.OutputDir)
	assert.Equal(t, "work", cfg.Storage.WorkDir)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Queue and worker defaults
	assert.Equal(t, 64, cfg.Queue.Capacity)
	assert.Equal(t, 2, cfg.Worker.Count)
	assert.Equal(t, 30*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal(t, 30*time.Second, cfg.Worker.DrainTimeout)

	// Fetch defaults
	assert.Equal(t, 5*time.Minute, cfg.Fetch.Timeout)
	assert.Equal(t, 3, cfg.Fetch.RetryAttempts)

	// Retention defaults
	assert.Equal(t, 24*time.Hour, cfg.Retention.Age)
	assert.NotEmpty(t, cfg.Retention.Cron)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  port: 9090
queue:
  capacity: 8
worker:
  count: 4
  job_timeout: 10m
engine:
  binary_path: /opt/ffmpeg/bin/ffmpeg
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Queue.Capacity)
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, 10*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Engine.BinaryPath)

	// Unset keys fall back to defaults
	assert.Equal(t, "transcodarr.db", cfg.Database.DSN)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TRANSCODARR_WORKER_COUNT", "7")
	t.Setenv("TRANSCODARR_QUEUE_CAPACITY", "3")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Worker.Count)
	assert.Equal(t, 3, cfg.Queue.Capacity)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "database.dsn",
		},
		{
			name:    "missing base dir",
			mutate:  func(c *Config) { c.Storage.BaseDir = "" },
			wantErr: "storage.base_dir",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "zero queue capacity",
			mutate:  func(c *Config) { c.Queue.Capacity = 0 },
			wantErr: "queue.capacity",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Worker.Count = 0 },
			wantErr: "worker.count",
		},
		{
			name:    "zero job timeout",
			mutate:  func(c *Config) { c.Worker.JobTimeout = 0 },
			wantErr: "worker.job_timeout",
		},
		{
			name:    "zero retention age",
			mutate:  func(c *Config) { c.Retention.Age = 0 },
			wantErr: "retention.age",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestStorageConfig_Paths(t *testing.T) {
	cfg := StorageConfig{BaseDir: "/var/lib/transcodarr", OutputDir: "output", WorkDir: "work"}

	assert.Equal(t, "/var/lib/transcodarr/output", cfg.OutputPath())
	assert.Equal(t, "/var/lib/transcodarr/work", cfg.WorkPath())
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", cfg.Address())
}
