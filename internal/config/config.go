package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MimeLyc/jobtrack/pkg/icron"
	"github.com/MimeLyc/jobtrack/pkg/log"
)

// Config holds all application configuration.
// Values come from environment variables (optionally seeded from a .env
// file) with sensible defaults.
//
// Environment Variables:
// Store Configuration:
// - DATA_DIR: Base directory for data files (default: ./data)
// - JOBS_FILE: Durable JSON record file (default: $DATA_DIR/jobs.json)
// - STORE_BACKEND: json or sqlite (default: json)
// - SQLITE_PATH: SQLite database path (default: $DATA_DIR/jobtrack.db)
//
// Ingest Configuration:
// - INBOX_DIR: Directory scanned for candidate files (default: $DATA_DIR/inbox)
// - INGEST_CRON: Inbox scan schedule (default: */15 * * * *)
// - INGEST_CONCURRENCY: Parallel candidate file parsers (default: 4)
//
// Apply Configuration:
// - APPLY_HOOK: Executable that performs an application (optional)
// - APPLY_WORKERS: Parallel application workers (default: 1)
// - APPLY_TIMEOUT: Per-application timeout in seconds (default: 120)
//
// Log Configuration:
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - LOG_FILE: Append logs to this file instead of stdout (optional)
//
// ENV_FILE names the .env file to load first (default: .env). A missing
// file is ignored; variables already set in the environment win.
type Config struct {
	Store  StoreConfig  `json:"store"`
	Ingest IngestConfig `json:"ingest"`
	Apply  ApplyConfig  `json:"apply"`
	Log    LogConfig    `json:"log"`
}

type Backend string

const (
	BackendJSON   Backend = "json"
	BackendSQLite Backend = "sqlite"
)

// StoreConfig selects where job records are persisted.
type StoreConfig struct {
	DataDir    string  `json:"data_dir"`
	JobsFile   string  `json:"jobs_file"`
	Backend    Backend `json:"backend"`
	SQLitePath string  `json:"sqlite_path"`
}

// IngestConfig controls the inbox ingestion source.
type IngestConfig struct {
	InboxDir    string `json:"inbox_dir"`
	CronExpr    string `json:"cron_expr"`
	Concurrency int    `json:"concurrency"`
}

// ApplyConfig controls the application workflow.
type ApplyConfig struct {
	Hook    string `json:"hook"`
	Workers int    `json:"workers"`
	Timeout int    `json:"timeout"`
}

func (c ApplyConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithDataDir points every derived path at dir.
func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.Store.DataDir = dir
		c.Store.JobsFile = filepath.Join(dir, "jobs.json")
		c.Store.SQLitePath = filepath.Join(dir, "jobtrack.db")
		c.Ingest.InboxDir = filepath.Join(dir, "inbox")
	}
}

func WithBackend(backend Backend) Option {
	return func(c *Config) {
		c.Store.Backend = backend
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	if err := loadEnvFile(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	dataDir := getEnvString("DATA_DIR", "./data")
	config := &Config{
		Store: StoreConfig{
			DataDir:    dataDir,
			JobsFile:   getEnvString("JOBS_FILE", filepath.Join(dataDir, "jobs.json")),
			Backend:    Backend(strings.ToLower(getEnvString("STORE_BACKEND", string(BackendJSON)))),
			SQLitePath: getEnvString("SQLITE_PATH", filepath.Join(dataDir, "jobtrack.db")),
		},
		Ingest: IngestConfig{
			InboxDir:    getEnvString("INBOX_DIR", filepath.Join(dataDir, "inbox")),
			CronExpr:    getEnvString("INGEST_CRON", "*/15 * * * *"),
			Concurrency: getEnvInt("INGEST_CONCURRENCY", 4),
		},
		Apply: ApplyConfig{
			Hook:    getEnvString("APPLY_HOOK", ""),
			Workers: getEnvInt("APPLY_WORKERS", 1),
			Timeout: getEnvInt("APPLY_TIMEOUT", 120),
		},
		Log: LogConfig{
			Level: getEnvString("LOG_LEVEL", "info"),
			File:  getEnvString("LOG_FILE", ""),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendJSON:
		if strings.TrimSpace(c.Store.JobsFile) == "" {
			return fmt.Errorf("JOBS_FILE is required for the json backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if _, err := icron.Parser.Parse(c.Ingest.CronExpr); err != nil {
		return fmt.Errorf("invalid INGEST_CRON: %w", err)
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("INGEST_CONCURRENCY must be positive, got %d", c.Ingest.Concurrency)
	}
	if c.Apply.Workers <= 0 {
		return fmt.Errorf("APPLY_WORKERS must be positive, got %d", c.Apply.Workers)
	}
	if c.Apply.Timeout <= 0 {
		return fmt.Errorf("APPLY_TIMEOUT must be positive, got %d", c.Apply.Timeout)
	}
	return nil
}

func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
