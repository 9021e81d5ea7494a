// Package config provides environment-aware configuration for the workflow engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP admin/machine API.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" yaml:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" yaml:"port" env:"DATABASE_PORT"`
	User            string `json:"user" yaml:"user" env:"DATABASE_USER"`
	Password        string `json:"password" yaml:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" yaml:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig controls HTTP API authentication.
type AuthConfig struct {
	Tokens []string `json:"tokens" yaml:"tokens"`
}

// WorkflowConfig holds engine-level settings that are not per-workflow
// constants (those live in the registry). cmd/workflowd passes
// HealthDegradedThreshold to the health reporter and StuckThresholdHours to
// recovery.NewLoop, which stores it without using it; the StateRetry*
// fields are not read (state.EnhancedManager uses compiled-in constants).
type WorkflowConfig struct {
	StuckThresholdHours     int `json:"stuck_threshold_hours" yaml:"stuck_threshold_hours" env:"WORKFLOW_STUCK_THRESHOLD_HOURS"`
	StateRetryMaxAttempts   int `json:"state_retry_max_attempts" yaml:"state_retry_max_attempts" env:"WORKFLOW_STATE_RETRY_MAX_ATTEMPTS"`
	StateRetryBaseSeconds   int `json:"state_retry_base_seconds" yaml:"state_retry_base_seconds" env:"WORKFLOW_STATE_RETRY_BASE_SECONDS"`
	HealthDegradedThreshold int `json:"health_degraded_threshold" yaml:"health_degraded_threshold" env:"WORKFLOW_HEALTH_DEGRADED_THRESHOLD"`
}

// NotificationConfig describes a retry/backoff policy for the notification
// drain. It is loaded but not read: notify.RetryDrain uses compiled-in
// constants (15s drain interval, 30s base backoff doubling to a 30m cap,
// 10 attempts).
type NotificationConfig struct {
	DrainIntervalSeconds int `json:"drain_interval_seconds" yaml:"drain_interval_seconds" env:"NOTIFY_DRAIN_INTERVAL_SECONDS"`
	BaseBackoffSeconds   int `json:"base_backoff_seconds" yaml:"base_backoff_seconds" env:"NOTIFY_BASE_BACKOFF_SECONDS"`
	MaxBackoffMinutes    int `json:"max_backoff_minutes" yaml:"max_backoff_minutes" env:"NOTIFY_MAX_BACKOFF_MINUTES"`
	MaxAttempts          int `json:"max_attempts" yaml:"max_attempts" env:"NOTIFY_MAX_ATTEMPTS"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig        `json:"server" yaml:"server"`
	Database     DatabaseConfig      `json:"database" yaml:"database"`
	Logging      LoggingConfig       `json:"logging" yaml:"logging"`
	Auth         AuthConfig          `json:"auth" yaml:"auth"`
	Workflow     WorkflowConfig      `json:"workflow" yaml:"workflow"`
	Notification NotificationConfig `json:"notification" yaml:"notification"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "workflow-engine",
		},
		Auth: AuthConfig{},
		Workflow: WorkflowConfig{
			StuckThresholdHours:     24,
			StateRetryMaxAttempts:   3,
			StateRetryBaseSeconds:   1,
			HealthDegradedThreshold: 10,
		},
		Notification: NotificationConfig{
			DrainIntervalSeconds: 15,
			BaseBackoffSeconds:   30,
			MaxBackoffMinutes:    30,
			MaxAttempts:          10,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// applyDatabaseURLOverride aligns config loading with cmd/workflowd: DATABASE_URL
// overrides any file-based DSN to reduce setup friction.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
