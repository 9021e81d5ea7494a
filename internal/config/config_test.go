package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Database.MigrateOnStart)
	assert.Equal(t, 24, cfg.Workflow.StuckThresholdHours)
	assert.Equal(t, 15, cfg.Notification.DrainIntervalSeconds)
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "wf",
		Password: "secret",
		Name:     "workflow",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=wf password=secret dbname=workflow sslmode=disable"
	assert.Equal(t, want, db.ConnectionString())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("server:\n  port: 9090\nworkflow:\n  stuck_threshold_hours: 12\n")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Workflow.StuckThresholdHours)
}

func TestApplyDatabaseURLOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example/dsn")
	cfg := New()
	applyDatabaseURLOverride(cfg)
	assert.Equal(t, "postgres://example/dsn", cfg.Database.DSN)
}
