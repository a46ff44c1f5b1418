package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "prodsched.db", cfg.Database.DSN)
	assert.Equal(t, "/tmp/prodsched-scheduler.lock", cfg.Scheduler.LockPath)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.CatchUpDelay)
	assert.Equal(t, 4, cfg.Scheduler.WorkerSlots)
	assert.Equal(t, 90, cfg.Scheduler.RetentionDays)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9090
  mode: debug
database:
  driver: postgres
  dsn: "host=localhost user=prodsched dbname=prodsched"
scheduler:
  timezone: Europe/Berlin
  worker_slots: 8
  group_order:
    - rush
    - standard
    - stock
log:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Timezone)
	assert.Equal(t, 8, cfg.Scheduler.WorkerSlots)
	assert.Equal(t, []string{"rush", "standard", "stock"}, cfg.Scheduler.GroupOrder)
	assert.Equal(t, "text", cfg.Log.Format)

	// Keys not present in the file keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Scheduler.CatchUpDelay)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PRODSCHED_SERVER_PORT", "3000")
	t.Setenv("PRODSCHED_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestSchedulerConfig_Location(t *testing.T) {
	local := SchedulerConfig{Timezone: "Local"}
	loc, err := local.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	berlin := SchedulerConfig{Timezone: "Europe/Berlin"}
	loc, err = berlin.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	bogus := SchedulerConfig{Timezone: "Not/AZone"}
	_, err = bogus.Location()
	assert.Error(t, err)
}
