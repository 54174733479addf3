package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_DataDirDefault(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	t.Setenv("JOBS_FILE", "")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.Store.DataDir)
	assert.Equal(t, filepath.Join("./data", "jobs.json"), cfg.Store.JobsFile)
	assert.Equal(t, filepath.Join("./data", "inbox"), cfg.Ingest.InboxDir)
	assert.Equal(t, BackendJSON, cfg.Store.Backend)
	assert.Equal(t, "*/15 * * * *", cfg.Ingest.CronExpr)
	assert.Equal(t, 1, cfg.Apply.Workers)
	assert.Equal(t, 120*time.Second, cfg.Apply.TimeoutDuration())
}

func TestNewFromEnv_DataDirFromEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/jobtrack-data")
	t.Setenv("JOBS_FILE", "")
	t.Setenv("SQLITE_PATH", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/jobtrack-data", cfg.Store.DataDir)
	assert.Equal(t, filepath.Join("/tmp/jobtrack-data", "jobs.json"), cfg.Store.JobsFile)
	assert.Equal(t, filepath.Join("/tmp/jobtrack-data", "jobtrack.db"), cfg.Store.SQLitePath)
}

func TestNewFromEnv_Options(t *testing.T) {
	dir := t.TempDir()

	cfg, err := NewFromEnv(WithDataDir(dir), WithBackend(BackendSQLite))
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, filepath.Join(dir, "jobtrack.db"), cfg.Store.SQLitePath)
	assert.Equal(t, filepath.Join(dir, "inbox"), cfg.Ingest.InboxDir)
}

func TestNewFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown backend", "STORE_BACKEND", "postgres"},
		{"bad cron", "INGEST_CRON", "every now and then"},
		{"zero workers", "APPLY_WORKERS", "0"},
		{"negative concurrency", "INGEST_CONCURRENCY", "-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := NewFromEnv()
			require.Error(t, err)
		})
	}
}

func TestNewFromEnv_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("APPLY_WORKERS=3\nINGEST_CRON=@hourly\n"), 0o600))

	t.Setenv("ENV_FILE", envFile)
	// godotenv does not override variables that are already present
	t.Setenv("APPLY_WORKERS", "")
	require.NoError(t, os.Unsetenv("APPLY_WORKERS"))
	t.Setenv("INGEST_CRON", "*/5 * * * *")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Apply.Workers)
	assert.Equal(t, "*/5 * * * *", cfg.Ingest.CronExpr)
	t.Cleanup(func() { _ = os.Unsetenv("APPLY_WORKERS") })
}

func TestNewFromEnv_MissingEnvFileIgnored(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))

	_, err := NewFromEnv()
	require.NoError(t, err)
}
