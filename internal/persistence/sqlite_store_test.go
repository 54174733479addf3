package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/jobtrack/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_JobsRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "jobtrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	ts := time.Date(2026, 4, 2, 8, 30, 0, 123000000, time.UTC)
	jobs := []tracker.Job{
		{
			Company:        "Acme",
			JobTitle:       "Backend Engineer",
			Location:       "Berlin",
			JobURL:         "https://acme.example/1",
			SalaryRange:    "70-90k",
			JobBoard:       "linkedin",
			Status:         tracker.StatusApplied,
			LastUpdated:    ts,
			AdditionalInfo: map[string]any{"confirmation": "ABC"},
			Notes:          []tracker.Note{{Timestamp: ts, Note: "sent"}},
		},
		{Company: "Globex", JobTitle: "SRE", Status: tracker.StatusFound},
	}
	require.NoError(t, store.Save(ctx, jobs))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, tracker.FormatArray, snap.Format)
	assert.Equal(t, jobs, snap.Jobs)

	require.NoError(t, store.Save(ctx, jobs[1:]))
	snap, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, "Globex", snap.Jobs[0].Company)
}

func TestSQLiteStore_EmptyIsMissing(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "jobtrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tracker.FormatMissing, snap.Format)
	assert.Empty(t, snap.Jobs)
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jobtrack.db")
	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Save(context.Background(), []tracker.Job{{Company: "Acme", JobTitle: "SRE"}}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	snap, err := second.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Jobs, 1)
}

func TestSQLiteStore_BacksTrackerStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jobtrack.db")
	backend, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	ctx := context.Background()
	s := tracker.NewStore(backend)
	idx, err := s.AddJob(ctx, tracker.Candidate{Company: "Acme", JobTitle: "Go Developer", JobBoard: "indeed"})
	require.NoError(t, err)
	ok, err := s.AddNote(ctx, idx, "called recruiter")
	require.NoError(t, err)
	require.True(t, ok)

	reloaded := tracker.NewStore(backend)
	assert.Equal(t, s.GetAllJobs(), reloaded.GetAllJobs())
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_init.sql"))
	assert.Equal(t, 12, migrationVersion("12"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}
