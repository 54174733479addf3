package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/jobtrack/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const englishDescription = "We are looking for an experienced engineer who enjoys building reliable " +
	"distributed systems and wants to work closely with our product team on new features every week."

const germanDescription = "Wir suchen eine erfahrene Entwicklerin oder einen erfahrenen Entwickler, " +
	"die oder der gerne zuverlässige Systeme baut und eng mit unserem Team zusammenarbeiten möchte."

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFile_JSONArrayAndObject(t *testing.T) {
	dir := t.TempDir()
	arr := writeFile(t, dir, "a.json", `[
		{"company": " Acme ", "jobTitle": "SRE", "jobUrl": "https://acme.example/1", "jobBoard": "linkedin"},
		{"company": "", "jobTitle": "Missing company"},
		{"company": "Globex", "jobTitle": "Go Developer", "additionalInfo": {"remote": true}}
	]`)
	obj := writeFile(t, dir, "b.json", `{"company": "Initech", "jobTitle": "Data Engineer"}`)

	candidates, invalid, err := ParseFile(arr)
	require.NoError(t, err)
	assert.Equal(t, 1, invalid)
	require.Len(t, candidates, 2)
	assert.Equal(t, "Acme", candidates[0].Company)
	assert.Equal(t, "https://acme.example/1", candidates[0].JobURL)
	assert.Equal(t, true, candidates[1].AdditionalInfo["remote"])

	candidates, invalid, err = ParseFile(obj)
	require.NoError(t, err)
	assert.Zero(t, invalid)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Data Engineer", candidates[0].JobTitle)
}

func TestParseFile_YAML(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "list.yaml", `
- company: Acme
  jobTitle: SRE
  location: Berlin
  additionalInfo:
    referral: Jane
- company: Globex
  jobTitle: Go Developer
`)
	single := writeFile(t, dir, "single.yml", "company: Initech\njobTitle: Data Engineer\n")
	scalar := writeFile(t, dir, "scalar.yaml", "just a string\n")

	candidates, _, err := ParseFile(list)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "Berlin", candidates[0].Location)
	assert.Equal(t, "Jane", candidates[0].AdditionalInfo["referral"])

	candidates, _, err = ParseFile(single)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	_, _, err = ParseFile(scalar)
	assert.Error(t, err)
}

func TestParseFile_DetectsDescriptionLanguage(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "langs.json", `[
		{"company": "Acme", "jobTitle": "SRE", "description": "`+englishDescription+`"},
		{"company": "Globex", "jobTitle": "Entwickler", "description": "`+germanDescription+`"},
		{"company": "Initech", "jobTitle": "Go Developer"}
	]`)

	candidates, _, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, "en", candidates[0].AdditionalInfo[InfoLanguage])
	assert.Equal(t, englishDescription, candidates[0].AdditionalInfo[InfoDescription])
	assert.Equal(t, "de", candidates[1].AdditionalInfo[InfoLanguage])
	assert.NotContains(t, candidates[2].AdditionalInfo, InfoLanguage)
}

func TestParseFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := ParseFile(writeFile(t, dir, "bad.json", `[{"company": `))
	assert.Error(t, err)

	_, _, err = ParseFile(writeFile(t, dir, "notes.txt", "hello"))
	assert.Error(t, err)

	_, _, err = ParseFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestIngester_IngestFiles(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "1.json", `[
		{"company": "Acme", "jobTitle": "SRE", "jobUrl": "https://acme.example/1"},
		{"company": "Globex", "jobTitle": "Go Developer"},
		{"jobTitle": "No company"}
	]`)
	second := writeFile(t, dir, "2.yaml", `
- company: Other Name
  jobTitle: Other Title
  jobUrl: " HTTPS://ACME.EXAMPLE/1 "
- company: GLOBEX
  jobTitle: go developer
- company: Initech
  jobTitle: Data Engineer
`)
	broken := writeFile(t, dir, "3.json", `{`)

	store := tracker.NewStore(nil)
	ing := NewIngester(store, WithConcurrency(2))

	report, err := ing.IngestFiles(context.Background(), []string{first, second, broken})
	require.NoError(t, err)

	assert.NotEmpty(t, report.Batch)
	assert.Equal(t, 3, report.Files)
	assert.Equal(t, 5, report.Candidates)
	assert.Equal(t, 3, report.Added)
	assert.Equal(t, 2, report.Duplicates)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, []int{0, 1, 2}, report.Indices)
	assert.Contains(t, report.FailedFiles, broken)

	jobs := store.GetAllJobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "Initech", jobs[2].Company)
	assert.Equal(t, "2.yaml", jobs[2].AdditionalInfo[InfoSourceFile])
	assert.Equal(t, report.Batch, jobs[2].AdditionalInfo[InfoBatch])
	assert.Equal(t, tracker.StatusFound, jobs[2].Status)
}

func TestIngester_IngestInboxSince(t *testing.T) {
	dir := t.TempDir()
	old := writeFile(t, dir, "old.json", `[{"company": "Acme", "jobTitle": "SRE"}]`)
	writeFile(t, dir, "new.json", `[{"company": "Globex", "jobTitle": "Go Developer"}]`)
	writeFile(t, dir, "readme.md", "ignored")

	cutoff := time.Now().Add(-time.Minute)
	past := cutoff.Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	store := tracker.NewStore(nil)
	report, err := NewIngester(store).IngestInbox(context.Background(), dir, cutoff)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 1, report.Added)
	jobs := store.GetAllJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "Globex", jobs[0].Company)
}

func TestScheduler_RunOnceSkipsIngestedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "batch.json", `[{"company": "Acme", "jobTitle": "SRE"}]`)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, past, past))

	store := tracker.NewStore(nil)
	s := NewScheduler(NewIngester(store), dir, "@every 1h")

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)

	report, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Files)
	assert.Len(t, store.GetAllJobs(), 1)
}

func TestScheduler_PicksUpFilesWithOldTimestamps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "first.json", `[{"company": "Acme", "jobTitle": "SRE"}]`)

	store := tracker.NewStore(nil)
	s := NewScheduler(NewIngester(store), dir, "@every 1h")
	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	// a file moved in keeps the mtime it had elsewhere
	moved := writeFile(t, dir, "moved.yaml", "company: Globex\njobTitle: Go Developer\n")
	past := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(moved, past, past))

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 1, report.Added)
	assert.Len(t, store.GetAllJobs(), 2)
}

func TestScheduler_RereadsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "batch.json", `[{"company": "Acme", "jobTitle": "SRE"}]`)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	store := tracker.NewStore(nil)
	s := NewScheduler(NewIngester(store), dir, "@every 1h")
	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	writeFile(t, dir, "batch.json", `[{"company": "Acme", "jobTitle": "SRE"}, {"company": "Initech", "jobTitle": "SRE"}]`)
	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.Duplicates)
	assert.Len(t, store.GetAllJobs(), 2)
}

func TestScheduler_StartStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	s := NewScheduler(NewIngester(tracker.NewStore(nil)), dir, "*/15 * * * *")

	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestScheduler_StartRejectsBadCron(t *testing.T) {
	s := NewScheduler(NewIngester(tracker.NewStore(nil)), t.TempDir(), "every tuesday")
	assert.Error(t, s.Start(context.Background()))
}
