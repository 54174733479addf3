package tracker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/jobtrack/pkg/log"
)

// Store is the authoritative in-memory job collection backed by a Backend.
// Every mutation holds the write lock across the change and the full save,
// so concurrent callers are serialized and no update is lost.
type Store struct {
	backend Backend
	now     func() time.Time

	mu     sync.RWMutex
	loaded bool
	result LoadResult
	jobs   []*Job
}

type Option func(*Store)

// WithClock replaces the timestamp source used for lastUpdated and notes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store over backend. A nil backend keeps records in
// memory only. Nothing is read until the first operation or Init.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init loads the collection on first call and returns the outcome. Later
// calls return the same result without touching the backend. Init never
// fails: unreadable data degrades to an empty collection.
func (s *Store) Init(ctx context.Context) LoadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLocked(ctx)
	return s.result
}

func (s *Store) initLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true
	s.jobs = make([]*Job, 0)

	if s.backend == nil {
		s.result = LoadResult{Format: FormatMissing}
		return
	}

	snap, err := s.backend.Load(ctx)
	if err != nil {
		log.Error("Failed to load job records, starting empty: %v", err)
		s.result = LoadResult{ReadErr: err}
		return
	}

	for i := range snap.Jobs {
		job := cloneJob(&snap.Jobs[i])
		job.Index = i
		s.jobs = append(s.jobs, job)
	}
	s.result = LoadResult{Format: snap.Format, Count: len(s.jobs)}
	log.Info("Loaded %d job records (%s)", len(s.jobs), snap.Format)
	if snap.Dropped > 0 {
		log.Warn("Skipped %d stored entries that are not job records", snap.Dropped)
	}

	if snap.Format == FormatLegacyMap {
		s.migrateLocked(ctx)
	}
}

func (s *Store) migrateLocked(ctx context.Context) {
	jobs := s.snapshotLocked()
	var err error
	if m, ok := s.backend.(Migrator); ok {
		err = m.Migrate(ctx, jobs)
	} else {
		err = s.backend.Save(ctx, jobs)
	}
	if err != nil {
		log.Error("Failed to migrate legacy job records: %v", err)
		s.result.MigrateErr = err
		return
	}
	s.result.Migrated = true
	log.Info("Migrated %d legacy job records to array format", len(jobs))
}

// ensureLoaded runs lazy initialization for read paths that take no context.
func (s *Store) ensureLoaded() {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if !loaded {
		s.Init(context.Background())
	}
}

func (s *Store) saveLocked(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Save(ctx, s.snapshotLocked())
}

// AddJob appends c unless it duplicates an existing record, in which case
// the existing index is returned and nothing is written. On a save failure
// the record stays in memory and the error wraps ErrPersist.
func (s *Store) AddJob(ctx context.Context, c Candidate) (int, error) {
	idx, _, err := s.Ingest(ctx, c)
	return idx, err
}

// Ingest is AddJob that also reports whether a new record was created.
func (s *Store) Ingest(ctx context.Context, c Candidate) (index int, created bool, err error) {
	if strings.TrimSpace(c.Company) == "" || strings.TrimSpace(c.JobTitle) == "" {
		return -1, false, &Error{Op: "add", Index: -1, Err: ErrInvalidCandidate}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLocked(ctx)

	if idx, ok := findDuplicate(s.jobs, c.Company, c.JobTitle, c.JobURL); ok {
		log.Debug("Skipping duplicate job %q at %q (matches #%d)", c.JobTitle, c.Company, idx)
		return idx, false, nil
	}

	idx := len(s.jobs)
	s.jobs = append(s.jobs, &Job{
		Index:          idx,
		Company:        c.Company,
		JobTitle:       c.JobTitle,
		Location:       c.Location,
		JobURL:         c.JobURL,
		SalaryRange:    c.SalaryRange,
		JobBoard:       c.JobBoard,
		Status:         StatusFound,
		LastUpdated:    s.now(),
		AdditionalInfo: cloneInfo(c.AdditionalInfo),
	})
	log.Info("Added job #%d: %s at %s", idx, c.JobTitle, c.Company)

	if err := s.saveLocked(ctx); err != nil {
		return idx, true, persistError("add", idx, err)
	}
	return idx, true, nil
}

// UpdateJobStatus sets the status of the record at index. It returns false
// without error when index is out of range. note is written to the log only;
// use AddNote to annotate the record itself.
func (s *Store) UpdateJobStatus(ctx context.Context, index int, status Status, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLocked(ctx)

	if index < 0 || index >= len(s.jobs) {
		return false, nil
	}

	job := s.jobs[index]
	if IsBackward(job.Status, status) {
		log.Warn("Job #%d moves backwards from %s to %s", index, job.Status, status)
	}
	job.Status = status
	job.LastUpdated = s.now()
	log.Info("Updated job #%d (%s at %s) to %s", index, job.JobTitle, job.Company, status)
	if note != "" {
		log.Info("Status note for job #%d: %s", index, note)
	}

	if err := s.saveLocked(ctx); err != nil {
		return true, persistError("update status of", index, err)
	}
	return true, nil
}

// AddNote appends a timestamped note to the record at index. It returns
// false without error when index is out of range.
func (s *Store) AddNote(ctx context.Context, index int, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLocked(ctx)

	if index < 0 || index >= len(s.jobs) {
		return false, nil
	}

	now := s.now()
	job := s.jobs[index]
	job.Notes = append(job.Notes, Note{Timestamp: now, Note: text})
	job.LastUpdated = now

	if err := s.saveLocked(ctx); err != nil {
		return true, persistError("add note to", index, err)
	}
	return true, nil
}

// MergeAdditionalInfo copies info into the record's additional info,
// overwriting existing keys. It returns false without error when index is
// out of range.
func (s *Store) MergeAdditionalInfo(ctx context.Context, index int, info map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLocked(ctx)

	if index < 0 || index >= len(s.jobs) {
		return false, nil
	}

	job := s.jobs[index]
	if job.AdditionalInfo == nil {
		job.AdditionalInfo = make(map[string]any, len(info))
	}
	for k, v := range info {
		job.AdditionalInfo[k] = cloneValue(v)
	}
	job.LastUpdated = s.now()

	if err := s.saveLocked(ctx); err != nil {
		return true, persistError("merge info into", index, err)
	}
	return true, nil
}

// CheckDuplicate reports the index an incoming job would collapse to.
func (s *Store) CheckDuplicate(company, jobTitle, jobURL string) (int, bool) {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return findDuplicate(s.jobs, company, jobTitle, jobURL)
}

func (s *Store) snapshotLocked() []Job {
	ret := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		ret = append(ret, *cloneJob(job))
	}
	return ret
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	tmp.AdditionalInfo = cloneInfo(job.AdditionalInfo)
	if job.Notes != nil {
		tmp.Notes = make([]Note, len(job.Notes))
		copy(tmp.Notes, job.Notes)
	}
	return &tmp
}

func cloneInfo(info map[string]any) map[string]any {
	if info == nil {
		return nil
	}
	ret := make(map[string]any, len(info))
	for k, v := range info {
		ret[k] = cloneValue(v)
	}
	return ret
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneInfo(val)
	case []any:
		ret := make([]any, len(val))
		for i, item := range val {
			ret[i] = cloneValue(item)
		}
		return ret
	default:
		return v
	}
}
