package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusFound    Status = "found"
	StatusReviewed Status = "reviewed"
	StatusApplied  Status = "applied"
)

// unknownBucket groups records with no status or job board in Statistics.
const unknownBucket = "unknown"

// statusRank orders the intended flow found -> reviewed -> applied.
var statusRank = map[Status]int{
	StatusFound:    1,
	StatusReviewed: 2,
	StatusApplied:  3,
}

// ParseStatus converts a raw string to a Status, case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsBackward reports whether moving from -> to goes against the intended
// flow. Unknown statuses are never considered backward.
func IsBackward(from, to Status) bool {
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	return okFrom && okTo && toRank < fromRank
}

type Note struct {
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note"`
}

// Job is one tracked job posting. Index is its position in the store and
// is not persisted.
type Job struct {
	Index          int            `json:"-"`
	Company        string         `json:"company"`
	JobTitle       string         `json:"jobTitle"`
	Location       string         `json:"location,omitempty"`
	JobURL         string         `json:"jobUrl,omitempty"`
	SalaryRange    string         `json:"salaryRange,omitempty"`
	JobBoard       string         `json:"jobBoard,omitempty"`
	Status         Status         `json:"status,omitempty"`
	LastUpdated    time.Time      `json:"lastUpdated,omitzero"`
	AdditionalInfo map[string]any `json:"additionalInfo,omitzero"`
	Notes          []Note         `json:"notes,omitzero"`
}

// Candidate carries the attributes of a job offered for ingestion.
type Candidate struct {
	Company        string
	JobTitle       string
	Location       string
	JobURL         string
	SalaryRange    string
	JobBoard       string
	AdditionalInfo map[string]any
}

type Statistics struct {
	TotalJobs    int            `json:"totalJobs"`
	ByStatus     map[string]int `json:"byStatus"`
	ByCompany    map[string]int `json:"byCompany"`
	ByJobBoard   map[string]int `json:"byJobBoard"`
	AppliedCount int            `json:"appliedCount"`
}

// Format identifies the on-disk shape a backend loaded.
type Format string

const (
	FormatMissing   Format = "missing"
	FormatArray     Format = "array"
	FormatLegacyMap Format = "legacy-map"
)

type Snapshot struct {
	Jobs   []Job
	Format Format
	// Dropped counts stored entries that were not JSON objects and could
	// not become records.
	Dropped int
}

// Backend persists the whole job collection.
type Backend interface {
	// Load returns the stored collection. A missing store is reported as
	// FormatMissing with a nil error.
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the stored collection with jobs, in order.
	Save(ctx context.Context, jobs []Job) error
}

// Migrator is implemented by backends that need extra work when rewriting a
// legacy-format source in canonical form. Backends without it get Save.
type Migrator interface {
	Migrate(ctx context.Context, jobs []Job) error
}

// LoadResult describes the one-time initialization of a Store.
type LoadResult struct {
	Format Format
	Count  int
	// ReadErr is set when the source could not be read or parsed; the store
	// then starts empty.
	ReadErr error
	// Migrated is true once a legacy source was rewritten in canonical form.
	Migrated   bool
	MigrateErr error
}
