package apply

import (
	"context"
	"time"

	"github.com/MimeLyc/jobtrack/internal/tracker"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

// Task tracks one application attempt for the record at Index.
type Task struct {
	ID        string     `json:"id"`
	Index     int        `json:"index"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (t *Task) terminal() bool {
	return t.Status == TaskSuccess || t.Status == TaskFailed
}

// Proof is the free-form evidence an Applier returns; it is merged into the
// record's additional info.
type Proof map[string]any

// Applier performs the external application for one record.
type Applier interface {
	Apply(ctx context.Context, job tracker.Job) (Proof, error)
}

// Tracker is the part of the job store the workflow needs.
type Tracker interface {
	GetJob(index int) (tracker.Job, bool)
	MergeAdditionalInfo(ctx context.Context, index int, info map[string]any) (bool, error)
	UpdateJobStatus(ctx context.Context, index int, status tracker.Status, note string) (bool, error)
	AddNote(ctx context.Context, index int, text string) (bool, error)
}
