package apply

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/jobtrack/internal/tracker"
	"github.com/MimeLyc/jobtrack/pkg/log"
)

var ErrUnknownJob = errors.New("no job at index")

const (
	// InfoAppliedAt and InfoTaskID are added to additional info next to the proof.
	InfoAppliedAt = "appliedAt"
	InfoTaskID    = "applyTaskId"
)

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workerCount = n
		}
	}
}

// WithTimeout bounds each Applier call.
func WithTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.timeout = d
	}
}

// Queue runs applications on a worker pool. A record has at most one
// pending or running task at a time.
type Queue struct {
	workerCount int
	timeout     time.Duration
	store       Tracker
	applier     Applier

	mu         sync.RWMutex
	tasks      map[string]*Task
	byIndex    map[int]string
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	inflight   sync.WaitGroup
}

func NewQueue(store Tracker, applier Applier, opts ...Option) *Queue {
	q := &Queue{
		workerCount: 1,
		store:       store,
		applier:     applier,
		tasks:       make(map[string]*Task),
		byIndex:     make(map[int]string),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules an application for the record at index. When a task
// for that record is already pending or running it is returned with
// created == false.
func (q *Queue) Enqueue(index int) (task *Task, created bool, err error) {
	if _, ok := q.store.GetJob(index); !ok {
		return nil, false, fmt.Errorf("%w %d", ErrUnknownJob, index)
	}

	now := time.Now().UTC()

	q.mu.Lock()
	if id, ok := q.byIndex[index]; ok {
		if existing, exists := q.tasks[id]; exists && !existing.terminal() {
			snapshot := cloneTask(existing)
			q.mu.Unlock()
			return snapshot, false, nil
		}
		delete(q.byIndex, index)
	}

	t := &Task{
		ID:        uuid.NewString(),
		Index:     index,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.tasks[t.ID] = t
	q.byIndex[index] = t.ID
	q.inflight.Add(1)
	started := q.started
	snapshot := cloneTask(t)
	q.mu.Unlock()

	if started {
		q.enqueuePendingID(t.ID)
	}
	return snapshot, true, nil
}

func (q *Queue) Get(id string) (*Task, bool) {
	q.mu.RLock()
	t, ok := q.tasks[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneTask(t), true
}

// List returns all tasks, oldest first.
func (q *Queue) List() []*Task {
	q.mu.RLock()
	ret := make([]*Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		ret = append(ret, cloneTask(t))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].Index < ret[j].Index
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	pending := make([]*Task, 0)
	for _, t := range q.tasks {
		if t.Status == TaskPending {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	q.mu.Unlock()

	for _, t := range pending {
		q.enqueuePendingID(t.ID)
	}

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.wg.Wait()
	})
}

// Drain blocks until every task enqueued so far has finished or ctx ends.
func (q *Queue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case id := <-q.pendingIDs:
			t, ok := q.markRunning(id)
			if !ok {
				continue
			}

			if err := q.execute(ctx, t); err != nil {
				q.markFailed(ctx, id, err)
				continue
			}
			q.markSuccess(id)
		}
	}
}

func (q *Queue) execute(ctx context.Context, t *Task) error {
	job, ok := q.store.GetJob(t.Index)
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownJob, t.Index)
	}
	if job.Status == tracker.StatusApplied {
		log.Info("Job #%d (%s at %s) is already applied, skipping", t.Index, job.JobTitle, job.Company)
		return nil
	}

	applyCtx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	log.Info("Applying to job #%d: %s at %s", t.Index, job.JobTitle, job.Company)
	proof, err := q.applier.Apply(applyCtx, job)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	info := make(map[string]any, len(proof)+2)
	for k, v := range proof {
		info[k] = v
	}
	info[InfoAppliedAt] = time.Now().UTC().Format(time.RFC3339)
	info[InfoTaskID] = t.ID

	if ok, err := q.store.MergeAdditionalInfo(ctx, t.Index, info); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w %d", ErrUnknownJob, t.Index)
	}
	if _, err := q.store.UpdateJobStatus(ctx, t.Index, tracker.StatusApplied, "applied by task "+t.ID); err != nil {
		return err
	}
	return nil
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() { q.pendingIDs <- id }()
	}
}

func (q *Queue) markRunning(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok || t.Status != TaskPending {
		return nil, false
	}
	t.Status = TaskRunning
	t.UpdatedAt = time.Now().UTC()
	return cloneTask(t), true
}

func (q *Queue) markSuccess(id string) {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	t.Status = TaskSuccess
	t.Error = ""
	t.UpdatedAt = time.Now().UTC()
	q.releaseIndexLocked(t)
	q.mu.Unlock()

	q.inflight.Done()
}

func (q *Queue) markFailed(ctx context.Context, id string, err error) {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	t.Status = TaskFailed
	if err != nil {
		t.Error = err.Error()
	}
	t.UpdatedAt = time.Now().UTC()
	q.releaseIndexLocked(t)
	index := t.Index
	q.mu.Unlock()

	log.Error("Application task %s for job #%d failed: %v", id, index, err)
	if _, noteErr := q.store.AddNote(ctx, index, "application failed: "+err.Error()); noteErr != nil {
		log.Error("Failed to record failure note on job #%d: %v", index, noteErr)
	}
	q.inflight.Done()
}

func (q *Queue) releaseIndexLocked(t *Task) {
	if id, ok := q.byIndex[t.Index]; ok && id == t.ID {
		delete(q.byIndex, t.Index)
	}
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	tmp := *t
	return &tmp
}
