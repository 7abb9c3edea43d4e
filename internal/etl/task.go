package etl

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BartekS5/essync/pkg/logger"
)

// Task is the handle of a migration running in the background.
type Task struct {
	ID      string
	Started time.Time

	done chan struct{}

	mu        sync.Mutex
	completed []*ModelReport
	report    *RunReport
	err       error
}

// TaskStatus is a point-in-time view of a task.
type TaskStatus struct {
	ID        string
	Running   bool
	Completed int
	Failed    int
	Err       error
}

// Start launches MigrateModels in the background and returns at once.
// The run is detached from ctx cancellation: once started it continues to
// completion. The finished report goes to the configured sink.
func (m *Migrator) Start(ctx context.Context, selection []string, overrides Conditions) *Task {
	t := &Task{ID: uuid.NewString(), Started: time.Now(), done: make(chan struct{})}
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer close(t.done)
		report, err := m.migrateModels(ctx, t.ID, selection, overrides, t.record)
		if m.Sink != nil {
			if serr := m.Sink.Record(ctx, report); serr != nil {
				logger.Errorf("Failed to record report of task %s: %v", t.ID, serr)
			}
		}
		t.mu.Lock()
		t.report, t.err = report, err
		t.mu.Unlock()
	}()

	logger.Infof("Migration task %s started", t.ID)
	return t
}

func (t *Task) record(r *ModelReport) {
	t.mu.Lock()
	t.completed = append(t.completed, r)
	t.mu.Unlock()
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx ends. Cancelling ctx stops
// the wait, not the task.
func (t *Task) Wait(ctx context.Context) (*RunReport, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.report, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TaskStatus{ID: t.ID, Completed: len(t.completed), Err: t.err}
	for _, r := range t.completed {
		if r.State == StateFailed {
			st.Failed++
		}
	}
	select {
	case <-t.done:
	default:
		st.Running = true
	}
	return st
}
