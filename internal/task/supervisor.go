// Package task implements the single-flight task supervisor: a FIFO queue
// that admits at most one running mirror synchronization at a time and
// de-duplicates submissions for the same task id.
package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/cybozu-go/alist2strm/internal/config"
	"github.com/cybozu-go/alist2strm/internal/mirror"
)

// Status is a task's position in the supervisor's lifecycle.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusRunning Status = "RUNNING"
)

// SubmitResult is the outcome of a Submit call.
type SubmitResult string

const (
	ResultAdmitted       SubmitResult = "admitted"
	ResultAlreadyPresent SubmitResult = "rejected:already-present"
	ResultUnknownTask    SubmitResult = "rejected:unknown-task"
)

// Record is one entry tracked by the supervisor, queued or running.
type Record struct {
	TaskID     string
	Refresh    bool
	SubDir     string
	Status     Status
	EnqueuedAt time.Time

	// runID correlates this admission's log lines and notifications; it has
	// no bearing on task identity or de-duplication, which stay keyed by
	// TaskID.
	runID string
}

// Runner executes one admitted mirror run for a source. Errors are caught
// by the supervisor and never abort the consumer loop.
type Runner func(ctx context.Context, src *config.Source, refresh bool, subDir string) error

// Notifier is called once per completed (or failed) run with a short
// human-readable summary.
type Notifier func(ctx context.Context, message string)

// Supervisor is the global single-flight admission controller.
type Supervisor struct {
	sources map[string]*config.Source
	run     Runner
	notify  Notifier

	mu      sync.Mutex
	queue   []*Record
	records map[string]*Record
	wakeup  chan struct{}
}

// NewSupervisor builds a supervisor over the given sources (keyed by
// SourceConfig.ID), with run used to execute admitted tasks.
func NewSupervisor(sources map[string]*config.Source, run Runner, notify Notifier) *Supervisor {
	if notify == nil {
		notify = func(context.Context, string) {}
	}
	return &Supervisor{
		sources: sources,
		run:     run,
		notify:  notify,
		records: make(map[string]*Record),
		wakeup:  make(chan struct{}, 1),
	}
}

// Submit enqueues a task, or reports why it could not be enqueued.
func (s *Supervisor) Submit(taskID string, refresh bool, subDir string) SubmitResult {
	if _, ok := s.sources[taskID]; !ok {
		return ResultUnknownTask
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, present := s.records[taskID]; present {
		dup := errors.Mark(errors.Newf("task: %q already queued or running", taskID), mirror.ErrDuplicate)
		slog.Debug("task submission rejected", "task_id", taskID, "error", dup)
		return ResultAlreadyPresent
	}

	rec := &Record{
		TaskID:     taskID,
		Refresh:    refresh,
		SubDir:     subDir,
		Status:     StatusQueued,
		EnqueuedAt: time.Now(),
		runID:      uuid.NewString(),
	}
	s.records[taskID] = rec
	s.queue = append(s.queue, rec)

	select {
	case s.wakeup <- struct{}{}:
	default:
	}
	return ResultAdmitted
}

// Jobs returns the task ids currently queued or running.
func (s *Supervisor) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) dequeue() (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, false
	}
	rec := s.queue[0]
	s.queue = s.queue[1:]
	rec.Status = StatusRunning
	return rec, true
}

func (s *Supervisor) complete(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, taskID)
}

// Run drains the queue until ctx is cancelled, executing at most one task
// at a time. Intended to run as the supervisor's single long-lived
// consumer goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		rec, ok := s.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wakeup:
				continue
			}
		}

		src := s.sources[rec.TaskID]
		err := s.run(ctx, src, rec.Refresh, rec.SubDir)
		if err != nil {
			slog.Error("task run failed", "task_id", rec.TaskID, "run_id", rec.runID, "error", err)
			s.notify(ctx, "task "+rec.TaskID+" failed: "+err.Error())
		} else {
			slog.Info("task run completed", "task_id", rec.TaskID, "run_id", rec.runID)
			s.notify(ctx, "task "+rec.TaskID+" completed")
		}

		s.complete(rec.TaskID)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
