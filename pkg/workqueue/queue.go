// Package workqueue runs tasks on a bounded number of goroutines and keeps a
// snapshot of each task for callers that report on a batch afterwards.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// ErrQueueCancelled is returned by Enqueue after Cancel.
var ErrQueueCancelled = errors.New("queue cancelled")

// Queue runs enqueued tasks with at most N in flight.
type Queue struct {
	mu        sync.Mutex
	entries   []*entry
	pending   []*entry
	running   int
	limit     int
	open      int
	idle      chan struct{}
	cancelled bool

	ctx    context.Context
	cancel context.CancelFunc
	clock  quartz.Clock
	logger *zap.Logger
}

type entry struct {
	task Task
	snap TaskSnapshot
	err  error
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithConcurrency caps the number of tasks running at once. Values below 1 mean 1.
func WithConcurrency(n int) QueueOption {
	return func(q *Queue) {
		q.limit = max(n, 1)
	}
}

// WithContext derives task contexts from parent, so cancelling parent
// cancels running tasks and drops pending ones.
func WithContext(parent context.Context) QueueOption {
	return func(q *Queue) {
		q.cancel()
		q.ctx, q.cancel = context.WithCancel(parent)
	}
}

// WithClock sets the clock used for task timestamps.
func WithClock(clock quartz.Clock) QueueOption {
	return func(q *Queue) { q.clock = clock }
}

// New creates a queue. The default concurrency is 1.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		idle:   idle,
		limit:  1,
		ctx:    ctx,
		cancel: cancel,
		clock:  quartz.NewReal(),
		logger: logger.Named("workqueue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules task. It returns ErrQueueCancelled once the queue has been cancelled.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return ErrQueueCancelled
	}

	e := &entry{
		task: task,
		snap: TaskSnapshot{ID: task.ID(), Name: task.Name(), Status: TaskStatusPending},
	}
	q.entries = append(q.entries, e)
	if q.open == 0 {
		q.idle = make(chan struct{})
	}
	q.open++

	q.logger.Debug("Task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()))

	q.pending = append(q.pending, e)
	q.dispatchLocked()
	return nil
}

// dispatchLocked starts pending tasks in FIFO order while slots are free.
func (q *Queue) dispatchLocked() {
	for q.running < q.limit && len(q.pending) > 0 {
		e := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		if q.ctx.Err() != nil {
			q.finishLocked(e, TaskStatusCancelled, nil)
			continue
		}

		now := q.clock.Now()
		e.snap.Status = TaskStatusRunning
		e.snap.StartedAt = &now
		q.running++
		go q.run(e)
	}
}

func (q *Queue) run(e *entry) {
	err := q.execute(e.task)
	switch {
	case err == nil:
		q.finish(e, TaskStatusCompleted, nil)
	case errors.Is(err, context.Canceled) && q.isCancelled():
		q.finish(e, TaskStatusCancelled, nil)
	default:
		q.logger.Error("Task failed",
			zap.String("task_id", e.task.ID()),
			zap.String("task_name", e.task.Name()),
			zap.Error(err))
		q.finish(e, TaskStatusFailed, err)
	}
}

func (q *Queue) execute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Task panicked",
				zap.String("task_id", task.ID()),
				zap.String("task_name", task.Name()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("task %s panicked: %v", task.Name(), r)
		}
	}()
	return task.Execute(q.ctx)
}

func (q *Queue) finish(e *entry, status TaskStatus, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	q.finishLocked(e, status, err)
	q.dispatchLocked()
}

func (q *Queue) finishLocked(e *entry, status TaskStatus, err error) {
	now := q.clock.Now()
	e.snap.Status = status
	e.snap.CompletedAt = &now
	e.err = err
	if err != nil {
		e.snap.Error = err.Error()
	}

	q.open--
	if q.open == 0 {
		close(q.idle)
	}
}

func (q *Queue) isCancelled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled
}

// GetTasks returns a snapshot of every task still tracked, in enqueue order.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snaps := make([]TaskSnapshot, len(q.entries))
	for i, e := range q.entries {
		snaps[i] = e.snap
	}
	return snaps
}

// Task returns the snapshot of the task with id.
func (q *Queue) Task(id string) (TaskSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.snap.ID == id {
			return e.snap, true
		}
	}
	return TaskSnapshot{}, false
}

// Wait blocks until every enqueued task has finished and returns the first
// task error in enqueue order. When ctx ends first the queue is cancelled and
// ctx.Err() is returned.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		q.Cancel()
		return ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.snap.Status == TaskStatusFailed {
			return e.err
		}
	}
	return nil
}

// Cancel stops accepting tasks, cancels running ones and drops pending ones.
func (q *Queue) Cancel() {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}
	q.cancelled = true
	q.cancel()
	for _, e := range q.pending {
		q.finishLocked(e, TaskStatusCancelled, nil)
	}
	q.pending = nil
	q.mu.Unlock()

	q.logger.Info("Queue cancelled")
}

// Close releases the task context without marking the queue cancelled.
// Call it once Wait has returned.
func (q *Queue) Close() {
	q.cancel()
}

// Prune forgets finished tasks and returns how many were removed.
func (q *Queue) Prune() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	for _, e := range q.entries {
		if !e.snap.Status.Terminal() {
			kept = append(kept, e)
		}
	}
	removed := len(q.entries) - len(kept)
	clear(q.entries[len(kept):])
	q.entries = kept
	return removed
}

// Progress counts tracked tasks by status.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Total: len(q.entries)}
	for _, e := range q.entries {
		switch e.snap.Status {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	return p
}

// Progress holds per-status task counts.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Done reports whether every tracked task has finished.
func (p Progress) Done() bool {
	return p.Pending == 0 && p.Running == 0
}
