package workqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle stage of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task is a unit of work run by the queue.
type Task interface {
	ID() string
	Name() string
	// Execute runs the task. A panic is recovered and reported as the task's error.
	Execute(ctx context.Context) error
}

// TaskSnapshot is a copy of a task's state.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// FuncTask adapts a function to Task.
type FuncTask struct {
	id   string
	name string
	fn   func(ctx context.Context) error
}

// NewFuncTask creates a task with a random ID.
func NewFuncTask(name string, fn func(ctx context.Context) error) *FuncTask {
	return NewFuncTaskWithID(uuid.New().String(), name, fn)
}

// NewFuncTaskWithID creates a task with a caller-chosen ID, such as a check or run ID.
func NewFuncTaskWithID(id, name string, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{id: id, name: name, fn: fn}
}

func (t *FuncTask) ID() string                        { return t.id }
func (t *FuncTask) Name() string                      { return t.name }
func (t *FuncTask) Execute(ctx context.Context) error { return t.fn(ctx) }
