package datasource

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Inflight tracks cancel functions of running statements by handle.
type Inflight struct {
	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

// NewInflight returns an empty tracker.
func NewInflight() *Inflight {
	return &Inflight{running: make(map[uuid.UUID]context.CancelFunc)}
}

// Track registers cancel under handle and returns a func that forgets it.
func (f *Inflight) Track(handle uuid.UUID, cancel context.CancelFunc) func() {
	if handle == uuid.Nil {
		return func() {}
	}
	f.mu.Lock()
	f.running[handle] = cancel
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.running, handle)
		f.mu.Unlock()
	}
}

// Cancel cancels the run registered under handle and reports whether one was found.
func (f *Inflight) Cancel(handle uuid.UUID) bool {
	f.mu.Lock()
	cancel, ok := f.running[handle]
	delete(f.running, handle)
	f.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Len returns the number of tracked runs.
func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.running)
}
