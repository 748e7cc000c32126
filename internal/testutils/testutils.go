// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"context"
	"sync"
	"testing"
	"time"
)

// DefaultTimeout bounds how long a test waits on asynchronous results
const DefaultTimeout = 5 * time.Second

// Context returns a context cancelled at test cleanup or after DefaultTimeout
func Context(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// Recorder records invocations of a callback in a goroutine-safe way
type Recorder[T any] struct {
	mu    sync.Mutex
	calls []T
	times []time.Time
}

// Record stores one call
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, v)
	r.times = append(r.times, time.Now())
}

// Count returns the number of recorded calls
func (r *Recorder[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Calls returns a copy of the recorded values
func (r *Recorder[T]) Calls() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.calls...)
}

// Times returns a copy of the wall-clock times at which calls were recorded
func (r *Recorder[T]) Times() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...)
}
