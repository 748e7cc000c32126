// Package types defines core interfaces and types shared by the retry engine
package types

import (
	"context"
	"time"
)

// Task defines a unit of work hosted by a worker pool
type Task interface {
	// Execute executes the task
	Execute(ctx context.Context) error

	// ID returns the task ID (optional, for tracking)
	ID() string
}

// AbortableTask is a Task that must learn about being dropped unexecuted,
// for example when a pool stops with the task still queued
type AbortableTask interface {
	Task

	// Abort reports err as the outcome of the task
	Abort(err error)
}

// WorkerPool defines the worker pool interface
type WorkerPool interface {
	// Submit submits a task to the worker pool
	Submit(task Task) error

	// SubmitWithTimeout submits a task to the worker pool with timeout
	SubmitWithTimeout(task Task, timeout time.Duration) error

	// Start starts the worker pool
	Start(ctx context.Context) error

	// Stop stops the worker pool
	Stop() error

	// Close closes the worker pool and releases resources
	Close() error

	// Size returns the size of the worker pool
	Size() int

	// Stats returns worker pool statistics
	Stats() WorkerPoolStats
}

// WorkerPoolStats defines basic statistics for worker pools
type WorkerPoolStats struct {
	// PoolSize is the size of the pool
	PoolSize int

	// ActiveWorkers is the number of workers currently running a task
	ActiveWorkers int

	// QueueSize is the current number of tasks in the queue
	QueueSize int

	// QueueCapacity is the capacity of the queue
	QueueCapacity int
}

// ErrorHandler is called with errors returned by hosted tasks
type ErrorHandler func(error) error

// Result defines the outcome of an asynchronous execution
type Result[R any] struct {
	// Value is the execution result
	Value R

	// Error is the execution error
	Error error

	// Duration is the execution time
	Duration time.Duration
}

// OK reports whether the result carries a value rather than an error
func (r Result[R]) OK() bool {
	return r.Error == nil
}
