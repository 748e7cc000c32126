package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jzx17/reconnect/pkg/types"
)

var taskIDCounter int64

// BasicTask adapts a function to types.Task
type BasicTask struct {
	id string
	fn func(ctx context.Context) error
}

// NewBasicTask creates a task with a generated ID
func NewBasicTask(fn func(ctx context.Context) error) *BasicTask {
	id := atomic.AddInt64(&taskIDCounter, 1)
	return NewBasicTaskWithID(fmt.Sprintf("task-%d", id), fn)
}

// NewBasicTaskWithID creates a task with a custom ID
func NewBasicTaskWithID(id string, fn func(ctx context.Context) error) *BasicTask {
	return &BasicTask{id: id, fn: fn}
}

// Execute executes the task
func (t *BasicTask) Execute(ctx context.Context) error {
	if t.fn == nil {
		return fmt.Errorf("task %s has no execution function: %w", t.id, types.ErrInvalidInput)
	}
	return t.fn(ctx)
}

// ID returns the task ID
func (t *BasicTask) ID() string {
	return t.id
}

// TimeoutTask bounds the execution of a task. A task stopped by its own
// deadline fails with types.ErrTimeout, which retry classifiers treat as
// transient; a deadline or cancellation of the caller's context is kept as is.
type TimeoutTask struct {
	types.Task
	timeout time.Duration
}

// WithTimeout wraps task so each execution gets at most timeout
func WithTimeout(task types.Task, timeout time.Duration) *TimeoutTask {
	return &TimeoutTask{Task: task, timeout: timeout}
}

// Execute runs the wrapped task under the timeout
func (t *TimeoutTask) Execute(ctx context.Context) error {
	if t.timeout <= 0 {
		return t.Task.Execute(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := t.Task.Execute(tctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("task %s exceeded %v: %w", t.ID(), t.timeout, types.ErrTimeout)
	}
	return err
}

// Abort forwards to the wrapped task when it is abortable
func (t *TimeoutTask) Abort(err error) {
	if a, ok := t.Task.(types.AbortableTask); ok {
		a.Abort(err)
	}
}
