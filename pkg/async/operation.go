package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jzx17/reconnect/pkg/types"
)

// Callback receives the single outcome of a subscription
type Callback[T any] func(value T, err error)

// Operation is a cold asynchronous computation. Subscribe starts the work and
// the callback is invoked exactly once with a value or an error. Subscribing
// twice to the same Operation is not assumed to be safe.
type Operation[T any] interface {
	Subscribe(ctx context.Context, cb Callback[T])
}

// Producer returns a fresh Operation for every attempt
type Producer[T any] func() Operation[T]

// OperationFunc adapts a function to Operation
type OperationFunc[T any] func(ctx context.Context, cb Callback[T])

// Subscribe implements Operation
func (f OperationFunc[T]) Subscribe(ctx context.Context, cb Callback[T]) {
	f(ctx, cb)
}

// Executor hosts units of work; a worker pool satisfies it
type Executor interface {
	Submit(task types.Task) error
}

// GoExecutor runs every task in its own goroutine
type GoExecutor struct{}

// Submit implements Executor
func (GoExecutor) Submit(task types.Task) error {
	go func() {
		_ = task.Execute(context.Background())
	}()
	return nil
}

var taskIDCounter int64

// funcTask runs a blocking function and reports its outcome
type funcTask[T any] struct {
	id  string
	ctx context.Context
	fn  func(ctx context.Context) (T, error)
	cb  Callback[T]
}

func (t *funcTask[T]) ID() string {
	return t.id
}

func (t *funcTask[T]) Execute(_ context.Context) (err error) {
	var value T
	defer func() {
		if r := recover(); r != nil {
			err = types.NewRetryError(t.id, fmt.Errorf("panic: %v", r)).WithContext("panic", r)
			var zero T
			t.cb(zero, err)
		}
	}()
	value, err = t.fn(t.ctx)
	t.cb(value, err)
	return err
}

// Abort implements types.AbortableTask
func (t *funcTask[T]) Abort(err error) {
	var zero T
	t.cb(zero, err)
}

// FromFunc creates an Operation that runs fn on exec when subscribed. A nil
// exec runs fn on a new goroutine. A rejected submission fails the operation.
func FromFunc[T any](fn func(ctx context.Context) (T, error), exec Executor) Operation[T] {
	if exec == nil {
		exec = GoExecutor{}
	}
	return OperationFunc[T](func(ctx context.Context, cb Callback[T]) {
		task := &funcTask[T]{
			id:  fmt.Sprintf("attempt-%d", atomic.AddInt64(&taskIDCounter, 1)),
			ctx: ctx,
			fn:  fn,
			cb:  Once(cb),
		}
		if err := exec.Submit(task); err != nil {
			var zero T
			task.cb(zero, err)
		}
	})
}

// Succeed returns an Operation that completes immediately with value
func Succeed[T any](value T) Operation[T] {
	return OperationFunc[T](func(_ context.Context, cb Callback[T]) {
		cb(value, nil)
	})
}

// Fail returns an Operation that completes immediately with err
func Fail[T any](err error) Operation[T] {
	return OperationFunc[T](func(_ context.Context, cb Callback[T]) {
		var zero T
		cb(zero, err)
	})
}

// Once guards cb so only its first invocation is delivered
func Once[T any](cb Callback[T]) Callback[T] {
	var once sync.Once
	return func(value T, err error) {
		once.Do(func() {
			cb(value, err)
		})
	}
}

// Start subscribes to op and exposes its outcome as a Future
func Start[T any](ctx context.Context, op Operation[T]) *Future[T] {
	p, f := NewPromise[T]()
	op.Subscribe(ctx, func(value T, err error) {
		p.Complete(value, err)
	})
	return f
}
