// Package async provides the asynchronous result contract used by the retry
// engine: cold operations started by subscription, and single-resolution
// futures for their outcome.
package async

import (
	"context"
	"sync"
	"time"

	"github.com/jzx17/reconnect/pkg/types"
)

// Future is the read side of a single-resolution asynchronous result
type Future[T any] struct {
	done     chan struct{}
	once     sync.Once
	value    T
	err      error
	start    time.Time
	duration time.Duration
	clock    types.Clock

	mu       sync.Mutex
	onCancel []func()
	canceled bool
}

// Promise is the write side of a Future
type Promise[T any] struct {
	future *Future[T]
}

// NewPromise creates an unresolved promise and its future
func NewPromise[T any]() (*Promise[T], *Future[T]) {
	return NewPromiseWithClock[T](nil)
}

// NewPromiseWithClock creates a promise that measures its duration on clock
func NewPromiseWithClock[T any](clock types.Clock) (*Promise[T], *Future[T]) {
	if clock == nil {
		clock = types.NewRealClock()
	}
	f := &Future[T]{
		done:  make(chan struct{}),
		clock: clock,
		start: clock.Now(),
	}
	return &Promise[T]{future: f}, f
}

// Resolve completes the future with a value. Only the first completion wins;
// it returns false if the future was already complete.
func (p *Promise[T]) Resolve(value T) bool {
	return p.complete(value, nil)
}

// Reject completes the future with an error. A nil error is replaced with
// types.ErrInvalidInput so a rejected future never looks successful.
func (p *Promise[T]) Reject(err error) bool {
	if err == nil {
		err = types.ErrInvalidInput
	}
	var zero T
	return p.complete(zero, err)
}

// Complete resolves or rejects depending on err
func (p *Promise[T]) Complete(value T, err error) bool {
	if err != nil {
		return p.Reject(err)
	}
	return p.Resolve(value)
}

func (p *Promise[T]) complete(value T, err error) bool {
	f := p.future
	won := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		f.duration = f.clock.Since(f.start)
		won = true
		close(f.done)
	})
	return won
}

// Future returns the read side of the promise
func (p *Promise[T]) Future() *Future[T] {
	return p.future
}

// Done is closed once the future is complete
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future completes or ctx is done
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome; ok is false while the future is still pending
func (f *Future[T]) Result() (res types.Result[T], ok bool) {
	select {
	case <-f.done:
		return types.Result[T]{Value: f.value, Error: f.err, Duration: f.duration}, true
	default:
		return res, false
	}
}

// Channel delivers the result once, then closes
func (f *Future[T]) Channel() <-chan types.Result[T] {
	ch := make(chan types.Result[T], 1)
	go func() {
		defer close(ch)
		<-f.done
		res, _ := f.Result()
		ch <- res
	}()
	return ch
}

// OnCancel registers fn to run when Cancel is called. If the future was already
// cancelled fn runs immediately.
func (f *Future[T]) OnCancel(fn func()) {
	f.mu.Lock()
	if f.canceled {
		f.mu.Unlock()
		fn()
		return
	}
	f.onCancel = append(f.onCancel, fn)
	f.mu.Unlock()
}

// Cancel signals that the consumer abandoned the result. Producers decide how
// the future completes in response; Cancel itself does not complete it.
func (f *Future[T]) Cancel() {
	f.mu.Lock()
	if f.canceled {
		f.mu.Unlock()
		return
	}
	f.canceled = true
	fns := f.onCancel
	f.onCancel = nil
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
