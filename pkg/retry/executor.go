package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jzx17/reconnect/pkg/async"
	"github.com/jzx17/reconnect/pkg/schedule"
	"github.com/jzx17/reconnect/pkg/types"
)

// Executor applies one policy template to many operations and keeps
// aggregate statistics. Every call gets a fresh Policy unless the executor was
// built with WithSharedPolicy.
type Executor struct {
	template    Template
	shared      *Policy
	classifier  Classifier
	onExhausted ExhaustionCallback
	mapper      ErrorMapper
	runtime     async.Executor
	scheduler   schedule.Scheduler
	listeners   []Listener
	logger      *slog.Logger
	clock       types.Clock

	statsMu sync.RWMutex
	stats   RetryStats
}

// ExecuteFunc is the blocking function type to retry
type ExecuteFunc[T any] func(ctx context.Context) (T, error)

// RetryStats contains retry statistics
type RetryStats struct {
	TotalAttempts   int64         // total attempt count
	TotalRetries    int64         // total scheduled retries
	TotalSuccesses  int64         // chains ending in success
	TotalFailures   int64         // chains ending in a mapped error
	TotalExhausted  int64         // failures caused by a spent budget
	TotalCancelled  int64         // chains abandoned by the caller
	AverageAttempts float64       // attempts per finished chain
	LastRetryTime   time.Time     // last time a retry was scheduled
	TotalRetryDelay time.Duration // sum of scheduled delays
}

// ExecutorOption is a configuration option for Executor
type ExecutorOption func(*Executor)

// WithClassifier sets the failure classifier
func WithClassifier(c Classifier) ExecutorOption {
	return func(e *Executor) {
		e.classifier = c
	}
}

// WithExhaustionCallback sets the callback invoked when a chain gives up
func WithExhaustionCallback(cb ExhaustionCallback) ExecutorOption {
	return func(e *Executor) {
		e.onExhausted = cb
	}
}

// WithErrorMapper sets the terminal error mapper
func WithErrorMapper(m ErrorMapper) ExecutorOption {
	return func(e *Executor) {
		e.mapper = m
	}
}

// WithRuntime hosts blocking functions on exec, typically a worker pool
func WithRuntime(exec async.Executor) ExecutorOption {
	return func(e *Executor) {
		e.runtime = exec
	}
}

// WithExecutorScheduler sets the delay scheduler
func WithExecutorScheduler(s schedule.Scheduler) ExecutorOption {
	return func(e *Executor) {
		e.scheduler = s
	}
}

// WithEventListener adds a chain observer
func WithEventListener(l Listener) ExecutorOption {
	return func(e *Executor) {
		e.listeners = append(e.listeners, l)
	}
}

// WithExecutorLogger logs chain events
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithExecutorClock sets the clock for time operations
func WithExecutorClock(clock types.Clock) ExecutorOption {
	return func(e *Executor) {
		e.clock = clock
	}
}

// WithSharedPolicy makes every chain draw from one attempt budget
func WithSharedPolicy() ExecutorOption {
	return func(e *Executor) {
		e.shared = e.template.NewPolicy()
	}
}

// NewExecutor creates an executor for template
func NewExecutor(template Template, opts ...ExecutorOption) *Executor {
	e := &Executor{
		template: template,
		clock:    types.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Template returns the policy template
func (e *Executor) Template() Template {
	return e.template
}

func (e *Executor) policy() *Policy {
	if e.shared != nil {
		return e.shared
	}
	return e.template.NewPolicy()
}

func (e *Executor) chainOptions(name string) []ChainOption {
	opts := []ChainOption{
		WithName(name),
		WithClock(e.clock),
		WithListener((*statsListener)(e)),
		WithLogger(e.logger),
	}
	if e.scheduler != nil {
		opts = append(opts, WithScheduler(e.scheduler))
	}
	for _, l := range e.listeners {
		opts = append(opts, WithListener(l))
	}
	return opts
}

// Apply retries the asynchronous operations produced by producer
func Apply[T any](e *Executor, ctx context.Context, name string, producer async.Producer[T]) *async.Future[T] {
	return ApplyPolicy(ctx, e.policy(), producer, e.classifier, e.onExhausted, e.mapper, e.chainOptions(name)...)
}

// Execute executes a function with retry logic and waits for the outcome
func Execute[T any](e *Executor, ctx context.Context, fn ExecuteFunc[T]) (T, error) {
	return ExecuteWithName(e, ctx, "default", fn)
}

// ExecuteWithName executes a function with retry logic (with name for events and logs)
func ExecuteWithName[T any](e *Executor, ctx context.Context, name string, fn ExecuteFunc[T]) (T, error) {
	// the chain itself resolves with ctx.Err() once ctx is done
	return startFunc(e, ctx, name, fn).Await(context.WithoutCancel(ctx))
}

// ExecuteAsync executes a function with retry asynchronously
func ExecuteAsync[T any](e *Executor, ctx context.Context, fn ExecuteFunc[T]) <-chan types.Result[T] {
	return ExecuteAsyncWithName(e, ctx, "default", fn)
}

// ExecuteAsyncWithName executes a function with retry asynchronously (with name)
func ExecuteAsyncWithName[T any](e *Executor, ctx context.Context, name string, fn ExecuteFunc[T]) <-chan types.Result[T] {
	return startFunc(e, ctx, name, fn).Channel()
}

func startFunc[T any](e *Executor, ctx context.Context, name string, fn ExecuteFunc[T]) *async.Future[T] {
	producer := func() async.Operation[T] {
		return async.FromFunc(fn, e.runtime)
	}
	return Apply(e, ctx, name, producer)
}

// GetStats gets retry statistics
func (e *Executor) GetStats() RetryStats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// ResetStats resets statistics
func (e *Executor) ResetStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = RetryStats{}
}

func (e *Executor) updateStats(fn func(*RetryStats)) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	fn(&e.stats)
}

func (s *RetryStats) updateAverageAttempts() {
	finished := s.TotalSuccesses + s.TotalFailures + s.TotalCancelled
	if finished > 0 {
		s.AverageAttempts = float64(s.TotalAttempts) / float64(finished)
	}
}

// statsListener feeds chain events into the executor statistics
type statsListener Executor

func (l *statsListener) OnAttempt(context.Context, Event) {
	(*Executor)(l).updateStats(func(s *RetryStats) {
		s.TotalAttempts++
	})
}

func (l *statsListener) OnRetryScheduled(_ context.Context, ev Event) {
	e := (*Executor)(l)
	now := e.clock.Now()
	e.updateStats(func(s *RetryStats) {
		s.TotalRetries++
		s.LastRetryTime = now
		s.TotalRetryDelay += ev.Delay
	})
}

func (l *statsListener) OnSuccess(context.Context, Event) {
	(*Executor)(l).updateStats(func(s *RetryStats) {
		s.TotalSuccesses++
		s.updateAverageAttempts()
	})
}

func (l *statsListener) OnTerminal(_ context.Context, ev Event) {
	(*Executor)(l).updateStats(func(s *RetryStats) {
		switch ev.State {
		case StateCancelled:
			s.TotalCancelled++
		case StateExhausted:
			s.TotalExhausted++
			s.TotalFailures++
		default:
			s.TotalFailures++
		}
		s.updateAverageAttempts()
	})
}
