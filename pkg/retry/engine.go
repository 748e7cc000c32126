package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jzx17/reconnect/internal/log"
	"github.com/jzx17/reconnect/pkg/async"
	"github.com/jzx17/reconnect/pkg/schedule"
	"github.com/jzx17/reconnect/pkg/types"
)

type chainOptions struct {
	name      string
	scheduler schedule.Scheduler
	listeners []Listener
	logger    *slog.Logger
	clock     types.Clock
}

// ChainOption configures a single ApplyPolicy call
type ChainOption func(*chainOptions)

// WithName labels the chain in events and logs
func WithName(name string) ChainOption {
	return func(o *chainOptions) {
		o.name = name
	}
}

// WithScheduler sets the scheduler used for inter-attempt delays
func WithScheduler(s schedule.Scheduler) ChainOption {
	return func(o *chainOptions) {
		o.scheduler = s
	}
}

// WithListener adds an observer of chain events
func WithListener(l Listener) ChainOption {
	return func(o *chainOptions) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithLogger logs chain events and engine diagnostics to logger
func WithLogger(logger *slog.Logger) ChainOption {
	return func(o *chainOptions) {
		o.logger = logger
	}
}

// WithClock sets the clock used for elapsed times; the scheduler keeps its own
func WithClock(clock types.Clock) ChainOption {
	return func(o *chainOptions) {
		o.clock = clock
	}
}

// chain is the state of one ApplyPolicy call
type chain[T any] struct {
	id          string
	name        string
	policy      *Policy
	producer    async.Producer[T]
	classifier  Classifier
	onExhausted ExhaustionCallback
	mapper      ErrorMapper
	scheduler   schedule.Scheduler
	listener    Listener
	log         log.Logger
	clock       types.Clock
	promise     *async.Promise[T]
	ctx         context.Context
	cancel      context.CancelFunc
	started     time.Time

	mu      sync.Mutex
	state   State
	attempt int
	lastErr error
	pending schedule.Cancellation
	claimed bool

	// armed is set once the retry event went out; a timer firing earlier
	// parks its outcome in fired/firedErr
	armed    bool
	fired    bool
	firedErr error
}

// ApplyPolicy runs the operations produced by producer under policy and
// returns a future resolving to the first successful value or to the mapped
// terminal error.
//
// Each attempt invokes producer for a fresh Operation. A failure is passed to
// classifier: if rejected, or if the policy has no attempt left, onExhausted
// is called once with the raw failure and the future fails with mapper's
// result. Otherwise the next attempt is scheduled after the policy delay.
// Attempts never overlap.
//
// A nil classifier retries every failure; nil onExhausted and mapper are
// no-ops. Cancelling ctx or the returned future stops the chain: a pending
// retry is cancelled, no new attempt starts and the future fails with the
// context error, unmapped and without calling onExhausted.
func ApplyPolicy[T any](
	ctx context.Context,
	policy *Policy,
	producer async.Producer[T],
	classifier Classifier,
	onExhausted ExhaustionCallback,
	mapper ErrorMapper,
	opts ...ChainOption,
) *async.Future[T] {
	o := chainOptions{name: "default"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = types.NewRealClock()
	}
	if o.scheduler == nil {
		o.scheduler = schedule.Default()
	}
	if o.logger != nil {
		o.listeners = append(o.listeners, NewLoggingListener(o.logger))
	}

	promise, future := async.NewPromiseWithClock[T](o.clock)
	if policy == nil || producer == nil {
		promise.Reject(fmt.Errorf("apply policy: nil policy or producer: %w", types.ErrInvalidInput))
		return future
	}

	if classifier == nil {
		classifier = AlwaysRetry
	}
	if onExhausted == nil {
		onExhausted = func(error) {}
	}
	if mapper == nil {
		mapper = IdentityMapper
	}

	c := &chain[T]{
		id:          uuid.NewString(),
		name:        o.name,
		policy:      policy,
		producer:    producer,
		classifier:  classifier,
		onExhausted: onExhausted,
		mapper:      mapper,
		scheduler:   o.scheduler,
		listener:    Listeners(o.listeners...),
		log:         log.Wrap(o.logger),
		clock:       o.clock,
		promise:     promise,
		started:     o.clock.Now(),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	if c.ctx.Err() != nil {
		c.cancelled()
		return future
	}
	future.OnCancel(c.cancel)
	context.AfterFunc(c.ctx, c.cancelled)

	c.invoke(policy.begin())
	return future
}

func (c *chain[T]) event(attempt int, state State, err error) Event {
	return Event{
		Chain:       c.id,
		Name:        c.name,
		Attempt:     attempt,
		MaxAttempts: c.policy.MaxAttempts(),
		Err:         err,
		Elapsed:     c.clock.Since(c.started),
		State:       state,
	}
}

// invoke starts attempt n. made is the policy counter after reserving it.
func (c *chain[T]) invoke(made int) {
	c.mu.Lock()
	if c.claimed {
		c.mu.Unlock()
		return
	}
	c.attempt++
	n := c.attempt
	c.state = StateAttempting
	c.mu.Unlock()

	ev := c.event(n, StateAttempting, nil)
	c.safely("listener", func() {
		c.listener.OnAttempt(c.ctx, ev)
	})
	c.log.Log(c.ctx, slog.LevelDebug, "starting attempt",
		slog.String("chain", c.id),
		slog.Int("attempt", n),
		slog.Int("attempts_made", made),
	)

	var delivered atomic.Bool
	cb := async.Once(func(value T, err error) {
		delivered.Store(true)
		c.onResult(n, value, err)
	})

	// covers the producer and the synchronous part of Subscribe
	defer func() {
		if r := recover(); r != nil {
			if delivered.Load() {
				c.log.Log(c.ctx, slog.LevelWarn, "operation panicked after reporting its outcome",
					slog.String("chain", c.id),
					slog.Int("attempt", n),
					slog.Any("panic", r),
				)
				return
			}
			var zero T
			cb(zero, types.NewRetryError(c.name, fmt.Errorf("panic: %v", r)).WithContext("panic", r))
		}
	}()

	op := c.producer()
	if op == nil {
		var zero T
		cb(zero, fmt.Errorf("producer returned nil operation: %w", types.ErrInvalidInput))
		return
	}
	op.Subscribe(c.ctx, cb)
}

func (c *chain[T]) onResult(n int, value T, err error) {
	c.mu.Lock()
	if c.claimed || n != c.attempt {
		c.mu.Unlock()
		return
	}
	if err == nil {
		c.claimed = true
		c.state = StateDone
		c.mu.Unlock()

		ev := c.event(n, StateSucceeded, nil)
		c.safely("listener", func() {
			c.listener.OnSuccess(c.ctx, ev)
		})
		c.promise.Resolve(value)
		c.cancel()
		return
	}
	c.state = StateEvaluatingFailure
	c.lastErr = err
	c.mu.Unlock()

	// the cancellation hook owns the outcome once ctx is done
	if c.ctx.Err() != nil {
		return
	}

	retryable := false
	c.safely("classifier", func() {
		retryable = c.classifier(err)
	})
	if !retryable {
		c.terminate(n, StateNonRetryable, err)
		return
	}
	if c.policy.Exhausted() {
		c.terminate(n, StateExhausted, err)
		return
	}

	delay := c.policy.NextDelay(n)
	if hint := types.GetRetryDelay(err); hint > delay {
		delay = hint
	}

	c.mu.Lock()
	if c.claimed {
		c.mu.Unlock()
		return
	}
	c.state = StateWaitingToRetry
	c.armed, c.fired, c.firedErr = false, false, nil
	c.mu.Unlock()

	// scheduled outside the lock: a scheduler may run retry synchronously
	handle, serr := c.schedule(delay)
	if serr != nil {
		c.schedulingFailed(n, serr)
		return
	}

	c.mu.Lock()
	if c.claimed {
		c.mu.Unlock()
		if handle != nil {
			handle.Cancel()
		}
		return
	}
	c.pending = handle
	c.mu.Unlock()

	ev := c.event(n, StateWaitingToRetry, err)
	ev.Delay = delay
	c.safely("listener", func() {
		c.listener.OnRetryScheduled(c.ctx, ev)
	})

	c.mu.Lock()
	c.armed = true
	fired, ferr := c.fired, c.firedErr
	c.mu.Unlock()
	if fired {
		c.resume(ferr)
	}
}

func (c *chain[T]) schedule(delay time.Duration) (handle schedule.Cancellation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule retry: panic: %v", r)
		}
	}()
	return c.scheduler.ScheduleAfter(delay, c.retry)
}

// retry runs when the inter-attempt delay has elapsed, or with the reason the
// scheduler dropped the continuation
func (c *chain[T]) retry(err error) {
	c.mu.Lock()
	if c.claimed {
		c.mu.Unlock()
		return
	}
	if !c.armed {
		c.fired, c.firedErr = true, err
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.resume(err)
}

func (c *chain[T]) resume(serr error) {
	c.mu.Lock()
	if c.claimed {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	n, lastErr := c.attempt, c.lastErr
	c.mu.Unlock()

	if serr != nil {
		c.schedulingFailed(n, serr)
		return
	}

	made, ok := c.policy.tryAcquire()
	if !ok {
		// a chain sharing the policy spent the budget while we waited
		c.terminate(n, StateExhausted, lastErr)
		return
	}
	c.invoke(made)
}

func (c *chain[T]) schedulingFailed(n int, err error) {
	c.log.Log(c.ctx, slog.LevelError, "failed to schedule retry",
		slog.String("chain", c.id),
		slog.Int("attempt", n),
		slog.String("error", err.Error()),
	)
	c.terminate(n, StateSchedulingFailed, err)
}

// claim makes the caller the single owner of the chain outcome
func (c *chain[T]) claim(state State) (schedule.Cancellation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed {
		return nil, false
	}
	c.claimed = true
	c.state = state
	pending := c.pending
	c.pending = nil
	return pending, true
}

func (c *chain[T]) terminate(n int, reason State, err error) {
	if _, ok := c.claim(StateReportingTerminalError); !ok {
		return
	}

	c.safely("exhaustion callback", func() {
		c.onExhausted(err)
	})

	mapped := err
	c.safely("error mapper", func() {
		if m := c.mapper(err); m != nil {
			mapped = m
		}
	})

	c.mu.Lock()
	c.state = StateDone
	c.mu.Unlock()

	ev := c.event(n, reason, err)
	c.safely("listener", func() {
		c.listener.OnTerminal(c.ctx, ev)
	})
	c.promise.Reject(mapped)
	c.cancel()
}

func (c *chain[T]) cancelled() {
	pending, ok := c.claim(StateDone)
	if !ok {
		return
	}
	if pending != nil {
		pending.Cancel()
	}

	c.mu.Lock()
	n := c.attempt
	c.mu.Unlock()

	err := c.ctx.Err()
	ev := c.event(n, StateCancelled, err)
	c.safely("listener", func() {
		c.listener.OnTerminal(context.WithoutCancel(c.ctx), ev)
	})
	c.promise.Reject(err)
}

// safely runs a caller-supplied callback; a panic is logged and swallowed so
// the chain still reports its outcome
func (c *chain[T]) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Log(c.ctx, slog.LevelError, "recovered panic in "+what,
				slog.String("chain", c.id),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}
