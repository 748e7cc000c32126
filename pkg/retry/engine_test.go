package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jzx17/reconnect/internal/testutils"
	"github.com/jzx17/reconnect/pkg/async"
	"github.com/jzx17/reconnect/pkg/schedule"
	"github.com/jzx17/reconnect/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnRefused = errors.New("connection refused")

// flaky produces operations failing the first failures times
type flaky struct {
	failures int32
	calls    int32
	starts   testutils.Recorder[int]
}

func (f *flaky) producer() async.Operation[string] {
	n := atomic.AddInt32(&f.calls, 1)
	f.starts.Record(int(n))
	if f.failures < 0 || n <= f.failures {
		return async.Fail[string](fmt.Errorf("attempt %d: %w", n, errConnRefused))
	}
	return async.Succeed(fmt.Sprintf("connected on %d", n))
}

func (f *flaky) count() int {
	return int(atomic.LoadInt32(&f.calls))
}

// hooks records classifier, callback and mapper invocations
type hooks struct {
	classified testutils.Recorder[error]
	exhausted  testutils.Recorder[error]
	mapped     testutils.Recorder[error]
	accept     bool
}

func newHooks(accept bool) *hooks {
	return &hooks{accept: accept}
}

func (h *hooks) classifier(err error) bool {
	h.classified.Record(err)
	return h.accept
}

func (h *hooks) onExhausted(err error) {
	h.exhausted.Record(err)
}

func (h *hooks) mapper(err error) error {
	h.mapped.Record(err)
	return fmt.Errorf("mapped: %w", err)
}

// countingScheduler counts schedule requests on top of the default scheduler
type countingScheduler struct {
	scheduled int32
	delays    testutils.Recorder[time.Duration]
}

func (s *countingScheduler) ScheduleAfter(d time.Duration, fn func(error)) (schedule.Cancellation, error) {
	atomic.AddInt32(&s.scheduled, 1)
	s.delays.Record(d)
	return schedule.Default().ScheduleAfter(d, fn)
}

func await[T any](t *testing.T, f *async.Future[T]) (T, error) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(testutils.DefaultTimeout):
		t.Fatal("timeout waiting for retry chain")
	}
	return f.Await(context.Background())
}

func TestApplyPolicy_SuccessShortCircuits(t *testing.T) {
	op := &flaky{}
	h := newHooks(true)
	sched := &countingScheduler{}

	f := ApplyPolicy(context.Background(), NewPolicy(time.Millisecond, 5), op.producer,
		h.classifier, h.onExhausted, h.mapper, WithScheduler(sched))

	v, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, "connected on 1", v)
	assert.Equal(t, 1, op.count())
	assert.Zero(t, h.classified.Count())
	assert.Zero(t, h.exhausted.Count())
	assert.Zero(t, h.mapped.Count())
	assert.Zero(t, atomic.LoadInt32(&sched.scheduled))
}

func TestApplyPolicy_BoundedRetries(t *testing.T) {
	op := &flaky{failures: -1}
	h := newHooks(true)
	policy := NewPolicy(time.Millisecond, 5)

	_, err := await(t, ApplyPolicy(context.Background(), policy, op.producer,
		h.classifier, h.onExhausted, h.mapper))

	require.Error(t, err)
	assert.Equal(t, 5, op.count())
	assert.Equal(t, 5, policy.AttemptsMade())
	assert.True(t, policy.Exhausted())
	assert.Equal(t, 5, h.classified.Count())

	require.Equal(t, 1, h.exhausted.Count())
	last := h.exhausted.Calls()[0]
	assert.EqualError(t, last, "attempt 5: connection refused")

	require.Equal(t, 1, h.mapped.Count())
	assert.Same(t, last, h.mapped.Calls()[0])
	assert.EqualError(t, err, "mapped: attempt 5: connection refused")
	assert.ErrorIs(t, err, errConnRefused)
}

func TestApplyPolicy_SimplePolicyCountsRetries(t *testing.T) {
	const retries = 5
	op := &flaky{failures: -1}

	_, err := await(t, ApplyPolicy(context.Background(), NewSimplePolicy(0, retries), op.producer,
		AlwaysRetry, nil, nil))

	require.Error(t, err)
	assert.Equal(t, retries+1, op.count())
}

func TestApplyPolicy_InfiniteConvergesOnSuccess(t *testing.T) {
	const failures = 7
	op := &flaky{failures: failures}
	h := newHooks(true)

	v, err := await(t, ApplyPolicy(context.Background(), NewForeverPolicy(0), op.producer,
		h.classifier, h.onExhausted, h.mapper))

	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("connected on %d", failures+1), v)
	assert.Equal(t, failures+1, op.count())
	assert.Zero(t, h.exhausted.Count())
	assert.Zero(t, h.mapped.Count())
}

func TestApplyPolicy_NonRetryableShortCircuits(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
	}{
		{"single attempt budget", 1},
		{"large budget", 10},
		{"infinite", Infinite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &flaky{failures: -1}
			h := newHooks(false)
			sched := &countingScheduler{}

			_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(time.Millisecond, tt.maxAttempts),
				op.producer, h.classifier, h.onExhausted, h.mapper, WithScheduler(sched)))

			require.Error(t, err)
			assert.Equal(t, 1, op.count())
			require.Equal(t, 1, h.exhausted.Count())
			assert.EqualError(t, h.exhausted.Calls()[0], "attempt 1: connection refused")
			assert.Equal(t, 1, h.mapped.Count())
			assert.Zero(t, atomic.LoadInt32(&sched.scheduled), "no delay may be scheduled")
		})
	}
}

func TestApplyPolicy_InterAttemptDelayHonored(t *testing.T) {
	const frequency = 30 * time.Millisecond
	op := &flaky{failures: 2}

	_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(frequency, 5), op.producer,
		AlwaysRetry, nil, nil))
	require.NoError(t, err)

	times := op.starts.Times()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), frequency)
	}
}

func TestApplyPolicy_MapperAppliedOnce(t *testing.T) {
	op := &flaky{failures: -1}
	h := newHooks(true)

	_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 8), op.producer,
		h.classifier, h.onExhausted, h.mapper))

	require.Error(t, err)
	assert.Equal(t, 8, op.count())
	require.Equal(t, 1, h.mapped.Count())
	assert.EqualError(t, h.mapped.Calls()[0], "attempt 8: connection refused")
	assert.True(t, errors.Is(err, errConnRefused))
	assert.Contains(t, err.Error(), "mapped: ")
}

func TestApplyPolicy_MockClockDrivesRetries(t *testing.T) {
	ctx := testutils.Context(t)
	mock, clock := testutils.NewMockClock(t)
	sched := schedule.NewClockScheduler(clock)
	op := &flaky{failures: 2}

	f := ApplyPolicy(ctx, NewPolicy(time.Second, 3), op.producer, AlwaysRetry, nil, nil,
		WithScheduler(sched), WithClock(clock))

	assert.Equal(t, 1, op.count())
	assert.Equal(t, time.Second, testutils.AdvanceToNextTimer(ctx, t, mock))
	assert.Equal(t, time.Second, testutils.AdvanceToNextTimer(ctx, t, mock))

	v, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, "connected on 3", v)
	assert.Equal(t, 0, sched.Pending())
}

func TestApplyPolicy_BackoffDelays(t *testing.T) {
	ctx := testutils.Context(t)
	mock, clock := testutils.NewMockClock(t)
	sched := schedule.NewClockScheduler(clock)
	op := &flaky{failures: 3}

	policy := NewPolicy(0, Infinite, WithBackoff(NewExponentialBackoff(100*time.Millisecond)))
	f := ApplyPolicy(ctx, policy, op.producer, AlwaysRetry, nil, nil, WithScheduler(sched))

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		delays = append(delays, testutils.AdvanceToNextTimer(ctx, t, mock))
	}
	_, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, delays)
}

func TestApplyPolicy_RetryAfterHint(t *testing.T) {
	ctx := testutils.Context(t)
	mock, clock := testutils.NewMockClock(t)
	sched := schedule.NewClockScheduler(clock)

	var calls int32
	producer := func() async.Operation[int] {
		if atomic.AddInt32(&calls, 1) == 1 {
			return async.Fail[int](&types.RetryableError{Err: errConnRefused, Retryable: true, RetryAfter: 5 * time.Second})
		}
		return async.Succeed(1)
	}

	f := ApplyPolicy(ctx, NewPolicy(time.Second, 3), producer, DefaultClassifier, nil, nil, WithScheduler(sched))
	assert.Equal(t, 5*time.Second, testutils.AdvanceToNextTimer(ctx, t, mock))

	_, err := await(t, f)
	require.NoError(t, err)
}

func TestApplyPolicy_CancelWhileWaiting(t *testing.T) {
	ctx := testutils.Context(t)
	mock, clock := testutils.NewMockClock(t)
	sched := schedule.NewClockScheduler(clock)
	op := &flaky{failures: -1}
	h := newHooks(true)

	chainCtx, cancel := context.WithCancel(ctx)
	f := ApplyPolicy(chainCtx, NewPolicy(time.Minute, Infinite), op.producer,
		h.classifier, h.onExhausted, h.mapper, WithScheduler(sched))

	require.Eventually(t, func() bool { return sched.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()

	_, err := await(t, f)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Eventually(t, func() bool { return sched.Pending() == 0 }, time.Second, time.Millisecond)

	_, pending := mock.Peek()
	assert.False(t, pending, "pending retry must be cancelled")
	assert.Equal(t, 1, op.count())
	assert.Zero(t, h.exhausted.Count())
	assert.Zero(t, h.mapped.Count())
}

func TestApplyPolicy_FutureCancelInFlight(t *testing.T) {
	var calls int32
	producer := func() async.Operation[int] {
		atomic.AddInt32(&calls, 1)
		return async.FromFunc(func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}, nil)
	}

	f := ApplyPolicy(context.Background(), NewForeverPolicy(0), producer, AlwaysRetry, nil, nil)
	f.Cancel()

	_, err := await(t, f)
	assert.ErrorIs(t, err, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "no attempt after cancellation")
}

func TestApplyPolicy_SchedulingFailureIsTerminal(t *testing.T) {
	op := &flaky{failures: -1}
	h := newHooks(true)
	failing := schedule.Func(func(time.Duration, func(error)) (schedule.Cancellation, error) {
		return nil, types.ErrSchedulerClosed
	})

	_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(time.Millisecond, 5), op.producer,
		h.classifier, h.onExhausted, h.mapper, WithScheduler(failing)))

	assert.ErrorIs(t, err, types.ErrSchedulerClosed)
	assert.Equal(t, 1, op.count())
	require.Equal(t, 1, h.exhausted.Count())
	assert.ErrorIs(t, h.exhausted.Calls()[0], types.ErrSchedulerClosed)
	assert.Equal(t, 1, h.mapped.Count())
}

func TestApplyPolicy_ClosedScheduler(t *testing.T) {
	sched := schedule.NewClockScheduler(nil)
	require.NoError(t, sched.Close())
	op := &flaky{failures: -1}

	_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 3), op.producer,
		AlwaysRetry, nil, nil, WithScheduler(sched)))
	assert.ErrorIs(t, err, types.ErrSchedulerClosed)
	assert.Equal(t, 1, op.count())
}

func TestApplyPolicy_SharedPolicyBudget(t *testing.T) {
	const chains = 5
	const budget = 12
	policy := NewPolicy(0, budget)

	// every chain makes its first attempt before any failure is reported
	gate := make(chan struct{})
	var calls int32
	var exhausted int32
	producer := func() async.Operation[int] {
		atomic.AddInt32(&calls, 1)
		return async.FromFunc(func(context.Context) (int, error) {
			<-gate
			return 0, errConnRefused
		}, nil)
	}

	futures := make([]*async.Future[int], 0, chains)
	for i := 0; i < chains; i++ {
		futures = append(futures, ApplyPolicy(context.Background(), policy, producer, AlwaysRetry,
			func(error) { atomic.AddInt32(&exhausted, 1) }, nil))
	}
	close(gate)

	for _, f := range futures {
		_, err := await(t, f)
		assert.ErrorIs(t, err, errConnRefused)
	}

	assert.Equal(t, int32(budget), atomic.LoadInt32(&calls))
	assert.Equal(t, budget, policy.AttemptsMade())
	assert.Equal(t, int32(chains), atomic.LoadInt32(&exhausted))
}

func TestApplyPolicy_InvalidInput(t *testing.T) {
	_, err := await(t, ApplyPolicy[int](context.Background(), nil, func() async.Operation[int] {
		return async.Succeed(1)
	}, nil, nil, nil))
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = await(t, ApplyPolicy[int](context.Background(), NewPolicy(0, 1), nil, nil, nil, nil))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestApplyPolicy_NilOperationIsAFailure(t *testing.T) {
	producer := func() async.Operation[int] { return nil }

	_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 3), producer, NeverRetry, nil, nil))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestApplyPolicy_ProducerPanicIsAFailure(t *testing.T) {
	var calls int32
	producer := func() async.Operation[int] {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("driver crashed")
		}
		return async.Succeed(42)
	}

	v, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 3), producer, AlwaysRetry, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestApplyPolicy_DuplicateCallbacksIgnored(t *testing.T) {
	producer := func() async.Operation[int] {
		return async.OperationFunc[int](func(_ context.Context, cb async.Callback[int]) {
			cb(0, errConnRefused)
			cb(7, nil)
		})
	}
	h := newHooks(false)

	_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 3), producer,
		h.classifier, h.onExhausted, h.mapper))
	assert.ErrorIs(t, err, errConnRefused)
	assert.Equal(t, 1, h.exhausted.Count())
}

func TestApplyPolicy_PanickingClassifierIsTerminal(t *testing.T) {
	op := &flaky{failures: -1}
	classifier := func(error) bool { panic("bad classifier") }

	_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 3), op.producer, classifier, nil, nil))
	assert.ErrorIs(t, err, errConnRefused)
	assert.Equal(t, 1, op.count())
}

func TestApplyPolicy_NilMappedErrorKeepsRaw(t *testing.T) {
	op := &flaky{failures: -1}

	_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 2), op.producer, AlwaysRetry, nil,
		func(error) error { return nil }))
	assert.EqualError(t, err, "attempt 2: connection refused")
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
	states []State
}

func (l *recordingListener) add(kind string, e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf("%s:%d", kind, e.Attempt))
	l.states = append(l.states, e.State)
}

func (l *recordingListener) OnAttempt(_ context.Context, e Event)        { l.add("attempt", e) }
func (l *recordingListener) OnRetryScheduled(_ context.Context, e Event) { l.add("retry", e) }
func (l *recordingListener) OnSuccess(_ context.Context, e Event)        { l.add("success", e) }
func (l *recordingListener) OnTerminal(_ context.Context, e Event)       { l.add("terminal", e) }

func TestApplyPolicy_ListenerEvents(t *testing.T) {
	t.Run("success after retry", func(t *testing.T) {
		l := &recordingListener{}
		op := &flaky{failures: 1}
		_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 3), op.producer, AlwaysRetry, nil, nil,
			WithListener(l), WithName("dial")))
		require.NoError(t, err)
		assert.Equal(t, []string{"attempt:1", "retry:1", "attempt:2", "success:2"}, l.events)
	})

	t.Run("exhausted", func(t *testing.T) {
		l := &recordingListener{}
		op := &flaky{failures: -1}
		_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 2), op.producer, AlwaysRetry, nil, nil,
			WithListener(l)))
		require.Error(t, err)
		assert.Equal(t, []string{"attempt:1", "retry:1", "attempt:2", "terminal:2"}, l.events)
		assert.Equal(t, StateExhausted, l.states[len(l.states)-1])
	})

	t.Run("non retryable", func(t *testing.T) {
		l := &recordingListener{}
		op := &flaky{failures: -1}
		_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 2), op.producer, NeverRetry, nil, nil,
			WithListener(l)))
		require.Error(t, err)
		assert.Equal(t, StateNonRetryable, l.states[len(l.states)-1])
	})
}

func TestApplyPolicy_SchedulerClosedWhileWaiting(t *testing.T) {
	sched := schedule.NewClockScheduler(nil)
	op := &flaky{failures: -1}
	h := newHooks(true)

	f := ApplyPolicy(context.Background(), NewPolicy(time.Hour, 3), op.producer,
		h.classifier, h.onExhausted, h.mapper, WithScheduler(sched))

	require.Eventually(t, func() bool { return sched.Pending() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, sched.Close())

	_, err := await(t, f)
	assert.ErrorIs(t, err, types.ErrSchedulerClosed)
	assert.EqualError(t, err, "mapped: "+types.ErrSchedulerClosed.Error())
	assert.Equal(t, 1, op.count())
	require.Equal(t, 1, h.exhausted.Count())
	assert.ErrorIs(t, h.exhausted.Calls()[0], types.ErrSchedulerClosed)
	assert.Equal(t, 1, h.mapped.Count())
}

type noCancel struct{}

func (noCancel) Cancel() bool { return false }

func TestApplyPolicy_SynchronousScheduler(t *testing.T) {
	inline := schedule.Func(func(_ time.Duration, fn func(error)) (schedule.Cancellation, error) {
		fn(nil)
		return noCancel{}, nil
	})
	l := &recordingListener{}
	op := &flaky{failures: 2}

	v, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 5), op.producer, AlwaysRetry, nil, nil,
		WithScheduler(inline), WithListener(l)))
	require.NoError(t, err)
	assert.Equal(t, "connected on 3", v)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, []string{"attempt:1", "retry:1", "attempt:2", "retry:2", "attempt:3", "success:3"}, l.events)
}

func TestApplyPolicy_NoRetryEventWhenSchedulingFails(t *testing.T) {
	failing := schedule.Func(func(time.Duration, func(error)) (schedule.Cancellation, error) {
		return nil, types.ErrSchedulerClosed
	})
	l := &recordingListener{}
	op := &flaky{failures: -1}

	_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 3), op.producer, AlwaysRetry, nil, nil,
		WithScheduler(failing), WithListener(l)))
	require.ErrorIs(t, err, types.ErrSchedulerClosed)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, []string{"attempt:1", "terminal:1"}, l.events)
	assert.Equal(t, StateSchedulingFailed, l.states[len(l.states)-1])
}

func TestApplyPolicy_PanickingScheduler(t *testing.T) {
	broken := schedule.Func(func(time.Duration, func(error)) (schedule.Cancellation, error) {
		panic("timer wheel corrupted")
	})
	op := &flaky{failures: -1}
	h := newHooks(true)

	_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 3), op.producer,
		h.classifier, h.onExhausted, h.mapper, WithScheduler(broken)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timer wheel corrupted")
	assert.Equal(t, 1, op.count())
	assert.Equal(t, 1, h.exhausted.Count())
}

// panickingListener panics on every event
type panickingListener struct{}

func (panickingListener) OnAttempt(context.Context, Event)        { panic("attempt hook") }
func (panickingListener) OnRetryScheduled(context.Context, Event) { panic("retry hook") }
func (panickingListener) OnSuccess(context.Context, Event)        { panic("success hook") }
func (panickingListener) OnTerminal(context.Context, Event)       { panic("terminal hook") }

func TestApplyPolicy_PanickingListener(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		producer := func() async.Operation[string] { return async.Succeed("ok") }

		v, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 3), producer, AlwaysRetry, nil, nil,
			WithListener(panickingListener{})))
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	})

	t.Run("exhausted", func(t *testing.T) {
		op := &flaky{failures: -1}
		h := newHooks(true)

		_, err := await(t, ApplyPolicy(context.Background(), NewPolicy(0, 3), op.producer,
			h.classifier, h.onExhausted, h.mapper, WithListener(panickingListener{})))
		require.ErrorIs(t, err, errConnRefused)
		assert.Equal(t, 3, op.count())
		assert.Equal(t, 1, h.exhausted.Count())
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		op := &flaky{failures: -1}

		f := ApplyPolicy(ctx, NewPolicy(time.Hour, 3), op.producer, AlwaysRetry, nil, nil,
			WithListener(panickingListener{}))
		cancel()

		_, err := await(t, f)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestApplyPolicy_AlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := &flaky{}
	h := newHooks(true)
	policy := NewPolicy(0, 3)

	_, err := await(t, ApplyPolicy(ctx, policy, op.producer, h.classifier, h.onExhausted, h.mapper))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, op.count(), "no attempt starts on a cancelled context")
	assert.Zero(t, policy.AttemptsMade())
	assert.Zero(t, h.exhausted.Count())
	assert.Zero(t, h.mapped.Count())
}
