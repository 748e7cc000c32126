// Package schedule provides a non-blocking delay scheduler used to run
// continuations after a wait without pinning a goroutine.
package schedule

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/reconnect/pkg/types"
)

// Scheduler runs a callback once after a delay
type Scheduler interface {
	// ScheduleAfter arranges for fn to run once, no earlier than d from now,
	// with a nil error. If the scheduler drops the callback before the delay
	// elapses, for example on shutdown, fn runs once with the reason instead.
	// It never blocks the caller.
	ScheduleAfter(d time.Duration, fn func(error)) (Cancellation, error)
}

// Cancellation is the handle returned for a scheduled callback
type Cancellation interface {
	// Cancel prevents the callback from running. It returns false when the
	// callback already started, was dropped or was already cancelled.
	Cancel() bool
}

// entry states
const (
	statePending int32 = iota
	stateFired
	stateCancelled
	stateDropped
)

type entry struct {
	state int32
	owner *ClockScheduler
	fn    func(error)

	mu    sync.Mutex
	timer types.Timer
}

func (e *entry) fire() {
	if !atomic.CompareAndSwapInt32(&e.state, statePending, stateFired) {
		return
	}
	e.owner.forget(e)
	e.fn(nil)
}

func (e *entry) Cancel() bool {
	if !e.stop(stateCancelled) {
		return false
	}
	e.owner.forget(e)
	return true
}

// drop stops a pending entry and hands it the reason
func (e *entry) drop(reason error) {
	if !e.stop(stateDropped) {
		return
	}
	e.owner.forget(e)
	e.fn(reason)
}

func (e *entry) stop(to int32) bool {
	if !atomic.CompareAndSwapInt32(&e.state, statePending, to) {
		return false
	}
	e.mu.Lock()
	timer := e.timer
	e.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return true
}

// setTimer records the timer backing e, stopping it if e was cancelled first
func (e *entry) setTimer(t types.Timer) {
	e.mu.Lock()
	e.timer = t
	e.mu.Unlock()
	if st := atomic.LoadInt32(&e.state); st == stateCancelled || st == stateDropped {
		t.Stop()
	}
}

// ClockScheduler schedules callbacks on a types.Clock
type ClockScheduler struct {
	clock   types.Clock
	mu      sync.Mutex
	pending map[*entry]struct{}
	closed  bool
}

// NewClockScheduler creates a scheduler on the given clock; a nil clock uses real time
func NewClockScheduler(clock types.Clock) *ClockScheduler {
	if clock == nil {
		clock = types.NewRealClock()
	}
	return &ClockScheduler{
		clock:   clock,
		pending: make(map[*entry]struct{}),
	}
}

var defaultScheduler = NewClockScheduler(nil)

// Default returns the process-wide scheduler backed by real time
func Default() Scheduler {
	return defaultScheduler
}

// ScheduleAfter implements Scheduler
func (s *ClockScheduler) ScheduleAfter(d time.Duration, fn func(error)) (Cancellation, error) {
	if fn == nil {
		return nil, types.ErrInvalidInput
	}
	if d < 0 {
		d = 0
	}

	e := &entry{owner: s, fn: fn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, types.ErrSchedulerClosed
	}
	s.pending[e] = struct{}{}
	s.mu.Unlock()

	// AfterFunc may fire before it returns; fire and Cancel tolerate a missing timer
	e.setTimer(s.clock.AfterFunc(d, e.fire))

	return e, nil
}

func (s *ClockScheduler) forget(e *entry) {
	s.mu.Lock()
	delete(s.pending, e)
	s.mu.Unlock()
}

// Pending returns the number of callbacks that have neither fired nor been cancelled
func (s *ClockScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close drops every pending callback with types.ErrSchedulerClosed and
// rejects further scheduling
func (s *ClockScheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := make([]*entry, 0, len(s.pending))
	for e := range s.pending {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.drop(types.ErrSchedulerClosed)
	}
	return nil
}

// Func adapts a plain function to Scheduler
type Func func(d time.Duration, fn func(error)) (Cancellation, error)

// ScheduleAfter implements Scheduler
func (f Func) ScheduleAfter(d time.Duration, fn func(error)) (Cancellation, error) {
	return f(d, fn)
}
