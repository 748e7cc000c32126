// Package types provides core clock abstractions for time mocking
package types

import (
	"context"
	"time"

	"github.com/coder/quartz"
)

// Clock provides an abstraction over time operations for testing
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// Since returns the time elapsed since t
	Since(t time.Time) time.Duration
	// NewTimer creates a new Timer
	NewTimer(d time.Duration) Timer
	// AfterFunc waits for the duration to elapse and then calls f in its own goroutine
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer provides timer operations
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// quartzClock adapts a quartz.Clock (real or mock) to Clock
type quartzClock struct {
	clock quartz.Clock
}

// NewRealClock creates a clock backed by the system time
func NewRealClock() Clock {
	return &quartzClock{clock: quartz.NewReal()}
}

// FromQuartz wraps any quartz clock, typically a *quartz.Mock in tests
func FromQuartz(clock quartz.Clock) Clock {
	return &quartzClock{clock: clock}
}

func (c *quartzClock) Now() time.Time {
	return c.clock.Now()
}

func (c *quartzClock) Since(t time.Time) time.Duration {
	return c.clock.Since(t)
}

func (c *quartzClock) NewTimer(d time.Duration) Timer {
	return &quartzTimer{timer: c.clock.NewTimer(d)}
}

func (c *quartzClock) AfterFunc(d time.Duration, f func()) Timer {
	return &quartzTimer{timer: c.clock.AfterFunc(d, f)}
}

// quartzTimer wraps quartz.Timer
type quartzTimer struct {
	timer *quartz.Timer
}

func (t *quartzTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t *quartzTimer) Stop() bool {
	return t.timer.Stop()
}

func (t *quartzTimer) Reset(d time.Duration) bool {
	return t.timer.Reset(d)
}

type clockKey struct{}

// WithClock adds a clock to the context
func WithClock(ctx context.Context, clock Clock) context.Context {
	return context.WithValue(ctx, clockKey{}, clock)
}

// ClockFromContext retrieves clock from context, returns a real clock if not found
func ClockFromContext(ctx context.Context) Clock {
	if clock, ok := ctx.Value(clockKey{}).(Clock); ok {
		return clock
	}
	return NewRealClock()
}
