package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffStrategy computes the wait after a failed attempt. attempt is the
// 1-based number of the attempt that just failed.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// JitterFunc randomizes a computed delay
type JitterFunc func(time.Duration) time.Duration

// FullJitter picks a delay in [0, delay)
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)))
}

// EqualJitter picks a delay in [delay/2, delay)
func EqualJitter(delay time.Duration) time.Duration {
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}

// UpwardJitter returns a jitter adding up to factor*delay, so the result never
// drops below the base delay
func UpwardJitter(factor float64) JitterFunc {
	return func(delay time.Duration) time.Duration {
		spread := int64(float64(delay) * factor)
		if spread <= 0 {
			return delay
		}
		return delay + time.Duration(rand.Int63n(spread))
	}
}

type backoffConfig struct {
	multiplier float64
	maxDelay   time.Duration
	jitter     JitterFunc
}

// BackoffOption configures a backoff strategy
type BackoffOption func(*backoffConfig)

// WithMultiplier sets the growth factor of exponential backoff
func WithMultiplier(multiplier float64) BackoffOption {
	return func(c *backoffConfig) {
		if multiplier >= 1 {
			c.multiplier = multiplier
		}
	}
}

// WithMaxDelay caps computed delays
func WithMaxDelay(maxDelay time.Duration) BackoffOption {
	return func(c *backoffConfig) {
		if maxDelay > 0 {
			c.maxDelay = maxDelay
		}
	}
}

// WithJitter randomizes computed delays
func WithJitter(jitter JitterFunc) BackoffOption {
	return func(c *backoffConfig) {
		c.jitter = jitter
	}
}

func newBackoffConfig(opts []BackoffOption) backoffConfig {
	c := backoffConfig{
		multiplier: 2.0,
		maxDelay:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c backoffConfig) finish(delay time.Duration) time.Duration {
	if delay > c.maxDelay || delay < 0 {
		delay = c.maxDelay
	}
	if c.jitter != nil {
		delay = c.jitter(delay)
	}
	return delay
}

// FixedBackoff waits the same delay after every attempt
type FixedBackoff struct {
	delay time.Duration
	cfg   backoffConfig
}

// NewFixedBackoff creates a fixed backoff
func NewFixedBackoff(delay time.Duration, opts ...BackoffOption) *FixedBackoff {
	cfg := newBackoffConfig(opts)
	if delay > cfg.maxDelay {
		cfg.maxDelay = delay
	}
	return &FixedBackoff{delay: delay, cfg: cfg}
}

// NextDelay implements BackoffStrategy
func (b *FixedBackoff) NextDelay(int) time.Duration {
	return b.cfg.finish(b.delay)
}

// ExponentialBackoff multiplies the delay after each failed attempt
type ExponentialBackoff struct {
	initial time.Duration
	cfg     backoffConfig
}

// NewExponentialBackoff creates an exponential backoff starting at initial
func NewExponentialBackoff(initial time.Duration, opts ...BackoffOption) *ExponentialBackoff {
	return &ExponentialBackoff{initial: initial, cfg: newBackoffConfig(opts)}
}

// NextDelay implements BackoffStrategy
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	scaled := float64(b.initial) * math.Pow(b.cfg.multiplier, float64(attempt-1))
	if scaled > float64(b.cfg.maxDelay) {
		return b.cfg.finish(b.cfg.maxDelay)
	}
	return b.cfg.finish(time.Duration(scaled))
}

// LinearBackoff adds a fixed increment after each failed attempt
type LinearBackoff struct {
	initial   time.Duration
	increment time.Duration
	cfg       backoffConfig
}

// NewLinearBackoff creates a linear backoff
func NewLinearBackoff(initial, increment time.Duration, opts ...BackoffOption) *LinearBackoff {
	return &LinearBackoff{initial: initial, increment: increment, cfg: newBackoffConfig(opts)}
}

// NextDelay implements BackoffStrategy
func (b *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.cfg.finish(b.initial + time.Duration(attempt-1)*b.increment)
}

// DecorrelatedJitterBackoff picks random(base, prev*3) capped at capDelay.
// It keeps state and is safe for concurrent use.
type DecorrelatedJitterBackoff struct {
	base     time.Duration
	capDelay time.Duration

	mu   sync.Mutex
	prev time.Duration
}

// NewDecorrelatedJitterBackoff creates a decorrelated jitter backoff
func NewDecorrelatedJitterBackoff(base, capDelay time.Duration) *DecorrelatedJitterBackoff {
	return &DecorrelatedJitterBackoff{base: base, capDelay: capDelay, prev: base}
}

// NextDelay implements BackoffStrategy
func (b *DecorrelatedJitterBackoff) NextDelay(int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	upper := b.prev * 3
	if upper > b.capDelay {
		upper = b.capDelay
	}
	if upper <= b.base {
		b.prev = b.base
		return b.base
	}

	delay := b.base + time.Duration(rand.Int63n(int64(upper-b.base)))
	b.prev = delay
	return delay
}

// Reset restarts the sequence from the base delay
func (b *DecorrelatedJitterBackoff) Reset() {
	b.mu.Lock()
	b.prev = b.base
	b.mu.Unlock()
}
