package retry

import (
	"sync/atomic"
	"time"
)

// Infinite as maxAttempts makes a policy retry until success or a
// non-retryable failure.
const Infinite = -1

// Policy holds the retry configuration and the attempt counter of a chain.
//
// maxAttempts counts total invocations of the operation, the first one
// included: a policy with maxAttempts 5 allows the initial attempt and at most
// 4 retries. Use NewSimplePolicy for the "count retries after the first
// failure" convention.
//
// A Policy is normally created per chain from a Template. It may be shared
// between concurrent chains to enforce a common budget; the counter is then
// reserved with compare-and-increment so the budget is never exceeded.
type Policy struct {
	frequency    time.Duration
	maxAttempts  int
	backoff      BackoffStrategy
	attemptsMade int64
}

// PolicyOption configures a Policy
type PolicyOption func(*Policy)

// WithBackoff replaces the fixed frequency with a computed delay per attempt
func WithBackoff(strategy BackoffStrategy) PolicyOption {
	return func(p *Policy) {
		p.backoff = strategy
	}
}

// NewPolicy creates a policy. A negative frequency is treated as zero and a
// maxAttempts below 1 (other than Infinite) as 1.
func NewPolicy(frequency time.Duration, maxAttempts int, opts ...PolicyOption) *Policy {
	if frequency < 0 {
		frequency = 0
	}
	if maxAttempts != Infinite && maxAttempts < 1 {
		maxAttempts = 1
	}

	p := &Policy{
		frequency:   frequency,
		maxAttempts: maxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewSimplePolicy creates a policy allowing count retries after the first
// attempt, i.e. count+1 invocations in total.
func NewSimplePolicy(frequency time.Duration, count int, opts ...PolicyOption) *Policy {
	if count < 0 {
		count = 0
	}
	return NewPolicy(frequency, count+1, opts...)
}

// NewForeverPolicy creates a policy that never exhausts
func NewForeverPolicy(frequency time.Duration, opts ...PolicyOption) *Policy {
	return NewPolicy(frequency, Infinite, opts...)
}

// Frequency returns the configured delay between attempts
func (p *Policy) Frequency() time.Duration {
	return p.frequency
}

// MaxAttempts returns the total attempt budget, or Infinite
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// IsInfinite reports whether the policy never exhausts
func (p *Policy) IsInfinite() bool {
	return p.maxAttempts == Infinite
}

// AttemptsMade returns how many times the operation has been invoked
func (p *Policy) AttemptsMade() int {
	return int(atomic.LoadInt64(&p.attemptsMade))
}

// Remaining returns the attempts left, or -1 for an infinite policy
func (p *Policy) Remaining() int {
	if p.IsInfinite() {
		return -1
	}
	left := p.maxAttempts - p.AttemptsMade()
	if left < 0 {
		return 0
	}
	return left
}

// Exhausted reports whether no attempt is left
func (p *Policy) Exhausted() bool {
	return !p.IsInfinite() && p.AttemptsMade() >= p.maxAttempts
}

// NextDelay returns the wait before the attempt following attempt
func (p *Policy) NextDelay(attempt int) time.Duration {
	if p.backoff != nil {
		return p.backoff.NextDelay(attempt)
	}
	return p.frequency
}

// begin counts the first attempt of a chain; it always runs
func (p *Policy) begin() int {
	return int(atomic.AddInt64(&p.attemptsMade, 1))
}

// tryAcquire reserves one more attempt if the budget allows it
func (p *Policy) tryAcquire() (int, bool) {
	for {
		n := atomic.LoadInt64(&p.attemptsMade)
		if !p.IsInfinite() && n >= int64(p.maxAttempts) {
			return int(n), false
		}
		if atomic.CompareAndSwapInt64(&p.attemptsMade, n, n+1) {
			return int(n + 1), true
		}
	}
}

// Template is immutable policy configuration from which every chain gets a
// fresh Policy
type Template struct {
	frequency   time.Duration
	maxAttempts int
	opts        []PolicyOption
}

// NoRetry allows a single attempt
func NoRetry() Template {
	return Template{maxAttempts: 1}
}

// Fixed allows maxAttempts total attempts spaced by frequency
func Fixed(frequency time.Duration, maxAttempts int, opts ...PolicyOption) Template {
	return Template{frequency: frequency, maxAttempts: maxAttempts, opts: opts}
}

// Simple allows count retries after the first attempt
func Simple(frequency time.Duration, count int, opts ...PolicyOption) Template {
	if count < 0 {
		count = 0
	}
	return Fixed(frequency, count+1, opts...)
}

// Forever retries until success or a non-retryable failure
func Forever(frequency time.Duration, opts ...PolicyOption) Template {
	return Fixed(frequency, Infinite, opts...)
}

// With returns a copy of the template with extra options
func (t Template) With(opts ...PolicyOption) Template {
	merged := make([]PolicyOption, 0, len(t.opts)+len(opts))
	merged = append(merged, t.opts...)
	t.opts = append(merged, opts...)
	return t
}

// NewPolicy creates a fresh policy for one chain
func (t Template) NewPolicy() *Policy {
	return NewPolicy(t.frequency, t.maxAttempts, t.opts...)
}

// Frequency returns the configured frequency
func (t Template) Frequency() time.Duration {
	return t.frequency
}

// MaxAttempts returns the configured budget as NewPolicy will normalize it
func (t Template) MaxAttempts() int {
	if t.maxAttempts != Infinite && t.maxAttempts < 1 {
		return 1
	}
	return t.maxAttempts
}
