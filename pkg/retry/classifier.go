package retry

import (
	"context"
	"errors"
	"net"

	"github.com/jzx17/reconnect/pkg/types"
)

// Classifier decides whether a failure may be retried. It is called once per
// failure, including the first.
type Classifier func(error) bool

// AlwaysRetry accepts every failure
func AlwaysRetry(error) bool {
	return true
}

// NeverRetry rejects every failure, making any failure terminal
func NeverRetry(error) bool {
	return false
}

// DefaultClassifier retries failures that look transient: errors explicitly
// marked with types.Transient, timeouts, temporary and network errors, and the
// engine's own back-pressure errors. Context cancellation is never retried.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if retryable, ok := types.RetryHint(err); ok {
		return retryable
	}

	if errors.Is(err, types.ErrTimeout) || errors.Is(err, types.ErrWorkerPoolFull) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

// RetryOn accepts failures matching any of targets with errors.Is
func RetryOn(targets ...error) Classifier {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// Not inverts a classifier
func Not(c Classifier) Classifier {
	return func(err error) bool {
		return !c(err)
	}
}

// AnyOf accepts a failure when at least one classifier does
func AnyOf(classifiers ...Classifier) Classifier {
	return func(err error) bool {
		for _, c := range classifiers {
			if c(err) {
				return true
			}
		}
		return false
	}
}

// AllOf accepts a failure only when every classifier does
func AllOf(classifiers ...Classifier) Classifier {
	return func(err error) bool {
		for _, c := range classifiers {
			if !c(err) {
				return false
			}
		}
		return len(classifiers) > 0
	}
}
