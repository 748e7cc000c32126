// Package types defines error types
package types

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Predefined errors
var (
	// ErrInvalidInput indicates invalid input
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates an invalid reconnection configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTimeout indicates operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrSchedulerClosed indicates the delay scheduler no longer accepts work
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrWorkerPoolFull indicates the worker pool is full
	ErrWorkerPoolFull = errors.New("worker pool is full")

	// ErrWorkerPoolClosed indicates the worker pool is not accepting tasks
	ErrWorkerPoolClosed = errors.New("worker pool is closed")
)

// RetryError describes the terminal failure of a retry chain
type RetryError struct {
	// Operation is the name of the retried operation
	Operation string

	// Cause is the underlying error
	Cause error

	// Context contains error context information
	Context map[string]interface{}
}

// Error implements the error interface
func (e *RetryError) Error() string {
	if attempts, ok := e.Context["retry_attempts"]; ok {
		return fmt.Sprintf("operation %s failed after %v attempt(s): %v", e.Operation, attempts, e.Cause)
	}
	return fmt.Sprintf("operation %s failed: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying error
func (e *RetryError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// NewRetryError creates a new retry error
func NewRetryError(operation string, cause error) *RetryError {
	return &RetryError{
		Operation: operation,
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// WithContext adds error context
func (e *RetryError) WithContext(key string, value interface{}) *RetryError {
	e.Context[key] = value
	return e
}

// Attrs exposes the operation and context as structured log attributes
func (e *RetryError) Attrs() []slog.Attr {
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys)+1)
	attrs = append(attrs, slog.String("operation", e.Operation))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, e.Context[k]))
	}
	return attrs
}

// RetryableError marks an error with an explicit retry decision
type RetryableError struct {
	// Err is the underlying error
	Err error

	// Retryable indicates whether the error is retryable
	Retryable bool

	// RetryAfter is the suggested retry delay
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable
func Transient(err error) error {
	return &RetryableError{Err: err, Retryable: true}
}

// Fatal marks err as not retryable
func Fatal(err error) error {
	return &RetryableError{Err: err, Retryable: false}
}

// IsRetryable checks if an error is marked retryable
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}
	return false
}

// RetryHint reports whether err carries an explicit retry decision and what it is
func RetryHint(err error) (retryable, ok bool) {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable, true
	}
	return false, false
}

// GetRetryDelay returns the suggested retry delay
func GetRetryDelay(err error) time.Duration {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.RetryAfter
	}
	return 0
}
