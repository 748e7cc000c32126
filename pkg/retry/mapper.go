package retry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jzx17/reconnect/pkg/types"
)

// ExhaustionCallback is invoked at most once per chain, with the terminal raw
// failure, right before the chain reports it.
type ExhaustionCallback func(error)

// ErrorMapper transforms the terminal raw failure into the error the caller
// observes. It is applied exactly once per failed chain and never to retried
// failures. A mapper returning nil leaves the raw error in place.
type ErrorMapper func(error) error

// IdentityMapper returns the error unchanged
func IdentityMapper(err error) error {
	return err
}

// WrapError maps failures to a *types.RetryError for operation
func WrapError(operation string) ErrorMapper {
	return func(err error) error {
		var retryErr *types.RetryError
		if errors.As(err, &retryErr) {
			return err
		}
		return types.NewRetryError(operation, err)
	}
}

// MapTo wraps failures so that errors.Is matches both target and the raw error
func MapTo(target error) ErrorMapper {
	return func(err error) error {
		return fmt.Errorf("%w: %w", target, err)
	}
}

type mapperBinding struct {
	match  Classifier
	mapper ErrorMapper
}

// MapperRegistry picks an ErrorMapper by the kind of the terminal failure.
// Bindings are tried in registration order; the first match wins.
type MapperRegistry struct {
	bindings []mapperBinding
	fallback ErrorMapper
	mu       sync.RWMutex
}

// NewMapperRegistry creates a registry using fallback for unmatched errors;
// a nil fallback keeps them unchanged
func NewMapperRegistry(fallback ErrorMapper) *MapperRegistry {
	if fallback == nil {
		fallback = IdentityMapper
	}
	return &MapperRegistry{fallback: fallback}
}

// Register binds errors matching target (errors.Is) to mapper
func (r *MapperRegistry) Register(target error, mapper ErrorMapper) error {
	if target == nil {
		return fmt.Errorf("cannot bind nil error: %w", types.ErrInvalidInput)
	}
	return r.RegisterFunc(RetryOn(target), mapper)
}

// RegisterFunc binds errors accepted by match to mapper
func (r *MapperRegistry) RegisterFunc(match Classifier, mapper ErrorMapper) error {
	if match == nil || mapper == nil {
		return fmt.Errorf("cannot register nil matcher or mapper: %w", types.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, mapperBinding{match: match, mapper: mapper})
	return nil
}

// Len returns the number of bindings
func (r *MapperRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Map applies the first matching mapper
func (r *MapperRegistry) Map(err error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bindings {
		if b.match(err) {
			return b.mapper(err)
		}
	}
	return r.fallback(err)
}

// Mapper exposes the registry as an ErrorMapper
func (r *MapperRegistry) Mapper() ErrorMapper {
	return r.Map
}
