package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound          = errors.New("resource not found")
	ErrRunNotFound       = fmt.Errorf("%w: run", ErrNotFound)
	ErrParameterNotFound = fmt.Errorf("%w: parameter", ErrNotFound)
	ErrColumnNotFound    = fmt.Errorf("%w: column", ErrNotFound)

	// Model errors
	ErrNotConverged    = errors.New("model did not converge")
	ErrCutpointOrder   = errors.New("cut-points not strictly increasing")
	ErrNotNested       = errors.New("models are not nested")
	ErrUnknownModel    = errors.New("unknown model")
	ErrSingularHessian = errors.New("hessian is singular")

	// Data errors
	ErrMissingLevel     = errors.New("factor level missing from data")
	ErrUnknownLevel     = errors.New("value is not a declared factor level")
	ErrInsufficientData = errors.New("insufficient data for analysis")

	// Multiple comparison errors
	ErrCountMismatch = errors.New("comparison count smaller than number of p-values")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}

func NewMissingLevelError(factor, level string) error {
	return fmt.Errorf("%w: %s level %q", ErrMissingLevel, factor, level)
}

func NewCountMismatchError(count, n int) error {
	return fmt.Errorf("%w: count %d, got %d p-values", ErrCountMismatch, count, n)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFitError reports whether err means a model fit is unusable.
func IsFitError(err error) bool {
	return errors.Is(err, ErrNotConverged) ||
		errors.Is(err, ErrCutpointOrder) ||
		errors.Is(err, ErrSingularHessian)
}

func IsDataError(err error) bool {
	return errors.Is(err, ErrMissingLevel) ||
		errors.Is(err, ErrUnknownLevel) ||
		errors.Is(err, ErrInsufficientData)
}
