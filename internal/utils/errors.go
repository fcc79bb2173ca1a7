package utils

import (
	"errors"
	"fmt"
)

// Engine error taxonomy. Callers match with errors.Is.
var (
	// ErrNotFound is returned by the curve store when a pump has no stored data.
	ErrNotFound = errors.New("not found")
	// ErrInvalidConfiguration marks non-physical inputs (zero stages, non-positive frequency, bad bounds).
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidCurve marks structural violations of a performance curve (unsorted or negative samples).
	ErrInvalidCurve = errors.New("invalid performance curve")
	// ErrEmptyOverlap reports that a pump curve and a system curve share no flow range.
	ErrEmptyOverlap = errors.New("pump and system curves do not overlap")
	// ErrOptimizationDidNotConverge is a soft failure: the result is still populated.
	ErrOptimizationDidNotConverge = errors.New("optimization did not converge")
	// ErrTaskNotFound is returned by the task manager for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
)

// ValidationError represents an error occurring during data validation.
type ValidationError struct {
	Message string
	// Kind is the taxonomy sentinel the error belongs to, if any.
	Kind error
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap exposes the taxonomy sentinel so errors.Is works on validation failures.
func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// NewValidationError creates a new ValidationError with a specific message.
//
// Parameters:
//   - message: The validation error message.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
//
// Parameters:
//   - format: The format string.
//   - args: Arguments for the format string.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// InvalidConfigurationf builds a ValidationError classified as ErrInvalidConfiguration.
func InvalidConfigurationf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf("invalid configuration: "+format, args...),
		Kind:    ErrInvalidConfiguration,
	}
}

// InvalidCurvef builds a ValidationError classified as ErrInvalidCurve.
func InvalidCurvef(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf("invalid performance curve: "+format, args...),
		Kind:    ErrInvalidCurve,
	}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
