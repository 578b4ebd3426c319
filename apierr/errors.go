// Package apierr defines the error taxonomy shared by the parameter parser,
// the query engine, and the web adapter. Validation failures always surface
// before any query executes; execution failures are kept distinct so
// adapters can map them to 5xx outcomes.
package apierr

import (
	"errors"
	"fmt"
)

// ValidationError reports a request that references an unknown, unsortable,
// or unfilterable field, a bad operator, or a disallowed export format. It
// always names the offending field or parameter.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidation creates a field-scoped validation error
func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError reports a failed access check
type ForbiddenError struct {
	Resource string
}

// Error implements the error interface
func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("access to resource %s denied", e.Resource)
}

// NotFoundError reports an unknown resource name
type NotFoundError struct {
	Resource string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown resource: %s", e.Resource)
}

// ExecutionError wraps a storage failure that occurred while running a
// compiled query. The engine never retries; retry policy belongs to the
// caller.
type ExecutionError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying storage error
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsForbidden reports whether err is an access failure
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

// IsNotFound reports whether err is an unknown-resource failure
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsExecution reports whether err is a storage failure
func IsExecution(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
