// Package queryerror classifies failures of query execution so callers
// can decide what to surface. Resource-limit errors are user actionable
// and always exposed; everything else on the builder path is internal.
package queryerror

import (
	"fmt"

	"github.com/pkg/errors"
)

// ResourceLimitError indicates the query was rejected or aborted because
// it exceeded a configured resource limit (rows scanned, memory, ...).
type ResourceLimitError struct {
	err error
}

func NewResourceLimitError(err error) error {
	return &ResourceLimitError{err: err}
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("resource limit exceeded: %v", e.err)
}

func (e *ResourceLimitError) Unwrap() error { return e.err }

// IsResourceLimitError unwraps through pkg/errors causes as well as
// standard wrapping.
func IsResourceLimitError(err error) bool {
	if err == nil {
		return false
	}
	var target *ResourceLimitError
	if errors.As(err, &target) {
		return true
	}
	_, ok := errors.Cause(err).(*ResourceLimitError)
	return ok
}

// ValidationError indicates the request shape is inconsistent with the
// panel type, independently of sub-query success.
type ValidationError struct {
	msg string
}

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.msg }

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// TranslationError indicates a sub-query could not be resolved to
// backend query text. It aborts a request before any fan-out.
type TranslationError struct {
	QueryName string
	err       error
}

func NewTranslationError(queryName string, err error) error {
	return &TranslationError{QueryName: queryName, err: err}
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("error building query %q: %v", e.QueryName, e.err)
}

func (e *TranslationError) Unwrap() error { return e.err }

func IsTranslationError(err error) bool {
	var target *TranslationError
	return errors.As(err, &target)
}
