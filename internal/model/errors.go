package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError reports an invalid config or request field. No state is
// changed when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown scraper or file.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// AlreadyRunningError is returned when a run is requested for a scraper
// that already has one in flight.
type AlreadyRunningError struct {
	Name string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("scraper %s is already running", e.Name)
}

// DisabledError is returned when a run is requested for a disabled scraper.
type DisabledError struct {
	Name string
}

func (e *DisabledError) Error() string {
	return fmt.Sprintf("scraper %s is disabled", e.Name)
}

// PartialFailureError lists sub-targets that failed within a run that
// otherwise produced data. It is recorded, not returned to callers.
type PartialFailureError struct {
	Failed []string
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%d target(s) failed: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}

// ModelUnavailableError reports an unreachable analysis backend. Retrying
// later is safe.
type ModelUnavailableError struct {
	Backend string
	Err     error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("analysis backend %s unavailable, retry later: %v", e.Backend, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// TimeoutError reports an operation that exceeded its time bound.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
