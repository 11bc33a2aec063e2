package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a job status change is not
	// allowed by the status state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidPriority is returned when a priority value is unknown.
	ErrInvalidPriority = errors.New("invalid priority")
)

// ErrorType classifies job failures.
type ErrorType string

// Job error types
const (
	ErrorTypeQueueFull         ErrorType = "queue_full"
	ErrorTypeResourceExhausted ErrorType = "resource_exhausted"
	ErrorTypeDependencyFailed  ErrorType = "dependency_failed"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeInternal          ErrorType = "internal_error"
	ErrorTypeExternalAPI       ErrorType = "external_api_error"
	ErrorTypeValidation        ErrorType = "validation_error"
)

// Severity is shared by job errors and storage conflicts.
type Severity string

// Severity levels, lowest first
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var defaultSeverity = map[ErrorType]Severity{
	ErrorTypeQueueFull:         SeverityMedium,
	ErrorTypeResourceExhausted: SeverityMedium,
	ErrorTypeDependencyFailed:  SeverityHigh,
	ErrorTypeTimeout:           SeverityMedium,
	ErrorTypeInternal:          SeverityHigh,
	ErrorTypeExternalAPI:       SeverityMedium,
	ErrorTypeValidation:        SeverityLow,
}

// JobError is the application-level error attached to a failed job attempt.
// Recoverable gates retry eligibility.
type JobError struct {
	Type        ErrorType `json:"type"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Cause       error     `json:"-"`
}

// NewJobError creates a JobError with the default severity for its type.
func NewJobError(errType ErrorType, message string, recoverable bool) *JobError {
	sev, ok := defaultSeverity[errType]
	if !ok {
		sev = SeverityMedium
	}
	return &JobError{
		Type:        errType,
		Severity:    sev,
		Message:     message,
		Recoverable: recoverable,
	}
}

// WrapJobError converts an arbitrary error into a JobError. Errors that
// already are (or wrap) a *JobError are returned as-is; anything else is
// classified with the given type and recoverability.
func WrapJobError(err error, errType ErrorType, recoverable bool) *JobError {
	if err == nil {
		return nil
	}
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}
	je := NewJobError(errType, err.Error(), recoverable)
	je.Cause = err
	return je
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Severity, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *JobError) Unwrap() error {
	return e.Cause
}
