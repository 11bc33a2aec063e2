package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/meetscribe/internal/api/shared"
	"github.com/phrazzld/meetscribe/internal/conflict"
	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/queue"
	"github.com/phrazzld/meetscribe/internal/storage"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, shared.ErrEmptyBody),
		errors.Is(err, shared.ErrInvalidBody),
		errors.Is(err, shared.ErrInvalidDuration),
		errors.Is(err, storage.ErrUnknownLayer),
		errors.Is(err, conflict.ErrUnknownStrategy),
		errors.Is(err, conflict.ErrManualDataRequired):
		return http.StatusBadRequest

	// Not found errors
	case errors.Is(err, queue.ErrJobNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrLayerNotRegistered),
		errors.Is(err, conflict.ErrConflictNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, queue.ErrDuplicateJob),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict

	// Capacity errors
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrQueueShutdown),
		errors.Is(err, storage.ErrNoLayers):
		return http.StatusServiceUnavailable

	// Storage failed on every layer
	case errors.Is(err, storage.ErrAllLayersFailed),
		errors.Is(err, conflict.ErrPropagationFailed),
		errors.Is(err, conflict.ErrBackupFailed):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"
	case errors.Is(err, shared.ErrInvalidDuration):
		return "Invalid duration"
	case errors.Is(err, domain.ErrInvalidPriority):
		return "Invalid priority"
	case errors.Is(err, domain.ErrValidation):
		return "Invalid job request"
	case errors.Is(err, storage.ErrUnknownLayer):
		return "Unknown storage layer"
	case errors.Is(err, conflict.ErrUnknownStrategy):
		return "Unknown resolution strategy"
	case errors.Is(err, conflict.ErrManualDataRequired):
		return "Resolved data is required"

	case errors.Is(err, queue.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, storage.ErrNotFound):
		return "Key not found"
	case errors.Is(err, storage.ErrLayerNotRegistered):
		return "Storage layer not registered"
	case errors.Is(err, conflict.ErrConflictNotFound):
		return "Conflict not found"

	case errors.Is(err, queue.ErrDuplicateJob):
		return "Job already exists"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "Job cannot be changed in its current state"

	case errors.Is(err, queue.ErrQueueFull):
		return "Job queue is full"
	case errors.Is(err, queue.ErrQueueShutdown):
		return "Job queue is shutting down"
	case errors.Is(err, storage.ErrNoLayers):
		return "No storage layers available"

	case errors.Is(err, storage.ErrAllLayersFailed):
		return "Storage unavailable"
	case errors.Is(err, conflict.ErrPropagationFailed):
		return "Resolved value could not be stored"
	case errors.Is(err, conflict.ErrBackupFailed):
		return "Conflict backup failed"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and message for err, logging the cause.
// A non-empty message overrides the mapped one.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError turns request validation failures into a message
// naming the first offending field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), validationTagMessage(fe.Tag()))
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "url":
		return "must be a URL"
	case "min", "gte", "gt":
		return "too small"
	case "max", "lte", "lt":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
