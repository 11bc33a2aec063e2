package queue

import (
	"errors"

	"github.com/phrazzld/meetscribe/internal/domain"
)

// Common errors returned by the Manager
var (
	ErrQueueFull     = errors.New("job queue is full")
	ErrQueueShutdown = errors.New("job queue is shut down")
	ErrJobNotFound   = errors.New("job not found")
	ErrDuplicateJob  = errors.New("job already exists")

	// ErrValidation is returned (wrapped) when a submitted job is malformed.
	ErrValidation = domain.ErrValidation
)
