package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phrazzld/meetscribe/internal/domain"
)

// ProgressFunc reports progress of the running attempt. remaining may be zero
// when no estimate is available.
type ProgressFunc func(percentage float64, stage string, remaining time.Duration)

// Executor performs one attempt of a job.
type Executor interface {
	// Execute runs the job until it finishes or ctx is cancelled. An error
	// that is not a *domain.JobError is treated as a recoverable external
	// API failure.
	Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
	return f(ctx, job, progress)
}

// JobQueue is the part of the queue manager the Runner drives.
type JobQueue interface {
	// WakeChan signals that a job may have become available.
	WakeChan() <-chan struct{}
	GetNextJob(ctx context.Context) *domain.Job
	BindExecution(jobID string, cancel context.CancelFunc) error
	ReportProgress(ctx context.Context, jobID string, percentage float64, stage string, remaining time.Duration) error
	CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error
	FailJob(ctx context.Context, jobID string, cause error) error
}

// ProgressObserver receives every progress report after the queue has
// recorded it.
type ProgressObserver func(ctx context.Context, jobID string, percentage float64, stage string, remaining time.Duration)
