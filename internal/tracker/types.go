package tracker

import (
	"time"

	"github.com/phrazzld/meetscribe/internal/domain"
)

// LifecycleEventType labels an entry in a job's history.
type LifecycleEventType string

// Lifecycle event types
const (
	LifecycleQueued    LifecycleEventType = "queued"
	LifecycleStarted   LifecycleEventType = "started"
	LifecycleProgress  LifecycleEventType = "progress"
	LifecycleCompleted LifecycleEventType = "completed"
	LifecycleFailed    LifecycleEventType = "failed"
	LifecycleCancelled LifecycleEventType = "cancelled"
	LifecycleTimeout   LifecycleEventType = "timeout"
)

// lifecycleForStatus maps statuses to the history entry they produce.
// Statuses not listed produce none.
var lifecycleForStatus = map[domain.JobStatus]LifecycleEventType{
	domain.StatusQueued:     LifecycleQueued,
	domain.StatusProcessing: LifecycleStarted,
	domain.StatusCompleted:  LifecycleCompleted,
	domain.StatusFailed:     LifecycleFailed,
	domain.StatusCancelled:  LifecycleCancelled,
}

// LifecycleEvent is one entry in a job's history.
type LifecycleEvent struct {
	Type      LifecycleEventType `json:"type"`
	Status    domain.JobStatus   `json:"status"`
	Message   string             `json:"message,omitempty"`
	Data      map[string]any     `json:"data,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// StageProgress describes progress within one processing stage.
type StageProgress struct {
	Stage      string    `json:"stage"`
	Percentage float64   `json:"percentage"`
	StartedAt  time.Time `json:"started_at"`
}

// ProgressInfo is the latest progress report for a job. Only the current
// stage is kept.
type ProgressInfo struct {
	Percentage             float64         `json:"percentage"`
	CurrentStage           string          `json:"current_stage"`
	EstimatedRemainingTime time.Duration   `json:"estimated_remaining_time"`
	StageProgress          []StageProgress `json:"stage_progress"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// ProgressUpdate is the input to UpdateJobProgress.
type ProgressUpdate struct {
	Percentage         float64
	Stage              string
	EstimatedRemaining time.Duration
}

// StatusChangeEvent is delivered to status handlers.
type StatusChangeEvent struct {
	JobID          string           `json:"job_id"`
	PreviousStatus domain.JobStatus `json:"previous_status"`
	NewStatus      domain.JobStatus `json:"new_status"`
	Reason         string           `json:"reason,omitempty"`
	Context        map[string]any   `json:"context,omitempty"`
	Job            *domain.Job      `json:"job"`
	Timestamp      time.Time        `json:"timestamp"`
}

// ProgressUpdateEvent is delivered to progress handlers.
type ProgressUpdateEvent struct {
	JobID     string       `json:"job_id"`
	Progress  ProgressInfo `json:"progress"`
	Timestamp time.Time    `json:"timestamp"`
}

// TimeoutEvent is delivered to timeout handlers when a processing job runs
// past its timeout. It is raised once per job.
type TimeoutEvent struct {
	JobID     string          `json:"job_id"`
	Priority  domain.Priority `json:"priority"`
	Elapsed   time.Duration   `json:"elapsed"`
	Timeout   time.Duration   `json:"timeout"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler types
type (
	StatusHandler   func(StatusChangeEvent)
	ProgressHandler func(ProgressUpdateEvent)
	TimeoutHandler  func(TimeoutEvent)
)
