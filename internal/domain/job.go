package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority determines which queue bucket a job is placed in.
type Priority string

// Job priorities, highest first
const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
	PriorityIdle   Priority = "idle"
)

// Priorities lists every priority in scan order (urgent first).
var Priorities = []Priority{
	PriorityUrgent,
	PriorityHigh,
	PriorityNormal,
	PriorityLow,
	PriorityIdle,
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// Rank returns the scan position of p (0 for urgent) or -1 if unknown.
func (p Priority) Rank() int {
	for i, candidate := range Priorities {
		if candidate == p {
			return i
		}
	}
	return -1
}

// ParsePriority converts a string to a Priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

// Resources describes the capacity a job holds while it is processing.
type Resources struct {
	MemoryMB        int `json:"memory_mb"`
	APIQuota        int `json:"api_quota"`
	ProcessingSlots int `json:"processing_slots"`
}

// ResourceAllocation is the ledger record for one processing job.
type ResourceAllocation struct {
	Resources
	AllocatedAt time.Time `json:"allocated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// JobMetadata carries descriptive information about a job's origin.
type JobMetadata struct {
	Source       string   `json:"source,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// JobDependencies describes the external collaborators a job needs.
type JobDependencies struct {
	AzureAPI bool     `json:"azure_api"`
	Storage  bool     `json:"storage"`
	Network  bool     `json:"network"`
	Services []string `json:"services,omitempty"`
}

// ExecutionContext holds the mutable lifecycle state of a job.
type ExecutionContext struct {
	Status              JobStatus   `json:"status"`
	CreatedAt           time.Time   `json:"created_at"`
	QueuedAt            time.Time   `json:"queued_at"`
	StartedAt           time.Time   `json:"started_at"`
	CompletedAt         time.Time   `json:"completed_at"`
	EstimatedCompletion time.Time   `json:"estimated_completion"`
	RetryCount          int         `json:"retry_count"`
	MaxRetries          int         `json:"max_retries" validate:"gte=0"`
	AllocatedResources  Resources   `json:"allocated_resources"`
	Metadata            JobMetadata `json:"metadata"`
	LastError           *JobError   `json:"last_error,omitempty"`
}

// Job is a unit of transcription work. It is plain data; side-effecting
// callbacks live in the queue's callback registry, keyed by ID.
type Job struct {
	ID           string            `json:"job_id" validate:"required"`
	Type         string            `json:"type"`
	Priority     Priority          `json:"priority" validate:"required,oneof=urgent high normal low idle"`
	AudioURL     string            `json:"audio_url" validate:"required,url"`
	Language     string            `json:"language,omitempty"`
	Execution    *ExecutionContext `json:"execution_context" validate:"required"`
	Dependencies JobDependencies   `json:"dependencies"`
	Result       json.RawMessage   `json:"result,omitempty"`
}

// JobTypeTranscription is the job type for meeting recording transcription.
const JobTypeTranscription = "transcription"

// NewJobRequest holds the submitter-provided fields for a new job.
type NewJobRequest struct {
	AudioURL   string
	Language   string
	Priority   Priority
	// MaxRetries is nil when the submitter left the retry budget unset.
	// NewJob treats nil as zero.
	MaxRetries *int
	Metadata   JobMetadata
}

// NewJob creates a transcription job with a fresh ID. It does not enqueue it.
func NewJob(req NewJobRequest, now time.Time) *Job {
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	maxRetries := 0
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	return &Job{
		ID:       uuid.New().String(),
		Type:     JobTypeTranscription,
		Priority: priority,
		AudioURL: req.AudioURL,
		Language: req.Language,
		Execution: &ExecutionContext{
			Status:     StatusQueued,
			CreatedAt:  now,
			MaxRetries: maxRetries,
			Metadata:   req.Metadata,
		},
		Dependencies: JobDependencies{
			AzureAPI: true,
			Storage:  true,
			Network:  true,
		},
	}
}

// Status returns the job's current status, or "" if it has no execution context.
func (j *Job) Status() JobStatus {
	if j == nil || j.Execution == nil {
		return ""
	}
	return j.Execution.Status
}

// Clone returns a deep copy of the job safe to hand outside the queue.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Execution != nil {
		exec := *j.Execution
		exec.Metadata.Dependencies = append([]string(nil), j.Execution.Metadata.Dependencies...)
		exec.Metadata.Tags = append([]string(nil), j.Execution.Metadata.Tags...)
		if j.Execution.LastError != nil {
			lastErr := *j.Execution.LastError
			exec.LastError = &lastErr
		}
		out.Execution = &exec
	}
	out.Dependencies.Services = append([]string(nil), j.Dependencies.Services...)
	if j.Result != nil {
		out.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &out
}
