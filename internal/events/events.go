package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/meetscribe/internal/domain"
)

// EventType identifies the kind of event carried by an Event.
type EventType string

// Event types emitted by the job core
const (
	// TypeJobStateChanged is emitted on every job status transition,
	// including admission (empty previous state).
	TypeJobStateChanged EventType = "job_state_changed"

	// TypeJobDequeued is emitted when a job is removed from the queue
	// without reaching a terminal state. NewState is the status it held.
	TypeJobDequeued EventType = "job_dequeued"
)

// Event is the envelope delivered to handlers.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type indicates how Payload should be decoded
	Type EventType `json:"type"`

	// JobID is the job this event refers to
	JobID string `json:"job_id"`

	// Payload contains the event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// JobStateChange is the payload of TypeJobStateChanged and TypeJobDequeued
// events.
type JobStateChange struct {
	JobID         string           `json:"job_id"`
	PreviousState domain.JobStatus `json:"previous_state"`
	NewState      domain.JobStatus `json:"new_state"`
	Reason        string           `json:"reason,omitempty"`
	Error         *domain.JobError `json:"error,omitempty"`
	// Job is a snapshot taken after the transition.
	Job *domain.Job `json:"job"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent creates a new Event with the specified type and payload.
func NewEvent(eventType EventType, jobID string, payload interface{}, now time.Time) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		JobID:     jobID,
		Payload:   payloadBytes,
		CreatedAt: now,
	}, nil
}

// NewJobStateChangeEvent wraps a JobStateChange in an Event.
func NewJobStateChangeEvent(change JobStateChange, now time.Time) (*Event, error) {
	return NewEvent(TypeJobStateChanged, change.JobID, change, now)
}

// NewJobDequeuedEvent wraps the removal of a job in an Event.
func NewJobDequeuedEvent(change JobStateChange, now time.Time) (*Event, error) {
	return NewEvent(TypeJobDequeued, change.JobID, change, now)
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f(ctx, event).
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *Event) error
}
