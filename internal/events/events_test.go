package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobStateChangeEvent(t *testing.T) {
	now := time.Now()
	job := domain.NewJob(domain.NewJobRequest{AudioURL: "https://example.com/a.wav"}, now)

	event, err := NewJobStateChangeEvent(JobStateChange{
		JobID:         job.ID,
		PreviousState: domain.StatusQueued,
		NewState:      domain.StatusProcessing,
		Job:           job,
	}, now)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, TypeJobStateChanged, event.Type)
	assert.Equal(t, job.ID, event.JobID)
	assert.Equal(t, now, event.CreatedAt)

	var decoded JobStateChange
	require.NoError(t, event.UnmarshalPayload(&decoded))
	assert.Equal(t, domain.StatusQueued, decoded.PreviousState)
	assert.Equal(t, domain.StatusProcessing, decoded.NewState)
	require.NotNil(t, decoded.Job)
	assert.Equal(t, job.AudioURL, decoded.Job.AudioURL)
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *Event
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *Event) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestHandlerFunc(t *testing.T) {
	called := false
	var handler EventHandler = HandlerFunc(func(ctx context.Context, event *Event) error {
		called = true
		return nil
	})

	err := handler.HandleEvent(context.Background(), &Event{})
	assert.NoError(t, err)
	assert.True(t, called)
}
