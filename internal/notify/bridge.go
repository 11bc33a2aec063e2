package notify

import (
	"context"
	"fmt"

	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/events"
)

// HandleEvent turns queue state changes into notifications: every change
// produces a status-change notification, and entering processing, completed,
// failed or cancelled produces the matching specific one. Retries (processing
// back to queued) are not reported as failures.
func (s *Service) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeJobStateChanged {
		return nil
	}
	var change events.JobStateChange
	if err := event.UnmarshalPayload(&change); err != nil {
		return fmt.Errorf("failed to decode state change: %w", err)
	}
	if change.Job == nil {
		return nil
	}

	s.NotifyJobStatusChanged(ctx, change.JobID, change.PreviousState, change.NewState, change.Reason)

	switch change.NewState {
	case domain.StatusProcessing:
		s.NotifyJobStarted(ctx, change.Job)
	case domain.StatusCompleted:
		s.NotifyJobCompleted(ctx, change.Job)
	case domain.StatusFailed:
		s.NotifyJobFailed(ctx, change.Job, change.Error)
	case domain.StatusCancelled:
		s.NotifyJobCancelled(ctx, change.Job)
	}
	return nil
}

// Ensure Service implements events.EventHandler
var _ events.EventHandler = (*Service)(nil)
