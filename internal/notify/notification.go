package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phrazzld/meetscribe/internal/domain"
)

// Type identifies a notification kind.
type Type string

// Notification types
const (
	TypeJobCompleted     Type = "jobCompleted"
	TypeJobFailed        Type = "jobFailed"
	TypeJobProgress      Type = "jobProgress"
	TypeJobStatusChanged Type = "jobStatusChanged"
	TypeJobStarted       Type = "jobStarted"
	TypeJobCancelled     Type = "jobCancelled"
)

// AllTypes lists every notification type.
var AllTypes = []Type{
	TypeJobCompleted,
	TypeJobFailed,
	TypeJobProgress,
	TypeJobStatusChanged,
	TypeJobStarted,
	TypeJobCancelled,
}

var defaultPriority = map[Type]domain.Priority{
	TypeJobFailed:    domain.PriorityUrgent,
	TypeJobCompleted: domain.PriorityHigh,
	TypeJobCancelled: domain.PriorityHigh,
	TypeJobProgress:  domain.PriorityNormal,
	TypeJobStarted:   domain.PriorityNormal,
}

// PriorityFor returns the fixed priority of a notification type. Status
// changes are ranked by their target status; see StatusPriority.
func PriorityFor(t Type) domain.Priority {
	if p, ok := defaultPriority[t]; ok {
		return p
	}
	return domain.PriorityLow
}

// StatusPriority ranks a status-change notification by the status it moves to.
func StatusPriority(to domain.JobStatus) domain.Priority {
	switch to {
	case domain.StatusFailed, domain.StatusExpired:
		return domain.PriorityUrgent
	case domain.StatusCompleted, domain.StatusCancelled:
		return domain.PriorityHigh
	case domain.StatusProcessing:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

// Notification is what local subscribers receive.
type Notification struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Priority  domain.Priority `json:"priority"`
	JobID     string          `json:"job_id"`
	Payload   map[string]any  `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeliveryTracking carries delivery bookkeeping on an Envelope.
type DeliveryTracking struct {
	Attempts   int       `json:"attempts"`
	RequireAck bool      `json:"require_ack"`
	SentAt     time.Time `json:"sent_at"`
}

// Envelope is the cross-component message handed to a Transport.
type Envelope struct {
	MessageID string            `json:"message_id"`
	Type      Type              `json:"type"`
	Priority  domain.Priority   `json:"priority"`
	Source    string            `json:"source"`
	Target    string            `json:"target"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Delivery  DeliveryTracking  `json:"delivery"`
}

// DeliveryResult is a transport's report for one envelope.
type DeliveryResult struct {
	Delivered bool   `json:"delivered"`
	Receivers int    `json:"receivers"`
	Error     string `json:"error,omitempty"`
}

// Transport delivers envelopes to other components. Unavailability is a
// recoverable delivery failure, never fatal.
type Transport interface {
	Send(ctx context.Context, env Envelope) (DeliveryResult, error)
	Available(ctx context.Context) bool
}

// FailedDelivery names a component that did not receive a notification.
type FailedDelivery struct {
	Component string `json:"component"`
	Reason    string `json:"reason"`
}

// SendResult reports the outcome of one notification. A suppressed
// notification is a successful no-op.
type SendResult struct {
	Success            bool             `json:"success"`
	Suppressed         bool             `json:"suppressed,omitempty"`
	ComponentsNotified int              `json:"components_notified"`
	FailedDeliveries   []FailedDelivery `json:"failed_deliveries,omitempty"`
}
