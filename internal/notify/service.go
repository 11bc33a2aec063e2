package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/domain"
)

// Common errors returned by the Service
var (
	ErrInvalidSubscriber = errors.New("invalid subscriber")
	errNonBoolFilter     = errors.New("filter expression must evaluate to bool")
)

// Config controls which notifications are sent and where.
type Config struct {
	// Enabled toggles each notification type. Types missing from a non-nil
	// map are disabled.
	Enabled map[Type]bool

	// ProgressThrottleInterval is the minimum gap between two progress
	// notifications for the same job.
	ProgressThrottleInterval time.Duration

	// Source names this component on outgoing envelopes.
	Source string

	// BroadcastTargets are the components that receive every notification
	// through the transport.
	BroadcastTargets []string
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	enabled := make(map[Type]bool, len(AllTypes))
	for _, t := range AllTypes {
		enabled[t] = true
	}
	return Config{
		Enabled:                  enabled,
		ProgressThrottleInterval: time.Second,
		Source:                   "background",
		BroadcastTargets:         []string{"popup", "content"},
	}
}

// Handler receives notifications for a local subscriber.
type Handler func(ctx context.Context, n Notification) error

// Subscriber is an in-process notification consumer. Filter is an optional
// CEL expression, for example `type == "jobFailed" && priority == "urgent"`.
type Subscriber struct {
	Name    string
	Filter  string
	Handler Handler
}

type subscription struct {
	name    string
	filter  filter
	handler Handler
}

// Service delivers notifications. It is safe for concurrent use.
type Service struct {
	mu           sync.Mutex
	cfg          Config
	transport    Transport
	clock        clockwork.Clock
	logger       *slog.Logger
	subs         map[string]subscription
	lastProgress map[string]time.Time
}

// NewService creates a Service. transport may be nil, in which case every
// broadcast target is reported as a failed delivery.
func NewService(cfg Config, transport Transport, clock clockwork.Clock, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.Enabled == nil {
		cfg.Enabled = def.Enabled
	}
	if cfg.ProgressThrottleInterval <= 0 {
		cfg.ProgressThrottleInterval = def.ProgressThrottleInterval
	}
	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		cfg:          cfg,
		transport:    transport,
		clock:        clock,
		logger:       logger.With("component", "notification_service"),
		subs:         make(map[string]subscription),
		lastProgress: make(map[string]time.Time),
	}
}

// Subscribe registers a local subscriber and returns a function removing it.
// A subscriber with the same name replaces the previous one.
func (s *Service) Subscribe(sub Subscriber) (func(), error) {
	if sub.Name == "" || sub.Handler == nil {
		return nil, fmt.Errorf("%w: name and handler are required", ErrInvalidSubscriber)
	}
	f, err := compileFilter(sub.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", ErrInvalidSubscriber, sub.Filter, err)
	}

	s.mu.Lock()
	s.subs[sub.Name] = subscription{name: sub.Name, filter: f, handler: sub.Handler}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, sub.Name)
		s.mu.Unlock()
	}, nil
}

// NotifyJobCompleted announces a completed job.
func (s *Service) NotifyJobCompleted(ctx context.Context, job *domain.Job) SendResult {
	s.clearThrottle(job.ID)
	payload := jobPayload(job)
	if len(job.Result) > 0 {
		var result any
		if err := json.Unmarshal(job.Result, &result); err == nil {
			payload["result"] = result
		}
	}
	return s.send(ctx, TypeJobCompleted, PriorityFor(TypeJobCompleted), job.ID, payload)
}

// NotifyJobFailed announces a permanently failed job.
func (s *Service) NotifyJobFailed(ctx context.Context, job *domain.Job, jobErr *domain.JobError) SendResult {
	s.clearThrottle(job.ID)
	payload := jobPayload(job)
	if jobErr != nil {
		payload["error_type"] = string(jobErr.Type)
		payload["error"] = jobErr.Message
		payload["severity"] = string(jobErr.Severity)
		payload["recoverable"] = jobErr.Recoverable
	}
	return s.send(ctx, TypeJobFailed, PriorityFor(TypeJobFailed), job.ID, payload)
}

// NotifyJobStarted announces a job entering processing.
func (s *Service) NotifyJobStarted(ctx context.Context, job *domain.Job) SendResult {
	return s.send(ctx, TypeJobStarted, PriorityFor(TypeJobStarted), job.ID, jobPayload(job))
}

// NotifyJobCancelled announces a cancelled job.
func (s *Service) NotifyJobCancelled(ctx context.Context, job *domain.Job) SendResult {
	s.clearThrottle(job.ID)
	return s.send(ctx, TypeJobCancelled, PriorityFor(TypeJobCancelled), job.ID, jobPayload(job))
}

// NotifyJobStatusChanged announces a status transition.
func (s *Service) NotifyJobStatusChanged(ctx context.Context, jobID string, from, to domain.JobStatus, reason string) SendResult {
	payload := map[string]any{
		"job_id":          jobID,
		"previous_status": string(from),
		"new_status":      string(to),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	return s.send(ctx, TypeJobStatusChanged, StatusPriority(to), jobID, payload)
}

// NotifyJobProgress announces progress. Calls closer together than
// ProgressThrottleInterval for the same job are suppressed; only sent
// notifications move the throttle window.
func (s *Service) NotifyJobProgress(ctx context.Context, jobID string, percentage float64, stage string) SendResult {
	if !s.enabled(TypeJobProgress) {
		return SendResult{Success: true, Suppressed: true}
	}

	now := s.clock.Now()
	s.mu.Lock()
	if last, ok := s.lastProgress[jobID]; ok && now.Sub(last) < s.cfg.ProgressThrottleInterval {
		s.mu.Unlock()
		return SendResult{Success: true, Suppressed: true}
	}
	s.lastProgress[jobID] = now
	s.mu.Unlock()

	return s.send(ctx, TypeJobProgress, PriorityFor(TypeJobProgress), jobID, map[string]any{
		"job_id":     jobID,
		"percentage": percentage,
		"stage":      stage,
	})
}

func (s *Service) enabled(t Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled[t]
}

func (s *Service) clearThrottle(jobID string) {
	s.mu.Lock()
	delete(s.lastProgress, jobID)
	s.mu.Unlock()
}

func (s *Service) send(ctx context.Context, t Type, priority domain.Priority, jobID string, payload map[string]any) SendResult {
	if !s.enabled(t) {
		return SendResult{Success: true, Suppressed: true}
	}

	n := Notification{
		ID:        uuid.NewString(),
		Type:      t,
		Priority:  priority,
		JobID:     jobID,
		Payload:   payload,
		Timestamp: s.clock.Now(),
	}

	var result SendResult
	notified, failed := s.deliverLocal(ctx, n)
	result.ComponentsNotified += notified
	result.FailedDeliveries = append(result.FailedDeliveries, failed...)

	notified, failed = s.broadcast(ctx, n)
	result.ComponentsNotified += notified
	result.FailedDeliveries = append(result.FailedDeliveries, failed...)

	// Local subscriber failures are isolated; only a broadcast that reached
	// no component fails the send.
	result.Success = len(failed) == 0 || result.ComponentsNotified > 0
	if len(result.FailedDeliveries) > 0 {
		s.logger.Debug("notification partially delivered",
			"notification_type", t,
			"job_id", jobID,
			"components_notified", result.ComponentsNotified,
			"failed_deliveries", len(result.FailedDeliveries))
	}
	return result
}

// deliverLocal runs every matching subscriber concurrently and waits for all
// of them. A failing subscriber does not affect the others.
func (s *Service) deliverLocal(ctx context.Context, n Notification) (int, []FailedDelivery) {
	s.mu.Lock()
	subs := make([]subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.filter.match(n) {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()
	if len(subs) == 0 {
		return 0, nil
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].name < subs[j].name })

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("subscriber panicked: %v", r)
				}
			}()
			errs[i] = sub.handler(ctx, n)
		}()
	}
	wg.Wait()

	notified := 0
	var failed []FailedDelivery
	for i, err := range errs {
		if err == nil {
			notified++
			continue
		}
		s.logger.Warn("local subscriber failed",
			"subscriber", subs[i].name,
			"notification_type", n.Type,
			"job_id", n.JobID,
			"error", err)
		failed = append(failed, FailedDelivery{Component: subs[i].name, Reason: err.Error()})
	}
	return notified, failed
}

// broadcast sends one envelope per configured target through the transport.
func (s *Service) broadcast(ctx context.Context, n Notification) (int, []FailedDelivery) {
	if len(s.cfg.BroadcastTargets) == 0 {
		return 0, nil
	}

	var failed []FailedDelivery
	if s.transport == nil || !s.transport.Available(ctx) {
		for _, target := range s.cfg.BroadcastTargets {
			failed = append(failed, FailedDelivery{Component: target, Reason: "broadcast transport unavailable"})
		}
		return 0, failed
	}

	payload, err := json.Marshal(n)
	if err != nil {
		for _, target := range s.cfg.BroadcastTargets {
			failed = append(failed, FailedDelivery{Component: target, Reason: err.Error()})
		}
		return 0, failed
	}

	notified := 0
	for _, target := range s.cfg.BroadcastTargets {
		env := Envelope{
			MessageID: uuid.NewString(),
			Type:      n.Type,
			Priority:  n.Priority,
			Source:    s.cfg.Source,
			Target:    target,
			Payload:   payload,
			Metadata:  map[string]string{"job_id": n.JobID, "notification_id": n.ID},
			Delivery: DeliveryTracking{
				Attempts:   1,
				RequireAck: n.Priority == domain.PriorityUrgent,
				SentAt:     s.clock.Now(),
			},
		}
		res, err := s.transport.Send(ctx, env)
		switch {
		case err != nil:
			failed = append(failed, FailedDelivery{Component: target, Reason: err.Error()})
		case !res.Delivered:
			reason := res.Error
			if reason == "" {
				reason = "not delivered"
			}
			failed = append(failed, FailedDelivery{Component: target, Reason: reason})
		default:
			notified++
		}
	}
	return notified, failed
}

// Start implements the lifecycle contract; the service needs no startup work.
func (s *Service) Start(ctx context.Context) error {
	return nil
}

// Stop implements the lifecycle contract.
func (s *Service) Stop(ctx context.Context) error {
	return nil
}

// HealthCheck always succeeds; transport outages degrade delivery only.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.transport != nil && !s.transport.Available(ctx) {
		s.logger.Warn("broadcast transport unavailable")
	}
	return nil
}

func jobPayload(job *domain.Job) map[string]any {
	payload := map[string]any{
		"job_id":   job.ID,
		"priority": string(job.Priority),
		"status":   string(job.Status()),
	}
	if job.Execution != nil {
		payload["retry_count"] = job.Execution.RetryCount
		if sid := job.Execution.Metadata.SessionID; sid != "" {
			payload["session_id"] = sid
		}
	}
	return payload
}
