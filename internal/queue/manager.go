package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/phrazzld/meetscribe/internal/queue"

// Callbacks are side-effecting hooks for one job. They are kept in a registry
// keyed by job ID and dropped once the job reaches a terminal state.
type Callbacks struct {
	OnProgress func(job *domain.Job, percentage float64, stage string)
	OnComplete func(job *domain.Job)
	OnError    func(job *domain.Job, err *domain.JobError)
	OnCancel   func(job *domain.Job)
}

// Manager is the job queue: priority admission, resource-bounded selection,
// completion, retry with exponential backoff and cancellation.
// All methods are safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	cfg      Config
	store    *PriorityStore
	ledger   *ResourceLedger
	emitter  events.EventEmitter
	clock    clockwork.Clock
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer

	callbacks   map[string]Callbacks
	inflight    map[string]context.CancelFunc
	retryTimers map[string]clockwork.Timer

	rrCursor int
	paused   bool
	shutdown bool
	wake     chan struct{}

	metrics *rollingMetrics
}

// NewManager creates a Manager. A nil emitter disables state-change events;
// a nil clock uses the real clock.
func NewManager(cfg Config, emitter events.EventEmitter, clock clockwork.Clock, logger *slog.Logger) *Manager {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Manager{
		cfg:   cfg,
		store: NewPriorityStore(cfg.RetentionLimit),
		ledger: NewResourceLedger(Limits{
			MaxConcurrentJobs: cfg.MaxConcurrentJobs,
			MaxMemoryPerJob:   cfg.MaxMemoryPerJob,
			MaxTotalMemory:    cfg.MaxTotalMemory,
			MaxAPICalls:       cfg.MaxAPICalls,
			AllocationTTL:     cfg.AllocationTTL,
		}),
		emitter:     emitter,
		clock:       clock,
		logger:      logger.With("component", "job_queue_manager"),
		validate:    validator.New(),
		tracer:      otel.Tracer(tracerName),
		callbacks:   make(map[string]Callbacks),
		inflight:    make(map[string]context.CancelFunc),
		retryTimers: make(map[string]clockwork.Timer),
		wake:        make(chan struct{}, 1),
		metrics:     newRollingMetrics(),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// WakeChan is signalled whenever a job becomes selectable.
func (m *Manager) WakeChan() <-chan struct{} {
	return m.wake
}

// Wake requests a dispatch attempt without blocking.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// RegisterCallbacks attaches callbacks to jobID. Registration may precede
// EnqueueJob; a rejected enqueue drops them.
func (m *Manager) RegisterCallbacks(jobID string, cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[jobID] = cb
}

// EnqueueJob validates and admits a job. The queue stores its own copy; the
// caller's job has its status and QueuedAt updated on success.
func (m *Manager) EnqueueJob(ctx context.Context, job *domain.Job) (err error) {
	ctx, span := m.startSpan(ctx, "queue.EnqueueJob", job)
	defer func() { endSpan(span, err) }()

	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrValidation)
	}
	if err := m.validate.Struct(job); err != nil {
		m.dropCallbacks(job.ID)
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.dropCallbacks(job.ID)
		return ErrQueueShutdown
	}
	if queued := m.store.QueuedCount(); queued >= m.cfg.MaxSize {
		m.mu.Unlock()
		m.dropCallbacks(job.ID)
		m.logger.Warn("queue full, rejecting job",
			"job_id", job.ID,
			"queued", queued,
			"max_size", m.cfg.MaxSize)
		return fmt.Errorf("%w: %d of %d slots used", ErrQueueFull, queued, m.cfg.MaxSize)
	}
	if _, loc := m.store.Locate(job.ID); loc != LocationNone {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	now := m.clock.Now()
	stored := job.Clone()
	previous := stored.Execution.Status
	stored.Execution.Status = domain.StatusQueued
	stored.Execution.QueuedAt = now
	if stored.Execution.CreatedAt.IsZero() {
		stored.Execution.CreatedAt = now
	}
	m.store.Append(stored)
	m.metrics.recordEnqueue()

	job.Execution.Status = domain.StatusQueued
	job.Execution.QueuedAt = now

	change := events.JobStateChange{
		JobID:         stored.ID,
		PreviousState: previous,
		NewState:      domain.StatusQueued,
		Reason:        "enqueued",
		Job:           stored.Clone(),
	}
	m.mu.Unlock()

	m.logger.Info("job enqueued",
		"job_id", job.ID,
		"priority", job.Priority)
	m.emit(ctx, change)

	if m.cfg.SchedulerEnabled {
		m.Wake()
	}
	return nil
}

// DequeueJob removes a job from wherever it is held, releasing its resources
// if it was processing. Terminal jobs cannot be dequeued.
func (m *Manager) DequeueJob(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	job, loc := m.store.Remove(jobID)
	if loc == LocationNone {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	switch loc {
	case LocationProcessing:
		m.ledger.Release(jobID)
		m.cancelInflight(jobID)
	case LocationRetrying:
		m.stopRetryTimer(jobID)
	}
	delete(m.callbacks, jobID)
	out := job.Clone()
	m.mu.Unlock()

	m.logger.Info("job dequeued",
		"job_id", jobID,
		"location", loc)
	m.publish(ctx, events.JobStateChange{
		JobID:         jobID,
		PreviousState: out.Status(),
		NewState:      out.Status(),
		Reason:        "dequeued",
		Job:           out.Clone(),
	}, events.NewJobDequeuedEvent)
	return out, nil
}

// GetNextJob selects and starts the next job under the configured mode. It
// returns nil when paused, when capacity is exhausted, or when nothing is
// selectable. A job leaves its bucket only after its allocation succeeds.
func (m *Manager) GetNextJob(ctx context.Context) *domain.Job {
	m.mu.Lock()
	if m.paused || m.shutdown || !m.ledger.CanAllocateMore() {
		m.mu.Unlock()
		return nil
	}

	now := m.clock.Now()
	candidate, bucketIdx := m.selectCandidate(now)
	if candidate == nil {
		m.mu.Unlock()
		return nil
	}

	apiQuota := 0
	if candidate.Dependencies.AzureAPI {
		apiQuota = 1
	}
	alloc, ok := m.ledger.Allocate(candidate.ID, candidate.Priority, apiQuota, now)
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("insufficient resources for next job",
			"job_id", candidate.ID,
			"priority", candidate.Priority)
		return nil
	}

	previous := candidate.Execution.Status
	if err := m.store.StartProcessing(candidate, now); err != nil {
		m.ledger.Release(candidate.ID)
		m.mu.Unlock()
		m.logger.Error("failed to start job",
			"job_id", candidate.ID,
			"error", err)
		return nil
	}
	candidate.Execution.AllocatedResources = alloc.Resources
	if m.cfg.Mode == ModeRoundRobin {
		m.rrCursor = (bucketIdx + 1) % len(domain.Priorities)
	}
	m.metrics.recordStart(now.Sub(candidate.Execution.QueuedAt))

	out := candidate.Clone()
	change := events.JobStateChange{
		JobID:         candidate.ID,
		PreviousState: previous,
		NewState:      domain.StatusProcessing,
		Reason:        "dispatched",
		Job:           candidate.Clone(),
	}
	m.mu.Unlock()

	_, span := m.startSpan(ctx, "queue.GetNextJob", out)
	span.SetAttributes(attribute.Int("job.memory_mb", alloc.MemoryMB))
	span.End()

	m.logger.Info("job started",
		"job_id", out.ID,
		"priority", out.Priority,
		"memory_mb", alloc.MemoryMB,
		"retry_count", out.Execution.RetryCount)
	m.emit(ctx, change)
	return out
}

// selectCandidate peeks the next job without removing it. The returned index
// is the bucket position of the job's priority.
func (m *Manager) selectCandidate(now time.Time) (*domain.Job, int) {
	switch m.cfg.Mode {
	case ModeFIFO:
		var best *domain.Job
		for _, p := range domain.Priorities {
			for _, job := range m.store.Bucket(p) {
				if best == nil || job.Execution.QueuedAt.Before(best.Execution.QueuedAt) {
					best = job
				}
			}
		}
		if best == nil {
			return nil, -1
		}
		return best, best.Priority.Rank()

	case ModeShortestJobFirst:
		var best *domain.Job
		var bestEstimate time.Duration
		for _, p := range domain.Priorities {
			for _, job := range m.store.Bucket(p) {
				estimate := m.estimateDuration(job, now)
				if best == nil || estimate < bestEstimate {
					best, bestEstimate = job, estimate
				}
			}
		}
		if best == nil {
			return nil, -1
		}
		return best, best.Priority.Rank()

	case ModeRoundRobin:
		n := len(domain.Priorities)
		for i := 0; i < n; i++ {
			idx := (m.rrCursor + i) % n
			if bucket := m.store.Bucket(domain.Priorities[idx]); len(bucket) > 0 {
				return bucket[0], idx
			}
		}
		return nil, -1

	default:
		for idx, p := range domain.Priorities {
			if bucket := m.store.Bucket(p); len(bucket) > 0 {
				return bucket[0], idx
			}
		}
		return nil, -1
	}
}

func (m *Manager) estimateDuration(job *domain.Job, now time.Time) time.Duration {
	if eta := job.Execution.EstimatedCompletion; !eta.IsZero() {
		return eta.Sub(now)
	}
	return m.cfg.DefaultJobDuration
}

// BindExecution records the cancel function of the goroutine executing jobID
// so CancelJob can stop it.
func (m *Manager) BindExecution(jobID string, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, loc := m.store.Locate(jobID); loc != LocationProcessing {
		return fmt.Errorf("%w: %s is not processing", ErrJobNotFound, jobID)
	}
	m.inflight[jobID] = cancel
	return nil
}

// ReportProgress records progress for a processing job and invokes its
// OnProgress callback. A positive remaining duration updates the job's
// estimated completion.
func (m *Manager) ReportProgress(ctx context.Context, jobID string, percentage float64, stage string, remaining time.Duration) error {
	m.mu.Lock()
	job, loc := m.store.Locate(jobID)
	if loc != LocationProcessing {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is not processing", ErrJobNotFound, jobID)
	}
	if remaining > 0 {
		job.Execution.EstimatedCompletion = m.clock.Now().Add(remaining)
	}
	cb := m.callbacks[jobID].OnProgress
	snapshot := job.Clone()
	m.mu.Unlock()

	if cb != nil {
		m.safeInvoke("on_progress", jobID, func() { cb(snapshot, percentage, stage) })
	}
	return nil
}

// CompleteJob marks a processing job completed with the given result.
func (m *Manager) CompleteJob(ctx context.Context, jobID string, result json.RawMessage) (err error) {
	ctx, span := m.tracer.Start(ctx, "queue.CompleteJob", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	job, loc := m.store.Locate(jobID)
	if loc != LocationProcessing {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is not processing", ErrJobNotFound, jobID)
	}

	now := m.clock.Now()
	job.Result = result
	if err := m.store.Complete(job, now); err != nil {
		m.mu.Unlock()
		return err
	}
	m.ledger.Release(jobID)
	m.cancelInflight(jobID)
	m.metrics.recordCompletion(now, now.Sub(job.Execution.StartedAt))

	cb := m.callbacks[jobID].OnComplete
	delete(m.callbacks, jobID)
	snapshot := job.Clone()
	change := events.JobStateChange{
		JobID:         jobID,
		PreviousState: domain.StatusProcessing,
		NewState:      domain.StatusCompleted,
		Reason:        "completed",
		Job:           job.Clone(),
	}
	m.mu.Unlock()

	m.logger.Info("job completed",
		"job_id", jobID,
		"duration_ms", now.Sub(snapshot.Execution.StartedAt).Milliseconds())
	m.emit(ctx, change)
	if cb != nil {
		m.safeInvoke("on_complete", jobID, func() { cb(snapshot) })
	}
	return nil
}

// FailJob records a failed attempt. A recoverable error with retries left
// parks the job for min(base*2^retryCount, max) and then re-queues it at the
// tail of its bucket; anything else fails the job permanently. Errors that
// are not a *domain.JobError are treated as non-recoverable internal errors.
func (m *Manager) FailJob(ctx context.Context, jobID string, cause error) (err error) {
	ctx, span := m.tracer.Start(ctx, "queue.FailJob", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer func() { endSpan(span, err) }()

	jobErr := domain.WrapJobError(cause, domain.ErrorTypeInternal, false)
	if jobErr == nil {
		jobErr = domain.NewJobError(domain.ErrorTypeInternal, "job failed without error detail", false)
	}

	m.mu.Lock()
	job, loc := m.store.Locate(jobID)
	if loc != LocationProcessing {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is not processing", ErrJobNotFound, jobID)
	}

	now := m.clock.Now()
	job.Execution.LastError = jobErr
	m.ledger.Release(jobID)
	m.cancelInflight(jobID)

	if jobErr.Recoverable && job.Execution.RetryCount < job.Execution.MaxRetries && !m.shutdown {
		job.Execution.RetryCount++
		delay := RetryDelay(job.Execution.RetryCount, m.cfg.BaseRetryDelay, m.cfg.MaxRetryDelay)
		if err := m.store.Retry(job); err != nil {
			m.mu.Unlock()
			return err
		}
		m.retryTimers[jobID] = m.clock.AfterFunc(delay, func() { m.releaseRetry(jobID) })
		m.metrics.recordRetry()

		change := events.JobStateChange{
			JobID:         jobID,
			PreviousState: domain.StatusProcessing,
			NewState:      domain.StatusQueued,
			Reason:        "retry scheduled",
			Error:         jobErr,
			Job:           job.Clone(),
		}
		retryCount := job.Execution.RetryCount
		m.mu.Unlock()

		m.logger.Warn("job attempt failed, retry scheduled",
			"job_id", jobID,
			"retry_count", retryCount,
			"delay_ms", delay.Milliseconds(),
			"error", jobErr)
		m.emit(ctx, change)
		return nil
	}

	if err := m.store.Fail(job, now); err != nil {
		m.mu.Unlock()
		return err
	}
	m.metrics.recordFailure()

	cb := m.callbacks[jobID].OnError
	delete(m.callbacks, jobID)
	snapshot := job.Clone()
	change := events.JobStateChange{
		JobID:         jobID,
		PreviousState: domain.StatusProcessing,
		NewState:      domain.StatusFailed,
		Reason:        "failed",
		Error:         jobErr,
		Job:           job.Clone(),
	}
	m.mu.Unlock()

	m.logger.Error("job failed permanently",
		"job_id", jobID,
		"retry_count", snapshot.Execution.RetryCount,
		"error_type", jobErr.Type,
		"error", jobErr)
	m.emit(ctx, change)
	if cb != nil {
		m.safeInvoke("on_error", jobID, func() { cb(snapshot, jobErr) })
	}
	return nil
}

// releaseRetry moves a parked job back into its bucket once its backoff
// timer fires.
func (m *Manager) releaseRetry(jobID string) {
	m.mu.Lock()
	delete(m.retryTimers, jobID)
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	job, ok := m.store.Release(jobID, m.clock.Now())
	m.mu.Unlock()
	if !ok {
		return
	}

	m.logger.Debug("job re-queued after backoff",
		"job_id", jobID,
		"priority", job.Priority)
	if m.cfg.SchedulerEnabled {
		m.Wake()
	}
}

// CancelJob cancels a queued, retrying or processing job. A processing job's
// execution context is cancelled and any later CompleteJob or FailJob for it
// reports ErrJobNotFound.
func (m *Manager) CancelJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	job, loc := m.store.Locate(jobID)
	switch loc {
	case LocationNone:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	case LocationCompleted, LocationFailed, LocationCancelled:
		m.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, jobID, job.Status())
	case LocationRetrying:
		m.stopRetryTimer(jobID)
	case LocationProcessing:
		m.ledger.Release(jobID)
		m.cancelInflight(jobID)
	}

	previous := job.Execution.Status
	if err := m.store.Cancel(job, m.clock.Now()); err != nil {
		m.mu.Unlock()
		return err
	}
	m.metrics.recordCancel()

	cb := m.callbacks[jobID].OnCancel
	delete(m.callbacks, jobID)
	snapshot := job.Clone()
	change := events.JobStateChange{
		JobID:         jobID,
		PreviousState: previous,
		NewState:      domain.StatusCancelled,
		Reason:        "cancelled",
		Job:           job.Clone(),
	}
	m.mu.Unlock()

	m.logger.Info("job cancelled",
		"job_id", jobID,
		"previous_state", previous)
	m.emit(ctx, change)
	if cb != nil {
		m.safeInvoke("on_cancel", jobID, func() { cb(snapshot) })
	}
	return nil
}

// PauseProcessing makes GetNextJob return nil until ResumeProcessing.
func (m *Manager) PauseProcessing() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.logger.Info("queue processing paused")
}

// ResumeProcessing re-enables selection and wakes the dispatcher.
func (m *Manager) ResumeProcessing() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.logger.Info("queue processing resumed")
	m.Wake()
}

// Shutdown rejects further enqueues, stops pending retry timers (their jobs
// return to their buckets) and cancels in-flight executions.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	for id := range m.retryTimers {
		m.stopRetryTimer(id)
	}
	released := m.store.ReleaseAll(m.clock.Now())
	for id := range m.inflight {
		m.cancelInflight(id)
	}
	m.mu.Unlock()

	m.logger.Info("job queue shut down",
		"requeued_retries", len(released))
	return nil
}

// GetJob returns a copy of a job and where it is held.
func (m *Manager) GetJob(jobID string) (*domain.Job, Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, loc := m.store.Locate(jobID)
	if loc == LocationNone {
		return nil, LocationNone, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job.Clone(), loc, nil
}

// State is a point-in-time copy of the queue.
type State struct {
	Queued     map[domain.Priority][]*domain.Job `json:"queued"`
	Retrying   []*domain.Job                     `json:"retrying"`
	Processing []*domain.Job                     `json:"processing"`
	Completed  []*domain.Job                     `json:"completed"`
	Failed     []*domain.Job                     `json:"failed"`
	Cancelled  []*domain.Job                     `json:"cancelled"`
	Usage      Usage                             `json:"resource_usage"`
	Mode       SelectionMode                     `json:"mode"`
	Paused     bool                              `json:"paused"`
	Shutdown   bool                              `json:"shutdown"`
}

// GetState returns a copy of the queue's contents.
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := State{
		Queued:     make(map[domain.Priority][]*domain.Job, len(domain.Priorities)),
		Retrying:   cloneAll(m.store.Retrying()),
		Processing: cloneAll(m.store.Processing()),
		Completed:  cloneAll(m.store.Completed()),
		Failed:     cloneAll(m.store.Failed()),
		Cancelled:  cloneAll(m.store.Cancelled()),
		Usage:      m.ledger.Usage(),
		Mode:       m.cfg.Mode,
		Paused:     m.paused,
		Shutdown:   m.shutdown,
	}
	for _, p := range domain.Priorities {
		state.Queued[p] = cloneAll(m.store.Bucket(p))
	}
	return state
}

// GetMetrics returns rolling queue metrics.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics.snapshot(m.clock.Now(), m.store.QueuedCount(), m.store.ProcessingCount(), m.ledger.Usage())
}

// Start implements the lifecycle contract; the manager needs no startup work.
func (m *Manager) Start(ctx context.Context) error {
	return nil
}

// Stop shuts the queue down.
func (m *Manager) Stop(ctx context.Context) error {
	return m.Shutdown(ctx)
}

// HealthCheck reports ErrQueueShutdown after shutdown.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return ErrQueueShutdown
	}
	return nil
}

// cancelInflight must be called with m.mu held.
func (m *Manager) cancelInflight(jobID string) {
	if cancel, ok := m.inflight[jobID]; ok {
		cancel()
		delete(m.inflight, jobID)
	}
}

// stopRetryTimer must be called with m.mu held.
func (m *Manager) stopRetryTimer(jobID string) {
	if timer, ok := m.retryTimers[jobID]; ok {
		timer.Stop()
		delete(m.retryTimers, jobID)
	}
}

func (m *Manager) dropCallbacks(jobID string) {
	m.mu.Lock()
	delete(m.callbacks, jobID)
	m.mu.Unlock()
}

func (m *Manager) emit(ctx context.Context, change events.JobStateChange) {
	m.publish(ctx, change, events.NewJobStateChangeEvent)
}

func (m *Manager) publish(ctx context.Context, change events.JobStateChange, build func(events.JobStateChange, time.Time) (*events.Event, error)) {
	if m.emitter == nil {
		return
	}
	event, err := build(change, m.clock.Now())
	if err != nil {
		m.logger.Error("failed to build state change event",
			"job_id", change.JobID,
			"error", err)
		return
	}
	if err := m.emitter.EmitEvent(ctx, event); err != nil {
		m.logger.Warn("state change event handler failed",
			"job_id", change.JobID,
			"new_state", change.NewState,
			"error", err)
	}
}

// safeInvoke runs a job callback, logging instead of propagating a panic.
func (m *Manager) safeInvoke(name, jobID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("job callback panicked",
				"callback", name,
				"job_id", jobID,
				"panic", r)
		}
	}()
	fn()
}

func (m *Manager) startSpan(ctx context.Context, name string, job *domain.Job) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}
	if job != nil {
		attrs = append(attrs,
			attribute.String("job.id", job.ID),
			attribute.String("job.priority", string(job.Priority)))
	}
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func cloneAll(jobs []*domain.Job) []*domain.Job {
	out := make([]*domain.Job, len(jobs))
	for i, job := range jobs {
		out[i] = job.Clone()
	}
	return out
}
