package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/events"
)

// Common errors returned by the Tracker
var (
	ErrNotTracked     = errors.New("job is not tracked")
	ErrNotTerminal    = errors.New("job is not in a terminal state")
	ErrTerminalStatus = errors.New("job is already in a terminal state")
	ErrTrackerStopped = errors.New("tracker is stopped")
)

type record struct {
	job            *domain.Job
	events         []LifecycleEvent
	timeoutFlagged bool
	updatedAt      time.Time
}

// Tracker records job lifecycle history and progress, and detects jobs that
// run past their timeout. It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	records  map[string]*record
	progress map[string]ProgressInfo

	statusHandlers   []StatusHandler
	progressHandlers []ProgressHandler
	timeoutHandlers  []TimeoutHandler

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a Tracker. A nil clock uses the real clock.
func New(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{
		cfg:      cfg.withDefaults(),
		clock:    clock,
		logger:   logger.With("component", "job_tracker"),
		records:  make(map[string]*record),
		progress: make(map[string]ProgressInfo),
	}
}

// OnStatusChange registers a status handler.
func (t *Tracker) OnStatusChange(h StatusHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusHandlers = append(t.statusHandlers, h)
}

// OnProgress registers a progress handler.
func (t *Tracker) OnProgress(h ProgressHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progressHandlers = append(t.progressHandlers, h)
}

// OnTimeout registers a timeout handler.
func (t *Tracker) OnTimeout(h TimeoutHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeoutHandlers = append(t.timeoutHandlers, h)
}

// StartTracking begins tracking a job. Tracking an already tracked job
// refreshes its snapshot.
func (t *Tracker) StartTracking(job *domain.Job) {
	if job == nil || job.Execution == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if rec, ok := t.records[job.ID]; ok {
		rec.job = job.Clone()
		rec.updatedAt = now
		return
	}

	rec := &record{job: job.Clone(), updatedAt: now}
	if lt, ok := lifecycleForStatus[job.Status()]; ok {
		t.appendEvent(rec, LifecycleEvent{
			Type:      lt,
			Status:    job.Status(),
			Message:   "tracking started",
			Timestamp: now,
		})
	}
	t.records[job.ID] = rec

	t.logger.Debug("tracking job",
		"job_id", job.ID,
		"status", job.Status())
}

// StopTracking ends tracking for a terminal job. Progress is always purged;
// history is purged only for cancelled jobs and otherwise kept until Cleanup.
func (t *Tracker) StopTracking(jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, jobID)
	}
	status := rec.job.Status()
	if !status.IsTerminal() {
		t.logger.Warn("ignoring stop for active job",
			"job_id", jobID,
			"status", status)
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, jobID, status)
	}

	delete(t.progress, jobID)
	if status == domain.StatusCancelled {
		delete(t.records, jobID)
	}
	return nil
}

// UpdateJobStatus records a status change for a tracked job and notifies
// status handlers. data is attached to the history entry.
func (t *Tracker) UpdateJobStatus(jobID string, status domain.JobStatus, reason string, data map[string]any) error {
	return t.applyStatus(jobID, status, reason, data, nil)
}

func (t *Tracker) applyStatus(jobID string, status domain.JobStatus, reason string, data map[string]any, snapshot *domain.Job) error {
	t.mu.Lock()
	rec, ok := t.records[jobID]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("status update for untracked job",
			"job_id", jobID,
			"status", status)
		return fmt.Errorf("%w: %s", ErrNotTracked, jobID)
	}

	previous := rec.job.Status()
	if previous.IsTerminal() {
		t.mu.Unlock()
		t.logger.Warn("status update for job in terminal state",
			"job_id", jobID,
			"status", previous,
			"new_status", status)
		return fmt.Errorf("%w: %s is %s", ErrTerminalStatus, jobID, previous)
	}

	now := t.clock.Now()
	if snapshot != nil {
		rec.job = snapshot.Clone()
	}
	rec.job.Execution.Status = status
	switch {
	case status == domain.StatusProcessing:
		if snapshot == nil {
			rec.job.Execution.StartedAt = now
		}
		rec.timeoutFlagged = false
	case status.IsTerminal():
		if rec.job.Execution.CompletedAt.IsZero() {
			rec.job.Execution.CompletedAt = now
		}
	}
	rec.updatedAt = now

	if lt, ok := lifecycleForStatus[status]; ok {
		t.appendEvent(rec, LifecycleEvent{
			Type:      lt,
			Status:    status,
			Message:   reason,
			Data:      data,
			Timestamp: now,
		})
	}

	event := StatusChangeEvent{
		JobID:          jobID,
		PreviousStatus: previous,
		NewStatus:      status,
		Reason:         reason,
		Context:        data,
		Job:            rec.job.Clone(),
		Timestamp:      now,
	}
	handlers := append([]StatusHandler(nil), t.statusHandlers...)
	t.mu.Unlock()

	t.logger.Debug("job status updated",
		"job_id", jobID,
		"previous_status", previous,
		"new_status", status)
	for _, h := range handlers {
		t.safeInvoke("status", jobID, func() { h(event) })
	}
	return nil
}

// UpdateJobProgress replaces the job's progress with the given update,
// clamping the percentage into [0, 100]. Milestones (0, 25, 50, 75, 100) are
// also written to the history.
func (t *Tracker) UpdateJobProgress(jobID string, update ProgressUpdate) error {
	pct := math.Max(0, math.Min(100, update.Percentage))

	t.mu.Lock()
	rec, ok := t.records[jobID]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("progress update for untracked job", "job_id", jobID)
		return fmt.Errorf("%w: %s", ErrNotTracked, jobID)
	}

	now := t.clock.Now()
	stageStart := now
	if prev, ok := t.progress[jobID]; ok && prev.CurrentStage == update.Stage && len(prev.StageProgress) > 0 {
		stageStart = prev.StageProgress[0].StartedAt
	}
	info := ProgressInfo{
		Percentage:             pct,
		CurrentStage:           update.Stage,
		EstimatedRemainingTime: update.EstimatedRemaining,
		StageProgress: []StageProgress{{
			Stage:      update.Stage,
			Percentage: pct,
			StartedAt:  stageStart,
		}},
		UpdatedAt: now,
	}
	t.progress[jobID] = info
	rec.updatedAt = now

	if math.Mod(pct, 25) == 0 {
		t.appendEvent(rec, LifecycleEvent{
			Type:      LifecycleProgress,
			Status:    rec.job.Status(),
			Message:   update.Stage,
			Data:      map[string]any{"percentage": pct},
			Timestamp: now,
		})
	}

	event := ProgressUpdateEvent{JobID: jobID, Progress: info, Timestamp: now}
	handlers := append([]ProgressHandler(nil), t.progressHandlers...)
	t.mu.Unlock()

	for _, h := range handlers {
		t.safeInvoke("progress", jobID, func() { h(event) })
	}
	return nil
}

// CheckTimeouts flags processing jobs that have run longer than their
// priority's timeout. Each job is flagged once per attempt. It does not fail
// the job; timeout handlers decide what to do.
func (t *Tracker) CheckTimeouts() []TimeoutEvent {
	t.mu.Lock()
	now := t.clock.Now()
	var flagged []TimeoutEvent
	for id, rec := range t.records {
		if rec.job.Status() != domain.StatusProcessing || rec.timeoutFlagged {
			continue
		}
		start := rec.job.Execution.StartedAt
		if start.IsZero() {
			start = rec.job.Execution.CreatedAt
		}
		elapsed := now.Sub(start)
		timeout := t.cfg.TimeoutFor(rec.job.Priority)
		if elapsed <= timeout {
			continue
		}

		rec.timeoutFlagged = true
		t.appendEvent(rec, LifecycleEvent{
			Type:   LifecycleTimeout,
			Status: domain.StatusProcessing,
			Data: map[string]any{
				"elapsed_ms": elapsed.Milliseconds(),
				"timeout_ms": timeout.Milliseconds(),
			},
			Timestamp: now,
		})
		flagged = append(flagged, TimeoutEvent{
			JobID:     id,
			Priority:  rec.job.Priority,
			Elapsed:   elapsed,
			Timeout:   timeout,
			Timestamp: now,
		})
	}
	handlers := append([]TimeoutHandler(nil), t.timeoutHandlers...)
	t.mu.Unlock()

	for _, ev := range flagged {
		t.logger.Warn("job exceeded timeout",
			"job_id", ev.JobID,
			"priority", ev.Priority,
			"elapsed_ms", ev.Elapsed.Milliseconds(),
			"timeout_ms", ev.Timeout.Milliseconds())
		for _, h := range handlers {
			ev := ev
			t.safeInvoke("timeout", ev.JobID, func() { h(ev) })
		}
	}
	return flagged
}

// Cleanup drops terminal jobs whose last update is older than RetentionTTL
// and returns how many were removed.
func (t *Tracker) Cleanup() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.clock.Now().Add(-t.cfg.RetentionTTL)
	removed := 0
	for id, rec := range t.records {
		if rec.job.Status().IsTerminal() && rec.updatedAt.Before(cutoff) {
			delete(t.records, id)
			delete(t.progress, id)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Info("cleaned up tracked jobs", "removed", removed)
	}
	return removed
}

// History returns a copy of a job's lifecycle events.
func (t *Tracker) History(jobID string) ([]LifecycleEvent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[jobID]
	if !ok {
		return nil, false
	}
	return append([]LifecycleEvent(nil), rec.events...), true
}

// Progress returns a job's latest progress.
func (t *Tracker) Progress(jobID string) (ProgressInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.progress[jobID]
	return info, ok
}

// TrackedJob returns the tracker's snapshot of a job.
func (t *Tracker) TrackedJob(jobID string) (*domain.Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[jobID]
	if !ok {
		return nil, false
	}
	return rec.job.Clone(), true
}

// Untrack drops everything held for a job regardless of its status. It is
// used for jobs removed from the queue before finishing.
func (t *Tracker) Untrack(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[jobID]
	delete(t.records, jobID)
	delete(t.progress, jobID)
	return ok
}

// HandleEvent mirrors queue state changes into the tracker: admissions start
// tracking, transitions update status, terminal transitions stop it and
// dequeued jobs are dropped.
func (t *Tracker) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeJobStateChanged && event.Type != events.TypeJobDequeued {
		return nil
	}
	var change events.JobStateChange
	if err := event.UnmarshalPayload(&change); err != nil {
		return fmt.Errorf("failed to decode state change: %w", err)
	}
	if event.Type == events.TypeJobDequeued {
		if t.Untrack(change.JobID) {
			t.logger.Debug("stopped tracking dequeued job", "job_id", change.JobID)
		}
		return nil
	}
	if change.Job == nil {
		return nil
	}

	t.mu.RLock()
	_, tracked := t.records[change.JobID]
	t.mu.RUnlock()

	if !tracked {
		t.StartTracking(change.Job)
	} else {
		var data map[string]any
		if change.Error != nil {
			data = map[string]any{
				"error_type":  change.Error.Type,
				"error":       change.Error.Message,
				"recoverable": change.Error.Recoverable,
			}
		}
		if err := t.applyStatus(change.JobID, change.NewState, change.Reason, data, change.Job); err != nil {
			return err
		}
	}

	if change.NewState.IsTerminal() {
		return t.StopTracking(change.JobID)
	}
	return nil
}

// Start runs the timeout sweep every ProgressUpdateInterval until Stop.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.stopped = false
	t.mu.Unlock()

	ticker := t.clock.NewTicker(t.cfg.ProgressUpdateInterval)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				t.CheckTimeouts()
			}
		}
	}()
	return nil
}

// Stop ends the timeout sweep.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.stopped = true
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
	return nil
}

// HealthCheck reports ErrTrackerStopped after Stop.
func (t *Tracker) HealthCheck(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped {
		return ErrTrackerStopped
	}
	return nil
}

// appendEvent must be called with t.mu held.
func (t *Tracker) appendEvent(rec *record, ev LifecycleEvent) {
	rec.events = append(rec.events, ev)
	if over := len(rec.events) - t.cfg.MaxEventsPerJob; over > 0 {
		rec.events = append([]LifecycleEvent(nil), rec.events[over:]...)
	}
}

func (t *Tracker) safeInvoke(kind, jobID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("tracker handler panicked",
				"handler", kind,
				"job_id", jobID,
				"panic", r)
		}
	}()
	fn()
}

// Ensure Tracker implements events.EventHandler
var _ events.EventHandler = (*Tracker)(nil)
