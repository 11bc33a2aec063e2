package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/domain"
	"golang.org/x/sync/semaphore"
)

// ErrRunnerNotRunning is returned by HealthCheck before Start or after Stop.
var ErrRunnerNotRunning = errors.New("runner is not running")

// RunnerConfig holds configuration for the job runner
type RunnerConfig struct {
	// MaxConcurrent bounds how many jobs execute at once. The queue's own
	// resource ledger may admit fewer.
	MaxConcurrent int

	// PollInterval is how often the runner asks the queue for work when it
	// has not been woken.
	PollInterval time.Duration

	// ExecutionTimeout caps one attempt. Zero means no cap; the tracker's
	// timeout sweep still flags long-running jobs.
	ExecutionTimeout time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxConcurrent: 3,
		PollInterval:  time.Second,
	}
}

// Runner dispatches queued jobs to an Executor.
type Runner struct {
	queue    JobQueue
	executor Executor
	config   RunnerConfig
	sem      *semaphore.Weighted
	clock    clockwork.Clock
	logger   *slog.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancelFunc context.CancelFunc
	loop       sync.WaitGroup
	jobs       sync.WaitGroup
	errHandler func(job *domain.Job, err error)
	observer   ProgressObserver
}

// NewRunner creates a new Runner
func NewRunner(queue JobQueue, executor Executor, config RunnerConfig, clock clockwork.Clock, logger *slog.Logger) *Runner {
	def := DefaultRunnerConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger = logger.With("component", "job_runner")

	return &Runner{
		queue:    queue,
		executor: executor,
		config:   config,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrent)),
		clock:    clock,
		logger:   logger,
		errHandler: func(job *domain.Job, err error) {
			// Default error handler just logs the error
			logger.Error("job attempt failed",
				"job_id", job.ID,
				"error", err)
		},
	}
}

// SetErrorHandler allows setting a custom handler called after every failed
// attempt, once the failure has been reported to the queue.
func (r *Runner) SetErrorHandler(handler func(job *domain.Job, err error)) {
	r.mu.Lock()
	r.errHandler = handler
	r.mu.Unlock()
}

// SetProgressObserver registers a function receiving every progress report.
func (r *Runner) SetProgressObserver(observer ProgressObserver) {
	r.mu.Lock()
	r.observer = observer
	r.mu.Unlock()
}

// Start begins the dispatch loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelFunc != nil {
		return nil
	}
	r.ctx, r.cancelFunc = context.WithCancel(context.WithoutCancel(ctx))

	r.loop.Add(1)
	go r.dispatchLoop(r.ctx)
	r.logger.Info("job runner started",
		"max_concurrent", r.config.MaxConcurrent,
		"poll_interval", r.config.PollInterval)
	return nil
}

// Stop cancels running executions and waits for the runner to wind down or
// ctx to expire. Cancelled attempts are not reported to the queue, so their
// jobs stay in processing; the queue manager's shutdown requeues only
// retrying jobs.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancelFunc
	r.cancelFunc = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		r.loop.Wait()
		r.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("job runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runner did not stop in time: %w", ctx.Err())
	}
}

// HealthCheck fails when the runner is not running.
func (r *Runner) HealthCheck(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelFunc == nil {
		return ErrRunnerNotRunning
	}
	return nil
}

func (r *Runner) dispatchLoop(ctx context.Context) {
	defer r.loop.Done()

	ticker := r.clock.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.queue.WakeChan():
			r.dispatch(ctx)
		case <-ticker.Chan():
			r.dispatch(ctx)
		}
	}
}

// dispatch starts jobs until the runner is saturated or the queue has nothing
// it can admit.
func (r *Runner) dispatch(ctx context.Context) {
	for ctx.Err() == nil {
		if !r.sem.TryAcquire(1) {
			return
		}
		job := r.queue.GetNextJob(ctx)
		if job == nil {
			r.sem.Release(1)
			return
		}
		r.jobs.Add(1)
		go r.run(ctx, job)
	}
}

// run executes one attempt and reports the outcome.
func (r *Runner) run(ctx context.Context, job *domain.Job) {
	defer r.jobs.Done()
	defer r.sem.Release(1)

	logger := r.logger.With(
		"job_id", job.ID,
		"priority", job.Priority,
		"attempt", job.Execution.RetryCount+1,
	)

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if r.config.ExecutionTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, r.config.ExecutionTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := r.queue.BindExecution(job.ID, cancel); err != nil {
		logger.Warn("job left processing before execution started", "error", err)
		return
	}

	logger.Info("executing job")
	result, err := r.execute(jobCtx, job)

	switch {
	case ctx.Err() != nil:
		logger.Info("execution interrupted by runner shutdown")
		return
	case errors.Is(jobCtx.Err(), context.Canceled):
		logger.Info("execution cancelled, discarding outcome")
		return
	}

	if err != nil {
		jobErr := classify(err, jobCtx)
		if failErr := r.queue.FailJob(ctx, job.ID, jobErr); failErr != nil {
			logger.Error("failed to report job failure", "error", failErr)
		}
		r.mu.Lock()
		handler := r.errHandler
		r.mu.Unlock()
		if handler != nil {
			handler(job, jobErr)
		}
		return
	}

	if err := r.queue.CompleteJob(ctx, job.ID, result); err != nil {
		logger.Error("failed to report job completion", "error", err)
		return
	}
	logger.Info("job completed successfully")
}

// execute calls the executor, converting a panic into an internal error.
func (r *Runner) execute(ctx context.Context, job *domain.Job) (result json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("executor panicked", "job_id", job.ID, "panic", p)
			err = domain.NewJobError(domain.ErrorTypeInternal, fmt.Sprintf("executor panicked: %v", p), false)
		}
	}()

	progress := func(percentage float64, stage string, remaining time.Duration) {
		if err := r.queue.ReportProgress(ctx, job.ID, percentage, stage, remaining); err != nil {
			return
		}
		r.mu.Lock()
		observer := r.observer
		r.mu.Unlock()
		if observer != nil {
			observer(ctx, job.ID, percentage, stage, remaining)
		}
	}
	return r.executor.Execute(ctx, job, progress)
}

// classify turns an executor error into the JobError reported to the queue.
func classify(err error, jobCtx context.Context) *domain.JobError {
	var jobErr *domain.JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		je := domain.NewJobError(domain.ErrorTypeTimeout, "execution timed out", true)
		je.Cause = err
		return je
	}
	return domain.WrapJobError(err, domain.ErrorTypeExternalAPI, true)
}
