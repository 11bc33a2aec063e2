package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/config"
	"github.com/phrazzld/meetscribe/internal/conflict"
	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/events"
	"github.com/phrazzld/meetscribe/internal/notify"
	"github.com/phrazzld/meetscribe/internal/queue"
	"github.com/phrazzld/meetscribe/internal/speech"
	"github.com/phrazzld/meetscribe/internal/storage"
	"github.com/phrazzld/meetscribe/internal/task"
	"github.com/phrazzld/meetscribe/internal/tracker"
	"github.com/robfig/cron/v3"
)

// JobKeyPrefix prefixes the storage key of a persisted job snapshot.
const JobKeyPrefix = "job:"

// ErrAlreadyStarted is returned by Start on a running App.
var ErrAlreadyStarted = errors.New("app already started")

// Option customises New.
type Option func(*options)

type options struct {
	clock     clockwork.Clock
	executor  task.Executor
	transport notify.Transport
	adapters  map[storage.Layer]storage.Adapter
	backup    conflict.BackupSink
}

// WithClock sets the clock shared by every subsystem.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithExecutor replaces the transcription executor. No speech pool is
// created.
func WithExecutor(exec task.Executor) Option {
	return func(o *options) { o.executor = exec }
}

// WithTransport replaces the configured broadcast transport.
func WithTransport(t notify.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithLayerAdapters replaces the configured storage tiers.
func WithLayerAdapters(adapters map[storage.Layer]storage.Adapter) Option {
	return func(o *options) { o.adapters = adapters }
}

// WithBackupSink replaces the configured conflict backup sink.
func WithBackupSink(sink conflict.BackupSink) Option {
	return func(o *options) { o.backup = sink }
}

// App is the background process.
type App struct {
	Emitter   *events.InMemoryEventEmitter
	Queue     *queue.Manager
	Tracker   *tracker.Tracker
	Notifier  *notify.Service
	Storage   *storage.Coordinator
	Conflicts *conflict.Resolver
	Runner    *task.Runner
	// Pool is nil when the executor was supplied or no provider is configured.
	Pool *speech.Pool

	cfg        *config.Config
	clock      clockwork.Clock
	logger     *slog.Logger
	scheduler  *cron.Cron
	components []component
	closers    []io.Closer

	mu      sync.Mutex
	started []component
	running bool
}

// New builds every subsystem from cfg and wires them together. Nothing runs
// until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	a := &App{
		cfg:    cfg,
		clock:  o.clock,
		logger: logger.With("component", "app"),
	}
	if err := a.build(ctx, o, logger); err != nil {
		a.abort(ctx)
		return nil, err
	}
	a.wire()
	if err := a.schedule(); err != nil {
		a.abort(ctx)
		return nil, err
	}
	a.logger.Info("background services initialized",
		"layers", len(a.Storage.Layers()),
		"queue_mode", cfg.Queue.Mode,
		"speech_provider", cfg.Speech.Provider)
	return a, nil
}

func (a *App) build(ctx context.Context, o options, logger *slog.Logger) error {
	cfg := a.cfg

	// storage tiers
	a.Storage = storage.NewCoordinator(storage.Config{
		MemoryTTL:          cfg.Storage.MemoryTTL,
		SweepInterval:      cfg.Storage.SweepInterval,
		TransactionTimeout: cfg.Storage.TransactionTimeout,
	}, a.clock, logger)

	adapters := o.adapters
	if adapters == nil {
		var err error
		if adapters, err = openLayers(ctx, cfg, a.clock, logger); err != nil {
			return fmt.Errorf("failed to open storage layers: %w", err)
		}
	}
	layerCfgs, err := layerConfigs(cfg.Storage.Layers)
	if err != nil {
		return err
	}
	layers := make([]storage.Layer, 0, len(adapters))
	for l, adapter := range adapters {
		if err := a.Storage.RegisterLayer(l, adapter, layerCfgs[l]); err != nil {
			return err
		}
		layers = append(layers, l)
	}
	slices.SortFunc(layers, func(x, y storage.Layer) int { return cmp.Compare(x.Speed(), y.Speed()) })

	// conflicts
	ccfg, err := conflictConfig(cfg.Conflicts, layers)
	if err != nil {
		return err
	}
	backup := o.backup
	if backup == nil {
		if backup, err = newBackupSink(ctx, cfg, a.Storage, logger); err != nil {
			return fmt.Errorf("failed to create conflict backup sink: %w", err)
		}
	}
	a.Conflicts = conflict.NewResolver(ccfg, a.Storage, backup, a.clock, logger)

	// queue, tracker, notifications
	a.Emitter = events.NewInMemoryEventEmitter(logger)
	qcfg, err := queueConfig(cfg.Queue)
	if err != nil {
		return err
	}
	a.Queue = queue.NewManager(qcfg, a.Emitter, a.clock, logger)

	tcfg, err := trackerConfig(cfg.Tracker)
	if err != nil {
		return err
	}
	a.Tracker = tracker.New(tcfg, a.clock, logger)

	ncfg, err := notifyConfig(cfg.Notifications)
	if err != nil {
		return err
	}
	transport := o.transport
	if transport == nil {
		tc, err := newTransport(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create notification transport: %w", err)
		}
		if tc != nil {
			a.closers = append(a.closers, tc)
			transport = tc
		}
	}
	a.Notifier = notify.NewService(ncfg, transport, a.clock, logger)

	// execution
	exec := o.executor
	if exec == nil {
		if exec, a.Pool, err = newExecutor(cfg, a.clock, logger); err != nil {
			return fmt.Errorf("failed to create transcription executor: %w", err)
		}
	}
	a.Runner = task.NewRunner(a.Queue, exec, task.RunnerConfig{
		MaxConcurrent:    cfg.Queue.MaxConcurrentJobs,
		PollInterval:     cfg.Queue.PollInterval,
		ExecutionTimeout: cfg.Queue.ExecutionTimeout,
	}, a.clock, logger)

	// Start order; Stop runs it backwards.
	a.components = []component{
		{"storage", a.Storage},
		{"conflicts", a.Conflicts},
		{"tracker", a.Tracker},
		{"notifications", a.Notifier},
		{"queue", a.Queue},
	}
	if a.Pool != nil {
		a.components = append(a.components, component{"speech_pool", a.Pool})
	}
	a.components = append(a.components, component{"runner", a.Runner})
	return nil
}

// wire connects queue events and runner progress to the other subsystems.
func (a *App) wire() {
	a.Emitter.RegisterHandler(a.Tracker)
	a.Emitter.RegisterHandler(a.Notifier)
	a.Emitter.RegisterHandler(events.HandlerFunc(a.persistJob))

	a.Runner.SetProgressObserver(a.observeProgress)
	a.Runner.SetErrorHandler(func(job *domain.Job, err error) {
		a.logger.Warn("job attempt failed", "job_id", job.ID, "error", err)
	})

	if a.cfg.Tracker.FailTimedOutJobs {
		a.Tracker.OnTimeout(a.failTimedOut)
	}
}

// observeProgress forwards runner progress to the tracker and the notifier.
func (a *App) observeProgress(ctx context.Context, jobID string, percentage float64, stage string, remaining time.Duration) {
	err := a.Tracker.UpdateJobProgress(jobID, tracker.ProgressUpdate{
		Percentage:         percentage,
		Stage:              stage,
		EstimatedRemaining: remaining,
	})
	if err != nil {
		a.logger.Debug("progress for untracked job", "job_id", jobID, "error", err)
	}
	a.Notifier.NotifyJobProgress(ctx, jobID, percentage, stage)
}

// failTimedOut fails a job that ran past its timeout with a recoverable
// timeout error, which cancels its execution and schedules a retry.
func (a *App) failTimedOut(ev tracker.TimeoutEvent) {
	jobErr := domain.NewJobError(domain.ErrorTypeTimeout,
		fmt.Sprintf("job exceeded %s timeout after %s", ev.Timeout, ev.Elapsed.Round(time.Second)), true)
	if err := a.Queue.FailJob(context.Background(), ev.JobID, jobErr); err != nil {
		a.logger.Warn("failed to fail timed out job", "job_id", ev.JobID, "error", err)
		return
	}
	a.logger.Warn("timed out job failed", "job_id", ev.JobID, "timeout", ev.Timeout)
}

// persistJob writes terminal job snapshots under job:<id> with eventual
// consistency.
func (a *App) persistJob(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeJobStateChanged {
		return nil
	}
	var change events.JobStateChange
	if err := event.UnmarshalPayload(&change); err != nil {
		return fmt.Errorf("failed to decode state change: %w", err)
	}
	if change.Job == nil || !change.NewState.IsTerminal() {
		return nil
	}
	res, err := a.Storage.Write(ctx, JobKeyPrefix+change.JobID, change.Job, storage.WriteOptions{Consistency: storage.Eventual})
	if err != nil {
		return fmt.Errorf("failed to persist job %s: %w", change.JobID, err)
	}
	for l, lerr := range res.Failed {
		a.logger.Warn("job snapshot not written to layer", "job_id", change.JobID, "layer", l, "error", lerr)
	}
	return nil
}

// SubmitJob builds a job from req and enqueues it. An unset retry budget
// takes the configured default; an explicit zero disables retries.
func (a *App) SubmitJob(ctx context.Context, req domain.NewJobRequest, cb *queue.Callbacks) (*domain.Job, error) {
	if req.MaxRetries == nil {
		maxRetries := a.cfg.Queue.DefaultMaxRetries
		req.MaxRetries = &maxRetries
	}
	job := domain.NewJob(req, a.clock.Now())
	if cb != nil {
		a.Queue.RegisterCallbacks(job.ID, *cb)
	}
	if err := a.Queue.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Start starts every component in order and then the scheduler. When a
// component fails to start, those already started are stopped.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrAlreadyStarted
	}

	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			a.stopStarted(ctx)
			return fmt.Errorf("failed to start %s: %w", c.name, err)
		}
		a.started = append(a.started, c)
		a.logger.Debug("component started", "name", c.name)
	}
	a.scheduler.Start()
	a.running = true
	a.logger.Info("background services started", "components", len(a.started))
	return nil
}

// Stop stops the scheduler, then every started component in reverse order,
// and finally closes transports. All components are stopped even when some
// fail; the errors are joined.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false

	select {
	case <-a.scheduler.Stop().Done():
	case <-ctx.Done():
		a.logger.Warn("scheduled jobs still running at shutdown")
	}
	err := errors.Join(a.stopStarted(ctx), a.close())
	a.logger.Info("background services stopped")
	return err
}

// stopStarted must be called with a.mu held.
func (a *App) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(a.started) - 1; i >= 0; i-- {
		c := a.started[i]
		if err := c.Stop(ctx); err != nil {
			a.logger.Error("component failed to stop", "name", c.name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", c.name, err))
		}
	}
	a.started = nil
	return errors.Join(errs...)
}

// abort releases what a failed New opened.
func (a *App) abort(ctx context.Context) {
	if a.Storage != nil {
		_ = a.Storage.Stop(ctx)
	}
	_ = a.close()
}

func (a *App) close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Health checks every component concurrently.
func (a *App) Health(ctx context.Context) HealthReport {
	return checkAll(ctx, a.components, a.clock.Now())
}

// Running reports whether Start has succeeded and Stop has not been called.
func (a *App) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
