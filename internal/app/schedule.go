package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// schedule registers the maintenance sweeps. Empty expressions disable a
// sweep. A sweep still running when its next tick arrives is skipped.
func (a *App) schedule() error {
	logger := cronLogger{logger: a.logger.With("component", "scheduler")}
	a.scheduler = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	sweeps := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"conflict_detection", a.cfg.Schedules.ConflictDetection, a.detectConflicts},
		{"tracker_cleanup", a.cfg.Schedules.TrackerCleanup, a.cleanupTracker},
		{"health_check", a.cfg.Schedules.HealthCheck, a.logHealth},
	}
	for _, s := range sweeps {
		if s.spec == "" {
			continue
		}
		run := s.run
		if _, err := a.scheduler.AddFunc(s.spec, func() { run(context.Background()) }); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", s.name, s.spec, err)
		}
		a.logger.Debug("maintenance sweep scheduled", "sweep", s.name, "schedule", s.spec)
	}
	return nil
}

func (a *App) detectConflicts(ctx context.Context) {
	found, err := a.Conflicts.DetectConflicts(ctx)
	if err != nil {
		a.logger.Error("conflict detection failed", "error", err)
		return
	}
	if len(found) > 0 {
		a.logger.Info("conflict detection found new conflicts",
			"new_conflicts", len(found),
			"active_conflicts", len(a.Conflicts.GetActiveConflicts()))
	}
}

func (a *App) cleanupTracker(ctx context.Context) {
	if removed := a.Tracker.Cleanup(); removed > 0 {
		a.logger.Info("tracker history cleaned up", "removed", removed)
	}
}

func (a *App) logHealth(ctx context.Context) {
	report := a.Health(ctx)
	if report.Healthy {
		return
	}
	for name, h := range report.Components {
		if h.Status != StatusHealthy {
			a.logger.Warn("component unhealthy", "name", name, "error", h.Error)
		}
	}
}
