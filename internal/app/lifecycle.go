package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Lifecycle is implemented by every long-lived subsystem.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

type component struct {
	name string
	Lifecycle
}

// Health status values
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// ComponentHealth is one subsystem's health.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthReport aggregates component health. Healthy is false when any
// component failed its check.
type HealthReport struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// checkAll runs every component's HealthCheck concurrently. A failing check
// never cancels the others.
func checkAll(ctx context.Context, components []component, now time.Time) HealthReport {
	report := HealthReport{
		Healthy:    true,
		Components: make(map[string]ComponentHealth, len(components)),
		CheckedAt:  now,
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range components {
		g.Go(func() error {
			h := ComponentHealth{Status: StatusHealthy}
			if err := c.HealthCheck(ctx); err != nil {
				h = ComponentHealth{Status: StatusUnhealthy, Error: err.Error()}
			}
			mu.Lock()
			report.Components[c.name] = h
			if h.Status != StatusHealthy {
				report.Healthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}
