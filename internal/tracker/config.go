package tracker

import (
	"time"

	"github.com/phrazzld/meetscribe/internal/domain"
)

// Config controls timeout detection and history retention.
type Config struct {
	// ProgressUpdateInterval is the timeout sweep period.
	ProgressUpdateInterval time.Duration

	// DefaultTimeout applies to priorities missing from PriorityTimeouts.
	DefaultTimeout   time.Duration
	PriorityTimeouts map[domain.Priority]time.Duration

	// MaxEventsPerJob bounds each job's history; the oldest entries go first.
	MaxEventsPerJob int

	// RetentionTTL is how long terminal jobs' history survives Cleanup.
	RetentionTTL time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		ProgressUpdateInterval: 5 * time.Second,
		DefaultTimeout:         10 * time.Minute,
		PriorityTimeouts: map[domain.Priority]time.Duration{
			domain.PriorityUrgent: 5 * time.Minute,
			domain.PriorityHigh:   8 * time.Minute,
			domain.PriorityNormal: 10 * time.Minute,
			domain.PriorityLow:    15 * time.Minute,
			domain.PriorityIdle:   30 * time.Minute,
		},
		MaxEventsPerJob: 100,
		RetentionTTL:    24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ProgressUpdateInterval <= 0 {
		c.ProgressUpdateInterval = def.ProgressUpdateInterval
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.PriorityTimeouts == nil {
		c.PriorityTimeouts = def.PriorityTimeouts
	}
	if c.MaxEventsPerJob <= 0 {
		c.MaxEventsPerJob = def.MaxEventsPerJob
	}
	if c.RetentionTTL <= 0 {
		c.RetentionTTL = def.RetentionTTL
	}
	return c
}

// TimeoutFor returns the timeout for a priority.
func (c Config) TimeoutFor(p domain.Priority) time.Duration {
	if d, ok := c.PriorityTimeouts[p]; ok && d > 0 {
		return d
	}
	return c.DefaultTimeout
}
