package queue

import (
	"fmt"
	"time"
)

// SelectionMode determines how GetNextJob picks among queued jobs.
type SelectionMode string

// Selection modes
const (
	// ModePriority scans buckets urgent → idle and takes the first head.
	ModePriority SelectionMode = "priority"
	// ModeFIFO takes the job with the earliest QueuedAt, ignoring priority.
	ModeFIFO SelectionMode = "fifo"
	// ModeRoundRobin rotates the starting bucket after every selection.
	ModeRoundRobin SelectionMode = "round_robin"
	// ModeShortestJobFirst takes the job with the smallest estimated remaining duration.
	ModeShortestJobFirst SelectionMode = "shortest_job_first"
)

// ParseSelectionMode converts a string to a SelectionMode.
func ParseSelectionMode(s string) (SelectionMode, error) {
	switch m := SelectionMode(s); m {
	case ModePriority, ModeFIFO, ModeRoundRobin, ModeShortestJobFirst:
		return m, nil
	default:
		return "", fmt.Errorf("unknown selection mode %q", s)
	}
}

// Config holds queue sizing, resource ceilings and retry policy.
type Config struct {
	// MaxSize bounds queued jobs (all buckets plus jobs waiting on a retry timer).
	MaxSize int

	// Mode selects the job selection policy.
	Mode SelectionMode

	// Resource ceilings enforced by the ResourceLedger
	MaxConcurrentJobs int
	MaxMemoryPerJob   int
	MaxTotalMemory    int
	MaxAPICalls       int

	// AllocationTTL is recorded as the allocation's expiry; informational.
	AllocationTTL time.Duration

	// RetentionLimit bounds the completed, failed and cancelled maps.
	RetentionLimit int

	// BaseRetryDelay and MaxRetryDelay define the exponential backoff.
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration

	// DefaultJobDuration is the shortest_job_first estimate for jobs without
	// an estimated completion time.
	DefaultJobDuration time.Duration

	// SchedulerEnabled makes EnqueueJob wake the dispatcher.
	SchedulerEnabled bool
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		MaxSize:            100,
		Mode:               ModePriority,
		MaxConcurrentJobs:  3,
		MaxMemoryPerJob:    256,
		MaxTotalMemory:     1024,
		MaxAPICalls:        10,
		AllocationTTL:      30 * time.Minute,
		RetentionLimit:     50,
		BaseRetryDelay:     time.Second,
		MaxRetryDelay:      30 * time.Second,
		DefaultJobDuration: 60 * time.Second,
		SchedulerEnabled:   true,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxSize <= 0 {
		c.MaxSize = def.MaxSize
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if c.MaxMemoryPerJob <= 0 {
		c.MaxMemoryPerJob = def.MaxMemoryPerJob
	}
	if c.MaxTotalMemory <= 0 {
		c.MaxTotalMemory = def.MaxTotalMemory
	}
	if c.MaxAPICalls <= 0 {
		c.MaxAPICalls = def.MaxAPICalls
	}
	if c.AllocationTTL <= 0 {
		c.AllocationTTL = def.AllocationTTL
	}
	if c.RetentionLimit <= 0 {
		c.RetentionLimit = def.RetentionLimit
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = def.BaseRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	if c.DefaultJobDuration <= 0 {
		c.DefaultJobDuration = def.DefaultJobDuration
	}
	return c
}

// RetryDelay returns min(base * 2^retryCount, max).
func RetryDelay(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 31 {
		return max
	}
	delay := base * time.Duration(1<<uint(retryCount))
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
