package tracker

import (
	"time"

	"github.com/phrazzld/meetscribe/internal/domain"
)

// Statistics aggregates over every job the tracker still holds.
type Statistics struct {
	TotalJobs int                      `json:"total_jobs"`
	ByStatus  map[domain.JobStatus]int `json:"by_status"`

	// SuccessRate is completed / (completed+failed+cancelled+expired) in
	// percent, 100 when nothing has finished.
	SuccessRate float64 `json:"success_rate"`

	// AverageResponseTime is mean CompletedAt-CreatedAt over completed jobs.
	AverageResponseTime time.Duration `json:"average_response_time"`

	// HourlyThroughput counts jobs completed in the last hour.
	HourlyThroughput int `json:"hourly_throughput"`

	TimedOutJobs int `json:"timed_out_jobs"`
}

// Statistics computes aggregate statistics.
func (t *Tracker) Statistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.clock.Now()
	stats := Statistics{
		TotalJobs: len(t.records),
		ByStatus:  make(map[domain.JobStatus]int),
	}

	var totalResponse time.Duration
	for _, rec := range t.records {
		status := rec.job.Status()
		stats.ByStatus[status]++
		if rec.timeoutFlagged {
			stats.TimedOutJobs++
		}
		if status != domain.StatusCompleted {
			continue
		}
		exec := rec.job.Execution
		totalResponse += exec.CompletedAt.Sub(exec.CreatedAt)
		if now.Sub(exec.CompletedAt) <= time.Hour {
			stats.HourlyThroughput++
		}
	}

	completed := stats.ByStatus[domain.StatusCompleted]
	finished := completed +
		stats.ByStatus[domain.StatusFailed] +
		stats.ByStatus[domain.StatusCancelled] +
		stats.ByStatus[domain.StatusExpired]

	stats.SuccessRate = 100
	if finished > 0 {
		stats.SuccessRate = float64(completed) / float64(finished) * 100
	}
	if completed > 0 {
		stats.AverageResponseTime = totalResponse / time.Duration(completed)
	}
	return stats
}
