package queue

import "time"

// sampleWindow bounds the wait and processing time samples kept for averages.
const sampleWindow = 100

// Metrics summarises queue activity.
type Metrics struct {
	TotalEnqueued  int `json:"total_enqueued"`
	TotalCompleted int `json:"total_completed"`
	TotalFailed    int `json:"total_failed"`
	TotalCancelled int `json:"total_cancelled"`
	TotalRetries   int `json:"total_retries"`

	QueuedCount     int `json:"queued_count"`
	ProcessingCount int `json:"processing_count"`

	AverageWaitTime       time.Duration `json:"average_wait_time"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`

	// ThroughputPerHour counts completions in the last hour.
	ThroughputPerHour int `json:"throughput_per_hour"`

	// SuccessRate is completed / (completed + failed) in percent, 100 when
	// nothing has finished yet.
	SuccessRate float64 `json:"success_rate"`

	ResourceUsage Usage `json:"resource_usage"`
}

type rollingMetrics struct {
	enqueued, completed, failed, cancelled, retries int

	waitSamples       []time.Duration
	processingSamples []time.Duration
	completions       []time.Time
}

func newRollingMetrics() *rollingMetrics {
	return &rollingMetrics{}
}

func (r *rollingMetrics) recordEnqueue() { r.enqueued++ }
func (r *rollingMetrics) recordRetry()   { r.retries++ }
func (r *rollingMetrics) recordCancel()  { r.cancelled++ }

func (r *rollingMetrics) recordStart(wait time.Duration) {
	r.waitSamples = appendBounded(r.waitSamples, wait)
}

func (r *rollingMetrics) recordCompletion(at time.Time, processing time.Duration) {
	r.completed++
	r.processingSamples = appendBounded(r.processingSamples, processing)
	r.completions = append(r.completions, at)
	r.trimCompletions(at)
}

// trimCompletions drops completion times an hour or more before now.
func (r *rollingMetrics) trimCompletions(now time.Time) int {
	cutoff := now.Add(-time.Hour)
	kept := r.completions[:0]
	for _, t := range r.completions {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.completions = kept
	return len(kept)
}

func (r *rollingMetrics) recordFailure() {
	r.failed++
}

func (r *rollingMetrics) snapshot(now time.Time, queued, processing int, usage Usage) Metrics {
	throughput := r.trimCompletions(now)

	successRate := 100.0
	if finished := r.completed + r.failed; finished > 0 {
		successRate = float64(r.completed) / float64(finished) * 100
	}

	return Metrics{
		TotalEnqueued:         r.enqueued,
		TotalCompleted:        r.completed,
		TotalFailed:           r.failed,
		TotalCancelled:        r.cancelled,
		TotalRetries:          r.retries,
		QueuedCount:           queued,
		ProcessingCount:       processing,
		AverageWaitTime:       average(r.waitSamples),
		AverageProcessingTime: average(r.processingSamples),
		ThroughputPerHour:     throughput,
		SuccessRate:           successRate,
		ResourceUsage:         usage,
	}
}

func appendBounded(samples []time.Duration, d time.Duration) []time.Duration {
	samples = append(samples, d)
	if len(samples) > sampleWindow {
		samples = samples[len(samples)-sampleWindow:]
	}
	return samples
}

func average(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return total / time.Duration(len(samples))
}
