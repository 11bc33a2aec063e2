package queue

import (
	"sort"
	"time"

	"github.com/phrazzld/meetscribe/internal/domain"
)

// Location identifies which part of the PriorityStore holds a job.
type Location string

// Job locations. A job is in exactly one of them at a time.
const (
	LocationNone       Location = ""
	LocationQueued     Location = "queued"
	LocationRetrying   Location = "retrying"
	LocationProcessing Location = "processing"
	LocationCompleted  Location = "completed"
	LocationFailed     Location = "failed"
	LocationCancelled  Location = "cancelled"
)

// PriorityStore holds jobs by location and owns their status transitions.
// It is not safe for concurrent use; the Manager serializes access.
type PriorityStore struct {
	buckets    map[domain.Priority][]*domain.Job
	retrying   map[string]*domain.Job
	processing map[string]*domain.Job
	completed  map[string]*domain.Job
	failed     map[string]*domain.Job
	cancelled  map[string]*domain.Job
	retention  int
}

// NewPriorityStore creates an empty store keeping at most retention jobs in
// each terminal map.
func NewPriorityStore(retention int) *PriorityStore {
	s := &PriorityStore{
		buckets:    make(map[domain.Priority][]*domain.Job, len(domain.Priorities)),
		retrying:   make(map[string]*domain.Job),
		processing: make(map[string]*domain.Job),
		completed:  make(map[string]*domain.Job),
		failed:     make(map[string]*domain.Job),
		cancelled:  make(map[string]*domain.Job),
		retention:  retention,
	}
	for _, p := range domain.Priorities {
		s.buckets[p] = nil
	}
	return s
}

// Append adds a queued job to the tail of its priority bucket.
func (s *PriorityStore) Append(job *domain.Job) {
	s.buckets[job.Priority] = append(s.buckets[job.Priority], job)
}

// QueuedCount counts jobs in buckets plus jobs waiting on a retry timer.
func (s *PriorityStore) QueuedCount() int {
	n := len(s.retrying)
	for _, bucket := range s.buckets {
		n += len(bucket)
	}
	return n
}

// Bucket returns the jobs queued at priority p, in FIFO order.
func (s *PriorityStore) Bucket(p domain.Priority) []*domain.Job {
	return s.buckets[p]
}

// Locate finds a job and reports where it is held.
func (s *PriorityStore) Locate(jobID string) (*domain.Job, Location) {
	for _, bucket := range s.buckets {
		for _, job := range bucket {
			if job.ID == jobID {
				return job, LocationQueued
			}
		}
	}
	if job, ok := s.retrying[jobID]; ok {
		return job, LocationRetrying
	}
	if job, ok := s.processing[jobID]; ok {
		return job, LocationProcessing
	}
	if job, ok := s.completed[jobID]; ok {
		return job, LocationCompleted
	}
	if job, ok := s.failed[jobID]; ok {
		return job, LocationFailed
	}
	if job, ok := s.cancelled[jobID]; ok {
		return job, LocationCancelled
	}
	return nil, LocationNone
}

// removeQueued deletes a job from its bucket, preserving the order of the rest.
func (s *PriorityStore) removeQueued(jobID string) (*domain.Job, bool) {
	for p, bucket := range s.buckets {
		for i, job := range bucket {
			if job.ID != jobID {
				continue
			}
			s.buckets[p] = append(bucket[:i:i], bucket[i+1:]...)
			return job, true
		}
	}
	return nil, false
}

// Remove deletes a non-terminal job from wherever it is held.
func (s *PriorityStore) Remove(jobID string) (*domain.Job, Location) {
	if job, ok := s.removeQueued(jobID); ok {
		return job, LocationQueued
	}
	if job, ok := s.retrying[jobID]; ok {
		delete(s.retrying, jobID)
		return job, LocationRetrying
	}
	if job, ok := s.processing[jobID]; ok {
		delete(s.processing, jobID)
		return job, LocationProcessing
	}
	return nil, LocationNone
}

// StartProcessing moves a queued job into the processing map.
func (s *PriorityStore) StartProcessing(job *domain.Job, now time.Time) error {
	if err := job.Transition(domain.StatusProcessing); err != nil {
		return err
	}
	s.removeQueued(job.ID)
	job.Execution.StartedAt = now
	s.processing[job.ID] = job
	return nil
}

// Complete moves a processing job to the completed map.
func (s *PriorityStore) Complete(job *domain.Job, now time.Time) error {
	if err := job.Transition(domain.StatusCompleted); err != nil {
		return err
	}
	delete(s.processing, job.ID)
	job.Execution.CompletedAt = now
	s.completed[job.ID] = job
	trim(s.completed, s.retention)
	return nil
}

// Fail moves a processing job to the failed map.
func (s *PriorityStore) Fail(job *domain.Job, now time.Time) error {
	if err := job.Transition(domain.StatusFailed); err != nil {
		return err
	}
	delete(s.processing, job.ID)
	job.Execution.CompletedAt = now
	s.failed[job.ID] = job
	trim(s.failed, s.retention)
	return nil
}

// Retry moves a processing job back to queued status and parks it until
// Release is called.
func (s *PriorityStore) Retry(job *domain.Job) error {
	if err := job.Transition(domain.StatusQueued); err != nil {
		return err
	}
	delete(s.processing, job.ID)
	job.Execution.StartedAt = time.Time{}
	s.retrying[job.ID] = job
	return nil
}

// Release moves a parked retry into the tail of its bucket.
func (s *PriorityStore) Release(jobID string, now time.Time) (*domain.Job, bool) {
	job, ok := s.retrying[jobID]
	if !ok {
		return nil, false
	}
	delete(s.retrying, jobID)
	job.Execution.QueuedAt = now
	s.Append(job)
	return job, true
}

// ReleaseAll moves every parked retry into its bucket.
func (s *PriorityStore) ReleaseAll(now time.Time) []string {
	ids := make([]string, 0, len(s.retrying))
	for id := range s.retrying {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.Release(id, now)
	}
	return ids
}

// Cancel moves a queued, retrying or processing job to the cancelled map.
func (s *PriorityStore) Cancel(job *domain.Job, now time.Time) error {
	if err := job.Transition(domain.StatusCancelled); err != nil {
		return err
	}
	s.Remove(job.ID)
	job.Execution.CompletedAt = now
	s.cancelled[job.ID] = job
	trim(s.cancelled, s.retention)
	return nil
}

// Queued returns every queued job in priority then FIFO order.
func (s *PriorityStore) Queued() []*domain.Job {
	var out []*domain.Job
	for _, p := range domain.Priorities {
		out = append(out, s.buckets[p]...)
	}
	return out
}

// Retrying returns the parked retries sorted by ID.
func (s *PriorityStore) Retrying() []*domain.Job { return sortedByID(s.retrying) }

// Processing returns processing jobs sorted by ID.
func (s *PriorityStore) Processing() []*domain.Job { return sortedByID(s.processing) }

// Completed returns retained completed jobs, most recent first.
func (s *PriorityStore) Completed() []*domain.Job { return byCompletion(s.completed) }

// Failed returns retained failed jobs, most recent first.
func (s *PriorityStore) Failed() []*domain.Job { return byCompletion(s.failed) }

// Cancelled returns retained cancelled jobs, most recent first.
func (s *PriorityStore) Cancelled() []*domain.Job { return byCompletion(s.cancelled) }

// ProcessingCount returns the number of processing jobs.
func (s *PriorityStore) ProcessingCount() int { return len(s.processing) }

func sortedByID(m map[string]*domain.Job) []*domain.Job {
	out := make([]*domain.Job, 0, len(m))
	for _, job := range m {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func byCompletion(m map[string]*domain.Job) []*domain.Job {
	out := make([]*domain.Job, 0, len(m))
	for _, job := range m {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Execution.CompletedAt.After(out[j].Execution.CompletedAt)
	})
	return out
}

// trim keeps the limit most recently completed jobs.
func trim(m map[string]*domain.Job, limit int) {
	if limit <= 0 || len(m) <= limit {
		return
	}
	ordered := byCompletion(m)
	for _, job := range ordered[limit:] {
		delete(m, job.ID)
	}
}
