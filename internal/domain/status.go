package domain

import "fmt"

// JobStatus represents the current state of a job
type JobStatus string

// Possible job status values
const (
	StatusQueued     JobStatus = "queued"
	StatusWaiting    JobStatus = "waiting"
	StatusProcessing JobStatus = "processing"
	StatusPaused     JobStatus = "paused"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
	StatusExpired    JobStatus = "expired"
)

// IsTerminal reports whether no further transition is possible from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// waiting and paused are reachable in the type model only; nothing in the
// queue drives them yet.
var transitions = map[JobStatus][]JobStatus{
	StatusQueued:     {StatusProcessing, StatusCancelled, StatusExpired, StatusWaiting, StatusPaused},
	StatusWaiting:    {StatusQueued, StatusCancelled, StatusExpired},
	StatusPaused:     {StatusQueued, StatusCancelled, StatusExpired},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusQueued},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the job to a new status, enforcing the state machine.
func (j *Job) Transition(to JobStatus) error {
	from := j.Status()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	j.Execution.Status = to
	return nil
}
