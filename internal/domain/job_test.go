package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewJob(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	maxRetries := 2
	job := NewJob(NewJobRequest{
		AudioURL:   "https://contoso.sharepoint.com/recording.mp4",
		MaxRetries: &maxRetries,
	}, now)

	if job.ID == "" {
		t.Fatal("Expected non-empty job ID")
	}
	if job.Priority != PriorityNormal {
		t.Errorf("Expected default priority %s, got %s", PriorityNormal, job.Priority)
	}
	if job.Status() != StatusQueued {
		t.Errorf("Expected status %s, got %s", StatusQueued, job.Status())
	}
	if !job.Execution.CreatedAt.Equal(now) {
		t.Errorf("Expected CreatedAt %v, got %v", now, job.Execution.CreatedAt)
	}
	if job.Execution.MaxRetries != 2 {
		t.Errorf("Expected MaxRetries 2, got %d", job.Execution.MaxRetries)
	}
	if !job.Dependencies.AzureAPI {
		t.Error("Expected transcription jobs to depend on the speech API")
	}
}

func TestPriorityRank(t *testing.T) {
	t.Parallel()
	for i, p := range Priorities {
		if p.Rank() != i {
			t.Errorf("Expected rank %d for %s, got %d", i, p, p.Rank())
		}
	}
	if Priority("bogus").Valid() {
		t.Error("Expected unknown priority to be invalid")
	}
	if _, err := ParsePriority("bogus"); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("Expected ErrInvalidPriority, got %v", err)
	}
}

func TestTransition(t *testing.T) {
	t.Parallel()
	job := NewJob(NewJobRequest{AudioURL: "https://example.com/a.wav"}, time.Now())

	if err := job.Transition(StatusProcessing); err != nil {
		t.Fatalf("Expected queued -> processing to succeed, got %v", err)
	}
	if err := job.Transition(StatusQueued); err != nil {
		t.Fatalf("Expected processing -> queued (retry) to succeed, got %v", err)
	}
	if err := job.Transition(StatusProcessing); err != nil {
		t.Fatalf("Expected queued -> processing to succeed, got %v", err)
	}
	if err := job.Transition(StatusCompleted); err != nil {
		t.Fatalf("Expected processing -> completed to succeed, got %v", err)
	}

	for _, next := range []JobStatus{StatusQueued, StatusProcessing, StatusFailed} {
		if err := job.Transition(next); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected terminal state to reject %s, got %v", next, err)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()
	terminal := map[JobStatus]bool{
		StatusQueued:     false,
		StatusWaiting:    false,
		StatusProcessing: false,
		StatusPaused:     false,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusCancelled:  true,
		StatusExpired:    true,
	}
	for status, want := range terminal {
		if status.IsTerminal() != want {
			t.Errorf("IsTerminal(%s) = %v, want %v", status, !want, want)
		}
	}
}

func TestClone(t *testing.T) {
	t.Parallel()
	job := NewJob(NewJobRequest{
		AudioURL: "https://example.com/a.wav",
		Metadata: JobMetadata{Tags: []string{"teams"}},
	}, time.Now())

	clone := job.Clone()
	clone.Execution.Status = StatusFailed
	clone.Execution.Metadata.Tags[0] = "changed"

	if job.Status() != StatusQueued {
		t.Error("Expected clone mutation not to affect the original status")
	}
	if job.Execution.Metadata.Tags[0] != "teams" {
		t.Error("Expected clone mutation not to affect the original tags")
	}
}

func TestWrapJobError(t *testing.T) {
	t.Parallel()
	original := NewJobError(ErrorTypeTimeout, "took too long", true)
	if got := WrapJobError(original, ErrorTypeInternal, false); got != original {
		t.Error("Expected an existing JobError to be returned unchanged")
	}

	plain := errors.New("connection reset")
	wrapped := WrapJobError(plain, ErrorTypeExternalAPI, true)
	if wrapped.Type != ErrorTypeExternalAPI || !wrapped.Recoverable {
		t.Errorf("Unexpected wrapped error: %+v", wrapped)
	}
	if !errors.Is(wrapped, plain) {
		t.Error("Expected wrapped error to unwrap to its cause")
	}
	if wrapped.Severity != SeverityMedium {
		t.Errorf("Expected default severity medium, got %s", wrapped.Severity)
	}
	if WrapJobError(nil, ErrorTypeInternal, false) != nil {
		t.Error("Expected nil for nil error")
	}
}
