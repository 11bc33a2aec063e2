package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/speech"
)

// Common errors
var (
	ErrNilPool   = errors.New("speech client pool cannot be nil")
	ErrNilLogger = errors.New("logger cannot be nil")
)

// ClientPool hands out speech clients. *speech.Pool satisfies it.
type ClientPool interface {
	Acquire(ctx context.Context) (speech.Client, func(healthy bool), error)
}

// Progress milestones reported around the speech client's own progress,
// which is scaled into the [transcribeStart, transcribeEnd] band.
const (
	progressConnecting = 5.0
	transcribeStart    = 10.0
	transcribeEnd      = 95.0
)

// TranscriptionExecutor runs transcription jobs against a pool of speech
// clients. The job result is the JSON-encoded speech.Transcript.
type TranscriptionExecutor struct {
	pool   ClientPool
	logger *slog.Logger
}

// NewTranscriptionExecutor creates a new TranscriptionExecutor
func NewTranscriptionExecutor(pool ClientPool, logger *slog.Logger) (*TranscriptionExecutor, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	return &TranscriptionExecutor{
		pool:   pool,
		logger: logger.With("task_type", domain.JobTypeTranscription),
	}, nil
}

// Execute transcribes job.AudioURL. It acquires a client, streams progress
// and releases the client as unhealthy after any failure.
func (e *TranscriptionExecutor) Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error) {
	logger := e.logger.With("job_id", job.ID)

	if job.AudioURL == "" {
		return nil, domain.NewJobError(domain.ErrorTypeValidation, speech.ErrEmptyAudio.Error(), false)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("task cancelled by context: %w", err)
	}

	progress(progressConnecting, "connecting", 0)
	client, release, err := e.pool.Acquire(ctx)
	if err != nil {
		logger.Warn("failed to acquire speech client", "error", err)
		je := domain.NewJobError(domain.ErrorTypeResourceExhausted, "no speech client available", true)
		je.Cause = err
		return nil, je
	}

	healthy := false
	defer func() { release(healthy) }()

	progress(transcribeStart, "transcribing", 0)
	req := speech.Request{
		JobID:    job.ID,
		AudioURL: job.AudioURL,
		Language: job.Language,
	}
	transcript, err := client.StartTranscription(ctx, req, func(pct float64, stage string) {
		scaled := transcribeStart + (transcribeEnd-transcribeStart)*clampPercent(pct)/100
		progress(scaled, stage, 0)
	})
	if err != nil {
		if ctx.Err() != nil {
			if stopErr := client.StopTranscription(context.WithoutCancel(ctx)); stopErr != nil {
				logger.Warn("failed to stop transcription", "error", stopErr)
			}
			return nil, fmt.Errorf("transcription interrupted: %w", ctx.Err())
		}
		logger.Error("transcription failed", "error", err)
		return nil, classifySpeechError(err)
	}
	healthy = true

	result, err := json.Marshal(transcript)
	if err != nil {
		return nil, domain.WrapJobError(fmt.Errorf("failed to encode transcript: %w", err), domain.ErrorTypeInternal, false)
	}

	progress(100, "completed", 0)
	logger.Info("transcription finished",
		"language", transcript.Language,
		"segments", len(transcript.Segments),
		"chars", len(transcript.Text))
	return result, nil
}

func classifySpeechError(err error) error {
	switch {
	case errors.Is(err, speech.ErrEmptyAudio):
		return domain.WrapJobError(err, domain.ErrorTypeValidation, false)
	case errors.Is(err, speech.ErrTransientError), errors.Is(err, speech.ErrNotConnected):
		return domain.WrapJobError(err, domain.ErrorTypeExternalAPI, true)
	case errors.Is(err, speech.ErrTranscription):
		return domain.WrapJobError(err, domain.ErrorTypeExternalAPI, false)
	default:
		return err
	}
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
