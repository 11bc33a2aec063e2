package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/meetscribe/internal/api/shared"
	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/platform/logger"
	"github.com/phrazzld/meetscribe/internal/queue"
	"github.com/phrazzld/meetscribe/internal/tracker"
)

// JobSubmitter creates and enqueues transcription jobs.
type JobSubmitter interface {
	SubmitJob(ctx context.Context, req domain.NewJobRequest, cb *queue.Callbacks) (*domain.Job, error)
}

// JobQueue is the part of the queue manager exposed over HTTP.
type JobQueue interface {
	DequeueJob(ctx context.Context, jobID string) (*domain.Job, error)
	CancelJob(ctx context.Context, jobID string) error
	GetJob(jobID string) (*domain.Job, queue.Location, error)
	GetState() queue.State
	GetMetrics() queue.Metrics
	PauseProcessing()
	ResumeProcessing()
}

// JobTracker reports tracked job progress and aggregate statistics.
type JobTracker interface {
	Progress(jobID string) (tracker.ProgressInfo, bool)
	Statistics() tracker.Statistics
}

// CreateJobRequest is the body of POST /v1/jobs.
type CreateJobRequest struct {
	AudioURL   string   `json:"audio_url" validate:"required,url"`
	Language   string   `json:"language,omitempty" validate:"omitempty,max=35"`
	Priority   string   `json:"priority,omitempty" validate:"omitempty,oneof=urgent high normal low idle"`
	MaxRetries *int     `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=20"`
	Source     string   `json:"source,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	Tags       []string `json:"tags,omitempty" validate:"max=20,dive,max=64"`
}

// JobResponse describes a job and where it is in the queue.
type JobResponse struct {
	Job      *domain.Job           `json:"job"`
	Location queue.Location        `json:"location"`
	Progress *tracker.ProgressInfo `json:"progress,omitempty"`
}

// QueueControlResponse is returned by pause and resume.
type QueueControlResponse struct {
	Paused bool `json:"paused"`
}

// JobHandler handles job and queue requests.
type JobHandler struct {
	submitter JobSubmitter
	queue     JobQueue
	tracker   JobTracker
	logger    *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(submitter JobSubmitter, q JobQueue, t JobTracker, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		submitter: submitter,
		queue:     q,
		tracker:   t,
		logger:    logger.With("component", "job_handler"),
	}
}

// CreateJob handles POST /v1/jobs.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, err, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	job, err := h.submitter.SubmitJob(r.Context(), domain.NewJobRequest{
		AudioURL:   req.AudioURL,
		Language:   req.Language,
		Priority:   domain.Priority(req.Priority),
		MaxRetries: req.MaxRetries,
		Metadata: domain.JobMetadata{
			Source:    req.Source,
			SessionID: req.SessionID,
			Tags:      req.Tags,
		},
	}, nil)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContext(r.Context()).Info("job submitted",
		"job_id", job.ID,
		"priority", job.Priority)
	shared.RespondWithJSON(w, r, http.StatusAccepted, JobResponse{Job: job, Location: queue.LocationQueued})
}

// GetJob handles GET /v1/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, loc, err := h.queue.GetJob(id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	resp := JobResponse{Job: job, Location: loc}
	if p, ok := h.tracker.Progress(id); ok {
		resp.Progress = &p
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// DeleteJob handles DELETE /v1/jobs/{id}: the job is removed from the queue
// without a terminal status.
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if _, err := h.queue.DequeueJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelJob handles POST /v1/jobs/{id}/cancel.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.queue.CancelJob(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	job, loc, err := h.queue.GetJob(id)
	if err != nil {
		// Cancelled and already evicted from retention.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobResponse{Job: job, Location: loc})
}

// QueueState handles GET /v1/queue/state.
func (h *JobHandler) QueueState(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.queue.GetState())
}

// QueueMetrics handles GET /v1/queue/metrics.
func (h *JobHandler) QueueMetrics(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.queue.GetMetrics())
}

// PauseQueue handles POST /v1/queue/pause.
func (h *JobHandler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	h.queue.PauseProcessing()
	logger.FromContext(r.Context()).Info("queue processing paused")
	shared.RespondWithJSON(w, r, http.StatusOK, QueueControlResponse{Paused: true})
}

// ResumeQueue handles POST /v1/queue/resume.
func (h *JobHandler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.queue.ResumeProcessing()
	logger.FromContext(r.Context()).Info("queue processing resumed")
	shared.RespondWithJSON(w, r, http.StatusOK, QueueControlResponse{Paused: false})
}

// JobStats handles GET /v1/jobs/stats.
func (h *JobHandler) JobStats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.tracker.Statistics())
}
