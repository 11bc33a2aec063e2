package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apimiddleware "github.com/phrazzld/meetscribe/internal/api/middleware"
)

// Token scopes checked per route group
const (
	ScopeJobs      = "jobs"
	ScopeStorage   = "storage"
	ScopeConflicts = "conflicts"
)

// Services are the dependencies of the HTTP boundary.
type Services struct {
	Jobs      JobSubmitter
	Queue     JobQueue
	Tracker   JobTracker
	Storage   StorageService
	Conflicts ConflictService
	Health    HealthReporter
	Tokens    apimiddleware.TokenValidator
}

// NewRouter builds the /v1 router.
func NewRouter(svc Services, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.NewTraceMiddleware(logger))

	jobs := NewJobHandler(svc.Jobs, svc.Queue, svc.Tracker, logger)
	storageHandler := NewStorageHandler(svc.Storage, logger)
	conflicts := NewConflictHandler(svc.Conflicts, logger)
	authMiddleware := apimiddleware.NewAuthMiddleware(svc.Tokens)

	r.Get("/healthz", HealthHandler(svc.Health))

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.RequireScope(ScopeJobs))
			r.Post("/jobs", jobs.CreateJob)
			r.Get("/jobs/stats", jobs.JobStats)
			r.Get("/jobs/{id}", jobs.GetJob)
			r.Delete("/jobs/{id}", jobs.DeleteJob)
			r.Post("/jobs/{id}/cancel", jobs.CancelJob)

			r.Get("/queue/state", jobs.QueueState)
			r.Get("/queue/metrics", jobs.QueueMetrics)
			r.Post("/queue/pause", jobs.PauseQueue)
			r.Post("/queue/resume", jobs.ResumeQueue)
		})

		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.RequireScope(ScopeStorage))
			r.Get("/storage/layers", storageHandler.ListLayers)
			r.Post("/storage/layers/clear", storageHandler.ClearLayers)
			r.Put("/storage/layers/{layer}", storageHandler.ConfigureLayer)
			r.Get("/storage/{key}", storageHandler.GetValue)
			r.Put("/storage/{key}", storageHandler.PutValue)
			r.Delete("/storage/{key}", storageHandler.DeleteValue)
		})

		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.RequireScope(ScopeConflicts))
			r.Get("/conflicts", conflicts.ListActive)
			r.Get("/conflicts/resolved", conflicts.ListResolved)
			r.Post("/conflicts/detect", conflicts.Detect)
			r.Get("/conflicts/{id}", conflicts.GetConflict)
			r.Post("/conflicts/{id}/resolve", conflicts.Resolve)
			r.Post("/conflicts/{id}/manual", conflicts.ForceManual)
		})
	})

	return r
}
