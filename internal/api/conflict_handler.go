package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/meetscribe/internal/api/shared"
	"github.com/phrazzld/meetscribe/internal/conflict"
	"github.com/phrazzld/meetscribe/internal/platform/logger"
	"github.com/phrazzld/meetscribe/internal/storage"
)

// ConflictService detects and resolves cross-layer conflicts.
type ConflictService interface {
	DetectConflicts(ctx context.Context, keys ...string) ([]*conflict.Conflict, error)
	ResolveConflict(ctx context.Context, id string, strategy conflict.Strategy, opts conflict.ResolveOptions) (*conflict.Conflict, error)
	ForceManualResolution(ctx context.Context, id string, data json.RawMessage, targets ...storage.Layer) (*conflict.Conflict, error)
	GetConflict(id string) (*conflict.Conflict, bool)
	GetActiveConflicts() []*conflict.Conflict
	GetResolvedConflicts() []*conflict.Conflict
}

// DetectConflictsRequest is the optional body of POST /v1/conflicts/detect.
// No keys scans every key.
type DetectConflictsRequest struct {
	Keys []string `json:"keys"`
}

// ResolveConflictRequest is the body of POST /v1/conflicts/{id}/resolve.
type ResolveConflictRequest struct {
	Strategy     string          `json:"strategy" validate:"required"`
	Data         json.RawMessage `json:"data,omitempty"`
	TargetLayers []string        `json:"target_layers,omitempty"`
}

// ManualResolutionRequest is the body of POST /v1/conflicts/{id}/manual.
type ManualResolutionRequest struct {
	Data         json.RawMessage `json:"data" validate:"required"`
	TargetLayers []string        `json:"target_layers,omitempty"`
}

// ConflictListResponse wraps a list of conflicts.
type ConflictListResponse struct {
	Conflicts []*conflict.Conflict `json:"conflicts"`
	Count     int                  `json:"count"`
}

// ConflictHandler handles conflict requests.
type ConflictHandler struct {
	conflicts ConflictService
	logger    *slog.Logger
}

// NewConflictHandler creates a new ConflictHandler
func NewConflictHandler(svc ConflictService, logger *slog.Logger) *ConflictHandler {
	return &ConflictHandler{
		conflicts: svc,
		logger:    logger.With("component", "conflict_handler"),
	}
}

// ListActive handles GET /v1/conflicts.
func (h *ConflictHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	respondConflicts(w, r, h.conflicts.GetActiveConflicts())
}

// ListResolved handles GET /v1/conflicts/resolved.
func (h *ConflictHandler) ListResolved(w http.ResponseWriter, r *http.Request) {
	respondConflicts(w, r, h.conflicts.GetResolvedConflicts())
}

// GetConflict handles GET /v1/conflicts/{id}.
func (h *ConflictHandler) GetConflict(w http.ResponseWriter, r *http.Request) {
	c, ok := h.conflicts.GetConflict(chi.URLParam(r, "id"))
	if !ok {
		HandleAPIError(w, r, conflict.ErrConflictNotFound, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, c)
}

// Detect handles POST /v1/conflicts/detect and returns newly found conflicts.
func (h *ConflictHandler) Detect(w http.ResponseWriter, r *http.Request) {
	var req DetectConflictsRequest
	if r.ContentLength != 0 {
		if err := shared.DecodeJSON(w, r, &req); err != nil {
			HandleAPIError(w, r, err, "Invalid request format")
			return
		}
	}
	found, err := h.conflicts.DetectConflicts(r.Context(), req.Keys...)
	if err != nil {
		HandleAPIError(w, r, err, "Conflict detection failed")
		return
	}
	respondConflicts(w, r, found)
}

// Resolve handles POST /v1/conflicts/{id}/resolve.
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveConflictRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, err, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}
	strategy, err := conflict.ParseStrategy(req.Strategy)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	targets, err := parseLayers(req.TargetLayers)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	id := chi.URLParam(r, "id")
	resolved, err := h.conflicts.ResolveConflict(r.Context(), id, strategy, conflict.ResolveOptions{
		Data:         req.Data,
		TargetLayers: targets,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	logger.FromContext(r.Context()).Info("conflict resolved",
		"conflict_id", id,
		"strategy", strategy)
	shared.RespondWithJSON(w, r, http.StatusOK, resolved)
}

// ForceManual handles POST /v1/conflicts/{id}/manual.
func (h *ConflictHandler) ForceManual(w http.ResponseWriter, r *http.Request) {
	var req ManualResolutionRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, err, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}
	targets, err := parseLayers(req.TargetLayers)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resolved, err := h.conflicts.ForceManualResolution(r.Context(), chi.URLParam(r, "id"), req.Data, targets...)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resolved)
}

func respondConflicts(w http.ResponseWriter, r *http.Request, list []*conflict.Conflict) {
	if list == nil {
		list = []*conflict.Conflict{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ConflictListResponse{Conflicts: list, Count: len(list)})
}
