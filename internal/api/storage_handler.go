package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/meetscribe/internal/api/shared"
	"github.com/phrazzld/meetscribe/internal/platform/logger"
	"github.com/phrazzld/meetscribe/internal/storage"
)

// StorageService is the layered storage coordinator.
type StorageService interface {
	Read(ctx context.Context, key string, opts storage.ReadOptions) (storage.ReadResult, error)
	Write(ctx context.Context, key string, value any, opts storage.WriteOptions) (storage.WriteResult, error)
	Delete(ctx context.Context, key string, opts storage.WriteOptions) (storage.WriteResult, error)
	ClearLayers(ctx context.Context, layers ...storage.Layer) error
	ConfigureLayer(layer storage.Layer, cfg storage.LayerConfig) error
	Layers() []storage.LayerStatus
}

// PutValueRequest is the body of PUT /v1/storage/{key}.
type PutValueRequest struct {
	Value       json.RawMessage `json:"value" validate:"required"`
	Layers      []string        `json:"layers,omitempty"`
	Consistency string          `json:"consistency,omitempty" validate:"omitempty,oneof=eventual strong"`
	// TTL is a Go duration string such as "15m".
	TTL string `json:"ttl,omitempty"`
}

// ClearLayersRequest is the body of POST /v1/storage/layers/clear. No layers
// clears every registered layer.
type ClearLayersRequest struct {
	Layers []string `json:"layers"`
}

// ConfigureLayerRequest is the body of PUT /v1/storage/layers/{layer}.
type ConfigureLayerRequest struct {
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority" validate:"gte=0"`
	TTL      string `json:"ttl,omitempty"`
}

// WriteResponse reports per-layer outcomes of a write or delete.
type WriteResponse struct {
	Key       string            `json:"key"`
	Succeeded []storage.Layer   `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// StorageHandler handles storage requests.
type StorageHandler struct {
	storage StorageService
	logger  *slog.Logger
}

// NewStorageHandler creates a new StorageHandler
func NewStorageHandler(svc StorageService, logger *slog.Logger) *StorageHandler {
	return &StorageHandler{
		storage: svc,
		logger:  logger.With("component", "storage_handler"),
	}
}

// GetValue handles GET /v1/storage/{key}. The layers query parameter is a
// comma-separated candidate list; no_cache=true skips read-through caching.
func (h *StorageHandler) GetValue(w http.ResponseWriter, r *http.Request) {
	layers, err := parseLayers(splitList(r.URL.Query().Get("layers")))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	res, err := h.storage.Read(r.Context(), chi.URLParam(r, "key"), storage.ReadOptions{
		Layers:  layers,
		NoCache: r.URL.Query().Get("no_cache") == "true",
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, res)
}

// PutValue handles PUT /v1/storage/{key}.
func (h *StorageHandler) PutValue(w http.ResponseWriter, r *http.Request) {
	var req PutValueRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, err, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}
	opts, err := writeOptions(req.Layers, req.Consistency, req.TTL)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	key := chi.URLParam(r, "key")
	res, err := h.storage.Write(r.Context(), key, req.Value, opts)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, toWriteResponse(key, res))
}

// DeleteValue handles DELETE /v1/storage/{key}.
func (h *StorageHandler) DeleteValue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := writeOptions(splitList(q.Get("layers")), q.Get("consistency"), "")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	key := chi.URLParam(r, "key")
	res, err := h.storage.Delete(r.Context(), key, opts)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, toWriteResponse(key, res))
}

// ListLayers handles GET /v1/storage/layers.
func (h *StorageHandler) ListLayers(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.storage.Layers())
}

// ConfigureLayer handles PUT /v1/storage/layers/{layer}.
func (h *StorageHandler) ConfigureLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := storage.ParseLayer(chi.URLParam(r, "layer"))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	var req ConfigureLayerRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, err, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}
	ttl, err := parseTTL(req.TTL)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid ttl")
		return
	}

	if err := h.storage.ConfigureLayer(layer, storage.LayerConfig{
		Enabled:  req.Enabled,
		Priority: req.Priority,
		TTL:      ttl,
	}); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	logger.FromContext(r.Context()).Info("storage layer configured",
		"layer", layer,
		"enabled", req.Enabled)
	shared.RespondWithJSON(w, r, http.StatusOK, h.storage.Layers())
}

// ClearLayers handles POST /v1/storage/layers/clear.
func (h *StorageHandler) ClearLayers(w http.ResponseWriter, r *http.Request) {
	var req ClearLayersRequest
	if r.ContentLength != 0 {
		if err := shared.DecodeJSON(w, r, &req); err != nil {
			HandleAPIError(w, r, err, "Invalid request format")
			return
		}
	}
	layers, err := parseLayers(req.Layers)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err := h.storage.ClearLayers(r.Context(), layers...); err != nil {
		HandleAPIError(w, r, err, "Failed to clear storage layers")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toWriteResponse(key string, res storage.WriteResult) WriteResponse {
	out := WriteResponse{Key: key, Succeeded: res.Succeeded}
	if len(res.Failed) > 0 {
		out.Failed = make(map[string]string, len(res.Failed))
		for l := range res.Failed {
			out.Failed[string(l)] = "write failed"
		}
	}
	return out
}

func writeOptions(layerNames []string, consistency, ttl string) (storage.WriteOptions, error) {
	layers, err := parseLayers(layerNames)
	if err != nil {
		return storage.WriteOptions{}, err
	}
	d, err := parseTTL(ttl)
	if err != nil {
		return storage.WriteOptions{}, err
	}
	opts := storage.WriteOptions{Layers: layers, TTL: d, Consistency: storage.Eventual}
	if consistency == string(storage.Strong) {
		opts.Consistency = storage.Strong
	}
	return opts, nil
}

func parseLayers(names []string) ([]storage.Layer, error) {
	if len(names) == 0 {
		return nil, nil
	}
	layers := make([]storage.Layer, 0, len(names))
	for _, n := range names {
		l, err := storage.ParseLayer(n)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, nil
}

func parseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, shared.ErrInvalidDuration
	}
	return d, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
