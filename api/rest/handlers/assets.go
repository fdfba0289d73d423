package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"asset-pipeline/core/logger"
	"asset-pipeline/core/models"
	"asset-pipeline/core/pipeline"
	"asset-pipeline/core/spec"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// AssetStore is the asset and version persistence used by the handler
type AssetStore interface {
	GetAsset(ctx context.Context, assetID uuid.UUID) (*models.Asset, error)
	ListTasks(ctx context.Context, assetID uuid.UUID) ([]models.Task, error)
	GetVersion(ctx context.Context, dataset, version string) (*models.Version, error)
}

// PipelineSubmitter creates an asset and schedules its pipeline
type PipelineSubmitter interface {
	Submit(ctx context.Context, req pipeline.Request) (*models.Asset, error)
}

// AssetHandler handles asset and version HTTP requests
type AssetHandler struct {
	store  AssetStore
	runner PipelineSubmitter
	log    *logger.Logger
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(store AssetStore, runner PipelineSubmitter, log *logger.Logger) *AssetHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AssetHandler{
		store:  store,
		runner: runner,
		log:    log,
	}
}

// CreateAssetRequest represents the request to create an asset
type CreateAssetRequest struct {
	AssetType    models.AssetType `json:"asset_type"`
	AssetURI     string           `json:"asset_uri"`
	IsDefault    bool             `json:"is_default"`
	PipelineYAML string           `json:"pipeline_yaml"`
}

// CreateAssetResponse represents the response after accepting an asset
type CreateAssetResponse struct {
	AssetID uuid.UUID          `json:"asset_id"`
	Status  models.AssetStatus `json:"status"`
}

// GetAsset handles GET /v1/assets/{id}
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	asset, err := h.store.GetAsset(r.Context(), assetID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, assetResponse(*asset))
}

// GetAssetTasks handles GET /v1/assets/{id}/tasks
func (h *AssetHandler) GetAssetTasks(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	if _, err := h.store.GetAsset(r.Context(), assetID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	tasks, err := h.store.ListTasks(r.Context(), assetID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetVersion handles GET /v1/datasets/{dataset}/{version}
func (h *AssetHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	v, err := h.store.GetVersion(r.Context(), vars["dataset"], vars["version"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, versionResponse(*v))
}

// CreateAsset handles POST /v1/datasets/{dataset}/{version}/assets. The asset
// is created right away; its jobs are scheduled in the background.
func (h *AssetHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AssetType == "" {
		writeError(w, http.StatusBadRequest, "asset_type is required")
		return
	}

	p, err := spec.ParsePipeline(req.PipelineYAML)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	asset, err := h.runner.Submit(r.Context(), pipeline.Request{
		Dataset:   vars["dataset"],
		Version:   vars["version"],
		AssetType: req.AssetType,
		AssetURI:  req.AssetURI,
		IsDefault: req.IsDefault,
		Pipeline:  p,
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Error("Failed to create asset", "dataset", vars["dataset"], "version", vars["version"], "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, CreateAssetResponse{AssetID: asset.ID, Status: asset.Status})
}
