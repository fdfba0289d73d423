package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"asset-pipeline/core/models"
	"asset-pipeline/core/spec"

	"github.com/google/uuid"
)

// Response wraps every successful payload
type Response struct {
	Data   interface{} `json:"data"`
	Status string      `json:"status"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TaskResponse is the API view of a task
type TaskResponse struct {
	TaskID    uuid.UUID            `json:"task_id"`
	AssetID   uuid.UUID            `json:"asset_id"`
	Status    models.EventStatus   `json:"status"`
	ChangeLog []models.StatusEvent `json:"change_log"`
	CreatedOn time.Time            `json:"created_on"`
	UpdatedOn time.Time            `json:"updated_on"`
}

// AssetResponse is the API view of an asset
type AssetResponse struct {
	AssetID   uuid.UUID            `json:"asset_id"`
	Dataset   string               `json:"dataset"`
	Version   string               `json:"version"`
	AssetType models.AssetType     `json:"asset_type"`
	AssetURI  string               `json:"asset_uri,omitempty"`
	IsDefault bool                 `json:"is_default"`
	Status    models.AssetStatus   `json:"status"`
	ChangeLog []models.StatusEvent `json:"change_log"`
	CreatedOn time.Time            `json:"created_on"`
	UpdatedOn time.Time            `json:"updated_on"`
}

// VersionResponse is the API view of a version
type VersionResponse struct {
	Dataset   string               `json:"dataset"`
	Version   string               `json:"version"`
	Status    models.VersionStatus `json:"status"`
	ChangeLog []models.StatusEvent `json:"change_log"`
	CreatedOn time.Time            `json:"created_on"`
	UpdatedOn time.Time            `json:"updated_on"`
}

func taskResponse(t models.Task) TaskResponse {
	return TaskResponse{
		TaskID:    t.ID,
		AssetID:   t.AssetID,
		Status:    t.Status,
		ChangeLog: nonNil(t.ChangeLog),
		CreatedOn: t.CreatedOn,
		UpdatedOn: t.UpdatedOn,
	}
}

func assetResponse(a models.Asset) AssetResponse {
	return AssetResponse{
		AssetID:   a.ID,
		Dataset:   a.Dataset,
		Version:   a.Version,
		AssetType: a.AssetType,
		AssetURI:  a.AssetURI,
		IsDefault: a.IsDefault,
		Status:    a.Status,
		ChangeLog: nonNil(a.ChangeLog),
		CreatedOn: a.CreatedOn,
		UpdatedOn: a.UpdatedOn,
	}
}

func versionResponse(v models.Version) VersionResponse {
	return VersionResponse{
		Dataset:   v.Dataset,
		Version:   v.Version,
		Status:    v.Status,
		ChangeLog: nonNil(v.ChangeLog),
		CreatedOn: v.CreatedOn,
		UpdatedOn: v.UpdatedOn,
	}
}

func nonNil(evs []models.StatusEvent) []models.StatusEvent {
	if evs == nil {
		return []models.StatusEvent{}
	}
	return evs
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{Data: data, Status: "success"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Status: "failed", Message: message})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var unrecognized *models.UnrecognizedStatusError
	var invalidGraph *models.InvalidJobGraphError
	switch {
	case errors.As(err, &unrecognized),
		errors.As(err, &invalidGraph),
		errors.Is(err, spec.ErrInvalidSpec),
		errors.Is(err, models.ErrAlreadyExists):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id: "+raw)
		return uuid.Nil, false
	}
	return id, true
}
