package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"asset-pipeline/core/logger"
	"asset-pipeline/core/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// TaskStore is the task persistence used by the handler
type TaskStore interface {
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	CreateTask(ctx context.Context, task models.Task) error
}

// StatusReporter records status reports from job containers
type StatusReporter interface {
	ReportAll(ctx context.Context, taskID uuid.UUID, evs []models.StatusEvent) (models.Task, error)
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	store    TaskStore
	reporter StatusReporter
	log      *logger.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(store TaskStore, reporter StatusReporter, log *logger.Logger) *TaskHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &TaskHandler{
		store:    store,
		reporter: reporter,
		log:      log,
	}
}

// CreateTaskRequest represents the request to create a task
type CreateTaskRequest struct {
	AssetID   uuid.UUID            `json:"asset_id"`
	ChangeLog []models.StatusEvent `json:"change_log"`
}

// UpdateTaskRequest carries one or more status reports for a task
type UpdateTaskRequest struct {
	ChangeLog []models.StatusEvent `json:"change_log"`
}

// GetTask handles GET /v1/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	task, err := h.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(*task))
}

// CreateTask handles PUT /v1/tasks/{id}
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AssetID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "asset_id is required")
		return
	}
	if err := models.ValidateEvents(req.ChangeLog); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stampEvents(req.ChangeLog)

	task := models.Task{ID: taskID, AssetID: req.AssetID, ChangeLog: req.ChangeLog}
	if err := h.store.CreateTask(r.Context(), task); err != nil {
		status := statusFor(err)
		if errors.Is(err, models.ErrNotFound) {
			// unknown asset is a bad request here, not a missing task
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	created, err := h.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(*created))
}

// UpdateTask handles PATCH /v1/tasks/{id}. The reports are appended to the
// task and cascade to its asset and version.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	stampEvents(req.ChangeLog)

	task, err := h.reporter.ReportAll(r.Context(), taskID, req.ChangeLog)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Error("Failed to update task", "task_id", taskID.String(), "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(task))
}

// stampEvents sets the time of events sent without one
func stampEvents(evs []models.StatusEvent) {
	now := time.Now().UTC()
	for i := range evs {
		if evs[i].DateTime.IsZero() {
			evs[i].DateTime = now
		}
	}
}
