package routes

import (
	"asset-pipeline/api/rest/handlers"

	"github.com/gorilla/mux"
)

// Handlers groups the handlers served by the API
type Handlers struct {
	Tasks     *handlers.TaskHandler
	Assets    *handlers.AssetHandler
	Dashboard *handlers.DashboardHandler
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, h Handlers) {
	r.HandleFunc("/health", h.Dashboard.Health).Methods("GET")
	r.HandleFunc("/metrics", h.Dashboard.GetMetrics).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	// Task endpoints, used by job containers to report status
	api.HandleFunc("/tasks/{id}", h.Tasks.GetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}", h.Tasks.CreateTask).Methods("PUT")
	api.HandleFunc("/tasks/{id}", h.Tasks.UpdateTask).Methods("PATCH")

	// Asset endpoints
	api.HandleFunc("/assets/{id}", h.Assets.GetAsset).Methods("GET")
	api.HandleFunc("/assets/{id}/tasks", h.Assets.GetAssetTasks).Methods("GET")

	// Dataset version endpoints
	api.HandleFunc("/datasets/{dataset}/{version}", h.Assets.GetVersion).Methods("GET")
	api.HandleFunc("/datasets/{dataset}/{version}/assets", h.Assets.CreateAsset).Methods("POST")
}
