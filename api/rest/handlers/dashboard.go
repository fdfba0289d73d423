package handlers

import (
	"context"
	"net/http"

	"asset-pipeline/core/logger"
)

// MetricsSource renders metrics in Prometheus text format
type MetricsSource interface {
	GetPrometheusMetrics(ctx context.Context) (string, error)
}

// DashboardHandler serves operational endpoints
type DashboardHandler struct {
	metrics MetricsSource
	log     *logger.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(metrics MetricsSource, log *logger.Logger) *DashboardHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &DashboardHandler{
		metrics: metrics,
		log:     log,
	}
}

// GetMetrics handles GET /metrics
func (h *DashboardHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	text, err := h.metrics.GetPrometheusMetrics(r.Context())
	if err != nil {
		h.log.Error("Failed to export metrics", "error", err)
		http.Error(w, "Failed to export metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

// Health handles GET /health
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
