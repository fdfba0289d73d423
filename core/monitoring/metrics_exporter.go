package monitoring

import (
	"context"
	"fmt"
	"strings"

	"asset-pipeline/core/models"
)

// Stats is the source of the exported counts
type Stats interface {
	CountAssetsByStatus(ctx context.Context) (map[models.AssetStatus]int, error)
	CountVersionsByStatus(ctx context.Context) (map[models.VersionStatus]int, error)
	CountPendingTasks(ctx context.Context) (int, error)
}

// MetricsExporter exports pipeline metrics for Prometheus
type MetricsExporter struct {
	stats   Stats
	monitor *JobMonitor
}

// NewMetricsExporter creates a new metrics exporter. monitor may be nil.
func NewMetricsExporter(stats Stats, monitor *JobMonitor) *MetricsExporter {
	return &MetricsExporter{
		stats:   stats,
		monitor: monitor,
	}
}

// GetPrometheusMetrics returns metrics in Prometheus text format
func (me *MetricsExporter) GetPrometheusMetrics(ctx context.Context) (string, error) {
	assets, err := me.stats.CountAssetsByStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to count assets: %w", err)
	}
	versions, err := me.stats.CountVersionsByStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to count versions: %w", err)
	}
	pending, err := me.stats.CountPendingTasks(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to count pending tasks: %w", err)
	}

	var b strings.Builder

	b.WriteString("# HELP asset_pipeline_assets Number of assets by status\n")
	b.WriteString("# TYPE asset_pipeline_assets gauge\n")
	for _, s := range []models.AssetStatus{models.AssetPending, models.AssetSaved, models.AssetFailed} {
		fmt.Fprintf(&b, "asset_pipeline_assets{status=%q} %d\n", s, assets[s])
	}

	b.WriteString("# HELP asset_pipeline_versions Number of versions by status\n")
	b.WriteString("# TYPE asset_pipeline_versions gauge\n")
	for _, s := range []models.VersionStatus{models.VersionPending, models.VersionSaved, models.VersionFailed} {
		fmt.Fprintf(&b, "asset_pipeline_versions{status=%q} %d\n", s, versions[s])
	}

	b.WriteString("# HELP asset_pipeline_pending_tasks Tasks without a terminal status\n")
	b.WriteString("# TYPE asset_pipeline_pending_tasks gauge\n")
	fmt.Fprintf(&b, "asset_pipeline_pending_tasks %d\n", pending)

	if me.monitor != nil {
		b.WriteString("# HELP asset_pipeline_reconciled_reports_total Status reports made by the job monitor\n")
		b.WriteString("# TYPE asset_pipeline_reconciled_reports_total counter\n")
		fmt.Fprintf(&b, "asset_pipeline_reconciled_reports_total %d\n", me.monitor.Reported())
	}

	return b.String(), nil
}
