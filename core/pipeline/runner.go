// Package pipeline creates assets and schedules the batch jobs that
// materialize them.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"asset-pipeline/config"
	"asset-pipeline/core/logger"
	"asset-pipeline/core/models"
	"asset-pipeline/core/spec"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the runner needs
type Store interface {
	EnsureVersion(ctx context.Context, dataset, version string) (*models.Version, error)
	AppendVersionEvent(ctx context.Context, dataset, version string, ev models.StatusEvent) error
	UpdateVersionStatus(ctx context.Context, dataset, version string, status models.VersionStatus, ev models.StatusEvent) error
	CreateAsset(ctx context.Context, asset *models.Asset) error
	AppendAssetEvent(ctx context.Context, assetID uuid.UUID, ev models.StatusEvent) error
	UpdateAssetStatus(ctx context.Context, assetID uuid.UUID, status models.AssetStatus, ev models.StatusEvent) error
	Recorder(assetID uuid.UUID) models.Recorder
}

// Executor schedules a job batch and summarizes the outcome as one event
type Executor interface {
	Execute(ctx context.Context, jobs []models.Job) (models.StatusEvent, error)
}

// Config holds runner settings
type Config struct {
	// MaxParents bounds the parents of a fan-in downstream job
	MaxParents int
	// Workers bounds the pipelines scheduled concurrently by Submit
	Workers int
}

// Request describes the asset to create
type Request struct {
	Dataset   string
	Version   string
	AssetType models.AssetType
	AssetURI  string
	IsDefault bool
	Pipeline  *spec.Pipeline
}

// Runner creates assets and runs their pipelines
type Runner struct {
	store   Store
	exec    Executor
	presets config.JobPresets
	cfg     Config
	log     *logger.Logger
	group   errgroup.Group
}

// NewRunner creates a new runner
func NewRunner(store Store, exec Executor, presets config.JobPresets, cfg Config, log *logger.Logger) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &Runner{
		store:   store,
		exec:    exec,
		presets: presets,
		cfg:     cfg,
		log:     log,
	}
	r.group.SetLimit(cfg.Workers)
	return r
}

// Run creates the asset and schedules its jobs before returning. The returned
// event is the scheduling outcome that was appended to the asset.
func (r *Runner) Run(ctx context.Context, req Request) (*models.Asset, models.StatusEvent, error) {
	asset, jobs, err := r.prepare(ctx, req)
	if err != nil {
		return nil, models.StatusEvent{}, err
	}
	ev, err := r.execute(ctx, asset, jobs)
	if err != nil {
		return asset, models.StatusEvent{}, err
	}
	return asset, ev, nil
}

// Submit creates the asset and schedules its jobs in the background. It
// blocks while all workers are busy. Scheduling outlives ctx cancellation.
func (r *Runner) Submit(ctx context.Context, req Request) (*models.Asset, error) {
	asset, jobs, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	r.group.Go(func() error {
		if _, err := r.execute(bg, asset, jobs); err != nil {
			r.log.Error("Pipeline failed", "asset_id", asset.ID.String(), "error", err)
			return err
		}
		return nil
	})
	return asset, nil
}

// Wait blocks until every submitted pipeline has been scheduled and returns
// the first error
func (r *Runner) Wait() error {
	return r.group.Wait()
}

// prepare validates the request, builds the job batch and creates the asset.
// Nothing is written when the pipeline references an unknown preset.
func (r *Runner) prepare(ctx context.Context, req Request) (*models.Asset, []models.Job, error) {
	if req.Dataset == "" || req.Version == "" {
		return nil, nil, fmt.Errorf("%w: dataset and version are required", spec.ErrInvalidSpec)
	}
	if req.Pipeline == nil {
		return nil, nil, fmt.Errorf("%w: no pipeline", spec.ErrInvalidSpec)
	}

	asset := &models.Asset{
		ID:        uuid.New(),
		Dataset:   req.Dataset,
		Version:   req.Version,
		AssetType: req.AssetType,
		AssetURI:  req.AssetURI,
		IsDefault: req.IsDefault,
		Status:    models.AssetPending,
	}

	// the recorder is bound before the asset exists; it is only called once
	// the asset has been created
	jobs, err := BuildJobs(req.Pipeline, r.presets, r.cfg.MaxParents, r.store.Recorder(asset.ID))
	if err != nil {
		return nil, nil, err
	}
	if dups := models.DuplicateNames(jobs); len(dups) > 0 {
		return nil, nil, &models.InvalidJobGraphError{Reason: "duplicate job names", Names: dups}
	}

	if _, err := r.store.EnsureVersion(ctx, req.Dataset, req.Version); err != nil {
		return nil, nil, err
	}
	if err := r.store.CreateAsset(ctx, asset); err != nil {
		return nil, nil, err
	}

	r.log.Info("Asset created",
		"asset_id", asset.ID.String(),
		"dataset", asset.Dataset,
		"version", asset.Version,
		"asset_type", string(asset.AssetType),
		"jobs", len(jobs),
	)
	return asset, jobs, nil
}

// execute schedules the batch and appends the outcome to the asset, and to
// the version when the asset is the default one. A failed outcome, or an
// error, fails them.
func (r *Runner) execute(ctx context.Context, asset *models.Asset, jobs []models.Job) (models.StatusEvent, error) {
	ev, err := r.exec.Execute(ctx, jobs)
	if err != nil {
		ev = models.NewEvent(models.EventFailed, "Failed to schedule batch jobs", err.Error())
		if ferr := r.register(ctx, asset, ev); ferr != nil {
			return models.StatusEvent{}, errors.Join(err, ferr)
		}
		return models.StatusEvent{}, fmt.Errorf("failed to schedule jobs for asset %s: %w", asset.ID, err)
	}

	if err := r.register(ctx, asset, ev); err != nil {
		return models.StatusEvent{}, err
	}
	r.log.Info("Pipeline scheduled", "asset_id", asset.ID.String(), "status", string(ev.Status))
	return ev, nil
}

func (r *Runner) register(ctx context.Context, asset *models.Asset, ev models.StatusEvent) error {
	if ev.Status == models.EventFailed {
		if err := r.store.UpdateAssetStatus(ctx, asset.ID, models.AssetFailed, ev); err != nil {
			return err
		}
		if asset.IsDefault {
			return r.store.UpdateVersionStatus(ctx, asset.Dataset, asset.Version, models.VersionFailed, ev)
		}
		return nil
	}

	if err := r.store.AppendAssetEvent(ctx, asset.ID, ev); err != nil {
		return err
	}
	if asset.IsDefault {
		return r.store.AppendVersionEvent(ctx, asset.Dataset, asset.Version, ev)
	}
	return nil
}
