// Package completion aggregates task status reports into asset and version
// status.
//
// A failed report fails the task's asset at once, and the version too when
// the asset is the version's default asset. A success report saves the asset
// once every task of the asset has a success event. Reports for tasks of the
// same asset are serialized by the Store.
package completion

import (
	"context"
	"fmt"

	"asset-pipeline/core/logger"
	"asset-pipeline/core/models"

	"github.com/google/uuid"
)

// AssetTx is the view of one asset and its tasks while reports for that
// asset are locked out
type AssetTx interface {
	Asset() models.Asset
	AppendTaskEvents(ctx context.Context, taskID uuid.UUID, evs []models.StatusEvent) (models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
	SetAssetStatus(ctx context.Context, status models.AssetStatus, ev models.StatusEvent) error
	SetVersionStatus(ctx context.Context, status models.VersionStatus, ev models.StatusEvent) error
}

// Store runs fn with the asset owning taskID locked. Changes made through
// the AssetTx are committed only if fn returns nil.
type Store interface {
	WithTaskAsset(ctx context.Context, taskID uuid.UUID, fn func(tx AssetTx) error) error
}

// Hook runs after an asset has been saved
type Hook func(ctx context.Context, asset models.Asset) error

// Tracker is the completion state machine
type Tracker struct {
	store Store
	hooks map[models.AssetType][]Hook
	log   *logger.Logger
}

// NewTracker creates a new tracker
func NewTracker(store Store, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.Nop()
	}
	return &Tracker{
		store: store,
		hooks: map[models.AssetType][]Hook{},
		log:   log,
	}
}

// OnSaved registers a hook for assets of the given type. Not safe to call
// concurrently with Report.
func (t *Tracker) OnSaved(assetType models.AssetType, hook Hook) {
	t.hooks[assetType] = append(t.hooks[assetType], hook)
}

// Report records one status report for a task
func (t *Tracker) Report(ctx context.Context, taskID uuid.UUID, ev models.StatusEvent) (models.Task, error) {
	return t.ReportAll(ctx, taskID, []models.StatusEvent{ev})
}

// ReportAll records several events for a task at once. The decisive status is
// failed if any event failed, else the status of the last event. It must be
// success or failed, and every event must carry a known status, otherwise
// nothing is written.
func (t *Tracker) ReportAll(ctx context.Context, taskID uuid.UUID, evs []models.StatusEvent) (models.Task, error) {
	if err := models.ValidateEvents(evs); err != nil {
		return models.Task{}, err
	}
	status := decisiveStatus(evs)
	if status != models.EventSuccess && status != models.EventFailed {
		return models.Task{}, &models.UnrecognizedStatusError{Status: status}
	}

	var (
		task    models.Task
		savedTo *models.Asset
	)
	err := t.store.WithTaskAsset(ctx, taskID, func(tx AssetTx) error {
		savedTo = nil

		var err error
		task, err = tx.AppendTaskEvents(ctx, taskID, evs)
		if err != nil {
			return err
		}

		if status == models.EventFailed {
			return t.setFailed(ctx, tx, taskID)
		}

		saved, err := t.checkCompleted(ctx, tx)
		if err != nil {
			return err
		}
		if saved {
			a := tx.Asset()
			savedTo = &a
		}
		return nil
	})
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to report status for task %s: %w", taskID, err)
	}

	if savedTo != nil {
		t.runHooks(ctx, *savedTo)
	}
	return task, nil
}

// setFailed fails the asset, and the version if the asset is its default
func (t *Tracker) setFailed(ctx context.Context, tx AssetTx, taskID uuid.UUID) error {
	asset := tx.Asset()
	ev := models.NewEvent(
		models.EventFailed,
		"One or more tasks failed.",
		fmt.Sprintf("Check /v1/tasks/%s for more detail", taskID),
	)

	if err := tx.SetAssetStatus(ctx, models.AssetFailed, ev); err != nil {
		return err
	}
	t.log.Info("Asset failed", "asset_id", asset.ID.String(), "task_id", taskID.String())

	if !asset.IsDefault {
		return nil
	}
	if err := tx.SetVersionStatus(ctx, models.VersionFailed, ev); err != nil {
		return err
	}
	t.log.Info("Version failed", "dataset", asset.Dataset, "version", asset.Version)
	return nil
}

// checkCompleted saves the asset once every task has succeeded. A failed
// asset stays failed; a saved asset is not saved twice.
func (t *Tracker) checkCompleted(ctx context.Context, tx AssetTx) (bool, error) {
	asset := tx.Asset()
	if asset.Status == models.AssetFailed || asset.Status == models.AssetSaved {
		return false, nil
	}

	tasks, err := tx.ListTasks(ctx)
	if err != nil {
		return false, err
	}
	if !allFinished(tasks) {
		return false, nil
	}

	ev := models.NewEvent(models.EventSuccess, fmt.Sprintf("Successfully created asset %s.", asset.ID), "")
	if err := tx.SetAssetStatus(ctx, models.AssetSaved, ev); err != nil {
		return false, err
	}
	t.log.Info("Asset saved", "asset_id", asset.ID.String(), "tasks", len(tasks))

	if asset.IsDefault {
		if err := tx.SetVersionStatus(ctx, models.VersionSaved, ev); err != nil {
			return false, err
		}
		t.log.Info("Version saved", "dataset", asset.Dataset, "version", asset.Version)
	}
	return true, nil
}

func (t *Tracker) runHooks(ctx context.Context, asset models.Asset) {
	for _, hook := range t.hooks[asset.AssetType] {
		if err := hook(ctx, asset); err != nil {
			t.log.Error("Post completion hook failed", "asset_id", asset.ID.String(), "error", err)
		}
	}
}

// allFinished reports whether every task has a success event
func allFinished(tasks []models.Task) bool {
	for _, task := range tasks {
		if !task.Succeeded() {
			return false
		}
	}
	return true
}

func decisiveStatus(evs []models.StatusEvent) models.EventStatus {
	var status models.EventStatus
	for _, ev := range evs {
		status = ev.Status
		if status == models.EventFailed {
			break
		}
	}
	return status
}
