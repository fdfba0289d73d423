package repository

import (
	"context"
	"fmt"
	"time"

	"asset-pipeline/core/completion"
	"asset-pipeline/core/models"

	"github.com/google/uuid"
)

// Store is the persistence surface used by the service. It is implemented by
// Postgres and MemoryStore.
type Store interface {
	completion.Store

	EnsureVersion(ctx context.Context, dataset, version string) (*models.Version, error)
	GetVersion(ctx context.Context, dataset, version string) (*models.Version, error)
	AppendVersionEvent(ctx context.Context, dataset, version string, ev models.StatusEvent) error
	UpdateVersionStatus(ctx context.Context, dataset, version string, status models.VersionStatus, ev models.StatusEvent) error
	CountVersionsByStatus(ctx context.Context) (map[models.VersionStatus]int, error)

	CreateAsset(ctx context.Context, asset *models.Asset) error
	GetAsset(ctx context.Context, assetID uuid.UUID) (*models.Asset, error)
	AppendAssetEvent(ctx context.Context, assetID uuid.UUID, ev models.StatusEvent) error
	UpdateAssetStatus(ctx context.Context, assetID uuid.UUID, status models.AssetStatus, ev models.StatusEvent) error
	CountAssetsByStatus(ctx context.Context) (map[models.AssetStatus]int, error)

	CreateTask(ctx context.Context, task models.Task) error
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	ListTasks(ctx context.Context, assetID uuid.UUID) ([]models.Task, error)
	ListPendingTasks(ctx context.Context, olderThan time.Time, after models.TaskCursor, limit int) ([]models.Task, error)
	CountPendingTasks(ctx context.Context) (int, error)
	Recorder(assetID uuid.UUID) models.Recorder
}

// Postgres combines the repositories over one database
type Postgres struct {
	*AssetRepository
	*TaskRepository
	db *DB
}

// NewPostgres creates a PostgreSQL backed store
func NewPostgres(db *DB) *Postgres {
	return &Postgres{
		AssetRepository: NewAssetRepository(db),
		TaskRepository:  NewTaskRepository(db),
		db:              db,
	}
}

// WithTaskAsset runs fn inside a transaction holding a row lock on the asset
// that owns taskID
func (p *Postgres) WithTaskAsset(ctx context.Context, taskID uuid.UUID, fn func(tx completion.AssetTx) error) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var assetID uuid.UUID
	if err = tx.QueryRowContext(ctx, `SELECT asset_id FROM tasks WHERE task_id = $1`, taskID).Scan(&assetID); err != nil {
		return fmt.Errorf("task %s: %w", taskID, mapError(err))
	}
	asset, err := getAsset(ctx, tx, assetID, true)
	if err != nil {
		return err
	}

	if err = fn(&pgAssetTx{q: tx, asset: *asset}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgAssetTx struct {
	q     queryer
	asset models.Asset
}

func (t *pgAssetTx) Asset() models.Asset {
	return t.asset
}

func (t *pgAssetTx) AppendTaskEvents(ctx context.Context, taskID uuid.UUID, evs []models.StatusEvent) (models.Task, error) {
	task, err := appendTaskEvents(ctx, t.q, taskID, evs)
	if err != nil {
		return models.Task{}, err
	}
	if task.AssetID != t.asset.ID {
		return models.Task{}, fmt.Errorf("task %s does not belong to asset %s: %w", taskID, t.asset.ID, models.ErrNotFound)
	}
	return *task, nil
}

func (t *pgAssetTx) ListTasks(ctx context.Context) ([]models.Task, error) {
	return listTasks(ctx, t.q, t.asset.ID)
}

func (t *pgAssetTx) SetAssetStatus(ctx context.Context, status models.AssetStatus, ev models.StatusEvent) error {
	if err := updateAssetStatus(ctx, t.q, t.asset.ID, status, ev); err != nil {
		return err
	}
	t.asset.Status = status
	t.asset.ChangeLog = append(t.asset.ChangeLog, ev)
	return nil
}

func (t *pgAssetTx) SetVersionStatus(ctx context.Context, status models.VersionStatus, ev models.StatusEvent) error {
	return updateVersionStatus(ctx, t.q, t.asset.Dataset, t.asset.Version, status, ev)
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*MemoryStore)(nil)
)
