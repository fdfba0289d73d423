package repository

import (
	"context"
	"database/sql"
	"fmt"

	"asset-pipeline/core/models"

	"github.com/google/uuid"
)

// AssetRepository handles database operations for assets and their versions
type AssetRepository struct {
	db *DB
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(db *DB) *AssetRepository {
	return &AssetRepository{db: db}
}

const assetColumns = `asset_id, dataset, version, asset_type, asset_uri, is_default, status, change_log, created_on, updated_on`

// EnsureVersion creates the version as pending unless it already exists and
// returns the stored row
func (r *AssetRepository) EnsureVersion(ctx context.Context, dataset, version string) (*models.Version, error) {
	query := `
		INSERT INTO versions (dataset, version, status, change_log, created_on, updated_on)
		VALUES ($1, $2, $3, '[]'::jsonb, NOW(), NOW())
		ON CONFLICT (dataset, version) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, dataset, version, models.VersionPending); err != nil {
		return nil, fmt.Errorf("failed to create version %s.%s: %w", dataset, version, mapError(err))
	}
	return r.GetVersion(ctx, dataset, version)
}

// GetVersion retrieves a version
func (r *AssetRepository) GetVersion(ctx context.Context, dataset, version string) (*models.Version, error) {
	query := `
		SELECT dataset, version, status, change_log, created_on, updated_on
		FROM versions
		WHERE dataset = $1 AND version = $2
	`
	var v models.Version
	var changeLog []byte
	err := r.db.QueryRowContext(ctx, query, dataset, version).Scan(
		&v.Dataset, &v.Version, &v.Status, &changeLog, &v.CreatedOn, &v.UpdatedOn,
	)
	if err != nil {
		return nil, fmt.Errorf("version %s.%s: %w", dataset, version, mapError(err))
	}
	if v.ChangeLog, err = decodeChangeLog(changeLog); err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateAsset inserts a pending asset. The version must exist.
func (r *AssetRepository) CreateAsset(ctx context.Context, asset *models.Asset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if asset.Status == "" {
		asset.Status = models.AssetPending
	}
	changeLog, err := encodeChangeLog(asset.ChangeLog)
	if err != nil {
		return err
	}

	var uri sql.NullString
	if asset.AssetURI != "" {
		uri = sql.NullString{String: asset.AssetURI, Valid: true}
	}

	query := `
		INSERT INTO assets (
			asset_id, dataset, version, asset_type, asset_uri, is_default,
			status, change_log, created_on, updated_on
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, NOW(), NOW())
		RETURNING created_on, updated_on
	`
	err = r.db.QueryRowContext(ctx, query,
		asset.ID,
		asset.Dataset,
		asset.Version,
		asset.AssetType,
		uri,
		asset.IsDefault,
		asset.Status,
		changeLog,
	).Scan(&asset.CreatedOn, &asset.UpdatedOn)
	if err != nil {
		return fmt.Errorf("failed to create asset for %s.%s: %w", asset.Dataset, asset.Version, mapError(err))
	}
	return nil
}

// GetAsset retrieves an asset by ID
func (r *AssetRepository) GetAsset(ctx context.Context, assetID uuid.UUID) (*models.Asset, error) {
	return getAsset(ctx, r.db, assetID, false)
}

// UpdateAssetStatus sets the asset status and appends ev to its change log
func (r *AssetRepository) UpdateAssetStatus(ctx context.Context, assetID uuid.UUID, status models.AssetStatus, ev models.StatusEvent) error {
	return updateAssetStatus(ctx, r.db, assetID, status, ev)
}

// AppendAssetEvent appends ev to the change log without touching the status
func (r *AssetRepository) AppendAssetEvent(ctx context.Context, assetID uuid.UUID, ev models.StatusEvent) error {
	changeLog, err := encodeChangeLog([]models.StatusEvent{ev})
	if err != nil {
		return err
	}
	query := `UPDATE assets SET change_log = change_log || $2::jsonb, updated_on = NOW() WHERE asset_id = $1`
	return checkAffected(r.db.ExecContext(ctx, query, assetID, changeLog))
}

// UpdateVersionStatus sets the version status and appends ev to its change log
func (r *AssetRepository) UpdateVersionStatus(ctx context.Context, dataset, version string, status models.VersionStatus, ev models.StatusEvent) error {
	return updateVersionStatus(ctx, r.db, dataset, version, status, ev)
}

// AppendVersionEvent appends ev to the version change log
func (r *AssetRepository) AppendVersionEvent(ctx context.Context, dataset, version string, ev models.StatusEvent) error {
	changeLog, err := encodeChangeLog([]models.StatusEvent{ev})
	if err != nil {
		return err
	}
	query := `UPDATE versions SET change_log = change_log || $3::jsonb, updated_on = NOW() WHERE dataset = $1 AND version = $2`
	return checkAffected(r.db.ExecContext(ctx, query, dataset, version, changeLog))
}

// CountAssetsByStatus returns the number of assets per status
func (r *AssetRepository) CountAssetsByStatus(ctx context.Context) (map[models.AssetStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM assets GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[models.AssetStatus]int{}
	for rows.Next() {
		var status models.AssetStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountVersionsByStatus returns the number of versions per status
func (r *AssetRepository) CountVersionsByStatus(ctx context.Context) (map[models.VersionStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM versions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[models.VersionStatus]int{}
	for rows.Next() {
		var status models.VersionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func getAsset(ctx context.Context, q queryer, assetID uuid.UUID, forUpdate bool) (*models.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE asset_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var a models.Asset
	var uri sql.NullString
	var changeLog []byte
	err := q.QueryRowContext(ctx, query, assetID).Scan(
		&a.ID,
		&a.Dataset,
		&a.Version,
		&a.AssetType,
		&uri,
		&a.IsDefault,
		&a.Status,
		&changeLog,
		&a.CreatedOn,
		&a.UpdatedOn,
	)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", assetID, mapError(err))
	}
	if uri.Valid {
		a.AssetURI = uri.String
	}
	if a.ChangeLog, err = decodeChangeLog(changeLog); err != nil {
		return nil, err
	}
	return &a, nil
}

func updateAssetStatus(ctx context.Context, q queryer, assetID uuid.UUID, status models.AssetStatus, ev models.StatusEvent) error {
	changeLog, err := encodeChangeLog([]models.StatusEvent{ev})
	if err != nil {
		return err
	}
	query := `
		UPDATE assets
		SET status = $2, change_log = change_log || $3::jsonb, updated_on = NOW()
		WHERE asset_id = $1
	`
	if err := checkAffected(q.ExecContext(ctx, query, assetID, status, changeLog)); err != nil {
		return fmt.Errorf("asset %s: %w", assetID, err)
	}
	return nil
}

func updateVersionStatus(ctx context.Context, q queryer, dataset, version string, status models.VersionStatus, ev models.StatusEvent) error {
	changeLog, err := encodeChangeLog([]models.StatusEvent{ev})
	if err != nil {
		return err
	}
	query := `
		UPDATE versions
		SET status = $3, change_log = change_log || $4::jsonb, updated_on = NOW()
		WHERE dataset = $1 AND version = $2
	`
	if err := checkAffected(q.ExecContext(ctx, query, dataset, version, status, changeLog)); err != nil {
		return fmt.Errorf("version %s.%s: %w", dataset, version, err)
	}
	return nil
}

func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
