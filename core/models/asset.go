package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// AssetStatus represents the lifecycle state of an asset
type AssetStatus string

const (
	AssetPending AssetStatus = "pending"
	AssetSaved   AssetStatus = "saved"
	AssetFailed  AssetStatus = "failed"
)

// VersionStatus represents the lifecycle state of a dataset version
type VersionStatus string

const (
	VersionPending VersionStatus = "pending"
	VersionSaved   VersionStatus = "saved"
	VersionFailed  VersionStatus = "failed"
)

// AssetType names the materialized form of a version
type AssetType string

const (
	AssetTypeDynamicVectorTileCache AssetType = "Dynamic vector tile cache"
	AssetTypeStaticVectorTileCache  AssetType = "Static vector tile cache"
	AssetTypeRasterTileCache        AssetType = "Raster tile cache"
	AssetTypeRasterTileSet          AssetType = "Raster tile set"
	AssetTypeDatabaseTable          AssetType = "Database table"
	AssetTypeGeoDatabaseTable       AssetType = "Geo database table"
	AssetTypeShapefile              AssetType = "ESRI Shapefile"
	AssetTypeGeopackage             AssetType = "Geopackage"
	AssetTypeNDJSON                 AssetType = "ndjson"
	AssetTypeCSV                    AssetType = "csv"
	AssetTypeTSV                    AssetType = "tsv"
	AssetTypeGrid1x1                AssetType = "1x1 grid"
)

// IsTileCache reports whether assets of this type are served by the tile cache
func (t AssetType) IsTileCache() bool {
	switch t {
	case AssetTypeDynamicVectorTileCache, AssetTypeStaticVectorTileCache, AssetTypeRasterTileCache:
		return true
	}
	return false
}

// IsDatabase reports whether assets of this type live in PostgreSQL
func (t AssetType) IsDatabase() bool {
	return t == AssetTypeDatabaseTable || t == AssetTypeGeoDatabaseTable
}

// Task is the durable record of one submitted remote job
type Task struct {
	ID        uuid.UUID     // remote job handle
	AssetID   uuid.UUID
	Status    EventStatus   // status of the last appended event
	ChangeLog []StatusEvent // append-only, arrival order
	CreatedOn time.Time
	UpdatedOn time.Time
}

// TaskCursor is a position in the (CreatedOn, ID) order of tasks. The zero
// value is before every task.
type TaskCursor struct {
	CreatedOn time.Time
	ID        uuid.UUID
}

// Cursor returns the position of t
func (t Task) Cursor() TaskCursor {
	return TaskCursor{CreatedOn: t.CreatedOn, ID: t.ID}
}

// Before reports whether c orders before o
func (c TaskCursor) Before(o TaskCursor) bool {
	if !c.CreatedOn.Equal(o.CreatedOn) {
		return c.CreatedOn.Before(o.CreatedOn)
	}
	return bytes.Compare(c.ID[:], o.ID[:]) < 0
}

// Succeeded applies the aggregation rule used for assets: the first success
// event found, oldest to newest, makes the task finished. A later or earlier
// failed event does not change that.
func (t Task) Succeeded() bool {
	for _, ev := range t.ChangeLog {
		if ev.Status == EventSuccess {
			return true
		}
	}
	return false
}

// Failed reports whether the task has a failed event and no success event
func (t Task) Failed() bool {
	if t.Succeeded() {
		return false
	}
	for _, ev := range t.ChangeLog {
		if ev.Status == EventFailed {
			return true
		}
	}
	return false
}

// Asset is a materialized representation of a dataset version
type Asset struct {
	ID        uuid.UUID
	Dataset   string
	Version   string
	AssetType AssetType
	AssetURI  string
	IsDefault bool
	Status    AssetStatus
	ChangeLog []StatusEvent
	CreatedOn time.Time
	UpdatedOn time.Time
}

// Version is a dataset revision
type Version struct {
	Dataset   string
	Version   string
	Status    VersionStatus
	ChangeLog []StatusEvent
	CreatedOn time.Time
	UpdatedOn time.Time
}
