package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"asset-pipeline/core/models"

	"github.com/lib/pq"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	*sql.DB
}

// NewDB opens and pings a PostgreSQL database
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{DB: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS versions (
	dataset     TEXT NOT NULL,
	version     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	change_log  JSONB NOT NULL DEFAULT '[]',
	created_on  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_on  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (dataset, version)
);

CREATE TABLE IF NOT EXISTS assets (
	asset_id    UUID PRIMARY KEY,
	dataset     TEXT NOT NULL,
	version     TEXT NOT NULL,
	asset_type  TEXT NOT NULL,
	asset_uri   TEXT,
	is_default  BOOLEAN NOT NULL DEFAULT FALSE,
	status      TEXT NOT NULL DEFAULT 'pending',
	change_log  JSONB NOT NULL DEFAULT '[]',
	created_on  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_on  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	FOREIGN KEY (dataset, version) REFERENCES versions (dataset, version)
		ON UPDATE CASCADE ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS assets_default_per_version
	ON assets (dataset, version) WHERE is_default;

CREATE TABLE IF NOT EXISTS tasks (
	task_id     UUID PRIMARY KEY,
	asset_id    UUID NOT NULL REFERENCES assets (asset_id)
		ON UPDATE CASCADE ON DELETE CASCADE,
	status      TEXT NOT NULL DEFAULT 'pending',
	change_log  JSONB NOT NULL DEFAULT '[]',
	created_on  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_on  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS tasks_asset_id ON tasks (asset_id);
CREATE INDEX IF NOT EXISTS tasks_status ON tasks (status);
`

// Migrate creates the tables used by the service if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

// queryer is implemented by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// mapError translates driver errors into model errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", models.ErrAlreadyExists, pqErr.Detail)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", models.ErrNotFound, pqErr.Detail)
		}
	}
	return err
}

func encodeChangeLog(evs []models.StatusEvent) (string, error) {
	if evs == nil {
		evs = []models.StatusEvent{}
	}
	b, err := json.Marshal(evs)
	if err != nil {
		return "", fmt.Errorf("failed to encode change log: %w", err)
	}
	return string(b), nil
}

func decodeChangeLog(raw []byte) ([]models.StatusEvent, error) {
	var evs []models.StatusEvent
	if len(raw) == 0 {
		return evs, nil
	}
	if err := json.Unmarshal(raw, &evs); err != nil {
		return nil, fmt.Errorf("failed to decode change log: %w", err)
	}
	return evs, nil
}
