package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"asset-pipeline/core/models"

	"github.com/google/uuid"
)

// TaskRepository handles database operations for tasks
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `task_id, asset_id, status, change_log, created_on, updated_on`

// CreateTask inserts a task with its initial change log
func (r *TaskRepository) CreateTask(ctx context.Context, task models.Task) error {
	return createTask(ctx, r.db, task)
}

// GetTask retrieves a task by ID
func (r *TaskRepository) GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return getTask(ctx, r.db, taskID, false)
}

// ListTasks retrieves all tasks of an asset, oldest first
func (r *TaskRepository) ListTasks(ctx context.Context, assetID uuid.UUID) ([]models.Task, error) {
	return listTasks(ctx, r.db, assetID)
}

// ListPendingTasks retrieves up to limit tasks without a terminal status
// created before olderThan, in (created_on, task_id) order starting after the
// cursor
func (r *TaskRepository) ListPendingTasks(ctx context.Context, olderThan time.Time, after models.TaskCursor, limit int) ([]models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1 AND created_on < $2 AND (created_on, task_id) > ($3, $4)
		ORDER BY created_on, task_id
		LIMIT $5
	`
	rows, err := r.db.QueryContext(ctx, query, models.EventPending, olderThan, after.CreatedOn, after.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CountPendingTasks returns the number of tasks without a terminal status
func (r *TaskRepository) CountPendingTasks(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = $1`, models.EventPending).Scan(&n)
	return n, err
}

// Recorder returns the recording capability for jobs of one asset: every
// submitted job becomes a task of that asset.
func (r *TaskRepository) Recorder(assetID uuid.UUID) models.Recorder {
	return taskRecorder(r, assetID)
}

type taskCreator interface {
	CreateTask(ctx context.Context, task models.Task) error
}

func taskRecorder(c taskCreator, assetID uuid.UUID) models.Recorder {
	return models.RecorderFunc(func(ctx context.Context, handle uuid.UUID, ev models.StatusEvent) error {
		return c.CreateTask(ctx, models.Task{
			ID:        handle,
			AssetID:   assetID,
			Status:    ev.Status,
			ChangeLog: []models.StatusEvent{ev},
		})
	})
}

func createTask(ctx context.Context, q queryer, task models.Task) error {
	changeLog, err := encodeChangeLog(task.ChangeLog)
	if err != nil {
		return err
	}
	status := task.Status
	if status == "" {
		status = models.EventPending
		if n := len(task.ChangeLog); n > 0 {
			status = task.ChangeLog[n-1].Status
		}
	}

	query := `
		INSERT INTO tasks (task_id, asset_id, status, change_log, created_on, updated_on)
		VALUES ($1, $2, $3, $4::jsonb, NOW(), NOW())
	`
	_, err = q.ExecContext(ctx, query, task.ID, task.AssetID, status, changeLog)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.ID, mapError(err))
	}
	return nil
}

func getTask(ctx context.Context, q queryer, taskID uuid.UUID, forUpdate bool) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	task, err := scanTask(q.QueryRowContext(ctx, query, taskID))
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, mapError(err))
	}
	return task, nil
}

func listTasks(ctx context.Context, q queryer, assetID uuid.UUID) ([]models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE asset_id = $1
		ORDER BY created_on, task_id
	`
	rows, err := q.QueryContext(ctx, query, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func appendTaskEvents(ctx context.Context, q queryer, taskID uuid.UUID, evs []models.StatusEvent) (*models.Task, error) {
	changeLog, err := encodeChangeLog(evs)
	if err != nil {
		return nil, err
	}
	status := models.EventPending
	if n := len(evs); n > 0 {
		status = evs[n-1].Status
	}

	query := `
		UPDATE tasks
		SET change_log = change_log || $2::jsonb, status = $3, updated_on = NOW()
		WHERE task_id = $1
		RETURNING ` + taskColumns
	task, err := scanTask(q.QueryRowContext(ctx, query, taskID, changeLog, status))
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, mapError(err))
	}
	return task, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var changeLog []byte
	if err := row.Scan(&task.ID, &task.AssetID, &task.Status, &changeLog, &task.CreatedOn, &task.UpdatedOn); err != nil {
		return nil, err
	}
	evs, err := decodeChangeLog(changeLog)
	if err != nil {
		return nil, err
	}
	task.ChangeLog = evs
	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}
