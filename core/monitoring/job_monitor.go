package monitoring

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"asset-pipeline/core/logger"
	"asset-pipeline/core/models"

	"github.com/google/uuid"
)

// DefaultPollLimit is the number of pending tasks checked per pass
const DefaultPollLimit = 1000

// Describer returns the remote state of submitted jobs
type Describer interface {
	Describe(ctx context.Context, handles []uuid.UUID) ([]models.RemoteJob, error)
}

// PendingTasks lists tasks that have not reported a terminal status, in
// cursor order
type PendingTasks interface {
	ListPendingTasks(ctx context.Context, olderThan time.Time, after models.TaskCursor, limit int) ([]models.Task, error)
}

// Reporter records a status report for a task
type Reporter interface {
	Report(ctx context.Context, taskID uuid.UUID, ev models.StatusEvent) (models.Task, error)
}

// JobMonitor reconciles pending tasks with the remote job state. It covers
// jobs whose container never called back, e.g. because it was killed before
// it could report.
type JobMonitor struct {
	tasks     PendingTasks
	describer Describer
	reporter  Reporter
	interval  time.Duration
	limit     int
	log       *logger.Logger

	mu       sync.Mutex
	cursor   models.TaskCursor
	reported atomic.Int64
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(tasks PendingTasks, describer Describer, reporter Reporter, interval time.Duration, log *logger.Logger) *JobMonitor {
	if log == nil {
		log = logger.Nop()
	}
	return &JobMonitor{
		tasks:     tasks,
		describer: describer,
		reporter:  reporter,
		interval:  interval,
		limit:     DefaultPollLimit,
		log:       log,
	}
}

// Start runs the reconciliation loop until ctx is done. A zero interval
// disables the monitor.
func (jm *JobMonitor) Start(ctx context.Context) {
	if jm.interval <= 0 {
		return
	}
	ticker := time.NewTicker(jm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := jm.Reconcile(ctx); err != nil {
				jm.log.Error("Failed to reconcile pending tasks", "error", err)
			}
		}
	}
}

// Reconcile checks the next page of pending tasks and returns the number of
// reports made. Pages continue after the last task checked and wrap to the
// oldest task once a short page is read, so jobs AWS Batch no longer knows
// cannot hide newer tasks. Tasks created within the last interval are left to
// their own callbacks.
func (jm *JobMonitor) Reconcile(ctx context.Context) (int, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	pending, err := jm.tasks.ListPendingTasks(ctx, time.Now().Add(-jm.interval), jm.cursor, jm.limit)
	if err != nil {
		return 0, err
	}
	if len(pending) < jm.limit {
		jm.cursor = models.TaskCursor{}
	} else {
		jm.cursor = pending[len(pending)-1].Cursor()
	}
	if len(pending) == 0 {
		return 0, nil
	}

	handles := make([]uuid.UUID, len(pending))
	for i, task := range pending {
		handles[i] = task.ID
	}
	remote, err := jm.describer.Describe(ctx, handles)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, job := range remote {
		ev, ok := job.StatusEvent()
		if !ok {
			continue
		}
		if _, err := jm.reporter.Report(ctx, job.Handle, ev); err != nil {
			jm.log.Error("Failed to report remote job status",
				"task_id", job.Handle.String(),
				"job", job.Name,
				"error", err,
			)
			continue
		}
		jm.log.Info("Reported remote job status", "task_id", job.Handle.String(), "job", job.Name, "status", string(job.Status))
		n++
	}
	jm.reported.Add(int64(n))
	return n, nil
}

// Reported returns the number of reports made since start
func (jm *JobMonitor) Reported() int64 {
	return jm.reported.Load()
}
