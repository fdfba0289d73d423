package monitoring

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"asset-pipeline/core/completion"
	"asset-pipeline/core/models"
	"asset-pipeline/core/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDescriber struct {
	jobs  map[uuid.UUID]models.RemoteJob
	asked []uuid.UUID
	err   error
}

func (f *fakeDescriber) Describe(_ context.Context, handles []uuid.UUID) ([]models.RemoteJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.asked = append(f.asked, handles...)
	var out []models.RemoteJob
	for _, h := range handles {
		if j, ok := f.jobs[h]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

// allPending ignores the age cut-off so freshly created tasks are polled
type allPending struct {
	store *repository.MemoryStore
}

func (a allPending) ListPendingTasks(ctx context.Context, _ time.Time, after models.TaskCursor, limit int) ([]models.Task, error) {
	return a.store.ListPendingTasks(ctx, time.Now().Add(time.Hour), after, limit)
}

func seed(t *testing.T, store *repository.MemoryStore, n int) (*models.Asset, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	_, err := store.EnsureVersion(ctx, "wdpa", "v1")
	require.NoError(t, err)
	asset := &models.Asset{Dataset: "wdpa", Version: "v1", AssetType: models.AssetTypeGeoDatabaseTable, IsDefault: true}
	require.NoError(t, store.CreateAsset(ctx, asset))

	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, store.Recorder(asset.ID).Record(ctx, ids[i], models.NewEvent(models.EventPending, "Scheduled job", "")))
	}
	return asset, ids
}

func TestJobMonitor_Reconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	asset, ids := seed(t, store, 3)

	describer := &fakeDescriber{jobs: map[uuid.UUID]models.RemoteJob{
		ids[0]: {Handle: ids[0], Name: "load_0", Status: models.RemoteSucceeded},
		ids[1]: {Handle: ids[1], Name: "load_1", Status: models.RemoteRunning},
		ids[2]: {Handle: ids[2], Name: "load_2", Status: models.RemoteSucceeded},
	}}
	tracker := completion.NewTracker(store, nil)
	jm := NewJobMonitor(allPending{store}, describer, tracker, time.Minute, nil)

	n, err := jm.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, describer.asked, 3)

	task, err := store.GetTask(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.EventSuccess, task.Status)
	assert.Equal(t, "Successfully completed job load_0", task.ChangeLog[1].Message)

	a, err := store.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetPending, a.Status)

	// the running job fails; reported tasks are not polled again
	describer.jobs[ids[1]] = models.RemoteJob{Handle: ids[1], Name: "load_1", Status: models.RemoteFailed, Reason: "OutOfMemoryError"}
	describer.asked = nil

	n, err = jm.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{ids[1]}, describer.asked)
	assert.Equal(t, int64(3), jm.Reported())

	a, err = store.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetFailed, a.Status)

	task, err = store.GetTask(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "OutOfMemoryError", task.ChangeLog[1].Detail)
}

func TestJobMonitor_DescribeError(t *testing.T) {
	t.Parallel()

	store := repository.NewMemoryStore()
	seed(t, store, 1)

	boom := errors.New("throttled")
	jm := NewJobMonitor(allPending{store}, &fakeDescriber{err: boom}, completion.NewTracker(store, nil), time.Minute, nil)
	_, err := jm.Reconcile(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestJobMonitor_StartDisabled(t *testing.T) {
	t.Parallel()

	jm := NewJobMonitor(nil, nil, nil, 0, nil)
	done := make(chan struct{})
	go func() {
		jm.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled monitor did not return")
	}
}

func TestMetricsExporter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	asset, ids := seed(t, store, 2)
	_, err := completion.NewTracker(store, nil).Report(ctx, ids[0], models.NewEvent(models.EventFailed, "boom", ""))
	require.NoError(t, err)

	jm := NewJobMonitor(allPending{store}, &fakeDescriber{}, nil, time.Minute, nil)
	text, err := NewMetricsExporter(store, jm).GetPrometheusMetrics(ctx)
	require.NoError(t, err)

	assert.Contains(t, text, `asset_pipeline_assets{status="failed"} 1`)
	assert.Contains(t, text, `asset_pipeline_assets{status="saved"} 0`)
	assert.Contains(t, text, `asset_pipeline_versions{status="failed"} 1`)
	assert.Contains(t, text, "asset_pipeline_pending_tasks 1\n")
	assert.Contains(t, text, "asset_pipeline_reconciled_reports_total 0\n")
	assert.True(t, strings.HasPrefix(text, "# HELP asset_pipeline_assets"))
	assert.NotEqual(t, uuid.Nil, asset.ID)
}

func TestJobMonitor_PagesPastUnknownJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	_, stale := seed(t, store, 60)
	fresh := uuid.New()
	require.NoError(t, store.Recorder(mustTask(t, store, stale[0]).AssetID).Record(ctx, fresh, models.NewEvent(models.EventPending, "Scheduled job", "")))

	// only the newest job is still known to AWS Batch
	describer := &fakeDescriber{jobs: map[uuid.UUID]models.RemoteJob{
		fresh: {Handle: fresh, Name: "create_index", Status: models.RemoteSucceeded},
	}}
	jm := NewJobMonitor(allPending{store}, describer, completion.NewTracker(store, nil), time.Minute, nil)
	jm.limit = 50

	total := 0
	for i := 0; i < 2; i++ {
		n, err := jm.Reconcile(ctx)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, 1, total)
	assert.Len(t, describer.asked, 61, "every pending task is checked once per cycle")

	task := mustTask(t, store, fresh)
	assert.Equal(t, models.EventSuccess, task.Status)

	// the short page wrapped the cursor back to the oldest task
	describer.asked = nil
	_, err := jm.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, describer.asked, 50)
	oldest, err := store.ListPendingTasks(ctx, time.Now().Add(time.Hour), models.TaskCursor{}, 1)
	require.NoError(t, err)
	assert.Equal(t, oldest[0].ID, describer.asked[0])
}

func mustTask(t *testing.T, store *repository.MemoryStore, id uuid.UUID) *models.Task {
	t.Helper()
	task, err := store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}
