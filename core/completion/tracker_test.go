package completion_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"asset-pipeline/core/completion"
	"asset-pipeline/core/models"
	"asset-pipeline/core/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fixture struct {
	store   *repository.MemoryStore
	tracker *completion.Tracker
	asset   *models.Asset
	tasks   []uuid.UUID
}

// newFixture creates a version with one asset holding n pending tasks
func newFixture(t *testing.T, isDefault bool, n int) *fixture {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	_, err := store.EnsureVersion(ctx, "wdpa", "v2024")
	require.NoError(t, err)

	asset := &models.Asset{
		Dataset:   "wdpa",
		Version:   "v2024",
		AssetType: models.AssetTypeGeoDatabaseTable,
		IsDefault: isDefault,
	}
	require.NoError(t, store.CreateAsset(ctx, asset))

	f := &fixture{
		store:   store,
		tracker: completion.NewTracker(store, nil),
		asset:   asset,
	}
	for i := 0; i < n; i++ {
		f.tasks = append(f.tasks, f.addTask(t, models.NewEvent(models.EventPending, "Scheduled job", "")))
	}
	return f
}

func (f *fixture) addTask(t *testing.T, ev models.StatusEvent) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.store.Recorder(f.asset.ID).Record(context.Background(), id, ev))
	return id
}

func (f *fixture) assetStatus(t *testing.T) models.AssetStatus {
	t.Helper()
	a, err := f.store.GetAsset(context.Background(), f.asset.ID)
	require.NoError(t, err)
	return a.Status
}

func (f *fixture) version(t *testing.T) *models.Version {
	t.Helper()
	v, err := f.store.GetVersion(context.Background(), f.asset.Dataset, f.asset.Version)
	require.NoError(t, err)
	return v
}

func success() models.StatusEvent { return models.NewEvent(models.EventSuccess, "Job finished", "") }
func failed() models.StatusEvent  { return models.NewEvent(models.EventFailed, "Job failed", "exit 1") }

func TestReport_FailFast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, isDefault := range []bool{true, false} {
		f := newFixture(t, isDefault, 3)

		// one task already succeeded, one still pending
		_, err := f.tracker.Report(ctx, f.tasks[0], success())
		require.NoError(t, err)

		task, err := f.tracker.Report(ctx, f.tasks[1], failed())
		require.NoError(t, err)
		assert.Equal(t, models.EventFailed, task.Status)
		assert.Equal(t, models.AssetFailed, f.assetStatus(t))

		a, err := f.store.GetAsset(ctx, f.asset.ID)
		require.NoError(t, err)
		last := a.ChangeLog[len(a.ChangeLog)-1]
		assert.Equal(t, "One or more tasks failed.", last.Message)
		assert.Equal(t, "Check /v1/tasks/"+f.tasks[1].String()+" for more detail", last.Detail)

		v := f.version(t)
		if isDefault {
			assert.Equal(t, models.VersionFailed, v.Status)
			require.Len(t, v.ChangeLog, 1)
		} else {
			assert.Equal(t, models.VersionPending, v.Status)
			assert.Empty(t, v.ChangeLog)
		}
	}
}

func TestReport_AllSuccessAggregation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, true, 3)

	_, err := f.tracker.Report(ctx, f.tasks[0], success())
	require.NoError(t, err)
	// a second success on the same task does not count twice
	_, err = f.tracker.Report(ctx, f.tasks[0], success())
	require.NoError(t, err)
	_, err = f.tracker.Report(ctx, f.tasks[1], success())
	require.NoError(t, err)
	assert.Equal(t, models.AssetPending, f.assetStatus(t))
	assert.Equal(t, models.VersionPending, f.version(t).Status)

	_, err = f.tracker.Report(ctx, f.tasks[2], success())
	require.NoError(t, err)
	assert.Equal(t, models.AssetSaved, f.assetStatus(t))
	assert.Equal(t, models.VersionSaved, f.version(t).Status)

	a, err := f.store.GetAsset(ctx, f.asset.ID)
	require.NoError(t, err)
	require.Len(t, a.ChangeLog, 1)
	assert.Equal(t, "Successfully created asset "+f.asset.ID.String()+".", a.ChangeLog[0].Message)

	// replayed success reports do not save twice
	_, err = f.tracker.Report(ctx, f.tasks[2], success())
	require.NoError(t, err)
	a, err = f.store.GetAsset(ctx, f.asset.ID)
	require.NoError(t, err)
	assert.Len(t, a.ChangeLog, 1)
}

func TestReport_NonDefaultAssetLeavesVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false, 1)

	_, err := f.tracker.Report(ctx, f.tasks[0], success())
	require.NoError(t, err)
	assert.Equal(t, models.AssetSaved, f.assetStatus(t))
	assert.Equal(t, models.VersionPending, f.version(t).Status)
}

func TestReport_FailedIsFinal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, true, 2)

	_, err := f.tracker.Report(ctx, f.tasks[0], failed())
	require.NoError(t, err)

	// every task ends up with a success event, the asset stays failed
	_, err = f.tracker.Report(ctx, f.tasks[0], success())
	require.NoError(t, err)
	_, err = f.tracker.Report(ctx, f.tasks[1], success())
	require.NoError(t, err)

	assert.Equal(t, models.AssetFailed, f.assetStatus(t))
	assert.Equal(t, models.VersionFailed, f.version(t).Status)
}

// A task whose change log is [failed, success] counts as finished because the
// first success event decides. This is kept as observed behaviour and may not
// be what operators expect.
func TestReport_FailedThenSuccessCountsAsFinished(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false, 0)

	// failure recorded at creation time does not cascade
	flaky := f.addTask(t, failed())
	other := f.addTask(t, models.NewEvent(models.EventPending, "Scheduled job", ""))

	_, err := f.tracker.Report(ctx, flaky, success())
	require.NoError(t, err)
	task, err := f.tracker.Report(ctx, other, success())
	require.NoError(t, err)
	assert.Equal(t, models.EventSuccess, task.Status)

	got, err := f.store.GetTask(ctx, flaky)
	require.NoError(t, err)
	require.Len(t, got.ChangeLog, 2)
	assert.Equal(t, models.EventFailed, got.ChangeLog[0].Status)
	assert.Equal(t, models.AssetSaved, f.assetStatus(t))
}

func TestReport_UnrecognizedStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, true, 1)

	_, err := f.tracker.Report(ctx, f.tasks[0], models.NewEvent(models.EventPending, "still running", ""))
	var unrecognized *models.UnrecognizedStatusError
	require.ErrorAs(t, err, &unrecognized)
	assert.Equal(t, models.EventPending, unrecognized.Status)

	_, err = f.tracker.Report(ctx, f.tasks[0], models.StatusEvent{Status: "bogus"})
	require.ErrorAs(t, err, &unrecognized)

	task, err := f.store.GetTask(ctx, f.tasks[0])
	require.NoError(t, err)
	assert.Len(t, task.ChangeLog, 1)
	assert.Equal(t, models.AssetPending, f.assetStatus(t))
}

func TestReportAll_RejectsUnknownStatusAnywhere(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, true, 1)

	running := models.StatusEvent{Status: "running", Message: "Job running"}
	_, err := f.tracker.ReportAll(ctx, f.tasks[0], []models.StatusEvent{running, success()})
	var unrecognized *models.UnrecognizedStatusError
	require.ErrorAs(t, err, &unrecognized)
	assert.Equal(t, models.EventStatus("running"), unrecognized.Status)

	task, err := f.store.GetTask(ctx, f.tasks[0])
	require.NoError(t, err)
	require.Len(t, task.ChangeLog, 1)
	for _, ev := range task.ChangeLog {
		assert.True(t, ev.Status.Valid(), "change log holds %q", ev.Status)
	}
	assert.Equal(t, models.AssetPending, f.assetStatus(t))
}

func TestReportAll_DecisiveStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("any failed event fails", func(t *testing.T) {
		f := newFixture(t, false, 1)
		task, err := f.tracker.ReportAll(ctx, f.tasks[0], []models.StatusEvent{failed(), success()})
		require.NoError(t, err)
		assert.Len(t, task.ChangeLog, 3)
		assert.Equal(t, models.AssetFailed, f.assetStatus(t))
	})

	t.Run("last event decides otherwise", func(t *testing.T) {
		f := newFixture(t, false, 1)
		pending := models.NewEvent(models.EventPending, "progress", "")
		_, err := f.tracker.ReportAll(ctx, f.tasks[0], []models.StatusEvent{pending, success()})
		require.NoError(t, err)
		assert.Equal(t, models.AssetSaved, f.assetStatus(t))
	})

	t.Run("empty batch is rejected", func(t *testing.T) {
		f := newFixture(t, false, 1)
		_, err := f.tracker.ReportAll(ctx, f.tasks[0], nil)
		var unrecognized *models.UnrecognizedStatusError
		require.ErrorAs(t, err, &unrecognized)
	})
}

func TestReport_UnknownTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, 1)

	_, err := f.tracker.Report(context.Background(), uuid.New(), success())
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestReport_ConcurrentSuccessSavesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, true, 32)

	var mu sync.Mutex
	saves := 0
	f.tracker.OnSaved(models.AssetTypeGeoDatabaseTable, func(context.Context, models.Asset) error {
		mu.Lock()
		saves++
		mu.Unlock()
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range f.tasks {
		id := id
		g.Go(func() error {
			_, err := f.tracker.Report(gctx, id, success())
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, models.AssetSaved, f.assetStatus(t))
	assert.Equal(t, models.VersionSaved, f.version(t).Status)
	assert.Equal(t, 1, saves)
}

func TestReport_Hooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false, 1)

	var got []models.Asset
	f.tracker.OnSaved(models.AssetTypeGeoDatabaseTable, func(_ context.Context, a models.Asset) error {
		got = append(got, a)
		return errors.New("tile cache unreachable")
	})
	f.tracker.OnSaved(models.AssetTypeCSV, func(context.Context, models.Asset) error {
		t.Fatal("hook registered for another asset type must not run")
		return nil
	})

	_, err := f.tracker.Report(ctx, f.tasks[0], success())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, f.asset.ID, got[0].ID)
	assert.Equal(t, models.AssetSaved, got[0].Status)
	// hook errors are logged only
	assert.Equal(t, models.AssetSaved, f.assetStatus(t))
}
