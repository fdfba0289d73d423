package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"asset-pipeline/api/rest/handlers"
	"asset-pipeline/config"
	"asset-pipeline/core/completion"
	"asset-pipeline/core/models"
	"asset-pipeline/core/monitoring"
	"asset-pipeline/core/pipeline"
	"asset-pipeline/core/repository"
	"asset-pipeline/core/scheduler"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeSubmitter) Submit(_ context.Context, job models.Job, _ []uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, job.Name)
	return uuid.New(), nil
}

type testServer struct {
	router *mux.Router
	store  *repository.MemoryStore
	runner *pipeline.Runner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := repository.NewMemoryStore()
	sched := scheduler.NewScheduler(&fakeSubmitter{}, scheduler.Config{}, nil)
	runner := pipeline.NewRunner(store, sched, config.DefaultJobPresets(), pipeline.Config{MaxParents: 16, Workers: 2}, nil)
	tracker := completion.NewTracker(store, nil)

	r := mux.NewRouter()
	SetupRoutes(r, Handlers{
		Tasks:     handlers.NewTaskHandler(store, tracker, nil),
		Assets:    handlers.NewAssetHandler(store, runner, nil),
		Dashboard: handlers.NewDashboardHandler(monitoring.NewMetricsExporter(store, nil), nil),
	})
	return &testServer{router: r, store: store, runner: runner}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data   T      `json:"data"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "success", resp.Status)
	return resp.Data
}

const pipelineYAML = `
pipeline:
  jobs:
    - name: create_schema
      preset: postgresql_client
      command: [create_schema.sh]
  fan_in:
    - name: load
      after: [create_schema]
      preset: gdal_python_import
      commands:
        - [load.sh, "0"]
        - [load.sh, "1"]
      then:
        name: create_index
        preset: postgresql_client
        command: [create_index.sh]
`

func createAsset(t *testing.T, s *testServer, isDefault bool) (uuid.UUID, []handlers.TaskResponse) {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/v1/datasets/wdpa/v2024/assets", handlers.CreateAssetRequest{
		AssetType:    models.AssetTypeGeoDatabaseTable,
		IsDefault:    isDefault,
		PipelineYAML: pipelineYAML,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decode[handlers.CreateAssetResponse](t, rec)
	require.NoError(t, s.runner.Wait())

	rec = s.do(t, http.MethodGet, "/v1/assets/"+created.AssetID.String()+"/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return created.AssetID, decode[[]handlers.TaskResponse](t, rec)
}

func report(t *testing.T, s *testServer, taskID uuid.UUID, status string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPatch, "/v1/tasks/"+taskID.String(), map[string]interface{}{
		"change_log": []map[string]interface{}{
			{"date_time": "2024-03-01T10:00:00", "status": status, "message": "Job " + status},
		},
	})
}

func TestAssetLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	assetID, tasks := createAsset(t, s, true)
	require.Len(t, tasks, 4)
	for _, task := range tasks {
		assert.Equal(t, models.EventPending, task.Status)
		assert.Equal(t, assetID, task.AssetID)
	}

	for _, task := range tasks {
		rec := report(t, s, task.TaskID, "success")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, "/v1/assets/"+assetID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	asset := decode[handlers.AssetResponse](t, rec)
	assert.Equal(t, models.AssetSaved, asset.Status)

	rec = s.do(t, http.MethodGet, "/v1/datasets/wdpa/v2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	version := decode[handlers.VersionResponse](t, rec)
	assert.Equal(t, models.VersionSaved, version.Status)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `asset_pipeline_assets{status="saved"} 1`)
}

func TestUpdateTask_Failure(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	assetID, tasks := createAsset(t, s, true)

	rec := report(t, s, tasks[1].TaskID, "failed")
	require.Equal(t, http.StatusOK, rec.Code)
	task := decode[handlers.TaskResponse](t, rec)
	assert.Equal(t, models.EventFailed, task.Status)
	require.Len(t, task.ChangeLog, 2)

	asset, err := s.store.GetAsset(context.Background(), assetID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetFailed, asset.Status)
	v, err := s.store.GetVersion(context.Background(), "wdpa", "v2024")
	require.NoError(t, err)
	assert.Equal(t, models.VersionFailed, v.Status)
}

func TestUpdateTask_Errors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	_, tasks := createAsset(t, s, false)

	rec := report(t, s, tasks[0].TaskID, "pending")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	got, err := s.store.GetTask(context.Background(), tasks[0].TaskID)
	require.NoError(t, err)
	assert.Len(t, got.ChangeLog, 1)

	rec = report(t, s, uuid.New(), "success")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = report(t, s, uuid.Nil, "success")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPatch, "/v1/tasks/"+tasks[0].TaskID.String(), map[string]interface{}{
		"change_log": []map[string]interface{}{
			{"status": "running", "message": "Job running"},
			{"status": "success", "message": "Job success"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	got, err = s.store.GetTask(context.Background(), tasks[0].TaskID)
	require.NoError(t, err)
	assert.Len(t, got.ChangeLog, 1)

	req := httptest.NewRequest(http.MethodPatch, "/v1/tasks/not-a-uuid", bytes.NewBufferString("{}"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPatch, "/v1/tasks/"+tasks[0].TaskID.String(), bytes.NewBufferString("{"))
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTask(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	assetID, _ := createAsset(t, s, false)

	taskID := uuid.New()
	body := map[string]interface{}{
		"asset_id": assetID,
		"change_log": []map[string]interface{}{
			{"status": "pending", "message": "Created manually"},
		},
	}

	rec := s.do(t, http.MethodPut, "/v1/tasks/"+taskID.String(), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	task := decode[handlers.TaskResponse](t, rec)
	assert.Equal(t, taskID, task.TaskID)
	require.Len(t, task.ChangeLog, 1)
	assert.False(t, task.ChangeLog[0].DateTime.IsZero())

	rec = s.do(t, http.MethodGet, "/v1/tasks/"+taskID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// duplicate id
	rec = s.do(t, http.MethodPut, "/v1/tasks/"+taskID.String(), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown status
	bogusID := uuid.New()
	rec = s.do(t, http.MethodPut, "/v1/tasks/"+bogusID.String(), map[string]interface{}{
		"asset_id": assetID,
		"change_log": []map[string]interface{}{
			{"status": "pending", "message": "Created manually"},
			{"status": "queued", "message": "Waiting"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	_, err := s.store.GetTask(context.Background(), bogusID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// unknown asset
	body["asset_id"] = uuid.New()
	rec = s.do(t, http.MethodPut, "/v1/tasks/"+uuid.NewString(), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAsset_Invalid(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	cases := []handlers.CreateAssetRequest{
		{AssetType: models.AssetTypeCSV, PipelineYAML: "pipeline: {}"},
		{PipelineYAML: pipelineYAML},
		{AssetType: models.AssetTypeCSV, PipelineYAML: "pipeline:\n  jobs:\n    - name: a\n      preset: unknown\n      command: [x]\n"},
	}
	for _, req := range cases {
		rec := s.do(t, http.MethodPost, "/v1/datasets/wdpa/v1/assets", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, "/v1/datasets/wdpa/v1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/assets/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/assets/"+uuid.NewString()+"/tasks", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
