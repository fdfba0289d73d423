package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"asset-pipeline/core/completion"
	"asset-pipeline/core/models"

	"github.com/google/uuid"
)

type versionKey struct {
	dataset string
	version string
}

// MemoryStore is an in-process Store with the same semantics as Postgres.
// Writes to one asset and its tasks are serialized by a per-asset lock, which
// stands in for the row lock PostgreSQL takes.
type MemoryStore struct {
	mu         sync.RWMutex
	versions   map[versionKey]*models.Version
	assets     map[uuid.UUID]*models.Asset
	assetLocks map[uuid.UUID]*sync.Mutex
	tasks      map[uuid.UUID]*models.Task
	taskOrder  map[uuid.UUID][]uuid.UUID // asset -> tasks in creation order
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions:   make(map[versionKey]*models.Version),
		assets:     make(map[uuid.UUID]*models.Asset),
		assetLocks: make(map[uuid.UUID]*sync.Mutex),
		tasks:      make(map[uuid.UUID]*models.Task),
		taskOrder:  make(map[uuid.UUID][]uuid.UUID),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EnsureVersion creates the version as pending unless it exists
func (s *MemoryStore) EnsureVersion(ctx context.Context, dataset, version string) (*models.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey{dataset, version}
	v, ok := s.versions[key]
	if !ok {
		now := s.now()
		v = &models.Version{
			Dataset:   dataset,
			Version:   version,
			Status:    models.VersionPending,
			ChangeLog: []models.StatusEvent{},
			CreatedOn: now,
			UpdatedOn: now,
		}
		s.versions[key] = v
	}
	return cloneVersion(v), nil
}

// GetVersion retrieves a version
func (s *MemoryStore) GetVersion(ctx context.Context, dataset, version string) (*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[versionKey{dataset, version}]
	if !ok {
		return nil, fmt.Errorf("version %s.%s: %w", dataset, version, models.ErrNotFound)
	}
	return cloneVersion(v), nil
}

// AppendVersionEvent appends ev to the version change log
func (s *MemoryStore) AppendVersionEvent(ctx context.Context, dataset, version string, ev models.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyVersion(dataset, version, "", ev)
}

// UpdateVersionStatus sets the version status and appends ev
func (s *MemoryStore) UpdateVersionStatus(ctx context.Context, dataset, version string, status models.VersionStatus, ev models.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyVersion(dataset, version, status, ev)
}

// applyVersion must be called with s.mu held. An empty status keeps the
// current one.
func (s *MemoryStore) applyVersion(dataset, version string, status models.VersionStatus, ev models.StatusEvent) error {
	v, ok := s.versions[versionKey{dataset, version}]
	if !ok {
		return fmt.Errorf("version %s.%s: %w", dataset, version, models.ErrNotFound)
	}
	if status != "" {
		v.Status = status
	}
	v.ChangeLog = append(v.ChangeLog, ev)
	v.UpdatedOn = s.now()
	return nil
}

// CountVersionsByStatus returns the number of versions per status
func (s *MemoryStore) CountVersionsByStatus(ctx context.Context) (map[models.VersionStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[models.VersionStatus]int{}
	for _, v := range s.versions {
		counts[v.Status]++
	}
	return counts, nil
}

// CreateAsset inserts an asset. The version must exist and hold no other
// default asset when asset.IsDefault is set.
func (s *MemoryStore) CreateAsset(ctx context.Context, asset *models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if asset.Status == "" {
		asset.Status = models.AssetPending
	}
	if _, ok := s.versions[versionKey{asset.Dataset, asset.Version}]; !ok {
		return fmt.Errorf("failed to create asset for %s.%s: %w", asset.Dataset, asset.Version, models.ErrNotFound)
	}
	if _, ok := s.assets[asset.ID]; ok {
		return fmt.Errorf("asset %s: %w", asset.ID, models.ErrAlreadyExists)
	}
	if asset.IsDefault {
		for _, other := range s.assets {
			if other.IsDefault && other.Dataset == asset.Dataset && other.Version == asset.Version {
				return fmt.Errorf("default asset for %s.%s: %w", asset.Dataset, asset.Version, models.ErrAlreadyExists)
			}
		}
	}

	now := s.now()
	asset.CreatedOn = now
	asset.UpdatedOn = now
	if asset.ChangeLog == nil {
		asset.ChangeLog = []models.StatusEvent{}
	}
	s.assets[asset.ID] = cloneAsset(asset)
	s.assetLocks[asset.ID] = &sync.Mutex{}
	return nil
}

// GetAsset retrieves an asset by ID
func (s *MemoryStore) GetAsset(ctx context.Context, assetID uuid.UUID) (*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, models.ErrNotFound)
	}
	return cloneAsset(a), nil
}

// AppendAssetEvent appends ev to the asset change log
func (s *MemoryStore) AppendAssetEvent(ctx context.Context, assetID uuid.UUID, ev models.StatusEvent) error {
	return s.updateAsset(assetID, "", ev)
}

// UpdateAssetStatus sets the asset status and appends ev
func (s *MemoryStore) UpdateAssetStatus(ctx context.Context, assetID uuid.UUID, status models.AssetStatus, ev models.StatusEvent) error {
	return s.updateAsset(assetID, status, ev)
}

func (s *MemoryStore) updateAsset(assetID uuid.UUID, status models.AssetStatus, ev models.StatusEvent) error {
	unlock, err := s.lockAsset(assetID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.assets[assetID]
	if status != "" {
		a.Status = status
	}
	a.ChangeLog = append(a.ChangeLog, ev)
	a.UpdatedOn = s.now()
	return nil
}

// CountAssetsByStatus returns the number of assets per status
func (s *MemoryStore) CountAssetsByStatus(ctx context.Context) (map[models.AssetStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[models.AssetStatus]int{}
	for _, a := range s.assets {
		counts[a.Status]++
	}
	return counts, nil
}

// CreateTask inserts a task for an existing asset
func (s *MemoryStore) CreateTask(ctx context.Context, task models.Task) error {
	unlock, err := s.lockAsset(task.AssetID)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.ID, err)
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("failed to create task %s: %w", task.ID, models.ErrAlreadyExists)
	}
	if task.Status == "" {
		task.Status = models.EventPending
		if n := len(task.ChangeLog); n > 0 {
			task.Status = task.ChangeLog[n-1].Status
		}
	}
	if task.ChangeLog == nil {
		task.ChangeLog = []models.StatusEvent{}
	}
	now := s.now()
	task.CreatedOn = now
	task.UpdatedOn = now

	s.tasks[task.ID] = cloneTask(&task)
	s.taskOrder[task.AssetID] = append(s.taskOrder[task.AssetID], task.ID)
	return nil
}

// GetTask retrieves a task by ID
func (s *MemoryStore) GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	return cloneTask(t), nil
}

// ListTasks retrieves all tasks of an asset in creation order
func (s *MemoryStore) ListTasks(ctx context.Context, assetID uuid.UUID) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTasks(assetID, nil), nil
}

// listTasks must be called with s.mu held. Tasks in staged replace the stored
// copies.
func (s *MemoryStore) listTasks(assetID uuid.UUID, staged map[uuid.UUID]*models.Task) []models.Task {
	ids := s.taskOrder[assetID]
	out := make([]models.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := staged[id]; ok {
			out = append(out, *cloneTask(t))
			continue
		}
		out = append(out, *cloneTask(s.tasks[id]))
	}
	return out
}

// ListPendingTasks retrieves up to limit pending tasks created before
// olderThan, in (CreatedOn, ID) order starting after the cursor
func (s *MemoryStore) ListPendingTasks(ctx context.Context, olderThan time.Time, after models.TaskCursor, limit int) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Task
	for _, t := range s.tasks {
		if t.Status == models.EventPending && t.CreatedOn.Before(olderThan) && after.Before(t.Cursor()) {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor().Before(out[j].Cursor()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountPendingTasks returns the number of pending tasks
func (s *MemoryStore) CountPendingTasks(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.tasks {
		if t.Status == models.EventPending {
			n++
		}
	}
	return n, nil
}

// Recorder returns a recorder that creates tasks of assetID
func (s *MemoryStore) Recorder(assetID uuid.UUID) models.Recorder {
	return taskRecorder(s, assetID)
}

// WithTaskAsset runs fn with the asset owning taskID locked. Changes are
// staged and applied only when fn returns nil.
func (s *MemoryStore) WithTaskAsset(ctx context.Context, taskID uuid.UUID, fn func(tx completion.AssetTx) error) error {
	s.mu.RLock()
	t, ok := s.tasks[taskID]
	var assetID uuid.UUID
	if ok {
		assetID = t.AssetID
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}

	unlock, err := s.lockAsset(assetID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	tx := &memAssetTx{
		s:     s,
		asset: *cloneAsset(s.assets[assetID]),
		tasks: map[uuid.UUID]*models.Task{},
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// lockAsset acquires the per-asset lock and returns its release function
func (s *MemoryStore) lockAsset(assetID uuid.UUID) (func(), error) {
	s.mu.RLock()
	l, ok := s.assetLocks[assetID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, models.ErrNotFound)
	}
	l.Lock()
	return l.Unlock, nil
}

type versionUpdate struct {
	status models.VersionStatus
	ev     models.StatusEvent
}

// memAssetTx stages writes made while the asset lock is held
type memAssetTx struct {
	s          *MemoryStore
	asset      models.Asset
	assetDirty bool
	tasks      map[uuid.UUID]*models.Task
	versions   []versionUpdate
}

func (t *memAssetTx) Asset() models.Asset {
	return *cloneAsset(&t.asset)
}

func (t *memAssetTx) AppendTaskEvents(ctx context.Context, taskID uuid.UUID, evs []models.StatusEvent) (models.Task, error) {
	task, ok := t.tasks[taskID]
	if !ok {
		t.s.mu.RLock()
		stored, found := t.s.tasks[taskID]
		if found {
			task = cloneTask(stored)
		}
		t.s.mu.RUnlock()
		if !found {
			return models.Task{}, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
		}
	}
	if task.AssetID != t.asset.ID {
		return models.Task{}, fmt.Errorf("task %s does not belong to asset %s: %w", taskID, t.asset.ID, models.ErrNotFound)
	}

	task.ChangeLog = append(task.ChangeLog, evs...)
	if n := len(evs); n > 0 {
		task.Status = evs[n-1].Status
	}
	task.UpdatedOn = t.s.now()
	t.tasks[taskID] = task
	return *cloneTask(task), nil
}

func (t *memAssetTx) ListTasks(ctx context.Context) ([]models.Task, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.listTasks(t.asset.ID, t.tasks), nil
}

func (t *memAssetTx) SetAssetStatus(ctx context.Context, status models.AssetStatus, ev models.StatusEvent) error {
	t.asset.Status = status
	t.asset.ChangeLog = append(t.asset.ChangeLog, ev)
	t.asset.UpdatedOn = t.s.now()
	t.assetDirty = true
	return nil
}

func (t *memAssetTx) SetVersionStatus(ctx context.Context, status models.VersionStatus, ev models.StatusEvent) error {
	t.s.mu.RLock()
	_, ok := t.s.versions[versionKey{t.asset.Dataset, t.asset.Version}]
	t.s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("version %s.%s: %w", t.asset.Dataset, t.asset.Version, models.ErrNotFound)
	}
	t.versions = append(t.versions, versionUpdate{status: status, ev: ev})
	return nil
}

func (t *memAssetTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, task := range t.tasks {
		s.tasks[id] = task
	}
	if t.assetDirty {
		s.assets[t.asset.ID] = cloneAsset(&t.asset)
	}
	for _, u := range t.versions {
		if err := s.applyVersion(t.asset.Dataset, t.asset.Version, u.status, u.ev); err != nil {
			return err
		}
	}
	return nil
}

func cloneEvents(evs []models.StatusEvent) []models.StatusEvent {
	out := make([]models.StatusEvent, len(evs))
	copy(out, evs)
	return out
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	c.ChangeLog = cloneEvents(t.ChangeLog)
	return &c
}

func cloneAsset(a *models.Asset) *models.Asset {
	c := *a
	c.ChangeLog = cloneEvents(a.ChangeLog)
	return &c
}

func cloneVersion(v *models.Version) *models.Version {
	c := *v
	c.ChangeLog = cloneEvents(v.ChangeLog)
	return &c
}
