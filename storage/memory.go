package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/dolphin-sync/types"
)

// MemoryStore is an in-memory implementation of the Store interface.
// Transactions run against a copy of the state that replaces it on success.
type MemoryStore struct {
	state *memState
	mu    sync.RWMutex
}

// NewMemoryStore creates a new MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// memState holds the tables. Its methods take no locks; it is also the Tx of MemoryStore.
type memState struct {
	workflows   map[int64]types.LocalWorkflow
	tasks       map[int64]types.LocalTask
	dataSources map[int64]types.DataSource
	edges       map[int64][]types.TaskEdge
	versions    map[int64]types.WorkflowVersion
	syncRecords []types.SyncRecord
	publishes   []types.PublishRecord
}

func newMemState() *memState {
	return &memState{
		workflows:   make(map[int64]types.LocalWorkflow),
		tasks:       make(map[int64]types.LocalTask),
		dataSources: make(map[int64]types.DataSource),
		edges:       make(map[int64][]types.TaskEdge),
		versions:    make(map[int64]types.WorkflowVersion),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.workflows {
		c.workflows[k] = v
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.dataSources {
		c.dataSources[k] = v
	}
	for k, v := range s.edges {
		c.edges[k] = v
	}
	for k, v := range s.versions {
		c.versions[k] = v
	}
	c.syncRecords = append([]types.SyncRecord(nil), s.syncRecords...)
	c.publishes = append([]types.PublishRecord(nil), s.publishes...)
	return c
}

// getItem is a standalone generic helper function.
func getItem[T any](ctx context.Context, m map[int64]T, id int64, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%d", errNotFound, id)
		}
		return item, nil
	})
}

// findItem returns the single item matching fn, or nil.
func findItem[T any](ctx context.Context, m map[int64]T, fn func(T) bool) (*T, error) {
	return withContext(ctx, func() (*T, error) {
		for _, item := range m {
			if fn(item) {
				found := item
				return &found, nil
			}
		}
		return nil, nil
	})
}

func copyTask(t types.LocalTask) types.LocalTask {
	t.InputTableIDs = append([]int64(nil), t.InputTableIDs...)
	t.OutputTableIDs = append([]int64(nil), t.OutputTableIDs...)
	return t
}

func (s *memState) GetWorkflow(ctx context.Context, id int64) (types.LocalWorkflow, error) {
	return getItem(ctx, s.workflows, id, ErrWorkflowNotFound)
}

func (s *memState) FindWorkflow(ctx context.Context, projectCode, workflowCode int64) (*types.LocalWorkflow, error) {
	return findItem(ctx, s.workflows, func(wf types.LocalWorkflow) bool {
		return wf.EngineProjectCode == projectCode && wf.EngineWorkflowCode == workflowCode
	})
}

func (s *memState) ListTasks(ctx context.Context, workflowID int64) ([]types.LocalTask, error) {
	return withContext(ctx, func() ([]types.LocalTask, error) {
		out := []types.LocalTask{}
		for _, t := range s.tasks {
			if t.WorkflowID == workflowID {
				out = append(out, copyTask(t))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].EngineTaskCode < out[j].EngineTaskCode })
		return out, nil
	})
}

func (s *memState) findTask(ctx context.Context, fn func(types.LocalTask) bool) (*types.LocalTask, error) {
	t, err := findItem(ctx, s.tasks, fn)
	if err != nil || t == nil {
		return nil, err
	}
	c := copyTask(*t)
	return &c, nil
}

func (s *memState) FindTaskByEngineCode(ctx context.Context, engineCode int64) (*types.LocalTask, error) {
	return s.findTask(ctx, func(t types.LocalTask) bool { return t.EngineTaskCode == engineCode })
}

func (s *memState) FindTaskByName(ctx context.Context, name string) (*types.LocalTask, error) {
	return s.findTask(ctx, func(t types.LocalTask) bool { return t.Name == name })
}

func (s *memState) FindTaskByCode(ctx context.Context, code string) (*types.LocalTask, error) {
	return s.findTask(ctx, func(t types.LocalTask) bool { return t.Code == code })
}

func (s *memState) FindDataSource(ctx context.Context, engineID int64) (*types.DataSource, error) {
	return findItem(ctx, s.dataSources, func(ds types.DataSource) bool { return ds.EngineDataSourceID == engineID })
}

func (s *memState) ListEdges(ctx context.Context, workflowID int64) ([]types.TaskEdge, error) {
	return withContext(ctx, func() ([]types.TaskEdge, error) {
		return append([]types.TaskEdge{}, s.edges[workflowID]...), nil
	})
}

func (s *memState) GetVersion(ctx context.Context, id int64) (types.WorkflowVersion, error) {
	return getItem(ctx, s.versions, id, ErrVersionNotFound)
}

func (s *memState) LatestVersion(ctx context.Context, workflowID int64) (*types.WorkflowVersion, error) {
	versions, err := s.ListVersions(ctx, workflowID)
	if err != nil || len(versions) == 0 {
		return nil, err
	}
	return &versions[len(versions)-1], nil
}

func (s *memState) ListVersions(ctx context.Context, workflowID int64) ([]types.WorkflowVersion, error) {
	return withContext(ctx, func() ([]types.WorkflowVersion, error) {
		out := []types.WorkflowVersion{}
		for _, v := range s.versions {
			if v.WorkflowID == workflowID {
				out = append(out, v)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].VersionNo < out[j].VersionNo })
		return out, nil
	})
}

func (s *memState) LatestPublish(ctx context.Context, workflowID int64) (*types.PublishRecord, error) {
	return withContext(ctx, func() (*types.PublishRecord, error) {
		for i := len(s.publishes) - 1; i >= 0; i-- {
			rec := s.publishes[i]
			if rec.WorkflowID == workflowID && rec.Status == types.StatusSuccess {
				return &rec, nil
			}
		}
		return nil, nil
	})
}

func (s *memState) ListSyncRecords(ctx context.Context, projectCode, workflowCode int64) ([]types.SyncRecord, error) {
	return withContext(ctx, func() ([]types.SyncRecord, error) {
		out := []types.SyncRecord{}
		for _, rec := range s.syncRecords {
			if rec.EngineProjectCode == projectCode && rec.EngineWorkflowCode == workflowCode {
				out = append(out, rec)
			}
		}
		return out, nil
	})
}

func (s *memState) SaveWorkflow(ctx context.Context, wf types.LocalWorkflow) error {
	return withContextError(ctx, func() error {
		for id, other := range s.workflows {
			if id != wf.ID && other.EngineProjectCode == wf.EngineProjectCode && other.EngineWorkflowCode == wf.EngineWorkflowCode {
				return fmt.Errorf("%w: workflow %d/%d already stored as %d", ErrConstraintViolation, wf.EngineProjectCode, wf.EngineWorkflowCode, id)
			}
		}
		s.workflows[wf.ID] = wf
		return nil
	})
}

func (s *memState) SaveTask(ctx context.Context, task types.LocalTask) error {
	return withContextError(ctx, func() error {
		for id, other := range s.tasks {
			if id == task.ID {
				continue
			}
			switch {
			case other.Name == task.Name:
				return fmt.Errorf("%w: task name %q already used by %d", ErrConstraintViolation, task.Name, id)
			case other.Code == task.Code:
				return fmt.Errorf("%w: task code %q already used by %d", ErrConstraintViolation, task.Code, id)
			case other.EngineTaskCode == task.EngineTaskCode:
				return fmt.Errorf("%w: engine task %d already stored as %d", ErrConstraintViolation, task.EngineTaskCode, id)
			}
		}
		s.tasks[task.ID] = copyTask(task)
		return nil
	})
}

func (s *memState) SaveDataSource(ctx context.Context, ds types.DataSource) error {
	return withContextError(ctx, func() error {
		for id, other := range s.dataSources {
			if id != ds.ID && other.EngineDataSourceID == ds.EngineDataSourceID {
				return fmt.Errorf("%w: data source %d already stored as %d", ErrConstraintViolation, ds.EngineDataSourceID, id)
			}
		}
		s.dataSources[ds.ID] = ds
		return nil
	})
}

func (s *memState) ReplaceEdges(ctx context.Context, workflowID int64, edges []types.TaskEdge) error {
	return withContextError(ctx, func() error {
		s.edges[workflowID] = append([]types.TaskEdge{}, edges...)
		return nil
	})
}

func (s *memState) InsertVersion(ctx context.Context, v types.WorkflowVersion) error {
	return withContextError(ctx, func() error {
		if _, ok := s.versions[v.ID]; ok {
			return fmt.Errorf("%w: version id %d exists", ErrConstraintViolation, v.ID)
		}
		for _, other := range s.versions {
			if other.WorkflowID == v.WorkflowID && other.VersionNo == v.VersionNo {
				return fmt.Errorf("%w: workflow %d already has version %d", ErrConstraintViolation, v.WorkflowID, v.VersionNo)
			}
		}
		s.versions[v.ID] = v
		return nil
	})
}

func (s *memState) DeleteVersion(ctx context.Context, id int64) error {
	return withContextError(ctx, func() error {
		if _, ok := s.versions[id]; !ok {
			return fmt.Errorf("%w: id=%d", ErrVersionNotFound, id)
		}
		delete(s.versions, id)
		for vid, v := range s.versions {
			if v.RollbackFromVersionID != nil && *v.RollbackFromVersionID == id {
				v.RollbackFromVersionID = nil
				s.versions[vid] = v
			}
		}
		for i := range s.syncRecords {
			if s.syncRecords[i].VersionID != nil && *s.syncRecords[i].VersionID == id {
				s.syncRecords[i].VersionID = nil
			}
		}
		return nil
	})
}

func (s *memState) InsertSyncRecord(ctx context.Context, rec types.SyncRecord) error {
	return withContextError(ctx, func() error {
		for _, other := range s.syncRecords {
			if other.ID == rec.ID {
				return fmt.Errorf("%w: sync record id %d exists", ErrConstraintViolation, rec.ID)
			}
		}
		s.syncRecords = append(s.syncRecords, rec)
		return nil
	})
}

func (s *memState) InsertPublishRecord(ctx context.Context, rec types.PublishRecord) error {
	return withContextError(ctx, func() error {
		for _, other := range s.publishes {
			if other.ID == rec.ID {
				return fmt.Errorf("%w: publish record id %d exists", ErrConstraintViolation, rec.ID)
			}
		}
		s.publishes = append(s.publishes, rec)
		return nil
	})
}

// InTx runs fn against a private copy of the state and publishes it if fn succeeds.
// Transactions are serialized.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	next := m.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	m.state = next
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) read() (*memState, func()) {
	m.mu.RLock()
	return m.state, m.mu.RUnlock
}

func (m *MemoryStore) write() (*memState, func()) {
	m.mu.Lock()
	return m.state, m.mu.Unlock
}

// GetWorkflow retrieves a workflow from memory.
func (m *MemoryStore) GetWorkflow(ctx context.Context, id int64) (types.LocalWorkflow, error) {
	s, done := m.read()
	defer done()
	return s.GetWorkflow(ctx, id)
}

// FindWorkflow looks a workflow up by engine coordinates.
func (m *MemoryStore) FindWorkflow(ctx context.Context, projectCode, workflowCode int64) (*types.LocalWorkflow, error) {
	s, done := m.read()
	defer done()
	return s.FindWorkflow(ctx, projectCode, workflowCode)
}

func (m *MemoryStore) ListTasks(ctx context.Context, workflowID int64) ([]types.LocalTask, error) {
	s, done := m.read()
	defer done()
	return s.ListTasks(ctx, workflowID)
}

func (m *MemoryStore) FindTaskByEngineCode(ctx context.Context, engineCode int64) (*types.LocalTask, error) {
	s, done := m.read()
	defer done()
	return s.FindTaskByEngineCode(ctx, engineCode)
}

func (m *MemoryStore) FindTaskByName(ctx context.Context, name string) (*types.LocalTask, error) {
	s, done := m.read()
	defer done()
	return s.FindTaskByName(ctx, name)
}

func (m *MemoryStore) FindTaskByCode(ctx context.Context, code string) (*types.LocalTask, error) {
	s, done := m.read()
	defer done()
	return s.FindTaskByCode(ctx, code)
}

func (m *MemoryStore) FindDataSource(ctx context.Context, engineID int64) (*types.DataSource, error) {
	s, done := m.read()
	defer done()
	return s.FindDataSource(ctx, engineID)
}

func (m *MemoryStore) ListEdges(ctx context.Context, workflowID int64) ([]types.TaskEdge, error) {
	s, done := m.read()
	defer done()
	return s.ListEdges(ctx, workflowID)
}

func (m *MemoryStore) GetVersion(ctx context.Context, id int64) (types.WorkflowVersion, error) {
	s, done := m.read()
	defer done()
	return s.GetVersion(ctx, id)
}

func (m *MemoryStore) LatestVersion(ctx context.Context, workflowID int64) (*types.WorkflowVersion, error) {
	s, done := m.read()
	defer done()
	return s.LatestVersion(ctx, workflowID)
}

func (m *MemoryStore) ListVersions(ctx context.Context, workflowID int64) ([]types.WorkflowVersion, error) {
	s, done := m.read()
	defer done()
	return s.ListVersions(ctx, workflowID)
}

func (m *MemoryStore) LatestPublish(ctx context.Context, workflowID int64) (*types.PublishRecord, error) {
	s, done := m.read()
	defer done()
	return s.LatestPublish(ctx, workflowID)
}

func (m *MemoryStore) ListSyncRecords(ctx context.Context, projectCode, workflowCode int64) ([]types.SyncRecord, error) {
	s, done := m.read()
	defer done()
	return s.ListSyncRecords(ctx, projectCode, workflowCode)
}

// SaveWorkflow saves a workflow to memory.
func (m *MemoryStore) SaveWorkflow(ctx context.Context, wf types.LocalWorkflow) error {
	s, done := m.write()
	defer done()
	return s.SaveWorkflow(ctx, wf)
}

// SaveTask saves a task to memory.
func (m *MemoryStore) SaveTask(ctx context.Context, task types.LocalTask) error {
	s, done := m.write()
	defer done()
	return s.SaveTask(ctx, task)
}

func (m *MemoryStore) SaveDataSource(ctx context.Context, ds types.DataSource) error {
	s, done := m.write()
	defer done()
	return s.SaveDataSource(ctx, ds)
}

func (m *MemoryStore) ReplaceEdges(ctx context.Context, workflowID int64, edges []types.TaskEdge) error {
	s, done := m.write()
	defer done()
	return s.ReplaceEdges(ctx, workflowID, edges)
}

func (m *MemoryStore) InsertVersion(ctx context.Context, v types.WorkflowVersion) error {
	s, done := m.write()
	defer done()
	return s.InsertVersion(ctx, v)
}

func (m *MemoryStore) DeleteVersion(ctx context.Context, id int64) error {
	s, done := m.write()
	defer done()
	return s.DeleteVersion(ctx, id)
}

func (m *MemoryStore) InsertSyncRecord(ctx context.Context, rec types.SyncRecord) error {
	s, done := m.write()
	defer done()
	return s.InsertSyncRecord(ctx, rec)
}

func (m *MemoryStore) InsertPublishRecord(ctx context.Context, rec types.PublishRecord) error {
	s, done := m.write()
	defer done()
	return s.InsertPublishRecord(ctx, rec)
}
