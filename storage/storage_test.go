package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/dolphin-sync/types"
)

// Helper function to create a sample workflow
func newWorkflow(id, workflowCode int64) types.LocalWorkflow {
	return types.LocalWorkflow{
		ID:                 id,
		EngineProjectCode:  1,
		EngineWorkflowCode: workflowCode,
		Name:               "orders",
		GlobalParams:       `[{"prop":"dt"}]`,
		ReleaseState:       "ONLINE",
		Schedule:           types.ScheduleSpec{Cron: "0 0 1 * * ? *", Timezone: "UTC"},
		LastSyncStatus:     types.StatusSuccess,
	}
}

// Helper function to create a sample task
func newTask(id int64, name string, engineCode, workflowID int64) types.LocalTask {
	return types.LocalTask{
		ID:             id,
		Name:           name,
		Code:           name,
		EngineTaskCode: engineCode,
		WorkflowID:     workflowID,
		Kind:           types.NodeKindSQL,
		SQL:            "insert into b select * from a",
		InputTableIDs:  []int64{1},
		OutputTableIDs: []int64{2},
	}
}

func newVersion(id, workflowID int64, no int) types.WorkflowVersion {
	return types.WorkflowVersion{
		ID:            id,
		WorkflowID:    workflowID,
		VersionNo:     no,
		SchemaVersion: types.SnapshotSchemaV2,
		Snapshot:      `{"schemaVersion":2}`,
		SnapshotHash:  "h",
	}
}

func int64Ptr(v int64) *int64 { return &v }

// runStoreSuite exercises the behavior every Store implementation shares.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("Workflows", func(t *testing.T) {
		store := newStore(t)
		wf := newWorkflow(10, 100)
		require.NoError(t, store.SaveWorkflow(ctx, wf))

		got, err := store.GetWorkflow(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, wf.Name, got.Name)
		assert.Equal(t, wf.Schedule, got.Schedule)
		assert.Equal(t, wf.GlobalParams, got.GlobalParams)

		found, err := store.FindWorkflow(ctx, 1, 100)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, int64(10), found.ID)

		missing, err := store.FindWorkflow(ctx, 1, 999)
		require.NoError(t, err)
		assert.Nil(t, missing)

		_, err = store.GetWorkflow(ctx, 11)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)

		wf.Name = "orders_v2"
		wf.CurrentVersionID = 5
		require.NoError(t, store.SaveWorkflow(ctx, wf))
		got, err = store.GetWorkflow(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, "orders_v2", got.Name)
		assert.Equal(t, int64(5), got.CurrentVersionID)

		err = store.SaveWorkflow(ctx, newWorkflow(11, 100))
		assert.ErrorIs(t, err, ErrConstraintViolation)
	})

	t.Run("Tasks", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveTask(ctx, newTask(1, "b_task", 20, 10)))
		require.NoError(t, store.SaveTask(ctx, newTask(2, "a_task", 10, 10)))
		require.NoError(t, store.SaveTask(ctx, newTask(3, "other", 30, 11)))

		tasks, err := store.ListTasks(ctx, 10)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, int64(10), tasks[0].EngineTaskCode)
		assert.Equal(t, int64(20), tasks[1].EngineTaskCode)
		assert.Equal(t, []int64{1}, tasks[0].InputTableIDs)
		assert.Equal(t, []int64{2}, tasks[0].OutputTableIDs)

		byCode, err := store.FindTaskByEngineCode(ctx, 30)
		require.NoError(t, err)
		require.NotNil(t, byCode)
		assert.Equal(t, "other", byCode.Name)

		byName, err := store.FindTaskByName(ctx, "a_task")
		require.NoError(t, err)
		require.NotNil(t, byName)
		assert.Equal(t, int64(2), byName.ID)

		byLocalCode, err := store.FindTaskByCode(ctx, "b_task")
		require.NoError(t, err)
		require.NotNil(t, byLocalCode)
		assert.Equal(t, int64(1), byLocalCode.ID)

		none, err := store.FindTaskByName(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, none)

		dup := newTask(4, "a_task", 40, 10)
		dup.Code = "unique_code"
		assert.ErrorIs(t, store.SaveTask(ctx, dup), ErrConstraintViolation)

		dup = newTask(4, "unique_name", 40, 10)
		dup.Code = "a_task"
		assert.ErrorIs(t, store.SaveTask(ctx, dup), ErrConstraintViolation)

		assert.ErrorIs(t, store.SaveTask(ctx, newTask(4, "fresh", 10, 10)), ErrConstraintViolation)

		unbound := newTask(3, "other", 30, 0)
		require.NoError(t, store.SaveTask(ctx, unbound))
		tasks, err = store.ListTasks(ctx, 11)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("DataSources", func(t *testing.T) {
		store := newStore(t)
		ds := types.DataSource{ID: 1, EngineDataSourceID: 7, Name: "warehouse", Kind: "MYSQL", Dialect: "mysql"}
		require.NoError(t, store.SaveDataSource(ctx, ds))

		got, err := store.FindDataSource(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, ds, *got)

		missing, err := store.FindDataSource(ctx, 8)
		require.NoError(t, err)
		assert.Nil(t, missing)

		assert.ErrorIs(t, store.SaveDataSource(ctx, types.DataSource{ID: 2, EngineDataSourceID: 7}), ErrConstraintViolation)
	})

	t.Run("Edges", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.ReplaceEdges(ctx, 10, []types.TaskEdge{{Upstream: 0, Downstream: 1}, {Upstream: 1, Downstream: 2}}))
		require.NoError(t, store.ReplaceEdges(ctx, 11, []types.TaskEdge{{Upstream: 0, Downstream: 5}}))
		require.NoError(t, store.ReplaceEdges(ctx, 10, []types.TaskEdge{{Upstream: 0, Downstream: 1}, {Upstream: 1, Downstream: 3}}))

		edges, err := store.ListEdges(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []types.TaskEdge{{Upstream: 0, Downstream: 1}, {Upstream: 1, Downstream: 3}}, edges)

		require.NoError(t, store.ReplaceEdges(ctx, 11, nil))
		edges, err = store.ListEdges(ctx, 11)
		require.NoError(t, err)
		assert.Empty(t, edges)
	})

	t.Run("Versions", func(t *testing.T) {
		store := newStore(t)
		latest, err := store.LatestVersion(ctx, 10)
		require.NoError(t, err)
		assert.Nil(t, latest)

		require.NoError(t, store.InsertVersion(ctx, newVersion(102, 10, 2)))
		require.NoError(t, store.InsertVersion(ctx, newVersion(101, 10, 1)))
		require.NoError(t, store.InsertVersion(ctx, newVersion(201, 20, 1)))
		assert.ErrorIs(t, store.InsertVersion(ctx, newVersion(103, 10, 2)), ErrConstraintViolation)

		versions, err := store.ListVersions(ctx, 10)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, 1, versions[0].VersionNo)
		assert.Equal(t, 2, versions[1].VersionNo)

		latest, err = store.LatestVersion(ctx, 10)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, int64(102), latest.ID)

		got, err := store.GetVersion(ctx, 101)
		require.NoError(t, err)
		assert.Equal(t, `{"schemaVersion":2}`, got.Snapshot)
		assert.Nil(t, got.RollbackFromVersionID)

		_, err = store.GetVersion(ctx, 999)
		assert.ErrorIs(t, err, ErrVersionNotFound)
	})

	t.Run("DeleteVersionNullsReferences", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.InsertVersion(ctx, newVersion(101, 10, 1)))
		rolled := newVersion(102, 10, 2)
		rolled.RollbackFromVersionID = int64Ptr(101)
		require.NoError(t, store.InsertVersion(ctx, rolled))
		require.NoError(t, store.InsertSyncRecord(ctx, types.SyncRecord{
			ID: 1, RunID: "r1", WorkflowID: 10, EngineProjectCode: 1, EngineWorkflowCode: 100,
			Status: types.StatusSuccess, VersionID: int64Ptr(101),
		}))

		require.NoError(t, store.DeleteVersion(ctx, 101))
		assert.ErrorIs(t, store.DeleteVersion(ctx, 101), ErrVersionNotFound)

		got, err := store.GetVersion(ctx, 102)
		require.NoError(t, err)
		assert.Nil(t, got.RollbackFromVersionID)

		records, err := store.ListSyncRecords(ctx, 1, 100)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Nil(t, records[0].VersionID)
	})

	t.Run("PublishRecords", func(t *testing.T) {
		store := newStore(t)
		none, err := store.LatestPublish(ctx, 10)
		require.NoError(t, err)
		assert.Nil(t, none)

		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, store.InsertPublishRecord(ctx, types.PublishRecord{ID: 1, WorkflowID: 10, VersionID: 101, Status: types.StatusSuccess, CreatedAt: base}))
		require.NoError(t, store.InsertPublishRecord(ctx, types.PublishRecord{ID: 2, WorkflowID: 10, VersionID: 102, Status: types.StatusSuccess, CreatedAt: base.Add(time.Minute)}))
		require.NoError(t, store.InsertPublishRecord(ctx, types.PublishRecord{ID: 3, WorkflowID: 10, VersionID: 103, Status: types.StatusFailed, CreatedAt: base.Add(2 * time.Minute)}))

		latest, err := store.LatestPublish(ctx, 10)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, int64(102), latest.VersionID)
	})

	t.Run("SyncRecords", func(t *testing.T) {
		store := newStore(t)
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := int64(1); i <= 3; i++ {
			require.NoError(t, store.InsertSyncRecord(ctx, types.SyncRecord{
				ID: i, RunID: "run", EngineProjectCode: 1, EngineWorkflowCode: 100,
				Status: types.StatusFailed, ErrorCode: "SYNC_FAILED", CreatedAt: base.Add(time.Duration(i) * time.Second),
			}))
		}
		require.NoError(t, store.InsertSyncRecord(ctx, types.SyncRecord{ID: 4, EngineProjectCode: 1, EngineWorkflowCode: 200, CreatedAt: base}))
		assert.ErrorIs(t, store.InsertSyncRecord(ctx, types.SyncRecord{ID: 1, EngineProjectCode: 1, EngineWorkflowCode: 100}), ErrConstraintViolation)

		records, err := store.ListSyncRecords(ctx, 1, 100)
		require.NoError(t, err)
		require.Len(t, records, 3)
		for i, rec := range records {
			assert.Equal(t, int64(i+1), rec.ID)
			assert.Equal(t, "SYNC_FAILED", rec.ErrorCode)
		}
	})

	t.Run("InTxCommit", func(t *testing.T) {
		store := newStore(t)
		err := store.InTx(ctx, func(tx Tx) error {
			if err := tx.SaveWorkflow(ctx, newWorkflow(10, 100)); err != nil {
				return err
			}
			if err := tx.SaveTask(ctx, newTask(1, "a", 1, 10)); err != nil {
				return err
			}
			found, err := tx.FindTaskByName(ctx, "a")
			if err != nil {
				return err
			}
			assert.NotNil(t, found)
			return tx.InsertVersion(ctx, newVersion(101, 10, 1))
		})
		require.NoError(t, err)

		_, err = store.GetWorkflow(ctx, 10)
		assert.NoError(t, err)
		latest, err := store.LatestVersion(ctx, 10)
		require.NoError(t, err)
		assert.NotNil(t, latest)
	})

	t.Run("InTxRollback", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveTask(ctx, newTask(1, "taken", 1, 0)))

		boom := errors.New("boom")
		err := store.InTx(ctx, func(tx Tx) error {
			if err := tx.SaveWorkflow(ctx, newWorkflow(10, 100)); err != nil {
				return err
			}
			if err := tx.ReplaceEdges(ctx, 10, []types.TaskEdge{{Upstream: 0, Downstream: 2}}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = store.InTx(ctx, func(tx Tx) error {
			if err := tx.SaveWorkflow(ctx, newWorkflow(10, 100)); err != nil {
				return err
			}
			return tx.SaveTask(ctx, newTask(2, "taken", 2, 10))
		})
		assert.ErrorIs(t, err, ErrConstraintViolation)

		_, err = store.GetWorkflow(ctx, 10)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
		edges, err := store.ListEdges(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, edges)
	})
}
