package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/events"
	"github.com/songzhibin97/dolphin-sync/types"
)

// twoVersions commits orders() and then a variant without agg_orders and with
// a new description.
func twoVersions(t *testing.T, f *fixture) (v1, v2 *CommitResult) {
	t.Helper()
	f.put(t, orders())
	v1 = f.commit(t, 100)

	def := orders()
	def.Description = "orders, load only"
	def.Tasks = def.Tasks[:1]
	def.ExplicitEdges = []types.TaskEdge{{Upstream: 0, Downstream: 1}}
	f.put(t, def)
	v2 = f.commit(t, 100)
	return v1, v2
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1, v2 := twoVersions(t, f)
	wfID := v1.WorkflowID

	t.Run("defaults to the previous version", func(t *testing.T) {
		res, err := f.svc.Diff(ctx, wfID, nil, v2.VersionID)
		require.NoError(t, err)
		require.NotNil(t, res.LeftVersionID)
		assert.Equal(t, v1.VersionID, *res.LeftVersionID)
		assert.Equal(t, 1, res.LeftVersionNo)
		assert.Equal(t, 2, res.RightVersionNo)
		assert.Equal(t, 1, res.Diff.Summary.WorkflowChanged)
		assert.Equal(t, 1, res.Diff.Summary.TasksRemoved)
		assert.Equal(t, 1, res.Diff.Summary.EdgesRemoved)
		assert.True(t, strings.HasPrefix(res.Unified, "--- v1\n+++ v2\n"))
		assert.Contains(t, res.Unified, "-    \"description\": \"daily orders\"")
		assert.Contains(t, res.Unified, "+    \"description\": \"orders, load only\"")
	})

	t.Run("first version diffs against an empty baseline", func(t *testing.T) {
		res, err := f.svc.Diff(ctx, wfID, nil, v1.VersionID)
		require.NoError(t, err)
		assert.Nil(t, res.LeftVersionID)
		assert.Equal(t, 2, res.Diff.Summary.TasksAdded)
		assert.True(t, strings.HasPrefix(res.Unified, "--- empty\n+++ v1\n"))
	})

	t.Run("explicit left version", func(t *testing.T) {
		left := v2.VersionID
		res, err := f.svc.Diff(ctx, wfID, &left, v1.VersionID)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Diff.Summary.TasksAdded)
		assert.True(t, strings.HasPrefix(res.Unified, "--- v2\n+++ v1\n"))
	})

	t.Run("identical versions", func(t *testing.T) {
		res, err := f.svc.Diff(ctx, wfID, &v1.VersionID, v1.VersionID)
		require.NoError(t, err)
		assert.False(t, res.Diff.Summary.HasChanges())
		assert.Empty(t, res.Unified)
	})

	t.Run("unknown versions and workflows", func(t *testing.T) {
		_, err := f.svc.Diff(ctx, wfID, nil, 12345)
		assert.True(t, errcode.Is(err, errcode.ErrVersionNotFound))

		_, err = f.svc.Diff(ctx, 12345, nil, v1.VersionID)
		assert.True(t, errcode.Is(err, errcode.ErrWorkflowNotFound))
	})
}

func TestRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("restores the aggregate as a new version", func(t *testing.T) {
		f := newFixture(t)
		v1, _ := twoVersions(t, f)
		wfID := v1.WorkflowID

		res, err := f.svc.Rollback(ctx, wfID, v1.VersionID, "carol")
		require.NoError(t, err)
		assert.Equal(t, 3, res.NewVersionNo)
		assert.Equal(t, v1.VersionID, res.RollbackFromVersionID)
		assert.Equal(t, v1.SnapshotHash, res.SnapshotHash)

		wf, err := f.svc.Workflow(ctx, wfID)
		require.NoError(t, err)
		assert.Equal(t, "daily orders", wf.Description)
		assert.Equal(t, res.NewVersionID, wf.CurrentVersionID)

		tasks, err := f.store.ListTasks(ctx, wfID)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "agg_orders", tasks[1].Name)
		assert.Equal(t, []int64{102}, tasks[1].InputTableIDs)

		edges, err := f.store.ListEdges(ctx, wfID)
		require.NoError(t, err)
		assert.Equal(t, []types.TaskEdge{{Upstream: 0, Downstream: 1}, {Upstream: 1, Downstream: 2}}, edges)

		versions, err := f.svc.Versions(ctx, wfID)
		require.NoError(t, err)
		require.Len(t, versions, 3)
		require.NotNil(t, versions[2].RollbackFromVersionID)
		assert.Equal(t, v1.VersionID, *versions[2].RollbackFromVersionID)
		assert.Equal(t, "carol", versions[2].Operator)
		assert.Equal(t, versions[0].Snapshot, versions[2].Snapshot)

		records, err := f.svc.SyncRecords(ctx, 10, 100)
		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.Equal(t, events.TypeVersionRolledBack, f.events[len(f.events)-1].Type)
	})

	t.Run("history is never rewritten", func(t *testing.T) {
		f := newFixture(t)
		v1, v2 := twoVersions(t, f)
		before, err := f.svc.Versions(ctx, v1.WorkflowID)
		require.NoError(t, err)

		_, err = f.svc.Rollback(ctx, v1.WorkflowID, v1.VersionID, "")
		require.NoError(t, err)
		_, err = f.svc.Rollback(ctx, v1.WorkflowID, v2.VersionID, "")
		require.NoError(t, err)

		after, err := f.svc.Versions(ctx, v1.WorkflowID)
		require.NoError(t, err)
		require.Len(t, after, 4)
		assert.Equal(t, before, after[:2])
	})

	t.Run("v1 snapshots are unsupported", func(t *testing.T) {
		f := newFixture(t)
		f.put(t, orders())
		res := f.commit(t, 100)

		require.NoError(t, f.store.InsertVersion(ctx, types.WorkflowVersion{
			ID: 9001, WorkflowID: res.WorkflowID, VersionNo: 2, SchemaVersion: types.SnapshotSchemaV1,
			Snapshot: `{"workflow":{"name":"orders_daily"}}`,
		}))
		_, err := f.svc.Rollback(ctx, res.WorkflowID, 9001, "")
		assert.True(t, errcode.Is(err, errcode.ErrVersionSnapshotUnsupported))

		require.NoError(t, f.store.InsertVersion(ctx, types.WorkflowVersion{
			ID: 9002, WorkflowID: res.WorkflowID, VersionNo: 3, SchemaVersion: types.SnapshotSchemaV2,
			Snapshot: `{"workflow":{"name":"orders_daily"}}`,
		}))
		_, err = f.svc.Rollback(ctx, res.WorkflowID, 9002, "")
		assert.True(t, errcode.Is(err, errcode.ErrVersionSnapshotUnsupported))
	})

	t.Run("missing targets", func(t *testing.T) {
		f := newFixture(t)
		f.put(t, orders())
		res := f.commit(t, 100)

		_, err := f.svc.Rollback(ctx, res.WorkflowID, 4242, "")
		assert.True(t, errcode.Is(err, errcode.ErrVersionNotFound))
		_, err = f.svc.Rollback(ctx, 4242, res.VersionID, "")
		assert.True(t, errcode.Is(err, errcode.ErrWorkflowNotFound))
	})

	t.Run("task claimed by another workflow", func(t *testing.T) {
		f := newFixture(t)
		v1, _ := twoVersions(t, f)

		f.put(t, &types.WorkflowDefinition{
			ProjectCode:   10,
			WorkflowCode:  200,
			Name:          "agg_only",
			Tasks:         []types.TaskDefinition{sqlTask(2, "agg_orders", sqlAgg)},
			ExplicitEdges: []types.TaskEdge{{Upstream: 0, Downstream: 2}},
		})
		f.commit(t, 200)

		_, err := f.svc.Rollback(ctx, v1.WorkflowID, v1.VersionID, "")
		require.Error(t, err)
		assert.True(t, errcode.Is(err, errcode.ErrVersionRollbackFailed))

		versions, err := f.svc.Versions(ctx, v1.WorkflowID)
		require.NoError(t, err)
		assert.Len(t, versions, 2)
	})
}

func TestDeleteVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("current version is protected", func(t *testing.T) {
		f := newFixture(t)
		_, v2 := twoVersions(t, f)

		err := f.svc.DeleteVersion(ctx, v2.WorkflowID, v2.VersionID)
		assert.True(t, errcode.Is(err, errcode.ErrVersionDeleteForbidden))
	})

	t.Run("latest published version is protected", func(t *testing.T) {
		f := newFixture(t)
		v1, v2 := twoVersions(t, f)

		_, err := f.svc.RecordPublish(ctx, v1.WorkflowID, v1.VersionID, types.StatusSuccess, "dave")
		require.NoError(t, err)
		err = f.svc.DeleteVersion(ctx, v1.WorkflowID, v1.VersionID)
		assert.True(t, errcode.Is(err, errcode.ErrVersionDeleteForbidden))

		// A failed publish does not move the guard.
		_, err = f.svc.RecordPublish(ctx, v2.WorkflowID, v2.VersionID, types.StatusFailed, "dave")
		require.NoError(t, err)
		err = f.svc.DeleteVersion(ctx, v1.WorkflowID, v1.VersionID)
		assert.True(t, errcode.Is(err, errcode.ErrVersionDeleteForbidden))

		_, err = f.svc.RecordPublish(ctx, v2.WorkflowID, v2.VersionID, types.StatusSuccess, "dave")
		require.NoError(t, err)
		require.NoError(t, f.svc.DeleteVersion(ctx, v1.WorkflowID, v1.VersionID))
	})

	t.Run("deleting nulls references", func(t *testing.T) {
		f := newFixture(t)
		v1, _ := twoVersions(t, f)
		rb, err := f.svc.Rollback(ctx, v1.WorkflowID, v1.VersionID, "")
		require.NoError(t, err)

		require.NoError(t, f.svc.DeleteVersion(ctx, v1.WorkflowID, v1.VersionID))

		versions, err := f.svc.Versions(ctx, v1.WorkflowID)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, rb.NewVersionID, versions[1].ID)
		assert.Nil(t, versions[1].RollbackFromVersionID)

		records, err := f.svc.SyncRecords(ctx, 10, 100)
		require.NoError(t, err)
		assert.Nil(t, records[0].VersionID)
		assert.NotNil(t, records[1].VersionID)

		last := f.events[len(f.events)-1]
		assert.Equal(t, events.TypeVersionDeleted, last.Type)
		assert.Equal(t, v1.VersionID, last.Data["versionId"])
	})

	t.Run("unknown versions and workflows", func(t *testing.T) {
		f := newFixture(t)
		v1, _ := twoVersions(t, f)

		err := f.svc.DeleteVersion(ctx, v1.WorkflowID, 4242)
		assert.True(t, errcode.Is(err, errcode.ErrVersionNotFound))
		err = f.svc.DeleteVersion(ctx, 4242, v1.VersionID)
		assert.True(t, errcode.Is(err, errcode.ErrWorkflowNotFound))
	})
}

func TestRecordPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.put(t, orders())
	res := f.commit(t, 100)

	rec, err := f.svc.RecordPublish(ctx, res.WorkflowID, res.VersionID, types.StatusSuccess, "erin")
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, res.VersionID, rec.VersionID)

	_, err = f.svc.RecordPublish(ctx, res.WorkflowID, res.VersionID, "pending", "erin")
	assert.True(t, errors.Is(err, ErrInvalidPublishStatus))

	_, err = f.svc.RecordPublish(ctx, res.WorkflowID, 4242, types.StatusSuccess, "erin")
	assert.True(t, errcode.Is(err, errcode.ErrVersionNotFound))
}
