package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/dolphin-sync/types"
)

func TestSyncProject(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.put(t, orders())
		f.put(t, &types.WorkflowDefinition{
			ProjectCode:   10,
			WorkflowCode:  200,
			Name:          "orders_export",
			ReleaseState:  "OFFLINE",
			Tasks:         []types.TaskDefinition{sqlTask(3, "export_orders", sqlExport)},
			ExplicitEdges: []types.TaskEdge{{Upstream: 0, Downstream: 3}},
		})
		f.put(t, &types.WorkflowDefinition{
			ProjectCode:   10,
			WorkflowCode:  300,
			Name:          "broken",
			ReleaseState:  "ONLINE",
			Tasks:         []types.TaskDefinition{{Code: 9, Name: "notify", Kind: types.NodeKindShell}},
			ExplicitEdges: []types.TaskEdge{{Upstream: 0, Downstream: 9}},
		})
		return f
	}

	t.Run("filter selects workflows", func(t *testing.T) {
		f := setup(t)
		res, err := f.svc.SyncProject(ctx, ProjectSyncRequest{ProjectCode: 10, Filter: `releaseState == "ONLINE"`, Operator: "ops"})
		require.NoError(t, err)
		require.Len(t, res.Items, 2)
		require.Len(t, res.Skipped, 1)
		assert.Equal(t, int64(200), res.Skipped[0].Code)

		assert.Equal(t, int64(100), res.Items[0].WorkflowCode)
		assert.True(t, res.Items[0].Result.Success)
		assert.Empty(t, res.Items[0].ErrorCode)

		assert.Equal(t, int64(300), res.Items[1].WorkflowCode)
		assert.False(t, res.Items[1].Result.Success)
		assert.Equal(t, "UNSUPPORTED_NODE_TYPE", res.Items[1].ErrorCode)

		assert.Equal(t, 1, res.Succeeded)
		assert.Equal(t, 1, res.Failed)
	})

	t.Run("empty filter syncs everything", func(t *testing.T) {
		f := setup(t)
		res, err := f.svc.SyncProject(ctx, ProjectSyncRequest{ProjectCode: 10})
		require.NoError(t, err)
		assert.Len(t, res.Items, 3)
		assert.Empty(t, res.Skipped)
		assert.Equal(t, 2, res.Succeeded)
	})

	t.Run("invalid filter", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.SyncProject(ctx, ProjectSyncRequest{ProjectCode: 10, Filter: `releaseState ==`})
		assert.Error(t, err)
	})

	t.Run("non boolean filter", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.SyncProject(ctx, ProjectSyncRequest{ProjectCode: 10, Filter: `name`})
		assert.Error(t, err)
	})
}
