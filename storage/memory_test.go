package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/dolphin-sync/types"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })

	t.Run("NewMemoryStore", func(t *testing.T) {
		store := NewMemoryStore()
		assert.NotNil(t, store)
		assert.Empty(t, store.state.workflows)
		assert.Empty(t, store.state.tasks)
	})

	t.Run("ReturnedTasksAreCopies", func(t *testing.T) {
		store := NewMemoryStore()
		ctx := context.Background()
		require.NoError(t, store.SaveTask(ctx, newTask(1, "a", 1, 10)))

		got, err := store.FindTaskByName(ctx, "a")
		require.NoError(t, err)
		got.InputTableIDs[0] = 99

		again, err := store.FindTaskByName(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, again.InputTableIDs)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		store := NewMemoryStore()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.SaveWorkflow(ctx, newWorkflow(1, 1))
		assert.ErrorIs(t, err, context.Canceled)

		_, err = store.GetWorkflow(ctx, 1)
		assert.ErrorIs(t, err, context.Canceled)

		err = store.InTx(ctx, func(tx Tx) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ConcurrentTransactions", func(t *testing.T) {
		store := NewMemoryStore()
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := int64(1); i <= 20; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_ = store.InTx(ctx, func(tx Tx) error {
					latest, err := tx.LatestVersion(ctx, 1)
					if err != nil {
						return err
					}
					no := 1
					if latest != nil {
						no = latest.VersionNo + 1
					}
					return tx.InsertVersion(ctx, types.WorkflowVersion{ID: id, WorkflowID: 1, VersionNo: no})
				})
			}(i)
		}
		wg.Wait()

		versions, err := store.ListVersions(ctx, 1)
		require.NoError(t, err)
		require.Len(t, versions, 20)
		for i, v := range versions {
			assert.Equal(t, i+1, v.VersionNo)
		}
	})
}
