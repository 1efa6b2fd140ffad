package parity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/types"
)

func definition() *types.WorkflowDefinition {
	return &types.WorkflowDefinition{
		Name:     "orders",
		Schedule: &types.ScheduleSpec{Cron: "0 0 1 * * ? *"},
		Tasks: []types.TaskDefinition{
			{Code: 1, Name: "extract", Kind: types.NodeKindSQL, SQL: "select 1"},
			{Code: 2, Name: "load", Kind: types.NodeKindSQL, SQL: "select 2"},
		},
		ExplicitEdges: []types.TaskEdge{{Upstream: 0, Downstream: 1}},
	}
}

func TestCheck(t *testing.T) {
	t.Run("not checked", func(t *testing.T) {
		res, err := Check(definition(), nil)
		require.NoError(t, err)
		assert.Equal(t, types.ParityNotChecked, res.Status)
		assert.Nil(t, res.Issue())
		assert.NoError(t, res.Err())
	})

	t.Run("consistent ignores edges, order and line endings", func(t *testing.T) {
		export := definition()
		legacy := definition()
		legacy.Tasks[0], legacy.Tasks[1] = legacy.Tasks[1], legacy.Tasks[0]
		legacy.Tasks[0].SQL = "select 2\r\n"
		legacy.ExplicitEdges = nil
		legacy.RawPayload = []byte("different")

		res, err := Check(export, legacy)
		require.NoError(t, err)
		assert.Equal(t, types.ParityConsistent, res.Status)
		assert.Empty(t, res.Changes)
		assert.Nil(t, res.Issue())
	})

	t.Run("inconsistent", func(t *testing.T) {
		export := definition()
		legacy := definition()
		legacy.Tasks[1].RetryTimes = 3
		legacy.Schedule.Cron = "0 0 2 * * ? *"

		res, err := Check(export, legacy)
		require.NoError(t, err)
		assert.Equal(t, types.ParityInconsistent, res.Status)
		require.Len(t, res.Changes, 2)
		assert.Equal(t, "schedule.cron", res.Changes[0].Path)
		assert.Equal(t, "tasks.2.retryTimes", res.Changes[1].Path)
		assert.Equal(t, 3, res.Changes[1].From)
		assert.Equal(t, 0, res.Changes[1].To)

		issue := res.Issue()
		require.NotNil(t, issue)
		assert.Equal(t, errcode.WarnDefinitionParityMismatch, issue.Code)
		assert.Contains(t, issue.Message, "tasks.2.retryTimes")
		assert.Equal(t, "DEFINITION_PARITY_MISMATCH", errcode.Code(res.Err()))
	})

	t.Run("task present on one side", func(t *testing.T) {
		export := definition()
		legacy := definition()
		legacy.Tasks = legacy.Tasks[:1]

		res, err := Check(export, legacy)
		require.NoError(t, err)
		assert.Equal(t, types.ParityInconsistent, res.Status)
		for _, c := range res.Changes {
			assert.Equal(t, "create", c.Type)
		}
	})

	t.Run("schedule missing on one side", func(t *testing.T) {
		export := definition()
		legacy := definition()
		legacy.Schedule = nil

		res, err := Check(export, legacy)
		require.NoError(t, err)
		assert.Equal(t, types.ParityInconsistent, res.Status)
	})
}
