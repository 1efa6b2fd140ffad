package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/dolphin-sync/normalize"
	"github.com/songzhibin97/dolphin-sync/types"
)

func sampleDefinition() *types.WorkflowDefinition {
	return &types.WorkflowDefinition{
		ProjectCode:  10,
		WorkflowCode: 100,
		Name:         "orders_daily",
		Description:  "daily orders",
		GlobalParams: `[{"prop":"dt","value":"${system.biz.date}"}]`,
		ReleaseState: "ONLINE",
		Schedule: &types.ScheduleSpec{
			Cron:            "0 0 2 * * ? *",
			Timezone:        "Asia/Shanghai",
			FailureStrategy: "CONTINUE",
			WarningType:     "NONE",
			Priority:        "MEDIUM",
			WorkerGroup:     "default",
			ReleaseState:    "ONLINE",
		},
		Tasks: []types.TaskDefinition{
			{
				Code: 1, Version: 2, Name: "load_orders", Kind: types.NodeKindSQL,
				SQL:        "insert into dwd.orders select * from ods.orders",
				DataSource: types.DataSourceRef{ID: 7, Name: "warehouse", Kind: "MYSQL"},
				RetryTimes: 1, RetryInterval: 5, TimeoutMinutes: 30, Priority: "HIGH",
				InputTableIDs: []int64{}, OutputTableIDs: []int64{},
			},
			{
				Code: 2, Version: 1, Name: "agg_orders", Kind: types.NodeKindSQL,
				SQL:           "insert into dws.orders select count(*) from dwd.orders",
				DataSource:    types.DataSourceRef{ID: 7, Name: "warehouse", Kind: "MYSQL"},
				InputTableIDs: []int64{}, OutputTableIDs: []int64{},
			},
		},
		ExplicitEdges: []types.TaskEdge{{Upstream: 0, Downstream: 1}, {Upstream: 1, Downstream: 2}},
	}
}

func TestStaticClient(t *testing.T) {
	ctx := context.Background()
	def := sampleDefinition()
	c := NewStaticClient()
	require.NoError(t, c.Put(def))

	t.Run("both shapes normalize to the same definition", func(t *testing.T) {
		src := Fetch(ctx, c, types.ModeExportShadow, 10, 100)
		require.NoError(t, src.ExportErr)
		require.NoError(t, src.LegacyErr)

		res, err := normalize.Normalize(types.ModeExportShadow, src, 100)
		require.NoError(t, err)
		assert.True(t, res.Shadow)
		assert.Empty(t, res.Warnings)
		assert.Equal(t, def.Tasks, res.Definition.Tasks)
		assert.Equal(t, def.ExplicitEdges, res.Definition.ExplicitEdges)
		assert.Equal(t, def.Schedule, res.Definition.Schedule)
		assert.Equal(t, res.Export.Tasks, res.Legacy.Tasks)
		assert.Equal(t, res.Export.GlobalParams, res.Legacy.GlobalParams)
	})

	t.Run("mode selects the read paths", func(t *testing.T) {
		src := Fetch(ctx, c, types.ModeLegacy, 10, 100)
		assert.Nil(t, src.Export)
		assert.NotNil(t, src.Legacy)

		src = Fetch(ctx, c, types.ModeExportOnly, 10, 100)
		assert.NotNil(t, src.Export)
		assert.Nil(t, src.Legacy)
	})

	t.Run("failures are carried in the source", func(t *testing.T) {
		c := NewStaticClient()
		require.NoError(t, c.Put(def))
		c.FailExport(10, 100, errors.New("export disabled"))
		src := Fetch(ctx, c, types.ModeExportShadow, 10, 100)
		assert.EqualError(t, src.ExportErr, "export disabled")
		assert.NoError(t, src.LegacyErr)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		_, err := c.FetchExport(ctx, 10, 999)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
		_, err = c.FetchLegacy(ctx, 11, 100)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
	})

	t.Run("list", func(t *testing.T) {
		other := sampleDefinition()
		other.WorkflowCode = 50
		other.Name = "customers"
		other.ReleaseState = "OFFLINE"
		require.NoError(t, c.Put(other))

		list, err := c.ListWorkflows(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, int64(50), list[0].Code)
		assert.Equal(t, "OFFLINE", list[0].ReleaseState)
		assert.Equal(t, "orders_daily", list[1].Name)

		list, err = c.ListWorkflows(ctx, 99)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("context canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.FetchExport(cctx, 10, 100)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestHTTPClient(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	const base = "http://engine.local/dolphinscheduler"
	newClient := func(retries uint64) *HTTPClient {
		return NewHTTPClient(HTTPClientOptions{
			BaseURL:       base + "/",
			Token:         "secret",
			MaxRetries:    retries,
			RetryInterval: time.Millisecond,
			Client:        client,
		}, nil)
	}
	ok := func(data string) httpmock.Responder {
		return func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("token") != "secret" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, "no token"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"code":0,"msg":"success","data":`+data+`}`), nil
		}
	}

	t.Run("FetchLegacy", func(t *testing.T) {
		httpmock.Reset()
		def := sampleDefinition()
		legacy, err := RenderLegacy(def)
		require.NoError(t, err)

		httpmock.RegisterResponder(http.MethodGet, base+"/projects/10/process-definition/100", ok(string(legacy.Definition)))
		httpmock.RegisterResponder(http.MethodGet, base+"/projects/10/process-definition/100/tasks", ok(string(legacy.Tasks)))
		httpmock.RegisterResponder(http.MethodGet, base+"/projects/10/process-task-relation", ok(string(legacy.Relations)))
		httpmock.RegisterResponder(http.MethodGet, base+"/projects/10/schedules",
			ok(`{"totalList":[`+string(legacy.Schedule)+`],"total":1,"totalPage":1}`))

		p, err := newClient(0).FetchLegacy(context.Background(), 10, 100)
		require.NoError(t, err)
		assert.JSONEq(t, string(legacy.Schedule), string(p.Schedule))

		parsed, err := normalize.ParseLegacy(*p)
		require.NoError(t, err)
		assert.Equal(t, def.Tasks, parsed.Tasks)
		assert.Equal(t, def.Schedule, parsed.Schedule)
		assert.Equal(t, 4, httpmock.GetTotalCallCount())
	})

	t.Run("FetchLegacy without schedule", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(http.MethodGet, base+"/projects/10/process-definition/100", ok(`{"name":"wf"}`))
		httpmock.RegisterResponder(http.MethodGet, base+"/projects/10/process-definition/100/tasks", ok(`[]`))
		httpmock.RegisterResponder(http.MethodGet, base+"/projects/10/process-task-relation", ok(`[]`))
		httpmock.RegisterResponder(http.MethodGet, base+"/projects/10/schedules", ok(`{"totalList":[],"total":0,"totalPage":0}`))

		p, err := newClient(0).FetchLegacy(context.Background(), 10, 100)
		require.NoError(t, err)
		assert.Nil(t, p.Schedule)
	})

	t.Run("FetchExport", func(t *testing.T) {
		httpmock.Reset()
		doc, err := RenderExport(sampleDefinition())
		require.NoError(t, err)
		httpmock.RegisterResponder(http.MethodPost, base+"/projects/10/process-definition/batch-export",
			httpmock.NewBytesResponder(http.StatusOK, doc))

		got, err := newClient(0).FetchExport(context.Background(), 10, 100)
		require.NoError(t, err)
		assert.Equal(t, doc, got)
	})

	t.Run("envelope errors", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(http.MethodGet, base+"/projects/10/process-definition/100",
			httpmock.NewStringResponder(http.StatusOK, `{"code":50003,"msg":"process definition 100 does not exist"}`))
		httpmock.RegisterResponder(http.MethodPost, base+"/projects/10/process-definition/batch-export",
			httpmock.NewStringResponder(http.StatusOK, `{"code":10001,"msg":"user has no permission"}`))

		_, err := newClient(3).FetchLegacy(context.Background(), 10, 100)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
		_, err = newClient(3).FetchExport(context.Background(), 10, 100)
		assert.ErrorIs(t, err, ErrEngineResponse)
		assert.Contains(t, err.Error(), "no permission")
		assert.Equal(t, 2, httpmock.GetTotalCallCount())
	})

	t.Run("retries server errors", func(t *testing.T) {
		httpmock.Reset()
		calls := 0
		httpmock.RegisterResponder(http.MethodPost, base+"/projects/10/process-definition/batch-export",
			func(req *http.Request) (*http.Response, error) {
				calls++
				if calls == 1 {
					return httpmock.NewStringResponse(http.StatusBadGateway, "bad gateway"), nil
				}
				return httpmock.NewStringResponse(http.StatusOK, `[]`), nil
			})

		got, err := newClient(2).FetchExport(context.Background(), 10, 100)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(got))
		assert.Equal(t, 2, calls)
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(http.MethodPost, base+"/projects/10/process-definition/batch-export",
			httpmock.NewStringResponder(http.StatusNotFound, "not found"))

		_, err := newClient(5).FetchExport(context.Background(), 10, 100)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
		assert.Equal(t, 1, httpmock.GetTotalCallCount())
	})

	t.Run("ListWorkflows pages", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(http.MethodGet, base+"/projects/10/process-definition",
			func(req *http.Request) (*http.Response, error) {
				switch req.URL.Query().Get("pageNo") {
				case "1":
					return httpmock.NewStringResponse(http.StatusOK,
						`{"code":0,"data":{"totalPage":2,"totalList":[{"code":1,"name":"a","releaseState":"ONLINE"}]}}`), nil
				case "2":
					return httpmock.NewStringResponse(http.StatusOK,
						`{"code":0,"data":{"totalPage":2,"totalList":[{"code":2,"name":"b","releaseState":"OFFLINE"}]}}`), nil
				}
				return httpmock.NewStringResponse(http.StatusBadRequest, "bad page"), nil
			})

		list, err := newClient(0).ListWorkflows(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, []WorkflowSummary{
			{ProjectCode: 10, Code: 1, Name: "a", ReleaseState: "ONLINE"},
			{ProjectCode: 10, Code: 2, Name: "b", ReleaseState: "OFFLINE"},
		}, list)
	})
}

func TestFirstRow(t *testing.T) {
	assert.Nil(t, firstRow(nil))
	assert.Nil(t, firstRow([]byte("null")))
	assert.Nil(t, firstRow([]byte("[]")))
	assert.Equal(t, `{"a":1}`, string(firstRow([]byte(`[{"a":1},{"a":2}]`))))
	assert.Equal(t, `{"a":1}`, string(firstRow([]byte(`{"a":1}`))))
}
