package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/songzhibin97/dolphin-sync/normalize"
	"github.com/songzhibin97/dolphin-sync/types"
)

type workflowKey struct {
	project  int64
	workflow int64
}

type fixture struct {
	summary   WorkflowSummary
	legacy    *normalize.LegacyPayload
	export    []byte
	legacyErr error
	exportErr error
}

// StaticClient serves workflows from memory. It backs tests, the examples
// and the CLI's fixture mode.
type StaticClient struct {
	workflows map[workflowKey]*fixture
	mu        sync.RWMutex
}

// NewStaticClient creates an empty StaticClient.
func NewStaticClient() *StaticClient {
	return &StaticClient{workflows: make(map[workflowKey]*fixture)}
}

func (c *StaticClient) entry(projectCode, workflowCode int64) *fixture {
	key := workflowKey{projectCode, workflowCode}
	f, ok := c.workflows[key]
	if !ok {
		f = &fixture{summary: WorkflowSummary{ProjectCode: projectCode, Code: workflowCode}}
		c.workflows[key] = f
	}
	return f
}

// Put renders def in both engine shapes and serves them.
func (c *StaticClient) Put(def *types.WorkflowDefinition) error {
	export, err := RenderExport(def)
	if err != nil {
		return err
	}
	legacy, err := RenderLegacy(def)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.entry(def.ProjectCode, def.WorkflowCode)
	f.summary.Name = def.Name
	f.summary.Description = def.Description
	f.summary.ReleaseState = def.ReleaseState
	if def.Schedule != nil {
		f.summary.ScheduleReleaseState = def.Schedule.ReleaseState
	}
	f.export, f.legacy = export, legacy
	f.exportErr, f.legacyErr = nil, nil
	return nil
}

// SetExport replaces the export document of one workflow.
func (c *StaticClient) SetExport(projectCode, workflowCode int64, doc []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(projectCode, workflowCode).export = append([]byte(nil), doc...)
}

// SetLegacy replaces the legacy documents of one workflow.
func (c *StaticClient) SetLegacy(projectCode, workflowCode int64, p *normalize.LegacyPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(projectCode, workflowCode).legacy = p
}

// FailExport makes FetchExport return err for one workflow.
func (c *StaticClient) FailExport(projectCode, workflowCode int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(projectCode, workflowCode).exportErr = err
}

// FailLegacy makes FetchLegacy return err for one workflow.
func (c *StaticClient) FailLegacy(projectCode, workflowCode int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(projectCode, workflowCode).legacyErr = err
}

func (c *StaticClient) get(ctx context.Context, projectCode, workflowCode int64) (*fixture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.workflows[workflowKey{projectCode, workflowCode}]
	if !ok {
		return nil, fmt.Errorf("%w: project=%d workflow=%d", ErrWorkflowNotFound, projectCode, workflowCode)
	}
	cp := *f
	return &cp, nil
}

func (c *StaticClient) FetchLegacy(ctx context.Context, projectCode, workflowCode int64) (*normalize.LegacyPayload, error) {
	f, err := c.get(ctx, projectCode, workflowCode)
	if err != nil {
		return nil, err
	}
	if f.legacyErr != nil {
		return nil, f.legacyErr
	}
	if f.legacy == nil {
		return nil, fmt.Errorf("%w: no legacy documents for workflow %d", ErrWorkflowNotFound, workflowCode)
	}
	p := *f.legacy
	return &p, nil
}

func (c *StaticClient) FetchExport(ctx context.Context, projectCode, workflowCode int64) ([]byte, error) {
	f, err := c.get(ctx, projectCode, workflowCode)
	if err != nil {
		return nil, err
	}
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	if f.export == nil {
		return nil, fmt.Errorf("%w: no export document for workflow %d", ErrWorkflowNotFound, workflowCode)
	}
	return append([]byte(nil), f.export...), nil
}

// ListWorkflows returns the project's workflows ordered by code.
func (c *StaticClient) ListWorkflows(ctx context.Context, projectCode int64) ([]WorkflowSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []WorkflowSummary{}
	for key, f := range c.workflows {
		if key.project == projectCode {
			out = append(out, f.summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func renderDefinition(def *types.WorkflowDefinition) map[string]interface{} {
	return map[string]interface{}{
		"code":         def.WorkflowCode,
		"projectCode":  def.ProjectCode,
		"name":         def.Name,
		"description":  def.Description,
		"globalParams": def.GlobalParams,
		"releaseState": def.ReleaseState,
	}
}

func renderTask(t types.TaskDefinition, nestedParams bool) (map[string]interface{}, error) {
	params := map[string]interface{}{
		"rawScript":      t.SQL,
		"datasource":     t.DataSource.ID,
		"type":           t.DataSource.Kind,
		"datasourceName": t.DataSource.Name,
	}
	var encoded interface{} = params
	if nestedParams {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		encoded = string(b)
	}
	return map[string]interface{}{
		"code":              t.Code,
		"version":           t.Version,
		"name":              t.Name,
		"taskType":          string(t.Kind),
		"taskParams":        encoded,
		"failRetryTimes":    t.RetryTimes,
		"failRetryInterval": t.RetryInterval,
		"timeout":           t.TimeoutMinutes,
		"taskPriority":      t.Priority,
		"description":       t.Description,
	}, nil
}

func renderRelations(edges []types.TaskEdge) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(edges))
	for _, e := range edges {
		out = append(out, map[string]interface{}{"preTaskCode": e.Upstream, "postTaskCode": e.Downstream})
	}
	return out
}

func renderSchedule(s *types.ScheduleSpec) map[string]interface{} {
	if s == nil {
		return nil
	}
	return map[string]interface{}{
		"crontab":                 s.Cron,
		"timezoneId":              s.Timezone,
		"startTime":               s.StartTime,
		"endTime":                 s.EndTime,
		"failureStrategy":         s.FailureStrategy,
		"warningType":             s.WarningType,
		"warningGroupId":          s.WarningGroupID,
		"processInstancePriority": s.Priority,
		"workerGroup":             s.WorkerGroup,
		"tenantCode":              s.TenantCode,
		"environmentCode":         s.EnvironmentCode,
		"releaseState":            s.ReleaseState,
	}
}

// RenderExport renders def as a one-entry bulk export document.
func RenderExport(def *types.WorkflowDefinition) ([]byte, error) {
	tasks := make([]map[string]interface{}, 0, len(def.Tasks))
	for _, t := range def.Tasks {
		rendered, err := renderTask(t, false)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, rendered)
	}
	entry := map[string]interface{}{
		"processDefinition":       renderDefinition(def),
		"processTaskRelationList": renderRelations(def.ExplicitEdges),
		"taskDefinitionList":      tasks,
	}
	if s := renderSchedule(def.Schedule); s != nil {
		entry["schedule"] = s
	}
	return json.Marshal([]interface{}{entry})
}

// RenderLegacy renders def as the documents of the legacy query calls.
// Task parameters are JSON-encoded strings, as the legacy API returns them.
func RenderLegacy(def *types.WorkflowDefinition) (*normalize.LegacyPayload, error) {
	definition, err := json.Marshal(renderDefinition(def))
	if err != nil {
		return nil, err
	}
	tasks := make([]map[string]interface{}, 0, len(def.Tasks))
	for _, t := range def.Tasks {
		rendered, err := renderTask(t, true)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, rendered)
	}
	taskDoc, err := json.Marshal(tasks)
	if err != nil {
		return nil, err
	}
	relationDoc, err := json.Marshal(renderRelations(def.ExplicitEdges))
	if err != nil {
		return nil, err
	}
	p := &normalize.LegacyPayload{Definition: definition, Tasks: taskDoc, Relations: relationDoc}
	if s := renderSchedule(def.Schedule); s != nil {
		if p.Schedule, err = json.Marshal(s); err != nil {
			return nil, err
		}
	}
	return p, nil
}
