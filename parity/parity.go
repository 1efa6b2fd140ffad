package parity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/r3labs/diff"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/snapshot"
	"github.com/songzhibin97/dolphin-sync/types"
)

// Change is one field-level difference between the export and legacy definitions.
type Change struct {
	Path string      `json:"path"`
	Type string      `json:"type"`
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// Result is the parity outcome of one ingestion pass.
type Result struct {
	Status  types.ParityStatus `json:"status"`
	Changes []Change           `json:"changes"`
}

// NotChecked is the result when only one path produced a definition.
func NotChecked() *Result {
	return &Result{Status: types.ParityNotChecked, Changes: []Change{}}
}

// Issue returns the warning describing an inconsistent result, or nil.
func (r *Result) Issue() *errcode.Issue {
	if r == nil || r.Status != types.ParityInconsistent {
		return nil
	}
	paths := make([]string, 0, len(r.Changes))
	for _, c := range r.Changes {
		paths = append(paths, c.Path)
	}
	return &errcode.Issue{
		Code:     errcode.WarnDefinitionParityMismatch,
		Message:  fmt.Sprintf("export and legacy definitions differ: %s", strings.Join(paths, ", ")),
		Severity: errcode.SeverityWarning,
	}
}

// Err returns the commit-time error for an inconsistent result, or nil.
func (r *Result) Err() error {
	if r == nil || r.Status != types.ParityInconsistent {
		return nil
	}
	return errcode.ErrDefinitionParityMismatch.GenWithStackByArgs(len(r.Changes))
}

// The projections below decide what parity covers: workflow scalars, schedule
// and per-task fields. Edges and lineage are not part of it.

type workflowView struct {
	Name         string        `diff:"name"`
	Description  string        `diff:"description"`
	GlobalParams string        `diff:"globalParams"`
	ReleaseState string        `diff:"releaseState"`
	Schedule     *scheduleView `diff:"schedule"`
	Tasks        []taskView    `diff:"tasks"`
}

type scheduleView struct {
	Cron            string `diff:"cron"`
	Timezone        string `diff:"timezone"`
	StartTime       string `diff:"startTime"`
	EndTime         string `diff:"endTime"`
	FailureStrategy string `diff:"failureStrategy"`
	WarningType     string `diff:"warningType"`
	WarningGroupID  int64  `diff:"warningGroupId"`
	Priority        string `diff:"priority"`
	WorkerGroup     string `diff:"workerGroup"`
	TenantCode      string `diff:"tenantCode"`
	EnvironmentCode int64  `diff:"environmentCode"`
}

type taskView struct {
	Code           int64  `diff:"code,identifier"`
	Version        int    `diff:"version"`
	Name           string `diff:"name"`
	Kind           string `diff:"kind"`
	SQL            string `diff:"sql"`
	DataSourceID   int64  `diff:"dataSourceId"`
	DataSourceKind string `diff:"dataSourceKind"`
	RetryTimes     int    `diff:"retryTimes"`
	RetryInterval  int    `diff:"retryInterval"`
	TimeoutMinutes int    `diff:"timeoutMinutes"`
	Priority       string `diff:"priority"`
	Description    string `diff:"description"`
}

func project(def *types.WorkflowDefinition) workflowView {
	v := workflowView{
		Name:         def.Name,
		Description:  def.Description,
		GlobalParams: def.GlobalParams,
		ReleaseState: def.ReleaseState,
		Tasks:        make([]taskView, 0, len(def.Tasks)),
	}
	if s := def.Schedule; s != nil {
		v.Schedule = &scheduleView{
			Cron:            s.Cron,
			Timezone:        s.Timezone,
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			FailureStrategy: s.FailureStrategy,
			WarningType:     s.WarningType,
			WarningGroupID:  s.WarningGroupID,
			Priority:        s.Priority,
			WorkerGroup:     s.WorkerGroup,
			TenantCode:      s.TenantCode,
			EnvironmentCode: s.EnvironmentCode,
		}
	}
	for _, t := range def.Tasks {
		v.Tasks = append(v.Tasks, taskView{
			Code:           t.Code,
			Version:        t.Version,
			Name:           t.Name,
			Kind:           string(t.Kind),
			SQL:            snapshot.NormalizeSQL(t.SQL),
			DataSourceID:   t.DataSource.ID,
			DataSourceKind: t.DataSource.Kind,
			RetryTimes:     t.RetryTimes,
			RetryInterval:  t.RetryInterval,
			TimeoutMinutes: t.TimeoutMinutes,
			Priority:       t.Priority,
			Description:    t.Description,
		})
	}
	sort.Slice(v.Tasks, func(i, j int) bool { return v.Tasks[i].Code < v.Tasks[j].Code })
	return v
}

// Check compares the export and legacy normalizations of one workflow.
func Check(export, legacy *types.WorkflowDefinition) (*Result, error) {
	if export == nil || legacy == nil {
		return NotChecked(), nil
	}
	changelog, err := diff.Diff(project(legacy), project(export))
	if err != nil {
		return nil, fmt.Errorf("failed to compare definitions: %w", err)
	}
	res := &Result{Status: types.ParityConsistent, Changes: make([]Change, 0, len(changelog))}
	for _, c := range changelog {
		res.Changes = append(res.Changes, Change{
			Path: strings.Join(c.Path, "."),
			Type: c.Type,
			From: c.From,
			To:   c.To,
		})
	}
	sort.SliceStable(res.Changes, func(i, j int) bool { return res.Changes[i].Path < res.Changes[j].Path })
	if len(res.Changes) > 0 {
		res.Status = types.ParityInconsistent
	}
	return res, nil
}
