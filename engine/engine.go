package engine

import (
	"context"
	"errors"

	"github.com/songzhibin97/dolphin-sync/normalize"
	"github.com/songzhibin97/dolphin-sync/types"
)

// Errors
var (
	ErrWorkflowNotFound = errors.New("engine workflow not found")
	ErrEngineStatus     = errors.New("engine returned an unexpected status")
	ErrEngineResponse   = errors.New("engine rejected the request")
)

// WorkflowSummary is one row of the engine's workflow listing.
type WorkflowSummary struct {
	ProjectCode          int64  `json:"projectCode"`
	Code                 int64  `json:"code"`
	Name                 string `json:"name"`
	Description          string `json:"description"`
	ReleaseState         string `json:"releaseState"`
	ScheduleReleaseState string `json:"scheduleReleaseState"`
	UpdateTime           string `json:"updateTime"`
}

// Env is the expression environment of a summary.
func (s WorkflowSummary) Env() map[string]interface{} {
	return map[string]interface{}{
		"projectCode":          s.ProjectCode,
		"code":                 s.Code,
		"name":                 s.Name,
		"description":          s.Description,
		"releaseState":         s.ReleaseState,
		"scheduleReleaseState": s.ScheduleReleaseState,
		"updateTime":           s.UpdateTime,
	}
}

// Client reads workflow definitions from the engine.
type Client interface {
	// FetchLegacy issues the separate definition, task, relation and schedule queries.
	FetchLegacy(ctx context.Context, projectCode, workflowCode int64) (*normalize.LegacyPayload, error)
	// FetchExport returns the bulk export document of one workflow.
	FetchExport(ctx context.Context, projectCode, workflowCode int64) ([]byte, error)
	// ListWorkflows lists every workflow of a project.
	ListWorkflows(ctx context.Context, projectCode int64) ([]WorkflowSummary, error)
}

// Fetch reads the documents mode needs. Read failures are carried in the
// returned Source so the normalizer can decide whether to fall back.
func Fetch(ctx context.Context, c Client, mode types.IngestMode, projectCode, workflowCode int64) normalize.Source {
	var src normalize.Source
	if mode == types.ModeExportOnly || mode == types.ModeExportShadow {
		src.Export, src.ExportErr = c.FetchExport(ctx, projectCode, workflowCode)
	}
	if mode == types.ModeLegacy || mode == types.ModeExportShadow {
		src.Legacy, src.LegacyErr = c.FetchLegacy(ctx, projectCode, workflowCode)
	}
	return src
}
