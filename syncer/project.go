package syncer

import (
	"context"

	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/engine"
	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/rules"
)

// ProjectSyncRequest commits every engine workflow of a project that matches Filter.
// An empty filter matches all workflows.
type ProjectSyncRequest struct {
	ProjectCode           int64  `json:"projectCode"`
	Filter                string `json:"filter"`
	ConfirmEdgeMismatch   bool   `json:"confirmEdgeMismatch"`
	ConfirmParityMismatch bool   `json:"confirmParityMismatch"`
	Operator              string `json:"operator"`
}

// ProjectSyncItem is the outcome of one workflow of a project sync.
type ProjectSyncItem struct {
	WorkflowCode int64         `json:"workflowCode"`
	Name         string        `json:"name"`
	Result       *CommitResult `json:"result"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// ProjectSyncResult collects per-workflow outcomes. One failed workflow never stops the others.
type ProjectSyncResult struct {
	ProjectCode int64                    `json:"projectCode"`
	Items       []ProjectSyncItem        `json:"items"`
	Skipped     []engine.WorkflowSummary `json:"skipped"`
	Succeeded   int                      `json:"succeeded"`
	Failed      int                      `json:"failed"`
}

// SyncProject lists the project's workflows from the engine, filters them and
// commits each one on its own.
func (s *Service) SyncProject(ctx context.Context, req ProjectSyncRequest) (*ProjectSyncResult, error) {
	filter, err := rules.NewWorkflowFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	list, err := s.client.ListWorkflows(ctx, req.ProjectCode)
	if err != nil {
		return nil, errcode.Wrap(err)
	}
	matched, skipped, err := filter.Split(list)
	if err != nil {
		return nil, err
	}

	res := &ProjectSyncResult{
		ProjectCode: req.ProjectCode,
		Items:       make([]ProjectSyncItem, 0, len(matched)),
		Skipped:     skipped,
	}
	for _, wf := range matched {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		result, err := s.Commit(ctx, CommitRequest{
			ProjectCode:           req.ProjectCode,
			WorkflowCode:          wf.Code,
			ConfirmEdgeMismatch:   req.ConfirmEdgeMismatch,
			ConfirmParityMismatch: req.ConfirmParityMismatch,
			Operator:              req.Operator,
		})
		item := ProjectSyncItem{WorkflowCode: wf.Code, Name: wf.Name, Result: result}
		if err != nil {
			item.ErrorCode = errcode.Code(err)
			item.Error = errcode.Message(err)
			res.Failed++
		} else {
			res.Succeeded++
		}
		res.Items = append(res.Items, item)
	}

	s.logger.Info("project synced",
		zap.Int64("projectCode", req.ProjectCode),
		zap.String("filter", filter.Expression()),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", len(skipped)))
	return res, nil
}
