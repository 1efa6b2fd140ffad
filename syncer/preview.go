package syncer

import (
	"context"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/identity"
	"github.com/songzhibin97/dolphin-sync/parity"
	"github.com/songzhibin97/dolphin-sync/snapshot"
	"github.com/songzhibin97/dolphin-sync/types"
)

// PreviewResult is everything a commit would act on, computed without writing.
type PreviewResult struct {
	ProjectCode       int64                     `json:"projectCode"`
	WorkflowCode      int64                     `json:"workflowCode"`
	WorkflowID        int64                     `json:"workflowId"`
	WorkflowName      string                    `json:"workflowName"`
	IngestMode        types.IngestMode          `json:"ingestMode"`
	Errors            []errcode.Issue           `json:"errors"`
	Warnings          []errcode.Issue           `json:"warnings"`
	ParityStatus      types.ParityStatus        `json:"parityStatus"`
	ParityChanges     []parity.Change           `json:"parityChanges"`
	ExplicitEdges     []types.TaskEdge          `json:"explicitEdges"`
	InferredEdges     []types.TaskEdge          `json:"inferredEdges"`
	EdgeMismatch      *types.EdgeMismatchDetail `json:"edgeMismatch,omitempty"`
	RenamePlan        []types.RenamePlanEntry   `json:"renamePlan"`
	Assignments       []identity.Assignment     `json:"assignments"`
	Tasks             []types.TaskDefinition    `json:"tasks"`
	SnapshotHash      string                    `json:"snapshotHash"`
	BaselineVersionNo int                       `json:"baselineVersionNo"`
	Diff              *snapshot.Diff            `json:"diff,omitempty"`
	DiffSummary       snapshot.Summary          `json:"diffSummary"`
}

// CanCommit reports whether a commit with the given confirmations would pass validation.
func (p *PreviewResult) CanCommit(confirmEdgeMismatch, confirmParityMismatch bool) bool {
	if len(p.Errors) > 0 {
		return false
	}
	if p.EdgeMismatch != nil && !confirmEdgeMismatch {
		return false
	}
	return p.ParityStatus != types.ParityInconsistent || confirmParityMismatch
}

// Preview runs the whole pipeline for one engine workflow without writing anything.
// Definition problems are reported in the result; the error is reserved for
// catalog or context failures.
func (s *Service) Preview(ctx context.Context, projectCode, workflowCode int64) (*PreviewResult, error) {
	r, err := s.prepare(ctx, projectCode, workflowCode)
	if err != nil {
		return nil, errcode.Wrap(err)
	}
	return s.previewOf(r), nil
}

func (s *Service) previewOf(r *run) *PreviewResult {
	res := &PreviewResult{
		ProjectCode:   r.projectCode,
		WorkflowCode:  r.workflowCode,
		WorkflowID:    r.workflowID(),
		IngestMode:    s.mode,
		Errors:        r.report.Errors,
		Warnings:      r.report.Warnings,
		ParityStatus:  r.parity.Status,
		ParityChanges: r.parity.Changes,
		ExplicitEdges: []types.TaskEdge{},
		InferredEdges: []types.TaskEdge{},
		RenamePlan:    []types.RenamePlanEntry{},
		Assignments:   []identity.Assignment{},
		Tasks:         []types.TaskDefinition{},
		SnapshotHash:  r.hash,
		Diff:          r.diff,
	}
	if r.definition != nil {
		res.WorkflowName = r.definition.Name
		res.Tasks = r.definition.Tasks
	}
	if r.edges != nil {
		res.ExplicitEdges = r.edges.Explicit
		res.InferredEdges = r.edges.Inferred
		res.EdgeMismatch = r.edges.Mismatch
	}
	if r.plan != nil {
		res.RenamePlan = r.plan.Renames
		res.Assignments = r.plan.Assignments
	}
	if r.baseline != nil {
		res.BaselineVersionNo = r.baseline.VersionNo
	}
	if r.diff != nil {
		res.DiffSummary = r.diff.Summary
	}
	return res
}
