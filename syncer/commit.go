package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/events"
	"github.com/songzhibin97/dolphin-sync/storage"
	"github.com/songzhibin97/dolphin-sync/types"
)

// CommitRequest asks for one engine workflow to be written to the catalog.
type CommitRequest struct {
	ProjectCode           int64  `json:"projectCode"`
	WorkflowCode          int64  `json:"workflowCode"`
	ConfirmEdgeMismatch   bool   `json:"confirmEdgeMismatch"`
	ConfirmParityMismatch bool   `json:"confirmParityMismatch"`
	Operator              string `json:"operator"`
}

// CommitResult is the outcome of a commit. On failure Success is false,
// Errors lists every problem and SyncRecordID points at the failure record.
type CommitResult struct {
	Success      bool                    `json:"success"`
	WorkflowID   int64                   `json:"workflowId"`
	VersionID    int64                   `json:"versionId"`
	VersionNo    int                     `json:"versionNo"`
	SyncRecordID int64                   `json:"syncRecordId"`
	SnapshotHash string                  `json:"snapshotHash"`
	RenamePlan   []types.RenamePlanEntry `json:"renamePlan"`
	Errors       []errcode.Issue         `json:"errors"`
	Warnings     []errcode.Issue         `json:"warnings"`
}

// errConcurrentUpdate marks catalog state that changed between validation and the write.
var errConcurrentUpdate = fmt.Errorf("%w: catalog changed during commit", storage.ErrConstraintViolation)

// Commit re-runs the pipeline, refuses on any error or unconfirmed gate and
// writes tasks, workflow, edges, the new version and a success record in one
// transaction. Every refusal or failure is recorded as a failed sync record
// and returned as the first coded error alongside the result.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	r, err := s.prepare(ctx, req.ProjectCode, req.WorkflowCode)
	if err != nil {
		r.report.AddError(0, err)
		return s.fail(ctx, req, r)
	}

	if r.edges != nil && r.edges.Mismatch != nil && !req.ConfirmEdgeMismatch {
		r.report.AddError(0, r.edges.MismatchError())
	}
	if err := r.parity.Err(); err != nil && !req.ConfirmParityMismatch {
		r.report.AddError(0, err)
	}
	if r.report.HasErrors() {
		return s.fail(ctx, req, r)
	}

	var result *CommitResult
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		result, err = s.persist(ctx, tx, req, r)
		return err
	})
	if err != nil {
		s.logger.Warn("commit transaction failed",
			zap.Int64("workflowCode", req.WorkflowCode), zap.Error(err))
		r.report.AddError(0, errcode.ErrSyncFailed.GenWithStackByArgs(err.Error()))
		return s.fail(ctx, req, r)
	}

	s.logger.Info("workflow committed",
		zap.Int64("projectCode", req.ProjectCode),
		zap.Int64("workflowCode", req.WorkflowCode),
		zap.Int64("workflowID", result.WorkflowID),
		zap.Int("versionNo", result.VersionNo),
		zap.Int("renames", len(result.RenamePlan)))
	s.publishEvent(ctx, events.TypeSyncCommitted, result.WorkflowID, map[string]interface{}{
		"versionId":    result.VersionID,
		"versionNo":    result.VersionNo,
		"snapshotHash": result.SnapshotHash,
		"operator":     req.Operator,
	})
	return result, nil
}

func (s *Service) persist(ctx context.Context, tx storage.Tx, req CommitRequest, r *run) (*CommitResult, error) {
	now := s.now()
	def := r.definition

	wf, err := tx.FindWorkflow(ctx, req.ProjectCode, req.WorkflowCode)
	if err != nil {
		return nil, err
	}
	switch {
	case wf == nil && r.workflow != nil, wf != nil && wf.ID != r.workflowID():
		return nil, errConcurrentUpdate
	case wf == nil:
		id, err := s.nextID()
		if err != nil {
			return nil, err
		}
		wf = &types.LocalWorkflow{
			ID:                 id,
			EngineProjectCode:  req.ProjectCode,
			EngineWorkflowCode: req.WorkflowCode,
			CreatedAt:          now,
		}
	}

	assignments := r.plan.ByEngineCode()
	current := make(map[int64]bool, len(def.Tasks))
	for _, t := range def.Tasks {
		a := assignments[t.Code]
		var task types.LocalTask
		if a.IsUpdate {
			existing, err := tx.FindTaskByEngineCode(ctx, t.Code)
			if err != nil {
				return nil, err
			}
			if existing == nil || existing.ID != a.LocalTaskID {
				return nil, errConcurrentUpdate
			}
			task = *existing
		} else {
			id, err := s.nextID()
			if err != nil {
				return nil, err
			}
			task = types.LocalTask{ID: id, Name: a.Name, Code: a.Code, EngineTaskCode: t.Code, CreatedAt: now}
		}
		applyTask(&task, t, wf.ID, now)
		if err := tx.SaveTask(ctx, task); err != nil {
			return nil, err
		}
		current[t.Code] = true
	}
	if err := unbindMissing(ctx, tx, wf.ID, current, now); err != nil {
		return nil, err
	}

	if err := tx.ReplaceEdges(ctx, wf.ID, r.edges.Committed()); err != nil {
		return nil, err
	}
	version, err := s.appendVersion(ctx, tx, wf.ID, r.canonical, r.hash, string(def.RawPayload), req.Operator, nil, now)
	if err != nil {
		return nil, err
	}

	applyWorkflow(wf, def)
	wf.CurrentVersionID = version.ID
	wf.LastSyncStatus = types.StatusSuccess
	wf.LastSyncError = ""
	wf.LastSyncAt = now
	wf.UpdatedAt = now
	if err := tx.SaveWorkflow(ctx, *wf); err != nil {
		return nil, err
	}

	rec, err := s.newSyncRecord(req, r, now)
	if err != nil {
		return nil, err
	}
	rec.WorkflowID = wf.ID
	rec.Status = types.StatusSuccess
	rec.VersionID = &version.ID
	if err := tx.InsertSyncRecord(ctx, rec); err != nil {
		return nil, err
	}

	return &CommitResult{
		Success:      true,
		WorkflowID:   wf.ID,
		VersionID:    version.ID,
		VersionNo:    version.VersionNo,
		SyncRecordID: rec.ID,
		SnapshotHash: r.hash,
		RenamePlan:   r.plan.Renames,
		Errors:       []errcode.Issue{},
		Warnings:     r.report.Warnings,
	}, nil
}

// fail records a refused or failed commit outside any transaction and marks
// the stored workflow, if there is one, as failed.
func (s *Service) fail(ctx context.Context, req CommitRequest, r *run) (*CommitResult, error) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	first := r.report.First()

	messages := make([]string, 0, len(r.report.Errors))
	for _, e := range r.report.Errors {
		messages = append(messages, e.Message)
	}
	message := strings.Join(messages, "; ")

	result := &CommitResult{
		WorkflowID:   r.workflowID(),
		SnapshotHash: r.hash,
		RenamePlan:   []types.RenamePlanEntry{},
		Errors:       r.report.Errors,
		Warnings:     r.report.Warnings,
	}
	if r.plan != nil {
		result.RenamePlan = r.plan.Renames
	}

	if r.workflow != nil {
		wf, err := s.store.GetWorkflow(ctx, r.workflow.ID)
		if err == nil {
			wf.LastSyncStatus = types.StatusFailed
			wf.LastSyncError = message
			wf.LastSyncAt = now
			wf.UpdatedAt = now
			err = s.store.SaveWorkflow(ctx, wf)
		}
		if err != nil {
			s.logger.Error("failed to mark workflow as failed", zap.Int64("workflowID", r.workflow.ID), zap.Error(err))
		}
	}

	rec, err := s.newSyncRecord(req, r, now)
	if err == nil {
		rec.Status = types.StatusFailed
		rec.ErrorCode = errcode.Code(first)
		rec.ErrorMessage = message
		err = s.store.InsertSyncRecord(ctx, rec)
	}
	if err != nil {
		s.logger.Error("failed to record sync failure", zap.Int64("workflowCode", req.WorkflowCode), zap.Error(err))
	} else {
		result.SyncRecordID = rec.ID
	}

	s.logger.Warn("commit refused",
		zap.Int64("projectCode", req.ProjectCode),
		zap.Int64("workflowCode", req.WorkflowCode),
		zap.Strings("codes", errcode.Codes(r.report.Errors)),
		zap.Error(r.report.Err()))
	s.publishEvent(ctx, events.TypeSyncFailed, result.WorkflowID, map[string]interface{}{
		"projectCode":  req.ProjectCode,
		"workflowCode": req.WorkflowCode,
		"errorCode":    errcode.Code(first),
		"syncRecordId": result.SyncRecordID,
	})
	return result, first
}

func (s *Service) newSyncRecord(req CommitRequest, r *run, now time.Time) (types.SyncRecord, error) {
	id, err := s.nextID()
	if err != nil {
		return types.SyncRecord{}, err
	}
	rec := types.SyncRecord{
		ID:                 id,
		RunID:              uuid.NewString(),
		WorkflowID:         r.workflowID(),
		EngineProjectCode:  req.ProjectCode,
		EngineWorkflowCode: req.WorkflowCode,
		IngestMode:         s.mode,
		ParityStatus:       r.parity.Status,
		SnapshotHash:       r.hash,
		Operator:           req.Operator,
		RawPayload:         r.rawPayload(),
		CreatedAt:          now,
	}
	if r.diff != nil {
		summary, err := json.Marshal(r.diff.Summary)
		if err != nil {
			return types.SyncRecord{}, err
		}
		rec.DiffSummary = string(summary)
	}
	return rec, nil
}

// appendVersion inserts the next version of a workflow. The number is derived
// from the stored versions inside the transaction.
func (s *Service) appendVersion(ctx context.Context, tx storage.Tx, workflowID int64, canonical []byte, hash, raw, operator string, rollbackFrom *int64, now time.Time) (types.WorkflowVersion, error) {
	latest, err := tx.LatestVersion(ctx, workflowID)
	if err != nil {
		return types.WorkflowVersion{}, err
	}
	id, err := s.nextID()
	if err != nil {
		return types.WorkflowVersion{}, err
	}
	v := types.WorkflowVersion{
		ID:                    id,
		WorkflowID:            workflowID,
		VersionNo:             1,
		SchemaVersion:         types.SnapshotSchemaV2,
		Snapshot:              string(canonical),
		SnapshotHash:          hash,
		RollbackFromVersionID: rollbackFrom,
		RawPayload:            raw,
		Operator:              operator,
		CreatedAt:             now,
	}
	if latest != nil {
		v.VersionNo = latest.VersionNo + 1
	}
	if err := tx.InsertVersion(ctx, v); err != nil {
		return types.WorkflowVersion{}, err
	}
	return v, nil
}

// unbindMissing releases tasks bound to the workflow that are no longer part of it.
// They stay in the catalog so their names and codes remain reserved.
func unbindMissing(ctx context.Context, tx storage.Tx, workflowID int64, keep map[int64]bool, now time.Time) error {
	bound, err := tx.ListTasks(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, t := range bound {
		if keep[t.EngineTaskCode] {
			continue
		}
		t.WorkflowID = 0
		t.UpdatedAt = now
		if err := tx.SaveTask(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func applyTask(task *types.LocalTask, t types.TaskDefinition, workflowID int64, now time.Time) {
	task.EngineName = t.Name
	task.EngineVersion = t.Version
	task.WorkflowID = workflowID
	task.Kind = t.Kind
	task.SQL = t.SQL
	task.DataSourceID = t.DataSource.ID
	task.DataSourceName = t.DataSource.Name
	task.DataSourceKind = t.DataSource.Kind
	task.RetryTimes = t.RetryTimes
	task.RetryInterval = t.RetryInterval
	task.TimeoutMinutes = t.TimeoutMinutes
	task.Priority = t.Priority
	task.Description = t.Description
	task.InputTableIDs = append([]int64{}, t.InputTableIDs...)
	task.OutputTableIDs = append([]int64{}, t.OutputTableIDs...)
	task.UpdatedAt = now
}

func applyWorkflow(wf *types.LocalWorkflow, def *types.WorkflowDefinition) {
	wf.Name = def.Name
	wf.Description = def.Description
	wf.GlobalParams = def.GlobalParams
	wf.ReleaseState = def.ReleaseState
	wf.Schedule = types.ScheduleSpec{}
	if def.Schedule != nil {
		wf.Schedule = *def.Schedule
	}
}

// isConflict reports whether err came from a unique constraint or a concurrent change.
func isConflict(err error) bool {
	return errors.Is(err, storage.ErrConstraintViolation)
}
