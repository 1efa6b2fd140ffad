package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/events"
	"github.com/songzhibin97/dolphin-sync/identity"
	"github.com/songzhibin97/dolphin-sync/snapshot"
	"github.com/songzhibin97/dolphin-sync/storage"
	"github.com/songzhibin97/dolphin-sync/types"
)

// ErrInvalidPublishStatus is returned by RecordPublish for statuses other than success and failed.
var ErrInvalidPublishStatus = errors.New("publish status must be success or failed")

// DiffResult compares two versions of one workflow.
type DiffResult struct {
	WorkflowID     int64          `json:"workflowId"`
	LeftVersionID  *int64         `json:"leftVersionId,omitempty"`
	LeftVersionNo  int            `json:"leftVersionNo"`
	RightVersionID int64          `json:"rightVersionId"`
	RightVersionNo int            `json:"rightVersionNo"`
	Diff           *snapshot.Diff `json:"diff"`
	Unified        string         `json:"unified"`
}

// RollbackResult describes the version minted by a rollback.
type RollbackResult struct {
	WorkflowID            int64  `json:"workflowId"`
	NewVersionID          int64  `json:"newVersionId"`
	NewVersionNo          int    `json:"newVersionNo"`
	RollbackFromVersionID int64  `json:"rollbackFromVersionId"`
	SnapshotHash          string `json:"snapshotHash"`
}

// Workflow returns a stored workflow.
func (s *Service) Workflow(ctx context.Context, workflowID int64) (types.LocalWorkflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	return wf, catalogError(err, workflowID, 0)
}

// Versions lists the versions of a workflow by version number.
func (s *Service) Versions(ctx context.Context, workflowID int64) ([]types.WorkflowVersion, error) {
	if _, err := s.Workflow(ctx, workflowID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, workflowID)
	if err != nil {
		return nil, errcode.Wrap(err)
	}
	return versions, nil
}

// SyncRecords lists every ingestion attempt of an engine workflow, oldest first.
func (s *Service) SyncRecords(ctx context.Context, projectCode, workflowCode int64) ([]types.SyncRecord, error) {
	records, err := s.store.ListSyncRecords(ctx, projectCode, workflowCode)
	if err != nil {
		return nil, errcode.Wrap(err)
	}
	return records, nil
}

// Diff compares two versions of a workflow. A nil left version means the
// version just before right, or an empty baseline when right is the first.
func (s *Service) Diff(ctx context.Context, workflowID int64, leftVersionID *int64, rightVersionID int64) (*DiffResult, error) {
	if _, err := s.Workflow(ctx, workflowID); err != nil {
		return nil, err
	}
	right, err := loadVersion(ctx, s.store, workflowID, rightVersionID)
	if err != nil {
		return nil, err
	}

	var left *types.WorkflowVersion
	if leftVersionID != nil {
		v, err := loadVersion(ctx, s.store, workflowID, *leftVersionID)
		if err != nil {
			return nil, err
		}
		left = &v
	} else {
		versions, err := s.store.ListVersions(ctx, workflowID)
		if err != nil {
			return nil, errcode.Wrap(err)
		}
		for i := range versions {
			if versions[i].VersionNo < right.VersionNo {
				left = &versions[i]
			}
		}
	}

	res := &DiffResult{
		WorkflowID:     workflowID,
		RightVersionID: right.ID,
		RightVersionNo: right.VersionNo,
	}
	var leftSnapshot []byte
	leftLabel := "empty"
	if left != nil {
		res.LeftVersionID = &left.ID
		res.LeftVersionNo = left.VersionNo
		leftSnapshot = []byte(left.Snapshot)
		leftLabel = fmt.Sprintf("v%d", left.VersionNo)
	}

	if res.Diff, err = snapshot.Compare(leftSnapshot, []byte(right.Snapshot)); err != nil {
		return nil, errcode.Wrap(err)
	}
	res.Unified, err = snapshot.UnifiedDiff(leftLabel, leftSnapshot, fmt.Sprintf("v%d", right.VersionNo), []byte(right.Snapshot), s.diffContext)
	if err != nil {
		return nil, errcode.Wrap(err)
	}
	return res, nil
}

// Rollback restores the workflow, its schedule, its tasks and its edges from a
// v2 snapshot and records the result as a new version. History is never rewritten.
func (s *Service) Rollback(ctx context.Context, workflowID, targetVersionID int64, operator string) (*RollbackResult, error) {
	if _, err := s.Workflow(ctx, workflowID); err != nil {
		return nil, err
	}
	target, err := loadVersion(ctx, s.store, workflowID, targetVersionID)
	if err != nil {
		return nil, err
	}
	schema := target.SchemaVersion
	if schema == types.SnapshotSchemaV2 {
		schema = snapshot.SchemaVersionOf([]byte(target.Snapshot))
	}
	if schema != types.SnapshotSchemaV2 {
		return nil, errcode.ErrVersionSnapshotUnsupported.GenWithStackByArgs(target.ID, schema)
	}
	doc, err := snapshot.Parse([]byte(target.Snapshot))
	if err != nil {
		return nil, errcode.ErrVersionSnapshotUnsupported.GenWithStackByArgs(target.ID, schema)
	}
	def := doc.Definition()
	ids := doc.Identities()
	canonical, err := doc.Canonical()
	if err != nil {
		return nil, errcode.ErrVersionRollbackFailed.GenWithStackByArgs(target.ID, err.Error())
	}
	hash := snapshot.HashBytes(canonical)
	now := s.now()

	var version types.WorkflowVersion
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		wf, err := tx.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		keep := make(map[int64]bool, len(def.Tasks))
		for _, t := range def.Tasks {
			task, err := s.restoreTask(ctx, tx, workflowID, t, ids[t.Code], now)
			if err != nil {
				return err
			}
			if err := tx.SaveTask(ctx, task); err != nil {
				return err
			}
			keep[t.Code] = true
		}
		if err := unbindMissing(ctx, tx, workflowID, keep, now); err != nil {
			return err
		}
		if err := tx.ReplaceEdges(ctx, workflowID, doc.EdgeList()); err != nil {
			return err
		}
		if version, err = s.appendVersion(ctx, tx, workflowID, canonical, hash, target.RawPayload, operator, &target.ID, now); err != nil {
			return err
		}
		applyWorkflow(&wf, def)
		wf.CurrentVersionID = version.ID
		wf.UpdatedAt = now
		return tx.SaveWorkflow(ctx, wf)
	})
	if err != nil {
		s.logger.Warn("rollback failed",
			zap.Int64("workflowID", workflowID),
			zap.Int64("targetVersionID", targetVersionID),
			zap.Bool("conflict", isConflict(err)),
			zap.Error(err))
		return nil, errcode.ErrVersionRollbackFailed.GenWithStackByArgs(target.ID, err.Error())
	}

	s.logger.Info("workflow rolled back",
		zap.Int64("workflowID", workflowID),
		zap.Int("fromVersionNo", target.VersionNo),
		zap.Int("newVersionNo", version.VersionNo))
	s.publishEvent(ctx, events.TypeVersionRolledBack, workflowID, map[string]interface{}{
		"versionId":             version.ID,
		"versionNo":             version.VersionNo,
		"rollbackFromVersionId": target.ID,
		"operator":              operator,
	})
	return &RollbackResult{
		WorkflowID:            workflowID,
		NewVersionID:          version.ID,
		NewVersionNo:          version.VersionNo,
		RollbackFromVersionID: target.ID,
		SnapshotHash:          hash,
	}, nil
}

// restoreTask rebuilds the catalog row of one snapshotted task, keeping the
// local identity recorded in the snapshot.
func (s *Service) restoreTask(ctx context.Context, tx storage.Tx, workflowID int64, t types.TaskDefinition, id snapshot.TaskIdentity, now time.Time) (types.LocalTask, error) {
	existing, err := tx.FindTaskByEngineCode(ctx, t.Code)
	if err != nil {
		return types.LocalTask{}, err
	}
	var task types.LocalTask
	if existing != nil {
		if existing.WorkflowID != 0 && existing.WorkflowID != workflowID {
			return types.LocalTask{}, fmt.Errorf("task %d is bound to workflow %d", t.Code, existing.WorkflowID)
		}
		task = *existing
	} else {
		rowID, err := s.nextID()
		if err != nil {
			return types.LocalTask{}, err
		}
		task = types.LocalTask{ID: rowID, EngineTaskCode: t.Code, CreatedAt: now}
	}

	switch {
	case id.Name != "":
		task.Name = id.Name
	case task.Name == "":
		task.Name = identity.CandidateName(t)
	}
	switch {
	case id.Code != "":
		task.Code = id.Code
	case task.Code == "":
		task.Code = identity.Slug(task.Name)
	}
	applyTask(&task, t, workflowID, now)
	return task, nil
}

// DeleteVersion removes a version that is neither current nor the latest
// successfully published one. References to it are nulled.
func (s *Service) DeleteVersion(ctx context.Context, workflowID, versionID int64) error {
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		wf, err := tx.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		v, err := loadVersion(ctx, tx, workflowID, versionID)
		if err != nil {
			return err
		}
		if wf.CurrentVersionID == v.ID {
			return errcode.ErrVersionDeleteForbidden.GenWithStackByArgs(v.ID, "it is the current version")
		}
		published, err := tx.LatestPublish(ctx, workflowID)
		if err != nil {
			return err
		}
		if published != nil && published.VersionID == v.ID {
			return errcode.ErrVersionDeleteForbidden.GenWithStackByArgs(v.ID, "it is the latest published version")
		}
		return tx.DeleteVersion(ctx, v.ID)
	})
	if err != nil {
		return catalogError(err, workflowID, versionID)
	}

	s.logger.Info("version deleted", zap.Int64("workflowID", workflowID), zap.Int64("versionID", versionID))
	s.publishEvent(ctx, events.TypeVersionDeleted, workflowID, map[string]interface{}{
		"versionId": versionID,
	})
	return nil
}

// RecordPublish records an attempt to push a version back to the engine.
// The latest successful one protects its version from deletion.
func (s *Service) RecordPublish(ctx context.Context, workflowID, versionID int64, status, operator string) (types.PublishRecord, error) {
	if status != types.StatusSuccess && status != types.StatusFailed {
		return types.PublishRecord{}, fmt.Errorf("%w: got %q", ErrInvalidPublishStatus, status)
	}
	if _, err := s.Workflow(ctx, workflowID); err != nil {
		return types.PublishRecord{}, err
	}
	if _, err := loadVersion(ctx, s.store, workflowID, versionID); err != nil {
		return types.PublishRecord{}, err
	}
	id, err := s.nextID()
	if err != nil {
		return types.PublishRecord{}, errcode.Wrap(err)
	}
	rec := types.PublishRecord{
		ID:         id,
		WorkflowID: workflowID,
		VersionID:  versionID,
		Status:     status,
		Operator:   operator,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertPublishRecord(ctx, rec); err != nil {
		return types.PublishRecord{}, errcode.Wrap(err)
	}
	return rec, nil
}

// loadVersion reads a version and checks that it belongs to the workflow.
func loadVersion(ctx context.Context, r storage.Reader, workflowID, versionID int64) (types.WorkflowVersion, error) {
	v, err := r.GetVersion(ctx, versionID)
	if err != nil {
		return types.WorkflowVersion{}, catalogError(err, workflowID, versionID)
	}
	if v.WorkflowID != workflowID {
		return types.WorkflowVersion{}, errcode.ErrVersionNotFound.GenWithStackByArgs(versionID, workflowID)
	}
	return v, nil
}
