package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/syncer"
)

// WorkflowRef addresses one engine workflow.
type WorkflowRef struct {
	ProjectCode  int64 `json:"projectCode"`
	WorkflowCode int64 `json:"workflowCode"`
}

// ProjectSyncBody is the body of a project sync.
type ProjectSyncBody struct {
	Filter                string `json:"filter"`
	ConfirmEdgeMismatch   bool   `json:"confirmEdgeMismatch"`
	ConfirmParityMismatch bool   `json:"confirmParityMismatch"`
	Operator              string `json:"operator"`
}

// RollbackBody is the body of a rollback.
type RollbackBody struct {
	TargetVersionID int64  `json:"targetVersionId"`
	Operator        string `json:"operator"`
}

// PublishBody is the body of a publish record.
type PublishBody struct {
	VersionID int64  `json:"versionId"`
	Status    string `json:"status"`
	Operator  string `json:"operator"`
}

func requireRef(ref WorkflowRef) error {
	if ref.ProjectCode <= 0 || ref.WorkflowCode <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "projectCode and workflowCode are required")
	}
	return nil
}

// Preview runs the pipeline without writing
// (POST /api/v1/sync/preview)
func (s *Server) Preview(c echo.Context) error {
	var ref WorkflowRef
	if err := bind(c, &ref); err != nil {
		return err
	}
	if err := requireRef(ref); err != nil {
		return err
	}
	res, err := s.svc.Preview(c.Request().Context(), ref.ProjectCode, ref.WorkflowCode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Commit writes one engine workflow to the catalog
// (POST /api/v1/sync/commit)
func (s *Server) Commit(c echo.Context) error {
	var req syncer.CommitRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := requireRef(WorkflowRef{ProjectCode: req.ProjectCode, WorkflowCode: req.WorkflowCode}); err != nil {
		return err
	}
	res, err := s.svc.Commit(c.Request().Context(), req)
	if err != nil {
		return &commitError{err: err, result: res}
	}
	return c.JSON(http.StatusOK, res)
}

// SyncProject commits every matching workflow of a project
// (POST /api/v1/projects/:projectCode/sync)
func (s *Server) SyncProject(c echo.Context) error {
	projectCode, err := pathID(c, "projectCode")
	if err != nil {
		return err
	}
	var body ProjectSyncBody
	if err := bind(c, &body); err != nil {
		return err
	}
	res, err := s.svc.SyncProject(c.Request().Context(), syncer.ProjectSyncRequest{
		ProjectCode:           projectCode,
		Filter:                body.Filter,
		ConfirmEdgeMismatch:   body.ConfirmEdgeMismatch,
		ConfirmParityMismatch: body.ConfirmParityMismatch,
		Operator:              body.Operator,
	})
	if err != nil {
		if errcode.Code(err) != "" {
			return err
		}
		// Anything uncoded here is a filter problem.
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetWorkflow returns a stored workflow
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	wf, err := s.svc.Workflow(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// ListVersions returns the versions of a workflow
// (GET /api/v1/workflows/:id/versions)
func (s *Server) ListVersions(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	versions, err := s.svc.Versions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, versions)
}

// Diff compares two versions; left defaults to the previous version
// (GET /api/v1/workflows/:id/diff?left=&right=)
func (s *Server) Diff(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	right, err := strconv.ParseInt(c.QueryParam("right"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "right version is required")
	}
	var left *int64
	if raw := c.QueryParam("left"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid left version: "+raw)
		}
		left = &v
	}
	res, err := s.svc.Diff(c.Request().Context(), id, left, right)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Rollback restores a version as a new version
// (POST /api/v1/workflows/:id/rollback)
func (s *Server) Rollback(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var body RollbackBody
	if err := bind(c, &body); err != nil {
		return err
	}
	if body.TargetVersionID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "targetVersionId is required")
	}
	res, err := s.svc.Rollback(c.Request().Context(), id, body.TargetVersionID, body.Operator)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// DeleteVersion removes a version
// (DELETE /api/v1/workflows/:id/versions/:versionId)
func (s *Server) DeleteVersion(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	versionID, err := pathID(c, "versionId")
	if err != nil {
		return err
	}
	if err := s.svc.DeleteVersion(c.Request().Context(), id, versionID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RecordPublish records a publish attempt of a version
// (POST /api/v1/workflows/:id/publish-records)
func (s *Server) RecordPublish(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var body PublishBody
	if err := bind(c, &body); err != nil {
		return err
	}
	rec, err := s.svc.RecordPublish(c.Request().Context(), id, body.VersionID, body.Status, body.Operator)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

// ListSyncRecords returns the sync attempts of a stored workflow
// (GET /api/v1/workflows/:id/sync-records)
func (s *Server) ListSyncRecords(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	wf, err := s.svc.Workflow(ctx, id)
	if err != nil {
		return err
	}
	records, err := s.svc.SyncRecords(ctx, wf.EngineProjectCode, wf.EngineWorkflowCode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}
