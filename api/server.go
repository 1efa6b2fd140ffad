// Package api exposes the sync service over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/syncer"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	svc    *syncer.Service
	logger *zap.Logger
}

// NewServer creates a new Server.
func NewServer(svc *syncer.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, logger: logger}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode"`
}

// Echo builds the HTTP server with every route registered under /api/v1.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.GET("/healthz", s.Health)
	s.Register(e.Group("/api/v1"))
	return e
}

// Register adds the sync routes to g.
func (s *Server) Register(g *echo.Group) {
	g.POST("/sync/preview", s.Preview)
	g.POST("/sync/commit", s.Commit)
	g.POST("/projects/:projectCode/sync", s.SyncProject)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.GET("/workflows/:id/versions", s.ListVersions)
	g.GET("/workflows/:id/diff", s.Diff)
	g.POST("/workflows/:id/rollback", s.Rollback)
	g.DELETE("/workflows/:id/versions/:versionId", s.DeleteVersion)
	g.POST("/workflows/:id/publish-records", s.RecordPublish)
	g.GET("/workflows/:id/sync-records", s.ListSyncRecords)
}

// Health returns basic health status (always returns 200 OK)
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Mode:      string(s.svc.Mode()),
	})
}

// commitError carries a refused commit so that the error body can include the result.
type commitError struct {
	err    error
	result interface{}
}

func (e *commitError) Error() string { return e.err.Error() }
func (e *commitError) Unwrap() error { return e.err }

// StatusOf maps a coded error onto an HTTP status.
func StatusOf(err error) int {
	switch errcode.Code(err) {
	case "WORKFLOW_NOT_FOUND", "VERSION_NOT_FOUND":
		return http.StatusNotFound
	case "VERSION_DELETE_FORBIDDEN", "WORKFLOW_BINDING_CONFLICT", "TASK_CODE_DUPLICATE":
		return http.StatusConflict
	case "SYNC_FAILED", "VERSION_ROLLBACK_FAILED", "":
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := ErrorResponse{Code: "INTERNAL", Message: err.Error()}
	var he *echo.HTTPError
	var ce *commitError
	switch {
	case errors.As(err, &he):
		status = he.Code
		body.Code = "BAD_REQUEST"
		if status == http.StatusNotFound {
			body.Code = "NOT_FOUND"
		}
		if msg, ok := he.Message.(string); ok {
			body.Message = msg
		} else {
			body.Message = http.StatusText(status)
		}
	case errors.Is(err, syncer.ErrInvalidPublishStatus):
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
	case errcode.Code(err) != "":
		status = StatusOf(err)
		body.Code = errcode.Code(err)
		body.Message = errcode.Message(err)
	}
	if errors.As(err, &ce) {
		body.Details = ce.result
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn("failed to write error response", zap.Error(err))
	}
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": "+c.Param(name))
	}
	return id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return err
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

// jsonSerializer encodes and decodes bodies with go-json.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error()).SetInternal(err)
	}
	return nil
}
