package storage

import (
	"context"
	"errors"

	"github.com/songzhibin97/dolphin-sync/types"
)

// Errors
var (
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrVersionNotFound     = errors.New("version not found")
	ErrConstraintViolation = errors.New("constraint violation")
)

// Reader defines the catalog queries. Find* methods return nil, nil when absent;
// Get* methods return a wrapped not-found sentinel.
type Reader interface {
	// GetWorkflow retrieves a workflow by local ID.
	GetWorkflow(ctx context.Context, id int64) (types.LocalWorkflow, error)

	// FindWorkflow looks a workflow up by its engine coordinates.
	FindWorkflow(ctx context.Context, projectCode, workflowCode int64) (*types.LocalWorkflow, error)

	// ListTasks returns the tasks bound to a workflow, ordered by engine task code.
	ListTasks(ctx context.Context, workflowID int64) ([]types.LocalTask, error)

	FindTaskByEngineCode(ctx context.Context, engineCode int64) (*types.LocalTask, error)
	FindTaskByName(ctx context.Context, name string) (*types.LocalTask, error)
	FindTaskByCode(ctx context.Context, code string) (*types.LocalTask, error)

	// FindDataSource looks a data source up by its engine ID.
	FindDataSource(ctx context.Context, engineID int64) (*types.DataSource, error)

	// ListEdges returns the stored edges of a workflow, sorted.
	ListEdges(ctx context.Context, workflowID int64) ([]types.TaskEdge, error)

	GetVersion(ctx context.Context, id int64) (types.WorkflowVersion, error)

	// LatestVersion returns the version with the highest number, or nil.
	LatestVersion(ctx context.Context, workflowID int64) (*types.WorkflowVersion, error)

	// ListVersions returns the versions of a workflow ordered by version number.
	ListVersions(ctx context.Context, workflowID int64) ([]types.WorkflowVersion, error)

	// LatestPublish returns the most recent successful publish record, or nil.
	LatestPublish(ctx context.Context, workflowID int64) (*types.PublishRecord, error)

	// ListSyncRecords returns the sync attempts for an engine workflow in insertion order.
	ListSyncRecords(ctx context.Context, projectCode, workflowCode int64) ([]types.SyncRecord, error)
}

// Writer defines the catalog mutations.
type Writer interface {
	// SaveWorkflow inserts or updates a workflow keyed by ID.
	SaveWorkflow(ctx context.Context, wf types.LocalWorkflow) error

	// SaveTask inserts or updates a task keyed by ID.
	SaveTask(ctx context.Context, task types.LocalTask) error

	SaveDataSource(ctx context.Context, ds types.DataSource) error

	// ReplaceEdges swaps the stored edge set of a workflow.
	ReplaceEdges(ctx context.Context, workflowID int64, edges []types.TaskEdge) error

	InsertVersion(ctx context.Context, v types.WorkflowVersion) error

	// DeleteVersion removes a version and nulls every reference to it.
	DeleteVersion(ctx context.Context, id int64) error

	InsertSyncRecord(ctx context.Context, rec types.SyncRecord) error
	InsertPublishRecord(ctx context.Context, rec types.PublishRecord) error
}

// Tx is the view of the catalog inside a transaction.
type Tx interface {
	Reader
	Writer
}

// Store is the local catalog. Writes made through the Store itself are
// applied immediately; InTx applies every write of fn atomically or none.
type Store interface {
	Reader
	Writer
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
