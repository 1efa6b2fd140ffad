package lineage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/types"
)

// DataSourceLookup finds catalog data sources by engine data source id.
// It returns nil, nil when the data source is unknown.
type DataSourceLookup interface {
	FindDataSource(ctx context.Context, engineID int64) (*types.DataSource, error)
}

// Resolver attaches catalog table ids to every task of a definition.
type Resolver struct {
	matcher     Matcher
	dataSources DataSourceLookup
	logger      *zap.Logger
}

// NewResolver creates a Resolver. dataSources may be nil, in which case data
// sources are not validated and the engine's data source kind is the dialect hint.
func NewResolver(matcher Matcher, dataSources DataSourceLookup, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{matcher: matcher, dataSources: dataSources, logger: logger}
}

// Resolve returns a copy of def whose tasks carry input and output table ids.
// Problems are added to report; a task with any problem keeps empty id sets.
func (r *Resolver) Resolve(ctx context.Context, def *types.WorkflowDefinition, report *errcode.Report) *types.WorkflowDefinition {
	out := def.Clone()
	for i := range out.Tasks {
		t := &out.Tasks[i]
		inputs, outputs, ok := r.resolveTask(ctx, *t, report)
		if !ok {
			t.InputTableIDs = []int64{}
			t.OutputTableIDs = []int64{}
			continue
		}
		t.InputTableIDs = inputs
		t.OutputTableIDs = outputs
	}
	return out
}

func (r *Resolver) resolveTask(ctx context.Context, t types.TaskDefinition, report *errcode.Report) ([]int64, []int64, bool) {
	if !t.Kind.Supported() {
		report.AddError(t.Code, errcode.ErrUnsupportedNodeType.GenWithStackByArgs(t.Code, t.Name, string(t.Kind)))
		return nil, nil, false
	}

	dialect := strings.ToLower(t.DataSource.Kind)
	if r.dataSources != nil {
		ds, err := r.dataSources.FindDataSource(ctx, t.DataSource.ID)
		if err != nil {
			report.AddError(t.Code, errcode.ErrSyncFailed.GenWithStackByArgs(
				fmt.Sprintf("data source lookup for task %d: %v", t.Code, err)))
			return nil, nil, false
		}
		if ds == nil {
			report.AddError(t.Code, errcode.ErrDataSourceNotFound.GenWithStackByArgs(t.Code, t.Name, t.DataSource.ID))
			return nil, nil, false
		}
		if ds.Dialect != "" {
			dialect = ds.Dialect
		}
	}

	analysis, err := r.matcher.Analyze(ctx, t.SQL, dialect)
	if err != nil {
		r.logger.Warn("lineage analysis failed", zap.Int64("taskCode", t.Code), zap.Error(err))
		report.AddError(t.Code, errcode.ErrSyncFailed.GenWithStackByArgs(
			fmt.Sprintf("lineage analysis for task %d: %v", t.Code, err)))
		return nil, nil, false
	}

	ok := true
	if names := analysis.Ambiguous(); len(names) > 0 {
		report.AddError(t.Code, errcode.ErrSQLTableAmbiguous.GenWithStackByArgs(t.Code, t.Name, strings.Join(names, ", ")))
		ok = false
	}
	if names := analysis.Unmatched(); len(names) > 0 {
		report.AddError(t.Code, errcode.ErrSQLTableUnmatched.GenWithStackByArgs(t.Code, t.Name, strings.Join(names, ", ")))
		ok = false
	}
	if !ok {
		return nil, nil, false
	}

	inputs := matchedIDs(analysis.InputRefs)
	outputs := matchedIDs(analysis.OutputRefs)
	if len(outputs) == 0 {
		report.AddError(t.Code, errcode.ErrSQLLineageIncomplete.GenWithStackByArgs(t.Code, t.Name))
		return nil, nil, false
	}
	return inputs, outputs, true
}

// matchedIDs collects matched table ids in first-seen order.
func matchedIDs(refs []TableRefMatch) []int64 {
	out := []int64{}
	seen := make(map[int64]bool)
	for _, ref := range refs {
		if ref.Status != StatusMatched || seen[ref.TableID] {
			continue
		}
		seen[ref.TableID] = true
		out = append(out, ref.TableID)
	}
	return out
}
