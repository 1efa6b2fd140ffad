package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/dag"
	"github.com/songzhibin97/dolphin-sync/engine"
	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/events"
	"github.com/songzhibin97/dolphin-sync/identity"
	"github.com/songzhibin97/dolphin-sync/lineage"
	"github.com/songzhibin97/dolphin-sync/normalize"
	"github.com/songzhibin97/dolphin-sync/parity"
	"github.com/songzhibin97/dolphin-sync/snapshot"
	"github.com/songzhibin97/dolphin-sync/storage"
	"github.com/songzhibin97/dolphin-sync/types"
)

// Service sequences preview, commit, diff, rollback and version deletion
// against one catalog store.
type Service struct {
	store       storage.Store
	client      engine.Client
	resolver    *lineage.Resolver
	reconciler  *identity.Reconciler
	eventBus    *events.EventBus
	generate    generator.Generator
	logger      *zap.Logger
	now         func() time.Time
	mode        types.IngestMode
	strictEdges bool
	checkDS     bool
	diffContext int
}

// Option configures a Service.
type Option func(*Service)

// WithMode sets the ingest mode. The default is export_shadow.
func WithMode(mode types.IngestMode) Option {
	return func(s *Service) { s.mode = mode }
}

// WithStrictEdges controls whether a workflow without declared edges is an
// error (true, the default) or a warning.
func WithStrictEdges(strict bool) Option {
	return func(s *Service) { s.strictEdges = strict }
}

// WithDataSourceCheck controls whether task data sources must be registered in the catalog.
func WithDataSourceCheck(enabled bool) Option {
	return func(s *Service) { s.checkDS = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBus sets the bus lifecycle events are published on.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Service) { s.eventBus = bus }
}

// WithGenerator sets the row ID generator.
func WithGenerator(generate generator.Generator) Option {
	return func(s *Service) { s.generate = generate }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDiffContext sets the context lines of unified diffs.
func WithDiffContext(lines int) Option {
	return func(s *Service) { s.diffContext = lines }
}

// NewService creates a Service. A snowflake generator is used unless WithGenerator is given.
func NewService(store storage.Store, client engine.Client, matcher lineage.Matcher, options ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if client == nil {
		return nil, errors.New("engine client is required")
	}
	if matcher == nil {
		return nil, errors.New("lineage matcher is required")
	}

	s := &Service{
		store:       store,
		client:      client,
		logger:      zap.NewNop(),
		now:         time.Now,
		mode:        types.ModeExportShadow,
		strictEdges: true,
		checkDS:     true,
		diffContext: snapshot.DefaultContextLines,
	}
	for _, option := range options {
		option(s)
	}
	if !s.mode.Valid() {
		return nil, fmt.Errorf("unknown ingest mode %q", s.mode)
	}
	if s.generate == nil {
		s.generate = generator.NewSnowflake(time.Now().Add(-1*time.Second), 1)
	}
	if s.eventBus == nil {
		s.eventBus = events.NewEventBus(events.WithLogger(s.logger))
	}

	var lookup lineage.DataSourceLookup
	if s.checkDS {
		lookup = store
	}
	s.resolver = lineage.NewResolver(matcher, lookup, s.logger)
	s.reconciler = identity.NewReconciler(store, s.logger)
	return s, nil
}

// Mode returns the configured ingest mode.
func (s *Service) Mode() types.IngestMode {
	return s.mode
}

// SubscribeEvent subscribes an event handler to a lifecycle event type.
func (s *Service) SubscribeEvent(eventType string, handler events.EventHandler) events.Subscription {
	return s.eventBus.Subscribe(eventType, handler)
}

// SubscribeAllEvents subscribes an event handler to every lifecycle event.
func (s *Service) SubscribeAllEvents(handler events.EventHandler) events.Subscription {
	return s.eventBus.SubscribeAll(handler)
}

// nextID generates a row ID using the configured generator.
func (s *Service) nextID() (int64, error) {
	id, err := s.generate.NextID()
	if err != nil {
		return 0, fmt.Errorf("failed to generate ID: %w", err)
	}
	return int64(id), nil
}

// publishEvent delivers a lifecycle event. Handler failures are logged by the
// bus and never fail the operation that produced the event.
func (s *Service) publishEvent(ctx context.Context, eventType string, workflowID int64, data map[string]interface{}) {
	err := s.eventBus.Publish(ctx, events.Event{Type: eventType, WorkflowID: workflowID, Data: data})
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		s.logger.Warn("lifecycle event not fully delivered", zap.String("type", eventType), zap.Error(err))
	}
}

// run is one pass of the read-only pipeline: fetch, normalize, parity, lineage,
// identity, edges, snapshot and diff. Problems are collected in the report;
// the returned error is an infrastructure failure.
type run struct {
	projectCode  int64
	workflowCode int64
	report       *errcode.Report
	normalized   *normalize.Result
	definition   *types.WorkflowDefinition
	parity       *parity.Result
	edges        *dag.Reconciliation
	plan         *identity.Plan
	workflow     *types.LocalWorkflow
	baseline     *types.WorkflowVersion
	canonical    []byte
	hash         string
	diff         *snapshot.Diff
}

func (r *run) workflowID() int64 {
	if r.workflow == nil {
		return 0
	}
	return r.workflow.ID
}

func (r *run) rawPayload() string {
	if r.definition != nil {
		return string(r.definition.RawPayload)
	}
	if r.normalized != nil && r.normalized.Definition != nil {
		return string(r.normalized.Definition.RawPayload)
	}
	return ""
}

func (s *Service) prepare(ctx context.Context, projectCode, workflowCode int64) (*run, error) {
	r := &run{
		projectCode:  projectCode,
		workflowCode: workflowCode,
		report:       errcode.NewReport(),
		parity:       parity.NotChecked(),
	}
	logger := s.logger.With(zap.Int64("projectCode", projectCode), zap.Int64("workflowCode", workflowCode))

	wf, err := s.store.FindWorkflow(ctx, projectCode, workflowCode)
	if err != nil {
		return r, fmt.Errorf("failed to look up workflow: %w", err)
	}
	r.workflow = wf

	src := engine.Fetch(ctx, s.client, s.mode, projectCode, workflowCode)
	if err := ctx.Err(); err != nil {
		return r, err
	}
	norm, err := normalize.Normalize(s.mode, src, workflowCode)
	if err != nil {
		logger.Warn("definition could not be normalized", zap.Error(err))
		r.report.AddError(0, err)
		return r, nil
	}
	r.normalized = norm
	for _, w := range norm.Warnings {
		r.report.AddWarning(w.TaskCode, w.Code, w.Message)
	}

	if norm.Shadow {
		res, err := parity.Check(norm.Export, norm.Legacy)
		if err != nil {
			return r, err
		}
		r.parity = res
		if issue := res.Issue(); issue != nil {
			r.report.AddWarning(0, issue.Code, issue.Message)
		}
	}

	r.definition = s.resolver.Resolve(ctx, norm.Definition, r.report)
	lineageFailed := r.report.HasErrors()

	plan, err := s.reconciler.Reconcile(ctx, r.workflowID(), r.definition, r.report)
	if err != nil {
		return r, err
	}
	r.plan = plan

	var committed []types.TaskEdge
	if !lineageFailed {
		r.edges = dag.Reconcile(r.definition, dag.Infer(r.definition.Tasks), s.strictEdges)
		if r.edges.Err != nil {
			r.report.AddError(0, r.edges.Err)
		}
		for _, w := range r.edges.Warnings {
			r.report.AddWarning(w.TaskCode, w.Code, w.Message)
		}
		committed = r.edges.Committed()
	}

	doc := snapshot.Build(r.definition, committed, identities(plan))
	if r.canonical, err = doc.Canonical(); err != nil {
		return r, err
	}
	r.hash = snapshot.HashBytes(r.canonical)

	var baseline []byte
	if wf != nil {
		if r.baseline, err = s.store.LatestVersion(ctx, wf.ID); err != nil {
			return r, fmt.Errorf("failed to load latest version: %w", err)
		}
		if r.baseline != nil {
			baseline = []byte(r.baseline.Snapshot)
		}
	}
	if r.diff, err = snapshot.Compare(baseline, r.canonical); err != nil {
		return r, err
	}

	logger.Debug("pipeline finished",
		zap.Int("errors", len(r.report.Errors)),
		zap.Int("warnings", len(r.report.Warnings)),
		zap.String("snapshotHash", r.hash))
	return r, nil
}

func identities(plan *identity.Plan) map[int64]snapshot.TaskIdentity {
	out := make(map[int64]snapshot.TaskIdentity, len(plan.Assignments))
	for _, a := range plan.Assignments {
		out[a.EngineTaskCode] = snapshot.TaskIdentity{Name: a.Name, Code: a.Code}
	}
	return out
}

// catalogError maps storage sentinels onto coded errors.
func catalogError(err error, workflowID, versionID int64) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrWorkflowNotFound):
		return errcode.ErrWorkflowNotFound.GenWithStackByArgs(workflowID)
	case errors.Is(err, storage.ErrVersionNotFound):
		return errcode.ErrVersionNotFound.GenWithStackByArgs(versionID, workflowID)
	}
	return errcode.Wrap(err)
}
