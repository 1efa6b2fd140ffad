package types

import "time"

// NodeKind is the engine task type. The set is closed: only NodeKindSQL can be ingested.
type NodeKind string

// Node kinds reported by the engine.
const (
	NodeKindSQL        NodeKind = "SQL"
	NodeKindShell      NodeKind = "SHELL"
	NodeKindPython     NodeKind = "PYTHON"
	NodeKindProcedure  NodeKind = "PROCEDURE"
	NodeKindSubProcess NodeKind = "SUB_PROCESS"
	NodeKindDependent  NodeKind = "DEPENDENT"
	NodeKindConditions NodeKind = "CONDITIONS"
	NodeKindSwitch     NodeKind = "SWITCH"
	NodeKindHTTP       NodeKind = "HTTP"
	NodeKindDataX      NodeKind = "DATAX"
	NodeKindSpark      NodeKind = "SPARK"
	NodeKindFlink      NodeKind = "FLINK"
)

// Supported reports whether tasks of this kind can be ingested.
func (k NodeKind) Supported() bool {
	switch k {
	case NodeKindSQL:
		return true
	case NodeKindShell, NodeKindPython, NodeKindProcedure, NodeKindSubProcess, NodeKindDependent,
		NodeKindConditions, NodeKindSwitch, NodeKindHTTP, NodeKindDataX, NodeKindSpark, NodeKindFlink:
		return false
	}
	return false
}

// IngestMode selects which engine read path(s) feed the normalizer.
type IngestMode string

// Ingest modes.
const (
	ModeLegacy       IngestMode = "legacy"
	ModeExportShadow IngestMode = "export_shadow"
	ModeExportOnly   IngestMode = "export_only"
)

// Valid reports whether m is a known ingest mode.
func (m IngestMode) Valid() bool {
	return m == ModeLegacy || m == ModeExportShadow || m == ModeExportOnly
}

// ParityStatus is the outcome of comparing the export and legacy normalizations.
type ParityStatus string

// Parity outcomes.
const (
	ParityConsistent   ParityStatus = "consistent"
	ParityInconsistent ParityStatus = "inconsistent"
	ParityNotChecked   ParityStatus = "not_checked"
)

// Sync and publish outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Snapshot schema versions.
const (
	SnapshotSchemaV1 = 1
	SnapshotSchemaV2 = 2
)

// DataSourceRef identifies the data source a task runs against, as reported by the engine.
type DataSourceRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// TaskDefinition is one normalized engine task.
type TaskDefinition struct {
	Code           int64         `json:"code"`
	Version        int           `json:"version"`
	Name           string        `json:"name"`
	Kind           NodeKind      `json:"kind"`
	SQL            string        `json:"sql"`
	DataSource     DataSourceRef `json:"dataSource"`
	RetryTimes     int           `json:"retryTimes"`
	RetryInterval  int           `json:"retryInterval"`
	TimeoutMinutes int           `json:"timeoutMinutes"`
	Priority       string        `json:"priority"`
	Description    string        `json:"description"`
	InputTableIDs  []int64       `json:"inputTableIds"`
	OutputTableIDs []int64       `json:"outputTableIds"`
}

// TaskEdge is a dependency between two engine task codes. Upstream 0 marks an entry point.
type TaskEdge struct {
	Upstream   int64 `json:"upstream"`
	Downstream int64 `json:"downstream"`
}

// EntryCode is the reserved upstream code of entry-point edges.
const EntryCode int64 = 0

// ScheduleSpec is the schedule embedded in a workflow.
type ScheduleSpec struct {
	Cron            string `json:"cron"`
	Timezone        string `json:"timezone"`
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime"`
	FailureStrategy string `json:"failureStrategy"`
	WarningType     string `json:"warningType"`
	WarningGroupID  int64  `json:"warningGroupId"`
	Priority        string `json:"priority"`
	WorkerGroup     string `json:"workerGroup"`
	TenantCode      string `json:"tenantCode"`
	EnvironmentCode int64  `json:"environmentCode"`
	ReleaseState    string `json:"releaseState"`
}

// WorkflowDefinition is the canonical form of one engine workflow, produced by one ingestion pass.
type WorkflowDefinition struct {
	ProjectCode   int64            `json:"projectCode"`
	WorkflowCode  int64            `json:"workflowCode"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	GlobalParams  string           `json:"globalParams"`
	ReleaseState  string           `json:"releaseState"`
	Schedule      *ScheduleSpec    `json:"schedule,omitempty"`
	Tasks         []TaskDefinition `json:"tasks"`
	ExplicitEdges []TaskEdge       `json:"explicitEdges"`
	RawPayload    []byte           `json:"-"`
	Source        IngestMode       `json:"source"`
}

// Clone returns a deep copy of d.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}
	out := *d
	if d.Schedule != nil {
		s := *d.Schedule
		out.Schedule = &s
	}
	out.Tasks = make([]TaskDefinition, len(d.Tasks))
	for i, t := range d.Tasks {
		t.InputTableIDs = cloneIDs(t.InputTableIDs)
		t.OutputTableIDs = cloneIDs(t.OutputTableIDs)
		out.Tasks[i] = t
	}
	out.ExplicitEdges = append([]TaskEdge(nil), d.ExplicitEdges...)
	out.RawPayload = append([]byte(nil), d.RawPayload...)
	return &out
}

func cloneIDs(ids []int64) []int64 {
	if ids == nil {
		return nil
	}
	return append([]int64{}, ids...)
}

// TaskNames maps engine task codes to display names.
func (d *WorkflowDefinition) TaskNames() map[int64]string {
	names := make(map[int64]string, len(d.Tasks))
	for _, t := range d.Tasks {
		names[t.Code] = t.Name
	}
	return names
}

// RenamePlanEntry records a task whose local name differs from the engine name.
type RenamePlanEntry struct {
	TaskCode     int64  `json:"taskCode"`
	OriginalName string `json:"originalName"`
	ResolvedName string `json:"resolvedName"`
	Reason       string `json:"reason"`
}

// EdgeView is an edge rendered with task names.
type EdgeView struct {
	Upstream       int64  `json:"upstream"`
	Downstream     int64  `json:"downstream"`
	UpstreamName   string `json:"upstreamName"`
	DownstreamName string `json:"downstreamName"`
}

// EdgeMismatchDetail lists declared and inferred edges when they disagree.
type EdgeMismatchDetail struct {
	Explicit     []EdgeView `json:"explicit"`
	Inferred     []EdgeView `json:"inferred"`
	ExplicitOnly []EdgeView `json:"explicitOnly"`
	InferredOnly []EdgeView `json:"inferredOnly"`
}

// LocalWorkflow is the catalog row of a synced workflow.
type LocalWorkflow struct {
	ID                 int64        `json:"id"`
	EngineProjectCode  int64        `json:"engineProjectCode"`
	EngineWorkflowCode int64        `json:"engineWorkflowCode"`
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	GlobalParams       string       `json:"globalParams"`
	ReleaseState       string       `json:"releaseState"`
	Schedule           ScheduleSpec `json:"schedule"`
	CurrentVersionID   int64        `json:"currentVersionId"`
	LastSyncStatus     string       `json:"lastSyncStatus"`
	LastSyncError      string       `json:"lastSyncError"`
	LastSyncAt         time.Time    `json:"lastSyncAt"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// LocalTask is the catalog row of a task. Name, Code and EngineTaskCode are globally unique.
type LocalTask struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Code           string    `json:"code"`
	EngineTaskCode int64     `json:"engineTaskCode"`
	EngineName     string    `json:"engineName"`
	EngineVersion  int       `json:"engineVersion"`
	WorkflowID     int64     `json:"workflowId"`
	Kind           NodeKind  `json:"kind"`
	SQL            string    `json:"sql"`
	DataSourceID   int64     `json:"dataSourceId"`
	DataSourceName string    `json:"dataSourceName"`
	DataSourceKind string    `json:"dataSourceKind"`
	RetryTimes     int       `json:"retryTimes"`
	RetryInterval  int       `json:"retryInterval"`
	TimeoutMinutes int       `json:"timeoutMinutes"`
	Priority       string    `json:"priority"`
	Description    string    `json:"description"`
	InputTableIDs  []int64   `json:"inputTableIds"`
	OutputTableIDs []int64   `json:"outputTableIds"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DataSource is a catalog data source registered against an engine data source id.
type DataSource struct {
	ID                 int64  `json:"id"`
	EngineDataSourceID int64  `json:"engineDataSourceId"`
	Name               string `json:"name"`
	Kind               string `json:"kind"`
	Dialect            string `json:"dialect"`
}

// WorkflowVersion is an immutable snapshot of a workflow aggregate.
type WorkflowVersion struct {
	ID                    int64     `json:"id"`
	WorkflowID            int64     `json:"workflowId"`
	VersionNo             int       `json:"versionNo"`
	SchemaVersion         int       `json:"schemaVersion"`
	Snapshot              string    `json:"snapshot"`
	SnapshotHash          string    `json:"snapshotHash"`
	RollbackFromVersionID *int64    `json:"rollbackFromVersionId,omitempty"`
	RawPayload            string    `json:"-"`
	Operator              string    `json:"operator"`
	CreatedAt             time.Time `json:"createdAt"`
}

// PublishRecord records an attempt to push a version back to the engine.
type PublishRecord struct {
	ID         int64     `json:"id"`
	WorkflowID int64     `json:"workflowId"`
	VersionID  int64     `json:"versionId"`
	Status     string    `json:"status"`
	Operator   string    `json:"operator"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SyncRecord is the audit row of one ingestion attempt.
type SyncRecord struct {
	ID                 int64        `json:"id"`
	RunID              string       `json:"runId"`
	WorkflowID         int64        `json:"workflowId"`
	EngineProjectCode  int64        `json:"engineProjectCode"`
	EngineWorkflowCode int64        `json:"engineWorkflowCode"`
	IngestMode         IngestMode   `json:"ingestMode"`
	ParityStatus       ParityStatus `json:"parityStatus"`
	SnapshotHash       string       `json:"snapshotHash"`
	DiffSummary        string       `json:"diffSummary"`
	Status             string       `json:"status"`
	ErrorCode          string       `json:"errorCode"`
	ErrorMessage       string       `json:"errorMessage"`
	Operator           string       `json:"operator"`
	VersionID          *int64       `json:"versionId,omitempty"`
	RawPayload         string       `json:"-"`
	CreatedAt          time.Time    `json:"createdAt"`
}
