package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/songzhibin97/dolphin-sync/types"
)

// Struct fields are declared in the alphabetical order of their JSON names so
// that the encoded document is canonical without a separate sorting pass.

// WorkflowFields are the workflow scalar fields of a snapshot.
type WorkflowFields struct {
	Description  string `json:"description"`
	GlobalParams string `json:"globalParams"`
	Name         string `json:"name"`
	ProjectCode  int64  `json:"projectCode"`
	ReleaseState string `json:"releaseState"`
	WorkflowCode int64  `json:"workflowCode"`
}

// TaskFields is one snapshotted task.
type TaskFields struct {
	Code           int64   `json:"code"`
	DataSourceID   int64   `json:"dataSourceId"`
	DataSourceKind string  `json:"dataSourceKind"`
	DataSourceName string  `json:"dataSourceName"`
	Description    string  `json:"description"`
	InputTableIDs  []int64 `json:"inputTableIds"`
	Kind           string  `json:"kind"`
	LocalCode      string  `json:"localCode"`
	LocalName      string  `json:"localName"`
	Name           string  `json:"name"`
	OutputTableIDs []int64 `json:"outputTableIds"`
	Priority       string  `json:"priority"`
	RetryInterval  int     `json:"retryInterval"`
	RetryTimes     int     `json:"retryTimes"`
	SQL            string  `json:"sql"`
	TimeoutMinutes int     `json:"timeoutMinutes"`
	Version        int     `json:"version"`
}

// EdgeFields is one snapshotted edge.
type EdgeFields struct {
	Downstream int64 `json:"downstream"`
	Upstream   int64 `json:"upstream"`
}

// ScheduleFields is the snapshotted schedule.
type ScheduleFields struct {
	Cron            string `json:"cron"`
	EndTime         string `json:"endTime"`
	EnvironmentCode int64  `json:"environmentCode"`
	FailureStrategy string `json:"failureStrategy"`
	Priority        string `json:"priority"`
	ReleaseState    string `json:"releaseState"`
	StartTime       string `json:"startTime"`
	TenantCode      string `json:"tenantCode"`
	Timezone        string `json:"timezone"`
	WarningGroupID  int64  `json:"warningGroupId"`
	WarningType     string `json:"warningType"`
	WorkerGroup     string `json:"workerGroup"`
}

// Document is a full (v2) snapshot of a workflow aggregate.
type Document struct {
	Edges         []EdgeFields    `json:"edges"`
	Schedule      *ScheduleFields `json:"schedule"`
	SchemaVersion int             `json:"schemaVersion"`
	Tasks         []TaskFields    `json:"tasks"`
	Workflow      WorkflowFields  `json:"workflow"`
}

// TaskIdentity is the local name and code assigned to an engine task.
type TaskIdentity struct {
	Name string
	Code string
}

// Build snapshots a resolved definition with its committed edges and local identities.
func Build(def *types.WorkflowDefinition, edges []types.TaskEdge, identities map[int64]TaskIdentity) *Document {
	doc := &Document{
		SchemaVersion: types.SnapshotSchemaV2,
		Workflow: WorkflowFields{
			Description:  def.Description,
			GlobalParams: def.GlobalParams,
			Name:         def.Name,
			ProjectCode:  def.ProjectCode,
			ReleaseState: def.ReleaseState,
			WorkflowCode: def.WorkflowCode,
		},
		Tasks: make([]TaskFields, 0, len(def.Tasks)),
		Edges: make([]EdgeFields, 0, len(edges)),
	}
	for _, t := range def.Tasks {
		id := identities[t.Code]
		doc.Tasks = append(doc.Tasks, TaskFields{
			Code:           t.Code,
			DataSourceID:   t.DataSource.ID,
			DataSourceKind: t.DataSource.Kind,
			DataSourceName: t.DataSource.Name,
			Description:    t.Description,
			InputTableIDs:  sortedIDs(t.InputTableIDs),
			Kind:           string(t.Kind),
			LocalCode:      id.Code,
			LocalName:      id.Name,
			Name:           t.Name,
			OutputTableIDs: sortedIDs(t.OutputTableIDs),
			Priority:       t.Priority,
			RetryInterval:  t.RetryInterval,
			RetryTimes:     t.RetryTimes,
			SQL:            NormalizeSQL(t.SQL),
			TimeoutMinutes: t.TimeoutMinutes,
			Version:        t.Version,
		})
	}
	sort.Slice(doc.Tasks, func(i, j int) bool { return doc.Tasks[i].Code < doc.Tasks[j].Code })

	for _, e := range edges {
		doc.Edges = append(doc.Edges, EdgeFields{Upstream: e.Upstream, Downstream: e.Downstream})
	}
	sort.Slice(doc.Edges, func(i, j int) bool {
		if doc.Edges[i].Upstream != doc.Edges[j].Upstream {
			return doc.Edges[i].Upstream < doc.Edges[j].Upstream
		}
		return doc.Edges[i].Downstream < doc.Edges[j].Downstream
	})

	if s := def.Schedule; s != nil {
		doc.Schedule = &ScheduleFields{
			Cron:            s.Cron,
			EndTime:         s.EndTime,
			EnvironmentCode: s.EnvironmentCode,
			FailureStrategy: s.FailureStrategy,
			Priority:        s.Priority,
			ReleaseState:    s.ReleaseState,
			StartTime:       s.StartTime,
			TenantCode:      s.TenantCode,
			Timezone:        s.Timezone,
			WarningGroupID:  s.WarningGroupID,
			WarningType:     s.WarningType,
			WorkerGroup:     s.WorkerGroup,
		}
	}
	return doc
}

// Canonical encodes the document as compact JSON. Two documents are structurally
// equal iff their canonical encodings are byte-equal.
func (d *Document) Canonical() ([]byte, error) {
	return json.Marshal(d)
}

// Hash returns the sha256 hex digest of the canonical encoding.
func (d *Document) Hash() (string, error) {
	b, err := d.Canonical()
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the sha256 hex digest of canonical snapshot bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Parse decodes a v2 snapshot.
func Parse(b []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if doc.SchemaVersion != types.SnapshotSchemaV2 {
		return nil, fmt.Errorf("snapshot schema v%d is not a full snapshot", doc.SchemaVersion)
	}
	return &doc, nil
}

// SchemaVersionOf reads the schemaVersion tag of any snapshot, defaulting to v1.
func SchemaVersionOf(b []byte) int {
	var head struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(b, &head); err != nil || head.SchemaVersion == 0 {
		return types.SnapshotSchemaV1
	}
	return head.SchemaVersion
}

// Definition rebuilds the workflow definition captured by the snapshot.
func (d *Document) Definition() *types.WorkflowDefinition {
	def := &types.WorkflowDefinition{
		ProjectCode:  d.Workflow.ProjectCode,
		WorkflowCode: d.Workflow.WorkflowCode,
		Name:         d.Workflow.Name,
		Description:  d.Workflow.Description,
		GlobalParams: d.Workflow.GlobalParams,
		ReleaseState: d.Workflow.ReleaseState,
		Tasks:        make([]types.TaskDefinition, 0, len(d.Tasks)),
	}
	for _, t := range d.Tasks {
		def.Tasks = append(def.Tasks, types.TaskDefinition{
			Code:           t.Code,
			Version:        t.Version,
			Name:           t.Name,
			Kind:           types.NodeKind(t.Kind),
			SQL:            t.SQL,
			DataSource:     types.DataSourceRef{ID: t.DataSourceID, Name: t.DataSourceName, Kind: t.DataSourceKind},
			RetryTimes:     t.RetryTimes,
			RetryInterval:  t.RetryInterval,
			TimeoutMinutes: t.TimeoutMinutes,
			Priority:       t.Priority,
			Description:    t.Description,
			InputTableIDs:  append([]int64{}, t.InputTableIDs...),
			OutputTableIDs: append([]int64{}, t.OutputTableIDs...),
		})
	}
	if s := d.Schedule; s != nil {
		def.Schedule = &types.ScheduleSpec{
			Cron:            s.Cron,
			Timezone:        s.Timezone,
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			FailureStrategy: s.FailureStrategy,
			WarningType:     s.WarningType,
			WarningGroupID:  s.WarningGroupID,
			Priority:        s.Priority,
			WorkerGroup:     s.WorkerGroup,
			TenantCode:      s.TenantCode,
			EnvironmentCode: s.EnvironmentCode,
			ReleaseState:    s.ReleaseState,
		}
	}
	return def
}

// EdgeList returns the snapshotted edges.
func (d *Document) EdgeList() []types.TaskEdge {
	out := make([]types.TaskEdge, 0, len(d.Edges))
	for _, e := range d.Edges {
		out = append(out, types.TaskEdge{Upstream: e.Upstream, Downstream: e.Downstream})
	}
	return out
}

// Identities returns the local task identities captured by the snapshot.
func (d *Document) Identities() map[int64]TaskIdentity {
	out := make(map[int64]TaskIdentity, len(d.Tasks))
	for _, t := range d.Tasks {
		out[t.Code] = TaskIdentity{Name: t.LocalName, Code: t.LocalCode}
	}
	return out
}

// NormalizeSQL unifies line endings and trims surrounding whitespace.
func NormalizeSQL(sql string) string {
	sql = strings.ReplaceAll(sql, "\r\n", "\n")
	sql = strings.ReplaceAll(sql, "\r", "\n")
	return strings.TrimSpace(sql)
}

func sortedIDs(ids []int64) []int64 {
	out := append([]int64{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
