package snapshot

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/songzhibin97/dolphin-sync/types"
)

// Status classifies one compared item.
type Status string

// Comparison outcomes.
const (
	StatusAdded     Status = "added"
	StatusRemoved   Status = "removed"
	StatusModified  Status = "modified"
	StatusUnchanged Status = "unchanged"
)

// summaryThreshold is the value length above which field changes are reported by name only.
const summaryThreshold = 120

// FieldDiff is the comparison of one key of a flat object.
type FieldDiff struct {
	Field      string      `json:"field"`
	Status     Status      `json:"status"`
	Before     interface{} `json:"before,omitempty"`
	After      interface{} `json:"after,omitempty"`
	Summarized bool        `json:"summarized,omitempty"`
}

// TaskDiff is the comparison of one task, keyed by engine task code.
type TaskDiff struct {
	Code   int64       `json:"code"`
	Name   string      `json:"name"`
	Status Status      `json:"status"`
	Fields []FieldDiff `json:"fields,omitempty"`
}

// EdgeDiff is the set difference of two edge sets.
type EdgeDiff struct {
	Added     []types.TaskEdge `json:"added"`
	Removed   []types.TaskEdge `json:"removed"`
	Unchanged []types.TaskEdge `json:"unchanged"`
}

// Summary counts the changes of a Diff.
type Summary struct {
	WorkflowChanged int `json:"workflowChanged"`
	ScheduleChanged int `json:"scheduleChanged"`
	TasksAdded      int `json:"tasksAdded"`
	TasksRemoved    int `json:"tasksRemoved"`
	TasksModified   int `json:"tasksModified"`
	TasksUnchanged  int `json:"tasksUnchanged"`
	EdgesAdded      int `json:"edgesAdded"`
	EdgesRemoved    int `json:"edgesRemoved"`
	EdgesUnchanged  int `json:"edgesUnchanged"`
}

// HasChanges reports whether anything was added, removed or modified.
func (s Summary) HasChanges() bool {
	return s.WorkflowChanged+s.ScheduleChanged+s.TasksAdded+s.TasksRemoved+s.TasksModified+
		s.EdgesAdded+s.EdgesRemoved > 0
}

// Diff is the structured comparison of two snapshots.
type Diff struct {
	Workflow []FieldDiff `json:"workflow"`
	Schedule []FieldDiff `json:"schedule"`
	Tasks    []TaskDiff  `json:"tasks"`
	Edges    EdgeDiff    `json:"edges"`
	Summary  Summary     `json:"summary"`
}

// Compare diffs two snapshots of any schema version. An empty baseline means
// everything in current is added.
func Compare(baseline, current []byte) (*Diff, error) {
	base, err := decodeTree(baseline)
	if err != nil {
		return nil, fmt.Errorf("failed to decode baseline snapshot: %w", err)
	}
	cur, err := decodeTree(current)
	if err != nil {
		return nil, fmt.Errorf("failed to decode current snapshot: %w", err)
	}

	d := &Diff{
		Workflow: compareFlat(section(base, "workflow"), section(cur, "workflow")),
		Schedule: compareFlat(section(base, "schedule"), section(cur, "schedule")),
		Tasks:    compareTasks(tasksOf(base), tasksOf(cur)),
		Edges:    compareEdges(edgesOf(base), edgesOf(cur)),
	}
	d.Summary = summarize(d)
	return d, nil
}

func decodeTree(b []byte) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return map[string]interface{}{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var tree map[string]interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	if tree == nil {
		tree = map[string]interface{}{}
	}
	return tree, nil
}

func section(tree map[string]interface{}, key string) map[string]interface{} {
	if m, ok := tree[key].(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func compareFlat(before, after map[string]interface{}) []FieldDiff {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	out := make([]FieldDiff, 0, len(keys))
	for _, k := range sortedKeys(keys) {
		b, inBefore := before[k]
		a, inAfter := after[k]
		fd := FieldDiff{Field: k}
		switch {
		case inBefore && inAfter && reflect.DeepEqual(b, a):
			fd.Status = StatusUnchanged
		case inBefore && inAfter:
			fd.Status = StatusModified
			fd.Before, fd.After = b, a
		case inAfter:
			fd.Status = StatusAdded
			fd.After = a
		default:
			fd.Status = StatusRemoved
			fd.Before = b
		}
		if fd.Status != StatusUnchanged && summarized(k, b, a) {
			fd.Before, fd.After, fd.Summarized = nil, nil, true
		}
		out = append(out, fd)
	}
	return out
}

// sqlFields are the keys holding statement text, the snapshot's own plus engine aliases.
var sqlFields = map[string]bool{"sql": true, "rawscript": true, "sqltext": true}

// summarized reports whether a change should be reported by field name only:
// statement text or values longer than summaryThreshold.
func summarized(field string, values ...interface{}) bool {
	if sqlFields[strings.ToLower(field)] {
		return true
	}
	for _, v := range values {
		if len(render(v)) > summaryThreshold {
			return true
		}
	}
	return false
}

func render(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

type taskEntry struct {
	code   int64
	fields map[string]interface{}
}

func tasksOf(tree map[string]interface{}) map[int64]taskEntry {
	out := make(map[int64]taskEntry)
	list, _ := tree["tasks"].([]interface{})
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		code := toInt64(m["code"])
		if code == 0 {
			code = toInt64(m["taskCode"])
		}
		out[code] = taskEntry{code: code, fields: m}
	}
	return out
}

func compareTasks(before, after map[int64]taskEntry) []TaskDiff {
	codes := make([]int64, 0, len(before)+len(after))
	seen := make(map[int64]struct{})
	for c := range before {
		seen[c] = struct{}{}
		codes = append(codes, c)
	}
	for c := range after {
		if _, ok := seen[c]; !ok {
			codes = append(codes, c)
		}
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	out := make([]TaskDiff, 0, len(codes))
	for _, c := range codes {
		b, inBefore := before[c]
		a, inAfter := after[c]
		td := TaskDiff{Code: c}
		switch {
		case inBefore && inAfter:
			td.Name = render(a.fields["name"])
			for _, f := range compareFlat(b.fields, a.fields) {
				if f.Status != StatusUnchanged {
					td.Fields = append(td.Fields, f)
				}
			}
			td.Status = StatusUnchanged
			if len(td.Fields) > 0 {
				td.Status = StatusModified
			}
		case inAfter:
			td.Name = render(a.fields["name"])
			td.Status = StatusAdded
		default:
			td.Name = render(b.fields["name"])
			td.Status = StatusRemoved
		}
		out = append(out, td)
	}
	return out
}

func edgesOf(tree map[string]interface{}) map[types.TaskEdge]struct{} {
	out := make(map[types.TaskEdge]struct{})
	list, _ := tree["edges"].([]interface{})
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out[types.TaskEdge{Upstream: toInt64(m["upstream"]), Downstream: toInt64(m["downstream"])}] = struct{}{}
	}
	return out
}

func compareEdges(before, after map[types.TaskEdge]struct{}) EdgeDiff {
	d := EdgeDiff{Added: []types.TaskEdge{}, Removed: []types.TaskEdge{}, Unchanged: []types.TaskEdge{}}
	for e := range after {
		if _, ok := before[e]; ok {
			d.Unchanged = append(d.Unchanged, e)
		} else {
			d.Added = append(d.Added, e)
		}
	}
	for e := range before {
		if _, ok := after[e]; !ok {
			d.Removed = append(d.Removed, e)
		}
	}
	sortEdges(d.Added)
	sortEdges(d.Removed)
	sortEdges(d.Unchanged)
	return d
}

func summarize(d *Diff) Summary {
	var s Summary
	for _, f := range d.Workflow {
		if f.Status != StatusUnchanged {
			s.WorkflowChanged++
		}
	}
	for _, f := range d.Schedule {
		if f.Status != StatusUnchanged {
			s.ScheduleChanged++
		}
	}
	for _, t := range d.Tasks {
		switch t.Status {
		case StatusAdded:
			s.TasksAdded++
		case StatusRemoved:
			s.TasksRemoved++
		case StatusModified:
			s.TasksModified++
		case StatusUnchanged:
			s.TasksUnchanged++
		}
	}
	s.EdgesAdded = len(d.Edges.Added)
	s.EdgesRemoved = len(d.Edges.Removed)
	s.EdgesUnchanged = len(d.Edges.Unchanged)
	return s
}

func sortEdges(edges []types.TaskEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Upstream != edges[j].Upstream {
			return edges[i].Upstream < edges[j].Upstream
		}
		return edges[i].Downstream < edges[j].Downstream
	})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case json.Number:
		n, _ := t.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case float64:
		return int64(t)
	}
	return 0
}
