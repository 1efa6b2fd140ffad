package normalize

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/songzhibin97/dolphin-sync/types"
)

// object is a decoded JSON object with engine-specific field spellings.
type object map[string]interface{}

// Field aliases, first match wins.
var (
	codeKeys          = []string{"code", "processDefinitionCode", "workflowCode", "workflowDefinitionCode"}
	workflowNameKeys  = []string{"name", "processDefinitionName", "workflowName", "workflowDefinitionName"}
	taskNameKeys      = []string{"name", "taskName"}
	taskTypeKeys      = []string{"taskType", "type", "nodeType"}
	taskParamsKeys    = []string{"taskParams", "params"}
	sqlKeys           = []string{"rawScript", "sql", "sqlText"}
	datasourceIDKeys  = []string{"datasource", "dataSource", "datasourceId", "dataSourceId"}
	datasourceKindKey = []string{"type", "datasourceType", "dbType"}
	datasourceNameKey = []string{"datasourceName", "dataSourceName"}
	preTaskKeys       = []string{"preTaskCode", "preTask", "upstream", "upstreamCode"}
	postTaskKeys      = []string{"postTaskCode", "postTask", "downstream", "downstreamCode"}
	cronKeys          = []string{"crontab", "cron", "cronExpression"}
	projectCodeKeys   = []string{"projectCode", "projectId"}
	listKeys          = []string{"totalList", "list", "records", "data"}
)

// decode parses raw with numbers preserved as json.Number.
func decode(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return unnest(v), nil
}

// unnest decodes strings that hold JSON documents. The engine nests
// taskParams, globalParams and sometimes whole sub-documents this way.
func unnest(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return v
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

func (o object) pick(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := o[k]; ok && v != nil {
			return unnest(v), true
		}
	}
	return nil, false
}

func (o object) obj(keys ...string) object {
	v, ok := o.pick(keys...)
	if !ok {
		return nil
	}
	return asObject(v)
}

func (o object) items(keys ...string) []interface{} {
	v, ok := o.pick(keys...)
	if !ok {
		return nil
	}
	return asList(v)
}

func (o object) str(keys ...string) string {
	v, _ := o.pick(keys...)
	return asString(v)
}

func (o object) num(keys ...string) int64 {
	v, _ := o.pick(keys...)
	return asInt64(v)
}

func (o object) small(keys ...string) int {
	return int(o.num(keys...))
}

func asObject(v interface{}) object {
	switch t := unnest(v).(type) {
	case map[string]interface{}:
		return object(t)
	case object:
		return t
	}
	return nil
}

// asList accepts a plain array or a paged wrapper object.
func asList(v interface{}) []interface{} {
	switch t := unnest(v).(type) {
	case []interface{}:
		return t
	case map[string]interface{}:
		for _, k := range listKeys {
			if inner, ok := t[k]; ok {
				if l, ok := unnest(inner).([]interface{}); ok {
					return l
				}
			}
		}
	}
	return nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return ""
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	}
	return 0
}

// rawString returns a globalParams-like blob as compact JSON text whether the
// engine sent it as a nested document or as a JSON-encoded string.
func rawString(o object, keys ...string) string {
	for _, k := range keys {
		v, ok := o[k]
		if !ok || v == nil {
			continue
		}
		switch t := unnest(v).(type) {
		case string:
			return strings.TrimSpace(t)
		default:
			return asString(t)
		}
	}
	return ""
}

// parseTask maps one engine task definition object onto a TaskDefinition.
func parseTask(o object) types.TaskDefinition {
	params := o.obj(taskParamsKeys...)
	if params == nil {
		params = object{}
	}
	task := types.TaskDefinition{
		Code:           o.num("code", "taskCode"),
		Version:        o.small("version", "taskVersion"),
		Name:           strings.TrimSpace(o.str(taskNameKeys...)),
		Kind:           types.NodeKind(strings.ToUpper(strings.TrimSpace(o.str(taskTypeKeys...)))),
		RetryTimes:     o.small("failRetryTimes", "retryTimes"),
		RetryInterval:  o.small("failRetryInterval", "retryInterval"),
		TimeoutMinutes: o.small("timeout", "timeoutMinutes"),
		Priority:       o.str("taskPriority", "priority"),
		Description:    o.str("description", "desc"),
		InputTableIDs:  []int64{},
		OutputTableIDs: []int64{},
	}
	task.SQL = params.str(sqlKeys...)
	if task.SQL == "" {
		task.SQL = o.str(sqlKeys...)
	}
	task.DataSource = types.DataSourceRef{
		ID:   params.num(datasourceIDKeys...),
		Name: params.str(datasourceNameKey...),
		Kind: strings.ToUpper(params.str(datasourceKindKey...)),
	}
	if task.DataSource.ID == 0 {
		task.DataSource.ID = o.num(datasourceIDKeys...)
	}
	return task
}

func parseEdges(items []interface{}) []types.TaskEdge {
	edges := make([]types.TaskEdge, 0, len(items))
	for _, item := range items {
		o := asObject(item)
		if o == nil {
			continue
		}
		post := o.num(postTaskKeys...)
		if post == 0 {
			continue
		}
		edges = append(edges, types.TaskEdge{Upstream: o.num(preTaskKeys...), Downstream: post})
	}
	return edges
}

func parseSchedule(o object) *types.ScheduleSpec {
	if len(o) == 0 {
		return nil
	}
	s := &types.ScheduleSpec{
		Cron:            strings.TrimSpace(o.str(cronKeys...)),
		Timezone:        o.str("timezoneId", "timezone"),
		StartTime:       o.str("startTime"),
		EndTime:         o.str("endTime"),
		FailureStrategy: o.str("failureStrategy"),
		WarningType:     o.str("warningType"),
		WarningGroupID:  o.num("warningGroupId"),
		Priority:        o.str("processInstancePriority", "workflowInstancePriority", "priority"),
		WorkerGroup:     o.str("workerGroup"),
		TenantCode:      o.str("tenantCode"),
		EnvironmentCode: o.num("environmentCode"),
		ReleaseState:    o.str("releaseState"),
	}
	if *s == (types.ScheduleSpec{}) {
		return nil
	}
	return s
}
