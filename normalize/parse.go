package normalize

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/types"
)

// LegacyPayload holds the documents returned by the engine's separate query calls.
type LegacyPayload struct {
	Definition json.RawMessage `json:"definition"`
	Tasks      json.RawMessage `json:"tasks"`
	Relations  json.RawMessage `json:"relations"`
	Schedule   json.RawMessage `json:"schedule,omitempty"`
}

// Export document keys, both the process-era and the workflow-era spellings.
var (
	exportDefinitionKeys = []string{"processDefinition", "workflowDefinition"}
	exportRelationKeys   = []string{"processTaskRelationList", "workflowTaskRelationList", "taskRelationList"}
	exportTaskKeys       = []string{"taskDefinitionList", "taskDefinitions", "tasks"}
	exportScheduleKeys   = []string{"schedule", "scheduleInfo"}
)

// ParseLegacy normalizes the multi-call legacy shape.
func ParseLegacy(p LegacyPayload) (*types.WorkflowDefinition, error) {
	if len(p.Definition) == 0 {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs("legacy definition document is empty")
	}
	defDoc, err := decode(p.Definition)
	if err != nil {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(fmt.Sprintf("legacy definition: %v", err))
	}
	def := asObject(defDoc)
	if def == nil {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs("legacy definition is not an object")
	}
	// The definition call may return the full detail object with the definition nested inside.
	outer := def
	if inner := def.obj(exportDefinitionKeys...); inner != nil {
		def = inner
	}

	var tasks, relations []interface{}
	if len(p.Tasks) > 0 {
		doc, err := decode(p.Tasks)
		if err != nil {
			return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(fmt.Sprintf("legacy task list: %v", err))
		}
		tasks = asList(doc)
	}
	if len(tasks) == 0 {
		tasks = outer.items(exportTaskKeys...)
	}
	if len(p.Relations) > 0 {
		doc, err := decode(p.Relations)
		if err != nil {
			return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(fmt.Sprintf("legacy relation list: %v", err))
		}
		relations = asList(doc)
	}
	if len(relations) == 0 {
		relations = outer.items(exportRelationKeys...)
	}

	var schedule object
	if len(p.Schedule) > 0 {
		doc, err := decode(p.Schedule)
		if err != nil {
			return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(fmt.Sprintf("legacy schedule: %v", err))
		}
		schedule = firstObject(doc)
	}
	if schedule == nil {
		schedule = outer.obj(exportScheduleKeys...)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(fmt.Sprintf("legacy payload: %v", err))
	}
	return build(def, tasks, relations, schedule, types.ModeLegacy, raw)
}

// ParseExport normalizes a bulk export document. The document is either one
// export entry or an array of them; workflowCode selects the entry when there are several.
func ParseExport(doc []byte, workflowCode int64) (*types.WorkflowDefinition, error) {
	if len(doc) == 0 {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs("export document is empty")
	}
	v, err := decode(doc)
	if err != nil {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(fmt.Sprintf("export document: %v", err))
	}

	var entries []object
	if list := asList(v); list != nil {
		for _, item := range list {
			if o := asObject(item); o != nil {
				entries = append(entries, o)
			}
		}
	} else if o := asObject(v); o != nil {
		entries = append(entries, o)
	}

	entry, err := selectEntry(entries, workflowCode)
	if err != nil {
		return nil, err
	}
	def := entry.obj(exportDefinitionKeys...)
	if def == nil {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs("export entry has no workflow definition")
	}
	schedule, _ := entry.pick(exportScheduleKeys...)
	wf, err := build(
		def,
		entry.items(exportTaskKeys...),
		entry.items(exportRelationKeys...),
		firstObject(schedule),
		types.ModeExportOnly,
		append([]byte(nil), doc...),
	)
	if err != nil {
		return nil, err
	}
	if wf.WorkflowCode == 0 {
		wf.WorkflowCode = workflowCode
	}
	return wf, nil
}

func selectEntry(entries []object, workflowCode int64) (object, error) {
	if len(entries) == 0 {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs("export document has no entries")
	}
	for _, e := range entries {
		def := e.obj(exportDefinitionKeys...)
		if def != nil && workflowCode != 0 && def.num(codeKeys...) == workflowCode {
			return e, nil
		}
	}
	if len(entries) == 1 {
		return entries[0], nil
	}
	return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(
		fmt.Sprintf("workflow %d not present in export document", workflowCode))
}

// firstObject accepts a schedule given as an object or as a one-element list.
func firstObject(v interface{}) object {
	if o := asObject(v); o != nil {
		return o
	}
	if l := asList(v); len(l) > 0 {
		return asObject(l[0])
	}
	return nil
}

func build(def object, taskItems, relationItems []interface{}, schedule object, source types.IngestMode, raw []byte) (*types.WorkflowDefinition, error) {
	wf := &types.WorkflowDefinition{
		ProjectCode:   def.num(projectCodeKeys...),
		WorkflowCode:  def.num(codeKeys...),
		Name:          def.str(workflowNameKeys...),
		Description:   def.str("description", "desc"),
		GlobalParams:  rawString(def, "globalParams", "globalParamList"),
		ReleaseState:  def.str("releaseState"),
		Schedule:      parseSchedule(schedule),
		Tasks:         make([]types.TaskDefinition, 0, len(taskItems)),
		ExplicitEdges: parseEdges(relationItems),
		RawPayload:    raw,
		Source:        source,
	}
	if wf.Name == "" {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs("workflow name cannot be resolved")
	}
	for i, item := range taskItems {
		o := asObject(item)
		if o == nil {
			return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(fmt.Sprintf("task #%d is not an object", i))
		}
		task := parseTask(o)
		if task.Code == 0 {
			return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(fmt.Sprintf("task #%d has no code", i))
		}
		wf.Tasks = append(wf.Tasks, task)
	}
	if len(wf.Tasks) == 0 {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(fmt.Sprintf("workflow %q has no tasks", wf.Name))
	}
	return wf, nil
}
