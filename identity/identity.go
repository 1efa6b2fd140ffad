package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/types"
)

// MaxCodeLength is the storage limit of internal task codes.
const MaxCodeLength = 64

// hashLength is the number of hex digits appended to truncated codes.
const hashLength = 8

// Catalog is the read side of the task namespace. Lookups return nil, nil when absent.
type Catalog interface {
	FindTaskByEngineCode(ctx context.Context, engineCode int64) (*types.LocalTask, error)
	FindTaskByName(ctx context.Context, name string) (*types.LocalTask, error)
	FindTaskByCode(ctx context.Context, code string) (*types.LocalTask, error)
}

// Assignment is the local identity chosen for one engine task.
type Assignment struct {
	EngineTaskCode int64  `json:"engineTaskCode"`
	LocalTaskID    int64  `json:"localTaskId"`
	Name           string `json:"name"`
	Code           string `json:"code"`
	IsUpdate       bool   `json:"isUpdate"`
}

// Plan is the identity outcome of one ingestion pass.
type Plan struct {
	Assignments []Assignment            `json:"assignments"`
	Renames     []types.RenamePlanEntry `json:"renames"`
}

// ByEngineCode indexes the assignments.
func (p *Plan) ByEngineCode() map[int64]Assignment {
	out := make(map[int64]Assignment, len(p.Assignments))
	for _, a := range p.Assignments {
		out[a.EngineTaskCode] = a
	}
	return out
}

// Reconciler assigns globally unique local names and codes to engine tasks.
// It keeps no state between calls; every decision is derived from the catalog.
type Reconciler struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewReconciler creates a Reconciler over catalog.
func NewReconciler(catalog Catalog, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{catalog: catalog, logger: logger}
}

// pass tracks names and codes reserved earlier in one Reconcile call.
type pass struct {
	names map[string]int64
	codes map[string]int64
}

// Reconcile plans identities for def. workflowID is the local workflow the tasks
// will be bound to, 0 when the workflow is not yet in the catalog. Identity
// problems are collected into report; the returned error is a catalog failure.
func (r *Reconciler) Reconcile(ctx context.Context, workflowID int64, def *types.WorkflowDefinition, report *errcode.Report) (*Plan, error) {
	plan := &Plan{Assignments: []Assignment{}, Renames: []types.RenamePlanEntry{}}

	seen := make(map[int64]int)
	for _, t := range def.Tasks {
		seen[t.Code]++
		if seen[t.Code] == 2 {
			report.AddError(t.Code, errcode.ErrTaskCodeDuplicate.GenWithStackByArgs(t.Code, def.WorkflowCode))
		}
	}

	existing := make(map[int64]*types.LocalTask, len(def.Tasks))
	conflicts := make(map[int64]bool)
	p := &pass{names: make(map[string]int64), codes: make(map[string]int64)}
	for _, t := range def.Tasks {
		if seen[t.Code] > 1 {
			continue
		}
		local, err := r.catalog.FindTaskByEngineCode(ctx, t.Code)
		if err != nil {
			return nil, fmt.Errorf("failed to look up task %d: %w", t.Code, err)
		}
		if local == nil {
			continue
		}
		if local.WorkflowID != 0 && local.WorkflowID != workflowID {
			report.AddError(t.Code, errcode.ErrWorkflowBindingConflict.GenWithStackByArgs(t.Code, local.WorkflowID))
			conflicts[t.Code] = true
			continue
		}
		existing[t.Code] = local
		p.names[local.Name] = t.Code
		p.codes[local.Code] = t.Code
	}

	for _, t := range def.Tasks {
		if seen[t.Code] > 1 {
			continue
		}
		if local, ok := existing[t.Code]; ok {
			plan.Assignments = append(plan.Assignments, Assignment{
				EngineTaskCode: t.Code,
				LocalTaskID:    local.ID,
				Name:           local.Name,
				Code:           local.Code,
				IsUpdate:       true,
			})
			continue
		}
		if conflicts[t.Code] {
			continue
		}

		name, rename, err := r.resolveName(ctx, def.WorkflowCode, t, p)
		if err != nil {
			return nil, err
		}
		code, err := r.resolveCode(ctx, t.Code, name, p)
		if err != nil {
			return nil, err
		}
		p.names[name] = t.Code
		p.codes[code] = t.Code
		if rename != nil {
			plan.Renames = append(plan.Renames, *rename)
			r.logger.Info("task renamed to avoid a name collision",
				zap.Int64("taskCode", t.Code),
				zap.String("originalName", rename.OriginalName),
				zap.String("resolvedName", rename.ResolvedName))
		}
		plan.Assignments = append(plan.Assignments, Assignment{
			EngineTaskCode: t.Code,
			Name:           name,
			Code:           code,
		})
	}
	return plan, nil
}

// CandidateName is the engine name, or task_<code> when the engine has none.
func CandidateName(t types.TaskDefinition) string {
	if name := strings.TrimSpace(t.Name); name != "" {
		return name
	}
	return fmt.Sprintf("task_%d", t.Code)
}

func (r *Reconciler) resolveName(ctx context.Context, workflowCode int64, t types.TaskDefinition, p *pass) (string, *types.RenamePlanEntry, error) {
	original := CandidateName(t)
	reason, err := r.nameTaken(ctx, original, t.Code, p)
	if err != nil {
		return "", nil, err
	}
	if reason == "" {
		return original, nil, nil
	}

	base := fmt.Sprintf("%s_%d_%d", original, workflowCode, t.Code)
	candidate := base
	for n := 2; ; n++ {
		taken, err := r.nameTaken(ctx, candidate, t.Code, p)
		if err != nil {
			return "", nil, err
		}
		if taken == "" {
			break
		}
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
	return candidate, &types.RenamePlanEntry{
		TaskCode:     t.Code,
		OriginalName: original,
		ResolvedName: candidate,
		Reason:       reason,
	}, nil
}

// nameTaken returns why name is unavailable to the task with engineCode, or "".
func (r *Reconciler) nameTaken(ctx context.Context, name string, engineCode int64, p *pass) (string, error) {
	if owner, ok := p.names[name]; ok && owner != engineCode {
		return fmt.Sprintf("name %q is used by task %d in this workflow", name, owner), nil
	}
	local, err := r.catalog.FindTaskByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to look up task name %q: %w", name, err)
	}
	if local != nil && local.EngineTaskCode != engineCode {
		return fmt.Sprintf("name %q is used by local task %d", name, local.ID), nil
	}
	return "", nil
}

func (r *Reconciler) resolveCode(ctx context.Context, engineCode int64, name string, p *pass) (string, error) {
	base := Slug(name)
	if base == "" {
		base = fmt.Sprintf("task_%d", engineCode)
	}
	candidate := fitCode(base, "")
	for n := 2; ; n++ {
		taken, err := r.codeTaken(ctx, candidate, engineCode, p)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fitCode(base, fmt.Sprintf("_%d", n))
	}
}

func (r *Reconciler) codeTaken(ctx context.Context, code string, engineCode int64, p *pass) (bool, error) {
	if owner, ok := p.codes[code]; ok && owner != engineCode {
		return true, nil
	}
	local, err := r.catalog.FindTaskByCode(ctx, code)
	if err != nil {
		return false, fmt.Errorf("failed to look up task code %q: %w", code, err)
	}
	return local != nil && local.EngineTaskCode != engineCode, nil
}

// fitCode appends suffix to base, truncating base and adding a content hash
// when the result would exceed MaxCodeLength.
func fitCode(base, suffix string) string {
	if len(base)+len(suffix) <= MaxCodeLength {
		return base + suffix
	}
	sum := sha256.Sum256([]byte(base))
	hash := hex.EncodeToString(sum[:])[:hashLength]
	keep := MaxCodeLength - len(suffix) - hashLength - 1
	return strings.TrimRight(base[:keep], "_") + "_" + hash + suffix
}

// Slug lowercases name and replaces every run of characters outside [a-z0-9] with "_".
func Slug(name string) string {
	var sb strings.Builder
	underscore := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && sb.Len() > 0 {
			sb.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(sb.String(), "_")
}
