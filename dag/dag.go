package dag

import (
	"fmt"
	"sort"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/types"
)

// EntryName is the display name of the entry sentinel.
const EntryName = "<entry>"

// Infer derives edges from table lineage: u->d exists iff some output table of u
// is an input table of d and u != d. Tasks with no upstream become 0->task.
// The result is deduplicated and sorted.
func Infer(tasks []types.TaskDefinition) []types.TaskEdge {
	producers := make(map[int64][]int64)
	for _, t := range tasks {
		for _, table := range unique(t.OutputTableIDs) {
			producers[table] = append(producers[table], t.Code)
		}
	}

	set := make(map[types.TaskEdge]struct{})
	hasUpstream := make(map[int64]bool)
	for _, d := range tasks {
		for _, table := range unique(d.InputTableIDs) {
			for _, u := range producers[table] {
				if u == d.Code {
					continue
				}
				set[types.TaskEdge{Upstream: u, Downstream: d.Code}] = struct{}{}
				hasUpstream[d.Code] = true
			}
		}
	}
	for _, t := range tasks {
		if !hasUpstream[t.Code] {
			set[types.TaskEdge{Upstream: types.EntryCode, Downstream: t.Code}] = struct{}{}
		}
	}
	return sorted(set)
}

// Normalize deduplicates and sorts declared edges.
func Normalize(edges []types.TaskEdge) []types.TaskEdge {
	set := make(map[types.TaskEdge]struct{}, len(edges))
	for _, e := range edges {
		set[e] = struct{}{}
	}
	return sorted(set)
}

// withEntries adds 0->task for every task without a declared upstream so that
// declared edges are shaped like inferred ones.
func withEntries(edges []types.TaskEdge, tasks []types.TaskDefinition) []types.TaskEdge {
	hasUpstream := make(map[int64]bool)
	for _, e := range edges {
		hasUpstream[e.Downstream] = true
	}
	out := append([]types.TaskEdge(nil), edges...)
	for _, t := range tasks {
		if !hasUpstream[t.Code] {
			out = append(out, types.TaskEdge{Upstream: types.EntryCode, Downstream: t.Code})
		}
	}
	return Normalize(out)
}

// Reconciliation compares declared edges against inferred ones.
type Reconciliation struct {
	Explicit []types.TaskEdge
	Inferred []types.TaskEdge
	// Missing is set when the engine declared nothing while inference found edges.
	Missing bool
	// Mismatch is set when both sets are present and differ.
	Mismatch *types.EdgeMismatchDetail
	// Err is the strict-mode DOLPHIN_EXPLICIT_EDGE_MISSING error.
	Err      error
	Warnings []errcode.Issue
}

// Committed returns the edge set that is persisted. It is always the inferred set.
func (r *Reconciliation) Committed() []types.TaskEdge {
	return r.Inferred
}

// Reconcile compares the declared edges of def with the inferred set. Subset and
// superset differences are both reported as a mismatch requiring confirmation.
func Reconcile(def *types.WorkflowDefinition, inferred []types.TaskEdge, strict bool) *Reconciliation {
	names := def.TaskNames()
	r := &Reconciliation{Inferred: Normalize(inferred)}

	declared := Normalize(def.ExplicitEdges)
	if len(declared) == 0 {
		r.Explicit = declared
		if len(r.Inferred) > 0 {
			r.Missing = true
			if strict {
				r.Err = errcode.ErrExplicitEdgeMissing.GenWithStackByArgs(len(r.Inferred))
			} else {
				r.Warnings = append(r.Warnings, errcode.Issue{
					Code:     errcode.WarnExplicitEdgeMissing,
					Message:  fmt.Sprintf("engine declared no edges, %d inferred edges will be used", len(r.Inferred)),
					Severity: errcode.SeverityWarning,
				})
			}
		}
		return r
	}

	r.Explicit = withEntries(declared, def.Tasks)
	explicitOnly := difference(r.Explicit, r.Inferred)
	inferredOnly := difference(r.Inferred, r.Explicit)
	if len(explicitOnly) == 0 && len(inferredOnly) == 0 {
		return r
	}
	r.Mismatch = &types.EdgeMismatchDetail{
		Explicit:     Views(r.Explicit, names),
		Inferred:     Views(r.Inferred, names),
		ExplicitOnly: Views(explicitOnly, names),
		InferredOnly: Views(inferredOnly, names),
	}
	r.Warnings = append(r.Warnings, errcode.Issue{
		Code: errcode.WarnEdgeMismatchConfirm,
		Message: fmt.Sprintf("declared edges differ from inferred edges (%d explicit only, %d inferred only)",
			len(explicitOnly), len(inferredOnly)),
		Severity: errcode.SeverityWarning,
	})
	return r
}

// MismatchError returns the commit-time error for an unconfirmed mismatch.
func (r *Reconciliation) MismatchError() error {
	if r.Mismatch == nil {
		return nil
	}
	return errcode.ErrEdgeMismatchConfirmRequired.GenWithStackByArgs(
		len(r.Mismatch.ExplicitOnly), len(r.Mismatch.InferredOnly))
}

// Views renders edges with task names.
func Views(edges []types.TaskEdge, names map[int64]string) []types.EdgeView {
	out := make([]types.EdgeView, 0, len(edges))
	for _, e := range edges {
		out = append(out, types.EdgeView{
			Upstream:       e.Upstream,
			Downstream:     e.Downstream,
			UpstreamName:   displayName(e.Upstream, names),
			DownstreamName: displayName(e.Downstream, names),
		})
	}
	return out
}

func displayName(code int64, names map[int64]string) string {
	if code == types.EntryCode {
		return EntryName
	}
	if n, ok := names[code]; ok && n != "" {
		return n
	}
	return fmt.Sprintf("task_%d", code)
}

// difference returns the edges of a that are not in b, sorted.
func difference(a, b []types.TaskEdge) []types.TaskEdge {
	in := make(map[types.TaskEdge]struct{}, len(b))
	for _, e := range b {
		in[e] = struct{}{}
	}
	set := make(map[types.TaskEdge]struct{})
	for _, e := range a {
		if _, ok := in[e]; !ok {
			set[e] = struct{}{}
		}
	}
	return sorted(set)
}

func sorted(set map[types.TaskEdge]struct{}) []types.TaskEdge {
	out := make([]types.TaskEdge, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Upstream != out[j].Upstream {
			return out[i].Upstream < out[j].Upstream
		}
		return out[i].Downstream < out[j].Downstream
	})
	return out
}

func unique(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
