package errcode

import (
	"go.uber.org/multierr"
)

// Severity of a collected issue.
type Severity string

// Issue severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one collected problem. TaskCode is 0 for workflow-level issues.
type Issue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	TaskCode int64    `json:"taskCode,omitempty"`
}

// Report collects errors and warnings so that callers see every problem at once.
type Report struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`

	errs []error
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{Errors: []Issue{}, Warnings: []Issue{}}
}

// AddError records a coded error. Uncoded errors are recorded as SYNC_FAILED.
func (r *Report) AddError(taskCode int64, err error) {
	if err == nil {
		return
	}
	err = Wrap(err)
	r.errs = append(r.errs, err)
	r.Errors = append(r.Errors, Issue{
		Code:     Code(err),
		Message:  Message(err),
		Severity: SeverityError,
		TaskCode: taskCode,
	})
}

// AddWarning records a non-fatal issue.
func (r *Report) AddWarning(taskCode int64, code, message string) {
	r.Warnings = append(r.Warnings, Issue{
		Code:     code,
		Message:  message,
		Severity: SeverityWarning,
		TaskCode: taskCode,
	})
}

// HasErrors reports whether any error was collected.
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}

// Codes lists the codes of issues in order, without repeats.
func Codes(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	seen := make(map[string]bool, len(issues))
	for _, i := range issues {
		if !seen[i.Code] {
			seen[i.Code] = true
			out = append(out, i.Code)
		}
	}
	return out
}

// First returns the first collected error, or nil.
func (r *Report) First() error {
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[0]
}

// Err combines every collected error.
func (r *Report) Err() error {
	return multierr.Combine(r.errs...)
}
