package errcode

import (
	"regexp"
	"strings"

	"github.com/pingcap/errors"
)

const codePrefix = "DSYNC:"

// Format and shape errors.
var (
	ErrDefinitionFormatUnsupported = errors.Normalize(
		"workflow definition cannot be normalized: %s",
		errors.RFCCodeText("DSYNC:DEFINITION_FORMAT_UNSUPPORTED"),
	)
	ErrUnsupportedNodeType = errors.Normalize(
		"task %d (%s) has unsupported node type %s",
		errors.RFCCodeText("DSYNC:UNSUPPORTED_NODE_TYPE"),
	)
)

// Lineage errors.
var (
	ErrSQLTableAmbiguous = errors.Normalize(
		"task %d (%s) references ambiguous tables: %s",
		errors.RFCCodeText("DSYNC:SQL_TABLE_AMBIGUOUS"),
	)
	ErrSQLTableUnmatched = errors.Normalize(
		"task %d (%s) references unmatched tables: %s",
		errors.RFCCodeText("DSYNC:SQL_TABLE_UNMATCHED"),
	)
	ErrSQLLineageIncomplete = errors.Normalize(
		"task %d (%s) resolves to no output table",
		errors.RFCCodeText("DSYNC:SQL_LINEAGE_INCOMPLETE"),
	)
	ErrDataSourceNotFound = errors.Normalize(
		"task %d (%s) uses unknown data source %d",
		errors.RFCCodeText("DSYNC:DATASOURCE_NOT_FOUND"),
	)
)

// Identity errors.
var (
	ErrTaskCodeDuplicate = errors.Normalize(
		"task code %d appears more than once in workflow %d",
		errors.RFCCodeText("DSYNC:TASK_CODE_DUPLICATE"),
	)
	ErrWorkflowBindingConflict = errors.Normalize(
		"task code %d is already bound to workflow %d",
		errors.RFCCodeText("DSYNC:WORKFLOW_BINDING_CONFLICT"),
	)
)

// Structural trust errors.
var (
	ErrExplicitEdgeMissing = errors.Normalize(
		"engine declared no edges but %d edges were inferred",
		errors.RFCCodeText("DSYNC:DOLPHIN_EXPLICIT_EDGE_MISSING"),
	)
	ErrEdgeMismatchConfirmRequired = errors.Normalize(
		"declared edges differ from inferred edges (%d explicit only, %d inferred only); confirmation required",
		errors.RFCCodeText("DSYNC:EDGE_MISMATCH_CONFIRM_REQUIRED"),
	)
	ErrDefinitionParityMismatch = errors.Normalize(
		"export and legacy definitions differ in %d fields",
		errors.RFCCodeText("DSYNC:DEFINITION_PARITY_MISMATCH"),
	)
)

// Lifecycle errors.
var (
	ErrWorkflowNotFound = errors.Normalize(
		"workflow %d not found",
		errors.RFCCodeText("DSYNC:WORKFLOW_NOT_FOUND"),
	)
	ErrVersionNotFound = errors.Normalize(
		"version %d of workflow %d not found",
		errors.RFCCodeText("DSYNC:VERSION_NOT_FOUND"),
	)
	ErrVersionSnapshotUnsupported = errors.Normalize(
		"version %d uses snapshot schema v%d and cannot be rolled back",
		errors.RFCCodeText("DSYNC:VERSION_SNAPSHOT_UNSUPPORTED"),
	)
	ErrVersionDeleteForbidden = errors.Normalize(
		"version %d cannot be deleted: %s",
		errors.RFCCodeText("DSYNC:VERSION_DELETE_FORBIDDEN"),
	)
	ErrVersionRollbackFailed = errors.Normalize(
		"rollback to version %d failed: %s",
		errors.RFCCodeText("DSYNC:VERSION_ROLLBACK_FAILED"),
	)
	ErrSyncFailed = errors.Normalize(
		"sync failed: %s",
		errors.RFCCodeText("DSYNC:SYNC_FAILED"),
	)
)

// Warning codes. Some of them share a code with an error that they escalate to at commit.
const (
	WarnExportFallbackLegacy     = "EXPORT_FALLBACK_LEGACY"
	WarnLegacyShadowUnavailable  = "LEGACY_SHADOW_UNAVAILABLE"
	WarnScheduleCronInvalid      = "SCHEDULE_CRON_INVALID"
	WarnEdgeMismatchConfirm      = "EDGE_MISMATCH_CONFIRM_REQUIRED"
	WarnDefinitionParityMismatch = "DEFINITION_PARITY_MISMATCH"
	WarnExplicitEdgeMissing      = "DOLPHIN_EXPLICIT_EDGE_MISSING"
)

var codePattern = regexp.MustCompile(`\[` + codePrefix + `([A-Z_]+)\]`)

// Code returns the bare code of err, e.g. "SQL_TABLE_UNMATCHED", or "" for uncoded errors.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := errors.Cause(err).(*errors.Error); ok {
		return strings.TrimPrefix(string(e.RFCCode()), codePrefix)
	}
	if m := codePattern.FindStringSubmatch(err.Error()); m != nil {
		return m[1]
	}
	return ""
}

// Message returns err's text without the leading "[DSYNC:CODE]" marker.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if loc := codePattern.FindStringIndex(msg); loc != nil && loc[0] == 0 {
		msg = msg[loc[1]:]
	}
	return strings.TrimSpace(msg)
}

// Is reports whether err carries the code of target.
func Is(err error, target *errors.Error) bool {
	if err == nil || target == nil {
		return false
	}
	return target.Equal(err) || Code(err) == strings.TrimPrefix(string(target.RFCCode()), codePrefix)
}

// Wrap returns err unchanged when it already carries a code, otherwise it becomes SYNC_FAILED.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if Code(err) != "" {
		return err
	}
	return ErrSyncFailed.GenWithStackByArgs(err.Error())
}
