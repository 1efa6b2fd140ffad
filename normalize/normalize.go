package normalize

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/songzhibin97/dolphin-sync/errcode"
	"github.com/songzhibin97/dolphin-sync/types"
)

// Source carries the raw engine documents for one workflow. Either side may be nil.
type Source struct {
	Legacy    *LegacyPayload
	Export    []byte
	LegacyErr error
	ExportErr error
}

// Result is the outcome of one normalization pass.
type Result struct {
	// Definition is the primary definition that feeds the rest of the pipeline.
	Definition *types.WorkflowDefinition
	// Export and Legacy are the independent parses, set when they succeeded.
	Export *types.WorkflowDefinition
	Legacy *types.WorkflowDefinition
	// Shadow reports whether both paths parsed and parity can be checked.
	Shadow   bool
	Warnings []errcode.Issue
}

func (r *Result) warn(code, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, errcode.Issue{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Severity: errcode.SeverityWarning,
	})
}

// Normalize selects the read path(s) by mode and returns the canonical definition.
// A returned error is terminal for the pass.
func Normalize(mode types.IngestMode, src Source, workflowCode int64) (*Result, error) {
	res := &Result{}
	switch mode {
	case types.ModeLegacy:
		legacy, err := parseLegacySource(src)
		if err != nil {
			return nil, err
		}
		res.Legacy = legacy
		res.Definition = legacy

	case types.ModeExportOnly:
		export, err := parseExportSource(src, workflowCode)
		if err != nil {
			return nil, err
		}
		res.Export = export
		res.Definition = export

	case types.ModeExportShadow:
		export, exportErr := parseExportSource(src, workflowCode)
		legacy, legacyErr := parseLegacySource(src)
		res.Export, res.Legacy = export, legacy
		switch {
		case exportErr == nil && legacyErr == nil:
			res.Definition = export
			res.Shadow = true
		case exportErr == nil:
			res.Definition = export
			res.warn(errcode.WarnLegacyShadowUnavailable,
				"legacy shadow parse failed, parity not checked: %s", errcode.Message(legacyErr))
		case legacyErr == nil:
			res.Definition = legacy
			res.warn(errcode.WarnExportFallbackLegacy,
				"export parse failed, fell back to legacy: %s", errcode.Message(exportErr))
		default:
			return nil, exportErr
		}

	default:
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs(fmt.Sprintf("unknown ingest mode %q", mode))
	}

	def := res.Definition.Clone()
	def.Source = mode
	if def.WorkflowCode == 0 {
		def.WorkflowCode = workflowCode
	}
	res.Definition = def

	if def.Schedule != nil && def.Schedule.Cron != "" {
		if err := ValidateCron(def.Schedule.Cron); err != nil {
			res.warn(errcode.WarnScheduleCronInvalid, "schedule cron %q: %v", def.Schedule.Cron, err)
		}
	}
	return res, nil
}

func parseLegacySource(src Source) (*types.WorkflowDefinition, error) {
	if src.LegacyErr != nil {
		return nil, errcode.Wrap(src.LegacyErr)
	}
	if src.Legacy == nil {
		return nil, errcode.ErrDefinitionFormatUnsupported.GenWithStackByArgs("legacy payload is missing")
	}
	return ParseLegacy(*src.Legacy)
}

func parseExportSource(src Source, workflowCode int64) (*types.WorkflowDefinition, error) {
	if src.ExportErr != nil {
		return nil, errcode.Wrap(src.ExportErr)
	}
	return ParseExport(src.Export, workflowCode)
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron checks an engine cron expression. The engine uses Quartz syntax
// with a seconds field and an optional trailing year field.
func ValidateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) == 7 {
		fields = fields[:6]
	}
	if len(fields) != 6 && !strings.HasPrefix(expr, "@") {
		return fmt.Errorf("expected 6 or 7 fields, got %d", len(fields))
	}
	_, err := cronParser.Parse(strings.Join(fields, " "))
	return err
}
