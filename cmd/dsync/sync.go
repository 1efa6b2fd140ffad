package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/songzhibin97/dolphin-sync/syncer"
)

var errMissingWorkflow = errors.New("--project and --workflow are required")

// workflowOptions addresses one engine workflow.
type workflowOptions struct {
	projectCode  int64
	workflowCode int64
}

func (o *workflowOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&o.projectCode, "project", 0, "engine project code")
	cmd.Flags().Int64Var(&o.workflowCode, "workflow", 0, "engine workflow code")
}

func (o *workflowOptions) validate() error {
	if o.projectCode <= 0 || o.workflowCode <= 0 {
		return errMissingWorkflow
	}
	return nil
}

// confirmOptions carries the gate confirmations of a commit.
type confirmOptions struct {
	confirmEdge   bool
	confirmParity bool
	operator      string
}

func (o *confirmOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.confirmEdge, "confirm-edge-mismatch", false, "commit even if declared and inferred edges differ")
	cmd.Flags().BoolVar(&o.confirmParity, "confirm-parity-mismatch", false, "commit even if legacy and export payloads differ")
	cmd.Flags().StringVar(&o.operator, "operator", "dsync", "operator recorded on the sync record")
}

// previewOptions defines flags for the `preview` command.
type previewOptions struct {
	general *generalOptions
	workflowOptions
}

// run the `preview` command.
func (o *previewOptions) run(cmd *cobra.Command) error {
	if err := o.validate(); err != nil {
		return err
	}
	return o.general.withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.svc.Preview(ctx, o.projectCode, o.workflowCode)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

// newCmdPreview creates the `preview` command.
func newCmdPreview(general *generalOptions) *cobra.Command {
	o := &previewOptions{general: general}

	command := &cobra.Command{
		Use:   "preview",
		Short: "Show what a commit of one workflow would write",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.workflowOptions.addFlags(command)

	return command
}

// commitOptions defines flags for the `commit` command.
type commitOptions struct {
	general *generalOptions
	workflowOptions
	confirmOptions
}

// run the `commit` command. The result is printed even when the commit is refused.
func (o *commitOptions) run(cmd *cobra.Command) error {
	if err := o.validate(); err != nil {
		return err
	}
	return o.general.withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.svc.Commit(ctx, syncer.CommitRequest{
			ProjectCode:           o.projectCode,
			WorkflowCode:          o.workflowCode,
			ConfirmEdgeMismatch:   o.confirmEdge,
			ConfirmParityMismatch: o.confirmParity,
			Operator:              o.operator,
		})
		if perr := printJSON(cmd.OutOrStdout(), res); perr != nil && err == nil {
			return perr
		}
		return err
	})
}

// newCmdCommit creates the `commit` command.
func newCmdCommit(general *generalOptions) *cobra.Command {
	o := &commitOptions{general: general}

	command := &cobra.Command{
		Use:   "commit",
		Short: "Sync one workflow into the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.workflowOptions.addFlags(command)
	o.confirmOptions.addFlags(command)

	return command
}

// syncProjectOptions defines flags for the `sync-project` command.
type syncProjectOptions struct {
	general *generalOptions
	confirmOptions

	projectCode int64
	filter      string
}

func (o *syncProjectOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&o.projectCode, "project", 0, "engine project code")
	cmd.Flags().StringVar(&o.filter, "filter", "", `workflow filter expression, e.g. releaseState == "ONLINE"`)
	o.confirmOptions.addFlags(cmd)
}

// run the `sync-project` command.
func (o *syncProjectOptions) run(cmd *cobra.Command) error {
	if o.projectCode <= 0 {
		return errors.New("--project is required")
	}
	return o.general.withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.svc.SyncProject(ctx, syncer.ProjectSyncRequest{
			ProjectCode:           o.projectCode,
			Filter:                o.filter,
			ConfirmEdgeMismatch:   o.confirmEdge,
			ConfirmParityMismatch: o.confirmParity,
			Operator:              o.operator,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

// newCmdSyncProject creates the `sync-project` command.
func newCmdSyncProject(general *generalOptions) *cobra.Command {
	o := &syncProjectOptions{general: general}

	command := &cobra.Command{
		Use:   "sync-project",
		Short: "Sync every matching workflow of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}
