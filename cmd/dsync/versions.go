package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errMissingWorkflowID = errors.New("--workflow-id is required")

// versionsOptions defines flags for the `versions` command.
type versionsOptions struct {
	general *generalOptions

	workflowID int64
}

func (o *versionsOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&o.workflowID, "workflow-id", 0, "local workflow id")
}

// run the `versions` command.
func (o *versionsOptions) run(cmd *cobra.Command) error {
	if o.workflowID <= 0 {
		return errMissingWorkflowID
	}
	return o.general.withApp(cmd, func(ctx context.Context, a *app) error {
		versions, err := a.svc.Versions(ctx, o.workflowID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), versions)
	})
}

// newCmdVersions creates the `versions` command.
func newCmdVersions(general *generalOptions) *cobra.Command {
	o := &versionsOptions{general: general}

	command := &cobra.Command{
		Use:   "versions",
		Short: "List the versions of a workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}

// diffOptions defines flags for the `diff` command.
type diffOptions struct {
	general *generalOptions

	workflowID int64
	left       int64
	right      int64
	unified    bool
}

func (o *diffOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&o.workflowID, "workflow-id", 0, "local workflow id")
	cmd.Flags().Int64Var(&o.left, "left", 0, "left version id, defaults to the version before --right")
	cmd.Flags().Int64Var(&o.right, "right", 0, "right version id")
	cmd.Flags().BoolVar(&o.unified, "unified", false, "print only the unified diff")
}

// run the `diff` command.
func (o *diffOptions) run(cmd *cobra.Command) error {
	if o.workflowID <= 0 {
		return errMissingWorkflowID
	}
	if o.right <= 0 {
		return errors.New("--right is required")
	}
	var left *int64
	if cmd.Flags().Changed("left") {
		left = &o.left
	}
	return o.general.withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.svc.Diff(ctx, o.workflowID, left, o.right)
		if err != nil {
			return err
		}
		if o.unified {
			_, err = fmt.Fprint(cmd.OutOrStdout(), res.Unified)
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

// newCmdDiff creates the `diff` command.
func newCmdDiff(general *generalOptions) *cobra.Command {
	o := &diffOptions{general: general}

	command := &cobra.Command{
		Use:   "diff",
		Short: "Compare two versions of a workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}

// rollbackOptions defines flags for the `rollback` command.
type rollbackOptions struct {
	general *generalOptions

	workflowID int64
	target     int64
	operator   string
}

func (o *rollbackOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&o.workflowID, "workflow-id", 0, "local workflow id")
	cmd.Flags().Int64Var(&o.target, "target", 0, "version id to restore")
	cmd.Flags().StringVar(&o.operator, "operator", "dsync", "operator recorded on the new version")
}

// run the `rollback` command.
func (o *rollbackOptions) run(cmd *cobra.Command) error {
	if o.workflowID <= 0 {
		return errMissingWorkflowID
	}
	if o.target <= 0 {
		return errors.New("--target is required")
	}
	return o.general.withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.svc.Rollback(ctx, o.workflowID, o.target, o.operator)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

// newCmdRollback creates the `rollback` command.
func newCmdRollback(general *generalOptions) *cobra.Command {
	o := &rollbackOptions{general: general}

	command := &cobra.Command{
		Use:   "rollback",
		Short: "Restore a version as the new current version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}

// deleteVersionOptions defines flags for the `delete-version` command.
type deleteVersionOptions struct {
	general *generalOptions

	workflowID int64
	versionID  int64
}

func (o *deleteVersionOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&o.workflowID, "workflow-id", 0, "local workflow id")
	cmd.Flags().Int64Var(&o.versionID, "version-id", 0, "version id to delete")
}

// run the `delete-version` command.
func (o *deleteVersionOptions) run(cmd *cobra.Command) error {
	if o.workflowID <= 0 {
		return errMissingWorkflowID
	}
	if o.versionID <= 0 {
		return errors.New("--version-id is required")
	}
	return o.general.withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.svc.DeleteVersion(ctx, o.workflowID, o.versionID); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted version %d\n", o.versionID)
		return err
	})
}

// newCmdDeleteVersion creates the `delete-version` command.
func newCmdDeleteVersion(general *generalOptions) *cobra.Command {
	o := &deleteVersionOptions{general: general}

	command := &cobra.Command{
		Use:   "delete-version",
		Short: "Delete a version that is neither current nor last published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}
