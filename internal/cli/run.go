package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/services"
	"github.com/spf13/cobra"
)

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a reconciler once",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "upload <queue-id>",
		Short: "Reconcile one queued upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return WrapExitError(ExitCommandError, "bad queue id", fmt.Errorf("%q is not a positive integer", args[0]))
			}
			return runUpload(cmd, rootOpts, id)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uploads",
		Short: "Reconcile every queued upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUploads(cmd, rootOpts)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deletions",
		Short: "Drain the deletion queue in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeletions(cmd, rootOpts)
		},
	})

	return cmd
}

func runUpload(cmd *cobra.Command, rootOpts *RootOptions, id int64) error {
	ctx := cmd.Context()

	e, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openRemote(ctx, rootOpts.remote); err != nil {
		return err
	}

	out := rootOpts.printer(cmd)
	outcome, err := e.runner().RunUpload(ctx, id)
	data := map[string]any{"id": id, "outcome": outcome}
	if err != nil {
		out.Failure(data, err)
		return WrapExitError(ExitFailure, fmt.Sprintf("upload %d not reconciled", id), err)
	}
	return out.Result(data, fmt.Sprintf("upload %d: %s", id, outcome))
}

func runUploads(cmd *cobra.Command, rootOpts *RootOptions) error {
	ctx := cmd.Context()

	e, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openRemote(ctx, rootOpts.remote); err != nil {
		return err
	}

	out := rootOpts.printer(cmd)
	report, err := e.runner().RunUploads(ctx)
	text := fmt.Sprintf("committed %d, already done %d, failed %d", report.Committed, report.AlreadyDone, report.Failed)
	if err != nil {
		out.Failure(report, err)
		return WrapExitError(ExitFailure, text, err)
	}
	return out.Result(report, text)
}

func runDeletions(cmd *cobra.Command, rootOpts *RootOptions) error {
	ctx := cmd.Context()

	e, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openRemote(ctx, rootOpts.remote); err != nil {
		return err
	}

	out := rootOpts.printer(cmd)
	report, err := e.runner().RunDeletions(ctx)
	text := deletionText(report)
	switch {
	case errors.Is(err, common.ErrBusy):
		out.Failure(report, err)
		return WrapExitError(ExitFailure, "deletion pass already running", err)
	case err != nil:
		out.Failure(report, err)
		return WrapExitError(ExitFailure, text, err)
	}
	return out.Result(report, text)
}

func deletionText(r services.DeletionReport) string {
	text := fmt.Sprintf("processed %d, %d remaining", len(r.Processed), r.Remaining)
	if r.FailedID != 0 {
		text = fmt.Sprintf("processed %d, stopped at %d, %d remaining", len(r.Processed), r.FailedID, r.Remaining)
	}
	if n := len(r.Rejected); n > 0 {
		text += fmt.Sprintf(", rejected %d", n)
	}
	return text
}
