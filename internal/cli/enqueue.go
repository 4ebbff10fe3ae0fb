package cli

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/filex"
	"github.com/dmitrijs2005/meterkeeper/internal/identity"
	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/scheduler"
	"github.com/dmitrijs2005/meterkeeper/internal/services"
	"github.com/spf13/cobra"
)

func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a reading upload or a deletion",
	}
	cmd.AddCommand(newEnqueueUploadCommand(rootOpts))
	cmd.AddCommand(newEnqueueDeleteCommand(rootOpts))
	return cmd
}

type enqueueUploadOptions struct {
	owner      string
	token      string
	meter      string
	photo      string
	value      float64
	capturedAt string
}

func newEnqueueUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &enqueueUploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Queue a captured reading and its photo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueueUpload(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&opts.token, "token", "", "access token to take the owner id from")
	cmd.Flags().StringVar(&opts.meter, "meter", "", "meter id (required)")
	cmd.Flags().StringVar(&opts.photo, "photo", "", "path to the captured photo (required)")
	cmd.Flags().Float64Var(&opts.value, "value", 0, "meter value")
	cmd.Flags().StringVar(&opts.capturedAt, "captured-at", "", "capture time, RFC 3339 (default now)")
	_ = cmd.MarkFlagRequired("meter")
	_ = cmd.MarkFlagRequired("photo")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func runEnqueueUpload(cmd *cobra.Command, rootOpts *RootOptions, opts *enqueueUploadOptions) error {
	ctx := cmd.Context()

	var capturedAt time.Time
	if opts.capturedAt != "" {
		t, err := time.Parse(time.RFC3339, opts.capturedAt)
		if err != nil {
			return WrapExitError(ExitCommandError, "bad --captured-at", err)
		}
		capturedAt = t
	}

	e, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	owner, err := resolveOwner(opts.owner, opts.token, e.cfg.SecretKey)
	if err != nil {
		return err
	}

	spool, err := filex.EnsureDir(e.cfg.SpoolDir)
	if err != nil {
		return enqueueError(err)
	}
	photo, err := filex.SpoolCopy(spool, opts.photo)
	if err != nil {
		return enqueueError(err)
	}

	svc := services.NewEnqueueService(e.queue, e.log)
	id, err := svc.RequestUpload(ctx, owner, opts.meter, photo, opts.value, capturedAt)
	if err != nil {
		_ = filex.RemoveIfExists(photo)
		return enqueueError(err)
	}

	wake(cmd, e)

	return rootOpts.printer(cmd).Result(
		map[string]any{"id": id, "photo": photo},
		fmt.Sprintf("queued upload %d", id),
	)
}

type enqueueDeleteOptions struct {
	kind  string
	owner string
	token string
	id    string
}

func newEnqueueDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &enqueueDeleteOptions{}

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Queue deletion of a location or meter and everything under it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueueDelete(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.kind, "kind", "", "entity kind (location|meter)")
	cmd.Flags().StringVar(&opts.owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&opts.token, "token", "", "access token to take the owner id from")
	cmd.Flags().StringVar(&opts.id, "id", "", "entity id (required)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runEnqueueDelete(cmd *cobra.Command, rootOpts *RootOptions, opts *enqueueDeleteOptions) error {
	ctx := cmd.Context()

	kind, err := models.ParseEntityKind(opts.kind)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad --kind", err)
	}

	e, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	owner, err := resolveOwner(opts.owner, opts.token, e.cfg.SecretKey)
	if err != nil {
		return err
	}

	svc := services.NewEnqueueService(e.queue, e.log)
	id, err := svc.RequestDeletion(ctx, kind, owner, opts.id)
	if err != nil {
		return enqueueError(err)
	}

	wake(cmd, e)

	return rootOpts.printer(cmd).Result(
		map[string]any{"id": id},
		fmt.Sprintf("queued deletion %d", id),
	)
}

// resolveOwner picks the owner id from the token when one is given. An
// explicit --owner must then agree with it.
func resolveOwner(owner, token, secret string) (string, error) {
	if token == "" {
		return owner, nil
	}
	fromToken, err := identity.OwnerFromToken(token, []byte(secret))
	if err != nil {
		return "", WrapExitError(ExitCommandError, "bad --token", err)
	}
	if owner != "" && owner != fromToken {
		return "", WrapExitError(ExitCommandError, "bad --owner",
			fmt.Errorf("%q does not match the token owner %q", owner, fromToken))
	}
	return fromToken, nil
}

func enqueueError(err error) error {
	switch {
	case errors.Is(err, common.ErrStorageFull), errors.Is(err, syscall.ENOSPC):
		return WrapExitError(ExitStorageFull, "local storage full", err)
	case errors.Is(err, common.ErrValidation):
		return WrapExitError(ExitCommandError, "invalid request", err)
	default:
		return WrapExitError(ExitFailure, "enqueue failed", err)
	}
}

// wake nudges a running daemon. Failure only delays the upload to the next
// tick.
func wake(cmd *cobra.Command, e *env) {
	if err := scheduler.Touch(e.cfg.WakeFile); err != nil {
		e.log.Warn(cmd.Context(), "could not touch wake file", "path", e.cfg.WakeFile, "error", err)
	}
}
