// Package cli implements the meterkeeper command line: enqueueing readings
// and deletions, running the reconcilers on demand, inspecting the queue
// and starting the daemon.
package cli

import (
	"fmt"
	"slices"

	"github.com/dmitrijs2005/meterkeeper/internal/config"
	"github.com/dmitrijs2005/meterkeeper/internal/remote"
	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

// RootOptions holds global flags that are not part of config.Config.
type RootOptions struct {
	Format string // "json" | "text"

	remote *Remote
}

// Remote is a set of already opened stores that replaces the one named by
// the config. It lets an embedding process drive the reconcilers against
// stores it owns.
type Remote struct {
	Docs   remote.DocumentStore
	Blobs  remote.BlobStore
	Pinger remote.Pinger
}

var validFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

// NewRootCommandWithRemote builds the command tree over rem instead of the
// configured remote.
func NewRootCommandWithRemote(rem *Remote) *cobra.Command {
	return newRootCommand(&RootOptions{remote: rem})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "meterkeeper",
		Short:         "Offline-first meter reading sync",
		Long:          "Queues meter readings and deletions locally and reconciles them with the remote store when online.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return WrapExitError(ExitCommandError, "bad flags", fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewDaemonCommand(opts))

	return cmd
}

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{format: o.Format, w: cmd.OutOrStdout()}
}
