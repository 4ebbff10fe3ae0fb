package cli

import (
	"github.com/dmitrijs2005/meterkeeper/internal/config"
	"github.com/spf13/cobra"
)

// NewMigrateCommand brings the local queue and, for the postgres remote, the
// document schema up to date. Both are also migrated on open.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply queue and remote schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			migrated := []string{"queue"}
			if e.cfg.Remote == config.RemotePostgres {
				if err := e.openRemote(ctx, nil); err != nil {
					return err
				}
				migrated = append(migrated, "remote")
			}

			return rootOpts.printer(cmd).Result(map[string]any{"migrated": migrated}, "schema up to date")
		},
	}
}
