package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/queue"
	"github.com/spf13/cobra"
)

type listing struct {
	Counts    queue.Counts            `json:"counts"`
	Uploads   []models.QueuedUpload   `json:"uploads"`
	Deletions []models.QueuedDeletion `json:"deletions"`
}

func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show pending uploads and deletions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			var l listing
			if l.Counts, err = e.queue.Counts(ctx); err != nil {
				return err
			}
			if l.Uploads, err = e.queue.ListUploads(ctx); err != nil {
				return err
			}
			if l.Deletions, err = e.queue.ListDeletions(ctx); err != nil {
				return err
			}

			return rootOpts.printer(cmd).Result(l, l.text())
		},
	}
}

func (l listing) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d uploads, %d deletions pending\n", l.Counts.Uploads, l.Counts.Deletions)

	if len(l.Uploads) > 0 {
		w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\nID\tOWNER\tMETER\tVALUE\tCAPTURED\tPHOTO")
		for _, u := range l.Uploads {
			fmt.Fprintf(w, "%d\t%s\t%s\t%g\t%s\t%s\n",
				u.ID, u.OwnerID, u.MeterID, u.Value, u.CapturedAt.Local().Format(time.DateTime), u.LocalBlobPath)
		}
		_ = w.Flush()
	}

	if len(l.Deletions) > 0 {
		w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\nID\tKIND\tOWNER\tENTITY")
		for _, d := range l.Deletions {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.ID, d.EntityKind, d.OwnerID, d.EntityID)
		}
		_ = w.Flush()
	}

	return strings.TrimRight(b.String(), "\n")
}
