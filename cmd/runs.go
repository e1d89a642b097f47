package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bgm-notion-sync/internal/store"
)

// newRunsCmd creates the 'runs' subcommand, which lists recorded runs.
func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs from the run history table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := appInstance.GetRunRepository()
			if err != nil {
				return err
			}
			runs, err := repo.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func printRuns(w io.Writer, runs []store.SyncRun) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tDURATION\tFETCHED\tADDED\tUPDATED\tDELETED\tMARKED\tFAILED\tERROR")
	for _, run := range runs {
		errText := ""
		if run.ErrorMessage != nil {
			errText = *run.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			run.StartedAt.Format(time.RFC3339),
			run.Status,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			run.Fetched, run.Added, run.Updated, run.Deleted, run.Marked, run.Failed,
			errText,
		)
	}
	return tw.Flush()
}
