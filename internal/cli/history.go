package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type historyOptions struct {
	limit   int
	details bool
}

func newHistoryCommand(a *app) *cobra.Command {
	o := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent download runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHistory(cmd, o)
		},
	}
	cmd.Flags().IntVarP(&o.limit, "limit", "n", 10, "number of runs to show")
	cmd.Flags().BoolVar(&o.details, "details", false, "include per-symbol outcomes")
	return cmd
}

func (a *app) runHistory(cmd *cobra.Command, o *historyOptions) error {
	e, err := a.setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ledger := e.openLedger()
	if ledger == nil {
		return NewExitError(ExitFailure, "run ledger unavailable")
	}
	runs, err := ledger.RecentRuns(cmd.Context(), o.limit)
	if err != nil {
		return WrapExitError(ExitFailure, "reading run ledger", err)
	}

	w := cmd.OutOrStdout()
	if a.opts.Format == "json" {
		return writeJSON(w, runs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCONFIG\tSTARTED\tFINISHED\tSTATUS\tSYMBOLS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			r.ID, r.Config, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Status, len(r.Symbols))
		if !o.details {
			continue
		}
		for _, s := range r.Symbols {
			line := fmt.Sprintf("  %s\t%s\tmissing=%d updates=%d new_rows=%d unresolved=%d",
				s.Symbol, s.Status, s.Missing, s.Updates, s.NewRows, s.Unresolved)
			if s.Error != "" {
				line += "\t" + s.Error
			}
			fmt.Fprintln(tw, line)
		}
	}
	return tw.Flush()
}
