package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newConfigsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "configs",
		Short: "List the available download configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			w := cmd.OutOrStdout()
			if a.opts.Format == "json" {
				return writeJSON(w, e.cfg.Downloads)
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENTRY\tSOURCE\tCALENDAR\tBACKEND\tSTORE")
			for _, name := range e.cfg.Names() {
				d := e.cfg.Downloads[name]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					name, d.EntryType, d.Source, d.Calendar, d.Backend, e.cfg.StorePath(d))
			}
			return tw.Flush()
		},
	}
}
