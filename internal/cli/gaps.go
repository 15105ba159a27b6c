package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gapfill/internal/gather"
)

type gapsOptions struct {
	config  string
	symbols []string
	limit   int
}

func newGapsCommand(a *app) *cobra.Command {
	o := &gapsOptions{}
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Report missing timestamps per symbol without fetching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGaps(cmd, o)
		},
	}
	cmd.Flags().StringVarP(&o.config, "config", "c", "", "download configuration name (required)")
	cmd.Flags().StringSliceVar(&o.symbols, "symbols", nil, "inspect only these symbols")
	cmd.Flags().IntVar(&o.limit, "limit", 0, "inspect at most this many symbols")
	return cmd
}

type gapLine struct {
	Symbol  string     `json:"symbol"`
	Ignored bool       `json:"ignored,omitempty"`
	Missing int        `json:"missing"`
	First   *time.Time `json:"first,omitempty"`
	Last    *time.Time `json:"last,omitempty"`
}

func (a *app) runGaps(cmd *cobra.Command, o *gapsOptions) error {
	e, err := a.setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	d, loc, err := e.download(o.config)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	symbols, err := e.symbols(d, o.symbols, o.limit)
	if err != nil {
		return err
	}
	st, err := e.openStore(ctx, d, loc, symbols)
	if err != nil {
		return err
	}
	cal, err := a.calendar(ctx, e, d, loc)
	if err != nil {
		return err
	}

	gaps := gather.NewSyncer(st, nil, syncOptions(e, d)).Gaps(symbols, cal)
	lines := make([]gapLine, len(gaps))
	for i, g := range gaps {
		l := gapLine{Symbol: g.Symbol, Ignored: g.Ignored, Missing: len(g.Missing)}
		if n := len(g.Missing); n > 0 && !g.Ignored {
			first, last := g.Missing[0], g.Missing[n-1]
			l.First, l.Last = &first, &last
		}
		lines[i] = l
	}

	w := cmd.OutOrStdout()
	if a.opts.Format == "json" {
		return writeJSON(w, lines)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tMISSING\tFIRST\tLAST")
	for _, l := range lines {
		switch {
		case l.Ignored:
			fmt.Fprintf(tw, "%s\tignored\t-\t-\n", l.Symbol)
		case l.First == nil:
			fmt.Fprintf(tw, "%s\t0\t-\t-\n", l.Symbol)
		default:
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", l.Symbol, l.Missing, formatTime(*l.First), formatTime(*l.Last))
		}
	}
	return tw.Flush()
}
