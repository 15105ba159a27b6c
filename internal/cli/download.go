package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"gapfill/internal/gather"
	"gapfill/internal/metrics"
	"gapfill/internal/store"
)

type downloadOptions struct {
	config  string
	symbols []string
	limit   int
}

func newDownloadCommand(a *app) *cobra.Command {
	o := &downloadOptions{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fill the missing observations of a dataset",
		Long: `Load the dataset named by a download configuration, detect which expected
timestamps are missing for each symbol, fetch only those from the vendor and
merge them back. Existing values are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDownload(cmd, o)
		},
	}
	cmd.Flags().StringVarP(&o.config, "config", "c", "", "download configuration name (required)")
	cmd.Flags().StringSliceVar(&o.symbols, "symbols", nil, "process only these symbols")
	cmd.Flags().IntVar(&o.limit, "limit", 0, "process at most this many symbols")
	return cmd
}

// downloadSummary is the printed result of a download run.
type downloadSummary struct {
	RunID      string         `json:"run_id,omitempty"`
	Config     string         `json:"config"`
	Symbols    int            `json:"symbols"`
	Statuses   map[string]int `json:"statuses"`
	Missing    int            `json:"missing"`
	Updates    int            `json:"updates"`
	NewRows    int            `json:"new_rows"`
	Unresolved int            `json:"unresolved"`
	Failed     []string       `json:"failed,omitempty"`
	Seconds    float64        `json:"seconds"`
}

func (a *app) runDownload(cmd *cobra.Command, o *downloadOptions) error {
	e, err := a.setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	d, loc, err := e.download(o.config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	fetcher, err := a.fetcher(e.cfg, d)
	if err != nil {
		return WrapExitError(ExitCommandError, "building fetcher", err)
	}

	e.log.Info("starting download",
		"config", o.config, "symbols", len(symbols), "timestamps", len(cal),
		"backend", d.Backend, "store", e.cfg.StorePath(d))

	ledger := e.openLedger()
	var runID string
	if ledger != nil {
		runID, err = ledger.StartRun(ctx, o.config, a.now())
		if err != nil {
			e.log.Warn("could not record run start", "error", err)
			ledger = nil
		}
	}

	m := metrics.New()
	opts := syncOptions(e, d)
	opts.Metrics = m
	rep, runErr := gather.NewSyncer(st, fetcher, opts).Run(ctx, symbols, cal)

	if ledger != nil {
		status := store.RunOK
		if runErr != nil || rep.Failed() {
			status = store.RunFailed
		}
		if err := ledger.FinishRun(context.WithoutCancel(ctx), runID, rep.Finished, status, rep.Outcomes()); err != nil {
			e.log.Warn("could not record run outcome", "run_id", runID, "error", err)
		}
	}
	if path := e.cfg.Metrics.Textfile; path != "" {
		if err := m.WriteTextfile(path); err != nil {
			e.log.Warn("could not write metrics textfile", "path", path, "error", err)
		}
	}

	sum := summarize(runID, o.config, rep)
	if err := a.printSummary(cmd.OutOrStdout(), sum); err != nil {
		return WrapExitError(ExitFailure, "writing summary", err)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "download interrupted", runErr)
	}
	if len(sum.Failed) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d symbol(s) failed to merge or persist", len(sum.Failed)))
	}
	return nil
}

// openLedger opens the run ledger. The ledger is bookkeeping only, so a
// failure is logged and the run proceeds without it.
func (e *env) openLedger() *store.Ledger {
	path := e.cfg.Resolve(e.cfg.Storage.LedgerPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.log.Warn("run ledger unavailable", "path", path, "error", err)
		return nil
	}
	l, err := store.OpenLedger(path)
	if err != nil {
		e.log.Warn("run ledger unavailable", "path", path, "error", err)
		return nil
	}
	e.onClose(l.Close)
	return l
}

func summarize(runID, name string, rep gather.Report) downloadSummary {
	sum := downloadSummary{
		RunID:    runID,
		Config:   name,
		Symbols:  len(rep.Results),
		Statuses: make(map[string]int),
		Seconds:  rep.Finished.Sub(rep.Started).Seconds(),
	}
	for st, n := range rep.Counts() {
		sum.Statuses[string(st)] = n
	}
	for _, r := range rep.Results {
		sum.Missing += r.Missing
		sum.Updates += r.Updates
		sum.NewRows += r.NewRows
		sum.Unresolved += r.Unresolved
		if r.Unrecovered() {
			sum.Failed = append(sum.Failed, r.Symbol)
		}
	}
	return sum
}

func (a *app) printSummary(w io.Writer, s downloadSummary) error {
	if a.opts.Format == "json" {
		return writeJSON(w, s)
	}
	_, err := fmt.Fprintf(w,
		"%s: %d symbols (ok=%d up_to_date=%d ignored=%d fetch_failed=%d failed=%d canceled=%d) missing=%d updates=%d new_rows=%d unresolved=%d in %.1fs\n",
		s.Config, s.Symbols,
		s.Statuses[string(gather.StatusOK)],
		s.Statuses[string(gather.StatusUpToDate)],
		s.Statuses[string(gather.StatusIgnored)],
		s.Statuses[string(gather.StatusFetchFailed)],
		len(s.Failed),
		s.Statuses[string(gather.StatusCanceled)],
		s.Missing, s.Updates, s.NewRows, s.Unresolved, s.Seconds)
	return err
}
