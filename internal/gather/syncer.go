package gather

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"gapfill/internal/domain"
	"gapfill/internal/metrics"
	"gapfill/internal/store"
)

// Status is the outcome of one symbol in a sync pass.
type Status string

const (
	StatusOK            Status = "ok"
	StatusUpToDate      Status = "up_to_date"
	StatusIgnored       Status = "ignored"
	StatusFetchFailed   Status = "fetch_failed"
	StatusPersistFailed Status = "persist_failed"
	StatusMergeFailed   Status = "merge_failed"
	StatusCanceled      Status = "canceled"
)

// Result is the per-symbol summary of a sync pass.
type Result struct {
	Symbol     string
	Status     Status
	Missing    int
	Updates    int
	NewRows    int
	Unresolved int
	Collisions int
	Err        error
}

// Unrecovered reports whether the symbol ended in an error that must be
// surfaced in the exit status.
func (r Result) Unrecovered() bool {
	return r.Status == StatusPersistFailed || r.Status == StatusMergeFailed
}

// Report collects the results of one sync pass, in symbol order.
type Report struct {
	Started  time.Time
	Finished time.Time
	Results  []Result
}

// Failed reports whether any symbol had an unrecovered error.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if res.Unrecovered() {
			return true
		}
	}
	return false
}

// Counts returns the number of symbols per status.
func (r Report) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, res := range r.Results {
		out[res.Status]++
	}
	return out
}

// Outcomes converts the results for the run ledger.
func (r Report) Outcomes() []store.SymbolOutcome {
	out := make([]store.SymbolOutcome, len(r.Results))
	for i, res := range r.Results {
		o := store.SymbolOutcome{
			Symbol:     res.Symbol,
			Status:     string(res.Status),
			Missing:    res.Missing,
			Updates:    res.Updates,
			NewRows:    res.NewRows,
			Unresolved: res.Unresolved,
		}
		if res.Err != nil {
			o.Error = res.Err.Error()
		}
		out[i] = o
	}
	return out
}

// Options configures a Syncer.
type Options struct {
	Entry    domain.EntryType
	Location string // passed to Store.Persist
	Window   int    // resolve window in minutes
	Workers  int    // concurrent fetches
	Ignore   IgnorePolicy
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Syncer runs the gap-fill pipeline for a list of symbols against one store.
// Fetches run on a bounded worker pool; merges and persists are serialized on
// a single goroutine.
type Syncer struct {
	store   store.Store
	fetcher Fetcher
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewSyncer creates a Syncer.
func NewSyncer(st store.Store, f Fetcher, opts Options) *Syncer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Window < 0 {
		opts.Window = 0
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Syncer{
		store:   st,
		fetcher: f,
		opts:    opts,
		log:     log.With("component", "syncer", "entry_type", string(opts.Entry)),
		metrics: m,
	}
}

// fetched is handed from a fetch worker to the merge stage.
type fetched struct {
	idx     int
	result  Result
	missing []time.Time
	records []domain.Record
	done    bool // nothing to merge
}

// Run syncs every symbol against the calendar. Per-symbol failures are
// reported in the Report and never stop other symbols. The returned error is
// non-nil only when ctx was cancelled; symbols not yet merged are then
// reported as canceled and the store holds only fully committed merges.
func (s *Syncer) Run(ctx context.Context, symbols []string, cal []time.Time) (Report, error) {
	rep := Report{Started: time.Now(), Results: make([]Result, len(symbols))}

	ch := make(chan fetched)
	mergeDone := make(chan struct{})
	go func() {
		defer close(mergeDone)
		mctx := context.WithoutCancel(ctx)
		for f := range ch {
			if !f.done {
				f.result = s.merge(mctx, f)
			}
			rep.Results[f.idx] = f.result
			s.record(f.result)
		}
	}()

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, sym := range symbols {
		if ctx.Err() != nil {
			ch <- fetched{idx: i, done: true, result: Result{Symbol: sym, Status: StatusCanceled, Err: ctx.Err()}}
			continue
		}
		i, sym := i, sym
		g.Go(func() error {
			ch <- s.fetch(ctx, i, sym, cal)
			return nil
		})
	}
	g.Wait()
	close(ch)
	<-mergeDone

	rep.Finished = time.Now()
	return rep, ctx.Err()
}

// fetch runs gap detection and the fetch for one symbol.
func (s *Syncer) fetch(ctx context.Context, idx int, symbol string, cal []time.Time) fetched {
	f := fetched{idx: idx, result: Result{Symbol: symbol}}
	if s.opts.Ignore.SymbolIgnored(symbol) {
		f.result.Status, f.done = StatusIgnored, true
		return f
	}

	f.missing = Missing(symbol, cal, s.store, s.opts.Ignore)
	f.result.Missing = len(f.missing)
	if len(f.missing) == 0 {
		f.result.Status, f.done = StatusUpToDate, true
		return f
	}

	req := FetchRequest{
		Symbol:  symbol,
		Range:   DateRange{Start: f.missing[0], End: f.missing[len(f.missing)-1]},
		Targets: f.missing,
	}
	start := time.Now()
	records, err := s.fetcher.Fetch(ctx, req)
	s.metrics.FetchDuration.WithLabelValues(string(s.opts.Entry)).Observe(time.Since(start).Seconds())
	if err == nil && len(records) == 0 {
		err = ErrEmptyFetch
	}
	if err != nil {
		f.done = true
		if ctx.Err() != nil {
			f.result.Status, f.result.Err = StatusCanceled, ctx.Err()
			return f
		}
		f.result.Status = StatusFetchFailed
		f.result.Err = &FetchError{Symbol: symbol, Err: err}
		return f
	}
	f.records = records
	return f
}

// merge normalizes, resolves and writes back one symbol. It runs on the
// single merge goroutine.
func (s *Syncer) merge(ctx context.Context, f fetched) Result {
	res := f.result
	log := s.log.With("symbol", res.Symbol)

	keys, collisions := Normalize(f.records, log)
	res.Collisions = len(collisions)

	mr, err := Merge(ctx, s.store, res.Symbol, s.opts.Entry, s.opts.Location, f.missing, keys, s.opts.Window)
	res.Updates, res.NewRows, res.Unresolved = mr.Updates, mr.NewRows, mr.Unresolved
	switch {
	case err == nil:
		res.Status = StatusOK
		if mr.Persisted {
			s.metrics.Persists.WithLabelValues("ok").Inc()
		}
	case errors.As(err, new(*PersistError)):
		res.Status, res.Err = StatusPersistFailed, err
		s.metrics.Persists.WithLabelValues("error").Inc()
	default:
		res.Status, res.Err = StatusMergeFailed, err
	}
	return res
}

// record updates metrics and logs the per-symbol summary.
func (s *Syncer) record(r Result) {
	s.metrics.Symbols.WithLabelValues(string(r.Status)).Inc()
	s.metrics.Missing.Add(float64(r.Missing))
	s.metrics.CellsUpdated.Add(float64(r.Updates))
	s.metrics.RowsAppended.Add(float64(r.NewRows))
	s.metrics.Unresolved.Add(float64(r.Unresolved))
	s.metrics.KeyCollisions.Add(float64(r.Collisions))

	attrs := []any{
		"symbol", r.Symbol,
		"status", string(r.Status),
		"missing", r.Missing,
		"updates", r.Updates,
		"new_rows", r.NewRows,
		"unresolved", r.Unresolved,
	}
	switch r.Status {
	case StatusPersistFailed, StatusMergeFailed:
		s.log.Error("symbol sync failed", append(attrs, "error", r.Err)...)
	case StatusFetchFailed:
		s.log.Warn("fetch failed, skipping symbol", append(attrs, "error", r.Err)...)
	case StatusIgnored, StatusUpToDate, StatusCanceled:
		s.log.Debug("symbol skipped", attrs...)
	default:
		s.log.Info("symbol synced", attrs...)
	}
}

// Gap is the dry-run view of one symbol.
type Gap struct {
	Symbol  string
	Ignored bool
	Missing []time.Time
}

// Gaps runs gap detection only, without fetching.
func (s *Syncer) Gaps(symbols []string, cal []time.Time) []Gap {
	out := make([]Gap, len(symbols))
	for i, sym := range symbols {
		out[i] = Gap{
			Symbol:  sym,
			Ignored: s.opts.Ignore.SymbolIgnored(sym),
			Missing: Missing(sym, cal, s.store, s.opts.Ignore),
		}
	}
	return out
}
