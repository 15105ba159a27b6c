package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"gapfill/internal/calendar"
	"gapfill/internal/config"
	"gapfill/internal/domain"
	"gapfill/internal/gather"
	"gapfill/internal/gather/us"
	"gapfill/internal/store"
	"gapfill/internal/util"
)

// app carries the process-wide hooks the commands are built from. Tests swap
// the vendor-facing ones for fakes.
type app struct {
	opts *RootOptions

	now      func() time.Time
	sessions func(cfg *config.Config) calendar.SessionProvider
	fetcher  func(cfg *config.Config, d config.DownloadConfig) (gather.Fetcher, error)
}

func newApp() *app {
	return &app{
		now: time.Now,
		sessions: func(cfg *config.Config) calendar.SessionProvider {
			return calendar.NewCached(calendar.NewAlpacaSessions(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL))
		},
		fetcher: newFetcher,
	}
}

// newFetcher picks the vendor adapter for a download's entry type.
func newFetcher(cfg *config.Config, d config.DownloadConfig) (gather.Fetcher, error) {
	switch domain.EntryType(d.EntryType) {
	case domain.EntryPrice:
		return us.NewBarFetcher(us.BarFetcherConfig{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			DataURL:         cfg.Alpaca.DataURL,
			Feed:            cfg.Alpaca.Feed,
			Window:          time.Duration(d.Window()) * time.Minute,
			ChunkDays:       d.FetchChunkDays,
			RateLimitPerMin: d.RateLimitPerMin,
			MaxRetries:      d.MaxRetries,
		}), nil
	case domain.EntryProfile:
		return us.NewProfileFetcher(us.ProfileFetcherConfig{
			APIKey:          cfg.Polygon.APIKey,
			RateLimitPerMin: d.RateLimitPerMin,
			MaxRetries:      d.MaxRetries,
		}), nil
	default:
		return nil, fmt.Errorf("no fetcher for entry type %q", d.EntryType)
	}
}

// env is the per-invocation state shared by the commands.
type env struct {
	cfg *config.Config
	log *slog.Logger

	closers []func() error
}

func (e *env) onClose(fn func() error) { e.closers = append(e.closers, fn) }

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.Warn("close failed", "error", err)
		}
	}
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(config.ResolvePath(a.opts.ConfigFile))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}

	level := cfg.Logging.Level
	if a.opts.Debug {
		level = "debug"
	}
	e := &env{cfg: cfg}

	var w io.Writer = cmd.ErrOrStderr()
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "creating log directory", err)
		}
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "opening log file", err)
		}
		e.onClose(f.Close)
		w = io.MultiWriter(w, f)
	}
	e.log = util.NewLogger(level, cfg.Logging.Format, w)
	util.SetDefault(e.log)
	return e, nil
}

// download resolves a named download configuration.
func (e *env) download(name string) (config.DownloadConfig, *time.Location, error) {
	if name == "" {
		return config.DownloadConfig{}, nil, NewExitError(ExitCommandError, "--config is required")
	}
	d, err := e.cfg.Download(name)
	if err != nil {
		return config.DownloadConfig{}, nil, WrapExitError(ExitCommandError, "selecting download", err)
	}
	loc, err := d.Location()
	if err != nil {
		return config.DownloadConfig{}, nil, WrapExitError(ExitCommandError, "loading timezone", err)
	}
	return d, loc, nil
}

// symbols returns the symbol universe: the override when given, then the
// configured list, then the configured CSV file.
func (e *env) symbols(d config.DownloadConfig, override []string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = d.SymbolsLimit
	}
	list := override
	if len(list) == 0 {
		list = d.Symbols
	}
	if len(list) == 0 {
		syms, err := us.LoadCSVSymbols(e.cfg.Resolve(d.SymbolsCSV), limit)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "loading symbols", err)
		}
		list = syms
	}
	out := us.NormalizeSymbols(list, limit)
	if len(out) == 0 {
		return nil, NewExitError(ExitCommandError, "no symbols to process")
	}
	return out, nil
}

// openStore builds the configured backend and, unless disabled, loads the
// persisted dataset into it.
func (e *env) openStore(ctx context.Context, d config.DownloadConfig, loc *time.Location, symbols []string) (store.Store, error) {
	var st store.Store
	switch d.Backend {
	case "sqlite":
		path := e.cfg.StorePath(d)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, WrapExitError(ExitFailure, "creating data directory", err)
		}
		s, err := store.NewSQLiteStore(path, loc)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "opening sqlite store", err)
		}
		e.onClose(s.Close)
		st = s
	default:
		s := store.NewParquetStore(e.cfg.Storage.DataDir, loc)
		s.OnlySymbols(symbols...)
		st = s
	}

	if !d.UseExisting() {
		e.log.Info("starting from an empty dataset", "store", d.Store)
		return st, nil
	}
	err := st.Load(ctx, d.Store)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		e.log.Info("no persisted dataset yet, starting empty", "store", d.Store)
	default:
		return nil, WrapExitError(ExitFailure, "loading dataset", err)
	}
	return st, nil
}

// calendar builds the expected timestamps for d as of now.
func (a *app) calendar(ctx context.Context, e *env, d config.DownloadConfig, loc *time.Location) ([]time.Time, error) {
	now := a.now().In(loc)
	switch d.Calendar {
	case "quarterly":
		return calendar.Quarterly(now, d.YearsExamined, loc), nil
	default:
		start, end := calendar.Horizon(now, d.YearsExamined)
		sessions, err := a.sessions(e.cfg).Sessions(ctx, start, end)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "listing trading sessions", err)
		}
		cal, err := calendar.Intraday(sessions, calendar.IntradaySpec{
			Start:           d.SessionStart,
			EvaluationHours: d.EvaluationHours,
			RecordFrequency: d.RecordFrequency,
			Location:        loc,
		})
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "building calendar", err)
		}
		e.log.Debug("calendar built", "sessions", len(sessions), "timestamps", len(cal))
		return cal, nil
	}
}

func syncOptions(e *env, d config.DownloadConfig) gather.Options {
	return gather.Options{
		Entry:    domain.EntryType(d.EntryType),
		Location: d.Store,
		Window:   d.Window(),
		Workers:  d.Workers,
		Ignore:   gather.NewIgnorePolicy(d.IgnoredSymbols, d.IgnoredDates),
		Logger:   e.log,
	}
}
