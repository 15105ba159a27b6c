package us

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"gapfill/internal/domain"
	"gapfill/internal/gather"
	"gapfill/internal/util"
)

// Compile-time interface check.
var _ gather.Fetcher = (*BarFetcher)(nil)

// barClient is the subset of *marketdata.Client used by BarFetcher.
type barClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// BarFetcherConfig configures a BarFetcher.
type BarFetcherConfig struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string // "sip" or "iex"

	// Window widens every request on both ends so that edge targets can
	// still resolve against a neighbouring minute.
	Window          time.Duration
	ChunkDays       int
	RateLimitPerMin int
	MaxRetries      int
	RetryDelay      time.Duration
}

// BarFetcher fetches 1-minute bars from the Alpaca market-data API and
// reports each bar's close as a price observation.
type BarFetcher struct {
	cfg     BarFetcherConfig
	limiter *util.RateLimiter
	log     *slog.Logger

	once   sync.Once
	client barClient
}

// NewBarFetcher creates a BarFetcher. The API client is built on the first
// fetch.
func NewBarFetcher(cfg BarFetcherConfig) *BarFetcher {
	if cfg.Feed == "" {
		cfg.Feed = "sip"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &BarFetcher{
		cfg:     cfg,
		limiter: util.NewRateLimiter(cfg.RateLimitPerMin),
		log:     slog.Default().With("fetcher", "alpaca-bars"),
	}
}

func (f *BarFetcher) getClient() barClient {
	f.once.Do(func() {
		if f.client != nil {
			return
		}
		opts := marketdata.ClientOpts{
			APIKey:    f.cfg.APIKey,
			APISecret: f.cfg.APISecret,
		}
		if f.cfg.DataURL != "" {
			opts.BaseURL = f.cfg.DataURL
		}
		f.client = marketdata.NewClient(opts)
	})
	return f.client
}

// Fetch implements gather.Fetcher. The widened range is requested in chunks
// of ChunkDays; a failed chunk fails the whole fetch.
func (f *BarFetcher) Fetch(ctx context.Context, req gather.FetchRequest) ([]domain.Record, error) {
	client := f.getClient()
	r := req.Range.Widen(f.cfg.Window)

	var (
		out  []domain.Record
		seen = make(map[int64]struct{})
	)
	for _, chunk := range r.Split(f.cfg.ChunkDays) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var bars []marketdata.Bar
		err := util.RetryNotify(ctx, f.cfg.MaxRetries, f.cfg.RetryDelay, func() error {
			var err error
			bars, err = client.GetBars(req.Symbol, marketdata.GetBarsRequest{
				TimeFrame: marketdata.OneMin,
				Start:     chunk.Start,
				End:       chunk.End,
				Feed:      marketdata.Feed(f.cfg.Feed),
			})
			return err
		}, func(err error, wait time.Duration) {
			f.log.Debug("retrying GetBars", "symbol", req.Symbol, "wait", wait, "error", err)
		})
		if err != nil {
			return nil, fmt.Errorf("GetBars %s [%s, %s]: %w", req.Symbol,
				chunk.Start.Format(time.RFC3339), chunk.End.Format(time.RFC3339), err)
		}

		// Chunks share their boundaries.
		for _, b := range bars {
			ns := b.Timestamp.UnixNano()
			if _, dup := seen[ns]; dup {
				continue
			}
			seen[ns] = struct{}{}
			out = append(out, domain.Record{
				Timestamp: b.Timestamp,
				Value:     domain.PriceObservation(decimal.NewFromFloat(b.Close)),
			})
		}
	}

	if len(out) == 0 {
		return nil, gather.ErrEmptyFetch
	}
	f.log.Debug("fetched bars", "symbol", req.Symbol, "bars", len(out))
	return out, nil
}
