package us

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"gapfill/internal/domain"
	"gapfill/internal/gather"
	"gapfill/internal/util"
)

// Compile-time interface check.
var _ gather.Fetcher = (*ProfileFetcher)(nil)

// tickerClient is the subset of the Polygon REST client used by
// ProfileFetcher.
type tickerClient interface {
	GetTickerDetails(ctx context.Context, params *models.GetTickerDetailsParams, options ...models.RequestOption) (*models.GetTickerDetailsResponse, error)
}

// ProfileFetcherConfig configures a ProfileFetcher.
type ProfileFetcherConfig struct {
	APIKey          string
	RateLimitPerMin int
	MaxRetries      int
	RetryDelay      time.Duration
}

// ProfileFetcher looks up a ticker's market cap and employee count as of each
// target date via the Polygon ticker details endpoint.
type ProfileFetcher struct {
	cfg     ProfileFetcherConfig
	limiter *util.RateLimiter
	log     *slog.Logger

	once   sync.Once
	client tickerClient
}

// NewProfileFetcher creates a ProfileFetcher. The API client is built on the
// first fetch.
func NewProfileFetcher(cfg ProfileFetcherConfig) *ProfileFetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &ProfileFetcher{
		cfg:     cfg,
		limiter: util.NewRateLimiter(cfg.RateLimitPerMin),
		log:     slog.Default().With("fetcher", "polygon-profiles"),
	}
}

func (f *ProfileFetcher) getClient() tickerClient {
	f.once.Do(func() {
		if f.client == nil {
			f.client = polygon.New(f.cfg.APIKey)
		}
	})
	return f.client
}

// Fetch implements gather.Fetcher. Each target is looked up individually and
// the answer is stamped with the target itself. Dates the vendor answers
// with nothing are logged and skipped; a lookup that still fails after
// retries fails the whole fetch.
func (f *ProfileFetcher) Fetch(ctx context.Context, req gather.FetchRequest) ([]domain.Record, error) {
	client := f.getClient()

	var out []domain.Record
	for _, target := range req.Targets {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		params := models.GetTickerDetailsParams{Ticker: req.Symbol}.
			WithDate(models.Date(time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)))

		var res *models.GetTickerDetailsResponse
		err := util.Retry(ctx, f.cfg.MaxRetries, f.cfg.RetryDelay, func() error {
			var err error
			res, err = client.GetTickerDetails(ctx, params)
			return err
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, fmt.Errorf("GetTickerDetails %s %s: %w", req.Symbol, target.Format(time.DateOnly), err)
		}
		if res == nil {
			f.log.Warn("no profile for date, skipping",
				"symbol", req.Symbol, "date", target.Format(time.DateOnly))
			continue
		}

		v, err := domain.RecordObservation(map[string]any{
			"market_cap":      res.Results.MarketCap,
			"total_employees": res.Results.TotalEmployees,
		})
		if err != nil {
			f.log.Warn("unusable profile, skipping", "symbol", req.Symbol, "date", target.Format(time.DateOnly), "error", err)
			continue
		}
		out = append(out, domain.Record{Timestamp: target, Value: v})
	}

	if len(out) == 0 {
		return nil, gather.ErrEmptyFetch
	}
	return out, nil
}
