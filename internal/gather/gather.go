// Package gather implements the sync pipeline: gap detection, fetching,
// minute-key normalization, nearest-observation resolution and write-back.
package gather

import (
	"context"
	"time"

	"gapfill/internal/domain"
)

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Widen returns the range extended by d on both ends.
func (r DateRange) Widen(d time.Duration) DateRange {
	return DateRange{Start: r.Start.Add(-d), End: r.End.Add(d)}
}

// Split cuts the range into consecutive pieces of at most days days. The
// pieces share their boundaries. A non-positive days returns the range whole.
func (r DateRange) Split(days int) []DateRange {
	if days <= 0 || !r.End.After(r.Start) {
		return []DateRange{r}
	}
	var out []DateRange
	for start := r.Start; start.Before(r.End); {
		end := start.AddDate(0, 0, days)
		if end.After(r.End) {
			end = r.End
		}
		out = append(out, DateRange{Start: start, End: end})
		start = end
	}
	return out
}

// FetchRequest asks a Fetcher for the observations of one symbol. Range spans
// the first to the last target; Targets lists the missing timestamps for
// fetchers that look up individual dates.
type FetchRequest struct {
	Symbol  string
	Range   DateRange
	Targets []time.Time
}

// Fetcher retrieves raw observations from an external source. The returned
// timestamps need not match any target exactly. An empty result is reported
// as ErrEmptyFetch.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]domain.Record, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req FetchRequest) ([]domain.Record, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) ([]domain.Record, error) {
	return f(ctx, req)
}
