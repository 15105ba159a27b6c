package gather

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gapfill/internal/domain"
	"gapfill/internal/store"
)

var ny = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}()

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// at returns 2024-01-02 hh:mm:ss in New York.
func at(hh, mm int, ss ...int) time.Time {
	s := 0
	if len(ss) > 0 {
		s = ss[0]
	}
	return time.Date(2024, 1, 2, hh, mm, s, 0, ny)
}

func px(s string) domain.Observation {
	return domain.PriceObservation(decimal.RequireFromString(s))
}

func rec(t time.Time, v string) domain.Record {
	return domain.Record{Timestamp: t, Value: px(v)}
}

var errDiskFull = errors.New("disk full")

// countingStore wraps a Memory store, counting persists and optionally
// failing them.
type countingStore struct {
	*store.Memory

	mu       sync.Mutex
	persists int
	failWith error
}

func newCountingStore() *countingStore {
	return &countingStore{Memory: store.NewMemory(ny)}
}

func (c *countingStore) Persist(ctx context.Context, location string) error {
	c.mu.Lock()
	c.persists++
	err := c.failWith
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Memory.Persist(ctx, location)
}

func (c *countingStore) persistCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persists
}

// staticFetcher returns fixed records per symbol and counts calls.
type staticFetcher struct {
	mu       sync.Mutex
	bySymbol map[string][]domain.Record
	errs     map[string]error
	calls    map[string]int
	requests []FetchRequest
}

func newStaticFetcher() *staticFetcher {
	return &staticFetcher{
		bySymbol: make(map[string][]domain.Record),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *staticFetcher) Fetch(ctx context.Context, req FetchRequest) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.Symbol]++
	f.requests = append(f.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.errs[req.Symbol]; err != nil {
		return nil, err
	}
	// Mimic a vendor: only records inside the requested range, widened by
	// the resolve window.
	r := req.Range.Widen(DefaultWindow * time.Minute)
	var out []domain.Record
	for _, rc := range f.bySymbol[req.Symbol] {
		if rc.Timestamp.Before(r.Start) || rc.Timestamp.After(r.End) {
			continue
		}
		out = append(out, rc)
	}
	return out, nil
}

func (f *staticFetcher) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}
