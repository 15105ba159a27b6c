package calendar

import (
	"context"
	"sync"
	"time"
)

// SessionProvider lists the trading sessions between two dates, inclusive,
// in ascending order. Each session is reported as its open instant.
type SessionProvider interface {
	Sessions(ctx context.Context, start, end time.Time) ([]time.Time, error)
}

// WeekdaySessions treats every Monday to Friday as a session, except the
// listed holidays ("2006-01-02" in Location). Sessions open at midnight.
type WeekdaySessions struct {
	Location *time.Location
	Holidays map[string]bool
}

// Sessions implements SessionProvider.
func (w WeekdaySessions) Sessions(_ context.Context, start, end time.Time) ([]time.Time, error) {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := start.In(loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	y, m, d = end.In(loc).Date()
	last := time.Date(y, m, d, 0, 0, 0, 0, loc)

	var out []time.Time
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		switch day.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		if w.Holidays[day.Format(time.DateOnly)] {
			continue
		}
		out = append(out, day)
	}
	return out, nil
}

// Cached memoizes another provider by requested date range. Concurrent
// callers for the same range share one lookup.
type Cached struct {
	Provider SessionProvider

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	once     sync.Once
	sessions []time.Time
	err      error
}

// NewCached wraps p.
func NewCached(p SessionProvider) *Cached {
	return &Cached{Provider: p, entries: make(map[string]*cacheEntry)}
}

// Sessions implements SessionProvider. Failed lookups are not cached.
func (c *Cached) Sessions(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	key := start.UTC().Format(time.DateOnly) + "/" + end.UTC().Format(time.DateOnly)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.sessions, e.err = c.Provider.Sessions(ctx, start, end)
	})
	if e.err != nil {
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, e.err
	}
	return append([]time.Time(nil), e.sessions...), nil
}
