package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ny = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}()

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, ny)
}

func equitySpec() IntradaySpec {
	return IntradaySpec{Start: "09:30:00", EvaluationHours: 6.5, RecordFrequency: 12, Location: ny}
}

func TestIntradayGrid(t *testing.T) {
	got, err := Intraday([]time.Time{day(2024, 1, 2)}, equitySpec())
	require.NoError(t, err)

	require.Len(t, got, 79)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 30, 0, 0, ny), got[0])
	assert.Equal(t, time.Date(2024, 1, 2, 9, 35, 0, 0, ny), got[1])
	assert.Equal(t, time.Date(2024, 1, 2, 16, 0, 0, 0, ny), got[78])
	assert.Equal(t, ny, got[0].Location())
}

func TestIntradayCountRoundsUp(t *testing.T) {
	spec := IntradaySpec{Start: "09:30", EvaluationHours: 0.3, RecordFrequency: 12, Location: ny}
	// ceil(3.6) + 1
	assert.Equal(t, 5, spec.Count())
	assert.Equal(t, 5*time.Minute, spec.Step())
}

func TestIntradayDeterministic(t *testing.T) {
	sessions := []time.Time{
		day(2024, 1, 3),
		time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC), // 09:30 ET, same date as below
		day(2024, 1, 2),
	}
	a, err := Intraday(sessions, equitySpec())
	require.NoError(t, err)
	b, err := Intraday(sessions, equitySpec())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a, 2*79)
	for i := 1; i < len(a); i++ {
		assert.True(t, a[i].After(a[i-1]), "not strictly increasing at %d: %v, %v", i, a[i-1], a[i])
	}
}

func TestIntradayOverlappingGrid(t *testing.T) {
	spec := IntradaySpec{Start: "00:00", EvaluationHours: 24, RecordFrequency: 1, Location: time.UTC}
	got, err := Intraday([]time.Time{
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, spec)
	require.NoError(t, err)
	// 25 per day, midnight of Jan 2 shared.
	assert.Len(t, got, 49)
}

func TestIntradayInvalid(t *testing.T) {
	_, err := Intraday(nil, IntradaySpec{Start: "9h30", RecordFrequency: 12})
	assert.Error(t, err)
	_, err = Intraday(nil, IntradaySpec{Start: "09:30", RecordFrequency: 0})
	assert.Error(t, err)
}

func TestQuarterly(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	got := Quarterly(now, 1, time.UTC)
	want := []time.Time{
		time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, want, got)
	assert.Equal(t, got, Quarterly(now, 1, time.UTC))
}

func TestQuarterlyIncludesNow(t *testing.T) {
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	got := Quarterly(now, 0.1, time.UTC)
	assert.Equal(t, []time.Time{now}, got)
}

func TestHorizon(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	start, end := Horizon(now, 1)
	assert.Equal(t, time.Date(2023, 5, 16, 12, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC), end)
}

func TestWeekdaySessions(t *testing.T) {
	w := WeekdaySessions{Location: ny, Holidays: map[string]bool{"2024-01-01": true}}
	got, err := w.Sessions(context.Background(), day(2024, 1, 1), day(2024, 1, 7))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2024, 1, 2), day(2024, 1, 3), day(2024, 1, 4), day(2024, 1, 5)}, got)
}

type countingProvider struct {
	calls int
	err   error
}

func (c *countingProvider) Sessions(_ context.Context, start, _ time.Time) ([]time.Time, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []time.Time{start}, nil
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{}
	c := NewCached(p)

	a, err := c.Sessions(ctx, day(2024, 1, 2), day(2024, 1, 5))
	require.NoError(t, err)
	b, err := c.Sessions(ctx, day(2024, 1, 2), day(2024, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, p.calls)

	// Callers may not corrupt the cached slice.
	a[0] = time.Time{}
	b, _ = c.Sessions(ctx, day(2024, 1, 2), day(2024, 1, 5))
	assert.Equal(t, day(2024, 1, 2), b[0])

	_, err = c.Sessions(ctx, day(2024, 2, 1), day(2024, 2, 5))
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	p := &countingProvider{err: errors.New("boom")}
	c := NewCached(p)
	ctx := context.Background()

	_, err := c.Sessions(ctx, day(2024, 1, 2), day(2024, 1, 5))
	require.Error(t, err)
	p.err = nil
	_, err = c.Sessions(ctx, day(2024, 1, 2), day(2024, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

type fakeCalendar struct {
	req  alpaca.GetCalendarRequest
	days []alpaca.CalendarDay
}

func (f *fakeCalendar) GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	f.req = req
	return f.days, nil
}

func TestAlpacaSessions(t *testing.T) {
	fake := &fakeCalendar{days: []alpaca.CalendarDay{
		{Date: "2024-11-27", Open: "09:30", Close: "16:00"},
		{Date: "2024-11-29", Open: "09:30", Close: "13:00"},
		{Date: "bad", Open: "09:30"},
	}}
	a := NewAlpacaSessions("key", "secret", "")
	a.client = fake

	start, end := day(2024, 11, 27), day(2024, 11, 29)
	got, err := a.Sessions(context.Background(), start, end)
	require.NoError(t, err)
	want := []time.Time{
		time.Date(2024, 11, 27, 9, 30, 0, 0, ny),
		time.Date(2024, 11, 29, 9, 30, 0, 0, ny),
	}
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "session %d = %v, want %v", i, got[i], want[i])
	}
	assert.Equal(t, start, fake.req.Start)
	assert.Equal(t, end, fake.req.End)
}

func TestAlpacaSessionsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAlpacaSessions("", "", "")
	a.client = &fakeCalendar{}
	_, err := a.Sessions(ctx, day(2024, 1, 2), day(2024, 1, 3))
	assert.ErrorIs(t, err, context.Canceled)
}
