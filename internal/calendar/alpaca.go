package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// calendarClient is the subset of *alpaca.Client used here.
type calendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// AlpacaSessions reads NYSE sessions from the Alpaca trading calendar API.
// The client is built on first use so that unused configurations never need
// credentials.
type AlpacaSessions struct {
	APIKey    string
	APISecret string
	BaseURL   string

	once   sync.Once
	client calendarClient
	log    *slog.Logger
}

// NewAlpacaSessions creates a session provider for the given credentials.
func NewAlpacaSessions(apiKey, apiSecret, baseURL string) *AlpacaSessions {
	return &AlpacaSessions{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
		log:       slog.Default().With("component", "alpaca-calendar"),
	}
}

func (a *AlpacaSessions) getClient() calendarClient {
	a.once.Do(func() {
		if a.client == nil {
			a.client = alpaca.NewClient(alpaca.ClientOpts{
				APIKey:    a.APIKey,
				APISecret: a.APISecret,
				BaseURL:   a.BaseURL,
			})
		}
	})
	return a.client
}

// Sessions implements SessionProvider. Each session is the market open in
// America/New_York.
func (a *AlpacaSessions) Sessions(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}

	days, err := a.getClient().GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	out := make([]time.Time, 0, len(days))
	for _, day := range days {
		open := day.Open
		if open == "" {
			open = "09:30"
		}
		t, err := time.ParseInLocation("2006-01-02 15:04", day.Date+" "+strings.TrimSpace(open), et)
		if err != nil {
			if a.log != nil {
				a.log.Warn("skipping unparsable calendar day", "date", day.Date, "open", day.Open, "error", err)
			}
			continue
		}
		out = append(out, t)
	}
	if a.log != nil {
		a.log.Debug("loaded trading calendar", "start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly), "sessions", len(out))
	}
	return out, nil
}
