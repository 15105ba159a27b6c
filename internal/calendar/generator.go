// Package calendar produces the timestamps a dataset is expected to hold.
// Generators are pure; trading sessions come from a SessionProvider.
package calendar

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// IntradaySpec describes the intraday grid laid over each trading session.
type IntradaySpec struct {
	// Start is the local wall-clock time of the first timestamp of a session,
	// "15:04:05" or "15:04".
	Start string
	// EvaluationHours is the span of the grid after Start.
	EvaluationHours float64
	// RecordFrequency is the number of records per hour.
	RecordFrequency float64
	// Location is the zone Start is interpreted in.
	Location *time.Location
}

// Count returns the number of timestamps emitted per session.
func (s IntradaySpec) Count() int {
	return int(math.Ceil(s.EvaluationHours*s.RecordFrequency)) + 1
}

// Step returns the spacing between consecutive timestamps.
func (s IntradaySpec) Step() time.Duration {
	return time.Duration(float64(time.Hour) / s.RecordFrequency)
}

func (s IntradaySpec) clock() (h, m, sec int, err error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, perr := time.Parse(layout, s.Start); perr == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
	}
	return 0, 0, 0, fmt.Errorf("calendar: invalid session start %q", s.Start)
}

// Validate checks the spec for values the generator cannot use.
func (s IntradaySpec) Validate() error {
	if _, _, _, err := s.clock(); err != nil {
		return err
	}
	if s.RecordFrequency <= 0 {
		return fmt.Errorf("calendar: record frequency must be positive, got %v", s.RecordFrequency)
	}
	if s.EvaluationHours < 0 {
		return fmt.Errorf("calendar: evaluation hours must not be negative, got %v", s.EvaluationHours)
	}
	return nil
}

// Intraday lays the grid over each session date. Only the calendar date of
// each session (in spec.Location) is used. The result is strictly increasing
// and duplicate free regardless of the order of sessions.
func Intraday(sessions []time.Time, spec IntradaySpec) ([]time.Time, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	loc := spec.Location
	if loc == nil {
		loc = time.UTC
	}
	h, m, sec, _ := spec.clock()

	type date struct {
		y int
		m time.Month
		d int
	}
	seen := make(map[date]struct{}, len(sessions))
	var dates []time.Time
	for _, s := range sessions {
		y, mo, d := s.In(loc).Date()
		k := date{y, mo, d}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		dates = append(dates, time.Date(y, mo, d, h, m, sec, 0, loc))
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	count, step := spec.Count(), spec.Step()
	out := make([]time.Time, 0, len(dates)*count)
	for _, base := range dates {
		for i := 0; i < count; i++ {
			out = append(out, base.Add(time.Duration(i)*step))
		}
	}
	// A grid longer than a day overlaps the next session.
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(out, func(a, b time.Time) bool { return a.Equal(b) }), nil
}

// Quarterly returns midnight of every Jan 1, Apr 1, Jul 1 and Oct 1 in loc
// within [now - years*365 days, now].
func Quarterly(now time.Time, years float64, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	start := now.Add(-time.Duration(years * 365 * float64(24*time.Hour)))

	var out []time.Time
	for y := start.Year(); y <= now.Year(); y++ {
		for _, m := range []time.Month{time.January, time.April, time.July, time.October} {
			t := time.Date(y, m, 1, 0, 0, 0, 0, loc)
			if t.Before(start) || t.After(now) {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// Horizon returns the session lookup range for an examined horizon: from
// round(years*365) days before now to the day before now.
func Horizon(now time.Time, years float64) (start, end time.Time) {
	days := int(math.Round(years * 365))
	return now.AddDate(0, 0, -days), now.AddDate(0, 0, -1)
}
