package gather

import (
	"strings"
	"time"

	"gapfill/internal/store"
)

// IgnorePolicy lists symbols and calendar dates that are never scheduled.
type IgnorePolicy struct {
	Symbols map[string]bool
	Dates   map[string]bool // "2006-01-02"
}

// NewIgnorePolicy builds a policy from plain lists. Symbols are matched
// upper-cased.
func NewIgnorePolicy(symbols, dates []string) IgnorePolicy {
	p := IgnorePolicy{
		Symbols: make(map[string]bool, len(symbols)),
		Dates:   make(map[string]bool, len(dates)),
	}
	for _, s := range symbols {
		p.Symbols[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	for _, d := range dates {
		p.Dates[d] = true
	}
	return p
}

// SymbolIgnored reports whether symbol is excluded, ignoring case.
func (p IgnorePolicy) SymbolIgnored(symbol string) bool {
	return p.Symbols[strings.ToUpper(strings.TrimSpace(symbol))]
}

// DateIgnored reports whether t's date, in t's own location, is excluded.
func (p IgnorePolicy) DateIgnored(t time.Time) bool {
	return p.Dates[t.Format(time.DateOnly)]
}

// Missing returns the calendar timestamps the store does not hold for
// symbol, in calendar order. It only reads the store.
func Missing(symbol string, cal []time.Time, r store.Reader, p IgnorePolicy) []time.Time {
	if p.SymbolIgnored(symbol) {
		return nil
	}
	var out []time.Time
	for _, t := range cal {
		if p.DateIgnored(t) {
			continue
		}
		if !r.Contains(symbol, t) {
			out = append(out, t)
		}
	}
	return out
}
