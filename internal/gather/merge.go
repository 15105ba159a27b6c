package gather

import (
	"context"
	"fmt"
	"time"

	"gapfill/internal/domain"
	"gapfill/internal/store"
)

// Plan is the classified outcome of resolving one symbol's missing
// timestamps against the current store.
type Plan struct {
	Updates    []domain.Record // rows exist, cell empty
	NewRows    []domain.Record // no row at all
	Unresolved []time.Time
}

// Changed reports whether applying the plan writes anything.
func (p Plan) Changed() bool { return len(p.Updates) > 0 || len(p.NewRows) > 0 }

// PlanMerge resolves each missing timestamp and classifies it. Timestamps
// the store already contains are dropped, so planning against a store that
// moved on since gap detection stays correct.
func PlanMerge(symbol string, missing []time.Time, keys KeyMap, window int, r store.Reader) Plan {
	var p Plan
	staged := make(map[int64]struct{})
	for _, t := range missing {
		if r.Contains(symbol, t) {
			continue
		}
		v, ok := Resolve(t, keys, window)
		if !ok {
			p.Unresolved = append(p.Unresolved, t)
			continue
		}
		rec := domain.Record{Timestamp: t, Value: v}
		if r.ContainsRow(t) {
			p.Updates = append(p.Updates, rec)
			continue
		}
		if _, dup := staged[t.Unix()]; dup {
			continue
		}
		staged[t.Unix()] = struct{}{}
		p.NewRows = append(p.NewRows, rec)
	}
	return p
}

// MergeResult summarizes one merge.
type MergeResult struct {
	Updates    int
	NewRows    int
	Unresolved int
	Persisted  bool
}

// Merge writes the resolved observations for symbol into st and persists st
// to location when anything changed. The merge is all or nothing: if a write
// or the persist fails, the in-memory changes are rolled back. A persist
// failure is returned as *PersistError.
func Merge(ctx context.Context, st store.Store, symbol string, entry domain.EntryType, location string,
	missing []time.Time, keys KeyMap, window int) (MergeResult, error) {

	p := PlanMerge(symbol, missing, keys, window, st)
	res := MergeResult{Unresolved: len(p.Unresolved)}
	if !p.Changed() {
		return res, nil
	}

	if !st.ContainsSymbol(symbol) {
		if err := st.AddSymbol(symbol, entry); err != nil {
			return res, fmt.Errorf("adding column %s: %w", symbol, err)
		}
	}

	var filled []time.Time
	rollback := func() {
		for _, t := range filled {
			st.ClearCell(symbol, t)
		}
	}
	for _, u := range p.Updates {
		if err := st.SetCell(symbol, u.Timestamp, u.Value); err != nil {
			rollback()
			return res, fmt.Errorf("filling %s at %s: %w", symbol, u.Timestamp.Format(time.RFC3339), err)
		}
		filled = append(filled, u.Timestamp)
	}
	if err := st.AppendRows(symbol, p.NewRows); err != nil {
		rollback()
		return res, fmt.Errorf("appending rows for %s: %w", symbol, err)
	}

	if err := st.Persist(ctx, location); err != nil {
		rollback()
		appended := make([]time.Time, len(p.NewRows))
		for i, r := range p.NewRows {
			appended[i] = r.Timestamp
		}
		st.DropRows(appended)
		return res, &PersistError{Symbol: symbol, Location: location, Err: err}
	}

	res.Updates = len(p.Updates)
	res.NewRows = len(p.NewRows)
	res.Persisted = true
	return res, nil
}
