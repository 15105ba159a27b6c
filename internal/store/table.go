package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"gapfill/internal/domain"
)

// Table is the in-memory sparse table shared by every backend. It implements
// all of Store except Load and Persist.
type Table struct {
	mu      sync.RWMutex
	loc     *time.Location
	columns map[string]domain.EntryType
	order   []int64 // sorted row keys
	rows    map[int64]map[string]domain.Observation
}

// NewTable creates an empty table. Row timestamps are reported in loc (UTC
// when nil).
func NewTable(loc *time.Location) *Table {
	if loc == nil {
		loc = time.UTC
	}
	return &Table{
		loc:     loc,
		columns: make(map[string]domain.EntryType),
		rows:    make(map[int64]map[string]domain.Observation),
	}
}

func rowKey(t time.Time) int64 { return t.Unix() }

func (t *Table) timeOf(k int64) time.Time { return time.Unix(k, 0).In(t.loc) }

// Contains reports whether the (symbol, ts) cell exists and is non-null.
func (t *Table) Contains(symbol string, ts time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rows[rowKey(ts)][symbol]
	return ok
}

// ContainsSymbol reports whether a column exists for symbol.
func (t *Table) ContainsSymbol(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.columns[symbol]
	return ok
}

// ContainsRow reports whether a row exists for ts.
func (t *Table) ContainsRow(ts time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rows[rowKey(ts)]
	return ok
}

// AddSymbol adds an empty column.
func (t *Table) AddSymbol(symbol string, entry domain.EntryType) error {
	if symbol == "" {
		return fmt.Errorf("store: empty symbol")
	}
	if !entry.Valid() {
		return fmt.Errorf("store: invalid entry type %q for %s", entry, symbol)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.columns[symbol]; !ok {
		t.columns[symbol] = entry
	}
	return nil
}

// SetCell fills the cell of an existing row.
func (t *Table) SetCell(symbol string, ts time.Time, v domain.Observation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.columns[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	row, ok := t.rows[rowKey(ts)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRow, ts.Format(time.RFC3339))
	}
	row[symbol] = v
	return nil
}

// AppendRows inserts new rows in one batch.
func (t *Table) AppendRows(symbol string, rows []domain.Record) error {
	if len(rows) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.columns[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	keys := make([]int64, 0, len(rows))
	seen := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		k := rowKey(r.Timestamp)
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %s appears twice in batch", ErrRowExists, r.Timestamp.Format(time.RFC3339))
		}
		if _, ok := t.rows[k]; ok {
			return fmt.Errorf("%w: %s", ErrRowExists, r.Timestamp.Format(time.RFC3339))
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, r := range rows {
		t.rows[rowKey(r.Timestamp)] = map[string]domain.Observation{symbol: r.Value}
	}
	t.insertKeys(keys)
	return nil
}

// insertKeys merges new row keys into the sorted order. Must be called with
// mu held.
func (t *Table) insertKeys(keys []int64) {
	slices.Sort(keys)
	merged := make([]int64, 0, len(t.order)+len(keys))
	i, j := 0, 0
	for i < len(t.order) && j < len(keys) {
		if t.order[i] < keys[j] {
			merged = append(merged, t.order[i])
			i++
		} else {
			merged = append(merged, keys[j])
			j++
		}
	}
	merged = append(merged, t.order[i:]...)
	merged = append(merged, keys[j:]...)
	t.order = merged
}

// ClearCell empties a cell.
func (t *Table) ClearCell(symbol string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row, ok := t.rows[rowKey(ts)]; ok {
		delete(row, symbol)
	}
}

// DropRows removes rows.
func (t *Table) DropRows(ts []time.Time) {
	if len(ts) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	drop := make(map[int64]struct{}, len(ts))
	for _, x := range ts {
		k := rowKey(x)
		drop[k] = struct{}{}
		delete(t.rows, k)
	}
	t.order = slices.DeleteFunc(t.order, func(k int64) bool {
		_, ok := drop[k]
		return ok
	})
}

// Get returns the value of a cell.
func (t *Table) Get(symbol string, ts time.Time) (domain.Observation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[rowKey(ts)][symbol]
	return v, ok
}

// Column returns the entry type of a column.
func (t *Table) Column(symbol string) (domain.EntryType, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.columns[symbol]
	return e, ok
}

// Symbols returns the column names in sorted order.
func (t *Table) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.columns))
	for s := range t.columns {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Rows returns the row timestamps in ascending order.
func (t *Table) Rows() []time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]time.Time, len(t.order))
	for i, k := range t.order {
		out[i] = t.timeOf(k)
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Filled returns the number of non-null cells for symbol.
func (t *Table) Filled(symbol string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, row := range t.rows {
		if _, ok := row[symbol]; ok {
			n++
		}
	}
	return n
}

// Location returns the zone row timestamps are reported in.
func (t *Table) Location() *time.Location { return t.loc }

// each calls fn for every row in timestamp order with that row's cells, under
// the read lock. fn must not call back into t.
func (t *Table) each(fn func(ts time.Time, cells map[string]domain.Observation)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, k := range t.order {
		fn(t.timeOf(k), t.rows[k])
	}
}

// columnsCopy returns a copy of the column map.
func (t *Table) columnsCopy() map[string]domain.EntryType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]domain.EntryType, len(t.columns))
	for s, e := range t.columns {
		out[s] = e
	}
	return out
}

// clone returns a deep copy of the row structure.
func (t *Table) clone() *Table {
	c := NewTable(t.loc)
	c.columns = t.columnsCopy()
	t.each(func(ts time.Time, cells map[string]domain.Observation) {
		row := make(map[string]domain.Observation, len(cells))
		for s, v := range cells {
			row[s] = v
		}
		k := rowKey(ts)
		c.rows[k] = row
		c.order = append(c.order, k)
	})
	return c
}

// replace swaps the contents of t with those of other.
func (t *Table) replace(other *Table) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.columns = other.columns
	t.order = other.order
	t.rows = other.rows
}

// putRow creates a row if missing. Used by loaders; must not be called
// concurrently with other writers.
func (t *Table) putRow(ts time.Time) map[string]domain.Observation {
	k := rowKey(ts)
	row, ok := t.rows[k]
	if !ok {
		row = make(map[string]domain.Observation)
		t.rows[k] = row
		t.order = append(t.order, k)
	}
	return row
}

// finishLoad sorts the row order after bulk loading.
func (t *Table) finishLoad() {
	slices.Sort(t.order)
}

// ---------------------------------------------------------------------------
// Memory: a store persisting to in-process snapshots.
// ---------------------------------------------------------------------------

var _ Store = (*Memory)(nil)

// Memory is a Store whose Persist keeps a deep copy in process, keyed by
// location. It backs tests.
type Memory struct {
	*Table

	smu   sync.Mutex
	saved map[string]*Table
}

// NewMemory creates an empty in-memory store.
func NewMemory(loc *time.Location) *Memory {
	return &Memory{Table: NewTable(loc), saved: make(map[string]*Table)}
}

// Load replaces the contents with the snapshot saved at location.
func (m *Memory) Load(_ context.Context, location string) error {
	m.smu.Lock()
	snap, ok := m.saved[location]
	m.smu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	m.Table.replace(snap.clone())
	return nil
}

// Persist saves a snapshot at location.
func (m *Memory) Persist(_ context.Context, location string) error {
	snap := m.Table.clone()
	m.smu.Lock()
	m.saved[location] = snap
	m.smu.Unlock()
	return nil
}
