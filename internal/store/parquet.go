package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"gapfill/internal/domain"
)

// Compile-time interface check.
var _ Store = (*ParquetStore)(nil)

// columnsMetaKey holds the JSON column map (symbol -> entry type) in the file
// footer so that columns without any filled cell survive a round trip.
const columnsMetaKey = "gapfill.columns"

// ParquetStore implements Store on a single Parquet file per location.
type ParquetStore struct {
	*Table
	DataDir string

	only map[string]struct{} // partial-load filter; nil loads every symbol
}

// NewParquetStore creates a new ParquetStore rooted at the given data
// directory. Relative locations are resolved against dataDir.
func NewParquetStore(dataDir string, loc *time.Location) *ParquetStore {
	return &ParquetStore{Table: NewTable(loc), DataDir: dataDir}
}

// OnlySymbols restricts Load to the given columns. Rows are always loaded so
// that row existence stays accurate, and Persist carries the cells of the
// other symbols over from the existing file.
func (s *ParquetStore) OnlySymbols(symbols ...string) {
	s.only = make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		s.only[sym] = struct{}{}
	}
}

func (s *ParquetStore) wants(symbol string) bool {
	if s.only == nil {
		return true
	}
	_, ok := s.only[symbol]
	return ok
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// CellRecord is the Parquet schema for one non-null cell. The table is stored
// in long form: one record per (timestamp, symbol) cell, plus a row marker
// (kind "row", empty symbol) for rows that hold no cell at all. Null cells are
// never written, so absence on disk is the null.
type CellRecord struct {
	Timestamp int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Symbol    string `parquet:"symbol,dict"`
	Kind      string `parquet:"kind,dict"`
	Price     string `parquet:"price"`
	Record    []byte `parquet:"record"`
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

// path returns the filesystem path for a location.
// Layout: <DataDir>/<location>, or location itself when absolute.
func (s *ParquetStore) path(location string) string {
	if filepath.IsAbs(location) || s.DataDir == "" {
		return location
	}
	return filepath.Join(s.DataDir, location)
}

// Load reads the Parquet file at location, replacing the in-memory table.
func (s *ParquetStore) Load(_ context.Context, location string) error {
	path := s.path(location)
	columns, records, err := readCellFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}

	t := NewTable(s.Location())
	for sym, e := range columns {
		if s.wants(sym) {
			t.columns[sym] = e
		}
	}
	for _, r := range records {
		row := t.putRow(time.UnixMilli(r.Timestamp))
		if r.Kind == kindRow || !s.wants(r.Symbol) {
			continue
		}
		v, err := decodeCell(r.Kind, r.Price, r.Record)
		if err != nil {
			return fmt.Errorf("loading %s: %s at %d: %w", path, r.Symbol, r.Timestamp, err)
		}
		if _, ok := t.columns[r.Symbol]; !ok {
			t.columns[r.Symbol] = entryFor(v)
		}
		row[r.Symbol] = v
	}
	t.finishLoad()

	s.Table.replace(t)
	return nil
}

// Persist writes the whole table to location, replacing the file atomically.
func (s *ParquetStore) Persist(_ context.Context, location string) error {
	path := s.path(location)

	columns := s.columnsCopy()
	incoming, rows, err := tableRecords(s.Table)
	if err != nil {
		return fmt.Errorf("persisting %s: %w", path, err)
	}

	var existing []CellRecord
	if s.only != nil {
		oldColumns, old, err := readCellFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("persisting %s: reading existing file: %w", path, err)
		}
		for sym, e := range oldColumns {
			if _, ok := columns[sym]; !ok {
				columns[sym] = e
			}
		}
		for _, r := range old {
			if r.Kind == kindRow {
				continue
			}
			if _, mine := s.Table.Column(r.Symbol); !mine {
				existing = append(existing, r)
			}
		}
	}

	merged := withRowMarkers(mergeCellRecords(existing, incoming), rows)

	meta, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("persisting %s: encoding columns: %w", path, err)
	}
	if err := writeParquetFile(path, merged, parquet.KeyValueMetadata(columnsMetaKey, string(meta))); err != nil {
		return fmt.Errorf("persisting %s: %w", path, err)
	}
	return nil
}

func entryFor(v domain.Observation) domain.EntryType {
	if v.IsRecord() {
		return domain.EntryProfile
	}
	return domain.EntryPrice
}

// tableRecords flattens t into cell records and returns its row keys (Unix ms).
func tableRecords(t *Table) ([]CellRecord, []int64, error) {
	var (
		records []CellRecord
		rows    []int64
		encErr  error
	)
	t.each(func(ts time.Time, cells map[string]domain.Observation) {
		ms := ts.UnixMilli()
		rows = append(rows, ms)
		for sym, v := range cells {
			kind, price, rec, err := encodeCell(v)
			if err != nil {
				if encErr == nil {
					encErr = fmt.Errorf("%s at %s: %w", sym, ts.Format(time.RFC3339), err)
				}
				continue
			}
			records = append(records, CellRecord{
				Timestamp: ms,
				Symbol:    sym,
				Kind:      kind,
				Price:     price,
				Record:    rec,
			})
		}
	})
	return records, rows, encErr
}

// withRowMarkers appends a marker for every row that has no cell record.
// The result is sorted by (timestamp, symbol).
func withRowMarkers(records []CellRecord, rows []int64) []CellRecord {
	covered := make(map[int64]struct{}, len(records))
	for _, r := range records {
		covered[r.Timestamp] = struct{}{}
	}
	for _, ms := range rows {
		if _, ok := covered[ms]; !ok {
			records = append(records, CellRecord{Timestamp: ms, Kind: kindRow})
		}
	}
	sortCellRecords(records)
	return records
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// writeParquetFile writes records to a sibling temp file and renames it over
// path, so a failed write never truncates the previous file.
func writeParquetFile[T any](path string, records []T, options ...parquet.WriterOption) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records, options...); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// readCellFile returns the column map stored in the footer and all records.
func readCellFile(path string) (map[string]domain.EntryType, []CellRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, nil, err
	}

	columns := make(map[string]domain.EntryType)
	if raw, ok := pf.Lookup(columnsMetaKey); ok {
		if err := json.Unmarshal([]byte(raw), &columns); err != nil {
			return nil, nil, fmt.Errorf("decoding column metadata: %w", err)
		}
	}

	records, err := readParquetFile[CellRecord](path)
	if err != nil {
		return nil, nil, err
	}
	return columns, records, nil
}

// mergeCellRecords deduplicates cell records by (symbol, timestamp),
// preferring incoming records over existing ones.
func mergeCellRecords(existing, incoming []CellRecord) []CellRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]CellRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]CellRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sortCellRecords(merged)
	return merged
}

func sortCellRecords(records []CellRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		return records[i].Symbol < records[j].Symbol
	})
}
