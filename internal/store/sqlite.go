package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gapfill/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

const tableSchema = `
CREATE TABLE IF NOT EXISTS columns (
	dataset    TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	entry_type TEXT NOT NULL,
	PRIMARY KEY (dataset, symbol)
);
CREATE TABLE IF NOT EXISTS cells (
	dataset TEXT    NOT NULL,
	ts      INTEGER NOT NULL,
	symbol  TEXT    NOT NULL,
	kind    TEXT    NOT NULL,
	price   TEXT    NOT NULL DEFAULT '',
	record  BLOB,
	PRIMARY KEY (dataset, ts, symbol)
);`

// SQLiteStore implements Store backed by a SQLite database. Each location
// names a dataset inside the database; cells are stored in long form using
// the same encoding as the Parquet backend.
type SQLiteStore struct {
	*Table
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string, loc *time.Location) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(tableSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &SQLiteStore{Table: NewTable(loc), db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load replaces the in-memory table with the dataset named location.
func (s *SQLiteStore) Load(ctx context.Context, location string) error {
	t := NewTable(s.Location())

	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, entry_type FROM columns WHERE dataset = ?`, location)
	if err != nil {
		return fmt.Errorf("loading %s: %w", location, err)
	}
	for rows.Next() {
		var sym, entry string
		if err := rows.Scan(&sym, &entry); err != nil {
			rows.Close()
			return fmt.Errorf("loading %s: %w", location, err)
		}
		t.columns[sym] = domain.EntryType(entry)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("loading %s: %w", location, err)
	}

	cells, err := s.db.QueryContext(ctx,
		`SELECT ts, symbol, kind, price, record FROM cells WHERE dataset = ? ORDER BY ts, symbol`, location)
	if err != nil {
		return fmt.Errorf("loading %s: %w", location, err)
	}
	defer cells.Close()

	n := 0
	for cells.Next() {
		var (
			ms               int64
			sym, kind, price string
			record           []byte
		)
		if err := cells.Scan(&ms, &sym, &kind, &price, &record); err != nil {
			return fmt.Errorf("loading %s: %w", location, err)
		}
		n++
		row := t.putRow(time.UnixMilli(ms))
		if kind == kindRow {
			continue
		}
		v, err := decodeCell(kind, price, record)
		if err != nil {
			return fmt.Errorf("loading %s: %s at %d: %w", location, sym, ms, err)
		}
		if _, ok := t.columns[sym]; !ok {
			t.columns[sym] = entryFor(v)
		}
		row[sym] = v
	}
	if err := cells.Err(); err != nil {
		return fmt.Errorf("loading %s: %w", location, err)
	}
	if n == 0 && len(t.columns) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	t.finishLoad()

	s.Table.replace(t)
	return nil
}

// Persist replaces the dataset named location in a single transaction.
func (s *SQLiteStore) Persist(ctx context.Context, location string) error {
	records, rows, err := tableRecords(s.Table)
	if err != nil {
		return fmt.Errorf("persisting %s: %w", location, err)
	}
	records = withRowMarkers(records, rows)
	columns := s.columnsCopy()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persisting %s: %w", location, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM columns WHERE dataset = ?`, location); err != nil {
		return fmt.Errorf("persisting %s: %w", location, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cells WHERE dataset = ?`, location); err != nil {
		return fmt.Errorf("persisting %s: %w", location, err)
	}

	colStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO columns (dataset, symbol, entry_type) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("persisting %s: %w", location, err)
	}
	defer colStmt.Close()
	for sym, entry := range columns {
		if _, err := colStmt.ExecContext(ctx, location, sym, string(entry)); err != nil {
			return fmt.Errorf("persisting %s: column %s: %w", location, sym, err)
		}
	}

	cellStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cells (dataset, ts, symbol, kind, price, record) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("persisting %s: %w", location, err)
	}
	defer cellStmt.Close()
	for _, r := range records {
		if _, err := cellStmt.ExecContext(ctx, location, r.Timestamp, r.Symbol, r.Kind, r.Price, r.Record); err != nil {
			return fmt.Errorf("persisting %s: %s at %d: %w", location, r.Symbol, r.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persisting %s: %w", location, err)
	}
	return nil
}
