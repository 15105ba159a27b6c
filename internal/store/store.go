// Package store defines the sparse observation table the sync pipeline reads
// and writes, together with its in-memory, Parquet and SQLite backends and the
// SQLite run ledger.
package store

import (
	"context"
	"errors"
	"time"

	"gapfill/internal/domain"
)

var (
	// ErrNoRow is returned when a cell is written on a timestamp that has no row.
	ErrNoRow = errors.New("store: row does not exist")
	// ErrRowExists is returned when appending a row that is already present.
	ErrRowExists = errors.New("store: row already exists")
	// ErrUnknownSymbol is returned when writing to a column that was never added.
	ErrUnknownSymbol = errors.New("store: unknown symbol")
	// ErrNotFound is returned by Load when nothing is persisted at a location.
	ErrNotFound = errors.New("store: nothing persisted at location")
)

// Reader answers existence questions. Implementations must be safe for
// concurrent use.
type Reader interface {
	// Contains reports whether the (symbol, t) cell exists and is non-null.
	Contains(symbol string, t time.Time) bool

	// ContainsSymbol reports whether a column exists for symbol.
	ContainsSymbol(symbol string) bool

	// ContainsRow reports whether a row exists for t, for any symbol.
	ContainsRow(t time.Time) bool
}

// Store is a timestamp-keyed table with one column per symbol. Rows are
// ordered by timestamp and two timestamps address the same row when they are
// identical to the second.
type Store interface {
	Reader

	// AddSymbol adds an empty column. Adding an existing column is a no-op.
	AddSymbol(symbol string, entry domain.EntryType) error

	// SetCell fills the cell of an existing row.
	SetCell(symbol string, t time.Time, v domain.Observation) error

	// AppendRows inserts new rows holding a value for symbol only. It fails
	// without side effects if any row already exists.
	AppendRows(symbol string, rows []domain.Record) error

	// ClearCell empties a cell. Used to roll back an uncommitted merge.
	ClearCell(symbol string, t time.Time)

	// DropRows removes rows. Used to roll back an uncommitted merge.
	DropRows(ts []time.Time)

	// Load replaces the in-memory contents with what is persisted at location.
	Load(ctx context.Context, location string) error

	// Persist overwrites location with the in-memory contents.
	Persist(ctx context.Context, location string) error
}
