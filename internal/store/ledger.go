package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses recorded in the ledger.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunFailed  = "failed"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	config      TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	status      TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS run_symbols (
	run_id     TEXT    NOT NULL REFERENCES runs(id),
	symbol     TEXT    NOT NULL,
	status     TEXT    NOT NULL,
	missing    INTEGER NOT NULL,
	updates    INTEGER NOT NULL,
	new_rows   INTEGER NOT NULL,
	unresolved INTEGER NOT NULL,
	error      TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, symbol)
);`

// SymbolOutcome is the per-symbol line of a run.
type SymbolOutcome struct {
	Symbol     string
	Status     string
	Missing    int
	Updates    int
	NewRows    int
	Unresolved int
	Error      string
}

// Run is one recorded download run.
type Run struct {
	ID         string
	Config     string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
	Symbols    []SymbolOutcome
}

// Ledger records download runs in SQLite.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (or creates) the run ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger tables: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun records a running run and returns its id.
func (l *Ledger) StartRun(ctx context.Context, config string, started time.Time) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating run id: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO runs (id, config, started_at, status) VALUES (?, ?, ?, ?)`,
		id.String(), config, started.UnixMilli(), RunRunning)
	if err != nil {
		return "", fmt.Errorf("starting run: %w", err)
	}
	return id.String(), nil
}

// FinishRun marks a run finished and stores its per-symbol outcomes.
func (l *Ledger) FinishRun(ctx context.Context, id string, finished time.Time, status string, outcomes []SymbolOutcome) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`,
		finished.UnixMilli(), status, id)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing run %s: %w", id, ErrNotFound)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO run_symbols (run_id, symbol, status, missing, updates, new_rows, unresolved, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	defer stmt.Close()
	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx, id, o.Symbol, o.Status, o.Missing, o.Updates, o.NewRows, o.Unresolved, o.Error); err != nil {
			return fmt.Errorf("finishing run %s: %s: %w", id, o.Symbol, err)
		}
	}
	return tx.Commit()
}

// RecentRuns returns up to limit runs, newest first, with their outcomes.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, config, started_at, finished_at, status FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Config, &started, &finished, &r.Status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64).UTC()
		}
		runs = append(runs, r)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	for i := range runs {
		outcomes, err := l.outcomes(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Symbols = outcomes
	}
	return runs, nil
}

func (l *Ledger) outcomes(ctx context.Context, id string) ([]SymbolOutcome, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT symbol, status, missing, updates, new_rows, unresolved, error
		 FROM run_symbols WHERE run_id = ? ORDER BY symbol`, id)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes of %s: %w", id, err)
	}
	defer rows.Close()

	var out []SymbolOutcome
	for rows.Next() {
		var o SymbolOutcome
		if err := rows.Scan(&o.Symbol, &o.Status, &o.Missing, &o.Updates, &o.NewRows, &o.Unresolved, &o.Error); err != nil {
			return nil, fmt.Errorf("listing outcomes of %s: %w", id, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
