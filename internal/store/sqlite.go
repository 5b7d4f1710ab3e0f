package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Kind distinguishes which schema Open applies — the ACS store and the log
// store are two distinct database files with distinct tables, never shared
// across a single connection.
type Kind int

const (
	// KindACS holds access_cards / loc_cards — the card-and-door
	// configuration state the vendor hardware downloads from.
	KindACS Kind = iota
	// KindLog holds scan_log — the append-only badge-read history the
	// vendor hardware writes to.
	KindLog
)

// SQLiteSession implements Session over a single-connection modernc.org/sqlite
// handle (pure Go, no CGO — matches the reference sqlite store this is
// grounded on).
type SQLiteSession struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite file at path and applies the schema for
// kind. One connection is kept open: sqlite serialises writes, and the
// watcher/store access pattern here is low-concurrency enough that a single
// conn avoids SQLITE_BUSY without a pool.
func Open(path string, kind Kind) (*SQLiteSession, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteSession{db: db}
	if err := s.migrate(kind); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies the schema for kind. New versions should only ADD
// statements here so existing database files keep working without a
// separate migration tool.
func (s *SQLiteSession) migrate(kind Kind) error {
	var stmts []string
	switch kind {
	case KindACS:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS access_cards (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				card_number INTEGER NOT NULL UNIQUE,
				name_id     INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS loc_cards (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				card_id     INTEGER NOT NULL REFERENCES access_cards(id),
				location_id INTEGER NOT NULL,
				downloaded  INTEGER NOT NULL DEFAULT 0,
				UNIQUE (card_id, location_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_loc_cards_card ON loc_cards(card_id)`,
		}
	case KindLog:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS scan_log (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				card_number INTEGER NOT NULL,
				name_id     INTEGER,
				scan_time   TEXT    NOT NULL,
				device      INTEGER NOT NULL,
				event_type  INTEGER NOT NULL,
				location_id INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scan_log_time ON scan_log(scan_time)`,
		}
	default:
		return fmt.Errorf("store: unknown kind %d", kind)
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Execute runs stmt and returns every result row keyed by column name. For
// a statement with no result set (INSERT/UPDATE), it returns an empty slice.
func (s *SQLiteSession) Execute(ctx context.Context, stmt string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Scalar runs stmt and returns the single value of its first column, first
// row. Used for COUNT/MAX-style aggregates and single-row lookups.
func (s *SQLiteSession) Scalar(ctx context.Context, stmt string, args ...any) (any, error) {
	var v any
	err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *SQLiteSession) Close() error { return s.db.Close() }
