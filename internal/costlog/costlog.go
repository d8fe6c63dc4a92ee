// Package costlog keeps a local SQLite ledger of per-query token usage
// and latency. Writes are best-effort: the engine logs and continues
// when the ledger is unavailable. A nil *Ledger disables the ledger.
package costlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite" // SQLite driver
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS query_costs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		query TEXT NOT NULL,
		strategy TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		generated_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_query_costs_created_at ON query_costs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_query_costs_strategy ON query_costs(strategy)`,
}

// Entry is one query's usage record.
type Entry struct {
	QueryID         string
	Query           string
	Strategy        string
	Model           string
	InputTokens     int
	GeneratedTokens int
	Duration        time.Duration
}

// Totals summarizes the ledger.
type Totals struct {
	Queries         int
	InputTokens     int
	GeneratedTokens int
}

// Ledger is an open cost database.
type Ledger struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open creates or opens the ledger file and runs migrations.
func Open(path string, logger *logrus.Logger) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("costlog: path is empty")
	}
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening cost ledger: %w", err)
	}
	// One writer keeps SQLite happy under concurrent queries.
	db.SetMaxOpenConns(1)

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrating cost ledger: %w", err)
		}
	}

	logger.WithField("path", path).Info("Cost ledger opened")
	return &Ledger{db: db, logger: logger}, nil
}

// Record appends one entry.
func (l *Ledger) Record(ctx context.Context, entry Entry) error {
	if l == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO query_costs (query_id, query, strategy, model, input_tokens, generated_tokens, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.QueryID, entry.Query, entry.Strategy, entry.Model,
		entry.InputTokens, entry.GeneratedTokens, entry.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("recording query cost: %w", err)
	}
	return nil
}

// Totals sums the ledger over its whole history.
func (l *Ledger) Totals(ctx context.Context) (Totals, error) {
	if l == nil {
		return Totals{}, nil
	}
	row := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(generated_tokens), 0) FROM query_costs`)

	var t Totals
	if err := row.Scan(&t.Queries, &t.InputTokens, &t.GeneratedTokens); err != nil {
		return Totals{}, fmt.Errorf("summing query costs: %w", err)
	}
	return t, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
