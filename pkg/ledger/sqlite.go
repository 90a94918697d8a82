package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Registers the sqlite3 database/sql driver.
	_ "github.com/mattn/go-sqlite3"
)

const defaultTableName = "gwinfer_ledger"

// SQLiteOptions configures the SQLite ledger.
type SQLiteOptions struct {
	Path      string
	TableName string
}

// SQLite is a Ledger backed by a SQLite database file.
type SQLite struct {
	db        *sql.DB
	tableName string
}

// NewSQLite opens the database at opts.Path and creates the ledger table.
func NewSQLite(ctx context.Context, opts SQLiteOptions) (*SQLite, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = defaultTableName
	}

	store := &SQLite{db: db, tableName: tableName}

	err = store.InitSchema(ctx)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return store, nil
}

// InitSchema creates the ledger table if it does not exist.
func (s *SQLite) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			output TEXT NOT NULL,
			event TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			burned_in BOOLEAN NOT NULL,
			burn_in_iteration INTEGER NOT NULL,
			effective_samples INTEGER NOT NULL,
			acl REAL NOT NULL,
			timestamp DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_run_id ON %s (run_id);
	`, s.tableName, s.tableName, s.tableName)

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}

	return nil
}

// Append implements Ledger.
func (s *SQLite) Append(ctx context.Context, entry Entry) error {
	entry = normalize(entry)

	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, output, event, iteration, burned_in, burn_in_iteration,
			effective_samples, acl, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.tableName)

	_, err := s.db.ExecContext(ctx, query,
		entry.RunID,
		entry.Output,
		string(entry.Event),
		entry.Iteration,
		entry.BurnedIn,
		entry.BurnInIteration,
		entry.EffectiveSamples,
		entry.ACL,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}

	return nil
}

// History implements Ledger.
func (s *SQLite) History(ctx context.Context, runID string) ([]Entry, error) {
	query := fmt.Sprintf(`
		SELECT run_id, output, event, iteration, burned_in, burn_in_iteration,
			effective_samples, acl, timestamp
		FROM %s
		WHERE run_id = ?
		ORDER BY id ASC
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			entry Entry
			event string
		)

		err = rows.Scan(
			&entry.RunID,
			&entry.Output,
			&event,
			&entry.Iteration,
			&entry.BurnedIn,
			&entry.BurnInIteration,
			&entry.EffectiveSamples,
			&entry.ACL,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}

		entry.Event = Event(event)
		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}

	return entries, nil
}

// Runs implements Ledger.
func (s *SQLite) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT run_id FROM %s ORDER BY run_id`, s.tableName))
	if err != nil {
		return nil, fmt.Errorf("list ledger runs: %w", err)
	}
	defer rows.Close()

	var runs []string

	for rows.Next() {
		var runID string

		err = rows.Scan(&runID)
		if err != nil {
			return nil, fmt.Errorf("scan ledger run: %w", err)
		}

		runs = append(runs, runID)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate ledger runs: %w", err)
	}

	return runs, nil
}

// Close implements Ledger.
func (s *SQLite) Close() error {
	return s.db.Close()
}
