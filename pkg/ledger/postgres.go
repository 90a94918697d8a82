package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBPool is the subset of pgxpool.Pool the PostgreSQL ledger uses.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresOptions configures the PostgreSQL ledger.
type PostgresOptions struct {
	ConnString string
	TableName  string
}

// Postgres is a Ledger backed by a PostgreSQL table.
type Postgres struct {
	pool      DBPool
	tableName string
}

// NewPostgres connects to opts.ConnString and creates the ledger table.
func NewPostgres(ctx context.Context, opts PostgresOptions) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	store := NewPostgresWithPool(pool, opts.TableName)

	err = store.InitSchema(ctx)
	if err != nil {
		pool.Close()

		return nil, err
	}

	return store, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool DBPool, tableName string) *Postgres {
	if tableName == "" {
		tableName = defaultTableName
	}

	return &Postgres{pool: pool, tableName: tableName}
}

// InitSchema creates the ledger table if it does not exist.
func (s *Postgres) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			output TEXT NOT NULL,
			event TEXT NOT NULL,
			iteration BIGINT NOT NULL,
			burned_in BOOLEAN NOT NULL,
			burn_in_iteration BIGINT NOT NULL,
			effective_samples BIGINT NOT NULL,
			acl DOUBLE PRECISION NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_run_id ON %s (run_id);
	`, s.tableName, s.tableName, s.tableName)

	_, err := s.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}

	return nil
}

// Append implements Ledger.
func (s *Postgres) Append(ctx context.Context, entry Entry) error {
	entry = normalize(entry)

	query := fmt.Sprintf(`INSERT INTO %s (run_id, output, event, iteration, burned_in, burn_in_iteration, `+
		`effective_samples, acl, timestamp) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, s.tableName)

	_, err := s.pool.Exec(ctx, query,
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
func (s *Postgres) History(ctx context.Context, runID string) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT run_id, output, event, iteration, burned_in, burn_in_iteration, `+
		`effective_samples, acl, timestamp FROM %s WHERE run_id = $1 ORDER BY id ASC`, s.tableName)

	rows, err := s.pool.Query(ctx, query, runID)
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
func (s *Postgres) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT run_id FROM %s ORDER BY run_id`, s.tableName))
	if err != nil {
		return nil, fmt.Errorf("list ledger runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan ledger runs: %w", err)
	}

	return runs, nil
}

// Close implements Ledger.
func (s *Postgres) Close() error {
	s.pool.Close()

	return nil
}
