// Package ledger keeps an append-only history of run events (checkpoints,
// failed checkpoint writes, completion) for operators watching long runs.
// Backends: SQLite, Redis and PostgreSQL.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Sumatoshi-tech/gwinfer/pkg/config"
)

// ErrUnknownBackend is returned by Open for unsupported backends.
var ErrUnknownBackend = errors.New("unknown ledger backend")

// Event identifies what happened to a run.
type Event string

// Ledger events.
const (
	EventStarted          Event = "started"
	EventResumed          Event = "resumed"
	EventCheckpoint       Event = "checkpoint"
	EventCheckpointFailed Event = "checkpoint_failed"
	EventCompleted        Event = "completed"
)

// Entry is one ledger row.
type Entry struct {
	RunID            string    `json:"run_id"`
	Output           string    `json:"output"`
	Event            Event     `json:"event"`
	Iteration        int       `json:"iteration"`
	BurnedIn         bool      `json:"burned_in"`
	BurnInIteration  int       `json:"burn_in_iteration"`
	EffectiveSamples int       `json:"effective_samples"`
	ACL              float64   `json:"acl"`
	Timestamp        time.Time `json:"timestamp"`
}

// Ledger stores entries in append order.
type Ledger interface {
	Append(ctx context.Context, entry Entry) error
	History(ctx context.Context, runID string) ([]Entry, error)
	// Runs lists every run id with at least one entry, sorted.
	Runs(ctx context.Context) ([]string, error)
	Close() error
}

// normalize stamps missing timestamps and replaces an unknown ACL with 0.
func normalize(entry Entry) Entry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	entry.Timestamp = entry.Timestamp.UTC()

	if math.IsInf(entry.ACL, 0) || math.IsNaN(entry.ACL) {
		entry.ACL = 0
	}

	return entry
}

// Nop discards entries.
type Nop struct{}

// Append implements Ledger.
func (Nop) Append(context.Context, Entry) error { return nil }

// History implements Ledger.
func (Nop) History(context.Context, string) ([]Entry, error) { return nil, nil }

// Runs implements Ledger.
func (Nop) Runs(context.Context) ([]string, error) { return nil, nil }

// Close implements Ledger.
func (Nop) Close() error { return nil }

// Open connects the backend named by cfg and prepares its schema.
func Open(ctx context.Context, cfg config.LedgerConfig) (Ledger, error) {
	switch cfg.Backend {
	case "", config.LedgerNone:
		return Nop{}, nil
	case config.LedgerSQLite:
		return NewSQLite(ctx, SQLiteOptions{Path: cfg.DSN})
	case config.LedgerRedis:
		return NewRedis(ctx, RedisOptions{Addr: cfg.Addr, Prefix: cfg.Prefix})
	case config.LedgerPostgres:
		return NewPostgres(ctx, PostgresOptions{ConnString: cfg.DSN})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
