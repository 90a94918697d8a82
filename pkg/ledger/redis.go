package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/Sumatoshi-tech/gwinfer/pkg/config"
)

// RedisOptions configures the Redis ledger.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every key. Default "gwinfer:".
	Prefix string
}

// Redis is a Ledger that keeps one list of JSON entries per run and a set of
// known run ids.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to opts.Addr and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect redis ledger: %w", err), client.Close())
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = config.DefaultLedgerPrefix
	}

	return &Redis{client: client, prefix: prefix}, nil
}

func (s *Redis) runKey(runID string) string {
	return fmt.Sprintf("%srun:%s:events", s.prefix, runID)
}

func (s *Redis) runsKey() string {
	return s.prefix + "runs"
}

// Append implements Ledger.
func (s *Redis) Append(ctx context.Context, entry Entry) error {
	entry = normalize(entry)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.runKey(entry.RunID), data)
	pipe.SAdd(ctx, s.runsKey(), entry.RunID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("append ledger entry to redis: %w", err)
	}

	return nil
}

// History implements Ledger.
func (s *Redis) History(ctx context.Context, runID string) ([]Entry, error) {
	values, err := s.client.LRange(ctx, s.runKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read ledger from redis: %w", err)
	}

	entries := make([]Entry, 0, len(values))

	for _, value := range values {
		var entry Entry

		err = json.Unmarshal([]byte(value), &entry)
		if err != nil {
			return nil, fmt.Errorf("unmarshal ledger entry: %w", err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// Runs implements Ledger.
func (s *Redis) Runs(ctx context.Context) ([]string, error) {
	runs, err := s.client.SMembers(ctx, s.runsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list ledger runs: %w", err)
	}

	slices.Sort(runs)

	return runs, nil
}

// Close implements Ledger.
func (s *Redis) Close() error {
	return s.client.Close()
}
