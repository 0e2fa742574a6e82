// Package postgres persists batch outcomes as rows in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/batchscrape/internal/scrape"
)

// DefaultTable receives outcome rows when Config.Table is empty.
const DefaultTable = "scrape_outcomes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for outcome rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// OutcomeStore writes one row per outcome. It implements scrape.Sink.
type OutcomeStore struct {
	pool  pool
	table string
}

// NewOutcomeStore connects a pool using cfg.
func NewOutcomeStore(ctx context.Context, cfg Config) (*OutcomeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &OutcomeStore{pool: p, table: table}, nil
}

// NewOutcomeStoreWithPool constructs a store from an existing pool.
func NewOutcomeStoreWithPool(p pool, table string) (*OutcomeStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &OutcomeStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks the database is reachable.
func (s *OutcomeStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the outcome table when it does not exist.
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	batch_id         TEXT        NOT NULL,
	batch_started_at TIMESTAMPTZ NOT NULL,
	target           TEXT        NOT NULL,
	status           TEXT        NOT NULL,
	status_code      INTEGER,
	excerpt          TEXT        NOT NULL DEFAULT '',
	reason           TEXT        NOT NULL DEFAULT '',
	failure_kind     TEXT        NOT NULL DEFAULT '',
	worker           TEXT        NOT NULL DEFAULT '',
	duration_ms      BIGINT      NOT NULL,
	bytes            INTEGER     NOT NULL DEFAULT 0,
	content_hash     TEXT        NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write inserts every outcome of batch in a single transaction.
func (s *OutcomeStore) Write(ctx context.Context, batch scrape.Batch) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("outcome store is not configured")
	}
	if len(batch.Outcomes) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	batch_id,
	batch_started_at,
	target,
	status,
	status_code,
	excerpt,
	reason,
	failure_kind,
	worker,
	duration_ms,
	bytes,
	content_hash
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outcome insert: %w", err)
	}
	for _, o := range batch.Outcomes {
		if _, err := tx.Exec(ctx, query, rowArgs(batch, o)...); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("insert outcome for %s: %w", o.Target, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit outcomes: %w", err)
	}
	return nil
}

func rowArgs(batch scrape.Batch, o scrape.Outcome) []any {
	var code any
	if o.OK() {
		code = o.Code
	}
	return []any{
		batch.ID,
		batch.StartedAt,
		o.Target.String(),
		string(o.Status),
		code,
		o.Excerpt,
		o.Reason,
		string(o.Kind),
		o.Worker,
		o.DurationMs,
		o.Bytes,
		o.ContentHash,
	}
}
