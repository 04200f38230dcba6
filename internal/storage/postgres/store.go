// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements the config, event and entry stores on one pool.
// Every mutating method runs in its own transaction.
type Store struct {
	pool pool
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS project_sources (
	project_id       TEXT        NOT NULL,
	source_id        TEXT        NOT NULL,
	active           BOOLEAN     NOT NULL DEFAULT TRUE,
	priority         INTEGER     NOT NULL DEFAULT 0,
	interval_seconds INTEGER     NOT NULL DEFAULT 300 CHECK (interval_seconds > 0),
	last_run         TIMESTAMPTZ,
	backoff_until    TIMESTAMPTZ,
	PRIMARY KEY (project_id, source_id)
)`,
	`CREATE TABLE IF NOT EXISTS crawl_events (
	project_id   TEXT        NOT NULL,
	source_id    TEXT        NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	status       TEXT        NOT NULL CHECK (status IN ('ok', 'fail', 'error')),
	trigger_kind TEXT        NOT NULL CHECK (trigger_kind IN ('auto', 'manual')),
	run_id       TEXT        NOT NULL DEFAULT '',
	detail       TEXT        NOT NULL DEFAULT '',
	PRIMARY KEY (project_id, source_id, ts)
)`,
	`CREATE INDEX IF NOT EXISTS crawl_events_project_ts_idx ON crawl_events (project_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS project_entries (
	id         BIGSERIAL PRIMARY KEY,
	project_id TEXT      NOT NULL,
	source_id  TEXT      NOT NULL,
	latitude   DOUBLE PRECISION,
	longitude  DOUBLE PRECISION,
	comment    TEXT
)`,
	`CREATE INDEX IF NOT EXISTS project_entries_project_idx ON project_entries (project_id, id)`,
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate creates the tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// execTx runs a single statement in its own transaction and returns the affected row count.
func (s *Store) execTx(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
