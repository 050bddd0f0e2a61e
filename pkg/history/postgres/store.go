// Package postgres provides a PostgreSQL-backed [history.Store].
//
// Each key maps to one row holding the entry list as JSONB. The table is
// created by [Migrate] on [NewStore].
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxbridge/pkg/history"
)

var _ history.Store = (*Store)(nil)

// Store persists conversation history in a conversation_history table.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies connectivity and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks database connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Load implements [history.Store]. A missing key yields an empty list.
func (s *Store) Load(ctx context.Context, key string) ([]history.Entry, error) {
	if key == "" {
		return nil, history.ErrEmptyKey
	}
	const q = `SELECT entries FROM conversation_history WHERE key = $1`

	var entries []history.Entry
	err := s.pool.QueryRow(ctx, q, key).Scan(&entries)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history postgres: load %q: %w", key, err)
	}
	return entries, nil
}

// Save implements [history.Store].
func (s *Store) Save(ctx context.Context, key string, entries []history.Entry) error {
	if key == "" {
		return history.ErrEmptyKey
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	const q = `
		INSERT INTO conversation_history (key, entries, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		    SET entries = EXCLUDED.entries,
		        updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, q, key, entries); err != nil {
		return fmt.Errorf("history postgres: save %q: %w", key, err)
	}
	return nil
}
