// Package pgstore publishes run outputs into a shared Postgres database.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasnoah/imgchar/internal/publish"
)

const migrationSQL = `
CREATE TABLE IF NOT EXISTS published_outputs (
    name       TEXT        NOT NULL,
    data_id    TEXT        NOT NULL,
    value      JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (name, data_id)
);
`

// Store is a publish.Putter backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the published_outputs table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// Put implements publish.Putter.
func (s *Store) Put(ctx context.Context, value any, name string, id publish.DataID) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO published_outputs (name, data_id, value) VALUES ($1, $2, $3)
		 ON CONFLICT (name, data_id) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		name, id.String(), data,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

// Get decodes the stored value for name and id into v. It reports false if
// nothing has been published under that pair.
func (s *Store) Get(ctx context.Context, name string, id publish.DataID, v any) (bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM published_outputs WHERE name = $1 AND data_id = $2`,
		name, id.String(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}
