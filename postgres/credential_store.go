// Package postgres keeps credential store entries in a PostgreSQL table.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS docflow_config (
	section    TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (section, key)
)`

const upsert = `
INSERT INTO docflow_config (section, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (section, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

// CredentialStore implements domain.CredentialStore.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// Open connects to url and makes sure the table exists.
func Open(ctx context.Context, url string) (*CredentialStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewCredentialStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Migrate creates the config table.
func (s *CredentialStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create docflow_config: %w", err)
	}
	return nil
}

func (s *CredentialStore) Put(ctx context.Context, section, key, value string) error {
	if _, err := s.pool.Exec(ctx, upsert, section, key, value); err != nil {
		return fmt.Errorf("upsert %s: %w", section, err)
	}
	return nil
}

// Get returns the stored value and whether it exists.
func (s *CredentialStore) Get(ctx context.Context, section, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM docflow_config WHERE section = $1 AND key = $2`, section, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *CredentialStore) Close() {
	s.pool.Close()
}
