package draft

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgBackend stores drafts in PostgreSQL for deployments where several
// portdesk instances serve the same users.
type PgBackend struct {
	pool *pgxpool.Pool
}

// NewPgBackend creates a PostgreSQL draft backend.
func NewPgBackend(pool *pgxpool.Pool) *PgBackend {
	return &PgBackend{pool: pool}
}

// Migrate creates the drafts table if it does not exist.
func (b *PgBackend) Migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS portdesk_drafts (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create portdesk_drafts table: %w", err)
	}
	return nil
}

// Get reads the payload for key.
func (b *PgBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.pool.QueryRow(ctx, `SELECT value FROM portdesk_drafts WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query draft %q: %w", key, err)
	}
	return value, true, nil
}

// Put upserts the payload for key.
func (b *PgBackend) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO portdesk_drafts (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert draft %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (b *PgBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM portdesk_drafts WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete draft %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings the pool.
func (b *PgBackend) HealthCheck(ctx context.Context) error {
	return b.pool.Ping(ctx)
}
