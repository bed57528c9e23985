// Caller-side persistence for StoredAccountData, grounded on the
// teacher's own Postgres access pattern (internal/db/db.go): a plain
// *sql.DB opened against the "postgres" driver, context-bound calls,
// JSON columns for loosely-typed blobs. The core itself never imports
// this file's types (§6.4 says the core is caller-persisted); it exists
// so the KT client variant this module builds has a complete, concrete
// persistence path instead of leaving StoredAccountData live only as an
// in-memory shape.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists one StoredAccountData row per logical account
// (chat-value string) in a single JSONB column, keeping the schema
// agnostic to this package's internal field layout.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB. Callers are
// responsible for connection pooling and lifecycle, matching db.NewDB's
// ownership split between connection setup and query execution.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the backing table if it does not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kt_account_data (
			account_key TEXT PRIMARY KEY,
			data        JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("store: creating kt_account_data table: %w", err)
	}
	return nil
}

// Save upserts the stored form of an account's verification state.
func (s *PostgresStore) Save(ctx context.Context, accountKey string, data StoredAccountData) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("store: marshaling account data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kt_account_data (account_key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (account_key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, accountKey, blob)
	if err != nil {
		return fmt.Errorf("store: saving account data for %s: %w", accountKey, err)
	}
	return nil
}

// Load fetches a previously saved account's state. ok is false if no row
// exists for accountKey, distinguishing "never searched" from an error.
func (s *PostgresStore) Load(ctx context.Context, accountKey string) (data StoredAccountData, ok bool, err error) {
	var blob []byte
	row := s.db.QueryRowContext(ctx, `SELECT data FROM kt_account_data WHERE account_key = $1`, accountKey)
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return StoredAccountData{}, false, nil
		}
		return StoredAccountData{}, false, fmt.Errorf("store: loading account data for %s: %w", accountKey, err)
	}
	if err := json.Unmarshal(blob, &data); err != nil {
		return StoredAccountData{}, false, fmt.Errorf("store: decoding account data for %s: %w", accountKey, err)
	}
	return data, true, nil
}
