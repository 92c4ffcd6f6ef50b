package config

import (
	"context"
	"database/sql"
)

// PostgresStore is the durable backend Cache reads through. Built
// on pkg/idempotency.PostgresStore's plain key/value table shape.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const postgresConfigSchema = `
CREATE TABLE IF NOT EXISTS runtime_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresConfigSchema)
	return err
}

// Get returns the stored value for key, or (!found) if no operator override
// exists, letting Cache fall through to the environment then the
// compile-time default.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM runtime_config WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set upserts an operator override, for the admin config-tuning surface.
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}
