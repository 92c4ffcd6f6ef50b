package idempotency

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// PostgresStore provides durable idempotency enforcement backed by
// PostgreSQL, surviving process restarts where MemoryStore cannot.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	result BYTEA NOT NULL,
	cached_at TIMESTAMP NOT NULL
);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

// Register inserts the key if absent using INSERT ... ON CONFLICT DO NOTHING
// so that concurrent callers racing on the same key never both "win": the
// loser's subsequent SELECT observes the winner's row.
func (s *PostgresStore) Register(key string, result []byte, ttl time.Duration) ([]byte, bool, error) {
	ctx := context.Background()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, result, cached_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO NOTHING
	`, key, result)
	if err != nil {
		return nil, false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if rows == 1 {
		return nil, true, nil
	}

	existing, found, err := s.Get(key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		// Expired between the conflicting insert and our read; treat as a
		// fresh registration rather than failing the caller.
		return s.Register(key, result, ttl)
	}
	return existing, false, nil
}

func (s *PostgresStore) Get(key string) ([]byte, bool, error) {
	ctx := context.Background()
	var result []byte
	var cachedAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT result, cached_at FROM idempotency_keys WHERE key = $1`, key).
		Scan(&result, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if time.Since(cachedAt) > s.ttl {
		if _, delErr := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); delErr != nil {
			slog.Warn("idempotency: failed to delete expired key", "key", key, "error", delErr)
		}
		return nil, false, nil
	}
	return result, true, nil
}

// Cleanup removes entries older than the TTL; intended to be run
// periodically alongside the Redis snapshot sync worker.
func (s *PostgresStore) Cleanup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE cached_at < $1`, time.Now().Add(-s.ttl))
	return err
}
