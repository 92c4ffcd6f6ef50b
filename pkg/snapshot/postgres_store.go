package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgSnapshotSchema = `
CREATE TABLE IF NOT EXISTS redis_snapshots (
	redis_key TEXT PRIMARY KEY,
	line_id TEXT,
	mpn TEXT,
	manufacturer TEXT,
	quality_score INT,
	component_data_json JSONB,
	expires_at TIMESTAMP NOT NULL,
	sync_status TEXT NOT NULL,
	reason TEXT
);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSnapshotSchema)
	return err
}

func (s *PostgresStore) Upsert(ctx context.Context, snap model.RedisSnapshot) error {
	data, err := json.Marshal(snap.ComponentData)
	if err != nil {
		return fmt.Errorf("snapshot: marshal component data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO redis_snapshots
			(redis_key, line_id, mpn, manufacturer, quality_score, component_data_json, expires_at, sync_status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (redis_key) DO UPDATE SET
			quality_score = EXCLUDED.quality_score,
			component_data_json = EXCLUDED.component_data_json,
			expires_at = EXCLUDED.expires_at,
			sync_status = CASE
				WHEN redis_snapshots.sync_status = 'promoted' THEN redis_snapshots.sync_status
				ELSE EXCLUDED.sync_status
			END,
			reason = EXCLUDED.reason
	`, snap.RedisKey, snap.LineID, snap.MPN, snap.Manufacturer, snap.QualityScore, data, snap.ExpiresAt, snap.SyncStatus, snap.Reason)
	if err != nil {
		return fmt.Errorf("snapshot: upsert failed for %s: %w", snap.RedisKey, err)
	}
	return nil
}

// MarkExpiredBefore flips active rows whose Redis expiry has passed to
// expired, so admins can tell a lapsed staging entry from a live one
// while it rides out the retention window.
func (s *PostgresStore) MarkExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE redis_snapshots SET sync_status = $1
		WHERE expires_at < $2 AND sync_status = $3
	`, model.SyncExpired, cutoff, model.SyncActive)
	if err != nil {
		return 0, fmt.Errorf("snapshot: mark expired failed: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredBefore hard-deletes rows whose expiry is older than cutoff,
// after the 7-day retention window.
func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM redis_snapshots WHERE expires_at < $1 AND sync_status != $2`,
		cutoff, model.SyncPromoted)
	if err != nil {
		return 0, fmt.Errorf("snapshot: delete expired failed: %w", err)
	}
	return res.RowsAffected()
}

// ErrSnapshotNotFound is returned by Get for an unknown redis key.
var ErrSnapshotNotFound = fmt.Errorf("snapshot: not found")

// Get loads one mirrored snapshot row by its redis key.
func (s *PostgresStore) Get(ctx context.Context, redisKey string) (*model.RedisSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT redis_key, line_id, mpn, manufacturer, quality_score, component_data_json, expires_at, sync_status, reason
		FROM redis_snapshots WHERE redis_key = $1
	`, redisKey)

	var snap model.RedisSnapshot
	var data []byte
	err := row.Scan(&snap.RedisKey, &snap.LineID, &snap.MPN, &snap.Manufacturer,
		&snap.QualityScore, &data, &snap.ExpiresAt, &snap.SyncStatus, &snap.Reason)
	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: get %s: %w", redisKey, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &snap.ComponentData); err != nil {
			return nil, fmt.Errorf("snapshot: decode component data for %s: %w", redisKey, err)
		}
	}
	return &snap, nil
}

// MarkPromoted flips a row to promoted so the retention sweep keeps it.
func (s *PostgresStore) MarkPromoted(ctx context.Context, redisKey string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE redis_snapshots SET sync_status = $1 WHERE redis_key = $2`,
		model.SyncPromoted, redisKey)
	if err != nil {
		return fmt.Errorf("snapshot: mark promoted %s: %w", redisKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}
