// Package snapshot runs the periodic worker that mirrors Redis-cached,
// below-promotion-threshold enrichment results into inspectable
// RedisSnapshot rows and hard-deletes ones older than the retention
// window. Each scan-then-sweep run is serialized across replicas with a
// global advisory lock; a replica that loses the lock skips its run
// silently.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/bomforge/core/pkg/lock"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
)

const (
	componentKeyPattern = "component:*:data"
	scanBatchSize       = 200
)

// Store persists the inspectable mirror of Redis cache entries.
type Store interface {
	Upsert(ctx context.Context, snap model.RedisSnapshot) error
	MarkExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Worker periodically scans Redis for cached component entries, mirrors
// them into Store, and purges entries past RetentionWindow.
type Worker struct {
	redis           *redis.Client
	store           Store
	lockStore       lock.Store
	interval        time.Duration
	retentionWindow time.Duration
}

func NewWorker(redisClient *redis.Client, store Store, lockStore lock.Store) *Worker {
	return &Worker{
		redis:           redisClient,
		store:           store,
		lockStore:       lockStore,
		interval:        15 * time.Second,
		retentionWindow: 7 * 24 * time.Hour,
	}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				slog.Error("snapshot: sync tick failed", "error", err)
			}
		}
	}
}

// tick takes the global sync lock (only one replica syncs at a time,
// per the original worker's single-writer assumption), scans Redis, and
// sweeps expired rows.
func (w *Worker) tick(ctx context.Context) error {
	l := lock.New(w.lockStore, lock.RedisSyncKey("snapshot-sync"))
	ok, err := l.Acquire(ctx, w.interval)
	if err != nil {
		return fmt.Errorf("snapshot: acquire sync lock: %w", err)
	}
	if !ok {
		return nil // another replica is syncing
	}
	defer func() { _ = l.Release(ctx) }()

	if err := w.scanAndMirror(ctx); err != nil {
		return err
	}

	// Rows past their Redis expiry flip to expired first; only after the
	// retention window do they get hard-deleted.
	expired, err := w.store.MarkExpiredBefore(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("snapshot: mark expired rows: %w", err)
	}
	if expired > 0 {
		slog.Info("snapshot: marked expired rows", "count", expired)
	}

	deleted, err := w.store.DeleteExpiredBefore(ctx, time.Now().Add(-w.retentionWindow))
	if err != nil {
		return fmt.Errorf("snapshot: sweep expired rows: %w", err)
	}
	if deleted > 0 {
		slog.Info("snapshot: swept expired rows", "count", deleted)
	}
	return nil
}

func (w *Worker) scanAndMirror(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := w.redis.Scan(ctx, cursor, componentKeyPattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("snapshot: redis scan failed: %w", err)
		}

		for _, key := range keys {
			if err := w.mirrorOne(ctx, key); err != nil {
				slog.Warn("snapshot: failed to mirror key", "key", key, "error", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (w *Worker) mirrorOne(ctx context.Context, redisKey string) error {
	raw, err := w.redis.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", redisKey, err)
	}

	var payload struct {
		LineID       string         `json:"line_id"`
		MPN          string         `json:"mpn"`
		Manufacturer string         `json:"manufacturer"`
		QualityScore int            `json:"quality_score"`
		Data         map[string]any `json:"data"`
		Reason       string         `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("unmarshal snapshot payload for %s: %w", redisKey, err)
	}

	ttl, err := w.redis.TTL(ctx, redisKey).Result()
	if err != nil {
		return fmt.Errorf("redis ttl %s: %w", redisKey, err)
	}
	expiresAt := time.Now()
	if ttl > 0 {
		expiresAt = expiresAt.Add(ttl)
	}

	return w.store.Upsert(ctx, model.RedisSnapshot{
		RedisKey:      redisKey,
		LineID:        payload.LineID,
		MPN:           payload.MPN,
		Manufacturer:  payload.Manufacturer,
		QualityScore:  payload.QualityScore,
		ComponentData: payload.Data,
		ExpiresAt:     expiresAt,
		SyncStatus:    model.SyncActive,
		Reason:        payload.Reason,
	})
}
