// Package lock provides the distributed advisory lock used to prevent
// duplicate workflow starts (bom:{bom_id}:workflow), duplicate catalog
// writes (enrichment:{mpn}), and single-writer Redis snapshot sync
// (redis_sync:{worker_id}).
package lock

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Store is the backend an advisory lock is acquired against.
type Store interface {
	// Acquire returns true iff no other owner currently holds key, setting
	// it atomically to ownerID with the given ttl.
	Acquire(ctx context.Context, key, ownerID string, ttl time.Duration) (bool, error)
	// Release deletes key only if its current value matches ownerID.
	Release(ctx context.Context, key, ownerID string) error
}

// ErrNotAcquired is returned by AcquireWait when wait_timeout elapses
// without acquiring the lock.
var ErrNotAcquired = errors.New("lock: not acquired before wait timeout")

// Lock represents one held (or attempted) advisory lock.
type Lock struct {
	store   Store
	key     string
	ownerID string
}

// New creates a Lock bound to key, with a fresh owner id for this attempt.
func New(store Store, key string) *Lock {
	return &Lock{store: store, key: key, ownerID: uuid.NewString()}
}

// Acquire attempts once, non-blocking.
func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.store.Acquire(ctx, l.key, l.ownerID, ttl)
}

// AcquireWait polls Acquire every 100ms until it succeeds or waitTimeout
// elapses, polling with a short sleep between attempts
// polling loop.
func (l *Lock) AcquireWait(ctx context.Context, ttl, waitTimeout time.Duration) (bool, error) {
	deadline := time.Now().Add(waitTimeout)
	for {
		ok, err := l.Acquire(ctx, ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Release deletes the lock only if this Lock still owns it.
func (l *Lock) Release(ctx context.Context) error {
	return l.store.Release(ctx, l.key, l.ownerID)
}

// AcquireSorted acquires locks for all keys in lexicographic order to avoid
// deadlock; on first failure it releases every lock already held and
// returns the held locks empty.
func AcquireSorted(ctx context.Context, store Store, keys []string, ttl, waitTimeout time.Duration) ([]*Lock, error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	held := make([]*Lock, 0, len(sorted))
	for _, k := range sorted {
		l := New(store, k)
		ok, err := l.AcquireWait(ctx, ttl, waitTimeout)
		if err != nil || !ok {
			for _, h := range held {
				_ = h.Release(ctx)
			}
			if err == nil {
				err = ErrNotAcquired
			}
			return nil, err
		}
		held = append(held, l)
	}
	return held, nil
}

// ReleaseAll releases every lock in locks, collecting the first error.
func ReleaseAll(ctx context.Context, locks []*Lock) error {
	var firstErr error
	for _, l := range locks {
		if err := l.Release(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Key builders for the three lock key schemas.
func EnrichmentKey(mpn string) string      { return "enrichment:" + mpn }
func WorkflowKey(bomID string) string      { return "bom:" + bomID + ":workflow" }
func RedisSyncKey(workerID string) string  { return "redis_sync:" + workerID }
