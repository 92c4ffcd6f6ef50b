// Package idempotency implements the (key -> result) cache used for
// exactly-once delivery at the HTTP-ingress boundary and for deduplicating
// repeated component-enrichment requests.
package idempotency

import (
	"sync"
	"time"
)

// Store registers a result under a key if absent, and retrieves it.
// Implementations must make Register atomic: concurrent Register calls for
// the same key must not both "win".
type Store interface {
	// Register inserts (key -> result) if key is absent, returning the
	// existing result and false if it was already present.
	Register(key string, result []byte, ttl time.Duration) (existing []byte, inserted bool, err error)
	// Get returns the cached result for key, or nil if absent/expired.
	Get(key string) ([]byte, bool, error)
}

// MemoryStore is an in-process TTL cache with background sweeping,
// suitable for tests and single-replica deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	ttl     time.Duration
	stop    chan struct{}
}

type memEntry struct {
	result    []byte
	cachedAt  time.Time
}

// NewMemoryStore creates a store with a background sweep every sweepEvery.
func NewMemoryStore(ttl, sweepEvery time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go s.sweep(sweepEvery)
	return s
}

func (s *MemoryStore) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for k, v := range s.entries {
				if now.Sub(v.cachedAt) > s.ttl {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// Close stops the background sweep goroutine.
func (s *MemoryStore) Close() { close(s.stop) }

func (s *MemoryStore) Register(key string, result []byte, ttl time.Duration) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && time.Since(e.cachedAt) < s.ttl {
		return e.result, false, nil
	}
	s.entries[key] = memEntry{result: result, cachedAt: time.Now()}
	return nil, true, nil
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || time.Since(e.cachedAt) >= s.ttl {
		return nil, false, nil
	}
	return e.result, true, nil
}
