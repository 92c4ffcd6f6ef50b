package idempotency_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/idempotency"
)

func TestMemoryStore_RegisterExactlyOnce(t *testing.T) {
	store := idempotency.NewMemoryStore(time.Minute, time.Hour)
	defer store.Close()

	existing, inserted, err := store.Register("bom:create:abc", []byte(`{"id":"1"}`), time.Minute)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Nil(t, existing)

	existing, inserted, err = store.Register("bom:create:abc", []byte(`{"id":"2"}`), time.Minute)
	require.NoError(t, err)
	require.False(t, inserted, "second registration of the same key must not win")
	require.Equal(t, []byte(`{"id":"1"}`), existing, "caller must see the first writer's result")
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := idempotency.NewMemoryStore(time.Minute, time.Hour)
	defer store.Close()

	result, found, err := store.Get("never-registered")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, result)
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	store := idempotency.NewMemoryStore(20*time.Millisecond, time.Hour)
	defer store.Close()

	_, inserted, err := store.Register("enrichment:LM358N", []byte("first"), 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, inserted)

	time.Sleep(40 * time.Millisecond)

	_, found, err := store.Get("enrichment:LM358N")
	require.NoError(t, err)
	require.False(t, found, "entry must expire once its TTL has elapsed")

	// A fresh Register after expiry must win again, not be treated as a dup.
	_, inserted, err = store.Register("enrichment:LM358N", []byte("second"), 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, inserted)
}
