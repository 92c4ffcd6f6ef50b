package config_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_URL", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
}

type fakeStore map[string]string

func (f fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f[key]
	return v, ok, nil
}

func TestCache_FallsThroughStoreThenEnvThenDefault(t *testing.T) {
	ctx := context.Background()
	store := fakeStore{config.KeyQualityThreshold: "85"}
	c := config.NewCache(store)

	assert.Equal(t, 85, c.Int(ctx, config.KeyQualityThreshold))
	assert.Equal(t, 70, c.Int(ctx, config.KeyPromoteThreshold)) // falls through to default

	t.Setenv(config.KeyRetryMaxAttempts, "7")
	assert.Equal(t, 7, c.Int(ctx, config.KeyRetryMaxAttempts))
}

func TestCache_Snapshot_ValidatesThresholdOrdering(t *testing.T) {
	ctx := context.Background()
	store := fakeStore{
		config.KeyQualityThreshold: "70",
		config.KeyPromoteThreshold: "80", // invalid: promote >= quality
	}
	c := config.NewCache(store)

	_, err := c.Snapshot(ctx)
	require.Error(t, err)
}

func TestCache_Snapshot_Valid(t *testing.T) {
	ctx := context.Background()
	c := config.NewCache(nil)

	tunables, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, tunables.BatchSize)
	assert.Equal(t, 80, tunables.QualityThreshold)
	assert.Equal(t, 70, tunables.PromoteThreshold)
}

func TestCache_Invalidate_ForcesReread(t *testing.T) {
	ctx := context.Background()
	store := fakeStore{config.KeyEnrichmentBatchSize: "5"}
	c := config.NewCache(store)

	assert.Equal(t, 5, c.Int(ctx, config.KeyEnrichmentBatchSize))
	store[config.KeyEnrichmentBatchSize] = "20"
	assert.Equal(t, 5, c.Int(ctx, config.KeyEnrichmentBatchSize), "still cached")

	c.Invalidate(config.KeyEnrichmentBatchSize)
	assert.Equal(t, 20, c.Int(ctx, config.KeyEnrichmentBatchSize))
}
