package config_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/config"
)

func TestPostgresStore_GetMissingKeyReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := config.NewPostgresStore(db)
	mock.ExpectQuery("SELECT value FROM runtime_config").
		WithArgs("quality_threshold").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, found, err := store.Get(context.Background(), "quality_threshold")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetUpsertsOverride(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := config.NewPostgresStore(db)
	mock.ExpectExec("INSERT INTO runtime_config").
		WithArgs("quality_threshold", "85").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Set(context.Background(), "quality_threshold", "85"))
	require.NoError(t, mock.ExpectationsWereMet())
}
