package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
)

func TestPostgresStore_UpsertAndDeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectExec("INSERT INTO redis_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Upsert(context.Background(), model.RedisSnapshot{
		RedisKey:     "component:LM358N:data",
		MPN:          "LM358N",
		QualityScore: 40,
		ExpiresAt:    time.Now().Add(time.Hour),
		SyncStatus:   model.SyncActive,
	})
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM redis_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := store.DeleteExpiredBefore(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkExpiredFlipsOnlyActiveRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	cutoff := time.Now()
	mock.ExpectExec("UPDATE redis_snapshots SET sync_status").
		WithArgs(string(model.SyncExpired), cutoff, string(model.SyncActive)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.MarkExpiredBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
