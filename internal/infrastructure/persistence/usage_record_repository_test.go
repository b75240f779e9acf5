package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/larklabs/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupUsageStoreTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&SubscriberUsageModel{}))
	return db
}

func newTestRecord(t *testing.T, id, tier string) *quota.UsageRecord {
	r, err := quota.NewUsageRecord(id, tier, time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return r
}

func TestGormUsageStore_CreateAndGet(t *testing.T) {
	store := NewGormUsageStore(setupUsageStoreTestDB(t))
	ctx := context.Background()

	t.Run("round trips a record", func(t *testing.T) {
		rec := newTestRecord(t, "user-1", quota.TierPro)
		require.NoError(t, store.Create(ctx, rec))

		got, err := store.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, quota.TierPro, got.TierID)
		assert.True(t, got.SubscriptionStartDate.Equal(rec.SubscriptionStartDate))
		assert.True(t, got.CycleStartedAt.Equal(rec.CycleStartedAt))
		assert.Zero(t, got.TextQueries)
	})

	t.Run("duplicate subscriber", func(t *testing.T) {
		err := store.Create(ctx, newTestRecord(t, "user-1", quota.TierFree))
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})

	t.Run("missing subscriber", func(t *testing.T) {
		_, err := store.Get(ctx, "nobody")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormUsageStore_TryConsume(t *testing.T) {
	store := NewGormUsageStore(setupUsageStoreTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestRecord(t, "user-1", quota.TierFree)))

	t.Run("increments until the limit", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			res, err := store.TryConsume(ctx, "user-1", quota.ActionPhotoAnalysis, 3)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, i, res.Used)
		}

		res, err := store.TryConsume(ctx, "user-1", quota.ActionPhotoAnalysis, 3)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 3, res.Used)
	})

	t.Run("counters are independent", func(t *testing.T) {
		res, err := store.TryConsume(ctx, "user-1", quota.ActionTextQuery, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Used)

		got, err := store.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 3, got.PhotoAnalysis)
		assert.Equal(t, 1, got.TextQueries)
		assert.Zero(t, got.ExplainerQueries)
	})

	t.Run("zero limit always denies", func(t *testing.T) {
		res, err := store.TryConsume(ctx, "user-1", quota.ActionExplainer, 0)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	})

	t.Run("missing subscriber", func(t *testing.T) {
		_, err := store.TryConsume(ctx, "nobody", quota.ActionTextQuery, 10)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := store.TryConsume(ctx, "user-1", quota.ActionType("video"), 10)
		assert.Error(t, err)
	})
}

func TestGormUsageStore_TryConsumeConcurrent(t *testing.T) {
	store := NewGormUsageStore(setupUsageStoreTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestRecord(t, "team-1", quota.TierTeam)))

	const limit = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.TryConsume(ctx, "team-1", quota.ActionExplainer, limit)
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed)
	got, err := store.Get(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, limit, got.ExplainerQueries)
}

func TestGormUsageStore_UpdateTierResetList(t *testing.T) {
	store := NewGormUsageStore(setupUsageStoreTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestRecord(t, "b-user", quota.TierFree)))
	require.NoError(t, store.Create(ctx, newTestRecord(t, "a-user", quota.TierPro)))

	_, err := store.TryConsume(ctx, "b-user", quota.ActionTextQuery, 10)
	require.NoError(t, err)

	require.NoError(t, store.UpdateTier(ctx, "b-user", quota.TierTeam))
	assert.ErrorIs(t, store.UpdateTier(ctx, "ghost", quota.TierTeam), shared.ErrNotFound)

	start := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	next := time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC)
	ok, err := store.ResetCycle(ctx, "b-user", start, next)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = store.ResetCycle(ctx, "ghost", start, next)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a-user", records[0].SubscriberID)
	assert.Equal(t, "b-user", records[1].SubscriberID)
	assert.Equal(t, quota.TierTeam, records[1].TierID)
	assert.Zero(t, records[1].TextQueries)
	assert.True(t, records[1].CycleStartedAt.Equal(next))
}

func TestGormUsageStore_ResetCycleStaleCycle(t *testing.T) {
	store := NewGormUsageStore(setupUsageStoreTestDB(t))
	ctx := context.Background()
	rec := newTestRecord(t, "pro-1", quota.TierPro)
	require.NoError(t, store.Create(ctx, rec))

	next := time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC)
	ok, err := store.ResetCycle(ctx, "pro-1", rec.CycleStartedAt, next)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := store.TryConsume(ctx, "pro-1", quota.ActionTextQuery, 100)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	ok, err = store.ResetCycle(ctx, "pro-1", rec.CycleStartedAt, next)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, "pro-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TextQueries)
	assert.True(t, got.CycleStartedAt.Equal(next))
}

func TestGormUsageStore_ResetCyclePostgresQuery(t *testing.T) {
	db, mock, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	store := NewGormUsageStore(db.DB)

	start := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	next := time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE "subscriber_usage" SET .* WHERE subscriber_id = \$\d AND cycle_started_at = \$\d`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "subscriber_usage" WHERE subscriber_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := store.ResetCycle(context.Background(), "user-1", start, next)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUsageStore_TryConsumePostgresQuery(t *testing.T) {
	db, mock, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	store := NewGormUsageStore(db.DB)

	start := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"subscriber_id", "tier_id", "text_queries", "photo_analysis", "explainer_queries",
		"subscription_start_date", "cycle_started_at", "created_at", "updated_at",
	}).AddRow("user-1", "PRO", 0, 7, 0, start, start, start, start)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "subscriber_usage" SET .*photo_analysis \+ 1.* WHERE subscriber_id = \$\d AND photo_analysis < \$\d`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "subscriber_usage" WHERE subscriber_id = \$1`).
		WillReturnRows(rows)
	mock.ExpectCommit()

	res, err := store.TryConsume(context.Background(), "user-1", quota.ActionPhotoAnalysis, 20)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 7, res.Used)
	assert.NoError(t, mock.ExpectationsWereMet())
}
