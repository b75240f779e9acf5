package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/larklabs/backend/internal/domain/shared"
	"github.com/larklabs/backend/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockUsageStore struct {
	mock.Mock
}

func (m *mockUsageStore) Create(ctx context.Context, record *quota.UsageRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockUsageStore) Get(ctx context.Context, subscriberID string) (*quota.UsageRecord, error) {
	args := m.Called(ctx, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*quota.UsageRecord), args.Error(1)
}

func (m *mockUsageStore) TryConsume(ctx context.Context, subscriberID string, action quota.ActionType, limit int) (quota.ConsumeResult, error) {
	args := m.Called(ctx, subscriberID, action, limit)
	return args.Get(0).(quota.ConsumeResult), args.Error(1)
}

func (m *mockUsageStore) UpdateTier(ctx context.Context, subscriberID, tierID string) error {
	args := m.Called(ctx, subscriberID, tierID)
	return args.Error(0)
}

func (m *mockUsageStore) ResetCycle(ctx context.Context, subscriberID string, expected, next time.Time) (bool, error) {
	args := m.Called(ctx, subscriberID, expected, next)
	return args.Bool(0), args.Error(1)
}

func (m *mockUsageStore) List(ctx context.Context) ([]*quota.UsageRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*quota.UsageRecord), args.Error(1)
}

type mockMetrics struct {
	mock.Mock
}

func (m *mockMetrics) RecordConsume(ctx context.Context, action quota.ActionType, allowed bool) {
	m.Called(ctx, action, allowed)
}

func (m *mockMetrics) RecordRollover(ctx context.Context, resets int) {
	m.Called(ctx, resets)
}

var testNow = time.Date(2026, time.April, 20, 12, 0, 0, 0, time.UTC)

func newTestService(store quota.UsageStore, opts ...Option) *QuotaService {
	opts = append([]Option{WithClock(quota.FixedClock{T: testNow})}, opts...)
	return NewQuotaService(quota.DefaultRegistry(), store, zap.NewNop(), opts...)
}

func record(id, tier string, start time.Time) *quota.UsageRecord {
	return &quota.UsageRecord{
		SubscriberID:          id,
		TierID:                tier,
		SubscriptionStartDate: start,
		CycleStartedAt:        start,
	}
}

func TestQuotaService_RegisterSubscriber(t *testing.T) {
	ctx := context.Background()

	t.Run("creates record with normalized tier", func(t *testing.T) {
		store := new(mockUsageStore)
		store.On("Create", ctx, mock.MatchedBy(func(r *quota.UsageRecord) bool {
			return r.SubscriberID == "user-1" && r.TierID == quota.TierPro && r.SubscriptionStartDate.Equal(testNow)
		})).Return(nil)

		svc := newTestService(store)
		summary, err := svc.RegisterSubscriber(ctx, RegisterSubscriberInput{SubscriberID: "user-1", TierID: "pro"})

		require.NoError(t, err)
		assert.Equal(t, quota.TierPro, summary.TierID)
		assert.Equal(t, "Pro", summary.TierName)
		assert.True(t, summary.IsFirstMonth)
		assert.Equal(t, 100, summary.Remaining.TextQueries)
		store.AssertExpectations(t)
	})

	t.Run("rejects unknown tier without touching the store", func(t *testing.T) {
		store := new(mockUsageStore)
		svc := newTestService(store)

		_, err := svc.RegisterSubscriber(ctx, RegisterSubscriberInput{SubscriberID: "user-1", TierID: "gold"})

		var ute *quota.UnknownTierError
		require.True(t, errors.As(err, &ute))
		store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("duplicate subscriber", func(t *testing.T) {
		store := new(mockUsageStore)
		store.On("Create", ctx, mock.Anything).Return(shared.ErrAlreadyExists)

		svc := newTestService(store)
		_, err := svc.RegisterSubscriber(ctx, RegisterSubscriberInput{SubscriberID: "user-1", TierID: "free"})

		assert.True(t, shared.HasCode(err, "ALREADY_EXISTS"))
	})
}

func TestQuotaService_CheckAction(t *testing.T) {
	ctx := context.Background()

	t.Run("free tier first month photo allowance", func(t *testing.T) {
		r := record("user-1", quota.TierFree, testNow.AddDate(0, 0, -10))
		r.PhotoAnalysis = 4
		store := new(mockUsageStore)
		store.On("Get", ctx, "user-1").Return(r, nil)

		res, err := newTestService(store).CheckAction(ctx, "user-1", quota.ActionPhotoAnalysis)

		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.True(t, res.IsFirstMonth)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, 1, res.Remaining)
		assert.Nil(t, res.Error)
	})

	t.Run("free tier after first month", func(t *testing.T) {
		r := record("user-1", quota.TierFree, testNow.AddDate(0, -3, 0))
		r.PhotoAnalysis = 3
		store := new(mockUsageStore)
		store.On("Get", ctx, "user-1").Return(r, nil)

		res, err := newTestService(store).CheckAction(ctx, "user-1", quota.ActionPhotoAnalysis)

		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 3, res.Limit)
		assert.Zero(t, res.Remaining)
		require.NotNil(t, res.Error)
		assert.Equal(t, 429, res.Error.HTTPStatusCode())
	})

	t.Run("unknown tier fails closed", func(t *testing.T) {
		store := new(mockUsageStore)
		store.On("Get", ctx, "user-1").Return(record("user-1", "LEGACY", testNow), nil)

		res, err := newTestService(store).CheckAction(ctx, "user-1", quota.ActionTextQuery)

		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.True(t, res.UnknownTier)
		assert.Zero(t, res.Limit)
		assert.Zero(t, res.Remaining)
	})

	t.Run("missing subscriber", func(t *testing.T) {
		store := new(mockUsageStore)
		store.On("Get", ctx, "ghost").Return(nil, shared.ErrNotFound)

		_, err := newTestService(store).CheckAction(ctx, "ghost", quota.ActionTextQuery)

		assert.True(t, shared.HasCode(err, "NOT_FOUND"))
	})

	t.Run("invalid action", func(t *testing.T) {
		store := new(mockUsageStore)
		_, err := newTestService(store).CheckAction(ctx, "user-1", quota.ActionType("video"))

		assert.True(t, shared.HasCode(err, "INVALID_ACTION"))
		store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("corrupted counters are rejected", func(t *testing.T) {
		r := record("user-1", quota.TierPro, testNow)
		r.TextQueries = -5
		store := new(mockUsageStore)
		store.On("Get", ctx, "user-1").Return(r, nil)

		_, err := newTestService(store).CheckAction(ctx, "user-1", quota.ActionTextQuery)

		assert.ErrorIs(t, err, quota.ErrInvalidUsage)
	})
}

func TestQuotaService_TryConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("allowed consume reports new count", func(t *testing.T) {
		r := record("user-1", quota.TierPro, testNow.AddDate(0, -2, 0))
		r.TextQueries = 41
		store := new(mockUsageStore)
		store.On("Get", ctx, "user-1").Return(r, nil)
		store.On("TryConsume", ctx, "user-1", quota.ActionTextQuery, 100).
			Return(quota.ConsumeResult{Allowed: true, Used: 42}, nil)
		metrics := new(mockMetrics)
		metrics.On("RecordConsume", ctx, quota.ActionTextQuery, true).Return()

		res, err := newTestService(store, WithMetrics(metrics)).TryConsume(ctx, "user-1", quota.ActionTextQuery)

		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 42, res.Used)
		assert.Equal(t, 58, res.Remaining)
		store.AssertExpectations(t)
		metrics.AssertExpectations(t)
	})

	t.Run("denied consume carries quota error", func(t *testing.T) {
		r := record("user-1", quota.TierPro, testNow.AddDate(0, -2, 0))
		r.PhotoAnalysis = 20
		store := new(mockUsageStore)
		store.On("Get", ctx, "user-1").Return(r, nil)
		store.On("TryConsume", ctx, "user-1", quota.ActionPhotoAnalysis, 20).
			Return(quota.ConsumeResult{Allowed: false, Used: 20}, nil)

		res, err := newTestService(store).TryConsume(ctx, "user-1", quota.ActionPhotoAnalysis)

		require.NoError(t, err)
		assert.False(t, res.Allowed)
		require.NotNil(t, res.Error)
		assert.ErrorIs(t, res.Error, ErrQuotaExceeded)
		assert.Equal(t, 20, res.Error.Limit)
	})

	t.Run("unknown tier never reaches the store", func(t *testing.T) {
		store := new(mockUsageStore)
		store.On("Get", ctx, "user-1").Return(record("user-1", "LEGACY", testNow), nil)

		res, err := newTestService(store).TryConsume(ctx, "user-1", quota.ActionExplainer)

		require.NoError(t, err)
		assert.False(t, res.Allowed)
		store.AssertNotCalled(t, "TryConsume", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		store := new(mockUsageStore)
		store.On("Get", ctx, "user-1").Return(record("user-1", quota.TierTeam, testNow), nil)
		store.On("TryConsume", ctx, "user-1", quota.ActionExplainer, 250).
			Return(quota.ConsumeResult{}, errors.New("connection reset"))

		_, err := newTestService(store).TryConsume(ctx, "user-1", quota.ActionExplainer)

		assert.True(t, shared.HasCode(err, "INTERNAL_ERROR"))
	})
}

func TestQuotaService_GetUsageSummary(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	r := record("user-1", quota.TierPro, start)
	r.CycleStartedAt = time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC)
	r.TextQueries = 100
	r.PhotoAnalysis = 19

	store := new(mockUsageStore)
	store.On("Get", ctx, "user-1").Return(r, nil)

	summary, err := newTestService(store).GetUsageSummary(ctx, "user-1")

	require.NoError(t, err)
	assert.False(t, summary.IsFirstMonth)
	assert.Equal(t, RemainingDTO{TextQueries: 0, PhotoAnalysis: 1, ExplainerQueries: 50, PhotoLimit: 20}, summary.Remaining)
	assert.Equal(t, time.Date(2026, time.May, 15, 0, 0, 0, 0, time.UTC), summary.NextResetAt)
	assert.Equal(t, 25, summary.DaysUntilReset)
}

func TestQuotaService_GetUsageSummary_FollowsStoredCycle(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)
	now := quota.FixedClock{T: time.Date(2026, time.April, 10, 0, 0, 0, 0, time.UTC)}

	store := new(mockUsageStore)
	store.On("Get", ctx, "user-1").Return(record("user-1", quota.TierPro, start), nil)

	summary, err := newTestService(store, WithClock(now)).GetUsageSummary(ctx, "user-1")

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.April, 20, 0, 0, 0, 0, time.UTC), summary.NextResetAt)
	assert.Equal(t, 10, summary.DaysUntilReset)
	// the anchor-only clock counts to the month after now
	assert.Equal(t, 40, quota.NewResetClock(now).DaysUntilReset(start))
}

func TestQuotaService_ChangeTier(t *testing.T) {
	ctx := context.Background()

	t.Run("moves subscriber", func(t *testing.T) {
		store := new(mockUsageStore)
		store.On("UpdateTier", ctx, "user-1", quota.TierTeam).Return(nil)
		store.On("Get", ctx, "user-1").Return(record("user-1", quota.TierTeam, testNow), nil)

		summary, err := newTestService(store).ChangeTier(ctx, "user-1", "team")

		require.NoError(t, err)
		assert.Equal(t, 500, summary.Limits.TextQueries)
		store.AssertExpectations(t)
	})

	t.Run("unknown tier", func(t *testing.T) {
		store := new(mockUsageStore)
		_, err := newTestService(store).ChangeTier(ctx, "user-1", "platinum")

		assert.ErrorIs(t, err, quota.ErrUnknownTier)
		store.AssertNotCalled(t, "UpdateTier", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestQuotaService_RolloverDue(t *testing.T) {
	ctx := context.Background()

	due := record("due", quota.TierFree, time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC))
	current := record("current", quota.TierPro, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC))
	stale := record("stale", quota.TierPro, time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC))
	broken := record("broken", quota.TierPro, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	raced := record("raced", quota.TierTeam, time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC))

	store := new(mockUsageStore)
	store.On("List", ctx).Return([]*quota.UsageRecord{due, current, stale, broken, raced}, nil)
	store.On("ResetCycle", ctx, "due", due.CycleStartedAt, time.Date(2026, time.April, 20, 0, 0, 0, 0, time.UTC)).Return(true, nil)
	store.On("ResetCycle", ctx, "stale", stale.CycleStartedAt, time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)).Return(true, nil)
	store.On("ResetCycle", ctx, "broken", broken.CycleStartedAt, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)).Return(false, errors.New("boom"))
	store.On("ResetCycle", ctx, "raced", raced.CycleStartedAt, time.Date(2026, time.April, 5, 0, 0, 0, 0, time.UTC)).Return(false, nil)

	metrics := new(mockMetrics)
	metrics.On("RecordRollover", ctx, 2).Return()

	n, err := newTestService(store, WithMetrics(metrics)).RolloverDue(ctx)

	assert.Equal(t, 2, n)
	assert.Error(t, err)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "ResetCycle", ctx, "current", mock.Anything, mock.Anything)
	metrics.AssertExpectations(t)
}

// listedStore serves a List captured earlier, as another instance would
// see it, while writes go to the shared store.
type listedStore struct {
	quota.UsageStore
	listed []*quota.UsageRecord
}

func (s *listedStore) List(context.Context) ([]*quota.UsageRecord, error) {
	return s.listed, nil
}

func TestQuotaService_RolloverDue_ConcurrentInstances(t *testing.T) {
	ctx := context.Background()
	usage := cache.NewInMemoryUsageStore()
	require.NoError(t, usage.Create(ctx, record("pro-1", quota.TierPro, time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC))))
	for i := 0; i < 100; i++ {
		res, err := usage.TryConsume(ctx, "pro-1", quota.ActionTextQuery, 100)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	listedEarlier, err := usage.List(ctx)
	require.NoError(t, err)

	first := newTestService(usage)
	n, err := first.RolloverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	result, err := first.TryConsume(ctx, "pro-1", quota.ActionTextQuery)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	second := newTestService(&listedStore{UsageStore: usage, listed: listedEarlier})
	n, err = second.RolloverDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := usage.Get(ctx, "pro-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TextQueries)
	assert.True(t, got.CycleStartedAt.Equal(time.Date(2026, time.April, 20, 0, 0, 0, 0, time.UTC)))
}
