package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/larklabs/backend/internal/domain/shared"
	"github.com/larklabs/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

// Hash fields of a usage record
const (
	fieldTierID       = "tier_id"
	fieldSubStart     = "subscription_start"
	fieldCycleStarted = "cycle_started_at"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
)

// Each record is one hash; the subscriber index set lets List avoid SCAN.
var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
redis.call('SADD', KEYS[2], KEYS[3])
return 1
`)

	// KEYS[1] record, ARGV[1] counter field, ARGV[2] limit, ARGV[3] updated_at.
	// Returns {allowed, used}; allowed is -1 when the record does not exist.
	consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1, 0}
end
local used = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if used >= tonumber(ARGV[2]) then
  return {0, used}
end
used = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
return {1, used}
`)

	// KEYS[1] record, ARGV[1] expected cycle start, ARGV[2] next cycle start,
	// ARGV[3] updated_at. Returns -1 missing, 0 stale, 1 reset.
	resetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'cycle_started_at') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'text_query', 0, 'photo_analysis', 0, 'explainer', 0,
  'cycle_started_at', ARGV[2], 'updated_at', ARGV[3])
return 1
`)

	updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)
)

// RedisUsageStore implements quota.UsageStore on Redis. Check-and-increment
// runs as a Lua script so it is atomic across service instances.
type RedisUsageStore struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisUsageStore connects to Redis and verifies the connection
func NewRedisUsageStore(cfg config.RedisConfig) (*RedisUsageStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisUsageStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisUsageStoreWithClient creates a store with an existing Redis client
func NewRedisUsageStoreWithClient(client *redis.Client, keyPrefix string) *RedisUsageStore {
	if keyPrefix == "" {
		keyPrefix = "lark:usage:"
	}
	return &RedisUsageStore{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (s *RedisUsageStore) key(subscriberID string) string {
	return s.keyPrefix + "sub:" + subscriberID
}

func (s *RedisUsageStore) indexKey() string {
	return s.keyPrefix + "subscribers"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Create stores a new record
func (s *RedisUsageStore) Create(ctx context.Context, record *quota.UsageRecord) error {
	args := []any{
		fieldTierID, record.TierID,
		string(quota.ActionTextQuery), record.TextQueries,
		string(quota.ActionPhotoAnalysis), record.PhotoAnalysis,
		string(quota.ActionExplainer), record.ExplainerQueries,
		fieldSubStart, formatTime(record.SubscriptionStartDate),
		fieldCycleStarted, formatTime(record.CycleStartedAt),
		fieldCreatedAt, formatTime(record.CreatedAt),
		fieldUpdatedAt, formatTime(record.UpdatedAt),
	}
	keys := []string{s.key(record.SubscriberID), s.indexKey(), record.SubscriberID}

	created, err := createScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	if created == 0 {
		return shared.ErrAlreadyExists
	}
	return nil
}

// Get loads a record
func (s *RedisUsageStore) Get(ctx context.Context, subscriberID string) (*quota.UsageRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(subscriberID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load usage record: %w", err)
	}
	if len(fields) == 0 {
		return nil, shared.ErrNotFound
	}
	return decodeRecord(subscriberID, fields)
}

// TryConsume checks and increments atomically inside Redis
func (s *RedisUsageStore) TryConsume(ctx context.Context, subscriberID string, action quota.ActionType, limit int) (quota.ConsumeResult, error) {
	if !action.IsValid() {
		return quota.ConsumeResult{}, fmt.Errorf("no counter for action %q", action)
	}

	out, err := consumeScript.Run(ctx, s.client,
		[]string{s.key(subscriberID)},
		string(action), limit, formatTime(s.now()),
	).Int64Slice()
	if err != nil {
		return quota.ConsumeResult{}, fmt.Errorf("failed to consume quota: %w", err)
	}
	if len(out) != 2 {
		return quota.ConsumeResult{}, fmt.Errorf("unexpected consume reply %v", out)
	}
	if out[0] < 0 {
		return quota.ConsumeResult{}, shared.ErrNotFound
	}
	return quota.ConsumeResult{Allowed: out[0] == 1, Used: int(out[1])}, nil
}

// UpdateTier points the record at another tier
func (s *RedisUsageStore) UpdateTier(ctx context.Context, subscriberID, tierID string) error {
	return s.update(ctx, subscriberID,
		fieldTierID, tierID,
		fieldUpdatedAt, formatTime(s.now()),
	)
}

// ResetCycle compares the stored cycle start with expected and starts the
// next cycle inside one script
func (s *RedisUsageStore) ResetCycle(ctx context.Context, subscriberID string, expected, next time.Time) (bool, error) {
	out, err := resetScript.Run(ctx, s.client,
		[]string{s.key(subscriberID)},
		formatTime(expected), formatTime(next), formatTime(s.now()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to reset usage cycle: %w", err)
	}
	if out < 0 {
		return false, shared.ErrNotFound
	}
	return out == 1, nil
}

func (s *RedisUsageStore) update(ctx context.Context, subscriberID string, args ...any) error {
	ok, err := updateScript.Run(ctx, s.client, []string{s.key(subscriberID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to update usage record: %w", err)
	}
	if ok == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// List returns all indexed records ordered by subscriber id
func (s *RedisUsageStore) List(ctx context.Context) ([]*quota.UsageRecord, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	sort.Strings(ids)

	records := make([]*quota.UsageRecord, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Ping checks the Redis connection
func (s *RedisUsageStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisUsageStore) Close() error {
	return s.client.Close()
}

func decodeRecord(subscriberID string, f map[string]string) (*quota.UsageRecord, error) {
	r := &quota.UsageRecord{SubscriberID: subscriberID, TierID: f[fieldTierID]}

	var err error
	ints := []struct {
		field string
		dst   *int
	}{
		{string(quota.ActionTextQuery), &r.TextQueries},
		{string(quota.ActionPhotoAnalysis), &r.PhotoAnalysis},
		{string(quota.ActionExplainer), &r.ExplainerQueries},
	}
	for _, i := range ints {
		if *i.dst, err = strconv.Atoi(f[i.field]); err != nil {
			return nil, fmt.Errorf("decode %s of %s: %w", i.field, subscriberID, err)
		}
	}

	times := []struct {
		field string
		dst   *time.Time
	}{
		{fieldSubStart, &r.SubscriptionStartDate},
		{fieldCycleStarted, &r.CycleStartedAt},
		{fieldCreatedAt, &r.CreatedAt},
		{fieldUpdatedAt, &r.UpdatedAt},
	}
	for _, t := range times {
		if *t.dst, err = time.Parse(time.RFC3339Nano, f[t.field]); err != nil {
			return nil, fmt.Errorf("decode %s of %s: %w", t.field, subscriberID, err)
		}
	}
	return r, nil
}

var _ quota.UsageStore = (*RedisUsageStore)(nil)
