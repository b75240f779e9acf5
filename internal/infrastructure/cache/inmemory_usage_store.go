package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/larklabs/backend/internal/domain/shared"
)

// InMemoryUsageStore implements quota.UsageStore using an in-memory map.
// Usage is lost on restart and not shared between instances, so it only
// suits tests, the CLI and single-instance development.
type InMemoryUsageStore struct {
	mu      sync.Mutex
	records map[string]quota.UsageRecord
	now     func() time.Time
}

// NewInMemoryUsageStore creates an empty in-memory store
func NewInMemoryUsageStore() *InMemoryUsageStore {
	return &InMemoryUsageStore{
		records: make(map[string]quota.UsageRecord),
		now:     time.Now,
	}
}

// Create stores a copy of record
func (s *InMemoryUsageStore) Create(ctx context.Context, record *quota.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.SubscriberID]; ok {
		return shared.ErrAlreadyExists
	}
	s.records[record.SubscriberID] = *record
	return nil
}

// Get returns a copy of the stored record
func (s *InMemoryUsageStore) Get(ctx context.Context, subscriberID string) (*quota.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[subscriberID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &r, nil
}

// TryConsume checks and increments under the store lock
func (s *InMemoryUsageStore) TryConsume(ctx context.Context, subscriberID string, action quota.ActionType, limit int) (quota.ConsumeResult, error) {
	if !action.IsValid() {
		return quota.ConsumeResult{}, fmt.Errorf("no counter for action %q", action)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[subscriberID]
	if !ok {
		return quota.ConsumeResult{}, shared.ErrNotFound
	}
	used := r.Count(action)
	if used >= limit {
		return quota.ConsumeResult{Allowed: false, Used: used}, nil
	}
	r.Increment(action)
	r.UpdatedAt = s.now()
	s.records[subscriberID] = r
	return quota.ConsumeResult{Allowed: true, Used: r.Count(action)}, nil
}

// UpdateTier points the record at another tier
func (s *InMemoryUsageStore) UpdateTier(ctx context.Context, subscriberID, tierID string) error {
	return s.modify(subscriberID, func(r *quota.UsageRecord) {
		r.TierID = tierID
	})
}

// ResetCycle starts the next cycle when the stored one is still expected
func (s *InMemoryUsageStore) ResetCycle(ctx context.Context, subscriberID string, expected, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[subscriberID]
	if !ok {
		return false, shared.ErrNotFound
	}
	if !r.CycleStartedAt.Equal(expected) {
		return false, nil
	}
	r.ResetCycle(next)
	r.UpdatedAt = s.now()
	s.records[subscriberID] = r
	return true, nil
}

func (s *InMemoryUsageStore) modify(subscriberID string, fn func(*quota.UsageRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[subscriberID]
	if !ok {
		return shared.ErrNotFound
	}
	fn(&r)
	r.UpdatedAt = s.now()
	s.records[subscriberID] = r
	return nil
}

// List returns copies of all records ordered by subscriber id
func (s *InMemoryUsageStore) List(ctx context.Context) ([]*quota.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*quota.UsageRecord, 0, len(s.records))
	for _, r := range s.records {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberID < out[j].SubscriberID })
	return out, nil
}

// Len returns the number of stored records
func (s *InMemoryUsageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var _ quota.UsageStore = (*InMemoryUsageStore)(nil)
