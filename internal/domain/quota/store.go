package quota

import (
	"context"
	"time"
)

// ConsumeResult is the outcome of an atomic check-and-increment
type ConsumeResult struct {
	// Allowed is true when the counter was below the limit and was incremented
	Allowed bool
	// Used is the counter value after the operation
	Used int
}

// UsageStore persists usage records.
//
// TryConsume must check and increment in one atomic step: two concurrent
// calls for the last unit of quota must not both succeed.
type UsageStore interface {
	// Create stores a new record, shared.ErrAlreadyExists if one exists
	Create(ctx context.Context, record *UsageRecord) error

	// Get returns the record, shared.ErrNotFound if missing
	Get(ctx context.Context, subscriberID string) (*UsageRecord, error)

	// TryConsume increments the counter of action when it is below limit
	TryConsume(ctx context.Context, subscriberID string, action ActionType, limit int) (ConsumeResult, error)

	// UpdateTier points the record at another tier
	UpdateTier(ctx context.Context, subscriberID, tierID string) error

	// ResetCycle zeroes all counters and moves the cycle start from expected
	// to next. It reports false and writes nothing when the stored cycle
	// start is no longer expected, i.e. another process already rolled over.
	ResetCycle(ctx context.Context, subscriberID string, expected, next time.Time) (bool, error)

	// List returns all records ordered by subscriber id
	List(ctx context.Context) ([]*UsageRecord, error)
}
