package quota

import (
	"strings"
	"time"
)

// MaxSubscriberIDLength bounds subscriber identifiers
const MaxSubscriberIDLength = 128

// Usage is a point-in-time snapshot of a subscriber's consumption in the
// current cycle
type Usage struct {
	TextQueries      int
	PhotoAnalysis    int
	ExplainerQueries int
	IsFirstMonth     bool
}

// Count returns the consumption recorded for action
func (u Usage) Count(action ActionType) int {
	switch action {
	case ActionTextQuery:
		return u.TextQueries
	case ActionPhotoAnalysis:
		return u.PhotoAnalysis
	case ActionExplainer:
		return u.ExplainerQueries
	}
	return 0
}

// UsageRecord is the persisted usage state of one subscriber
type UsageRecord struct {
	SubscriberID          string
	TierID                string
	TextQueries           int
	PhotoAnalysis         int
	ExplainerQueries      int
	SubscriptionStartDate time.Time
	CycleStartedAt        time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewUsageRecord creates an empty usage record whose first cycle starts at
// the subscription start date
func NewUsageRecord(subscriberID, tierID string, subscriptionStart time.Time) (*UsageRecord, error) {
	now := time.Now()
	r := &UsageRecord{
		SubscriberID:          strings.TrimSpace(subscriberID),
		TierID:                NormalizeTierID(tierID),
		SubscriptionStartDate: subscriptionStart,
		CycleStartedAt:        subscriptionStart,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks identifiers, counters and dates
func (r *UsageRecord) Validate() error {
	switch {
	case r.SubscriberID == "":
		return &InvalidUsageError{Field: "subscriber_id", Reason: "cannot be empty"}
	case len(r.SubscriberID) > MaxSubscriberIDLength:
		return &InvalidUsageError{Field: "subscriber_id", Reason: "is too long"}
	case r.TierID == "":
		return &InvalidUsageError{Field: "tier_id", Reason: "cannot be empty"}
	case r.TextQueries < 0:
		return &InvalidUsageError{Field: "text_queries", Reason: "cannot be negative"}
	case r.PhotoAnalysis < 0:
		return &InvalidUsageError{Field: "photo_analysis", Reason: "cannot be negative"}
	case r.ExplainerQueries < 0:
		return &InvalidUsageError{Field: "explainer_queries", Reason: "cannot be negative"}
	case r.SubscriptionStartDate.IsZero():
		return &InvalidUsageError{Field: "subscription_start_date", Reason: "is required"}
	case r.CycleStartedAt.Before(r.SubscriptionStartDate):
		return &InvalidUsageError{Field: "cycle_started_at", Reason: "precedes the subscription start"}
	}
	return nil
}

// Count returns the consumption recorded for action
func (r *UsageRecord) Count(action ActionType) int {
	return r.Usage(false).Count(action)
}

// Usage returns a snapshot of the counters
func (r *UsageRecord) Usage(isFirstMonth bool) Usage {
	return Usage{
		TextQueries:      r.TextQueries,
		PhotoAnalysis:    r.PhotoAnalysis,
		ExplainerQueries: r.ExplainerQueries,
		IsFirstMonth:     isFirstMonth,
	}
}

// Increment adds one to the counter of action
func (r *UsageRecord) Increment(action ActionType) {
	switch action {
	case ActionTextQuery:
		r.TextQueries++
	case ActionPhotoAnalysis:
		r.PhotoAnalysis++
	case ActionExplainer:
		r.ExplainerQueries++
	}
}

// ResetCycle zeroes all counters and starts a new cycle at cycleStart
func (r *UsageRecord) ResetCycle(cycleStart time.Time) {
	r.TextQueries = 0
	r.PhotoAnalysis = 0
	r.ExplainerQueries = 0
	r.CycleStartedAt = cycleStart
}
