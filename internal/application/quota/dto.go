package quota

import (
	"time"

	"github.com/larklabs/backend/internal/domain/quota"
)

// RegisterSubscriberInput contains input for registering a subscriber
type RegisterSubscriberInput struct {
	SubscriberID string
	TierID       string
	// SubscriptionStartDate defaults to now when nil
	SubscriptionStartDate *time.Time
}

// QuotaCheckResult contains the result of a quota check or consume
type QuotaCheckResult struct {
	SubscriberID string              `json:"subscriber_id"`
	TierID       string              `json:"tier_id"`
	Action       quota.ActionType    `json:"action"`
	Allowed      bool                `json:"allowed"`
	Used         int                 `json:"used"`
	Limit        int                 `json:"limit"`
	Remaining    int                 `json:"remaining"`
	IsFirstMonth bool                `json:"is_first_month"`
	UnknownTier  bool                `json:"unknown_tier,omitempty"`
	Error        *QuotaExceededError `json:"-"`
}

// UsageCountsDTO holds one number per metered action
type UsageCountsDTO struct {
	TextQueries      int `json:"text_queries"`
	PhotoAnalysis    int `json:"photo_analysis"`
	ExplainerQueries int `json:"explainer_queries"`
}

// RemainingDTO is the quota left per action plus the photo limit that applied
type RemainingDTO struct {
	TextQueries      int `json:"text_queries"`
	PhotoAnalysis    int `json:"photo_analysis"`
	ExplainerQueries int `json:"explainer_queries"`
	PhotoLimit       int `json:"photo_limit"`
}

// UsageSummaryDTO contains the usage summary of a subscriber.
//
// NextResetAt and DaysUntilReset follow the stored cycle: the reset is the
// billing date after CycleStartedAt, the same date the rollover job acts on.
// This differs from ResetClock.DaysUntilReset, which always counts to the
// anchor day in the month after now. When today's day of month is before
// the anchor day the stored cycle resets this month while ResetClock
// reports next month; e.g. anchor the 20th, now April 10: the summary says
// April 20 (10 days), ResetClock says May 20 (40 days).
type UsageSummaryDTO struct {
	SubscriberID          string         `json:"subscriber_id"`
	TierID                string         `json:"tier_id"`
	TierName              string         `json:"tier_name,omitempty"`
	UnknownTier           bool           `json:"unknown_tier,omitempty"`
	IsFirstMonth          bool           `json:"is_first_month"`
	Usage                 UsageCountsDTO `json:"usage"`
	Limits                UsageCountsDTO `json:"limits"`
	Remaining             RemainingDTO   `json:"remaining"`
	SubscriptionStartDate time.Time      `json:"subscription_start_date"`
	CycleStartedAt        time.Time      `json:"cycle_started_at"`
	NextResetAt           time.Time      `json:"next_reset_at"`
	DaysUntilReset        int            `json:"days_until_reset"`
}

// TierDTO describes a tier for API consumers
type TierDTO struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	MonthlyPrice string        `json:"monthly_price"`
	Limits       TierLimitsDTO `json:"limits"`
	MaxUsers     int           `json:"max_users"`
	SharedPool   bool          `json:"shared_pool"`
}

// TierLimitsDTO mirrors quota.Limits. PhotoAnalysis is a number for flat
// limits and {firstMonth, recurring} for tiered ones.
type TierLimitsDTO struct {
	TextQueries      int              `json:"text_queries"`
	PhotoAnalysis    quota.PhotoLimit `json:"photo_analysis"`
	ExplainerQueries int              `json:"explainer_queries"`
}

// ToTierDTO converts a domain tier
func ToTierDTO(t quota.Tier) TierDTO {
	return TierDTO{
		ID:           t.ID,
		Name:         t.Name,
		MonthlyPrice: t.MonthlyPrice.StringFixed(2),
		Limits: TierLimitsDTO{
			TextQueries:      t.Limits.TextQueries,
			PhotoAnalysis:    t.Limits.PhotoAnalysis,
			ExplainerQueries: t.Limits.ExplainerQueries,
		},
		MaxUsers:   t.MaxUsers,
		SharedPool: t.SharedPool,
	}
}
