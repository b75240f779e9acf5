package quota

import (
	"fmt"

	"github.com/larklabs/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Limits holds the per-cycle allowance of each metered action
type Limits struct {
	TextQueries      int
	PhotoAnalysis    PhotoLimit
	ExplainerQueries int
}

// Tier is a named subscription plan
type Tier struct {
	ID           string
	Name         string
	MonthlyPrice decimal.Decimal
	Limits       Limits
	MaxUsers     int
	SharedPool   bool
}

// Remaining is the quota left per action for one usage snapshot.
// PhotoLimit is the photo allowance that applied to the snapshot.
type Remaining struct {
	TextQueries      int
	PhotoAnalysis    int
	ExplainerQueries int
	PhotoLimit       int
}

// IsFree returns true if the tier costs nothing
func (t Tier) IsFree() bool {
	return t.MonthlyPrice.IsZero()
}

// LimitFor returns the allowance of action for the given first-month flag.
// Unknown actions get a zero allowance.
func (t Tier) LimitFor(action ActionType, isFirstMonth bool) int {
	switch action {
	case ActionTextQuery:
		return t.Limits.TextQueries
	case ActionPhotoAnalysis:
		return t.Limits.PhotoAnalysis.For(isFirstMonth)
	case ActionExplainer:
		return t.Limits.ExplainerQueries
	}
	return 0
}

// HasExceeded returns true once usage has reached the limit of action.
// Reaching the limit exactly counts as exceeded.
func (t Tier) HasExceeded(usage Usage, action ActionType) bool {
	return usage.Count(action) >= t.LimitFor(action, usage.IsFirstMonth)
}

// Remaining returns the quota left per action, never below zero
func (t Tier) Remaining(usage Usage) Remaining {
	photoLimit := t.Limits.PhotoAnalysis.For(usage.IsFirstMonth)
	return Remaining{
		TextQueries:      remaining(t.Limits.TextQueries, usage.TextQueries),
		PhotoAnalysis:    remaining(photoLimit, usage.PhotoAnalysis),
		ExplainerQueries: remaining(t.Limits.ExplainerQueries, usage.ExplainerQueries),
		PhotoLimit:       photoLimit,
	}
}

// Validate checks the tier definition
func (t Tier) Validate() error {
	if t.ID == "" {
		return shared.NewDomainError("INVALID_TIER", "tier id cannot be empty")
	}
	if t.Name == "" {
		return shared.NewDomainError("INVALID_TIER", fmt.Sprintf("tier %s: name cannot be empty", t.ID))
	}
	if t.MonthlyPrice.IsNegative() {
		return shared.NewDomainError("INVALID_TIER", fmt.Sprintf("tier %s: monthly price cannot be negative", t.ID))
	}
	if t.Limits.TextQueries < 0 || t.Limits.ExplainerQueries < 0 {
		return shared.NewDomainError("INVALID_TIER", fmt.Sprintf("tier %s: limits cannot be negative", t.ID))
	}
	if err := t.Limits.PhotoAnalysis.validate(); err != nil {
		return shared.NewDomainError("INVALID_TIER", fmt.Sprintf("tier %s: %s", t.ID, err.Error()))
	}
	if t.MaxUsers < 1 {
		return shared.NewDomainError("INVALID_TIER", fmt.Sprintf("tier %s: max users must be at least 1", t.ID))
	}
	return nil
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

// For returns the remaining quota of action
func (r Remaining) For(action ActionType) int {
	switch action {
	case ActionTextQuery:
		return r.TextQueries
	case ActionPhotoAnalysis:
		return r.PhotoAnalysis
	case ActionExplainer:
		return r.ExplainerQueries
	}
	return 0
}
