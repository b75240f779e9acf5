package quota

import "github.com/shopspring/decimal"

// Built-in tier identifiers
const (
	TierFree = "FREE"
	TierPro  = "PRO"
	TierTeam = "TEAM"
)

// DefaultTiers returns the built-in tier catalogue
func DefaultTiers() []Tier {
	return []Tier{
		{
			ID:           TierFree,
			Name:         "Free",
			MonthlyPrice: decimal.Zero,
			Limits: Limits{
				TextQueries:      10,
				PhotoAnalysis:    TieredPhotoLimit(5, 3),
				ExplainerQueries: 5,
			},
			MaxUsers: 1,
		},
		{
			ID:           TierPro,
			Name:         "Pro",
			MonthlyPrice: decimal.RequireFromString("9.99"),
			Limits: Limits{
				TextQueries:      100,
				PhotoAnalysis:    FlatPhotoLimit(20),
				ExplainerQueries: 50,
			},
			MaxUsers: 1,
		},
		{
			ID:           TierTeam,
			Name:         "Team",
			MonthlyPrice: decimal.RequireFromString("49.99"),
			Limits: Limits{
				TextQueries:      500,
				PhotoAnalysis:    FlatPhotoLimit(100),
				ExplainerQueries: 250,
			},
			MaxUsers:   10,
			SharedPool: true,
		},
	}
}

// DefaultRegistry returns a registry over DefaultTiers
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultTiers()...)
	if err != nil {
		panic("quota: invalid default tiers: " + err.Error())
	}
	return r
}
