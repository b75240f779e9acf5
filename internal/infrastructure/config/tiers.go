package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/shopspring/decimal"
)

var tierValidator = validator.New(validator.WithRequiredStructEnabled())

// TierConfig is one [[tiers]] table of config.toml.
//
// The photo allowance is either photo_analysis (flat) or the pair
// photo_first_month / photo_recurring (tiered), never both.
type TierConfig struct {
	ID               string `mapstructure:"id" validate:"required,max=32"`
	Name             string `mapstructure:"name" validate:"required"`
	MonthlyPrice     string `mapstructure:"monthly_price" validate:"numeric"`
	TextQueries      int    `mapstructure:"text_queries" validate:"gte=0"`
	PhotoAnalysis    *int   `mapstructure:"photo_analysis" validate:"omitempty,gte=0"`
	PhotoFirstMonth  *int   `mapstructure:"photo_first_month" validate:"omitempty,gte=0"`
	PhotoRecurring   *int   `mapstructure:"photo_recurring" validate:"omitempty,gte=0"`
	ExplainerQueries int    `mapstructure:"explainer_queries" validate:"gte=0"`
	MaxUsers         int    `mapstructure:"max_users" validate:"gte=1"`
	SharedPool       bool   `mapstructure:"shared_pool"`
}

func (t *TierConfig) validate() error {
	if err := tierValidator.Struct(t); err != nil {
		return err
	}
	tiered := t.PhotoFirstMonth != nil || t.PhotoRecurring != nil
	switch {
	case tiered && (t.PhotoFirstMonth == nil || t.PhotoRecurring == nil):
		return fmt.Errorf("tier %s: photo_first_month and photo_recurring must be set together", t.ID)
	case tiered && t.PhotoAnalysis != nil:
		return fmt.Errorf("tier %s: photo_analysis cannot be combined with photo_first_month/photo_recurring", t.ID)
	case !tiered && t.PhotoAnalysis == nil:
		return fmt.Errorf("tier %s: a photo allowance is required", t.ID)
	}
	return nil
}

// ToTier converts the table into a domain tier
func (t *TierConfig) ToTier() (quota.Tier, error) {
	price, err := decimal.NewFromString(t.MonthlyPrice)
	if err != nil {
		return quota.Tier{}, fmt.Errorf("tier %s: invalid monthly_price: %w", t.ID, err)
	}

	photo := quota.PhotoLimit{}
	if t.PhotoFirstMonth != nil && t.PhotoRecurring != nil {
		photo = quota.TieredPhotoLimit(*t.PhotoFirstMonth, *t.PhotoRecurring)
	} else if t.PhotoAnalysis != nil {
		photo = quota.FlatPhotoLimit(*t.PhotoAnalysis)
	}

	return quota.Tier{
		ID:           t.ID,
		Name:         t.Name,
		MonthlyPrice: price,
		Limits: quota.Limits{
			TextQueries:      t.TextQueries,
			PhotoAnalysis:    photo,
			ExplainerQueries: t.ExplainerQueries,
		},
		MaxUsers:   t.MaxUsers,
		SharedPool: t.SharedPool,
	}, nil
}

// TierRegistry builds the tier registry. Without any [[tiers]] tables the
// built-in catalogue is used.
func (c *Config) TierRegistry() (*quota.Registry, error) {
	if len(c.Tiers) == 0 {
		return quota.DefaultRegistry(), nil
	}
	tiers := make([]quota.Tier, 0, len(c.Tiers))
	for i := range c.Tiers {
		t, err := c.Tiers[i].ToTier()
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return quota.NewRegistry(tiers...)
}
