package quota

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	require.Equal(t, 3, r.Len())

	ids := []string{}
	for _, tier := range r.Tiers() {
		ids = append(ids, tier.ID)
	}
	assert.Equal(t, []string{TierFree, TierPro, TierTeam}, ids)

	team, err := r.GetTier("team")
	require.NoError(t, err)
	assert.True(t, team.SharedPool)
	assert.Equal(t, 10, team.MaxUsers)
	assert.True(t, team.MonthlyPrice.Equal(decimal.RequireFromString("49.99")))
}

func TestRegistry_Lookup(t *testing.T) {
	r := DefaultRegistry()

	t.Run("case insensitive", func(t *testing.T) {
		for _, id := range []string{"pro", "PRO", " Pro "} {
			tier, ok := r.Lookup(id).Tier()
			require.True(t, ok, id)
			assert.Equal(t, TierPro, tier.ID)
		}
	})

	t.Run("unknown tier is not found", func(t *testing.T) {
		l := r.Lookup("ENTERPRISE")
		assert.False(t, l.Found())

		_, err := r.GetTier("ENTERPRISE")
		var ute *UnknownTierError
		require.True(t, errors.As(err, &ute))
		assert.Equal(t, "ENTERPRISE", ute.TierID)
		assert.ErrorIs(t, err, ErrUnknownTier)
	})

	t.Run("nil registry finds nothing", func(t *testing.T) {
		var nilReg *Registry
		assert.False(t, nilReg.Lookup(TierFree).Found())
		assert.Zero(t, nilReg.Len())
	})
}

func TestNewRegistry_Validation(t *testing.T) {
	base := func() Tier {
		return Tier{
			ID:           "basic",
			Name:         "Basic",
			MonthlyPrice: decimal.NewFromInt(5),
			Limits:       Limits{TextQueries: 1, PhotoAnalysis: FlatPhotoLimit(1), ExplainerQueries: 1},
			MaxUsers:     1,
		}
	}

	t.Run("normalizes ids", func(t *testing.T) {
		r, err := NewRegistry(base())
		require.NoError(t, err)
		assert.True(t, r.Has("BASIC"))
	})

	t.Run("rejects duplicates after normalization", func(t *testing.T) {
		dup := base()
		dup.ID = " BASIC"
		_, err := NewRegistry(base(), dup)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("rejects negative limits", func(t *testing.T) {
		bad := base()
		bad.Limits.TextQueries = -1
		_, err := NewRegistry(bad)
		assert.Error(t, err)
	})

	t.Run("rejects negative tiered photo limit", func(t *testing.T) {
		bad := base()
		bad.Limits.PhotoAnalysis = TieredPhotoLimit(-1, 3)
		_, err := NewRegistry(bad)
		assert.Error(t, err)
	})

	t.Run("rejects negative price", func(t *testing.T) {
		bad := base()
		bad.MonthlyPrice = decimal.NewFromInt(-1)
		_, err := NewRegistry(bad)
		assert.Error(t, err)
	})

	t.Run("rejects empty registry", func(t *testing.T) {
		_, err := NewRegistry()
		assert.Error(t, err)
	})
}
