package quota

import (
	"fmt"
	"sort"
	"strings"

	"github.com/larklabs/backend/internal/domain/shared"
)

// NormalizeTierID canonicalizes a tier identifier
func NormalizeTierID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// TierLookup is the outcome of resolving a tier identifier. A lookup that
// did not find a tier carries no limits and must be treated as deny-all.
type TierLookup struct {
	tier  Tier
	found bool
}

// Found returns true if the identifier resolved to a tier
func (l TierLookup) Found() bool {
	return l.found
}

// Tier returns the resolved tier and whether it was found
func (l TierLookup) Tier() (Tier, bool) {
	return l.tier, l.found
}

// Registry is the immutable catalogue of tiers. It is safe for concurrent
// use once constructed.
type Registry struct {
	byID    map[string]Tier
	ordered []Tier
}

// NewRegistry builds a registry from tier definitions.
// Identifiers are normalized and must be unique.
func NewRegistry(tiers ...Tier) (*Registry, error) {
	if len(tiers) == 0 {
		return nil, shared.NewDomainError("INVALID_TIER", "registry needs at least one tier")
	}
	r := &Registry{byID: make(map[string]Tier, len(tiers))}
	for _, t := range tiers {
		t.ID = NormalizeTierID(t.ID)
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, shared.NewDomainError("INVALID_TIER", fmt.Sprintf("duplicate tier id %s", t.ID))
		}
		r.byID[t.ID] = t
		r.ordered = append(r.ordered, t)
	}
	sort.SliceStable(r.ordered, func(i, j int) bool {
		if c := r.ordered[i].MonthlyPrice.Cmp(r.ordered[j].MonthlyPrice); c != 0 {
			return c < 0
		}
		return r.ordered[i].ID < r.ordered[j].ID
	})
	return r, nil
}

// Lookup resolves a tier identifier
func (r *Registry) Lookup(id string) TierLookup {
	if r == nil {
		return TierLookup{}
	}
	t, ok := r.byID[NormalizeTierID(id)]
	return TierLookup{tier: t, found: ok}
}

// GetTier returns the tier or an *UnknownTierError
func (r *Registry) GetTier(id string) (Tier, error) {
	t, ok := r.Lookup(id).Tier()
	if !ok {
		return Tier{}, &UnknownTierError{TierID: id}
	}
	return t, nil
}

// Has returns true if id names a registered tier
func (r *Registry) Has(id string) bool {
	return r.Lookup(id).Found()
}

// Tiers returns all tiers ordered by monthly price, then id
func (r *Registry) Tiers() []Tier {
	if r == nil {
		return nil
	}
	out := make([]Tier, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered tiers
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ordered)
}
