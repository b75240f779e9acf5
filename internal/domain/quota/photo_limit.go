package quota

import (
	"encoding/json"
	"fmt"

	"github.com/larklabs/backend/internal/domain/shared"
)

// PhotoLimitKind distinguishes the two shapes a photo allowance can take
type PhotoLimitKind int

const (
	// PhotoLimitFlat applies the same allowance every cycle
	PhotoLimitFlat PhotoLimitKind = iota + 1

	// PhotoLimitTiered grants a larger allowance in the first month
	PhotoLimitTiered
)

// String returns the string representation of PhotoLimitKind
func (k PhotoLimitKind) String() string {
	switch k {
	case PhotoLimitFlat:
		return "flat"
	case PhotoLimitTiered:
		return "tiered"
	default:
		return "unset"
	}
}

// PhotoLimit is the photo analysis allowance of a tier.
// The zero value grants nothing.
type PhotoLimit struct {
	kind       PhotoLimitKind
	flat       int
	firstMonth int
	recurring  int
}

// FlatPhotoLimit returns an allowance of n photos per cycle
func FlatPhotoLimit(n int) PhotoLimit {
	return PhotoLimit{kind: PhotoLimitFlat, flat: n}
}

// TieredPhotoLimit returns an allowance of firstMonth photos during the
// first month of a subscription and recurring photos afterwards
func TieredPhotoLimit(firstMonth, recurring int) PhotoLimit {
	return PhotoLimit{kind: PhotoLimitTiered, firstMonth: firstMonth, recurring: recurring}
}

// Kind returns the shape of the allowance
func (p PhotoLimit) Kind() PhotoLimitKind {
	return p.kind
}

// IsTiered returns true if the allowance depends on the first-month flag
func (p PhotoLimit) IsTiered() bool {
	return p.kind == PhotoLimitTiered
}

// FirstMonth returns the first-month allowance. For a flat limit this is
// the flat value.
func (p PhotoLimit) FirstMonth() int {
	return p.For(true)
}

// Recurring returns the allowance after the first month
func (p PhotoLimit) Recurring() int {
	return p.For(false)
}

// For resolves the allowance for the given first-month flag
func (p PhotoLimit) For(isFirstMonth bool) int {
	switch p.kind {
	case PhotoLimitFlat:
		return p.flat
	case PhotoLimitTiered:
		if isFirstMonth {
			return p.firstMonth
		}
		return p.recurring
	}
	return 0
}

func (p PhotoLimit) validate() error {
	switch p.kind {
	case PhotoLimitFlat:
		if p.flat < 0 {
			return shared.NewDomainError("INVALID_LIMIT", "photo limit cannot be negative")
		}
	case PhotoLimitTiered:
		if p.firstMonth < 0 || p.recurring < 0 {
			return shared.NewDomainError("INVALID_LIMIT", "photo limits cannot be negative")
		}
	default:
		return shared.NewDomainError("INVALID_LIMIT", "photo limit must be flat or tiered")
	}
	return nil
}

// MarshalJSON renders a flat limit as a number and a tiered limit as an
// object with firstMonth and recurring fields
func (p PhotoLimit) MarshalJSON() ([]byte, error) {
	if p.kind == PhotoLimitTiered {
		return json.Marshal(struct {
			FirstMonth int `json:"firstMonth"`
			Recurring  int `json:"recurring"`
		}{p.firstMonth, p.recurring})
	}
	return json.Marshal(p.flat)
}

// UnmarshalJSON accepts either shape produced by MarshalJSON
func (p *PhotoLimit) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*p = FlatPhotoLimit(n)
		return nil
	}
	var tiered struct {
		FirstMonth *int `json:"firstMonth"`
		Recurring  *int `json:"recurring"`
	}
	if err := json.Unmarshal(data, &tiered); err != nil {
		return fmt.Errorf("photo limit: %w", err)
	}
	if tiered.FirstMonth == nil || tiered.Recurring == nil {
		return shared.NewDomainError("INVALID_LIMIT", "tiered photo limit needs firstMonth and recurring")
	}
	*p = TieredPhotoLimit(*tiered.FirstMonth, *tiered.Recurring)
	return nil
}

// String returns a compact description such as "20" or "5/3"
func (p PhotoLimit) String() string {
	if p.kind == PhotoLimitTiered {
		return fmt.Sprintf("%d/%d", p.firstMonth, p.recurring)
	}
	return fmt.Sprintf("%d", p.flat)
}
