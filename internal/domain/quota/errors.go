package quota

import (
	"fmt"

	"github.com/larklabs/backend/internal/domain/shared"
)

// Sentinel domain errors. Typed errors below unwrap to these so the HTTP
// layer can map them by code.
var (
	ErrUnknownTier  = shared.NewDomainError("UNKNOWN_TIER", "Unknown subscription tier")
	ErrInvalidUsage = shared.NewDomainError("INVALID_USAGE", "Usage counters are invalid")
	ErrInvalidTier  = shared.NewDomainError("INVALID_TIER", "Tier definition is invalid")
)

// UnknownTierError is returned when a tier identifier is not registered
type UnknownTierError struct {
	TierID string
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("unknown tier %q", e.TierID)
}

func (e *UnknownTierError) Unwrap() error {
	return ErrUnknownTier
}

// InvalidUsageError reports a malformed usage record, such as a negative
// counter or a missing subscription start date
type InvalidUsageError struct {
	Field  string
	Reason string
}

func (e *InvalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage: %s %s", e.Field, e.Reason)
}

func (e *InvalidUsageError) Unwrap() error {
	return ErrInvalidUsage
}
