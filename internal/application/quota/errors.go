package quota

import (
	"fmt"
	"net/http"

	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/larklabs/backend/internal/domain/shared"
)

// ErrQuotaExceeded is the domain error QuotaExceededError unwraps to
var ErrQuotaExceeded = shared.NewDomainError("QUOTA_EXCEEDED", "Quota exceeded")

// QuotaExceededError represents an error when a quota limit is exceeded
type QuotaExceededError struct {
	Action       quota.ActionType
	CurrentUsage int
	Limit        int
	Message      string
}

// Error implements the error interface
func (e *QuotaExceededError) Error() string {
	return e.Message
}

// Unwrap exposes the QUOTA_EXCEEDED domain error
func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// HTTPStatusCode returns the HTTP status code for this error (429 Too Many Requests)
func (e *QuotaExceededError) HTTPStatusCode() int {
	return http.StatusTooManyRequests
}

// NewQuotaExceededError creates a new QuotaExceededError
func NewQuotaExceededError(action quota.ActionType, currentUsage, limit int) *QuotaExceededError {
	return &QuotaExceededError{
		Action:       action,
		CurrentUsage: currentUsage,
		Limit:        limit,
		Message: fmt.Sprintf(
			"Quota exceeded for %s: used %d of %d",
			action.DisplayName(), currentUsage, limit,
		),
	}
}
