package dto

import "net/http"

// Error codes follow ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
	ErrCodeTooLarge     = "ERR_REQUEST_TOO_LARGE"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
)

// Quota error codes
const (
	// ErrCodeUnknownTier is used when a tier id is not in the registry
	ErrCodeUnknownTier = "ERR_UNKNOWN_TIER"
	// ErrCodeInvalidUsage is used for negative or malformed usage counters
	ErrCodeInvalidUsage = "ERR_INVALID_USAGE"
	// ErrCodeInvalidAction is used for an unrecognized metered action
	ErrCodeInvalidAction = "ERR_INVALID_ACTION"
	// ErrCodeQuotaExceeded is used when a consume is denied
	ErrCodeQuotaExceeded = "ERR_QUOTA_EXCEEDED"
	ErrCodeInvalidTier   = "ERR_INVALID_TIER"
)

// Rate limiting error codes
const (
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,
	ErrCodeTooLarge:     http.StatusRequestEntityTooLarge,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeAlreadyExists: http.StatusConflict,

	ErrCodeUnknownTier:   http.StatusUnprocessableEntity,
	ErrCodeInvalidUsage:  http.StatusUnprocessableEntity,
	ErrCodeInvalidTier:   http.StatusUnprocessableEntity,
	ErrCodeInvalidAction: http.StatusBadRequest,
	ErrCodeQuotaExceeded: http.StatusTooManyRequests,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code, 500 when unknown
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":      ErrCodeNotFound,
	"ALREADY_EXISTS": ErrCodeAlreadyExists,
	"INVALID_INPUT":  ErrCodeInvalidInput,
	"UNAUTHORIZED":   ErrCodeUnauthorized,
	"FORBIDDEN":      ErrCodeForbidden,
	"INTERNAL_ERROR": ErrCodeInternal,
	"UNKNOWN_TIER":   ErrCodeUnknownTier,
	"INVALID_USAGE":  ErrCodeInvalidUsage,
	"INVALID_ACTION": ErrCodeInvalidAction,
	"INVALID_TIER":   ErrCodeInvalidTier,
	"INVALID_LIMIT":  ErrCodeInvalidTier,
	"QUOTA_EXCEEDED": ErrCodeQuotaExceeded,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes already in API format, or unknown, are returned as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
