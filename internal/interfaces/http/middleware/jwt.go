package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/larklabs/backend/internal/infrastructure/auth"
	"github.com/larklabs/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey  = "jwt_claims"
	jwtServiceKey = "jwt_service"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// JWTAuth validates the bearer token. On routes with an :id parameter the
// token subject must equal the id unless the token has the admin role.
func JWTAuth(svc *auth.JWTService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		header := c.GetHeader(AuthHeaderKey)
		if header == "" {
			authFailed(c, logger, auth.ErrInvalidToken, "Missing authorization header")
			return
		}
		if !strings.HasPrefix(header, BearerPrefix) {
			authFailed(c, logger, auth.ErrInvalidToken, "Invalid authorization header format")
			return
		}

		claims, err := svc.ValidateToken(strings.TrimPrefix(header, BearerPrefix))
		if err != nil {
			authFailed(c, logger, err, "Token validation failed")
			return
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(jwtServiceKey, svc)

		if id := c.Param("id"); id != "" && !svc.CanAccess(claims, id) {
			logger.Warn("Subscriber access denied",
				zap.String("subject", claims.Subject),
				zap.String("subscriber_id", id),
				zap.String("path", c.Request.URL.Path))
			abort(c, dto.ErrCodeForbidden, "Token does not grant access to this subscriber")
			return
		}

		c.Next()
	}
}

func authFailed(c *gin.Context, logger *zap.Logger, err error, message string) {
	logger.Warn("JWT authentication failed",
		zap.Error(err),
		zap.String("message", message),
		zap.String("path", c.Request.URL.Path))

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		abort(c, dto.ErrCodeTokenExpired, "Token has expired")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenNotYetValid):
		abort(c, dto.ErrCodeTokenInvalid, "Invalid token")
	default:
		abort(c, dto.ErrCodeUnauthorized, "Authentication required")
	}
}

// GetJWTClaims returns the validated claims, or nil when auth is disabled
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(JWTClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// CanActFor reports whether the caller may act on subscriberID. It is
// always true when JWT auth is not installed.
func CanActFor(c *gin.Context, subscriberID string) bool {
	v, ok := c.Get(jwtServiceKey)
	if !ok {
		return true
	}
	svc, _ := v.(*auth.JWTService)
	return svc != nil && svc.CanAccess(GetJWTClaims(c), subscriberID)
}

// IsAdmin reports whether the caller holds the admin role. It is always
// true when JWT auth is not installed.
func IsAdmin(c *gin.Context) bool {
	v, ok := c.Get(jwtServiceKey)
	if !ok {
		return true
	}
	svc, _ := v.(*auth.JWTService)
	return svc != nil && svc.IsAdmin(GetJWTClaims(c))
}

// RequireAdmin rejects callers without the admin role. It must run after
// JWTAuth.
func RequireAdmin(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		if !IsAdmin(c) {
			subject := ""
			if claims := GetJWTClaims(c); claims != nil {
				subject = claims.Subject
			}
			logger.Warn("Admin role required",
				zap.String("subject", subject),
				zap.String("path", c.Request.URL.Path))
			abort(c, dto.ErrCodeForbidden, "Admin role required")
			return
		}
		c.Next()
	}
}
