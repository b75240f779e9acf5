package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/larklabs/backend/internal/infrastructure/auth"
	"github.com/larklabs/backend/internal/infrastructure/config"
	"github.com/larklabs/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ok(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	generated := rec.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	assert.Equal(t, "caller-id", serve(r, req).Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("a", MaxRequestIDLength+1))
	assert.Len(t, serve(r, req).Header().Get(RequestIDHeader), 36)
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://app.lark.test"}

	r := gin.New()
	r.Use(CORSWithConfig(cfg))
	r.GET("/x", ok)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://app.lark.test")
	rec := serve(r, req)
	assert.Equal(t, "https://app.lark.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.test")
	rec = serve(r, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.lark.test")
	rec = serve(r, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_Wildcard(t *testing.T) {
	r := gin.New()
	r.Use(CORSWithConfig(CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true}))
	r.GET("/x", ok)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://anywhere.test")
	rec := serve(r, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestSecure(t *testing.T) {
	r := gin.New()
	r.Use(Secure(true))
	r.GET("/x", ok)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestBodyLimit(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), BodyLimit(16))
	r.POST("/x", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	rec := serve(r, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"action":"text_query"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	errInfo := decodeError(t, rec)
	assert.Equal(t, dto.ErrCodeTooLarge, errInfo.Code)
	assert.NotEmpty(t, errInfo.RequestID)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	defer limiter.Stop()

	now := time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	assert.Equal(t, 0, limiter.Remaining("a"))
	assert.True(t, limiter.Allow("b"))

	now = now.Add(time.Minute)
	assert.Equal(t, 2, limiter.Remaining("a"))
	assert.True(t, limiter.Allow("a"))

	now = now.Add(5 * time.Minute)
	limiter.evict()
	limiter.mu.Lock()
	assert.Empty(t, limiter.clients)
	limiter.mu.Unlock()

	limiter.Stop()
}

func TestRateLimit_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	defer limiter.Stop()

	r := gin.New()
	r.Use(RequestID(), RateLimit(limiter))
	r.GET("/x", ok)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, dto.ErrCodeRateLimited, decodeError(t, rec).Code)
}

func newJWT() *auth.JWTService {
	return auth.NewJWTService(config.JWTConfig{
		Secret:                "test-secret-key-at-least-32-chars",
		Issuer:                "lark-test",
		AccessTokenExpiration: time.Minute,
		AdminRole:             "admin",
	})
}

func bearer(t *testing.T, svc *auth.JWTService, subject, role string) string {
	token, _, err := svc.GenerateToken(subject, role)
	require.NoError(t, err)
	return BearerPrefix + token
}

func TestJWTAuth(t *testing.T) {
	svc := newJWT()

	r := gin.New()
	r.Use(RequestID())
	g := r.Group("/subscribers", JWTAuth(svc, nil))
	g.GET("/:id/usage", func(c *gin.Context) {
		c.String(http.StatusOK, GetJWTClaims(c).Subject)
	})
	g.POST("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"other": CanActFor(c, "user-2"), "self": CanActFor(c, "user-1")})
	})

	tests := []struct {
		name   string
		path   string
		header string
		status int
		code   string
	}{
		{"missing header", "/subscribers/user-1/usage", "", http.StatusUnauthorized, dto.ErrCodeTokenInvalid},
		{"not bearer", "/subscribers/user-1/usage", "Basic abc", http.StatusUnauthorized, dto.ErrCodeTokenInvalid},
		{"garbage token", "/subscribers/user-1/usage", BearerPrefix + "abc", http.StatusUnauthorized, dto.ErrCodeTokenInvalid},
		{"own subscriber", "/subscribers/user-1/usage", bearer(t, svc, "user-1", ""), http.StatusOK, ""},
		{"other subscriber", "/subscribers/user-2/usage", bearer(t, svc, "user-1", ""), http.StatusForbidden, dto.ErrCodeForbidden},
		{"admin", "/subscribers/user-2/usage", bearer(t, svc, "ops", "admin"), http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			rec := serve(r, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeError(t, rec).Code)
			}
		})
	}

	t.Run("CanActFor on routes without id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/subscribers", nil)
		req.Header.Set(AuthHeaderKey, bearer(t, svc, "user-1", ""))
		rec := serve(r, req)
		assert.JSONEq(t, `{"other":false,"self":true}`, rec.Body.String())
	})
}

func TestCanActFor_WithoutAuth(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.True(t, CanActFor(c, "anyone"))
	assert.True(t, IsAdmin(c))
	assert.Nil(t, GetJWTClaims(c))
}

func TestRequireAdmin(t *testing.T) {
	svc := newJWT()

	r := gin.New()
	r.PUT("/subscribers/:id/tier", JWTAuth(svc, nil), RequireAdmin(nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"own subscriber without role", bearer(t, svc, "user-1", ""), http.StatusForbidden},
		{"admin", bearer(t, svc, "ops", "admin"), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/subscribers/user-1/tier", nil)
			req.Header.Set(AuthHeaderKey, tt.header)
			rec := serve(r, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusForbidden {
				assert.Equal(t, dto.ErrCodeForbidden, decodeError(t, rec).Code)
			}
		})
	}

	t.Run("passes when auth is not installed", func(t *testing.T) {
		open := gin.New()
		open.PUT("/tier", RequireAdmin(nil), func(c *gin.Context) { c.Status(http.StatusOK) })
		rec := serve(open, httptest.NewRequest(http.MethodPut, "/tier", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := gin.New()
	r.Use(RequestID())
	r.Use(Tracing("lark-test")...)
	r.GET("/subscribers/:id/usage", ok)

	req := httptest.NewRequest(http.MethodGet, "/subscribers/user-9/usage", nil)
	req.Header.Set(RequestIDHeader, "trace-req")
	serve(r, req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes(), attribute.String("subscriber_id", "user-9"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("request_id", "trace-req"))
}
