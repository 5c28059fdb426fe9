package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storage-guard-server/pkg/config"
)

// testSetupConfig returns the minimal configuration SetupMiddleware needs.
// The built-in Echo rate limiter stays disabled so individual tests can
// opt in with their own limits.
func testSetupConfig() *config.Config {
	return &config.Config{
		ThrottleLimit:          10,
		ThrottleBacklogLimit:   5,
		ThrottleBacklogTimeout: time.Second,
		AllowedOrigins:         []string{"*"},
		RequestTimeout:         2 * time.Second,
		SecurityHeaders:        map[string]string{"X-Storage-Guard": "on"},
	}
}

// newTestServer wires the middleware stack onto a fresh Echo instance with a
// couple of plain routes behind it.
func newTestServer(cfg *config.Config) (*echo.Echo, *RateLimiter) {
	e := echo.New()
	rl := SetupMiddleware(e, cfg, zap.NewNop())
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	e.GET("/api/v1/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})
	return e, rl
}

// TestSetupMiddlewareAppliesStack verifies a plain request passes the whole
// chain and picks up request tracking and security headers on the way out.
func TestSetupMiddlewareAppliesStack(t *testing.T) {
	e, rl := newTestServer(testSetupConfig())
	require.NotNil(t, rl)
	assert.EqualValues(t, 10, rl.GetStats()["max_concurrent"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "on", rec.Header().Get("X-Storage-Guard"))
	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
}

// TestSetupMiddlewareAuthGate verifies the API key gate guards data routes
// while health stays open.
func TestSetupMiddlewareAuthGate(t *testing.T) {
	cfg := testSetupConfig()
	cfg.EnableAuth = true
	cfg.APIKey = "secret"
	e, _ := newTestServer(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestSetupMiddlewareCORSPreflight verifies preflight requests are answered
// without touching the handlers.
func TestSetupMiddlewareCORSPreflight(t *testing.T) {
	e, _ := newTestServer(testSetupConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ping", nil)
	req.Header.Set(echo.HeaderOrigin, "http://example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

// TestSetupMiddlewareGzip verifies responses compress when the client asks
// for it and decompress back to the original payload.
func TestSetupMiddlewareGzip(t *testing.T) {
	cfg := testSetupConfig()
	cfg.EnableCompression = true
	cfg.CompressionLevel = 5
	e, _ := newTestServer(cfg)

	payload := strings.Repeat("nutrition data ", 100)
	e.GET("/api/v1/data", func(c echo.Context) error {
		return c.String(http.StatusOK, payload)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/data", nil)
	req.Header.Set(echo.HeaderAcceptEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get(echo.HeaderContentEncoding))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	defer zr.Close()
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
}

// TestSetupMiddlewareEchoRateLimit verifies the built-in limiter participates
// in the assembled stack when configured.
func TestSetupMiddlewareEchoRateLimit(t *testing.T) {
	cfg := testSetupConfig()
	cfg.EchoRateLimit = 1
	cfg.EchoBurstLimit = 1
	cfg.EchoRateLimitExpiresIn = time.Minute
	e, _ := newTestServer(cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "too many requests")
}

// TestSetupMiddlewareRecoversPanics verifies a panicking handler surfaces as
// a 500 instead of tearing the server down.
func TestSetupMiddlewareRecoversPanics(t *testing.T) {
	e, _ := newTestServer(testSetupConfig())
	e.GET("/api/v1/panic", func(c echo.Context) error {
		panic("handler exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/panic", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
