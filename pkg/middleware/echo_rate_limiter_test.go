package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storage-guard-server/pkg/config"
)

// TestEchoRateLimiterDeniesBurstOverflow verifies the built-in limiter admits
// a request within the burst and turns the next one away with 429.
func TestEchoRateLimiterDeniesBurstOverflow(t *testing.T) {
	cfg := &config.Config{
		EchoRateLimit:          1,
		EchoBurstLimit:         1,
		EchoRateLimitExpiresIn: time.Minute,
	}

	e := echo.New()
	handler := SetupEchoRateLimiter(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	c1, rec1 := newEchoContext(e, http.MethodGet, "/api/v1/items")
	require.NoError(t, handler(c1))
	assert.Equal(t, http.StatusOK, rec1.Code)

	// The burst is spent, so an immediate follow-up from the same address
	// is denied.
	c2, rec2 := newEchoContext(e, http.MethodGet, "/api/v1/items")
	require.NoError(t, handler(c2))
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
	assert.Contains(t, rec2.Body.String(), "too many requests")
}

// TestEchoRateLimiterBucketsPerClientIP verifies each client address gets its
// own token bucket.
func TestEchoRateLimiterBucketsPerClientIP(t *testing.T) {
	cfg := &config.Config{
		EchoRateLimit:          1,
		EchoBurstLimit:         1,
		EchoRateLimitExpiresIn: time.Minute,
	}

	e := echo.New()
	handler := SetupEchoRateLimiter(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// Drain the default client's bucket.
	c1, _ := newEchoContext(e, http.MethodGet, "/api/v1/items")
	require.NoError(t, handler(c1))
	c2, rec2 := newEchoContext(e, http.MethodGet, "/api/v1/items")
	require.NoError(t, handler(c2))
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)

	// A different client address is still admitted.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	req.Header.Set("X-Real-IP", "198.51.100.3")
	rec3 := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec3)))
	assert.Equal(t, http.StatusOK, rec3.Code)
}
