package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestAPIKeyMiddlewareAcceptsHeader verifies the X-API-Key header grants
// access to guarded paths.
func TestAPIKeyMiddlewareAcceptsHeader(t *testing.T) {
	e := echo.New()
	handler := EchoAPIKeyMiddleware("secret", zap.NewNop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()

	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestAPIKeyMiddlewareAcceptsQueryParam verifies the api_key query parameter
// works as a fallback for clients that cannot set headers.
func TestAPIKeyMiddlewareAcceptsQueryParam(t *testing.T) {
	e := echo.New()
	handler := EchoAPIKeyMiddleware("secret", zap.NewNop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	c, rec := newEchoContext(e, http.MethodGet, "/api/v1/items?api_key=secret")
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestAPIKeyMiddlewareRejectsBadKeys verifies missing and wrong keys are
// turned away with 401.
func TestAPIKeyMiddlewareRejectsBadKeys(t *testing.T) {
	e := echo.New()
	handler := EchoAPIKeyMiddleware("secret", zap.NewNop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing key", header: ""},
		{name: "wrong key", header: "not-the-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()

			err := handler(e.NewContext(req, rec))

			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, http.StatusUnauthorized, he.Code)
		})
	}
}

// TestAPIKeyMiddlewareOpenPaths verifies probe endpoints stay reachable
// without credentials.
func TestAPIKeyMiddlewareOpenPaths(t *testing.T) {
	e := echo.New()
	handler := EchoAPIKeyMiddleware("secret", zap.NewNop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	openPaths := []string{"/health", "/health/detailed", "/ping", "/", "/debug/pprof/heap"}
	for _, path := range openPaths {
		t.Run(path, func(t *testing.T) {
			c, rec := newEchoContext(e, http.MethodGet, path)
			require.NoError(t, handler(c))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}

	// A guarded path without a key still fails.
	c, _ := newEchoContext(e, http.MethodGet, "/api/v1/items")
	err := handler(c)
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}
