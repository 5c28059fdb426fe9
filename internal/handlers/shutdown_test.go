package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestShutdownMiddleware verifies requests pass through until shutdown is
// initiated, after which every request is refused with 503.
func TestShutdownMiddleware(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop())
	e := echo.New()

	handlerCalled := false
	wrapped := sh.Middleware()(func(c echo.Context) error {
		handlerCalled = true
		return c.NoContent(http.StatusOK)
	})

	c, rec := newJSONContext(e, http.MethodGet, "/api/v1/keys", "")
	require.NoError(t, wrapped(c))
	assert.True(t, handlerCalled)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sh.IsShuttingDown())

	sh.InitiateShutdown()
	require.True(t, sh.IsShuttingDown())

	handlerCalled = false
	c, rec = newJSONContext(e, http.MethodGet, "/api/v1/keys", "")
	require.NoError(t, wrapped(c))
	assert.False(t, handlerCalled)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SERVER_SHUTTING_DOWN", body["code"])
	assert.Equal(t, "Server is shutting down", body["error"])
	assert.NotEmpty(t, body["timestamp"])
}

// TestInitiateShutdownIdempotent verifies repeated initiation keeps the flag
// set without side effects.
func TestInitiateShutdownIdempotent(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop())

	sh.InitiateShutdown()
	sh.InitiateShutdown()

	assert.True(t, sh.IsShuttingDown())
}
