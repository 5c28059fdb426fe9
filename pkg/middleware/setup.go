package middleware

import (
	"storage-guard-server/pkg/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// SetupMiddleware configures the HTTP middleware stack for the storage guard server.
//
// Middleware application order matters here:
//  1. Request ID - request tracking for all requests (minimal overhead)
//  2. Echo rate limiting - built-in IP rate limiter (first line of defense)
//  3. Custom throttling - concurrency limit with backlog queue
//  4. IP allowlisting - network-level security (early rejection)
//  5. Panic recovery - graceful handling of handler panics
//  6. Security headers - standard plus configured custom headers
//  7. Compression - response compression when enabled
//  8. Request timeout - prevents resource exhaustion from slow requests
//  9. CORS - cross-origin configuration
//  10. Authentication - API key validation (applied last for efficiency)
//
// Rate limiting and IP filtering run before expensive operations so rejected
// requests cost as little as possible.
func SetupMiddleware(e *echo.Echo, cfg *config.Config, appLogger *zap.Logger) *RateLimiter {
	// Essential middleware before rate limiting (minimal overhead)
	e.Use(middleware.RequestID()) // Required for request tracking

	// ECHO RATE LIMITING - Built-in Echo rate limiter (first line of defense)
	if cfg.EchoRateLimit > 0 {
		e.Use(SetupEchoRateLimiter(cfg))
	}

	// CUSTOM RATE LIMITING - Custom throttle middleware with backlog support
	rateLimiter := NewRateLimiter(
		cfg.ThrottleLimit,
		cfg.ThrottleBacklogLimit,
		cfg.ThrottleBacklogTimeout,
	)
	e.Use(rateLimiter.Middleware())

	// IP ALLOWLIST - Network-level security, applied early to reject
	// unauthorized IPs before expensive operations
	if len(cfg.AllowedIPs) > 0 {
		ipAllowlist := NewIPAllowlistMiddleware(cfg.AllowedIPs, appLogger)
		e.Use(ipAllowlist.Middleware())
	}

	// Remaining middleware applied only to accepted requests
	e.Use(middleware.Recover()) // Panic recovery for accepted requests

	// Security middleware
	e.Use(middleware.Secure())

	// Custom security headers from configuration
	if len(cfg.SecurityHeaders) > 0 {
		e.Use(securityHeaders(cfg.SecurityHeaders))
	}

	// Compression middleware (if enabled)
	if cfg.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.CompressionLevel,
		}))
	}

	// Request timeout
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: cfg.RequestTimeout,
	}))

	// CORS middleware
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-API-Key"},
		ExposeHeaders:    []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// API key authentication middleware (if enabled)
	if cfg.EnableAuth {
		e.Use(EchoAPIKeyMiddleware(cfg.APIKey, appLogger))
	}

	return rateLimiter
}

// securityHeaders applies the configured custom header set to every response.
func securityHeaders(headers map[string]string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for key, value := range headers {
				h.Set(key, value)
			}
			return next(c)
		}
	}
}
