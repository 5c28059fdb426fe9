// Package tls provides HTTPS support for the storage guard server using
// automatic Let's Encrypt certificate management through Echo's AutoTLS.
package tls

import (
	"fmt"

	"storage-guard-server/pkg/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// SetupAutoTLS configures automatic TLS certificate management using Let's Encrypt.
// Certificates are cached on disk to stay within Let's Encrypt rate limits, and
// the host policy restricts issuance to the configured domains.
func SetupAutoTLS(e *echo.Echo, cfg *config.Config, appLogger *zap.Logger) {
	e.AutoTLSManager.Prompt = autocert.AcceptTOS
	e.AutoTLSManager.Cache = autocert.DirCache(cfg.TLSCacheDir)

	if len(cfg.TLSHosts) > 0 {
		e.AutoTLSManager.HostPolicy = autocert.HostWhitelist(cfg.TLSHosts...)
		appLogger.Info("AutoTLS configured with host whitelist",
			zap.Strings("hosts", cfg.TLSHosts),
			zap.String("cache_dir", cfg.TLSCacheDir))
	} else {
		appLogger.Warn("AutoTLS configured without host restrictions - suitable for development only",
			zap.String("cache_dir", cfg.TLSCacheDir),
			zap.String("security_note", "Use TLS_HOSTS in production"))
	}

	// Redirect HTTP traffic when HTTPS-only mode is enabled
	if cfg.EnableHTTPSOnly {
		e.Pre(middleware.HTTPSRedirect())
		appLogger.Info("HTTPS redirect enabled - all HTTP traffic will be redirected to HTTPS")
	}

	appLogger.Info("AutoTLS configuration completed successfully")
}

// ValidateAutoTLSConfig validates the AutoTLS configuration for common issues.
// Call before starting the server to catch configuration problems early.
func ValidateAutoTLSConfig(cfg *config.Config) error {
	if cfg.TLSPort == "" {
		return fmt.Errorf("TLS_PORT cannot be empty when TLS is enabled")
	}

	if cfg.TLSCacheDir == "" {
		return fmt.Errorf("TLS_CACHE_DIR cannot be empty when TLS is enabled")
	}

	for _, host := range cfg.TLSHosts {
		if host == "" {
			return fmt.Errorf("empty hostname in TLS_HOSTS list")
		}
	}

	return nil
}
