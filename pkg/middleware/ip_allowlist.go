package middleware

import (
	"net"
	"net/http"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ipCacheSize bounds the number of cached allow/deny decisions.
const ipCacheSize = 1000

// ipCache caches IP allowlist decisions using HashiCorp's LRU so repeated
// requests from the same address skip IP parsing and network checks.
type ipCache struct {
	cache *lru.Cache[string, bool]
}

func newIPCache(maxSize int) *ipCache {
	cache, err := lru.New[string, bool](maxSize)
	if err != nil {
		// Fallback to smaller cache if creation fails
		cache, _ = lru.New[string, bool](100)
	}
	return &ipCache{
		cache: cache,
	}
}

func (c *ipCache) get(ip string) (bool, bool) {
	return c.cache.Get(ip)
}

func (c *ipCache) set(ip string, allowed bool) {
	c.cache.Add(ip, allowed)
}

// IPAllowlistMiddleware provides IP-based access control for Echo.
// It checks the client IP against a list of allowed IPs/CIDR blocks
// as network-level security ahead of authentication.
type IPAllowlistMiddleware struct {
	allowedIPs      []string        // List of allowed IP addresses and CIDR blocks
	exactIPs        map[string]bool // Exact IP matches for O(1) lookup
	allowedNetworks []*net.IPNet    // Parsed CIDR networks sorted by specificity
	appLogger       *zap.Logger     // Logger for security events
	cache           *ipCache        // IP decision cache with LRU eviction
	healthPaths     map[string]bool // Health endpoint paths exempt from filtering
}

// NewIPAllowlistMiddleware creates an IP allowlist middleware from a list of
// allowed addresses and CIDR blocks (e.g. ["192.168.1.0/24", "10.0.0.5"]).
func NewIPAllowlistMiddleware(allowedIPs []string, appLogger *zap.Logger) *IPAllowlistMiddleware {
	middleware := &IPAllowlistMiddleware{
		allowedIPs:      allowedIPs,
		exactIPs:        make(map[string]bool),
		allowedNetworks: make([]*net.IPNet, 0),
		appLogger:       appLogger,
		cache:           newIPCache(ipCacheSize),
		healthPaths: map[string]bool{
			"/health":          true,
			"/health/detailed": true,
			"/ping":            true,
		},
	}

	for _, ipStr := range allowedIPs {
		ipStr = strings.TrimSpace(ipStr)
		if ipStr == "" {
			continue
		}

		// CIDR blocks and single addresses are stored separately
		if strings.Contains(ipStr, "/") {
			_, network, err := net.ParseCIDR(ipStr)
			if err != nil {
				continue
			}
			middleware.allowedNetworks = append(middleware.allowedNetworks, network)
		} else {
			ip := net.ParseIP(ipStr)
			if ip != nil {
				// Store normalized IP string for exact matching
				middleware.exactIPs[ip.String()] = true
			}
		}
	}

	// Sort networks by specificity (most specific first) for faster matching
	sort.Slice(middleware.allowedNetworks, func(i, j int) bool {
		maskI, _ := middleware.allowedNetworks[i].Mask.Size()
		maskJ, _ := middleware.allowedNetworks[j].Mask.Size()
		return maskI > maskJ // Larger mask = more specific
	})

	return middleware
}

// Middleware returns an Echo middleware function that enforces the allowlist.
// An empty allowlist allows every IP.
func (ipm *IPAllowlistMiddleware) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// If no IP restrictions are configured, allow all
			if len(ipm.allowedNetworks) == 0 && len(ipm.exactIPs) == 0 {
				return next(c)
			}

			// Health endpoints stay reachable regardless of client IP
			path := c.Request().URL.Path
			if ipm.healthPaths[path] {
				return next(c)
			}

			// Echo handles X-Forwarded-For, X-Real-IP, etc.
			clientIP := c.RealIP()

			// Fast path: cached decision
			if allowed, exists := ipm.cache.get(clientIP); exists {
				if !allowed {
					// Don't log cached denials to reduce overhead
					return echo.NewHTTPError(http.StatusForbidden, "Access denied: IP not allowed")
				}
				return next(c)
			}

			// Slow path: parse the IP and check against networks
			ip := net.ParseIP(clientIP)
			if ip == nil {
				ipm.cache.set(clientIP, false)
				return echo.NewHTTPError(http.StatusForbidden, "Invalid IP format")
			}

			allowed := ipm.exactIPs[ip.String()]
			if !allowed {
				for _, network := range ipm.allowedNetworks {
					if network.Contains(ip) {
						allowed = true
						break
					}
				}
			}

			ipm.cache.set(clientIP, allowed)

			if !allowed {
				// Only log first-time denials to reduce overhead
				ipm.appLogger.Warn("IP access denied - not in allowlist",
					zap.String("client_ip", clientIP),
					zap.String("path", path))
				return echo.NewHTTPError(http.StatusForbidden, "Access denied: IP not allowed")
			}

			return next(c)
		}
	}
}

// IsIPAllowed checks if a given IP address is allowed by the current configuration
func (ipm *IPAllowlistMiddleware) IsIPAllowed(ipStr string) bool {
	if len(ipm.allowedNetworks) == 0 && len(ipm.exactIPs) == 0 {
		return true
	}

	if allowed, exists := ipm.cache.get(ipStr); exists {
		return allowed
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		ipm.cache.set(ipStr, false)
		return false
	}

	allowed := ipm.exactIPs[ip.String()]
	if !allowed {
		for _, network := range ipm.allowedNetworks {
			if network.Contains(ip) {
				allowed = true
				break
			}
		}
	}

	ipm.cache.set(ipStr, allowed)
	return allowed
}

// GetAllowedNetworks returns the configured networks for debugging.
// Exact IPs are reported in CIDR form.
func (ipm *IPAllowlistMiddleware) GetAllowedNetworks() []string {
	var networks []string

	for ipStr := range ipm.exactIPs {
		ip := net.ParseIP(ipStr)
		if ip != nil {
			if ip.To4() != nil {
				networks = append(networks, ipStr+"/32") // IPv4
			} else {
				networks = append(networks, ipStr+"/128") // IPv6
			}
		}
	}

	for _, network := range ipm.allowedNetworks {
		networks = append(networks, network.String())
	}

	return networks
}

// GetCacheStats returns cache statistics for monitoring and debugging
func (ipm *IPAllowlistMiddleware) GetCacheStats() map[string]interface{} {
	return map[string]interface{}{
		"cache_size":     ipm.cache.cache.Len(),
		"cache_max_size": ipCacheSize,
		"cache_usage":    float64(ipm.cache.cache.Len()) / float64(ipCacheSize) * 100,
	}
}

// ClearCache clears the IP decision cache (useful for testing or configuration changes)
func (ipm *IPAllowlistMiddleware) ClearCache() {
	ipm.cache.cache.Purge()
}
