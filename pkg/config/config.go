package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the storage guard server
type Config struct {
	// =============================================================================
	// GROUP 1: HTTP SERVER SETTINGS
	// =============================================================================
	Port         string        // HTTP server port
	Host         string        // HTTP server host/bind address
	ReadTimeout  time.Duration // HTTP read timeout
	WriteTimeout time.Duration // HTTP write timeout

	// =============================================================================
	// GROUP 1.1: TLS/HTTPS SETTINGS
	// =============================================================================
	EnableTLS       bool     // Enable HTTPS with automatic Let's Encrypt certificates
	TLSPort         string   // HTTPS server port (default: 443)
	TLSCacheDir     string   // Directory to cache TLS certificates
	TLSHosts        []string // Allowed hostnames for TLS certificates (required for production)
	EnableHTTPSOnly bool     // Redirect all HTTP traffic to HTTPS

	// =============================================================================
	// GROUP 2: STORAGE SYSTEM SETTINGS
	// =============================================================================
	DataDir    string // Directory for BadgerDB data files
	BackupDir  string // Directory for backup files
	PendingDir string // Directory for pending-write snapshots saved at shutdown

	// =============================================================================
	// GROUP 3: WRITE QUEUE SETTINGS
	// =============================================================================
	// Debounced write queue: the last write per key within the debounce window
	// wins, promoted writes flush in small concurrent batches.
	DebounceInterval time.Duration // Per-key debounce window before a write is flushed
	WriteBatchSize   int           // Number of writes flushed concurrently per batch
	WriteBatchDelay  time.Duration // Pause between batches within one flush pass
	WriteMaxAttempts int           // Transient failures tolerated before a write is dropped
	WriteMaxPending  int           // Maximum distinct keys waiting in the queue

	// =============================================================================
	// GROUP 4: STORAGE GUARD SETTINGS
	// =============================================================================
	ItemSizeCeiling          int64         // Per-item size ceiling for routine cleanup
	EmergencyItemSizeCeiling int64         // Per-item size ceiling during emergency recovery
	MaxStorageBytes          int64         // Total storage capacity the monitor enforces
	CleanupThreshold         float64       // Usage ratio (0.0-1.0) that triggers routine cleanup
	MonitorInterval          time.Duration // How often the storage monitor ticks

	// Key policy lists. Prefix lists match the start of a key, the preserved
	// list matches anywhere in the key.
	CachePrefixes     []string // Prefixes treated as evictable cache entries
	DangerousPrefixes []string // Prefixes removed first during emergency recovery
	SweepPrefixes     []string // Prefixes swept in the final recovery phase
	PreservedKeys     []string // Key substrings never removed outside a nuclear clear

	EnableStartupMaintenance bool // Restore pending writes and run cleanup on startup

	// =============================================================================
	// GROUP 5: STORAGE PERFORMANCE SETTINGS
	// =============================================================================
	PerformanceMode bool  // Enable BadgerDB performance optimizations
	BlockCacheSize  int64 // BadgerDB block cache size in bytes
	ReadCacheSize   int   // Entries held in the in-process read cache
	SyncWrites      bool  // Force fsync on every BadgerDB write

	// =============================================================================
	// GROUP 6: STORAGE RELIABILITY SETTINGS
	// =============================================================================
	BackupInterval time.Duration // How often to create backups
	MaxBackups     int           // Maximum number of backups to retain
	GCInterval     time.Duration // Value-log garbage collection interval
	GCDiscardRatio float64       // Minimum ratio of reclaimable space to trigger GC (0.0-1.0)

	// =============================================================================
	// GROUP 7: AUTHENTICATION & AUTHORIZATION SETTINGS
	// =============================================================================
	APIKey         string   // API key for authentication
	EnableAuth     bool     // Enable API key authentication
	AllowedOrigins []string // CORS allowed origins
	AllowedIPs     []string // IP allowlist for network-level security

	// =============================================================================
	// GROUP 8: VALIDATION SETTINGS
	// =============================================================================
	MaxKeyLength       int   // Maximum length for item keys
	MaxValueSize       int64 // Maximum value size accepted over the API
	MaxBatchItems      int   // Maximum items per batch write
	MaxPaginationLimit int   // Maximum pagination limit

	// =============================================================================
	// GROUP 9: REQUEST PROCESSING SETTINGS
	// =============================================================================
	RequestTimeout  time.Duration // Timeout for individual requests
	ShutdownTimeout time.Duration // Graceful shutdown timeout

	// =============================================================================
	// GROUP 10: RATE LIMITING SETTINGS
	// =============================================================================
	ThrottleLimit          int           // Maximum concurrent requests
	ThrottleBacklogLimit   int           // Maximum queued requests
	ThrottleBacklogTimeout time.Duration // Timeout for queued requests

	// Echo-specific rate limiting
	EchoRateLimit          float64       `env:"ECHO_RATE_LIMIT" envDefault:"100"`
	EchoBurstLimit         int           `env:"ECHO_BURST_LIMIT" envDefault:"200"`
	EchoRateLimitExpiresIn time.Duration `env:"ECHO_RATE_LIMIT_EXPIRES_IN" envDefault:"3m"`

	// =============================================================================
	// GROUP 11: HTTP COMPRESSION SETTINGS
	// =============================================================================
	EnableCompression bool // Enable response compression
	CompressionLevel  int  // Compression level (1-9)

	// =============================================================================
	// GROUP 12: SECURITY & DEBUGGING SETTINGS
	// =============================================================================
	SecurityHeaders map[string]string // Custom security headers

	// =============================================================================
	// GROUP 13: LOGGING SETTINGS
	// =============================================================================
	EnableRequestLogging  bool `env:"ENABLE_REQUEST_LOGGING"`
	EnableSecurityLogging bool `env:"ENABLE_SECURITY_LOGGING"`
	SuppressItemLogging   bool `env:"SUPPRESS_ITEM_LOGGING"`

	// Performance-oriented logging controls
	EnableErrorLogging      bool `env:"ENABLE_ERROR_LOGGING"`      // Control error-level logging
	EnableWarnLogging       bool `env:"ENABLE_WARN_LOGGING"`       // Control warning-level logging
	EnableValidationLogging bool `env:"ENABLE_VALIDATION_LOGGING"` // Control validation error logging
}

// Load loads configuration from environment variables
func Load() *Config {
	// Attempt to load .env file but proceed if not found
	godotenv.Load()

	config := &Config{
		// Server settings
		Port:         env("PORT", "8082"),
		Host:         env("HOST", "0.0.0.0"),
		ReadTimeout:  envDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: envDuration("WRITE_TIMEOUT", 30*time.Second),

		// TLS/HTTPS settings
		EnableTLS:       envBool("ENABLE_TLS", false),
		TLSPort:         env("TLS_PORT", "443"),
		TLSCacheDir:     env("TLS_CACHE_DIR", "./certs"),
		TLSHosts:        envStringSlice("TLS_HOSTS", []string{}), // Empty means allow any host (development only)
		EnableHTTPSOnly: envBool("ENABLE_HTTPS_ONLY", false),

		// Storage settings
		DataDir:    env("DATA_DIR", "./data"),
		BackupDir:  env("BACKUP_DIR", "./backups"),
		PendingDir: env("PENDING_DIR", "./data/pending"),

		// Write queue settings
		DebounceInterval: envDuration("DEBOUNCE_INTERVAL", 100*time.Millisecond),
		WriteBatchSize:   envInt("WRITE_BATCH_SIZE", 5),
		WriteBatchDelay:  envDuration("WRITE_BATCH_DELAY", 50*time.Millisecond),
		WriteMaxAttempts: envInt("WRITE_MAX_ATTEMPTS", 3),
		WriteMaxPending:  envInt("WRITE_MAX_PENDING", 4096),

		// Storage guard settings
		ItemSizeCeiling:          envInt64("ITEM_SIZE_CEILING", 100<<10),           // 100KB routine ceiling
		EmergencyItemSizeCeiling: envInt64("EMERGENCY_ITEM_SIZE_CEILING", 1<<20),   // 1MB emergency ceiling
		MaxStorageBytes:          envInt64("MAX_STORAGE_BYTES", 50<<20),            // 50MB total capacity
		CleanupThreshold:         envFloat64("CLEANUP_THRESHOLD", 0.8),             // Cleanup above 80% usage
		MonitorInterval:          envDuration("MONITOR_INTERVAL", 3*time.Minute),

		CachePrefixes: envStringSlice("CACHE_PREFIXES", []string{
			"meal_cache_", "stats_cache_", "menu_cache_",
			"stale_user_", "temp_image_", "expired_session_",
		}),
		DangerousPrefixes: envStringSlice("DANGEROUS_PREFIXES", []string{
			"pending_upload_", "photo_draft_", "temp_image_", "image_cache_",
		}),
		SweepPrefixes: envStringSlice("SWEEP_PREFIXES", []string{
			"cache_", "meal_cache_", "stats_cache_", "menu_cache_", "temp_", "image_",
		}),
		PreservedKeys: envStringSlice("PRESERVED_KEYS", []string{
			"persist:auth", "persist:user", "session_token", "device_id",
		}),

		EnableStartupMaintenance: envBool("ENABLE_STARTUP_MAINTENANCE", true),

		// Performance optimization settings
		PerformanceMode: envBool("PERFORMANCE_MODE", true), // Enable performance mode by default
		BlockCacheSize:  envInt64("BLOCK_CACHE_SIZE", 32<<20),
		ReadCacheSize:   envInt("READ_CACHE_SIZE", 1024),
		SyncWrites:      envBool("SYNC_WRITES", false),

		// Storage reliability settings
		BackupInterval: envDuration("BACKUP_INTERVAL", 6*time.Hour),
		MaxBackups:     envInt("MAX_BACKUPS", 7),
		GCInterval:     envDuration("GC_INTERVAL", 5*time.Minute),
		GCDiscardRatio: envFloat64("GC_DISCARD_RATIO", 0.5),

		// Security settings
		APIKey:         env("API_KEY", ""),
		EnableAuth:     envBool("ENABLE_AUTH", false),
		AllowedOrigins: envStringSlice("ALLOWED_ORIGINS", []string{"*"}),
		AllowedIPs:     envStringSlice("ALLOWED_IPS", []string{}), // Empty means no IP restrictions

		// Validation settings
		MaxKeyLength:       envInt("MAX_KEY_LENGTH", 512),
		MaxValueSize:       envInt64("MAX_VALUE_SIZE", 5<<20), // Accept values past the ceilings so the guard can classify them
		MaxBatchItems:      envInt("MAX_BATCH_ITEMS", 500),
		MaxPaginationLimit: envInt("MAX_PAGINATION_LIMIT", 1000),

		// Request processing settings
		RequestTimeout:  envDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Rate limiting settings
		ThrottleLimit:          envInt("THROTTLE_LIMIT", 1000),
		ThrottleBacklogLimit:   envInt("THROTTLE_BACKLOG_LIMIT", 50),
		ThrottleBacklogTimeout: envDuration("THROTTLE_BACKLOG_TIMEOUT", 30*time.Second),

		EchoRateLimit:          envFloat64("ECHO_RATE_LIMIT", 100),
		EchoBurstLimit:         envInt("ECHO_BURST_LIMIT", 200),
		EchoRateLimitExpiresIn: envDuration("ECHO_RATE_LIMIT_EXPIRES_IN", 3*time.Minute),

		// Compression settings
		EnableCompression: envBool("ENABLE_COMPRESSION", true),
		CompressionLevel:  envInt("COMPRESSION_LEVEL", 5),

		// Security headers
		SecurityHeaders: envStringMap("SECURITY_HEADERS", map[string]string{
			"X-Content-Type-Options": "nosniff",
			"X-Frame-Options":        "DENY",
			"X-XSS-Protection":       "1; mode=block",
		}),

		// Selective logging settings
		EnableRequestLogging:  envBool("ENABLE_REQUEST_LOGGING", false),
		EnableSecurityLogging: envBool("ENABLE_SECURITY_LOGGING", true),
		SuppressItemLogging:   envBool("SUPPRESS_ITEM_LOGGING", true), // Suppress per-item write logs

		// Performance-oriented logging controls
		EnableErrorLogging:      envBool("ENABLE_ERROR_LOGGING", true),       // Error logging (default: enabled)
		EnableWarnLogging:       envBool("ENABLE_WARN_LOGGING", true),        // Warning logging (default: enabled)
		EnableValidationLogging: envBool("ENABLE_VALIDATION_LOGGING", false), // Validation logging (default: disabled for performance)
	}

	return config
}

// DisplayConfiguration shows the current configuration
func (cfg *Config) DisplayConfiguration() {
	fmt.Println("⚙️  Configuration:")
	fmt.Printf("   Port: %s\n", cfg.Port)
	fmt.Printf("   Host: %s\n", cfg.Host)
	if cfg.EnableTLS {
		fmt.Printf("   TLS Port: %s\n", cfg.TLSPort)
		fmt.Printf("   TLS Cache Dir: %s\n", cfg.TLSCacheDir)
		if len(cfg.TLSHosts) > 0 {
			fmt.Printf("   TLS Hosts: %v\n", cfg.TLSHosts)
		} else {
			fmt.Printf("   TLS Hosts: Any (development mode)\n")
		}
		fmt.Printf("   HTTPS Only: %t\n", cfg.EnableHTTPSOnly)
	}
	fmt.Printf("   Data Directory: %s\n", cfg.DataDir)
	fmt.Printf("   Backup Directory: %s\n", cfg.BackupDir)
	fmt.Printf("   Pending Directory: %s\n", cfg.PendingDir)
	fmt.Printf("   Authentication: %t\n", cfg.EnableAuth)
	fmt.Printf("   Performance Mode: %v\n", cfg.PerformanceMode)
	fmt.Printf("   Block Cache Size: %d bytes (%.1f MB)\n", cfg.BlockCacheSize, float64(cfg.BlockCacheSize)/(1024*1024))
	fmt.Printf("   Backup Interval: %v\n", cfg.BackupInterval)
	fmt.Printf("   GC Interval: %v\n", cfg.GCInterval)
	fmt.Printf("   Startup Maintenance: %t\n", cfg.EnableStartupMaintenance)

	fmt.Printf("\n📦 Write Queue:\n")
	fmt.Printf("   Debounce Interval: %v\n", cfg.DebounceInterval)
	fmt.Printf("   Batch Size: %d concurrent writes\n", cfg.WriteBatchSize)
	fmt.Printf("   Batch Delay: %v\n", cfg.WriteBatchDelay)
	fmt.Printf("   Max Attempts: %d per write\n", cfg.WriteMaxAttempts)
	fmt.Printf("   Max Pending: %d keys\n", cfg.WriteMaxPending)

	fmt.Printf("\n🛡️  Storage Guard:\n")
	fmt.Printf("   Item Size Ceiling: %d bytes (%.0f KB)\n", cfg.ItemSizeCeiling, float64(cfg.ItemSizeCeiling)/1024)
	fmt.Printf("   Emergency Item Ceiling: %d bytes (%.1f MB)\n", cfg.EmergencyItemSizeCeiling, float64(cfg.EmergencyItemSizeCeiling)/(1024*1024))
	fmt.Printf("   Max Storage: %d bytes (%.1f MB)\n", cfg.MaxStorageBytes, float64(cfg.MaxStorageBytes)/(1024*1024))
	fmt.Printf("   Cleanup Threshold: %.0f%%\n", cfg.CleanupThreshold*100)
	fmt.Printf("   Monitor Interval: %v\n", cfg.MonitorInterval)
	fmt.Printf("   Cache Prefixes: %v\n", cfg.CachePrefixes)
	fmt.Printf("   Dangerous Prefixes: %v\n", cfg.DangerousPrefixes)
	fmt.Printf("   Sweep Prefixes: %v\n", cfg.SweepPrefixes)
	fmt.Printf("   Preserved Keys: %v\n", cfg.PreservedKeys)

	fmt.Printf("\n🔐 Security & Authentication:\n")
	if cfg.EnableAuth {
		fmt.Printf("   API Authentication: Enabled\n")
	} else {
		fmt.Printf("   API Authentication: Disabled\n")
	}
	fmt.Printf("   Allowed Origins: %v\n", cfg.AllowedOrigins)
	if len(cfg.AllowedIPs) > 0 {
		fmt.Printf("   IP Allowlist: %v\n", cfg.AllowedIPs)
	} else {
		fmt.Printf("   IP Allowlist: All IPs allowed\n")
	}

	fmt.Printf("\n⚡ Performance & Rate Limiting:\n")
	fmt.Printf("   Max Value Size: %d bytes (%.1f MB)\n", cfg.MaxValueSize, float64(cfg.MaxValueSize)/(1024*1024))
	fmt.Printf("   Request Timeout: %v\n", cfg.RequestTimeout)
	fmt.Printf("   Shutdown Timeout: %v\n", cfg.ShutdownTimeout)
	fmt.Printf("   Throttle Limit: %d concurrent requests\n", cfg.ThrottleLimit)
	fmt.Printf("   Throttle Backlog: %d queued requests\n", cfg.ThrottleBacklogLimit)
	fmt.Printf("   Throttle Timeout: %v\n", cfg.ThrottleBacklogTimeout)

	fmt.Printf("\n🗜️ Compression & Logging:\n")
	if cfg.EnableCompression {
		fmt.Printf("   Compression: Enabled (Level %d)\n", cfg.CompressionLevel)
	} else {
		fmt.Printf("   Compression: Disabled\n")
	}
	fmt.Printf("   Request Logging: %v\n", cfg.EnableRequestLogging)
	fmt.Printf("   Security Logging: %v\n", cfg.EnableSecurityLogging)
	fmt.Printf("   Item Logging Suppressed: %v\n", cfg.SuppressItemLogging)
	fmt.Println()
}

// Helper functions to get environment variables with defaults

func env(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func envInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func envBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func envStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		if value == "" {
			return defaultValue
		}
		// Parse comma-separated values
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func envStringMap(key string, defaultValue map[string]string) map[string]string {
	if value, exists := os.LookupEnv(key); exists {
		if value == "" {
			return defaultValue
		}
		// Parse key=value,key2=value2 format
		result := make(map[string]string)
		pairs := strings.Split(value, ",")
		for _, pair := range pairs {
			if kv := strings.SplitN(strings.TrimSpace(pair), "=", 2); len(kv) == 2 {
				key := strings.TrimSpace(kv[0])
				val := strings.TrimSpace(kv[1])
				if key != "" {
					result[key] = val
				}
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func envFloat64(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
