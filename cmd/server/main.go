// Package main runs the Storage Guard Server: a reliability layer for
// on-device key-value storage. Writes are debounced per key and flushed in
// small concurrent batches, corrupted and oversized entries are detected and
// quarantined, expired cache data is evicted by policy, and emergency
// recovery restores a writable store after disk-full or row-corruption
// failures.
//
// ## Shutdown Handling:
// - Graceful shutdown (single Ctrl+C or SIGTERM): refuses new requests,
//   drains the write queue within the configured timeout, and persists
//   whatever could not be flushed for the next start.
// - Emergency shutdown (double Ctrl+C within 3 seconds, or SIGUSR1):
//   persists unflushed writes immediately and abandons the server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"storage-guard-server/internal/handlers"
	"storage-guard-server/pkg/config"
	"storage-guard-server/pkg/logger"
	custommiddleware "storage-guard-server/pkg/middleware"
	"storage-guard-server/pkg/storage"
	tls "storage-guard-server/pkg/tls"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// main orchestrates the complete server lifecycle.
//
// ## Initialization Sequence:
// 1. **Logger Setup** - Structured logging with environment configuration
// 2. **Configuration Loading** - Environment variables and .env file
// 3. **Directory Creation** - Data, backup, pending-write, and log directories
// 4. **Storage Initialization** - BadgerDB plus the guard stack (write queue,
//    corruption detector, cleanup engine, recovery engine, usage monitor)
// 5. **Router Configuration** - Echo router with middleware and routes
// 6. **Server Startup** - HTTP or AutoTLS with shutdown handling
//
// The server runs until terminated by signal or fatal error.
func main() {
	// Print startup banner with server identification
	printStartupBanner()

	// The logger opens files under logs/ in file-backed modes, so the
	// directory must exist before initialization.
	if err := os.MkdirAll("./logs", 0755); err != nil {
		fmt.Printf("Warning: Failed to create logs directory: %v\n", err)
	}

	// Initialize structured logger with environment-based configuration
	appLogger, err := logger.CreateLoggerFromEnv()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Storage Guard Server")

	// Load configuration from environment variables and .env file
	cfg := config.Load()

	// Create necessary directories for data, backups, and pending writes
	createDirectories(cfg)

	// Display current configuration for operational visibility
	cfg.DisplayConfiguration()

	// Log comprehensive server configuration and system status
	logComprehensiveStartupInfo(appLogger, cfg)

	// Initialize BadgerDB and the storage guard stack
	store, guard, gc, backups, err := initializeStorage(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	// Initialize shutdown handler for coordinated shutdown management
	shutdownHandler := handlers.NewShutdownHandler(appLogger)

	// Setup Echo router with middleware stack and route definitions
	router := setupRouter(cfg, store, guard, gc, backups, shutdownHandler, appLogger)

	// Log router and middleware configuration
	appLogger.Info("HTTP Router Configuration",
		zap.String("framework", "Echo v4"),
		zap.String("middleware_stack", "shutdown_guard, rate_limiting, security, compression, authentication"),
	)

	// Log API endpoints configuration
	appLogger.Info("API Endpoints Configuration",
		zap.String("api_version", "v1"),
		zap.String("api_base_path", "/api/v1"),
		zap.Strings("item_endpoints", []string{
			"POST /api/v1/items",
			"POST /api/v1/items/batch",
			"GET /api/v1/items/{key}",
			"GET /api/v1/items/{key}/status",
			"DELETE /api/v1/items/{key}",
			"GET /api/v1/keys",
			"GET /api/v1/keys/count",
		}),
		zap.Strings("management_endpoints", []string{
			"POST /api/v1/maintenance/flush",
			"POST /api/v1/maintenance/cleanup",
			"POST /api/v1/maintenance/recovery",
			"GET /api/v1/storage/info",
			"POST /api/v1/backup",
			"POST /api/v1/gc",
			"GET /api/v1/metrics",
		}),
		zap.Strings("health_endpoints", []string{
			"GET /health",
			"GET /health/detailed",
		}),
	)

	// Display server startup information and available endpoints
	displayServerInfo(cfg)

	displayControlInstructions(cfg)

	// Configure AutoTLS before the server starts when HTTPS is enabled
	if cfg.EnableTLS {
		if err := tls.ValidateAutoTLSConfig(cfg); err != nil {
			appLogger.Fatal("Invalid AutoTLS configuration", zap.Error(err))
		}
		tls.SetupAutoTLS(router, cfg, appLogger)
		appLogger.Info("Starting HTTPS server with AutoTLS",
			zap.String("port", cfg.TLSPort),
			zap.Strings("hosts", cfg.TLSHosts),
			zap.Bool("https_only", cfg.EnableHTTPSOnly),
		)
	} else {
		appLogger.Info("Starting HTTP server",
			zap.String("host", cfg.Host),
			zap.String("port", cfg.Port),
			zap.String("full_address", fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)),
		)
	}

	// Start the server and block until a shutdown signal arrives
	startServerWithShutdown(router, cfg, appLogger, shutdownHandler, guard, gc, backups)
}

// initializeStorage opens BadgerDB and wires the storage guard stack over it:
// garbage collection, automated backups, the debounced write queue, cleanup,
// recovery, and the usage monitor.
func initializeStorage(cfg *config.Config, appLogger *zap.Logger) (*storage.BadgerStore, *storage.Guard, *storage.GarbageCollector, *storage.BackupManager, error) {
	appLogger.Info("Initializing BadgerDB storage with reliability enhancements...")

	badgerDir := filepath.Join(cfg.DataDir, "badger")

	store, err := storage.NewBadgerStore(storage.BadgerStoreOptions{
		Dir:             badgerDir,
		SyncWrites:      cfg.SyncWrites,
		PerformanceMode: cfg.PerformanceMode,
		BlockCacheSize:  cfg.BlockCacheSize,
		ReadCacheSize:   cfg.ReadCacheSize,
	}, appLogger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize BadgerDB storage: %w", err)
	}

	gc := storage.NewGarbageCollector(store, cfg.GCInterval, cfg.GCDiscardRatio, appLogger)

	backups := storage.NewBackupManager(store, storage.BackupOptions{
		Dir:        cfg.BackupDir,
		Interval:   cfg.BackupInterval,
		MaxBackups: cfg.MaxBackups,
	}, appLogger)

	guard := storage.NewGuard(store, storage.GuardOptions{
		Queue: storage.WriteQueueOptions{
			DebounceInterval: cfg.DebounceInterval,
			BatchSize:        cfg.WriteBatchSize,
			BatchDelay:       cfg.WriteBatchDelay,
			MaxAttempts:      cfg.WriteMaxAttempts,
			MaxPending:       cfg.WriteMaxPending,
		},
		Cleanup: storage.CleanupOptions{
			CachePrefixes:    cfg.CachePrefixes,
			ItemCeilingBytes: cfg.ItemSizeCeiling,
		},
		Recovery: storage.RecoveryOptions{
			DangerousPrefixes:         cfg.DangerousPrefixes,
			SweepPrefixes:             cfg.SweepPrefixes,
			EmergencyItemCeilingBytes: cfg.EmergencyItemSizeCeiling,
		},
		Monitor: storage.MonitorOptions{
			Interval:         cfg.MonitorInterval,
			MaxTotalBytes:    cfg.MaxStorageBytes,
			CleanupThreshold: cfg.CleanupThreshold,
		},
		PreservedKeys: cfg.PreservedKeys,
		RecoveryDir:   cfg.PendingDir,
		BeforeNuclear: func() {
			// Last-chance snapshot before the store is wiped.
			if path, err := backups.BackupNow(); err != nil {
				appLogger.Error("Pre-recovery backup failed", zap.Error(err))
			} else {
				appLogger.Warn("Pre-recovery backup created", zap.String("path", path))
			}
		},
	}, appLogger)

	// Restore writes persisted at the previous shutdown and clear any
	// accumulated junk before traffic arrives.
	if cfg.EnableStartupMaintenance {
		if err := guard.StartupMaintenance(); err != nil {
			appLogger.Warn("Startup maintenance finished with errors", zap.Error(err))
		} else {
			appLogger.Info("Startup maintenance completed")
		}
	} else {
		appLogger.Info("Startup maintenance disabled - pending-write snapshots will be ignored")
	}

	// Start value-log garbage collection for automatic space reclamation
	gc.Start()

	// Start automated backup system with configured interval
	if err := backups.Start(); err != nil {
		appLogger.Warn("Failed to start automated backups", zap.Error(err))
	} else {
		appLogger.Info("Automated backup system started")
	}

	// Start continuous storage monitoring for usage-driven cleanup
	guard.StartMonitoring()
	appLogger.Info("Storage monitoring started", zap.Duration("interval", cfg.MonitorInterval))

	// Log comprehensive storage initialization details
	appLogger.Info("BadgerDB Storage System Initialized",
		zap.String("badger_data_dir", badgerDir),
		zap.String("backup_dir", cfg.BackupDir),
		zap.String("pending_dir", cfg.PendingDir),
		zap.Duration("backup_interval", cfg.BackupInterval),
		zap.Int("max_backups", cfg.MaxBackups),
		zap.Duration("gc_interval", cfg.GCInterval),
		zap.Float64("gc_discard_ratio", cfg.GCDiscardRatio),
	)

	appLogger.Info("Write Queue Configuration",
		zap.Duration("debounce_interval", cfg.DebounceInterval),
		zap.Int("batch_size", cfg.WriteBatchSize),
		zap.Duration("batch_delay", cfg.WriteBatchDelay),
		zap.Int("max_attempts", cfg.WriteMaxAttempts),
		zap.Int("max_pending", cfg.WriteMaxPending),
		zap.String("write_strategy", "per-key debounce with last-write-wins coalescing"),
	)

	appLogger.Info("Storage Guard Thresholds",
		zap.Int64("item_size_ceiling_bytes", cfg.ItemSizeCeiling),
		zap.Int64("emergency_item_size_ceiling_bytes", cfg.EmergencyItemSizeCeiling),
		zap.Int64("max_storage_bytes", cfg.MaxStorageBytes),
		zap.Float64("cleanup_threshold", cfg.CleanupThreshold),
		zap.Duration("monitor_interval", cfg.MonitorInterval),
	)

	// Get initial storage health status
	appLogger.Info("Initial Storage Health Status",
		zap.String("health", guard.Health().String()),
		zap.Any("health_metrics", guard.HealthSummary()),
	)

	appLogger.Info("Storage System Ready",
		zap.String("status", "fully_initialized"),
		zap.String("storage_type", "BadgerDB"),
		zap.String("features", "write_queue, corruption_detection, cleanup, recovery, monitoring, backup, gc"),
	)

	return store, guard, gc, backups, nil
}

// setupRouter configures the Echo router with the middleware stack and all
// API routes.
//
// ## Middleware Stack (Applied in Order):
// 1. **Shutdown Middleware** - CRITICAL: refuses requests during shutdown
// 2. **Rate Limiting** - Echo limiter plus concurrency throttle with backlog
// 3. **Security** - IP allowlisting, security headers, CORS
// 4. **Compression** - Response compression based on Accept-Encoding
// 5. **Authentication** - API key validation for protected endpoints
//
// ## Route Categories:
// - **Health Endpoints**: Public health checks and system status
// - **Item Routes**: Queued key-value writes, reads, status, key listing
// - **Management Routes**: Flush, cleanup, recovery, backup, GC, metrics
func setupRouter(cfg *config.Config, store *storage.BadgerStore, guard *storage.Guard, gc *storage.GarbageCollector, backups *storage.BackupManager, shutdownHandler *handlers.ShutdownHandler, appLogger *zap.Logger) *echo.Echo {
	e := echo.New()

	// CRITICAL: Apply shutdown middleware FIRST to immediately refuse requests during shutdown
	e.Use(shutdownHandler.Middleware())

	// Apply comprehensive middleware stack (rate limiting, security, compression, auth).
	// The returned throttle is surfaced through the metrics endpoint.
	throttle := custommiddleware.SetupMiddleware(e, cfg, appLogger)

	itemHandler := handlers.NewItemHandler(guard, appLogger, cfg)
	maintenanceHandler := handlers.NewMaintenanceHandler(guard, gc, backups, appLogger, cfg)
	healthHandler := handlers.NewHealthHandler(guard, store, gc, backups, throttle, appLogger)

	// Health check routes (publicly accessible, no authentication required)
	e.GET("/health", healthHandler.HealthCheck)
	e.GET("/health/detailed", healthHandler.DetailedHealthCheck)
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	// Service identification at root path
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"service": "storage-guard-server",
			"status":  "running",
		})
	})

	// API v1 route group (subject to authentication if enabled)
	api := e.Group("/api/v1")

	// Item routes: writes are queued and flushed asynchronously
	items := api.Group("/items")
	items.POST("", itemHandler.StoreItem)                // Queue a single item write
	items.POST("/batch", itemHandler.BatchStoreItems)    // Queue a batch of item writes
	items.GET("/:key", itemHandler.GetItem)              // Retrieve item value by key
	items.GET("/:key/status", itemHandler.GetItemStatus) // Check item write/health status
	items.DELETE("/:key", itemHandler.DeleteItem)        // Delete item by key

	api.GET("/keys", itemHandler.ListKeys)          // List keys with pagination
	api.GET("/keys/count", itemHandler.GetKeyCount) // Total key count

	// Maintenance routes: manual triggers for the guard's background jobs
	maintenance := api.Group("/maintenance")
	maintenance.POST("/flush", maintenanceHandler.FlushWrites)    // Flush all pending writes now
	maintenance.POST("/cleanup", maintenanceHandler.RunCleanup)   // Run the cleanup policy engine
	maintenance.POST("/recovery", maintenanceHandler.RunRecovery) // Run emergency recovery

	// System management and monitoring routes
	api.GET("/storage/info", maintenanceHandler.GetStorageInfo) // Storage usage snapshot
	api.POST("/backup", maintenanceHandler.CreateBackup)        // Manual backup creation
	api.POST("/gc", maintenanceHandler.TriggerGC)               // Manual garbage collection
	api.GET("/metrics", healthHandler.GetMetrics)               // System metrics and statistics

	return e
}

// startServerWithShutdown starts the HTTP or HTTPS listener and blocks on
// the signal loop, distinguishing graceful from emergency shutdown.
func startServerWithShutdown(e *echo.Echo, cfg *config.Config, appLogger *zap.Logger, shutdownHandler *handlers.ShutdownHandler, guard *storage.Guard, gc *storage.GarbageCollector, backups *storage.BackupManager) {
	// Phase 1

	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.TLSServer.ReadTimeout = cfg.ReadTimeout
	e.TLSServer.WriteTimeout = cfg.WriteTimeout

	// Start server in background goroutine for non-blocking operation
	go func() {
		var err error
		if cfg.EnableTLS {
			err = e.StartAutoTLS(":" + cfg.TLSPort)
		} else {
			err = e.Start(fmt.Sprintf("%s:%s", cfg.Host, cfg.Port))
		}
		if err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	displaySuccessInfo()

	// Phase 2

	// Setup signal handling
	quit := make(chan os.Signal, 2) // Buffer for detecting double signals
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	var firstSignal os.Signal
	var firstSignalTime time.Time

	for {
		sig := <-quit
		now := time.Now()

		// IMMEDIATELY set shutdown state to refuse new requests
		shutdownHandler.InitiateShutdown()

		if firstSignal == nil {
			fmt.Println("=== CTRL+C received, wait for 3s ...")
		}

		// Determine shutdown type
		isEmergency := false

		switch sig {
		case syscall.SIGUSR1:
			// SIGUSR1 always triggers emergency shutdown
			isEmergency = true
			fmt.Println("=== SIGUSR1")

		case syscall.SIGINT, syscall.SIGTERM:
			if firstSignal == nil {
				// First signal
				firstSignal = sig
				firstSignalTime = now

				// Wait for potential second signal
				go func() {
					time.Sleep(3 * time.Second)
					// If we're still waiting, proceed with graceful shutdown
					select {
					case quit <- syscall.SIGTERM: // Send a delayed graceful signal
						fmt.Println("=== SIGTERM")
					default:
						fmt.Println("=== SIGTERM (not accepted)")
					}
				}()
				continue

			} else {
				// Second signal - check timing
				timeSinceFirst := now.Sub(firstSignalTime)
				if timeSinceFirst <= 3*time.Second {
					isEmergency = true
				}
			}
		}

		// Execute shutdown
		if isEmergency {
			performEmergencyShutdown(e, appLogger, guard)
		} else {
			performGracefulShutdown(e, cfg, appLogger, guard, gc, backups)
		}
		return
	}
}

// performGracefulShutdown drains the HTTP server, stops the background
// loops, and closes the guard so pending writes are flushed or persisted.
func performGracefulShutdown(e *echo.Echo, cfg *config.Config, appLogger *zap.Logger, guard *storage.Guard, gc *storage.GarbageCollector, backups *storage.BackupManager) {
	startTime := time.Now()

	// Create shutdown deadline to prevent hanging
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Create a channel to track shutdown completion
	shutdownDone := make(chan error, 1)

	// Start shutdown in goroutine to monitor progress
	go func() {
		shutdownDone <- e.Shutdown(ctx)
	}()

	// Monitor shutdown progress
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

wait:
	for {
		select {
		case err := <-shutdownDone:
			totalDuration := time.Since(startTime)
			if err != nil {
				appLogger.Error("HTTP server shutdown failed", zap.Error(err), zap.Duration("duration", totalDuration))
				fmt.Printf("HTTP server shutdown - FAILED (%v) [%v]\n", err, totalDuration)
			} else {
				appLogger.Info("HTTP server shutdown completed", zap.Duration("duration", totalDuration))
				fmt.Printf("HTTP server shutdown - SUCCESS [%v]\n", totalDuration)
			}
			break wait

		case <-ticker.C:
			elapsed := time.Since(startTime)
			remaining := cfg.ShutdownTimeout - elapsed
			fmt.Printf("HTTP server shutdown - WAITING [%v] | [%v]\n", elapsed, remaining)

		case <-ctx.Done():
			elapsed := time.Since(startTime)
			appLogger.Error("HTTP server shutdown timeout", zap.Duration("elapsed", elapsed))
			fmt.Printf("HTTP server shutdown - TIMEOUT (%v) [%v]\n", ctx.Err(), elapsed)
			break wait
		}
	}

	// Background loops stop before the queue drains so nothing races the
	// final flush.
	gc.Stop()
	backups.Stop()

	if err := guard.Close(cfg.ShutdownTimeout); err != nil {
		appLogger.Error("Storage guard shutdown failed", zap.Error(err))
		fmt.Printf("Storage guard shutdown - FAILED (%v) [%v]\n", err, time.Since(startTime))
	} else {
		appLogger.Info("Storage guard shutdown completed")
		fmt.Printf("Storage guard shutdown - SUCCESS [%v]\n", time.Since(startTime))
	}
}

// performEmergencyShutdown persists unflushed writes and abandons the server.
func performEmergencyShutdown(e *echo.Echo, appLogger *zap.Logger, guard *storage.Guard) {
	startTime := time.Now()

	// Step 1: Persist unflushed writes first (data preservation)
	if err := guard.EmergencyShutdown(); err != nil {
		appLogger.Error("Emergency storage shutdown failed", zap.Error(err))
		fmt.Printf("Emergency storage shutdown - FAILED (%v)\n", err)
	}

	// Step 2: Force immediate server shutdown
	if err := e.Close(); err != nil {
		elapsed := time.Since(startTime)
		appLogger.Error("HTTP server emergency shutdown failed", zap.Error(err), zap.Duration("duration", elapsed))
		fmt.Printf("HTTP server emergency shutdown - FAILED (%v) [%v]\n", err, elapsed)
	} else {
		elapsed := time.Since(startTime)
		appLogger.Info("HTTP server emergency shutdown completed", zap.Duration("duration", elapsed))
		fmt.Printf("HTTP server emergency shutdown - SUCCESS [%v]\n", elapsed)
	}

	// Step 3: Exit immediately (abandon server)
	fmt.Println("🚨 EMERGENCY SHUTDOWN: Server abandoned")
	os.Exit(1)
}

// logComprehensiveStartupInfo logs detailed server configuration and system status on startup.
// This provides complete operational visibility for debugging, monitoring, and audit purposes.
func logComprehensiveStartupInfo(appLogger *zap.Logger, cfg *config.Config) {
	// Get system information
	hostname, _ := os.Hostname()
	pid := os.Getpid()
	wd, _ := os.Getwd()

	// Get memory statistics
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// System Environment Information
	appLogger.Info("System Environment",
		zap.String("go_version", runtime.Version()),
		zap.String("go_os", runtime.GOOS),
		zap.String("go_arch", runtime.GOARCH),
		zap.String("hostname", hostname),
		zap.Int("process_id", pid),
		zap.String("working_directory", wd),
		zap.Int("cpu_count", runtime.NumCPU()),
		zap.Int("max_procs", runtime.GOMAXPROCS(0)),
	)

	// Memory and Runtime Statistics
	appLogger.Info("Runtime Memory Statistics",
		zap.Uint64("heap_alloc_bytes", memStats.HeapAlloc),
		zap.Uint64("heap_sys_bytes", memStats.HeapSys),
		zap.Uint64("heap_idle_bytes", memStats.HeapIdle),
		zap.Uint64("heap_inuse_bytes", memStats.HeapInuse),
		zap.Uint64("stack_inuse_bytes", memStats.StackInuse),
		zap.Uint64("stack_sys_bytes", memStats.StackSys),
		zap.Uint32("num_gc", memStats.NumGC),
		zap.Uint64("total_alloc_bytes", memStats.TotalAlloc),
	)

	// HTTP Server Configuration
	appLogger.Info("HTTP Server Configuration",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.Duration("read_timeout", cfg.ReadTimeout),
		zap.Duration("write_timeout", cfg.WriteTimeout),
		zap.Duration("request_timeout", cfg.RequestTimeout),
		zap.Duration("shutdown_timeout", cfg.ShutdownTimeout),
	)

	// TLS/HTTPS Configuration
	if cfg.EnableTLS {
		appLogger.Info("TLS/HTTPS Configuration",
			zap.Bool("tls_enabled", cfg.EnableTLS),
			zap.String("tls_port", cfg.TLSPort),
			zap.String("tls_cache_dir", cfg.TLSCacheDir),
			zap.Strings("tls_hosts", cfg.TLSHosts),
			zap.Bool("https_only", cfg.EnableHTTPSOnly),
		)
	} else {
		appLogger.Info("TLS/HTTPS Configuration",
			zap.Bool("tls_enabled", false),
			zap.String("note", "Server will run in HTTP-only mode"),
		)
	}

	// Write Queue Configuration
	appLogger.Info("Write Queue Configuration",
		zap.Duration("debounce_interval", cfg.DebounceInterval),
		zap.Int("batch_size", cfg.WriteBatchSize),
		zap.Duration("batch_delay", cfg.WriteBatchDelay),
		zap.Int("max_attempts", cfg.WriteMaxAttempts),
		zap.Int("max_pending", cfg.WriteMaxPending),
		zap.String("note", "Repeated writes to a key within the debounce window coalesce, last write wins"),
	)

	// Storage Guard Thresholds
	appLogger.Info("Storage Guard Configuration",
		zap.Int64("item_size_ceiling_bytes", cfg.ItemSizeCeiling),
		zap.Int64("emergency_item_size_ceiling_bytes", cfg.EmergencyItemSizeCeiling),
		zap.Int64("max_storage_bytes", cfg.MaxStorageBytes),
		zap.Float64("max_storage_mb", float64(cfg.MaxStorageBytes)/(1024*1024)),
		zap.Float64("cleanup_threshold", cfg.CleanupThreshold),
		zap.Duration("monitor_interval", cfg.MonitorInterval),
		zap.Bool("startup_maintenance", cfg.EnableStartupMaintenance),
	)

	// Cleanup and Recovery Policy
	appLogger.Info("Cleanup & Recovery Policy",
		zap.Strings("cache_prefixes", cfg.CachePrefixes),
		zap.Strings("dangerous_prefixes", cfg.DangerousPrefixes),
		zap.Strings("sweep_prefixes", cfg.SweepPrefixes),
		zap.Strings("preserved_keys", cfg.PreservedKeys),
	)

	// Storage System Configuration
	appLogger.Info("Storage System Configuration",
		zap.String("data_directory", cfg.DataDir),
		zap.String("backup_directory", cfg.BackupDir),
		zap.String("pending_directory", cfg.PendingDir),
		zap.Duration("backup_interval", cfg.BackupInterval),
		zap.Int("max_backups", cfg.MaxBackups),
		zap.Duration("gc_interval", cfg.GCInterval),
		zap.Float64("gc_discard_ratio", cfg.GCDiscardRatio),
	)

	// Performance and Optimization Settings
	appLogger.Info("Performance Configuration",
		zap.Bool("performance_mode", cfg.PerformanceMode),
		zap.Int64("block_cache_size_bytes", cfg.BlockCacheSize),
		zap.Float64("block_cache_size_mb", float64(cfg.BlockCacheSize)/(1024*1024)),
		zap.Int("read_cache_entries", cfg.ReadCacheSize),
		zap.Bool("sync_writes", cfg.SyncWrites),
	)

	// Authentication and Security Configuration
	appLogger.Info("Authentication & Security Configuration",
		zap.Bool("auth_enabled", cfg.EnableAuth),
		zap.Bool("api_key_configured", cfg.APIKey != ""),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.Strings("allowed_ips", cfg.AllowedIPs),
		zap.Bool("ip_restrictions", len(cfg.AllowedIPs) > 0),
	)

	// Rate Limiting Configuration
	appLogger.Info("Rate Limiting Configuration",
		zap.Int("throttle_limit", cfg.ThrottleLimit),
		zap.Int("throttle_backlog_limit", cfg.ThrottleBacklogLimit),
		zap.Duration("throttle_backlog_timeout", cfg.ThrottleBacklogTimeout),
		zap.Float64("echo_rate_limit", cfg.EchoRateLimit),
		zap.Int("echo_burst_limit", cfg.EchoBurstLimit),
		zap.Duration("echo_rate_limit_expires_in", cfg.EchoRateLimitExpiresIn),
	)

	// Compression Configuration
	if cfg.EnableCompression {
		appLogger.Info("Compression Configuration",
			zap.Bool("compression_enabled", cfg.EnableCompression),
			zap.Int("compression_level", cfg.CompressionLevel),
		)
	} else {
		appLogger.Info("Compression Configuration",
			zap.Bool("compression_enabled", false),
			zap.String("note", "Response compression is disabled"),
		)
	}

	// Validation Limits Configuration
	appLogger.Info("Validation Limits Configuration",
		zap.Int("max_key_length", cfg.MaxKeyLength),
		zap.Int64("max_value_size_bytes", cfg.MaxValueSize),
		zap.Int("max_batch_items", cfg.MaxBatchItems),
		zap.Int("max_pagination_limit", cfg.MaxPaginationLimit),
	)

	// Logging Configuration
	appLogger.Info("Logging Configuration",
		zap.Bool("request_logging", cfg.EnableRequestLogging),
		zap.Bool("security_logging", cfg.EnableSecurityLogging),
		zap.Bool("item_logging_suppressed", cfg.SuppressItemLogging),
		zap.Bool("error_logging", cfg.EnableErrorLogging),
		zap.Bool("warn_logging", cfg.EnableWarnLogging),
		zap.Bool("validation_logging", cfg.EnableValidationLogging),
	)

	// Directory Status Verification
	directories := []string{cfg.DataDir, cfg.BackupDir, cfg.PendingDir, "./logs"}
	if cfg.EnableTLS {
		directories = append(directories, cfg.TLSCacheDir)
	}

	for _, dir := range directories {
		if stat, err := os.Stat(dir); err == nil {
			appLogger.Info("Directory Status",
				zap.String("path", dir),
				zap.String("status", "exists"),
				zap.Bool("is_directory", stat.IsDir()),
				zap.String("permissions", stat.Mode().String()),
				zap.Time("modified", stat.ModTime()),
			)
		} else {
			appLogger.Warn("Directory Status",
				zap.String("path", dir),
				zap.String("status", "missing or inaccessible"),
				zap.Error(err),
			)
		}
	}

	// Security Headers Configuration
	if len(cfg.SecurityHeaders) > 0 {
		for key, value := range cfg.SecurityHeaders {
			appLogger.Info("Security Header",
				zap.String("header", key),
				zap.String("value", value),
			)
		}
	}
}

// printStartupBanner displays the server identification banner.
func printStartupBanner() {
	fmt.Println("🚀 Starting Storage Guard Server...")
}

// createDirectories creates all necessary directories for server operation.
// It ensures data, backup, pending-write, and TLS certificate directories
// exist with proper permissions.
func createDirectories(cfg *config.Config) {
	fmt.Println("📁 Creating data directories...")

	directories := []string{
		cfg.DataDir,    // Main data storage directory
		cfg.BackupDir,  // Backup storage directory
		cfg.PendingDir, // Pending-write snapshots saved at shutdown
		"./logs",       // Application log directory
	}

	// Add TLS cache directory if TLS is enabled
	if cfg.EnableTLS {
		directories = append(directories, cfg.TLSCacheDir)
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Printf("Warning: Failed to create directory %s: %v\n", dir, err)
		}
	}
}

// displayServerInfo shows server startup information and available endpoints.
// It provides users with all necessary URLs and endpoint documentation for immediate use.
func displayServerInfo(cfg *config.Config) {
	if cfg.EnableTLS {
		fmt.Printf("✅ Starting HTTPS server on port %s...\n", cfg.TLSPort)
		if len(cfg.TLSHosts) > 0 {
			// Show URLs for configured hosts
			for _, host := range cfg.TLSHosts {
				fmt.Printf("📊 Health check: https://%s/health\n", host)
				fmt.Printf("📈 Metrics: https://%s/api/v1/metrics\n", host)
			}
		} else {
			fmt.Printf("📊 Health check: https://your-domain/health\n")
			fmt.Printf("📈 Metrics: https://your-domain/api/v1/metrics\n")
		}
		if cfg.EnableHTTPSOnly {
			fmt.Println("🔒 HTTPS-only mode: HTTP traffic will be redirected to HTTPS")
		}
	} else {
		fmt.Printf("✅ Starting HTTP server on %s:%s...\n", cfg.Host, cfg.Port)
		fmt.Printf("📊 Health check available at: http://%s:%s/health\n", cfg.Host, cfg.Port)
		fmt.Printf("📈 Metrics available at: http://%s:%s/api/v1/metrics\n", cfg.Host, cfg.Port)
	}
	fmt.Println("📚 API endpoints:")
	fmt.Println("   POST   /api/v1/items                - Queue an item write (returns HTTP 202 - queued)")
	fmt.Println("   POST   /api/v1/items/batch          - Queue a batch of item writes")
	fmt.Println("   GET    /api/v1/items/{key}          - Get item value by key")
	fmt.Println("   GET    /api/v1/items/{key}/status   - Check item write and health status")
	fmt.Println("   DELETE /api/v1/items/{key}          - Delete item by key")
	fmt.Println("   GET    /api/v1/keys                 - List keys (with pagination)")
	fmt.Println("   GET    /api/v1/keys/count           - Get total key count")
	fmt.Println("   GET    /api/v1/storage/info         - Storage usage snapshot")
	fmt.Println("   GET    /api/v1/metrics              - System metrics and statistics")
	fmt.Println("   POST   /api/v1/maintenance/flush    - Flush pending writes now")
	fmt.Println("   POST   /api/v1/maintenance/cleanup  - Run the cleanup policy engine")
	fmt.Println("   POST   /api/v1/maintenance/recovery - Run emergency recovery")
	fmt.Println("   POST   /api/v1/backup               - Create manual backup")
	fmt.Println("   POST   /api/v1/gc                   - Trigger garbage collection")
	fmt.Println("   GET    /health                      - Basic health check")
	fmt.Println("   GET    /health/detailed             - Detailed health check with metrics")
	fmt.Println()
}

func displayControlInstructions(cfg *config.Config) {
	fmt.Println("🛑 SERVER CONTROL INSTRUCTIONS")
	fmt.Println("• Single Ctrl+C or SIGTERM: Graceful shutdown (immediately refuses new requests, drains the write queue)")
	fmt.Println("• Double Ctrl+C within 3 seconds: Emergency shutdown (immediately refuses new requests + persists unflushed writes + stop)")
	fmt.Println("• SIGUSR1 signal: Emergency shutdown (immediately refuses new requests + persists unflushed writes + stop)")
	fmt.Println("• All new requests return HTTP 503 immediately upon any shutdown signal")
	fmt.Printf("• Unflushed writes are saved to: %s\n", cfg.PendingDir)
	fmt.Println()
}

func displaySuccessInfo() {
	fmt.Println("🟢 Server started successfully.")
	fmt.Println()
}
