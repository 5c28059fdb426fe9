package handlers

import (
	"net/http"
	"time"

	"storage-guard-server/pkg/middleware"
	"storage-guard-server/pkg/models"
	"storage-guard-server/pkg/storage"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// HealthHandler handles health check and monitoring endpoints
type HealthHandler struct {
	guard     *storage.Guard
	store     *storage.BadgerStore
	gc        *storage.GarbageCollector
	backups   *storage.BackupManager
	throttle  *middleware.RateLimiter
	startTime time.Time
	logger    *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(guard *storage.Guard, store *storage.BadgerStore, gc *storage.GarbageCollector, backups *storage.BackupManager, throttle *middleware.RateLimiter, appLogger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		guard:     guard,
		store:     store,
		gc:        gc,
		backups:   backups,
		throttle:  throttle,
		startTime: time.Now(),
		logger:    appLogger,
	}
}

// HealthCheck handles GET /health.
//
// Lightweight probe for load balancers: verifies the server responds and the
// store can be counted. Always returns HTTP 200 if the process is alive.
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).String(),
	}

	// A simple count verifies storage connectivity
	response.Metrics = map[string]interface{}{
		"item_count": h.store.ItemCount(),
	}

	return c.JSON(http.StatusOK, response)
}

// DetailedHealthCheck handles GET /health/detailed.
//
// Reports the guard's view of the system with adaptive status codes:
// 200 when healthy, 206 when degraded (queue near capacity, usage past the
// cleanup threshold, recovery in progress), 503 when unhealthy.
func (h *HealthHandler) DetailedHealthCheck(c echo.Context) error {
	health := h.guard.Health()

	response := models.HealthResponse{
		Status:    health.String(),
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).String(),
		Metrics:   h.guard.HealthSummary(),
	}

	statusCode := http.StatusOK
	switch health {
	case storage.HealthStatusUnhealthy:
		statusCode = http.StatusServiceUnavailable
	case storage.HealthStatusDegraded:
		statusCode = http.StatusPartialContent
	}

	return c.JSON(statusCode, response)
}

// GetMetrics handles GET /api/v1/metrics.
//
// Aggregates counters from every component of the storage stack: write queue,
// read cache, garbage collector, cleanup, recovery, monitor and throttle.
func (h *HealthHandler) GetMetrics(c echo.Context) error {
	response := models.MetricsResponse{
		ItemCount:    h.store.ItemCount(),
		DatabaseSize: h.store.DiskSize(),
		HealthStatus: h.guard.Health().String(),
		Queue:        h.guard.QueueMetrics(),
		Cache:        h.store.CacheStats(),
		GC:           h.gc.Metrics(),
	}

	if lastBackup := h.backups.LastBackupTime(); !lastBackup.IsZero() {
		response.LastBackup = &lastBackup
	}

	stats := h.guard.Stats()
	if m, ok := stats["cleanup"].(map[string]interface{}); ok {
		response.Cleanup = m
	}
	if m, ok := stats["recovery"].(map[string]interface{}); ok {
		response.Recovery = m
	}
	if m, ok := stats["monitor"].(map[string]interface{}); ok {
		response.Monitor = m
	}

	if h.throttle != nil {
		response.Throttle = h.throttle.GetStats()
	}

	return c.JSON(http.StatusOK, response)
}
