package handlers

import (
	"net/http"
	"time"

	"storage-guard-server/pkg/config"
	"storage-guard-server/pkg/models"
	"storage-guard-server/pkg/storage"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// MaintenanceHandler handles manually triggered storage maintenance operations
type MaintenanceHandler struct {
	guard   *storage.Guard
	gc      *storage.GarbageCollector
	backups *storage.BackupManager
	logger  *zap.Logger
	cfg     *config.Config
}

// NewMaintenanceHandler creates a new maintenance handler
func NewMaintenanceHandler(guard *storage.Guard, gc *storage.GarbageCollector, backups *storage.BackupManager, appLogger *zap.Logger, cfg *config.Config) *MaintenanceHandler {
	return &MaintenanceHandler{
		guard:   guard,
		gc:      gc,
		backups: backups,
		logger:  appLogger,
		cfg:     cfg,
	}
}

// FlushWrites handles POST /api/v1/maintenance/flush.
// Promotes every debounced write immediately and drains the queue before
// responding, so callers know the store reflects all accepted writes.
func (h *MaintenanceHandler) FlushWrites(c echo.Context) error {
	clientIP := c.RealIP()
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	h.logger.Info("Manual flush triggered",
		zap.String("client_ip", clientIP),
		zap.String("request_id", requestID))

	startTime := time.Now()

	if err := h.guard.Flush(); err != nil {
		h.logger.Error("Manual flush failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Flush failed",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	duration := time.Since(startTime)
	h.logger.Info("Manual flush completed",
		zap.String("request_id", requestID),
		zap.Duration("duration", duration))

	return c.JSON(http.StatusOK, models.StorageResponse{
		Success: true,
		Message: "Flush completed successfully",
		Data: models.MaintenanceResponse{
			Success: true,
			Action:  "flush",
			Result: map[string]interface{}{
				"duration": duration.String(),
				"queue":    h.guard.QueueMetrics(),
			},
		},
	})
}

// RunCleanup handles POST /api/v1/maintenance/cleanup.
// Applies the routine eviction policy (cache prefixes, oversized entries,
// expired envelopes) and reports how many keys were removed.
func (h *MaintenanceHandler) RunCleanup(c echo.Context) error {
	clientIP := c.RealIP()
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	h.logger.Info("Manual cleanup triggered",
		zap.String("client_ip", clientIP),
		zap.String("request_id", requestID))

	startTime := time.Now()
	result := h.guard.RunCleanup()
	duration := time.Since(startTime)

	h.logger.Info("Manual cleanup completed",
		zap.String("request_id", requestID),
		zap.Int("cleaned", result.Cleaned),
		zap.Int64("freed_bytes", result.FreedSpace),
		zap.Duration("duration", duration))

	return c.JSON(http.StatusOK, models.StorageResponse{
		Success: true,
		Message: "Cleanup completed successfully",
		Data: models.MaintenanceResponse{
			Success: true,
			Action:  "cleanup",
			Result:  result,
		},
	})
}

// RunRecovery handles POST /api/v1/maintenance/recovery.
// Runs the full recovery escalation. The result reports success even when
// individual removals failed; only a failed nuclear clear maps to HTTP 500.
func (h *MaintenanceHandler) RunRecovery(c echo.Context) error {
	clientIP := c.RealIP()
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	h.logger.Warn("Manual emergency recovery triggered",
		zap.String("client_ip", clientIP),
		zap.String("request_id", requestID),
		zap.String("user_agent", c.Request().UserAgent()))

	startTime := time.Now()
	result := h.guard.RunRecovery("manual request")
	duration := time.Since(startTime)

	h.logger.Info("Manual emergency recovery completed",
		zap.String("request_id", requestID),
		zap.Bool("success", result.Success),
		zap.Int("removed", result.Removed),
		zap.Strings("errors", result.Errors),
		zap.Duration("duration", duration))

	statusCode := http.StatusOK
	if !result.Success {
		statusCode = http.StatusInternalServerError
	}

	return c.JSON(statusCode, models.StorageResponse{
		Success: result.Success,
		Message: "Recovery completed",
		Data: models.MaintenanceResponse{
			Success: result.Success,
			Action:  "recovery",
			Result:  result,
		},
	})
}

// GetStorageInfo handles GET /api/v1/storage/info
func (h *MaintenanceHandler) GetStorageInfo(c echo.Context) error {
	info, err := h.guard.Snapshot()
	if err != nil {
		h.logger.Error("Failed to snapshot storage", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Failed to snapshot storage",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	usage := 0.0
	if h.cfg.MaxStorageBytes > 0 {
		usage = float64(info.TotalSize) / float64(h.cfg.MaxStorageBytes)
	}

	return c.JSON(http.StatusOK, models.StorageResponse{
		Success: true,
		Message: "Storage info retrieved successfully",
		Data: models.StorageInfoResponse{
			TotalSize:  info.TotalSize,
			ItemCount:  info.ItemCount,
			MaxBytes:   h.cfg.MaxStorageBytes,
			Usage:      usage,
			LargeItems: info.LargeItems,
		},
	})
}

// TriggerGC handles POST /api/v1/gc - manual value-log garbage collection
func (h *MaintenanceHandler) TriggerGC(c echo.Context) error {
	clientIP := c.RealIP()
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	h.logger.Info("Manual GC operation triggered",
		zap.String("client_ip", clientIP),
		zap.String("request_id", requestID))

	startTime := time.Now()

	if err := h.gc.RunGC(); err != nil {
		h.logger.Error("Failed to run GC", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Failed to run garbage collection",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	duration := time.Since(startTime)
	h.logger.Info("Manual GC operation completed",
		zap.String("request_id", requestID),
		zap.Duration("duration", duration))

	return c.JSON(http.StatusOK, models.StorageResponse{
		Success: true,
		Message: "Garbage collection completed successfully",
		Data:    map[string]interface{}{"duration": duration.String()},
	})
}

// CreateBackup handles POST /api/v1/backup
func (h *MaintenanceHandler) CreateBackup(c echo.Context) error {
	clientIP := c.RealIP()
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	h.logger.Info("Manual backup operation triggered",
		zap.String("client_ip", clientIP),
		zap.String("request_id", requestID),
		zap.String("user_agent", c.Request().UserAgent()))

	startTime := time.Now()

	path, err := h.backups.BackupNow()
	if err != nil {
		duration := time.Since(startTime)
		h.logger.Error("Manual backup operation failed",
			zap.Error(err),
			zap.String("request_id", requestID),
			zap.Duration("duration", duration))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Backup operation failed",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	duration := time.Since(startTime)
	h.logger.Info("Manual backup operation completed successfully",
		zap.String("request_id", requestID),
		zap.String("path", path),
		zap.Duration("duration", duration))

	return c.JSON(http.StatusOK, models.StorageResponse{
		Success: true,
		Message: "Backup created successfully",
		Data: models.BackupResponse{
			Success:   true,
			Path:      path,
			Timestamp: time.Now(),
			Message:   "Backup created successfully",
		},
	})
}
