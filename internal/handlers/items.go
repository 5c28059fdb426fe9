package handlers

import (
	"errors"
	"net/http"
	"time"

	"storage-guard-server/pkg/config"
	"storage-guard-server/pkg/models"
	"storage-guard-server/pkg/storage"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// deleteWaitTimeout bounds how long a delete request waits for the queued
// remove to flush before confirming asynchronously with HTTP 202.
const deleteWaitTimeout = 5 * time.Second

// ItemHandler handles HTTP requests for key/value item operations
type ItemHandler struct {
	guard     *storage.Guard
	logger    *zap.Logger
	validator *RequestValidator
	cfg       *config.Config
}

// NewItemHandler creates a new item handler
func NewItemHandler(guard *storage.Guard, appLogger *zap.Logger, cfg *config.Config) *ItemHandler {
	return &ItemHandler{
		guard:     guard,
		logger:    appLogger,
		validator: NewRequestValidator(cfg),
		cfg:       cfg,
	}
}

// logValidationError logs validation errors only if validation logging is enabled
func (h *ItemHandler) logValidationError(msg string, fields ...zap.Field) {
	if h.cfg.EnableValidationLogging {
		h.logger.Warn(msg, fields...)
	}
}

// logError logs errors only if error logging is enabled
func (h *ItemHandler) logError(msg string, fields ...zap.Field) {
	if h.cfg.EnableErrorLogging {
		h.logger.Error(msg, fields...)
	}
}

// StoreItem handles POST /api/v1/items.
//
// Writes are debounced per key, so the handler returns HTTP 202 once the
// write is queued rather than waiting for the flush. Clients can poll
// GET /api/v1/items/{key}/status to confirm persistence.
func (h *ItemHandler) StoreItem(c echo.Context) error {
	var req models.ItemRequest
	if err := c.Bind(&req); err != nil {
		h.logValidationError("Invalid request body", zap.Error(err))
		return c.JSON(http.StatusBadRequest, models.StorageResponse{
			Success: false,
			Message: "Invalid request body",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	if err := h.validator.ValidateItemRequest(&req); err != nil {
		h.logValidationError("Item request validation failed",
			zap.String("key", req.Key), zap.Error(err))
		return c.JSON(http.StatusBadRequest, models.StorageResponse{
			Success: false,
			Message: "Validation failed",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	if err := h.guard.Set(req.Key, req.Value); err != nil {
		if errors.Is(err, storage.ErrQueueFull) {
			h.logError("Write queue full", zap.String("key", req.Key))
			return c.JSON(http.StatusServiceUnavailable, models.StorageResponse{
				Success: false,
				Message: "Write queue is full",
				Data:    map[string]string{"error": err.Error()},
			})
		}
		h.logError("Failed to queue item write", zap.String("key", req.Key), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Failed to queue item write",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	// HTTP 202 Accepted indicates the write is queued, not yet persisted
	return c.JSON(http.StatusAccepted, models.StorageResponse{
		Success: true,
		Message: "Item queued for storage",
		Data: map[string]string{
			"key":    req.Key,
			"status": "queued",
		},
	})
}

// GetItem handles GET /api/v1/items/{key}.
//
// Reads go straight to the store. A write still sitting in the debounce
// window is not visible yet; the status endpoint reports that state.
func (h *ItemHandler) GetItem(c echo.Context) error {
	key := c.Param("key")

	if err := h.validator.ValidateKey(key); err != nil {
		h.logValidationError("Invalid item key in request",
			zap.String("key", key), zap.Error(err))
		return c.JSON(http.StatusBadRequest, models.StorageResponse{
			Success: false,
			Message: "Invalid item key",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	value, err := h.guard.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return c.JSON(http.StatusNotFound, models.StorageResponse{
				Success: false,
				Message: "Item not found",
				Data:    map[string]string{"error": err.Error()},
			})
		}
		h.logError("Failed to retrieve item", zap.String("key", key), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Failed to retrieve item",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	return c.JSON(http.StatusOK, models.StorageResponse{
		Success: true,
		Message: "Item retrieved successfully",
		Data: models.ItemResponse{
			Key:       key,
			Value:     value,
			SizeBytes: int64(len(value)),
		},
	})
}

// DeleteItem handles DELETE /api/v1/items/{key}.
//
// Removes go through the write queue like any other write. The handler
// waits briefly for the flush so most deletes confirm synchronously, and
// falls back to HTTP 202 when the queue is busy. Removing an absent key
// succeeds.
func (h *ItemHandler) DeleteItem(c echo.Context) error {
	key := c.Param("key")

	if err := h.validator.ValidateKey(key); err != nil {
		h.logValidationError("Invalid item key in delete request",
			zap.String("key", key), zap.Error(err))
		return c.JSON(http.StatusBadRequest, models.StorageResponse{
			Success: false,
			Message: "Invalid item key",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	if err := h.guard.Remove(key); err != nil {
		if errors.Is(err, storage.ErrQueueFull) {
			return c.JSON(http.StatusServiceUnavailable, models.StorageResponse{
				Success: false,
				Message: "Write queue is full",
				Data:    map[string]string{"error": err.Error()},
			})
		}
		h.logError("Failed to queue item removal", zap.String("key", key), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Failed to queue item removal",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	if err := h.guard.WaitForWrite(key, deleteWaitTimeout); err != nil {
		if h.guard.IsPending(key) {
			// Flush has not caught up yet, confirm asynchronously
			if h.cfg.EnableWarnLogging {
				h.logger.Warn("Delete still pending after wait",
					zap.String("key", key),
					zap.Duration("timeout", deleteWaitTimeout))
			}
			return c.JSON(http.StatusAccepted, models.StorageResponse{
				Success: true,
				Message: "Item removal queued",
				Data: map[string]string{
					"key":    key,
					"status": "queued",
				},
			})
		}

		h.logError("Failed to delete item", zap.String("key", key), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Failed to delete item",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	return c.JSON(http.StatusOK, models.StorageResponse{
		Success: true,
		Message: "Item deleted successfully",
		Data:    map[string]string{"key": key},
	})
}

// BatchStoreItems handles POST /api/v1/items/batch.
//
// Items are fed through the write queue in chunks with the same pacing the
// queue applies to its own flush passes, so a large batch cannot starve
// individual writes.
func (h *ItemHandler) BatchStoreItems(c echo.Context) error {
	var req models.BatchRequest
	if err := c.Bind(&req); err != nil {
		h.logValidationError("Invalid batch request body", zap.Error(err))
		return c.JSON(http.StatusBadRequest, models.StorageResponse{
			Success: false,
			Message: "Invalid request body",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	if err := h.validator.ValidateBatchRequest(&req); err != nil {
		h.logValidationError("Batch request validation failed",
			zap.Int("items", len(req.Items)), zap.Error(err))
		return c.JSON(http.StatusBadRequest, models.StorageResponse{
			Success: false,
			Message: "Validation failed",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	pairs := make([]storage.KeyValue, len(req.Items))
	for i := range req.Items {
		pairs[i] = storage.KeyValue{Key: req.Items[i].Key, Value: req.Items[i].Value}
	}

	if err := h.guard.MultiSet(pairs); err != nil {
		h.logError("Failed to queue batch write", zap.Int("items", len(pairs)), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Failed to queue batch write",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	return c.JSON(http.StatusAccepted, models.StorageResponse{
		Success: true,
		Message: "Batch queued for storage",
		Data: map[string]interface{}{
			"queued": len(pairs),
			"status": "queued",
		},
	})
}

// GetItemStatus handles GET /api/v1/items/{key}/status.
//
// Status values:
//   - "queued": the key has a write waiting in the debounce window or flush queue
//   - "stored": the key is persisted, with the size classifier verdict attached
//   - "not_found": the key exists neither in the queue nor the store
func (h *ItemHandler) GetItemStatus(c echo.Context) error {
	key := c.Param("key")

	if err := h.validator.ValidateKey(key); err != nil {
		h.logValidationError("Invalid item key in status request",
			zap.String("key", key), zap.Error(err))
		return c.JSON(http.StatusBadRequest, models.StorageResponse{
			Success: false,
			Message: "Invalid item key",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	if h.guard.IsPending(key) {
		return c.JSON(http.StatusOK, models.StorageResponse{
			Success: true,
			Message: "Item status retrieved successfully",
			Data: models.ItemStatusResponse{
				Key:    key,
				Status: "queued",
			},
		})
	}

	if _, err := h.guard.Get(key); err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			return c.JSON(http.StatusNotFound, models.StorageResponse{
				Success: false,
				Message: "Item not found",
				Data: models.ItemStatusResponse{
					Key:    key,
					Status: "not_found",
				},
			})
		}
		h.logError("Failed to check item status", zap.String("key", key), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Failed to check item status",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	cls := h.guard.ClassifyItem(key)
	return c.JSON(http.StatusOK, models.StorageResponse{
		Success: true,
		Message: "Item status retrieved successfully",
		Data: models.ItemStatusResponse{
			Key:    key,
			Status: "stored",
			Health: cls.Status.String(),
			Size:   cls.SizeBytes,
		},
	})
}

// ListKeys handles GET /api/v1/keys with prefix filtering and pagination
func (h *ItemHandler) ListKeys(c echo.Context) error {
	limitStr := c.QueryParam("limit")
	offsetStr := c.QueryParam("offset")
	prefix := c.QueryParam("prefix")

	limit, offset, err := h.validator.ValidatePaginationParams(limitStr, offsetStr)
	if err != nil {
		h.logValidationError("Invalid pagination parameters",
			zap.String("limit", limitStr),
			zap.String("offset", offsetStr),
			zap.Error(err))
		return c.JSON(http.StatusBadRequest, models.StorageResponse{
			Success: false,
			Message: "Invalid pagination parameters",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	if err := h.validator.ValidatePrefix(prefix); err != nil {
		h.logValidationError("Invalid prefix parameter",
			zap.String("prefix", prefix), zap.Error(err))
		return c.JSON(http.StatusBadRequest, models.StorageResponse{
			Success: false,
			Message: "Invalid prefix parameter",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	keys, total, err := h.guard.Keys(prefix, limit, offset)
	if err != nil {
		h.logError("Failed to list keys", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Failed to list keys",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	return c.JSON(http.StatusOK, models.StorageResponse{
		Success: true,
		Message: "Keys listed successfully",
		Data: models.KeyListResponse{
			Keys:   keys,
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	})
}

// GetKeyCount handles GET /api/v1/keys/count
func (h *ItemHandler) GetKeyCount(c echo.Context) error {
	_, total, err := h.guard.Keys("", 1, 0)
	if err != nil {
		h.logError("Failed to count keys", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.StorageResponse{
			Success: false,
			Message: "Failed to count keys",
			Data:    map[string]string{"error": err.Error()},
		})
	}

	return c.JSON(http.StatusOK, models.StorageResponse{
		Success: true,
		Message: "Key count retrieved successfully",
		Data:    map[string]int{"count": total},
	})
}
