package models

import (
	"time"
)

// ItemRequest represents a write request for a single key/value pair
type ItemRequest struct {
	Key   string `json:"key" validate:"required,max=512,storage_key"`
	Value string `json:"value" validate:"required"`
}

// BatchRequest represents a multi-key write applied through the write queue
type BatchRequest struct {
	Items []ItemRequest `json:"items" validate:"required,min=1,max=500,dive"`
}

// ItemResponse represents a stored entry returned to the client
type ItemResponse struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	SizeBytes int64  `json:"size_bytes"`
}

// ItemStatusResponse reports where a key currently sits in the write pipeline.
// Status is one of "queued", "stored", "not_found". Health carries the
// classifier verdict ("healthy", "oversized", "unreadable") for stored keys.
type ItemStatusResponse struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Health string `json:"health,omitempty"`
	Size   int64  `json:"size_bytes,omitempty"`
}

// KeyListResponse represents a paginated key listing
type KeyListResponse struct {
	Keys   []string `json:"keys"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// StorageResponse represents a standard API response envelope
type StorageResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// MetricsResponse aggregates operational counters across the storage stack
type MetricsResponse struct {
	ItemCount    int                    `json:"item_count"`
	DatabaseSize int64                  `json:"database_size_bytes"`
	HealthStatus string                 `json:"health_status"`
	LastBackup   *time.Time             `json:"last_backup,omitempty"`
	Queue        interface{}            `json:"queue,omitempty"`
	Cache        map[string]interface{} `json:"cache,omitempty"`
	GC           interface{}            `json:"gc,omitempty"`
	Cleanup      map[string]interface{} `json:"cleanup,omitempty"`
	Recovery     map[string]interface{} `json:"recovery,omitempty"`
	Monitor      map[string]interface{} `json:"monitor,omitempty"`
	Throttle     map[string]interface{} `json:"throttle,omitempty"`
}

// StorageInfoResponse reports a usage snapshot against the configured capacity
type StorageInfoResponse struct {
	TotalSize  int64       `json:"total_size_bytes"`
	ItemCount  int         `json:"item_count"`
	MaxBytes   int64       `json:"max_bytes"`
	Usage      float64     `json:"usage"`
	LargeItems interface{} `json:"large_items,omitempty"`
}

// MaintenanceResponse reports the outcome of a manually triggered maintenance action
type MaintenanceResponse struct {
	Success bool        `json:"success"`
	Action  string      `json:"action"`
	Result  interface{} `json:"result,omitempty"`
}

// BackupResponse represents the result of a backup operation
type BackupResponse struct {
	Success   bool      `json:"success"`
	Path      string    `json:"path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}
