package storage

import (
	"errors"
	"sync/atomic"
	"time"
)

// healthProbeKey is read during health checks purely to confirm the store
// still answers. The key is never written, so a not-found result is healthy.
const healthProbeKey = "__storage_guard_probe__"

// HealthStatus represents the health status of the storage stack
type HealthStatus int

const (
	HealthStatusHealthy HealthStatus = iota
	HealthStatusDegraded
	HealthStatusUnhealthy
)

func (hs HealthStatus) String() string {
	switch hs {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Health assesses the storage stack without touching every key: the store is
// probed with a single read, usage comes from the monitor's most recent
// snapshot.
//
// Unhealthy means the store is closed, unresponsive, or past capacity.
// Degraded means usage is above the cleanup threshold, the write queue is
// near its bound, or an emergency recovery is underway.
func (g *Guard) Health() HealthStatus {
	if atomic.LoadInt32(&g.closed) == 1 {
		return HealthStatusUnhealthy
	}

	if _, err := g.store.GetItem(healthProbeKey); err != nil && !errors.Is(err, ErrItemNotFound) {
		return HealthStatusUnhealthy
	}

	_, info := g.monitor.LastCheck()
	usage := float64(info.TotalSize) / float64(g.monitor.opts.MaxTotalBytes)
	if usage > 1.0 {
		return HealthStatusUnhealthy
	}

	if usage > g.monitor.opts.CleanupThreshold {
		return HealthStatusDegraded
	}
	if g.queue.PendingCount() >= g.queue.opts.MaxPending*8/10 {
		return HealthStatusDegraded
	}
	if g.recovery.InProgress() {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

// HealthSummary returns a detailed health report for monitoring endpoints.
func (g *Guard) HealthSummary() map[string]interface{} {
	overall := g.Health()
	lastCheck, info := g.monitor.LastCheck()
	queueMetrics := g.queue.Metrics()

	usage := float64(info.TotalSize) / float64(g.monitor.opts.MaxTotalBytes)

	return map[string]interface{}{
		"overall_status":        overall.String(),
		"usage_bytes":           info.TotalSize,
		"usage_ratio":           usage,
		"item_count":            info.ItemCount,
		"large_items":           len(info.LargeItems),
		"last_check":            lastCheck,
		"monitor_running":       g.monitor.IsRunning(),
		"recovery_in_progress":  g.recovery.InProgress(),
		"queue_pending":         queueMetrics.CurrentPending,
		"queue_flushed":         queueMetrics.TotalFlushed,
		"queue_retried":         queueMetrics.TotalRetried,
		"queue_dropped_corrupt": queueMetrics.TotalDroppedCorrupt,
		"emergency_signals":     queueMetrics.EmergencySignals,
		"uptime_seconds":        time.Since(g.startTime).Seconds(),
	}
}
