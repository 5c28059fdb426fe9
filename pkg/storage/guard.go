package storage

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// GuardOptions bundles configuration for the full storage reliability stack.
type GuardOptions struct {
	Queue    WriteQueueOptions
	Cleanup  CleanupOptions
	Recovery RecoveryOptions
	Monitor  MonitorOptions

	// PreservedKeys applies to every component whose own list is empty.
	PreservedKeys []string

	// RecoveryDir is where unflushed operations are persisted across
	// restarts. Empty disables persistence.
	RecoveryDir string

	// BeforeNuclear runs best-effort before a wholesale store clear,
	// typically to trigger a backup.
	BeforeNuclear func()
}

// Guard is the storage reliability layer: a debounced write queue in front
// of the store, plus the corruption detector, cleanup engine, emergency
// recovery, and usage monitor that keep the store healthy. All store writes
// should go through the Guard; reads hit the store directly.
type Guard struct {
	store    Store
	queue    *WriteQueue
	detector *Detector
	cleaner  *Cleaner
	recovery *RecoveryEngine
	monitor  *Monitor
	logger   *zap.Logger

	itemCeiling int64
	recoveryDir string
	closed      int32
	startTime   time.Time
}

// NewGuard wires the reliability stack over the given store. Corruption
// failures observed by the write queue trigger the recovery engine
// automatically.
func NewGuard(store Store, opts GuardOptions, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(opts.Cleanup.PreservedKeys) == 0 {
		opts.Cleanup.PreservedKeys = opts.PreservedKeys
	}
	if len(opts.Recovery.PreservedKeys) == 0 {
		opts.Recovery.PreservedKeys = opts.PreservedKeys
	}
	if len(opts.Monitor.PreservedKeys) == 0 {
		opts.Monitor.PreservedKeys = opts.PreservedKeys
	}
	if opts.Cleanup.ItemCeilingBytes <= 0 {
		opts.Cleanup.ItemCeilingBytes = DefaultItemCeilingBytes
	}
	if opts.Monitor.ItemCeilingBytes <= 0 {
		opts.Monitor.ItemCeilingBytes = opts.Cleanup.ItemCeilingBytes
	}

	g := &Guard{
		store:       store,
		logger:      logger,
		itemCeiling: opts.Cleanup.ItemCeilingBytes,
		recoveryDir: opts.RecoveryDir,
		startTime:   time.Now(),
	}

	g.detector = NewDetector(store, logger)
	g.recovery = NewRecoveryEngine(store, g.detector, opts.Recovery, logger, opts.BeforeNuclear)
	g.cleaner = NewCleaner(store, opts.Cleanup, logger)
	g.monitor = NewMonitor(store, g.cleaner, g.recovery, opts.Monitor, logger)
	g.queue = NewWriteQueue(store, opts.Queue, logger, func(reason string) {
		if atomic.LoadInt32(&g.closed) == 1 {
			g.logger.Warn("skipping emergency recovery during shutdown",
				zap.String("reason", reason))
			return
		}
		g.recovery.Run("write failure: " + reason)
	})

	return g
}

// Set queues a debounced write of value under key.
func (g *Guard) Set(key, value string) error {
	return g.queue.Set(key, value)
}

// Remove queues a debounced removal of key.
func (g *Guard) Remove(key string) error {
	return g.queue.Remove(key)
}

// MultiSet queues several writes, paced in chunks.
func (g *Guard) MultiSet(pairs []KeyValue) error {
	return g.queue.MultiSet(pairs)
}

// Get reads key directly from the store. A value still inside its debounce
// window is not visible yet; IsPending reports that state.
func (g *Guard) Get(key string) (string, error) {
	return g.store.GetItem(key)
}

// IsPending reports whether a queued write or removal exists for key.
func (g *Guard) IsPending(key string) bool {
	return g.queue.IsPending(key)
}

// WaitForWrite blocks until the pending operation for key reaches the store
// or is dropped.
func (g *Guard) WaitForWrite(key string, timeout time.Duration) error {
	return g.queue.WaitForWrite(key, timeout)
}

// Flush drains the write queue synchronously.
func (g *Guard) Flush() error {
	return g.queue.Flush()
}

// Keys returns stored keys filtered by optional prefix, sorted, paginated by
// limit and offset. The second return is the total matching count before
// pagination.
func (g *Guard) Keys(prefix string, limit, offset int) ([]string, int, error) {
	keys, err := g.store.GetAllKeys()
	if err != nil {
		return nil, 0, err
	}

	var filtered []string
	if prefix == "" {
		filtered = keys
	} else {
		for _, key := range keys {
			if strings.HasPrefix(key, prefix) {
				filtered = append(filtered, key)
			}
		}
	}
	sort.Strings(filtered)

	total := len(filtered)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(filtered) {
		return []string{}, total, nil
	}
	filtered = filtered[offset:]
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return filtered, total, nil
}

// ClassifyItem reports the health of a single entry against the routine
// per-item ceiling.
func (g *Guard) ClassifyItem(key string) Classification {
	return g.detector.Classify(key, g.itemCeiling)
}

// Snapshot walks the store and returns current usage.
func (g *Guard) Snapshot() (StorageInfo, error) {
	return g.monitor.Snapshot()
}

// RunCleanup triggers a cleanup pass immediately.
func (g *Guard) RunCleanup() CleanupResult {
	return g.cleaner.Run()
}

// RunRecovery triggers an emergency recovery pass immediately.
func (g *Guard) RunRecovery(trigger string) RecoveryResult {
	return g.recovery.Run(trigger)
}

// StartMonitoring begins the periodic usage schedule.
func (g *Guard) StartMonitoring() {
	g.monitor.Start()
}

// StopMonitoring cancels the periodic usage schedule.
func (g *Guard) StopMonitoring() {
	g.monitor.Stop()
}

// QueueMetrics returns a snapshot of write queue counters.
func (g *Guard) QueueMetrics() QueueMetrics {
	return g.queue.Metrics()
}

// Stats returns operational counters from every component.
func (g *Guard) Stats() map[string]interface{} {
	return map[string]interface{}{
		"queue":    g.queue.Metrics(),
		"cleanup":  g.cleaner.Stats(),
		"recovery": g.recovery.Stats(),
		"monitor":  g.monitor.Stats(),
	}
}

// StartupMaintenance restores writes persisted by a previous shutdown and
// brings the store back to a known-good state: a full cleanup pass when the
// store is readable, emergency recovery when it is not.
func (g *Guard) StartupMaintenance() error {
	if g.recoveryDir != "" {
		ops, path, err := loadLatestPendingOperations(g.recoveryDir, g.logger)
		if err != nil {
			g.logger.Warn("could not load persisted operations", zap.Error(err))
		} else if len(ops) > 0 {
			g.queue.Restore(ops)
			archivePendingSnapshot(path, g.logger)
			g.logger.Info("restored unflushed operations from previous run",
				zap.Int("count", len(ops)))
		}
	}

	if _, err := g.store.GetAllKeys(); err != nil {
		g.logger.Error("store unreadable at startup, running emergency recovery",
			zap.Error(err))
		result := g.recovery.Run("startup enumeration failed")
		if !result.Success {
			return fmt.Errorf("startup recovery failed: %s", strings.Join(result.Errors, "; "))
		}
		return nil
	}

	result := g.cleaner.Run()
	g.logger.Info("startup cleanup finished",
		zap.Int("cleaned", result.Cleaned),
		zap.Int64("freed_bytes", result.FreedSpace))
	return nil
}

// Close shuts the stack down in order: monitoring stops, the queue drains
// within timeout, whatever remains is persisted for the next start, and the
// store itself is closed when it exposes a Close method.
func (g *Guard) Close(timeout time.Duration) error {
	if !atomic.CompareAndSwapInt32(&g.closed, 0, 1) {
		return nil
	}

	g.monitor.Stop()

	var errs []error
	if err := g.queue.Close(timeout); err != nil {
		errs = append(errs, err)
	}

	remaining := g.queue.DrainPending()
	if len(remaining) > 0 {
		if g.recoveryDir == "" {
			g.logger.Warn("discarding unflushed operations, no recovery directory configured",
				zap.Int("count", len(remaining)))
		} else if err := savePendingOperations(g.recoveryDir, remaining, g.logger); err != nil {
			errs = append(errs, err)
		}
	}

	if closer, ok := g.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	g.logger.Info("storage guard closed",
		zap.Duration("uptime", time.Since(g.startTime)))
	return errors.Join(errs...)
}

// EmergencyShutdown persists unflushed state as fast as possible and closes
// the store without draining the queue. Meant for second-signal shutdown
// paths where every millisecond counts.
func (g *Guard) EmergencyShutdown() error {
	if !atomic.CompareAndSwapInt32(&g.closed, 0, 1) {
		return nil
	}

	g.queue.EmergencyStop()

	var errs []error
	remaining := g.queue.DrainPending()
	if len(remaining) > 0 && g.recoveryDir != "" {
		if err := savePendingOperations(g.recoveryDir, remaining, g.logger); err != nil {
			errs = append(errs, err)
		}
	}

	if closer, ok := g.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	g.logger.Warn("emergency shutdown complete",
		zap.Int("persisted", len(remaining)))
	return errors.Join(errs...)
}
