package storage

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage monitor defaults: a 50MB soft capacity checked every three
// minutes, with cleanup kicking in at 80% usage.
const (
	DefaultMonitorInterval        = 3 * time.Minute
	DefaultMaxTotalBytes    int64 = 50 << 20
	DefaultCleanupThreshold       = 0.8
)

// LargeItem identifies an entry whose size exceeds the per-item ceiling.
type LargeItem struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

// StorageInfo is a point-in-time summary of store usage.
type StorageInfo struct {
	TotalSize  int64       `json:"total_size"`
	ItemCount  int         `json:"item_count"`
	LargeItems []LargeItem `json:"large_items,omitempty"`
}

// MonitorOptions configures the storage monitor. Zero values fall back to
// the package defaults.
type MonitorOptions struct {
	// Interval is the time between monitoring passes.
	Interval time.Duration

	// MaxTotalBytes is the soft capacity of the store.
	MaxTotalBytes int64

	// CleanupThreshold is the usage ratio above which a cleanup run starts.
	CleanupThreshold float64

	// ItemCeilingBytes marks entries as large in snapshots.
	ItemCeilingBytes int64

	// PreservedKeys lists substrings identifying keys the monitor must not
	// remove even when they cannot be read.
	PreservedKeys []string
}

type cleanupRunner interface {
	Run() CleanupResult
}

type recoveryRunner interface {
	Run(trigger string) RecoveryResult
}

// Monitor watches store usage on a fixed schedule and reacts to pressure:
// above the cleanup threshold it runs the cleaner, at or past capacity it
// runs emergency recovery instead. Snapshots also repair what they can see,
// removing entries that can no longer be read.
type Monitor struct {
	store    Store
	cleaner  cleanupRunner
	recovery recoveryRunner
	logger   *zap.Logger
	opts     MonitorOptions

	wg sync.WaitGroup

	mu        sync.RWMutex
	isRunning bool
	stopChan  chan struct{}
	lastCheck time.Time
	lastInfo  StorageInfo

	ticking int32

	totalTicks        int64
	totalCleanups     int64
	totalRecoveries   int64
	unreadableRemoved int64
}

// NewMonitor creates a monitor over the given store. The cleaner and
// recovery engine are invoked from monitoring passes and must be non-nil.
func NewMonitor(store Store, cleaner cleanupRunner, recovery recoveryRunner, opts MonitorOptions, logger *zap.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultMonitorInterval
	}
	if opts.MaxTotalBytes <= 0 {
		opts.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if opts.CleanupThreshold <= 0 {
		opts.CleanupThreshold = DefaultCleanupThreshold
	}
	if opts.ItemCeilingBytes <= 0 {
		opts.ItemCeilingBytes = DefaultItemCeilingBytes
	}
	return &Monitor{
		store:    store,
		cleaner:  cleaner,
		recovery: recovery,
		logger:   logger,
		opts:     opts,
	}
}

// Start begins periodic monitoring. Calling Start on a running monitor is a
// no-op; after Stop the monitor can be started again.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	stop := make(chan struct{})
	m.stopChan = stop
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(stop)

	m.logger.Info("storage monitor started",
		zap.Duration("interval", m.opts.Interval),
		zap.Int64("max_total_bytes", m.opts.MaxTotalBytes))
}

// Stop cancels the schedule and waits for an in-flight pass to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("storage monitor stopped")
}

func (m *Monitor) run(stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Tick()
		case <-stop:
			return
		}
	}
}

// Tick performs one monitoring pass. Concurrent ticks collapse to one. A
// panic escaping the pass triggers emergency recovery instead of killing
// the schedule.
func (m *Monitor) Tick() {
	if !atomic.CompareAndSwapInt32(&m.ticking, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&m.ticking, 0)

	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("storage monitor pass panicked", zap.Any("panic", rec))
			atomic.AddInt64(&m.totalRecoveries, 1)
			m.recovery.Run("monitor panic")
		}
	}()

	atomic.AddInt64(&m.totalTicks, 1)

	info, err := m.Snapshot()
	if err != nil {
		m.logger.Error("storage monitor could not snapshot usage", zap.Error(err))
		atomic.AddInt64(&m.totalRecoveries, 1)
		m.recovery.Run("storage enumeration failed")
		return
	}

	usage := float64(info.TotalSize) / float64(m.opts.MaxTotalBytes)
	switch {
	case usage > 1.0:
		m.logger.Error("storage usage past capacity, starting emergency recovery",
			zap.Int64("total_bytes", info.TotalSize),
			zap.Float64("usage", usage))
		atomic.AddInt64(&m.totalRecoveries, 1)
		m.recovery.Run("storage usage past capacity")
	case usage > m.opts.CleanupThreshold:
		m.logger.Warn("storage usage above cleanup threshold",
			zap.Int64("total_bytes", info.TotalSize),
			zap.Float64("usage", usage))
		atomic.AddInt64(&m.totalCleanups, 1)
		m.cleaner.Run()
	}
}

// Snapshot walks every key and returns current usage. Unreadable entries are
// removed on the spot unless preserved; preserved unreadable entries are
// charged at twice the per-item ceiling since their real size is unknown.
func (m *Monitor) Snapshot() (StorageInfo, error) {
	keys, err := m.store.GetAllKeys()
	if err != nil {
		return StorageInfo{}, err
	}

	var info StorageInfo
	for _, key := range keys {
		value, err := m.store.GetItem(key)
		if err != nil {
			if errors.Is(err, ErrItemNotFound) {
				continue
			}
			if m.isPreserved(key) {
				est := 2 * m.opts.ItemCeilingBytes
				info.TotalSize += est
				info.ItemCount++
				info.LargeItems = append(info.LargeItems, LargeItem{Key: key, SizeBytes: est})
				continue
			}
			if rmErr := m.store.RemoveItem(key); rmErr != nil {
				m.logger.Warn("could not remove unreadable entry",
					zap.String("key", key),
					zap.Error(rmErr))
			} else {
				atomic.AddInt64(&m.unreadableRemoved, 1)
				m.logger.Warn("removed unreadable entry",
					zap.String("key", key),
					zap.Error(err))
			}
			continue
		}

		size := int64(len(value))
		info.TotalSize += size
		info.ItemCount++
		if size > m.opts.ItemCeilingBytes {
			info.LargeItems = append(info.LargeItems, LargeItem{Key: key, SizeBytes: size})
		}
	}

	m.mu.Lock()
	m.lastCheck = time.Now()
	m.lastInfo = info
	m.mu.Unlock()

	return info, nil
}

// IsRunning reports whether the schedule is active.
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// LastCheck returns the time and result of the most recent snapshot.
func (m *Monitor) LastCheck() (time.Time, StorageInfo) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCheck, m.lastInfo
}

// Stats returns lifetime monitor counters.
func (m *Monitor) Stats() map[string]interface{} {
	m.mu.RLock()
	lastCheck := m.lastCheck
	running := m.isRunning
	m.mu.RUnlock()

	return map[string]interface{}{
		"running":            running,
		"last_check":         lastCheck,
		"total_ticks":        atomic.LoadInt64(&m.totalTicks),
		"total_cleanups":     atomic.LoadInt64(&m.totalCleanups),
		"total_recoveries":   atomic.LoadInt64(&m.totalRecoveries),
		"unreadable_removed": atomic.LoadInt64(&m.unreadableRemoved),
	}
}

func (m *Monitor) isPreserved(key string) bool {
	for _, marker := range m.opts.PreservedKeys {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}
