package storage

import (
	"errors"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// GCMetrics tracks value log garbage collection activity.
type GCMetrics struct {
	TotalRuns       int64         `json:"total_runs"`
	SuccessfulRuns  int64         `json:"successful_runs"`
	FailedRuns      int64         `json:"failed_runs"`
	LastRunTime     time.Time     `json:"last_run_time"`
	LastRunDuration time.Duration `json:"last_run_duration"`
	SpaceReclaimed  int64         `json:"space_reclaimed"`
}

// GarbageCollector periodically reclaims badger value log space. Debounced
// writes produce a steady stream of overwritten versions, so without GC the
// value log grows far past the live dataset.
type GarbageCollector struct {
	store    *BadgerStore
	logger   *zap.Logger
	interval time.Duration

	// discardRatio is the minimum reclaimable fraction of a value log file
	// before badger rewrites it.
	discardRatio float64

	stopChan  chan struct{}
	isRunning bool
	wg        sync.WaitGroup
	mu        sync.RWMutex

	metrics   GCMetrics
	metricsMu sync.RWMutex
}

// NewGarbageCollector creates a collector for the given store. Interval and
// discardRatio fall back to five minutes and 0.5 when zero.
func NewGarbageCollector(store *BadgerStore, interval time.Duration, discardRatio float64, logger *zap.Logger) *GarbageCollector {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if discardRatio <= 0 {
		discardRatio = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GarbageCollector{
		store:        store,
		logger:       logger,
		interval:     interval,
		discardRatio: discardRatio,
	}
}

// Start begins the periodic collection loop. Restartable after Stop.
func (gc *GarbageCollector) Start() {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if gc.isRunning {
		return
	}
	gc.stopChan = make(chan struct{})
	gc.isRunning = true

	gc.wg.Add(1)
	go gc.loop()
}

// Stop halts the collection loop and waits for an in-flight run to finish.
func (gc *GarbageCollector) Stop() {
	gc.mu.Lock()
	if !gc.isRunning {
		gc.mu.Unlock()
		return
	}
	gc.isRunning = false
	close(gc.stopChan)
	gc.mu.Unlock()

	gc.wg.Wait()
}

// IsRunning reports whether the loop is active.
func (gc *GarbageCollector) IsRunning() bool {
	gc.mu.RLock()
	defer gc.mu.RUnlock()
	return gc.isRunning
}

func (gc *GarbageCollector) loop() {
	defer gc.wg.Done()

	gc.mu.RLock()
	stop := gc.stopChan
	gc.mu.RUnlock()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := gc.RunGC(); err != nil {
				gc.logger.Warn("value log gc failed", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}

// RunGC performs one collection pass, repeating while badger keeps finding
// files worth rewriting. ErrNoRewrite is the normal stopping point, not a
// failure.
func (gc *GarbageCollector) RunGC() error {
	started := time.Now()

	gc.metricsMu.Lock()
	gc.metrics.TotalRuns++
	gc.metricsMu.Unlock()

	sizeBefore := gc.store.DiskSize()

	var err error
	for {
		err = gc.store.db.RunValueLogGC(gc.discardRatio)
		if err != nil {
			break
		}
	}

	sizeAfter := gc.store.DiskSize()
	duration := time.Since(started)
	reclaimed := sizeBefore - sizeAfter

	gc.metricsMu.Lock()
	gc.metrics.LastRunTime = started
	gc.metrics.LastRunDuration = duration
	if reclaimed > 0 {
		gc.metrics.SpaceReclaimed += reclaimed
	}
	if errors.Is(err, badger.ErrNoRewrite) {
		gc.metrics.SuccessfulRuns++
	} else {
		gc.metrics.FailedRuns++
	}
	gc.metricsMu.Unlock()

	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Metrics returns a copy of the current collection counters.
func (gc *GarbageCollector) Metrics() GCMetrics {
	gc.metricsMu.RLock()
	defer gc.metricsMu.RUnlock()
	return gc.metrics
}
