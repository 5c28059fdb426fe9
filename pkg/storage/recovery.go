package storage

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Emergency recovery defaults. The emergency ceiling is deliberately looser
// than the cleanup ceiling; recovery only removes entries that endanger the
// store itself.
const (
	DefaultEmergencyItemCeilingBytes int64 = 1 << 20
	DefaultRecoveryChunkSize               = 5
	DefaultRecoveryChunkDelay              = 20 * time.Millisecond
)

// RecoveryResult summarizes one emergency recovery run. Removed is -1 when
// the store had to be cleared wholesale.
type RecoveryResult struct {
	Success bool     `json:"success"`
	Removed int      `json:"removed"`
	Errors  []string `json:"errors,omitempty"`
}

// RecoveryOptions configures the emergency recovery engine.
type RecoveryOptions struct {
	// DangerousPrefixes lists key prefixes targeted first: entries known to
	// grow without bound, such as upload buffers and image drafts.
	DangerousPrefixes []string

	// SweepPrefixes lists cache-family prefixes removed in the final phase.
	SweepPrefixes []string

	// PreservedKeys lists substrings identifying keys that must survive
	// every phase short of a wholesale clear.
	PreservedKeys []string

	// ChunkSize and ChunkDelay pace the full-scan phase so recovery never
	// monopolizes the store.
	ChunkSize  int
	ChunkDelay time.Duration

	// EmergencyItemCeilingBytes is the per-item ceiling applied during the
	// full-scan phase. Zero falls back to DefaultEmergencyItemCeilingBytes.
	EmergencyItemCeilingBytes int64
}

// RecoveryEngine restores the store to a writable state after corruption or
// space exhaustion. Phases escalate: targeted removal of dangerous prefixes,
// a chunked full scan for oversized and unreadable entries, then a sweep of
// cache families. When the store cannot even enumerate its keys the engine
// clears it wholesale, sparing nothing.
//
// A run never fails part-way: individual removal errors are collected into
// the result and the remaining phases continue.
type RecoveryEngine struct {
	store    Store
	detector *Detector
	logger   *zap.Logger
	opts     RecoveryOptions

	inProgress int32

	totalRuns    int64
	totalNuclear int64
	totalRemoved int64

	// beforeClear runs best-effort before a wholesale clear, giving callers
	// a last chance to snapshot what is about to be destroyed.
	beforeClear func()
}

// NewRecoveryEngine creates a recovery engine over the given store.
func NewRecoveryEngine(store Store, detector *Detector, opts RecoveryOptions, logger *zap.Logger, beforeClear func()) *RecoveryEngine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultRecoveryChunkSize
	}
	if opts.ChunkDelay <= 0 {
		opts.ChunkDelay = DefaultRecoveryChunkDelay
	}
	if opts.EmergencyItemCeilingBytes <= 0 {
		opts.EmergencyItemCeilingBytes = DefaultEmergencyItemCeilingBytes
	}
	return &RecoveryEngine{
		store:       store,
		detector:    detector,
		logger:      logger,
		opts:        opts,
		beforeClear: beforeClear,
	}
}

// Run performs one emergency recovery pass. Reentrant calls while a pass is
// active return a successful empty result so callers never double-recover.
func (r *RecoveryEngine) Run(trigger string) RecoveryResult {
	if !atomic.CompareAndSwapInt32(&r.inProgress, 0, 1) {
		r.logger.Warn("emergency recovery already in progress, skipping",
			zap.String("trigger", trigger))
		return RecoveryResult{Success: true}
	}
	defer atomic.StoreInt32(&r.inProgress, 0)

	atomic.AddInt64(&r.totalRuns, 1)
	started := time.Now()
	r.logger.Warn("emergency recovery started", zap.String("trigger", trigger))

	keys, err := r.store.GetAllKeys()
	if err != nil {
		return r.nuclear(err)
	}

	result := RecoveryResult{Success: true}
	removedSet := make(map[string]struct{})

	// Phase 1: dangerous prefixes. These entries grow without bound and are
	// the usual culprits behind row-size failures.
	var targeted []string
	for _, key := range keys {
		if r.isPreserved(key) {
			continue
		}
		if hasAnyPrefix(key, r.opts.DangerousPrefixes) {
			targeted = append(targeted, key)
		}
	}
	for _, key := range r.removeKeys(targeted, &result.Errors) {
		removedSet[key] = struct{}{}
		result.Removed++
	}

	// Phase 2: chunked scan classifying every remaining entry against the
	// emergency ceiling, with a pause between chunks.
	for start := 0; start < len(keys); start += r.opts.ChunkSize {
		end := start + r.opts.ChunkSize
		if end > len(keys) {
			end = len(keys)
		}

		var victims []string
		for _, key := range keys[start:end] {
			if _, gone := removedSet[key]; gone {
				continue
			}
			if r.isPreserved(key) {
				continue
			}
			if cls := r.detector.Classify(key, r.opts.EmergencyItemCeilingBytes); cls.Status != EntryHealthy {
				victims = append(victims, key)
			}
		}
		for _, key := range r.removeKeys(victims, &result.Errors) {
			removedSet[key] = struct{}{}
			result.Removed++
		}

		if end < len(keys) {
			time.Sleep(r.opts.ChunkDelay)
		}
	}

	// Phase 3: sweep cache families. Anything rebuildable goes.
	var sweep []string
	for _, key := range keys {
		if _, gone := removedSet[key]; gone {
			continue
		}
		if r.isPreserved(key) {
			continue
		}
		if hasAnyPrefix(key, r.opts.SweepPrefixes) {
			sweep = append(sweep, key)
		}
	}
	for range r.removeKeys(sweep, &result.Errors) {
		result.Removed++
	}

	atomic.AddInt64(&r.totalRemoved, int64(result.Removed))
	r.logger.Warn("emergency recovery finished",
		zap.String("trigger", trigger),
		zap.Int("removed", result.Removed),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("elapsed", time.Since(started)))

	return result
}

// nuclear clears the entire store wholesale. The preserved-key allowlist
// cannot be honored here; the store failed to enumerate its keys, so
// targeted removal has nothing to work with.
func (r *RecoveryEngine) nuclear(cause error) RecoveryResult {
	atomic.AddInt64(&r.totalNuclear, 1)
	r.logger.Error("store cannot enumerate keys, performing nuclear cleanup",
		zap.Error(cause))

	if r.beforeClear != nil {
		r.beforeClear()
	}

	if err := r.store.Clear(); err != nil {
		r.logger.Error("nuclear cleanup failed", zap.Error(err))
		return RecoveryResult{
			Success: false,
			Removed: 0,
			Errors:  []string{cause.Error(), err.Error()},
		}
	}

	r.logger.Warn("nuclear cleanup performed, store cleared")
	return RecoveryResult{
		Success: true,
		Removed: -1,
		Errors:  []string{"Nuclear cleanup performed"},
	}
}

// removeKeys removes keys in bulk with a per-key fallback, appending failure
// descriptions to errs. Returns the keys actually removed.
func (r *RecoveryEngine) removeKeys(keys []string, errs *[]string) []string {
	if len(keys) == 0 {
		return nil
	}
	if err := r.store.MultiRemove(keys); err == nil {
		return keys
	}
	var removed []string
	for _, key := range keys {
		if err := r.store.RemoveItem(key); err != nil {
			*errs = append(*errs, fmt.Sprintf("remove %s: %v", key, err))
			continue
		}
		removed = append(removed, key)
	}
	return removed
}

// InProgress reports whether a recovery pass is currently running.
func (r *RecoveryEngine) InProgress() bool {
	return atomic.LoadInt32(&r.inProgress) == 1
}

// Stats returns lifetime recovery counters.
func (r *RecoveryEngine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_runs":    atomic.LoadInt64(&r.totalRuns),
		"total_nuclear": atomic.LoadInt64(&r.totalNuclear),
		"total_removed": atomic.LoadInt64(&r.totalRemoved),
	}
}

func (r *RecoveryEngine) isPreserved(key string) bool {
	for _, marker := range r.opts.PreservedKeys {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
