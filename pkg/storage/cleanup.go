package storage

import (
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultItemCeilingBytes is the per-item size ceiling used during routine
// cleanup. Items above it are evicted before they grow large enough to break
// store reads.
const DefaultItemCeilingBytes int64 = 100 << 10

// CleanupResult summarizes one cleanup run. FreedSpace counts only bytes of
// entries that were actually removed.
type CleanupResult struct {
	Cleaned    int   `json:"cleaned"`
	FreedSpace int64 `json:"freed_space"`
}

// CleanupOptions configures the cleanup policy engine.
type CleanupOptions struct {
	// CachePrefixes lists key prefixes that are always safe to evict.
	CachePrefixes []string

	// PreservedKeys lists substrings identifying keys that must never be
	// evicted.
	PreservedKeys []string

	// ItemCeilingBytes is the per-item size ceiling. Zero falls back to
	// DefaultItemCeilingBytes.
	ItemCeilingBytes int64
}

// cacheEnvelope is the shape cache values use to carry their own expiry.
// Timestamp is epoch milliseconds, TTL a duration in milliseconds.
type cacheEnvelope struct {
	Timestamp int64 `json:"timestamp"`
	TTL       int64 `json:"ttl"`
}

// Cleaner evicts disposable entries from the store: cache-prefixed keys,
// entries above the size ceiling, entries whose embedded TTL has expired,
// and entries that can no longer be read at all. Preserved keys are never
// touched. A run swallows store errors and reports only what it actually
// removed.
type Cleaner struct {
	store  Store
	logger *zap.Logger
	opts   CleanupOptions

	running int32

	totalRuns    int64
	totalCleaned int64
	totalFreed   int64
}

// NewCleaner creates a cleaner over the given store.
func NewCleaner(store Store, opts CleanupOptions, logger *zap.Logger) *Cleaner {
	if opts.ItemCeilingBytes <= 0 {
		opts.ItemCeilingBytes = DefaultItemCeilingBytes
	}
	return &Cleaner{
		store:  store,
		logger: logger,
		opts:   opts,
	}
}

// Run performs one cleanup pass over every key in the store. Reentrant calls
// while a pass is active return an empty result immediately.
func (c *Cleaner) Run() CleanupResult {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		c.logger.Debug("cleanup already in progress, skipping")
		return CleanupResult{}
	}
	defer atomic.StoreInt32(&c.running, 0)

	started := time.Now()

	keys, err := c.store.GetAllKeys()
	if err != nil {
		c.logger.Error("cleanup could not enumerate keys", zap.Error(err))
		return CleanupResult{}
	}

	type victim struct {
		key  string
		size int64
	}
	var victims []victim
	now := time.Now().UnixMilli()

	for _, key := range keys {
		if c.isPreserved(key) {
			continue
		}

		value, err := c.store.GetItem(key)
		if err != nil {
			if errors.Is(err, ErrItemNotFound) {
				continue
			}
			// Unreadable entries count at twice the ceiling, mirroring the
			// corruption detector's estimate.
			victims = append(victims, victim{key: key, size: 2 * c.opts.ItemCeilingBytes})
			continue
		}

		size := int64(len(value))
		switch {
		case c.hasCachePrefix(key):
			victims = append(victims, victim{key: key, size: size})
		case size > c.opts.ItemCeilingBytes:
			victims = append(victims, victim{key: key, size: size})
		case c.isExpired(value, now):
			victims = append(victims, victim{key: key, size: size})
		}
	}

	if len(victims) == 0 {
		return CleanupResult{}
	}

	var result CleanupResult

	keysToRemove := make([]string, len(victims))
	sizeByKey := make(map[string]int64, len(victims))
	for i, v := range victims {
		keysToRemove[i] = v.key
		sizeByKey[v.key] = v.size
	}

	if err := c.store.MultiRemove(keysToRemove); err != nil {
		c.logger.Warn("bulk removal failed, falling back to per-key removal", zap.Error(err))
		for _, key := range keysToRemove {
			if err := c.store.RemoveItem(key); err != nil {
				c.logger.Warn("could not remove item during cleanup",
					zap.String("key", key),
					zap.Error(err))
				continue
			}
			result.Cleaned++
			result.FreedSpace += sizeByKey[key]
		}
	} else {
		for _, v := range victims {
			result.Cleaned++
			result.FreedSpace += v.size
		}
	}

	atomic.AddInt64(&c.totalRuns, 1)
	atomic.AddInt64(&c.totalCleaned, int64(result.Cleaned))
	atomic.AddInt64(&c.totalFreed, result.FreedSpace)

	c.logger.Info("cleanup pass finished",
		zap.Int("cleaned", result.Cleaned),
		zap.Int64("freed_bytes", result.FreedSpace),
		zap.Duration("elapsed", time.Since(started)))

	return result
}

// Stats returns lifetime cleanup counters.
func (c *Cleaner) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_runs":    atomic.LoadInt64(&c.totalRuns),
		"total_cleaned": atomic.LoadInt64(&c.totalCleaned),
		"total_freed":   atomic.LoadInt64(&c.totalFreed),
	}
}

func (c *Cleaner) isPreserved(key string) bool {
	for _, marker := range c.opts.PreservedKeys {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

func (c *Cleaner) hasCachePrefix(key string) bool {
	for _, prefix := range c.opts.CachePrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// isExpired reports whether value is a JSON envelope whose TTL has elapsed.
// Values that are not such envelopes never expire.
func (c *Cleaner) isExpired(value string, now int64) bool {
	var env cacheEnvelope
	if err := json.Unmarshal([]byte(value), &env); err != nil {
		return false
	}
	if env.Timestamp <= 0 || env.TTL <= 0 {
		return false
	}
	return now > env.Timestamp+env.TTL
}
