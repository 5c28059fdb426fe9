package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	conflictRetryAttempts = 5
	maxConflictBackoff    = 32 * time.Millisecond
)

// BadgerStoreOptions configures the on-disk store.
type BadgerStoreOptions struct {
	// Dir is the data directory. Defaults to data/badger.
	Dir string

	// SyncWrites forces an fsync per write. Slower, safer.
	SyncWrites bool

	// PerformanceMode shrinks preallocation and tunes compaction for the
	// small datasets an on-device store holds.
	PerformanceMode bool

	// BlockCacheSize, when positive, enables badger's block cache.
	BlockCacheSize int64

	// ReadCacheSize is the entry count of the in-process read cache. Zero
	// disables it.
	ReadCacheSize int
}

// BadgerStore implements Store on BadgerDB with an optional in-process LRU
// read cache. Values are raw strings under the caller's key; the layers
// above decide what those bytes mean.
type BadgerStore struct {
	db        *badger.DB
	readCache *lru.Cache[string, string]
	logger    *zap.Logger
	opts      BadgerStoreOptions

	closed int32

	cacheHits   int64
	cacheMisses int64
}

// tunedBadgerOptions returns badger options sized for this workload.
func tunedBadgerOptions(dir string, opts BadgerStoreOptions) badger.Options {
	options := badger.DefaultOptions(dir)

	if opts.PerformanceMode {
		options = options.
			WithMemTableSize(8 << 20).
			WithValueLogFileSize(16 << 20).
			WithValueLogMaxEntries(50000).
			WithBaseTableSize(4 << 20).
			WithBlockSize(4096).
			WithBloomFalsePositive(0.01).
			WithNumCompactors(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4)
	} else {
		options = options.WithNumCompactors(2)
	}

	options = options.
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil).
		WithDetectConflicts(true).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true)

	if opts.BlockCacheSize > 0 {
		options = options.WithBlockCacheSize(opts.BlockCacheSize)
	}

	return options
}

// NewBadgerStore opens or creates the store at opts.Dir.
func NewBadgerStore(opts BadgerStoreOptions, logger *zap.Logger) (*BadgerStore, error) {
	if opts.Dir == "" {
		opts.Dir = "data/badger"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Clean(opts.Dir)
	db, err := badger.Open(tunedBadgerOptions(dir, opts))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}

	store := &BadgerStore{
		db:     db,
		logger: logger,
		opts:   opts,
	}

	if opts.ReadCacheSize > 0 {
		cache, err := lru.New[string, string](opts.ReadCacheSize)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create read cache: %w", err)
		}
		store.readCache = cache
	}

	logger.Info("badger store opened",
		zap.String("dir", dir),
		zap.Bool("sync_writes", opts.SyncWrites),
		zap.Int("read_cache_size", opts.ReadCacheSize))

	return store, nil
}

// Close flushes and closes the underlying database. Further operations
// return ErrStoreClosed.
func (s *BadgerStore) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if s.readCache != nil {
		s.readCache.Purge()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	s.logger.Info("badger store closed")
	return nil
}

func (s *BadgerStore) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// DiskSize returns the on-disk footprint in bytes, LSM plus value log.
func (s *BadgerStore) DiskSize() int64 {
	lsm, vlog := s.db.Size()
	return lsm + vlog
}

// CacheStats returns read cache counters.
func (s *BadgerStore) CacheStats() map[string]interface{} {
	stats := map[string]interface{}{
		"enabled": s.readCache != nil,
		"hits":    atomic.LoadInt64(&s.cacheHits),
		"misses":  atomic.LoadInt64(&s.cacheMisses),
	}
	if s.readCache != nil {
		stats["entries"] = s.readCache.Len()
	}
	return stats
}

// applyBackoffDelay waits 2^attempt milliseconds, capped at 32ms.
func applyBackoffDelay(attempt int) {
	backoff := time.Duration(1<<uint(attempt)) * time.Millisecond
	if backoff > maxConflictBackoff {
		backoff = maxConflictBackoff
	}
	time.Sleep(backoff)
}

// isRetryableTransactionError reports whether err is a badger transaction
// conflict worth retrying.
func isRetryableTransactionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, badger.ErrConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction Conflict") ||
		strings.Contains(msg, "transaction conflict")
}
