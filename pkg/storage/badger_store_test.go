package storage

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T, opts BadgerStoreOptions) *BadgerStore {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	opts.PerformanceMode = true

	store, err := NewBadgerStore(opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestBadgerStoreRoundTrip verifies the basic operations end to end against
// a real database.
func TestBadgerStoreRoundTrip(t *testing.T) {
	store := openTestStore(t, BadgerStoreOptions{})

	require.NoError(t, store.SetItem("meal_entry_1", `{"calories":450}`))

	value, err := store.GetItem("meal_entry_1")
	require.NoError(t, err)
	assert.Equal(t, `{"calories":450}`, value)

	require.NoError(t, store.SetItem("meal_entry_1", `{"calories":500}`))
	value, err = store.GetItem("meal_entry_1")
	require.NoError(t, err)
	assert.Equal(t, `{"calories":500}`, value, "overwrite keeps the newest value")

	require.NoError(t, store.RemoveItem("meal_entry_1"))
	_, err = store.GetItem("meal_entry_1")
	assert.ErrorIs(t, err, ErrItemNotFound)

	assert.NoError(t, store.RemoveItem("meal_entry_1"), "removing a missing key is not an error")
}

// TestBadgerStoreEnumerationAndBulkOps verifies GetAllKeys, MultiRemove,
// Clear, and ItemCount against a populated database.
func TestBadgerStoreEnumerationAndBulkOps(t *testing.T) {
	store := openTestStore(t, BadgerStoreOptions{})

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SetItem(fmt.Sprintf("key_%d", i), "v"))
	}

	keys, err := store.GetAllKeys()
	require.NoError(t, err)
	assert.Len(t, keys, 5)
	assert.Equal(t, 5, store.ItemCount())

	require.NoError(t, store.MultiRemove([]string{"key_0", "key_1", "key_2", ""}))
	keys, err = store.GetAllKeys()
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, store.Clear())
	keys, err = store.GetAllKeys()
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, 0, store.ItemCount())
}

// TestBadgerStorePersistsAcrossReopen verifies data survives a close and
// reopen of the same directory.
func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store := openTestStore(t, BadgerStoreOptions{Dir: dir})
	require.NoError(t, store.SetItem("persist:auth", "token"))
	require.NoError(t, store.Close())

	reopened := openTestStore(t, BadgerStoreOptions{Dir: dir})
	value, err := reopened.GetItem("persist:auth")
	require.NoError(t, err)
	assert.Equal(t, "token", value)
}

// TestBadgerStoreReadCache verifies repeated reads are served from the LRU
// cache and the counters reflect it.
func TestBadgerStoreReadCache(t *testing.T) {
	store := openTestStore(t, BadgerStoreOptions{ReadCacheSize: 16})

	require.NoError(t, store.SetItem("hot", "value"))

	for i := 0; i < 3; i++ {
		value, err := store.GetItem("hot")
		require.NoError(t, err)
		assert.Equal(t, "value", value)
	}

	stats := store.CacheStats()
	assert.Equal(t, true, stats["enabled"])
	assert.GreaterOrEqual(t, stats["hits"].(int64), int64(3), "write-through cache serves every read")

	// Removal must invalidate the cached entry.
	require.NoError(t, store.RemoveItem("hot"))
	_, err := store.GetItem("hot")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

// TestBadgerStoreRejectsEmptyKeys verifies empty keys are refused before
// reaching the database.
func TestBadgerStoreRejectsEmptyKeys(t *testing.T) {
	store := openTestStore(t, BadgerStoreOptions{})

	_, err := store.GetItem("")
	assert.Error(t, err)
	assert.Error(t, store.SetItem("", "v"))
	assert.Error(t, store.RemoveItem(""))
}

// TestBadgerStoreClosedOperations verifies every operation fails with
// ErrStoreClosed after Close, and Close itself is idempotent.
func TestBadgerStoreClosedOperations(t *testing.T) {
	store := openTestStore(t, BadgerStoreOptions{})
	require.NoError(t, store.Close())
	assert.NoError(t, store.Close(), "second close is a no-op")

	_, err := store.GetItem("k")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.SetItem("k", "v"), ErrStoreClosed)
	assert.ErrorIs(t, store.RemoveItem("k"), ErrStoreClosed)
	_, err = store.GetAllKeys()
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.MultiRemove([]string{"k"}), ErrStoreClosed)
	assert.ErrorIs(t, store.Clear(), ErrStoreClosed)
}

// TestGarbageCollectorRunAndSchedule verifies a manual pass succeeds on a
// working store and the schedule starts and stops cleanly.
func TestGarbageCollectorRunAndSchedule(t *testing.T) {
	store := openTestStore(t, BadgerStoreOptions{})
	for i := 0; i < 50; i++ {
		require.NoError(t, store.SetItem(fmt.Sprintf("churn_%d", i), strings.Repeat("x", 512)))
	}

	gc := NewGarbageCollector(store, 10*time.Millisecond, 0.5, zap.NewNop())

	require.NoError(t, gc.RunGC(), "no-rewrite is a successful pass")
	m := gc.Metrics()
	assert.EqualValues(t, 1, m.TotalRuns)
	assert.EqualValues(t, 1, m.SuccessfulRuns)
	assert.False(t, m.LastRunTime.IsZero())

	gc.Start()
	assert.True(t, gc.IsRunning())
	gc.Start() // no-op while running

	waitUntil(t, 2*time.Second, func() bool { return gc.Metrics().TotalRuns >= 2 })

	gc.Stop()
	assert.False(t, gc.IsRunning())
	gc.Stop() // no-op when stopped
}

// TestBackupManagerBackupAndRestore verifies a backup of a populated store
// can be restored into a fresh one.
func TestBackupManagerBackupAndRestore(t *testing.T) {
	source := openTestStore(t, BadgerStoreOptions{})
	require.NoError(t, source.SetItem("meal_entry_1", "kept"))
	require.NoError(t, source.SetItem("meal_entry_2", "kept too"))

	backupDir := t.TempDir()
	bm := NewBackupManager(source, BackupOptions{Dir: backupDir, Prefix: "test-backup"}, zap.NewNop())

	path, err := bm.BackupNow()
	require.NoError(t, err)
	assert.Contains(t, path, "test-backup-")
	require.NoError(t, bm.VerifyBackup(path))
	assert.False(t, bm.LastBackupTime().IsZero())

	backups, err := bm.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	// Restore into a brand new store.
	target := openTestStore(t, BadgerStoreOptions{})
	restorer := NewBackupManager(target, BackupOptions{Dir: backupDir, Prefix: "test-backup"}, zap.NewNop())
	require.NoError(t, restorer.RestoreFromBackup(path))

	value, err := target.GetItem("meal_entry_1")
	require.NoError(t, err)
	assert.Equal(t, "kept", value)
	value, err = target.GetItem("meal_entry_2")
	require.NoError(t, err)
	assert.Equal(t, "kept too", value)
}

// TestBackupManagerVerifyRejectsBadFiles verifies verification fails for
// missing and empty backup files.
func TestBackupManagerVerifyRejectsBadFiles(t *testing.T) {
	store := openTestStore(t, BadgerStoreOptions{})
	dir := t.TempDir()
	bm := NewBackupManager(store, BackupOptions{Dir: dir}, zap.NewNop())

	assert.Error(t, bm.VerifyBackup(dir+"/does-not-exist.backup"))

	empty := dir + "/empty.backup"
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	err := bm.VerifyBackup(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

// TestBackupManagerStartStop verifies the schedule lifecycle and the
// already-running guard.
func TestBackupManagerStartStop(t *testing.T) {
	store := openTestStore(t, BadgerStoreOptions{})
	bm := NewBackupManager(store, BackupOptions{Dir: t.TempDir(), Interval: time.Hour}, zap.NewNop())

	require.NoError(t, bm.Start())
	assert.True(t, bm.IsRunning())
	assert.Error(t, bm.Start(), "second start must be refused")

	bm.Stop()
	assert.False(t, bm.IsRunning())
	bm.Stop() // no-op when stopped

	require.NoError(t, bm.Start(), "restart after stop must work")
	bm.Stop()
}
