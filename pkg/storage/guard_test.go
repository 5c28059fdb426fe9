package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// closableStore wraps fakeStore with a Close method so guard shutdown tests
// can verify the store is closed exactly once.
type closableStore struct {
	*fakeStore
	closeCalls int64
}

func (c *closableStore) Close() error {
	atomic.AddInt64(&c.closeCalls, 1)
	return nil
}

func testGuardOptions() GuardOptions {
	return GuardOptions{
		Queue: fastQueueOptions(),
		Cleanup: CleanupOptions{
			CachePrefixes:    []string{"meal_cache_", "search_cache_"},
			ItemCeilingBytes: 1024,
		},
		Recovery: RecoveryOptions{
			DangerousPrefixes:         []string{"image_upload_", "temp_image_"},
			SweepPrefixes:             []string{"meal_cache_", "search_cache_"},
			ChunkSize:                 5,
			ChunkDelay:                time.Millisecond,
			EmergencyItemCeilingBytes: 1 << 20,
		},
		Monitor: MonitorOptions{
			Interval:         time.Minute,
			MaxTotalBytes:    10000,
			CleanupThreshold: 0.8,
		},
		PreservedKeys: []string{"persist:", "auth_token"},
	}
}

// TestGuardWriteReadRoundTrip verifies the basic path: a queued write is
// pending, becomes visible after the debounce flush, and reads come straight
// from the store.
func TestGuardWriteReadRoundTrip(t *testing.T) {
	store := newFakeStore()
	g := NewGuard(store, testGuardOptions(), zap.NewNop())
	defer g.Close(time.Second)

	require.NoError(t, g.Set("meal_entry_1", `{"calories":450}`))
	assert.True(t, g.IsPending("meal_entry_1"))

	_, err := g.Get("meal_entry_1")
	assert.ErrorIs(t, err, ErrItemNotFound, "value must stay invisible inside the debounce window")

	require.NoError(t, g.WaitForWrite("meal_entry_1", 2*time.Second))
	assert.False(t, g.IsPending("meal_entry_1"))

	value, err := g.Get("meal_entry_1")
	require.NoError(t, err)
	assert.Equal(t, `{"calories":450}`, value)
}

// TestGuardCorruptionTriggersRecovery verifies a corruption-classified write
// failure drops the write and automatically runs emergency recovery, which
// clears out the dangerous families.
func TestGuardCorruptionTriggersRecovery(t *testing.T) {
	store := newFakeStore()
	store.seed(map[string]string{
		"image_upload_junk": strings.Repeat("x", 100),
		"meal_entry_keep":   "small",
	})
	store.failSet = func(key, _ string) error {
		if key == "poison" {
			return errors.New("Row too big to fit into CursorWindow")
		}
		return nil
	}
	g := NewGuard(store, testGuardOptions(), zap.NewNop())
	defer g.Close(time.Second)

	require.NoError(t, g.Set("poison", "x"))
	require.NoError(t, g.Flush())

	assert.False(t, store.has("poison"))
	assert.False(t, store.has("image_upload_junk"), "recovery must remove dangerous prefixes")
	assert.True(t, store.has("meal_entry_keep"))

	stats := g.Stats()
	recoveryStats := stats["recovery"].(map[string]interface{})
	assert.EqualValues(t, 1, recoveryStats["total_runs"])
}

// TestGuardKeysPagination verifies prefix filtering, sorting, and the
// limit/offset window with its total count.
func TestGuardKeysPagination(t *testing.T) {
	store := newFakeStore()
	items := map[string]string{"other_1": "x"}
	for i := 0; i < 10; i++ {
		items[fmt.Sprintf("meal_entry_%d", i)] = "x"
	}
	store.seed(items)
	g := NewGuard(store, testGuardOptions(), zap.NewNop())
	defer g.Close(time.Second)

	keys, total, err := g.Keys("meal_entry_", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Equal(t, []string{"meal_entry_2", "meal_entry_3", "meal_entry_4"}, keys)

	keys, total, err = g.Keys("", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	assert.Len(t, keys, 11)

	keys, total, err = g.Keys("meal_entry_", 5, 50)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Empty(t, keys)
}

// TestGuardClassifyItem verifies per-item health checks against the routine
// ceiling configured for cleanup.
func TestGuardClassifyItem(t *testing.T) {
	store := newFakeStore()
	store.seed(map[string]string{
		"small": "ok",
		"big":   strings.Repeat("x", 2000),
		"bad":   "unreachable",
	})
	store.failGet = func(key string) error {
		if key == "bad" {
			return errors.New("Couldn't read row")
		}
		return nil
	}
	g := NewGuard(store, testGuardOptions(), zap.NewNop())
	defer g.Close(time.Second)

	assert.Equal(t, EntryHealthy, g.ClassifyItem("small").Status)
	assert.Equal(t, EntryOversized, g.ClassifyItem("big").Status)

	bad := g.ClassifyItem("bad")
	assert.Equal(t, EntryUnreadable, bad.Status)
	assert.EqualValues(t, 2048, bad.SizeBytes)
}

// TestGuardStartupMaintenanceRestoresPersisted verifies writes persisted by
// a previous shutdown replay into the store and the snapshot is archived.
func TestGuardStartupMaintenanceRestoresPersisted(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()
	require.NoError(t, savePendingOperations(dir, []*QueuedOperation{
		{Key: "meal_draft", Value: "restored", Type: OpSet, Timestamp: 1},
	}, logger))

	store := newFakeStore()
	opts := testGuardOptions()
	opts.RecoveryDir = dir
	g := NewGuard(store, opts, logger)
	defer g.Close(time.Second)

	require.NoError(t, g.StartupMaintenance())
	require.NoError(t, g.Flush())

	value, ok := store.get("meal_draft")
	require.True(t, ok)
	assert.Equal(t, "restored", value)

	// Nothing left to replay on the next start.
	loaded, _, err := loadLatestPendingOperations(dir, logger)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

// TestGuardStartupMaintenanceRecoversUnreadableStore verifies a store that
// cannot enumerate keys at startup is cleared back to a writable state.
func TestGuardStartupMaintenanceRecoversUnreadableStore(t *testing.T) {
	store := newFakeStore()
	store.seed(map[string]string{"anything": "x"})
	store.failGetAllKeys = func() error {
		return errors.New("Row too big to fit into CursorWindow")
	}
	g := NewGuard(store, testGuardOptions(), zap.NewNop())
	defer g.Close(time.Second)

	require.NoError(t, g.StartupMaintenance())
	assert.EqualValues(t, 1, atomic.LoadInt64(&store.clearCalls))
}

// TestGuardCloseFlushesPendingAndClosesStore verifies Close drains the queue
// into the store, closes the store exactly once, and makes later writes fail.
func TestGuardCloseFlushesPendingAndClosesStore(t *testing.T) {
	store := &closableStore{fakeStore: newFakeStore()}
	opts := testGuardOptions()
	opts.Queue.DebounceInterval = 300 * time.Millisecond
	g := NewGuard(store, opts, zap.NewNop())

	require.NoError(t, g.Set("a", "1"))
	require.NoError(t, g.Set("b", "2"))

	require.NoError(t, g.Close(2*time.Second))

	assert.Equal(t, 2, store.itemCount())
	assert.EqualValues(t, 1, atomic.LoadInt64(&store.closeCalls))

	assert.NoError(t, g.Close(time.Second), "second close is a no-op")
	assert.EqualValues(t, 1, atomic.LoadInt64(&store.closeCalls))

	assert.ErrorIs(t, g.Set("late", "x"), ErrStoreClosed)
}

// TestGuardEmergencyShutdownPersistsPending verifies the emergency path skips
// flushing entirely and parks pending writes on disk for the next start.
func TestGuardEmergencyShutdownPersistsPending(t *testing.T) {
	dir := t.TempDir()
	store := &closableStore{fakeStore: newFakeStore()}
	opts := testGuardOptions()
	opts.Queue.DebounceInterval = 500 * time.Millisecond
	opts.RecoveryDir = dir
	g := NewGuard(store, opts, zap.NewNop())

	require.NoError(t, g.Set("unsaved_1", "v1"))
	require.NoError(t, g.Set("unsaved_2", "v2"))

	require.NoError(t, g.EmergencyShutdown())

	assert.Equal(t, 0, store.itemCount(), "emergency shutdown must not flush")
	assert.EqualValues(t, 1, atomic.LoadInt64(&store.closeCalls))

	loaded, _, err := loadLatestPendingOperations(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

// TestGuardHealthTransitions verifies the summary states: healthy at rest,
// degraded under pressure, unhealthy past capacity or once closed.
func TestGuardHealthTransitions(t *testing.T) {
	store := newFakeStore()
	opts := testGuardOptions()
	opts.Monitor.MaxTotalBytes = 1000
	g := NewGuard(store, opts, zap.NewNop())

	assert.Equal(t, HealthStatusHealthy, g.Health())

	// Pressure above the cleanup threshold degrades.
	store.seed(map[string]string{"a": strings.Repeat("x", 900)})
	_, err := g.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, HealthStatusDegraded, g.Health())

	// Past capacity is unhealthy.
	store.seed(map[string]string{"b": strings.Repeat("x", 200)})
	_, err = g.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, HealthStatusUnhealthy, g.Health())

	require.NoError(t, g.Close(time.Second))
	assert.Equal(t, HealthStatusUnhealthy, g.Health())
}

// TestGuardHealthProbeFailure verifies a store that cannot answer a probe
// read reports unhealthy regardless of usage.
func TestGuardHealthProbeFailure(t *testing.T) {
	store := newFakeStore()
	store.failGet = func(string) error {
		return errors.New("database or disk is full")
	}
	g := NewGuard(store, testGuardOptions(), zap.NewNop())
	defer g.Close(time.Second)

	assert.Equal(t, HealthStatusUnhealthy, g.Health())
}

// TestGuardStatsShape verifies the stats document carries one section per
// component.
func TestGuardStatsShape(t *testing.T) {
	g := NewGuard(newFakeStore(), testGuardOptions(), zap.NewNop())
	defer g.Close(time.Second)

	stats := g.Stats()
	assert.Contains(t, stats, "queue")
	assert.Contains(t, stats, "cleanup")
	assert.Contains(t, stats, "recovery")
	assert.Contains(t, stats, "monitor")

	summary := g.HealthSummary()
	assert.Equal(t, "healthy", summary["overall_status"])
	assert.Contains(t, summary, "queue_pending")
	assert.Contains(t, summary, "uptime_seconds")
}
