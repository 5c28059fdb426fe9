package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storage-guard-server/pkg/storage"
)

func newMaintenanceFixture(t *testing.T, slowQueue bool) (*MaintenanceHandler, *memStore, *storage.Guard) {
	t.Helper()
	store := newMemStore()
	opts := defaultGuardOptions()
	if slowQueue {
		opts.Queue.DebounceInterval = 500 * time.Millisecond
	}
	guard := newTestGuard(t, store, opts)
	h := NewMaintenanceHandler(guard, nil, nil, zap.NewNop(), testConfig())
	return h, store, guard
}

// resultMap digs the nested maintenance result out of a response envelope.
func resultMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	data := dataMap(t, decodeEnvelope(t, rec))
	result, ok := data["result"].(map[string]interface{})
	require.True(t, ok, "result field missing or not an object: %v", data)
	return result
}

// TestFlushWritesDrainsQueue verifies the flush endpoint lands every
// debounced write before responding.
func TestFlushWritesDrainsQueue(t *testing.T) {
	h, store, guard := newMaintenanceFixture(t, true)
	e := echo.New()

	require.NoError(t, guard.Set("meal_draft_5", "v"))
	require.False(t, store.has("meal_draft_5"))

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/maintenance/flush", "")
	require.NoError(t, h.FlushWrites(c))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Flush completed successfully", resp.Message)
	data := dataMap(t, resp)
	assert.Equal(t, "flush", data["action"])
	result, ok := data["result"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, result["duration"])
	assert.Contains(t, result, "queue")

	assert.True(t, store.has("meal_draft_5"))
}

// TestRunCleanupEvictsDisposableEntries verifies the cleanup endpoint applies
// the eviction policy and reports removed keys and freed bytes.
func TestRunCleanupEvictsDisposableEntries(t *testing.T) {
	h, store, _ := newMaintenanceFixture(t, false)
	store.seed(map[string]string{
		"meal_cache_old":  "cached!",
		"meal_entry_keep": "v",
	})
	e := echo.New()

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/maintenance/cleanup", "")
	require.NoError(t, h.RunCleanup(c))

	require.Equal(t, http.StatusOK, rec.Code)
	result := resultMap(t, rec)
	assert.EqualValues(t, 1, result["cleaned"])
	assert.EqualValues(t, len("cached!"), result["freed_space"])

	assert.False(t, store.has("meal_cache_old"))
	assert.True(t, store.has("meal_entry_keep"))
}

// TestRunRecoveryEscalation verifies a recovery run removes dangerous and
// sweepable entries while preserving ordinary data.
func TestRunRecoveryEscalation(t *testing.T) {
	h, store, _ := newMaintenanceFixture(t, false)
	store.seed(map[string]string{
		"image_upload_stuck": "pending frame data",
		"meal_entry_good":    "v",
		"meal_cache_tmp":     "c",
	})
	e := echo.New()

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/maintenance/recovery", "")
	require.NoError(t, h.RunRecovery(c))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	result := resultMap(t, rec)
	assert.Equal(t, true, result["success"])
	assert.EqualValues(t, 2, result["removed"])

	assert.False(t, store.has("image_upload_stuck"))
	assert.False(t, store.has("meal_cache_tmp"))
	assert.True(t, store.has("meal_entry_good"))
}

// TestRunRecoveryNuclear verifies that when key enumeration fails the store
// is cleared wholesale and the response carries the sentinel removed count.
func TestRunRecoveryNuclear(t *testing.T) {
	h, store, _ := newMaintenanceFixture(t, false)
	store.seed(map[string]string{"meal_entry_1": "v", "weight_log_1": "w"})
	store.failGetAllKeys = errors.New("enumeration failed")
	e := echo.New()

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/maintenance/recovery", "")
	require.NoError(t, h.RunRecovery(c))

	require.Equal(t, http.StatusOK, rec.Code)
	result := resultMap(t, rec)
	assert.Equal(t, true, result["success"])
	assert.EqualValues(t, -1, result["removed"])
	errs, ok := result["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "Nuclear cleanup performed", errs[0])

	assert.False(t, store.has("meal_entry_1"))
	assert.False(t, store.has("weight_log_1"))
}

// TestRunRecoveryNuclearFailure verifies a failed wholesale clear maps to 500.
func TestRunRecoveryNuclearFailure(t *testing.T) {
	h, store, _ := newMaintenanceFixture(t, false)
	store.failGetAllKeys = errors.New("enumeration failed")
	store.failClear = errors.New("clear failed")
	e := echo.New()

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/maintenance/recovery", "")
	require.NoError(t, h.RunRecovery(c))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.False(t, resp.Success)
	result := resultMap(t, rec)
	assert.Equal(t, false, result["success"])
	assert.NotEmpty(t, result["errors"])
}

// TestGetStorageInfo verifies the usage report against seeded content.
func TestGetStorageInfo(t *testing.T) {
	h, store, _ := newMaintenanceFixture(t, false)
	store.seed(map[string]string{
		"a": string(make([]byte, 100)),
		"b": string(make([]byte, 100)),
		"c": string(make([]byte, 50)),
	})
	e := echo.New()

	c, rec := newJSONContext(e, http.MethodGet, "/api/v1/storage/info", "")
	require.NoError(t, h.GetStorageInfo(c))

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, decodeEnvelope(t, rec))
	assert.EqualValues(t, 250, data["total_size_bytes"])
	assert.EqualValues(t, 3, data["item_count"])
	assert.EqualValues(t, 1000, data["max_bytes"])
	assert.InDelta(t, 0.25, data["usage"].(float64), 0.001)
}

// TestGetStorageInfoError verifies snapshot failures map to 500.
func TestGetStorageInfoError(t *testing.T) {
	h, store, _ := newMaintenanceFixture(t, false)
	store.failGetAllKeys = errors.New("enumeration failed")
	e := echo.New()

	c, rec := newJSONContext(e, http.MethodGet, "/api/v1/storage/info", "")
	require.NoError(t, h.GetStorageInfo(c))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

// TestTriggerGCAndCreateBackup exercises the badger-backed maintenance
// endpoints end to end.
func TestTriggerGCAndCreateBackup(t *testing.T) {
	store := openBadger(t)
	guard := newTestGuard(t, store, defaultGuardOptions())
	gc := storage.NewGarbageCollector(store, time.Minute, 0.5, zap.NewNop())
	backups := newBackupManager(t, store)
	h := NewMaintenanceHandler(guard, gc, backups, zap.NewNop(), testConfig())
	e := echo.New()

	require.NoError(t, store.SetItem("meal_entry_1", `{"calories":500}`))
	require.NoError(t, store.SetItem("weight_log_1", "72.5"))

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/gc", "")
	require.NoError(t, h.TriggerGC(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Garbage collection completed successfully", decodeEnvelope(t, rec).Message)

	c, rec = newJSONContext(e, http.MethodPost, "/api/v1/backup", "")
	require.NoError(t, h.CreateBackup(c))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	data := dataMap(t, resp)
	path, _ := data["path"].(string)
	require.NotEmpty(t, path)
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
