package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storage-guard-server/pkg/config"
	"storage-guard-server/pkg/models"
	"storage-guard-server/pkg/storage"
)

// memStore is an in-memory storage.Store for handler tests, with hooks to
// inject enumeration and clear failures.
type memStore struct {
	mu             sync.Mutex
	items          map[string]string
	failGetAllKeys error
	failClear      error
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]string)}
}

func (m *memStore) GetItem(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.items[key]
	if !ok {
		return "", storage.ErrItemNotFound
	}
	return value, nil
}

func (m *memStore) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *memStore) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memStore) GetAllKeys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetAllKeys != nil {
		return nil, m.failGetAllKeys
	}
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) MultiRemove(keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

func (m *memStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClear != nil {
		return m.failClear
	}
	m.items = make(map[string]string)
	return nil
}

func (m *memStore) seed(items map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range items {
		m.items[key] = value
	}
}

func (m *memStore) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.items[key]
	return value, ok
}

func (m *memStore) has(key string) bool {
	_, ok := m.get(key)
	return ok
}

// testConfig returns handler configuration with production-like validation
// limits and a small storage capacity so usage math is easy to assert.
func testConfig() *config.Config {
	return &config.Config{
		PerformanceMode:    true,
		MaxKeyLength:       512,
		MaxValueSize:       1 << 20,
		MaxBatchItems:      500,
		MaxPaginationLimit: 1000,
		MaxStorageBytes:    1000,
	}
}

// defaultGuardOptions mirrors the production wiring with test-friendly
// timings.
func defaultGuardOptions() storage.GuardOptions {
	return storage.GuardOptions{
		Queue: storage.WriteQueueOptions{
			DebounceInterval: 20 * time.Millisecond,
			BatchSize:        5,
			BatchDelay:       10 * time.Millisecond,
			MaxAttempts:      3,
			MaxPending:       1024,
		},
		Cleanup: storage.CleanupOptions{
			CachePrefixes:    []string{"meal_cache_"},
			ItemCeilingBytes: 1024,
		},
		Recovery: storage.RecoveryOptions{
			DangerousPrefixes:         []string{"image_upload_"},
			SweepPrefixes:             []string{"meal_cache_"},
			ChunkSize:                 5,
			ChunkDelay:                time.Millisecond,
			EmergencyItemCeilingBytes: 2048,
		},
		Monitor: storage.MonitorOptions{
			Interval:         time.Minute,
			MaxTotalBytes:    1000,
			CleanupThreshold: 0.8,
			ItemCeilingBytes: 1024,
		},
		PreservedKeys: []string{"persist:"},
	}
}

func newTestGuard(t *testing.T, store storage.Store, opts storage.GuardOptions) *storage.Guard {
	t.Helper()
	g := storage.NewGuard(store, opts, zap.NewNop())
	t.Cleanup(func() { _ = g.Close(2 * time.Second) })
	return g
}

// openBadger opens a throwaway BadgerDB store for tests that need the
// concrete type.
func openBadger(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewBadgerStore(storage.BadgerStoreOptions{
		Dir:             t.TempDir(),
		PerformanceMode: true,
		ReadCacheSize:   64,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newBackupManager(t *testing.T, store *storage.BadgerStore) *storage.BackupManager {
	t.Helper()
	return storage.NewBackupManager(store, storage.BackupOptions{
		Dir: filepath.Join(t.TempDir(), "backups"),
	}, zap.NewNop())
}

// newJSONContext builds an Echo context carrying an optional JSON body.
func newJSONContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

// decodeEnvelope parses the standard response envelope.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.StorageResponse {
	t.Helper()
	var resp models.StorageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// dataMap asserts the envelope data is a JSON object and returns it.
func dataMap(t *testing.T, resp models.StorageResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is not an object: %T", resp.Data)
	return m
}
