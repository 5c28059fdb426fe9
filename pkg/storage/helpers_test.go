package storage

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeStore is an in-memory Store with per-operation failure injection,
// call logging, and in-flight accounting. Tests drive the engines against it
// instead of a real database so failures are deterministic.
type fakeStore struct {
	mu    sync.Mutex
	items map[string]string

	// Failure hooks run before the operation touches the map. A nil hook or
	// a nil return means the operation proceeds normally.
	failGet         func(key string) error
	failSet         func(key, value string) error
	failRemove      func(key string) error
	failGetAllKeys  func() error
	failMultiRemove func(keys []string) error
	failClear       func() error

	// setDelay holds every SetItem call open, letting tests observe how many
	// run concurrently.
	setDelay time.Duration

	setCalls    []string
	removeCalls []string
	clearCalls  int64

	inFlight    int64
	maxInFlight int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]string)}
}

func (f *fakeStore) seed(items map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range items {
		f.items[k] = v
	}
}

func (f *fakeStore) trackInFlight() func() {
	cur := atomic.AddInt64(&f.inFlight, 1)
	for {
		max := atomic.LoadInt64(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt64(&f.maxInFlight, max, cur) {
			break
		}
	}
	return func() { atomic.AddInt64(&f.inFlight, -1) }
}

func (f *fakeStore) GetItem(key string) (string, error) {
	if f.failGet != nil {
		if err := f.failGet(key); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.items[key]
	if !ok {
		return "", ErrItemNotFound
	}
	return value, nil
}

func (f *fakeStore) SetItem(key, value string) error {
	done := f.trackInFlight()
	defer done()
	if f.setDelay > 0 {
		time.Sleep(f.setDelay)
	}

	f.mu.Lock()
	f.setCalls = append(f.setCalls, key)
	f.mu.Unlock()

	if f.failSet != nil {
		if err := f.failSet(key, value); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = value
	return nil
}

func (f *fakeStore) RemoveItem(key string) error {
	f.mu.Lock()
	f.removeCalls = append(f.removeCalls, key)
	f.mu.Unlock()

	if f.failRemove != nil {
		if err := f.failRemove(key); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
	return nil
}

func (f *fakeStore) GetAllKeys() ([]string, error) {
	if f.failGetAllKeys != nil {
		if err := f.failGetAllKeys(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.items))
	for key := range f.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeStore) MultiRemove(keys []string) error {
	if f.failMultiRemove != nil {
		if err := f.failMultiRemove(keys); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.items, key)
	}
	return nil
}

func (f *fakeStore) Clear() error {
	atomic.AddInt64(&f.clearCalls, 1)
	if f.failClear != nil {
		if err := f.failClear(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = make(map[string]string)
	return nil
}

func (f *fakeStore) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.items[key]
	return value, ok
}

func (f *fakeStore) has(key string) bool {
	_, ok := f.get(key)
	return ok
}

func (f *fakeStore) itemCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fakeStore) setCallsFor(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.setCalls {
		if k == key {
			n++
		}
	}
	return n
}

func (f *fakeStore) removeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removeCalls)
}

// fastQueueOptions returns write queue timings short enough for tests while
// keeping the production batch size.
func fastQueueOptions() WriteQueueOptions {
	return WriteQueueOptions{
		DebounceInterval: 20 * time.Millisecond,
		BatchSize:        5,
		BatchDelay:       10 * time.Millisecond,
		MaxAttempts:      3,
		MaxPending:       1024,
	}
}

// waitUntil polls cond until it holds or timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
