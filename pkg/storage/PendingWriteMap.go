package storage

import (
	"sync"
	"sync/atomic"
)

// PendingWriteMap holds the ready-to-flush operations keyed by storage key,
// with an atomic counter so queue depth checks stay O(1). Entries are
// replaced in place when a newer operation for the same key is promoted
// (last write wins), and removed with pointer identity so a flush pass can
// never delete an operation it did not process.
type PendingWriteMap struct {
	items sync.Map
	count int64
}

// NewPendingWriteMap creates an empty PendingWriteMap.
func NewPendingWriteMap() *PendingWriteMap {
	return &PendingWriteMap{}
}

// Store sets the pending operation for a key, returning whether the key was
// not already pending.
func (pm *PendingWriteMap) Store(key string, op *QueuedOperation) bool {
	_, wasPresent := pm.items.Swap(key, op)
	if wasPresent {
		return false
	}
	atomic.AddInt64(&pm.count, 1)
	return true
}

// Load returns the pending operation for a key, if any.
func (pm *PendingWriteMap) Load(key string) (*QueuedOperation, bool) {
	value, ok := pm.items.Load(key)
	if !ok {
		return nil, false
	}
	return value.(*QueuedOperation), true
}

// CompareAndDelete removes the entry for key only if it still holds op.
// Returns false when a newer operation replaced it in the meantime.
func (pm *PendingWriteMap) CompareAndDelete(key string, op *QueuedOperation) bool {
	if pm.items.CompareAndDelete(key, op) {
		atomic.AddInt64(&pm.count, -1)
		return true
	}
	return false
}

// LoadAndDelete removes the entry for key, returning the previous operation
// if any.
func (pm *PendingWriteMap) LoadAndDelete(key string) (*QueuedOperation, bool) {
	value, loaded := pm.items.LoadAndDelete(key)
	if !loaded {
		return nil, false
	}
	atomic.AddInt64(&pm.count, -1)
	return value.(*QueuedOperation), true
}

// Range calls f sequentially for each pending operation. f returning false
// stops the iteration.
func (pm *PendingWriteMap) Range(f func(key string, op *QueuedOperation) bool) {
	pm.items.Range(func(key, value any) bool {
		return f(key.(string), value.(*QueuedOperation))
	})
}

// Snapshot collects the current pending operations. Ordering is applied by
// the caller.
func (pm *PendingWriteMap) Snapshot() []*QueuedOperation {
	ops := make([]*QueuedOperation, 0, pm.Count())
	pm.items.Range(func(_, value any) bool {
		ops = append(ops, value.(*QueuedOperation))
		return true
	})
	return ops
}

// Count returns the current number of pending operations (O(1)).
func (pm *PendingWriteMap) Count() int {
	return int(atomic.LoadInt64(&pm.count))
}

// IsEmpty returns true if nothing is pending (O(1)).
func (pm *PendingWriteMap) IsEmpty() bool {
	return atomic.LoadInt64(&pm.count) == 0
}
