package storage

import (
	"sync"
)

// WriteNotifications manages the event-driven waits on the write queue under
// a single mutex: callers blocked in WaitForWrite until a key's operation
// leaves the queue, and callers blocked in Flush until the queue drains.
// Write waiters receive the terminal error of the operation (nil on success,
// the classified error when it was dropped).
type WriteNotifications struct {
	mutex        sync.Mutex
	writeWaiters map[string][]chan error
	idleWaiters  []chan struct{}
}

// NewWriteNotifications creates an empty notification hub.
func NewWriteNotifications() *WriteNotifications {
	return &WriteNotifications{
		writeWaiters: make(map[string][]chan error),
	}
}

// registerWriteWaiter registers a channel to receive the terminal result of
// the pending operation for key. The channel must be buffered.
func (wn *WriteNotifications) registerWriteWaiter(key string, notifyChan chan error) {
	wn.mutex.Lock()
	defer wn.mutex.Unlock()

	wn.writeWaiters[key] = append(wn.writeWaiters[key], notifyChan)
}

// unregisterWriteWaiter removes a waiter that gave up (timeout). Swap-with-last
// keeps removal O(1) without reallocating.
func (wn *WriteNotifications) unregisterWriteWaiter(key string, notifyChan chan error) {
	wn.mutex.Lock()
	defer wn.mutex.Unlock()

	waiters := wn.writeWaiters[key]
	for i, ch := range waiters {
		if ch == notifyChan {
			lastIdx := len(waiters) - 1
			if i != lastIdx {
				waiters[i] = waiters[lastIdx]
			}
			wn.writeWaiters[key] = waiters[:lastIdx]

			if lastIdx == 0 {
				delete(wn.writeWaiters, key)
			}
			break
		}
	}
}

// notifyWrite delivers the terminal result for key to every registered waiter
// and clears them. Sends never block; a waiter that already left keeps its
// buffered slot empty.
func (wn *WriteNotifications) notifyWrite(key string, result error) {
	wn.mutex.Lock()
	defer wn.mutex.Unlock()

	waiters, exists := wn.writeWaiters[key]
	if !exists {
		return
	}
	for _, ch := range waiters {
		select {
		case ch <- result:
		default:
		}
	}
	delete(wn.writeWaiters, key)
}

// registerIdleWaiter registers a channel to be signalled once the queue is
// fully drained.
func (wn *WriteNotifications) registerIdleWaiter(notifyChan chan struct{}) {
	wn.mutex.Lock()
	defer wn.mutex.Unlock()

	wn.idleWaiters = append(wn.idleWaiters, notifyChan)
}

// unregisterIdleWaiter removes an idle waiter that gave up.
func (wn *WriteNotifications) unregisterIdleWaiter(notifyChan chan struct{}) {
	wn.mutex.Lock()
	defer wn.mutex.Unlock()

	for i, ch := range wn.idleWaiters {
		if ch == notifyChan {
			lastIdx := len(wn.idleWaiters) - 1
			if i != lastIdx {
				wn.idleWaiters[i] = wn.idleWaiters[lastIdx]
			}
			wn.idleWaiters = wn.idleWaiters[:lastIdx]
			break
		}
	}
}

// notifyIdleIfDrained signals every idle waiter when nothing remains pending.
func (wn *WriteNotifications) notifyIdleIfDrained(drained func() bool) {
	wn.mutex.Lock()
	defer wn.mutex.Unlock()

	if len(wn.idleWaiters) == 0 {
		return
	}
	if !drained() {
		return
	}
	for _, ch := range wn.idleWaiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	wn.idleWaiters = wn.idleWaiters[:0]
}
