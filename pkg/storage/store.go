package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrItemNotFound is returned when no value is stored under the given key
	ErrItemNotFound = errors.New("item not found")

	// ErrStoreClosed is returned when an operation is attempted after shutdown
	ErrStoreClosed = errors.New("store is closed")

	// ErrQueueFull is returned when the write queue has reached its pending bound
	ErrQueueFull = errors.New("write queue is full")

	// ErrShutdownTimeout is returned when graceful shutdown times out
	ErrShutdownTimeout = errors.New("graceful shutdown timeout exceeded")
)

// Store is the key-value store guarded by this package. Implementations are
// not trusted to stay readable: any call may fail with a corruption-signature
// error (see classifyStoreError), and the engine never assumes a read or an
// enumeration can succeed.
type Store interface {
	// GetItem returns the value stored under key, or ErrItemNotFound.
	GetItem(key string) (string, error)

	// SetItem stores value under key.
	SetItem(key, value string) error

	// RemoveItem deletes the value stored under key. Removing a missing key
	// is not an error.
	RemoveItem(key string) error

	// GetAllKeys enumerates every key currently in the store.
	GetAllKeys() ([]string, error)

	// MultiRemove deletes a batch of keys in one operation.
	MultiRemove(keys []string) error

	// Clear wipes the entire store.
	Clear() error
}

// StoreError carries the failing operation and key together with an optional
// store-level error code. SQLite-style stores report capacity exhaustion as
// code 13, which the classifier treats as a corruption signal.
type StoreError struct {
	Op      string
	Key     string
	ErrCode int
	Err     error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Code exposes the store-level error code for classification.
func (e *StoreError) Code() int { return e.ErrCode }

// KeyValue is a single pair for batch writes.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
