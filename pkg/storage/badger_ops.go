package storage

import (
	"errors"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
)

// GetItem returns the value stored under key. The read cache is consulted
// first; misses fall through to a View transaction.
func (s *BadgerStore) GetItem(key string) (string, error) {
	if s.isClosed() {
		return "", ErrStoreClosed
	}
	if key == "" {
		return "", errEmptyKey
	}

	if s.readCache != nil {
		if value, ok := s.readCache.Get(key); ok {
			atomic.AddInt64(&s.cacheHits, 1)
			return value, nil
		}
		atomic.AddInt64(&s.cacheMisses, 1)
	}

	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value = string(raw)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return "", ErrItemNotFound
		}
		return "", &StoreError{Op: "get", Key: key, Err: err}
	}

	if s.readCache != nil {
		s.readCache.Add(key, value)
	}
	return value, nil
}

// SetItem writes value under key, retrying transaction conflicts with
// exponential backoff. The read cache is updated write-through on success.
func (s *BadgerStore) SetItem(key, value string) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	if key == "" {
		return errEmptyKey
	}

	var err error
	for attempt := 0; attempt < conflictRetryAttempts; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(key), []byte(value))
		})
		if err != nil && isRetryableTransactionError(err) && attempt < conflictRetryAttempts-1 {
			applyBackoffDelay(attempt)
			continue
		}
		break
	}
	if err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}

	if s.readCache != nil {
		s.readCache.Add(key, value)
	}
	return nil
}

// RemoveItem deletes key. Removing a missing key succeeds.
func (s *BadgerStore) RemoveItem(key string) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	if key == "" {
		return errEmptyKey
	}

	var err error
	for attempt := 0; attempt < conflictRetryAttempts; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(key))
		})
		if err != nil && isRetryableTransactionError(err) && attempt < conflictRetryAttempts-1 {
			applyBackoffDelay(attempt)
			continue
		}
		break
	}
	if err != nil {
		return &StoreError{Op: "remove", Key: key, Err: err}
	}

	if s.readCache != nil {
		s.readCache.Remove(key)
	}
	return nil
}

// GetAllKeys returns every key in the store, unordered.
func (s *BadgerStore) GetAllKeys() ([]string, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, &StoreError{Op: "keys", Err: err}
	}
	return keys, nil
}

// MultiRemove deletes keys in a single write batch.
func (s *BadgerStore) MultiRemove(keys []string) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := wb.Delete([]byte(key)); err != nil {
			return &StoreError{Op: "multiremove", Key: key, Err: err}
		}
	}
	if err := wb.Flush(); err != nil {
		return &StoreError{Op: "multiremove", Err: err}
	}

	if s.readCache != nil {
		for _, key := range keys {
			s.readCache.Remove(key)
		}
	}
	return nil
}

// Clear removes every entry wholesale.
func (s *BadgerStore) Clear() error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	if err := s.db.DropAll(); err != nil {
		return &StoreError{Op: "clear", Err: err}
	}
	if s.readCache != nil {
		s.readCache.Purge()
	}
	return nil
}

// ItemCount iterates keys and counts them.
func (s *BadgerStore) ItemCount() int {
	if s.isClosed() {
		return 0
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0
	}
	return count
}
