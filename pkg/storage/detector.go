package storage

import (
	"errors"

	"go.uber.org/zap"
)

// EntryStatus is the health classification of a single stored entry.
type EntryStatus int

const (
	// EntryHealthy means the value was read and fits under the ceiling.
	EntryHealthy EntryStatus = iota

	// EntryOversized means the value was read but exceeds the ceiling.
	EntryOversized

	// EntryUnreadable means the value could not be read at all. Its real
	// size is unknowable, so it is assumed to be at least double the ceiling.
	EntryUnreadable
)

func (s EntryStatus) String() string {
	switch s {
	case EntryHealthy:
		return "healthy"
	case EntryOversized:
		return "oversized"
	case EntryUnreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

// Classification is the detector's verdict for one key. SizeBytes is the
// measured byte length for readable entries and the assumed size for
// unreadable ones.
type Classification struct {
	Status    EntryStatus `json:"status"`
	SizeBytes int64       `json:"size_bytes"`
}

// Detector inspects individual entries without assuming they can be read.
// It never returns an error: a failed read is itself the corruption verdict.
type Detector struct {
	store  Store
	logger *zap.Logger
}

// NewDetector creates a detector over the given store.
func NewDetector(store Store, logger *zap.Logger) *Detector {
	return &Detector{
		store:  store,
		logger: logger,
	}
}

// Classify reads the value under key and classifies it against ceilingBytes.
// A missing key is healthy with size zero. Any read failure classifies as
// unreadable with an assumed size of 2*ceilingBytes, since the actual size
// cannot be measured through a failing read path.
func (d *Detector) Classify(key string, ceilingBytes int64) Classification {
	value, err := d.store.GetItem(key)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return Classification{Status: EntryHealthy, SizeBytes: 0}
		}

		kind := classifyStoreError(err)
		d.logger.Debug("entry read failed during classification",
			zap.String("key", key),
			zap.String("error_kind", kind.String()),
			zap.Error(err))
		return Classification{Status: EntryUnreadable, SizeBytes: 2 * ceilingBytes}
	}

	size := int64(len(value))
	if size > ceilingBytes {
		return Classification{Status: EntryOversized, SizeBytes: size}
	}
	return Classification{Status: EntryHealthy, SizeBytes: size}
}
