package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const pendingFilePrefix = "pending-writes-"

// pendingSnapshot is the on-disk form of unflushed queue state written
// during shutdown.
type pendingSnapshot struct {
	SavedAt    time.Time          `json:"saved_at"`
	Operations []*QueuedOperation `json:"operations"`
}

// savePendingOperations writes unflushed operations to a timestamped JSON
// file under dir so they can be replayed on the next start.
func savePendingOperations(dir string, ops []*QueuedOperation, logger *zap.Logger) error {
	if len(ops) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create recovery directory: %w", err)
	}

	snapshot := pendingSnapshot{
		SavedAt:    time.Now(),
		Operations: ops,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal pending operations: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s%d.json", pendingFilePrefix, time.Now().UnixNano()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write pending operations: %w", err)
	}

	logger.Info("persisted unflushed operations",
		zap.Int("count", len(ops)),
		zap.String("path", path))
	return nil
}

// loadLatestPendingOperations returns the operations from the most recent
// snapshot under dir, along with the snapshot path for archival. Corrupt
// snapshots are skipped in favor of the next newest.
func loadLatestPendingOperations(dir string, logger *zap.Logger) ([]*QueuedOperation, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("read recovery directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, pendingFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, "", nil
	}

	// Names embed nanosecond timestamps of equal width, so lexical order is
	// chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("could not read pending snapshot",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		var snapshot pendingSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			logger.Warn("skipping corrupt pending snapshot",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		return snapshot.Operations, path, nil
	}
	return nil, "", nil
}

// archivePendingSnapshot moves a restored snapshot into the processed
// subdirectory so it is never replayed twice.
func archivePendingSnapshot(path string, logger *zap.Logger) {
	processedDir := filepath.Join(filepath.Dir(path), "processed")
	if err := os.MkdirAll(processedDir, 0755); err != nil {
		logger.Warn("could not create archive directory", zap.Error(err))
		return
	}
	dest := filepath.Join(processedDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		logger.Warn("could not archive pending snapshot",
			zap.String("path", path),
			zap.Error(err))
	}
}
