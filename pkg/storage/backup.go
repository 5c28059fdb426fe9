package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackupOptions configures periodic store backups.
type BackupOptions struct {
	// Dir is where backup files are written. Defaults to backups.
	Dir string

	// Interval between automatic backups. Defaults to six hours.
	Interval time.Duration

	// MaxBackups is the retention limit. Older files beyond it are pruned.
	MaxBackups int

	// Prefix names the backup files. Defaults to storage-backup.
	Prefix string
}

// BackupManager writes periodic full backups of the badger store and prunes
// old ones. It also serves as the last line of defense before a nuclear
// clear: BackupNow is cheap enough to run on demand.
type BackupManager struct {
	store  *BadgerStore
	logger *zap.Logger
	opts   BackupOptions

	mu         sync.RWMutex
	isRunning  bool
	stopChan   chan struct{}
	lastBackup time.Time

	wg sync.WaitGroup

	// backupMu serializes backup operations; concurrent badger backups
	// fight over iterators.
	backupMu sync.Mutex
}

// NewBackupManager creates a backup manager for the given store.
func NewBackupManager(store *BadgerStore, opts BackupOptions, logger *zap.Logger) *BackupManager {
	if opts.Dir == "" {
		opts.Dir = "backups"
	}
	if opts.Interval <= 0 {
		opts.Interval = 6 * time.Hour
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 7
	}
	if opts.Prefix == "" {
		opts.Prefix = "storage-backup"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackupManager{
		store:  store,
		logger: logger,
		opts:   opts,
	}
}

// Start begins the periodic backup loop. Restartable after Stop.
func (bm *BackupManager) Start() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if bm.isRunning {
		return fmt.Errorf("backup manager is already running")
	}
	if err := os.MkdirAll(bm.opts.Dir, 0755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	bm.isRunning = true
	bm.stopChan = make(chan struct{})

	bm.wg.Add(1)
	go bm.loop(bm.stopChan)

	bm.logger.Info("backup manager started",
		zap.String("dir", bm.opts.Dir),
		zap.Duration("interval", bm.opts.Interval),
		zap.Int("max_backups", bm.opts.MaxBackups))
	return nil
}

// Stop halts the loop and waits for an in-flight backup to finish.
func (bm *BackupManager) Stop() {
	bm.mu.Lock()
	if !bm.isRunning {
		bm.mu.Unlock()
		return
	}
	bm.isRunning = false
	close(bm.stopChan)
	bm.mu.Unlock()

	bm.wg.Wait()
}

// IsRunning reports whether the loop is active.
func (bm *BackupManager) IsRunning() bool {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.isRunning
}

func (bm *BackupManager) loop(stop chan struct{}) {
	defer bm.wg.Done()

	ticker := time.NewTicker(bm.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := bm.BackupNow(); err != nil {
				bm.logger.Error("scheduled backup failed", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}

// BackupNow writes a full backup immediately and returns its path.
func (bm *BackupManager) BackupNow() (string, error) {
	bm.backupMu.Lock()
	defer bm.backupMu.Unlock()

	if err := os.MkdirAll(bm.opts.Dir, 0755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(bm.opts.Dir, fmt.Sprintf("%s-%s.backup", bm.opts.Prefix, timestamp))

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}
	defer file.Close()

	if _, err := bm.store.db.Backup(file, 0); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("backup operation failed: %w", err)
	}

	bm.mu.Lock()
	bm.lastBackup = time.Now()
	bm.mu.Unlock()

	if err := bm.pruneOldBackups(); err != nil {
		bm.logger.Warn("could not prune old backups", zap.Error(err))
	}

	bm.logger.Info("backup written", zap.String("path", path))
	return path, nil
}

// RestoreFromBackup loads a backup file into the store, merging over the
// current contents.
func (bm *BackupManager) RestoreFromBackup(path string) error {
	if err := bm.VerifyBackup(path); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer file.Close()

	if err := bm.store.db.Load(file, 256); err != nil {
		return fmt.Errorf("load backup: %w", err)
	}

	bm.logger.Info("backup restored", zap.String("path", path))
	return nil
}

// VerifyBackup checks that a backup file exists, is regular, and non-empty.
func (bm *BackupManager) VerifyBackup(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("backup file not accessible: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("backup path is not a regular file")
	}
	if info.Size() == 0 {
		return fmt.Errorf("backup file is empty")
	}
	return nil
}

// LastBackupTime returns when the most recent backup finished.
func (bm *BackupManager) LastBackupTime() time.Time {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.lastBackup
}

// ListBackups returns the paths of available backup files.
func (bm *BackupManager) ListBackups() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(bm.opts.Dir, fmt.Sprintf("%s-*.backup", bm.opts.Prefix)))
	if err != nil {
		return nil, fmt.Errorf("list backup files: %w", err)
	}
	return files, nil
}

func (bm *BackupManager) pruneOldBackups() error {
	backups, err := bm.ListBackups()
	if err != nil {
		return err
	}
	if len(backups) <= bm.opts.MaxBackups {
		return nil
	}

	type backupInfo struct {
		path    string
		modTime time.Time
	}
	var infos []backupInfo
	for _, path := range backups {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		infos = append(infos, backupInfo{path: path, modTime: info.ModTime()})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].modTime.Before(infos[j].modTime)
	})

	for i := 0; i < len(infos)-bm.opts.MaxBackups; i++ {
		if err := os.Remove(infos[i].path); err != nil {
			bm.logger.Warn("could not remove old backup",
				zap.String("path", infos[i].path),
				zap.Error(err))
		}
	}
	return nil
}
