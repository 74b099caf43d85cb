package filemanagement

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/yeti47/crop-exporter/ccc/logging"
)

// FileTracker manages the staging directory tree
type FileTracker interface {
	// EnsureDirectory creates dir and any missing parents
	EnsureDirectory(dir string) error

	// EnsureParent creates the missing parent directories of a file path
	EnsureParent(filePath string) error

	// DeleteFile removes a file from disk
	DeleteFile(filePath string)

	// DeleteFiles removes every file in the list
	DeleteFiles(filePaths []string)
}

// LocalFileTracker implements FileTracker for local filesystem
type LocalFileTracker struct {
	logger logging.Logger
	mu     sync.Mutex
	known  map[string]struct{} // directories already created
}

// NewLocalFileTracker creates a new local file tracker
func NewLocalFileTracker(logger logging.Logger) *LocalFileTracker {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &LocalFileTracker{
		logger: logger,
		known:  make(map[string]struct{}),
	}
}

// EnsureDirectory creates dir if it doesn't exist.
// Directories created once are remembered to spare the hot path a stat call.
func (t *LocalFileTracker) EnsureDirectory(dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.known[dir]; ok {
		if _, err := os.Stat(dir); err == nil {
			return nil
		}
		delete(t.known, dir)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	t.known[dir] = struct{}{}
	return nil
}

// EnsureParent creates the parent directory of filePath
func (t *LocalFileTracker) EnsureParent(filePath string) error {
	return t.EnsureDirectory(filepath.Dir(filePath))
}

// DeleteFile removes a file from disk
func (t *LocalFileTracker) DeleteFile(filePath string) {
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn("Failed to remove file", "path", filePath, "error", err)
		return
	}
	t.logger.Debug("Deleted file", "path", filePath)
}

// DeleteFiles removes every file in the list
func (t *LocalFileTracker) DeleteFiles(filePaths []string) {
	for _, p := range filePaths {
		t.DeleteFile(p)
	}
}
