package exporting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yeti47/crop-exporter/ccc/logging"
)

// MockTransport is a Transport that copies archives into a local directory
type MockTransport struct {
	logger    logging.Logger
	outputDir string

	mu       sync.Mutex
	uploads  []UploadRecord
	failNext []error
}

// UploadRecord tracks delivered archives for testing
type UploadRecord struct {
	Timestamp time.Time
	Sequence  int64
	Bucket    string
	Key       string
	Size      int
	FilePath  string // Path where the archive was saved
}

// NewMockTransport creates a mock transport saving uploads below outputDir
func NewMockTransport(logger logging.Logger, outputDir string) *MockTransport {
	if logger == nil {
		logger = logging.NopLogger
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		logger.Warn("[MOCK] Failed to create output directory", "dir", outputDir, "error", err)
	} else {
		logger.Info("[MOCK] Created output directory", "dir", outputDir)
	}
	return &MockTransport{
		logger:    logger,
		outputDir: outputDir,
	}
}

// FailNext makes the next uploads return the given errors, in order
func (m *MockTransport) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, errs...)
}

// Upload saves the archive to {outputDir}/{bucket}/{key}
func (m *MockTransport) Upload(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		m.logger.Info("[MOCK] Failing upload", "sequence", task.Sequence, "error", err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(task.LocalPath())
	if err != nil {
		return NewNonRecoverableUploadError(fmt.Errorf("failed to read archive: %w", err))
	}

	filePath := filepath.Join(m.outputDir, task.Bucket, filepath.FromSlash(task.Key))
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to save archive: %w", err)
	}

	m.uploads = append(m.uploads, UploadRecord{
		Timestamp: time.Now(),
		Sequence:  task.Sequence,
		Bucket:    task.Bucket,
		Key:       task.Key,
		Size:      len(data),
		FilePath:  filePath,
	})

	m.logger.Info("[MOCK] Upload completed", "key", task.Key, "size", len(data), "total_uploads", len(m.uploads))
	return nil
}

// GetUploads returns a copy of all recorded uploads
func (m *MockTransport) GetUploads() []UploadRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	uploads := make([]UploadRecord, len(m.uploads))
	copy(uploads, m.uploads)
	return uploads
}

// GetOutputDirectory returns the directory where archives are saved
func (m *MockTransport) GetOutputDirectory() string {
	return m.outputDir
}
