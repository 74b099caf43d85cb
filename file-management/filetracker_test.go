package filemanagement

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yeti47/crop-exporter/ccc/logging"
)

func TestLocalFileTracker_EnsureParent(t *testing.T) {
	tracker := NewLocalFileTracker(logging.NopLogger)
	target := filepath.Join(t.TempDir(), "image", "s1", "c1", "2026", "1", "2", "3", "crop.jpg")

	if err := tracker.EnsureParent(target); err != nil {
		t.Fatalf("Failed to ensure parent: %v", err)
	}
	if info, err := os.Stat(filepath.Dir(target)); err != nil || !info.IsDir() {
		t.Fatalf("Expected parent directory to exist, err: %v", err)
	}
}

func TestLocalFileTracker_EnsureDirectory_RecreatesRemovedDir(t *testing.T) {
	tracker := NewLocalFileTracker(nil)
	dir := filepath.Join(t.TempDir(), "staging")

	if err := tracker.EnsureDirectory(dir); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("Failed to remove directory: %v", err)
	}
	if err := tracker.EnsureDirectory(dir); err != nil {
		t.Fatalf("Failed to recreate directory: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected directory to be recreated, got %v", err)
	}
}

func TestLocalFileTracker_DeleteFiles(t *testing.T) {
	tracker := NewLocalFileTracker(nil)
	dir := t.TempDir()

	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", p, err)
		}
	}

	// missing files are ignored
	tracker.DeleteFiles([]string{a, b, filepath.Join(dir, "missing.jpg")})

	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("Expected %s to be deleted", p)
		}
	}
}
