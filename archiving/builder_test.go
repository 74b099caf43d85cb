package archiving

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/frames"
)

func setupBuilderTest(t *testing.T) (Builder, frames.Naming) {
	naming := frames.Naming{
		Root:       t.TempDir(),
		UploadType: "image",
		StoreID:    "s1",
		CameraID:   "c1",
	}
	return NewZipBuilder(logging.NopLogger, naming), naming
}

func writeTestFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func readArchive(t *testing.T, path string) map[string][]byte {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	defer r.Close()

	entries := make(map[string][]byte)
	for _, f := range r.File {
		if f.Method != zip.Deflate {
			t.Errorf("Entry %s is not deflate-compressed", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Failed to open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("Failed to read entry %s: %v", f.Name, err)
		}
		entries[f.Name] = data
	}
	return entries
}

func TestZipBuilder_Build_EntriesByBasename(t *testing.T) {
	builder, naming := setupBuilderTest(t)
	src := t.TempDir()

	f1 := filepath.Join(src, "a", "f1.jpg")
	f2 := filepath.Join(src, "b", "f2.jpg")
	content1 := bytes.Repeat([]byte{0xFF, 0xD8, 1}, 100)
	content2 := []byte("second file content")
	writeTestFile(t, f1, content1)
	writeTestFile(t, f2, content2)

	start := time.Date(2026, 7, 8, 9, 15, 0, 0, time.UTC)
	job, err := builder.Build([]string{f1, f2}, start)
	if err != nil {
		t.Fatalf("Failed to build archive: %v", err)
	}

	if job.RemoteKey != "image/s1/c1/2026/7/8/9/15.zip" {
		t.Errorf("Unexpected remote key %q", job.RemoteKey)
	}
	if job.LocalPath != filepath.Join(naming.Root, "image", "s1", "c1", "2026", "7", "8", "9", "15.zip") {
		t.Errorf("Unexpected local path %q", job.LocalPath)
	}
	if job.Entries != 2 {
		t.Errorf("Expected 2 entries, got %d", job.Entries)
	}

	entries := readArchive(t, job.LocalPath)
	if len(entries) != 2 {
		t.Fatalf("Expected exactly 2 entries, got %d", len(entries))
	}
	if !bytes.Equal(entries["f1.jpg"], content1) {
		t.Error("f1.jpg content differs after decompression")
	}
	if !bytes.Equal(entries["f2.jpg"], content2) {
		t.Error("f2.jpg content differs after decompression")
	}
}

func TestZipBuilder_Build_SkipsVanishedFiles(t *testing.T) {
	builder, _ := setupBuilderTest(t)
	src := t.TempDir()

	present := filepath.Join(src, "present.png")
	writeTestFile(t, present, []byte("png"))

	job, err := builder.Build([]string{filepath.Join(src, "gone.png"), present}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Failed to build archive: %v", err)
	}
	if job.Entries != 1 {
		t.Errorf("Expected 1 entry, got %d", job.Entries)
	}
	if _, ok := readArchive(t, job.LocalPath)["present.png"]; !ok {
		t.Error("Expected present.png in archive")
	}
}

func TestZipBuilder_Build_NoPartialArchiveOnFailure(t *testing.T) {
	builder, naming := setupBuilderTest(t)

	// a directory cannot be copied into the archive
	dirEntry := filepath.Join(t.TempDir(), "not-a-file.jpg")
	if err := os.MkdirAll(dirEntry, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	start := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	if _, err := builder.Build([]string{dirEntry}, start); err == nil {
		t.Fatal("Expected build to fail")
	}

	archiveDir := filepath.Dir(naming.LocalPath(naming.ArchiveKey(start)))
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		t.Fatalf("Failed to read archive directory: %v", err)
	}
	for _, e := range entries {
		t.Errorf("Unexpected leftover file %s", e.Name())
	}
}

func TestZipBuilder_Build_RefusesToReplaceArchive(t *testing.T) {
	builder, naming := setupBuilderTest(t)
	src := t.TempDir()

	first := filepath.Join(src, "first.png")
	second := filepath.Join(src, "second.png")
	writeTestFile(t, first, []byte("first"))
	writeTestFile(t, second, []byte("second"))

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	job, err := builder.Build([]string{first}, start)
	if err != nil {
		t.Fatalf("Failed to build first archive: %v", err)
	}

	if _, err := builder.Build([]string{second}, start.Add(42*time.Second)); !errors.Is(err, ErrArchiveExists) {
		t.Fatalf("Expected ErrArchiveExists for the same minute, got %v", err)
	}

	entries := readArchive(t, job.LocalPath)
	if len(entries) != 1 || string(entries["first.png"]) != "first" {
		t.Errorf("Expected first archive untouched, got %v", entries)
	}

	leftovers, err := os.ReadDir(filepath.Dir(naming.LocalPath(naming.ArchiveKey(start))))
	if err != nil {
		t.Fatalf("Failed to read archive directory: %v", err)
	}
	if len(leftovers) != 1 {
		t.Errorf("Expected only the first archive on disk, got %d files", len(leftovers))
	}
}

func TestZipBuilder_Build_DuplicateBasenamesKept(t *testing.T) {
	builder, _ := setupBuilderTest(t)
	src := t.TempDir()

	a := filepath.Join(src, "10", "crop.png")
	b := filepath.Join(src, "11", "crop.png")
	writeTestFile(t, a, []byte("from ten"))
	writeTestFile(t, b, []byte("from eleven"))

	job, err := builder.Build([]string{a, b}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Failed to build archive: %v", err)
	}
	if job.Entries != 2 || job.Renamed != 1 {
		t.Errorf("Expected 2 entries with 1 renamed, got %d/%d", job.Entries, job.Renamed)
	}

	entries := readArchive(t, job.LocalPath)
	if string(entries["crop.png"]) != "from ten" || string(entries["crop_2.png"]) != "from eleven" {
		t.Errorf("Unexpected entries %v", entries)
	}
}

func TestJob_FileURI(t *testing.T) {
	job := &Job{LocalPath: "/var/staging/image/1.zip"}
	uri := job.FileURI()
	if !strings.HasPrefix(uri, "file:") || !strings.HasSuffix(uri, "/var/staging/image/1.zip") {
		t.Errorf("Unexpected URI %q", uri)
	}
}
