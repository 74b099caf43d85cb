package archiving

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/frames"
)

// ErrArchiveExists is returned when the window's archive key is already taken on disk
var ErrArchiveExists = errors.New("archive already exists")

// Job is one archive ready for submission to the export sink
type Job struct {
	LocalPath string
	RemoteKey string
	Entries   int
	Renamed   int // entries stored under a disambiguated name
}

// FileURI returns the local archive as a file: URI
func (j *Job) FileURI() string {
	abs, err := filepath.Abs(j.LocalPath)
	if err != nil {
		abs = j.LocalPath
	}
	return "file:" + filepath.ToSlash(abs)
}

// Builder compresses the files of a closed window into a single archive
type Builder interface {
	Build(files []string, windowStart time.Time) (*Job, error)
}

type zipBuilder struct {
	logger logging.Logger
	naming frames.Naming
}

// NewZipBuilder creates a Builder producing deflate-compressed zip archives
// under the naming's staging root
func NewZipBuilder(logger logging.Logger, naming frames.Naming) Builder {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &zipBuilder{
		logger: logger,
		naming: naming,
	}
}

// Build writes every file into one archive named after the window start.
// The archive is written to a temporary file and linked into place, so it
// either exists with all entries or not at all. An existing archive is never
// replaced; Build fails with ErrArchiveExists instead. Files that disappeared
// from disk are skipped, and a basename seen twice gets a numbered entry name.
func (b *zipBuilder) Build(files []string, windowStart time.Time) (job *Job, err error) {
	remoteKey := b.naming.ArchiveKey(windowStart)
	localPath := b.naming.LocalPath(remoteKey)
	dir := filepath.Dir(localPath)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}
	if _, err := os.Lstat(localPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrArchiveExists, remoteKey)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary archive: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
		}
		os.Remove(tmpPath)
	}()

	zw := zip.NewWriter(tmp)
	entries, renamed := 0, 0
	names := make(map[string]string, len(files))

	for _, file := range files {
		name := filepath.Base(file)
		previous, duplicate := names[name]
		if duplicate {
			name = uniqueName(names, name)
		}

		added, addErr := addFile(zw, file, name)
		if addErr != nil {
			return nil, fmt.Errorf("failed to add %s to %s: %w", file, remoteKey, addErr)
		}
		if !added {
			b.logger.Warn("Staged file vanished before archiving", "file", file)
			continue
		}
		if duplicate {
			b.logger.Warn("Duplicate archive entry name, stored under a new name", "file", file, "previous", previous, "entry", name)
			renamed++
		}
		names[name] = file
		entries++
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}
	// link fails instead of replacing a file that appeared meanwhile
	if err := os.Link(tmpPath, localPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveExists, remoteKey)
		}
		return nil, fmt.Errorf("failed to move archive into place: %w", err)
	}

	b.logger.Debug("Archive built", "path", localPath, "key", remoteKey, "entries", entries)

	return &Job{
		LocalPath: localPath,
		RemoteKey: remoteKey,
		Entries:   entries,
		Renamed:   renamed,
	}, nil
}

// uniqueName returns name with the first free numeric suffix, e.g. a_2.jpg
func uniqueName(taken map[string]string, name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// addFile copies one file into the archive under name.
// It returns false without error if the file does not exist.
func addFile(zw *zip.Writer, path, name string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(w, f); err != nil {
		return false, err
	}
	return true, nil
}
