package staging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yeti47/crop-exporter/archiving"
	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/exporting"
	filemanagement "github.com/yeti47/crop-exporter/file-management"
	"github.com/yeti47/crop-exporter/frames"
	"github.com/yeti47/crop-exporter/metrics"
	"github.com/yeti47/crop-exporter/windowing"
)

// DefaultSubmitTimeout bounds a single export submission
const DefaultSubmitTimeout = 30 * time.Second

// maxKeyCollisions bounds how many minutes a window start is pushed forward
// looking for a free archive key
const maxKeyCollisions = 10

// WriterSettings tunes the staging writer
type WriterSettings struct {
	SubmitTimeout time.Duration
	// PurgeStagedFiles removes the window's files once its archive was submitted
	PurgeStagedFiles bool
}

// Writer is the single consumer of a Queue. It persists records to the
// staging directory and closes elapsed windows into archives.
//
// The window is checked after every dequeued record, not on a timer, so an
// idle producer delays the flush until the next record arrives.
type Writer struct {
	logger      logging.Logger
	queue       *Queue
	tracker     *windowing.Tracker
	builder     archiving.Builder
	sink        exporting.Sink
	fileTracker filemanagement.FileTracker
	metrics     *metrics.Pipeline
	settings    WriterSettings
	now         func() time.Time

	lastSequence atomic.Int64
	flushMu      sync.Mutex
}

// NewWriter creates a writer draining queue into the window held by tracker
func NewWriter(logger logging.Logger, queue *Queue, tracker *windowing.Tracker, builder archiving.Builder, sink exporting.Sink, fileTracker filemanagement.FileTracker, m *metrics.Pipeline, settings WriterSettings) *Writer {
	if logger == nil {
		logger = logging.NopLogger
	}
	if m == nil {
		m = metrics.Discard()
	}
	if settings.SubmitTimeout <= 0 {
		settings.SubmitTimeout = DefaultSubmitTimeout
	}
	return &Writer{
		logger:      logger,
		queue:       queue,
		tracker:     tracker,
		builder:     builder,
		sink:        sink,
		fileTracker: fileTracker,
		metrics:     m,
		settings:    settings,
		now:         time.Now,
	}
}

// SetClock replaces the writer's time source
func (w *Writer) SetClock(now func() time.Time) {
	w.now = now
}

// Run consumes the queue until it is closed
func (w *Writer) Run(wg *sync.WaitGroup) {
	defer wg.Done()

	w.logger.Info("Staging writer started", "capacity", w.queue.Capacity())
	for {
		record, ok := w.queue.Dequeue()
		if !ok {
			w.logger.Info("Staging writer stopped")
			return
		}

		w.write(record)
		w.MaybeFlush(w.now())
	}
}

// write persists one record and adds it to the current window.
// A failed write drops the record; writes are never retried.
func (w *Writer) write(record *frames.Record) {
	if err := w.fileTracker.EnsureParent(record.DestinationPath); err != nil {
		w.logger.Error("Failed to create staging directory", "path", record.DestinationPath, "error", err)
		w.metrics.WriteFailures.Inc()
		return
	}

	if err := frames.WriteFile(record); err != nil {
		w.logger.Error("Failed to write record", "path", record.DestinationPath, "format", record.Format, "error", err)
		w.metrics.WriteFailures.Inc()
		return
	}

	if !w.tracker.Add(record.DestinationPath) {
		w.logger.Debug("Record path already in window", "path", record.DestinationPath)
	}
	w.metrics.Written.Inc()
}

// MaybeFlush closes the current window if it has elapsed at now
func (w *Writer) MaybeFlush(now time.Time) {
	if !w.tracker.HasElapsed(now) {
		return
	}
	w.Flush(now)
}

// Flush closes the current window regardless of its age.
//
// An empty window only advances. On a failed archive build the files are kept
// and the window start is left alone, so the retry reuses the same remote key.
// If that key is already taken by an earlier archive the start moves to the
// next free minute first. A failed submission abandons the archive and the
// window moves on.
func (w *Writer) Flush(now time.Time) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	files := w.tracker.Files()
	start := w.tracker.Start()
	w.metrics.Flushes.Inc()

	if len(files) == 0 {
		w.metrics.EmptyWindows.Inc()
		w.logger.Debug("Window closed without files", "window_start", start)
		w.tracker.Advance(now)
		return
	}

	job, err := w.build(files, start)
	if err != nil {
		w.metrics.ArchiveFailures.Inc()
		w.logger.Error("Failed to build window archive", "window_start", w.tracker.Start(), "files", len(files), "error", err)
		return
	}
	w.metrics.ArchiveEntries.Observe(float64(job.Entries))
	w.metrics.RenamedEntries.Add(float64(job.Renamed))

	ctx, cancel := context.WithTimeout(context.Background(), w.settings.SubmitTimeout)
	sequence, err := w.sink.Submit(ctx, job.FileURI(), job.RemoteKey)
	cancel()

	w.tracker.Advance(now)

	if err != nil {
		w.metrics.SubmitFailures.Inc()
		w.logger.Error("Failed to submit archive for export", "key", job.RemoteKey, "path", job.LocalPath, "error", err)
		return
	}

	w.lastSequence.Store(sequence)
	w.metrics.Submitted.Inc()
	w.logger.Info("Submitted archive for export", "key", job.RemoteKey, "entries", job.Entries, "sequence", sequence)

	if w.settings.PurgeStagedFiles {
		w.fileTracker.DeleteFiles(files)
	}
}

// build archives files under the window's key, postponing the window while
// the key belongs to an existing archive
func (w *Writer) build(files []string, start time.Time) (*archiving.Job, error) {
	for attempt := 0; ; attempt++ {
		job, err := w.builder.Build(files, start)
		if !errors.Is(err, archiving.ErrArchiveExists) || attempt == maxKeyCollisions {
			return job, err
		}
		next := w.tracker.Postpone()
		w.logger.Warn("Archive key already taken, moving window to the next minute", "window_start", start, "next_start", next)
		start = next
	}
}

// LastSequence returns the sequence token of the last accepted submission, 0 if none
func (w *Writer) LastSequence() int64 {
	return w.lastSequence.Load()
}
