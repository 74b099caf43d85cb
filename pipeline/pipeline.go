// Package pipeline wires the staging queue, the writer and the export sink
// together and controls their lifecycle.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/yeti47/crop-exporter/archiving"
	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/exporting"
	filemanagement "github.com/yeti47/crop-exporter/file-management"
	"github.com/yeti47/crop-exporter/frames"
	"github.com/yeti47/crop-exporter/metrics"
	"github.com/yeti47/crop-exporter/staging"
	"github.com/yeti47/crop-exporter/windowing"
)

// ErrWindowTooShort is returned by New for windows shorter than windowing.MinDuration
var ErrWindowTooShort = errors.New("window duration too short")

// State is the lifecycle state of a Pipeline
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Settings configures a Pipeline
type Settings struct {
	QueueCapacity    int
	WindowDuration   time.Duration
	Naming           frames.Naming
	Format           frames.Format
	SubmitTimeout    time.Duration
	PurgeStagedFiles bool

	// Clock defaults to time.Now
	Clock func() time.Time
}

// Status is a point-in-time view of the pipeline for the status endpoint
type Status struct {
	State         State           `json:"state"`
	QueueDepth    int             `json:"queue_depth"`
	QueueCapacity int             `json:"queue_capacity"`
	Dropped       uint64          `json:"dropped"`
	Discarded     uint64          `json:"discarded"`
	Window        windowing.State `json:"window"`
	LastSequence  int64           `json:"last_sequence"`
}

// Pipeline accepts records from the producer and exports them in windowed archives
type Pipeline struct {
	logger   logging.Logger
	settings Settings
	queue    *staging.Queue
	tracker  *windowing.Tracker
	writer   *staging.Writer
	now      func() time.Time

	mu    sync.Mutex
	state State
	wg    sync.WaitGroup
}

// New creates a stopped pipeline exporting through sink
func New(logger logging.Logger, settings Settings, sink exporting.Sink, fileTracker filemanagement.FileTracker, m *metrics.Pipeline) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NopLogger
	}
	if m == nil {
		m = metrics.Discard()
	}
	if settings.Clock == nil {
		settings.Clock = time.Now
	}
	if settings.Format == "" {
		settings.Format = frames.FormatJPEG
	}
	if err := settings.Format.Validate(); err != nil {
		return nil, err
	}
	if settings.WindowDuration == 0 {
		settings.WindowDuration = windowing.DefaultDuration
	}
	if settings.WindowDuration < windowing.MinDuration {
		return nil, fmt.Errorf("%w: %v (minimum %v)", ErrWindowTooShort, settings.WindowDuration, windowing.MinDuration)
	}
	if fileTracker == nil {
		fileTracker = filemanagement.NewLocalFileTracker(logger)
	}
	if err := fileTracker.EnsureDirectory(settings.Naming.Root); err != nil {
		return nil, err
	}

	queue := staging.NewQueue(settings.QueueCapacity, m)
	tracker := windowing.NewTracker(settings.WindowDuration, settings.Clock())
	writer := staging.NewWriter(logger, queue, tracker,
		archiving.NewZipBuilder(logger, settings.Naming), sink, fileTracker, m,
		staging.WriterSettings{
			SubmitTimeout:    settings.SubmitTimeout,
			PurgeStagedFiles: settings.PurgeStagedFiles,
		})
	writer.SetClock(settings.Clock)

	return &Pipeline{
		logger:   logger,
		settings: settings,
		queue:    queue,
		tracker:  tracker,
		writer:   writer,
		now:      settings.Clock,
		state:    StateStopped,
	}, nil
}

// Start spawns the writer. Calling Start on a running pipeline does nothing.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateStopped {
		return
	}

	p.queue.Reopen()
	p.wg.Add(1)
	go p.writer.Run(&p.wg)
	p.state = StateRunning

	p.logger.Info("Export pipeline started",
		"prefix", p.settings.Naming.Prefix(),
		"format", p.settings.Format,
		"window", p.tracker.State().DurationSeconds)
}

// Stop signals the writer, waits for it and discards every record still queued.
// The current window is not flushed.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	p.state = StateStopping
	p.queue.Close()
	p.mu.Unlock()

	p.wg.Wait()

	if n := p.queue.Discard(); n > 0 {
		p.logger.Warn("Discarded queued records on shutdown", "count", n)
	}

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()

	p.logger.Info("Export pipeline stopped")
}

// StopAndFlush stops the pipeline and then closes the current window
func (p *Pipeline) StopAndFlush() {
	p.Stop()
	p.writer.Flush(p.now())
}

// Enqueue hands a record to the staging queue without blocking
func (p *Pipeline) Enqueue(record *frames.Record) {
	p.queue.Enqueue(record)
}

// SendFrame queues a full frame. An empty format selects the configured one.
func (p *Pipeline) SendFrame(img image.Image, now time.Time, frameNo int, format frames.Format) error {
	record, err := frames.FrameRecord(p.settings.Naming, img, now, frameNo, p.formatOrDefault(format))
	if err != nil {
		return err
	}
	p.Enqueue(record)
	return nil
}

// SendTracks queues one crop per track. An empty format selects the configured one.
func (p *Pipeline) SendTracks(crops []image.Image, trackIDs []int, boxes []image.Rectangle, now time.Time, frameNo int, format frames.Format) error {
	records, err := frames.TrackRecords(p.settings.Naming, crops, trackIDs, boxes, now, frameNo, p.formatOrDefault(format))
	if err != nil {
		return err
	}
	for _, record := range records {
		p.Enqueue(record)
	}
	return nil
}

func (p *Pipeline) formatOrDefault(format frames.Format) frames.Format {
	if format == "" {
		return p.settings.Format
	}
	return format
}

// State returns the current lifecycle state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status returns a snapshot of queue and window state
func (p *Pipeline) Status() Status {
	return Status{
		State:         p.State(),
		QueueDepth:    p.queue.Len(),
		QueueCapacity: p.queue.Capacity(),
		Dropped:       p.queue.Dropped(),
		Discarded:     p.queue.Discarded(),
		Window:        p.tracker.State(),
		LastSequence:  p.writer.LastSequence(),
	}
}
