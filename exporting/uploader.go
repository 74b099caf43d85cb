package exporting

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/yeti47/crop-exporter/ccc/logging"
	filemanagement "github.com/yeti47/crop-exporter/file-management"
	"github.com/yeti47/crop-exporter/metrics"
)

// Uploader delivers pending outbox tasks to cloud storage
type Uploader interface {
	// Start processes the outbox until stopChan is closed
	Start(stopChan <-chan struct{}, wg *sync.WaitGroup, onDelivered func(task *Task))

	// Drain delivers what is pending until the outbox is empty or timeout elapses
	Drain(timeout time.Duration)
}

// UploaderSettings tunes the delivery loop
type UploaderSettings struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	UploadTimeout   time.Duration
	DrainTimeout    time.Duration
	DeleteDelivered bool
}

// DefaultUploaderSettings returns the settings used when none are configured
func DefaultUploaderSettings() UploaderSettings {
	return UploaderSettings{
		PollInterval:  10 * time.Second,
		BatchSize:     16,
		MaxAttempts:   5,
		UploadTimeout: 60 * time.Second,
		DrainTimeout:  30 * time.Second,
	}
}

type uploader struct {
	logger      logging.Logger
	outbox      *OutboxSink
	transport   Transport
	fileTracker filemanagement.FileTracker
	metrics     *metrics.Pipeline
	settings    UploaderSettings
}

// NewUploader creates an Uploader draining outbox through transport.
// fileTracker may be nil when delivered archives are kept.
func NewUploader(logger logging.Logger, outbox *OutboxSink, transport Transport, fileTracker filemanagement.FileTracker, m *metrics.Pipeline, settings UploaderSettings) Uploader {
	if logger == nil {
		logger = logging.NopLogger
	}
	if m == nil {
		m = metrics.Discard()
	}
	defaults := DefaultUploaderSettings()
	if settings.PollInterval <= 0 {
		settings.PollInterval = defaults.PollInterval
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = defaults.BatchSize
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = defaults.MaxAttempts
	}
	if settings.UploadTimeout <= 0 {
		settings.UploadTimeout = defaults.UploadTimeout
	}
	if settings.DrainTimeout <= 0 {
		settings.DrainTimeout = defaults.DrainTimeout
	}
	return &uploader{
		logger:      logger,
		outbox:      outbox,
		transport:   transport,
		fileTracker: fileTracker,
		metrics:     m,
		settings:    settings,
	}
}

// Start begins processing the outbox
func (u *uploader) Start(stopChan <-chan struct{}, wg *sync.WaitGroup, onDelivered func(task *Task)) {
	defer wg.Done()

	ticker := time.NewTicker(u.settings.PollInterval)
	defer ticker.Stop()

	// tasks left over from a previous run
	u.processPending(context.Background(), onDelivered)

	for {
		select {
		case <-u.outbox.Notify():
			u.processPending(context.Background(), onDelivered)
		case <-ticker.C:
			u.processPending(context.Background(), onDelivered)
		case <-stopChan:
			u.drainWithCallback(u.settings.DrainTimeout, onDelivered)
			return
		}
	}
}

// Drain delivers pending tasks during shutdown with timeout
func (u *uploader) Drain(timeout time.Duration) {
	u.drainWithCallback(timeout, nil)
}

func (u *uploader) drainWithCallback(timeout time.Duration, onDelivered func(task *Task)) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		delivered := u.processPending(ctx, onDelivered)
		if delivered == 0 {
			return
		}
		if ctx.Err() != nil {
			u.logger.Warn("Outbox drain timeout, forcing shutdown")
			return
		}
	}
}

// processPending delivers one batch of pending tasks and returns how many succeeded
func (u *uploader) processPending(ctx context.Context, onDelivered func(task *Task)) int {
	tasks, err := u.outbox.Pending(ctx, u.settings.BatchSize)
	if err != nil {
		u.logger.Error("Failed to read pending export tasks", "error", err)
		return 0
	}

	delivered := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if u.deliver(ctx, task, onDelivered) {
			delivered++
		}
	}

	if backlog, err := u.outbox.Backlog(context.Background()); err == nil {
		u.metrics.OutboxBacklog.Set(float64(backlog))
	}
	return delivered
}

// deliver uploads one task and records the outcome in the outbox
func (u *uploader) deliver(ctx context.Context, task *Task, onDelivered func(task *Task)) bool {
	u.logger.Info("Uploading export task", "sequence", task.Sequence, "key", task.Key, "attempt", task.Attempts+1)

	uploadCtx, cancel := context.WithTimeout(ctx, u.settings.UploadTimeout)
	err := u.transport.Upload(uploadCtx, task)
	cancel()

	if err != nil {
		recoverable := IsRecoverableUploadError(err)
		u.metrics.DeliveryFailures.WithLabelValues(strconv.FormatBool(recoverable)).Inc()

		permanent := !recoverable || task.Attempts+1 >= u.settings.MaxAttempts
		if markErr := u.outbox.MarkAttemptFailed(context.Background(), task.Sequence, err, permanent); markErr != nil {
			u.logger.Error("Failed to record upload failure", "sequence", task.Sequence, "error", markErr)
		}
		if permanent {
			u.logger.Error("Giving up on export task", "sequence", task.Sequence, "key", task.Key, "error", err)
		} else {
			u.logger.Warn("Failed to upload export task, will retry", "sequence", task.Sequence, "key", task.Key, "error", err)
		}
		return false
	}

	if err := u.outbox.MarkDelivered(context.Background(), task.Sequence); err != nil {
		u.logger.Error("Failed to mark export task delivered", "sequence", task.Sequence, "error", err)
		return false
	}
	u.metrics.Delivered.Inc()
	u.logger.Info("Successfully uploaded export task", "sequence", task.Sequence, "key", task.Key)

	if u.settings.DeleteDelivered && u.fileTracker != nil {
		u.fileTracker.DeleteFile(task.LocalPath())
	}
	if onDelivered != nil {
		onDelivered(task)
	}
	return true
}
