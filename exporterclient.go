package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/exporting"
	"github.com/yeti47/crop-exporter/frames"
	"github.com/yeti47/crop-exporter/pipeline"
	"github.com/yeti47/crop-exporter/status"
	"github.com/yeti47/crop-exporter/vision"
	"gocv.io/x/gocv"
)

const (
	deliveredRetention = 24 * time.Hour
	purgeInterval      = time.Hour
	shutdownTimeout    = 10 * time.Second
)

// ExporterClient wires the camera, the export pipeline and the delivery side together
type ExporterClient struct {
	logger logging.Logger

	// Core components
	camera   vision.Camera
	detector vision.RegionDetector
	pipeline *pipeline.Pipeline
	sink     exporting.Sink
	outbox   *exporting.OutboxSink // nil unless the outbox sink is configured
	uploader exporting.Uploader    // nil unless the outbox sink is configured
	status   *status.Server        // nil when the status server is disabled

	// Configuration
	format         frames.Format
	sendFullFrames bool
	flushOnStop    bool

	// State management
	isRunning    bool
	mu           sync.RWMutex
	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

// ExporterClientOptions bundles the optional parts of an ExporterClient
type ExporterClientOptions struct {
	Outbox         *exporting.OutboxSink
	Uploader       exporting.Uploader
	Status         *status.Server
	Format         frames.Format
	SendFullFrames bool
	FlushOnStop    bool
}

// NewExporterClient creates an exporter client with injected dependencies
func NewExporterClient(
	logger logging.Logger,
	camera vision.Camera,
	detector vision.RegionDetector,
	p *pipeline.Pipeline,
	sink exporting.Sink,
	opts ExporterClientOptions,
) *ExporterClient {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &ExporterClient{
		logger:         logger,
		camera:         camera,
		detector:       detector,
		pipeline:       p,
		sink:           sink,
		outbox:         opts.Outbox,
		uploader:       opts.Uploader,
		status:         opts.Status,
		format:         opts.Format,
		sendFullFrames: opts.SendFullFrames,
		flushOnStop:    opts.FlushOnStop,
		shutdownChan:   make(chan struct{}),
	}
}

// Start brings up delivery, the pipeline and finally the camera
func (c *ExporterClient) Start() error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return errors.New("exporter client is already running")
	}
	c.isRunning = true
	// a failed Start closes the previous channel
	c.shutdownChan = make(chan struct{})
	shutdown := c.shutdownChan
	c.mu.Unlock()

	c.logger.Info("Starting exporter client")

	if c.uploader != nil {
		c.wg.Add(1)
		go c.uploader.Start(shutdown, &c.wg, func(task *exporting.Task) {
			c.logger.Info("Archive delivered", "sequence", task.Sequence, "key", task.Key)
		})

		c.wg.Add(1)
		go c.purgeWorker(shutdown)
	}

	if c.status != nil {
		go func() {
			if err := c.status.Start(); err != nil {
				c.logger.Error("Status server failed", "error", err)
			}
		}()
	}

	c.pipeline.Start()

	started, err := c.camera.Start(c.onFrame, c.onCaptureError)
	if err != nil || !started {
		c.pipeline.Stop()
		c.mu.Lock()
		c.isRunning = false
		c.mu.Unlock()
		close(shutdown)
		c.wg.Wait()
		if err != nil {
			return fmt.Errorf("failed to start camera: %w", err)
		}
		return errors.New("camera did not start (already capturing)")
	}

	c.logger.Info("Exporter client started successfully")
	return nil
}

// Stop shuts the client down: camera first, then the pipeline, then delivery
func (c *ExporterClient) Stop() error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	c.logger.Info("Stopping exporter client")

	c.camera.Stop()

	if c.flushOnStop {
		c.pipeline.StopAndFlush()
	} else {
		c.pipeline.Stop()
	}

	if err := c.sink.Close(); err != nil {
		c.logger.Error("Failed to close export sink", "error", err)
	}

	// uploader drains pending tasks before returning
	close(c.shutdownChan)
	c.wg.Wait()

	if c.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.status.Shutdown(ctx); err != nil {
			c.logger.Error("Failed to shut down status server", "error", err)
		}
	}

	if err := c.detector.Close(); err != nil {
		c.logger.Error("Failed to release motion detector", "error", err)
	}

	c.logger.Info("Exporter client stopped")
	return nil
}

// IsRunning returns whether the exporter client is currently running
func (c *ExporterClient) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// onFrame turns one camera frame into staged records
func (c *ExporterClient) onFrame(frame gocv.Mat, capturedAt time.Time, frameNo int) error {
	boxes := c.detector.Detect(frame)

	if len(boxes) > 0 {
		crops, err := vision.Crop(frame, boxes)
		if err != nil {
			return err
		}

		// track ids are the region index within the frame
		keptCrops := make([]image.Image, 0, len(crops))
		keptBoxes := make([]image.Rectangle, 0, len(crops))
		trackIDs := make([]int, 0, len(crops))
		for i, crop := range crops {
			if crop == nil {
				continue
			}
			keptCrops = append(keptCrops, crop)
			keptBoxes = append(keptBoxes, boxes[i])
			trackIDs = append(trackIDs, i)
		}

		if err := c.pipeline.SendTracks(keptCrops, trackIDs, keptBoxes, capturedAt, frameNo, c.format); err != nil {
			return fmt.Errorf("failed to send tracks: %w", err)
		}
		c.logger.Debug("Sent tracks", "frame", frameNo, "tracks", len(trackIDs))
	}

	if c.sendFullFrames {
		img, err := vision.ToImage(frame)
		if err != nil {
			return err
		}
		if err := c.pipeline.SendFrame(img, capturedAt, frameNo, c.format); err != nil {
			return fmt.Errorf("failed to send frame: %w", err)
		}
	}

	return nil
}

// onCaptureError is called when reading or handling a frame fails
func (c *ExporterClient) onCaptureError(err error) bool {
	c.logger.Error("Capture error", "error", err)

	// Cancel the capture if we're shutting down, keep going on transient errors
	return !c.IsRunning()
}

// purgeWorker removes delivered outbox rows older than deliveredRetention
func (c *ExporterClient) purgeWorker(shutdown <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := c.outbox.PurgeDelivered(context.Background(), time.Now().Add(-deliveredRetention))
			if err != nil {
				c.logger.Error("Failed to purge delivered export tasks", "error", err)
				continue
			}
			if removed > 0 {
				c.logger.Info("Purged delivered export tasks", "count", removed)
			}
		case <-shutdown:
			return
		}
	}
}
