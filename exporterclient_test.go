package main

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/exporting"
	"github.com/yeti47/crop-exporter/frames"
	"github.com/yeti47/crop-exporter/pipeline"
	"github.com/yeti47/crop-exporter/vision"
	"gocv.io/x/gocv"
)

// fakeCamera fails its first failStarts Start calls
type fakeCamera struct {
	mu         sync.Mutex
	failStarts int
	capturing  bool
	starts     int
}

func (c *fakeCamera) Start(callback vision.FrameCallback, errorCallback vision.ErrorCallback) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.failStarts > 0 {
		c.failStarts--
		return false, errors.New("device busy")
	}
	c.capturing = true
	return true, nil
}

func (c *fakeCamera) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturing = false
}

func (c *fakeCamera) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

type fakeDetector struct {
	closed bool
}

func (d *fakeDetector) Detect(frame gocv.Mat) []image.Rectangle { return nil }

func (d *fakeDetector) Close() error {
	d.closed = true
	return nil
}

type nopSink struct{}

func (nopSink) Submit(ctx context.Context, localFileURI, remoteKey string) (int64, error) {
	return 1, nil
}

func (nopSink) Close() error { return nil }

// fakeUploader records how often it was started and stopped
type fakeUploader struct {
	mu      sync.Mutex
	started int
	stopped int
}

func (u *fakeUploader) Start(stopChan <-chan struct{}, wg *sync.WaitGroup, onDelivered func(task *exporting.Task)) {
	defer wg.Done()
	u.mu.Lock()
	u.started++
	u.mu.Unlock()

	<-stopChan

	u.mu.Lock()
	u.stopped++
	u.mu.Unlock()
}

func (u *fakeUploader) Drain(timeout time.Duration) {}

func (u *fakeUploader) counts() (int, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.started, u.stopped
}

func setupExporterClientTest(t *testing.T, camera *fakeCamera) (*ExporterClient, *fakeUploader, *fakeDetector) {
	p, err := pipeline.New(logging.NopLogger, pipeline.Settings{
		QueueCapacity:  10,
		WindowDuration: 300 * time.Second,
		Naming:         frames.Naming{Root: t.TempDir(), UploadType: "image", StoreID: "s1", CameraID: "c1"},
		Format:         frames.FormatPNG,
	}, nopSink{}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	uploader := &fakeUploader{}
	detector := &fakeDetector{}
	client := NewExporterClient(logging.NopLogger, camera, detector, p, nopSink{}, ExporterClientOptions{
		Uploader: uploader,
		Format:   frames.FormatPNG,
	})
	return client, uploader, detector
}

func TestExporterClient_StartAfterFailedStart(t *testing.T) {
	camera := &fakeCamera{failStarts: 1}
	client, uploader, detector := setupExporterClientTest(t, camera)

	if err := client.Start(); err == nil {
		t.Fatal("Expected first start to fail")
	}
	if client.IsRunning() {
		t.Error("Expected client not running after a failed start")
	}
	if started, stopped := uploader.counts(); started != 1 || stopped != 1 {
		t.Errorf("Expected uploader started and stopped once, got %d/%d", started, stopped)
	}

	if err := client.Start(); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}
	if !client.IsRunning() || !camera.IsCapturing() {
		t.Error("Expected client and camera running")
	}

	if err := client.Stop(); err != nil {
		t.Fatalf("Failed to stop client: %v", err)
	}
	if started, stopped := uploader.counts(); started != 2 || stopped != 2 {
		t.Errorf("Expected uploader started and stopped twice, got %d/%d", started, stopped)
	}
	if camera.IsCapturing() || !detector.closed {
		t.Error("Expected camera stopped and detector released")
	}
}

func TestExporterClient_StartTwice(t *testing.T) {
	client, _, _ := setupExporterClientTest(t, &fakeCamera{})

	if err := client.Start(); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}
	defer client.Stop()

	if err := client.Start(); err == nil {
		t.Error("Expected second start to fail while running")
	}
}
