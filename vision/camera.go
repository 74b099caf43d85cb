// Package vision captures frames from a camera with gocv and cuts region crops out of them.
package vision

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/regions"
	"gocv.io/x/gocv"
)

// DefaultFrameRate is assumed when the device does not report one
const DefaultFrameRate = 15.0

// FrameCallback receives every forwarded frame. The Mat is only valid during the call.
type FrameCallback func(frame gocv.Mat, capturedAt time.Time, frameNo int) error

// ErrorCallback is told about capture and callback failures and may cancel the capture
type ErrorCallback func(err error) (cancel bool)

// Camera delivers frames from a capture device
type Camera interface {
	// Start begins capturing; it returns false if a capture is already running
	Start(callback FrameCallback, errorCallback ErrorCallback) (bool, error)
	// Stop ends the current capture
	Stop()
	// IsCapturing checks if a capture is in progress
	IsCapturing() bool
}

// GoCVCamera reads frames from a V4L2 device, a video file or a stream URL
type GoCVCamera struct {
	logger               logging.Logger
	device               string // "/dev/video0", "0", a file path or an rtsp:// URL
	sendFrequencySeconds int
	isCapturing          bool
	done                 chan struct{}
	mu                   sync.RWMutex
}

// NewGoCVCamera creates a camera forwarding one frame every sendFrequencySeconds
func NewGoCVCamera(logger logging.Logger, device string, sendFrequencySeconds int) *GoCVCamera {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &GoCVCamera{
		logger:               logger,
		device:               device,
		sendFrequencySeconds: sendFrequencySeconds,
	}
}

// IsCapturing checks if a capture is in progress
func (c *GoCVCamera) IsCapturing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isCapturing
}

func (c *GoCVCamera) open() (*gocv.VideoCapture, error) {
	if c.device == "" {
		return gocv.OpenVideoCapture(0)
	}
	if id, err := strconv.Atoi(c.device); err == nil {
		return gocv.OpenVideoCapture(id)
	}
	return gocv.OpenVideoCapture(c.device)
}

// Start opens the device and runs the capture loop in its own goroutine
func (c *GoCVCamera) Start(callback FrameCallback, errorCallback ErrorCallback) (bool, error) {
	c.mu.Lock()
	if c.isCapturing {
		c.mu.Unlock()
		return false, nil // Already capturing
	}
	c.isCapturing = true
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	webcam, err := c.open()
	if err != nil {
		c.mu.Lock()
		c.isCapturing = false
		close(c.done)
		c.mu.Unlock()
		return false, fmt.Errorf("failed to open capture device %s: %w", c.device, err)
	}

	fps := webcam.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	sampler := regions.NewSampler(fps, c.sendFrequencySeconds)
	c.logger.Info("Camera opened", "device", c.device, "fps", fps, "forward_every", sampler.Every())

	// the goroutine owns the capture device from here on
	go func(webcam *gocv.VideoCapture) {
		defer func() {
			c.logger.Info("Closing capture device", "device", c.device)
			webcam.Close()
			c.mu.Lock()
			c.isCapturing = false
			c.mu.Unlock()
			close(done)
		}()

		img := gocv.NewMat()
		defer img.Close()

		for frameNo := 0; c.IsCapturing(); frameNo++ {
			if ok := webcam.Read(&img); !ok || img.Empty() {
				err := fmt.Errorf("failed to read frame %d from %s", frameNo, c.device)
				if errorCallback != nil && errorCallback(err) {
					return
				}
				time.Sleep(time.Duration(float64(time.Second) / fps))
				continue
			}

			if !sampler.Forward(frameNo) {
				continue
			}

			if err := callback(img, time.Now(), frameNo); err != nil {
				callbackErr := fmt.Errorf("frame callback failed for frame %d: %w", frameNo, err)
				if errorCallback != nil && errorCallback(callbackErr) {
					return
				}
			}
		}
	}(webcam)

	return true, nil
}

// Stop ends the capture and waits for the device to be released
func (c *GoCVCamera) Stop() {
	c.mu.Lock()
	if !c.isCapturing {
		c.mu.Unlock()
		return
	}
	c.isCapturing = false
	done := c.done
	c.mu.Unlock()

	<-done
}
