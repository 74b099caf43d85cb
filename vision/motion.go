package vision

import (
	"image"

	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/regions"
	"gocv.io/x/gocv"
)

// MotionSettings tunes the background subtractor used to find moving regions
type MotionSettings struct {
	Filter       regions.Filter
	MogHistory   int
	MogVarThresh float64
	WarmUpFrames int
}

var DefaultMotionSettings = MotionSettings{
	Filter:       regions.DefaultFilter,
	MogHistory:   500,  // MOG2 history parameter
	MogVarThresh: 16.0, // MOG2 var threshold parameter
	WarmUpFrames: 30,   // frames fed to the model before regions are reported
}

// RegionDetector finds the boxes worth cropping in a frame
type RegionDetector interface {
	Detect(frame gocv.Mat) []image.Rectangle
	Close() error
}

// MotionRegionDetector reports the bounding boxes of moving blobs.
// It keeps state between frames and must be fed frames in order.
type MotionRegionDetector struct {
	logger   logging.Logger
	settings MotionSettings
	detector gocv.BackgroundSubtractorMOG2
	gray     gocv.Mat
	blurred  gocv.Mat
	fgMask   gocv.Mat
	thresh   gocv.Mat
	kernel   gocv.Mat
	frames   int
}

// NewMotionRegionDetector creates a detector. Zero settings fall back to DefaultMotionSettings.
func NewMotionRegionDetector(logger logging.Logger, settings MotionSettings) *MotionRegionDetector {
	if logger == nil {
		logger = logging.NopLogger
	}
	if settings.MogHistory <= 0 {
		settings.MogHistory = DefaultMotionSettings.MogHistory
	}
	if settings.MogVarThresh <= 0 {
		settings.MogVarThresh = DefaultMotionSettings.MogVarThresh
	}
	if settings.WarmUpFrames < 0 {
		settings.WarmUpFrames = DefaultMotionSettings.WarmUpFrames
	}

	return &MotionRegionDetector{
		logger:   logger,
		settings: settings,
		detector: gocv.NewBackgroundSubtractorMOG2WithParams(settings.MogHistory, settings.MogVarThresh, false),
		gray:     gocv.NewMat(),
		blurred:  gocv.NewMat(),
		fgMask:   gocv.NewMat(),
		thresh:   gocv.NewMat(),
		kernel:   gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
	}
}

// Detect feeds frame to the background model and returns the accepted motion boxes
func (d *MotionRegionDetector) Detect(frame gocv.Mat) []image.Rectangle {
	if frame.Empty() {
		return nil
	}

	gocv.CvtColor(frame, &d.gray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(d.gray, &d.blurred, image.Pt(21, 21), 0, 0, gocv.BorderDefault)
	d.detector.Apply(d.blurred, &d.fgMask)

	d.frames++
	if d.frames <= d.settings.WarmUpFrames {
		return nil
	}

	gocv.Threshold(d.fgMask, &d.thresh, 25, 255, gocv.ThresholdBinary)
	gocv.Dilate(d.thresh, &d.thresh, d.kernel)

	contours := gocv.FindContours(d.thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	var boxes []image.Rectangle
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		rect := gocv.BoundingRect(contour)

		if ok, reason := d.settings.Filter.Accept(rect, area); !ok {
			d.logger.Debug("Motion region filtered out", "area", area, "width", rect.Dx(), "height", rect.Dy(), "reason", reason)
			continue
		}
		if clamped, ok := regions.Clamp(rect, bounds); ok {
			boxes = append(boxes, clamped)
		}
	}
	return boxes
}

// Close releases the native resources of the detector
func (d *MotionRegionDetector) Close() error {
	d.detector.Close()
	d.gray.Close()
	d.blurred.Close()
	d.fgMask.Close()
	d.thresh.Close()
	d.kernel.Close()
	return nil
}
