package vision

import (
	"errors"
	"fmt"
	"image"

	"github.com/yeti47/crop-exporter/regions"
	"gocv.io/x/gocv"
)

// Crop cuts every box out of frame. Boxes are clamped to the frame first;
// boxes that fall entirely outside are returned as nil images so indexes
// keep lining up with the caller's track ids.
func Crop(frame gocv.Mat, boxes []image.Rectangle) ([]image.Image, error) {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	crops := make([]image.Image, len(boxes))

	for i, box := range boxes {
		clamped, ok := regions.Clamp(box, bounds)
		if !ok {
			continue
		}

		region := frame.Region(clamped)
		img, err := region.ToImage()
		region.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to convert crop %d (%v): %w", i, clamped, err)
		}
		crops[i] = img
	}
	return crops, nil
}

// ToImage converts a whole frame to an image.Image
func ToImage(frame gocv.Mat) (image.Image, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	return frame.ToImage()
}
