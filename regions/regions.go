// Package regions filters and clamps the bounding boxes that are cropped out of a frame.
package regions

import (
	"image"
)

// Filter rejects regions that are too small or too elongated to be a useful crop
type Filter struct {
	MinArea   float64
	MinWidth  int
	MinHeight int
	MinAspect float64
	MaxAspect float64
}

// DefaultFilter matches a person-sized blob on a 640x480 frame
var DefaultFilter = Filter{
	MinArea:   1000,
	MinWidth:  20,
	MinHeight: 20,
	MinAspect: 0.3,
	MaxAspect: 3.0,
}

// withDefaults fills zero fields from DefaultFilter
func (f Filter) withDefaults() Filter {
	if f.MinArea <= 0 {
		f.MinArea = DefaultFilter.MinArea
	}
	if f.MinWidth <= 0 {
		f.MinWidth = DefaultFilter.MinWidth
	}
	if f.MinHeight <= 0 {
		f.MinHeight = DefaultFilter.MinHeight
	}
	if f.MinAspect <= 0 {
		f.MinAspect = DefaultFilter.MinAspect
	}
	if f.MaxAspect <= 0 {
		f.MaxAspect = DefaultFilter.MaxAspect
	}
	return f
}

// Accept reports whether a region with the given bounding box and contour area passes the filter.
// The returned reason is empty when the region is accepted.
func (f Filter) Accept(rect image.Rectangle, area float64) (bool, string) {
	f = f.withDefaults()

	if rect.Dy() == 0 {
		return false, "empty height"
	}
	aspect := float64(rect.Dx()) / float64(rect.Dy())

	switch {
	case area < f.MinArea:
		return false, "area below minimum"
	case rect.Dx() < f.MinWidth:
		return false, "width below minimum"
	case rect.Dy() < f.MinHeight:
		return false, "height below minimum"
	case aspect < f.MinAspect:
		return false, "aspect ratio below minimum"
	case aspect > f.MaxAspect:
		return false, "aspect ratio above maximum"
	}
	return true, ""
}

// Clamp restricts box to bounds. ok is false when nothing of the box is left.
func Clamp(box, bounds image.Rectangle) (image.Rectangle, bool) {
	clipped := box.Canon().Intersect(bounds)
	if clipped.Empty() {
		return image.Rectangle{}, false
	}
	return clipped, true
}

// Sampler forwards one frame out of every N, where N is the frame rate times
// the send frequency in seconds
type Sampler struct {
	every int
}

// NewSampler creates a sampler for the given capture rate and send frequency.
// A non-positive frequency forwards every frame.
func NewSampler(fps float64, sendFrequencySeconds int) Sampler {
	every := int(fps) * sendFrequencySeconds
	if every < 1 {
		every = 1
	}
	return Sampler{every: every}
}

// Every returns the number of frames between two forwarded frames
func (s Sampler) Every() int {
	if s.every < 1 {
		return 1
	}
	return s.every
}

// Forward reports whether frame frameNo should be exported
func (s Sampler) Forward(frameNo int) bool {
	return frameNo%s.Every() == 0
}
