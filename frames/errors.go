package frames

import "errors"

var (
	// ErrInvalidFormat is returned when an unsupported image encoding is requested
	ErrInvalidFormat = errors.New("invalid image format")

	// ErrEmptyImage is returned when a record carries no pixels
	ErrEmptyImage = errors.New("record has no image")

	// ErrTrackMismatch is returned when crops, track ids and boxes differ in length
	ErrTrackMismatch = errors.New("crops, track ids and boxes must have the same length")
)
