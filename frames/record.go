package frames

import (
	"fmt"
	"image"
	"strings"
)

// Format is the on-disk encoding of a staged record
type Format string

const (
	FormatJPEG     Format = "jpg"
	FormatPNG      Format = "png"
	FormatRawArray Format = "npy" // raw pixel array in numpy .npy layout
)

// ParseFormat resolves a configured format name.
// Accepted names are jpg, jpeg, png, npy, raw and rawarray (case-insensitive).
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "npy", "raw", "rawarray":
		return FormatRawArray, nil
	default:
		return "", fmt.Errorf("%w: %q (supported formats are png|jpg|npy)", ErrInvalidFormat, name)
	}
}

// Validate reports whether f is one of the supported formats
func (f Format) Validate() error {
	switch f {
	case FormatJPEG, FormatPNG, FormatRawArray:
		return nil
	default:
		return fmt.Errorf("%w: %q (supported formats are png|jpg|npy)", ErrInvalidFormat, string(f))
	}
}

// Extension returns the file extension for the format, without the leading dot
func (f Format) Extension() string {
	return string(f)
}

// Record is one artifact waiting to be staged on local disk.
// The queue owns it until it is dequeued, then the writer owns it until the
// bytes are on disk.
type Record struct {
	DestinationPath string
	Image           image.Image
	Format          Format
}
