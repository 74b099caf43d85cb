package frames

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
)

// JPEGQuality matches the OpenCV imwrite default
const JPEGQuality = 95

const npyAlignment = 64

var npyMagic = []byte("\x93NUMPY")

// Encode writes img to w using the given format
func Encode(w io.Writer, img image.Image, format Format) error {
	if img == nil || img.Bounds().Empty() {
		return ErrEmptyImage
	}

	switch format {
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
	case FormatPNG:
		return png.Encode(w, img)
	case FormatRawArray:
		return encodeNPY(w, img)
	default:
		return format.Validate()
	}
}

// WriteFile encodes the record to its destination path.
// A partially written file is removed when encoding fails.
func WriteFile(record *Record) (err error) {
	file, err := os.Create(record.DestinationPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", record.DestinationPath, err)
	}

	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close %s: %w", record.DestinationPath, closeErr)
		}
		if err != nil {
			os.Remove(record.DestinationPath)
		}
	}()

	buffered := bufio.NewWriter(file)
	if err := Encode(buffered, record.Image, record.Format); err != nil {
		return fmt.Errorf("failed to encode %s: %w", record.DestinationPath, err)
	}
	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", record.DestinationPath, err)
	}

	return nil
}

// encodeNPY serialises the pixels as a uint8 numpy array (format version 1.0).
// Gray images become (H, W); everything else becomes (H, W, 3) in BGR channel
// order so downstream OpenCV tooling reads the crops unchanged.
func encodeNPY(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var shape string
	var data []byte

	if gray, ok := img.(*image.Gray); ok {
		shape = fmt.Sprintf("(%d, %d)", height, width)
		data = make([]byte, 0, width*height)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			offset := gray.PixOffset(bounds.Min.X, y)
			data = append(data, gray.Pix[offset:offset+width]...)
		}
	} else {
		shape = fmt.Sprintf("(%d, %d, 3)", height, width)
		data = make([]byte, 0, width*height*3)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				data = append(data, byte(b>>8), byte(g>>8), byte(r>>8))
			}
		}
	}

	header := fmt.Sprintf("{'descr': '|u1', 'fortran_order': False, 'shape': %s, }", shape)

	// magic(6) + version(2) + header length(2) + header + padding + '\n'
	preamble := len(npyMagic) + 4
	total := preamble + len(header) + 1
	if rem := total % npyAlignment; rem != 0 {
		header += string(bytes.Repeat([]byte{' '}, npyAlignment-rem))
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	buf.WriteString(header)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
