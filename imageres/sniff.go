package imageres

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format names a sniffed image encoding.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

var ErrUnknownFormat = errors.New("unrecognized image signature")

var signatures = []struct {
	format Format
	match  func([]byte) bool
}{
	{FormatJPEG, func(b []byte) bool { return bytes.HasPrefix(b, []byte{0xFF, 0xD8, 0xFF}) }},
	{FormatPNG, func(b []byte) bool { return bytes.HasPrefix(b, []byte("\x89PNG\r\n\x1a\n")) }},
	{FormatGIF, func(b []byte) bool { return bytes.HasPrefix(b, []byte("GIF87a")) || bytes.HasPrefix(b, []byte("GIF89a")) }},
	{FormatWebP, func(b []byte) bool { return len(b) >= 12 && string(b[:4]) == "RIFF" && string(b[8:12]) == "WEBP" }},
	{FormatBMP, func(b []byte) bool { return len(b) >= 14 && string(b[:2]) == "BM" }},
	{FormatTIFF, func(b []byte) bool {
		return bytes.HasPrefix(b, []byte("II*\x00")) || bytes.HasPrefix(b, []byte("MM\x00*"))
	}},
}

// Sniff identifies data by its leading bytes. Declared content types are
// never consulted.
func Sniff(data []byte) (Format, error) {
	for _, s := range signatures {
		if s.match(data) {
			return s.format, nil
		}
	}
	return "", ErrUnknownFormat
}

// decode validates the signature and dimensions before decoding pixels.
func decode(data []byte, maxPixels int64) (Format, image.Image, error) {
	format, err := Sniff(data)
	if err != nil {
		return "", nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("%s header: %w", format, err)
	}
	if err := checkBounds(cfg.Width, cfg.Height, maxPixels); err != nil {
		return "", nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", format, err)
	}
	return format, img, nil
}

// MaxDimension caps either side of a decoded image.
const MaxDimension = 32768

// checkBounds rejects an image from its header, before any pixel is
// allocated. A non-positive maxPixels disables the area check.
func checkBounds(w, h int, maxPixels int64) error {
	switch {
	case w <= 0 || h <= 0:
		return fmt.Errorf("image has no pixels (%dx%d)", w, h)
	case w > MaxDimension || h > MaxDimension:
		return fmt.Errorf("image side exceeds %d (%dx%d)", MaxDimension, w, h)
	case maxPixels > 0 && int64(w)*int64(h) > maxPixels:
		return fmt.Errorf("image has %d pixels, limit %d", int64(w)*int64(h), maxPixels)
	}
	return nil
}
