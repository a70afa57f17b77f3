// Package image provides image decoding and resizing for feature extraction.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"golang.org/x/image/draw"
)

const (
	DefaultMaxSide = 384
	DefaultQuality = 90
)

var ErrDecode = errors.New("image decode failed")

var supported = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
}

// IsSupported reports whether the file extension is a raster format we decode.
func IsSupported(path string) bool {
	return supported[strings.ToLower(filepath.Ext(path))]
}

// Load opens and decodes the image at path.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w: %w", ErrDecode, err)
	}
	defer file.Close()

	return Decode(file)
}

// Decode decodes an image in any registered format.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode: %w: %w", ErrDecode, err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode: empty %dx%d image: %w", b.Dx(), b.Dy(), ErrDecode)
	}

	return img, nil
}

// Downscale returns img scaled so that its longest side is at most maxSide.
// Images that already fit are returned as is.
func Downscale(img image.Image, maxSide int) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	if w <= maxSide && h <= maxSide {
		return img
	}

	w, h = scaleDimensions(w, h, maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	return dst
}

// EncodeJPEG downscales img for vision inference and returns JPEG bytes.
// Small images are still re-encoded so the model always sees one format.
func EncodeJPEG(img image.Image, maxSide int) ([]byte, error) {
	img = Downscale(img, maxSide)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: DefaultQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}

func scaleDimensions(w, h, maxSide int) (int, int) {
	if w >= h {
		newW := maxSide
		newH := max(1, int(float64(h)*float64(maxSide)/float64(w)))
		return newW, newH
	}

	newH := maxSide
	newW := max(1, int(float64(w)*float64(maxSide)/float64(h)))
	return newW, newH
}
