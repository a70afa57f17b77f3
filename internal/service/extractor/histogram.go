package extractor

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/ramon-reichert/simlens/internal/service/index"
)

const (
	DefaultBins = 8

	// histogramSide bounds the sampled image; the histogram is a ratio so
	// a smaller grid only reduces cost.
	histogramSide = 128
)

// Histogram is a deterministic colour extractor. Every pixel is assigned to
// one of bins^3 RGB cells and the vector holds the fraction of pixels that
// fell in each cell.
type Histogram struct {
	bins int
}

// NewHistogram returns a histogram extractor with bins cells per channel.
// Values outside [2, 16] fall back to DefaultBins.
func NewHistogram(bins int) *Histogram {
	if bins < 2 || bins > 16 {
		bins = DefaultBins
	}
	return &Histogram{bins: bins}
}

// Schema implements Extractor.
func (h *Histogram) Schema() index.Schema {
	return index.Schema{
		Version:   fmt.Sprintf("histogram-rgb%d-v1", h.bins),
		Dimension: h.bins * h.bins * h.bins,
	}
}

// Extract implements Extractor.
func (h *Histogram) Extract(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := sample(img)
	b := src.Bounds()

	total := b.Dx() * b.Dy()
	if total == 0 {
		return nil, fmt.Errorf("histogram: empty image: %w", ErrFeatureExtraction)
	}

	counts := make([]int, h.bins*h.bins*h.bins)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		if y%32 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		for x := b.Min.X; x < b.Max.X; x++ {
			off := src.PixOffset(x, y)
			r := int(src.Pix[off]) * h.bins / 256
			g := int(src.Pix[off+1]) * h.bins / 256
			bl := int(src.Pix[off+2]) * h.bins / 256
			counts[(r*h.bins+g)*h.bins+bl]++
		}
	}

	vec := make([]float32, len(counts))
	for i, c := range counts {
		vec[i] = float32(c) / float32(total)
	}

	return vec, nil
}

// sample converts img to RGBA, downscaling large images first.
func sample(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if w > histogramSide || h > histogramSide {
		if w >= h {
			h = max(1, h*histogramSide/w)
			w = histogramSide
		} else {
			w = max(1, w*histogramSide/h)
			h = histogramSide
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	return dst
}
