// Package extractor turns decoded images into feature vectors.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/ramon-reichert/simlens/internal/service/index"
)

var ErrFeatureExtraction = errors.New("feature extraction failed")

// Extractor produces a fixed-length vector for an image. Schema identifies
// the configuration that produced the vectors; it must change whenever the
// vector length or meaning changes.
type Extractor interface {
	Extract(ctx context.Context, img image.Image) ([]float32, error)
	Schema() index.Schema
}

// Run calls ex.Extract bounded by timeout. Errors, timeouts and empty
// vectors are all reported as ErrFeatureExtraction. A zero timeout means
// only ctx bounds the call.
//
// Extractors that ignore ctx are abandoned on timeout, not stopped.
func Run(ctx context.Context, ex Extractor, img image.Image, timeout time.Duration) ([]float32, error) {
	if img == nil {
		return nil, fmt.Errorf("extract: nil image: %w", ErrFeatureExtraction)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		vec []float32
		err error
	}

	ch := make(chan result, 1)
	go func() {
		vec, err := ex.Extract(ctx, img)
		ch <- result{vec: vec, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("extract: %w: %w", ErrFeatureExtraction, ctx.Err())

	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, ErrFeatureExtraction) {
				return nil, res.err
			}
			return nil, fmt.Errorf("extract: %w: %w", ErrFeatureExtraction, res.err)
		}
		if len(res.vec) == 0 {
			return nil, fmt.Errorf("extract: empty vector: %w", ErrFeatureExtraction)
		}
		return res.vec, nil
	}
}
