// Package vectorops provides the numeric routines behind similarity search:
// L2 normalization, cosine similarity and vector statistics.
package vectorops

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrZeroVector        = errors.New("zero vector")
)

// VectorStats summarizes the components of one vector.
type VectorStats struct {
	Min         float64
	Max         float64
	Mean        float64
	StdDev      float64
	UniqueCount int
}

// NormalizeL2 returns a copy of v scaled to unit Euclidean length.
// A zero vector is returned unchanged together with ErrZeroVector.
func NormalizeL2(v []float32) ([]float32, error) {
	out := make([]float32, len(v))
	copy(out, v)

	norm := Norm(v)
	if norm == 0 {
		return out, ErrZeroVector
	}

	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out, nil
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Dot returns the dot product of two vectors of equal length.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dot %d vs %d: %w", len(a), len(b), ErrDimensionMismatch)
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// It fails with ErrDimensionMismatch when the lengths differ and returns 0
// when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine %d vs %d: %w", len(a), len(b), ErrDimensionMismatch)
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))

	// Rounding can push parallel vectors slightly past 1.
	return math.Max(-1, math.Min(1, sim)), nil
}

// Remap01 maps a cosine similarity from [-1, 1] onto [0, 1].
func Remap01(sim float64) float64 {
	return (sim + 1) / 2
}

// Stats computes min, max, mean, population standard deviation and the
// number of distinct component values of v.
func Stats(v []float32) VectorStats {
	if len(v) == 0 {
		return VectorStats{}
	}

	st := VectorStats{
		Min: math.Inf(1),
		Max: math.Inf(-1),
	}

	unique := make(map[float32]struct{}, len(v))
	var sum float64
	for _, x := range v {
		f := float64(x)
		sum += f
		st.Min = math.Min(st.Min, f)
		st.Max = math.Max(st.Max, f)
		unique[x] = struct{}{}
	}
	st.Mean = sum / float64(len(v))
	st.UniqueCount = len(unique)

	var sq float64
	for _, x := range v {
		d := float64(x) - st.Mean
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / float64(len(v)))

	return st
}

// IsDegenerate reports whether the stats describe a near-constant vector.
func IsDegenerate(st VectorStats, minStdDev float64) bool {
	return st.StdDev <= minStdDev || st.UniqueCount <= 1
}
