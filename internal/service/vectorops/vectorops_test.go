package vectorops_test

import (
	"errors"
	"math"
	"testing"

	"github.com/ramon-reichert/simlens/internal/service/vectorops"
)

const eps = 1e-6

func TestNormalizeL2_Idempotent(t *testing.T) {
	vectors := [][]float32{
		{3, 4},
		{1, 2, 3, 4, 5},
		{-0.5, 0.25, 10, 0},
		{1e-3, 1e-3},
	}

	for _, v := range vectors {
		once, err := vectorops.NormalizeL2(v)
		if err != nil {
			t.Fatalf("normalize %v: %v", v, err)
		}

		twice, err := vectorops.NormalizeL2(once)
		if err != nil {
			t.Fatalf("normalize twice %v: %v", v, err)
		}

		for i := range once {
			if math.Abs(float64(once[i]-twice[i])) > eps {
				t.Errorf("normalize not idempotent for %v: %v vs %v", v, once, twice)
				break
			}
		}

		if n := vectorops.Norm(once); math.Abs(n-1) > eps {
			t.Errorf("expected unit norm, got %f", n)
		}
	}
}

func TestNormalizeL2_DoesNotMutateInput(t *testing.T) {
	v := []float32{3, 4}
	if _, err := vectorops.NormalizeL2(v); err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if v[0] != 3 || v[1] != 4 {
		t.Errorf("input mutated: %v", v)
	}
}

func TestNormalizeL2_ZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}

	out, err := vectorops.NormalizeL2(v)
	if !errors.Is(err, vectorops.ErrZeroVector) {
		t.Fatalf("expected ErrZeroVector, got %v", err)
	}

	for _, x := range out {
		if x != 0 {
			t.Fatalf("expected zero vector back, got %v", out)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{
			name: "identical vectors",
			a:    []float32{1, 0, 0},
			b:    []float32{1, 0, 0},
			want: 1.0,
		},
		{
			name: "scaled vectors",
			a:    []float32{1, 2, 3},
			b:    []float32{2, 4, 6},
			want: 1.0,
		},
		{
			name: "orthogonal vectors",
			a:    []float32{1, 0, 0},
			b:    []float32{0, 1, 0},
			want: 0.0,
		},
		{
			name: "opposite vectors",
			a:    []float32{1, 0, 0},
			b:    []float32{-1, 0, 0},
			want: -1.0,
		},
		{
			name: "zero vector",
			a:    []float32{0, 0, 0},
			b:    []float32{1, 0, 0},
			want: 0.0,
		},
		{
			name: "empty vectors",
			a:    []float32{},
			b:    []float32{},
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := vectorops.CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity() error: %v", err)
			}
			if math.IsNaN(got) {
				t.Fatal("CosineSimilarity() returned NaN")
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_SelfAndSymmetry(t *testing.T) {
	vectors := [][]float32{
		{0.1, 0.7, -0.3, 0.9},
		{5, 5, 5, 5},
		{-1, 2, -3, 4},
		{0.001, 0, 0, 1000},
	}

	for i, a := range vectors {
		self, err := vectorops.CosineSimilarity(a, a)
		if err != nil {
			t.Fatalf("self similarity: %v", err)
		}
		if math.Abs(self-1) > eps {
			t.Errorf("self similarity of %v = %f, want 1", a, self)
		}

		for _, b := range vectors[i+1:] {
			ab, _ := vectorops.CosineSimilarity(a, b)
			ba, _ := vectorops.CosineSimilarity(b, a)
			if ab != ba {
				t.Errorf("asymmetric similarity: %f vs %f", ab, ba)
			}
		}
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	got, err := vectorops.CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0})
	if !errors.Is(err, vectorops.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v (value %f)", err, got)
	}
}

func TestDot_DimensionMismatch(t *testing.T) {
	if _, err := vectorops.Dot([]float32{1}, []float32{1, 2}); !errors.Is(err, vectorops.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestRemap01(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0: 0.5, 1: 1} {
		if got := vectorops.Remap01(in); got != want {
			t.Errorf("Remap01(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestStats_Degenerate(t *testing.T) {
	st := vectorops.Stats([]float32{0.5, 0.5, 0.5, 0.5})

	if st.StdDev != 0 {
		t.Errorf("expected stddev 0, got %f", st.StdDev)
	}
	if st.UniqueCount != 1 {
		t.Errorf("expected 1 unique value, got %d", st.UniqueCount)
	}
	if st.Min != 0.5 || st.Max != 0.5 || st.Mean != 0.5 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if !vectorops.IsDegenerate(st, 1e-4) {
		t.Error("constant vector should be degenerate")
	}
}

func TestStats_Spread(t *testing.T) {
	st := vectorops.Stats([]float32{1, 2, 3, 4})

	if st.Min != 1 || st.Max != 4 {
		t.Errorf("unexpected min/max: %+v", st)
	}
	if math.Abs(st.Mean-2.5) > eps {
		t.Errorf("mean = %f, want 2.5", st.Mean)
	}
	if math.Abs(st.StdDev-math.Sqrt(1.25)) > eps {
		t.Errorf("stddev = %f, want %f", st.StdDev, math.Sqrt(1.25))
	}
	if st.UniqueCount != 4 {
		t.Errorf("unique = %d, want 4", st.UniqueCount)
	}
	if vectorops.IsDegenerate(st, 1e-4) {
		t.Error("spread vector should not be degenerate")
	}
}

func TestStats_Empty(t *testing.T) {
	if st := vectorops.Stats(nil); st != (vectorops.VectorStats{}) {
		t.Errorf("expected zero stats, got %+v", st)
	}
}
