package search

import (
	"path/filepath"
	"regexp"
)

// DefaultProductCodePattern matches catalogue codes such as 80412.
const DefaultProductCodePattern = `80\d{3}`

// ProductCodeBoost favours matches that share the query's product code and
// penalises those that carry a different one. Names without a code are left
// alone. Factors apply on the [0, 1] scale so a boost always raises a score,
// negative cosines included.
type ProductCodeBoost struct {
	Pattern   *regexp.Regexp
	Same      float64
	Different float64
}

// NewProductCodeBoost returns a boost with the given pattern and the usual
// factors of 1.2 and 0.8. An empty pattern uses DefaultProductCodePattern.
func NewProductCodeBoost(pattern string) (*ProductCodeBoost, error) {
	if pattern == "" {
		pattern = DefaultProductCodePattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return &ProductCodeBoost{
		Pattern:   re,
		Same:      1.2,
		Different: 0.8,
	}, nil
}

// Adjust implements RankingAdjustment.
func (b *ProductCodeBoost) Adjust(queryName string, matches []Match) {
	want := b.code(queryName)
	if want == "" {
		return
	}

	for i := range matches {
		got := b.code(matches[i].ID)
		switch {
		case got == "":
		case got == want:
			matches[i].Similarity = scale(matches[i].Similarity, b.Same)
		default:
			matches[i].Similarity = scale(matches[i].Similarity, b.Different)
		}
	}
}

func (b *ProductCodeBoost) code(name string) string {
	return b.Pattern.FindString(filepath.Base(name))
}

// scale multiplies a cosine similarity by factor on the [0, 1] scale and
// maps it back to [-1, 1].
func scale(sim, factor float64) float64 {
	return (sim+1)*factor - 1
}
