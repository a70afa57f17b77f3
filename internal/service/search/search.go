// Package search ranks indexed images by cosine similarity to a query.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"slices"
	"time"

	"github.com/ramon-reichert/simlens/internal/platform/logger"
	"github.com/ramon-reichert/simlens/internal/service/extractor"
	"github.com/ramon-reichert/simlens/internal/service/index"
	"github.com/ramon-reichert/simlens/internal/service/vectorops"
)

const (
	DefaultTopK            = 20
	DefaultSpreadThreshold = 0.01
)

var ErrNotIndexed = errors.New("id not indexed")

// State is a step of a single query.
type State int

const (
	Idle State = iota
	Extracting
	Scoring
	Ranking
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Extracting:
		return "extracting"
	case Scoring:
		return "scoring"
	case Ranking:
		return "ranking"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Match is one ranked record.
type Match struct {
	ID         string
	Similarity float64
	Metadata   map[string]string
}

// Options tune a single query.
type Options struct {
	// TopK limits the result. Zero uses the engine default.
	TopK int

	// ExcludeID is skipped while scoring, so an indexed query image does
	// not match itself.
	ExcludeID string

	// QueryName is handed to ranking adjustments. It is usually the query
	// file name.
	QueryName string

	// Remap01 maps similarities from [-1, 1] to [0, 1] as the last step.
	Remap01 bool
}

// Result is a ranked result set plus quality signals.
type Result struct {
	Matches []Match

	// LowConfidence is set when every scored record got almost the same
	// similarity, which usually means the index holds degenerate vectors.
	LowConfidence bool

	// Spread is max minus min similarity of all scored records on the
	// [0, 1] scale, before adjustments.
	Spread float64

	// Mean is the average similarity of the returned matches.
	Mean float64

	Scored  int
	Elapsed time.Duration
}

// RankingAdjustment rescales similarities after raw cosine ranking.
type RankingAdjustment interface {
	Adjust(queryName string, matches []Match)
}

// Engine runs queries against an index.
type Engine struct {
	log             logger.Logger
	extractor       extractor.Extractor
	extractTimeout  time.Duration
	topK            int
	spreadThreshold float64
	adjustments     []RankingAdjustment
	onState         func(State)
}

// Config holds configuration for creating an Engine.
type Config struct {
	Log             logger.Logger
	Extractor       extractor.Extractor
	ExtractTimeout  time.Duration
	TopK            int
	SpreadThreshold float64
	Adjustments     []RankingAdjustment

	// OnState, when set, observes every state transition.
	OnState func(State)
}

// New creates an Engine with the given configuration.
func New(cfg Config) *Engine {
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.SpreadThreshold <= 0 {
		cfg.SpreadThreshold = DefaultSpreadThreshold
	}

	return &Engine{
		log:             cfg.Log,
		extractor:       cfg.Extractor,
		extractTimeout:  cfg.ExtractTimeout,
		topK:            cfg.TopK,
		spreadThreshold: cfg.SpreadThreshold,
		adjustments:     cfg.Adjustments,
		onState:         cfg.OnState,
	}
}

// Search extracts a vector from img and ranks the index against it.
// An empty index yields an empty result, not an error.
func (e *Engine) Search(ctx context.Context, img image.Image, idx *index.Index, opts Options) (Result, error) {
	e.setState(Idle)

	if idx.Size() == 0 {
		e.setState(Done)
		return Result{}, nil
	}

	e.setState(Extracting)

	if e.extractor == nil {
		e.setState(Failed)
		return Result{}, fmt.Errorf("search: no extractor configured: %w", extractor.ErrFeatureExtraction)
	}

	want := e.extractor.Schema().Version
	if got := idx.Schema().Version; got != want {
		e.setState(Failed)
		return Result{}, fmt.Errorf("search: index built with %q, extractor is %q: %w", got, want, index.ErrSchemaMismatch)
	}

	vec, err := extractor.Run(ctx, e.extractor, img, e.extractTimeout)
	if err != nil {
		e.setState(Failed)
		return Result{}, fmt.Errorf("search: %w", err)
	}

	return e.rank(ctx, vec, idx, opts)
}

// SearchVector ranks the index against an already extracted vector.
func (e *Engine) SearchVector(ctx context.Context, vec []float32, idx *index.Index, opts Options) (Result, error) {
	e.setState(Idle)

	if idx.Size() == 0 {
		e.setState(Done)
		return Result{}, nil
	}

	return e.rank(ctx, vec, idx, opts)
}

// SearchByID ranks the index against the vector of an indexed record,
// excluding the record itself.
func (e *Engine) SearchByID(ctx context.Context, id string, idx *index.Index, opts Options) (Result, error) {
	rec, ok := idx.Get(id)
	if !ok {
		return Result{}, fmt.Errorf("search %s: %w", id, ErrNotIndexed)
	}

	opts.ExcludeID = id
	if opts.QueryName == "" {
		opts.QueryName = id
	}

	return e.SearchVector(ctx, rec.Vector, idx, opts)
}

func (e *Engine) rank(ctx context.Context, vec []float32, idx *index.Index, opts Options) (Result, error) {
	start := time.Now()

	query, err := vectorops.NormalizeL2(vec)
	if err != nil {
		e.setState(Failed)
		return Result{}, fmt.Errorf("normalize query: %w", err)
	}

	e.setState(Scoring)

	matches := make([]Match, 0, idx.Size())
	lo, hi := math.Inf(1), math.Inf(-1)

	n, scored := 0, 0
	for rec := range idx.All() {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				e.setState(Failed)
				return Result{}, err
			}
		}
		n++

		if opts.ExcludeID != "" && rec.ID == opts.ExcludeID {
			continue
		}

		sim, err := vectorops.CosineSimilarity(query, rec.Vector)
		if err != nil {
			e.setState(Failed)
			return Result{}, fmt.Errorf("score %s: %w", rec.ID, err)
		}

		scored++
		lo = min(lo, sim)
		hi = max(hi, sim)

		matches = append(matches, Match{
			ID:         rec.ID,
			Similarity: sim,
			Metadata:   rec.Metadata,
		})
	}

	e.setState(Ranking)

	sortDesc(matches)

	if len(e.adjustments) > 0 {
		for _, adj := range e.adjustments {
			adj.Adjust(opts.QueryName, matches)
		}
		for i := range matches {
			matches[i].Similarity = clamp(matches[i].Similarity)
		}
		sortDesc(matches)
	}

	if opts.Remap01 {
		for i := range matches {
			matches[i].Similarity = vectorops.Remap01(matches[i].Similarity)
		}
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = e.topK
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}

	res := Result{
		Matches: matches,
		Scored:  scored,
	}

	if scored > 0 {
		res.Spread = (hi - lo) / 2
	}
	res.LowConfidence = res.Scored >= 2 && res.Spread < e.spreadThreshold

	if len(matches) > 0 {
		var sum float64
		for _, m := range matches {
			sum += m.Similarity
		}
		res.Mean = sum / float64(len(matches))
	}

	res.Elapsed = time.Since(start)

	if res.LowConfidence {
		e.log(ctx, "search results have almost no spread",
			"warning", "possible degenerate index",
			"spread", res.Spread,
			"scored", res.Scored,
		)
	}

	e.setState(Done)
	return res, nil
}

func (e *Engine) setState(s State) {
	if e.onState != nil {
		e.onState(s)
	}
}

// sortDesc orders by similarity, keeping the current order of ties.
func sortDesc(matches []Match) {
	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
}

func clamp(sim float64) float64 {
	return max(-1, min(1, sim))
}
