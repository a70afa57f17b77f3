// Package builder (re)indexes a source of images into an index and
// persists the result.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ramon-reichert/simlens/internal/platform/logger"
	"github.com/ramon-reichert/simlens/internal/platform/sysmon"
	"github.com/ramon-reichert/simlens/internal/service/extractor"
	"github.com/ramon-reichert/simlens/internal/service/index"
	"github.com/ramon-reichert/simlens/internal/service/source"
	"github.com/ramon-reichert/simlens/internal/service/store"
	"github.com/ramon-reichert/simlens/internal/service/vectorops"
)

const (
	DefaultBatchSize               = 5
	DefaultStatsSampleSize         = 3
	DefaultMinStdDev               = 1e-4
	DefaultSimilarityWarnThreshold = 0.98
)

// State is a step of a build run.
type State int

const (
	Idle State = iota
	Scanning
	Processing
	Persisting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Processing:
		return "processing"
	case Persisting:
		return "persisting"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// WarningKind classifies a degenerate vector signal.
type WarningKind int

const (
	// LowVariance marks a vector whose components are nearly constant.
	LowVariance WarningKind = iota + 1

	// HighCrossSimilarity marks two different images whose vectors are
	// nearly identical.
	HighCrossSimilarity
)

func (k WarningKind) String() string {
	switch k {
	case LowVariance:
		return "low-variance"
	case HighCrossSimilarity:
		return "high-cross-similarity"
	}
	return fmt.Sprintf("warning(%d)", int(k))
}

// Warning is a degenerate vector signal. It never fails a build but
// usually means the extractor is broken.
type Warning struct {
	Kind  WarningKind
	IDs   []string
	Value float64
}

func (w Warning) String() string {
	switch w.Kind {
	case LowVariance:
		return fmt.Sprintf("%s: %v stddev %.6f", w.Kind, w.IDs, w.Value)
	default:
		return fmt.Sprintf("%s: %v similarity %.4f", w.Kind, w.IDs, w.Value)
	}
}

// ItemFailure records why one image was skipped.
type ItemFailure struct {
	ID  string
	Err error
}

// Report summarizes a build run.
type Report struct {
	RunID     string
	Succeeded int
	Failed    int
	Failures  []ItemFailure
	Warnings  []Warning
	Schema    index.Schema
	Elapsed   time.Duration
}

// Degenerate reports whether the run raised any degenerate vector warning.
func (r Report) Degenerate() bool {
	return len(r.Warnings) > 0
}

// FailuresMatching returns the failures whose error matches target.
func (r Report) FailuresMatching(target error) []ItemFailure {
	var out []ItemFailure
	for _, f := range r.Failures {
		if errors.Is(f.Err, target) {
			out = append(out, f)
		}
	}
	return out
}

// Builder turns images into index records.
type Builder struct {
	log                     logger.Logger
	extractor               extractor.Extractor
	idx                     *index.Index
	store                   *store.Store
	batchSize               int
	extractTimeout          time.Duration
	statsSampleSize         int
	minStdDev               float64
	similarityWarnThreshold float64
	onState                 func(State)
	onProgress              func(done, total int)
}

// Config holds configuration for creating a Builder. Store may be nil, in
// which case nothing is persisted.
type Config struct {
	Log                     logger.Logger
	Extractor               extractor.Extractor
	Index                   *index.Index
	Store                   *store.Store
	BatchSize               int
	ExtractTimeout          time.Duration
	StatsSampleSize         int
	MinStdDev               float64
	SimilarityWarnThreshold float64
	OnState                 func(State)
	OnProgress              func(done, total int)
}

// New creates a Builder with the given configuration.
func New(cfg Config) *Builder {
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.StatsSampleSize <= 0 {
		cfg.StatsSampleSize = DefaultStatsSampleSize
	}
	if cfg.MinStdDev <= 0 {
		cfg.MinStdDev = DefaultMinStdDev
	}
	if cfg.SimilarityWarnThreshold <= 0 {
		cfg.SimilarityWarnThreshold = DefaultSimilarityWarnThreshold
	}

	return &Builder{
		log:                     cfg.Log,
		extractor:               cfg.Extractor,
		idx:                     cfg.Index,
		store:                   cfg.Store,
		batchSize:               cfg.BatchSize,
		extractTimeout:          cfg.ExtractTimeout,
		statsSampleSize:         cfg.StatsSampleSize,
		minStdDev:               cfg.MinStdDev,
		similarityWarnThreshold: cfg.SimilarityWarnThreshold,
		onState:                 cfg.OnState,
		onProgress:              cfg.OnProgress,
	}
}

// Build clears the index and indexes every image of src from scratch.
// Per-item failures are counted in the report. A persistence failure is
// returned together with the report, and the in-memory index stays usable.
// On cancellation the records indexed so far are kept in memory but
// nothing is persisted.
func (b *Builder) Build(ctx context.Context, src source.Source) (Report, error) {
	b.setState(Idle)

	run := b.newRun()
	b.log(ctx, "build started", "run", run.report.RunID, "schema", b.extractor.Schema())

	b.setState(Scanning)

	ids, err := src.Scan(ctx)
	if err != nil {
		b.setState(Failed)
		return run.finish(b.idx), fmt.Errorf("scan: %w", err)
	}

	b.log(ctx, "found images", "count", len(ids))

	b.idx.Reset(b.extractor.Schema())

	return b.execute(ctx, run, src, ids)
}

// Add indexes more images into the current generation. The extractor must
// match the schema the index was built with; a stale index has to be
// rebuilt instead. With no ids every image of src is added.
func (b *Builder) Add(ctx context.Context, src source.Source, ids ...string) (Report, error) {
	b.setState(Idle)

	run := b.newRun()

	want := b.extractor.Schema()
	have := b.idx.Schema()

	switch {
	case b.idx.Size() == 0:
		b.idx.Reset(want)

	case have.Version != want.Version,
		want.Dimension > 0 && have.Dimension > 0 && want.Dimension != have.Dimension:
		b.setState(Failed)
		return run.finish(b.idx), fmt.Errorf("add: index is %s, extractor is %s: %w", have, want, index.ErrSchemaMismatch)
	}

	if len(ids) == 0 {
		b.setState(Scanning)

		var err error
		if ids, err = src.Scan(ctx); err != nil {
			b.setState(Failed)
			return run.finish(b.idx), fmt.Errorf("scan: %w", err)
		}
	}

	b.log(ctx, "add started", "run", run.report.RunID, "count", len(ids))

	return b.execute(ctx, run, src, ids)
}

func (b *Builder) execute(ctx context.Context, run *runState, src source.Source, ids []string) (Report, error) {
	b.setState(Processing)

	for start := 0; start < len(ids); start += b.batchSize {
		if err := ctx.Err(); err != nil {
			b.log(ctx, "build cancelled", "run", run.report.RunID, "processed", start)
			b.setState(Failed)
			return run.finish(b.idx), err
		}

		batch := ids[start:min(start+b.batchSize, len(ids))]
		results := b.processBatch(ctx, src, batch)

		for _, res := range results {
			if ctx.Err() != nil && res.err != nil {
				continue
			}
			b.apply(ctx, run, res)
		}

		done := start + len(batch)
		b.log(ctx, "batch finished", append([]any{"run", run.report.RunID, "done", done, "total", len(ids)}, sysmon.Capture().Args()...)...)

		if b.onProgress != nil {
			b.onProgress(done, len(ids))
		}
	}

	if err := ctx.Err(); err != nil {
		b.log(ctx, "build cancelled", "run", run.report.RunID)
		b.setState(Failed)
		return run.finish(b.idx), err
	}

	report := run.finish(b.idx)

	if b.store != nil {
		b.setState(Persisting)

		if err := b.store.Save(ctx, report.Schema, b.idx.Generation(), b.idx.Records()); err != nil {
			b.log(ctx, "persist failed", "run", report.RunID, "error", err)
			b.setState(Failed)
			return report, fmt.Errorf("persist: %w", err)
		}
	}

	b.log(ctx, "build finished",
		"run", report.RunID,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"warnings", len(report.Warnings),
		"elapsed", report.Elapsed,
	)

	b.setState(Done)
	return report, nil
}

type itemResult struct {
	id  string
	vec []float32
	err error
}

// processBatch extracts every item concurrently. Results keep input order.
func (b *Builder) processBatch(ctx context.Context, src source.Source, ids []string) []itemResult {
	results := make([]itemResult, len(ids))

	var g errgroup.Group
	g.SetLimit(b.batchSize)

	for i, id := range ids {
		g.Go(func() error {
			vec, err := b.process(ctx, src, id)
			results[i] = itemResult{id: id, vec: vec, err: err}
			return nil
		})
	}

	_ = g.Wait()

	return results
}

func (b *Builder) process(ctx context.Context, src source.Source, id string) ([]float32, error) {
	img, err := src.Decode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	raw, err := extractor.Run(ctx, b.extractor, img, b.extractTimeout)
	if err != nil {
		return nil, err
	}

	vec, err := vectorops.NormalizeL2(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	return vec, nil
}

// apply runs sequentially in input order, so validation and insertion do
// not depend on the batch size.
func (b *Builder) apply(ctx context.Context, run *runState, res itemResult) {
	if res.err == nil {
		res.err = b.validate(ctx, run, res)
	}

	if res.err == nil {
		res.err = b.idx.Upsert(index.Record{
			ID:        res.id,
			Vector:    res.vec,
			CreatedAt: time.Now(),
		})
	}

	if res.err != nil {
		b.log(ctx, "item failed", "id", res.id, "error", res.err)
		run.report.Failed++
		run.report.Failures = append(run.report.Failures, ItemFailure{ID: res.id, Err: res.err})
		return
	}

	run.report.Succeeded++
}

func (b *Builder) validate(ctx context.Context, run *runState, res itemResult) error {
	if dim := b.idx.Schema().Dimension; dim > 0 && len(res.vec) != dim {
		return fmt.Errorf("vector has %d dimensions, index has %d: %w", len(res.vec), dim, index.ErrSchemaMismatch)
	}

	if run.sampled < b.statsSampleSize {
		run.sampled++

		st := vectorops.Stats(res.vec)
		b.log(ctx, "vector stats", "id", res.id, "min", st.Min, "max", st.Max, "mean", st.Mean, "stddev", st.StdDev, "unique", st.UniqueCount)

		if vectorops.IsDegenerate(st, b.minStdDev) {
			b.warn(ctx, run, Warning{Kind: LowVariance, IDs: []string{res.id}, Value: st.StdDev})
		}
	}

	if run.first == nil {
		run.first = &res
		return nil
	}

	if !run.crossChecked {
		run.crossChecked = true

		sim, err := vectorops.CosineSimilarity(run.first.vec, res.vec)
		if err != nil {
			return fmt.Errorf("cross check: %w", err)
		}

		b.log(ctx, "cross-item similarity", "a", run.first.id, "b", res.id, "similarity", sim)

		if sim > b.similarityWarnThreshold {
			b.warn(ctx, run, Warning{Kind: HighCrossSimilarity, IDs: []string{run.first.id, res.id}, Value: sim})
		}
	}

	return nil
}

func (b *Builder) warn(ctx context.Context, run *runState, w Warning) {
	b.log(ctx, "degenerate vector detected", "warning", w.String(), "run", run.report.RunID)
	run.report.Warnings = append(run.report.Warnings, w)
}

func (b *Builder) setState(s State) {
	if b.onState != nil {
		b.onState(s)
	}
}

type runState struct {
	start        time.Time
	report       Report
	sampled      int
	first        *itemResult
	crossChecked bool
}

func (b *Builder) newRun() *runState {
	return &runState{
		start:  time.Now(),
		report: Report{RunID: uuid.NewString()},
	}
}

func (r *runState) finish(idx *index.Index) Report {
	r.report.Schema = idx.Schema()
	r.report.Elapsed = time.Since(r.start)
	return r.report
}
