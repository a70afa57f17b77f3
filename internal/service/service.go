// Package service wires extraction, indexing, persistence and search into
// one application context.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"time"

	"github.com/ramon-reichert/simlens/internal/platform/logger"
	"github.com/ramon-reichert/simlens/internal/service/builder"
	"github.com/ramon-reichert/simlens/internal/service/extractor"
	imgutil "github.com/ramon-reichert/simlens/internal/service/image"
	"github.com/ramon-reichert/simlens/internal/service/index"
	"github.com/ramon-reichert/simlens/internal/service/search"
	"github.com/ramon-reichert/simlens/internal/service/source"
	"github.com/ramon-reichert/simlens/internal/service/store"
	"github.com/ramon-reichert/simlens/internal/service/store/kv"
	"github.com/ramon-reichert/simlens/internal/service/vectorops"
)

// DefaultDiagnoseSamples is the number of records Diagnose inspects.
const DefaultDiagnoseSamples = 5

// Service is the application context. It owns one index generation and
// the collaborators that read and write it.
type Service struct {
	log       logger.Logger
	extractor extractor.Extractor
	kv        kv.Store
	closers   []func(context.Context) error

	idx     *index.Index
	store   *store.Store
	engine  *search.Engine
	builder *builder.Builder

	topK                    int
	remap01                 bool
	minStdDev               float64
	similarityWarnThreshold float64

	buildMu sync.Mutex
}

// Config holds configuration for creating a Service. Extractor and KV are
// required.
type Config struct {
	Log       logger.Logger
	Extractor extractor.Extractor
	KV        kv.Store
	Catalog   string

	// Closers run on Close after the KV store is closed, e.g. to unload models.
	Closers []func(context.Context) error

	TopK                    int
	BatchSize               int
	ExtractTimeout          time.Duration
	Remap01                 bool
	SpreadThreshold         float64
	SimilarityWarnThreshold float64
	MinStdDev               float64
	Adjustments             []search.RankingAdjustment
	OnProgress              func(done, total int)
}

// IndexStats describes the current index generation.
type IndexStats struct {
	Count         int
	SchemaVersion string
	Dimension     int
	Generation    string
}

// New creates a Service and restores the persisted catalog when it was
// built with the active extractor schema.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Extractor == nil {
		return nil, errors.New("service: extractor is required")
	}
	if cfg.KV == nil {
		return nil, errors.New("service: kv store is required")
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = search.DefaultTopK
	}
	if cfg.MinStdDev <= 0 {
		cfg.MinStdDev = builder.DefaultMinStdDev
	}
	if cfg.SimilarityWarnThreshold <= 0 {
		cfg.SimilarityWarnThreshold = builder.DefaultSimilarityWarnThreshold
	}

	schema := cfg.Extractor.Schema()
	idx := index.New(schema)

	st := store.New(store.Config{
		Log:     cfg.Log,
		KV:      cfg.KV,
		Catalog: cfg.Catalog,
		Retries: 3,
	})

	s := Service{
		log:       cfg.Log,
		extractor: cfg.Extractor,
		kv:        cfg.KV,
		closers:   cfg.Closers,
		idx:       idx,
		store:     st,
		engine: search.New(search.Config{
			Log:             cfg.Log,
			Extractor:       cfg.Extractor,
			ExtractTimeout:  cfg.ExtractTimeout,
			TopK:            cfg.TopK,
			SpreadThreshold: cfg.SpreadThreshold,
			Adjustments:     cfg.Adjustments,
		}),
		builder: builder.New(builder.Config{
			Log:                     cfg.Log,
			Extractor:               cfg.Extractor,
			Index:                   idx,
			Store:                   st,
			BatchSize:               cfg.BatchSize,
			ExtractTimeout:          cfg.ExtractTimeout,
			MinStdDev:               cfg.MinStdDev,
			SimilarityWarnThreshold: cfg.SimilarityWarnThreshold,
			OnProgress:              cfg.OnProgress,
		}),
		topK:                    cfg.TopK,
		remap01:                 cfg.Remap01,
		minStdDev:               cfg.MinStdDev,
		similarityWarnThreshold: cfg.SimilarityWarnThreshold,
	}

	restored, err := st.Restore(ctx, idx, schema)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	if restored {
		s.log(ctx, "index ready", "count", idx.Size(), "schema", idx.Schema(), "generation", idx.Generation())
	} else {
		s.log(ctx, "no usable catalog, rebuild required", "schema", schema)
	}

	return &s, nil
}

// Search ranks the index against a decoded query image.
func (s *Service) Search(ctx context.Context, img image.Image, topK int) (search.Result, error) {
	return s.engine.Search(ctx, img, s.idx, s.options(topK, "", ""))
}

// SearchFile ranks the index against the image at path. When the file is
// itself indexed it is excluded from its own results.
func (s *Service) SearchFile(ctx context.Context, path string, topK int) (search.Result, error) {
	img, err := imgutil.Load(path)
	if err != nil {
		return search.Result{}, fmt.Errorf("search file: %w", err)
	}

	id := path
	if abs, err := filepath.Abs(path); err == nil {
		id = abs
	}

	exclude := ""
	if _, ok := s.idx.Get(id); ok {
		exclude = id
	}

	return s.engine.Search(ctx, img, s.idx, s.options(topK, exclude, id))
}

// SearchByID ranks the index against an already indexed image.
func (s *Service) SearchByID(ctx context.Context, id string, topK int) (search.Result, error) {
	return s.engine.SearchByID(ctx, id, s.idx, s.options(topK, "", ""))
}

// RebuildIndex replaces the catalog with every supported image below root.
func (s *Service) RebuildIndex(ctx context.Context, root string) (builder.Report, error) {
	src, err := source.NewFolder(root)
	if err != nil {
		return builder.Report{}, fmt.Errorf("rebuild: %w", err)
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	return s.builder.Build(ctx, src)
}

// AddFiles indexes more images into the current catalog.
func (s *Service) AddFiles(ctx context.Context, paths ...string) (builder.Report, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	return s.builder.Add(ctx, source.Files(paths))
}

// ClearIndex empties the in-memory index and deletes the persisted catalog.
func (s *Service) ClearIndex(ctx context.Context) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	s.idx.Reset(s.extractor.Schema())

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	s.log(ctx, "catalog cleared")
	return nil
}

// Stats describes the current index.
func (s *Service) Stats() IndexStats {
	schema := s.idx.Schema()

	return IndexStats{
		Count:         s.idx.Size(),
		SchemaVersion: schema.Version,
		Dimension:     schema.Dimension,
		Generation:    s.idx.Generation(),
	}
}

// Index exposes the in-memory index for read access.
func (s *Service) Index() *index.Index {
	return s.idx
}

// Close releases the KV store and runs the configured closers.
func (s *Service) Close(ctx context.Context) error {
	var errs []error

	if err := s.kv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close kv: %w", err))
	}

	for _, c := range s.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Service) options(topK int, exclude, name string) search.Options {
	if topK <= 0 {
		topK = s.topK
	}

	return search.Options{
		TopK:      topK,
		ExcludeID: exclude,
		QueryName: name,
		Remap01:   s.remap01,
	}
}

// Sample is the vector summary of one indexed record.
type Sample struct {
	ID    string
	Stats vectorops.VectorStats
}

// Diagnosis summarizes the health of the stored vectors.
type Diagnosis struct {
	Stats   IndexStats
	Samples []Sample

	// PairIDs and PairSimilarity describe the first two records.
	PairIDs        []string
	PairSimilarity float64

	// Degenerate is set when a sample has almost no variance or the first
	// two records are nearly identical.
	Degenerate bool
}

// Diagnose inspects up to n records. Zero uses DefaultDiagnoseSamples.
func (s *Service) Diagnose(ctx context.Context, n int) (Diagnosis, error) {
	if n <= 0 {
		n = DefaultDiagnoseSamples
	}

	d := Diagnosis{Stats: s.Stats()}

	var first []index.Record
	for rec := range s.idx.All() {
		if err := ctx.Err(); err != nil {
			return Diagnosis{}, err
		}

		if len(d.Samples) == n {
			break
		}

		st := vectorops.Stats(rec.Vector)
		d.Samples = append(d.Samples, Sample{ID: rec.ID, Stats: st})

		if vectorops.IsDegenerate(st, s.minStdDev) {
			d.Degenerate = true
		}

		if len(first) < 2 {
			first = append(first, rec)
		}
	}

	if len(first) == 2 {
		sim, err := vectorops.CosineSimilarity(first[0].Vector, first[1].Vector)
		if err != nil {
			return Diagnosis{}, fmt.Errorf("diagnose: %w", err)
		}

		d.PairIDs = []string{first[0].ID, first[1].ID}
		d.PairSimilarity = sim

		if sim > s.similarityWarnThreshold {
			d.Degenerate = true
		}
	}

	if d.Degenerate {
		s.log(ctx, "catalog looks degenerate", "warning", "rebuild with a working extractor", "pair_similarity", d.PairSimilarity)
	}

	return d, nil
}
