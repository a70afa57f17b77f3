package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ramon-reichert/simlens/internal/platform/config"
	"github.com/ramon-reichert/simlens/internal/platform/kronk"
	"github.com/ramon-reichert/simlens/internal/platform/logger"
	"github.com/ramon-reichert/simlens/internal/service/extractor"
	"github.com/ramon-reichert/simlens/internal/service/search"
	"github.com/ramon-reichert/simlens/internal/service/store/kv"
)

// Open builds a Service from application settings: it opens the configured
// backend, prepares the extractor and restores the catalog.
func Open(ctx context.Context, log logger.Logger, cfg config.Config) (*Service, error) {
	store, err := OpenKV(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open kv: %w", err)
	}

	ex, closer, err := OpenExtractor(ctx, log, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open extractor: %w", err)
	}

	var adjustments []search.RankingAdjustment
	if cfg.ProductCodeBoost {
		boost, err := search.NewProductCodeBoost(cfg.ProductCodePattern)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("product code pattern: %w", err)
		}
		adjustments = append(adjustments, boost)
	}

	var closers []func(context.Context) error
	if closer != nil {
		closers = append(closers, closer)
	}

	svc, err := New(ctx, Config{
		Log:                     log,
		Extractor:               ex,
		KV:                      store,
		Catalog:                 cfg.Catalog,
		Closers:                 closers,
		TopK:                    cfg.TopK,
		BatchSize:               cfg.BatchSize,
		ExtractTimeout:          cfg.ExtractTimeout,
		Remap01:                 cfg.Remap01,
		SpreadThreshold:         cfg.SpreadThreshold,
		SimilarityWarnThreshold: cfg.SimilarityWarnThreshold,
		MinStdDev:               cfg.MinStdDev,
		Adjustments:             adjustments,
	})
	if err != nil {
		store.Close()
		if closer != nil {
			closer(ctx)
		}
		return nil, err
	}

	return svc, nil
}

// OpenKV opens the key-value backend named by cfg.Backend below cfg.DataDir.
func OpenKV(ctx context.Context, cfg config.Config) (kv.Store, error) {
	if cfg.Backend != config.BackendMemory && cfg.Backend != config.BackendRedis {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	switch cfg.Backend {
	case config.BackendBadger:
		return kv.OpenBadger(filepath.Join(cfg.DataDir, "badger"))

	case config.BackendSQLite:
		return kv.OpenSQLite(filepath.Join(cfg.DataDir, "simlens.db"))

	case config.BackendRedis:
		return kv.OpenRedis(ctx, cfg.RedisAddr)

	case config.BackendFile:
		return kv.OpenFile(filepath.Join(cfg.DataDir, "catalogs"))

	case config.BackendMemory:
		return kv.NewMemory(), nil
	}

	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// OpenExtractor prepares the extractor named by cfg.Extractor. The returned
// closer, when not nil, releases the extractor's resources.
func OpenExtractor(ctx context.Context, log logger.Logger, cfg config.Config) (extractor.Extractor, func(context.Context) error, error) {
	switch cfg.Extractor {
	case config.ExtractorHistogram:
		return extractor.NewHistogram(cfg.HistogramBins), nil, nil

	case config.ExtractorKronk:
		if err := kronk.InstallDependencies(ctx, log); err != nil {
			return nil, nil, fmt.Errorf("install dependencies: %w", err)
		}

		paths, err := kronk.DownloadModels(ctx, log, kronk.DefaultModels())
		if err != nil {
			return nil, nil, fmt.Errorf("download models: %w", err)
		}

		if err := kronk.Init(); err != nil {
			return nil, nil, fmt.Errorf("kronk init: %w", err)
		}

		ex := extractor.NewKronk(extractor.KronkConfig{Log: log, Paths: paths})
		if err := loadModels(ctx, log, ex); err != nil {
			return nil, nil, err
		}

		return ex, ex.Unload, nil
	}

	return nil, nil, fmt.Errorf("unknown extractor %q", cfg.Extractor)
}

type modelLoader interface {
	Load(ctx context.Context) error
	Unload(ctx context.Context) error
}

// loadModels loads every model of m. When one fails, the ones that did load
// are released.
func loadModels(ctx context.Context, log logger.Logger, m modelLoader) error {
	if err := m.Load(ctx); err != nil {
		if uerr := m.Unload(ctx); uerr != nil {
			log(ctx, "unload after failed load", "error", uerr)
		}
		return fmt.Errorf("load models: %w", err)
	}
	return nil
}
