package tests

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramon-reichert/simlens/internal/platform/config"
	"github.com/ramon-reichert/simlens/internal/service"
	"github.com/ramon-reichert/simlens/internal/service/extractor"
	"github.com/ramon-reichert/simlens/internal/service/store/kv"
	"github.com/ramon-reichert/simlens/internal/service/tests/testsboot"
)

func openService(t *testing.T, dataDir string, bins int) *service.Service {
	t.Helper()

	store, err := kv.OpenBadger(dataDir)
	require.NoError(t, err)

	svc, err := service.New(context.Background(), service.Config{
		Log:       testsboot.Log,
		Extractor: extractor.NewHistogram(bins),
		KV:        store,
	})
	require.NoError(t, err)

	return svc
}

func TestRebuildSearchAndReload(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fixtures := testsboot.Fixtures(t)
	dataDir := t.TempDir()

	// Phase 1: Rebuild
	svc := openService(t, dataDir, 8)

	report, err := svc.RebuildIndex(ctx, fixtures)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, filepath.Join(fixtures, testsboot.Broken), report.Failures[0].ID)
	assert.False(t, report.Degenerate(), "warnings: %v", report.Warnings)

	stats := svc.Stats()
	assert.Equal(t, 5, stats.Count)
	assert.Equal(t, "histogram-rgb8-v1", stats.SchemaVersion)
	assert.Equal(t, 512, stats.Dimension)

	// Phase 2: Search with an indexed file excludes itself
	res, err := svc.SearchFile(ctx, filepath.Join(fixtures, testsboot.RedLarge), 3)
	require.NoError(t, err)
	require.Len(t, res.Matches, 3)

	assert.Equal(t, filepath.Join(fixtures, testsboot.Red), res.Matches[0].ID)
	assert.InDelta(t, 1.0, res.Matches[0].Similarity, 1e-6)
	assert.Equal(t, filepath.Join(fixtures, testsboot.Mixed), res.Matches[1].ID)
	assert.Equal(t, 4, res.Scored)
	for _, m := range res.Matches {
		assert.NotEqual(t, filepath.Join(fixtures, testsboot.RedLarge), m.ID)
	}

	// Phase 3: Search with an image that is not indexed
	res, err = svc.Search(ctx, testsboot.RedImage(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(fixtures, testsboot.Red),
		filepath.Join(fixtures, testsboot.RedLarge),
	}, []string{res.Matches[0].ID, res.Matches[1].ID})

	generation := stats.Generation
	require.NoError(t, svc.Close(ctx))

	// Phase 4: Reload keeps the catalog
	svc2 := openService(t, dataDir, 8)

	stats2 := svc2.Stats()
	assert.Equal(t, 5, stats2.Count)
	assert.Equal(t, generation, stats2.Generation)

	res, err = svc2.SearchByID(ctx, filepath.Join(fixtures, testsboot.Blue), 1)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)

	require.NoError(t, svc2.Close(ctx))

	// Phase 5: A different extractor schema discards the catalog
	svc3 := openService(t, dataDir, 4)
	defer svc3.Close(ctx)

	assert.Equal(t, 0, svc3.Stats().Count)
	assert.Equal(t, "histogram-rgb4-v1", svc3.Stats().SchemaVersion)
}

func TestSearchEmptyIndex(t *testing.T) {
	ctx := context.Background()

	svc := openService(t, t.TempDir(), 8)
	defer svc.Close(ctx)

	res, err := svc.Search(ctx, testsboot.RedImage(), 5)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestClearIndex(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	svc := openService(t, dataDir, 8)

	_, err := svc.RebuildIndex(ctx, testsboot.Fixtures(t))
	require.NoError(t, err)
	require.Equal(t, 5, svc.Stats().Count)

	require.NoError(t, svc.ClearIndex(ctx))
	assert.Equal(t, 0, svc.Stats().Count)
	require.NoError(t, svc.Close(ctx))

	svc2 := openService(t, dataDir, 8)
	defer svc2.Close(ctx)

	assert.Equal(t, 0, svc2.Stats().Count)
}

func TestAddFiles(t *testing.T) {
	ctx := context.Background()
	fixtures := testsboot.Fixtures(t)

	svc := openService(t, t.TempDir(), 8)
	defer svc.Close(ctx)

	report, err := svc.AddFiles(ctx,
		filepath.Join(fixtures, testsboot.Red),
		filepath.Join(fixtures, testsboot.Blue),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)

	_, err = svc.AddFiles(ctx, filepath.Join(fixtures, testsboot.Green))
	require.NoError(t, err)

	assert.Equal(t, 3, svc.Stats().Count)
}

func TestDiagnose(t *testing.T) {
	ctx := context.Background()

	svc := openService(t, t.TempDir(), 8)
	defer svc.Close(ctx)

	fixtures := testsboot.Fixtures(t)
	_, err := svc.RebuildIndex(ctx, fixtures)
	require.NoError(t, err)

	d, err := svc.Diagnose(ctx, 3)
	require.NoError(t, err)

	assert.Len(t, d.Samples, 3)
	assert.Equal(t, []string{
		filepath.Join(fixtures, testsboot.Red),
		filepath.Join(fixtures, testsboot.Blue),
	}, d.PairIDs)
	assert.Less(t, d.PairSimilarity, 0.5)
	assert.False(t, d.Degenerate)
}

func TestDiagnose_DuplicateImages(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	testsboot.WritePNG(t, filepath.Join(dir, "one.png"), testsboot.RedImage())
	testsboot.WritePNG(t, filepath.Join(dir, "two.png"), testsboot.RedImage())

	svc := openService(t, t.TempDir(), 8)
	defer svc.Close(ctx)

	report, err := svc.RebuildIndex(ctx, dir)
	require.NoError(t, err)
	assert.True(t, report.Degenerate())

	d, err := svc.Diagnose(ctx, 0)
	require.NoError(t, err)
	assert.True(t, d.Degenerate)
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	for _, backend := range []string{config.BackendMemory, config.BackendFile, config.BackendSQLite, config.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.DataDir = t.TempDir()
			cfg.Backend = backend
			cfg.ProductCodeBoost = true

			svc, err := service.Open(ctx, testsboot.Log, cfg)
			require.NoError(t, err)
			defer svc.Close(ctx)

			report, err := svc.RebuildIndex(ctx, testsboot.Fixtures(t))
			require.NoError(t, err)
			assert.Equal(t, 5, report.Succeeded)
		})
	}
}

func TestOpen_Unknown(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	cfg.Backend = "tape"
	_, err := service.Open(ctx, testsboot.Log, cfg)
	assert.Error(t, err)

	cfg.Backend = config.BackendMemory
	cfg.Extractor = "magic"
	_, err = service.Open(ctx, testsboot.Log, cfg)
	assert.Error(t, err)
}

func TestKronkRebuildAndSearch(t *testing.T) {
	testsboot.BootKronk(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	ex := extractor.NewKronk(extractor.KronkConfig{Log: testsboot.Log, Paths: testsboot.ModelPaths})
	require.NoError(t, ex.Load(ctx))

	svc, err := service.New(ctx, service.Config{
		Log:       testsboot.Log,
		Extractor: ex,
		KV:        kv.NewMemory(),
		Closers:   []func(context.Context) error{ex.Unload},
	})
	require.NoError(t, err)
	defer svc.Close(ctx)

	fixtures := testsboot.Fixtures(t)

	report, err := svc.RebuildIndex(ctx, fixtures)
	require.NoError(t, err)
	t.Logf("indexed %d images, %d failed, warnings %v", report.Succeeded, report.Failed, report.Warnings)

	res, err := svc.SearchFile(ctx, filepath.Join(fixtures, testsboot.RedLarge), 3)
	require.NoError(t, err)

	for i, m := range res.Matches {
		t.Logf("result %d: %s (score: %.4f)", i+1, m.ID, m.Similarity)
	}
}
