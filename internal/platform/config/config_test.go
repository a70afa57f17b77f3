package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ramon-reichert/simlens/internal/platform/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"SIMLENS_BACKEND", "SIMLENS_TOP_K", "SIMLENS_BATCH_SIZE", "SIMLENS_EXTRACTOR", "SIMLENS_PRODUCT_CODE_BOOST", "SIMLENS_PRODUCT_CODE_PATTERN"} {
		t.Setenv(k, "")
	}

	cfg := config.FromEnv()
	def := config.Default()

	assert.Equal(t, config.BackendBadger, cfg.Backend)
	assert.Equal(t, config.ExtractorHistogram, cfg.Extractor)
	assert.Equal(t, 20, cfg.TopK)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, def.SpreadThreshold, cfg.SpreadThreshold)
	assert.False(t, cfg.ProductCodeBoost)
	assert.Equal(t, `80\d{3}`, cfg.ProductCodePattern)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SIMLENS_BACKEND", "SQLite")
	t.Setenv("SIMLENS_TOP_K", "7")
	t.Setenv("SIMLENS_EXTRACT_TIMEOUT", "15s")
	t.Setenv("SIMLENS_REMAP01", "true")
	t.Setenv("SIMLENS_SIMILARITY_WARN", "0.95")

	cfg := config.FromEnv()

	assert.Equal(t, config.BackendSQLite, cfg.Backend)
	assert.Equal(t, 7, cfg.TopK)
	assert.Equal(t, 15*time.Second, cfg.ExtractTimeout)
	assert.True(t, cfg.Remap01)
	assert.InDelta(t, 0.95, cfg.SimilarityWarnThreshold, 1e-9)
}

func TestFromEnv_InvalidFallsBack(t *testing.T) {
	t.Setenv("SIMLENS_TOP_K", "many")
	t.Setenv("SIMLENS_REMAP01", "perhaps")

	cfg := config.FromEnv()

	assert.Equal(t, 20, cfg.TopK)
	assert.False(t, cfg.Remap01)
}
