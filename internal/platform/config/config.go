// Package config loads simlens settings from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables always win over it.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names a durable key-value implementation.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Extractor names a feature extractor implementation.
const (
	ExtractorHistogram = "histogram"
	ExtractorKronk     = "kronk"
)

// Config holds every tunable of the application.
type Config struct {
	DataDir   string
	Catalog   string
	Backend   string
	RedisAddr string

	Extractor     string
	HistogramBins int

	TopK           int
	BatchSize      int
	ExtractTimeout time.Duration
	Remap01        bool

	SpreadThreshold         float64
	SimilarityWarnThreshold float64
	MinStdDev               float64

	ProductCodeBoost   bool
	ProductCodePattern string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DataDir:                 defaultDataDir(),
		Catalog:                 "default",
		Backend:                 BackendBadger,
		RedisAddr:               "localhost:6379",
		Extractor:               ExtractorHistogram,
		HistogramBins:           8,
		TopK:                    20,
		BatchSize:               5,
		ExtractTimeout:          2 * time.Minute,
		SpreadThreshold:         0.01,
		SimilarityWarnThreshold: 0.98,
		MinStdDev:               1e-4,
		ProductCodePattern:      `80\d{3}`,
	}
}

// Load reads an optional .env file and then the SIMLENS_* variables.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() Config {
	def := Default()

	return Config{
		DataDir:                 get("SIMLENS_DATA_DIR", def.DataDir),
		Catalog:                 get("SIMLENS_CATALOG", def.Catalog),
		Backend:                 strings.ToLower(get("SIMLENS_BACKEND", def.Backend)),
		RedisAddr:               get("SIMLENS_REDIS_ADDR", def.RedisAddr),
		Extractor:               strings.ToLower(get("SIMLENS_EXTRACTOR", def.Extractor)),
		HistogramBins:           getInt("SIMLENS_HISTOGRAM_BINS", def.HistogramBins),
		TopK:                    getInt("SIMLENS_TOP_K", def.TopK),
		BatchSize:               getInt("SIMLENS_BATCH_SIZE", def.BatchSize),
		ExtractTimeout:          getDuration("SIMLENS_EXTRACT_TIMEOUT", def.ExtractTimeout),
		Remap01:                 getBool("SIMLENS_REMAP01", def.Remap01),
		SpreadThreshold:         getFloat("SIMLENS_SPREAD_THRESHOLD", def.SpreadThreshold),
		SimilarityWarnThreshold: getFloat("SIMLENS_SIMILARITY_WARN", def.SimilarityWarnThreshold),
		MinStdDev:               getFloat("SIMLENS_MIN_STDDEV", def.MinStdDev),
		ProductCodeBoost:        getBool("SIMLENS_PRODUCT_CODE_BOOST", def.ProductCodeBoost),
		ProductCodePattern:      get("SIMLENS_PRODUCT_CODE_PATTERN", def.ProductCodePattern),
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "simlens-data"
	}
	return filepath.Join(dir, "simlens")
}

func get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
