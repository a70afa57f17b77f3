// Package kronk provides Kronk SDK setup and model management for simlens.
package kronk

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ardanlabs/kronk/sdk/kronk"
	"github.com/ardanlabs/kronk/sdk/kronk/model"
	"github.com/ardanlabs/kronk/sdk/tools/defaults"
	"github.com/ardanlabs/kronk/sdk/tools/libs"
	"github.com/ardanlabs/kronk/sdk/tools/models"

	"github.com/ramon-reichert/simlens/internal/platform/logger"
)

// Models lists the model files the kronk extractor needs.
type Models struct {
	VisionURL     string
	VisionProjURL string
	EmbedURL      string
}

// DefaultModels returns the vision and embedding models used out of the box.
func DefaultModels() Models {
	return Models{
		VisionURL:     "https://huggingface.co/ggml-org/Qwen2-VL-2B-Instruct-GGUF/resolve/main/Qwen2-VL-2B-Instruct-Q4_K_M.gguf",
		VisionProjURL: "https://huggingface.co/ggml-org/Qwen2-VL-2B-Instruct-GGUF/resolve/main/mmproj-Qwen2-VL-2B-Instruct-Q8_0.gguf",
		EmbedURL:      "https://huggingface.co/ggml-org/embeddinggemma-300m-qat-q8_0-GGUF/resolve/main/embeddinggemma-300m-qat-Q8_0.gguf",
	}
}

// ModelPaths holds the paths to downloaded model files.
type ModelPaths struct {
	Vision models.Path
	Embed  models.Path
}

// Tag identifies the model pair. It changes whenever either model file
// changes, which is what invalidates a persisted catalog.
func (mp ModelPaths) Tag() string {
	return fileTag(mp.Vision) + "+" + fileTag(mp.Embed)
}

func fileTag(p models.Path) string {
	if len(p.ModelFiles) == 0 {
		return "none"
	}
	name := filepath.Base(p.ModelFiles[0])
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// InstallDependencies downloads the llama.cpp libraries.
func InstallDependencies(ctx context.Context, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	log(ctx, "installing dependencies")

	libsys, err := libs.New(libs.WithVersion(defaults.LibVersion("")))
	if err != nil {
		return fmt.Errorf("llama.cpp libs new: %w", err)
	}

	if _, err := libsys.Download(ctx, kronk.FmtLogger); err != nil {
		return fmt.Errorf("llama.cpp libs download: %w", err)
	}

	return nil
}

// DownloadModels downloads the vision and embedding models.
func DownloadModels(ctx context.Context, log logger.Logger, m Models) (ModelPaths, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	mdls, err := models.New()
	if err != nil {
		return ModelPaths{}, fmt.Errorf("models new: %w", err)
	}

	log(ctx, "downloading vision model", "url", m.VisionURL)
	vision, err := mdls.Download(ctx, kronk.FmtLogger, m.VisionURL, m.VisionProjURL)
	if err != nil {
		return ModelPaths{}, fmt.Errorf("vision download: %w", err)
	}

	log(ctx, "downloading embedding model", "url", m.EmbedURL)
	embed, err := mdls.Download(ctx, kronk.FmtLogger, m.EmbedURL, "")
	if err != nil {
		return ModelPaths{}, fmt.Errorf("embed download: %w", err)
	}

	return ModelPaths{Vision: vision, Embed: embed}, nil
}

// Init initializes the Kronk runtime. Must be called once before loading models.
func Init() error {
	return kronk.Init()
}

// VisionConfig returns a model.Config suitable for vision inference.
func VisionConfig(mp models.Path) model.Config {
	return model.Config{
		ModelFiles:    mp.ModelFiles,
		ProjFile:      mp.ProjFile,
		ContextWindow: 8192,
		NBatch:        2048,
		NUBatch:       2048,
		CacheTypeK:    model.GGMLTypeQ8_0,
		CacheTypeV:    model.GGMLTypeQ8_0,
	}
}

// EmbedConfig returns a model.Config suitable for embedding inference.
func EmbedConfig(mp models.Path) model.Config {
	return model.Config{
		ModelFiles:     mp.ModelFiles,
		ContextWindow:  2048,
		NBatch:         2048,
		NUBatch:        512,
		CacheTypeK:     model.GGMLTypeQ8_0,
		CacheTypeV:     model.GGMLTypeQ8_0,
		FlashAttention: model.FlashAttentionEnabled,
	}
}

// LoadModel loads a model with the given configuration.
func LoadModel(cfg model.Config) (*kronk.Kronk, error) {
	krn, err := kronk.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("kronk new: %w", err)
	}
	return krn, nil
}
