package extractor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/ardanlabs/kronk/sdk/kronk"
	"github.com/ardanlabs/kronk/sdk/kronk/model"

	kronkenv "github.com/ramon-reichert/simlens/internal/platform/kronk"
	"github.com/ramon-reichert/simlens/internal/platform/logger"
	imgutil "github.com/ramon-reichert/simlens/internal/service/image"
	"github.com/ramon-reichert/simlens/internal/service/index"
)

var ErrModelNotLoaded = errors.New("model not loaded")

const describePrompt = `Describe the image for visual similarity search.
Mention visible objects, their colors, shapes, materials, packaging and printed text or codes.
Use short phrases or short clauses.
Output a single comma-separated list.
Avoid stylistic language.`

// Kronk describes an image with a local vision model and embeds the
// description with a text embedding model.
type Kronk struct {
	log   logger.Logger
	paths kronkenv.ModelPaths

	mu     sync.Mutex
	vision *kronk.Kronk
	embed  *kronk.Kronk
	dim    int
}

// KronkConfig holds configuration for creating a Kronk extractor.
type KronkConfig struct {
	Log   logger.Logger
	Paths kronkenv.ModelPaths
}

// NewKronk creates a Kronk extractor. Models are loaded by Load.
func NewKronk(cfg KronkConfig) *Kronk {
	log := cfg.Log
	if log == nil {
		log = logger.Discard()
	}

	return &Kronk{
		log:   log,
		paths: cfg.Paths,
	}
}

// Load loads both models into memory.
func (k *Kronk) Load(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.vision == nil {
		start := time.Now()
		k.log(ctx, "loading vision model")

		krn, err := kronkenv.LoadModel(kronkenv.VisionConfig(k.paths.Vision))
		if err != nil {
			return fmt.Errorf("load vision model: %w", err)
		}

		k.vision = krn
		k.log(ctx, "vision model loaded",
			"loading time", time.Since(start),
			"context_window", krn.ModelConfig().ContextWindow,
		)
	}

	if k.embed == nil {
		start := time.Now()
		k.log(ctx, "loading embedding model")

		krn, err := kronkenv.LoadModel(kronkenv.EmbedConfig(k.paths.Embed))
		if err != nil {
			return fmt.Errorf("load embedding model: %w", err)
		}

		k.embed = krn
		k.log(ctx, "embedding model loaded",
			"loading time", time.Since(start),
			"context_window", krn.ModelConfig().ContextWindow,
		)
	}

	return nil
}

// Unload releases both models.
func (k *Kronk) Unload(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var errs []error

	if k.vision != nil {
		k.log(ctx, "unloading vision model")
		if err := k.vision.Unload(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unload vision model: %w", err))
		}
		k.vision = nil
	}

	if k.embed != nil {
		k.log(ctx, "unloading embedding model")
		if err := k.embed.Unload(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unload embedding model: %w", err))
		}
		k.embed = nil
	}

	return errors.Join(errs...)
}

// Schema implements Extractor. Dimension stays 0 until the first vector
// has been produced, since it is a property of the embedding model.
func (k *Kronk) Schema() index.Schema {
	k.mu.Lock()
	defer k.mu.Unlock()

	return index.Schema{
		Version:   "kronk-" + k.paths.Tag() + "-v1",
		Dimension: k.dim,
	}
}

// Extract implements Extractor.
func (k *Kronk) Extract(ctx context.Context, img image.Image) ([]float32, error) {
	k.mu.Lock()
	vision, embed := k.vision, k.embed
	k.mu.Unlock()

	if vision == nil || embed == nil {
		return nil, fmt.Errorf("kronk: %w: %w", ErrFeatureExtraction, ErrModelNotLoaded)
	}

	desc, err := k.describe(ctx, vision, img)
	if err != nil {
		return nil, err
	}

	vec, err := k.embedText(ctx, embed, desc)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	if k.dim == 0 {
		k.dim = len(vec)
	}
	k.mu.Unlock()

	return vec, nil
}

func (k *Kronk) describe(ctx context.Context, krn *kronk.Kronk, img image.Image) (string, error) {
	imageData, err := imgutil.EncodeJPEG(img, imgutil.DefaultMaxSide)
	if err != nil {
		return "", fmt.Errorf("resize image: %w", err)
	}

	data := model.D{
		"messages":    model.RawMediaMessage(describePrompt, imageData),
		"temperature": 0.3,
		"max_tokens":  256,
	}

	start := time.Now()

	resp, err := krn.Chat(ctx, data)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}

	if len(resp.Choice) == 0 {
		return "", errors.New("chat: no choices returned")
	}

	desc := strings.TrimSpace(resp.Choice[0].Message.Content)
	if desc == "" {
		return "", errors.New("chat: empty description")
	}

	k.log(ctx, "description finished", "elapsed", time.Since(start), "description", desc)
	return desc, nil
}

func (k *Kronk) embedText(ctx context.Context, krn *kronk.Kronk, text string) ([]float32, error) {
	data := model.D{
		"input":    text,
		"truncate": true,
	}

	start := time.Now()

	resp, err := krn.Embeddings(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	k.log(ctx, "embedding finished", "embedding time", time.Since(start))
	return resp.Data[0].Embedding, nil
}
