package testsboot

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ramon-reichert/simlens/internal/platform/kronk"
	"github.com/ramon-reichert/simlens/internal/platform/logger"
)

// KronkEnv enables the model-backed tests.
const KronkEnv = "SIMLENS_KRONK_TESTS"

var (
	once       sync.Once
	ModelPaths kronk.ModelPaths
	Log        logger.Logger = logger.Discard()
)

// Fixture names written by Fixtures, in scan order.
const (
	Red      = "a_red.png"
	Blue     = "b_blue.png"
	Broken   = "broken.jpg"
	Green    = "c_green.png"
	RedLarge = "d_red_large.png"
	Mixed    = "e_mixed.png"
)

var (
	red   = color.RGBA{R: 230, G: 20, B: 20, A: 255}
	blue  = color.RGBA{R: 20, G: 20, B: 230, A: 255}
	green = color.RGBA{R: 20, G: 230, B: 20, A: 255}
)

// Fixtures writes a small catalog of synthetic images into a temp dir and
// returns its path. Broken is not a valid image and a text file is mixed in.
func Fixtures(t testing.TB) string {
	t.Helper()

	dir := t.TempDir()

	WritePNG(t, filepath.Join(dir, Red), Solid(64, 64, red))
	WritePNG(t, filepath.Join(dir, Blue), Solid(64, 64, blue))
	WritePNG(t, filepath.Join(dir, Green), Solid(48, 80, green))
	WritePNG(t, filepath.Join(dir, RedLarge), Solid(300, 200, red))
	WritePNG(t, filepath.Join(dir, Mixed), Halves(64, 64, red, green))

	if err := os.WriteFile(filepath.Join(dir, Broken), []byte("not a jpeg"), 0644); err != nil {
		t.Fatalf("write broken fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	return dir
}

// RedImage returns a red image that is not part of the fixtures.
func RedImage() image.Image {
	return Solid(20, 20, red)
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// Halves returns an image with a on the left and b on the right.
func Halves(w, h int, a, b color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, a)
			} else {
				img.Set(x, y, b)
			}
		}
	}
	return img
}

// WritePNG encodes img to path.
func WritePNG(t testing.TB, path string, img image.Image) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// BootKronk installs llama.cpp, downloads the models and initializes kronk
// once. Tests calling it are skipped unless KronkEnv is set to 1.
func BootKronk(t testing.TB) {
	t.Helper()

	if os.Getenv(KronkEnv) != "1" {
		t.Skipf("set %s=1 to run model-backed tests", KronkEnv)
	}

	once.Do(func() {
		ctx := context.Background()
		Log = logger.New()

		fmt.Println("installing dependencies for tests")
		if err := kronk.InstallDependencies(ctx, Log); err != nil {
			fmt.Printf("install dependencies: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("downloading models for tests")
		paths, err := kronk.DownloadModels(ctx, Log, kronk.DefaultModels())
		if err != nil {
			fmt.Printf("download models: %v\n", err)
			os.Exit(1)
		}

		ModelPaths = paths

		fmt.Println("initializing kronk")
		if err := kronk.Init(); err != nil {
			fmt.Printf("kronk init: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("test system initialized")
	})
}
