package source

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	imgutil "github.com/ramon-reichert/simlens/internal/service/image"
)

func writePNG(t *testing.T, path string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestFolder_Scan(t *testing.T) {
	root := t.TempDir()

	writePNG(t, filepath.Join(root, "b.png"))
	writePNG(t, filepath.Join(root, "a.png"))
	writePNG(t, filepath.Join(root, "nested", "c.png"))
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src, err := NewFolder(root)
	if err != nil {
		t.Fatalf("new folder: %v", err)
	}

	ids, err := src.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	want := []string{
		filepath.Join(src.Root(), "a.png"),
		filepath.Join(src.Root(), "b.png"),
		filepath.Join(src.Root(), "nested", "c.png"),
	}

	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %v", len(want), ids)
	}

	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], want[i])
		}
	}

	img, err := src.Decode(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if img.Bounds().Dx() != 4 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}
}

func TestFolder_NotDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.png")
	writePNG(t, path)

	if _, err := NewFolder(path); err == nil {
		t.Error("expected error for a file root")
	}

	if _, err := NewFolder(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for a missing root")
	}
}

func TestFolder_Cancelled(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "a.png"))

	src, err := NewFolder(root)
	if err != nil {
		t.Fatalf("new folder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Scan(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "x.png")
	writePNG(t, good)

	broken := filepath.Join(dir, "broken.jpg")
	if err := os.WriteFile(broken, []byte("nope"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src := Files{good, filepath.Join(dir, "skip.txt"), broken}

	ids, err := src.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}

	if _, err := src.Decode(context.Background(), ids[0]); err != nil {
		t.Errorf("decode good: %v", err)
	}

	if _, err := src.Decode(context.Background(), ids[1]); !errors.Is(err, imgutil.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}
