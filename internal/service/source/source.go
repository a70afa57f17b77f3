// Package source enumerates and decodes the images to be indexed.
package source

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	imgutil "github.com/ramon-reichert/simlens/internal/service/image"
)

// Source lists image IDs and decodes them on demand.
type Source interface {
	Scan(ctx context.Context) ([]string, error)
	Decode(ctx context.Context, id string) (image.Image, error)
}

// Folder is a Source backed by a directory tree. IDs are absolute file paths.
type Folder struct {
	root string
}

// NewFolder returns a Source over every supported image below root.
func NewFolder(root string) (*Folder, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}

	return &Folder{root: abs}, nil
}

// Root returns the absolute directory the folder scans.
func (f *Folder) Root() string {
	return f.root
}

// Scan walks the tree in lexical order and returns supported image paths.
func (f *Folder) Scan(ctx context.Context) ([]string, error) {
	var images []string

	err := filepath.Walk(f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		if imgutil.IsSupported(path) {
			images = append(images, path)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", f.root, err)
	}

	return images, nil
}

// Decode implements Source.
func (f *Folder) Decode(ctx context.Context, id string) (image.Image, error) {
	return decodeFile(ctx, id)
}

// Files is a Source over an explicit list of image paths.
type Files []string

// Scan returns the supported paths in the order given.
func (fs Files) Scan(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(fs))
	for _, p := range fs {
		if !imgutil.IsSupported(p) {
			continue
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("abs: %w", err)
		}

		ids = append(ids, abs)
	}

	return ids, nil
}

// Decode implements Source.
func (fs Files) Decode(ctx context.Context, id string) (image.Image, error) {
	return decodeFile(ctx, id)
}

func decodeFile(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return imgutil.Load(path)
}
