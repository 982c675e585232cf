// Package snapshot saves pipeline surfaces to disk as PNG, JPEG or WebP.
package snapshot

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// Writer saves images into a directory in a fixed format.
type Writer struct {
	dir     string
	format  string
	quality int
}

// NewWriter creates a Writer. format is one of png, jpg, jpeg or webp;
// quality applies to the lossy formats.
func NewWriter(dir, format string, quality int) (*Writer, error) {
	format = strings.ToLower(format)
	switch format {
	case "png", "jpg", "jpeg", "webp":
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
	if quality < 1 || quality > 100 {
		quality = 90
	}
	return &Writer{dir: dir, format: format, quality: quality}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// SaveMat writes a gocv image as <dir>/<name>.<format> and returns the path.
func (w *Writer) SaveMat(name string, m gocv.Mat) (string, error) {
	img, err := m.ToImage()
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", name, err)
	}
	return w.Save(name, img)
}

// Save writes img as <dir>/<name>.<format> and returns the path.
func (w *Writer) Save(name string, img image.Image) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	path := filepath.Join(w.dir, name+"."+w.format)
	switch w.format {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		opts := &webp.Options{Quality: float32(w.quality)}
		if err := webp.Encode(f, img, opts); err != nil {
			return "", err
		}
	case "png":
		if err := imaging.Save(img, path); err != nil {
			return "", err
		}
	default: // jpg/jpeg
		if err := imaging.Save(img, path, imaging.JPEGQuality(w.quality)); err != nil {
			return "", err
		}
	}

	return path, nil
}

// Load reads a snapshot back, whatever its format.
func Load(path string) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return webp.Decode(f)
	}
	return imaging.Open(path)
}
