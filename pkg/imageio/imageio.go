// Package imageio loads, resizes and writes the images used by materials:
// texture files referenced by material cards and images produced by the
// material baker.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/transform"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrNotImage = errors.New("file is not a supported image")
)

// Load reads an image file. TGA files are recognized by extension, other
// formats by content.
func Load(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return Decode(data, path)
}

// Decode decodes image data; name is only used to recognize TGA files and
// in error messages.
func Decode(data []byte, name string) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(name), ".tga") {
		return DecodeTGA(data)
	}
	if !filetype.IsImage(data) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotImage)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return img, nil
}

// LoadFrame reads an image file into a frame.
func LoadFrame(path string) (*Frame, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

// Size returns the dimensions of an image file without decoding pixels
// (TGA files are decoded).
func Size(path string) (int, int, error) {
	if strings.EqualFold(filepath.Ext(path), ".tga") {
		img, err := Load(path)
		if err != nil {
			return 0, 0, err
		}
		b := img.Bounds()
		return b.Dx(), b.Dy(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// MaxSize returns the largest width and height among the given images.
// Unreadable files are skipped.
func MaxSize(paths []string) (int, int) {
	var w, h int
	for _, p := range paths {
		pw, ph, err := Size(p)
		if err != nil {
			continue
		}
		w = max(w, pw)
		h = max(h, ph)
	}
	return w, h
}

// Resize scales an image with linear filtering.
func Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	return transform.Resize(img, width, height, transform.Linear)
}

// WritePNG encodes img as PNG at path, creating directories as needed.
func WritePNG(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return file.Close()
}

// WritePixels writes raw RGBA bytes as a PNG. When flip is set the rows
// are stored bottom-up, as returned by a framebuffer read.
func WritePixels(path string, pixels []byte, width, height int, flip bool) error {
	if len(pixels) != width*height*4 {
		return fmt.Errorf("pixel data size mismatch: expected %d, got %d", width*height*4, len(pixels))
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	rowSize := width * 4
	for y := 0; y < height; y++ {
		srcY := y
		if flip {
			srcY = height - 1 - y
		}
		copy(img.Pix[y*img.Stride:y*img.Stride+rowSize], pixels[srcY*rowSize:(srcY+1)*rowSize])
	}
	return WritePNG(path, img)
}
