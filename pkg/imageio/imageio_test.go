package imageio

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"
)

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{A: 255}
			if (x+y)%2 == 0 {
				c.R = 255
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestWriteAndLoadPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "img.png")
	if err := WritePNG(path, checker(6, 3)); err != nil {
		t.Fatalf("WritePNG() error = %v", err)
	}
	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 6 || b.Dy() != 3 {
		t.Errorf("Load() size = %v", b)
	}
	w, h, err := Size(path)
	if err != nil || w != 6 || h != 3 {
		t.Errorf("Size() = %d, %d, %v", w, h, err)
	}
	if w, h := MaxSize([]string{path, "missing.png"}); w != 6 || h != 3 {
		t.Errorf("MaxSize() = %d, %d", w, h)
	}
}

func TestWritePixelsFlip(t *testing.T) {
	// 1x2: bottom row red, top row blue in framebuffer order
	pixels := []byte{255, 0, 0, 255, 0, 0, 255, 255}
	path := filepath.Join(t.TempDir(), "shot.png")
	if err := WritePixels(path, pixels, 1, 2, true); err != nil {
		t.Fatal(err)
	}
	img, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r, _, b, _ := img.At(0, 0).RGBA()
	if r != 0 || b == 0 {
		t.Errorf("top pixel should be blue after flip")
	}
	if err := WritePixels(path, pixels[:3], 1, 2, true); err == nil {
		t.Error("WritePixels() with short data should fail")
	}
}

func TestDecodeTGA(t *testing.T) {
	// 2x1 uncompressed 24-bit, top-to-bottom
	data := make([]byte, 18)
	data[2] = TGATypeUncompressed
	data[12], data[14] = 2, 1
	data[16] = 24
	data[17] = 0x20
	data = append(data, 0, 0, 255, 255, 0, 0) // red, blue (BGR)
	img, err := DecodeTGA(data)
	if err != nil {
		t.Fatalf("DecodeTGA() error = %v", err)
	}
	if c := img.At(0, 0).(color.NRGBA); c.R != 255 || c.B != 0 {
		t.Errorf("pixel 0 = %v, want red", c)
	}
	if c := img.At(1, 0).(color.NRGBA); c.B != 255 {
		t.Errorf("pixel 1 = %v, want blue", c)
	}
}

func TestDecodeTGARLE(t *testing.T) {
	// 3x1 RLE 32-bit: one run of three green pixels
	data := make([]byte, 18)
	data[2] = TGATypeRLE
	data[12], data[14] = 3, 1
	data[16] = 32
	data = append(data, 0x82, 0, 255, 0, 128)
	img, err := DecodeTGA(data)
	if err != nil {
		t.Fatalf("DecodeTGA() error = %v", err)
	}
	for x := 0; x < 3; x++ {
		if c := img.At(x, 0).(color.NRGBA); c.G != 255 || c.A != 128 {
			t.Errorf("pixel %d = %v", x, c)
		}
	}
}

func TestDecodeTGAErrors(t *testing.T) {
	if _, err := DecodeTGA([]byte{1, 2}); err == nil {
		t.Error("short data should fail")
	}
	data := make([]byte, 18)
	data[2] = 1
	if _, err := DecodeTGA(data); err == nil {
		t.Error("color-mapped type should fail")
	}
}

func TestFrameUniform(t *testing.T) {
	f := NewFrame(1, 1)
	if f.Width != MinFrameSize || f.Height != MinFrameSize {
		t.Errorf("NewFrame(1,1) = %dx%d, want padded", f.Width, f.Height)
	}
	for i := range f.Pix {
		f.Pix[i] = Pixel{1, 0, 0, 1}
	}
	c, ok := f.IsUniform(1e-6)
	if !ok || c != (Pixel{1, 0, 0, 1}) {
		t.Errorf("IsUniform() = %v, %v", c, ok)
	}
	f.Set(2, 2, Pixel{0, 1, 0, 1})
	if _, ok := f.IsUniform(1e-6); ok {
		t.Error("IsUniform() = true after change")
	}
	avg := f.Average()
	if math.Abs(avg[0]-15.0/16) > 1e-12 {
		t.Errorf("Average() = %v", avg)
	}
}

func TestFrameSample(t *testing.T) {
	f := FromImage(checker(2, 2))
	// center of the top-left pixel (red)
	p := f.Sample(0.25, 0.75)
	if math.Abs(p[0]-1) > 1e-9 {
		t.Errorf("Sample() = %v, want red", p)
	}
	// exact middle blends all four
	p = f.Sample(0.5, 0.5)
	if math.Abs(p[0]-0.5) > 1e-9 {
		t.Errorf("Sample(middle) = %v, want 0.5 red", p)
	}
}

func TestResize(t *testing.T) {
	img := Resize(checker(8, 8), 4, 2)
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Errorf("Resize() size = %v", b)
	}
}

func TestFrameImageRoundTrip(t *testing.T) {
	src := checker(4, 4)
	got := FromImage(src).Image(false)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if got.NRGBAAt(x, y) != src.NRGBAAt(x, y) {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got.NRGBAAt(x, y), src.NRGBAAt(x, y))
			}
		}
	}
}
