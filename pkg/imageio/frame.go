package imageio

import (
	"fmt"
	"image"
	"image/color"
	gomath "math"
)

// MinFrameSize is the smallest frame edge used for baking.
const MinFrameSize = 4

// Pixel is an RGBA sample with components in [0, 1].
type Pixel [4]float64

// Frame is a floating-point RGBA raster. Row 0 is the top of the image.
type Frame struct {
	Width  int
	Height int
	Pix    []Pixel
}

// NewFrame allocates a frame, padding each edge to MinFrameSize.
func NewFrame(width, height int) *Frame {
	if width < MinFrameSize {
		width = MinFrameSize
	}
	if height < MinFrameSize {
		height = MinFrameSize
	}
	return &Frame{Width: width, Height: height, Pix: make([]Pixel, width*height)}
}

// At returns the pixel at (x, y).
func (f *Frame) At(x, y int) Pixel {
	return f.Pix[y*f.Width+x]
}

// Set stores a pixel at (x, y).
func (f *Frame) Set(x, y int, p Pixel) {
	f.Pix[y*f.Width+x] = p
}

// TexCoord returns the uv coordinate of the center of pixel (x, y).
// v grows upward.
func (f *Frame) TexCoord(x, y int) (u, v float64) {
	u = (float64(x) + 0.5) / float64(f.Width)
	v = 1 - (float64(y)+0.5)/float64(f.Height)
	return u, v
}

// FromImage converts an image to a frame without resizing.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := &Frame{Width: b.Dx(), Height: b.Dy(), Pix: make([]Pixel, b.Dx()*b.Dy())}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			f.Pix[y*f.Width+x] = Pixel{
				float64(c.R) / 0xffff,
				float64(c.G) / 0xffff,
				float64(c.B) / 0xffff,
				float64(c.A) / 0xffff,
			}
		}
	}
	return f
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// Sample reads the frame at (u, v) with bilinear filtering and repeat
// wrapping.
func (f *Frame) Sample(u, v float64) Pixel {
	if f.Width == 0 || f.Height == 0 {
		return Pixel{}
	}
	fx := u*float64(f.Width) - 0.5
	fy := (1-v)*float64(f.Height) - 0.5
	x0, y0 := gomath.Floor(fx), gomath.Floor(fy)
	tx, ty := fx-x0, fy-y0
	ix, iy := int(x0), int(y0)

	p00 := f.At(wrap(ix, f.Width), wrap(iy, f.Height))
	p10 := f.At(wrap(ix+1, f.Width), wrap(iy, f.Height))
	p01 := f.At(wrap(ix, f.Width), wrap(iy+1, f.Height))
	p11 := f.At(wrap(ix+1, f.Width), wrap(iy+1, f.Height))
	var out Pixel
	for c := 0; c < 4; c++ {
		top := p00[c]*(1-tx) + p10[c]*tx
		bottom := p01[c]*(1-tx) + p11[c]*tx
		out[c] = top*(1-ty) + bottom*ty
	}
	return out
}

// Average returns the mean pixel.
func (f *Frame) Average() Pixel {
	var sum Pixel
	if len(f.Pix) == 0 {
		return sum
	}
	for _, p := range f.Pix {
		for c := range p {
			sum[c] += p[c]
		}
	}
	for c := range sum {
		sum[c] /= float64(len(f.Pix))
	}
	return sum
}

// IsUniform reports whether every pixel equals the first one within tol.
// It returns that color.
func (f *Frame) IsUniform(tol float64) (Pixel, bool) {
	if len(f.Pix) == 0 {
		return Pixel{}, true
	}
	first := f.Pix[0]
	for _, p := range f.Pix[1:] {
		for c := range p {
			if gomath.Abs(p[c]-first[c]) > tol {
				return first, false
			}
		}
	}
	return first, true
}

func to8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Image converts the frame to an 8-bit image. When flip is set the rows
// are written bottom-up.
func (f *Frame) Image(flip bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		srcY := y
		if flip {
			srcY = f.Height - 1 - y
		}
		for x := 0; x < f.Width; x++ {
			p := f.At(x, srcY)
			img.SetNRGBA(x, y, color.NRGBA{R: to8(p[0]), G: to8(p[1]), B: to8(p[2]), A: to8(p[3])})
		}
	}
	return img
}

// String formats a pixel as "r, g, b, a".
func (p Pixel) String() string {
	return fmt.Sprintf("%g, %g, %g, %g", p[0], p[1], p[2], p[3])
}
