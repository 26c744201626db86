// Package color converts colors between the sRGB encoding used to store
// material and object colors and the linear space renderers expect.
package color

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode selects the sRGB transfer function.
type Mode int

const (
	// Fast uses a pure 2.2 gamma.
	Fast Mode = iota
	// Precise uses the piecewise IEC 61966-2-1 curve.
	Precise
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Precise {
		return "precise"
	}
	return "fast"
}

// ErrInvalidColor is returned when a color literal cannot be parsed.
var ErrInvalidColor = errors.New("invalid color literal")

// RGB is an sRGB-encoded color with alpha, components in [0, 1].
type RGB struct {
	R, G, B float64
	A       float64
}

// Linear is a color in linear space.
type Linear struct {
	R, G, B float64
}

// New returns an opaque sRGB color.
func New(r, g, b float64) RGB {
	return RGB{R: r, G: g, B: b, A: 1}
}

// White is the default neutral color used when nothing else is known.
var White = New(0.8, 0.8, 0.8)

// ToLinear converts an sRGB component to linear space.
func ToLinear(c float64, mode Mode) float64 {
	if mode == Precise {
		if c <= 0.04045 {
			return c / 12.92
		}
		return math.Pow((c+0.055)/1.055, 2.4)
	}
	if c <= 0 {
		return 0
	}
	return math.Pow(c, 2.2)
}

// ToSRGB converts a linear component to sRGB.
func ToSRGB(c float64, mode Mode) float64 {
	if mode == Precise {
		if c <= 0.0031308 {
			return c * 12.92
		}
		return 1.055*math.Pow(c, 1/2.4) - 0.055
	}
	if c <= 0 {
		return 0
	}
	return math.Pow(c, 1/2.2)
}

// Linear returns the color converted to linear space.
func (c RGB) Linear(mode Mode) Linear {
	return Linear{ToLinear(c.R, mode), ToLinear(c.G, mode), ToLinear(c.B, mode)}
}

// FromLinear builds an opaque sRGB color from linear components.
func FromLinear(l Linear, mode Mode) RGB {
	return RGB{R: ToSRGB(l.R, mode), G: ToSRGB(l.G, mode), B: ToSRGB(l.B, mode), A: 1}
}

// WithTransparency returns c with alpha = 1 - t/100.
func (c RGB) WithTransparency(t float64) RGB {
	c.A = 1 - math.Max(0, math.Min(100, t))/100
	return c
}

// String formats the color as a card literal "(r,g,b)".
func (c RGB) String() string {
	return fmt.Sprintf("(%s,%s,%s)", formatFloat(c.R), formatFloat(c.G), formatFloat(c.B))
}

// Array returns the linear components as an array.
func (l Linear) Array() [3]float64 {
	return [3]float64{l.R, l.G, l.B}
}

// Join formats the linear components separated by sep.
func (l Linear) Join(sep string) string {
	return formatFloat(l.R) + sep + formatFloat(l.G) + sep + formatFloat(l.B)
}

// Scale returns the color multiplied by s.
func (l Linear) Scale(s float64) Linear {
	return Linear{l.R * s, l.G * s, l.B * s}
}

// Parse reads a color literal: "(r,g,b)", "(r,g,b,a)" or "r,g,b".
// Components above 1 are interpreted as 0..255 values.
func Parse(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	if len(fields) != 3 && len(fields) != 4 {
		return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	vals := make([]float64, len(fields))
	over := false
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
		}
		if v > 1 {
			over = true
		}
		vals[i] = v
	}
	if over {
		for i := range vals {
			vals[i] /= 255
		}
	}
	c := RGB{R: vals[0], G: vals[1], B: vals[2], A: 1}
	if len(vals) == 4 {
		c.A = vals[3]
	}
	return c, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
