package mesh

import (
	gomath "math"

	"github.com/Faultbox/raybridge/pkg/math"
)

// BoundBox is an axis-aligned bounding box.
type BoundBox struct {
	Min, Max math.Vec3
}

// EmptyBoundBox returns a box that contains nothing.
func EmptyBoundBox() BoundBox {
	inf := gomath.Inf(1)
	return BoundBox{
		Min: math.Vec3{X: inf, Y: inf, Z: inf},
		Max: math.Vec3{X: -inf, Y: -inf, Z: -inf},
	}
}

// IsValid reports whether the box contains at least one point.
func (b BoundBox) IsValid() bool {
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z
}

// Add grows the box to include p.
func (b *BoundBox) Add(p math.Vec3) {
	b.Min.X = gomath.Min(b.Min.X, p.X)
	b.Min.Y = gomath.Min(b.Min.Y, p.Y)
	b.Min.Z = gomath.Min(b.Min.Z, p.Z)
	b.Max.X = gomath.Max(b.Max.X, p.X)
	b.Max.Y = gomath.Max(b.Max.Y, p.Y)
	b.Max.Z = gomath.Max(b.Max.Z, p.Z)
}

// Merge grows the box to include other.
func (b *BoundBox) Merge(other BoundBox) {
	if !other.IsValid() {
		return
	}
	b.Add(other.Min)
	b.Add(other.Max)
}

// Center returns the center of the box.
func (b BoundBox) Center() math.Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// DiagonalLength returns the length of the box diagonal.
func (b BoundBox) DiagonalLength() float64 {
	if !b.IsValid() {
		return 0
	}
	return b.Max.Sub(b.Min).Length()
}

// XLength returns the extent along X.
func (b BoundBox) XLength() float64 { return b.Max.X - b.Min.X }

// YLength returns the extent along Y.
func (b BoundBox) YLength() float64 { return b.Max.Y - b.Min.Y }
