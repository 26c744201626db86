package math

import "math"

// TriangleNormal returns the non-normalized normal (b-a)x(c-a).
// Its length is twice the triangle area.
func TriangleNormal(a, b, c Vec3) Vec3 {
	return b.Sub(a).Cross(c.Sub(a))
}

// TriangleUnitNormal returns the unit normal, or zero for a degenerate triangle.
func TriangleUnitNormal(a, b, c Vec3) Vec3 {
	return TriangleNormal(a, b, c).Normalize()
}

// TriangleArea returns the area of the triangle.
func TriangleArea(a, b, c Vec3) float64 {
	return TriangleNormal(a, b, c).Length() / 2
}

// TriangleAngles returns the interior angles at a, b and c (radians).
// The third angle is derived from the first two so the sum is exactly pi.
func TriangleAngles(a, b, c Vec3) [3]float64 {
	a0 := VectAngle(b.Sub(a), c.Sub(a))
	a1 := VectAngle(a.Sub(b), c.Sub(b))
	return [3]float64{a0, a1, math.Pi - a0 - a1}
}
