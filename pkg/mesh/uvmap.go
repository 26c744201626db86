package mesh

import (
	"fmt"
	gomath "math"
	"strings"

	"github.com/Faultbox/raybridge/pkg/math"
)

// UVScale converts millimetre coordinates to metre-scaled uv.
const UVScale = 0.001

// Projection selects the uv mapping policy.
type Projection int

const (
	Cubic Projection = iota
	Spherical
	Cylindrical
)

// String returns the projection name.
func (p Projection) String() string {
	switch p {
	case Cubic:
		return "Cubic"
	case Spherical:
		return "Spherical"
	case Cylindrical:
		return "Cylindric"
	default:
		return fmt.Sprintf("Projection(%d)", int(p))
	}
}

// ParseProjection parses a projection name. An empty name means Cubic.
func ParseProjection(s string) (Projection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cubic", "cube":
		return Cubic, nil
	case "spherical", "sphere":
		return Spherical, nil
	case "cylindric", "cylindrical", "cylinder":
		return Cylindrical, nil
	}
	return Cubic, fmt.Errorf("%w: %q", ErrUnknownProjection, s)
}

// Cube face colors, in fixed order.
const (
	ColorPlusX = iota
	ColorMinusX
	ColorPlusY
	ColorMinusY
	ColorPlusZ
	ColorMinusZ
)

// CubeColor classifies a facet normal into one of the six cube faces:
// argmax |n_i| (ties prefer x, then y), then the sign of that component.
func CubeColor(n math.Vec3) int {
	ax, ay, az := gomath.Abs(n.X), gomath.Abs(n.Y), gomath.Abs(n.Z)
	axis := 0
	best := ax
	if ay > best {
		axis, best = 1, ay
	}
	if az > best {
		axis = 2
	}
	color := axis * 2
	if n.Component(axis) < 0 {
		color++
	}
	return color
}

// cubeUV projects v (relative to the centroid) on the axes of a cube face.
func cubeUV(v math.Vec3, color int) math.Vec2 {
	var uv math.Vec2
	switch color {
	case ColorPlusX:
		uv = math.Vec2{X: v.Y, Y: v.Z}
	case ColorMinusX:
		uv = math.Vec2{X: -v.Y, Y: v.Z}
	case ColorPlusY:
		uv = math.Vec2{X: -v.X, Y: v.Z}
	case ColorMinusY:
		uv = math.Vec2{X: v.X, Y: v.Z}
	case ColorPlusZ:
		uv = math.Vec2{X: v.X, Y: v.Y}
	default:
		uv = math.Vec2{X: v.X, Y: -v.Y}
	}
	return uv.Scale(UVScale)
}

// ComputeUVMap computes the uv map with the given projection.
// Points are duplicated where the projection needs a seam.
func (m *Mesh) ComputeUVMap(p Projection) error {
	switch p {
	case Cubic:
		m.computeUVMapCube()
	case Spherical:
		m.computeUVMapSphere()
	case Cylindrical:
		m.computeUVMapCylinder()
	default:
		return fmt.Errorf("%w: %v", ErrUnknownProjection, p)
	}
	return nil
}

// FacetColors returns the cube color of every facet.
func (m *Mesh) FacetColors() []int {
	colors := make([]int, len(m.Facets))
	for i := range m.Facets {
		colors[i] = CubeColor(m.FacetNormal(i))
	}
	return colors
}

func (m *Mesh) computeUVMapCube() {
	colors := m.FacetColors()
	centroid := m.Centroid()
	_, keys := m.Split(colors)
	m.UVMap = make([]math.Vec2, len(m.Points))
	for i := range m.Points {
		m.UVMap[i] = cubeUV(m.Points[i].Sub(centroid), keys[i])
	}
}

const (
	regionRegular = iota
	regionSeam
	regionZNormal
)

// overlapsSeam reports whether the facet straddles the atan2 discontinuity.
func overlapsSeam(a, b, c math.Vec3) bool {
	p0 := gomath.Atan2(a.X, a.Y)
	p1 := gomath.Atan2(b.X, b.Y)
	p2 := gomath.Atan2(c.X, c.Y)
	return gomath.Max(p0, gomath.Max(p1, p2))*gomath.Min(p0, gomath.Min(p1, p2)) < 0
}

// posAtan2 returns atan2 wrapped into [0, 2pi).
func posAtan2(x, y float64) float64 {
	a := gomath.Atan2(x, y)
	if a < 0 {
		a += 2 * gomath.Pi
	}
	return a
}

// isNormalTo reports whether both facet edges are orthogonal to v.
func isNormalTo(a, b, c, v math.Vec3) bool {
	const tolerance = 1e-5
	e1 := b.Sub(a).Normalize()
	e2 := c.Sub(a).Normalize()
	return gomath.Abs(e1.Dot(v)) <= tolerance && gomath.Abs(e2.Dot(v)) <= tolerance
}

func sphereUV(v math.Vec3, seam bool) math.Vec2 {
	r := v.Length()
	if r == 0 {
		return math.Vec2{}
	}
	phi := gomath.Atan2(v.X, v.Y)
	if seam {
		phi = posAtan2(v.X, v.Y)
	}
	k := r * UVScale * gomath.Pi
	return math.Vec2{
		X: (0.5 + phi/(2*gomath.Pi)) * k,
		Y: (0.5 + gomath.Asin(math.Clamp(v.Z/r, -1, 1))/gomath.Pi) * k,
	}
}

func (m *Mesh) computeUVMapSphere() {
	centroid := m.Centroid()
	regions := make([]int, len(m.Facets))
	for i := range m.Facets {
		a, b, c := m.Corners(i)
		if overlapsSeam(a.Sub(centroid), b.Sub(centroid), c.Sub(centroid)) {
			regions[i] = regionSeam
		}
	}
	_, keys := m.Split(regions)
	m.UVMap = make([]math.Vec2, len(m.Points))
	for i, p := range m.Points {
		m.UVMap[i] = sphereUV(p.Sub(centroid), keys[i] == regionSeam)
	}
}

// computeUVMapCylinder maps around the local z axis.
func (m *Mesh) computeUVMapCylinder() {
	z := math.Vec3{Z: 1}
	regions := make([]int, len(m.Facets))
	for i := range m.Facets {
		a, b, c := m.Corners(i)
		switch {
		case isNormalTo(a, b, c, z):
			regions[i] = regionZNormal
		case overlapsSeam(a, b, c):
			regions[i] = regionSeam
		default:
			regions[i] = regionRegular
		}
	}
	_, keys := m.Split(regions)

	var radius [3]float64
	var count [3]int
	for i, p := range m.Points {
		radius[keys[i]] += gomath.Hypot(p.X, p.Y)
		count[keys[i]]++
	}
	for r := range radius {
		if count[r] > 0 {
			radius[r] /= float64(count[r])
		}
	}

	m.UVMap = make([]math.Vec2, len(m.Points))
	for i, p := range m.Points {
		switch keys[i] {
		case regionZNormal:
			m.UVMap[i] = math.Vec2{X: p.X * UVScale, Y: p.Y * UVScale}
		case regionSeam:
			m.UVMap[i] = math.Vec2{X: posAtan2(p.X, p.Y) * radius[regionSeam] * UVScale, Y: p.Z * UVScale}
		default:
			m.UVMap[i] = math.Vec2{X: gomath.Atan2(p.X, p.Y) * radius[regionRegular] * UVScale, Y: p.Z * UVScale}
		}
	}
}

// Split duplicates points so that every (point, key of facet) pair gets its
// own point. keys has one entry per facet. Facets are rewritten, uv map and
// normals are carried. It returns, for each new point, its original index
// and its key.
func (m *Mesh) Split(keys []int) (origin []int, keyOf []int) {
	index := make(map[uint64]int, len(m.Points))
	facets := make([]Facet, len(m.Facets))
	for i, f := range m.Facets {
		for k, p := range f {
			id := uint64(p)<<32 | uint64(uint32(keys[i]))
			n, ok := index[id]
			if !ok {
				n = len(origin)
				index[id] = n
				origin = append(origin, p)
				keyOf = append(keyOf, keys[i])
			}
			facets[i][k] = n
		}
	}
	m.remap(origin)
	m.Facets = facets
	return origin, keyOf
}

// remap rebuilds the per-point arrays from the original indices.
func (m *Mesh) remap(origin []int) {
	points := make([]math.Vec3, len(origin))
	for i, o := range origin {
		points[i] = m.Points[o]
	}
	if m.HasUVMap() {
		uv := make([]math.Vec2, len(origin))
		for i, o := range origin {
			uv[i] = m.UVMap[o]
		}
		m.UVMap = uv
	} else {
		m.UVMap = nil
	}
	if m.HasVNormals() {
		vn := make([]math.Vec3, len(origin))
		for i, o := range origin {
			vn[i] = m.VNormals[o]
		}
		m.VNormals = vn
	} else {
		m.VNormals = nil
	}
	m.Points = points
}

// UVTransform is a 2D affine mapping applied to uv coordinates.
type UVTransform struct {
	Translate math.Vec2
	Rotation  float64 // degrees
	Scale     float64 // zero means 1
}

// IsIdentity reports whether the transform leaves uv unchanged.
func (t UVTransform) IsIdentity() bool {
	return t.Translate == (math.Vec2{}) && t.Rotation == 0 && (t.Scale == 0 || t.Scale == 1)
}

// Apply maps one uv coordinate.
func (t UVTransform) Apply(uv math.Vec2) math.Vec2 {
	s := t.Scale
	if s == 0 {
		s = 1
	}
	theta := t.Rotation * gomath.Pi / 180
	c, sn := gomath.Cos(theta), gomath.Sin(theta)
	return math.Vec2{
		X: uv.X*c*s - uv.Y*sn*s + t.Translate.X,
		Y: uv.X*sn*s + uv.Y*c*s + t.Translate.Y,
	}
}

// TransformUV applies t to the uv map in place.
func (m *Mesh) TransformUV(t UVTransform) error {
	if !m.HasUVMap() {
		return ErrNoUVMap
	}
	if t.IsIdentity() {
		return nil
	}
	for i, uv := range m.UVMap {
		m.UVMap[i] = t.Apply(uv)
	}
	return nil
}
