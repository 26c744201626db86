// Package mesh prepares triangle meshes for export to external renderers:
// UV mapping, vertex normals, autosmoothing and Wavefront OBJ output.
package mesh

import (
	"errors"
	"fmt"

	"github.com/Faultbox/raybridge/pkg/math"
)

var (
	ErrEmptyMesh         = errors.New("mesh topology is empty")
	ErrIndexOutOfRange   = errors.New("facet index out of range")
	ErrUVMapLength       = errors.New("uv map length differs from point count")
	ErrNormalsLength     = errors.New("vertex normals length differs from point count")
	ErrNoUVMap           = errors.New("mesh has no uv map")
	ErrUnknownProjection = errors.New("unknown uv projection")
)

// Facet is an ordered triple of point indices.
type Facet [3]int

// IsDegenerate reports whether the facet repeats a point index.
func (f Facet) IsDegenerate() bool {
	return f[0] == f[1] || f[1] == f[2] || f[0] == f[2]
}

// Mesh is a triangle mesh with optional uv map and vertex normals.
// Points are expressed in the mesh local frame; Placement maps them to the
// scene.
type Mesh struct {
	Points    []math.Vec3
	Facets    []Facet
	UVMap     []math.Vec2
	VNormals  []math.Vec3
	Placement math.Mat4
}

// New creates a mesh with an identity placement.
func New(points []math.Vec3, facets []Facet) *Mesh {
	return &Mesh{
		Points:    points,
		Facets:    facets,
		Placement: math.Identity(),
	}
}

// Validate checks facet indices and per-point array lengths.
func (m *Mesh) Validate() error {
	n := len(m.Points)
	for i, f := range m.Facets {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("facet %d: %w (%d, %d points)", i, ErrIndexOutOfRange, idx, n)
			}
		}
	}
	if m.UVMap != nil && len(m.UVMap) != n {
		return fmt.Errorf("%w: %d uv, %d points", ErrUVMapLength, len(m.UVMap), n)
	}
	if m.VNormals != nil && len(m.VNormals) != n {
		return fmt.Errorf("%w: %d normals, %d points", ErrNormalsLength, len(m.VNormals), n)
	}
	return nil
}

// IsEmpty reports whether the mesh has no facets.
func (m *Mesh) IsEmpty() bool {
	return len(m.Facets) == 0
}

// HasUVMap reports whether a uv map is attached.
func (m *Mesh) HasUVMap() bool {
	return len(m.UVMap) > 0 && len(m.UVMap) == len(m.Points)
}

// HasVNormals reports whether vertex normals are attached.
func (m *Mesh) HasVNormals() bool {
	return len(m.VNormals) > 0 && len(m.VNormals) == len(m.Points)
}

// Copy returns a deep copy of the mesh.
func (m *Mesh) Copy() *Mesh {
	c := &Mesh{
		Points:    append([]math.Vec3(nil), m.Points...),
		Facets:    append([]Facet(nil), m.Facets...),
		Placement: m.Placement,
	}
	if m.UVMap != nil {
		c.UVMap = append([]math.Vec2(nil), m.UVMap...)
	}
	if m.VNormals != nil {
		c.VNormals = append([]math.Vec3(nil), m.VNormals...)
	}
	return c
}

// Corners returns the three points of facet i.
func (m *Mesh) Corners(i int) (a, b, c math.Vec3) {
	f := m.Facets[i]
	return m.Points[f[0]], m.Points[f[1]], m.Points[f[2]]
}

// FacetNormal returns the unit normal of facet i (zero when degenerate).
func (m *Mesh) FacetNormal(i int) math.Vec3 {
	return math.TriangleUnitNormal(m.Corners(i))
}

// FacetArea returns the area of facet i.
func (m *Mesh) FacetArea(i int) float64 {
	return math.TriangleArea(m.Corners(i))
}

// Centroid returns the area-weighted center of the facets,
// sum(area * barycenter) / sum(area).
func (m *Mesh) Centroid() math.Vec3 {
	var sum math.Vec3
	var total float64
	for i := range m.Facets {
		a, b, c := m.Corners(i)
		area := math.TriangleArea(a, b, c)
		sum = sum.Add(math.Barycenter(a, b, c).Scale(area))
		total += area
	}
	if total == 0 {
		return math.Vec3{}
	}
	return sum.Scale(1 / total)
}

// Transform applies a matrix to points and normals in place.
func (m *Mesh) Transform(mat math.Mat4) {
	for i, p := range m.Points {
		m.Points[i] = mat.TransformPoint(p)
	}
	for i, n := range m.VNormals {
		m.VNormals[i] = mat.TransformDirection(n).Normalize()
	}
}

// ApplyPlacement bakes the placement into the points and resets it.
func (m *Mesh) ApplyPlacement() {
	if m.Placement.IsIdentity() {
		return
	}
	m.Transform(m.Placement)
	m.Placement = math.Identity()
}

// Scale multiplies points (and placement translation) by s.
func (m *Mesh) Scale(s float64) {
	for i, p := range m.Points {
		m.Points[i] = p.Scale(s)
	}
	m.Placement[12] *= s
	m.Placement[13] *= s
	m.Placement[14] *= s
}

// Bounds returns the bounding box of the placed points.
func (m *Mesh) Bounds() BoundBox {
	b := EmptyBoundBox()
	for _, p := range m.Points {
		b.Add(m.Placement.TransformPoint(p))
	}
	return b
}

// Append adds another mesh (placement applied) to m, which must have an
// identity placement. UV maps and normals are kept only if both have them.
func (m *Mesh) Append(other *Mesh) {
	offset := len(m.Points)
	keepUV := (m.HasUVMap() || len(m.Points) == 0) && other.HasUVMap()
	keepN := (m.HasVNormals() || len(m.Points) == 0) && other.HasVNormals()
	for _, p := range other.Points {
		m.Points = append(m.Points, other.Placement.TransformPoint(p))
	}
	for _, f := range other.Facets {
		m.Facets = append(m.Facets, Facet{f[0] + offset, f[1] + offset, f[2] + offset})
	}
	if keepUV {
		m.UVMap = append(m.UVMap, other.UVMap...)
	} else {
		m.UVMap = nil
	}
	if keepN {
		for _, n := range other.VNormals {
			m.VNormals = append(m.VNormals, other.Placement.TransformDirection(n).Normalize())
		}
	} else {
		m.VNormals = nil
	}
}
