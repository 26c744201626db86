package mesh

import (
	gomath "math"
	"testing"

	"github.com/Faultbox/raybridge/pkg/math"
)

const epsilon = 1e-9

// unitCube returns a 12-triangle unit cube with outward normals.
func unitCube() *Mesh {
	points := []math.Vec3{
		{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 0}, {X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 0, Y: 1, Z: 1},
	}
	facets := []Facet{
		{0, 2, 1}, {0, 3, 2}, // -z
		{4, 5, 6}, {4, 6, 7}, // +z
		{0, 1, 5}, {0, 5, 4}, // -y
		{3, 7, 6}, {3, 6, 2}, // +y
		{0, 4, 7}, {0, 7, 3}, // -x
		{1, 2, 6}, {1, 6, 5}, // +x
	}
	return New(points, facets)
}

// wavyGrid returns an n x n grid of quads over a smooth height field.
func wavyGrid(n int) *Mesh {
	var points []math.Vec3
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			x, y := float64(i), float64(j)
			points = append(points, math.Vec3{X: x, Y: y, Z: gomath.Sin(x/3) * gomath.Cos(y/4) * 2})
		}
	}
	var facets []Facet
	row := n + 1
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			a := j*row + i
			facets = append(facets, Facet{a, a + 1, a + row + 1}, Facet{a, a + row + 1, a + row})
		}
	}
	return New(points, facets)
}

func vecNear(a, b math.Vec3, eps float64) bool {
	return gomath.Abs(a.X-b.X) < eps && gomath.Abs(a.Y-b.Y) < eps && gomath.Abs(a.Z-b.Z) < eps
}

func TestValidate(t *testing.T) {
	m := unitCube()
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	m.Facets = append(m.Facets, Facet{0, 1, 8})
	if err := m.Validate(); err == nil {
		t.Error("Validate() with out-of-range index should fail")
	}
	m = unitCube()
	m.UVMap = make([]math.Vec2, 3)
	if err := m.Validate(); err == nil {
		t.Error("Validate() with short uv map should fail")
	}
}

func TestCentroid(t *testing.T) {
	got := unitCube().Centroid()
	want := math.Vec3{X: 0.5, Y: 0.5, Z: 0.5}
	if !vecNear(got, want, epsilon) {
		t.Errorf("Centroid() = %v, want %v", got, want)
	}
	if c := New(nil, nil).Centroid(); !c.IsZero() {
		t.Errorf("Centroid() of empty mesh = %v, want zero", c)
	}
}

func TestBounds(t *testing.T) {
	m := unitCube()
	m.Placement = math.Translate(10, 0, 0)
	b := m.Bounds()
	if b.Min.X != 10 || b.Max.X != 11 || b.XLength() != 1 || b.YLength() != 1 {
		t.Errorf("Bounds() = %+v", b)
	}
	if d := b.DiagonalLength(); gomath.Abs(d-gomath.Sqrt(3)) > epsilon {
		t.Errorf("DiagonalLength() = %v, want sqrt(3)", d)
	}
	if EmptyBoundBox().IsValid() {
		t.Error("EmptyBoundBox().IsValid() = true")
	}
}

func TestAppend(t *testing.T) {
	m := New(nil, nil)
	other := unitCube()
	other.Placement = math.Translate(0, 0, 5)
	m.Append(unitCube())
	m.Append(other)
	if len(m.Points) != 16 || len(m.Facets) != 24 {
		t.Fatalf("Append() gave %d points, %d facets", len(m.Points), len(m.Facets))
	}
	if m.Facets[12] != (Facet{8, 10, 9}) {
		t.Errorf("Append() facet 12 = %v, want {8 10 9}", m.Facets[12])
	}
	if m.Points[8].Z != 5 {
		t.Errorf("Append() did not apply placement, z = %v", m.Points[8].Z)
	}
}

func TestCopyIsDeep(t *testing.T) {
	m := unitCube()
	c := m.Copy()
	c.Points[0] = math.Vec3{X: 9}
	if m.Points[0].X == 9 {
		t.Error("Copy() shares the point array")
	}
}

func TestVertexNormalsUnitLength(t *testing.T) {
	m := wavyGrid(10)
	m.Points = append(m.Points, math.Vec3{X: 100, Y: 100, Z: 100}) // isolated
	m.ComputeVertexNormals()
	last := len(m.VNormals) - 1
	for i, n := range m.VNormals[:last] {
		if l := n.Length(); gomath.Abs(l-1) > 1e-4 {
			t.Errorf("VNormals[%d] length = %v, want 1", i, l)
		}
	}
	if !m.VNormals[last].IsZero() {
		t.Errorf("isolated vertex normal = %v, want zero", m.VNormals[last])
	}
}

func TestVertexNormalsFlat(t *testing.T) {
	m := New([]math.Vec3{{X: 0}, {X: 1}, {X: 1, Y: 1}, {Y: 1}}, []Facet{{0, 1, 2}, {0, 2, 3}})
	m.ComputeVertexNormals()
	for i, n := range m.VNormals {
		if !vecNear(n, math.Vec3{Z: 1}, epsilon) {
			t.Errorf("VNormals[%d] = %v, want (0,0,1)", i, n)
		}
	}
}

func TestVertexNormalsDegenerateFacet(t *testing.T) {
	m := New([]math.Vec3{{X: 0}, {X: 1}, {X: 2}}, []Facet{{0, 1, 1}})
	m.ComputeVertexNormals()
	for i, n := range m.VNormals {
		if !n.IsZero() {
			t.Errorf("VNormals[%d] = %v, want zero", i, n)
		}
	}
}
