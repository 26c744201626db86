package scene

import (
	"errors"
	gomath "math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/pkg/math"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

const cubeYAML = `
objects:
  - name: Box
    label: My box
    color: "(0.8,0.2,0.2)"
    material: Red
    placement:
      base: {x: 10, y: 0, z: 0}
    mesh:
      points: [[0,0,0],[1,0,0],[1,1,0],[0,1,0],[0,0,1],[1,0,1],[1,1,1],[0,1,1]]
      facets: [[0,2,1],[0,3,2],[4,5,6],[4,6,7],[0,1,5],[0,5,4],[1,2,6],[1,6,5],[2,3,7],[2,7,6],[3,0,4],[3,4,7]]
  - name: Cam
    placement:
      base: {x: 0, y: 0, z: 100}
    camera:
      fov: 45
  - name: Sun
    sunskylight:
      direction: {x: 0, y: 0, z: -1}
      turbidity: 2
materials:
  - name: Red
    type: Disney
    params:
      BaseColor: "(1,0,0)"
`

const cubeTOML = `
[[objects]]
name = "Box"
color = "(0.8,0.2,0.2)"

[objects.placement.base]
x = 10.0
y = 0.0
z = 0.0

[objects.mesh]
points = [[0.0,0.0,0.0],[1.0,0.0,0.0],[1.0,1.0,0.0]]
facets = [[0,1,2]]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func approxVec(a, b math.Vec3) bool {
	return a.Distance(b) < 1e-9
}

func TestLoadYAML(t *testing.T) {
	doc, err := Load(writeFile(t, "scene.yaml", cubeYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	box, ok := doc.Object("Box")
	if !ok {
		t.Fatal("Object(Box) not found")
	}
	if box.Kind() != KindShape {
		t.Errorf("Kind() = %v, want shape", box.Kind())
	}
	if box.DisplayLabel() != "My box" {
		t.Errorf("DisplayLabel() = %q", box.DisplayLabel())
	}
	m, err := box.Geometry()
	if err != nil {
		t.Fatalf("Geometry() error = %v", err)
	}
	if len(m.Points) != 8 || len(m.Facets) != 12 {
		t.Errorf("geometry = %d points, %d facets; want 8, 12", len(m.Points), len(m.Facets))
	}
	if got := m.Placement.Translation(); !approxVec(got, math.Vec3{X: 10}) {
		t.Errorf("placement translation = %v", got)
	}

	cam, _ := doc.Object("Cam")
	if cam.Kind() != KindCamera || cam.Camera.FOV != 45 {
		t.Errorf("camera = %v %+v", cam.Kind(), cam.Camera)
	}
	sun, _ := doc.Object("Sun")
	if sun.Kind() != KindSunSkyLight {
		t.Errorf("Sun kind = %v", sun.Kind())
	}

	red, ok := doc.Material("Red")
	if !ok {
		t.Fatal("Material(Red) not found")
	}
	if v, _ := red.Get(material.KindDisney, "BaseColor"); v != "(1,0,0)" {
		t.Errorf("BaseColor = %q", v)
	}
	if got := doc.Names(); len(got) != 3 || got[0] != "Box" {
		t.Errorf("Names() = %v", got)
	}
}

func TestLoadTOML(t *testing.T) {
	doc, err := Load(writeFile(t, "scene.toml", cubeTOML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	box, ok := doc.Object("Box")
	if !ok {
		t.Fatal("Object(Box) not found")
	}
	m, err := box.Geometry()
	if err != nil {
		t.Fatalf("Geometry() error = %v", err)
	}
	if len(m.Facets) != 1 {
		t.Errorf("facets = %d, want 1", len(m.Facets))
	}
	if got := box.Placement.Resolve().Base; got.X != 10 {
		t.Errorf("base = %v", got)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    error
	}{
		{"extension", "scene.json", "{}", ErrUnknownFormat},
		{"duplicate", "scene.yaml", "objects:\n  - name: A\n  - name: A\n", ErrDuplicateObject},
		{"bad facet", "scene.yaml", "objects:\n  - name: A\n    mesh:\n      points: [[0,0,0]]\n      facets: [[0,1,2]]\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Load(writeFile(t, tt.file, tt.content))
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Errorf("Load() error = %v, want %v", err, tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			a, _ := doc.Object("A")
			if _, err := a.Geometry(); !errors.Is(err, mesh.ErrIndexOutOfRange) {
				t.Errorf("Geometry() error = %v, want ErrIndexOutOfRange", err)
			}
		})
	}
}

func TestPlacementResolve(t *testing.T) {
	axis := math.Vec3{Z: 1}
	tests := []struct {
		name string
		plc  Placement
		in   math.Vec3
		want math.Vec3
	}{
		{"identity", Placement{}, math.Vec3{X: 1}, math.Vec3{X: 1}},
		{"zero quaternion", Placement{Rotation: &math.Quat{}}, math.Vec3{X: 1}, math.Vec3{X: 1}},
		{"axis angle", Placement{Base: math.Vec3{Z: 5}, Axis: &axis, Angle: 90}, math.Vec3{X: 1}, math.Vec3{Y: 1, Z: 5}},
		{"quaternion", Placement{Rotation: &math.Quat{Z: gomath.Sqrt2 / 2, W: gomath.Sqrt2 / 2}}, math.Vec3{X: 1}, math.Vec3{Y: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.plc.Resolve().MultVec(tt.in); !approxVec(got, tt.want) {
				t.Errorf("Resolve().MultVec(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		obj  Object
		want Kind
	}{
		{Object{}, KindUnknown},
		{Object{Mesh: &MeshData{}}, KindShape},
		{Object{Mesh: &MeshData{}, IsMesh: true}, KindMesh},
		{Object{Faces: []MeshData{{}}}, KindShape},
		{Object{Group: []string{"a"}}, KindPart},
		{Object{Base: "a"}, KindArray},
		{Object{Link: "a"}, KindLink},
		{Object{Elements: []Element{{}}}, KindLinkGroup},
		{Object{PointLight: &PointLight{}}, KindPointLight},
		{Object{AreaLight: &AreaLight{}}, KindAreaLight},
		{Object{ImageLight: &ImageLight{}}, KindImageLight},
		{Object{DistantLight: &DistantLight{}}, KindDistantLight},
	}
	for _, tt := range tests {
		if got := tt.obj.Kind(); got != tt.want {
			t.Errorf("Kind() = %v, want %v", got, tt.want)
		}
	}
}

func TestDisplayColor(t *testing.T) {
	o := Object{Color: "(255,0,0)", Transparency: 25}
	c := o.DisplayColor()
	if c.R != 1 || c.G != 0 || gomath.Abs(c.A-0.75) > 1e-9 {
		t.Errorf("DisplayColor() = %+v", c)
	}
	if got := (&Object{}).DisplayColor(); got.R != 0.8 || got.A != 1 {
		t.Errorf("default DisplayColor() = %+v", got)
	}
}

func TestBounds(t *testing.T) {
	doc, err := Load(writeFile(t, "scene.yaml", cubeYAML))
	if err != nil {
		t.Fatal(err)
	}
	bb := doc.Bounds()
	if !approxVec(bb.Min, math.Vec3{X: 10}) || !approxVec(bb.Max, math.Vec3{X: 11, Y: 1, Z: 1}) {
		t.Errorf("Bounds() = %v..%v", bb.Min, bb.Max)
	}
}
