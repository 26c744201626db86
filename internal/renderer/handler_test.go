package renderer

import (
	"context"
	"errors"
	gomath "math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/scene"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/math"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

// fakePlugin records what the handler hands over.
type fakePlugin struct {
	name    string
	objects map[string]Object
	camera  Camera
	point   PointLight
	area    AreaLight
	sun     SunSkyLight
	req     RenderRequest
}

func newFake(name string) *fakePlugin {
	return &fakePlugin{name: name, objects: map[string]Object{}}
}

func (p *fakePlugin) Name() string           { return p.name }
func (p *fakePlugin) TemplateFilter() string { return "Fake templates (fake_*.txt)" }
func (p *fakePlugin) Materials() []string {
	return []string{material.KindDiffuse, material.KindGlass, material.KindMixed}
}

func (p *fakePlugin) WriteCamera(name string, cam Camera) (string, error) {
	p.camera = cam
	return "camera " + name + "\n", nil
}

func (p *fakePlugin) WriteObject(name string, obj Object) (string, error) {
	p.objects[name] = obj
	return "object " + name + "\n", nil
}

func (p *fakePlugin) WritePointLight(name string, l PointLight) (string, error) {
	p.point = l
	return "point " + name + "\n", nil
}

func (p *fakePlugin) WriteAreaLight(name string, l AreaLight) (string, error) {
	p.area = l
	return "area " + name + "\n", nil
}

func (p *fakePlugin) WriteSunSkyLight(name string, l SunSkyLight) (string, error) {
	p.sun = l
	return "sunsky " + name + "\n", nil
}

func (p *fakePlugin) WriteImageLight(name string, l ImageLight) (string, error) {
	return "image " + name + "\n", nil
}

func (p *fakePlugin) WriteDistantLight(name string, l DistantLight) (string, error) {
	return "distant " + name + "\n", nil
}

func (p *fakePlugin) Render(req RenderRequest) (Command, error) {
	p.req = req
	if req.Executable == "" {
		return Command{}, ErrNoExecutable
	}
	return Command{Args: []string{req.Executable, req.Input}, Image: DefaultOutput(req.Input)}, nil
}

func box() *scene.MeshData {
	return &scene.MeshData{
		Points: [][3]float64{{0, 0, 0}, {1000, 0, 0}, {1000, 1000, 0}, {0, 1000, 0}},
		Facets: [][3]int{{0, 1, 2}, {0, 2, 3}},
	}
}

func newDoc(t *testing.T, objs ...*scene.Object) *scene.Document {
	t.Helper()
	doc := &scene.Document{Objects: objs}
	if err := doc.Index(); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	return doc
}

func approx(a, b float64) bool { return gomath.Abs(a-b) < 1e-9 }

func TestRegistry(t *testing.T) {
	fake := newFake("RegistryFake")
	Register(fake)
	p, err := Lookup("registryfake")
	if err != nil || p != Plugin(fake) {
		t.Fatalf("Lookup() = %v, %v", p, err)
	}
	var perr *PluginError
	if _, err := Lookup("nope"); !errors.As(err, &perr) || !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Lookup(nope) error = %v", err)
	}
	found := false
	for _, n := range Names() {
		found = found || n == "RegistryFake"
	}
	if !found {
		t.Errorf("Names() = %v, missing RegistryFake", Names())
	}
	defer func() {
		if recover() == nil {
			t.Error("Register() twice did not panic")
		}
	}()
	Register(newFake("registryfake"))
}

func TestHandlerObject(t *testing.T) {
	dir := t.TempDir()
	fake := newFake("Fake")
	h := NewHandlerFor(fake, Options{ProjectDir: dir, ObjectDir: "objects"})

	obj := &scene.Object{
		Name:      "My Box",
		Mesh:      box(),
		Placement: scene.Placement{Base: math.Vec3{X: 2000}},
		Color:     "(1,0,0)",
		Renderer:  map[string]map[string]string{"fake": {"samples": "8"}},
	}
	doc := newDoc(t, obj)
	disney := material.New("Shiny")
	disney.RenderType = material.KindDisney

	text, err := h.RenderingString(context.Background(), doc, View{Object: obj, Material: disney})
	if err != nil {
		t.Fatalf("RenderingString() error = %v", err)
	}
	if text != "object My Box\n" {
		t.Errorf("RenderingString() = %q", text)
	}
	got, ok := fake.objects["My Box"]
	if !ok {
		t.Fatal("plugin did not receive the object")
	}
	if got.Shader.Type != material.KindDiffuse {
		t.Errorf("Shader.Type = %s, want diffuse fallback", got.Shader.Type)
	}
	if got.Params["samples"] != "8" {
		t.Errorf("Params = %v", got.Params)
	}
	if got.OBJFile != "objects/My_Box.obj" {
		t.Errorf("OBJFile = %q", got.OBJFile)
	}
	exported, oname, err := mesh.ReadOBJFile(filepath.Join(dir, "objects", "My_Box.obj"))
	if err != nil {
		t.Fatalf("exported mesh: %v", err)
	}
	if oname != "My_Box" {
		t.Errorf("exported object name = %q, want My_Box", oname)
	}
	// local frame, the placement travels with the object
	if p := exported.Points[1]; !approx(p.X, 1) {
		t.Errorf("exported Points[1] = %v, want x=1", p)
	}
	// metres, placement kept apart
	if p := got.Mesh.Points[1]; !approx(p.X, 1) {
		t.Errorf("Points[1] = %v, want x=1", p)
	}
	if tr := got.Mesh.Placement.Translation(); !approx(tr.X, 2) {
		t.Errorf("placement translation = %v, want x=2", tr)
	}
	if !got.Mesh.HasVNormals() {
		t.Error("mesh has no vertex normals")
	}
	if got.Mesh.HasUVMap() {
		t.Error("untextured mesh has a uv map")
	}

	// reuse the exported mesh
	h = NewHandlerFor(fake, Options{ProjectDir: dir, ObjectDir: "objects", SkipMeshing: true})
	if _, err := h.RenderingString(context.Background(), doc, View{Object: obj}); err != nil {
		t.Fatalf("SkipMeshing: %v", err)
	}
	reused := fake.objects["My Box"]
	if p := reused.Mesh.Points[1]; !approx(p.X, 1) {
		t.Errorf("reused Points[1] = %v, want x=1", p)
	}
	if tr := reused.Mesh.Placement.Translation(); !approx(tr.X, 2) {
		t.Errorf("reused placement translation = %v, want x=2", tr)
	}
	if reused.OBJFile != "objects/My_Box.obj" {
		t.Errorf("reused OBJFile = %q", reused.OBJFile)
	}
}

func TestHandlerSkips(t *testing.T) {
	fake := newFake("Fake")
	odd := &scene.Object{Name: "Odd"}
	empty := &scene.Object{Name: "Empty", Mesh: &scene.MeshData{}}
	doc := newDoc(t, odd, empty)

	tests := []struct {
		name string
		opts Options
		obj  *scene.Object
	}{
		{"unhandled", Options{}, odd},
		{"empty mesh", Options{}, empty},
		{"missing export", Options{ObjectDir: t.TempDir(), SkipMeshing: true}, &scene.Object{Name: "Tri", Mesh: box()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlerFor(fake, tt.opts)
			text, err := h.RenderingString(context.Background(), doc, View{Object: tt.obj})
			if err != nil || text != "" {
				t.Errorf("RenderingString() = %q, %v; want empty", text, err)
			}
		})
	}
}

func TestHandlerLights(t *testing.T) {
	fake := newFake("Fake")
	h := NewHandlerFor(fake, Options{})
	point := &scene.Object{
		Name:       "Bulb",
		Placement:  scene.Placement{Base: math.Vec3{X: 1000, Y: 2000, Z: 3000}},
		PointLight: &scene.PointLight{},
	}
	area := &scene.Object{
		Name:      "Panel",
		Placement: scene.Placement{Base: math.Vec3{Z: 500}},
		AreaLight: &scene.AreaLight{SizeU: 200, SizeV: 100, Power: 10},
	}
	sun := &scene.Object{Name: "Sun", SunSkyLight: &scene.SunSkyLight{Direction: math.Vec3{Z: 1}, Turbidity: 2}}
	bad := &scene.Object{Name: "Bad", SunSkyLight: &scene.SunSkyLight{Turbidity: 2}}
	doc := newDoc(t, point, area, sun, bad)
	ctx := context.Background()

	if text, _ := h.RenderingString(ctx, doc, View{Object: point}); text != "point Bulb\n" {
		t.Errorf("point light = %q", text)
	}
	if p := fake.point.Position; !approx(p.X, 1) || !approx(p.Y, 2) || !approx(p.Z, 3) {
		t.Errorf("Position = %v, want (1,2,3)", p)
	}
	if fake.point.Power != scene.DefaultPointPower || fake.point.Color != (color.Linear{R: 1, G: 1, B: 1}) {
		t.Errorf("point light = %+v", fake.point)
	}

	h.RenderingString(ctx, doc, View{Object: area})
	if !approx(fake.area.SizeU, 0.2) || !approx(fake.area.SizeV, 0.1) || !approx(fake.area.Placement.Base.Z, 0.5) {
		t.Errorf("area light = %+v", fake.area)
	}

	h.RenderingString(ctx, doc, View{Object: sun})
	if fake.sun.Distance != scene.SunDistance*1000 || fake.sun.SunIntensity != 1 {
		t.Errorf("sunsky = %+v", fake.sun)
	}
	if text, err := h.RenderingString(ctx, doc, View{Object: bad}); text != "" || err != nil {
		t.Errorf("invalid sunsky = %q, %v", text, err)
	}
}

func TestHandlerCamera(t *testing.T) {
	fake := newFake("Fake")
	cam := &scene.Object{
		Name:      "Cam",
		Placement: scene.Placement{Base: math.Vec3{Z: 10000}},
		Camera:    &scene.Camera{FOV: 40},
	}
	doc := newDoc(t, cam)

	h := NewHandlerFor(fake, Options{})
	if _, err := h.RenderingString(context.Background(), doc, View{Object: cam}); !errors.Is(err, ErrNoResolution) {
		t.Fatalf("RenderingString() error = %v, want ErrNoResolution", err)
	}

	h = NewHandlerFor(fake, Options{Width: 800, Height: 600})
	text, err := h.RenderingString(context.Background(), doc, View{Object: cam})
	if err != nil || text != "camera Cam\n" {
		t.Fatalf("RenderingString() = %q, %v", text, err)
	}
	c := fake.camera
	if !approx(c.Position.Z, 10) || !approx(c.Target.Z, 9) || !approx(c.Up.Y, 1) {
		t.Errorf("camera vectors = %v %v %v", c.Position, c.Target, c.Up)
	}
	if c.FOV != 40 || c.Width != 800 || !approx(c.AspectRatio(), 4.0/3) {
		t.Errorf("camera = %+v", c)
	}

	if _, err := h.DefaultCameraString(mesh.EmptyBoundBox()); err != nil {
		t.Errorf("DefaultCameraString() error = %v", err)
	}
}

func TestGroundPlaneMesh(t *testing.T) {
	bb := mesh.EmptyBoundBox()
	bb.Add(math.Vec3{})
	bb.Add(math.Vec3{X: 3, Y: 4})
	m := GroundPlaneMesh(bb, -1, 1)
	if len(m.Facets) != 2 {
		t.Fatalf("facets = %d, want 2", len(m.Facets))
	}
	got := m.Bounds()
	if !approx(got.XLength(), 3+5) || !approx(got.YLength(), 4+5) {
		t.Errorf("size = %v x %v, want 8 x 9", got.XLength(), got.YLength())
	}
	if got.Min.Z != -1 || got.Max.Z != -1 {
		t.Errorf("z = %v..%v, want -1", got.Min.Z, got.Max.Z)
	}
	if c := got.Center(); !approx(c.X, 1.5) || !approx(c.Y, 2) {
		t.Errorf("center = %v", c)
	}
	if !GroundPlaneMesh(mesh.EmptyBoundBox(), 0, 1).IsEmpty() {
		t.Error("ground plane of an empty scene is not empty")
	}
}

func TestGroundPlane(t *testing.T) {
	fake := newFake("Fake")
	h := NewHandlerFor(fake, Options{})
	bb := mesh.EmptyBoundBox()
	bb.Add(math.Vec3{})
	bb.Add(math.Vec3{X: 1000, Y: 1000})

	text, err := h.GroundPlane(context.Background(), bb, 0, color.New(0.5, 0.5, 0.5), 1)
	if err != nil || !strings.Contains(text, GroundPlaneName) {
		t.Fatalf("GroundPlane() = %q, %v", text, err)
	}
	obj := fake.objects[GroundPlaneName]
	want := color.ToLinear(0.5, color.Fast)
	if got := obj.Shader.Color("Color"); !approx(got.R, want) {
		t.Errorf("ground color = %+v, want linear %v", got, want)
	}
	if text, _ := h.GroundPlane(context.Background(), mesh.EmptyBoundBox(), 0, color.White, 1); text != "" {
		t.Errorf("GroundPlane(empty) = %q", text)
	}
}

func TestHandlerRender(t *testing.T) {
	fake := newFake("Fake")
	h := NewHandlerFor(fake, Options{Width: 640, Height: 480})
	cmd, err := h.Render(RenderRequest{Executable: "fake", Input: "/tmp/scene.txt"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if cmd.Image != "/tmp/scene.png" || fake.req.Width != 640 {
		t.Errorf("Render() = %+v, request %+v", cmd, fake.req)
	}
	var perr *PluginError
	if _, err := h.Render(RenderRequest{}); !errors.As(err, &perr) || !errors.Is(err, ErrNoExecutable) {
		t.Errorf("Render() error = %v", err)
	}
}
