package ospray

import (
	"encoding/json"
	"errors"
	gomath "math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/renderer"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/math"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

// mustWrite fails the test when a writer returns an error.
func mustWrite(t *testing.T) func(string, error) string {
	return func(s string, err error) string {
		t.Helper()
		if err != nil {
			t.Fatalf("writer error = %v", err)
		}
		return s
	}
}

func TestWriteObject(t *testing.T) {
	dir := t.TempDir()
	m := mesh.New([]math.Vec3{{}, {X: 1}, {Y: 1}}, []mesh.Facet{{0, 1, 2}})
	m.Placement = math.Translate(0, 0, 2)
	shader := material.Default(color.New(1, 0, 0), 0, material.Options{})
	obj := renderer.Object{Mesh: m, Shader: shader, OBJFile: "Scene_objects/My_Tri.obj", Dir: dir}

	text, err := Plugin{}.WriteObject("My Tri", obj)
	if err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}
	var n struct {
		Type     string `json:"type"`
		Filename string `json:"filename"`
		Children []struct {
			Type  string `json:"type"`
			Value affine `json:"value"`
		} `json:"children"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSuffix(text, ",\n")), &n); err != nil {
		t.Fatalf("fragment is not json: %v\n%s", err, text)
	}
	if n.Type != "IMPORTER" || n.Filename != filepath.ToSlash(filepath.Join(dir, "My_Tri.obj")) {
		t.Errorf("fragment = %+v", n)
	}
	if len(n.Children) != 1 || n.Children[0].Type != "TRANSFORM" {
		t.Fatalf("children = %+v", n.Children)
	}
	// z up becomes y up: (0,0,2) -> (0,2,0)
	xfm := n.Children[0].Value
	if xfm.Affine != [3]float64{0, 2, 0} {
		t.Errorf("affine = %v, want [0 2 0]", xfm.Affine)
	}
	if xfm.Linear.Y != [3]float64{0, 0, -1} || xfm.Linear.Z != [3]float64{0, 1, 0} {
		t.Errorf("linear = %+v", xfm.Linear)
	}

	mtl, err := os.ReadFile(filepath.Join(dir, "My_Tri.mtl"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"newmtl material", "type principled", "baseColor 1 0 0", "diffuse 1"} {
		if !strings.Contains(string(mtl), want) {
			t.Errorf("mtl missing %q:\n%s", want, mtl)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "My_Tri.obj")); !os.IsNotExist(err) {
		t.Error("WriteObject() wrote its own mesh")
	}

	opts := Plugin{}.OBJOptions("My Tri")
	if opts.MtlLib != "My_Tri.mtl" || opts.MtlName != "material" || opts.Name != "My_Tri" {
		t.Errorf("OBJOptions() = %+v", opts)
	}

	if _, err := (Plugin{}).WriteObject("My Tri", renderer.Object{Mesh: m, Shader: shader, Dir: dir}); !errors.Is(err, renderer.ErrNoObjectDir) {
		t.Errorf("WriteObject() without exported mesh error = %v", err)
	}
}

func TestNonFiniteValues(t *testing.T) {
	p := Plugin{}
	nan := gomath.NaN()
	bad := mesh.New([]math.Vec3{{}, {X: 1}, {Y: 1}}, []mesh.Facet{{0, 1, 2}})
	bad.Placement = math.Translate(nan, 0, 0)
	shader := material.Default(color.New(1, 1, 1), 0, material.Options{})

	tests := []struct {
		name  string
		write func() (string, error)
	}{
		{"camera", func() (string, error) {
			return p.WriteCamera("Cam", renderer.Camera{FOV: nan, Rotation: math.QuatIdentity()})
		}},
		{"object", func() (string, error) {
			return p.WriteObject("Obj", renderer.Object{Mesh: bad, Shader: shader, OBJFile: "o/Obj.obj", Dir: t.TempDir()})
		}},
		{"point light", func() (string, error) {
			return p.WritePointLight("Bulb", renderer.PointLight{Power: gomath.Inf(1)})
		}},
		{"distant light", func() (string, error) {
			return p.WriteDistantLight("Dir", renderer.DistantLight{Direction: math.Vec3{Z: 1}, Angle: nan})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := tt.write()
			if err == nil {
				t.Errorf("write = %q, want an error", text)
			}
		})
	}
}

func TestWriteMaterial(t *testing.T) {
	mixed := material.Default(color.New(1, 1, 1), 25, material.Options{})
	disney := &material.Shader{
		Type: material.KindDisney,
		Params: []material.Resolved{
			{Name: "BaseColor", Type: material.TypeRGB, Texture: &material.RenderTexture{Name: "T", File: "/t.png", Scale: 2}},
			{Name: "Subsurface", Type: material.TypeFloat, Float: 0.5},
			{Name: "ClearcoatGloss", Type: material.TypeFloat, Float: 0.25},
		},
	}
	fallback := &material.Shader{Type: material.KindSubstancePBR, DefaultColor: color.Linear{R: 0.5, G: 0.5, B: 0.5}}
	tests := []struct {
		name   string
		shader *material.Shader
		want   []string
		absent []string
	}{
		{"mixed", mixed, []string{"transmission 0.25", "opacity 0.75", "ior 1.5", "transmissionColor 1 1 1"}, nil},
		{"disney", disney, []string{
			"baseColor 1 1 1",
			"map_baseColor /t.png",
			"map_baseColor.scale 2 2",
			"coatRoughness 0.75",
		}, []string{"subsurface"}},
		{"fallback", fallback, []string{"type obj", "kd 0.5 0.5 0.5", "ns 2"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := writeMaterial("M", tt.shader)
			for _, want := range tt.want {
				if !strings.Contains(text, want) {
					t.Errorf("material missing %q in\n%s", want, text)
				}
			}
			for _, bad := range tt.absent {
				if strings.Contains(text, bad) {
					t.Errorf("material holds %q:\n%s", bad, text)
				}
			}
		})
	}
}

func TestWriteCamera(t *testing.T) {
	text, err := Plugin{}.WriteCamera("Cam", renderer.Camera{
		Position: math.Vec3{X: 1, Y: 2, Z: 3},
		Rotation: math.QuatIdentity(),
		FOV:      50,
		Width:    200,
		Height:   100,
	})
	if err != nil {
		t.Fatalf("WriteCamera() error = %v", err)
	}
	if !strings.HasPrefix(text, `"camera": `) {
		t.Fatalf("WriteCamera() = %s", text)
	}
	var c cameraNode
	body := strings.TrimSuffix(strings.TrimPrefix(text, `"camera": `), ",\n")
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		t.Fatalf("camera is not json: %v", err)
	}
	if c.CameraToWorld.Affine != [3]float64{1, 3, -2} {
		t.Errorf("affine = %v, want [1 3 -2]", c.CameraToWorld.Affine)
	}
	if c.CameraToWorld.Linear.Y != [3]float64{0, 0, -1} || c.CameraToWorld.Linear.Z != [3]float64{0, 1, 0} {
		t.Errorf("linear = %+v", c.CameraToWorld.Linear)
	}
	if len(c.Children) != 2 || c.Children[0].Name != "fovy" || c.Children[0].Value != 50.0 {
		t.Errorf("children = %+v", c.Children)
	}
}

func TestWriteLights(t *testing.T) {
	dir := t.TempDir()
	p := Plugin{}

	sun := mustWrite(t)(p.WriteSunSkyLight("Sun", renderer.SunSkyLight{Direction: math.Vec3{Z: 1}, Turbidity: 2, SunIntensity: 1}))
	if !strings.Contains(sun, `"subType": "sunSky"`) || !strings.Contains(sun, `"value": 90`) {
		t.Errorf("sunsky light:\n%s", sun)
	}

	if _, err := p.WriteAreaLight("Panel", renderer.AreaLight{
		Placement: math.IdentityPlacement(),
		SizeU:     2,
		SizeV:     0.5,
		Power:     1000,
		Dir:       dir,
	}); err != nil {
		t.Fatalf("WriteAreaLight() error = %v", err)
	}
	mtl, _ := os.ReadFile(filepath.Join(dir, "Panel_osp.mtl"))
	if !strings.Contains(string(mtl), "type luminous") || !strings.Contains(string(mtl), "intensity 1\n") {
		t.Errorf("area light mtl:\n%s", mtl)
	}

	if _, err := p.WriteImageLight("Env", renderer.ImageLight{Image: filepath.Join(dir, "hdr", "env.hdr"), Dir: dir}); err != nil {
		t.Fatalf("WriteImageLight() error = %v", err)
	}
	var g gltfBackground
	data, _ := os.ReadFile(filepath.Join(dir, "Env_osp.gltf"))
	if err := json.Unmarshal(data, &g); err != nil {
		t.Fatalf("gltf: %v", err)
	}
	if g.Extensions.Background.URI != "hdr/env.hdr" {
		t.Errorf("background uri = %s", g.Extensions.Background.URI)
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ospray_scene.sg")
	p := Plugin{}
	must := mustWrite(t)
	template := `{
  "world": {
    "name": "world",
    "type": "GENERATOR",
    "children": [
` + must(p.WriteCamera("A", renderer.Camera{FOV: 30, Rotation: math.QuatIdentity()})) +
		must(p.WritePointLight("Bulb", renderer.PointLight{Power: 60})) +
		must(p.WriteCamera("B", renderer.Camera{FOV: 60, Rotation: math.QuatIdentity()})) + `
    ]
  },
  "lightsManager": {"name": "lights", "type": "LIGHTS", "children": [{"name": "ambient", "type": "LIGHT"}]}
}`
	if err := os.WriteFile(input, []byte(template), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "ospray_scene.0000.png")
	os.WriteFile(stale, nil, 0o644)

	cmd, err := p.Render(renderer.RenderRequest{Executable: "ospStudio", Input: input})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if cmd.Image != stale {
		t.Errorf("Image = %s, want %s", cmd.Image, stale)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale output not removed")
	}
	want := []string{"ospStudio", "--image", filepath.Join(dir, "ospray_scene"), input}
	if strings.Join(cmd.Args, "|") != strings.Join(want, "|") {
		t.Errorf("Args = %q, want %q", cmd.Args, want)
	}

	data, err := os.ReadFile(input)
	if err != nil {
		t.Fatal(err)
	}
	var root struct {
		Camera node `json:"camera"`
		World  struct {
			Children []node `json:"children"`
		} `json:"world"`
		LightsManager struct {
			Children []node `json:"children"`
		} `json:"lightsManager"`
	}
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatalf("rewritten scene is not json: %v\n%s", err, data)
	}
	if root.Camera.Name != "B" {
		t.Errorf("root camera = %q, want B", root.Camera.Name)
	}
	if len(root.World.Children) != 0 {
		t.Errorf("world children = %+v", root.World.Children)
	}
	if len(root.LightsManager.Children) != 2 || root.LightsManager.Children[1].Name != "Bulb" {
		t.Errorf("lights manager = %+v", root.LightsManager.Children)
	}
}
