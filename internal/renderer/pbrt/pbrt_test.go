package pbrt

import (
	"errors"
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

func triangle() *mesh.Mesh {
	m := mesh.New([]math.Vec3{{}, {X: 1}, {Y: 1}}, []mesh.Facet{{0, 1, 2}})
	m.Placement = math.Translate(0, 0, 2)
	return m
}

func TestRegistered(t *testing.T) {
	p, err := renderer.Lookup("pbrt")
	if err != nil || p.Name() != "Pbrt" {
		t.Fatalf("Lookup(pbrt) = %v, %v", p, err)
	}
}

func TestWriteObject(t *testing.T) {
	shader := material.Default(color.New(1, 0, 0), 0, material.Options{})
	text, err := Plugin{}.WriteObject("Tri", renderer.Object{Mesh: triangle(), Shader: shader})
	if err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}
	for _, want := range []string{
		"# Object 'Tri'",
		`Material "diffuse"`,
		`"rgb reflectance" [1 0 0]`,
		`"point3 P" [0 0 2  1 0 2  0 1 2]`,
		`"integer indices" [0 1 2]`,
		"# ~Object 'Tri'",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("WriteObject() missing %q in\n%s", want, text)
		}
	}
	if strings.Contains(text, "point2 uv") {
		t.Error("WriteObject() wrote uvs for a mesh without uv map")
	}
}

func TestWriteMaterials(t *testing.T) {
	glass := material.Default(color.New(1, 1, 1), 100, material.Options{})
	mixed := material.Default(color.New(1, 1, 1), 50, material.Options{})
	disney := &material.Shader{Type: material.KindDisney, DefaultColor: color.Linear{R: 0.5, G: 0.5, B: 0.5}}
	textured := &material.Shader{
		Type: material.KindDiffuse,
		Params: []material.Resolved{{
			Name:    "Color",
			Type:    material.TypeRGB,
			Texture: &material.RenderTexture{Name: "Wood", Subname: "Color", File: "/tex/wood.png", Scale: 2},
		}},
	}
	tests := []struct {
		name   string
		shader *material.Shader
		want   []string
	}{
		{"glass", glass, []string{`Material "dielectric"`, `"float eta" 1.5`}},
		{"mixed", mixed, []string{`MakeNamedMaterial "M_1"`, `Material "mix"`, `"float amount" 0.5`}},
		{"fallback", disney, []string{"fallback", `"rgb reflectance" [0.5 0.5 0.5]`}},
		{"texture", textured, []string{
			`Texture "M_Wood_Color" "spectrum" "imagemap"`,
			`"string filename" "/tex/wood.png"`,
			`"float uscale" 0.5`,
			`"texture reflectance" "M_Wood_Color"`,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &matWriter{obj: "M"}
			mat := w.material(tt.shader)
			text := w.textures.String() + mat
			for _, want := range tt.want {
				if !strings.Contains(text, want) {
					t.Errorf("material missing %q in\n%s", want, text)
				}
			}
		})
	}
}

func TestWriteCamera(t *testing.T) {
	must := mustWrite(t)
	cam := renderer.Camera{
		Position: math.Vec3{Z: 10},
		Target:   math.Vec3{Z: 9},
		Up:       math.Vec3{Y: 1},
		FOV:      45,
	}
	text := must(Plugin{}.WriteCamera("Cam", cam))
	want := "# Camera 'Cam'\nScale -1 1 1\nLookAt 0 0 10\n       0 0 9\n       0 1 0\nCamera \"perspective\" \"float fov\" 45\n# ~Camera 'Cam'\n"
	if text != want {
		t.Errorf("WriteCamera() =\n%s\nwant\n%s", text, want)
	}
}

func TestWriteLights(t *testing.T) {
	must := mustWrite(t)
	p := Plugin{}
	area, _ := p.WriteAreaLight("A", renderer.AreaLight{Placement: math.IdentityPlacement(), SizeU: 2, SizeV: 2, Power: 1})
	image, _ := p.WriteImageLight("I", renderer.ImageLight{Image: "/env.exr"})
	tests := []struct {
		name string
		text string
		want string
	}{
		{"point", must(p.WritePointLight("L", renderer.PointLight{Position: math.Vec3{X: 1}, Color: color.Linear{R: 1, G: 1, B: 1}, Power: 60})), `"float scale" [60]`},
		{"area", area, `"point3 P" [-1 -1 0  1 -1 0  1 1 0  -1 1 0]`},
		{"sunsky", must(p.WriteSunSkyLight("S", renderer.SunSkyLight{Direction: math.Vec3{Z: 1}, SunIntensity: 1, SkyIntensity: 1})), `"point3 to" [0 0 -1]`},
		{"image", image, `"string filename" "/env.exr"`},
		{"distant", must(p.WriteDistantLight("D", renderer.DistantLight{Direction: math.Vec3{X: 1}, Power: 3})), `"float scale" 3`},
	}
	for _, tt := range tests {
		if !strings.Contains(tt.text, tt.want) {
			t.Errorf("%s: missing %q in\n%s", tt.name, tt.want, tt.text)
		}
	}
}

func TestRender(t *testing.T) {
	must := mustWrite(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "scene.pbrt")
	scene := "Film \"rgb\" \"integer xresolution\" @@WIDTH@@\n" +
		must(Plugin{}.WriteCamera("A", renderer.Camera{FOV: 30})) +
		"WorldBegin\n" +
		must(Plugin{}.WriteCamera("B", renderer.Camera{FOV: 60}))
	if err := os.WriteFile(input, []byte(scene), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd, err := Plugin{}.Render(renderer.RenderRequest{
		Executable: "pbrt",
		Input:      input,
		Width:      800,
		Height:     600,
		Spp:        16,
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := []string{"pbrt", "--outfile", filepath.Join(dir, "scene.png"), "-w", "800", "-h", "600", "--spp", "16", input}
	if strings.Join(cmd.Args, "|") != strings.Join(want, "|") {
		t.Errorf("Args = %q, want %q", cmd.Args, want)
	}

	data, _ := os.ReadFile(input)
	out := string(data)
	if !strings.HasPrefix(out, "# Camera 'B'") {
		t.Errorf("scene does not start with the last camera:\n%s", out)
	}
	if strings.Contains(out, "Camera 'A'") || !strings.Contains(out, "xresolution\" 800") {
		t.Errorf("scene not post-processed:\n%s", out)
	}

	os.WriteFile(input, []byte("WorldBegin\n"), 0o644)
	if _, err := (Plugin{}).Render(renderer.RenderRequest{Executable: "pbrt", Input: input}); !errors.Is(err, renderer.ErrNoCamera) {
		t.Errorf("Render() without camera error = %v", err)
	}
}
