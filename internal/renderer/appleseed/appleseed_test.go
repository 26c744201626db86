package appleseed

import (
	"errors"
	gomath "math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
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
	m := mesh.New([]math.Vec3{{}, {X: 1}, {Y: 1}}, []mesh.Facet{{0, 1, 2}})
	m.Placement = math.Translate(2, 1, 0)
	shader := material.Default(color.New(1, 1, 1), 50, material.Options{})
	obj := renderer.Object{Mesh: m, Shader: shader, OBJFile: "Scene_objects/Tri.obj", Dir: t.TempDir()}

	text, err := Plugin{}.WriteObject("Tri", obj)
	if err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}
	for _, want := range []string{
		`<bsdf name="Tri.`,
		`model="bsdf_blend"`,
		`_glass_bsdf" model="glass_bsdf"`,
		`<parameter name="weight" value="0.5" />`,
		`<object name="Tri" model="mesh_object">`,
		`<parameter name="filename" value="Scene_objects/Tri.obj" />`,
		`<object_instance name="Tri.instance" object="Tri.Tri">`,
		`side="back"`,
		// (2,1,0) in scene coordinates is (2,0,-1) in appleseed
		"1 0 0 2\n",
		"0 -1 0 -1\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("WriteObject() missing %q in\n%s", want, text)
		}
	}
	if files, _ := os.ReadDir(obj.Dir); len(files) != 0 {
		t.Errorf("WriteObject() wrote %d files, want the exported mesh reused", len(files))
	}

	// material names are unique per object
	again, _ := Plugin{}.WriteObject("Tri", obj)
	if again == text {
		t.Error("two exports share a material name")
	}

	if _, err := (Plugin{}).WriteObject("Tri", renderer.Object{Mesh: m, Shader: shader}); !errors.Is(err, renderer.ErrNoObjectDir) {
		t.Errorf("WriteObject() without exported mesh error = %v", err)
	}
}

func TestWriteLights(t *testing.T) {
	must := mustWrite(t)
	p := Plugin{}
	area, err := p.WriteAreaLight("Panel", renderer.AreaLight{
		Placement: math.Placement{Base: math.Vec3{Z: 2}, Rotation: math.QuatIdentity()},
		SizeU:     2,
		SizeV:     1,
		Power:     200,
	})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"point", must(p.WritePointLight("Bulb", renderer.PointLight{Position: math.Vec3{Y: 1}, Power: 10})),
			[]string{`<translation value="0 0 -1" />`, `<parameter name="intensity_multiplier" value="30" />`}},
		{"area", area, []string{
			`<parameter name="radiance_multiplier" value="1" />`,
			`model="rectangle_object"`,
			"1 0 0 0\n",
			"0 1 0 2\n",
		}},
		{"sunsky", must(p.WriteSunSkyLight("Sun", renderer.SunSkyLight{Direction: math.Vec3{Z: 1}, Turbidity: 2})),
			[]string{`<parameter name="sun_theta" value="0" />`, `model="hosek_environment_edf"`, `model="sun_light"`}},
		{"distant", must(p.WriteDistantLight("Dir", renderer.DistantLight{Direction: math.Vec3{X: 1}, Power: 2})),
			[]string{`target="-1 0 0"`, `model="directional_light"`}},
	}
	for _, tt := range tests {
		for _, want := range tt.want {
			if !strings.Contains(tt.text, want) {
				t.Errorf("%s: missing %q in\n%s", tt.name, want, tt.text)
			}
		}
	}
}

func TestWriteCamera(t *testing.T) {
	must := mustWrite(t)
	text := must(Plugin{}.WriteCamera("Cam", renderer.Camera{
		Position: math.Vec3{Y: -10},
		Up:       math.Vec3{Z: 1},
		FOV:      90,
		Width:    100,
		Height:   100,
	}))
	for _, want := range []string{
		`<camera name="Cam" model="pinhole_camera">`,
		`<parameter name="aspect_ratio" value="@@ASPECT_RATIO@@" />`,
		`origin="0 0 10" target="0 0 0" up="0 1 0"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("WriteCamera() missing %q in\n%s", want, text)
		}
	}
	m := regexp.MustCompile(`"horizontal_fov" value="([^"]+)"`).FindStringSubmatch(text)
	if m == nil {
		t.Fatalf("no horizontal_fov in\n%s", text)
	}
	if fov, _ := strconv.ParseFloat(m[1], 64); gomath.Abs(fov-90) > 1e-9 {
		t.Errorf("horizontal_fov = %s, want 90 for a square frame", m[1])
	}
}

func TestRender(t *testing.T) {
	must := mustWrite(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "appleseed_scene.appleseed")
	p := Plugin{}
	env, _ := p.WriteImageLight("Env", renderer.ImageLight{Image: "/hdr/sky.hdr"})
	project := `<project format_revision="28">
    <search_paths>
    </search_paths>
    <scene>
        <assembly name="assembly">
` + must(p.WriteCamera("A", renderer.Camera{FOV: 40, Up: math.Vec3{Z: 1}})) +
		must(p.WriteCamera("B", renderer.Camera{FOV: 40, Up: math.Vec3{Z: 1}})) + env + `        </assembly>
    </scene>
    <output>
        <frame name="beauty">
            <parameter name="camera" value="camera" />
            <parameter name="resolution" value="640 480" />
        </frame>
    </output>
</project>
`
	if err := os.WriteFile(input, []byte(project), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd, err := p.Render(renderer.RenderRequest{Executable: "appleseed.cli", Input: input, Batch: true, Width: 200, Height: 100})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := filepath.Join(dir, "appleseed_scene.png")
	want := []string{"appleseed.cli", "--output", out, input}
	if strings.Join(cmd.Args, "|") != strings.Join(want, "|") || cmd.Image != out {
		t.Errorf("Render() = %q, %s", cmd.Args, cmd.Image)
	}

	data, _ := os.ReadFile(input)
	text := string(data)
	for _, want := range []string{
		`<parameter name="camera" value="B" />`,
		`<parameter name="resolution" value="200 100" />`,
		`<parameter name="aspect_ratio" value="2" />`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("scene missing %q:\n%s", want, text)
		}
	}
	scene := text[strings.Index(text, "<scene>"):strings.Index(text, "<assembly")]
	for _, want := range []string{`<camera name="A"`, `<camera name="B"`, `<environment name="Env_env"`, `<texture name="Env_tex"`} {
		if !strings.Contains(scene, want) {
			t.Errorf("%s not moved to the scene element:\n%s", want, text)
		}
	}

	cmd, err = p.Render(renderer.RenderRequest{Executable: "appleseed.studio", Input: input})
	if err != nil || cmd.Image != "" || len(cmd.Args) != 2 {
		t.Errorf("studio Render() = %+v, %v", cmd, err)
	}
}
