// Package pbrt writes scenes for pbrt-v4.
//
// Coordinates are kept in the scene frame (z up); the camera block mirrors
// x to match pbrt's left-handed convention. Meshes are written inline.
package pbrt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/renderer"
	"github.com/Faultbox/raybridge/internal/scene"
	"github.com/Faultbox/raybridge/pkg/math"
)

func init() {
	renderer.Register(Plugin{})
}

// Plugin is the pbrt-v4 renderer plugin.
type Plugin struct{}

func (Plugin) Name() string { return "Pbrt" }

func (Plugin) TemplateFilter() string { return "Pbrt templates (pbrt_*.pbrt)" }

// Materials lists the supported shaders. pbrt-v4 dropped the Disney
// material.
func (Plugin) Materials() []string {
	return []string{
		material.KindGlass,
		material.KindDiffuse,
		material.KindMixed,
		material.KindCarpaint,
		material.KindEmission,
	}
}

func (Plugin) WriteCamera(name string, cam renderer.Camera) (string, error) {
	var proj string
	if cam.Projection == scene.Orthographic {
		h := cam.OrthoHeight / 2
		w := h * cam.AspectRatio()
		proj = fmt.Sprintf(`Camera "orthographic" "float screenwindow" [%s %s %s %s]`, renderer.F(-w), renderer.F(w), renderer.F(-h), renderer.F(h))
	} else {
		proj = fmt.Sprintf(`Camera "perspective" "float fov" %s`, renderer.F(cam.FOV))
	}
	return fmt.Sprintf(`# Camera '%[1]s'
Scale -1 1 1
LookAt %[2]s
       %[3]s
       %[4]s
%[5]s
# ~Camera '%[1]s'
`, name, renderer.V(cam.Position), renderer.V(cam.Target), renderer.V(cam.Up), proj), nil
}

func (Plugin) WriteObject(name string, obj renderer.Object) (string, error) {
	m := renderer.WorldMesh(obj.Mesh)
	w := &matWriter{obj: name}
	mat := w.material(obj.Shader)

	var b strings.Builder
	fmt.Fprintf(&b, "# Object '%s'\nAttributeBegin\n", name)
	b.WriteString(w.textures.String())
	b.WriteString(mat)
	b.WriteString("  Shape \"trianglemesh\"\n    \"point3 P\" [")
	for i, p := range m.Points {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(renderer.V(p))
	}
	b.WriteString("]\n    \"integer indices\" [")
	for i, f := range m.Facets {
		if i > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%d %d %d", f[0], f[1], f[2])
	}
	b.WriteString("]\n")
	if m.HasUVMap() {
		b.WriteString("    \"point2 uv\" [")
		for i, uv := range m.UVMap {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(renderer.F(uv.X) + " " + renderer.F(uv.Y))
		}
		b.WriteString("]\n")
	}
	if m.HasVNormals() {
		b.WriteString("    \"normal N\" [")
		for i, n := range m.VNormals {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(renderer.V(n))
		}
		b.WriteString("]\n")
	}
	fmt.Fprintf(&b, "AttributeEnd\n# ~Object '%s'\n", name)
	return b.String(), nil
}

func (Plugin) WritePointLight(name string, l renderer.PointLight) (string, error) {
	return fmt.Sprintf(`# Pointlight '%[1]s'
AttributeBegin
  LightSource "point"
    "rgb I" [%[2]s]
    "point3 from" [%[3]s]
    "float scale" [%[4]s]
AttributeEnd
# ~Pointlight '%[1]s'
`, name, renderer.C(l.Color), renderer.V(l.Position), renderer.F(l.Power)), nil
}

func (Plugin) WriteAreaLight(name string, l renderer.AreaLight) (string, error) {
	u, v := l.SizeU/2, l.SizeV/2
	corners := []math.Vec3{{X: -u, Y: -v}, {X: u, Y: -v}, {X: u, Y: v}, {X: -u, Y: v}}
	pts := make([]string, len(corners))
	for i, c := range corners {
		pts[i] = renderer.V(l.Placement.MultVec(c))
	}
	return fmt.Sprintf(`# Arealight '%[1]s'
AttributeBegin
  AreaLightSource "diffuse"
    "rgb L" [%[2]s]
    "bool twosided" true
    "float scale" [%[3]s]
  Shape "trianglemesh"
    "integer indices" [0 1 2  0 2 3]
    "point3 P" [%[4]s]
AttributeEnd
# ~Arealight '%[1]s'
`, name, renderer.C(l.Color), renderer.F(l.Power*100), strings.Join(pts, "  ")), nil
}

// WriteSunSkyLight approximates sun and sky with a bluish infinite light
// and a 6500K distant light; pbrt has no analytic sky model.
func (Plugin) WriteSunSkyLight(name string, l renderer.SunSkyLight) (string, error) {
	return fmt.Sprintf(`# Sun-sky light '%[1]s'
AttributeBegin
  LightSource "infinite"
    "rgb L" [0.53 0.81 0.92]
    "float scale" %[2]s
  LightSource "distant"
    "blackbody L" [6500]
    "float scale" %[3]s
    "point3 from" [0 0 0]
    "point3 to" [%[4]s]
AttributeEnd
# ~Sun-sky light '%[1]s'
`, name, renderer.F(0.5*l.SkyIntensity), renderer.F(4*l.SunIntensity), renderer.V(l.Direction.Scale(-1))), nil
}

// WriteImageLight writes an infinite light; pbrt wants square
// equal-area images.
func (Plugin) WriteImageLight(name string, l renderer.ImageLight) (string, error) {
	return fmt.Sprintf(`# Imagelight '%[1]s'
AttributeBegin
  LightSource "infinite" "string filename" "%[2]s"
AttributeEnd
# ~Imagelight '%[1]s'
`, name, l.Image), nil
}

func (Plugin) WriteDistantLight(name string, l renderer.DistantLight) (string, error) {
	return fmt.Sprintf(`# Distantlight '%[1]s'
AttributeBegin
  LightSource "distant"
    "rgb L" [%[2]s]
    "float scale" %[3]s
    "point3 from" [0 0 0]
    "point3 to" [%[4]s]
AttributeEnd
# ~Distantlight '%[1]s'
`, name, renderer.C(l.Color), renderer.F(l.Power), renderer.V(l.Direction.Scale(-1))), nil
}

// matWriter collects the texture blocks a material refers to.
type matWriter struct {
	obj      string
	textures strings.Builder
}

// fields maps shader parameters to pbrt parameter names.
var fields = map[string]string{
	"Diffuse.Color":      "reflectance",
	"Glass.IOR":          "eta",
	"Carpaint.BaseColor": "reflectance",
}

func (w *matWriter) material(s *material.Shader) string {
	switch s.Type {
	case material.KindPassthrough:
		return "  # Passthrough\n" + s.PassthroughText(w.obj) + "\n"
	case material.KindGlass:
		return fmt.Sprintf("  # Material '%s'\n  Material \"dielectric\"\n%s", w.obj, w.value(s, "IOR"))
	case material.KindDiffuse:
		return fmt.Sprintf("  # Material '%s'\n  Material \"diffuse\"\n%s", w.obj, w.value(s, "Color"))
	case material.KindCarpaint:
		return fmt.Sprintf(`  # Material '%s'
  Material "coateddiffuse"
%s    "float roughness" [ 0 ]
    "float eta" [ 1.54 ]
`, w.obj, w.value(s, "BaseColor"))
	case material.KindMixed:
		diffuse, glass := s.Sub(material.KindDiffuse), s.Sub(material.KindGlass)
		return fmt.Sprintf(`  # Material '%[1]s'
  MakeNamedMaterial "%[1]s_1"
    "string type" "diffuse"
    "rgb reflectance" [%[2]s]
  MakeNamedMaterial "%[1]s_2"
    "string type" "dielectric"
    "float eta" %[3]s
  Material "mix"
    "string materials" ["%[1]s_1" "%[1]s_2"]
    "float amount" %[4]s
`, w.obj, renderer.C(diffuse.Color("Color")), renderer.F(glass.Float("IOR")), renderer.F(s.Float("Transparency")))
	case material.KindEmission:
		return fmt.Sprintf(`  # Material '%[1]s'
  AreaLightSource "diffuse"
    "rgb L" [%[2]s]
    "float scale" [%[3]s]
  Material "diffuse"
    "rgb reflectance" [%[2]s]
`, w.obj, renderer.C(s.Color("Color")), renderer.F(s.Float("Power")))
	}
	c := s.DefaultColor
	return fmt.Sprintf("  # Material '%s' -- fallback\n  Material \"diffuse\"\n    \"rgb reflectance\" [%s]\n", w.obj, renderer.C(c))
}

// value writes parameter param of s, declaring its texture if needed.
func (w *matWriter) value(s *material.Shader, param string) string {
	r, ok := s.Get(param)
	if !ok {
		return ""
	}
	field, ok := fields[s.Type+"."+param]
	if !ok {
		field = strings.ToLower(param)
	}
	if r.IsTexture() {
		if field == "eta" {
			return fmt.Sprintf("    # no texture support for eta\n    \"float eta\" %s\n", renderer.F(r.Float))
		}
		return fmt.Sprintf("    \"texture %s\" \"%s\"\n", field, w.texture(r))
	}
	if r.Type == material.TypeRGB {
		return fmt.Sprintf("    \"rgb %s\" [%s]\n", field, renderer.C(r.Color))
	}
	return fmt.Sprintf("    \"float %s\" %s\n", field, renderer.F(r.Float))
}

func (w *matWriter) texture(r material.Resolved) string {
	t := r.Texture
	name := fmt.Sprintf("%s_%s_%s", w.obj, t.Name, t.Subname)
	scale := 1.0
	if t.Scale != 0 {
		scale = 1 / t.Scale
	}
	typ, enc := "float", "linear"
	if r.Type == material.TypeRGB {
		typ, enc = "spectrum", "sRGB"
	}
	fmt.Fprintf(&w.textures, `  Texture "%s" "%s" "imagemap"
    "string filename" "%s"
    "string mapping" "uv"
    "string encoding" "%s"
    "float uscale" %s
    "float vscale" %s
    "float udelta" %s
    "float vdelta" %s
`, name, typ, t.File, enc, renderer.F(scale), renderer.F(scale), renderer.F(t.TranslateU), renderer.F(t.TranslateV))
	return name
}

var cameraBlock = regexp.MustCompile(`(?m)# Camera[\s\S]*?# ~Camera.*$`)

// Render keeps the last camera at the top of the scene file, expands the
// frame size macros and runs pbrt with --outfile.
func (Plugin) Render(req renderer.RenderRequest) (renderer.Command, error) {
	if req.Executable == "" {
		return renderer.Command{}, renderer.ErrNoExecutable
	}
	err := renderer.RewriteFile(req.Input, func(text string) (string, error) {
		rest, cam, ok := renderer.KeepLastBlock(text, cameraBlock)
		if !ok {
			return "", renderer.ErrNoCamera
		}
		return renderer.ExpandMacros(cam+"\n"+rest, req.Width, req.Height), nil
	})
	if err != nil {
		return renderer.Command{}, err
	}

	output := req.Output
	if output == "" {
		output = renderer.DefaultOutput(req.Input)
	}
	args := []string{"--outfile", output}
	if req.Width > 0 && req.Height > 0 {
		args = append(args, "-w", strconv.Itoa(req.Width), "-h", strconv.Itoa(req.Height))
	}
	if req.Spp > 0 {
		args = append(args, "--spp", strconv.Itoa(req.Spp))
	}
	args = append(args, req.Input)
	cmd, err := renderer.BuildCommand(req.Prefix, req.Executable, req.Parameters, args...)
	if err != nil {
		return renderer.Command{}, err
	}
	return renderer.Command{Args: cmd, Image: output}, nil
}
