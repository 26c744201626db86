// Package luxcore writes scenes for LuxCoreRender.
//
// Templates hold a [Configuration] and a [Scene] section; Render splits
// them into the .cfg and .scn files luxcoreconsole expects. Coordinates
// stay in the scene frame (z up). Matrices are column-major.
package luxcore

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/renderer"
	"github.com/Faultbox/raybridge/internal/scene"
)

func init() {
	renderer.Register(Plugin{})
}

const (
	// efficiency is the lm/W ratio of an incandescent bulb.
	efficiency = 15
	pointGain  = 10
	areaGain   = 0.001
)

// Plugin is the LuxCore renderer plugin.
type Plugin struct{}

func (Plugin) Name() string { return "Luxcore" }

func (Plugin) TemplateFilter() string { return "Luxcore templates (luxcore_*.cfg)" }

func (Plugin) Materials() []string {
	return []string{
		material.KindGlass,
		material.KindDisney,
		material.KindDiffuse,
		material.KindMixed,
		material.KindCarpaint,
		material.KindEmission,
	}
}

// props accumulates "key = value" lines under a common prefix.
type props struct {
	b strings.Builder
}

func (p *props) comment(format string, args ...any) {
	fmt.Fprintf(&p.b, "# "+format+"\n", args...)
}

func (p *props) set(key, value string) {
	p.b.WriteString(key)
	p.b.WriteString(" = ")
	p.b.WriteString(value)
	p.b.WriteByte('\n')
}

func (p *props) String() string { return p.b.String() }

func (Plugin) WriteCamera(name string, cam renderer.Camera) (string, error) {
	var p props
	p.comment("Camera '%s'", name)
	if cam.Projection == scene.Orthographic {
		h := cam.OrthoHeight / 2
		w := h * cam.AspectRatio()
		p.set("scene.camera.type", "orthographic")
		p.set("scene.camera.screenwindow", strings.Join([]string{renderer.F(-w), renderer.F(w), renderer.F(-h), renderer.F(h)}, " "))
	} else {
		p.set("scene.camera.type", "perspective")
		p.set("scene.camera.fieldofview", renderer.F(cam.FOV))
	}
	p.set("scene.camera.lookat.orig", renderer.V(cam.Position))
	p.set("scene.camera.lookat.target", renderer.V(cam.Target))
	p.set("scene.camera.up", renderer.V(cam.Up))
	return p.String(), nil
}

func (Plugin) WriteObject(name string, obj renderer.Object) (string, error) {
	id := renderer.Identifier(name)
	m := obj.Mesh
	key := "scene.objects." + id

	var p props
	p.comment("Object '%s'", name)
	w := &matWriter{p: &p, obj: id}
	w.material(id, obj.Shader)

	pts := make([]string, len(m.Points))
	for i, v := range m.Points {
		pts[i] = renderer.V(v)
	}
	faces := make([]string, len(m.Facets))
	for i, f := range m.Facets {
		faces[i] = fmt.Sprintf("%d %d %d", f[0], f[1], f[2])
	}
	p.set(key+".type", "inlinedmesh")
	p.set(key+".vertices", strings.Join(pts, " "))
	p.set(key+".faces", strings.Join(faces, " "))
	if m.HasUVMap() {
		uvs := make([]string, len(m.UVMap))
		for i, uv := range m.UVMap {
			uvs[i] = renderer.F(uv.X) + " " + renderer.F(uv.Y)
		}
		p.set(key+".uvs", strings.Join(uvs, " "))
	}
	if m.HasVNormals() {
		ns := make([]string, len(m.VNormals))
		for i, n := range m.VNormals {
			ns[i] = renderer.V(n)
		}
		p.set(key+".normals", strings.Join(ns, " "))
	}
	p.set(key+".material", id)
	p.set(key+".transformation", m.Placement.Transpose().Join(" "))
	return p.String(), nil
}

func (Plugin) WritePointLight(name string, l renderer.PointLight) (string, error) {
	var p props
	key := "scene.lights." + renderer.Identifier(name)
	p.comment("Point light '%s'", name)
	p.set(key+".type", "point")
	p.set(key+".position", renderer.V(l.Position))
	p.set(key+".color", renderer.C(l.Color))
	p.set(key+".power", renderer.F(l.Power))
	p.set(key+".gain", gain(pointGain))
	p.set(key+".efficency", strconv.Itoa(efficiency))
	return p.String(), nil
}

// WriteAreaLight writes a double-sided emissive quad.
func (Plugin) WriteAreaLight(name string, l renderer.AreaLight) (string, error) {
	id := renderer.Identifier(name)
	mat, obj := "scene.materials."+id, "scene.objects."+id
	u, v := renderer.F(l.SizeU/2), renderer.F(l.SizeV/2)
	opacity := "1"
	if l.Transparent {
		opacity = "0"
	}

	var p props
	p.comment("Area light '%s'", name)
	p.set(mat+".type", "matte")
	p.set(mat+".emission", renderer.C(l.Color))
	p.set(mat+".emission.gain", gain(areaGain))
	p.set(mat+".emission.power", renderer.F(l.Power))
	p.set(mat+".emission.efficency", strconv.Itoa(efficiency))
	p.set(mat+".transparency", opacity)
	p.set(mat+".kd", "0 0 0")
	p.set(obj+".type", "inlinedmesh")
	p.set(obj+".vertices", fmt.Sprintf("-%[1]s -%[2]s 0 %[1]s -%[2]s 0 %[1]s %[2]s 0 -%[1]s %[2]s 0", u, v))
	p.set(obj+".faces", "0 1 2 0 2 3 0 2 1 0 3 2")
	p.set(obj+".material", id)
	p.set(obj+".transformation", l.Placement.Matrix().Transpose().Join(" "))
	return p.String(), nil
}

func (Plugin) WriteSunSkyLight(name string, l renderer.SunSkyLight) (string, error) {
	id := renderer.Identifier(name)
	sun, sky := "scene.lights."+id+"_sun", "scene.lights."+id+"_sky"
	var p props
	p.comment("Sunsky light '%s'", name)
	p.set(sun+".type", "sun")
	p.set(sun+".turbidity", renderer.F(l.Turbidity))
	p.set(sun+".dir", renderer.V(l.Direction))
	p.set(sun+".gain", gain(l.SunIntensity))
	p.set(sky+".type", "sky2")
	p.set(sky+".turbidity", renderer.F(l.Turbidity))
	p.set(sky+".dir", renderer.V(l.Direction))
	p.set(sky+".groundalbedo", gain(l.Albedo))
	p.set(sky+".gain", gain(l.SkyIntensity))
	return p.String(), nil
}

func (Plugin) WriteImageLight(name string, l renderer.ImageLight) (string, error) {
	key := "scene.lights." + renderer.Identifier(name)
	var p props
	p.comment("Image light '%s'", name)
	p.set(key+".type", "infinite")
	p.set(key+".transformation", "-1 0 0 0 0 1 0 0 0 0 1 0 0 0 0 1")
	p.set(key+".file", strconv.Quote(l.Image))
	return p.String(), nil
}

func (Plugin) WriteDistantLight(name string, l renderer.DistantLight) (string, error) {
	key := "scene.lights." + renderer.Identifier(name)
	var p props
	p.comment("Distant light '%s'", name)
	p.set(key+".type", "distant")
	p.set(key+".color", renderer.C(l.Color))
	p.set(key+".gain", gain(l.Power))
	p.set(key+".direction", renderer.V(l.Direction.Scale(-1)))
	p.set(key+".theta", renderer.F(l.Angle))
	return p.String(), nil
}

func gain(g float64) string {
	s := renderer.F(g)
	return s + " " + s + " " + s
}

// matWriter writes materials and the textures they use.
type matWriter struct {
	p   *props
	obj string
}

// fields maps shader parameters to LuxCore material properties.
var fields = map[string]string{
	"Glass.Color":        "kt",
	"Glass.IOR":          "interiorior",
	"Diffuse.Color":      "kd",
	"Carpaint.BaseColor": "kd",
}

func (w *matWriter) material(id string, s *material.Shader) {
	key := "scene.materials." + id
	switch s.Type {
	case material.KindPassthrough:
		w.p.b.WriteString(s.PassthroughText(id))
		w.p.b.WriteByte('\n')
		return
	case material.KindGlass:
		w.p.set(key+".type", "glass")
		w.values(key, s, "Color", "IOR")
	case material.KindDisney:
		w.p.set(key+".type", "disney")
		w.values(key, s, "BaseColor", "Subsurface", "Metallic", "Specular", "SpecularTint",
			"Roughness", "Anisotropic", "Sheen", "SheenTint", "Clearcoat", "ClearcoatGloss")
	case material.KindDiffuse:
		w.p.set(key+".type", "matte")
		w.values(key, s, "Color")
	case material.KindCarpaint:
		w.p.set(key+".type", "carpaint")
		w.values(key, s, "BaseColor")
	case material.KindMixed:
		w.material(id+"_glass", s.Sub(material.KindGlass))
		w.material(id+"_diffuse", s.Sub(material.KindDiffuse))
		w.p.set(key+".type", "mix")
		w.p.set(key+".material1", id+"_diffuse")
		w.p.set(key+".material2", id+"_glass")
		w.p.set(key+".amount", renderer.F(s.Float("Transparency")))
	case material.KindEmission:
		w.p.set(key+".type", "matte")
		w.p.set(key+".kd", "0 0 0")
		if v, ok := w.value(s, "Color"); ok {
			w.p.set(key+".emission", v)
		}
		w.p.set(key+".emission.power", renderer.F(s.Float("Power")))
		w.p.set(key+".emission.efficency", strconv.Itoa(efficiency))
	default:
		w.p.set(key+".type", "matte")
		w.p.set(key+".kd", renderer.C(s.DefaultColor))
		return
	}
	if t := s.Texture("Bump"); t != nil {
		w.p.set(key+".bumptex", w.texture(material.Resolved{Type: material.TypeFloat, Texture: t}))
	}
	if t := s.Texture("Normal"); t != nil {
		w.p.set(key+".normaltex", w.texture(material.Resolved{Type: material.TypeRGB, Texture: t}))
	}
}

// values writes parameters of s under key.
func (w *matWriter) values(key string, s *material.Shader, params ...string) {
	for _, name := range params {
		v, ok := w.value(s, name)
		if !ok {
			continue
		}
		field, ok := fields[s.Type+"."+name]
		if !ok {
			field = strings.ToLower(name)
		}
		w.p.set(key+"."+field, v)
	}
}

// value formats parameter name of s, declaring its texture if needed.
func (w *matWriter) value(s *material.Shader, name string) (string, bool) {
	r, ok := s.Get(name)
	switch {
	case !ok:
		return "", false
	case r.IsTexture():
		return w.texture(r), true
	case r.Type == material.TypeRGB:
		return renderer.C(r.Color), true
	default:
		return renderer.F(r.Float), true
	}
}

// texture declares an imagemap texture and returns its name.
func (w *matWriter) texture(r material.Resolved) string {
	t := r.Texture
	name := renderer.Identifier(fmt.Sprintf("%s_%s_%s", w.obj, t.Name, t.Subname))
	key := "scene.textures." + name
	g := "1"
	if r.Type == material.TypeRGB {
		g = "2.2"
	}
	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	w.p.set(key+".type", "imagemap")
	w.p.set(key+".file", strconv.Quote(t.File))
	w.p.set(key+".gamma", g)
	w.p.set(key+".mapping.type", "uvmapping2d")
	w.p.set(key+".mapping.rotation", renderer.F(t.Rotation))
	w.p.set(key+".mapping.uvscale", renderer.F(1/scale)+" "+renderer.F(1/scale))
	w.p.set(key+".mapping.uvdelta", renderer.F(t.TranslateU)+" "+renderer.F(t.TranslateV))
	if t.HasScalar && r.Type == material.TypeFloat {
		w.p.set(key+"_scaled.type", "scale")
		w.p.set(key+"_scaled.texture1", renderer.F(t.Scalar))
		w.p.set(key+"_scaled.texture2", name)
		return name + "_scaled"
	}
	return name
}

// Render splits the instantiated template into configuration and scene
// files, and sets the film size and output.
func (Plugin) Render(req renderer.RenderRequest) (renderer.Command, error) {
	if req.Executable == "" {
		return renderer.Command{}, renderer.ErrNoExecutable
	}
	f, err := ini.LoadSources(loadOptions, req.Input)
	if err != nil {
		return renderer.Command{}, fmt.Errorf("reading %s: %w", req.Input, err)
	}

	output := req.Output
	if output == "" {
		output = renderer.DefaultOutput(req.Input)
	}
	cfg := f.Section("Configuration")
	set := func(k, v string) { cfg.Key(k).SetValue(v) }
	set("film.width", strconv.Itoa(req.Width))
	set("film.height", strconv.Itoa(req.Height))
	set("film.outputs.0.type", "RGB_IMAGEPIPELINE")
	set("film.outputs.0.filename", output)
	set("film.outputs.0.index", "0")
	set("periodicsave.film.outputs.period", "1")
	if req.Spp > 0 {
		set("batch.haltspp", strconv.Itoa(req.Spp))
	}
	if req.Denoise {
		set("film.imagepipelines.0.0.type", "INTEL_OIDN")
		set("film.imagepipelines.0.1.type", "TONEMAP_LINEAR")
	}

	base := strings.TrimSuffix(req.Input, filepath.Ext(req.Input))
	cfgPath, scnPath := base+"-render.cfg", base+".scn"
	if err := exportSection(cfg, cfgPath); err != nil {
		return renderer.Command{}, err
	}
	if err := exportSection(f.Section("Scene"), scnPath); err != nil {
		return renderer.Command{}, err
	}

	args, err := renderer.BuildCommand(req.Prefix, req.Executable, req.Parameters, "-o", cfgPath, "-f", scnPath)
	if err != nil {
		return renderer.Command{}, err
	}
	return renderer.Command{Args: args, Image: output}, nil
}

var loadOptions = ini.LoadOptions{
	KeyValueDelimiters:      "=",
	IgnoreInlineComment:     true,
	PreserveSurroundedQuote: true,
}

// exportSection writes the keys of s as a LuxCore properties file.
func exportSection(s *ini.Section, path string) error {
	f := ini.Empty(loadOptions)
	dst := f.Section("")
	for _, k := range s.Keys() {
		dst.Key(k.Name()).SetValue(k.Value())
	}
	return f.SaveTo(path)
}
