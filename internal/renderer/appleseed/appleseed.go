// Package appleseed writes project files for appleseed.
//
// appleseed is y up; scene coordinates map as (x, y, z) -> (x, z, -y).
// Meshes are referenced from the exported OBJ files by mesh_object
// entities and placed by their instance transform. Material textures are not exported; textured
// parameters use their constant value.
package appleseed

import (
	"encoding/xml"
	"fmt"
	gomath "math"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/renderer"
	"github.com/Faultbox/raybridge/internal/scene"
	"github.com/Faultbox/raybridge/pkg/math"
)

func init() {
	renderer.Register(Plugin{})
}

// yUp maps (x, y, z) to (x, z, -y); zUp is its inverse.
var (
	yUp = math.Mat4{
		1, 0, 0, 0,
		0, 0, -1, 0,
		0, 1, 0, 0,
		0, 0, 0, 1,
	}
	zUp = yUp.Transpose()
)

// Plugin is the appleseed renderer plugin.
type Plugin struct{}

func (Plugin) Name() string { return "Appleseed" }

func (Plugin) TemplateFilter() string { return "Appleseed templates (appleseed_*.appleseed)" }

func (Plugin) Materials() []string {
	return []string{
		material.KindGlass,
		material.KindDisney,
		material.KindDiffuse,
		material.KindMixed,
		material.KindEmission,
	}
}

// esc escapes s for an XML attribute.
func esc(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// xmlWriter writes indented elements.
type xmlWriter struct {
	b     strings.Builder
	depth int
}

func (w *xmlWriter) line(format string, args ...any) {
	w.b.WriteString(strings.Repeat("    ", w.depth))
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

func (w *xmlWriter) open(tag, name, model string) {
	if model == "" {
		w.line(`<%s name="%s">`, tag, esc(name))
	} else {
		w.line(`<%s name="%s" model="%s">`, tag, esc(name), model)
	}
	w.depth++
}

func (w *xmlWriter) close(tag string) {
	w.depth--
	w.line("</%s>", tag)
}

func (w *xmlWriter) param(name, value string) {
	w.line(`<parameter name="%s" value="%s" />`, name, esc(value))
}

func (w *xmlWriter) comment(format string, args ...any) {
	w.line("<!-- %s -->", fmt.Sprintf(format, args...))
}

// color declares a named linear color.
func (w *xmlWriter) color(name string, r, g, b, alpha float64) {
	w.open("color", name, "")
	w.param("color_space", "linear_rgb")
	w.param("multiplier", "1.0")
	w.param("wavelength_range", "400.0 700.0")
	w.line("<values> %s %s %s </values>", renderer.F(r), renderer.F(g), renderer.F(b))
	w.line("<alpha> %s </alpha>", renderer.F(alpha))
	w.close("color")
}

// transform writes a transform element holding m in row-major order.
func (w *xmlWriter) transform(m math.Mat4) {
	w.line("<transform>")
	w.line("    <matrix>")
	r := m.RowMajor()
	for i := 0; i < 4; i++ {
		w.line("        %s %s %s %s", renderer.F(r[i*4]), renderer.F(r[i*4+1]), renderer.F(r[i*4+2]), renderer.F(r[i*4+3]))
	}
	w.line("    </matrix>")
	w.line("</transform>")
}

func (w *xmlWriter) String() string { return w.b.String() }

func asPoint(v math.Vec3) string { return renderer.V(yUp.TransformPoint(v)) }

func asDir(v math.Vec3) string { return renderer.V(yUp.TransformDirection(v)) }

// WriteCamera writes a pinhole camera. The aspect ratio is a macro
// expanded at render time.
func (Plugin) WriteCamera(name string, cam renderer.Camera) (string, error) {
	var w xmlWriter
	w.depth = 2
	if cam.Projection == scene.Orthographic {
		w.open("camera", name, "orthographic_camera")
		w.param("film_height", renderer.F(cam.OrthoHeight))
	} else {
		// appleseed wants the horizontal field of view
		half := cam.FOV * gomath.Pi / 360
		hfov := 2 * gomath.Atan(gomath.Tan(half)*cam.AspectRatio()) * 180 / gomath.Pi
		w.open("camera", name, "pinhole_camera")
		w.param("shutter_open_time", "0")
		w.param("shutter_close_time", "1")
		w.param("film_width", "0.032")
		w.param("focal_length", "0")
		w.param("horizontal_fov", renderer.F(hfov))
	}
	w.param("aspect_ratio", "@@ASPECT_RATIO@@")
	w.line("<transform>")
	w.line(`    <look_at origin="%s" target="%s" up="%s" />`, asPoint(cam.Position), asPoint(cam.Target), asDir(cam.Up))
	w.line("</transform>")
	w.close("camera")
	return w.String(), nil
}

// WriteObject references the exported OBJ file and instantiates it with
// a unique material. The instance transform carries the placement.
func (Plugin) WriteObject(name string, obj renderer.Object) (string, error) {
	if obj.OBJFile == "" {
		return "", fmt.Errorf("%w: appleseed imports meshes from files", renderer.ErrNoObjectDir)
	}
	id := renderer.Identifier(name)

	matName := name + "." + uuid.New().String()
	w := &xmlWriter{depth: 3}
	w.comment("Object '%s'", name)
	writeMaterial(w, matName, obj.Shader)

	w.open("object", id, "mesh_object")
	w.param("filename", filepath.ToSlash(obj.OBJFile))
	w.close("object")
	w.line(`<object_instance name="%[1]s.instance" object="%[1]s.%[1]s">`, id)
	w.depth++
	w.transform(yUp.Mul(obj.Mesh.Placement))
	for _, side := range []string{"front", "back"} {
		w.line(`<assign_material slot="default" side="%s" material="%s" />`, side, esc(matName))
	}
	w.close("object_instance")
	return w.String(), nil
}

func (Plugin) WritePointLight(name string, l renderer.PointLight) (string, error) {
	w := &xmlWriter{depth: 3}
	w.comment("Point light '%s'", name)
	w.color(name+"_color", l.Color.R, l.Color.G, l.Color.B, 1)
	w.open("light", name, "point_light")
	w.param("intensity", name+"_color")
	w.param("intensity_multiplier", renderer.F(l.Power*3))
	w.line("<transform>")
	w.line(`    <translation value="%s" />`, asPoint(l.Position))
	w.line("</transform>")
	w.close("light")
	return w.String(), nil
}

// WriteAreaLight writes an emitting rectangle. appleseed rectangles lie in
// their local XZ plane, which is the scene XY plane.
func (Plugin) WriteAreaLight(name string, l renderer.AreaLight) (string, error) {
	alpha := 1.0
	if l.Transparent {
		alpha = 0
	}
	radiance := 0.0
	if area := l.SizeU * l.SizeV; area > 0 {
		radiance = l.Power / area
	}

	w := &xmlWriter{depth: 3}
	w.comment("Area light '%s'", name)
	w.color(name+"_color", l.Color.R, l.Color.G, l.Color.B, alpha)
	w.open("edf", name+"_edf", "diffuse_edf")
	w.param("radiance", name+"_color")
	w.param("radiance_multiplier", renderer.F(radiance/100))
	w.param("cast_indirect_light", "true")
	w.param("importance_multiplier", "1.0")
	w.close("edf")
	w.open("material", name+"_mat", "generic_material")
	w.param("edf", name+"_edf")
	w.param("alpha_map", renderer.F(alpha))
	w.param("shade_alpha_cutouts", "false")
	w.close("material")
	w.open("object", name+"_obj", "rectangle_object")
	w.param("width", renderer.F(l.SizeU))
	w.param("height", renderer.F(l.SizeV))
	w.close("object")
	w.line(`<object_instance name="%[1]s_obj.instance" object="%[1]s_obj">`, esc(name))
	w.depth++
	w.transform(yUp.Mul(l.Placement.Matrix()).Mul(zUp))
	for _, side := range []string{"front", "back"} {
		w.line(`<assign_material slot="default" side="%s" material="%s_mat" />`, side, esc(name))
	}
	w.close("object_instance")
	return w.String(), nil
}

// angles returns the spherical angles of d in appleseed coordinates, in
// degrees: phi around the up axis from x, theta from the up axis.
func angles(d math.Vec3) (phi, theta float64) {
	v := yUp.TransformDirection(d)
	n := v.Length()
	if n == 0 {
		return 0, 0
	}
	phi = gomath.Atan2(v.Z, v.X) * 180 / gomath.Pi
	theta = gomath.Acos(math.Clamp(v.Y/n, -1, 1)) * 180 / gomath.Pi
	return phi, theta
}

// environment writes the environment and its shader around an edf.
func (w *xmlWriter) environment(name, edf string) {
	w.open("environment_shader", name+"_env_shdr", "edf_environment_shader")
	w.param("environment_edf", edf)
	w.close("environment_shader")
	w.open("environment", name+"_env", "generic_environment")
	w.param("environment_edf", edf)
	w.param("environment_shader", name+"_env_shdr")
	w.close("environment")
}

func (Plugin) WriteSunSkyLight(name string, l renderer.SunSkyLight) (string, error) {
	phi, theta := angles(l.Direction)
	w := &xmlWriter{depth: 2}
	w.comment("Sun-sky light '%s'", name)
	w.open("environment_edf", name+"_env_edf", "hosek_environment_edf")
	w.param("sun_phi", renderer.F(phi))
	w.param("sun_theta", renderer.F(theta))
	w.param("turbidity", renderer.F(l.Turbidity))
	w.param("ground_albedo", renderer.F(l.Albedo))
	w.param("luminance_multiplier", renderer.F(l.SkyIntensity))
	w.close("environment_edf")
	w.environment(name, name+"_env_edf")
	w.open("light", name, "sun_light")
	w.param("environment_edf", name+"_env_edf")
	w.param("turbidity", renderer.F(l.Turbidity))
	w.param("radiance_multiplier", renderer.F(l.SunIntensity))
	w.close("light")
	return w.String(), nil
}

func (Plugin) WriteImageLight(name string, l renderer.ImageLight) (string, error) {
	w := &xmlWriter{depth: 2}
	w.comment("Image light '%s'", name)
	w.open("texture", name+"_tex", "disk_texture_2d")
	w.param("filename", filepath.ToSlash(l.Image))
	w.param("color_space", "linear_rgb")
	w.close("texture")
	w.line(`<texture_instance name="%[1]s_tex_ins" texture="%[1]s_tex">`, esc(name))
	w.line("</texture_instance>")
	w.open("environment_edf", name+"_env_edf", "latlong_map_environment_edf")
	w.param("radiance", name+"_tex_ins")
	w.close("environment_edf")
	w.environment(name, name+"_env_edf")
	return w.String(), nil
}

// WriteDistantLight writes a directional light. Its transform looks along
// the direction the light travels.
func (Plugin) WriteDistantLight(name string, l renderer.DistantLight) (string, error) {
	travel := l.Direction.Scale(-1)
	up := math.Vec3{Z: 1}
	if d := travel.Normalize(); gomath.Abs(d.Z) > 0.999 {
		up = math.Vec3{Y: 1}
	}
	w := &xmlWriter{depth: 3}
	w.comment("Distant light '%s'", name)
	w.color(name+"_color", l.Color.R, l.Color.G, l.Color.B, 1)
	w.open("light", name, "directional_light")
	w.param("irradiance", name+"_color")
	w.param("irradiance_multiplier", renderer.F(l.Power))
	w.line("<transform>")
	w.line(`    <look_at origin="0 0 0" target="%s" up="%s" />`, asDir(travel), asDir(up))
	w.line("</transform>")
	w.close("light")
	return w.String(), nil
}

func writeMaterial(w *xmlWriter, name string, s *material.Shader) {
	switch s.Type {
	case material.KindPassthrough:
		w.b.WriteString(s.PassthroughText(name))
		w.b.WriteByte('\n')
		return
	case material.KindMixed:
		writeBSDF(w, name+"_glass", s.Sub(material.KindGlass))
		writeBSDF(w, name+"_diffuse", s.Sub(material.KindDiffuse))
		w.open("bsdf", name+"_bsdf", "bsdf_blend")
		w.param("bsdf0", name+"_glass_bsdf")
		w.param("bsdf1", name+"_diffuse_bsdf")
		w.param("weight", renderer.F(s.Float("Transparency")))
		w.close("bsdf")
	case material.KindEmission:
		c := s.Color("Color")
		w.color(name+"_color", c.R, c.G, c.B, 1)
		w.open("edf", name+"_edf", "diffuse_edf")
		w.param("radiance", name+"_color")
		w.param("radiance_multiplier", renderer.F(s.Float("Power")))
		w.close("edf")
		w.open("material", name, "generic_material")
		w.param("edf", name+"_edf")
		w.close("material")
		return
	default:
		writeBSDF(w, name, s)
	}
	w.open("material", name, "generic_material")
	w.param("bsdf", name+"_bsdf")
	w.param("bump_amplitude", "1.0")
	w.param("bump_offset", "2.0")
	w.param("displacement_method", "bump")
	w.param("normal_map_up", "z")
	w.param("shade_alpha_cutouts", "false")
	w.close("material")
}

// disneyFields maps Disney parameters to disney_brdf parameters.
var disneyFields = []struct{ param, field string }{
	{"Subsurface", "subsurface"},
	{"Metallic", "metallic"},
	{"Specular", "specular"},
	{"SpecularTint", "specular_tint"},
	{"Roughness", "roughness"},
	{"Anisotropic", "anisotropic"},
	{"Sheen", "sheen"},
	{"SheenTint", "sheen_tint"},
	{"Clearcoat", "clearcoat"},
	{"ClearcoatGloss", "clearcoat_gloss"},
}

// writeBSDF declares the color and bsdf of a non-mixed shader as
// name_color and name_bsdf.
func writeBSDF(w *xmlWriter, name string, s *material.Shader) {
	bsdf := name + "_bsdf"
	switch s.Type {
	case material.KindGlass:
		c := s.Color("Color")
		w.color(name+"_color", c.R, c.G, c.B, 1)
		w.open("bsdf", bsdf, "glass_bsdf")
		w.param("surface_transmittance", name+"_color")
		w.param("ior", renderer.F(s.Float("IOR")))
		w.param("roughness", "0")
		w.param("volume_parameterization", "transmittance")
		w.close("bsdf")
	case material.KindDisney:
		c := s.Color("BaseColor")
		w.color(name+"_color", c.R, c.G, c.B, 1)
		w.open("bsdf", bsdf, "disney_brdf")
		w.param("base_color", name+"_color")
		for _, f := range disneyFields {
			w.param(f.field, renderer.F(s.Float(f.param)))
		}
		w.close("bsdf")
	case material.KindDiffuse:
		c := s.Color("Color")
		w.color(name+"_color", c.R, c.G, c.B, 1)
		w.open("bsdf", bsdf, "lambertian_brdf")
		w.param("reflectance", name+"_color")
		w.close("bsdf")
	default:
		c := s.DefaultColor
		w.comment("'%s' fallback", name)
		w.color(name+"_color", c.R, c.G, c.B, 1)
		w.open("bsdf", bsdf, "lambertian_brdf")
		w.param("reflectance", name+"_color")
		w.close("bsdf")
	}
}

// element returns a pattern matching whole tag elements on their own lines.
func element(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^ *<` + tag + `(?:\s.*|)>[\s\S]*?</` + tag + `>\n`)
}

var (
	resolutionParam = regexp.MustCompile(`<parameter name="resolution".*?/>`)
	cameraName      = regexp.MustCompile(`<camera name="(.*?)".*?>`)
	cameraParam     = regexp.MustCompile(`<parameter\s+name\s*=\s*"camera"\s+value\s*=\s*"(.*?)"\s*/>`)
)

// moveElements moves the tag elements of text right after the opening
// destination tag. With last set, only the last element is kept.
func moveElements(text, tag, dest string, last bool) string {
	re := element(tag)
	found := re.FindAllString(text, -1)
	if len(found) == 0 {
		return text
	}
	rest := re.ReplaceAllString(text, "")
	open := "<" + dest + ">\n"
	at := strings.Index(rest, open)
	if at < 0 {
		return text
	}
	at += len(open)
	if last {
		found = found[len(found)-1:]
	}
	return rest[:at] + strings.Join(found, "") + rest[at:]
}

func reformat(text string, width, height int) string {
	for _, m := range []struct {
		tag, dest string
		last      bool
	}{
		{"camera", "scene", false},
		{"environment_edf", "scene", false},
		{"environment_shader", "scene", false},
		{"environment", "scene", true},
		{"texture", "scene", false},
		{"texture_instance", "scene", false},
		{"search_path", "search_paths", false},
	} {
		text = moveElements(text, m.tag, m.dest, m.last)
	}

	text = resolutionParam.ReplaceAllLiteralString(text,
		fmt.Sprintf(`<parameter name="resolution" value="%d %d" />`, width, height))
	text = renderer.ExpandMacros(text, width, height)
	if names := cameraName.FindAllStringSubmatch(text, -1); len(names) > 0 {
		last := names[len(names)-1][1]
		text = cameraParam.ReplaceAllLiteralString(text,
			fmt.Sprintf(`<parameter name="camera" value="%s" />`, last))
	}
	return text
}

// Render gathers cameras and environments in the scene element, sets the
// frame size and the active camera. The console renderer writes the
// image; appleseed.studio does not.
func (Plugin) Render(req renderer.RenderRequest) (renderer.Command, error) {
	if req.Executable == "" {
		return renderer.Command{}, renderer.ErrNoExecutable
	}
	err := renderer.RewriteFile(req.Input, func(text string) (string, error) {
		return reformat(text, req.Width, req.Height), nil
	})
	if err != nil {
		return renderer.Command{}, err
	}

	if !req.Batch {
		cmd, err := renderer.BuildCommand(req.Prefix, req.Executable, req.Parameters, req.Input)
		return renderer.Command{Args: cmd}, err
	}
	output := req.Output
	if output == "" {
		output = renderer.DefaultOutput(req.Input)
	}
	cmd, err := renderer.BuildCommand(req.Prefix, req.Executable, req.Parameters, "--output", output, req.Input)
	if err != nil {
		return renderer.Command{}, err
	}
	return renderer.Command{Args: cmd, Image: output}, nil
}
