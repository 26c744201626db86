// Package povray writes scenes in the POV-Ray scene description language.
//
// POV-Ray is left-handed and y up: scene coordinates (x, y, z) are
// written as <x, z, y>, which also restores the handedness. Meshes are
// written in world coordinates.
package povray

import (
	"fmt"
	gomath "math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/renderer"
	"github.com/Faultbox/raybridge/internal/scene"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/math"
)

func init() {
	renderer.Register(Plugin{})
}

const (
	// pointGain maps a 60 W bulb to unit intensity.
	pointGain = 1.0 / 60
	areaGain  = 1.0 / 100
	// farAway places parallel lights outside any reasonable scene.
	farAway = 1e6
)

// Plugin is the POV-Ray renderer plugin.
type Plugin struct{}

func (Plugin) Name() string { return "Povray" }

func (Plugin) TemplateFilter() string { return "Povray templates (povray_*.pov)" }

func (Plugin) Materials() []string {
	return []string{
		material.KindGlass,
		material.KindDiffuse,
		material.KindMixed,
		material.KindEmission,
	}
}

// vec writes a scene point or direction in POV-Ray axes.
func vec(v math.Vec3) string {
	return "<" + renderer.F(v.X) + ", " + renderer.F(v.Z) + ", " + renderer.F(v.Y) + ">"
}

func rgb(c color.Linear) string {
	return "<" + renderer.F(c.R) + ", " + renderer.F(c.G) + ", " + renderer.F(c.B) + ">"
}

// ident turns name into a POV-Ray identifier, which must start with a
// letter.
func ident(name string) string {
	id := renderer.Identifier(name)
	if c := id[0]; (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
		id = "obj" + id
	}
	return id
}

// WriteCamera writes a camera block. POV-Ray takes the horizontal field
// of view; the frame ratio is expanded at render time.
func (Plugin) WriteCamera(name string, cam renderer.Camera) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "// Camera '%s'\n", name)
	fmt.Fprintf(&b, "#declare cam_location = %s;\n", vec(cam.Position))
	fmt.Fprintf(&b, "#declare cam_look_at = %s;\n", vec(cam.Target))
	fmt.Fprintf(&b, "#declare cam_sky = %s;\n", vec(cam.Up))
	b.WriteString("camera {\n")
	if cam.Projection == scene.Orthographic {
		h := cam.OrthoHeight
		fmt.Fprintf(&b, "    orthographic\n    up y*%s\n    right x*%s*@@ASPECT_RATIO@@\n", renderer.F(h), renderer.F(h))
	} else {
		half := gomath.Tan(cam.FOV*gomath.Pi/360) * cam.AspectRatio()
		hfov := 2 * gomath.Atan(half) * 180 / gomath.Pi
		fmt.Fprintf(&b, "    perspective\n    right x*@@WIDTH@@/@@HEIGHT@@\n    angle %s\n", renderer.F(hfov))
	}
	b.WriteString("    location cam_location\n    look_at cam_look_at\n    sky cam_sky\n}\n")
	fmt.Fprintf(&b, "// ~Camera '%s'\n", name)
	return b.String(), nil
}

// WriteObject writes a mesh2 declaration and an object using it.
func (Plugin) WriteObject(name string, obj renderer.Object) (string, error) {
	m := renderer.WorldMesh(obj.Mesh)
	id := ident(name)

	var b strings.Builder
	fmt.Fprintf(&b, "// Object '%s'\n", name)
	fmt.Fprintf(&b, "#declare %s_mesh = mesh2 {\n", id)
	fmt.Fprintf(&b, "    vertex_vectors {\n        %d", len(m.Points))
	for _, p := range m.Points {
		b.WriteString(",\n        " + vec(p))
	}
	b.WriteString("\n    }\n")
	if m.HasVNormals() {
		fmt.Fprintf(&b, "    normal_vectors {\n        %d", len(m.VNormals))
		for _, n := range m.VNormals {
			b.WriteString(",\n        " + vec(n))
		}
		b.WriteString("\n    }\n")
	}
	if m.HasUVMap() {
		fmt.Fprintf(&b, "    uv_vectors {\n        %d", len(m.UVMap))
		for _, uv := range m.UVMap {
			fmt.Fprintf(&b, ",\n        <%s, %s>", renderer.F(uv.X), renderer.F(uv.Y))
		}
		b.WriteString("\n    }\n")
	}
	fmt.Fprintf(&b, "    face_indices {\n        %d", len(m.Facets))
	for _, f := range m.Facets {
		fmt.Fprintf(&b, ",\n        <%d, %d, %d>", f[0], f[1], f[2])
	}
	b.WriteString("\n    }\n}\n")

	fmt.Fprintf(&b, "object {\n    %s_mesh\n", id)
	writeMaterial(&b, id, obj.Shader, m.HasUVMap())
	b.WriteString("}\n")
	fmt.Fprintf(&b, "// ~Object '%s'\n", name)
	return b.String(), nil
}

// writeMaterial writes the texture and interior of an object.
func writeMaterial(b *strings.Builder, id string, s *material.Shader, uv bool) {
	switch s.Type {
	case material.KindPassthrough:
		b.WriteString(s.PassthroughText(id))
		b.WriteByte('\n')
	case material.KindGlass:
		c := s.Color("Color")
		fmt.Fprintf(b, "    texture {\n        pigment { color rgbf <%s, %s, %s, 1> }\n", renderer.F(c.R), renderer.F(c.G), renderer.F(c.B))
		b.WriteString("        finish { specular 1 roughness 0.001 reflection { 0.1, 1 fresnel on } conserve_energy }\n    }\n")
		fmt.Fprintf(b, "    interior { ior %s }\n", renderer.F(ior(s.Float("IOR"))))
	case material.KindMixed:
		t := math.Clamp(s.Float("Transparency"), 0, 1)
		diffuse := s.Sub(material.KindDiffuse).Color("Color")
		glass := s.Sub(material.KindGlass).Color("Color")
		c := diffuse.Scale(1 - t)
		c.R += glass.R * t
		c.G += glass.G * t
		c.B += glass.B * t
		fmt.Fprintf(b, "    texture {\n        pigment { color rgbf <%s, %s, %s, %s> }\n", renderer.F(c.R), renderer.F(c.G), renderer.F(c.B), renderer.F(t))
		b.WriteString("        finish { diffuse 0.9 specular 0.5 roughness 0.01 }\n    }\n")
		fmt.Fprintf(b, "    interior { ior %s }\n", renderer.F(ior(s.Sub(material.KindGlass).Float("IOR"))))
	case material.KindEmission:
		fmt.Fprintf(b, "    texture {\n        pigment { color rgb %s }\n", rgb(s.Color("Color")))
		fmt.Fprintf(b, "        finish { ambient 0 diffuse 0 emission %s }\n    }\n", renderer.F(s.Float("Power")))
	case material.KindDiffuse:
		b.WriteString("    texture {\n")
		if t := s.Texture("Color"); t != nil && uv {
			b.WriteString("        " + imagePigment(t) + "\n")
		} else {
			fmt.Fprintf(b, "        pigment { color rgb %s }\n", rgb(s.Color("Color")))
		}
		b.WriteString("        finish { diffuse 0.9 }\n    }\n")
	default:
		fmt.Fprintf(b, "    texture {\n        pigment { color rgb %s }\n        finish { diffuse 0.9 }\n    }\n", rgb(s.DefaultColor))
	}
}

func ior(v float64) float64 {
	if v == 0 {
		return 1.5
	}
	return v
}

var imageFormats = map[string]string{
	".png":  "png",
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".tif":  "tiff",
	".tiff": "tiff",
	".tga":  "tga",
	".hdr":  "hdr",
	".exr":  "exr",
	".gif":  "gif",
	".ppm":  "ppm",
	".bmp":  "bmp",
}

// imageFormat returns the image_map keyword for path; unknown
// extensions are read as png.
func imageFormat(path string) string {
	if f, ok := imageFormats[strings.ToLower(filepath.Ext(path))]; ok {
		return f
	}
	return "png"
}

func imagePigment(t *material.RenderTexture) string {
	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	return fmt.Sprintf(`pigment { uv_mapping image_map { %s "%s" interpolate 2 } scale %s rotate <0, 0, %s> translate <%s, %s> }`,
		imageFormat(t.File), filepath.ToSlash(t.File), renderer.F(scale), renderer.F(t.Rotation), renderer.F(t.TranslateU), renderer.F(t.TranslateV))
}

func (Plugin) WritePointLight(name string, l renderer.PointLight) (string, error) {
	return fmt.Sprintf("// Point light '%s'\nlight_source {\n    %s\n    color rgb %s\n}\n",
		name, vec(l.Position), rgb(l.Color.Scale(l.Power*pointGain))), nil
}

// WriteAreaLight writes a 5x5 jittered area light centred on the
// placement.
func (Plugin) WriteAreaLight(name string, l renderer.AreaLight) (string, error) {
	p := l.Placement
	u := p.Rotation.Rotate(math.Vec3{X: l.SizeU})
	v := p.Rotation.Rotate(math.Vec3{Y: l.SizeV})
	var b strings.Builder
	fmt.Fprintf(&b, "// Area light '%s'\nlight_source {\n    %s\n    color rgb %s\n", name, vec(p.Base), rgb(l.Color.Scale(l.Power*areaGain)))
	fmt.Fprintf(&b, "    area_light %s, %s, 5, 5\n    adaptive 1\n    jitter\n    area_illumination on\n", vec(u), vec(v))
	if !l.Transparent {
		n := p.Rotation.Rotate(math.Vec3{Z: 0.001})
		corner := u.Scale(-0.5).Add(v.Scale(-0.5))
		fmt.Fprintf(&b, "    looks_like {\n        box { %s, %s\n            pigment { color rgb %s }\n            finish { ambient 0 diffuse 0 emission 1 }\n        }\n    }\n",
			vec(corner), vec(corner.Add(u).Add(v).Add(n)), rgb(l.Color))
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// WriteSunSkyLight writes a parallel sun and a gradient sky sphere.
// POV-Ray has no physical sky model, so turbidity and albedo are not
// used.
func (Plugin) WriteSunSkyLight(name string, l renderer.SunSkyLight) (string, error) {
	d := l.Direction.Normalize()
	zenith := color.Linear{R: 0.25, G: 0.45, B: 0.85}.Scale(l.SkyIntensity)
	horizon := color.Linear{R: 0.85, G: 0.9, B: 1}.Scale(l.SkyIntensity)
	sun := color.Linear{R: 1, G: 1, B: 1}.Scale(l.SunIntensity)
	return fmt.Sprintf(`// Sun-sky light '%s'
light_source {
    %s
    color rgb %s
    parallel
    point_at <0, 0, 0>
}
sky_sphere {
    pigment {
        gradient y
        color_map {
            [0 color rgb %s]
            [1 color rgb %s]
        }
    }
}
`, name, vec(d.Scale(farAway)), rgb(sun), rgb(horizon), rgb(zenith)), nil
}

// WriteImageLight writes a sky sphere mapped with the image.
func (Plugin) WriteImageLight(name string, l renderer.ImageLight) (string, error) {
	return fmt.Sprintf(`// Image light '%s'
sky_sphere {
    pigment {
        image_map { %s "%s" map_type 1 interpolate 2 }
    }
}
`, name, imageFormat(l.Image), filepath.ToSlash(l.Image)), nil
}

func (Plugin) WriteDistantLight(name string, l renderer.DistantLight) (string, error) {
	return fmt.Sprintf("// Distant light '%s'\nlight_source {\n    %s\n    color rgb %s\n    parallel\n    point_at <0, 0, 0>\n}\n",
		name, vec(l.Direction.Normalize().Scale(farAway)), rgb(l.Color.Scale(l.Power))), nil
}

var (
	cameraBlock = regexp.MustCompile(`(?m)^// Camera[\s\S]*?^// ~Camera.*$\n?`)
	versionLine = regexp.MustCompile(`(?m)^#version.*$\n?`)
	sizeOption  = regexp.MustCompile(`(^|\s)[+-][WHwh]\d+`)
)

// Render keeps the last camera, expands the frame size macros, and
// substitutes the frame size options of the user parameters.
func (Plugin) Render(req renderer.RenderRequest) (renderer.Command, error) {
	if req.Executable == "" {
		return renderer.Command{}, renderer.ErrNoExecutable
	}
	err := renderer.RewriteFile(req.Input, func(text string) (string, error) {
		rest, cam, ok := renderer.KeepLastBlock(text, cameraBlock)
		if !ok {
			return "", renderer.ErrNoCamera
		}
		// #version must stay the first statement
		if loc := versionLine.FindStringIndex(rest); loc != nil {
			rest = rest[:loc[1]] + cam + rest[loc[1]:]
		} else {
			rest = cam + rest
		}
		return renderer.ExpandMacros(rest, req.Width, req.Height), nil
	})
	if err != nil {
		return renderer.Command{}, err
	}

	output := req.Output
	if output == "" {
		output = renderer.DefaultOutput(req.Input)
	}
	params := strings.TrimSpace(sizeOption.ReplaceAllString(req.Parameters, "$1"))
	args := []string{"+W" + strconv.Itoa(req.Width), "+H" + strconv.Itoa(req.Height)}
	if req.Spp > 1 {
		depth := int(math.Clamp(gomath.Round(gomath.Sqrt(float64(req.Spp))), 1, 9))
		args = append(args, "+A0.0", "+AM2", "+R"+strconv.Itoa(depth))
	}
	if req.Batch {
		args = append(args, "-D")
	}
	args = append(args, "+FN", "+O"+output, "+I"+req.Input)
	cmd, err := renderer.BuildCommand(req.Prefix, req.Executable, params, args...)
	if err != nil {
		return renderer.Command{}, err
	}
	return renderer.Command{Args: cmd, Image: output}, nil
}
