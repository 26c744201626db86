// Package cycles writes scenes for the Cycles standalone XML format.
//
// Coordinates stay in the scene frame (z up). Meshes are inlined with a
// column-major transform; materials become shader graphs.
package cycles

import (
	"fmt"
	gomath "math"
	"regexp"
	"strconv"
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

// Plugin is the Cycles renderer plugin.
type Plugin struct{}

func (Plugin) Name() string { return "Cycles" }

func (Plugin) TemplateFilter() string { return "Cycles templates (cycles_*.xml)" }

func (Plugin) Materials() []string {
	return []string{
		material.KindGlass,
		material.KindDisney,
		material.KindDiffuse,
		material.KindMixed,
		material.KindEmission,
	}
}

func rad(deg float64) float64 { return deg * gomath.Pi / 180 }

// WriteCamera writes a camera inside a transform. Cycles cameras look
// down +z, hence the z mirror. Frame size macros are expanded at render
// time.
func (Plugin) WriteCamera(name string, cam renderer.Camera) (string, error) {
	axis, angle := cam.Rotation.AxisAngle()
	var kind string
	if cam.Projection == scene.Orthographic {
		h := cam.OrthoHeight / 2
		w := h * cam.AspectRatio()
		kind = fmt.Sprintf(`type="orthographic" viewplane="%s %s %s %s"`,
			renderer.F(-w), renderer.F(w), renderer.F(-h), renderer.F(h))
	} else {
		kind = fmt.Sprintf(`type="perspective" fov="%s"`, renderer.F(rad(cam.FOV)))
	}
	return fmt.Sprintf(`<!-- Camera '%[1]s' -->
<transform rotate="%[2]s %[3]s" translate="%[4]s" scale="1 1 -1">
    <camera width="@@WIDTH@@" height="@@HEIGHT@@" %[5]s />
</transform>
<!-- ~Camera '%[1]s' -->
`, esc(name), renderer.F(angle*180/gomath.Pi), renderer.V(axis), renderer.V(cam.Position), kind), nil
}

var escaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;", "--", "- -")

func esc(s string) string { return escaper.Replace(s) }

// WriteObject writes the shader graph and an inline mesh with its
// transform.
func (Plugin) WriteObject(name string, obj renderer.Object) (string, error) {
	m := obj.Mesh
	shader := renderer.Identifier(name) + "_" + uuid.New().String()[:8]

	var b strings.Builder
	fmt.Fprintf(&b, "<!-- Object '%s' -->\n", esc(name))
	g := graph{b: &b, obj: renderer.Identifier(name)}
	b.WriteString(`<shader name="` + shader + "\">\n")
	out := g.closure("mat", obj.Shader)
	g.connect(out, "output surface")
	b.WriteString("</shader>\n")

	pts := make([]string, len(m.Points))
	for i, p := range m.Points {
		pts[i] = renderer.V(p)
	}
	nverts := strings.TrimSpace(strings.Repeat("3 ", len(m.Facets)))
	verts := make([]string, len(m.Facets))
	for i, f := range m.Facets {
		verts[i] = fmt.Sprintf("%d %d %d", f[0], f[1], f[2])
	}
	fmt.Fprintf(&b, "<state shader=\"%s\">\n", shader)
	fmt.Fprintf(&b, "    <transform matrix=\"%s\">\n", m.Placement.Transpose().Join(" "))
	fmt.Fprintf(&b, "        <mesh P=\"%s\" nverts=\"%s\" verts=\"%s\"", strings.Join(pts, "  "), nverts, strings.Join(verts, "  "))
	if m.HasUVMap() {
		uvs := make([]string, 0, len(m.Facets)*3)
		for _, f := range m.Facets {
			for _, i := range f {
				uvs = append(uvs, renderer.F(m.UVMap[i].X)+" "+renderer.F(m.UVMap[i].Y))
			}
		}
		fmt.Fprintf(&b, " UV=\"%s\"", strings.Join(uvs, "  "))
	}
	b.WriteString(" />\n    </transform>\n</state>\n")
	fmt.Fprintf(&b, "<!-- ~Object '%s' -->\n", esc(name))
	return b.String(), nil
}

// emissive writes an emission shader and the state that applies it to a
// light.
func emissive(name string, c [3]float64, strength float64, light string) string {
	shader := renderer.Identifier(name) + "_shader"
	return fmt.Sprintf(`<!-- Light '%[1]s' -->
<shader name="%[2]s">
    <emission name="emit" color="%[3]s" strength="%[4]s" />
    <connect from="emit emission" to="output surface" />
</shader>
<state shader="%[2]s">
    %[5]s
</state>
`, esc(name), shader, renderer.F(c[0])+" "+renderer.F(c[1])+" "+renderer.F(c[2]), renderer.F(strength), light)
}

func (Plugin) WritePointLight(name string, l renderer.PointLight) (string, error) {
	light := fmt.Sprintf(`<light light_type="point" co="%s" size="0.01" />`, renderer.V(l.Position))
	return emissive(name, [3]float64{l.Color.R, l.Color.G, l.Color.B}, l.Power, light), nil
}

func (Plugin) WriteAreaLight(name string, l renderer.AreaLight) (string, error) {
	p := l.Placement
	u := p.Rotation.Rotate(math.Vec3{X: 1})
	v := p.Rotation.Rotate(math.Vec3{Y: 1})
	dir := p.Rotation.Rotate(math.Vec3{Z: -1})
	light := fmt.Sprintf(`<light light_type="area" co="%s" axisu="%s" axisv="%s" sizeu="%s" sizev="%s" dir="%s" is_portal="false" />`,
		renderer.V(p.Base), renderer.V(u), renderer.V(v), renderer.F(l.SizeU), renderer.F(l.SizeV), renderer.V(dir))
	return emissive(name, [3]float64{l.Color.R, l.Color.G, l.Color.B}, l.Power, light), nil
}

// WriteSunSkyLight writes a Hosek-Wilkie sky background and a sun.
func (Plugin) WriteSunSkyLight(name string, l renderer.SunSkyLight) (string, error) {
	d := l.Direction.Normalize()
	return fmt.Sprintf(`<!-- Sun-sky light '%[1]s' -->
<background>
    <sky_texture name="sky" sky_type="hosek_wilkie" sun_direction="%[2]s" turbidity="%[3]s" ground_albedo="%[4]s" />
    <background name="bg" strength="%[5]s" />
    <connect from="sky color" to="bg color" />
    <connect from="bg background" to="output surface" />
</background>
`, esc(name), renderer.V(d), renderer.F(l.Turbidity), renderer.F(l.Albedo), renderer.F(l.SkyIntensity)) +
		emissive(name+"_sun", [3]float64{1, 1, 1}, l.SunIntensity,
			fmt.Sprintf(`<light light_type="distant" dir="%s" angle="0.0093" />`, renderer.V(d.Scale(-1)))), nil
}

func (Plugin) WriteImageLight(name string, l renderer.ImageLight) (string, error) {
	return fmt.Sprintf(`<!-- Image light '%[1]s' -->
<background>
    <environment_texture name="env" filename="%[2]s" />
    <background name="bg" strength="1" />
    <connect from="env color" to="bg color" />
    <connect from="bg background" to="output surface" />
</background>
`, esc(name), esc(l.Image)), nil
}

func (Plugin) WriteDistantLight(name string, l renderer.DistantLight) (string, error) {
	light := fmt.Sprintf(`<light light_type="distant" dir="%s" angle="%s" />`,
		renderer.V(l.Direction.Normalize().Scale(-1)), renderer.F(rad(l.Angle)))
	return emissive(name, [3]float64{l.Color.R, l.Color.G, l.Color.B}, l.Power, light), nil
}

// graph writes shader nodes. Node names are prefixed to stay unique
// inside a shader.
type graph struct {
	b   *strings.Builder
	obj string
}

func (g *graph) node(kind, name string, attrs ...string) {
	fmt.Fprintf(g.b, "    <%s name=\"%s\"", kind, name)
	for i := 0; i+1 < len(attrs); i += 2 {
		fmt.Fprintf(g.b, " %s=\"%s\"", attrs[i], attrs[i+1])
	}
	g.b.WriteString(" />\n")
}

func (g *graph) connect(from, to string) {
	fmt.Fprintf(g.b, "    <connect from=\"%s\" to=\"%s\" />\n", from, to)
}

// input sets socket of node from parameter param of s: constants become
// attributes, textures become image_texture nodes.
type input struct {
	socket, param string
}

// closure writes the nodes for s and returns the output socket.
func (g *graph) closure(prefix string, s *material.Shader) string {
	switch s.Type {
	case material.KindGlass:
		return g.bsdf(prefix, "glass_bsdf", s, input{"color", "Color"}, input{"IOR", "IOR"})
	case material.KindDiffuse:
		return g.bsdf(prefix, "diffuse_bsdf", s, input{"color", "Color"})
	case material.KindDisney:
		return g.bsdf(prefix, "principled_bsdf", s,
			input{"base_color", "BaseColor"},
			input{"subsurface_weight", "Subsurface"},
			input{"metallic", "Metallic"},
			input{"specular_ior_level", "Specular"},
			input{"specular_tint", "SpecularTint"},
			input{"roughness", "Roughness"},
			input{"anisotropic", "Anisotropic"},
			input{"sheen_weight", "Sheen"},
			input{"sheen_tint", "SheenTint"},
			input{"coat_weight", "Clearcoat"},
			input{"coat_roughness", "ClearcoatGloss"},
		)
	case material.KindMixed:
		glass := g.closure(prefix+"_glass", s.Sub(material.KindGlass))
		diffuse := g.closure(prefix+"_diffuse", s.Sub(material.KindDiffuse))
		mix := prefix + "_mix"
		g.node("mix_closure", mix, "fac", renderer.F(s.Float("Transparency")))
		g.connect(diffuse, mix+" closure1")
		g.connect(glass, mix+" closure2")
		return mix + " closure"
	case material.KindEmission:
		return g.bsdf(prefix, "emission", s, input{"color", "Color"}, input{"strength", "Power"})
	case material.KindPassthrough:
		g.b.WriteString(s.PassthroughText(prefix))
		g.b.WriteByte('\n')
		return prefix + " bsdf"
	default:
		c := s.DefaultColor
		g.node("diffuse_bsdf", prefix, "color", renderer.C(c))
		return prefix + " bsdf"
	}
}

// bsdf writes a closure node with its inputs and returns its output.
func (g *graph) bsdf(name, kind string, s *material.Shader, inputs ...input) string {
	var attrs []string
	var links [][2]string
	for _, in := range inputs {
		r, ok := s.Get(in.param)
		if !ok {
			continue
		}
		v := r.Float
		if in.param == "ClearcoatGloss" {
			v = 1 - v
		}
		switch {
		case r.IsTexture():
			tex := g.texture(name+"_"+in.socket, r)
			links = append(links, [2]string{tex, name + " " + in.socket})
		case r.Type == material.TypeRGB:
			attrs = append(attrs, in.socket, renderer.C(r.Color))
		default:
			attrs = append(attrs, in.socket, renderer.F(v))
		}
	}
	g.node(kind, name, attrs...)
	for _, l := range links {
		g.connect(l[0], l[1])
	}
	if t := s.Texture("Bump"); t != nil {
		tex := g.texture(name+"_bumptex", material.Resolved{Type: material.TypeFloat, Texture: t})
		g.node("bump", name+"_bump", "strength", renderer.F(s.BumpFactor()))
		g.connect(tex, name+"_bump height")
		g.connect(name+"_bump normal", name+" normal")
	}
	if kind == "emission" {
		return name + " emission"
	}
	return name + " bsdf"
}

// texture writes an image texture node with its uv mapping and returns
// the output socket.
func (g *graph) texture(name string, r material.Resolved) string {
	t := r.Texture
	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	space := "sRGB"
	if r.Type != material.TypeRGB {
		space = "Non-Color"
	}
	g.node("texture_coordinate", name+"_coord")
	g.node("mapping", name+"_map",
		"location", renderer.F(t.TranslateU)+" "+renderer.F(t.TranslateV)+" 0",
		"rotation", "0 0 "+renderer.F(rad(t.Rotation)),
		"scale", renderer.F(1/scale)+" "+renderer.F(1/scale)+" 1")
	g.node("image_texture", name, "filename", esc(t.File), "colorspace", space)
	g.connect(name+"_coord UV", name+"_map vector")
	g.connect(name+"_map vector", name+" vector")
	if r.Type == material.TypeRGB {
		return name + " color"
	}
	return name + " alpha"
}

var cameraBlock = regexp.MustCompile(`(?m)^<!-- Camera[\s\S]*?<!-- ~Camera.*$\n?`)

var rootTag = regexp.MustCompile(`<cycles>\n?`)

// Render keeps the last camera, right after the root element, expands
// the frame size macros and runs Cycles.
func (Plugin) Render(req renderer.RenderRequest) (renderer.Command, error) {
	if req.Executable == "" {
		return renderer.Command{}, renderer.ErrNoExecutable
	}
	err := renderer.RewriteFile(req.Input, func(text string) (string, error) {
		rest, cam, ok := renderer.KeepLastBlock(text, cameraBlock)
		if !ok {
			return "", renderer.ErrNoCamera
		}
		if loc := rootTag.FindStringIndex(rest); loc != nil {
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
	args := []string{"--output", output}
	if req.Batch {
		args = append(args, "--background")
	}
	args = append(args, "--width", strconv.Itoa(req.Width), "--height", strconv.Itoa(req.Height))
	if req.Spp > 0 {
		args = append(args, "--samples", strconv.Itoa(req.Spp))
	}
	args = append(args, req.Input)
	cmd, err := renderer.BuildCommand(req.Prefix, req.Executable, req.Parameters, args...)
	if err != nil {
		return renderer.Command{}, err
	}
	return renderer.Command{Args: cmd, Image: output}, nil
}
