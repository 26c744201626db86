// Package ospray writes scene graphs (.sg) for OSPRay Studio.
//
// OSPRay Studio is y up: positions and directions are rotated -90 degrees
// about x. Objects are imported from the exported OBJ files with an MTL
// library written next to them; area lights get their own OBJ/MTL pair and
// image lights go through a glTF background.
package ospray

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	gomath "math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/renderer"
	"github.com/Faultbox/raybridge/internal/scene"
	"github.com/Faultbox/raybridge/pkg/math"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

func init() {
	renderer.Register(Plugin{})
}

// yUp maps (x, y, z) to (x, z, -y).
var yUp = math.Mat4{
	1, 0, 0, 0,
	0, 0, -1, 0,
	0, 1, 0, 0,
	0, 0, 0, 1,
}

// Plugin is the OSPRay Studio renderer plugin.
type Plugin struct{}

func (Plugin) Name() string { return "Ospray" }

func (Plugin) TemplateFilter() string { return "Ospray templates (ospray_*.sg)" }

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

// node is a scene graph node.
type node struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	SubType     string `json:"subType,omitempty"`
	SgOnly      *bool  `json:"sgOnly,omitempty"`
	Value       any    `json:"value,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Children    []node `json:"children,omitempty"`
}

func param(name, subType string, v any) node {
	sgOnly := false
	return node{Name: name, Type: "PARAMETER", SubType: subType, SgOnly: &sgOnly, Value: v}
}

func vec(v math.Vec3) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// fragment formats a node as an element of a children array. JSON has no
// NaN or infinity, so non-finite values fail here.
func fragment(name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ospray: encoding '%s': %w", name, err)
	}
	return string(data) + ",\n", nil
}

func importer(name, file string, children ...node) (string, error) {
	return fragment(name, node{Name: name, Type: "IMPORTER", Filename: filepath.ToSlash(file), Children: children})
}

func lights(l node) (string, error) {
	return fragment(l.Name, node{Name: "lights", Type: "LIGHTS", SubType: "lights", Children: []node{l}})
}

// auxDir returns where auxiliary files go.
func auxDir(dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

type affine struct {
	Affine [3]float64 `json:"affine"`
	Linear struct {
		X [3]float64 `json:"x"`
		Y [3]float64 `json:"y"`
		Z [3]float64 `json:"z"`
	} `json:"linear"`
}

func toAffine(m math.Mat4) affine {
	var a affine
	a.Affine = [3]float64{m.At(0, 3), m.At(1, 3), m.At(2, 3)}
	a.Linear.X = [3]float64{m.At(0, 0), m.At(1, 0), m.At(2, 0)}
	a.Linear.Y = [3]float64{m.At(0, 1), m.At(1, 1), m.At(2, 1)}
	a.Linear.Z = [3]float64{m.At(0, 2), m.At(1, 2), m.At(2, 2)}
	return a
}

type cameraNode struct {
	node
	CameraToWorld affine `json:"cameraToWorld"`
}

func (Plugin) WriteCamera(name string, cam renderer.Camera) (string, error) {
	r := yUp.Mul(cam.Rotation.ToMat4())
	c := cameraNode{node: node{Name: name, Type: "CAMERA", SubType: "camera_perspective"}}
	c.Children = []node{
		param("fovy", "float", cam.FOV),
		param("aspect", "float", cam.AspectRatio()),
	}
	if cam.Projection == scene.Orthographic {
		c.SubType = "camera_orthographic"
		c.Children = []node{
			param("height", "float", cam.OrthoHeight),
			param("aspect", "float", cam.AspectRatio()),
		}
	}
	c.CameraToWorld = toAffine(r)
	c.CameraToWorld.Affine = vec(yUp.TransformPoint(cam.Position))
	text, err := fragment(name, c)
	if err != nil {
		return "", err
	}
	return `"camera": ` + text, nil
}

// OBJOptions makes the exported meshes use the material library written
// by WriteObject.
func (Plugin) OBJOptions(name string) mesh.OBJOptions {
	return mesh.OBJOptions{
		Name:    renderer.Identifier(name),
		MtlLib:  renderer.FileName(name) + ".mtl",
		MtlName: "material",
	}
}

// WriteObject writes the material library of the exported OBJ file and
// imports it under a transform carrying the placement.
func (p Plugin) WriteObject(name string, obj renderer.Object) (string, error) {
	if obj.OBJFile == "" || obj.Dir == "" {
		return "", fmt.Errorf("%w: ospray imports meshes from files", renderer.ErrNoObjectDir)
	}
	if err := os.MkdirAll(obj.Dir, 0o755); err != nil {
		return "", err
	}
	mtl := filepath.Join(obj.Dir, p.OBJOptions(name).MtlLib)
	if err := os.WriteFile(mtl, []byte(writeMaterial(name, obj.Shader)), 0o644); err != nil {
		return "", err
	}
	xfm := node{
		Name:    "xfm",
		Type:    "TRANSFORM",
		SubType: "transform",
		Value:   toAffine(yUp.Mul(obj.Mesh.Placement)),
	}
	return importer(name, filepath.Join(obj.Dir, filepath.Base(obj.OBJFile)), xfm)
}

func (Plugin) WritePointLight(name string, l renderer.PointLight) (string, error) {
	visible := param("visible", "bool", true)
	visible.Description = "whether the light can be seen directly"
	return lights(node{
		Name:    name,
		Type:    "LIGHT",
		SubType: "sphere",
		Children: []node{
			visible,
			param("intensity", "float", l.Power),
			param("color", "rgb", [3]float64{l.Color.R, l.Color.G, l.Color.B}),
			param("position", "vec3f", vec(yUp.TransformPoint(l.Position))),
		},
	})
}

// WriteAreaLight writes a luminous quad. OSPRay expects a radiance, so
// power is divided by the area.
func (Plugin) WriteAreaLight(name string, l renderer.AreaLight) (string, error) {
	dir, err := auxDir(l.Dir)
	if err != nil {
		return "", err
	}
	base := filepath.Join(dir, renderer.FileName(name)+"_osp")
	transparency := 0.0
	if l.Transparent {
		transparency = 1
	}
	radiance := 0.0
	if area := l.SizeU * l.SizeV; area > 0 {
		radiance = l.Power / area / 1000
	}
	mtl := fmt.Sprintf("# Written by raybridge\nnewmtl material\ntype luminous\ncolor %s\nintensity %s\ntransparency %s\n",
		renderer.C(l.Color), renderer.F(radiance), renderer.F(transparency))
	if err := os.WriteFile(base+".mtl", []byte(mtl), 0o644); err != nil {
		return "", err
	}

	u, v := l.SizeU/2, l.SizeV/2
	quad := mesh.New(
		[]math.Vec3{{X: -u, Y: -v}, {X: u, Y: -v}, {X: u, Y: v}, {X: -u, Y: v}},
		[]mesh.Facet{{0, 1, 2}, {0, 2, 3}},
	)
	quad.VNormals = []math.Vec3{{Z: 1}, {Z: 1}, {Z: 1}, {Z: 1}}
	quad.Placement = yUp.Mul(l.Placement.Matrix())
	err = quad.WriteOBJFile(base+".obj", mesh.OBJOptions{
		Name:    renderer.Identifier(name),
		MtlLib:  filepath.Base(base) + ".mtl",
		MtlName: "material",
	})
	if err != nil {
		return "", err
	}
	return importer(name, base+".obj")
}

// WriteSunSkyLight places the sun by elevation and azimuth; north is +z
// and east +x in OSPRay coordinates.
func (Plugin) WriteSunSkyLight(name string, l renderer.SunSkyLight) (string, error) {
	d := yUp.TransformDirection(l.Direction)
	elevation, azimuth := 0.0, 0.0
	if n := d.Length(); n > 0 {
		elevation = gomath.Asin(d.Y/n) * 180 / gomath.Pi
		azimuth = gomath.Atan2(d.X, d.Z) * 180 / gomath.Pi
	}
	return lights(node{
		Name:        name,
		Description: "Sunsky light",
		Type:        "LIGHT",
		SubType:     "sunSky",
		Children: []node{
			param("visible", "bool", true),
			param("intensity", "float", 0.05*l.SunIntensity),
			param("color", "rgb", [3]float64{1, 1, 1}),
			param("up", "vec3f", [3]float64{0, 1, 0}),
			param("right", "vec3f", [3]float64{1, 0, 0}),
			param("elevation", "float", elevation),
			param("azimuth", "float", azimuth),
			param("turbidity", "float", l.Turbidity),
			param("albedo", "float", l.Albedo),
		},
	})
}

type gltfScene struct {
	Name  string `json:"name"`
	Nodes []int  `json:"nodes"`
}

// gltfBackground is a glTF scene with only a background image; OSPRay
// Studio does not import environment textures directly.
type gltfBackground struct {
	Asset struct {
		Generator string `json:"generator"`
		Version   string `json:"version"`
	} `json:"asset"`
	Scene      int         `json:"scene"`
	Scenes     []gltfScene `json:"scenes"`
	Extensions struct {
		Background struct {
			URI      string     `json:"background-uri"`
			Rotation [4]float64 `json:"rotation"`
		} `json:"BIT_scene_background"`
	} `json:"extensions"`
}

func (Plugin) WriteImageLight(name string, l renderer.ImageLight) (string, error) {
	dir, err := auxDir(l.Dir)
	if err != nil {
		return "", err
	}
	file := filepath.Join(dir, renderer.FileName(name)+"_osp.gltf")
	// the background uri is relative to the gltf file
	rel, err := filepath.Rel(dir, l.Image)
	if err != nil {
		rel = l.Image
	}

	var g gltfBackground
	g.Asset.Generator = "raybridge"
	g.Asset.Version = "2.0"
	g.Scenes = []gltfScene{{Name: "scene", Nodes: []int{}}}
	g.Extensions.Background.URI = filepath.ToSlash(rel)
	g.Extensions.Background.Rotation = [4]float64{0, gomath.Sqrt2 / 2, 0, gomath.Sqrt2 / 2}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return "", err
	}
	return importer(name, file)
}

func (Plugin) WriteDistantLight(name string, l renderer.DistantLight) (string, error) {
	return lights(node{
		Name:    name,
		Type:    "LIGHT",
		SubType: "distant",
		Children: []node{
			param("visible", "bool", true),
			param("intensity", "float", l.Power),
			param("color", "rgb", [3]float64{l.Color.R, l.Color.G, l.Color.B}),
			param("direction", "vec3f", vec(yUp.TransformDirection(l.Direction.Scale(-1)))),
			param("angularDiameter", "float", l.Angle),
		},
	})
}

// fields maps shader parameters to MTL fields. Empty names are not
// supported by OSPRay.
var fields = map[string]string{
	"Diffuse.Color":         "baseColor",
	"Disney.BaseColor":      "baseColor",
	"Disney.Subsurface":     "",
	"Disney.SpecularTint":   "",
	"Disney.Anisotropic":    "anisotropy",
	"Disney.SheenTint":      "sheenTint",
	"Disney.Clearcoat":      "coat",
	"Disney.ClearcoatGloss": "coatRoughness",
	"Glass.Color":           "transmissionColor",
	"Glass.IOR":             "ior",
	"Carpaint.BaseColor":    "baseColor",
	"Emission.Color":        "color",
	"Emission.Power":        "intensity",
}

// untextured lists parameters whose textures OSPRay ignores.
var untextured = map[string]bool{
	"ClearcoatGloss": true,
	"IOR":            true,
	"Subsurface":     true,
	"SpecularTint":   true,
	"Bump":           true,
	"Displacement":   true,
}

// mtlWriter accumulates MTL statements and texture maps.
type mtlWriter struct {
	b    strings.Builder
	maps strings.Builder
}

func (w *mtlWriter) line(format string, args ...any) {
	fmt.Fprintf(&w.b, format+"\n", args...)
}

func writeMaterial(name string, s *material.Shader) string {
	var w mtlWriter
	w.line("# Written by raybridge")
	w.line("newmtl material")
	w.material(name, s)
	return w.b.String() + w.maps.String()
}

func (w *mtlWriter) material(name string, s *material.Shader) {
	switch s.Type {
	case material.KindPassthrough:
		w.line("%s", s.PassthroughText(name))
	case material.KindGlass:
		w.line("type principled")
		w.values(s, "IOR", "Color")
		w.line("transmission 1\nspecular 1\nmetallic 0\ndiffuse 0\nopacity 1")
	case material.KindDisney:
		w.line("type principled")
		w.values(s, "BaseColor", "Metallic", "Specular", "Roughness", "Anisotropic",
			"Sheen", "SheenTint", "Clearcoat", "ClearcoatGloss", "Normal")
	case material.KindDiffuse:
		w.line("type principled")
		w.values(s, "Color")
		w.line("metallic 0\nspecular 0\ndiffuse 1")
	case material.KindMixed:
		t := s.Float("Transparency")
		w.line("type principled")
		w.values(s.Sub(material.KindDiffuse), "Color")
		w.values(s.Sub(material.KindGlass), "IOR")
		w.line("transmission %s", renderer.F(t))
		w.values(s.Sub(material.KindGlass), "Color")
		w.line("opacity %s", renderer.F(1-t))
		w.line("specular 0.5")
	case material.KindCarpaint:
		w.line("type carPaint")
		w.values(s, "BaseColor")
	case material.KindEmission:
		w.line("type luminous")
		w.values(s, "Color", "Power")
	default:
		c := s.DefaultColor
		w.line("type obj")
		w.line("kd %s", renderer.C(c))
		w.line("ns 2")
	}
}

// values writes the named parameters of s; textured parameters get a
// neutral factor and a texture map.
func (w *mtlWriter) values(s *material.Shader, params ...string) {
	for _, name := range params {
		r, ok := s.Get(name)
		if !ok {
			continue
		}
		field, mapped := fields[s.Type+"."+name]
		if !mapped {
			field = strings.ToLower(name[:1]) + name[1:]
		}
		if field == "" {
			continue
		}
		v := r.Float
		if name == "ClearcoatGloss" {
			v = 1 - v
		}
		switch {
		case r.IsTexture() && !untextured[name]:
			w.texture(field, r)
		case r.Type == material.TypeRGB:
			w.line("%s %s", field, renderer.C(r.Color))
		case r.Type == material.TypeFloat:
			w.line("%s %s", field, renderer.F(v))
		}
	}
}

func (w *mtlWriter) texture(field string, r material.Resolved) {
	t := r.Texture
	factor := "1"
	switch {
	case r.Type == material.TypeRGB:
		factor = "1 1 1"
	case r.Name == "Normal":
		factor = "4"
	}
	w.line("%s %s", field, factor)
	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	m := "map_" + field
	fmt.Fprintf(&w.maps, "# Texture %s\n", field)
	fmt.Fprintf(&w.maps, "%s %s\n", m, filepath.ToSlash(t.File))
	fmt.Fprintf(&w.maps, "%s.rotation %s\n", m, renderer.F(t.Rotation))
	fmt.Fprintf(&w.maps, "%s.scale %s %[2]s\n", m, renderer.F(scale))
	fmt.Fprintf(&w.maps, "%s.translation %s %s\n", m, renderer.F(t.TranslateU), renderer.F(t.TranslateV))
}

var trailingComma = regexp.MustCompile(`,(\s*[\]}])`)

// Render moves the last camera to the document root, merges the light
// groups into the lights manager and returns the OSPRay Studio command.
// OSPRay Studio numbers its output, so the image path gets a frame
// suffix.
func (Plugin) Render(req renderer.RenderRequest) (renderer.Command, error) {
	if req.Executable == "" {
		return renderer.Command{}, renderer.ErrNoExecutable
	}
	if err := renderer.RewriteFile(req.Input, reformat); err != nil {
		return renderer.Command{}, err
	}

	output := req.Output
	if output == "" {
		output = renderer.DefaultOutput(req.Input)
	}
	base := strings.TrimSuffix(output, filepath.Ext(output))
	image := base + ".0000.png"
	// an existing file makes OSPRay Studio pick another name
	if err := os.Remove(image); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return renderer.Command{}, err
	}

	cmd, err := renderer.BuildCommand(req.Prefix, req.Executable, req.Parameters, "--image", base, req.Input)
	if err != nil {
		return renderer.Command{}, err
	}
	return renderer.Command{Args: cmd, Image: image}, nil
}

func reformat(text string) (string, error) {
	var rest strings.Builder
	var camera string
	lines := strings.SplitAfter(text, "\n")
	for i := 0; i < len(lines); i++ {
		if !strings.Contains(lines[i], `"camera"`) {
			rest.WriteString(lines[i])
			continue
		}
		block := lines[i]
		depth := strings.Count(block, "{") - strings.Count(block, "}")
		for depth > 0 && i+1 < len(lines) {
			i++
			block += lines[i]
			depth += strings.Count(lines[i], "{") - strings.Count(lines[i], "}")
		}
		camera = block
	}

	doc := rest.String()
	if camera != "" {
		if i := strings.Index(doc, "{"); i >= 0 {
			camera = strings.TrimRight(strings.TrimSpace(camera), ",")
			doc = doc[:i+1] + "\n" + camera + "," + doc[i+1:]
		}
	}
	doc = trailingComma.ReplaceAllString(doc, "$1")

	var root map[string]any
	if err := json.Unmarshal([]byte(doc), &root); err != nil {
		return "", fmt.Errorf("parsing scene graph: %w", err)
	}
	mergeLights(root)
	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

// mergeLights moves the children of LIGHTS groups in the world into the
// lights manager.
func mergeLights(root map[string]any) {
	world, _ := root["world"].(map[string]any)
	if world == nil {
		return
	}
	children, _ := world["children"].([]any)
	kept := make([]any, 0, len(children))
	var found []any
	for _, c := range children {
		if n, ok := c.(map[string]any); ok && n["type"] == "LIGHTS" {
			sub, _ := n["children"].([]any)
			found = append(found, sub...)
			continue
		}
		kept = append(kept, c)
	}
	world["children"] = kept
	if len(found) == 0 {
		return
	}
	mgr, _ := root["lightsManager"].(map[string]any)
	if mgr == nil {
		mgr = map[string]any{"name": "lights", "type": "LIGHTS", "subType": "lights"}
		root["lightsManager"] = mgr
	}
	existing, _ := mgr["children"].([]any)
	mgr["children"] = append(existing, found...)
}
