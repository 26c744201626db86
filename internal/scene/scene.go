// Package scene is the scene source of a render: the objects, lights,
// cameras and materials of a CAD document, read from a YAML or TOML scene
// file.
package scene

import (
	"errors"
	"fmt"
	gomath "math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/math"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

var (
	ErrUnknownFormat   = errors.New("unknown scene format")
	ErrObjectNotFound  = errors.New("object not found")
	ErrDuplicateObject = errors.New("duplicate object name")
	ErrNoGeometry      = errors.New("object has no geometry")
)

// Source is what the exporter needs from a CAD document.
type Source interface {
	Object(name string) (*Object, bool)
	Material(name string) (*material.Material, bool)
}

// Placement is a placement as written in scene files: a base point and a
// rotation given either as a quaternion or as an axis and an angle in
// degrees.
type Placement struct {
	Base     math.Vec3  `yaml:"base" toml:"base"`
	Rotation *math.Quat `yaml:"rotation,omitempty" toml:"rotation,omitempty"`
	Axis     *math.Vec3 `yaml:"axis,omitempty" toml:"axis,omitempty"`
	Angle    float64    `yaml:"angle,omitempty" toml:"angle,omitempty"`
}

// Resolve returns the rigid transform.
func (p Placement) Resolve() math.Placement {
	out := math.Placement{Base: p.Base, Rotation: math.QuatIdentity()}
	switch {
	case p.Rotation != nil && *p.Rotation != (math.Quat{}):
		out.Rotation = p.Rotation.Normalize()
	case p.Axis != nil && p.Angle != 0:
		out.Rotation = math.QuatFromAxisAngle(*p.Axis, p.Angle*gomath.Pi/180)
	}
	return out
}

// Matrix returns the placement matrix.
func (p Placement) Matrix() math.Mat4 { return p.Resolve().Matrix() }

// MeshData is triangulated geometry, inline or in an OBJ file.
type MeshData struct {
	Points [][3]float64 `yaml:"points,omitempty" toml:"points,omitempty"`
	Facets [][3]int     `yaml:"facets,omitempty" toml:"facets,omitempty"`
	File   string       `yaml:"file,omitempty" toml:"file,omitempty"`
}

// Element is a member of a link group or of an expanded link array.
type Element struct {
	Name      string    `yaml:"name" toml:"name"`
	Object    string    `yaml:"object" toml:"object"`
	Placement Placement `yaml:"placement" toml:"placement"`
	Hidden    bool      `yaml:"hidden,omitempty" toml:"hidden,omitempty"`
}

// Object is a scene object. Exactly one of the kind-specific parts is
// expected to be set; Kind reports which.
type Object struct {
	Name  string `yaml:"name" toml:"name"`
	Label string `yaml:"label,omitempty" toml:"label,omitempty"`
	// Hidden objects are skipped inside parts.
	Hidden    bool      `yaml:"hidden,omitempty" toml:"hidden,omitempty"`
	Placement Placement `yaml:"placement" toml:"placement"`
	// Color is the sRGB display color, "(r,g,b)".
	Color string `yaml:"color,omitempty" toml:"color,omitempty"`
	// Transparency is the display transparency, 0..100.
	Transparency float64 `yaml:"transparency,omitempty" toml:"transparency,omitempty"`
	Material     string  `yaml:"material,omitempty" toml:"material,omitempty"`

	// Shapes and meshes.
	Mesh *MeshData `yaml:"mesh,omitempty" toml:"mesh,omitempty"`
	// IsMesh marks an already meshed object; its color does not come from
	// faces.
	IsMesh bool `yaml:"is_mesh,omitempty" toml:"is_mesh,omitempty"`
	// Faces, when colored individually, are exported one by one.
	Faces      []MeshData `yaml:"faces,omitempty" toml:"faces,omitempty"`
	FaceColors []string   `yaml:"face_colors,omitempty" toml:"face_colors,omitempty"`

	// Parts and compounds.
	Group []string `yaml:"group,omitempty" toml:"group,omitempty"`

	// Arrays.
	Base          string      `yaml:"base,omitempty" toml:"base,omitempty"`
	Placements    []Placement `yaml:"placements,omitempty" toml:"placements,omitempty"`
	LinkTransform bool        `yaml:"link_transform,omitempty" toml:"link_transform,omitempty"`

	// Links and link groups.
	Link     string    `yaml:"link,omitempty" toml:"link,omitempty"`
	Elements []Element `yaml:"elements,omitempty" toml:"elements,omitempty"`

	Camera       *Camera       `yaml:"camera,omitempty" toml:"camera,omitempty"`
	PointLight   *PointLight   `yaml:"pointlight,omitempty" toml:"pointlight,omitempty"`
	AreaLight    *AreaLight    `yaml:"arealight,omitempty" toml:"arealight,omitempty"`
	SunSkyLight  *SunSkyLight  `yaml:"sunskylight,omitempty" toml:"sunskylight,omitempty"`
	ImageLight   *ImageLight   `yaml:"imagelight,omitempty" toml:"imagelight,omitempty"`
	DistantLight *DistantLight `yaml:"distantlight,omitempty" toml:"distantlight,omitempty"`

	// Renderer holds renderer specific parameters, by renderer name.
	Renderer map[string]map[string]string `yaml:"renderer,omitempty" toml:"renderer,omitempty"`

	mesh *mesh.Mesh
}

// Kind classifies an object.
type Kind int

const (
	KindUnknown Kind = iota
	KindShape
	KindMesh
	KindPart
	KindArray
	KindLink
	KindLinkGroup
	KindCamera
	KindPointLight
	KindAreaLight
	KindSunSkyLight
	KindImageLight
	KindDistantLight
)

var kindNames = [...]string{
	"unknown", "shape", "mesh", "part", "array", "link", "linkgroup",
	"camera", "pointlight", "arealight", "sunskylight", "imagelight", "distantlight",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kind reports what the object is.
func (o *Object) Kind() Kind {
	switch {
	case o.Camera != nil:
		return KindCamera
	case o.PointLight != nil:
		return KindPointLight
	case o.AreaLight != nil:
		return KindAreaLight
	case o.SunSkyLight != nil:
		return KindSunSkyLight
	case o.ImageLight != nil:
		return KindImageLight
	case o.DistantLight != nil:
		return KindDistantLight
	case o.Base != "":
		return KindArray
	case o.Link != "":
		return KindLink
	case len(o.Elements) > 0:
		return KindLinkGroup
	case len(o.Group) > 0:
		return KindPart
	case o.IsMesh && o.Mesh != nil:
		return KindMesh
	case o.Mesh != nil || len(o.Faces) > 0:
		return KindShape
	}
	return KindUnknown
}

// IsRenderable reports whether the exporter knows how to handle the
// object.
func (o *Object) IsRenderable() bool { return o.Kind() != KindUnknown }

// DisplayLabel returns the label, or the name when there is none.
func (o *Object) DisplayLabel() string {
	if o.Label != "" {
		return o.Label
	}
	return o.Name
}

// DisplayColor returns the object color with alpha from its transparency.
func (o *Object) DisplayColor() color.RGB {
	c := color.White
	if o.Color != "" {
		if parsed, err := color.Parse(o.Color); err == nil {
			c = parsed
		}
	}
	return c.WithTransparency(o.Transparency)
}

// Geometry returns the object mesh in its local frame, with the object
// placement. The result is shared; callers copy before modifying.
func (o *Object) Geometry() (*mesh.Mesh, error) {
	if o.mesh != nil {
		return o.mesh, nil
	}
	if o.Mesh == nil {
		return nil, fmt.Errorf("%s: %w", o.Name, ErrNoGeometry)
	}
	m, err := o.Mesh.build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.Name, err)
	}
	m.Placement = o.Placement.Matrix()
	o.mesh = m
	return m, nil
}

func (d MeshData) build() (*mesh.Mesh, error) {
	if d.File != "" && len(d.Points) == 0 {
		m, _, err := mesh.ReadOBJFile(d.File)
		return m, err
	}
	points := make([]math.Vec3, len(d.Points))
	for i, p := range d.Points {
		points[i] = math.Vec3{X: p[0], Y: p[1], Z: p[2]}
	}
	facets := make([]mesh.Facet, len(d.Facets))
	for i, f := range d.Facets {
		facets[i] = mesh.Facet(f)
	}
	m := mesh.New(points, facets)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MaterialSpec declares a material, inline or as a card file.
type MaterialSpec struct {
	Name string `yaml:"name" toml:"name"`
	Card string `yaml:"card,omitempty" toml:"card,omitempty"`
	// Inline definition: Type is the render type; Params maps
	// "Kind.Param" to card values.
	Type         string            `yaml:"type,omitempty" toml:"type,omitempty"`
	Father       string            `yaml:"father,omitempty" toml:"father,omitempty"`
	Params       map[string]string `yaml:"params,omitempty" toml:"params,omitempty"`
	Textures     map[string]TextureSpec `yaml:"textures,omitempty" toml:"textures,omitempty"`
	Passthrough  map[string]string `yaml:"passthrough,omitempty" toml:"passthrough,omitempty"`
	DiffuseColor string            `yaml:"diffuse_color,omitempty" toml:"diffuse_color,omitempty"`
	Transparency float64           `yaml:"transparency,omitempty" toml:"transparency,omitempty"`
}

// TextureSpec declares a texture of an inline material.
type TextureSpec struct {
	Images     map[int]string `yaml:"images" toml:"images"`
	Rotation   float64        `yaml:"rotation,omitempty" toml:"rotation,omitempty"`
	Scale      float64        `yaml:"scale,omitempty" toml:"scale,omitempty"`
	TranslateU float64        `yaml:"translate_u,omitempty" toml:"translate_u,omitempty"`
	TranslateV float64        `yaml:"translate_v,omitempty" toml:"translate_v,omitempty"`
}

// Document is a scene file.
type Document struct {
	Path      string          `yaml:"-" toml:"-"`
	Objects   []*Object       `yaml:"objects" toml:"objects"`
	Materials []*MaterialSpec `yaml:"materials,omitempty" toml:"materials,omitempty"`

	objects   map[string]*Object
	materials map[string]*material.Material
}

// Decode reads a YAML or TOML file, chosen by extension, into v.
func Decode(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	case ".toml":
		err = toml.Unmarshal(data, v)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Load reads a scene file. Relative mesh, card and image paths are
// resolved against its directory.
func Load(path string) (*Document, error) {
	doc := &Document{}
	if err := Decode(path, doc); err != nil {
		return nil, err
	}
	doc.Path = path
	if err := doc.Index(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Dir returns the directory relative paths resolve against.
func (d *Document) Dir() string {
	if d.Path == "" {
		return "."
	}
	return filepath.Dir(d.Path)
}

func (d *Document) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.Dir(), filepath.FromSlash(p))
}

// Index validates names and builds the lookup tables. It must be called
// after the document is modified.
func (d *Document) Index() error {
	d.objects = make(map[string]*Object, len(d.Objects))
	for _, o := range d.Objects {
		if o.Name == "" {
			return fmt.Errorf("object with empty name")
		}
		if _, dup := d.objects[o.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateObject, o.Name)
		}
		if o.Mesh != nil {
			o.Mesh.File = d.abs(o.Mesh.File)
		}
		for i := range o.Faces {
			o.Faces[i].File = d.abs(o.Faces[i].File)
		}
		if o.ImageLight != nil {
			o.ImageLight.Image = d.abs(o.ImageLight.Image)
		}
		o.mesh = nil
		d.objects[o.Name] = o
	}

	d.materials = make(map[string]*material.Material, len(d.Materials))
	for _, spec := range d.Materials {
		mat, err := d.buildMaterial(spec)
		if err != nil {
			return fmt.Errorf("material %s: %w", spec.Name, err)
		}
		d.materials[spec.Name] = mat
	}
	return nil
}

func (d *Document) buildMaterial(spec *MaterialSpec) (*material.Material, error) {
	if spec.Card != "" {
		mat, err := material.LoadCard(d.abs(spec.Card))
		if err != nil {
			return nil, err
		}
		if spec.Name != "" {
			mat.Name = spec.Name
		}
		return mat, nil
	}
	mat := material.New(spec.Name)
	mat.RenderType = spec.Type
	mat.Father = spec.Father
	mat.DiffuseColor = spec.DiffuseColor
	mat.Transparency = spec.Transparency
	mat.BaseDir = d.Dir()
	for k, v := range spec.Params {
		kind, param, ok := strings.Cut(k, ".")
		if !ok {
			kind, param = spec.Type, k
		}
		mat.Set(kind, param, v)
	}
	for name, ts := range spec.Textures {
		tex := mat.Texture(name)
		for i, img := range ts.Images {
			tex.Images[i] = img
		}
		tex.Rotation = ts.Rotation
		if ts.Scale != 0 {
			tex.Scale = ts.Scale
		}
		tex.TranslateU, tex.TranslateV = ts.TranslateU, ts.TranslateV
	}
	for renderer, text := range spec.Passthrough {
		mat.SetPassthrough(renderer, text)
	}
	if err := mat.Validate(); err != nil {
		return nil, err
	}
	return mat, nil
}

// Object returns the named object.
func (d *Document) Object(name string) (*Object, bool) {
	o, ok := d.objects[name]
	return o, ok
}

// Material returns the named material.
func (d *Document) Material(name string) (*material.Material, bool) {
	m, ok := d.materials[name]
	return m, ok
}

// AddMaterial registers a material, replacing one of the same name.
func (d *Document) AddMaterial(mat *material.Material) {
	if d.materials == nil {
		d.materials = make(map[string]*material.Material)
	}
	d.materials[mat.Name] = mat
}

// MaterialLookup adapts the document to material resolution.
func (d *Document) MaterialLookup(name string) (*material.Material, bool) {
	return d.Material(name)
}

// Names returns the object names, sorted.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.objects))
	for n := range d.objects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bounds returns the bounding box of every renderable geometry in scene
// coordinates.
func (d *Document) Bounds() mesh.BoundBox {
	bb := mesh.EmptyBoundBox()
	for _, o := range d.Objects {
		switch o.Kind() {
		case KindShape, KindMesh:
		default:
			continue
		}
		m, err := o.Geometry()
		if err != nil {
			continue
		}
		for _, p := range m.Points {
			bb.Add(m.Placement.TransformPoint(p))
		}
	}
	return bb
}
