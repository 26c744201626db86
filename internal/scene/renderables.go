package scene

import (
	"errors"
	"fmt"
	gomath "math"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/math"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

var (
	ErrNothingToRender = errors.New("nothing to render")
	ErrUnhandledObject = errors.New("unhandled object type")
	ErrCyclicReference = errors.New("cyclic object reference")
)

// Renderable is an atomic export entity. Mesh points are in the local
// frame of Mesh.Placement; Color is the sRGB default color, alpha is
// opacity.
type Renderable struct {
	Name     string
	Label    string
	Mesh     *mesh.Mesh
	Material *material.Material
	Color    color.RGB
}

// NeedsUVMap reports whether the material uses textures.
func (r Renderable) NeedsUVMap() bool {
	return r.Material != nil && len(r.Material.Textures) > 0
}

// Options tunes renderable extraction.
type Options struct {
	// TransparencyBoost (0..10) raises the transparency of object colors.
	TransparencyBoost int
	// IgnoreUnknown drops unhandled objects instead of failing.
	IgnoreUnknown bool
}

// BoostTransparency returns c with transparency t raised to t^(1/(boost+1)).
func BoostTransparency(c color.RGB, boost int) color.RGB {
	if boost <= 0 {
		return c
	}
	t := 1 - c.A
	t = gomath.Pow(t, 1/float64(boost+1))
	c.A = 1 - t
	return c
}

// Renderables splits obj into renderables. upper is the material inherited
// from a containing view or object; it wins over the object's own material
// unless nil. Cameras and lights yield no renderables.
func Renderables(src Source, obj *Object, upper *material.Material, opts Options) ([]Renderable, error) {
	x := extractor{src: src, opts: opts, visiting: make(map[string]bool)}
	return x.get(obj, obj.Name, upper, opts.IgnoreUnknown)
}

// CheckRenderables reports a list that cannot be exported.
func CheckRenderables(rends []Renderable) error {
	if len(rends) == 0 {
		return ErrNothingToRender
	}
	for _, r := range rends {
		if r.Mesh == nil || r.Mesh.IsEmpty() {
			return fmt.Errorf("%s: %w", r.Name, mesh.ErrEmptyMesh)
		}
	}
	return nil
}

type extractor struct {
	src      Source
	opts     Options
	visiting map[string]bool
}

func (x *extractor) material(obj *Object, upper *material.Material) *material.Material {
	if upper != nil {
		return upper
	}
	if obj.Material == "" {
		return nil
	}
	m, _ := x.src.Material(obj.Material)
	return m
}

func (x *extractor) color(obj *Object) color.RGB {
	return BoostTransparency(obj.DisplayColor(), x.opts.TransparencyBoost)
}

func (x *extractor) lookup(name string) (*Object, error) {
	o, ok := x.src.Object(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	}
	return o, nil
}

func (x *extractor) get(obj *Object, name string, upper *material.Material, ignoreUnknown bool) ([]Renderable, error) {
	if x.visiting[obj.Name] {
		return nil, fmt.Errorf("%w: %s", ErrCyclicReference, obj.Name)
	}
	x.visiting[obj.Name] = true
	defer delete(x.visiting, obj.Name)

	mat := x.material(obj, upper)
	switch obj.Kind() {
	case KindShape:
		return x.shape(obj, name, mat)
	case KindMesh:
		m, err := obj.Geometry()
		if err != nil {
			return nil, err
		}
		return []Renderable{{Name: name, Label: obj.DisplayLabel(), Mesh: m.Copy(), Material: mat, Color: x.color(obj)}}, nil
	case KindPart:
		return x.part(obj, name, mat)
	case KindArray:
		return x.array(obj, name, mat)
	case KindLink:
		return x.link(obj, name, mat)
	case KindLinkGroup:
		return x.elements(obj, name, mat)
	case KindCamera, KindPointLight, KindAreaLight, KindSunSkyLight, KindImageLight, KindDistantLight:
		return nil, nil
	}
	if ignoreUnknown {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnhandledObject, obj.Name)
}

// shape exports a shape as a whole, or face by face when faces carry
// their own colors.
func (x *extractor) shape(obj *Object, name string, mat *material.Material) ([]Renderable, error) {
	plc := obj.Placement.Matrix()
	if len(obj.Faces) > 0 && len(obj.FaceColors) > 1 {
		rends := make([]Renderable, 0, len(obj.Faces))
		for i, f := range obj.Faces {
			m, err := f.build()
			if err != nil {
				return nil, fmt.Errorf("%s face %d: %w", obj.Name, i, err)
			}
			m.Placement = plc
			c := x.color(obj)
			if i < len(obj.FaceColors) {
				if fc, err := color.Parse(obj.FaceColors[i]); err == nil {
					c = BoostTransparency(fc, x.opts.TransparencyBoost)
				}
			}
			rends = append(rends, Renderable{
				Name:     fmt.Sprintf("%s_face%d", name, i),
				Label:    fmt.Sprintf("%s_face%d", obj.DisplayLabel(), i),
				Mesh:     m,
				Material: mat,
				Color:    c,
			})
		}
		return rends, nil
	}

	var m *mesh.Mesh
	if obj.Mesh != nil {
		g, err := obj.Geometry()
		if err != nil {
			return nil, err
		}
		m = g.Copy()
	} else {
		m = mesh.New(nil, nil)
		for i, f := range obj.Faces {
			fm, err := f.build()
			if err != nil {
				return nil, fmt.Errorf("%s face %d: %w", obj.Name, i, err)
			}
			m.Append(fm)
		}
		m.Placement = plc
	}
	return []Renderable{{Name: name, Label: obj.DisplayLabel(), Mesh: m, Material: mat, Color: x.color(obj)}}, nil
}

// part exports the visible children of a container, repositioned by the
// container placement.
func (x *extractor) part(obj *Object, name string, mat *material.Material) ([]Renderable, error) {
	origin := obj.Placement.Matrix()
	var rends []Renderable
	for _, childName := range obj.Group {
		child, err := x.lookup(childName)
		if err != nil {
			return nil, err
		}
		if child.Hidden {
			continue
		}
		sub, err := x.get(child, name+"_"+child.Name, mat, true)
		if err != nil {
			return nil, err
		}
		for _, r := range sub {
			if len(r.Mesh.Points) == 0 {
				continue
			}
			r.Mesh.Placement = origin.Mul(r.Mesh.Placement)
			r.Material = pick(r.Material, mat)
			rends = append(rends, r)
		}
	}
	return rends, nil
}

// array exports one copy of the base renderables per placement.
func (x *extractor) array(obj *Object, name string, mat *material.Material) ([]Renderable, error) {
	base, err := x.lookup(obj.Base)
	if err != nil {
		return nil, err
	}
	if len(obj.Placements) == 0 {
		// not expanded: the array geometry is carried by the object
		if obj.Mesh == nil {
			return nil, fmt.Errorf("%s: %w", obj.Name, ErrNoGeometry)
		}
		if mat == nil {
			mat = x.material(base, nil)
		}
		m, err := obj.Geometry()
		if err != nil {
			return nil, err
		}
		return []Renderable{{Name: name, Label: obj.DisplayLabel(), Mesh: m.Copy(), Material: mat, Color: x.color(obj)}}, nil
	}

	baseRends, err := x.get(base, base.Name, mat, false)
	if err != nil {
		return nil, err
	}
	objPlc := obj.Placement.Matrix()
	baseInv := base.Placement.Matrix().Inverse()
	var rends []Renderable
	for i, p := range obj.Placements {
		elem := objPlc.Mul(p.Matrix())
		for _, br := range baseRends {
			m := br.Mesh.Copy()
			if obj.LinkTransform {
				m.Placement = elem.Mul(m.Placement)
			} else {
				m.Placement = elem.Mul(baseInv).Mul(m.Placement)
			}
			rends = append(rends, Renderable{
				Name:     fmt.Sprintf("%s_%s_%d", name, br.Name, i),
				Label:    fmt.Sprintf("%s_%s_%d", obj.DisplayLabel(), br.Label, i),
				Mesh:     m,
				Material: pick(br.Material, mat),
				Color:    br.Color,
			})
		}
	}
	return rends, nil
}

// link exports the linked object at the link placement, in the link color
// when one is set.
func (x *extractor) link(obj *Object, name string, mat *material.Material) ([]Renderable, error) {
	linked, err := x.lookup(obj.Link)
	if err != nil {
		return nil, err
	}
	baseRends, err := x.get(linked, linked.Name, mat, false)
	if err != nil {
		return nil, err
	}
	rends := x.relocate(baseRends, name+"_", obj.Placement.Resolve(), linked, obj.LinkTransform, mat)
	if obj.Color != "" {
		// a link shows its own color over the linked one
		c := x.color(obj)
		for i := range rends {
			rends[i].Color = c
		}
	}
	return rends, nil
}

// elements exports the visible members of a link group or expanded array.
func (x *extractor) elements(obj *Object, name string, mat *material.Material) ([]Renderable, error) {
	groupPlc := obj.Placement.Resolve()
	var rends []Renderable
	for _, e := range obj.Elements {
		if e.Hidden {
			continue
		}
		linked, err := x.lookup(e.Object)
		if err != nil {
			return nil, err
		}
		elemName := name + "_" + e.Name
		baseRends, err := x.get(linked, elemName, mat, false)
		if err != nil {
			return nil, err
		}
		plc := groupPlc.Mul(e.Placement.Resolve())
		rends = append(rends, x.relocate(baseRends, "", plc, linked, obj.LinkTransform, mat)...)
	}
	return rends, nil
}

// relocate moves renderables of linked to plc. Unless linkTransform is
// set, the linked object's own placement is replaced rather than
// composed.
func (x *extractor) relocate(base []Renderable, prefix string, plc math.Placement, linked *Object, linkTransform bool, mat *material.Material) []Renderable {
	m4 := plc.Matrix()
	if !linkTransform {
		m4 = m4.Mul(linked.Placement.Matrix().Inverse())
	}
	out := make([]Renderable, 0, len(base))
	for _, br := range base {
		r := br
		r.Name = prefix + br.Name
		r.Mesh = br.Mesh.Copy()
		r.Mesh.Placement = m4.Mul(r.Mesh.Placement)
		r.Material = pick(br.Material, mat)
		out = append(out, r)
	}
	return out
}

// pick returns the upper material unless it is nil.
func pick(own, upper *material.Material) *material.Material {
	if upper != nil {
		return upper
	}
	return own
}
