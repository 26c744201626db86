// Package baker converts standard-surface MaterialX materials into render
// material cards: it translates the shader graph to the Disney-style
// render_pbr model, bakes non-constant inputs to images and writes the
// result as a card. It also drives the converter as a subprocess.
package baker

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	ErrNotMaterialX = errors.New("not a MaterialX document")
	ErrBadValue     = errors.New("invalid MaterialX value")
)

// Element is a generic MaterialX element. The XML tag is the element
// category (node kind, "input", "output", "nodegraph", ...).
type Element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []*Element `xml:",any"`
}

// NewElement creates an element of the given category.
func NewElement(category, name, typ string) *Element {
	e := &Element{XMLName: xml.Name{Local: category}}
	if name != "" {
		e.SetAttr("name", name)
	}
	if typ != "" {
		e.SetAttr("type", typ)
	}
	return e
}

// Category returns the element tag.
func (e *Element) Category() string { return e.XMLName.Local }

// Name returns the name attribute.
func (e *Element) Name() string { return e.Attr("name") }

// Type returns the type attribute.
func (e *Element) Type() string { return e.Attr("type") }

// Attr returns an attribute value, or "".
func (e *Element) Attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// HasAttr reports whether the attribute is present.
func (e *Element) HasAttr(name string) bool {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces an attribute.
func (e *Element) SetAttr(name, value string) {
	for i, a := range e.Attrs {
		if a.Name.Local == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// RemoveAttr deletes an attribute.
func (e *Element) RemoveAttr(name string) {
	for i, a := range e.Attrs {
		if a.Name.Local == name {
			e.Attrs = append(e.Attrs[:i], e.Attrs[i+1:]...)
			return
		}
	}
}

// Child returns the direct child with the given name.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// ChildrenOf returns the direct children of a category.
func (e *Element) ChildrenOf(category string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Category() == category {
			out = append(out, c)
		}
	}
	return out
}

// Input returns the named input of a node.
func (e *Element) Input(name string) *Element {
	for _, c := range e.Children {
		if c.Category() == "input" && c.Name() == name {
			return c
		}
	}
	return nil
}

// Inputs returns the inputs of a node.
func (e *Element) Inputs() []*Element { return e.ChildrenOf("input") }

// AddChild appends a new child element and returns it.
func (e *Element) AddChild(category, name, typ string) *Element {
	c := NewElement(category, name, typ)
	e.Children = append(e.Children, c)
	return c
}

// AddInput appends an input with a literal value.
func (e *Element) AddInput(name, typ, value string) *Element {
	in := e.AddChild("input", name, typ)
	in.SetAttr("value", value)
	return in
}

// RemoveChild deletes the direct child with the given name.
func (e *Element) RemoveChild(name string) {
	for i, c := range e.Children {
		if c.Name() == name {
			e.Children = append(e.Children[:i], e.Children[i+1:]...)
			return
		}
	}
}

// IsConnected reports whether an input takes its value from a node.
func (e *Element) IsConnected() bool {
	return e.HasAttr("nodename") || e.HasAttr("nodegraph") || e.HasAttr("interfacename") || e.HasAttr("output")
}

// Walk visits e and its descendants depth first.
func (e *Element) Walk(fn func(*Element)) {
	fn(e)
	for _, c := range e.Children {
		c.Walk(fn)
	}
}

// Document is a MaterialX document.
type Document struct {
	Root *Element
	// Path is the file the document was read from.
	Path string
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	root := NewElement("materialx", "", "")
	root.SetAttr("version", "1.38")
	return &Document{Root: root}
}

// ParseDocument reads a MaterialX document.
func ParseDocument(r io.Reader) (*Document, error) {
	var root Element
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("parsing MaterialX: %w", err)
	}
	if root.Category() != "materialx" {
		return nil, fmt.Errorf("%w: root element %q", ErrNotMaterialX, root.Category())
	}
	return &Document{Root: &root}, nil
}

// LoadDocument reads a MaterialX file.
func LoadDocument(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := ParseDocument(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.Path = path
	return doc, nil
}

// Write encodes the document as indented XML.
func (d *Document) Write(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(d.Root); err != nil {
		return fmt.Errorf("encoding MaterialX: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Save writes the document to path.
func (d *Document) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Dir returns the directory relative file names resolve against.
func (d *Document) Dir() string {
	if d.Path == "" {
		return "."
	}
	return filepath.Dir(d.Path)
}

// Node returns the top-level element with the given name.
func (d *Document) Node(name string) *Element { return d.Root.Child(name) }

// NodeGraph returns the named node graph.
func (d *Document) NodeGraph(name string) *Element {
	if e := d.Root.Child(name); e != nil && e.Category() == "nodegraph" {
		return e
	}
	return nil
}

// Materials returns the material nodes.
func (d *Document) Materials() []*Element {
	return d.Root.ChildrenOf("surfacematerial")
}

// ShaderNode returns the node a material input ("surfaceshader" or
// "displacementshader") points to, or nil.
func (d *Document) ShaderNode(mat *Element, input string) *Element {
	in := mat.Input(input)
	if in == nil || in.Attr("nodename") == "" {
		return nil
	}
	return d.Node(in.Attr("nodename"))
}

// UDIMSet returns the UDIM tiles declared in geominfo elements.
func (d *Document) UDIMSet() []string {
	var tiles []string
	for _, gi := range d.Root.ChildrenOf("geominfo") {
		for _, gp := range gi.Children {
			if gp.Name() != "udimset" {
				continue
			}
			for _, t := range strings.Split(gp.Attr("value"), ",") {
				if t = strings.TrimSpace(t); t != "" {
					tiles = append(tiles, t)
				}
			}
		}
	}
	return tiles
}

// FindByName returns the first element named name, in document order.
func (d *Document) FindByName(name string) *Element {
	var found *Element
	d.Root.Walk(func(e *Element) {
		if found == nil && e != d.Root && e.Name() == name {
			found = e
		}
	})
	return found
}

// Validate reports dangling references. The result is a list of warnings.
func (d *Document) Validate() []string {
	var warnings []string
	var check func(scope *Element)
	check = func(scope *Element) {
		for _, node := range scope.Children {
			if node.Category() == "nodegraph" {
				check(node)
				continue
			}
			refs := append([]*Element{node}, node.Inputs()...)
			for _, in := range refs {
				if n := in.Attr("nodename"); n != "" && scope.Child(n) == nil && d.Node(n) == nil {
					warnings = append(warnings, fmt.Sprintf("%s: unknown node %q", in.Name(), n))
				}
				if g := in.Attr("nodegraph"); g != "" {
					ng := d.NodeGraph(g)
					if ng == nil {
						warnings = append(warnings, fmt.Sprintf("%s: unknown node graph %q", in.Name(), g))
					} else if o := in.Attr("output"); o != "" && ng.Child(o) == nil {
						warnings = append(warnings, fmt.Sprintf("%s: unknown output %q in %q", in.Name(), o, g))
					}
				}
			}
		}
	}
	check(d.Root)
	return warnings
}

// Vec is a MaterialX numeric value of 1 to 4 channels.
type Vec struct {
	V [4]float64
	N int
}

// Scalar returns a one channel value.
func Scalar(f float64) Vec { return Vec{V: [4]float64{f}, N: 1} }

// Vec3 returns a three channel value.
func Vec3(x, y, z float64) Vec { return Vec{V: [4]float64{x, y, z}, N: 3} }

// Channels returns the channel count of a MaterialX type, 0 if the type
// is not numeric.
func Channels(typ string) int {
	switch typ {
	case "float", "integer", "boolean":
		return 1
	case "vector2":
		return 2
	case "color3", "vector3":
		return 3
	case "color4", "vector4":
		return 4
	}
	return 0
}

// IsColor reports whether typ is a color type.
func IsColor(typ string) bool { return typ == "color3" || typ == "color4" }

// ParseVec parses a value string of the given type.
func ParseVec(s, typ string) (Vec, error) {
	n := Channels(typ)
	if n == 0 {
		return Vec{}, fmt.Errorf("%w: type %q is not numeric", ErrBadValue, typ)
	}
	s = strings.TrimSpace(s)
	if typ == "boolean" {
		if s == "true" {
			return Scalar(1), nil
		}
		return Scalar(0), nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) != n {
		return Vec{}, fmt.Errorf("%w: %q is not a %s", ErrBadValue, s, typ)
	}
	v := Vec{N: n}
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Vec{}, fmt.Errorf("%w: %q is not a %s", ErrBadValue, s, typ)
		}
		v.V[i] = x
	}
	return v, nil
}

// String formats the value the way MaterialX stores it.
func (v Vec) String() string {
	parts := make([]string, v.N)
	for i := 0; i < v.N; i++ {
		parts[i] = strconv.FormatFloat(v.V[i], 'g', -1, 64)
	}
	return strings.Join(parts, ", ")
}

// Resize converts v to n channels. Scalars broadcast; missing channels
// are zero except alpha, which is one.
func (v Vec) Resize(n int) Vec {
	if v.N == n {
		return v
	}
	out := Vec{N: n}
	if v.N == 1 {
		for i := 0; i < n; i++ {
			out.V[i] = v.V[0]
		}
		return out
	}
	for i := 0; i < n; i++ {
		switch {
		case i < v.N:
			out.V[i] = v.V[i]
		case i == 3:
			out.V[i] = 1
		}
	}
	return out
}

// Equal compares two values channel by channel within tol.
func (v Vec) Equal(o Vec, tol float64) bool {
	n := max(v.N, o.N)
	a, b := v.Resize(n), o.Resize(n)
	for i := 0; i < n; i++ {
		d := a.V[i] - b.V[i]
		if d > tol || d < -tol {
			return false
		}
	}
	return true
}
