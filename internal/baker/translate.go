package baker

import (
	"errors"
	"fmt"
)

var (
	ErrSurfaceTranslation      = errors.New("translation error for surface shader")
	ErrDisplacementTranslation = errors.New("translation error for displacement shader")
)

// Target shading models.
const (
	ShaderPBR  = "render_pbr"
	ShaderDisp = "render_disp"

	translationGraph = "NG_render_translation"
)

// ssDefaults holds the standard_surface defaults of the inputs that take
// part in the translation.
var ssDefaults = map[string]Vec{
	"base":                Scalar(0.8),
	"base_color":          Vec3(1, 1, 1),
	"metalness":           Scalar(0),
	"specular":            Scalar(1),
	"specular_roughness":  Scalar(0.2),
	"specular_anisotropy": Scalar(0),
	"subsurface":          Scalar(0),
	"sheen":               Scalar(0),
	"coat":                Scalar(0),
	"coat_roughness":      Scalar(0.1),
}

// operand is a translated value: a constant or a connection copied from a
// source input.
type operand struct {
	value Vec
	conn  *Element // nil for constants
	typ   string
}

// translator rewrites standard_surface shaders in place.
type translator struct {
	doc   *Document
	graph *Element
	seq   int
}

// Translate rewrites every standard_surface shader of doc into a
// render_pbr node and every displacement shader into a render_disp node,
// retargeting the materials. Translation expressions are added to a
// dedicated node graph.
func Translate(doc *Document) error {
	t := &translator{doc: doc}
	for _, mat := range doc.Materials() {
		if err := t.surface(mat); err != nil {
			return fmt.Errorf("%w: %v", ErrSurfaceTranslation, err)
		}
		if err := t.displacement(mat); err != nil {
			return fmt.Errorf("%w: %v", ErrDisplacementTranslation, err)
		}
	}
	return nil
}

func (t *translator) surface(mat *Element) error {
	ss := t.doc.ShaderNode(mat, "surfaceshader")
	if ss == nil {
		return fmt.Errorf("material %q has no surface shader", mat.Name())
	}
	switch ss.Category() {
	case ShaderPBR:
		return nil
	case "standard_surface":
	default:
		return fmt.Errorf("unsupported shading model %q", ss.Category())
	}

	pbr := NewElement(ShaderPBR, ss.Name()+"_"+ShaderPBR, "surfaceshader")
	src := func(name string) operand { return t.source(ss, name) }

	t.assign(pbr, "BaseColor", t.mul(src("base_color"), src("base")))
	t.assign(pbr, "Subsurface", src("subsurface"))
	t.assign(pbr, "Metallic", src("metalness"))
	t.assign(pbr, "Specular", t.mul(src("specular"), operand{value: Scalar(0.5), typ: "float"}))
	t.assign(pbr, "Roughness", src("specular_roughness"))
	t.assign(pbr, "Anisotropic", src("specular_anisotropy"))
	t.assign(pbr, "Sheen", src("sheen"))
	t.assign(pbr, "Clearcoat", src("coat"))
	t.assign(pbr, "ClearcoatGloss", t.oneMinus(src("coat_roughness")))
	if in := ss.Input("normal"); in != nil && in.IsConnected() {
		t.assign(pbr, "Normal", operand{conn: in, typ: "vector3"})
	}

	t.replace(ss, pbr, mat, "surfaceshader")
	return nil
}

func (t *translator) displacement(mat *Element) error {
	in := mat.Input("displacementshader")
	if in == nil {
		return nil
	}
	disp := t.doc.ShaderNode(mat, "displacementshader")
	if disp == nil {
		return fmt.Errorf("material %q: displacement shader %q not found", mat.Name(), in.Attr("nodename"))
	}
	switch disp.Category() {
	case ShaderDisp:
		return nil
	case "displacement":
	default:
		return fmt.Errorf("unsupported displacement model %q", disp.Category())
	}
	d := t.source(disp, "displacement")
	if d.conn == nil && d.typ == "" {
		return fmt.Errorf("displacement %q has no displacement input", disp.Name())
	}
	scale := t.source(disp, "scale")
	if scale.typ == "" {
		scale = operand{value: Scalar(1), typ: "float"}
	}

	rd := NewElement(ShaderDisp, disp.Name()+"_"+ShaderDisp, "displacementshader")
	t.assign(rd, "Displacement", t.mul(d, scale))
	t.replace(disp, rd, mat, "displacementshader")
	return nil
}

// replace swaps old for shader at the root and retargets the material.
func (t *translator) replace(old, shader, mat *Element, input string) {
	root := t.doc.Root
	for i, c := range root.Children {
		if c == old {
			root.Children[i] = shader
			break
		}
	}
	mat.Input(input).SetAttr("nodename", shader.Name())
}

// source reads a shader input as an operand, applying the default when
// the input is absent.
func (t *translator) source(node *Element, name string) operand {
	in := node.Input(name)
	if in == nil {
		if d, ok := ssDefaults[name]; ok {
			return operand{value: d, typ: vecType(d)}
		}
		return operand{}
	}
	if in.IsConnected() {
		return operand{conn: in, typ: in.Type()}
	}
	v, err := ParseVec(in.Attr("value"), in.Type())
	if err != nil {
		if d, ok := ssDefaults[name]; ok {
			return operand{value: d, typ: vecType(d)}
		}
		return operand{}
	}
	return operand{value: v, typ: in.Type()}
}

func vecType(v Vec) string {
	switch v.N {
	case 1:
		return "float"
	case 2:
		return "vector2"
	case 4:
		return "color4"
	}
	return "color3"
}

func resultType(a, b operand) string {
	if Channels(a.typ) >= Channels(b.typ) {
		return a.typ
	}
	return b.typ
}

// mul multiplies two operands, folding constants.
func (t *translator) mul(a, b operand) operand {
	if a.conn == nil && b.conn == nil {
		n := max(a.value.N, b.value.N)
		x, y := a.value.Resize(n), b.value.Resize(n)
		out := Vec{N: n}
		for i := 0; i < n; i++ {
			out.V[i] = x.V[i] * y.V[i]
		}
		return operand{value: out, typ: resultType(a, b)}
	}
	typ := resultType(a, b)
	node := t.addNode("multiply", typ)
	t.wire(node, "in1", a)
	t.wire(node, "in2", b)
	return t.output(node, typ)
}

// oneMinus returns 1 - a, folding constants.
func (t *translator) oneMinus(a operand) operand {
	if a.conn == nil {
		out := a.value
		for i := 0; i < out.N; i++ {
			out.V[i] = 1 - out.V[i]
		}
		return operand{value: out, typ: a.typ}
	}
	node := t.addNode("subtract", a.typ)
	node.AddInput("in1", a.typ, Scalar(1).Resize(Channels(a.typ)).String())
	t.wire(node, "in2", a)
	return t.output(node, a.typ)
}

func (t *translator) addNode(category, typ string) *Element {
	if t.graph == nil {
		t.graph = t.doc.NodeGraph(translationGraph)
		if t.graph == nil {
			t.graph = t.doc.Root.AddChild("nodegraph", translationGraph, "")
		}
	}
	t.seq++
	return t.graph.AddChild(category, fmt.Sprintf("%s%d", category, t.seq), typ)
}

// output exposes node through a graph output.
func (t *translator) output(node *Element, typ string) operand {
	out := t.graph.AddChild("output", node.Name()+"_out", typ)
	out.SetAttr("nodename", node.Name())
	ref := NewElement("input", "", typ)
	ref.SetAttr("nodegraph", t.graph.Name())
	ref.SetAttr("output", out.Name())
	return operand{conn: ref, typ: typ}
}

// wire sets a node input from an operand.
func (t *translator) wire(node *Element, name string, op operand) {
	typ := op.typ
	if typ == "" {
		typ = "float"
	}
	in := node.AddChild("input", name, typ)
	if op.conn == nil {
		in.SetAttr("value", op.value.String())
		return
	}
	copyConnection(in, op.conn)
}

// assign sets a shader input from an operand.
func (t *translator) assign(shader *Element, name string, op operand) {
	if op.conn == nil && op.typ == "" {
		return
	}
	t.wire(shader, name, op)
}

func copyConnection(dst, src *Element) {
	for _, attr := range []string{"nodename", "nodegraph", "output", "interfacename"} {
		if v := src.Attr(attr); v != "" {
			dst.SetAttr(attr, v)
		}
	}
}
