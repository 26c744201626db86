package baker

import (
	"errors"
	"fmt"
	gomath "math"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/raybridge/internal/assets"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/imageio"
)

var (
	ErrUnsupportedNode = errors.New("unsupported MaterialX node")
	ErrGraphCycle      = errors.New("MaterialX graph is cyclic")
)

const udimToken = "<UDIM>"

// expr evaluates a graph output at a texture coordinate.
type expr struct {
	eval func(u, v float64) Vec
	// constant is set when the value does not depend on uv or images.
	constant bool
}

func constExpr(v Vec) expr {
	return expr{eval: func(float64, float64) Vec { return v }, constant: true}
}

// evaluator compiles shader inputs into expressions over texture space.
type evaluator struct {
	doc           *Document
	assets        *assets.Manager
	udim          string
	substitutions map[string]string
	log           *zap.Logger
	visiting      map[*Element]bool
}

func newEvaluator(doc *Document, am *assets.Manager, udim string, subs map[string]string, log *zap.Logger) *evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &evaluator{
		doc:           doc,
		assets:        am,
		udim:          udim,
		substitutions: subs,
		log:           log,
		visiting:      make(map[*Element]bool),
	}
}

// input compiles the value of an input element found in scope.
func (e *evaluator) input(scope, in *Element, dflt Vec) (expr, error) {
	n := Channels(in.Type())
	if n == 0 {
		n = dflt.N
	}
	switch {
	case in.Attr("nodegraph") != "":
		ng := e.doc.NodeGraph(in.Attr("nodegraph"))
		if ng == nil {
			return expr{}, fmt.Errorf("input %q: node graph %q not found", in.Name(), in.Attr("nodegraph"))
		}
		return e.graphOutput(ng, in.Attr("output"), n)
	case in.Attr("nodename") != "":
		node := scope.Child(in.Attr("nodename"))
		if node == nil {
			node = e.doc.Node(in.Attr("nodename"))
		}
		if node == nil {
			return expr{}, fmt.Errorf("input %q: node %q not found", in.Name(), in.Attr("nodename"))
		}
		return e.node(scope, node, n)
	case in.Attr("output") != "" && scope.Category() == "nodegraph":
		return e.graphOutput(scope, in.Attr("output"), n)
	case in.Attr("interfacename") != "":
		if iface := scope.Input(in.Attr("interfacename")); iface != nil {
			return e.input(e.doc.Root, iface, dflt)
		}
		return constExpr(dflt.Resize(n)), nil
	case in.HasAttr("value"):
		v, err := ParseVec(in.Attr("value"), in.Type())
		if err != nil {
			return expr{}, fmt.Errorf("input %q: %w", in.Name(), err)
		}
		return constExpr(v), nil
	}
	return constExpr(dflt.Resize(n)), nil
}

func (e *evaluator) graphOutput(ng *Element, output string, n int) (expr, error) {
	var out *Element
	if output != "" {
		out = ng.Child(output)
	} else if outs := ng.ChildrenOf("output"); len(outs) > 0 {
		out = outs[0]
	}
	if out == nil || out.Category() != "output" {
		return expr{}, fmt.Errorf("node graph %q: output %q not found", ng.Name(), output)
	}
	node := ng.Child(out.Attr("nodename"))
	if node == nil {
		return expr{}, fmt.Errorf("node graph %q: output %q is not connected", ng.Name(), out.Name())
	}
	return e.node(ng, node, n)
}

// port compiles a named input of node, falling back to dflt.
func (e *evaluator) port(scope, node *Element, name string, dflt Vec) (expr, error) {
	in := node.Input(name)
	if in == nil {
		return constExpr(dflt), nil
	}
	return e.input(scope, in, dflt)
}

func (e *evaluator) node(scope, node *Element, n int) (expr, error) {
	if e.visiting[node] {
		return expr{}, fmt.Errorf("%w at %q", ErrGraphCycle, node.Name())
	}
	e.visiting[node] = true
	defer delete(e.visiting, node)

	if nt := Channels(node.Type()); nt > 0 {
		n = nt
	}
	if n == 0 {
		n = 3
	}
	x, err := e.compile(scope, node, n)
	if err != nil {
		return expr{}, fmt.Errorf("%s %q: %w", node.Category(), node.Name(), err)
	}
	inner := x.eval
	x.eval = func(u, v float64) Vec { return inner(u, v).Resize(n) }
	if x.constant {
		return constExpr(x.eval(0, 0)), nil
	}
	return x, nil
}

func (e *evaluator) compile(scope, node *Element, n int) (expr, error) {
	zero := Scalar(0)
	one := Scalar(1)
	ports := func(names []string, dflts []Vec) ([]expr, error) {
		out := make([]expr, len(names))
		for i, name := range names {
			x, err := e.port(scope, node, name, dflts[i])
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	}

	switch cat := node.Category(); cat {
	case "constant":
		return e.port(scope, node, "value", zero.Resize(n))
	case "texcoord":
		return expr{eval: func(u, v float64) Vec { return Vec{V: [4]float64{u, v}, N: 2} }}, nil
	case "image", "tiledimage":
		return e.image(scope, node, n)
	case "add", "subtract", "multiply", "divide", "min", "max", "power":
		d2 := zero
		if cat == "multiply" || cat == "divide" || cat == "power" {
			d2 = one
		}
		xs, err := ports([]string{"in1", "in2"}, []Vec{zero, d2})
		if err != nil {
			return expr{}, err
		}
		return binary(xs[0], xs[1], binaryOps[cat]), nil
	case "mix":
		xs, err := ports([]string{"fg", "bg", "mix"}, []Vec{zero, zero, zero})
		if err != nil {
			return expr{}, err
		}
		return combine(xs, func(a []Vec) Vec {
			m := a[2].V[0]
			return lerpVec(a[1], a[0], m)
		}), nil
	case "invert":
		xs, err := ports([]string{"in", "amount"}, []Vec{zero, one})
		if err != nil {
			return expr{}, err
		}
		return binary(xs[1], xs[0], binaryOps["subtract"]), nil
	case "clamp":
		xs, err := ports([]string{"in", "low", "high"}, []Vec{zero, zero, one})
		if err != nil {
			return expr{}, err
		}
		return combine(xs, func(a []Vec) Vec {
			lo, hi := a[1].Resize(a[0].N), a[2].Resize(a[0].N)
			out := a[0]
			for i := 0; i < out.N; i++ {
				out.V[i] = gomath.Max(lo.V[i], gomath.Min(hi.V[i], out.V[i]))
			}
			return out
		}), nil
	case "extract":
		x, err := e.port(scope, node, "in", zero)
		if err != nil {
			return expr{}, err
		}
		idx := 0
		if in := node.Input("index"); in != nil {
			idx, _ = strconv.Atoi(in.Attr("value"))
		}
		if idx < 0 || idx > 3 {
			return expr{}, fmt.Errorf("%w: extract index %d", ErrBadValue, idx)
		}
		return combine([]expr{x}, func(a []Vec) Vec { return Scalar(a[0].V[idx]) }), nil
	case "combine2", "combine3", "combine4":
		count := int(cat[len(cat)-1] - '0')
		names := make([]string, count)
		dflts := make([]Vec, count)
		for i := range names {
			names[i] = "in" + strconv.Itoa(i+1)
			dflts[i] = zero
		}
		xs, err := ports(names, dflts)
		if err != nil {
			return expr{}, err
		}
		return combine(xs, func(a []Vec) Vec {
			out := Vec{N: count}
			for i := range a {
				out.V[i] = a[i].V[0]
			}
			return out
		}), nil
	case "convert", "dot", "normalmap":
		// normal maps are baked in their encoded tangent-space form
		return e.port(scope, node, "in", zero.Resize(n))
	case "ifgreater":
		xs, err := ports([]string{"value1", "value2", "in1", "in2"}, []Vec{one, zero, zero, zero})
		if err != nil {
			return expr{}, err
		}
		return combine(xs, func(a []Vec) Vec {
			if a[0].V[0] > a[1].V[0] {
				return a[2]
			}
			return a[3]
		}), nil
	case "place2d":
		xs, err := ports(
			[]string{"texcoord", "pivot", "scale", "rotate", "offset"},
			[]Vec{{N: 2}, {N: 2}, {V: [4]float64{1, 1}, N: 2}, zero, {N: 2}},
		)
		if err != nil {
			return expr{}, err
		}
		if node.Input("texcoord") == nil {
			xs[0] = expr{eval: func(u, v float64) Vec { return Vec{V: [4]float64{u, v}, N: 2} }}
		}
		return combine(xs, place2d), nil
	default:
		return expr{}, fmt.Errorf("%w: %s", ErrUnsupportedNode, cat)
	}
}

func place2d(a []Vec) Vec {
	tc, pivot, scale, offset := a[0].Resize(2), a[1].Resize(2), a[2].Resize(2), a[4].Resize(2)
	rot := -a[3].V[0] * gomath.Pi / 180
	x, y := tc.V[0]-pivot.V[0], tc.V[1]-pivot.V[1]
	if scale.V[0] != 0 {
		x /= scale.V[0]
	}
	if scale.V[1] != 0 {
		y /= scale.V[1]
	}
	c, s := gomath.Cos(rot), gomath.Sin(rot)
	x, y = x*c-y*s, x*s+y*c
	return Vec{V: [4]float64{x + pivot.V[0] - offset.V[0], y + pivot.V[1] - offset.V[1]}, N: 2}
}

// image compiles an image or tiledimage node.
func (e *evaluator) image(scope, node *Element, n int) (expr, error) {
	dflt, err := e.port(scope, node, "default", Scalar(0).Resize(n))
	if err != nil {
		return expr{}, err
	}
	fileIn := node.Input("file")
	if fileIn == nil {
		return dflt, nil
	}
	if iface := fileIn.Attr("interfacename"); iface != "" && scope.Input(iface) != nil {
		fileIn = scope.Input(iface)
	}
	frame, err := e.loadImage(fileIn.Attr("value"))
	if err != nil {
		e.log.Warn("image not loaded, using default",
			zap.String("node", node.Name()),
			zap.Error(err))
		return dflt, nil
	}

	srgb := IsColor(node.Type()) && e.colorspace(fileIn, node) == "srgb_texture"

	texcoord, err := e.port(scope, node, "texcoord", Vec{N: 2})
	if err != nil {
		return expr{}, err
	}
	if node.Input("texcoord") == nil {
		texcoord = expr{eval: func(u, v float64) Vec { return Vec{V: [4]float64{u, v}, N: 2} }}
	}
	tiling, err := e.port(scope, node, "uvtiling", Vec{V: [4]float64{1, 1}, N: 2})
	if err != nil {
		return expr{}, err
	}
	offset, err := e.port(scope, node, "uvoffset", Vec{N: 2})
	if err != nil {
		return expr{}, err
	}

	return expr{eval: func(u, v float64) Vec {
		tc := texcoord.eval(u, v).Resize(2)
		t := tiling.eval(u, v).Resize(2)
		o := offset.eval(u, v).Resize(2)
		p := frame.Sample(tc.V[0]*t.V[0]+o.V[0], tc.V[1]*t.V[1]+o.V[1])
		out := Vec{V: [4]float64(p), N: 4}
		if srgb {
			for i := 0; i < 3; i++ {
				out.V[i] = color.ToLinear(out.V[i], color.Precise)
			}
		}
		if n == 1 {
			return Scalar(out.V[0])
		}
		return out.Resize(n)
	}}, nil
}

// colorspace returns the effective color space of a file input.
func (e *evaluator) colorspace(fileIn, node *Element) string {
	for _, el := range []*Element{fileIn, node, e.doc.Root} {
		if cs := el.Attr("colorspace"); cs != "" {
			return cs
		}
	}
	return ""
}

// resolveFile maps a file input value to an asset path.
func (e *evaluator) resolveFile(name string) string {
	name = strings.ReplaceAll(name, udimToken, e.udim)
	if sub, ok := e.substitutions[name]; ok {
		name = sub
	}
	return filepath.FromSlash(name)
}

func (e *evaluator) loadImage(name string) (*imageio.Frame, error) {
	path := e.resolveFile(name)
	if e.assets == nil {
		if !filepath.IsAbs(path) {
			path = filepath.Join(e.doc.Dir(), path)
		}
		return imageio.LoadFrame(path)
	}
	return e.assets.Frame(path)
}

var binaryOps = map[string]func(a, b float64) float64{
	"add":      func(a, b float64) float64 { return a + b },
	"subtract": func(a, b float64) float64 { return a - b },
	"multiply": func(a, b float64) float64 { return a * b },
	"divide": func(a, b float64) float64 {
		if b == 0 {
			return 0
		}
		return a / b
	},
	"min":   gomath.Min,
	"max":   gomath.Max,
	"power": gomath.Pow,
}

func binary(a, b expr, op func(a, b float64) float64) expr {
	return combine([]expr{a, b}, func(v []Vec) Vec {
		n := max(v[0].N, v[1].N)
		x, y := v[0].Resize(n), v[1].Resize(n)
		out := Vec{N: n}
		for i := 0; i < n; i++ {
			out.V[i] = op(x.V[i], y.V[i])
		}
		return out
	})
}

// combine builds an expression from sub-expressions; it is constant when
// every operand is.
func combine(xs []expr, fn func([]Vec) Vec) expr {
	constant := true
	for _, x := range xs {
		constant = constant && x.constant
	}
	eval := func(u, v float64) Vec {
		vals := make([]Vec, len(xs))
		for i, x := range xs {
			vals[i] = x.eval(u, v)
		}
		return fn(vals)
	}
	if constant {
		return constExpr(eval(0, 0))
	}
	return expr{eval: eval}
}

func lerpVec(a, b Vec, t float64) Vec {
	n := max(a.N, b.N)
	x, y := a.Resize(n), b.Resize(n)
	out := Vec{N: n}
	for i := 0; i < n; i++ {
		out.V[i] = x.V[i]*(1-t) + y.V[i]*t
	}
	return out
}
