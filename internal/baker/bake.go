package baker

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/raybridge/internal/assets"
	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/imageio"
)

var (
	ErrInterrupted = errors.New("interrupted")
	ErrNoMaterial  = errors.New("no material in document")
)

// Baked document names.
const (
	BakedGraph   = "NG_baked"
	BakedPostfix = "_baked"
	ShaderPrefix = "SR_"

	DefaultFilenameTemplate = "$MATERIAL_$SHADINGMODEL_$INPUT$UDIMPREFIX$UDIM.$EXTENSION"
	DefaultUDIMPrefix       = "_"

	uniformTolerance = 1e-4
)

// Template variables a caller may override.
var overridableVars = map[string]bool{
	"$ASSET":      true,
	"$MATERIAL":   true,
	"$UDIMPREFIX": true,
}

// Options configures a Baker.
type Options struct {
	// Width and Height of baked images, padded to imageio.MinFrameSize.
	Width, Height int
	// OutputDir receives the baked images.
	OutputDir string
	// AverageImages replaces every baked image by its average color.
	AverageImages bool
	// OptimizeConstants collapses uniform images to constants and drops
	// constants equal to the shading model default.
	OptimizeConstants bool
	// TextureSpaceMin and TextureSpaceMax bound the baked uv range.
	TextureSpaceMin, TextureSpaceMax float64
	FlipSavedImage                   bool
	HashImageNames                   bool
	FilenameTemplate                 string
	// TemplateOverrides sets $ASSET, $MATERIAL or $UDIMPREFIX.
	TemplateOverrides map[string]string
	// FilenameSubstitutions maps file input values to substitute files.
	FilenameSubstitutions map[string]string
	DistanceUnit          string
	// Workers bounds the parallel pixel evaluation; zero means serial.
	Workers int
	// Progress receives (value, maximum) updates.
	Progress func(value, maximum int)
}

// DefaultOptions returns the baker defaults.
func DefaultOptions() Options {
	return Options{
		Width:             1024,
		Height:            1024,
		OptimizeConstants: true,
		TextureSpaceMin:   0,
		TextureSpaceMax:   1,
		FilenameTemplate:  DefaultFilenameTemplate,
		DistanceUnit:      "meter",
	}
}

// Baker renders shader inputs to images.
type Baker struct {
	opts   Options
	assets *assets.Manager
	log    *zap.Logger
}

// New creates a baker. am resolves image files; it may be nil, in which
// case files are read relative to the document.
func New(opts Options, am *assets.Manager, log *zap.Logger) (*Baker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.FilenameTemplate == "" {
		opts.FilenameTemplate = DefaultFilenameTemplate
	}
	if opts.TextureSpaceMax == opts.TextureSpaceMin {
		opts.TextureSpaceMin, opts.TextureSpaceMax = 0, 1
	}
	for k := range opts.TemplateOverrides {
		if !overridableVars[k] {
			return nil, fmt.Errorf("template variable %s cannot be overridden", k)
		}
	}
	return &Baker{opts: opts, assets: am, log: log}, nil
}

// bakedInput is the outcome of baking one shader input.
type bakedInput struct {
	shader   *Element
	name     string
	typ      string
	constant bool
	value    Vec    // linear, when constant
	file     string // image file input value, when not constant
	drop     bool
}

// Bake bakes the single material of doc, which must already be
// translated, and returns the baked document. Cancellation of ctx is
// checked between inputs.
func (b *Baker) Bake(ctx context.Context, doc *Document) (*Document, error) {
	mats := doc.Materials()
	if len(mats) == 0 {
		return nil, ErrNoMaterial
	}
	mat := mats[0]

	var shaders []*Element
	for _, input := range []string{"surfaceshader", "displacementshader"} {
		if s := doc.ShaderNode(mat, input); s != nil {
			shaders = append(shaders, s)
		}
	}

	type job struct {
		shader *Element
		input  *Element
	}
	var jobs []job
	for _, s := range shaders {
		for _, in := range s.Inputs() {
			jobs = append(jobs, job{s, in})
		}
	}

	tiles := doc.UDIMSet()
	total := len(jobs) + 1
	b.progress(1, total)

	var results []bakedInput
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			return nil, ErrInterrupted
		}
		r, err := b.bakeInput(ctx, doc, mat, j.shader, j.input, tiles)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrInterrupted
			}
			return nil, fmt.Errorf("baking %s.%s: %w", j.shader.Name(), j.input.Name(), err)
		}
		results = append(results, r)
		b.progress(i+2, total)
	}

	return b.bakedDocument(mat, shaders, results), nil
}

func (b *Baker) progress(value, maximum int) {
	if b.opts.Progress != nil {
		b.opts.Progress(value, maximum)
	}
}

func (b *Baker) bakeInput(ctx context.Context, doc *Document, mat, shader, in *Element, tiles []string) (bakedInput, error) {
	r := bakedInput{shader: shader, name: in.Name(), typ: in.Type()}
	n := Channels(r.typ)
	if n == 0 {
		// non numeric inputs (strings, filenames) are carried over
		r.constant = true
		return r, nil
	}

	udims := tiles
	if len(udims) == 0 {
		udims = []string{""}
	}

	var frames []*imageio.Frame
	var colors []Vec
	allUniform := true
	for _, udim := range udims {
		ev := newEvaluator(doc, b.assets, udim, b.opts.FilenameSubstitutions, b.log)
		x, err := ev.input(doc.Root, in, Scalar(0).Resize(n))
		if err != nil {
			return r, err
		}
		if x.constant {
			colors = append(colors, x.eval(0, 0))
			frames = append(frames, nil)
			continue
		}
		frame, err := b.render(ctx, x, udim)
		if err != nil {
			return r, err
		}
		var p imageio.Pixel
		uniform := false
		if b.opts.AverageImages {
			p, uniform = frame.Average(), true
		} else if b.opts.OptimizeConstants {
			p, uniform = frame.IsUniform(uniformTolerance)
		}
		allUniform = allUniform && uniform
		colors = append(colors, Vec{V: [4]float64(p), N: n})
		frames = append(frames, frame)
	}

	if allUniform && sameColor(colors) {
		r.constant = true
		r.value = colors[0]
		if b.opts.OptimizeConstants && isDefault(shader.Category(), r.name, r.value) {
			r.drop = true
		}
		return r, nil
	}

	// a constant in a multi-tile set still needs an image per tile
	for i, udim := range udims {
		frame := frames[i]
		if frame == nil {
			frame = imageio.NewFrame(b.opts.Width, b.opts.Height)
			c := colors[i]
			for k := range frame.Pix {
				frame.Pix[k] = imageio.Pixel{c.V[0], c.V[1], c.V[2], 1}
			}
		}
		name := b.filename(doc, mat, shader.Category(), r.name, udim)
		if err := b.writeFrame(frame, n, IsColor(r.typ), name); err != nil {
			return r, err
		}
	}
	tokenUDIM := ""
	if len(tiles) > 0 {
		tokenUDIM = udimToken
	}
	r.file = b.filename(doc, mat, shader.Category(), r.name, tokenUDIM)
	return r, nil
}

func sameColor(colors []Vec) bool {
	for _, c := range colors[1:] {
		if !c.Equal(colors[0], uniformTolerance) {
			return false
		}
	}
	return true
}

// isDefault compares a linear constant with the shading model default.
// render_pbr inputs share the Disney card parameter table.
func isDefault(model, input string, v Vec) bool {
	kind := material.KindDisney
	if model != ShaderPBR && model != ShaderDisp {
		return false
	}
	params, _ := material.Params(kind)
	for _, p := range params {
		if p.Name != input {
			continue
		}
		if p.Default == "" {
			return false
		}
		switch p.Type {
		case material.TypeRGB:
			c, err := color.Parse(p.Default)
			if err != nil {
				return false
			}
			l := c.Linear(color.Precise)
			return v.Equal(Vec3(l.R, l.G, l.B), uniformTolerance)
		case material.TypeFloat:
			f, err := strconv.ParseFloat(p.Default, 64)
			return err == nil && v.Equal(Scalar(f), uniformTolerance)
		}
	}
	return false
}

// render evaluates x over the texture space of a tile, rows in parallel.
func (b *Baker) render(ctx context.Context, x expr, udim string) (*imageio.Frame, error) {
	frame := imageio.NewFrame(b.opts.Width, b.opts.Height)
	du, dv := udimOffset(udim)
	lo, hi := b.opts.TextureSpaceMin, b.opts.TextureSpaceMax
	span := hi - lo

	g, ctx := errgroup.WithContext(ctx)
	if b.opts.Workers > 0 {
		g.SetLimit(b.opts.Workers)
	} else {
		g.SetLimit(1)
	}
	for y := 0; y < frame.Height; y++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for px := 0; px < frame.Width; px++ {
				u, v := frame.TexCoord(px, y)
				val := x.eval(lo+u*span+du, lo+v*span+dv).Resize(4)
				frame.Set(px, y, imageio.Pixel(val.V))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frame, nil
}

// udimOffset returns the uv origin of a UDIM tile ("1001" is the origin).
func udimOffset(udim string) (float64, float64) {
	n, err := strconv.Atoi(udim)
	if err != nil || n < 1001 {
		return 0, 0
	}
	n -= 1001
	return float64(n % 10), float64(n / 10)
}

// filename expands the filename template for one baked image.
func (b *Baker) filename(doc *Document, mat *Element, model, input, udim string) string {
	asset := ""
	if doc.Path != "" {
		asset = strings.TrimSuffix(filepath.Base(doc.Path), filepath.Ext(doc.Path))
	}
	vars := map[string]string{
		"$ASSET":        asset,
		"$MATERIAL":     mat.Name(),
		"$SHADINGMODEL": model,
		"$INPUT":        input,
		"$UDIMPREFIX":   DefaultUDIMPrefix,
		"$UDIM":         udim,
		"$EXTENSION":    "png",
	}
	for k, v := range b.opts.TemplateOverrides {
		vars[k] = v
	}
	if udim == "" {
		vars["$UDIMPREFIX"] = ""
	}
	// longer names first so $UDIMPREFIX is not read as $UDIM
	r := strings.NewReplacer(
		"$ASSET", vars["$ASSET"],
		"$MATERIAL", vars["$MATERIAL"],
		"$SHADINGMODEL", vars["$SHADINGMODEL"],
		"$INPUT", vars["$INPUT"],
		"$UDIMPREFIX", vars["$UDIMPREFIX"],
		"$UDIM", vars["$UDIM"],
		"$EXTENSION", vars["$EXTENSION"],
	)
	name := r.Replace(b.opts.FilenameTemplate)
	// tiled names must keep the $UDIM pattern, so only single images are hashed
	if b.opts.HashImageNames && udim == "" {
		sum := sha1.Sum([]byte(name))
		name = hex.EncodeToString(sum[:]) + ".png"
	}
	return name
}

// writeFrame encodes a baked frame; color outputs are stored in sRGB.
func (b *Baker) writeFrame(frame *imageio.Frame, n int, srgb bool, name string) error {
	out := &imageio.Frame{Width: frame.Width, Height: frame.Height, Pix: make([]imageio.Pixel, len(frame.Pix))}
	for i, p := range frame.Pix {
		q := p
		if n == 1 {
			q = imageio.Pixel{p[0], p[0], p[0], 1}
		}
		if srgb {
			for c := 0; c < 3; c++ {
				q[c] = color.ToSRGB(q[c], color.Precise)
			}
		}
		if n < 4 {
			q[3] = 1
		}
		out.Pix[i] = q
	}
	path := filepath.Join(b.opts.OutputDir, name)
	b.log.Debug("writing baked image", zap.String("path", path))
	return imageio.WritePNG(path, out.Image(b.opts.FlipSavedImage))
}

// bakedDocument assembles the result: one image node per baked input,
// constants as literal values, defaults dropped.
func (b *Baker) bakedDocument(mat *Element, shaders []*Element, results []bakedInput) *Document {
	doc := NewDocument()
	var graph *Element

	newShaders := make(map[*Element]*Element, len(shaders))
	for _, s := range shaders {
		ns := NewElement(s.Category(), ShaderPrefix+mat.Name()+"_"+s.Category(), s.Type())
		newShaders[s] = ns
	}

	for _, r := range results {
		ns := newShaders[r.shader]
		switch {
		case r.drop:
			continue
		case r.constant && Channels(r.typ) == 0:
			in := ns.AddChild("input", r.name, r.typ)
			for _, a := range r.shader.Input(r.name).Attrs {
				if a.Name.Local != "name" && a.Name.Local != "type" {
					in.SetAttr(a.Name.Local, a.Value)
				}
			}
		case r.constant:
			ns.AddInput(r.name, r.typ, r.value.Resize(Channels(r.typ)).String())
		default:
			if graph == nil {
				graph = doc.Root.AddChild("nodegraph", BakedGraph, "")
			}
			img := graph.AddChild("image", r.name+BakedPostfix, r.typ)
			file := img.AddInput("file", "filename", r.file)
			if IsColor(r.typ) {
				file.SetAttr("colorspace", "srgb_texture")
			}
			out := graph.AddChild("output", r.name+"_output", r.typ)
			out.SetAttr("nodename", img.Name())
			in := ns.AddChild("input", r.name, r.typ)
			in.SetAttr("nodegraph", BakedGraph)
			in.SetAttr("output", out.Name())
		}
	}

	for _, s := range shaders {
		doc.Root.Children = append(doc.Root.Children, newShaders[s])
	}
	m := doc.Root.AddChild("surfacematerial", mat.Name()+BakedPostfix, "material")
	m.SetAttr("original_name", mat.Name())
	for _, s := range shaders {
		input := "surfaceshader"
		if s.Type() == "displacementshader" {
			input = "displacementshader"
		}
		in := m.AddChild("input", input, s.Type())
		in.SetAttr("nodename", newShaders[s].Name())
	}
	return doc
}
