package material

import (
	"errors"
	"fmt"
	gomath "math"
	"strconv"
	"strings"

	"github.com/Faultbox/raybridge/pkg/color"
)

var (
	ErrFatherCycle = errors.New("material father chain is cyclic")
)

// Options controls material resolution.
type Options struct {
	// Mode selects the sRGB to linear transfer function.
	Mode color.Mode
	// Lookup finds a material by name, for father inheritance.
	Lookup func(name string) (*Material, bool)
	// TransparencyBoost sharpens transparency in fallback materials (0..10).
	TransparencyBoost int
}

// RenderTexture is a texture reference resolved for emission.
type RenderTexture struct {
	Name       string // texture name
	Subname    string // parameter the texture feeds
	Image      int
	File       string
	Rotation   float64 // degrees
	Scale      float64
	TranslateU float64
	TranslateV float64
	// Scalar is the strength of texscalar parameters (bump factor).
	Scalar    float64
	HasScalar bool
}

// Resolved is a shader parameter ready for a renderer plugin. When Texture
// is set, Color or Float holds the constant fallback.
type Resolved struct {
	Name    string
	Type    ParamType
	Color   color.Linear
	Float   float64
	Str     string
	Texture *RenderTexture
}

// IsTexture reports whether the parameter is driven by a texture.
func (r Resolved) IsTexture() bool { return r.Texture != nil }

// Shader is a material resolved against a view, independent of renderer.
type Shader struct {
	Name string
	Type string
	// Params are in table order.
	Params []Resolved
	// DefaultColor is the first color of the material, in linear space.
	DefaultColor color.Linear
	// Passthrough and Renderer are set for passthrough shaders.
	Passthrough string
	Renderer    string
	Warnings    []string
}

// Get returns the named parameter, case-insensitively.
func (s *Shader) Get(name string) (Resolved, bool) {
	for _, p := range s.Params {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Resolved{}, false
}

// Color returns a color parameter, or the default color.
func (s *Shader) Color(name string) color.Linear {
	if p, ok := s.Get(name); ok && p.Type == TypeRGB {
		return p.Color
	}
	return s.DefaultColor
}

// Float returns a float parameter, or zero.
func (s *Shader) Float(name string) float64 {
	p, _ := s.Get(name)
	return p.Float
}

// Texture returns the texture driving a parameter, or nil.
func (s *Shader) Texture(name string) *RenderTexture {
	p, _ := s.Get(name)
	return p.Texture
}

// HasTextures reports whether any parameter is texture driven.
func (s *Shader) HasTextures() bool {
	for _, p := range s.Params {
		if p.Texture != nil {
			return true
		}
	}
	return false
}

// Textures lists the textures in parameter order.
func (s *Shader) Textures() []*RenderTexture {
	var texs []*RenderTexture
	for _, p := range s.Params {
		if p.Texture != nil {
			texs = append(texs, p.Texture)
		}
	}
	return texs
}

// HasBump reports whether a bump texture is set.
func (s *Shader) HasBump() bool { return s.Texture("Bump") != nil }

// BumpFactor returns the bump strength, 1 when unspecified.
func (s *Shader) BumpFactor() float64 {
	t := s.Texture("Bump")
	if t == nil || !t.HasScalar {
		return 1
	}
	return t.Scalar
}

// HasNormal reports whether a normal map is set.
func (s *Shader) HasNormal() bool { return s.Texture("Normal") != nil }

// HasDisplacement reports whether a displacement map is set.
func (s *Shader) HasDisplacement() bool { return s.Texture("Displacement") != nil }

// Sub extracts a sub-material of a mixed shader, e.g. Sub("Glass").
func (s *Shader) Sub(kind string) *Shader {
	sub := &Shader{Name: s.Name + "." + kind, Type: kind, DefaultColor: s.DefaultColor}
	prefix := kind + "."
	first := true
	for _, p := range s.Params {
		if !strings.HasPrefix(p.Name, prefix) {
			continue
		}
		p.Name = strings.TrimPrefix(p.Name, prefix)
		if first && p.Type == TypeRGB {
			sub.DefaultColor = p.Color
			first = false
		}
		sub.Params = append(sub.Params, p)
	}
	return sub
}

// PassthroughText returns the passthrough block with %NAME%, %RED%,
// %GREEN% and %BLUE% replaced by the object name and default color.
func (s *Shader) PassthroughText(name string) string {
	c := s.DefaultColor
	r := strings.NewReplacer(
		"%NAME%", name,
		"%RED%", strconv.FormatFloat(c.R, 'g', -1, 64),
		"%GREEN%", strconv.FormatFloat(c.G, 'g', -1, 64),
		"%BLUE%", strconv.FormatFloat(c.B, 'g', -1, 64),
	)
	return r.Replace(s.Passthrough)
}

func (s *Shader) warnf(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Resolve turns a material into a shader for renderer. objColor is the
// view's default color (sRGB, alpha = opacity) and substitutes "Object"
// values. A nil material yields the fallback built from objColor.
//
// Resolution order: passthrough block for renderer, standard kind, father
// material, coin-like diffuse color and transparency, fallback.
func Resolve(mat *Material, renderer string, objColor color.RGB, opts Options) (*Shader, error) {
	return resolve(mat, renderer, objColor, opts, nil)
}

func resolve(mat *Material, renderer string, objColor color.RGB, opts Options, seen map[string]bool) (*Shader, error) {
	if mat == nil {
		return Default(objColor, 100*(1-objColor.A), opts), nil
	}

	if text, ok := mat.Passthrough(renderer); ok {
		return &Shader{
			Name:         mat.Name,
			Type:         KindPassthrough,
			Passthrough:  text,
			Renderer:     renderer,
			DefaultColor: objColor.Linear(opts.Mode),
		}, nil
	}

	var warnings []string
	if mat.RenderType != "" && !strings.EqualFold(mat.RenderType, KindPassthrough) {
		kind, ok := CanonicalKind(mat.RenderType)
		if ok {
			s := resolveStandard(mat, kind, objColor, opts)
			return s, nil
		}
		// unknown types render as plain diffuse, whatever the transparency
		s := Diffuse(materialColor(mat, objColor), opts)
		s.Name = mat.Name
		s.warnf("material %q: unknown render type %q, using diffuse", mat.Name, mat.RenderType)
		return s, nil
	}

	if mat.Father != "" && opts.Lookup != nil {
		if seen == nil {
			seen = make(map[string]bool)
		}
		seen[mat.Name] = true
		if seen[mat.Father] {
			return nil, fmt.Errorf("%w: %s -> %s", ErrFatherCycle, mat.Name, mat.Father)
		}
		if father, ok := opts.Lookup(mat.Father); ok {
			s, err := resolve(father, renderer, objColor, opts, seen)
			if err != nil {
				return nil, err
			}
			s.Warnings = append(warnings, s.Warnings...)
			return s, nil
		}
		warnings = append(warnings, fmt.Sprintf("material %q: father %q not found", mat.Name, mat.Father))
	}

	c := objColor
	transparency := 100 * (1 - objColor.A)
	if mat.DiffuseColor != "" {
		if dc, err := color.Parse(mat.DiffuseColor); err == nil {
			c = dc
			transparency = mat.Transparency
		} else {
			warnings = append(warnings, fmt.Sprintf("material %q: bad diffuse color %q", mat.Name, mat.DiffuseColor))
		}
	}
	s := Default(c, transparency, opts)
	s.Name = mat.Name
	s.Warnings = warnings
	return s, nil
}

// Diffuse builds an opaque diffuse shader of color c.
func Diffuse(c color.RGB, opts Options) *Shader {
	lin := c.Linear(opts.Mode)
	return &Shader{
		Name:         "Default",
		Type:         KindDiffuse,
		DefaultColor: lin,
		Params:       []Resolved{{Name: "Color", Type: TypeRGB, Color: lin}},
	}
}

// materialColor is the diffuse color of mat, or objColor when it has none
// or it does not parse.
func materialColor(mat *Material, objColor color.RGB) color.RGB {
	if mat.DiffuseColor != "" {
		if dc, err := color.Parse(mat.DiffuseColor); err == nil {
			return dc
		}
	}
	return objColor
}

// Default builds the fallback shader for a plain colored object.
// transparency is a percentage; zero gives a Diffuse shader, 100 a Glass
// shader and anything between a Mixed shader.
func Default(c color.RGB, transparency float64, opts Options) *Shader {
	t := gomath.Max(0, gomath.Min(100, transparency)) / 100
	if opts.TransparencyBoost > 0 && t > 0 {
		t = gomath.Pow(t, 1/float64(opts.TransparencyBoost+1))
	}
	lin := c.Linear(opts.Mode)
	s := &Shader{Name: "Default", DefaultColor: lin}
	switch t {
	case 0:
		s.Type = KindDiffuse
		s.Params = []Resolved{{Name: "Color", Type: TypeRGB, Color: lin}}
	case 1:
		s.Type = KindGlass
		s.Params = []Resolved{
			{Name: "IOR", Type: TypeFloat, Float: 1.5},
			{Name: "Color", Type: TypeRGB, Color: lin},
		}
	default:
		s.Type = KindMixed
		s.Params = []Resolved{
			{Name: "Diffuse.Color", Type: TypeRGB, Color: lin},
			{Name: "Glass.IOR", Type: TypeFloat, Float: 1.5},
			{Name: "Glass.Color", Type: TypeRGB, Color: lin},
			{Name: "Transparency", Type: TypeFloat, Float: t},
		}
	}
	return s
}

func resolveStandard(mat *Material, kind string, objColor color.RGB, opts Options) *Shader {
	params, _ := Params(kind)
	s := &Shader{Name: mat.Name, Type: kind}
	for _, p := range params {
		raw, ok := lookupParam(mat, kind, p.Name, opts)
		if !ok {
			raw = p.Default
		}
		r, err := castParam(mat, p, raw, objColor, opts.Mode)
		if err != nil {
			s.warnf("material %q: %s.%s: %v, using default", mat.Name, kind, p.Name, err)
			r, _ = castParam(mat, p, p.Default, objColor, opts.Mode)
		}
		s.Params = append(s.Params, r)
	}
	s.DefaultColor = s.Params[0].Color
	return s
}

// lookupParam finds kind.param on mat, then on its fathers.
func lookupParam(mat *Material, kind, param string, opts Options) (string, bool) {
	seen := map[string]bool{}
	for m := mat; m != nil && !seen[m.Name]; {
		seen[m.Name] = true
		if v, ok := m.Get(kind, param); ok {
			return v, true
		}
		if m.Father == "" || opts.Lookup == nil {
			break
		}
		father, ok := opts.Lookup(m.Father)
		if !ok {
			break
		}
		m = father
	}
	return "", false
}

// castParam converts a raw card value to a resolved parameter of p's type.
func castParam(mat *Material, p Param, raw string, objColor color.RGB, mode color.Mode) (Resolved, error) {
	r := Resolved{Name: p.Name, Type: p.Type}
	v, err := ParseValue(raw)
	if err != nil {
		return r, err
	}

	if v.Kind == ValueTexture {
		tex, err := renderTexture(mat, p.Name, v)
		if err != nil {
			return r, err
		}
		r.Texture = tex
		switch p.Type {
		case TypeRGB:
			r.Color = objColor.Linear(mode)
			if v.Extra != "" {
				c, err := color.Parse(v.Extra)
				if err != nil {
					return r, fmt.Errorf("%w: fallback %q", ErrInvalidValue, v.Extra)
				}
				r.Color = c.Linear(mode)
			}
		case TypeFloat:
			if v.Extra != "" {
				f, err := strconv.ParseFloat(v.Extra, 64)
				if err != nil {
					return r, fmt.Errorf("%w: fallback %q", ErrInvalidValue, v.Extra)
				}
				r.Float = f
			}
		case TypeTexScalar:
			if v.Extra != "" {
				f, err := strconv.ParseFloat(v.Extra, 64)
				if err != nil {
					return r, fmt.Errorf("%w: scalar %q", ErrInvalidValue, v.Extra)
				}
				tex.Scalar, tex.HasScalar = f, true
			}
		case TypeString:
			return r, fmt.Errorf("%w: texture not allowed", ErrInvalidValue)
		}
		return r, nil
	}

	switch p.Type {
	case TypeRGB:
		switch v.Kind {
		case ValueObject:
			r.Color = objColor.Linear(mode)
		case ValueRGB:
			r.Color = v.RGB.Linear(mode)
		case ValueNone:
			r.Color = objColor.Linear(mode)
		default:
			return r, fmt.Errorf("%w: %q is not a color", ErrInvalidValue, raw)
		}
	case TypeFloat:
		switch v.Kind {
		case ValueFloat:
			r.Float = v.Float
		case ValueNone:
		default:
			return r, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, raw)
		}
	case TypeTexOnly, TypeTexScalar:
		// only textures are meaningful; anything else leaves it unset
	case TypeString:
		r.Str = raw
	}
	return r, nil
}

func renderTexture(mat *Material, param string, v Value) (*RenderTexture, error) {
	file, err := mat.ImagePath(v.Ref)
	if err != nil {
		return nil, err
	}
	t := mat.Textures[v.Ref.Texture]
	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	return &RenderTexture{
		Name:       v.Ref.Texture,
		Subname:    param,
		Image:      v.Ref.Image,
		File:       file,
		Rotation:   t.Rotation,
		Scale:      scale,
		TranslateU: t.TranslateU,
		TranslateV: t.TranslateV,
	}, nil
}
