package material

import (
	"errors"
	gomath "math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Faultbox/raybridge/pkg/color"
)

func near(a, b float64) bool { return gomath.Abs(a-b) < 1e-9 }

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		kind ValueKind
		str  string
	}{
		{"", ValueNone, ""},
		{"Object", ValueObject, "Object"},
		{"0.25", ValueFloat, "0.25"},
		{"(0.8,0.2,0.2)", ValueRGB, "(0.8,0.2,0.2)"},
		{"0.1, 0.2, 0.3", ValueRGB, "(0.1,0.2,0.3)"},
		{"Texture('Wood', 0)", ValueTexture, "Texture('Wood', 0)"},
		{`Texture("Wood", 2, 0.5)`, ValueTexture, "Texture('Wood', 2, 0.5)"},
		{"Texture('Wood', 1, (1,0,0))", ValueTexture, "Texture('Wood', 1, (1,0,0))"},
		{"plastic", ValueString, "plastic"},
	}
	for _, tt := range tests {
		v, err := ParseValue(tt.in)
		if err != nil {
			t.Errorf("ParseValue(%q) error = %v", tt.in, err)
			continue
		}
		if v.Kind != tt.kind {
			t.Errorf("ParseValue(%q).Kind = %v, want %v", tt.in, v.Kind, tt.kind)
		}
		if got := v.String(); got != tt.str {
			t.Errorf("ParseValue(%q).String() = %q, want %q", tt.in, got, tt.str)
		}
	}
}

func TestParseValueErrors(t *testing.T) {
	for _, in := range []string{
		"Texture('Wood')",
		"Texture(, 0)",
		"Texture('Wood', x)",
		"Texture 'Wood', 0",
		"(1,2)",
	} {
		if _, err := ParseValue(in); err == nil {
			t.Errorf("ParseValue(%q) should fail", in)
		}
	}
}

func TestResolveObjectColor(t *testing.T) {
	mat := New("Red")
	mat.RenderType = KindDisney
	mat.Set(KindDisney, "BaseColor", "Object")

	s, err := Resolve(mat, "Pbrt", color.New(0.8, 0.2, 0.2), Options{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if s.Type != KindDisney {
		t.Errorf("Type = %q, want Disney", s.Type)
	}
	c := s.Color("BaseColor")
	want := color.Linear{R: gomath.Pow(0.8, 2.2), G: gomath.Pow(0.2, 2.2), B: gomath.Pow(0.2, 2.2)}
	if !near(c.R, want.R) || !near(c.G, want.G) || !near(c.B, want.B) {
		t.Errorf("BaseColor = %v, want %v", c, want)
	}
	if s.DefaultColor != c {
		t.Errorf("DefaultColor = %v, want first parameter %v", s.DefaultColor, c)
	}
	if len(s.Params) != len(standardParams[KindDisney]) {
		t.Errorf("len(Params) = %d, want %d", len(s.Params), len(standardParams[KindDisney]))
	}
}

func TestResolveDefaultsAndCasts(t *testing.T) {
	mat := New("Glassy")
	mat.RenderType = "glass"
	mat.Set(KindGlass, "IOR", "not-a-number")
	mat.Set(KindGlass, "Color", "(1,0,0)")

	s, err := Resolve(mat, "Cycles", color.White, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != KindGlass {
		t.Errorf("Type = %q, want Glass", s.Type)
	}
	if got := s.Float("IOR"); got != 1.5 {
		t.Errorf("IOR = %v, want default 1.5", got)
	}
	if len(s.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one", s.Warnings)
	}
	if c := s.Color("Color"); c != (color.Linear{R: 1}) {
		t.Errorf("Color = %v", c)
	}
	if s.HasBump() || s.HasNormal() || s.HasDisplacement() {
		t.Error("no bump, normal or displacement expected")
	}
}

func TestResolveTextures(t *testing.T) {
	mat := New("Wood")
	mat.BaseDir = "/cards"
	mat.RenderType = KindDisney
	tex := mat.Texture("Texture")
	tex.Images[0] = "albedo.png"
	tex.Images[1] = "bump.png"
	tex.Rotation = 90
	tex.Scale = 2
	mat.Set(KindDisney, "BaseColor", "Texture('Texture', 0, (1,0,0))")
	mat.Set(KindDisney, "Bump", "Texture('Texture', 1, 0.3)")
	mat.Set(KindDisney, "Roughness", "Texture('Texture', 1)")

	s, err := Resolve(mat, "Luxcore", color.White, Options{Mode: color.Precise})
	if err != nil {
		t.Fatal(err)
	}
	if !s.HasTextures() {
		t.Fatal("HasTextures() = false")
	}
	base := s.Texture("BaseColor")
	if base == nil {
		t.Fatal("BaseColor texture missing")
	}
	if base.File != filepath.Join("/cards", "albedo.png") || base.Rotation != 90 || base.Scale != 2 {
		t.Errorf("BaseColor texture = %+v", base)
	}
	if c := s.Color("BaseColor"); c != (color.Linear{R: 1}) {
		t.Errorf("BaseColor fallback = %v, want red", c)
	}
	if !s.HasBump() || s.BumpFactor() != 0.3 {
		t.Errorf("bump = %v, %v", s.HasBump(), s.BumpFactor())
	}
	if got := len(s.Textures()); got != 3 {
		t.Errorf("len(Textures()) = %d, want 3", got)
	}
}

func TestResolveMissingImageFallsBack(t *testing.T) {
	mat := New("Broken")
	mat.RenderType = KindDiffuse
	mat.Set(KindDiffuse, "Color", "Texture('Nope', 0)")
	s, err := Resolve(mat, "Pbrt", color.White, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if s.HasTextures() {
		t.Error("unresolved texture should not be kept")
	}
	if len(s.Warnings) == 0 || !strings.Contains(s.Warnings[0], "texture not found") {
		t.Errorf("Warnings = %v", s.Warnings)
	}
}

func TestResolvePassthrough(t *testing.T) {
	mat := New("Custom")
	mat.RenderType = KindPassthrough
	mat.SetPassthrough("Povray", "texture { pigment { color rgb <%RED%,%GREEN%,%BLUE%> } }\n// %NAME%")

	s, err := Resolve(mat, "Povray", color.New(1, 0, 0), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != KindPassthrough || s.Renderer != "Povray" {
		t.Fatalf("Type = %q, Renderer = %q", s.Type, s.Renderer)
	}
	want := "texture { pigment { color rgb <1,0,0> } }\n// Cube"
	if got := s.PassthroughText("Cube"); got != want {
		t.Errorf("PassthroughText() = %q, want %q", got, want)
	}

	// another renderer falls through to the fallback
	s, err = Resolve(mat, "Pbrt", color.New(1, 0, 0), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != KindDiffuse {
		t.Errorf("Type = %q, want Diffuse fallback", s.Type)
	}
}

func TestDefault(t *testing.T) {
	tests := []struct {
		transparency float64
		boost        int
		kind         string
	}{
		{0, 0, KindDiffuse},
		{100, 0, KindGlass},
		{50, 0, KindMixed},
		{150, 0, KindGlass},
	}
	for _, tt := range tests {
		s := Default(color.White, tt.transparency, Options{TransparencyBoost: tt.boost})
		if s.Type != tt.kind {
			t.Errorf("Default(t=%v).Type = %q, want %q", tt.transparency, s.Type, tt.kind)
		}
	}

	s := Default(color.White, 25, Options{TransparencyBoost: 1})
	if got := s.Float("Transparency"); !near(got, 0.5) {
		t.Errorf("boosted transparency = %v, want 0.5", got)
	}
	glass := s.Sub("Glass")
	if glass.Type != "Glass" || glass.Float("IOR") != 1.5 {
		t.Errorf("Sub(Glass) = %+v", glass)
	}
	if len(s.Sub("Diffuse").Params) != 1 {
		t.Errorf("Sub(Diffuse) params = %v", s.Sub("Diffuse").Params)
	}
}

func TestResolveNilAndCoin(t *testing.T) {
	s, err := Resolve(nil, "Pbrt", color.New(0.5, 0.5, 0.5).WithTransparency(100), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != KindGlass {
		t.Errorf("nil material with full transparency = %q, want Glass", s.Type)
	}

	mat := New("Coin")
	mat.DiffuseColor = "(0.0,0.0,1.0)"
	mat.Transparency = 0
	s, err = Resolve(mat, "Pbrt", color.White, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != KindDiffuse || s.Color("Color") != (color.Linear{B: 1}) {
		t.Errorf("coin material = %q %v", s.Type, s.Color("Color"))
	}
}

func TestResolveUnknownRenderType(t *testing.T) {
	tests := []struct {
		name    string
		diffuse string
		obj     color.RGB
		want    color.Linear
	}{
		{"translucent object", "", color.New(1, 0, 0).WithTransparency(60), color.Linear{R: 1}},
		{"translucent material", "(0.0,0.0,1.0)", color.White, color.Linear{B: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mat := New("Odd")
			mat.RenderType = "Velvet"
			mat.DiffuseColor = tt.diffuse
			mat.Transparency = 80
			s, err := Resolve(mat, "Pbrt", tt.obj, Options{})
			if err != nil {
				t.Fatal(err)
			}
			if s.Type != KindDiffuse {
				t.Errorf("Type = %q, want %q", s.Type, KindDiffuse)
			}
			if s.Color("Color") != tt.want {
				t.Errorf("Color = %v, want %v", s.Color("Color"), tt.want)
			}
			if len(s.Warnings) != 1 || !strings.Contains(s.Warnings[0], "Velvet") {
				t.Errorf("Warnings = %v", s.Warnings)
			}
		})
	}
}

func TestResolveFather(t *testing.T) {
	base := New("Base")
	base.RenderType = KindDisney
	base.Set(KindDisney, "Roughness", "0.7")
	child := New("Child")
	child.RenderType = KindDisney
	child.Father = "Base"
	child.Set(KindDisney, "Metallic", "1")
	orphan := New("Orphan")
	orphan.Father = "Base"

	lib := map[string]*Material{"Base": base, "Child": child, "Orphan": orphan}
	opts := Options{Lookup: func(name string) (*Material, bool) {
		m, ok := lib[name]
		return m, ok
	}}

	s, err := Resolve(child, "Pbrt", color.White, opts)
	if err != nil {
		t.Fatal(err)
	}
	if s.Float("Roughness") != 0.7 || s.Float("Metallic") != 1 {
		t.Errorf("inherited params = %v, %v", s.Float("Roughness"), s.Float("Metallic"))
	}

	s, err = Resolve(orphan, "Pbrt", color.White, opts)
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != KindDisney || s.Float("Roughness") != 0.7 {
		t.Errorf("father resolution = %q %v", s.Type, s.Float("Roughness"))
	}

	a, b := New("A"), New("B")
	a.Father, b.Father = "B", "A"
	lib["A"], lib["B"] = a, b
	if _, err := Resolve(a, "Pbrt", color.White, opts); !errors.Is(err, ErrFatherCycle) {
		t.Errorf("cyclic fathers error = %v, want ErrFatherCycle", err)
	}
}

func TestParamsLookup(t *testing.T) {
	if _, ok := Params("disney"); !ok {
		t.Error("Params(disney) not found")
	}
	if k, ok := CanonicalKind("substance_pbr"); !ok || k != KindSubstancePBR {
		t.Errorf("CanonicalKind() = %q, %v", k, ok)
	}
	for _, kind := range Kinds() {
		p, _ := Params(kind)
		if p[0].Type != TypeRGB {
			t.Errorf("%s first param type = %v, want RGB", kind, p[0].Type)
		}
	}
	if doc := ParamDoc(); !strings.Contains(doc, "`Render.Disney.BaseColor`") {
		t.Error("ParamDoc() missing Disney.BaseColor")
	}
}
