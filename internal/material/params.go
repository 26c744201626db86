package material

import "strings"

// ParamType is the declared type of a material parameter.
type ParamType string

const (
	TypeRGB       ParamType = "RGB"
	TypeFloat     ParamType = "float"
	TypeTexOnly   ParamType = "texonly"
	TypeTexScalar ParamType = "texscalar"
	TypeString    ParamType = "string"
)

// Param describes one parameter of a standard material kind.
type Param struct {
	Name    string
	Type    ParamType
	Default string
	Desc    string
}

const white = "(0.8,0.8,0.8)"

// Standard material kinds.
const (
	KindDisney       = "Disney"
	KindGlass        = "Glass"
	KindDiffuse      = "Diffuse"
	KindMixed        = "Mixed"
	KindCarpaint     = "Carpaint"
	KindSubstancePBR = "Substance_PBR"
	KindEmission     = "Emission"
	KindPassthrough  = "Passthrough"
)

func bumpParams(displacement bool) []Param {
	p := []Param{
		{"Bump", TypeTexScalar, "", "Bump"},
		{"Normal", TypeTexOnly, "", "Normal"},
	}
	if displacement {
		p = append(p, Param{"Displacement", TypeTexOnly, "", "Displacement"})
	}
	return p
}

// The first parameter of every kind is a color; it serves as the default
// color in fallback paths.
var standardParams = map[string][]Param{
	KindGlass: append([]Param{
		{"Color", TypeRGB, "(1,1,1)", "Transmitted color"},
		{"IOR", TypeFloat, "1.5", "Index of refraction"},
	}, bumpParams(true)...),
	KindDisney: append([]Param{
		{"BaseColor", TypeRGB, white, "Base color"},
		{"Subsurface", TypeFloat, "0", "Subsurface coef."},
		{"Metallic", TypeFloat, "0", "Metallic coefficient"},
		{"Specular", TypeFloat, "0", "Specular coefficient"},
		{"SpecularTint", TypeFloat, "0", "Specular tint coef."},
		{"Roughness", TypeFloat, "0", "Roughness coefficient"},
		{"Anisotropic", TypeFloat, "0", "Anisotropic coef."},
		{"Sheen", TypeFloat, "0", "Sheen coefficient"},
		{"SheenTint", TypeFloat, "0", "Sheen tint coef."},
		{"Clearcoat", TypeFloat, "0", "Clear coat coef."},
		{"ClearcoatGloss", TypeFloat, "0", "Coat gloss coef."},
	}, bumpParams(true)...),
	KindDiffuse: append([]Param{
		{"Color", TypeRGB, white, "Diffuse color"},
	}, bumpParams(true)...),
	KindMixed: append([]Param{
		{"Diffuse.Color", TypeRGB, white, "Diffuse color"},
		{"Glass.Color", TypeRGB, "(1,1,1)", "Transmitted color"},
		{"Glass.IOR", TypeFloat, "1.5", "Index of refraction"},
		{"Transparency", TypeFloat, "0.5", "Mix ratio between Glass and Diffuse"},
	}, bumpParams(true)...),
	KindCarpaint: append([]Param{
		{"BaseColor", TypeRGB, "(0.8,0.2,0.2)", "Base color"},
	}, bumpParams(true)...),
	KindSubstancePBR: append([]Param{
		{"BaseColor", TypeRGB, white, "Base color"},
		{"Roughness", TypeFloat, "0", "Roughness"},
		{"Metallic", TypeFloat, "0", "Metallic"},
	}, bumpParams(false)...),
	KindEmission: {
		{"Color", TypeRGB, "(1,1,1)", "Emitted color"},
		{"Power", TypeFloat, "10", "Emitted power"},
	},
}

// Kinds returns the standard material kinds, sorted.
func Kinds() []string {
	return []string{
		KindCarpaint, KindDiffuse, KindDisney, KindEmission,
		KindGlass, KindMixed, KindSubstancePBR,
	}
}

// Params returns the parameters of a kind, matched case-insensitively.
func Params(kind string) ([]Param, bool) {
	if p, ok := standardParams[kind]; ok {
		return p, true
	}
	for k, p := range standardParams {
		if strings.EqualFold(k, kind) {
			return p, true
		}
	}
	return nil, false
}

// CanonicalKind returns the table spelling of kind.
func CanonicalKind(kind string) (string, bool) {
	for k := range standardParams {
		if strings.EqualFold(k, kind) {
			return k, true
		}
	}
	return "", false
}

// ParamDoc renders the parameter tables as Markdown.
func ParamDoc() string {
	var b strings.Builder
	for _, kind := range Kinds() {
		b.WriteString("#### **" + kind + "** Material\n\n`Render.Type=" + kind + "`\n\n")
		b.WriteString("Parameter | Type | Default value | Description\n")
		b.WriteString("--------- | ---- | ------------- | -----------\n")
		for _, p := range standardParams[kind] {
			b.WriteString("`Render." + kind + "." + p.Name + "` | " + string(p.Type) + " | " + p.Default + " | " + p.Desc + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}
