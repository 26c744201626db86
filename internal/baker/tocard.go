package baker

import (
	"fmt"
	gomath "math"
	"strconv"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/pkg/color"
)

// TextureName is the name of the single texture a converted card holds.
const TextureName = "Texture"

// ToMaterial converts a baked document into a Disney material. Baked
// images become images of one texture; constants become literal values,
// with colors encoded back to sRGB. With disp2bump the displacement map
// feeds the bump input instead.
func ToMaterial(baked *Document, disp2bump bool) (*material.Material, error) {
	mats := baked.Materials()
	if len(mats) != 1 {
		return nil, fmt.Errorf("baked document holds %d materials, want 1", len(mats))
	}
	m := mats[0]
	name := m.Attr("original_name")
	if name == "" {
		name = m.Name()
	}

	mat := material.New(name)
	mat.RenderType = material.KindDisney

	// image index per graph output
	outputs := map[string]int{}
	if graph := baked.NodeGraph(BakedGraph); graph != nil {
		images := map[string]int{}
		tex := mat.Texture(TextureName)
		for _, node := range graph.Children {
			if node.Category() != "image" {
				continue
			}
			file := node.Input("file")
			if file == nil {
				continue
			}
			idx := len(images)
			images[node.Name()] = idx
			tex.Images[idx] = file.Attr("value")
		}
		for _, out := range graph.ChildrenOf("output") {
			if idx, ok := images[out.Attr("nodename")]; ok {
				outputs[out.Name()] = idx
			}
		}
	}

	for _, input := range []string{"surfaceshader", "displacementshader"} {
		shader := baked.ShaderNode(m, input)
		if shader == nil {
			continue
		}
		for _, in := range shader.Inputs() {
			param := in.Name()
			if param == "Displacement" && disp2bump {
				param = "Bump"
			}
			if out := in.Attr("output"); out != "" {
				idx, ok := outputs[out]
				if !ok {
					return nil, fmt.Errorf("input %q: unknown baked output %q", in.Name(), out)
				}
				ref := material.TextureValue(TextureName, idx)
				if param == "Normal" || param == "Bump" {
					ref.Extra = "1.0"
				}
				mat.Set(material.KindDisney, param, ref.String())
				continue
			}
			value, err := cardValue(in)
			if err != nil {
				return nil, err
			}
			mat.Set(material.KindDisney, param, value)
		}
	}
	return mat, nil
}

// cardValue formats a constant input for a card.
func cardValue(in *Element) (string, error) {
	raw := in.Attr("value")
	if Channels(in.Type()) == 0 {
		return raw, nil
	}
	v, err := ParseVec(raw, in.Type())
	if err != nil {
		return "", fmt.Errorf("input %q: %w", in.Name(), err)
	}
	if IsColor(in.Type()) {
		c := color.FromLinear(color.Linear{R: v.V[0], G: v.V[1], B: v.V[2]}, color.Precise)
		return color.New(round6(c.R), round6(c.G), round6(c.B)).String(), nil
	}
	return strconv.FormatFloat(round6(v.V[0]), 'g', -1, 64), nil
}

func round6(f float64) float64 { return gomath.Round(f*1e6) / 1e6 }
