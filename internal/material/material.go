// Package material implements the render material model: standard material
// kinds with typed parameters, texture references, renderer passthroughs,
// material cards, and resolution to a renderer-neutral Shader.
package material

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Faultbox/raybridge/pkg/math"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

var (
	ErrTextureNotFound = errors.New("texture not found")
	ErrImageNotFound   = errors.New("texture image not found")
)

// Texture is a named set of images sharing one uv mapping.
type Texture struct {
	Name       string
	Images     map[int]string // image index -> file path
	Rotation   float64        // degrees
	Scale      float64
	TranslateU float64
	TranslateV float64
}

// NewTexture creates an empty texture with unit scale.
func NewTexture(name string) *Texture {
	return &Texture{Name: name, Images: make(map[int]string), Scale: 1}
}

// UVTransform returns the texture mapping as a mesh uv transform.
func (t *Texture) UVTransform() mesh.UVTransform {
	return mesh.UVTransform{
		Translate: math.Vec2{X: t.TranslateU, Y: t.TranslateV},
		Rotation:  t.Rotation,
		Scale:     t.Scale,
	}
}

// Material is a render material as stored in a material card.
type Material struct {
	Name       string
	RenderType string
	// Params holds raw values keyed "Kind.Param" (e.g. "Disney.BaseColor").
	Params map[string]string
	// passthrough holds renderer -> ordinal -> line.
	passthrough map[string]map[int]string
	Textures    map[string]*Texture
	Father      string

	// Coin-like fields, used when no render type is set.
	DiffuseColor string
	Transparency float64

	// BaseDir resolves relative image paths.
	BaseDir string
	// Extensions keeps card keys that are not understood.
	Extensions map[string]string
}

// New creates an empty material.
func New(name string) *Material {
	return &Material{
		Name:        name,
		Params:      make(map[string]string),
		passthrough: make(map[string]map[int]string),
		Textures:    make(map[string]*Texture),
		Extensions:  make(map[string]string),
	}
}

// Set stores a raw parameter value for the material kind.
func (m *Material) Set(kind, param, value string) {
	m.Params[kind+"."+param] = value
}

// Get returns the raw value of kind.param.
func (m *Material) Get(kind, param string) (string, bool) {
	v, ok := m.Params[kind+"."+param]
	if ok {
		return v, true
	}
	prefix := kind + "." + param
	for k, v := range m.Params {
		if strings.EqualFold(k, prefix) {
			return v, true
		}
	}
	return "", false
}

// Texture returns (creating if needed) the texture named name.
func (m *Material) Texture(name string) *Texture {
	t, ok := m.Textures[name]
	if !ok {
		t = NewTexture(name)
		m.Textures[name] = t
	}
	return t
}

// ImagePath resolves a texture reference to an image file path.
func (m *Material) ImagePath(ref TextureRef) (string, error) {
	t, ok := m.Textures[ref.Texture]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTextureNotFound, ref.Texture)
	}
	p, ok := t.Images[ref.Image]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrImageNotFound, ref)
	}
	if !filepath.IsAbs(p) && m.BaseDir != "" {
		p = filepath.Join(m.BaseDir, p)
	}
	return p, nil
}

// Validate checks that every texture reference resolves.
func (m *Material) Validate() error {
	keys := make([]string, 0, len(m.Params))
	for k := range m.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := ParseValue(m.Params[k])
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		if v.Kind == ValueTexture {
			if _, err := m.ImagePath(v.Ref); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	}
	return nil
}

// SetPassthrough stores a verbatim text block for renderer, one ordinal
// key per line.
func (m *Material) SetPassthrough(renderer, text string) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	block := make(map[int]string, len(lines))
	for i, l := range lines {
		block[i+1] = l
	}
	m.passthrough[renderer] = block
}

// setPassthroughLine stores a single ordinal line.
func (m *Material) setPassthroughLine(renderer string, ordinal int, line string) {
	block, ok := m.passthrough[renderer]
	if !ok {
		block = make(map[int]string)
		m.passthrough[renderer] = block
	}
	block[ordinal] = line
}

// Passthrough returns the text block for renderer, lines in ordinal order.
func (m *Material) Passthrough(renderer string) (string, bool) {
	block, ok := m.passthrough[renderer]
	if !ok || len(block) == 0 {
		return "", false
	}
	ordinals := make([]int, 0, len(block))
	for o := range block {
		ordinals = append(ordinals, o)
	}
	sort.Ints(ordinals)
	lines := make([]string, len(ordinals))
	for i, o := range ordinals {
		lines[i] = block[o]
	}
	return strings.Join(lines, "\n"), true
}

// PassthroughRenderers lists the renderers with a passthrough block.
func (m *Material) PassthroughRenderers() []string {
	var names []string
	for r, block := range m.passthrough {
		if len(block) > 0 {
			names = append(names, r)
		}
	}
	sort.Strings(names)
	return names
}

// passthroughKey formats the flat-store key of a passthrough line.
func passthroughKey(renderer string, ordinal int) string {
	return fmt.Sprintf("Render.%s.%04d", renderer, ordinal)
}

// parsePassthroughKey recognizes "Render.<renderer>.<NNNN>".
func parsePassthroughKey(key string) (string, int, bool) {
	rest, ok := strings.CutPrefix(key, "Render.")
	if !ok {
		return "", 0, false
	}
	dot := strings.LastIndexByte(rest, '.')
	if dot <= 0 || len(rest)-dot-1 != 4 {
		return "", 0, false
	}
	n, err := strconv.Atoi(rest[dot+1:])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return rest[:dot], n, true
}
