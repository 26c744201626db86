package material

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/Faultbox/raybridge/pkg/encoding"
)

// Card sections and well-known keys.
const (
	SectionGeneral = "General"
	SectionRender  = "Render"

	keyType     = "Render.Type"
	keyTextures = "Render.Textures."
)

var cardLoadOptions = ini.LoadOptions{
	IgnoreInlineComment:     true,
	IgnoreContinuation:      true,
	SkipUnrecognizableLines: true,
	AllowBooleanKeys:        true,
}

// ReadCard parses a material card. Relative image paths are resolved
// against baseDir.
func ReadCard(r io.Reader, baseDir string) (*Material, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading card: %w", err)
	}
	f, err := ini.LoadSources(cardLoadOptions, []byte(encoding.DecodeText(raw)))
	if err != nil {
		return nil, fmt.Errorf("parsing card: %w", err)
	}

	mat := New("Material")
	mat.BaseDir = baseDir
	for _, sec := range f.Sections() {
		for _, key := range sec.Keys() {
			if err := mat.setCardKey(sec.Name(), key.Name(), key.String()); err != nil {
				return nil, err
			}
		}
	}
	return mat, nil
}

// LoadCard reads a material card file.
func LoadCard(path string) (*Material, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening card: %w", err)
	}
	defer file.Close()
	mat, err := ReadCard(file, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mat, nil
}

func (m *Material) setCardKey(section, key, value string) error {
	switch {
	case section == SectionGeneral && key == "Name":
		m.Name = value
		return nil
	case section == SectionGeneral && key == "Father":
		m.Father = value
		return nil
	case key == "DiffuseColor":
		m.DiffuseColor = value
		return nil
	case key == "Transparency":
		t, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("Transparency: %w", ErrInvalidValue)
		}
		m.Transparency = t
		return nil
	case key == keyType:
		m.RenderType = value
		return nil
	case strings.HasPrefix(key, keyTextures):
		return m.setTextureKey(strings.TrimPrefix(key, keyTextures), value)
	}

	if renderer, ordinal, ok := parsePassthroughKey(key); ok {
		m.setPassthroughLine(renderer, ordinal, value)
		return nil
	}
	if rest, ok := strings.CutPrefix(key, "Render."); ok {
		if kind, param, ok := strings.Cut(rest, "."); ok {
			if canon, ok := CanonicalKind(kind); ok {
				m.Set(canon, param, value)
				return nil
			}
		}
	}
	if section != "" && section != ini.DefaultSection {
		key = section + "/" + key
	}
	m.Extensions[key] = value
	return nil
}

// setTextureKey handles "<tex>.Images.<i>" and "<tex>.<Field>".
func (m *Material) setTextureKey(rest, value string) error {
	if name, idx, ok := strings.Cut(rest, ".Images."); ok {
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 {
			return fmt.Errorf("%w: image index %q", ErrInvalidTexture, idx)
		}
		m.Texture(name).Images[i] = filepath.FromSlash(strings.ReplaceAll(value, "\\", "/"))
		return nil
	}
	dot := strings.LastIndexByte(rest, '.')
	if dot <= 0 {
		return fmt.Errorf("%w: key %q", ErrInvalidTexture, rest)
	}
	name, field := rest[:dot], rest[dot+1:]
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%w: %s.%s = %q", ErrInvalidTexture, name, field, value)
	}
	t := m.Texture(name)
	switch field {
	case "Rotation":
		t.Rotation = f
	case "Scale":
		t.Scale = f
	case "TranslationU":
		t.TranslateU = f
	case "TranslationV":
		t.TranslateV = f
	default:
		m.Extensions[keyTextures+rest] = value
	}
	return nil
}

// WriteCard writes mat as a material card. Keys are sorted within their
// group so output is stable.
func WriteCard(w io.Writer, mat *Material) error {
	f := ini.Empty()
	general, err := f.NewSection(SectionGeneral)
	if err != nil {
		return err
	}
	render, err := f.NewSection(SectionRender)
	if err != nil {
		return err
	}

	add := func(sec *ini.Section, key, value string) {
		if err == nil {
			_, err = sec.NewKey(key, value)
		}
	}

	add(general, "Name", mat.Name)
	if mat.Father != "" {
		add(general, "Father", mat.Father)
	}
	if mat.DiffuseColor != "" {
		add(general, "DiffuseColor", mat.DiffuseColor)
		add(general, "Transparency", strconv.FormatFloat(mat.Transparency, 'g', -1, 64))
	}

	if mat.RenderType != "" {
		add(render, keyType, mat.RenderType)
	}
	for _, k := range sortedKeys(mat.Params) {
		add(render, "Render."+k, mat.Params[k])
	}

	texNames := make([]string, 0, len(mat.Textures))
	for name := range mat.Textures {
		texNames = append(texNames, name)
	}
	sort.Strings(texNames)
	for _, name := range texNames {
		t := mat.Textures[name]
		idx := make([]int, 0, len(t.Images))
		for i := range t.Images {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		prefix := keyTextures + name + "."
		for _, i := range idx {
			add(render, prefix+"Images."+strconv.Itoa(i), t.Images[i])
		}
		if t.Rotation != 0 {
			add(render, prefix+"Rotation", formatCardFloat(t.Rotation))
		}
		if t.Scale != 1 && t.Scale != 0 {
			add(render, prefix+"Scale", formatCardFloat(t.Scale))
		}
		if t.TranslateU != 0 {
			add(render, prefix+"TranslationU", formatCardFloat(t.TranslateU))
		}
		if t.TranslateV != 0 {
			add(render, prefix+"TranslationV", formatCardFloat(t.TranslateV))
		}
	}

	for _, renderer := range mat.PassthroughRenderers() {
		block := mat.passthrough[renderer]
		ordinals := make([]int, 0, len(block))
		for o := range block {
			ordinals = append(ordinals, o)
		}
		sort.Ints(ordinals)
		for _, o := range ordinals {
			add(render, passthroughKey(renderer, o), block[o])
		}
	}
	if err != nil {
		return fmt.Errorf("building card: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing card: %w", err)
	}
	return nil
}

// SaveCard writes mat to path.
func SaveCard(path string, mat *Material) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating card: %w", err)
	}
	if err := WriteCard(file, mat); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatCardFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
