package material

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Faultbox/raybridge/pkg/color"
)

var (
	ErrInvalidValue   = errors.New("invalid material value")
	ErrInvalidTexture = errors.New("invalid texture reference")
)

// ValueKind tags the variants of Value.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueRGB
	ValueFloat
	ValueObject
	ValueTexture
	ValueString
)

// TextureRef addresses one image of a texture.
type TextureRef struct {
	Texture string
	Image   int
}

// String formats the reference as stored in material cards.
func (r TextureRef) String() string {
	return fmt.Sprintf("Texture('%s', %d)", r.Texture, r.Image)
}

// Value is a parsed material parameter.
type Value struct {
	Kind  ValueKind
	RGB   color.RGB
	Float float64
	Str   string
	Ref   TextureRef
	// Extra is the raw third element of a texture value: a fallback color,
	// a fallback float or a scalar strength depending on the parameter type.
	Extra string
}

// String formats the value as stored in material cards.
func (v Value) String() string {
	switch v.Kind {
	case ValueRGB:
		return v.RGB.String()
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueObject:
		return "Object"
	case ValueTexture:
		if v.Extra != "" {
			return fmt.Sprintf("Texture('%s', %d, %s)", v.Ref.Texture, v.Ref.Image, v.Extra)
		}
		return v.Ref.String()
	case ValueString:
		return v.Str
	}
	return ""
}

// RGBValue returns a literal color value.
func RGBValue(c color.RGB) Value { return Value{Kind: ValueRGB, RGB: c} }

// FloatValue returns a literal float value.
func FloatValue(f float64) Value { return Value{Kind: ValueFloat, Float: f} }

// TextureValue returns a texture value.
func TextureValue(tex string, image int) Value {
	return Value{Kind: ValueTexture, Ref: TextureRef{Texture: tex, Image: image}}
}

// ParseValue parses a raw card value. Recognized forms are "Object",
// "Texture('name', index[, extra])", color literals and numbers. Anything
// else is a string value. An empty input gives ValueNone.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Value{}, nil
	case strings.EqualFold(s, "Object"):
		return Value{Kind: ValueObject}, nil
	case strings.HasPrefix(s, "Texture"):
		return parseTexture(s)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return FloatValue(f), nil
	}
	if strings.HasPrefix(s, "(") || strings.Count(s, ",") >= 2 {
		c, err := color.Parse(s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q", ErrInvalidValue, s)
		}
		return RGBValue(c), nil
	}
	return Value{Kind: ValueString, Str: s}, nil
}

func parseTexture(s string) (Value, error) {
	body := strings.TrimSpace(strings.TrimPrefix(s, "Texture"))
	if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidTexture, s)
	}
	args := splitArgs(body[1 : len(body)-1])
	if len(args) < 2 || len(args) > 3 {
		return Value{}, fmt.Errorf("%w: %q: expected 2 or 3 arguments, got %d", ErrInvalidTexture, s, len(args))
	}
	name := unquote(args[0])
	if name == "" {
		return Value{}, fmt.Errorf("%w: %q: empty texture name", ErrInvalidTexture, s)
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil || idx < 0 {
		return Value{}, fmt.Errorf("%w: %q: bad image index", ErrInvalidTexture, s)
	}
	v := TextureValue(name, idx)
	if len(args) == 3 {
		v.Extra = args[2]
	}
	return v, nil
}

// splitArgs splits on top-level commas, honoring quotes and parentheses.
func splitArgs(s string) []string {
	var args []string
	depth := 0
	var quote rune
	start := 0
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
		case r == ',' && depth == 0:
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" || len(args) > 0 {
		args = append(args, tail)
	}
	return args
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
