package encoding

import "testing"

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"plain", []byte("RaytracingContent"), "RaytracingContent"},
		{"utf8 bom", []byte("\xEF\xBB\xBFabc"), "abc"},
		{"utf16le bom", []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, "hi"},
		{"windows-1252", []byte("caf\xe9"), "café"},
		{"utf8", []byte("café"), "café"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeText(tt.in); got != tt.want {
				t.Errorf("DecodeText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	if got := NormalizePath(`Textures\Wood.PNG`); got != "textures/wood.png" {
		t.Errorf("NormalizePath() = %q", got)
	}
}

func TestTrimNullString(t *testing.T) {
	if got := TrimNullString([]byte("abc\x00\x00")); got != "abc" {
		t.Errorf("TrimNullString() = %q", got)
	}
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Cube", "Cube"},
		{"Cube001", "Cube001"},
		{"Pièce usinée", "Piece_usinee"},
		{"1st part", "_1st_part"},
		{"", "_"},
		{"a-b.c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := Identifier(tt.in); got != tt.want {
			t.Errorf("Identifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
