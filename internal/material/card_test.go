package material

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCard = `; exported material
[General]
Name = Oak
Father = Wood

[Render]
Render.Type = Disney
Render.Disney.BaseColor = Texture('Texture', 0)
Render.Disney.Roughness = 0.6
Render.Disney.Bump = Texture('Texture', 1, 0.2)
Render.Textures.Texture.Images.0 = textures\oak_albedo.png
Render.Textures.Texture.Images.1 = textures/oak_bump.png
Render.Textures.Texture.Scale = 2
Render.Textures.Texture.Rotation = 45
Render.Pbrt.0002 = "float roughness" [0.6]
Render.Pbrt.0001 = Material "coateddiffuse" # comment kept
Custom.Key = kept
`

func TestReadCard(t *testing.T) {
	mat, err := ReadCard(strings.NewReader(sampleCard), "/lib")
	if err != nil {
		t.Fatalf("ReadCard() error = %v", err)
	}
	if mat.Name != "Oak" || mat.Father != "Wood" || mat.RenderType != KindDisney {
		t.Errorf("header = %q %q %q", mat.Name, mat.Father, mat.RenderType)
	}
	if v, _ := mat.Get(KindDisney, "Roughness"); v != "0.6" {
		t.Errorf("Roughness = %q", v)
	}
	tex := mat.Textures["Texture"]
	if tex == nil || tex.Scale != 2 || tex.Rotation != 45 || len(tex.Images) != 2 {
		t.Fatalf("texture = %+v", tex)
	}
	p, err := mat.ImagePath(TextureRef{Texture: "Texture", Image: 0})
	if err != nil || p != filepath.Join("/lib", "textures", "oak_albedo.png") {
		t.Errorf("ImagePath() = %q, %v", p, err)
	}
	text, ok := mat.Passthrough("Pbrt")
	want := "Material \"coateddiffuse\" # comment kept\n\"float roughness\" [0.6]"
	if !ok || text != want {
		t.Errorf("Passthrough() = %q, want %q", text, want)
	}
	if mat.Extensions["Render/Custom.Key"] != "kept" {
		t.Errorf("Extensions = %v", mat.Extensions)
	}
	if err := mat.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestCardRoundTrip(t *testing.T) {
	mat := New("Brushed")
	mat.RenderType = KindSubstancePBR
	mat.Set(KindSubstancePBR, "BaseColor", "(0.5,0.5,0.5)")
	mat.Set(KindSubstancePBR, "Metallic", "1")
	mat.Set(KindSubstancePBR, "Normal", "Texture('Texture', 0)")
	mat.Texture("Texture").Images[0] = "normal.png"
	mat.Texture("Texture").TranslateU = 0.25
	mat.SetPassthrough("Ospray", "line one\nline two; with semicolon")

	var buf bytes.Buffer
	if err := WriteCard(&buf, mat); err != nil {
		t.Fatalf("WriteCard() error = %v", err)
	}
	got, err := ReadCard(&buf, "")
	if err != nil {
		t.Fatalf("ReadCard() error = %v", err)
	}
	if got.Name != mat.Name || got.RenderType != mat.RenderType {
		t.Errorf("header = %q %q", got.Name, got.RenderType)
	}
	for k, v := range mat.Params {
		if got.Params[k] != v {
			t.Errorf("Params[%q] = %q, want %q", k, got.Params[k], v)
		}
	}
	if got.Textures["Texture"].TranslateU != 0.25 || got.Textures["Texture"].Images[0] != "normal.png" {
		t.Errorf("texture = %+v", got.Textures["Texture"])
	}
	want, _ := mat.Passthrough("Ospray")
	if text, _ := got.Passthrough("Ospray"); text != want {
		t.Errorf("Passthrough() = %q, want %q", text, want)
	}
}

func TestLoadCardCoin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steel.FCMat")
	card := "[General]\nName=Steel\n[Rendering]\nDiffuseColor=(0.3,0.3,0.35)\nTransparency=20\n"
	if err := os.WriteFile(path, []byte(card), 0644); err != nil {
		t.Fatal(err)
	}
	mat, err := LoadCard(path)
	if err != nil {
		t.Fatalf("LoadCard() error = %v", err)
	}
	if mat.DiffuseColor != "(0.3,0.3,0.35)" || mat.Transparency != 20 {
		t.Errorf("coin fields = %q %v", mat.DiffuseColor, mat.Transparency)
	}
	if mat.BaseDir != filepath.Dir(path) {
		t.Errorf("BaseDir = %q", mat.BaseDir)
	}
	if _, err := LoadCard(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("LoadCard(missing) should fail")
	}
}

func TestPassthroughKeys(t *testing.T) {
	tests := []struct {
		key      string
		renderer string
		ordinal  int
		ok       bool
	}{
		{"Render.Pbrt.0001", "Pbrt", 1, true},
		{"Render.Luxcore.9998", "Luxcore", 9998, true},
		{"Render.Pbrt.1", "", 0, false},
		{"Render.Disney.Metallic", "", 0, false},
		{"Render.Pbrt.0000", "", 0, false},
	}
	for _, tt := range tests {
		r, o, ok := parsePassthroughKey(tt.key)
		if r != tt.renderer || o != tt.ordinal || ok != tt.ok {
			t.Errorf("parsePassthroughKey(%q) = %q, %d, %v", tt.key, r, o, ok)
		}
	}
	if got := passthroughKey("Pbrt", 12); got != "Render.Pbrt.0012" {
		t.Errorf("passthroughKey() = %q", got)
	}
}
