package archive

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeZip creates a zip under dir with the given files.
func writeZip(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "material.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenAndRead(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, map[string]string{
		"Wood.mtlx":             "<materialx/>",
		"textures/Wood_Col.png": "png",
	})

	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()

	files := a.List()
	if len(files) != 2 || files[0] != "Wood.mtlx" {
		t.Errorf("List() = %v", files)
	}
	if !a.Contains("TEXTURES/wood_col.PNG") {
		t.Error("Contains() should be case-insensitive")
	}
	data, err := a.Read("wood.mtlx")
	if err != nil || string(data) != "<materialx/>" {
		t.Errorf("Read() = %q, %v", data, err)
	}
	if _, err := a.Read("missing.png"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Read(missing) error = %v, want ErrFileNotFound", err)
	}
	if got := a.FindByExt(".MTLX"); len(got) != 1 {
		t.Errorf("FindByExt() = %v", got)
	}
}

func TestOpenNotArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrNotArchive) {
		t.Errorf("Open() error = %v, want ErrNotArchive", err)
	}
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, map[string]string{
		"a.mtlx":       "x",
		"img/base.png": "y",
	})
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	dest := filepath.Join(dir, "out")
	written, err := a.Extract(dest)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(written) != 2 {
		t.Errorf("Extract() wrote %d files, want 2", len(written))
	}
	data, err := os.ReadFile(filepath.Join(dest, "img", "base.png"))
	if err != nil || string(data) != "y" {
		t.Errorf("extracted content = %q, %v", data, err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, map[string]string{"../evil.txt": "x"})
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if _, err := a.Extract(filepath.Join(dir, "out")); !errors.Is(err, ErrUnsafePath) {
		t.Errorf("Extract() error = %v, want ErrUnsafePath", err)
	}
}

func TestFindCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Textures"), 0755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "Textures", "Wood_Color.PNG")
	if err := os.WriteFile(want, nil, 0644); err != nil {
		t.Fatal(err)
	}
	got, ok := FindCaseInsensitive(root, "textures/wood_color.png")
	if !ok || got != want {
		t.Errorf("FindCaseInsensitive() = %q, %v; want %q", got, ok, want)
	}
	if _, ok := FindCaseInsensitive(root, "textures/other.png"); ok {
		t.Error("FindCaseInsensitive() found a missing file")
	}
}
