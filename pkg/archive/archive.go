// Package archive reads material archives: zip files holding a MaterialX
// document and the images it references.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/h2non/filetype"
)

var (
	ErrNotArchive   = errors.New("not a zip archive")
	ErrFileNotFound = errors.New("file not found in archive")
	ErrUnsafePath   = errors.New("archive entry escapes destination")
)

// Archive represents an opened material archive.
type Archive struct {
	reader   *zip.ReadCloser
	path     string
	fileList map[string]*Entry
}

// Entry represents a file entry in the archive.
type Entry struct {
	Name             string // original name, forward slashes
	CompressedSize   uint64
	UncompressedSize uint64
	file             *zip.File
}

// IsArchive sniffs the first bytes of path and reports whether it is a zip.
func IsArchive(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return filetype.Is(head[:n], "zip"), nil
}

// Open opens a material archive for reading.
func Open(path string) (*Archive, error) {
	ok, err := IsArchive(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotArchive)
	}

	// Insecure names are kept here and rejected by Extract.
	reader, err := zip.OpenReader(path)
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && reader != nil) {
		return nil, fmt.Errorf("reading zip: %w", err)
	}

	archive := &Archive{
		reader:   reader,
		path:     path,
		fileList: make(map[string]*Entry),
	}
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.ReplaceAll(f.Name, "\\", "/")
		archive.fileList[normalizePath(name)] = &Entry{
			Name:             name,
			CompressedSize:   f.CompressedSize64,
			UncompressedSize: f.UncompressedSize64,
			file:             f,
		}
	}
	return archive, nil
}

// Close closes the archive.
func (a *Archive) Close() error {
	if a.reader != nil {
		return a.reader.Close()
	}
	return nil
}

// Path returns the archive file path.
func (a *Archive) Path() string {
	return a.path
}

// List returns all file paths in the archive, sorted.
func (a *Archive) List() []string {
	result := make([]string, 0, len(a.fileList))
	for _, e := range a.fileList {
		result = append(result, e.Name)
	}
	sort.Strings(result)
	return result
}

// Contains checks if a file exists (case-insensitive).
func (a *Archive) Contains(path string) bool {
	_, ok := a.fileList[normalizePath(path)]
	return ok
}

// Stat returns the entry for path.
func (a *Archive) Stat(path string) (*Entry, error) {
	entry, ok := a.fileList[normalizePath(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return entry, nil
}

// Read reads a file from the archive.
func (a *Archive) Read(path string) ([]byte, error) {
	entry, err := a.Stat(path)
	if err != nil {
		return nil, err
	}
	rc, err := entry.file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// FindByExt returns the entries whose extension matches ext (e.g. ".mtlx").
func (a *Archive) FindByExt(ext string) []string {
	ext = strings.ToLower(ext)
	var result []string
	for _, name := range a.List() {
		if strings.ToLower(filepath.Ext(name)) == ext {
			result = append(result, name)
		}
	}
	return result
}

// Extract unpacks every entry under dest and returns the written paths.
// Entries that would land outside dest are rejected.
func (a *Archive) Extract(dest string) ([]string, error) {
	root, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	var written []string
	for _, name := range a.List() {
		entry := a.fileList[normalizePath(name)]
		target := filepath.Join(root, filepath.FromSlash(name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return written, fmt.Errorf("%w: %s", ErrUnsafePath, name)
		}
		if err := extractFile(entry.file, target); err != nil {
			return written, fmt.Errorf("extracting %s: %w", name, err)
		}
		written = append(written, target)
	}
	return written, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// FindCaseInsensitive looks for rel under root ignoring case, one path
// element at a time. It returns the real path of the match.
func FindCaseInsensitive(root, rel string) (string, bool) {
	current := root
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "" || part == "." {
			continue
		}
		entries, err := os.ReadDir(current)
		if err != nil {
			return "", false
		}
		found := ""
		for _, e := range entries {
			if e.Name() == part {
				found = e.Name()
				break
			}
			if found == "" && strings.EqualFold(e.Name(), part) {
				found = e.Name()
			}
		}
		if found == "" {
			return "", false
		}
		current = filepath.Join(current, found)
	}
	return current, true
}

func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.ToLower(path)
}
