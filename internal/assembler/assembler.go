// Package assembler merges renderer text into scene templates and writes
// the instantiated scene files.
package assembler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/raybridge/internal/assets"
	"github.com/Faultbox/raybridge/pkg/encoding"
)

// Template markers. A marker line is replaced as a whole.
const (
	CameraMarker  = "RaytracingCamera"
	ContentMarker = "RaytracingContent"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
)

// Instantiate replaces the marker lines of template. A line holding the
// camera marker becomes camera; a line holding the content marker becomes
// the objects joined by newlines, preceded by the camera when the
// template has no camera marker. ok is false when the template has no
// content marker; camera markers are still replaced.
func Instantiate(template, camera string, objects []string) (out string, ok bool) {
	ok = strings.Contains(template, ContentMarker)
	content := strings.Join(objects, "\n")
	if !strings.Contains(template, CameraMarker) {
		content = camera + "\n" + content
	}

	var b strings.Builder
	b.Grow(len(template) + len(content) + len(camera))
	for _, line := range strings.SplitAfter(template, "\n") {
		body := strings.TrimSuffix(line, "\n")
		eol := line[len(body):]
		switch {
		case strings.Contains(body, CameraMarker):
			b.WriteString(camera)
		case strings.Contains(body, ContentMarker):
			b.WriteString(content)
		default:
			b.WriteString(body)
		}
		b.WriteString(eol)
	}
	return b.String(), ok
}

// Assembler loads templates and instantiates them.
type Assembler struct {
	assets *assets.Manager
	log    *zap.Logger
}

// New creates an assembler loading templates through m. A nil logger
// discards warnings.
func New(m *assets.Manager, log *zap.Logger) *Assembler {
	if m == nil {
		m = assets.NewManager()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{assets: m, log: log}
}

// LoadTemplate returns the text of a template, decoded to UTF-8.
// Relative paths are looked up in the asset search directories.
func (a *Assembler) LoadTemplate(path string) (string, error) {
	data, err := a.assets.Load(path)
	if err != nil {
		if errors.Is(err, assets.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return "", fmt.Errorf("loading template %s: %w", path, err)
	}
	return encoding.DecodeText(data), nil
}

// Assemble instantiates template and logs a warning when it has no
// content marker; such scenes hold at most the camera.
func (a *Assembler) Assemble(template, camera string, objects []string) string {
	out, ok := Instantiate(template, camera, objects)
	if !ok {
		a.log.Warn("template has no content marker, objects left out",
			zap.String("marker", ContentMarker))
	}
	return out
}

// WriteScene writes content to a new file of dir, named after name with
// a random suffix and the extension of templatePath. It returns the file
// path.
func WriteScene(dir, name, templatePath, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating scene directory: %w", err)
	}
	pattern := encoding.Identifier(name) + "_*" + filepath.Ext(templatePath)
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("creating scene file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing scene file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}
