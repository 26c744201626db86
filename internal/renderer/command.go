package renderer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/math"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

// Command is a renderer invocation.
type Command struct {
	Args []string
	// Image is where the renderer writes its result.
	Image string
}

// String returns the command line with shell quoting.
func (c Command) String() string {
	quoted := make([]string, len(c.Args))
	for i, a := range c.Args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Quote quotes s for a POSIX shell when needed.
func Quote(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`&|;<>()*?[]#~") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`").Replace(s) + `"`
}

// BuildCommand splits prefix and params with shell rules and assembles
// prefix, executable, params and args.
func BuildCommand(prefix, executable, params string, args ...string) ([]string, error) {
	if executable == "" {
		return nil, ErrNoExecutable
	}
	pre, err := shellwords.Parse(prefix)
	if err != nil {
		return nil, fmt.Errorf("parsing prefix %q: %w", prefix, err)
	}
	opts, err := shellwords.Parse(params)
	if err != nil {
		return nil, fmt.Errorf("parsing parameters %q: %w", params, err)
	}
	out := make([]string, 0, len(pre)+1+len(opts)+len(args))
	out = append(out, pre...)
	out = append(out, executable)
	out = append(out, opts...)
	return append(out, args...), nil
}

// ExpandMacros replaces the frame size macros of templates.
func ExpandMacros(text string, width, height int) string {
	ratio := 1.0
	if height != 0 {
		ratio = float64(width) / float64(height)
	}
	return strings.NewReplacer(
		"@@WIDTH@@", strconv.Itoa(width),
		"@@HEIGHT@@", strconv.Itoa(height),
		"@@ASPECT_RATIO@@", F(ratio),
	).Replace(text)
}

// KeepLastBlock removes every match of re from text and returns the last
// match separately. ok is false when there is no match.
func KeepLastBlock(text string, re *regexp.Regexp) (rest, last string, ok bool) {
	blocks := re.FindAllString(text, -1)
	if len(blocks) == 0 {
		return text, "", false
	}
	return re.ReplaceAllString(text, ""), blocks[len(blocks)-1], true
}

// RewriteFile applies fn to the content of path.
func RewriteFile(path string, fn func(string) (string, error)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out, err := fn(string(data))
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(out), 0o644)
}

// F formats a float for scene files.
func F(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// V formats a vector as space separated components.
func V(v math.Vec3) string {
	return F(v.X) + " " + F(v.Y) + " " + F(v.Z)
}

// C formats a color as space separated components.
func C(c color.Linear) string {
	return F(c.R) + " " + F(c.G) + " " + F(c.B)
}

// CSV formats a vector as comma separated components.
func CSV(v math.Vec3) string {
	return F(v.X) + ", " + F(v.Y) + ", " + F(v.Z)
}

// DefaultOutput returns the image path used when a render request has
// none: the input path with a .png extension.
func DefaultOutput(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".png"
}

// WorldMesh returns a copy of m with its placement applied.
func WorldMesh(m *mesh.Mesh) *mesh.Mesh {
	w := m.Copy()
	w.ApplyPlacement()
	return w
}

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// Identifier turns name into a letters, digits and underscores token, for
// renderers that use names in property paths.
func Identifier(name string) string {
	s := nonIdent.ReplaceAllString(name, "_")
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "_" + s
	}
	return s
}
