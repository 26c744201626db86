// Package renderer turns scene entities into renderer-native scene text
// through per-renderer plugins, and builds renderer command lines.
package renderer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Faultbox/raybridge/internal/material"
	"github.com/Faultbox/raybridge/internal/scene"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/math"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

var (
	ErrPluginNotFound  = errors.New("renderer plugin not found")
	ErrNoExecutable    = errors.New("renderer executable not set")
	ErrNoCamera        = errors.New("scene has no camera block")
	ErrDuplicatePlugin = errors.New("renderer plugin registered twice")
	ErrNoObjectDir     = errors.New("object directory not set")
)

// PluginError reports a renderer plugin that cannot be loaded.
type PluginError struct {
	Name string
	Err  error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("renderer '%s': %v", e.Name, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// Camera is a camera in renderer units (metres), in the scene frame.
type Camera struct {
	Position math.Vec3
	Target   math.Vec3
	Up       math.Vec3
	Rotation math.Quat
	// FOV is the vertical field of view in degrees.
	FOV        float64
	Projection scene.Projection
	// OrthoHeight is the view height of orthographic cameras, in metres.
	OrthoHeight float64
	// Width and Height are the frame size in pixels.
	Width, Height int
}

// AspectRatio returns width over height.
func (c Camera) AspectRatio() float64 {
	if c.Height == 0 {
		return 1
	}
	return float64(c.Width) / float64(c.Height)
}

// Object is a prepared renderable.
type Object struct {
	// Mesh is in metres; its placement is not applied.
	Mesh   *mesh.Mesh
	Shader *material.Shader
	// Color is the default color in sRGB, alpha is opacity.
	Color color.RGB
	// OBJFile is the mesh exported in its local frame, relative to the
	// project directory; empty when meshes are not exported.
	OBJFile string
	// Dir is the absolute object directory for auxiliary files.
	Dir string
	// Params holds renderer specific parameters.
	Params map[string]string
}

// PointLight is an omnidirectional light.
type PointLight struct {
	Position math.Vec3
	Color    color.Linear
	Power    float64
}

// AreaLight is a rectangular light in the XY plane of Placement.
type AreaLight struct {
	Placement   math.Placement
	SizeU       float64
	SizeV       float64
	Color       color.Linear
	Power       float64
	Transparent bool
	// Dir is the absolute object directory for auxiliary files.
	Dir string
}

// SunSkyLight is a sun and sky model. Direction points from the scene
// towards the sun.
type SunSkyLight struct {
	Direction    math.Vec3
	Distance     float64 // metres
	Turbidity    float64
	Albedo       float64
	SunIntensity float64
	SkyIntensity float64
}

// ImageLight is an environment image.
type ImageLight struct {
	Image string
	// Dir is the absolute object directory for auxiliary files.
	Dir string
}

// DistantLight is a directional light. Direction points from the scene
// towards the light.
type DistantLight struct {
	Color     color.Linear
	Power     float64
	Direction math.Vec3
	Angle     float64 // degrees
}

// RenderRequest describes a renderer invocation.
type RenderRequest struct {
	ProjectName string
	// Prefix is prepended to the command line (e.g. "nice -n 10").
	Prefix     string
	Executable string
	Parameters string
	// Batch selects the console renderer rather than its GUI.
	Batch bool
	// Input is the instantiated scene file; plugins may rewrite it.
	Input string
	// Output is the requested image path; empty lets the plugin choose.
	Output        string
	Width, Height int
	Spp           int
	Denoise       bool
}

// Plugin writes scene text for one renderer. Methods return the text to
// insert in the template; those returning an error may write auxiliary
// files under the Dir of their argument. Coordinate system conversions
// are the plugin's concern.
type Plugin interface {
	Name() string
	// TemplateFilter is the file dialog filter for the plugin templates.
	TemplateFilter() string
	// Materials lists the shader types the plugin writes natively; others
	// are replaced by a diffuse fallback.
	Materials() []string

	WriteCamera(name string, cam Camera) (string, error)
	WriteObject(name string, obj Object) (string, error)
	WritePointLight(name string, l PointLight) (string, error)
	WriteAreaLight(name string, l AreaLight) (string, error)
	WriteSunSkyLight(name string, l SunSkyLight) (string, error)
	WriteImageLight(name string, l ImageLight) (string, error)
	WriteDistantLight(name string, l DistantLight) (string, error)

	// Render post-processes req.Input and returns the command to run.
	Render(req RenderRequest) (Command, error)
}

// MeshFiler is implemented by plugins that import the exported OBJ files
// and need specific OBJ statements in them.
type MeshFiler interface {
	OBJOptions(name string) mesh.OBJOptions
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Plugin{}
)

// Register makes a plugin available by name. It is meant to be called
// from plugin init functions and panics on duplicates.
func Register(p Plugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	key := strings.ToLower(p.Name())
	if _, dup := registry[key]; dup {
		panic(fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name()))
	}
	registry[key] = p
}

// Lookup returns the plugin registered under name, case-insensitively.
func Lookup(name string) (Plugin, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, &PluginError{Name: name, Err: ErrPluginNotFound}
	}
	return p, nil
}

// Names returns the registered plugin names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for _, p := range registry {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// supports reports whether p writes shader type kind natively.
func supports(p Plugin, kind string) bool {
	for _, k := range p.Materials() {
		if strings.EqualFold(k, kind) {
			return true
		}
	}
	return false
}
