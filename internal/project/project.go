// Package project holds the parameters of a rendering project and runs
// the full export: renderables to renderer text, template instantiation,
// then the renderer process.
package project

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Faultbox/raybridge/internal/renderer"
	"github.com/Faultbox/raybridge/internal/scene"
	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/mesh"
)

// Defaults applied when a project leaves a field unset.
const (
	DefaultAutoSmoothAngle = 30.0
	DefaultGroundColor     = "(0.8,0.8,0.8)"
	MaxTransparencyBoost   = 10
)

// GroundPlane is an optional plane under the scene.
type GroundPlane struct {
	Enabled bool    `yaml:"enabled" toml:"enabled"`
	Z       float64 `yaml:"z" toml:"z"`
	// Color is the sRGB color, "(r,g,b)".
	Color string `yaml:"color,omitempty" toml:"color,omitempty"`
	// SizeFactor extends the plane by diagonal/2*SizeFactor beyond the
	// scene bounding box on each side.
	SizeFactor float64 `yaml:"size_factor" toml:"size_factor"`
}

// RGB returns the plane color, the default gray when unset.
func (g GroundPlane) RGB() (color.RGB, error) {
	if g.Color == "" {
		return color.Parse(DefaultGroundColor)
	}
	return color.Parse(g.Color)
}

// View references a scene object, optionally overriding its material.
type View struct {
	Object   string `yaml:"object" toml:"object"`
	Material string `yaml:"material,omitempty" toml:"material,omitempty"`
}

// Project is a rendering project.
type Project struct {
	Name     string `yaml:"name" toml:"name"`
	Renderer string `yaml:"renderer" toml:"renderer"`
	// Template is the template path, relative to the template
	// directories or to the project file.
	Template string `yaml:"template" toml:"template"`
	// Width and Height override the preference frame size when set.
	Width  int `yaml:"width,omitempty" toml:"width,omitempty"`
	Height int `yaml:"height,omitempty" toml:"height,omitempty"`
	// Mesh deflections are passed on to the host that tessellates
	// shapes; meshes in scene files are already triangulated.
	LinearDeflection  float64 `yaml:"linear_deflection,omitempty" toml:"linear_deflection,omitempty"`
	AngularDeflection float64 `yaml:"angular_deflection,omitempty" toml:"angular_deflection,omitempty"`
	// TransparencySensitivity (0..10) boosts the transparency of colors
	// used when an object has no material.
	TransparencySensitivity int         `yaml:"transparency_sensitivity,omitempty" toml:"transparency_sensitivity,omitempty"`
	GroundPlane             GroundPlane `yaml:"ground_plane" toml:"ground_plane"`
	AutoSmooth              bool        `yaml:"autosmooth,omitempty" toml:"autosmooth,omitempty"`
	// AutoSmoothAngle is the split angle in degrees.
	AutoSmoothAngle float64 `yaml:"autosmooth_angle,omitempty" toml:"autosmooth_angle,omitempty"`
	// OutputImage defaults to the scene file path with a .png extension.
	OutputImage  string `yaml:"output_image,omitempty" toml:"output_image,omitempty"`
	Spp          int    `yaml:"spp,omitempty" toml:"spp,omitempty"`
	Denoise      bool   `yaml:"denoise,omitempty" toml:"denoise,omitempty"`
	UVProjection string `yaml:"uv_projection,omitempty" toml:"uv_projection,omitempty"`
	// DelayedBuild defers the scene export until render time; otherwise
	// hosts build the scene file as soon as the project changes.
	DelayedBuild    bool   `yaml:"delayed_build,omitempty" toml:"delayed_build,omitempty"`
	OpenAfterRender bool   `yaml:"open_after_render,omitempty" toml:"open_after_render,omitempty"`
	Views           []View `yaml:"views" toml:"views"`

	// Path is the project file, if any.
	Path string `yaml:"-" toml:"-"`
}

// Load reads a YAML or TOML project file.
func Load(path string) (*Project, error) {
	p := &Project{}
	if err := scene.Decode(path, p); err != nil {
		return nil, err
	}
	p.Path = path
	if p.Name == "" {
		base := filepath.Base(path)
		p.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return p, nil
}

// Dir returns the directory of the project file, "." without one.
func (p *Project) Dir() string {
	if p.Path == "" {
		return "."
	}
	return filepath.Dir(p.Path)
}

// Validate checks the project settings.
func (p *Project) Validate() error {
	if p.Renderer == "" {
		return &ConfigurationError{Field: "renderer", Err: ErrNoRenderer}
	}
	if _, err := renderer.Lookup(p.Renderer); err != nil {
		return &renderer.PluginError{Name: p.Renderer, Err: err}
	}
	if p.Template == "" {
		return &ConfigurationError{Field: "template", Err: ErrNoTemplate}
	}
	if p.Width < 0 || p.Height < 0 {
		return &ConfigurationError{Field: "width/height", Err: fmt.Errorf("%w: %dx%d", ErrBadDimensions, p.Width, p.Height)}
	}
	if p.TransparencySensitivity < 0 || p.TransparencySensitivity > MaxTransparencyBoost {
		return &ConfigurationError{Field: "transparency_sensitivity", Err: fmt.Errorf("%w: %d", ErrBadSensitivity, p.TransparencySensitivity)}
	}
	if p.AutoSmoothAngle < 0 || p.AutoSmoothAngle > 180 {
		return &ConfigurationError{Field: "autosmooth_angle", Err: fmt.Errorf("%w: %g", ErrBadSmoothAngle, p.AutoSmoothAngle)}
	}
	if p.Spp < 0 {
		return &ConfigurationError{Field: "spp", Err: fmt.Errorf("%w: %d", ErrBadSamples, p.Spp)}
	}
	if _, err := mesh.ParseProjection(p.UVProjection); err != nil {
		return &ConfigurationError{Field: "uv_projection", Err: err}
	}
	if gp := p.GroundPlane; gp.Enabled {
		if gp.SizeFactor < 0 {
			return &ConfigurationError{Field: "ground_plane", Err: fmt.Errorf("%w: negative size factor", ErrBadGroundPlane)}
		}
		if _, err := gp.RGB(); err != nil {
			return &ConfigurationError{Field: "ground_plane", Err: fmt.Errorf("%w: %v", ErrBadGroundPlane, err)}
		}
	}
	return nil
}

// smoothAngle returns the autosmooth split angle, defaulted.
func (p *Project) smoothAngle() float64 {
	if p.AutoSmoothAngle == 0 {
		return DefaultAutoSmoothAngle
	}
	return p.AutoSmoothAngle
}

// frame returns the frame size: the project size when set, else the
// preference size, else 800x600.
func (p *Project) frame(prefWidth, prefHeight int) (int, int) {
	w, h := p.Width, p.Height
	if w == 0 {
		w = prefWidth
	}
	if h == 0 {
		h = prefHeight
	}
	if w <= 0 {
		w = 800
	}
	if h <= 0 {
		h = 600
	}
	return w, h
}
