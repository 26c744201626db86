package scene

import (
	"errors"
	"fmt"

	"github.com/Faultbox/raybridge/pkg/color"
	"github.com/Faultbox/raybridge/pkg/math"
)

var ErrInvalidLight = errors.New("invalid light")

const (
	// DefaultPointPower is the power of a point light with none set, in W.
	DefaultPointPower = 60.0
	// SunDistance is the sun distance in km.
	SunDistance = 151_000_000.0
)

// lightColor parses an sRGB color literal, white when empty.
func lightColor(s string) (color.RGB, error) {
	if s == "" {
		return color.New(1, 1, 1), nil
	}
	return color.Parse(s)
}

// PointLight is an omnidirectional light at the object placement base.
type PointLight struct {
	Color string  `yaml:"color,omitempty" toml:"color,omitempty"`
	Power float64 `yaml:"power,omitempty" toml:"power,omitempty"`
}

// RGB returns the light color.
func (l *PointLight) RGB() (color.RGB, error) { return lightColor(l.Color) }

// EffectivePower returns the power, defaulted.
func (l *PointLight) EffectivePower() float64 {
	if l.Power <= 0 {
		return DefaultPointPower
	}
	return l.Power
}

// AreaLight is a rectangular emitter in the XY plane of its placement,
// centred on the placement base.
type AreaLight struct {
	SizeU       float64 `yaml:"size_u" toml:"size_u"`
	SizeV       float64 `yaml:"size_v" toml:"size_v"`
	Color       string  `yaml:"color,omitempty" toml:"color,omitempty"`
	Power       float64 `yaml:"power,omitempty" toml:"power,omitempty"`
	Transparent bool    `yaml:"transparent,omitempty" toml:"transparent,omitempty"`
}

// RGB returns the light color.
func (l *AreaLight) RGB() (color.RGB, error) { return lightColor(l.Color) }

// Validate checks the sizes.
func (l *AreaLight) Validate() error {
	if l.SizeU <= 0 || l.SizeV <= 0 {
		return fmt.Errorf("%w: area light size %gx%g", ErrInvalidLight, l.SizeU, l.SizeV)
	}
	return nil
}

// SunSkyLight is a physical sun and sky model.
type SunSkyLight struct {
	Direction    math.Vec3 `yaml:"direction" toml:"direction"`
	Turbidity    float64   `yaml:"turbidity" toml:"turbidity"`
	GroundAlbedo float64   `yaml:"albedo,omitempty" toml:"albedo,omitempty"`
	// Intensities default to 1.
	SunIntensity float64 `yaml:"sun_intensity,omitempty" toml:"sun_intensity,omitempty"`
	SkyIntensity float64 `yaml:"sky_intensity,omitempty" toml:"sky_intensity,omitempty"`
}

// Validate checks turbidity, albedo and direction.
func (l *SunSkyLight) Validate() error {
	switch {
	case l.Turbidity < 0:
		return fmt.Errorf("%w: negative turbidity", ErrInvalidLight)
	case l.GroundAlbedo < 0:
		return fmt.Errorf("%w: negative albedo", ErrInvalidLight)
	case l.Direction.Length() == 0:
		return fmt.Errorf("%w: null sun direction", ErrInvalidLight)
	}
	return nil
}

// Intensities returns sun and sky intensities, defaulted.
func (l *SunSkyLight) Intensities() (sun, sky float64) {
	sun, sky = l.SunIntensity, l.SkyIntensity
	if sun == 0 {
		sun = 1
	}
	if sky == 0 {
		sky = 1
	}
	return sun, sky
}

// ImageLight is an equirectangular environment image.
type ImageLight struct {
	Image string `yaml:"image" toml:"image"`
}

// Validate checks the image is set.
func (l *ImageLight) Validate() error {
	if l.Image == "" {
		return fmt.Errorf("%w: image light without image", ErrInvalidLight)
	}
	return nil
}

// DistantLight is a directional light with an angular diameter in
// degrees.
type DistantLight struct {
	Color     string    `yaml:"color,omitempty" toml:"color,omitempty"`
	Power     float64   `yaml:"power,omitempty" toml:"power,omitempty"`
	Direction math.Vec3 `yaml:"direction" toml:"direction"`
	Angle     float64   `yaml:"angle,omitempty" toml:"angle,omitempty"`
}

// RGB returns the light color.
func (l *DistantLight) RGB() (color.RGB, error) { return lightColor(l.Color) }

// Validate checks the direction.
func (l *DistantLight) Validate() error {
	if l.Direction.Length() == 0 {
		return fmt.Errorf("%w: null light direction", ErrInvalidLight)
	}
	return nil
}
