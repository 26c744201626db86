package scene

import (
	"errors"
	"fmt"
	gomath "math"
	"strings"

	"github.com/Faultbox/raybridge/pkg/math"
)

var ErrBadProjection = errors.New("unknown camera projection")

// Projection is the camera projection kind.
type Projection string

const (
	Perspective  Projection = "perspective"
	Orthographic Projection = "orthographic"
)

// DefaultFOV is the vertical field of view used when none is given, in
// degrees.
const DefaultFOV = 60.0

// Camera is a scene camera. Its position and orientation come from the
// owning object's placement; the camera looks down its local -Z axis with
// +Y up.
type Camera struct {
	Projection Projection `yaml:"projection,omitempty" toml:"projection,omitempty"`
	// FOV is the vertical field of view in degrees.
	FOV float64 `yaml:"fov,omitempty" toml:"fov,omitempty"`
	// Height is the view height of an orthographic camera, in scene units.
	Height float64 `yaml:"height,omitempty" toml:"height,omitempty"`
	// Mapping is the viewport mapping policy (e.g. "ADJUST", "CROP").
	Mapping string `yaml:"mapping,omitempty" toml:"mapping,omitempty"`

	Placement math.Placement `yaml:"-" toml:"-"`
}

// Normalize fills in defaults and checks the projection.
func (c *Camera) Normalize() error {
	switch Projection(strings.ToLower(string(c.Projection))) {
	case "", Perspective:
		c.Projection = Perspective
	case Orthographic:
		c.Projection = Orthographic
	default:
		return fmt.Errorf("%w: %q", ErrBadProjection, c.Projection)
	}
	if c.FOV <= 0 {
		c.FOV = DefaultFOV
	}
	return nil
}

// Position returns the camera position.
func (c *Camera) Position() math.Vec3 { return c.Placement.Base }

// Direction returns the unit viewing direction.
func (c *Camera) Direction() math.Vec3 {
	return c.Placement.Rotation.Rotate(math.Vec3{Z: -1})
}

// Target returns the point one unit ahead of the camera.
func (c *Camera) Target() math.Vec3 {
	return c.Position().Add(c.Direction())
}

// Up returns the camera up vector.
func (c *Camera) Up() math.Vec3 {
	return c.Placement.Rotation.Rotate(math.Vec3{Y: 1})
}

// Scaled returns a copy with positions and sizes multiplied by s.
func (c Camera) Scaled(s float64) Camera {
	c.Placement = c.Placement.Scaled(s)
	c.Height *= s
	return c
}

// DefaultCamera looks at the scene bounding box from the front-right-top
// diagonal, far enough for the whole box to fit the default field of view.
func DefaultCamera(center math.Vec3, diagonal float64) Camera {
	if diagonal <= 0 {
		diagonal = 1000
	}
	dir := math.Vec3{X: 1, Y: -1, Z: 1}.Normalize()
	pos := center.Add(dir.Scale(diagonal * 1.5))
	return Camera{
		Projection: Perspective,
		FOV:        DefaultFOV,
		Placement:  math.Placement{Base: pos, Rotation: lookRotation(center.Sub(pos))},
	}
}

// lookRotation returns the rotation taking -Z to dir while keeping +Z up as
// much as possible.
func lookRotation(dir math.Vec3) math.Quat {
	dir = dir.Normalize()
	forward := math.Vec3{Z: -1}
	// align -Z with dir
	axis := forward.Cross(dir)
	angle := math.VectAngle(forward, dir)
	q := math.QuatFromAxisAngle(axis, angle)
	if axis.IsZero() && forward.Dot(dir) < 0 {
		q = math.QuatFromAxisAngle(math.Vec3{X: 1}, gomath.Pi)
	}
	// roll so that the camera up is as close to world Z as possible
	up := q.Rotate(math.Vec3{Y: 1})
	want := math.Vec3{Z: 1}.Sub(dir.Scale(dir.Z))
	if want.IsZero() {
		return q
	}
	want = want.Normalize()
	roll := math.VectAngle(up, want)
	if up.Cross(want).Dot(dir) < 0 {
		roll = -roll
	}
	return math.QuatFromAxisAngle(dir, roll).Mul(q).Normalize()
}
