package math

// Placement is a rigid transform: a rotation followed by a translation.
type Placement struct {
	Base     Vec3 `yaml:"base" toml:"base"`
	Rotation Quat `yaml:"rotation" toml:"rotation"`
}

// IdentityPlacement returns the placement that leaves points in place.
func IdentityPlacement() Placement {
	return Placement{Rotation: QuatIdentity()}
}

// Matrix returns the placement as a 4x4 matrix.
func (p Placement) Matrix() Mat4 {
	return Translate(p.Base.X, p.Base.Y, p.Base.Z).Mul(p.Rotation.ToMat4())
}

// MultVec applies the placement to a point.
func (p Placement) MultVec(v Vec3) Vec3 {
	return p.Rotation.Rotate(v).Add(p.Base)
}

// Mul composes two placements (p * other).
func (p Placement) Mul(other Placement) Placement {
	return Placement{
		Base:     p.MultVec(other.Base),
		Rotation: p.Rotation.Mul(other.Rotation).Normalize(),
	}
}

// Scaled returns the placement with its translation multiplied by s.
func (p Placement) Scaled(s float64) Placement {
	return Placement{Base: p.Base.Scale(s), Rotation: p.Rotation}
}
