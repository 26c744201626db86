package math

import (
	"math"
	"testing"
)

func TestQuatIdentity(t *testing.T) {
	q := QuatIdentity()
	if q.X != 0 || q.Y != 0 || q.Z != 0 || q.W != 1 {
		t.Errorf("Identity quaternion should be (0,0,0,1), got (%v,%v,%v,%v)", q.X, q.Y, q.Z, q.W)
	}
}

func TestQuatNormalize(t *testing.T) {
	n := Quat{X: 1, Y: 2, Z: 3, W: 4}.Normalize()
	length := math.Sqrt(n.X*n.X + n.Y*n.Y + n.Z*n.Z + n.W*n.W)
	if math.Abs(length-1.0) > 0.0001 {
		t.Errorf("Normalized quaternion length should be 1, got %v", length)
	}
	if z := (Quat{}).Normalize(); z != QuatIdentity() {
		t.Errorf("zero quaternion normalizes to %v, want identity", z)
	}
}

func TestQuatToMat4(t *testing.T) {
	m := QuatIdentity().ToMat4()
	identity := Identity()
	for i := 0; i < 16; i++ {
		if math.Abs(m[i]-identity[i]) > 0.0001 {
			t.Errorf("Identity quat should produce identity matrix, element %d: got %v, want %v", i, m[i], identity[i])
		}
	}
}

func TestQuatRotate(t *testing.T) {
	q := QuatFromAxisAngle(Vec3{0, 0, 1}, math.Pi/2)
	got := q.Rotate(Vec3{1, 0, 0})
	if got.Distance(Vec3{0, 1, 0}) > 1e-9 {
		t.Errorf("Rotate((1,0,0)) = %v, want (0, 1, 0)", got)
	}
}

func TestQuatAxisAngle(t *testing.T) {
	q := QuatFromAxisAngle(Vec3{0, 2, 0}, math.Pi/3)
	axis, angle := q.AxisAngle()
	if axis.Distance(Vec3{0, 1, 0}) > 1e-9 || math.Abs(angle-math.Pi/3) > 1e-9 {
		t.Errorf("AxisAngle() = %v, %v; want (0,1,0), pi/3", axis, angle)
	}
}

func TestPlacementMultVec(t *testing.T) {
	p := Placement{Base: Vec3{10, 0, 0}, Rotation: QuatFromAxisAngle(Vec3{0, 0, 1}, math.Pi/2)}
	got := p.MultVec(Vec3{1, 0, 0})
	if got.Distance(Vec3{10, 1, 0}) > 1e-9 {
		t.Errorf("MultVec() = %v, want (10, 1, 0)", got)
	}
	m := p.Matrix().TransformPoint(Vec3{1, 0, 0})
	if m.Distance(got) > 1e-9 {
		t.Errorf("Matrix().TransformPoint() = %v, want %v", m, got)
	}
	var zero Placement
	if got := zero.MultVec(Vec3{1, 2, 3}); got != (Vec3{1, 2, 3}) {
		t.Errorf("zero placement MultVec() = %v, want unchanged", got)
	}
}
