package math

import (
	"math"
	"testing"
)

func TestVec2Add(t *testing.T) {
	a := Vec2{1, 2}
	b := Vec2{3, 4}
	got := a.Add(b)
	want := Vec2{4, 6}
	if got != want {
		t.Errorf("Vec2.Add() = %v, want %v", got, want)
	}
}

func TestVec2Rotate(t *testing.T) {
	got := Vec2{1, 0}.Rotate(math.Pi / 2)
	if math.Abs(got.X) > 1e-12 || math.Abs(got.Y-1) > 1e-12 {
		t.Errorf("Vec2.Rotate(pi/2) = %v, want (0, 1)", got)
	}
}

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	got := x.Cross(y)
	want := Vec3{0, 0, 1}
	if got != want {
		t.Errorf("Vec3.Cross() = %v, want %v", got, want)
	}
}

func TestVec3Div(t *testing.T) {
	tests := []struct {
		v    Vec3
		s    float64
		want Vec3
	}{
		{Vec3{2, 4, 6}, 2, Vec3{1, 2, 3}},
		{Vec3{2, 4, 6}, 0, Vec3{}},
	}
	for _, tt := range tests {
		if got := tt.v.Div(tt.s); got != tt.want {
			t.Errorf("%v.Div(%v) = %v, want %v", tt.v, tt.s, got, tt.want)
		}
	}
}

func TestSafeNormalize(t *testing.T) {
	if got := SafeNormalize(Vec3{}); got != (Vec3{}) {
		t.Errorf("SafeNormalize(0) = %v, want zero vector", got)
	}
	n := SafeNormalize(Vec3{3, 4, 12})
	if l := n.Length(); math.Abs(l-1) > 1e-12 {
		t.Errorf("SafeNormalize().Length() = %v, want 1", l)
	}
}

func TestBarycenter(t *testing.T) {
	got := Barycenter(Vec3{0, 0, 0}, Vec3{3, 0, 0}, Vec3{0, 3, 0})
	want := Vec3{1, 1, 0}
	if got.Distance(want) > 1e-12 {
		t.Errorf("Barycenter() = %v, want %v", got, want)
	}
}

func TestVectAngle(t *testing.T) {
	tests := []struct {
		name string
		a, b Vec3
		want float64
	}{
		{"orthogonal", Vec3{1, 0, 0}, Vec3{0, 1, 0}, math.Pi / 2},
		{"parallel", Vec3{1, 1, 0}, Vec3{2, 2, 0}, 0},
		{"opposite", Vec3{0, 0, 1}, Vec3{0, 0, -5}, math.Pi},
		{"zero", Vec3{}, Vec3{1, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VectAngle(tt.a, tt.b)
			if math.IsNaN(got) || math.Abs(got-tt.want) > 1e-7 {
				t.Errorf("VectAngle() = %v, want %v", got, tt.want)
			}
		})
	}
}
