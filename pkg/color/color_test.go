package color

import (
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	for _, mode := range []Mode{Fast, Precise} {
		for r := 0.0; r <= 1.0; r += 0.05 {
			for g := 0.0; g <= 1.0; g += 0.1 {
				c := New(r, g, 1-r)
				back := FromLinear(c.Linear(mode), mode)
				if math.Abs(back.R-c.R) > 1e-6 || math.Abs(back.G-c.G) > 1e-6 || math.Abs(back.B-c.B) > 1e-6 {
					t.Fatalf("%v round trip of %v = %v", mode, c, back)
				}
			}
		}
	}
}

func TestFastLinear(t *testing.T) {
	got := New(0.8, 0.2, 0.2).Linear(Fast)
	want := Linear{math.Pow(0.8, 2.2), math.Pow(0.2, 2.2), math.Pow(0.2, 2.2)}
	if got != want {
		t.Errorf("Linear(Fast) = %v, want %v", got, want)
	}
}

func TestPreciseLinear(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{0.04045, 0.04045 / 12.92},
		{1, 1},
		{0.5, 0.21404114048223255},
	}
	for _, tt := range tests {
		if got := ToLinear(tt.in, Precise); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ToLinear(%v, Precise) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    RGB
		wantErr bool
	}{
		{"(0.8,0.2,0.2)", RGB{0.8, 0.2, 0.2, 1}, false},
		{"(1.0, 0.5, 0.0, 0.5)", RGB{1, 0.5, 0, 0.5}, false},
		{"255, 0, 51", RGB{1, 0, 0.2, 1}, false},
		{"(1,2)", RGB{}, true},
		{"red", RGB{}, true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithTransparency(t *testing.T) {
	c := New(1, 1, 1).WithTransparency(25)
	if c.A != 0.75 {
		t.Errorf("WithTransparency(25).A = %v, want 0.75", c.A)
	}
}

func TestString(t *testing.T) {
	if got := New(0.8, 0.2, 0).String(); got != "(0.8,0.2,0)" {
		t.Errorf("String() = %q", got)
	}
}
