package plugins

import (
	"strings"
	"testing"

	"github.com/Faultbox/raybridge/internal/renderer"
)

func TestRegistered(t *testing.T) {
	want := []string{"Appleseed", "Cycles", "Luxcore", "Ospray", "Pbrt", "Povray"}
	if got := renderer.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	for _, name := range want {
		p, err := renderer.Lookup(strings.ToUpper(name))
		if err != nil {
			t.Errorf("Lookup(%q) error = %v", name, err)
			continue
		}
		if !strings.Contains(p.TemplateFilter(), "templates") {
			t.Errorf("%s template filter = %q", name, p.TemplateFilter())
		}
	}
}
