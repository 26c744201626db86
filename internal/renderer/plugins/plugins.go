// Package plugins registers every renderer plugin. Import it for its side
// effects.
package plugins

import (
	_ "github.com/Faultbox/raybridge/internal/renderer/appleseed"
	_ "github.com/Faultbox/raybridge/internal/renderer/cycles"
	_ "github.com/Faultbox/raybridge/internal/renderer/luxcore"
	_ "github.com/Faultbox/raybridge/internal/renderer/ospray"
	_ "github.com/Faultbox/raybridge/internal/renderer/pbrt"
	_ "github.com/Faultbox/raybridge/internal/renderer/povray"
)
