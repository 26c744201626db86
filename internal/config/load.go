package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable holding a preferences path.
const EnvConfig = "RAYBRIDGE_CONFIG"

// Load builds the preferences: defaults, then the first preferences file
// found (--config, $RAYBRIDGE_CONFIG, working directory, user config
// directory), then command-line flags.
func Load() (*Config, error) {
	cfg := Default()

	path := ConfigPath()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	applyFlags(cfg)
	cfg.normalize()
	return cfg, nil
}

func findConfigFile() string {
	var candidates []string
	for _, dir := range []string{".", ConfigDir()} {
		base := "config"
		if dir == "." {
			base = "raybridge"
		}
		for _, ext := range []string{".yaml", ".yml", ".toml"} {
			candidates = append(candidates, filepath.Join(dir, base+ext))
		}
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Raybridge")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Raybridge")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "raybridge")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "raybridge")
}

// isTOML reports whether path holds TOML rather than YAML.
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// loadFromFile merges a YAML or TOML file into cfg; keys missing from the
// file keep their current values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if isTOML(path) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return err
	}
	if cfg.Renderers == nil {
		cfg.Renderers = map[string]RendererConfig{}
	}
	return nil
}

// normalize clamps values a hand-edited file may get wrong.
func (c *Config) normalize() {
	c.TransparencyBoost = max(0, min(c.TransparencyBoost, MaxTransparencyBoost))
	c.MeshWorkers = max(0, c.MeshWorkers)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Prefix = strings.TrimSpace(c.Prefix)
}
