// Package config handles raybridge preferences loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/jinzhu/copier"

	"github.com/Faultbox/raybridge/internal/logger"
	"github.com/Faultbox/raybridge/pkg/color"
)

// ConverterName is the default file name of the material converter.
const ConverterName = "raybridge-converter"

// MaxTransparencyBoost bounds TransparencyBoost.
const MaxTransparencyBoost = 10

var (
	ErrRendererNotConfigured = errors.New("renderer executable not configured")
)

// Config holds all user preferences.
type Config struct {
	// Prefix is prepended to renderer command lines (e.g. "nice -n 10").
	Prefix string `yaml:"prefix" toml:"prefix"`
	// ClearReport clears the report view before each render.
	ClearReport bool `yaml:"clear_report" toml:"clear_report"`
	// DryRun writes the scene file but does not run the renderer.
	DryRun bool `yaml:"dry_run" toml:"dry_run"`
	Debug  bool `yaml:"debug" toml:"debug"`
	// EnableMultiprocessing lets the mesh engine use several workers.
	EnableMultiprocessing bool `yaml:"enable_multiprocessing" toml:"enable_multiprocessing"`
	MeshWorkers           int  `yaml:"mesh_workers" toml:"mesh_workers"`
	// MaterialX enables material archive import.
	MaterialX bool `yaml:"materialx" toml:"materialx"`
	// UpdatePip is kept for preference files shared with older hosts.
	UpdatePip       bool `yaml:"update_pip" toml:"update_pip"`
	UseFCDMaterials bool `yaml:"use_fcd_materials" toml:"use_fcd_materials"`
	RenderWidth     int  `yaml:"render_width" toml:"render_width"`
	RenderHeight    int  `yaml:"render_height" toml:"render_height"`
	// PreciseColors selects the piecewise sRGB transfer function instead
	// of the 2.2 gamma approximation.
	PreciseColors     bool `yaml:"precise_colors" toml:"precise_colors"`
	TransparencyBoost int  `yaml:"transparency_boost" toml:"transparency_boost"`

	TemplateDirs  []string                  `yaml:"template_dirs" toml:"template_dirs"`
	ConverterPath string                    `yaml:"converter_path" toml:"converter_path"`
	Renderers     map[string]RendererConfig `yaml:"renderers" toml:"renderers"`
	Logging       LoggingConfig             `yaml:"logging" toml:"logging"`
}

// RendererConfig holds the executables of one renderer.
type RendererConfig struct {
	// Path is the console (batch) executable.
	Path string `yaml:"path" toml:"path"`
	// GUIPath is the interactive executable; empty falls back to Path.
	GUIPath    string `yaml:"gui_path" toml:"gui_path"`
	Parameters string `yaml:"parameters" toml:"parameters"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	LogFile    string `yaml:"log_file" toml:"log_file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		EnableMultiprocessing: true,
		MaterialX:             true,
		UseFCDMaterials:       true,
		RenderWidth:           800,
		RenderHeight:          600,
		Renderers:             map[string]RendererConfig{},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Snapshot returns a deep copy of c, safe to hand to a running render
// while preferences keep changing.
func (c *Config) Snapshot() *Config {
	s := &Config{}
	if err := copier.CopyWithOption(s, c, copier.Option{DeepCopy: true}); err != nil {
		panic(err)
	}
	return s
}

// Renderer returns the configuration of the named renderer, matched
// case-insensitively.
func (c *Config) Renderer(name string) (RendererConfig, bool) {
	for k, v := range c.Renderers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return RendererConfig{}, false
}

// Executable returns the renderer executable for batch or interactive
// runs.
func (c *Config) Executable(name string, batch bool) (string, error) {
	rc, _ := c.Renderer(name)
	path := rc.Path
	if !batch && rc.GUIPath != "" {
		path = rc.GUIPath
	}
	if path == "" {
		return "", fmt.Errorf("%w: %s", ErrRendererNotConfigured, name)
	}
	return path, nil
}

// Workers returns the mesh engine worker count; 1 when multiprocessing
// is disabled, 0 (one per CPU) when unset.
func (c *Config) Workers() int {
	if !c.EnableMultiprocessing {
		return 1
	}
	return c.MeshWorkers
}

// ColorMode returns the sRGB transfer function to use.
func (c *Config) ColorMode() color.Mode {
	if c.PreciseColors {
		return color.Precise
	}
	return color.Fast
}

// FileLogging returns the file logging settings; Path is empty when
// logging to a file is disabled.
func (c *Config) FileLogging() logger.FileConfig {
	return logger.FileConfig{
		Path:       c.Logging.LogFile,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}

// VenvError reports that the material converter environment cannot be
// set up.
type VenvError struct {
	Path string
	Err  error
}

func (e *VenvError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("converter environment: %v", e.Err)
	}
	return fmt.Sprintf("converter environment (%s): %v", e.Path, e.Err)
}

func (e *VenvError) Unwrap() error { return e.Err }

// Converter locates the material converter: ConverterPath when set, else
// a converter next to the running executable, else one on the PATH.
func (c *Config) Converter() (string, error) {
	if c.ConverterPath != "" {
		if err := checkExecutable(c.ConverterPath); err != nil {
			return "", &VenvError{Path: c.ConverterPath, Err: err}
		}
		return c.ConverterPath, nil
	}
	if self, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(self), ConverterName)
		if checkExecutable(p) == nil {
			return p, nil
		}
	}
	p, err := exec.LookPath(ConverterName)
	if err != nil {
		return "", &VenvError{Err: err}
	}
	return p, nil
}

func checkExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() || (runtime.GOOS != "windows" && fi.Mode()&0o111 == 0) {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
