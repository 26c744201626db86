package config

import "flag"

var (
	flagConfig  = flag.String("config", "", "Path to config file")
	flagDebug   = flag.Bool("debug", false, "Enable debug logging")
	flagDryRun  = flag.Bool("dry-run", false, "Write the scene file without running the renderer")
	flagPrefix  = flag.String("prefix", "", "Command prefix for the renderer (e.g. \"nice -n 10\")")
	flagWidth   = flag.Int("width", 0, "Render width")
	flagHeight  = flag.Int("height", 0, "Render height")
	flagWorkers = flag.Int("workers", 0, "Mesh engine workers (0: one per CPU)")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
	}
	if *flagDryRun {
		cfg.DryRun = true
	}
	if *flagPrefix != "" {
		cfg.Prefix = *flagPrefix
	}
	if *flagWidth > 0 {
		cfg.RenderWidth = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.RenderHeight = *flagHeight
	}
	if *flagWorkers > 0 {
		cfg.MeshWorkers = *flagWorkers
	}
}
