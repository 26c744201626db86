// render exports a scene document through a rendering project and runs
// the renderer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/Faultbox/raybridge/internal/config"
	"github.com/Faultbox/raybridge/internal/logger"
	_ "github.com/Faultbox/raybridge/internal/renderer/plugins"
)

var (
	flagWatch       = flag.Bool("watch", false, "Render again when the project, scene or template changes")
	flagGUI         = flag.Bool("gui", false, "Run the renderer GUI instead of its console version")
	flagSkipMeshing = flag.Bool("skip-meshing", false, "Reuse meshes exported by the previous render")
	flagWorkDir     = flag.String("workdir", "", "Directory for the scene file and meshes (default: project directory)")
	flagIPC         = flag.String("ipc", "", "Unix socket to accept a sub-application on")
	flagLang        = flag.String("lang", "en", "Language of error messages")
	flagBuildOnly   = flag.Bool("build", false, "Write the scene file only")
)

func main() {
	flag.Usage = printUsage
	config.ParseFlags()

	if flag.NArg() != 2 {
		printUsage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitWithFileConfig(cfg.Logging.Level, cfg.FileLogging(), true); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Sugar.Debugf("Config: %+v", cfg)

	tag, err := language.Parse(*flagLang)
	if err != nil {
		tag = language.English
	}

	h := &host{
		cfg:         cfg,
		projectPath: flag.Arg(0),
		scenePath:   flag.Arg(1),
		lang:        tag,
		batch:       !*flagGUI,
		skipMeshing: *flagSkipMeshing,
		workDir:     *flagWorkDir,
		buildOnly:   *flagBuildOnly,
		out:         os.Stdout,
		log:         logger.Named("host"),
		updates:     make(chan update, 8),
	}
	if err := h.reload(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *flagIPC != "" {
		if err := h.serveIPC(ctx, *flagIPC); err != nil {
			logger.Error("cannot listen for sub-applications", zap.Error(err))
			os.Exit(1)
		}
	}
	if *flagWatch {
		if err := h.watch(ctx); err != nil {
			logger.Error("cannot watch files", zap.Error(err))
			os.Exit(1)
		}
	}

	ok := h.render(ctx)
	if !*flagWatch && *flagIPC == "" {
		if !ok {
			logger.Sync()
			os.Exit(1)
		}
		return
	}
	h.loop(ctx)
	logger.Info("render host closed")
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `render - export a scene and run an external renderer

Usage:
  render [options] <project.yaml|toml> <scene.yaml|toml>

Options:`)
	flag.PrintDefaults()
}
