// converter turns a MaterialX document, or a zip archive holding one,
// into a material card with baked textures.
//
// Progress goes to stdout as one JSON object per line when stdout is not
// a terminal, for the importer reading it; on a terminal a progress bar
// is drawn instead. Exit codes: 0 on success, the converter error code on
// failure, 254 (-2) when interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Faultbox/raybridge/internal/baker"
	"github.com/Faultbox/raybridge/internal/logger"
)

type options struct {
	file          string
	destDir       string
	polyhavenSize float64
	disp2bump     bool
	debug         bool
}

var errUsage = errors.New("usage")

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		printUsage()
		os.Exit(baker.CodeUnhandled)
	}

	level := "info"
	if opts.debug {
		level = "debug"
	}
	if err := logger.Init(level, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(baker.CodeUnhandled)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bopts := baker.DefaultOptions()
	bopts.Workers = runtime.NumCPU()
	bopts.Progress = progressReporter(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))

	card, err := baker.Convert(ctx, baker.ConvertOptions{
		File:          opts.file,
		DestDir:       opts.destDir,
		PolyhavenSize: opts.polyhavenSize,
		Disp2Bump:     opts.disp2bump,
		Baker:         bopts,
		Logger:        logger.Named("converter"),
	})
	if err != nil {
		logger.Error("conversion failed", zap.Error(err))
		logger.Sync()
		os.Exit(baker.ExitCode(err))
	}
	logger.Info("material card written", zap.String("file", card))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `converter - MaterialX to material card converter

Usage:
  converter <file> <destdir> [--polyhaven-size FLOAT] [--disp2bump] [--debug]

Arguments:
  file                   MaterialX document (.mtlx) or zip archive
  destdir                Existing directory receiving the card and textures

Options:
  --polyhaven-size FLOAT Real size of the textures, in meters
  --disp2bump            Use the displacement map as bump map`)
}

// parseArgs accepts options before, between or after the two positional
// arguments.
func parseArgs(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("converter", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Float64Var(&opts.polyhavenSize, "polyhaven-size", 0, "Real size of the textures, in meters")
	fs.BoolVar(&opts.disp2bump, "disp2bump", false, "Use the displacement map as bump map")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	var positional []string
	for len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return opts, errUsage
			}
			return opts, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
	if len(positional) != 2 {
		return opts, fmt.Errorf("%w: expected <file> <destdir>, got %d arguments", errUsage, len(positional))
	}
	if opts.polyhavenSize < 0 {
		return opts, fmt.Errorf("invalid --polyhaven-size %s", strconv.FormatFloat(opts.polyhavenSize, 'g', -1, 64))
	}
	opts.file, opts.destDir = positional[0], positional[1]
	return opts, nil
}

// progressReporter returns the baker progress callback: a progress bar on
// stderr for terminals, JSON lines on w otherwise.
func progressReporter(w io.Writer, interactive bool) func(value, maximum int) {
	if !interactive {
		return func(value, maximum int) {
			baker.WriteProgress(w, value, maximum)
		}
	}
	var bar *progressbar.ProgressBar
	return func(value, maximum int) {
		if bar == nil {
			bar = progressbar.NewOptions(maximum,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("Baking"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.ChangeMax(maximum)
		bar.Set(value)
		if value >= maximum {
			bar.Finish()
		}
	}
}
