package baker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/Faultbox/raybridge/internal/executor"
	"github.com/Faultbox/raybridge/internal/material"
)

var ErrImporterBusy = errors.New("importer already running")

// Importer runs the converter as a subprocess and reads back the card it
// produced. The subprocess keeps a crashing conversion away from the
// caller.
type Importer struct {
	// Command is the converter command line, without file arguments.
	Command []string
	// Env is the child environment base; nil means os.Environ().
	Env           []string
	PolyhavenSize float64
	Disp2Bump     bool
	// Progress receives converter progress reports.
	Progress func(value, maximum int)

	log  *zap.Logger
	mu   sync.Mutex
	exec *executor.Executor
}

// NewImporter creates an importer for a converter command line, split
// with shell quoting rules.
func NewImporter(command string, log *zap.Logger) (*Importer, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parsing converter command: %w", err)
	}
	if len(args) == 0 {
		return nil, executor.ErrEmptyCommand
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{Command: args, log: log}, nil
}

// Run converts file into destDir and loads the resulting card. A
// cancelled or terminated converter yields ErrInterrupted; other failures
// are *MaterialXError values carrying the converter exit code.
func (im *Importer) Run(ctx context.Context, file, destDir string) (*material.Material, error) {
	args := append([]string(nil), im.Command...)
	args = append(args, file, destDir)
	if im.PolyhavenSize > 0 {
		args = append(args, "--polyhaven-size", strconv.FormatFloat(im.PolyhavenSize, 'g', -1, 64))
	}
	if im.Disp2Bump {
		args = append(args, "--disp2bump")
	}

	ex, err := executor.NewArgs(args, destDir, "", executor.Options{Env: im.Env, Logger: im.log.Named("converter")})
	if err != nil {
		return nil, err
	}
	im.mu.Lock()
	if im.exec != nil {
		im.mu.Unlock()
		return nil, ErrImporterBusy
	}
	im.exec = ex
	im.mu.Unlock()
	defer func() {
		im.mu.Lock()
		im.exec = nil
		im.mu.Unlock()
	}()

	code := executor.ExitFailure
	for ev := range ex.Start(ctx) {
		switch ev.Kind {
		case executor.EventOutput:
			if p, ok := ParseProgress(ev.Line); ok {
				if im.Progress != nil {
					im.Progress(p.Value, p.Maximum)
				}
			}
		case executor.EventFinished:
			code = ev.Code
		}
	}

	switch {
	case code == 0:
	case ctx.Err() != nil, isInterruptedCode(code), ex.Signaled():
		return nil, ErrInterrupted
	default:
		return nil, NewError(code, nil)
	}

	cardPath := filepath.Join(destDir, CardName)
	if _, err := os.Stat(cardPath); err != nil {
		return nil, NewError(CodeUnhandled, fmt.Errorf("converter wrote no card: %w", err))
	}
	return material.LoadCard(cardPath)
}

// Cancel terminates a running conversion.
func (im *Importer) Cancel() error {
	im.mu.Lock()
	ex := im.exec
	im.mu.Unlock()
	if ex == nil {
		return executor.ErrNotRunning
	}
	return ex.Terminate()
}
