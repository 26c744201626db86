// Package executor runs renderer processes and streams their output.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

var (
	ErrEmptyCommand   = errors.New("empty command line")
	ErrAlreadyStarted = errors.New("executor already started")
	ErrNotRunning     = errors.New("process not running")
)

// ExitFailure is the code reported when the process could not be run.
const ExitFailure = -1

// Variables removed from the child environment so a renderer bundling
// its own Python does not pick up the host interpreter.
var scrubbedEnv = []string{"PYTHONHOME", "PYTHONPATH", "PIP_USER"}

// EventKind identifies an Event.
type EventKind int

const (
	// EventOutput carries one line of merged stdout/stderr.
	EventOutput EventKind = iota
	// EventResultReady carries the output image path after a zero exit.
	EventResultReady
	// EventFinished carries the exit code. It is always the last event.
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventOutput:
		return "output"
	case EventResultReady:
		return "result-ready"
	case EventFinished:
		return "finished"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a message from a running process.
type Event struct {
	Kind  EventKind
	Line  string
	Image string
	Code  int
}

// Options configures an Executor.
type Options struct {
	// Env is the base environment; nil means os.Environ().
	Env []string
	// Logger receives output lines at info level; nil disables logging.
	Logger *zap.Logger
	// GracePeriod is how long Terminate waits before killing.
	GracePeriod time.Duration
}

// Executor runs one command once.
type Executor struct {
	args  []string
	cwd   string
	image string
	opts  Options
	log   *zap.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	started  bool
	signaled bool
	done     chan struct{}
}

// New parses cmdline with shell quoting rules. cwd is the directory
// holding the scene file; image is the expected output image.
func New(cmdline, cwd, image string, opts Options) (*Executor, error) {
	p := shellwords.NewParser()
	args, err := p.Parse(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parsing command line: %w", err)
	}
	return NewArgs(args, cwd, image, opts)
}

// NewArgs is New with a split command line.
func NewArgs(args []string, cwd, image string, opts Options) (*Executor, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, ErrEmptyCommand
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 5 * time.Second
	}
	return &Executor{
		args:  args,
		cwd:   cwd,
		image: image,
		opts:  opts,
		log:   log,
		done:  make(chan struct{}),
	}, nil
}

// Args returns the parsed command line.
func (e *Executor) Args() []string { return append([]string(nil), e.args...) }

// Start launches the process in the background. The returned channel
// delivers output lines, then EventResultReady on a zero exit with an
// image, then exactly one EventFinished, and is closed. Start may be
// called once; later calls get a channel holding a single failure.
func (e *Executor) Start(ctx context.Context) <-chan Event {
	events := make(chan Event, 64)

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		events <- Event{Kind: EventFinished, Code: ExitFailure}
		close(events)
		return events
	}
	e.started = true
	e.mu.Unlock()

	go func() {
		defer close(events)
		defer close(e.done)
		code := e.run(ctx, func(line string) {
			events <- Event{Kind: EventOutput, Line: line}
		})
		if code == 0 && e.image != "" {
			events <- Event{Kind: EventResultReady, Image: e.image}
		}
		events <- Event{Kind: EventFinished, Code: code}
	}()
	return events
}

// Run executes the process synchronously and returns its exit code.
func (e *Executor) Run(ctx context.Context) int {
	code := ExitFailure
	for ev := range e.Start(ctx) {
		if ev.Kind == EventFinished {
			code = ev.Code
		}
	}
	return code
}

// Wait blocks until a started process has exited.
func (e *Executor) Wait() { <-e.done }

// Signaled reports whether the finished process was ended by a signal.
func (e *Executor) Signaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

// Terminate asks the process to stop, killing it after the grace period.
func (e *Executor) Terminate() error {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return ErrNotRunning
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}
	go func() {
		select {
		case <-e.done:
		case <-time.After(e.opts.GracePeriod):
			cmd.Process.Kill()
		}
	}()
	return nil
}

func (e *Executor) run(ctx context.Context, emit func(string)) int {
	cmd := exec.CommandContext(ctx, e.args[0], e.args[1:]...)
	cmd.Dir = e.cwd
	env := e.opts.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = ScrubEnv(env)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = e.opts.GracePeriod

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	e.log.Info("starting renderer", zap.Strings("args", e.args), zap.String("dir", e.cwd))
	if err := cmd.Start(); err != nil {
		pw.Close()
		e.log.Error("failed to start renderer", zap.String("error", fmt.Sprintf("%T: %v", err, err)))
		return ExitFailure
	}
	e.mu.Lock()
	e.cmd = cmd
	e.mu.Unlock()

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			e.log.Info(line)
			emit(line)
		}
		// drain so the child never blocks on a full pipe
		io.Copy(io.Discard, pr)
	}()

	err := cmd.Wait()
	pw.Close()
	<-scanned

	code := cmd.ProcessState.ExitCode()
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		e.mu.Lock()
		e.signaled = true
		e.mu.Unlock()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			e.log.Error("renderer failed", zap.String("error", fmt.Sprintf("%T: %v", err, err)))
			if code == 0 {
				code = ExitFailure
			}
		}
	}
	e.log.Info("renderer finished", zap.Int("code", code))
	return code
}

// ScrubEnv returns env without the Python variables that must not leak
// into child processes.
func ScrubEnv(env []string) []string {
	out := make([]string, 0, len(env))
outer:
	for _, kv := range env {
		for _, name := range scrubbedEnv {
			if strings.HasPrefix(kv, name+"=") {
				continue outer
			}
		}
		out = append(out, kv)
	}
	return out
}
