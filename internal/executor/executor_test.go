package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It stands in for a renderer when
// run with RAYBRIDGE_HELPER=1.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("RAYBRIDGE_HELPER") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	switch args[0] {
	case "echo":
		for _, a := range args[1:] {
			fmt.Println(a)
		}
		fmt.Fprintln(os.Stderr, "stderr line")
	case "exit":
		code, _ := strconv.Atoi(args[1])
		os.Exit(code)
	case "env":
		fmt.Println(os.Getenv(args[1]))
	case "pwd":
		wd, _ := os.Getwd()
		fmt.Println(wd)
	case "sleep":
		time.Sleep(30 * time.Second)
	}
	os.Exit(0)
}

func helperArgs(args ...string) []string {
	return append([]string{os.Args[0], "-test.run=TestHelperProcess", "--"}, args...)
}

func helperEnv() []string {
	return append(os.Environ(), "RAYBRIDGE_HELPER=1")
}

func collect(t *testing.T, e *Executor) []Event {
	t.Helper()
	var events []Event
	for ev := range e.Start(context.Background()) {
		events = append(events, ev)
	}
	return events
}

func TestStartStreamsOutput(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "out.png")
	e, err := NewArgs(helperArgs("echo", "hello", "world"), dir, image, Options{Env: helperEnv()})
	if err != nil {
		t.Fatalf("NewArgs() error = %v", err)
	}
	events := collect(t, e)

	lines := map[string]bool{}
	finished := 0
	var ready string
	for i, ev := range events {
		switch ev.Kind {
		case EventOutput:
			lines[ev.Line] = true
		case EventResultReady:
			ready = ev.Image
		case EventFinished:
			finished++
			if i != len(events)-1 {
				t.Errorf("finished event at %d, want last", i)
			}
			if ev.Code != 0 {
				t.Errorf("code = %d, want 0", ev.Code)
			}
		}
	}
	for _, want := range []string{"hello", "world", "stderr line"} {
		if !lines[want] {
			t.Errorf("missing output line %q", want)
		}
	}
	if finished != 1 {
		t.Errorf("finished events = %d, want 1", finished)
	}
	if ready != image {
		t.Errorf("result ready = %q, want %q", ready, image)
	}
}

func TestRunExitCode(t *testing.T) {
	tests := []int{0, 1, 3, 42}
	for _, code := range tests {
		e, err := NewArgs(helperArgs("exit", strconv.Itoa(code)), t.TempDir(), "out.png", Options{Env: helperEnv()})
		if err != nil {
			t.Fatalf("NewArgs() error = %v", err)
		}
		if got := e.Run(context.Background()); got != code {
			t.Errorf("Run() = %d, want %d", got, code)
		}
	}
}

func TestNoResultOnFailure(t *testing.T) {
	e, _ := NewArgs(helperArgs("exit", "2"), t.TempDir(), "out.png", Options{Env: helperEnv()})
	for _, ev := range collect(t, e) {
		if ev.Kind == EventResultReady {
			t.Error("result ready emitted for a failed run")
		}
	}
}

func TestStartTwice(t *testing.T) {
	e, _ := NewArgs(helperArgs("exit", "0"), t.TempDir(), "", Options{Env: helperEnv()})
	e.Run(context.Background())
	events := collect(t, e)
	if len(events) != 1 || events[0].Kind != EventFinished || events[0].Code != ExitFailure {
		t.Errorf("second Start() events = %+v, want one failure", events)
	}
}

func TestMissingBinary(t *testing.T) {
	e, err := NewArgs([]string{filepath.Join(t.TempDir(), "no-such-renderer")}, t.TempDir(), "", Options{})
	if err != nil {
		t.Fatalf("NewArgs() error = %v", err)
	}
	if got := e.Run(context.Background()); got != ExitFailure {
		t.Errorf("Run() = %d, want %d", got, ExitFailure)
	}
}

func TestWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	e, _ := NewArgs(helperArgs("pwd"), dir, "", Options{Env: helperEnv()})
	var got string
	for _, ev := range collect(t, e) {
		if ev.Kind == EventOutput && got == "" {
			got = ev.Line
		}
	}
	want, _ := filepath.EvalSymlinks(dir)
	if got, _ = filepath.EvalSymlinks(got); got != want {
		t.Errorf("working directory = %q, want %q", got, want)
	}
}

func TestEnvironmentScrubbed(t *testing.T) {
	env := append(helperEnv(), "PYTHONPATH=/somewhere")
	e, _ := NewArgs(helperArgs("env", "PYTHONPATH"), t.TempDir(), "", Options{Env: env})
	for _, ev := range collect(t, e) {
		if ev.Kind == EventOutput && ev.Line != "" {
			t.Errorf("PYTHONPATH leaked: %q", ev.Line)
		}
	}
}

func TestTerminate(t *testing.T) {
	e, _ := NewArgs(helperArgs("sleep"), t.TempDir(), "out.png", Options{Env: helperEnv(), GracePeriod: 100 * time.Millisecond})
	events := e.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for e.Terminate() == ErrNotRunning {
		if time.Now().After(deadline) {
			t.Fatal("process never started")
		}
		time.Sleep(10 * time.Millisecond)
	}
	var last Event
	for ev := range events {
		last = ev
	}
	if last.Kind != EventFinished || last.Code == 0 {
		t.Errorf("last event = %+v, want non-zero finish", last)
	}
}

func TestNewParsesQuotes(t *testing.T) {
	e, err := New(`pbrt --spp 4 "my scene.pbrt"`, "", "", Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	want := []string{"pbrt", "--spp", "4", "my scene.pbrt"}
	got := e.Args()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Args() = %q, want %q", got, want)
	}
	if _, err := New("   ", "", "", Options{}); err != ErrEmptyCommand {
		t.Errorf("New(blank) error = %v, want ErrEmptyCommand", err)
	}
}

func TestScrubEnv(t *testing.T) {
	in := []string{"PATH=/bin", "PYTHONHOME=/py", "PYTHONPATH=/p", "PIP_USER=1", "PYTHONPATHX=keep"}
	got := ScrubEnv(in)
	want := []string{"PATH=/bin", "PYTHONPATHX=keep"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("ScrubEnv() = %v, want %v", got, want)
	}
}
