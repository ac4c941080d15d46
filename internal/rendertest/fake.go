// Package rendertest provides a fake rendering engine for tests. The fake is
// the test binary itself: TestMain calls RunIfHelper first, and Config points
// the invoker at the running executable with an environment selecting the
// behavior.
package rendertest

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"vidrender/internal/config"
)

const (
	envHelper = "VIDRENDER_FAKE_RENDERER"
	envMode   = "VIDRENDER_FAKE_MODE"
)

// Mode selects the fake engine's behavior.
type Mode string

const (
	// Succeed writes a non-empty artifact and progress text on both channels.
	Succeed Mode = "ok"
	// EchoProps writes the received --props value as the artifact.
	EchoProps Mode = "props"
	// EchoArgs writes the received argv (one per line) as the artifact.
	EchoArgs Mode = "args"
	// WorkDir writes the working directory as the artifact.
	WorkDir Mode = "pwd"
	// ExitNonZero writes a partial artifact, an error on stderr and exits 1.
	ExitNonZero Mode = "exit1"
	// ExitNonZeroSilent exits 2 with text on stdout only.
	ExitNonZeroSilent Mode = "exit2-silent"
	// StderrError prints "Error: composition not found" and exits 0.
	StderrError Mode = "stderr-error"
	// ProgressMentionsErrors prints "0 errors" on stderr and succeeds.
	ProgressMentionsErrors Mode = "progress-errors"
	// NoOutput exits 0 without writing anything.
	NoOutput Mode = "nofile"
	// EmptyOutput creates a zero-byte artifact and exits 0.
	EmptyOutput Mode = "empty"
	// Hang writes a partial artifact then sleeps until killed.
	Hang Mode = "hang"
)

// CompositionNotFound is the diagnostic printed in StderrError mode.
const CompositionNotFound = "Error: composition not found"

// RunIfHelper turns the current process into the fake engine when it was
// started by an Invoker configured through Config. Call it first in TestMain.
func RunIfHelper() {
	if os.Getenv(envHelper) != "1" {
		return
	}
	os.Exit(run(Mode(os.Getenv(envMode)), os.Args[1:]))
}

// Config returns a render configuration that drives the fake engine in mode.
// OutputDir is a fresh temporary directory.
func Config(t testing.TB, mode Mode) config.RenderConfig {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("resolve test binary: %v", err)
	}
	return config.RenderConfig{
		OutputDir:        t.TempDir(),
		ProjectRoot:      t.TempDir(),
		EntryPoint:       "src/index.ts",
		Command:          []string{exe, "render"},
		Env:              []string{envHelper + "=1", envMode + "=" + string(mode)},
		FailureMarker:    "error",
		StderrHeuristic:  true,
		DiagnosticsLimit: 64 << 10,
	}
}

// args: render <entry> <composition> <output> --props=<json> [flags...]
func run(mode Mode, args []string) int {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "fake renderer: not enough arguments")
		return 64
	}
	output := args[3]
	props := ""
	for _, a := range args[4:] {
		if v, ok := strings.CutPrefix(a, "--props="); ok {
			props = v
		}
	}

	write := func(s string) {
		if err := os.WriteFile(output, []byte(s), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "fake renderer: write:", err)
			os.Exit(70)
		}
	}

	switch mode {
	case Succeed:
		fmt.Println("Bundling 100%")
		fmt.Fprintln(os.Stderr, "Rendered 30/30 frames")
		write("FAKEMP4:" + props)
		return 0
	case EchoProps:
		write(props)
		return 0
	case EchoArgs:
		write(strings.Join(args, "\n"))
		return 0
	case WorkDir:
		wd, _ := os.Getwd()
		write(wd)
		return 0
	case ExitNonZero:
		write("PARTIAL")
		fmt.Fprintln(os.Stderr, "Error: encoder crashed at frame 12")
		return 1
	case ExitNonZeroSilent:
		fmt.Println("something went wrong on stdout")
		return 2
	case StderrError:
		write("PARTIAL")
		fmt.Fprintln(os.Stderr, CompositionNotFound)
		return 0
	case ProgressMentionsErrors:
		fmt.Fprintln(os.Stderr, "Encoded 30 frames, 0 errors, 0 warnings")
		write("FAKEMP4")
		return 0
	case NoOutput:
		return 0
	case EmptyOutput:
		write("")
		return 0
	case Hang:
		write("PARTIAL")
		time.Sleep(time.Minute)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "fake renderer: unknown mode %q\n", mode)
		return 64
	}
}
