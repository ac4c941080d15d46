package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"vidrender/internal/config"
	"vidrender/internal/pkg/logger"
)

// waitDelay bounds how long Wait keeps draining output after the engine is
// killed, in case a grandchild still holds the pipes open.
const waitDelay = 5 * time.Second

// Engine renders one composition to outputPath. Implementations run exactly
// one attempt and never retry.
type Engine interface {
	Invoke(ctx context.Context, compositionID, outputPath string, inputProps map[string]any) Outcome
}

// Invoker runs the external rendering CLI as a child process.
type Invoker struct {
	cfg        config.RenderConfig
	classifier *Classifier
	log        *logger.Logger
}

func NewInvoker(cfg config.RenderConfig, log *logger.Logger) *Invoker {
	if log == nil {
		log = logger.Discard()
	}
	marker := ""
	if cfg.StderrHeuristic {
		marker = cfg.FailureMarker
	}
	if cfg.DiagnosticsLimit <= 0 {
		cfg.DiagnosticsLimit = 64 << 10
	}
	return &Invoker{
		cfg:        cfg,
		classifier: NewClassifier(marker),
		log:        log.WithComponent("renderer"),
	}
}

// SerializeProps renders input props as the JSON object passed to the engine.
// Maps are marshalled with sorted keys, so equal props give equal strings.
func SerializeProps(props map[string]any) (string, error) {
	if props == nil {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("serialize input props: %w", err)
	}
	return string(b), nil
}

// Args returns the argv (without the executable) for one render. Each value
// is a separate element and no shell is involved, so props need no escaping.
func (i *Invoker) Args(compositionID, outputPath, props string) []string {
	args := make([]string, 0, len(i.cfg.Command)+len(i.cfg.ExtraArgs)+5)
	args = append(args, i.cfg.Command[1:]...)
	if i.cfg.EntryPoint != "" {
		args = append(args, i.cfg.EntryPoint)
	}
	args = append(args, compositionID, outputPath, "--props="+props)
	if i.cfg.Codec != "" {
		args = append(args, "--codec="+i.cfg.Codec)
	}
	return append(args, i.cfg.ExtraArgs...)
}

// Invoke blocks until the engine exits or ctx ends. Cancellation kills the
// engine's process group.
func (i *Invoker) Invoke(ctx context.Context, compositionID, outputPath string, inputProps map[string]any) Outcome {
	log := i.log.FromContext(ctx).WithComposition(compositionID)
	start := time.Now()

	props, err := SerializeProps(inputProps)
	if err != nil {
		return failure("input props are not serializable", "", "", -1, 0, err)
	}

	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()
	}

	stdout := newTailBuffer(i.cfg.DiagnosticsLimit)
	stderr := newTailBuffer(i.cfg.DiagnosticsLimit)

	cmd := exec.CommandContext(ctx, i.cfg.Command[0], i.Args(compositionID, outputPath, props)...)
	cmd.Dir = i.cfg.ProjectRoot
	cmd.Env = append(os.Environ(), i.cfg.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureProcess(cmd)
	cmd.Cancel = func() error { return terminateProcess(cmd) }
	cmd.WaitDelay = waitDelay

	log.Debug("starting renderer",
		"command", i.cfg.Command[0],
		"dir", cmd.Dir,
		"output", outputPath,
		"props_bytes", len(props),
	)

	if err := cmd.Start(); err != nil {
		return failure("renderer failed to start", err.Error(), "", -1, time.Since(start), err)
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	outText, errText := stdout.String(), stderr.String()

	var out Outcome
	switch {
	case waitErr != nil && ctx.Err() != nil:
		reason := "render canceled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "render timed out"
		}
		out = failure(reason, errText, outText, exitCode(waitErr), elapsed, ctx.Err())
	case waitErr != nil:
		code := exitCode(waitErr)
		diag := errText
		if diag == "" {
			diag = outText
		}
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			// I/O error while collecting output, not an engine exit status.
			out = failure("renderer wait failed", diag, outText, code, elapsed, waitErr)
		} else {
			out = failure(fmt.Sprintf("renderer exited with code %d", code), diag, outText, code, elapsed, nil)
		}
	default:
		out = i.classifier.classify(outputPath, outText, errText, elapsed)
	}

	if out.OK {
		log.Debug("renderer finished",
			"duration_ms", elapsed.Milliseconds(),
			"stderr_bytes", len(errText),
		)
	} else {
		log.Warn("renderer failed",
			"reason", out.Reason,
			"exit_code", out.ExitCode,
			"duration_ms", elapsed.Milliseconds(),
			"diagnostics", out.Diagnostics,
		)
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
