package renderer

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"vidrender/internal/pkg/errors"
)

// Outcome is the classified result of one engine run.
type Outcome struct {
	OK bool
	// Reason is a short, stable description of why the render failed.
	Reason string
	// Diagnostics is the captured error channel (stdout tail when stderr is
	// empty on a non-zero exit).
	Diagnostics string
	// Stdout is the captured informational channel. Never used to classify.
	Stdout   string
	ExitCode int
	Duration time.Duration
	// Err is the underlying start or context error, if any.
	Err error
}

// AsError converts a failed outcome into the service error taxonomy. It
// returns nil for a successful outcome.
func (o Outcome) AsError() error {
	if o.OK {
		return nil
	}
	rf := errors.RenderFailed(o.Reason, o.Diagnostics, o.ExitCode)
	switch {
	case errors.Is(o.Err, context.DeadlineExceeded):
		rf.Code = errors.CodeTimeout
	case errors.Is(o.Err, context.Canceled):
		rf.Code = errors.CodeCanceled
	}
	if o.Err != nil {
		rf.Err = o.Err
	}
	return rf
}

func success(stdout, stderr string, d time.Duration) Outcome {
	return Outcome{OK: true, Stdout: stdout, Diagnostics: stderr, Duration: d}
}

func failure(reason, diagnostics, stdout string, exitCode int, d time.Duration, err error) Outcome {
	return Outcome{
		Reason:      reason,
		Diagnostics: diagnostics,
		Stdout:      stdout,
		ExitCode:    exitCode,
		Duration:    d,
		Err:         err,
	}
}

// Classifier decides whether a completed zero-exit run actually failed.
type Classifier struct {
	marker *regexp.Regexp
}

// NewClassifier returns a classifier matching marker as a whole word,
// ignoring case. An empty marker disables the stderr heuristic.
func NewClassifier(marker string) *Classifier {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return &Classifier{}
	}
	return &Classifier{marker: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(marker) + `\b`)}
}

// MatchesFailure reports whether the error channel carries the failure marker.
// "Error: composition not found" matches "error"; "0 errors" does not.
func (c *Classifier) MatchesFailure(stderr string) bool {
	if c == nil || c.marker == nil {
		return false
	}
	return c.marker.MatchString(stderr)
}

// classify applies the rules to a process that exited with code 0.
func (c *Classifier) classify(outputPath, stdout, stderr string, d time.Duration) Outcome {
	if c.MatchesFailure(stderr) {
		return failure("renderer reported an error", stderr, stdout, 0, d, nil)
	}
	st, err := os.Stat(outputPath)
	if err != nil {
		return failure("renderer produced no output", stderr, stdout, 0, d, nil)
	}
	if st.IsDir() || st.Size() == 0 {
		return failure("renderer produced no output", stderr, stdout, 0, d, nil)
	}
	return success(stdout, stderr, d)
}

// tailBuffer is an io.Writer that keeps only the last limit bytes written.
type tailBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if n >= t.limit {
		t.buf = append(t.buf[:0], p[n-t.limit:]...)
		t.truncated = true
		return n, nil
	}
	if over := len(t.buf) + n - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.truncated {
		return fmt.Sprintf("[truncated]...%s", t.buf)
	}
	return string(t.buf)
}
