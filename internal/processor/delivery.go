package processor

import (
	"context"
	"io"
)

// Artifact is what a Deliverer hands to the caller. Body is only valid for
// the duration of Deliver; the processor closes and deletes it afterwards.
type Artifact struct {
	// Path is the internal location. Exposed for logging and tests only.
	Path        string
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Deliverer streams a finished artifact to whoever asked for it.
type Deliverer interface {
	Deliver(ctx context.Context, a Artifact) error
	// Committed reports whether any part of the response has been sent.
	// Once true, an error can no longer be reported to the caller.
	Committed() bool
}
