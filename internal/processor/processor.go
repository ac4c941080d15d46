package processor

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"vidrender/internal/artifact"
	contracts "vidrender/internal/contracts/renderer/v0"
	"vidrender/internal/metrics"
	"vidrender/internal/pkg/errors"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/ports"
	"vidrender/internal/renderer"
)

type Deps struct {
	Allocator *artifact.Allocator
	Renderer  renderer.Engine
	// Archive is optional; nil disables archiving.
	Archive ports.ArtifactStore
	// MaxConcurrent caps simultaneous renderer processes. 0 means no cap.
	MaxConcurrent int
	Log           *logger.Logger
}

// Processor runs one render request from validation to cleanup.
type Processor struct {
	allocator *artifact.Allocator
	renderer  renderer.Engine
	archive   ports.ArtifactStore
	slots     *semaphore.Weighted
	log       *logger.Logger
}

// Result describes how a request ended. It is informational; the error
// returned alongside it decides the response.
type Result struct {
	Location artifact.Location
	// Stage is StageDone or StageFailed.
	Stage Stage
	// FailedAt is the stage that failed, empty on success.
	FailedAt Stage
	Outcome  renderer.Outcome
	// ArchiveKey is set when the artifact was archived.
	ArchiveKey string
	// CleanupErr is logged only; it never changes the response.
	CleanupErr error
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	p := &Processor{
		allocator: d.Allocator,
		renderer:  d.Renderer,
		archive:   d.Archive,
		log:       log.WithComponent("processor"),
	}
	if d.MaxConcurrent > 0 {
		p.slots = semaphore.NewWeighted(int64(d.MaxConcurrent))
	}
	return p
}

// Run validates req, renders it, hands the artifact to d and removes the
// temporary file on every path that allocated one.
func (p *Processor) Run(ctx context.Context, req contracts.RenderRequest, d Deliverer) (res Result, err error) {
	start := time.Now()
	log := p.log.FromContext(ctx)

	defer func() {
		if err != nil {
			res.Stage = StageFailed
		} else {
			res.Stage = StageDone
		}
		metrics.RendersTotal.WithLabelValues(outcomeLabel(res, err)).Inc()
	}()

	// 1. Validating
	compositionID := strings.TrimSpace(req.CompositionID)
	log.Debug("stage", "stage", StageValidating)
	if err := artifact.ValidateCompositionID(compositionID); err != nil {
		res.FailedAt = StageValidating
		log.Warn("render request rejected", "error", err.Error())
		return res, err
	}
	if _, err := renderer.SerializeProps(req.InputProps); err != nil {
		res.FailedAt = StageValidating
		return res, errors.WrapWithCode(err, errors.CodeValidation, "processor.validate", "inputProps must be JSON-serializable").
			WithField("field", "inputProps")
	}

	// 2. Allocating
	loc, err := p.allocator.Allocate(compositionID)
	if err != nil {
		res.FailedAt = StageAllocating
		return res, errors.Wrap(err, "processor.allocate", "failed to allocate artifact path")
	}
	res.Location = loc

	ctx = logger.ContextWithRenderID(ctx, loc.Token)
	log = log.WithRenderID(loc.Token).WithComposition(compositionID)
	log.Debug("stage", "stage", StageAllocating, "path", loc.InternalPath)

	// Every path from here on may leave a file at InternalPath.
	defer func() {
		log.Debug("stage", "stage", StageCleaningUp)
		res.CleanupErr = p.release(log, loc.InternalPath)
		log.Info("render request finished",
			"ok", err == nil,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	// 3. Rendering
	log.Debug("stage", "stage", StageRendering)
	outcome, err := p.render(ctx, log, compositionID, loc.InternalPath, req.InputProps)
	res.Outcome = outcome
	if err != nil {
		res.FailedAt = StageRendering
		log.Error("render failed",
			"reason", outcome.Reason,
			"exit_code", outcome.ExitCode,
			"partial_artifact", exists(loc.InternalPath),
		)
		return res, errors.Wrap(err, "processor.render", "render failed")
	}

	// 4. Archiving (optional)
	if p.archive != nil {
		log.Debug("stage", "stage", StageArchiving)
		res.ArchiveKey = p.archiveArtifact(ctx, log, loc)
	}

	// 5. Delivering
	log.Debug("stage", "stage", StageDelivering)
	if err := p.deliver(ctx, loc, d); err != nil {
		res.FailedAt = StageDelivering
		committed := d.Committed()
		metrics.ObserveDeliveryFailure(committed)
		if committed {
			log.Error("delivery failed after response was committed", "error", err.Error())
		} else {
			log.Error("delivery failed", "error", err.Error())
		}
		return res, errors.DeliveryFailed(err, committed)
	}

	return res, nil
}

func (p *Processor) render(ctx context.Context, log *logger.Logger, compositionID, path string, props map[string]any) (renderer.Outcome, error) {
	if p.slots != nil {
		waitStart := time.Now()
		if err := p.slots.Acquire(ctx, 1); err != nil {
			out := renderer.Outcome{Reason: "gave up waiting for a render slot", ExitCode: -1, Err: err}
			return out, out.AsError()
		}
		defer p.slots.Release(1)
		metrics.SlotWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}

	metrics.RendersInFlight.Inc()
	log.Info("render started")
	out := p.renderer.Invoke(ctx, compositionID, path, props)
	metrics.RendersInFlight.Dec()

	label := metrics.OutcomeSuccess
	if !out.OK {
		label = metrics.OutcomeRenderFailed
	}
	metrics.RenderDuration.WithLabelValues(label).Observe(out.Duration.Seconds())

	return out, out.AsError()
}

func (p *Processor) deliver(ctx context.Context, loc artifact.Location, d Deliverer) error {
	f, err := os.Open(loc.InternalPath)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	return d.Deliver(ctx, Artifact{
		Path:        loc.InternalPath,
		Name:        loc.DeliveryName,
		ContentType: ContentTypeFor(loc.DeliveryName),
		Size:        st.Size(),
		Body:        f,
	})
}

// release deletes the temporary artifact. A missing file is not an error.
func (p *Processor) release(log *logger.Logger, path string) error {
	err := os.Remove(path)
	if err == nil {
		log.Debug("artifact removed", "path", path)
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	metrics.CleanupFailures.Inc()
	cerr := errors.CleanupFailed(err, path)
	log.Error("failed to remove artifact", "path", path, "error", cerr.Error())
	return cerr
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func outcomeLabel(res Result, err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case res.FailedAt == StageValidating:
		return metrics.OutcomeInvalid
	case res.FailedAt == StageDelivering:
		return metrics.OutcomeDeliveryFailed
	default:
		return metrics.OutcomeRenderFailed
	}
}
