package handlers

import (
	"context"

	contracts "vidrender/internal/contracts/renderer/v0"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/ports"
	"vidrender/internal/processor"
)

// Version is reported by /health. Overridden at build time with -ldflags.
var Version = "0.1.0"

// Runner executes one render request end to end.
type Runner interface {
	Run(ctx context.Context, req contracts.RenderRequest, d processor.Deliverer) (processor.Result, error)
}

type Deps struct {
	Runner Runner
	// RenderCommand is the engine argv; /health?deep=true checks Command[0]
	// resolves.
	RenderCommand []string
	OutputDir     string
	// Archive is nil when archiving is disabled.
	Archive ports.ArtifactStore
	Log     *logger.Logger
}

type Handler struct {
	runner        Runner
	renderCommand []string
	outputDir     string
	archive       ports.ArtifactStore
	log           *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		runner:        d.Runner,
		renderCommand: d.RenderCommand,
		outputDir:     d.OutputDir,
		archive:       d.Archive,
		log:           log.WithComponent("http"),
	}
}
