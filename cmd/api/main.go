package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"vidrender/internal/artifact"
	"vidrender/internal/config"
	"vidrender/internal/httpapi"
	"vidrender/internal/httpapi/handlers"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/pkg/shutdown"
	"vidrender/internal/processor"
	"vidrender/internal/renderer"
	"vidrender/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "vidrender",
		AddSource:   cfg.Log.AddSource,
		Output:      os.Stdout,
	})

	log.Info("starting vidrender",
		"version", handlers.Version,
		"output_dir", cfg.Render.OutputDir,
		"project_root", cfg.Render.ProjectRoot,
		"renderer", cfg.Render.Command[0],
		"max_concurrent", cfg.Render.MaxConcurrent,
		"timeout", cfg.Render.Timeout.String(),
	)

	if err := cfg.EnsureOutputDir(); err != nil {
		log.LogFatal("failed to prepare output directory", err)
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	archive, err := storage.NewProvider(ctx, cfg.Archive)
	if err != nil {
		log.LogFatal("failed to initialize archive provider", err)
	}
	if archive != nil {
		log.Info("archive provider initialized", "provider", archive.Provider())
	}

	proc := processor.New(processor.Deps{
		Allocator:     artifact.NewAllocator(cfg.Render.OutputDir, cfg.Render.Extension()),
		Renderer:      renderer.NewInvoker(cfg.Render, log),
		Archive:       archive,
		MaxConcurrent: cfg.Render.MaxConcurrent,
		Log:           log,
	})

	router := httpapi.NewRouter(httpapi.Deps{
		Runner:         proc,
		RenderCommand:  cfg.Render.Command,
		OutputDir:      cfg.Render.OutputDir,
		Archive:        archive,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Log:            log,
	})

	// WriteTimeout stays 0: a render holds the response open for as long as
	// the engine runs, bounded by RENDER_TIMEOUT instead.
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	if err := shutdownMgr.Wait(ctx); err != nil {
		log.Error("shutdown finished with errors", "error", err.Error())
		os.Exit(1)
	}
}
