// Package config builds the process configuration once at startup. Nothing
// below cmd/ reads the environment; components receive the values they need
// from Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	HTTPPort           string
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration

	Log     LogConfig
	Render  RenderConfig
	Archive ArchiveConfig
}

type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// RenderConfig describes how the external engine is invoked.
type RenderConfig struct {
	// OutputDir holds transient artifacts. Absolute after Load.
	OutputDir string
	// ProjectRoot is the working directory of the engine process.
	ProjectRoot string
	// EntryPoint is passed to the engine before the composition ID.
	EntryPoint string
	// Command is the engine executable followed by its fixed arguments,
	// e.g. ["npx", "remotion", "render"].
	Command []string
	// ExtraArgs are appended after the generated arguments.
	ExtraArgs []string
	// Env entries (KEY=VALUE) are added to the inherited environment.
	Env []string
	// Codec is forwarded as --codec and selects the artifact extension.
	Codec string

	Timeout       time.Duration
	MaxConcurrent int

	FailureMarker   string
	StderrHeuristic bool
	// DiagnosticsLimit bounds the bytes of stderr/stdout kept per render.
	DiagnosticsLimit int
}

type ArchiveConfig struct {
	// Provider is "", "localfs" or "gdrive". Empty disables archiving.
	Provider string

	LocalRoot string

	GDriveClientID     string
	GDriveClientSecret string
	GDriveRefreshToken string
	GDriveFolderID     string
}

// Enabled reports whether successful artifacts are copied to storage.
func (a ArchiveConfig) Enabled() bool {
	return a.Provider != "" && a.Provider != "none"
}

var codecExtensions = map[string]string{
	"":          ".mp4",
	"h264":      ".mp4",
	"h265":      ".mp4",
	"vp8":       ".webm",
	"vp9":       ".webm",
	"prores":    ".mov",
	"gif":       ".gif",
	"h264-mkv":  ".mkv",
	"mp3":       ".mp3",
	"aac":       ".aac",
	"wav":       ".wav",
	"h264-ts":   ".ts",
	"prores-ks": ".mov",
}

// Extension returns the artifact file extension for the configured codec.
func (r RenderConfig) Extension() string {
	if ext, ok := codecExtensions[strings.ToLower(r.Codec)]; ok {
		return ext
	}
	return ".mp4"
}

// Validate checks the configuration and resolves relative directories.
func (c *Config) Validate() error {
	r := &c.Render
	if strings.TrimSpace(r.OutputDir) == "" {
		return fmt.Errorf("RENDER_OUTPUT_DIR is required")
	}
	if len(r.Command) == 0 {
		return fmt.Errorf("RENDER_COMMAND is required")
	}
	if _, ok := codecExtensions[strings.ToLower(r.Codec)]; !ok {
		return fmt.Errorf("unsupported RENDER_CODEC %q", r.Codec)
	}
	if r.MaxConcurrent < 0 {
		return fmt.Errorf("RENDER_MAX_CONCURRENT must be >= 0, got %d", r.MaxConcurrent)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("RENDER_TIMEOUT must be >= 0, got %s", r.Timeout)
	}
	if r.DiagnosticsLimit <= 0 {
		return fmt.Errorf("RENDER_DIAGNOSTICS_LIMIT must be > 0, got %d", r.DiagnosticsLimit)
	}
	if r.StderrHeuristic && strings.TrimSpace(r.FailureMarker) == "" {
		return fmt.Errorf("RENDER_FAILURE_MARKER is required when RENDER_STDERR_HEURISTIC is on")
	}

	var err error
	if r.OutputDir, err = filepath.Abs(r.OutputDir); err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}
	if r.ProjectRoot == "" {
		r.ProjectRoot = "."
	}
	if r.ProjectRoot, err = filepath.Abs(r.ProjectRoot); err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	a := c.Archive
	switch a.Provider {
	case "", "none":
	case "localfs":
		if a.LocalRoot == "" {
			return fmt.Errorf("STORAGE_LOCAL_ROOT is required for ARCHIVE_PROVIDER=localfs")
		}
	case "gdrive":
		if a.GDriveClientID == "" || a.GDriveClientSecret == "" || a.GDriveRefreshToken == "" {
			return fmt.Errorf("GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN are required for ARCHIVE_PROVIDER=gdrive")
		}
	default:
		return fmt.Errorf("unknown ARCHIVE_PROVIDER: %s", a.Provider)
	}

	return nil
}

// EnsureOutputDir creates the shared output directory. Called once at
// startup, never per request.
func (c *Config) EnsureOutputDir() error {
	if err := os.MkdirAll(c.Render.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", c.Render.OutputDir, err)
	}
	return nil
}
