package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads an optional .env file, then the environment, and returns a
// validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()

	return FromViper(v)
}

// SetDefaults registers every key with its default so AutomaticEnv can
// resolve it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_port", "8080")
	v.SetDefault("cors_allowed_origins", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("shutdown_timeout", "30s")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_source", false)

	v.SetDefault("render_output_dir", "out")
	v.SetDefault("render_project_root", ".")
	v.SetDefault("render_entry_point", "src/index.ts")
	v.SetDefault("render_command", "npx remotion render")
	v.SetDefault("render_extra_args", "")
	v.SetDefault("render_env", "")
	v.SetDefault("render_codec", "")
	v.SetDefault("render_timeout", "0s")
	v.SetDefault("render_max_concurrent", 0)
	v.SetDefault("render_failure_marker", "error")
	v.SetDefault("render_stderr_heuristic", true)
	v.SetDefault("render_diagnostics_limit", 64<<10)

	v.SetDefault("archive_provider", "")
	v.SetDefault("storage_local_root", "")
	v.SetDefault("gdrive_client_id", "")
	v.SetDefault("gdrive_client_secret", "")
	v.SetDefault("gdrive_refresh_token", "")
	v.SetDefault("gdrive_folder_id", "")
}

// FromViper maps a populated viper instance onto Config and validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPPort:           strings.TrimSpace(v.GetString("http_port")),
		CORSAllowedOrigins: splitCSV(v.GetString("cors_allowed_origins")),
		ShutdownTimeout:    v.GetDuration("shutdown_timeout"),
		Log: LogConfig{
			Level:     v.GetString("log_level"),
			Format:    v.GetString("log_format"),
			AddSource: v.GetBool("log_source"),
		},
		Render: RenderConfig{
			OutputDir:        strings.TrimSpace(v.GetString("render_output_dir")),
			ProjectRoot:      strings.TrimSpace(v.GetString("render_project_root")),
			EntryPoint:       strings.TrimSpace(v.GetString("render_entry_point")),
			Command:          strings.Fields(v.GetString("render_command")),
			ExtraArgs:        strings.Fields(v.GetString("render_extra_args")),
			Env:              strings.Fields(v.GetString("render_env")),
			Codec:            strings.TrimSpace(v.GetString("render_codec")),
			Timeout:          v.GetDuration("render_timeout"),
			MaxConcurrent:    v.GetInt("render_max_concurrent"),
			FailureMarker:    strings.TrimSpace(v.GetString("render_failure_marker")),
			StderrHeuristic:  v.GetBool("render_stderr_heuristic"),
			DiagnosticsLimit: v.GetInt("render_diagnostics_limit"),
		},
		Archive: ArchiveConfig{
			Provider:           strings.ToLower(strings.TrimSpace(v.GetString("archive_provider"))),
			LocalRoot:          strings.TrimSpace(v.GetString("storage_local_root")),
			GDriveClientID:     strings.TrimSpace(v.GetString("gdrive_client_id")),
			GDriveClientSecret: strings.TrimSpace(v.GetString("gdrive_client_secret")),
			GDriveRefreshToken: strings.TrimSpace(v.GetString("gdrive_refresh_token")),
			GDriveFolderID:     strings.TrimSpace(v.GetString("gdrive_folder_id")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
