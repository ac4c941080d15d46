package handlers

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"time"

	"vidrender/internal/httpkit"
)

const healthCheckTimeout = 5 * time.Second

// Health reports liveness. With ?deep=true it also checks the output
// directory, the renderer command and the archive provider.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":  "ok",
		"service": "vidrender",
		"version": Version,
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] != "ok" {
				health["status"] = "degraded"
				log.Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	status := http.StatusOK
	if health["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	httpkit.WriteJSON(w, status, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := map[string]map[string]any{
		"output_dir": h.checkOutputDir(),
		"renderer":   h.checkRenderer(),
	}
	if h.archive != nil {
		checks["archive"] = h.checkArchive(ctx)
	}
	return checks
}

func (h *Handler) checkOutputDir() map[string]any {
	result := map[string]any{"status": "ok", "path": h.outputDir}

	f, err := os.CreateTemp(h.outputDir, ".health-*")
	if err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
		return result
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	return result
}

func (h *Handler) checkRenderer() map[string]any {
	result := map[string]any{"status": "ok"}
	if len(h.renderCommand) == 0 {
		result["status"] = "error"
		result["error"] = "no render command configured"
		return result
	}

	path, err := exec.LookPath(h.renderCommand[0])
	if err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
		return result
	}
	result["path"] = path
	return result
}

func (h *Handler) checkArchive(ctx context.Context) map[string]any {
	start := time.Now()
	result := map[string]any{
		"status":   "ok",
		"provider": h.archive.Provider(),
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := h.archive.Check(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
