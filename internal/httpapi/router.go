package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidrender/internal/httpapi/handlers"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/pkg/middleware"
	"vidrender/internal/ports"
)

type Deps struct {
	Runner         handlers.Runner
	RenderCommand  []string
	OutputDir      string
	Archive        ports.ArtifactStore
	AllowedOrigins []string
	Log            *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders:   []string{"Content-Disposition", middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           600,
	}))

	h := handlers.New(handlers.Deps{
		Runner:        d.Runner,
		RenderCommand: d.RenderCommand,
		OutputDir:     d.OutputDir,
		Archive:       d.Archive,
		Log:           log,
	})

	// ---- HEALTH ----
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// ---- RENDER ----
	r.Post("/render", middleware.WrapHandler(log, h.PostRender))

	return r
}
