// Package httpapi exposes the engine over HTTP: OpenAI-/Codex-compatible
// completion routes plus health, metrics, and admin endpoints (spec §6,
// SPEC_FULL.md §12).
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/keyrotor/llmproxy/pkg/backend/middleware"
	"github.com/keyrotor/llmproxy/pkg/engine"
)

// Config is the router's tunable surface.
type Config struct {
	CORS            middleware.CORSConfig
	Auth            middleware.AuthConfig
	Version         string
	DefaultPriority int
}

// NewRouter builds the process's chi router over an Engine.
func NewRouter(eng *engine.Engine, reg *prometheus.Registry, cfg Config, log *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimiddleware.Timeout(120 * time.Second))

	h := &handlers{engine: eng, log: log, cfg: cfg}

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth))

		r.Post("/v1/chat/completions", h.completions)
		r.Post("/v1/responses", h.responses)
		r.Get("/v1/models", h.listModels)
		r.Get("/v1/models/{provider}", h.listModels)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", h.stats)
			r.Get("/stats/{provider}", h.stats)
			r.Post("/refresh", h.forceRefresh)
			r.Post("/refresh/{provider}", h.forceRefresh)
			r.Get("/credentials", h.listCredentials)
			r.Get("/credentials/{provider}", h.listCredentials)
		})
	})

	return r
}

type handlers struct {
	engine *engine.Engine
	log    *zap.Logger
	cfg    Config
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
