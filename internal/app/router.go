package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vantage-c2/vantage/internal/action"
	"github.com/vantage-c2/vantage/internal/identity"
	"github.com/vantage-c2/vantage/internal/observability"
	"github.com/vantage-c2/vantage/jobs"
)

// RouterConfig aggregates everything the HTTP surface needs.
type RouterConfig struct {
	Logger          *slog.Logger
	Config          *Config
	Resolver        *identity.Resolver
	Metrics         *observability.Metrics
	IdentityHandler *identity.Handler
	ActionHandler   *action.Handler
	JobsHandler     *jobs.Handler
}

// NewRouter assembles the teamserver API. Everything under /api requires a
// resolved credential; /healthz stays open for probes.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   cfg.Logger,
		Config:   cfg.Config,
		Resolver: cfg.Resolver,
		Metrics:  cfg.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(Authenticate(cfg.Resolver, cfg.Logger, cfg.Metrics))
		cfg.IdentityHandler.MountRoutes(api)
		cfg.ActionHandler.MountRoutes(api)
		if cfg.JobsHandler != nil {
			api.Group(func(r chi.Router) {
				r.Use(RequireCapability("jobs_health"))
				cfg.JobsHandler.MountRoutes(r)
			})
		}
	})

	return r
}
