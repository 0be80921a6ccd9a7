package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sraphaz/araponga-sub002/internal/assets"
	"github.com/sraphaz/araponga-sub002/internal/auth"
	"github.com/sraphaz/araponga-sub002/internal/feed"
	"github.com/sraphaz/araponga-sub002/internal/identity"
	"github.com/sraphaz/araponga-sub002/internal/moderation"
	"github.com/sraphaz/araponga-sub002/internal/observability"
	"github.com/sraphaz/araponga-sub002/internal/review"
	"github.com/sraphaz/araponga-sub002/internal/territory"
	"github.com/sraphaz/araponga-sub002/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AuthService       *auth.Service
	AuthHandler       *auth.Handler
	IdentityHandler   *identity.Handler
	TerritoryHandler  *territory.Handler
	FeedHandler       *feed.Handler
	AssetsHandler     *assets.Handler
	ModerationHandler *moderation.Handler
	ReviewHandler     *review.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Araponga defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	// Public surface: login, logout and account registration.
	params.AuthHandler.MountRoutes(r)
	if params.IdentityHandler != nil {
		params.IdentityHandler.MountPublic(r)
	}

	// Everything else requires a resolved actor.
	r.Group(func(r chi.Router) {
		r.Use(params.AuthService.RequireActor)

		if params.IdentityHandler != nil {
			params.IdentityHandler.MountRoutes(r)
		}
		if params.TerritoryHandler != nil {
			params.TerritoryHandler.MountRoutes(r)
		}
		if params.FeedHandler != nil {
			params.FeedHandler.MountRoutes(r)
		}
		if params.AssetsHandler != nil {
			params.AssetsHandler.MountRoutes(r)
		}
		if params.ModerationHandler != nil {
			params.ModerationHandler.MountRoutes(r)
		}
		if params.ReviewHandler != nil {
			params.ReviewHandler.MountRoutes(r)
		}
	})

	return r
}
