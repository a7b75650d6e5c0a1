package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/siep/siep/internal/auth"
	"github.com/siep/siep/internal/meetings"
	"github.com/siep/siep/internal/observability"
	"github.com/siep/siep/internal/platform/httpx"
	"github.com/siep/siep/internal/rbac"
	"github.com/siep/siep/internal/roles"
	"github.com/siep/siep/internal/shared"
	"github.com/siep/siep/internal/solicitudes"
	"github.com/siep/siep/internal/users"
	"github.com/siep/siep/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics

	AuthHandler        *auth.Handler
	SolicitudesHandler *solicitudes.Handler
	MeetingsHandler    *meetings.Handler
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with SIEP defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.SolicitudesHandler != nil {
		r.Route("/solicitudes", params.SolicitudesHandler.MountRoutes)
	}
	if params.MeetingsHandler != nil {
		r.Route("/meetings", params.MeetingsHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
		r.Route("/groups", params.UsersHandler.MountGroupRoutes)
	}
	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.RBACMiddleware.Require(rbac.ResourceSettings, rbac.LevelAdmin))
			params.JobHandler.MountRoutes(r)
		})
	}

	return r
}
