package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/config"
	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/internal/workspace"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config   *config.Config
	Manager  *workspace.Manager
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Ready    observability.ReadinessChecks

	// Now is the clock used to classify document expiry. Defaults to
	// time.Now.
	Now func() time.Time
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// workspace API middleware.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()

	r.Use(InjectLogger(deps.Logger))
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Ready))
	r.Handle("/metrics", observability.Handler(deps.Gatherer))

	mgr := deps.Manager
	r.Route("/api/workspaces", func(r chi.Router) {
		r.Use(Authenticate)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		r.Use(middleware.RequestSize(maxBodyBytes))

		r.Post("/", handleCreateWorkspace(mgr))

		r.Route("/{ws}", func(r chi.Router) {
			r.Use(WorkspaceContext(mgr))

			r.Get("/", handleGetWorkspace)
			r.Delete("/", handleCloseWorkspace(mgr))
			r.Get("/notifications", handleNotifications)
			r.Get("/alerts/documents", handleDocumentAlerts(deps.Now))

			r.Route("/collections/{name}", func(r chi.Router) {
				r.Get("/", handleGetCollection)
				r.Post("/refresh", handleRefreshCollection)
				r.Post("/delete-requests", handleRequestDelete)
				r.Post("/delete-requests/{token}/confirm", handleConfirmDelete)
				r.Delete("/delete-requests/{token}", handleCancelDelete)
				r.Get("/{id}/document", handleDocument)
			})

			r.Post("/forms/{formId}", handleOpenForm)

			r.Route("/sessions/{sid}", func(r chi.Router) {
				r.Get("/", handleGetSession)
				r.Delete("/", handleRequestClose)
				r.Post("/close", handleResolveClose)
				r.Patch("/fields", handleSetField)
				r.Post("/groups", handleAddGroupItem)
				r.Delete("/groups", handleRemoveGroupItem)
				r.Post("/sets/toggle", handleToggleSet)
				r.Post("/sets/bulk", handleBulkSet)
				r.Post("/sets/module", handleSelectModule)
				r.Post("/submit", handleSubmit)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "route not found")
	})

	return r
}
