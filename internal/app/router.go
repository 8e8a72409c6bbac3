package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lubepos/lubepos/internal/assistant"
	"github.com/lubepos/lubepos/internal/auth"
	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/export"
	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/invoice"
	"github.com/lubepos/lubepos/internal/observability"
	"github.com/lubepos/lubepos/internal/platform/httpx"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/shift"
	"github.com/lubepos/lubepos/internal/users"
	"github.com/lubepos/lubepos/jobs"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(r *http.Request) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	Tokens  *auth.TokenManager
	Health  HealthCheck
	// Idempotency enables Idempotency-Key replay on mutating API calls.
	Idempotency shared.IdempotencyStore

	AuthHandler      *auth.Handler
	CatalogHandler   *catalog.Handler
	InventoryHandler *inventory.Handler
	InvoiceHandler   *invoice.Handler
	ExportHandler    *export.Handler
	FundHandler      *fund.Handler
	UsersHandler     *users.Handler
	ShiftHandler     *shift.Handler
	AssistantHandler *assistant.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Health != nil {
			if err := params.Health(r); err != nil {
				params.Logger.Warn("health check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/api", func(r chi.Router) {
		r.Use(params.Tokens.Middleware)
		r.Use(httpx.Idempotent(params.Idempotency, params.Logger))
		r.Route("/products", params.CatalogHandler.MountRoutes)
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
		r.Route("/invoices", params.InvoiceHandler.MountRoutes)
		r.Route("/exports", params.ExportHandler.MountRoutes)
		r.Route("/funds", params.FundHandler.MountRoutes)
		r.Route("/users", params.UsersHandler.MountRoutes)
		r.Route("/shift", params.ShiftHandler.MountRoutes)
		r.Route("/assistant", params.AssistantHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
