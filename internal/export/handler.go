package export

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/platform/httpx"
	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
)

// Observer receives the totals of executed exports.
type Observer interface {
	ObserveExport(union, overdraw decimal.Decimal)
}

// Handler exposes supplementary export endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	notifier shared.ChangeNotifier
	observer Observer
}

// NewHandler builds Handler. observer may be nil.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, notifier shared.ChangeNotifier, observer Observer) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, notifier: notifier, observer: observer}
}

// MountRoutes registers export routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.CmdExportPlan)).Post("/plan", h.plan)
	r.With(h.rbac.RequireAny(shared.CmdExportExecute)).Post("/execute", h.execute)
	r.With(h.rbac.RequireAny(shared.CmdExportPoolsRecord)).Post("/pools", h.recordPools)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CmdExportView))
		r.Get("/pools", h.pools)
		r.Get("/union-differences", h.unionDifferences)
		r.Get("/overdraws", h.overdraws)
	})
}

type planResponse struct {
	Plan                  Plan `json:"plan"`
	RequiresAuthorization bool `json:"requires_authorization"`
}

// plan answers with the plan even when it needs affirmation; only execute refuses.
func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	var input PlanInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	plan, err := h.service.Plan(r.Context(), input)
	if err != nil {
		if pending, ok := IsAuthorizationRequired(err); ok {
			httpx.JSON(w, http.StatusOK, planResponse{Plan: pending, RequiresAuthorization: true})
			return
		}
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, planResponse{Plan: plan})
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	var input ExecuteInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	result, err := h.service.Execute(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if h.observer != nil {
		overdraw := decimal.Zero
		for _, o := range result.Overdraws {
			overdraw = overdraw.Add(o.Quantity)
		}
		h.observer.ObserveExport(result.Plan.UnionTotal, overdraw)
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusOK, result, result.Changed)
}

type poolsRequest struct {
	Pools []PoolInput `json:"pools"`
}

func (h *Handler) recordPools(w http.ResponseWriter, r *http.Request) {
	var req poolsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	result, err := h.service.RecordOpeningPools(r.Context(), req.Pools)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusCreated, result, result.Changed)
}

func (h *Handler) pools(w http.ResponseWriter, r *http.Request) {
	var (
		filter PoolFilter
		err    error
	)
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		httpx.BadRequest(w, "invalid product_id")
		return
	}
	if filter.UserID, err = httpx.QueryInt64(r, "user_id"); err != nil {
		httpx.BadRequest(w, "invalid user_id")
		return
	}
	if raw := r.URL.Query().Get("tier"); raw != "" {
		if filter.Tier, err = catalog.ParseTier(raw); err != nil {
			httpx.Fail(w, r, h.logger, err)
			return
		}
	}
	out, err := h.service.Pools(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func reportFilter(r *http.Request) (ReportFilter, string) {
	var (
		filter ReportFilter
		err    error
	)
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		return filter, "invalid product_id"
	}
	if filter.UserID, err = httpx.QueryInt64(r, "user_id"); err != nil {
		return filter, "invalid user_id"
	}
	if filter.From, err = httpx.QueryDate(r, "from", false); err != nil {
		return filter, "invalid from"
	}
	if filter.To, err = httpx.QueryDate(r, "to", true); err != nil {
		return filter, "invalid to"
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit"); err != nil {
		return filter, "invalid limit"
	}
	return filter, ""
}

func (h *Handler) unionDifferences(w http.ResponseWriter, r *http.Request) {
	filter, problem := reportFilter(r)
	if problem != "" {
		httpx.BadRequest(w, problem)
		return
	}
	out, err := h.service.UnionDifferences(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) overdraws(w http.ResponseWriter, r *http.Request) {
	filter, problem := reportFilter(r)
	if problem != "" {
		httpx.BadRequest(w, problem)
		return
	}
	out, err := h.service.Overdraws(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
