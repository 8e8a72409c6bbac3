package catalog

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lubepos/lubepos/internal/platform/httpx"
	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
)

// Handler exposes catalog endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	notifier shared.ChangeNotifier
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, notifier shared.ChangeNotifier) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, notifier: notifier}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CmdCatalogList))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.With(h.rbac.RequireAny(shared.CmdCatalogPriceLog)).Get("/price-history", h.priceHistory)
	r.With(h.rbac.RequireAny(shared.CmdCatalogAdd)).Post("/", h.add)
	r.With(h.rbac.RequireAny(shared.CmdCatalogUpdate)).Patch("/{id}", h.update)
	r.With(h.rbac.RequireAny(shared.CmdCatalogDelete)).Delete("/{id}", h.delete)
	r.With(h.rbac.RequireAny(shared.CmdCatalogBulkUpsert)).Post("/bulk", h.bulk)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		httpx.BadRequest(w, "invalid limit")
		return
	}
	products, err := h.service.ListProducts(r.Context(), ProductFilter{Search: r.URL.Query().Get("search"), Limit: limit})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid product id")
		return
	}
	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	var input ProductInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	result, err := h.service.AddProduct(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusCreated, result, result.Changed)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid product id")
		return
	}
	var update ProductUpdate
	if err := httpx.DecodeJSON(r, &update); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	result, err := h.service.UpdateProduct(r.Context(), id, update)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusOK, result, result.Changed)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid product id")
		return
	}
	changed, err := h.service.DeleteProduct(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusOK, map[string]any{"deleted": id, "changed": changed}, changed)
}

// bulk accepts either a CSV price table or a JSON array of rows.
func (h *Handler) bulk(w http.ResponseWriter, r *http.Request) {
	var rows []TableRow
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
		parsed, err := ParseTable(r.Body)
		if err != nil {
			httpx.Fail(w, r, h.logger, err)
			return
		}
		rows = parsed
	} else if err := httpx.DecodeJSON(r, &rows); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	result, err := h.service.BulkUpsert(r.Context(), rows)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusOK, result, result.Changed)
}

func (h *Handler) priceHistory(w http.ResponseWriter, r *http.Request) {
	filter := PriceHistoryFilter{}
	var err error
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		httpx.BadRequest(w, "invalid product_id")
		return
	}
	if raw := r.URL.Query().Get("tier"); raw != "" {
		if filter.Tier, err = ParseTier(raw); err != nil {
			httpx.Fail(w, r, h.logger, err)
			return
		}
	}
	if filter.From, err = httpx.QueryDate(r, "from", false); err != nil {
		httpx.BadRequest(w, "invalid from")
		return
	}
	if filter.To, err = httpx.QueryDate(r, "to", true); err != nil {
		httpx.BadRequest(w, "invalid to")
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit"); err != nil {
		httpx.BadRequest(w, "invalid limit")
		return
	}
	history, err := h.service.PriceHistory(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}
