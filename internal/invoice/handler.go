package invoice

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lubepos/lubepos/internal/platform/httpx"
	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
)

// Handler exposes invoice endpoints.
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

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.CmdInvoiceCreate)).Post("/", h.create)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CmdInvoiceView))
		r.Get("/", h.list)
		r.Get("/{id}", h.detail)
	})
	r.With(h.rbac.RequireAny(shared.CmdInvoiceAdminEdit)).Patch("/{id}", h.edit)
	r.With(h.rbac.RequireAny(shared.CmdInvoiceAdminDelete)).Delete("/{id}", h.delete)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	result, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusCreated, result, result.Changed)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var (
		filter ListFilter
		err    error
	)
	if filter.UserID, err = httpx.QueryInt64(r, "user_id"); err != nil {
		httpx.BadRequest(w, "invalid user_id")
		return
	}
	filter.Status = Status(r.URL.Query().Get("status"))
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
	out, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid invoice id")
		return
	}
	inv, err := h.service.Detail(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid invoice id")
		return
	}
	var input EditInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	result, err := h.service.AdminEdit(r.Context(), id, input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusOK, result, result.Changed)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid invoice id")
		return
	}
	result, err := h.service.AdminDelete(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusOK, result, result.Changed)
}
